package channel

import (
	"net"
	"time"

	"github.com/wormnet-project/wormnet/internal/protocol"
)

const (
	// windowSize bounds the reliable entries in flight and the receive
	// buffer for out-of-order entries.
	windowSize = 64

	// fragmentSize is the largest reliable entry. Kind2 rejects larger
	// messages; Kind3 splits them.
	fragmentSize = 1024

	// maxMessageSize is the largest message Kind3 reassembles.
	maxMessageSize = 64 * 1024

	entryMoreFlag = 0x8000
	entryLenMask  = 0x7FFF

	flagCompressed = 0x01
)

type outgoing struct {
	seq       uint16
	data      []byte
	more      bool
	firstSent time.Time
	lastSent  time.Time
	resent    bool
}

type incoming struct {
	data []byte
	more bool
}

// windowed implements the v2 and v3 channels: 16-bit sequence numbers per
// reliable entry, selective acknowledgements and up to windowSize entries
// in flight, each retransmitted on its own timer. v3 adds fragmentation
// of large reliable messages and deflate compression of datagram bodies.
//
// Format (v2): [n_acks:1][seq:2]...[n_rel:1][(seq:2, more<<15|len:2, data)...]
//
//	[unreliable: (len:2, msg)...]
//
// Format (v3): [flags:1][body], where body is the v2 format, deflated
// when flags&flagCompressed is set.
type windowed struct {
	base
	kind Kind
	comp *compressor

	nextSeq  uint16
	pending  []*outgoing // fragments not yet assigned a window slot
	inflight []*outgoing // ordered by seq
	progress time.Time

	expectSeq  uint16
	buffered   map[uint16]incoming
	partial    []byte
	discarding bool // inside an oversized message
	acks       []uint16
}

func newWindowed(kind Kind, addr net.Addr, w PacketWriter, cfg Config) *windowed {
	c := &windowed{
		base:     base{addr: addr, w: w, cfg: cfg},
		kind:     kind,
		buffered: make(map[uint16]incoming),
	}
	if kind == Kind3 {
		c.comp = newCompressor(cfg.CompressionLevel)
	}
	return c
}

func (c *windowed) Kind() Kind { return c.kind }

func (c *windowed) SendReliable(data []byte) error {
	if c.closed {
		return ErrClosed
	}
	limit := fragmentSize
	if c.kind == Kind3 {
		limit = maxMessageSize
	}
	if len(data) > limit {
		return ErrMessageTooLarge
	}

	data = append([]byte(nil), data...)
	for {
		n := min(len(data), fragmentSize)
		c.pending = append(c.pending, &outgoing{data: data[:n], more: n < len(data)})
		data = data[n:]
		if len(data) == 0 {
			return nil
		}
	}
}

func (c *windowed) SendUnreliable(data []byte) error {
	return c.queueUnreliable(data, protocol.MaxDatagramSize-c.headerSize())
}

func (c *windowed) headerSize() int {
	// flags (v3) + ack count + reliable count
	if c.kind == Kind3 {
		return 3
	}
	return 2
}

func (c *windowed) Process(datagram []byte, now time.Time) error {
	if c.closed {
		return ErrClosed
	}

	body := datagram
	if c.kind == Kind3 {
		if len(datagram) < 1 {
			return ErrMalformed
		}
		body = datagram[1:]
		if datagram[0]&flagCompressed != 0 {
			var err error
			if body, err = c.comp.decompress(body, protocol.MaxDatagramSize); err != nil {
				return ErrMalformed
			}
		}
	}

	r := protocol.NewReader(body)
	acks := make([]uint16, r.ReadByte())
	for i := range acks {
		acks[i] = r.ReadUint16()
	}
	entries := make([]struct {
		seq uint16
		in  incoming
	}, r.ReadByte())
	for i := range entries {
		entries[i].seq = r.ReadUint16()
		hdr := r.ReadUint16()
		entries[i].in = incoming{
			data: append([]byte(nil), r.ReadBytes(int(hdr&entryLenMask))...),
			more: hdr&entryMoreFlag != 0,
		}
		if entries[i].in.more && c.kind != Kind3 {
			return ErrMalformed
		}
	}
	if r.Err() != nil {
		return ErrMalformed
	}
	unrelMsgs, ok := splitMessages(r.Rest())
	if !ok {
		return ErrMalformed
	}

	for _, seq := range acks {
		c.acknowledge(seq, now)
	}

	for _, e := range entries {
		c.acks = append(c.acks, e.seq)
		if seqLess(e.seq, c.expectSeq) {
			continue // already delivered; the ack is repeated
		}
		if e.seq-c.expectSeq >= windowSize {
			c.acks = c.acks[:len(c.acks)-1]
			continue
		}
		c.buffered[e.seq] = e.in
	}
	if err := c.deliver(); err != nil {
		return err
	}

	c.inbox = append(c.inbox, unrelMsgs...)
	return nil
}

func (c *windowed) acknowledge(seq uint16, now time.Time) {
	for i, o := range c.inflight {
		if o.seq != seq {
			continue
		}
		if !o.resent {
			c.ping.Sample(durationMillis(now.Sub(o.firstSent)))
		}
		c.inflight = append(c.inflight[:i], c.inflight[i+1:]...)
		c.progress = now
		return
	}
}

// deliver moves contiguous buffered entries to the inbox, joining fragments.
// The rest of an oversized message is skipped up to its last fragment.
func (c *windowed) deliver() error {
	var err error
	for {
		in, ok := c.buffered[c.expectSeq]
		if !ok {
			return err
		}
		delete(c.buffered, c.expectSeq)
		c.expectSeq++

		if c.discarding {
			c.discarding = in.more
			continue
		}
		c.partial = append(c.partial, in.data...)
		if len(c.partial) > maxMessageSize {
			c.partial = nil
			c.discarding = in.more
			err = ErrMalformed
			continue
		}
		if !in.more {
			c.inbox = append(c.inbox, c.partial)
			c.partial = nil
		}
	}
}

func (c *windowed) rto() time.Duration {
	rto := 2 * time.Duration(c.ping.Value()) * time.Millisecond
	return min(max(rto, c.cfg.MinRTO), c.cfg.MaxRTO)
}

func (c *windowed) Transmit(now time.Time) error {
	if c.closed {
		return ErrClosed
	}
	if len(c.inflight) > 0 && now.Sub(c.progress) > c.cfg.ReliableTimeout {
		return ErrReliableTimeout
	}

	for len(c.pending) > 0 && len(c.inflight) < windowSize {
		o := c.pending[0]
		c.pending = c.pending[1:]
		o.seq = c.nextSeq
		c.nextSeq++
		if len(c.inflight) == 0 {
			c.progress = now
		}
		c.inflight = append(c.inflight, o)
	}

	rto := c.rto()
	var due []*outgoing
	for _, o := range c.inflight {
		if o.lastSent.IsZero() || now.Sub(o.lastSent) >= rto {
			due = append(due, o)
		}
	}

	if len(due) == 0 && len(c.acks) == 0 && len(c.unrel) == 0 && !c.keepAliveDue(now) {
		return nil
	}

	for first := true; first || len(due) > 0 || len(c.acks) > 0 || len(c.unrel) > 0; first = false {
		b := protocol.NewPacketBuilder()

		nAcks := min(len(c.acks), 255)
		b.WriteByte(byte(nAcks))
		for _, seq := range c.acks[:nAcks] {
			b.WriteUint16(seq)
		}
		c.acks = c.acks[nAcks:]

		budget := protocol.MaxDatagramSize
		if c.kind == Kind3 {
			budget-- // flags
		}
		n, size := 0, b.Len()+1
		for n < len(due) && n < 255 && size+4+len(due[n].data) <= budget {
			size += 4 + len(due[n].data)
			n++
		}
		b.WriteByte(byte(n))
		for _, o := range due[:n] {
			hdr := uint16(len(o.data))
			if o.more {
				hdr |= entryMoreFlag
			}
			b.WriteUint16(o.seq)
			b.WriteUint16(hdr)
			b.WriteBytes(o.data)
			if o.firstSent.IsZero() {
				o.firstSent = now
			} else {
				o.resent = true
			}
			o.lastSent = now
		}
		due = due[n:]

		c.unrel = packMessages(b, c.unrel, budget)

		if err := c.write(c.frame(b.Build()), now); err != nil {
			return err
		}
	}
	return nil
}

// frame adds the v3 flags byte and compresses the body when that shrinks it.
func (c *windowed) frame(body []byte) []byte {
	if c.kind != Kind3 {
		return body
	}
	if packed, err := c.comp.compress(body); err == nil && len(packed) < len(body) {
		return append([]byte{flagCompressed}, packed...)
	}
	return append([]byte{0}, body...)
}

func (c *windowed) Close() {
	c.release()
	c.pending = nil
	c.inflight = nil
	c.buffered = nil
	c.partial = nil
	c.acks = nil
}

// seqLess reports whether a precedes b in wrap-around order.
func seqLess(a, b uint16) bool {
	return int16(a-b) < 0
}
