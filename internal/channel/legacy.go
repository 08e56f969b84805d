package channel

import (
	"net"
	"time"

	"github.com/wormnet-project/wormnet/internal/protocol"
)

const (
	legacyHeaderSize = 8
	legacySeqMask    = 0x7FFFFFFF
	legacyFlag       = 1 << 31

	// legacyMaxReliable bounds one reliable block, which is the unit of
	// retransmission in this format.
	legacyMaxReliable = 4096 - legacyHeaderSize - 2
)

// legacy implements the 0.56 channel: every datagram carries a 31-bit
// sequence number and the last sequence received from the peer, each with
// one flag bit. Only one block of reliable messages is in flight at a
// time; it is resent when an acknowledgement shows the peer has seen a
// later datagram without flipping its reliable bit.
//
// Format: [seq|reliable<<31:4][ack|reliableAck<<31:4]
//
//	[if reliable: block_len:2][block: (len:2, msg)...][unreliable: (len:2, msg)...]
type legacy struct {
	base

	outgoingSeq     uint32
	incomingSeq     uint32
	incomingAcked   uint32
	lastReliableSeq uint32

	reliableSeq         uint32 // bit flipped for every new block
	incomingReliableSeq uint32 // bit flipped for every reliable block received
	incomingReliableAck uint32 // peer's echo of reliableSeq

	ackPending    bool     // a reliable block arrived since our last datagram
	pending       [][]byte // reliable messages waiting for the next block
	block         []byte   // reliable block in flight, nil when acknowledged
	blockSentAt   time.Time
	blockResent   bool
	blockProgress time.Time
}

func newLegacy(addr net.Addr, w PacketWriter, cfg Config) *legacy {
	return &legacy{
		base:        base{addr: addr, w: w, cfg: cfg},
		outgoingSeq: 1,
	}
}

func (c *legacy) Kind() Kind { return Kind056b }

func (c *legacy) SendReliable(data []byte) error {
	if c.closed {
		return ErrClosed
	}
	if len(data)+2 > legacyMaxReliable {
		return ErrMessageTooLarge
	}
	c.pending = append(c.pending, append([]byte(nil), data...))
	return nil
}

func (c *legacy) SendUnreliable(data []byte) error {
	return c.queueUnreliable(data, protocol.MaxDatagramSize-legacyHeaderSize)
}

func (c *legacy) Process(datagram []byte, now time.Time) error {
	if c.closed {
		return ErrClosed
	}
	if len(datagram) < legacyHeaderSize {
		return ErrMalformed
	}

	r := protocol.NewReader(datagram)
	seq := r.ReadUint32()
	ack := r.ReadUint32()
	reliable := seq&legacyFlag != 0
	reliableAck := ack >> 31
	seq &= legacySeqMask
	ack &= legacySeqMask

	if seq <= c.incomingSeq {
		return ErrStale
	}

	var relMsgs [][]byte
	if reliable {
		block := r.ReadBlock()
		if r.Err() != nil {
			return ErrMalformed
		}
		var ok bool
		if relMsgs, ok = splitMessages(block); !ok {
			return ErrMalformed
		}
	}
	unrelMsgs, ok := splitMessages(r.Rest())
	if !ok {
		return ErrMalformed
	}

	if c.block != nil && reliableAck == c.reliableSeq {
		if !c.blockResent {
			c.ping.Sample(durationMillis(now.Sub(c.blockSentAt)))
		}
		c.block = nil
		c.blockProgress = now
	}

	c.incomingSeq = seq
	c.incomingAcked = ack
	c.incomingReliableAck = reliableAck

	if reliable {
		c.incomingReliableSeq ^= 1
		c.ackPending = true
		c.inbox = append(c.inbox, relMsgs...)
	}
	c.inbox = append(c.inbox, unrelMsgs...)
	return nil
}

func (c *legacy) Transmit(now time.Time) error {
	if c.closed {
		return ErrClosed
	}
	if c.block != nil && now.Sub(c.blockProgress) > c.cfg.ReliableTimeout {
		return ErrReliableTimeout
	}

	sendReliable := false
	if c.block != nil && c.incomingAcked > c.lastReliableSeq && c.incomingReliableAck != c.reliableSeq {
		sendReliable = true
		c.blockResent = true
	}

	if c.block == nil && len(c.pending) > 0 {
		c.block = c.nextBlock()
		c.reliableSeq ^= 1
		c.blockSentAt = now
		c.blockResent = false
		c.blockProgress = now
		sendReliable = true
	}

	// A block in flight forces a datagram every call so the peer keeps
	// acknowledging and a loss is noticed.
	if !sendReliable && !c.ackPending && len(c.unrel) == 0 && c.block == nil && !c.keepAliveDue(now) {
		return nil
	}

	for first := true; first || len(c.unrel) > 0; first = false {
		b := protocol.NewPacketBuilder()
		seq := c.outgoingSeq
		c.outgoingSeq++
		if first && sendReliable {
			b.WriteUint32(seq | legacyFlag)
			c.lastReliableSeq = seq
		} else {
			b.WriteUint32(seq)
		}
		b.WriteUint32(c.incomingSeq | c.incomingReliableSeq<<31)

		if first && sendReliable {
			b.WriteBlock(c.block)
		}
		c.unrel = packMessages(b, c.unrel, protocol.MaxDatagramSize)

		if err := c.write(b.Build(), now); err != nil {
			return err
		}
		c.ackPending = false
	}
	return nil
}

// nextBlock moves as many pending messages as fit into one reliable block.
func (c *legacy) nextBlock() []byte {
	b := protocol.NewPacketBuilder()
	n := 0
	for n < len(c.pending) && b.Len()+2+len(c.pending[n]) <= legacyMaxReliable {
		b.WriteBlock(c.pending[n])
		n++
	}
	c.pending = c.pending[n:]
	return b.Build()
}

func (c *legacy) Close() {
	c.release()
	c.pending = nil
	c.block = nil
}

// splitMessages parses a sequence of (len:2, msg) entries.
func splitMessages(data []byte) ([][]byte, bool) {
	var msgs [][]byte
	r := protocol.NewReader(data)
	for r.Remaining() > 0 {
		msg := r.ReadBlock()
		if r.Err() != nil {
			return nil, false
		}
		msgs = append(msgs, append([]byte(nil), msg...))
	}
	return msgs, true
}

// packMessages appends queued messages while the datagram stays within
// limit and returns the messages that did not fit.
func packMessages(b *protocol.PacketBuilder, queue [][]byte, limit int) [][]byte {
	n := 0
	for n < len(queue) && b.Len()+2+len(queue[n]) <= limit {
		b.WriteBlock(queue[n])
		n++
	}
	return queue[n:]
}
