// Package channel implements the per-connection message transport that
// runs over an unreliable datagram socket. A Channel carries two streams:
// reliable messages, which are retransmitted until acknowledged and
// delivered in order, and unreliable messages, which are coalesced into
// outgoing datagrams and may be lost.
//
// Three wire formats exist, one per generation of client builds. They
// share the Channel contract and are selected from the client version
// with KindFor. A Channel never blocks: sends queue, Transmit writes the
// datagrams that are due at the given time, and Process/Receive consume
// what the socket delivered.
package channel

import (
	"errors"
	"net"
	"time"

	"github.com/wormnet-project/wormnet/internal/version"
)

var (
	// ErrMalformed is returned for a datagram that cannot be parsed.
	ErrMalformed = errors.New("malformed datagram")
	// ErrStale is returned for a duplicate or out-of-order datagram.
	ErrStale = errors.New("stale datagram")
	// ErrMessageTooLarge is returned when a message exceeds the variant limit.
	ErrMessageTooLarge = errors.New("message too large")
	// ErrReliableTimeout is returned when reliable data has gone
	// unacknowledged for longer than Config.ReliableTimeout.
	ErrReliableTimeout = errors.New("reliable data unacknowledged")
	// ErrClosed is returned by operations on a closed channel.
	ErrClosed = errors.New("channel closed")
)

// PacketWriter sends a datagram to addr. net.PacketConn satisfies it.
type PacketWriter interface {
	WriteTo(p []byte, addr net.Addr) (int, error)
}

// Channel is the transport contract shared by every wire variant.
type Channel interface {
	// SendReliable queues data for guaranteed, ordered delivery.
	SendReliable(data []byte) error
	// SendUnreliable queues data for the next outgoing datagram.
	SendUnreliable(data []byte) error
	// Process ingests one datagram received from the remote address.
	Process(datagram []byte, now time.Time) error
	// Receive returns the next delivered message, if any.
	Receive() ([]byte, bool)
	// Transmit writes every datagram that is due at now.
	Transmit(now time.Time) error
	// Ping returns the smoothed round-trip time in milliseconds.
	Ping() int
	// SetPing folds an externally measured round-trip sample into the estimate.
	SetPing(ms int)
	// RemoteAddr returns the peer address.
	RemoteAddr() net.Addr
	// Kind identifies the wire variant.
	Kind() Kind
	// Close releases the channel's buffers. Further sends fail with ErrClosed.
	Close()
}

// Kind identifies a channel wire variant.
type Kind int

const (
	Kind056b Kind = iota
	Kind2
	Kind3
)

var kindStrings = map[Kind]string{
	Kind056b: "056b",
	Kind2:    "v2",
	Kind3:    "v3",
}

// String returns the short variant name.
func (k Kind) String() string {
	if s, ok := kindStrings[k]; ok {
		return s
	}
	return "unknown"
}

// kinds maps client versions to channel variants, newest first.
var kinds = version.NewTable(Kind056b,
	version.Entry[Kind]{Min: version.Beta9, Value: Kind3},
	version.Entry[Kind]{Min: version.Beta6, Value: Kind2},
)

// KindFor returns the channel variant a client of version v speaks.
func KindFor(v version.Version) Kind {
	return kinds.Lookup(v)
}

// Config holds the timing parameters shared by all variants.
type Config struct {
	ReliableTimeout  time.Duration // give up after this long without ack progress
	MinRTO           time.Duration
	MaxRTO           time.Duration
	KeepAlive        time.Duration // send an empty datagram when idle this long
	CompressionLevel int           // deflate level for Kind3
}

// DefaultConfig returns the default channel timings.
func DefaultConfig() Config {
	return Config{
		ReliableTimeout:  15 * time.Second,
		MinRTO:           100 * time.Millisecond,
		MaxRTO:           time.Second,
		KeepAlive:        time.Second,
		CompressionLevel: 5,
	}
}

// New creates the channel variant for a client of version v.
func New(v version.Version, addr net.Addr, w PacketWriter, cfg Config) Channel {
	return NewKind(KindFor(v), addr, w, cfg)
}

// NewKind creates a channel of the given variant.
func NewKind(kind Kind, addr net.Addr, w PacketWriter, cfg Config) Channel {
	switch kind {
	case Kind3:
		return newWindowed(Kind3, addr, w, cfg)
	case Kind2:
		return newWindowed(Kind2, addr, w, cfg)
	default:
		return newLegacy(addr, w, cfg)
	}
}

// base holds the state every variant shares.
type base struct {
	addr   net.Addr
	w      PacketWriter
	cfg    Config
	ping   estimator
	inbox  [][]byte
	unrel  [][]byte
	closed bool

	lastSent time.Time
}

func (b *base) RemoteAddr() net.Addr { return b.addr }

func (b *base) Ping() int { return b.ping.Value() }

func (b *base) SetPing(ms int) { b.ping.Sample(float64(ms)) }

func (b *base) Receive() ([]byte, bool) {
	if len(b.inbox) == 0 {
		return nil, false
	}
	msg := b.inbox[0]
	b.inbox[0] = nil
	b.inbox = b.inbox[1:]
	return msg, true
}

func (b *base) queueUnreliable(data []byte, limit int) error {
	if b.closed {
		return ErrClosed
	}
	if len(data)+2 > limit {
		return ErrMessageTooLarge
	}
	b.unrel = append(b.unrel, append([]byte(nil), data...))
	return nil
}

func (b *base) write(datagram []byte, now time.Time) error {
	b.lastSent = now
	if _, err := b.w.WriteTo(datagram, b.addr); err != nil {
		return err
	}
	return nil
}

func (b *base) keepAliveDue(now time.Time) bool {
	return b.lastSent.IsZero() || now.Sub(b.lastSent) >= b.cfg.KeepAlive
}

func (b *base) release() {
	b.closed = true
	b.inbox = nil
	b.unrel = nil
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
