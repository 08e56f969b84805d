package network

import (
	"net"

	"github.com/rs/zerolog/log"
)

// Datagram is one packet received from addr.
type Datagram struct {
	Addr net.Addr
	Data []byte
}

// Inbox hands datagrams from the socket reader to the server tick. It has
// one producer and one consumer; a full inbox drops new datagrams rather
// than stalling the reader.
type Inbox struct {
	ch chan Datagram
}

// NewInbox returns an inbox holding up to size datagrams.
func NewInbox(size int) *Inbox {
	return &Inbox{ch: make(chan Datagram, size)}
}

// Push queues d and reports whether there was room.
func (in *Inbox) Push(d Datagram) bool {
	select {
	case in.ch <- d:
		return true
	default:
		log.Warn().
			Str("component", "network").
			Str("remote", d.Addr.String()).
			Msg("inbox full, datagram dropped")
		return false
	}
}

// C returns the receive side.
func (in *Inbox) C() <-chan Datagram {
	return in.ch
}
