package network

import (
	"net"
	"sync"
)

// LoopbackAddr addresses the client running inside the server process.
type LoopbackAddr struct{}

func (LoopbackAddr) Network() string { return "loopback" }
func (LoopbackAddr) String() string { return "loopback" }

// IsLoopback reports whether addr is the in-process client.
func IsLoopback(addr net.Addr) bool {
	_, ok := addr.(LoopbackAddr)
	return ok
}

// loopbackQueue bounds the datagrams waiting for the local client. The
// oldest are dropped first, as a socket buffer would.
const loopbackQueue = 256

// Loopback carries datagrams between the server and the in-process
// client without touching a socket.
type Loopback struct {
	server *Inbox

	mu       sync.Mutex
	toClient [][]byte
}

// NewLoopback returns a loopback whose client sends into server.
func NewLoopback(server *Inbox) *Loopback {
	return &Loopback{server: server}
}

// Send delivers p from the local client to the server.
func (l *Loopback) Send(p []byte) bool {
	return l.server.Push(Datagram{Addr: LoopbackAddr{}, Data: append([]byte(nil), p...)})
}

// Recv returns the next datagram the server sent to the local client.
func (l *Loopback) Recv() ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.toClient) == 0 {
		return nil, false
	}
	p := l.toClient[0]
	l.toClient = l.toClient[1:]
	return p, true
}

// WriteTo queues p for the local client. addr is ignored.
func (l *Loopback) WriteTo(p []byte, _ net.Addr) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.toClient) >= loopbackQueue {
		l.toClient = l.toClient[1:]
	}
	l.toClient = append(l.toClient, append([]byte(nil), p...))
	return len(p), nil
}
