package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/wormnet-project/wormnet/internal/protocol"
)

// ErrNotListening is returned by WriteTo before Listen.
var ErrNotListening = errors.New("udp listener not started")

// UDPListener owns the game socket. Serve reads datagrams into an Inbox;
// WriteTo sends to remote clients, or to the loopback client when one is
// attached.
type UDPListener struct {
	addr  string
	inbox *Inbox
	loop  *Loopback

	mu   sync.Mutex
	conn *net.UDPConn
}

// NewUDPListener creates a listener for addr ("host:port") feeding inbox.
func NewUDPListener(addr string, inbox *Inbox) *UDPListener {
	return &UDPListener{
		addr:  addr,
		inbox: inbox,
	}
}

// AttachLoopback routes writes for LoopbackAddr to l.
func (u *UDPListener) AttachLoopback(l *Loopback) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.loop = l
}

// Listen binds the socket.
func (u *UDPListener) Listen(ctx context.Context) error {
	// SO_REUSEADDR allows immediate rebinding after a restart
	lc := ReuseAddrListenConfig()
	pc, err := lc.ListenPacket(ctx, "udp4", u.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", u.addr, err)
	}

	u.mu.Lock()
	u.conn = pc.(*net.UDPConn)
	u.mu.Unlock()

	log.Info().Str("component", "network").Str("addr", pc.LocalAddr().String()).Msg("UDP listener started")
	return nil
}

// LocalAddr returns the bound address, nil before Listen.
func (u *UDPListener) LocalAddr() net.Addr {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn == nil {
		return nil
	}
	return u.conn.LocalAddr()
}

// Serve reads datagrams until ctx is cancelled.
func (u *UDPListener) Serve(ctx context.Context) error {
	u.mu.Lock()
	conn := u.conn
	u.mu.Unlock()
	if conn == nil {
		return ErrNotListening
	}

	// Close when context is cancelled
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, protocol.MaxDatagramSize)
	for {
		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				log.Info().Str("component", "network").Msg("UDP listener stopping")
				return nil
			default:
				if errors.Is(err, net.ErrClosed) {
					return nil
				}
				log.Error().Err(err).Str("component", "network").Msg("UDP read error")
				continue
			}
		}
		if n == 0 {
			continue
		}

		u.inbox.Push(Datagram{Addr: remote, Data: append([]byte(nil), buf[:n]...)})
	}
}

// WriteTo sends p to addr.
func (u *UDPListener) WriteTo(p []byte, addr net.Addr) (int, error) {
	u.mu.Lock()
	conn, loop := u.conn, u.loop
	u.mu.Unlock()

	if IsLoopback(addr) {
		if loop == nil {
			return 0, fmt.Errorf("no loopback client attached")
		}
		return loop.WriteTo(p, addr)
	}
	if conn == nil {
		return 0, ErrNotListening
	}
	return conn.WriteTo(p, addr)
}

// Close closes the socket.
func (u *UDPListener) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn != nil {
		return u.conn.Close()
	}
	return nil
}
