// Package server runs the game server's connection table. One goroutine,
// Run, owns every Connection: it receives datagrams from the network
// inbox, answers connectionless handshake packets, routes decoded
// messages and transmits each channel every tick. Other goroutines reach
// connection state only through Exec.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wormnet-project/wormnet/internal/channel"
	"github.com/wormnet-project/wormnet/internal/connection"
	"github.com/wormnet-project/wormnet/internal/events"
	"github.com/wormnet-project/wormnet/internal/netengine"
	"github.com/wormnet-project/wormnet/internal/network"
	"github.com/wormnet-project/wormnet/internal/version"
	"github.com/wormnet-project/wormnet/internal/worm"
)

var (
	// ErrServerFull is returned by Accept when every slot is in use.
	ErrServerFull = errors.New("server full")
	// ErrWormOwned is returned when attaching a worm another connection
	// controls.
	ErrWormOwned = errors.New("worm owned by another connection")
	// ErrNoSuchSlot is returned for a slot that is out of range or idle.
	ErrNoSuchSlot = errors.New("no connection in slot")
	// ErrStopped is returned by Exec after Run has returned.
	ErrStopped = errors.New("server stopped")
)

// Config holds the server's tunables.
type Config struct {
	Name             string
	MaxConnections   int
	TickInterval     time.Duration
	PingInterval     time.Duration
	ChallengeTimeout time.Duration
	Channel          channel.Config
}

// DefaultConfig returns the default server settings.
func DefaultConfig() Config {
	return Config{
		Name:             "wormnet",
		MaxConnections:   8,
		TickInterval:     20 * time.Millisecond,
		PingInterval:     2 * time.Second,
		ChallengeTimeout: 10 * time.Second,
		Channel:          channel.DefaultConfig(),
	}
}

// MuteList reports whether chat from a host is suppressed.
type MuteList interface {
	IsMuted(ctx context.Context, host string) (bool, error)
}

// challenge is the value handed out by lx::getchallenge. Once a connect
// succeeds it stays accepted until the client's first channel datagram or
// the timeout, so a retransmitted connect gets the same answer.
type challenge struct {
	value    uint32
	issued   time.Time
	accepted bool
}

type execRequest struct {
	fn   func(*Server)
	done chan struct{}
}

// Server is the connection table of one game server.
type Server struct {
	cfg    Config
	writer channel.PacketWriter
	inbox  <-chan network.Datagram
	bus    *events.EventBus
	mutes  MuteList
	now    func() time.Time
	logger zerolog.Logger

	conns      []*connection.Connection
	byAddr     map[string]*connection.Connection
	owners     map[worm.Handle]int
	worms      *worm.Pool
	challenges map[string]challenge

	epoch    time.Time
	lastPing time.Time

	execCh  chan execRequest
	stopped chan struct{}
}

// Option configures optional collaborators.
type Option func(*Server)

// WithEventBus publishes lifecycle events on bus.
func WithEventBus(bus *events.EventBus) Option {
	return func(s *Server) { s.bus = bus }
}

// WithMuteList mutes hosts on the list when they connect.
func WithMuteList(m MuteList) Option {
	return func(s *Server) { s.mutes = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New creates a server that writes through w and reads from inbox.
func New(cfg Config, w channel.PacketWriter, inbox <-chan network.Datagram, opts ...Option) *Server {
	s := &Server{
		cfg:        cfg,
		writer:     w,
		inbox:      inbox,
		now:        time.Now,
		logger:     log.With().Str("component", "server").Logger(),
		byAddr:     make(map[string]*connection.Connection),
		owners:     make(map[worm.Handle]int),
		worms:      worm.NewPool(),
		challenges: make(map[string]challenge),
		execCh:     make(chan execRequest),
		stopped:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.epoch = s.now()

	s.conns = make([]*connection.Connection, cfg.MaxConnections)
	for i := range s.conns {
		s.conns[i] = connection.New(i, connection.Config{
			Writer:  w,
			Channel: cfg.Channel,
			Now:     s.now,
		})
	}
	return s
}

// Run serves until ctx is cancelled, then drops every connection.
func (s *Server) Run(ctx context.Context) error {
	defer close(s.stopped)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.logger.Info().Int("slots", len(s.conns)).Msg("server running")
	for {
		select {
		case <-ctx.Done():
			s.ShutdownAll(events.ReasonShutdown)
			s.emit(events.EventShutdown, nil)
			s.logger.Info().Msg("server stopped")
			return nil
		case d := <-s.inbox:
			s.HandleDatagram(d, s.now())
		case req := <-s.execCh:
			req.fn(s)
			close(req.done)
		case <-ticker.C:
			s.Tick(s.now())
		}
	}
}

// Exec runs fn on the server goroutine and waits for it to return.
func (s *Server) Exec(ctx context.Context, fn func(*Server)) error {
	req := execRequest{fn: fn, done: make(chan struct{})}
	select {
	case s.execCh <- req:
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Accept binds a free slot to addr and starts a session. The loopback
// address is accepted as the local client.
func (s *Server) Accept(addr net.Addr) (*connection.Connection, error) {
	conn := s.freeSlot()
	if conn == nil {
		return nil, ErrServerFull
	}

	var err error
	if network.IsLoopback(addr) {
		err = conn.AcceptLocal(addr)
	} else {
		err = conn.Accept(addr)
	}
	if err != nil {
		return nil, err
	}
	s.byAddr[addr.String()] = conn

	// The slot keeps the last client's mute across Clear; a new client
	// starts from the mute list, or unmuted without one.
	muted := false
	if s.mutes != nil {
		if muted, err = s.mutes.IsMuted(context.Background(), hostOf(addr)); err != nil {
			s.logger.Warn().Err(err).Msg("mute lookup failed")
		}
	}
	conn.SetMuted(muted)

	s.emit(events.EventConnectionAccepted, s.connectionPayload(conn, ""))
	return conn, nil
}

// AcceptLocal accepts the in-process client.
func (s *Server) AcceptLocal() (*connection.Connection, error) {
	return s.Accept(network.LoopbackAddr{})
}

func (s *Server) freeSlot() *connection.Connection {
	for _, c := range s.conns {
		if c.State() == connection.Disconnected && c.Addr() == nil {
			return c
		}
	}
	return nil
}

// Negotiate fixes the codec and channel of conn for a client of version v.
func (s *Server) Negotiate(conn *connection.Connection, v version.Version) error {
	if err := conn.Negotiate(v); err != nil {
		return err
	}
	s.emit(events.EventConnectionNegotiated, s.connectionPayload(conn, ""))
	return nil
}

// Clear resets conn for a new client and releases its worm ownership.
func (s *Server) Clear(conn *connection.Connection) {
	s.unbind(conn)
	conn.Clear()
}

// MinorClear prepares conn for the next game round.
func (s *Server) MinorClear(conn *connection.Connection) {
	conn.MinorClear()
}

// Shutdown tears conn down. The worms it controls leave the pool.
func (s *Server) Shutdown(conn *connection.Connection) {
	for _, h := range conn.Worms() {
		if slot, ok := s.owners[h]; ok && slot != conn.Slot() {
			continue
		}
		if err := s.worms.Release(h); err != nil {
			s.logger.Warn().Err(err).Stringer("worm", h).Msg("cannot release worm")
		}
	}
	s.disown(conn)
	conn.Shutdown()
}

// Drop ends conn's session: its worms leave the game, the other clients
// are told, and the slot is freed.
func (s *Server) Drop(conn *connection.Connection, reason events.CloseReason) {
	if conn.Addr() == nil && conn.State() == connection.Disconnected {
		return
	}

	var ids []int
	for _, h := range conn.Worms() {
		ids = append(ids, h.Index)
	}
	if len(ids) > 0 {
		for _, other := range s.active() {
			if other == conn {
				continue
			}
			if err := other.Send(netengine.Leaving{WormIDs: ids}, true); err != nil {
				other.Logger().Warn().Err(err).Msg("cannot send leaving notice")
			}
		}
	}

	payload := s.connectionPayload(conn, reason)
	conn.Logger().Info().Str("reason", string(reason)).Msg("dropped " + s.DebugName(conn))

	s.Shutdown(conn)
	s.Clear(conn)
	s.emit(events.EventConnectionClosed, payload)
}

// ShutdownAll drops every active connection.
func (s *Server) ShutdownAll(reason events.CloseReason) {
	for _, c := range s.active() {
		s.Drop(c, reason)
	}
}

func (s *Server) unbind(conn *connection.Connection) {
	s.disown(conn)
	if addr := conn.Addr(); addr != nil && s.byAddr[addr.String()] == conn {
		delete(s.byAddr, addr.String())
	}
}

func (s *Server) disown(conn *connection.Connection) {
	for _, h := range conn.Worms() {
		if s.owners[h] == conn.Slot() {
			delete(s.owners, h)
		}
	}
}

// SpawnWorm creates a worm called name and attaches it to conn.
func (s *Server) SpawnWorm(conn *connection.Connection, name string) (*worm.Worm, error) {
	w, err := s.worms.Spawn(name)
	if err != nil {
		return nil, err
	}
	if err := s.AttachWorm(conn, w.Handle); err != nil {
		if rerr := s.worms.Release(w.Handle); rerr != nil {
			s.logger.Warn().Err(rerr).Stringer("worm", w.Handle).Msg("cannot release worm")
		}
		return nil, err
	}
	return w, nil
}

// AttachWorm gives conn control of h. A worm belongs to at most one
// connection.
func (s *Server) AttachWorm(conn *connection.Connection, h worm.Handle) error {
	w, err := s.worms.Lookup(h)
	if err != nil {
		return err
	}
	if slot, ok := s.owners[h]; ok && slot != conn.Slot() {
		return fmt.Errorf("worm %d owned by slot %d: %w", w.ID, slot, ErrWormOwned)
	}
	if err := conn.AttachWorm(h); err != nil {
		return err
	}
	s.owners[h] = conn.Slot()
	s.emit(events.EventWormAttached, events.WormPayload{Slot: conn.Slot(), WormID: w.ID, Name: w.Name})
	return nil
}

// DetachWorm takes h away from conn. The worm stays in the pool so it can
// be attached to another connection; the caller releases it otherwise.
func (s *Server) DetachWorm(conn *connection.Connection, h worm.Handle) error {
	if err := conn.DetachWorm(h); err != nil {
		return err
	}
	delete(s.owners, h)

	payload := events.WormPayload{Slot: conn.Slot(), WormID: h.Index}
	if w, err := s.worms.Lookup(h); err == nil {
		payload.Name = w.Name
	}
	s.emit(events.EventWormDetached, payload)
	return nil
}

// OwnsWorm reports whether conn controls h.
func (s *Server) OwnsWorm(conn *connection.Connection, h worm.Handle) bool {
	return conn.OwnsWorm(h)
}

// DebugName describes conn and its worms.
func (s *Server) DebugName(conn *connection.Connection) string {
	return conn.DebugName(s.worms)
}

// Connection returns the connection bound to addr.
func (s *Server) Connection(addr net.Addr) (*connection.Connection, bool) {
	c, ok := s.byAddr[addr.String()]
	return c, ok
}

// Slot returns the active connection in slot.
func (s *Server) Slot(slot int) (*connection.Connection, error) {
	if slot < 0 || slot >= len(s.conns) || s.conns[slot].Addr() == nil {
		return nil, ErrNoSuchSlot
	}
	return s.conns[slot], nil
}

// Connections returns every slot, active or not.
func (s *Server) Connections() []*connection.Connection {
	return append([]*connection.Connection(nil), s.conns...)
}

// Worms returns the session's worm pool.
func (s *Server) Worms() *worm.Pool {
	return s.worms
}

func (s *Server) active() []*connection.Connection {
	var out []*connection.Connection
	for _, c := range s.conns {
		if c.Addr() != nil {
			out = append(out, c)
		}
	}
	return out
}

func (s *Server) emit(t events.EventType, payload interface{}) {
	if s.bus == nil {
		return
	}
	s.bus.Emit(context.Background(), events.Event{Type: t, Source: "server", Payload: payload})
}

func (s *Server) connectionPayload(c *connection.Connection, reason events.CloseReason) events.ConnectionPayload {
	p := events.ConnectionPayload{
		Slot:      c.Slot(),
		SessionID: c.SessionID(),
		Local:     c.IsLocal(),
		Reason:    reason,
		At:        s.now(),
	}
	if c.Addr() != nil {
		p.Address = c.Addr().String()
	}
	if !c.Version().IsZero() {
		p.Version = c.Version().String()
	}
	if c.Codec() != nil {
		p.Codec = c.Codec().Revision().String()
	}
	if c.Channel() != nil {
		p.Channel = c.Channel().Kind().String()
	}
	return p
}

func hostOf(addr net.Addr) string {
	if u, ok := addr.(*net.UDPAddr); ok {
		return u.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
