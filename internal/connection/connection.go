// Package connection holds the server-side state of one remote player:
// its transport channel, the codec negotiated from its client version,
// the worms it controls and the shots waiting to be sent to it.
//
// A Connection is owned by the server tick goroutine and is not safe for
// concurrent use.
package connection

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wormnet-project/wormnet/internal/channel"
	"github.com/wormnet-project/wormnet/internal/filetransfer"
	"github.com/wormnet-project/wormnet/internal/invariant"
	"github.com/wormnet-project/wormnet/internal/netengine"
	"github.com/wormnet-project/wormnet/internal/version"
	"github.com/wormnet-project/wormnet/internal/worm"
)

var (
	// ErrAlreadyNegotiated is returned by Negotiate on a connection that
	// has picked its codec and channel since the last Clear or Shutdown.
	ErrAlreadyNegotiated = errors.New("connection already negotiated")
	// ErrNotAccepted is returned by Negotiate before Accept.
	ErrNotAccepted = errors.New("connection has no remote address")
	// ErrBusy is returned by Accept on a connection that is in use.
	ErrBusy = errors.New("connection in use")
	// ErrNotConnected is returned by operations that need a negotiated
	// connection.
	ErrNotConnected = errors.New("connection not negotiated")
)

// State is the lifecycle state of a connection.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	InGame
)

var stateStrings = map[State]string{
	Disconnected: "disconnected",
	Connecting:   "connecting",
	Connected:    "connected",
	InGame:       "ingame",
}

func (s State) String() string {
	if str, ok := stateStrings[s]; ok {
		return str
	}
	return "unknown"
}

// FileTransfer is the download cursor a connection resets when a game
// session ends.
type FileTransfer interface {
	Reset()
}

// WormLookup resolves worm handles for DebugName.
type WormLookup interface {
	Lookup(h worm.Handle) (*worm.Worm, error)
}

// Config holds what a connection needs from its server.
type Config struct {
	Writer  channel.PacketWriter
	Channel channel.Config
	Files   FileTransfer     // defaults to a filetransfer.Cursor
	Now     func() time.Time // defaults to time.Now
}

// Connection is one client slot on the server.
type Connection struct {
	slot   int
	cfg    Config
	logger zerolog.Logger

	addr      net.Addr
	local     bool
	state     State
	version   version.Version
	sessionID string

	ch     channel.Channel
	codec  netengine.Codec
	roster Roster
	shots  *ShootQueue

	muted     bool
	gameReady bool
	sendWait  time.Duration

	connectTime        time.Time
	lastReceived       time.Time
	lastUpdateSent     time.Time
	lastFileRequest    time.Time
	lastFileRequestAck time.Time
}

// New returns a disconnected connection for slot.
func New(slot int, cfg Config) *Connection {
	if cfg.Files == nil {
		cfg.Files = filetransfer.NewCursor()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	now := cfg.Now()
	return &Connection{
		slot:               slot,
		cfg:                cfg,
		logger:             log.With().Str("component", "connection").Int("slot", slot).Logger(),
		connectTime:        now,
		lastUpdateSent:     now,
		lastFileRequest:    now,
		lastFileRequestAck: now,
	}
}

// Accept binds the connection to a client at addr and starts a session.
func (c *Connection) Accept(addr net.Addr) error {
	return c.accept(addr, false)
}

// AcceptLocal binds the connection to the locally hosted client, which
// is reached through the loopback address addr.
func (c *Connection) AcceptLocal(addr net.Addr) error {
	return c.accept(addr, true)
}

func (c *Connection) accept(addr net.Addr, local bool) error {
	if c.state != Disconnected {
		return fmt.Errorf("accept %v on slot %d: %w", addr, c.slot, ErrBusy)
	}
	now := c.cfg.Now()
	c.addr = addr
	c.local = local
	c.state = Connecting
	c.sessionID = uuid.NewString()
	c.connectTime = now
	c.lastReceived = now

	remote := "local"
	if !local {
		remote = addr.String()
	}
	c.logger = log.With().
		Str("component", "connection").
		Int("slot", c.slot).
		Str("remote", remote).
		Logger()
	c.logger.Debug().Str("session", c.sessionID).Msg("accepted")
	return nil
}

// Negotiate picks the channel and codec for a client of version v and
// moves the connection to Connected. It is allowed once per session.
func (c *Connection) Negotiate(v version.Version) error {
	if (c.state != Disconnected && c.state != Connecting) || !c.version.IsZero() {
		invariant.Fault("%s: negotiate %v while %v with %v", c.DebugName(nil), v, c.state, c.version)
		return ErrAlreadyNegotiated
	}
	if c.addr == nil {
		return ErrNotAccepted
	}

	c.releaseTransport()
	c.version = v
	c.ch = channel.New(v, c.addr, c.cfg.Writer, c.cfg.Channel)
	c.codec = netengine.New(v)
	c.shots = NewShootQueue()
	c.state = Connected

	c.logger.Info().
		Str("version", v.String()).
		Str("codec", c.codec.Revision().String()).
		Str("channel", c.ch.Kind().String()).
		Msg("negotiated")
	return nil
}

// MarkReady moves a connected client into the game.
func (c *Connection) MarkReady() error {
	if c.state != Connected && c.state != InGame {
		return ErrNotConnected
	}
	c.state = InGame
	c.gameReady = true
	return nil
}

// Clear resets the connection for a new client: worms, shots, channel,
// codec and version are dropped and timers restart. The mute flag
// survives.
func (c *Connection) Clear() {
	now := c.cfg.Now()

	c.roster.Clear()
	c.shots = nil
	c.releaseTransport()
	c.version = version.Version{}
	c.state = Disconnected
	c.addr = nil
	c.local = false
	c.sessionID = ""
	c.gameReady = false
	c.sendWait = 0

	c.lastReceived = now
	c.lastUpdateSent = now
	c.lastFileRequest = now
	c.lastFileRequestAck = now

	c.cfg.Files.Reset()
}

// MinorClear prepares a connected client for the next game round. The
// channel, codec, version, worms and mute flag are kept.
func (c *Connection) MinorClear() {
	now := c.cfg.Now()

	c.state = Connected
	c.gameReady = false
	c.shots = NewShootQueue()
	c.sendWait = 0

	c.lastReceived = now
	c.lastFileRequest = now
	c.lastFileRequestAck = now

	c.cfg.Files.Reset()
}

// Shutdown tears the connection down. Calling it again is a no-op.
func (c *Connection) Shutdown() {
	c.roster.Clear()
	c.shots = nil
	c.releaseTransport()
	c.version = version.Version{}
	c.state = Disconnected
	c.gameReady = false
}

func (c *Connection) releaseTransport() {
	if c.ch != nil {
		c.ch.Close()
		c.ch = nil
	}
	c.codec = nil
}

// AttachWorm adds h to the roster.
func (c *Connection) AttachWorm(h worm.Handle) error {
	return c.roster.Attach(h)
}

// DetachWorm removes h from the roster. A worm that is not attached is
// logged and otherwise ignored.
func (c *Connection) DetachWorm(h worm.Handle) error {
	if err := c.roster.Detach(h); err != nil {
		c.logger.Warn().Stringer("worm", h).Msg("cannot detach worm: not attached")
		return err
	}
	return nil
}

// OwnsWorm reports whether h is attached.
func (c *Connection) OwnsWorm(h worm.Handle) bool {
	return c.roster.Owns(h)
}

// OwnsWormID reports whether the worm in pool slot id is attached.
func (c *Connection) OwnsWormID(id int) bool {
	return c.roster.OwnsID(id)
}

// Worms returns the attached worms in attachment order.
func (c *Connection) Worms() []worm.Handle {
	return c.roster.Handles()
}

// NumWorms returns the number of attached worms.
func (c *Connection) NumWorms() int {
	return c.roster.Len()
}

// Process feeds a datagram from the client through the channel and
// decodes every frame it completes. Frames that fail to decode are
// dropped and reported in the joined error; a datagram whose frames all
// fail does not count as activity for the staleness timer.
func (c *Connection) Process(datagram []byte, now time.Time) ([]netengine.Message, error) {
	if c.ch == nil {
		return nil, ErrNotConnected
	}
	if err := c.ch.Process(datagram, now); err != nil {
		return nil, fmt.Errorf("process datagram: %w", err)
	}

	var (
		msgs   []netengine.Message
		errs   []error
		frames int
	)
	for {
		frame, ok := c.ch.Receive()
		if !ok {
			break
		}
		frames++
		m, err := c.codec.Decode(frame)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		msgs = append(msgs, m)
	}

	if frames == 0 || len(msgs) > 0 {
		c.lastReceived = now
	}
	return msgs, errors.Join(errs...)
}

// Send encodes m with the connection's codec and queues it on the channel.
func (c *Connection) Send(m netengine.Message, reliable bool) error {
	if c.ch == nil {
		return ErrNotConnected
	}
	frame, err := c.codec.Encode(m)
	if err != nil {
		return err
	}
	if reliable {
		return c.ch.SendReliable(frame)
	}
	return c.ch.SendUnreliable(frame)
}

// EnqueueShot queues s for the next FlushShots.
func (c *Connection) EnqueueShot(s netengine.Shot) error {
	if c.shots == nil {
		return ErrNotConnected
	}
	c.shots.Enqueue(s)
	return nil
}

// FlushShots encodes the queued shots and sends them reliably.
func (c *Connection) FlushShots() error {
	if c.shots == nil || c.ch == nil {
		return nil
	}
	for _, frame := range c.shots.Flush(c.codec) {
		if err := c.ch.SendReliable(frame); err != nil {
			return fmt.Errorf("flush shots: %w", err)
		}
	}
	return nil
}

// Transmit writes the channel's due datagrams.
func (c *Connection) Transmit(now time.Time) error {
	if c.ch == nil {
		return nil
	}
	if err := c.ch.Transmit(now); err != nil {
		return err
	}
	c.lastUpdateSent = now
	return nil
}

// Ping returns the channel's round-trip estimate in milliseconds, 0
// without a channel.
func (c *Connection) Ping() int {
	if c.ch == nil {
		return 0
	}
	return c.ch.Ping()
}

// SetPing folds an externally measured round trip into the estimate.
func (c *Connection) SetPing(ms int) {
	if c.ch == nil {
		c.logger.Warn().Int("ping", ms).Msg("cannot set ping: no channel")
		return
	}
	c.ch.SetPing(ms)
}

// NoteFileRequest records a file request from the client.
func (c *Connection) NoteFileRequest(now time.Time) { c.lastFileRequest = now }

// NoteFileAck records a file-transfer acknowledgement from the client.
func (c *Connection) NoteFileAck(now time.Time) { c.lastFileRequestAck = now }

// DebugName describes the connection and its worms for log lines, e.g.
// "Connection(10.0.0.2:23400) with 0 'Alpha', 3 'Beta'". Worms that
// worms cannot resolve print as BAD. A nil worms prints ids only.
func (c *Connection) DebugName(worms WormLookup) string {
	addr := "?.?.?.?"
	switch {
	case c.local:
		addr = "local"
	case c.addr != nil:
		addr = c.addr.String()
	}

	desc := "no worms"
	if c.roster.Len() > 0 {
		parts := make([]string, 0, c.roster.Len())
		for _, h := range c.roster.Handles() {
			if worms == nil {
				parts = append(parts, strconv.Itoa(h.Index))
				continue
			}
			w, err := worms.Lookup(h)
			if err != nil {
				parts = append(parts, "BAD")
				continue
			}
			parts = append(parts, fmt.Sprintf("%d '%s'", w.ID, w.Name))
		}
		desc = strings.Join(parts, ", ")
	}
	return "Connection(" + addr + ") with " + desc
}

func (c *Connection) Slot() int { return c.slot }
func (c *Connection) Addr() net.Addr { return c.addr }
func (c *Connection) IsLocal() bool { return c.local }
func (c *Connection) State() State { return c.state }
func (c *Connection) Version() version.Version { return c.version }
func (c *Connection) SessionID() string { return c.sessionID }
func (c *Connection) Channel() channel.Channel { return c.ch }
func (c *Connection) Codec() netengine.Codec { return c.codec }
func (c *Connection) ShootQueue() *ShootQueue { return c.shots }
func (c *Connection) Files() FileTransfer { return c.cfg.Files }
func (c *Connection) Muted() bool { return c.muted }
func (c *Connection) SetMuted(m bool) { c.muted = m }
func (c *Connection) GameReady() bool { return c.gameReady }
func (c *Connection) SendWait() time.Duration { return c.sendWait }
func (c *Connection) SetSendWait(d time.Duration) { c.sendWait = d }
func (c *Connection) ConnectTime() time.Time { return c.connectTime }
func (c *Connection) LastReceived() time.Time { return c.lastReceived }
func (c *Connection) LastUpdateSent() time.Time { return c.lastUpdateSent }
func (c *Connection) LastFileRequest() time.Time { return c.lastFileRequest }
func (c *Connection) LastFileRequestAck() time.Time { return c.lastFileRequestAck }
func (c *Connection) Logger() *zerolog.Logger { return &c.logger }
