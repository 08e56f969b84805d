package server

import (
	"errors"
	"time"

	"github.com/wormnet-project/wormnet/internal/channel"
	"github.com/wormnet-project/wormnet/internal/connection"
	"github.com/wormnet-project/wormnet/internal/events"
	"github.com/wormnet-project/wormnet/internal/netengine"
	"github.com/wormnet-project/wormnet/internal/network"
	"github.com/wormnet-project/wormnet/internal/protocol"
	"github.com/wormnet-project/wormnet/internal/version"
)

type fileRequester interface {
	Request(file string)
}

type fileAdvancer interface {
	Advance(n int)
}

// HandleDatagram processes one datagram received from d.Addr.
func (s *Server) HandleDatagram(d network.Datagram, now time.Time) {
	if protocol.IsConnectionless(d.Data) {
		s.handleConnectionless(d.Addr, d.Data, now)
		return
	}

	conn, ok := s.Connection(d.Addr)
	if !ok {
		s.logger.Trace().Str("remote", d.Addr.String()).Msg("datagram from unknown address")
		return
	}

	msgs, err := conn.Process(d.Data, now)
	switch {
	case err == nil:
		s.settleChallenge(d.Addr)
	case errors.Is(err, channel.ErrStale), errors.Is(err, channel.ErrMalformed), errors.Is(err, connection.ErrNotConnected):
		conn.Logger().Debug().Err(err).Msg("datagram dropped")
	default:
		conn.Logger().Warn().Err(err).Msg("undecodable frames dropped")
		s.emit(events.EventDecodeFailure, events.DecodeFailurePayload{
			Slot:    conn.Slot(),
			Address: d.Addr.String(),
			Error:   err.Error(),
		})
	}

	for _, m := range msgs {
		if conn.Addr() == nil {
			return // dropped by an earlier message
		}
		s.route(conn, m, now)
	}
}

func (s *Server) route(conn *connection.Connection, m netengine.Message, now time.Time) {
	switch m := m.(type) {
	case netengine.ClientChat:
		s.relayChat(conn, m)
	case netengine.ClientShot:
		s.relayShot(conn, m.Shot)
	case netengine.Pong:
		rtt := s.stamp(now) - m.Stamp
		if int32(rtt) >= 0 {
			conn.SetPing(int(rtt))
		}
	case netengine.Ready:
		if err := conn.MarkReady(); err != nil {
			conn.Logger().Warn().Err(err).Msg("ready before negotiation")
		}
	case netengine.FileRequest:
		conn.NoteFileRequest(now)
		if f, ok := conn.Files().(fileRequester); ok {
			f.Request(m.Name)
		}
	case netengine.FileAck:
		conn.NoteFileAck(now)
		if f, ok := conn.Files().(fileAdvancer); ok {
			f.Advance(int(m.Bytes))
		}
	case netengine.Disconnect:
		s.Drop(conn, events.ReasonClientDisconnect)
	default:
		conn.Logger().Warn().Uint8("command", m.Command()).Msg("unhandled message")
	}
}

func (s *Server) relayChat(from *connection.Connection, m netengine.ClientChat) {
	s.emit(events.EventChatMessage, events.ChatPayload{
		Slot:    from.Slot(),
		Address: from.Addr().String(),
		Text:    m.Text,
		Muted:   from.Muted(),
	})
	if from.Muted() {
		from.Logger().Debug().Str("text", m.Text).Msg("chat from muted client suppressed")
		return
	}

	text := m.Text
	if names := s.wormNames(from); len(names) > 0 {
		text = names[0] + ": " + text
	}
	for _, c := range s.active() {
		if c.Channel() == nil {
			continue
		}
		if err := c.Send(netengine.Chat{Kind: m.Kind, Text: text}, true); err != nil {
			c.Logger().Warn().Err(err).Msg("cannot relay chat")
		}
	}
}

func (s *Server) relayShot(from *connection.Connection, shot netengine.Shot) {
	if from.State() != connection.InGame {
		from.Logger().Debug().Msg("shot before game start ignored")
		return
	}
	if !from.OwnsWormID(shot.WormID) {
		from.Logger().Warn().Int("worm", shot.WormID).Msg("shot for a worm the client does not own")
		return
	}
	for _, c := range s.active() {
		if c == from || c.State() != connection.InGame {
			continue
		}
		if err := c.EnqueueShot(shot); err != nil {
			c.Logger().Warn().Err(err).Msg("cannot queue shot")
		}
	}
}

func (s *Server) wormNames(c *connection.Connection) []string {
	var names []string
	for _, h := range c.Worms() {
		if w, err := s.worms.Lookup(h); err == nil {
			names = append(names, w.Name)
		}
	}
	return names
}

// stamp returns now as milliseconds since the server started, the clock
// ping probes carry.
func (s *Server) stamp(now time.Time) uint32 {
	return uint32(now.Sub(s.epoch).Milliseconds())
}

// Tick flushes shot queues, sends ping probes when due and transmits
// every channel. A channel that gave up on reliable delivery is dropped.
func (s *Server) Tick(now time.Time) {
	s.expireChallenges(now)

	pingDue := now.Sub(s.lastPing) >= s.cfg.PingInterval
	if pingDue {
		s.lastPing = now
	}

	for _, c := range s.active() {
		if c.Channel() == nil {
			continue
		}
		if err := c.FlushShots(); err != nil {
			c.Logger().Warn().Err(err).Msg("cannot flush shots")
		}
		if pingDue && c.Version().AtLeast(version.Beta5) {
			if err := c.Send(netengine.Ping{Stamp: s.stamp(now)}, false); err != nil {
				c.Logger().Warn().Err(err).Msg("cannot send ping")
			}
		}
		if err := c.Transmit(now); err != nil {
			if errors.Is(err, channel.ErrReliableTimeout) {
				s.Drop(c, events.ReasonChannelFailure)
				continue
			}
			c.Logger().Warn().Err(err).Msg("transmit failed")
		}
	}
}

// EvictStale drops every connection that has not been heard from for
// longer than timeout and returns their slots.
func (s *Server) EvictStale(now time.Time, timeout time.Duration) []int {
	var evicted []int
	for _, c := range s.active() {
		if c.IsLocal() || now.Sub(c.LastReceived()) <= timeout {
			continue
		}
		evicted = append(evicted, c.Slot())
		s.Drop(c, events.ReasonTimeout)
	}
	return evicted
}

// SetMuted mutes or unmutes the client in slot.
func (s *Server) SetMuted(slot int, muted bool) error {
	c, err := s.Slot(slot)
	if err != nil {
		return err
	}
	c.SetMuted(muted)
	s.emit(events.EventMuteChanged, events.MutePayload{Address: HostOf(c), Muted: muted})
	return nil
}

// Kick drops the client in slot.
func (s *Server) Kick(slot int) error {
	c, err := s.Slot(slot)
	if err != nil {
		return err
	}
	s.Drop(c, events.ReasonKicked)
	return nil
}

// HostOf returns the host part of a connection address, the key mutes
// are stored under.
func HostOf(c *connection.Connection) string {
	if c.Addr() == nil {
		return ""
	}
	return hostOf(c.Addr())
}
