package server

import (
	"time"

	"github.com/wormnet-project/wormnet/internal/connection"
)

// WormInfo describes one worm for the admin surfaces.
type WormInfo struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// ConnectionInfo is a copy of one connection's state that is safe to use
// outside the server goroutine.
type ConnectionInfo struct {
	Slot         int        `json:"slot"`
	SessionID    string     `json:"session_id"`
	Address      string     `json:"address"`
	Local        bool       `json:"local"`
	State        string     `json:"state"`
	Version      string     `json:"version"`
	Codec        string     `json:"codec"`
	Channel      string     `json:"channel"`
	Ping         int        `json:"ping_ms"`
	Muted        bool       `json:"muted"`
	Worms        []WormInfo `json:"worms"`
	QueuedShots  int        `json:"queued_shots"`
	ConnectedAt  time.Time  `json:"connected_at"`
	LastReceived time.Time  `json:"last_received"`
	DebugName    string     `json:"debug_name"`
}

// Info describes c. Call it on the server goroutine.
func (s *Server) Info(c *connection.Connection) ConnectionInfo {
	info := ConnectionInfo{
		Slot:         c.Slot(),
		SessionID:    c.SessionID(),
		Local:        c.IsLocal(),
		State:        c.State().String(),
		Ping:         c.Ping(),
		Muted:        c.Muted(),
		Worms:        []WormInfo{},
		ConnectedAt:  c.ConnectTime(),
		LastReceived: c.LastReceived(),
		DebugName:    s.DebugName(c),
	}
	if c.Addr() != nil {
		info.Address = c.Addr().String()
	}
	if !c.Version().IsZero() {
		info.Version = c.Version().String()
	}
	if c.Codec() != nil {
		info.Codec = c.Codec().Revision().String()
	}
	if c.Channel() != nil {
		info.Channel = c.Channel().Kind().String()
	}
	if q := c.ShootQueue(); q != nil {
		info.QueuedShots = q.Len()
	}
	for _, h := range c.Worms() {
		if w, err := s.worms.Lookup(h); err == nil {
			info.Worms = append(info.Worms, WormInfo{ID: w.ID, Name: w.Name})
		}
	}
	return info
}

// Snapshot describes every active connection. Call it on the server
// goroutine.
func (s *Server) Snapshot() []ConnectionInfo {
	active := s.active()
	out := make([]ConnectionInfo, 0, len(active))
	for _, c := range active {
		out = append(out, s.Info(c))
	}
	return out
}
