// Package health runs the periodic housekeeping of a wormnet server.
package health

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/wormnet-project/wormnet/internal/connection"
	"github.com/wormnet-project/wormnet/internal/events"
	"github.com/wormnet-project/wormnet/internal/server"
	"github.com/wormnet-project/wormnet/internal/util"
)

// GameServer runs closures on the server goroutine.
type GameServer interface {
	Exec(ctx context.Context, fn func(*server.Server)) error
}

// SessionPruner deletes closed sessions older than a cutoff.
type SessionPruner interface {
	PruneSessions(ctx context.Context, before time.Time) (int64, error)
}

// Config holds the check intervals. A zero interval disables the check.
type Config struct {
	Name              string
	ReaperInterval    time.Duration
	IdleTimeout       time.Duration
	HeartbeatInterval time.Duration
	PruneInterval     time.Duration
	SessionRetention  time.Duration
}

// Manager runs periodic checks against the game server.
type Manager struct {
	cfg      Config
	srv      GameServer
	eventBus *events.EventBus
	sessions SessionPruner
	now      func() time.Time
	started  time.Time
	logger   zerolog.Logger
}

// NewManager creates a health manager. eventBus and sessions may be nil.
func NewManager(cfg Config, srv GameServer, eventBus *events.EventBus, sessions SessionPruner) *Manager {
	return &Manager{
		cfg:      cfg,
		srv:      srv,
		eventBus: eventBus,
		sessions: sessions,
		now:      time.Now,
		started:  time.Now(),
		logger:   util.ComponentLogger("health"),
	}
}

// Start launches the checks and blocks until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	checks := []struct {
		name     string
		interval time.Duration
		fn       func(context.Context)
	}{
		{"idle_reaper", m.cfg.ReaperInterval, m.reapIdle},
		{"heartbeat", m.cfg.HeartbeatInterval, m.heartbeat},
		{"session_prune", m.cfg.PruneInterval, m.pruneSessions},
	}

	running := 0
	for _, check := range checks {
		if check.interval <= 0 {
			continue
		}
		running++

		go func() {
			ticker := time.NewTicker(check.interval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					check.fn(ctx)
				}
			}
		}()
	}

	m.logger.Info().Int("checks", running).Msg("health manager started")

	<-ctx.Done()
	m.logger.Info().Msg("health manager stopped")
}

// reapIdle drops remote connections that have gone quiet for longer than
// the idle timeout.
func (m *Manager) reapIdle(ctx context.Context) {
	if m.cfg.IdleTimeout <= 0 {
		return
	}
	now := m.now()

	var evicted []int
	err := m.srv.Exec(ctx, func(s *server.Server) {
		evicted = s.EvictStale(now, m.cfg.IdleTimeout)
	})
	if err != nil {
		m.logger.Debug().Err(err).Msg("idle reaper skipped")
		return
	}
	if len(evicted) > 0 {
		m.logger.Info().Ints("slots", evicted).Dur("idle_timeout", m.cfg.IdleTimeout).Msg("evicted idle connections")
	}
}

// heartbeat publishes a load summary for telemetry.
func (m *Manager) heartbeat(ctx context.Context) {
	payload := events.HeartbeatPayload{
		Name:   m.cfg.Name,
		Uptime: int64(m.now().Sub(m.started).Seconds()),
		At:     m.now(),
	}

	err := m.srv.Exec(ctx, func(s *server.Server) {
		for _, c := range s.Connections() {
			if c.Addr() == nil {
				continue
			}
			payload.Connections++
			if c.State() == connection.InGame {
				payload.InGame++
			}
		}
		payload.Worms = s.Worms().Count()
	})
	if err != nil {
		m.logger.Debug().Err(err).Msg("heartbeat skipped")
		return
	}

	if usage, err := util.GetProcessUsage(); err == nil {
		payload.Goroutines = usage.Goroutines
		payload.CPUPercent = usage.CPUPercent
		payload.RSSMB = usage.RSSMB
	} else {
		m.logger.Debug().Err(err).Msg("process usage unavailable")
	}

	m.logger.Debug().
		Int("connections", payload.Connections).
		Int("worms", payload.Worms).
		Msg("heartbeat")

	if m.eventBus != nil {
		m.eventBus.Emit(ctx, events.Event{
			Type:    events.EventHeartbeat,
			Source:  "health",
			Payload: payload,
		})
	}
}

// pruneSessions deletes journal rows older than the retention period.
func (m *Manager) pruneSessions(ctx context.Context) {
	if m.sessions == nil || m.cfg.SessionRetention <= 0 {
		return
	}
	n, err := m.sessions.PruneSessions(ctx, m.now().Add(-m.cfg.SessionRetention))
	if err != nil {
		m.logger.Warn().Err(err).Msg("session prune failed")
		return
	}
	if n > 0 {
		m.logger.Info().Int64("deleted", n).Msg("pruned old sessions")
	}
}
