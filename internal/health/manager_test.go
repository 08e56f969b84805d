package health

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/wormnet-project/wormnet/internal/events"
	"github.com/wormnet-project/wormnet/internal/server"
	"github.com/wormnet-project/wormnet/internal/version"
)

type discard struct{}

func (discard) WriteTo(p []byte, _ net.Addr) (int, error) { return len(p), nil }

type fakePruner struct {
	mu     sync.Mutex
	before []time.Time
}

func (p *fakePruner) PruneSessions(_ context.Context, before time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.before = append(p.before, before)
	return 3, nil
}

// startServer runs a server holding one remote and one local client, both
// accepted at start.
func startServer(t *testing.T, start time.Time) *server.Server {
	t.Helper()
	cfg := server.DefaultConfig()
	cfg.TickInterval = time.Hour
	s := server.New(cfg, discard{}, nil, server.WithClock(func() time.Time { return start }))

	remote, err := s.Accept(&net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 23400})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Negotiate(remote, version.Beta9); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SpawnWorm(remote, "Alpha"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AcceptLocal(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s
}

func active(t *testing.T, s *server.Server) int {
	t.Helper()
	n := 0
	err := s.Exec(context.Background(), func(s *server.Server) {
		n = len(s.Snapshot())
	})
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestReapIdle(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := startServer(t, start)

	m := NewManager(Config{IdleTimeout: 20 * time.Second}, s, nil, nil)

	m.now = func() time.Time { return start.Add(10 * time.Second) }
	m.reapIdle(context.Background())
	if got := active(t, s); got != 2 {
		t.Fatalf("%d connections after early reap, want 2", got)
	}

	m.now = func() time.Time { return start.Add(30 * time.Second) }
	m.reapIdle(context.Background())
	if got := active(t, s); got != 1 {
		t.Errorf("%d connections after reap, want only the local client", got)
	}
}

func TestHeartbeat(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := startServer(t, start)
	bus := events.NewEventBus()

	var mu sync.Mutex
	var beats []events.HeartbeatPayload
	bus.Subscribe(events.EventHeartbeat, "test", func(_ context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		beats = append(beats, e.Payload.(events.HeartbeatPayload))
		return nil
	})

	m := NewManager(Config{Name: "arena"}, s, bus, nil)
	m.heartbeat(context.Background())
	bus.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(beats) != 1 {
		t.Fatalf("got %d heartbeats, want 1", len(beats))
	}
	b := beats[0]
	if b.Name != "arena" || b.Connections != 2 || b.InGame != 0 || b.Worms != 1 {
		t.Errorf("heartbeat = %+v", b)
	}
}

func TestPruneSessions(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	p := &fakePruner{}
	m := NewManager(Config{SessionRetention: 24 * time.Hour}, nil, nil, p)
	m.now = func() time.Time { return now }

	m.pruneSessions(context.Background())

	if len(p.before) != 1 || !p.before[0].Equal(now.Add(-24*time.Hour)) {
		t.Errorf("prune cutoffs = %v", p.before)
	}
}

func TestStart_StopsOnCancel(t *testing.T) {
	m := NewManager(Config{}, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}
}
