// Package worm holds the player-controlled entities of a game session.
// Connections never own worms; they reference them through Handles, which
// go stale when the pool slot is released and reused.
package worm

import (
	"errors"
	"fmt"
	"sync"
)

// MaxPlayers is the number of worm slots in a game session, and so also the
// most worms a single connection can control.
const MaxPlayers = 32

var (
	// ErrPoolFull is returned when every slot is in use.
	ErrPoolFull = errors.New("worm pool full")
	// ErrStaleHandle is returned for a handle whose slot was released.
	ErrStaleHandle = errors.New("stale worm handle")
)

// Handle is a stable reference to a pool slot. Gen distinguishes successive
// occupants of the same slot; the zero Handle never refers to a worm.
type Handle struct {
	Index int
	Gen   uint32
}

// IsZero reports whether h is the zero Handle.
func (h Handle) IsZero() bool {
	return h == Handle{}
}

func (h Handle) String() string {
	return fmt.Sprintf("%d#%d", h.Index, h.Gen)
}

// Worm is a player-controlled entity.
type Worm struct {
	ID     int // slot index, the id clients see on the wire
	Name   string
	Handle Handle
}

type slot struct {
	gen  uint32
	worm *Worm
}

// Pool is the fixed-size set of worms in a game session.
type Pool struct {
	mu    sync.RWMutex
	slots [MaxPlayers]slot
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{}
}

// Spawn places a new worm in the first free slot.
func (p *Pool) Spawn(name string) (*Worm, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.slots {
		s := &p.slots[i]
		if s.worm != nil {
			continue
		}
		s.gen++
		w := &Worm{ID: i, Name: name, Handle: Handle{Index: i, Gen: s.gen}}
		s.worm = w
		return w, nil
	}
	return nil, ErrPoolFull
}

// Lookup resolves h. It fails with ErrStaleHandle when the slot is empty or
// holds a later occupant.
func (p *Pool) Lookup(h Handle) (*Worm, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if h.Index < 0 || h.Index >= MaxPlayers {
		return nil, ErrStaleHandle
	}
	s := p.slots[h.Index]
	if s.worm == nil || s.gen != h.Gen || h.Gen == 0 {
		return nil, ErrStaleHandle
	}
	return s.worm, nil
}

// ByID returns the current occupant of slot id.
func (p *Pool) ByID(id int) (*Worm, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if id < 0 || id >= MaxPlayers || p.slots[id].worm == nil {
		return nil, false
	}
	return p.slots[id].worm, true
}

// Release frees the slot h refers to. Later lookups of h fail.
func (p *Pool) Release(h Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h.Index < 0 || h.Index >= MaxPlayers {
		return ErrStaleHandle
	}
	s := &p.slots[h.Index]
	if s.worm == nil || s.gen != h.Gen {
		return ErrStaleHandle
	}
	s.worm = nil
	return nil
}

// Count returns the number of occupied slots.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n := 0
	for _, s := range p.slots {
		if s.worm != nil {
			n++
		}
	}
	return n
}
