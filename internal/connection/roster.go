package connection

import (
	"errors"

	"github.com/wormnet-project/wormnet/internal/worm"
)

var (
	// ErrRosterFull is returned when a connection already controls
	// worm.MaxPlayers worms.
	ErrRosterFull = errors.New("worm roster full")
	// ErrAlreadyAttached is returned when the worm is already in the roster.
	ErrAlreadyAttached = errors.New("worm already attached")
	// ErrWormNotFound is returned when detaching a worm that is not attached.
	ErrWormNotFound = errors.New("worm not attached")
	// ErrZeroHandle is returned when attaching the zero Handle.
	ErrZeroHandle = errors.New("zero worm handle")
)

// Roster is the ordered set of worms a connection controls. Order is
// attachment order; removing a worm shifts the later ones left.
type Roster struct {
	slots [worm.MaxPlayers]worm.Handle
	count int
}

// Attach appends h. The roster is unchanged on error.
func (r *Roster) Attach(h worm.Handle) error {
	if h.IsZero() {
		return ErrZeroHandle
	}
	if r.Owns(h) {
		return ErrAlreadyAttached
	}
	if r.count == len(r.slots) {
		return ErrRosterFull
	}
	r.slots[r.count] = h
	r.count++
	return nil
}

// Detach removes h and compacts the remaining entries.
func (r *Roster) Detach(h worm.Handle) error {
	i := r.index(h)
	if i < 0 {
		return ErrWormNotFound
	}
	copy(r.slots[i:r.count], r.slots[i+1:r.count])
	r.count--
	r.slots[r.count] = worm.Handle{}
	return nil
}

// Owns reports whether h is attached.
func (r *Roster) Owns(h worm.Handle) bool {
	return r.index(h) >= 0
}

// OwnsID reports whether a worm with slot index id is attached.
func (r *Roster) OwnsID(id int) bool {
	for _, h := range r.slots[:r.count] {
		if h.Index == id {
			return true
		}
	}
	return false
}

func (r *Roster) index(h worm.Handle) int {
	for i, cur := range r.slots[:r.count] {
		if cur == h {
			return i
		}
	}
	return -1
}

// Len returns the number of attached worms.
func (r *Roster) Len() int { return r.count }

// Handles returns the attached worms in order.
func (r *Roster) Handles() []worm.Handle {
	return append([]worm.Handle(nil), r.slots[:r.count]...)
}

// Clear detaches every worm.
func (r *Roster) Clear() {
	r.slots = [worm.MaxPlayers]worm.Handle{}
	r.count = 0
}
