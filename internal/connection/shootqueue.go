package connection

import "github.com/wormnet-project/wormnet/internal/netengine"

// ShootQueue holds shots waiting to be sent to one client. Shots are
// flushed in the order they were queued.
type ShootQueue struct {
	shots []netengine.Shot
}

// NewShootQueue returns an empty queue.
func NewShootQueue() *ShootQueue {
	return &ShootQueue{}
}

// Enqueue appends s.
func (q *ShootQueue) Enqueue(s netengine.Shot) {
	q.shots = append(q.shots, s)
}

// Len returns the number of queued shots.
func (q *ShootQueue) Len() int { return len(q.shots) }

// Flush encodes every queued shot with codec and empties the queue.
func (q *ShootQueue) Flush(codec netengine.Codec) [][]byte {
	if len(q.shots) == 0 {
		return nil
	}
	frames := codec.EncodeShots(q.shots)
	q.shots = nil
	return frames
}

// Clear drops every queued shot.
func (q *ShootQueue) Clear() {
	q.shots = nil
}
