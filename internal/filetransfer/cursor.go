// Package filetransfer tracks a connection's position in an in-progress
// download. The payload itself is served elsewhere; the connection only
// needs to start, advance and reset the cursor.
package filetransfer

import "sync"

// Cursor is the download position of one connection.
type Cursor struct {
	mu     sync.Mutex
	file   string
	offset int
	resets int
}

// NewCursor returns an idle cursor.
func NewCursor() *Cursor {
	return &Cursor{}
}

// Request starts a download of file from the beginning.
func (c *Cursor) Request(file string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.file = file
	c.offset = 0
}

// Advance records that n more bytes were acknowledged.
func (c *Cursor) Advance(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file == "" || n <= 0 {
		return
	}
	c.offset += n
}

// Position returns the current file and offset. file is empty when idle.
func (c *Cursor) Position() (file string, offset int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.file, c.offset
}

// Reset abandons any download in progress.
func (c *Cursor) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.file = ""
	c.offset = 0
	c.resets++
}

// Resets returns how many times Reset was called.
func (c *Cursor) Resets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resets
}
