package channel

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

var errInflateLimit = errors.New("inflated body exceeds limit")

// compressor deflates and inflates v3 datagram bodies, reusing its
// coder state between datagrams.
type compressor struct {
	level int
	buf   bytes.Buffer
	w     *flate.Writer
	r     io.ReadCloser
}

func newCompressor(level int) *compressor {
	return &compressor{level: level}
}

func (c *compressor) compress(body []byte) ([]byte, error) {
	c.buf.Reset()
	if c.w == nil {
		w, err := flate.NewWriter(&c.buf, c.level)
		if err != nil {
			return nil, fmt.Errorf("create deflate writer: %w", err)
		}
		c.w = w
	} else {
		c.w.Reset(&c.buf)
	}
	if _, err := c.w.Write(body); err != nil {
		return nil, err
	}
	if err := c.w.Close(); err != nil {
		return nil, err
	}
	return bytes.Clone(c.buf.Bytes()), nil
}

func (c *compressor) decompress(packed []byte, limit int) ([]byte, error) {
	src := bytes.NewReader(packed)
	if c.r == nil {
		c.r = flate.NewReader(src)
	} else if err := c.r.(flate.Resetter).Reset(src, nil); err != nil {
		return nil, err
	}

	out, err := io.ReadAll(io.LimitReader(c.r, int64(limit)+1))
	if err != nil {
		return nil, err
	}
	if len(out) > limit {
		return nil, errInflateLimit
	}
	return out, nil
}
