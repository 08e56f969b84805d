package protocol

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Reader decodes little-endian fields from a packet. The first failure is
// sticky: later reads return zero values and Err reports ErrTruncated.
type Reader struct {
	data []byte
	off  int
	err  error
}

// NewReader creates a Reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Err returns the first error encountered.
func (r *Reader) Err() error {
	return r.err
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.off
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.Remaining() < n {
		r.err = ErrTruncated
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

// ReadByte reads a single byte.
func (r *Reader) ReadByte() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// ReadBool reads a single byte as a boolean.
func (r *Reader) ReadBool() bool {
	return r.ReadByte() != 0
}

// ReadUint16 reads a little-endian uint16.
func (r *Reader) ReadUint16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

// ReadInt16 reads a little-endian int16.
func (r *Reader) ReadInt16() int16 {
	return int16(r.ReadUint16())
}

// ReadUint32 reads a little-endian uint32.
func (r *Reader) ReadUint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// ReadFloat32 reads a little-endian float32.
func (r *Reader) ReadFloat32() float32 {
	return math.Float32frombits(r.ReadUint32())
}

// ReadString reads a string written by PacketBuilder.WriteString.
func (r *Reader) ReadString() string {
	n := int(r.ReadByte())
	return string(r.take(n))
}

// ReadNullString reads a null-terminated string.
func (r *Reader) ReadNullString() string {
	if r.err != nil {
		return ""
	}
	i := bytes.IndexByte(r.data[r.off:], 0)
	if i < 0 {
		r.err = ErrTruncated
		return ""
	}
	s := string(r.data[r.off : r.off+i])
	r.off += i + 1
	return s
}

// ReadBlock reads data written by PacketBuilder.WriteBlock. The returned
// slice aliases the packet buffer.
func (r *Reader) ReadBlock() []byte {
	n := int(r.ReadUint16())
	return r.take(n)
}

// ReadBytes reads n raw bytes. The returned slice aliases the packet buffer.
func (r *Reader) ReadBytes(n int) []byte {
	return r.take(n)
}

// Rest returns all unread bytes and advances to the end.
func (r *Reader) Rest() []byte {
	if r.err != nil {
		return nil
	}
	b := r.data[r.off:]
	r.off = len(r.data)
	return b
}
