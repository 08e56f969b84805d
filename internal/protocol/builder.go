package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// PacketBuilder constructs binary packets.
type PacketBuilder struct {
	buf bytes.Buffer
}

// NewPacketBuilder creates a new PacketBuilder.
func NewPacketBuilder() *PacketBuilder {
	return &PacketBuilder{}
}

// Reset clears the builder for reuse.
func (b *PacketBuilder) Reset() {
	b.buf.Reset()
}

// WriteByte writes a single byte.
func (b *PacketBuilder) WriteByte(v byte) *PacketBuilder {
	b.buf.WriteByte(v)
	return b
}

// WriteBool writes a boolean as a single byte.
func (b *PacketBuilder) WriteBool(v bool) *PacketBuilder {
	if v {
		return b.WriteByte(1)
	}
	return b.WriteByte(0)
}

// WriteUint16 writes a uint16 in little-endian order.
func (b *PacketBuilder) WriteUint16(v uint16) *PacketBuilder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// WriteInt16 writes an int16 in little-endian order.
func (b *PacketBuilder) WriteInt16(v int16) *PacketBuilder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// WriteUint32 writes a uint32 in little-endian order.
func (b *PacketBuilder) WriteUint32(v uint32) *PacketBuilder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// WriteFloat32 writes a float32 in little-endian order.
func (b *PacketBuilder) WriteFloat32(v float32) *PacketBuilder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// WriteString writes a length-prefixed string.
// Format: [length:1][string bytes...]
func (b *PacketBuilder) WriteString(s string) *PacketBuilder {
	data := []byte(s)
	if len(data) > 255 {
		data = data[:255]
	}
	b.buf.WriteByte(byte(len(data)))
	b.buf.Write(data)
	return b
}

// WriteNullString writes a null-terminated string. Embedded NUL bytes
// would end the string early on the reading side and are stripped.
func (b *PacketBuilder) WriteNullString(s string) *PacketBuilder {
	b.buf.WriteString(strings.ReplaceAll(s, "\x00", ""))
	b.buf.WriteByte(0)
	return b
}

// WriteBytes writes raw bytes.
func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	b.buf.Write(data)
	return b
}

// WriteBlock writes data prefixed by its 2-byte LE length.
func (b *PacketBuilder) WriteBlock(data []byte) *PacketBuilder {
	b.WriteUint16(uint16(len(data)))
	b.buf.Write(data)
	return b
}

// Build returns a copy of the constructed packet bytes.
func (b *PacketBuilder) Build() []byte {
	return bytes.Clone(b.buf.Bytes())
}

// Len returns the current size of the packet being built.
func (b *PacketBuilder) Len() int {
	return b.buf.Len()
}

// String returns a hex dump of the current packet for debugging.
func (b *PacketBuilder) String() string {
	data := b.buf.Bytes()
	return fmt.Sprintf("PacketBuilder[%d bytes]: %x", len(data), data)
}

// BuildConnectionless creates a connectionless packet carrying cmd and
// its space-separated arguments.
// Format: [0xFFFFFFFF][cmd args...:null_str]
func BuildConnectionless(cmd string, args ...string) []byte {
	b := NewPacketBuilder()
	b.WriteBytes(ConnectionlessHeader[:])
	if len(args) > 0 {
		cmd += " " + strings.Join(args, " ")
	}
	b.WriteNullString(cmd)
	return b.Build()
}

// ParseConnectionless splits a connectionless packet into its command and
// arguments.
func ParseConnectionless(data []byte) (string, []string, error) {
	if !IsConnectionless(data) {
		return "", nil, fmt.Errorf("missing connectionless header")
	}
	r := NewReader(data[len(ConnectionlessHeader):])
	line := r.ReadNullString()
	if err := r.Err(); err != nil {
		return "", nil, err
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("empty connectionless command")
	}
	return fields[0], fields[1:], nil
}
