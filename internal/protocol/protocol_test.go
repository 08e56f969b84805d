package protocol

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestReader_Fields(t *testing.T) {
	data := NewPacketBuilder().
		WriteByte(0x42).
		WriteBool(true).
		WriteUint16(0xBEEF).
		WriteInt16(-1234).
		WriteUint32(0xDEADBEEF).
		WriteFloat32(1.5).
		WriteString("worm").
		WriteNullString("hello").
		WriteBlock([]byte{1, 2, 3}).
		Build()

	r := NewReader(data)
	if got := r.ReadByte(); got != 0x42 {
		t.Errorf("ReadByte() = %#x", got)
	}
	if !r.ReadBool() {
		t.Error("ReadBool() = false")
	}
	if got := r.ReadUint16(); got != 0xBEEF {
		t.Errorf("ReadUint16() = %#x", got)
	}
	if got := r.ReadInt16(); got != -1234 {
		t.Errorf("ReadInt16() = %d", got)
	}
	if got := r.ReadUint32(); got != 0xDEADBEEF {
		t.Errorf("ReadUint32() = %#x", got)
	}
	if got := r.ReadFloat32(); got != 1.5 {
		t.Errorf("ReadFloat32() = %v", got)
	}
	if got := r.ReadString(); got != "worm" {
		t.Errorf("ReadString() = %q", got)
	}
	if got := r.ReadNullString(); got != "hello" {
		t.Errorf("ReadNullString() = %q", got)
	}
	if diff := cmp.Diff([]byte{1, 2, 3}, r.ReadBlock()); diff != "" {
		t.Errorf("ReadBlock() diff:\n%s", diff)
	}
	if r.Err() != nil || r.Remaining() != 0 {
		t.Fatalf("err = %v, remaining = %d", r.Err(), r.Remaining())
	}
}

func TestReader_TruncationIsSticky(t *testing.T) {
	r := NewReader([]byte{0x01})
	if got := r.ReadUint16(); got != 0 {
		t.Errorf("ReadUint16() on short buffer = %d, want 0", got)
	}
	if !errors.Is(r.Err(), ErrTruncated) {
		t.Fatalf("Err() = %v, want ErrTruncated", r.Err())
	}
	if got := r.ReadByte(); got != 0 {
		t.Errorf("ReadByte() after truncation = %d, want 0", got)
	}
}

func TestReader_NullStringWithoutTerminator(t *testing.T) {
	r := NewReader([]byte("abc"))
	r.ReadNullString()
	if !errors.Is(r.Err(), ErrTruncated) {
		t.Fatalf("Err() = %v, want ErrTruncated", r.Err())
	}
}

func TestConnectionless_RoundTrip(t *testing.T) {
	pkt := BuildConnectionless(CmdConnect, "OpenLieroX/0.57_beta8", "2")
	if !IsConnectionless(pkt) {
		t.Fatal("IsConnectionless() = false")
	}

	cmd, args, err := ParseConnectionless(pkt)
	if err != nil {
		t.Fatalf("ParseConnectionless() returned an unexpected error: %v", err)
	}
	if cmd != CmdConnect {
		t.Errorf("cmd = %q, want %q", cmd, CmdConnect)
	}
	if diff := cmp.Diff([]string{"OpenLieroX/0.57_beta8", "2"}, args); diff != "" {
		t.Errorf("args diff:\n%s", diff)
	}
}

func TestIsConnectionless_ShortOrChannelPacket(t *testing.T) {
	if IsConnectionless([]byte{0xFF, 0xFF}) {
		t.Error("short packet reported as connectionless")
	}
	if IsConnectionless([]byte{0x01, 0x00, 0x00, 0x00, 0x00}) {
		t.Error("channel packet reported as connectionless")
	}
}
