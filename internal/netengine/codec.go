// Package netengine encodes and decodes game messages for each wire
// revision the server speaks. A connection picks one Codec from its
// client's version when it negotiates and keeps it until it is cleared.
package netengine

import (
	"errors"
	"fmt"
	"time"

	"github.com/wormnet-project/wormnet/internal/protocol"
	"github.com/wormnet-project/wormnet/internal/version"
)

var (
	// ErrUnknownCommand is returned for a frame whose command byte is not
	// part of any revision.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrTruncated is returned for a frame that ends inside a field.
	ErrTruncated = errors.New("truncated message")
	// ErrUnsupported is returned for a message the revision does not carry.
	ErrUnsupported = errors.New("message not supported by revision")
)

// maxBatch is the most shots one S2C_MULTISHOOT carries.
const maxBatch = 255

// Revision identifies one wire revision. Later revisions sort higher and
// carry every feature of the earlier ones.
type Revision int

const (
	RevBaseline Revision = iota
	RevBeta3
	RevBeta5
	RevBeta7
	RevBeta8
	RevBeta9
)

var revisionStrings = map[Revision]string{
	RevBaseline: "baseline",
	RevBeta3:    "beta3",
	RevBeta5:    "beta5",
	RevBeta7:    "beta7",
	RevBeta8:    "beta8",
	RevBeta9:    "beta9",
}

func (r Revision) String() string {
	if s, ok := revisionStrings[r]; ok {
		return s
	}
	return fmt.Sprintf("revision(%d)", int(r))
}

func (r Revision) shotSpeed() bool { return r >= RevBeta3 }
func (r Revision) pingPong() bool { return r >= RevBeta5 }
func (r Revision) shotTime() bool { return r >= RevBeta7 }
func (r Revision) multiShoot() bool { return r >= RevBeta8 }
func (r Revision) millisTime() bool { return r >= RevBeta9 }
func (r Revision) chatKind() bool { return r >= RevBeta9 }

// revisions maps client versions to codec revisions, newest first.
var revisions = version.NewTable(RevBaseline,
	version.Entry[Revision]{Min: version.Beta9, Value: RevBeta9},
	version.Entry[Revision]{Min: version.Beta8, Value: RevBeta8},
	version.Entry[Revision]{Min: version.Beta7, Value: RevBeta7},
	version.Entry[Revision]{Min: version.Beta5, Value: RevBeta5},
	version.Entry[Revision]{Min: version.Beta3, Value: RevBeta3},
)

// RevisionFor returns the codec revision for a client of version v.
func RevisionFor(v version.Version) Revision {
	return revisions.Lookup(v)
}

// Codec encodes and decodes the messages of one revision. Server-side
// methods produce server-to-client frames and parse client-to-server
// frames; the client-side pair does the reverse for local clients and
// tests. A Codec is not safe for concurrent use.
type Codec interface {
	Revision() Revision

	// Encode serializes a server-to-client message.
	Encode(m Message) ([]byte, error)
	// EncodeShots serializes shots in order, batching where supported.
	EncodeShots(shots []Shot) [][]byte
	// Decode parses a client-to-server frame.
	Decode(frame []byte) (Message, error)

	// EncodeClient serializes a client-to-server message.
	EncodeClient(m Message) ([]byte, error)
	// DecodeServer parses a server-to-client frame.
	DecodeServer(frame []byte) (Message, error)
}

// New returns the codec for a client of version v.
func New(v version.Version) Codec {
	return NewRevision(RevisionFor(v))
}

// NewRevision returns the codec for revision r.
func NewRevision(r Revision) Codec {
	return &engine{rev: r}
}

type engine struct {
	rev Revision
	seq byte // S2C_MULTISHOOT sequence
}

func (e *engine) Revision() Revision { return e.rev }

func (e *engine) Encode(m Message) ([]byte, error) {
	b := protocol.NewPacketBuilder()
	switch m := m.(type) {
	case Shots:
		if len(m.List) == 0 {
			return nil, fmt.Errorf("encode shots: empty list")
		}
		if !m.Batch {
			if len(m.List) != 1 {
				return nil, fmt.Errorf("encode shots: %d shots in a single S2C_SHOOT", len(m.List))
			}
			b.WriteByte(S2CShoot)
			e.writeShot(b, m.List[0])
			return b.Build(), nil
		}
		if !e.rev.multiShoot() {
			return nil, fmt.Errorf("S2C_MULTISHOOT for %s: %w", e.rev, ErrUnsupported)
		}
		if len(m.List) > maxBatch {
			return nil, fmt.Errorf("encode shots: batch of %d exceeds %d", len(m.List), maxBatch)
		}
		b.WriteByte(S2CMultiShoot).WriteByte(m.Seq).WriteByte(byte(len(m.List)))
		for _, s := range m.List {
			e.writeShot(b, s)
		}
	case Chat:
		b.WriteByte(S2CChatText)
		if e.rev.chatKind() {
			b.WriteByte(byte(m.Kind))
		}
		b.WriteNullString(m.Text)
	case Ping:
		if !e.rev.pingPong() {
			return nil, fmt.Errorf("S2C_PING for %s: %w", e.rev, ErrUnsupported)
		}
		b.WriteByte(S2CPing).WriteUint32(m.Stamp)
	case Leaving:
		b.WriteByte(S2CLeaving).WriteByte(byte(len(m.WormIDs)))
		for _, id := range m.WormIDs {
			b.WriteByte(byte(id))
		}
	default:
		return nil, fmt.Errorf("encode %T: %w", m, ErrUnsupported)
	}
	return b.Build(), nil
}

func (e *engine) EncodeShots(shots []Shot) [][]byte {
	var out [][]byte
	if !e.rev.multiShoot() {
		for _, s := range shots {
			frame, _ := e.Encode(Shots{List: []Shot{s}})
			out = append(out, frame)
		}
		return out
	}
	for len(shots) > 0 {
		n := min(len(shots), maxBatch)
		frame, _ := e.Encode(Shots{Batch: true, Seq: e.seq, List: shots[:n]})
		e.seq++
		out = append(out, frame)
		shots = shots[n:]
	}
	return out
}

func (e *engine) Decode(frame []byte) (Message, error) {
	if len(frame) == 0 {
		return nil, ErrTruncated
	}
	r := protocol.NewReader(frame[1:])
	var m Message
	switch frame[0] {
	case C2SChatText:
		c := ClientChat{}
		if e.rev.chatKind() {
			c.Kind = ChatKind(r.ReadByte())
		}
		c.Text = r.ReadNullString()
		m = c
	case C2SShoot:
		m = ClientShot{Shot: e.readShot(r)}
	case C2SPong:
		if !e.rev.pingPong() {
			return nil, fmt.Errorf("C2S_PONG for %s: %w", e.rev, ErrUnsupported)
		}
		m = Pong{Stamp: r.ReadUint32()}
	case C2SImReady:
		m = Ready{}
	case C2SFileRequest:
		m = FileRequest{Name: r.ReadNullString()}
	case C2SFileAck:
		m = FileAck{Bytes: r.ReadUint32()}
	case C2SDisconnect:
		m = Disconnect{}
	default:
		return nil, fmt.Errorf("command %#02x: %w", frame[0], ErrUnknownCommand)
	}
	if r.Err() != nil {
		return nil, fmt.Errorf("command %#02x: %w", frame[0], ErrTruncated)
	}
	return m, nil
}

func (e *engine) EncodeClient(m Message) ([]byte, error) {
	b := protocol.NewPacketBuilder()
	switch m := m.(type) {
	case ClientChat:
		b.WriteByte(C2SChatText)
		if e.rev.chatKind() {
			b.WriteByte(byte(m.Kind))
		}
		b.WriteNullString(m.Text)
	case ClientShot:
		b.WriteByte(C2SShoot)
		e.writeShot(b, m.Shot)
	case Pong:
		if !e.rev.pingPong() {
			return nil, fmt.Errorf("C2S_PONG for %s: %w", e.rev, ErrUnsupported)
		}
		b.WriteByte(C2SPong).WriteUint32(m.Stamp)
	case Ready:
		b.WriteByte(C2SImReady)
	case FileRequest:
		b.WriteByte(C2SFileRequest).WriteNullString(m.Name)
	case FileAck:
		b.WriteByte(C2SFileAck).WriteUint32(m.Bytes)
	case Disconnect:
		b.WriteByte(C2SDisconnect)
	default:
		return nil, fmt.Errorf("encode %T: %w", m, ErrUnsupported)
	}
	return b.Build(), nil
}

func (e *engine) DecodeServer(frame []byte) (Message, error) {
	if len(frame) == 0 {
		return nil, ErrTruncated
	}
	r := protocol.NewReader(frame[1:])
	var m Message
	switch frame[0] {
	case S2CShoot:
		m = Shots{List: []Shot{e.readShot(r)}}
	case S2CMultiShoot:
		if !e.rev.multiShoot() {
			return nil, fmt.Errorf("S2C_MULTISHOOT for %s: %w", e.rev, ErrUnsupported)
		}
		s := Shots{Batch: true, Seq: r.ReadByte()}
		n := int(r.ReadByte())
		for i := 0; i < n && r.Err() == nil; i++ {
			s.List = append(s.List, e.readShot(r))
		}
		m = s
	case S2CChatText:
		c := Chat{}
		if e.rev.chatKind() {
			c.Kind = ChatKind(r.ReadByte())
		}
		c.Text = r.ReadNullString()
		m = c
	case S2CPing:
		if !e.rev.pingPong() {
			return nil, fmt.Errorf("S2C_PING for %s: %w", e.rev, ErrUnsupported)
		}
		m = Ping{Stamp: r.ReadUint32()}
	case S2CLeaving:
		l := Leaving{}
		n := int(r.ReadByte())
		for i := 0; i < n && r.Err() == nil; i++ {
			l.WormIDs = append(l.WormIDs, int(r.ReadByte()))
		}
		m = l
	default:
		return nil, fmt.Errorf("command %#02x: %w", frame[0], ErrUnknownCommand)
	}
	if r.Err() != nil {
		return nil, fmt.Errorf("command %#02x: %w", frame[0], ErrTruncated)
	}
	return m, nil
}

// Shot format: [worm:1][x:2][y:2][angle:2], then [speed:2] from beta3,
// then game time as [seconds:float32] in beta7-8 or [millis:4] from beta9.
func (e *engine) writeShot(b *protocol.PacketBuilder, s Shot) {
	b.WriteByte(byte(s.WormID)).WriteInt16(s.X).WriteInt16(s.Y).WriteUint16(s.Angle)
	if e.rev.shotSpeed() {
		b.WriteInt16(s.Speed)
	}
	switch {
	case e.rev.millisTime():
		b.WriteUint32(uint32(s.Time.Milliseconds()))
	case e.rev.shotTime():
		b.WriteFloat32(float32(s.Time.Seconds()))
	}
}

func (e *engine) readShot(r *protocol.Reader) Shot {
	s := Shot{
		WormID: int(r.ReadByte()),
		X:      r.ReadInt16(),
		Y:      r.ReadInt16(),
		Angle:  r.ReadUint16(),
	}
	if e.rev.shotSpeed() {
		s.Speed = r.ReadInt16()
	}
	switch {
	case e.rev.millisTime():
		s.Time = time.Duration(r.ReadUint32()) * time.Millisecond
	case e.rev.shotTime():
		s.Time = time.Duration(float64(r.ReadFloat32()) * float64(time.Second))
	}
	return s
}
