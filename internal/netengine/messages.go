package netengine

import "time"

// Command bytes. Server-to-client commands use the low range and
// client-to-server commands start at 0x40; the two never share a value.
const (
	S2CShoot      byte = 0x01
	S2CMultiShoot byte = 0x02 // beta8+
	S2CChatText   byte = 0x03
	S2CPing       byte = 0x04 // beta5+
	S2CLeaving    byte = 0x05

	C2SChatText    byte = 0x41
	C2SShoot       byte = 0x42
	C2SPong        byte = 0x43 // beta5+
	C2SImReady     byte = 0x44
	C2SFileRequest byte = 0x45
	C2SFileAck     byte = 0x46
	C2SDisconnect  byte = 0x47
)

// Message is a decoded game message.
type Message interface {
	Command() byte
}

// Shot is one weapon-fire event.
type Shot struct {
	WormID int
	X, Y   int16
	Angle  uint16
	Speed  int16         // beta3+
	Time   time.Duration // game time of the shot, beta7+
}

// ChatKind classifies a chat line. Revisions before beta9 only carry
// ChatNormal.
type ChatKind byte

const (
	ChatNormal ChatKind = iota
	ChatTeam
	ChatSystem
	ChatPrivate
)

// Shots carries server-relayed shots, batched into one S2C_MULTISHOOT
// from beta8.
type Shots struct {
	Batch bool // encoded as S2C_MULTISHOOT
	Seq   byte // batch sequence number
	List  []Shot
}

// Chat is a chat line in either direction.
type Chat struct {
	Kind ChatKind
	Text string
}

// Ping is the server's timing probe; the client answers with a Pong
// echoing Stamp.
type Ping struct {
	Stamp uint32
}

type Pong struct {
	Stamp uint32
}

// Leaving tells clients that worms left the game.
type Leaving struct {
	WormIDs []int
}

type Ready struct{}

type FileRequest struct {
	Name string
}

type FileAck struct {
	Bytes uint32
}

type Disconnect struct{}

// ClientShot is a shot reported by a client.
type ClientShot struct {
	Shot Shot
}

// ClientChat is a chat line typed by a client.
type ClientChat struct {
	Kind ChatKind
	Text string
}

func (m Shots) Command() byte {
	if m.Batch {
		return S2CMultiShoot
	}
	return S2CShoot
}

func (Chat) Command() byte { return S2CChatText }
func (Ping) Command() byte { return S2CPing }
func (Leaving) Command() byte { return S2CLeaving }
func (ClientChat) Command() byte { return C2SChatText }
func (ClientShot) Command() byte { return C2SShoot }
func (Pong) Command() byte { return C2SPong }
func (Ready) Command() byte { return C2SImReady }
func (FileRequest) Command() byte { return C2SFileRequest }
func (FileAck) Command() byte { return C2SFileAck }
func (Disconnect) Command() byte { return C2SDisconnect }
