package netengine

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/wormnet-project/wormnet/internal/version"
)

func TestRevisionFor(t *testing.T) {
	tests := []struct {
		v    version.Version
		want Revision
	}{
		{version.Baseline, RevBaseline},
		{version.OLXBeta(2), RevBaseline},
		{version.Beta3, RevBeta3},
		{version.OLXBeta(4), RevBeta3},
		{version.Beta5, RevBeta5},
		{version.Beta6, RevBeta5},
		{version.Beta7, RevBeta7},
		{version.Beta8, RevBeta8},
		{version.Beta9, RevBeta9},
		{version.OLXBeta(12), RevBeta9},
		{version.Version{Name: "OpenLieroX", Major: 0, Minor: 57}, RevBeta9},
		{version.Version{Name: "OpenLieroX", Major: 0, Minor: 58, Beta: 1}, RevBeta9},
	}
	for _, tt := range tests {
		if got := RevisionFor(tt.v); got != tt.want {
			t.Errorf("RevisionFor(%v) = %v, want %v", tt.v, got, tt.want)
		}
	}
}

func TestNew_Beta8Exact(t *testing.T) {
	c := New(version.Beta8)
	if c.Revision() != RevBeta8 {
		t.Fatalf("New(Beta8).Revision() = %v, want %v", c.Revision(), RevBeta8)
	}
}

func TestShot_FieldsPerRevision(t *testing.T) {
	shot := Shot{WormID: 4, X: 120, Y: -30, Angle: 900, Speed: 75, Time: 1500 * time.Millisecond}

	tests := []struct {
		rev  Revision
		want Shot
	}{
		{RevBaseline, Shot{WormID: 4, X: 120, Y: -30, Angle: 900}},
		{RevBeta3, Shot{WormID: 4, X: 120, Y: -30, Angle: 900, Speed: 75}},
		{RevBeta5, Shot{WormID: 4, X: 120, Y: -30, Angle: 900, Speed: 75}},
		{RevBeta7, shot},
		{RevBeta8, shot},
		{RevBeta9, shot},
	}
	for _, tt := range tests {
		t.Run(tt.rev.String(), func(t *testing.T) {
			c := NewRevision(tt.rev)
			frame, err := c.EncodeClient(ClientShot{Shot: shot})
			if err != nil {
				t.Fatalf("EncodeClient() returned an unexpected error: %v", err)
			}
			m, err := c.Decode(frame)
			if err != nil {
				t.Fatalf("Decode() returned an unexpected error: %v", err)
			}
			if diff := cmp.Diff(ClientShot{Shot: tt.want}, m); diff != "" {
				t.Errorf("decoded shot diff (-want +got):\n%s", diff)
			}
		})
	}
}

func TestShotSize_GrowsWithRevision(t *testing.T) {
	sizes := map[Revision]int{
		RevBaseline: 8,
		RevBeta3:    10,
		RevBeta7:    14,
		RevBeta9:    14,
	}
	for rev, want := range sizes {
		frame, err := NewRevision(rev).EncodeClient(ClientShot{})
		if err != nil {
			t.Fatal(err)
		}
		if len(frame) != want {
			t.Errorf("%v: shot frame is %d bytes, want %d", rev, len(frame), want)
		}
	}
}

func TestEncodeShots_PreservesOrder(t *testing.T) {
	shots := []Shot{{WormID: 1, X: 1}, {WormID: 2, X: 2}, {WormID: 3, X: 3}}

	for _, rev := range []Revision{RevBaseline, RevBeta7, RevBeta8, RevBeta9} {
		t.Run(rev.String(), func(t *testing.T) {
			c := NewRevision(rev)
			var got []Shot
			for _, frame := range c.EncodeShots(shots) {
				m, err := c.DecodeServer(frame)
				if err != nil {
					t.Fatalf("DecodeServer() returned an unexpected error: %v", err)
				}
				got = append(got, m.(Shots).List...)
			}
			if diff := cmp.Diff(shots, got); diff != "" {
				t.Errorf("shot order diff (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncodeShots_BatchingFromBeta8(t *testing.T) {
	shots := []Shot{{WormID: 1}, {WormID: 2}, {WormID: 3}}

	if frames := NewRevision(RevBeta7).EncodeShots(shots); len(frames) != 3 {
		t.Errorf("beta7 produced %d frames, want 3", len(frames))
	}

	c := NewRevision(RevBeta8)
	frames := c.EncodeShots(shots)
	if len(frames) != 1 {
		t.Fatalf("beta8 produced %d frames, want 1", len(frames))
	}
	if frames[0][0] != S2CMultiShoot {
		t.Errorf("command = %#x, want S2C_MULTISHOOT", frames[0][0])
	}

	many := make([]Shot, maxBatch+10)
	frames = c.EncodeShots(many)
	if len(frames) != 2 {
		t.Fatalf("%d shots produced %d frames, want 2", len(many), len(frames))
	}
	first, _ := c.DecodeServer(frames[0])
	second, _ := c.DecodeServer(frames[1])
	if s1, s2 := first.(Shots), second.(Shots); s2.Seq != s1.Seq+1 {
		t.Errorf("batch sequence %d then %d, want consecutive", s1.Seq, s2.Seq)
	}
}

func TestChat_KindFromBeta9(t *testing.T) {
	msg := ClientChat{Kind: ChatTeam, Text: "rush B"}

	old := NewRevision(RevBeta8)
	frame, _ := old.EncodeClient(msg)
	m, err := old.Decode(frame)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(ClientChat{Kind: ChatNormal, Text: "rush B"}, m); diff != "" {
		t.Errorf("beta8 chat diff (-want +got):\n%s", diff)
	}

	cur := NewRevision(RevBeta9)
	frame, _ = cur.EncodeClient(msg)
	m, err = cur.Decode(frame)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(msg, m); diff != "" {
		t.Errorf("beta9 chat diff (-want +got):\n%s", diff)
	}
}

func TestPingPong_Beta5Only(t *testing.T) {
	if _, err := NewRevision(RevBeta3).Encode(Ping{Stamp: 1}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("beta3 Encode(Ping) = %v, want ErrUnsupported", err)
	}
	if _, err := NewRevision(RevBeta3).Decode([]byte{C2SPong, 1, 0, 0, 0}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("beta3 Decode(pong) = %v, want ErrUnsupported", err)
	}

	c := NewRevision(RevBeta5)
	frame, err := c.Encode(Ping{Stamp: 4242})
	if err != nil {
		t.Fatal(err)
	}
	m, err := c.DecodeServer(frame)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Ping{Stamp: 4242}, m); diff != "" {
		t.Errorf("ping diff (-want +got):\n%s", diff)
	}

	frame, _ = c.EncodeClient(Pong{Stamp: 4242})
	m, err = c.Decode(frame)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Pong{Stamp: 4242}, m); diff != "" {
		t.Errorf("pong diff (-want +got):\n%s", diff)
	}
}

func TestDecode_ClientMessages(t *testing.T) {
	c := NewRevision(RevBeta9)
	for _, msg := range []Message{
		Ready{},
		FileRequest{Name: "levels/castle.lxl"},
		FileAck{Bytes: 8192},
		Disconnect{},
	} {
		frame, err := c.EncodeClient(msg)
		if err != nil {
			t.Fatalf("EncodeClient(%T) returned an unexpected error: %v", msg, err)
		}
		got, err := c.Decode(frame)
		if err != nil {
			t.Fatalf("Decode(%T) returned an unexpected error: %v", msg, err)
		}
		if diff := cmp.Diff(msg, got); diff != "" {
			t.Errorf("%T diff (-want +got):\n%s", msg, diff)
		}
	}
}

func TestLeaving(t *testing.T) {
	c := NewRevision(RevBaseline)
	frame, err := c.Encode(Leaving{WormIDs: []int{3, 7}})
	if err != nil {
		t.Fatal(err)
	}
	m, err := c.DecodeServer(frame)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Leaving{WormIDs: []int{3, 7}}, m); diff != "" {
		t.Errorf("leaving diff (-want +got):\n%s", diff)
	}
}

func TestDecode_Errors(t *testing.T) {
	c := NewRevision(RevBeta9)
	tests := []struct {
		name  string
		frame []byte
		want  error
	}{
		{"empty", nil, ErrTruncated},
		{"unknown", []byte{0x7F}, ErrUnknownCommand},
		{"server command", []byte{S2CChatText, 0, 'x', 0}, ErrUnknownCommand},
		{"short shot", []byte{C2SShoot, 1, 2}, ErrTruncated},
		{"unterminated chat", []byte{C2SChatText, 0, 'h', 'i'}, ErrTruncated},
	}
	for _, tt := range tests {
		if _, err := c.Decode(tt.frame); !errors.Is(err, tt.want) {
			t.Errorf("%s: Decode() = %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestEncode_WrongDirection(t *testing.T) {
	c := NewRevision(RevBeta9)
	if _, err := c.Encode(Ready{}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Encode(Ready) = %v, want ErrUnsupported", err)
	}
	if _, err := c.EncodeClient(Ping{}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("EncodeClient(Ping) = %v, want ErrUnsupported", err)
	}
	if _, err := NewRevision(RevBeta7).Encode(Shots{Batch: true, List: []Shot{{}}}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("beta7 multishoot = %v, want ErrUnsupported", err)
	}
}
