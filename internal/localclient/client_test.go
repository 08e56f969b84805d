package localclient

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/wormnet-project/wormnet/internal/channel"
	"github.com/wormnet-project/wormnet/internal/netengine"
	"github.com/wormnet-project/wormnet/internal/network"
	"github.com/wormnet-project/wormnet/internal/version"
)

func TestClient_ExchangesMessages(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	inbox := network.NewInbox(16)
	loop := network.NewLoopback(inbox)
	server := channel.New(version.Beta9, network.LoopbackAddr{}, loop, channel.DefaultConfig())
	codec := netengine.New(version.Beta9)
	c := New(loop, version.Beta9, channel.DefaultConfig())

	frame, err := codec.Encode(netengine.Chat{Text: "welcome"})
	if err != nil {
		t.Fatal(err)
	}
	if err := server.SendReliable(frame); err != nil {
		t.Fatal(err)
	}
	if err := server.Transmit(now); err != nil {
		t.Fatal(err)
	}

	if err := c.Send(netengine.ClientChat{Text: "hi"}, true); err != nil {
		t.Fatal(err)
	}
	msgs, err := c.Poll(now)
	if err != nil {
		t.Fatalf("Poll() returned an unexpected error: %v", err)
	}
	if diff := cmp.Diff([]netengine.Message{netengine.Chat{Text: "welcome"}}, msgs); diff != "" {
		t.Errorf("Poll() messages (-want +got):\n%s", diff)
	}

	var got []netengine.Message
	for {
		var d network.Datagram
		select {
		case d = <-inbox.C():
		default:
		}
		if d.Data == nil {
			break
		}
		if !network.IsLoopback(d.Addr) {
			t.Errorf("datagram from %v, want loopback", d.Addr)
		}
		if err := server.Process(d.Data, now); err != nil {
			t.Fatal(err)
		}
		for {
			frame, ok := server.Receive()
			if !ok {
				break
			}
			m, err := codec.Decode(frame)
			if err != nil {
				t.Fatal(err)
			}
			got = append(got, m)
		}
	}
	if diff := cmp.Diff([]netengine.Message{netengine.ClientChat{Text: "hi"}}, got); diff != "" {
		t.Errorf("server received (-want +got):\n%s", diff)
	}

	// The client acknowledged the welcome, so nothing is left to resend.
	if err := server.Transmit(now.Add(20 * time.Second)); err != nil {
		t.Errorf("Transmit() after ack = %v, want nil", err)
	}
}
