// Package localclient runs the game client hosted inside the server
// process. It speaks to the server over a network.Loopback with the same
// channel and codec a remote client of its version would use, so reliable
// traffic sent to the local slot is acknowledged like any other.
package localclient

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/wormnet-project/wormnet/internal/channel"
	"github.com/wormnet-project/wormnet/internal/netengine"
	"github.com/wormnet-project/wormnet/internal/network"
	"github.com/wormnet-project/wormnet/internal/util"
	"github.com/wormnet-project/wormnet/internal/version"
)

// ErrInboxFull is returned when the server inbox refused a datagram.
var ErrInboxFull = errors.New("server inbox full")

// Client is the in-process game client. It is not safe for concurrent
// use; Run owns it once started.
type Client struct {
	loop   *network.Loopback
	ch     channel.Channel
	codec  netengine.Codec
	logger zerolog.Logger
}

type loopWriter struct{ loop *network.Loopback }

func (w loopWriter) WriteTo(p []byte, _ net.Addr) (int, error) {
	if !w.loop.Send(p) {
		return 0, ErrInboxFull
	}
	return len(p), nil
}

// New creates a client of version v talking through loop.
func New(loop *network.Loopback, v version.Version, cfg channel.Config) *Client {
	return &Client{
		loop:   loop,
		ch:     channel.New(v, network.LoopbackAddr{}, loopWriter{loop}, cfg),
		codec:  netengine.New(v),
		logger: util.ComponentLogger("localclient"),
	}
}

// Send queues m for the server.
func (c *Client) Send(m netengine.Message, reliable bool) error {
	frame, err := c.codec.EncodeClient(m)
	if err != nil {
		return err
	}
	if reliable {
		return c.ch.SendReliable(frame)
	}
	return c.ch.SendUnreliable(frame)
}

// Poll reads what the server sent, returns the decoded messages and
// transmits acknowledgements and queued sends.
func (c *Client) Poll(now time.Time) ([]netengine.Message, error) {
	var msgs []netengine.Message
	for {
		d, ok := c.loop.Recv()
		if !ok {
			break
		}
		if err := c.ch.Process(d, now); err != nil {
			c.logger.Debug().Err(err).Msg("datagram dropped")
			continue
		}
		for {
			frame, ok := c.ch.Receive()
			if !ok {
				break
			}
			m, err := c.codec.DecodeServer(frame)
			if err != nil {
				c.logger.Warn().Err(err).Msg("undecodable frame dropped")
				continue
			}
			msgs = append(msgs, m)
		}
	}
	return msgs, c.ch.Transmit(now)
}

// Run polls every interval until ctx is cancelled.
func (c *Client) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer c.ch.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			msgs, err := c.Poll(now)
			if err != nil {
				c.logger.Warn().Err(err).Msg("transmit failed")
			}
			for _, m := range msgs {
				if chat, ok := m.(netengine.Chat); ok {
					c.logger.Info().Str("text", chat.Text).Msg("chat")
				}
			}
		}
	}
}
