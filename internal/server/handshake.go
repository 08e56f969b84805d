package server

import (
	"math/rand/v2"
	"net"
	"strconv"
	"time"

	"github.com/wormnet-project/wormnet/internal/connection"
	"github.com/wormnet-project/wormnet/internal/events"
	"github.com/wormnet-project/wormnet/internal/protocol"
	"github.com/wormnet-project/wormnet/internal/version"
	"github.com/wormnet-project/wormnet/internal/worm"
)

// Reasons sent with lx::badconnect.
const (
	rejectFull      = "server full"
	rejectVersion   = "bad version"
	rejectChallenge = "bad challenge"
	rejectWorms     = "no free worm slots"
)

// handleConnectionless answers a packet sent outside any channel:
//
//	lx::getchallenge                       -> lx::challenge <n>
//	lx::connect <version> <n> [worm names] -> lx::goodconnection <slot> | lx::badconnect <reason>
//	lx::ping                               -> lx::pong <server name>
func (s *Server) handleConnectionless(addr net.Addr, data []byte, now time.Time) {
	cmd, args, err := protocol.ParseConnectionless(data)
	if err != nil {
		s.logger.Debug().Err(err).Str("remote", addr.String()).Msg("bad connectionless packet")
		return
	}

	switch cmd {
	case protocol.CmdGetChallenge:
		c := challenge{value: rand.Uint32(), issued: now}
		s.challenges[addr.String()] = c
		s.reply(addr, protocol.CmdChallenge, strconv.FormatUint(uint64(c.value), 10))
	case protocol.CmdConnect:
		s.handleConnect(addr, args, now)
	case protocol.CmdPing:
		s.reply(addr, protocol.CmdPong, s.cfg.Name)
	default:
		s.logger.Debug().Str("cmd", cmd).Str("remote", addr.String()).Msg("unknown connectionless command")
	}
}

func (s *Server) handleConnect(addr net.Addr, args []string, now time.Time) {
	if len(args) < 2 {
		s.reply(addr, protocol.CmdBadConnect, rejectVersion)
		return
	}
	v, err := version.Parse(args[0])
	if err != nil {
		s.reply(addr, protocol.CmdBadConnect, rejectVersion)
		return
	}
	c, ok := s.challenges[addr.String()]
	if !ok || strconv.FormatUint(uint64(c.value), 10) != args[1] {
		s.reply(addr, protocol.CmdBadConnect, rejectChallenge)
		return
	}

	// A repeated connect means our reply was lost.
	if conn, ok := s.Connection(addr); ok {
		if conn.Version() == v && conn.State() >= connection.Connected {
			s.acceptChallenge(addr, c, now)
			s.reply(addr, protocol.CmdGoodConnection, strconv.Itoa(conn.Slot()))
			return
		}
		s.Drop(conn, events.ReasonReconnect)
	}

	names := args[2:]
	if len(names) > worm.MaxPlayers {
		names = names[:worm.MaxPlayers]
	}

	conn, err := s.Accept(addr)
	if err != nil {
		s.reply(addr, protocol.CmdBadConnect, rejectFull)
		return
	}
	if err := s.Negotiate(conn, v); err != nil {
		s.Drop(conn, events.ReasonRejected)
		s.reply(addr, protocol.CmdBadConnect, rejectVersion)
		return
	}
	for _, name := range names {
		if _, err := s.SpawnWorm(conn, name); err != nil {
			conn.Logger().Warn().Err(err).Str("worm", name).Msg("cannot spawn worm")
			s.Drop(conn, events.ReasonRejected)
			s.reply(addr, protocol.CmdBadConnect, rejectWorms)
			return
		}
	}
	s.acceptChallenge(addr, c, now)

	conn.Logger().Info().Str("version", v.String()).Msg(s.DebugName(conn) + " is using " + v.String())
	s.reply(addr, protocol.CmdGoodConnection, strconv.Itoa(conn.Slot()))
}

func (s *Server) reply(addr net.Addr, cmd string, args ...string) {
	if _, err := s.writer.WriteTo(protocol.BuildConnectionless(cmd, args...), addr); err != nil {
		s.logger.Warn().Err(err).Str("remote", addr.String()).Str("cmd", cmd).Msg("cannot send reply")
	}
}

func (s *Server) acceptChallenge(addr net.Addr, c challenge, now time.Time) {
	c.accepted, c.issued = true, now
	s.challenges[addr.String()] = c
}

// settleChallenge forgets an accepted challenge once the client speaks on
// its channel.
func (s *Server) settleChallenge(addr net.Addr) {
	if c, ok := s.challenges[addr.String()]; ok && c.accepted {
		delete(s.challenges, addr.String())
	}
}

func (s *Server) expireChallenges(now time.Time) {
	for addr, c := range s.challenges {
		if now.Sub(c.issued) > s.cfg.ChallengeTimeout {
			delete(s.challenges, addr)
		}
	}
}
