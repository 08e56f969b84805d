// Package protocol implements the low-level wire primitives shared by the
// channel and codec layers: little-endian packet builders and readers, and
// the connectionless command packets exchanged before a client has a
// channel. All multi-byte values are little-endian.
package protocol

import "errors"

// MaxDatagramSize is the largest datagram the server sends or accepts.
const MaxDatagramSize = 4096

// ConnectionlessHeader prefixes every packet sent outside a channel.
var ConnectionlessHeader = [4]byte{0xFF, 0xFF, 0xFF, 0xFF}

// Connectionless commands. Arguments follow the command separated by
// spaces; the whole command is a null-terminated string.
const (
	CmdGetChallenge   = "lx::getchallenge"
	CmdChallenge      = "lx::challenge"
	CmdConnect        = "lx::connect"
	CmdGoodConnection = "lx::goodconnection"
	CmdBadConnect     = "lx::badconnect"
	CmdPing           = "lx::ping"
	CmdPong           = "lx::pong"
)

// ErrTruncated is returned when a packet ends before a field is complete.
var ErrTruncated = errors.New("packet truncated")

// IsConnectionless reports whether data starts with ConnectionlessHeader.
func IsConnectionless(data []byte) bool {
	if len(data) < len(ConnectionlessHeader) {
		return false
	}
	for i, b := range ConnectionlessHeader {
		if data[i] != b {
			return false
		}
	}
	return true
}
