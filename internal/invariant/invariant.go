// Package invariant reports internal-consistency faults: conditions that
// only a programming error can produce. Builds tagged debug panic on a
// fault; other builds log it and let the caller continue with its safe
// fallback.
package invariant

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// Fault reports a broken invariant.
func Fault(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if debug {
		panic("invariant violated: " + msg)
	}
	log.Error().Str("component", "invariant").Msg(msg)
}
