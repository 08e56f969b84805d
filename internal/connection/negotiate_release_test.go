//go:build !debug

package connection

import (
	"errors"
	"testing"

	"github.com/wormnet-project/wormnet/internal/version"
)

func TestNegotiate_TwiceIsRejected(t *testing.T) {
	c, _, _ := negotiated(t, version.Beta9)
	ch := c.Channel()

	if err := c.Negotiate(version.Beta5); !errors.Is(err, ErrAlreadyNegotiated) {
		t.Fatalf("second Negotiate() = %v, want ErrAlreadyNegotiated", err)
	}
	if c.Channel() != ch || c.Version() != version.Beta9 {
		t.Error("rejected Negotiate() changed the channel or version")
	}
}
