//go:build debug

package connection

import (
	"testing"

	"github.com/wormnet-project/wormnet/internal/version"
)

func TestNegotiate_TwicePanicsInDebug(t *testing.T) {
	c, _, _ := negotiated(t, version.Beta9)
	defer func() {
		if recover() == nil {
			t.Error("second Negotiate() did not panic")
		}
	}()
	c.Negotiate(version.Beta5)
}
