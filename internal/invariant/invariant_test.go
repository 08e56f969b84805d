//go:build !debug

package invariant

import "testing"

func TestFault_DoesNotPanicInRelease(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("Fault() panicked: %v", r)
		}
	}()
	Fault("slot %d negotiated twice", 3)
}
