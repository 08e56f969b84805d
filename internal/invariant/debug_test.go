//go:build debug

package invariant

import (
	"strings"
	"testing"
)

func TestFault_PanicsInDebug(t *testing.T) {
	defer func() {
		r := recover()
		msg, ok := r.(string)
		if !ok || !strings.Contains(msg, "slot 3 negotiated twice") {
			t.Fatalf("Fault() recovered %v, want a panic naming the fault", r)
		}
	}()
	Fault("slot %d negotiated twice", 3)
}
