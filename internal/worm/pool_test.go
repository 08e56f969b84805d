package worm

import (
	"errors"
	"testing"
)

func TestPool_SpawnLookupRelease(t *testing.T) {
	p := NewPool()
	w, err := p.Spawn("Alpha")
	if err != nil {
		t.Fatalf("Spawn() returned an unexpected error: %v", err)
	}
	if w.ID != 0 || w.Name != "Alpha" {
		t.Errorf("Spawn() = %+v", w)
	}

	got, err := p.Lookup(w.Handle)
	if err != nil || got != w {
		t.Fatalf("Lookup() = %v, %v", got, err)
	}

	if err := p.Release(w.Handle); err != nil {
		t.Fatalf("Release() returned an unexpected error: %v", err)
	}
	if _, err := p.Lookup(w.Handle); !errors.Is(err, ErrStaleHandle) {
		t.Errorf("Lookup() after Release = %v, want ErrStaleHandle", err)
	}
	if err := p.Release(w.Handle); !errors.Is(err, ErrStaleHandle) {
		t.Errorf("second Release() = %v, want ErrStaleHandle", err)
	}
}

func TestPool_ReusedSlotInvalidatesOldHandle(t *testing.T) {
	p := NewPool()
	first, _ := p.Spawn("Alpha")
	if err := p.Release(first.Handle); err != nil {
		t.Fatal(err)
	}
	second, err := p.Spawn("Beta")
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Fatalf("second worm took slot %d, want %d", second.ID, first.ID)
	}
	if second.Handle == first.Handle {
		t.Fatal("reused slot produced the same handle")
	}
	if _, err := p.Lookup(first.Handle); !errors.Is(err, ErrStaleHandle) {
		t.Errorf("Lookup(old handle) = %v, want ErrStaleHandle", err)
	}
	if w, ok := p.ByID(first.ID); !ok || w != second {
		t.Errorf("ByID() = %v, %v, want second worm", w, ok)
	}
}

func TestPool_Full(t *testing.T) {
	p := NewPool()
	for i := 0; i < MaxPlayers; i++ {
		if _, err := p.Spawn("w"); err != nil {
			t.Fatalf("Spawn(%d) returned an unexpected error: %v", i, err)
		}
	}
	if _, err := p.Spawn("extra"); !errors.Is(err, ErrPoolFull) {
		t.Errorf("Spawn() on full pool = %v, want ErrPoolFull", err)
	}
	if p.Count() != MaxPlayers {
		t.Errorf("Count() = %d, want %d", p.Count(), MaxPlayers)
	}
}

func TestLookup_ZeroAndOutOfRange(t *testing.T) {
	p := NewPool()
	p.Spawn("Alpha")
	for _, h := range []Handle{{}, {Index: -1, Gen: 1}, {Index: MaxPlayers, Gen: 1}} {
		if _, err := p.Lookup(h); !errors.Is(err, ErrStaleHandle) {
			t.Errorf("Lookup(%v) = %v, want ErrStaleHandle", h, err)
		}
	}
}
