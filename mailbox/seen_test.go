package mailbox

import (
	"testing"
)

func TestSeenStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()

	s, err := OpenSeenStore(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Contains(42) {
		t.Error("fresh store should be empty")
	}
	if err := s.Add(42); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(42); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(7); err != nil {
		t.Fatal(err)
	}

	// A second open must see what the first one persisted.
	s2, err := OpenSeenStore(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, uid := range []uint32{7, 42} {
		if !s2.Contains(uid) {
			t.Errorf("uid %d lost across reopen", uid)
		}
	}
	if s2.Contains(1) {
		t.Error("unexpected uid present")
	}
}
