package cache

import (
	"testing"
	"time"
)

func TestCache_HitAndExpiry(t *testing.T) {
	c := New(50 * time.Millisecond)
	c.Set(Key("rssmra80a01f205x"), []string{"ASST Niguarda"})

	enti, ok := c.Get(Key("RSSMRA80A01F205X"))
	if !ok || len(enti) != 1 {
		t.Fatalf("expected a hit, got %v %v", enti, ok)
	}

	time.Sleep(80 * time.Millisecond)
	if _, ok := c.Get(Key("RSSMRA80A01F205X")); ok {
		t.Error("entry should have expired")
	}
}

func TestCache_Miss(t *testing.T) {
	c := New(time.Hour)
	if _, ok := c.Get(Key("RSSMRA80A01F205X")); ok {
		t.Error("unexpected hit on empty cache")
	}
}

func TestKey_Normalizes(t *testing.T) {
	if Key("  rssmra80a01f205x ") != "RSSMRA80A01F205X" {
		t.Errorf("Key did not normalize: %q", Key("  rssmra80a01f205x "))
	}
}
