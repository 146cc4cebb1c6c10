package idempotency

import (
	"testing"
	"time"
)

func TestGenerateKey(t *testing.T) {
	ts := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	key1 := GenerateKey("Sarah Johnson", "Wound Care", ts)
	key2 := GenerateKey("Sarah Johnson", "Wound Care", ts)
	key3 := GenerateKey("Sarah Johnson", "Wound Care", ts.Add(time.Second*30))
	key4 := GenerateKey("Michael Chen", "Wound Care", ts)
	key5 := GenerateKey("Sarah Johnson", "Physiotherapy", ts)

	if key1 != key2 {
		t.Error("same inputs should produce same key")
	}
	if key1 != key3 {
		t.Error("keys within same minute should match")
	}
	if key1 == key4 {
		t.Error("different patient should produce different key")
	}
	if key1 == key5 {
		t.Error("different service should produce different key")
	}
}

func TestGenerateKeyNormalizesInput(t *testing.T) {
	ts := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	key1 := GenerateKey("Sarah Johnson", "Wound Care", ts)
	key2 := GenerateKey("  SARAH JOHNSON  ", "wound care", ts)
	if key1 != key2 {
		t.Error("case and surrounding whitespace should not change the key")
	}

	key3 := GenerateKey("Sarah Johnson", "Wound Care", ts.Add(time.Minute))
	if key1 == key3 {
		t.Error("keys a minute apart should differ")
	}
}
