package session

import (
	"context"
	"testing"
	"time"
)

func TestHandoffExpired(t *testing.T) {
	now := time.Now()
	h := Handoff{ProviderID: "lumen", InitiatedAt: now.Add(-4 * time.Minute), TTL: 5 * time.Minute}
	if h.Expired(now) {
		t.Error("handoff inside TTL reported expired")
	}
	h.InitiatedAt = now.Add(-6 * time.Minute)
	if !h.Expired(now) {
		t.Error("handoff past TTL not reported expired")
	}
}

func TestMemoryHandoffStore_LastWriterWins(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryHandoffStore()

	if _, ok, err := store.Load(ctx); ok || err != nil {
		t.Fatalf("empty store: ok=%v err=%v", ok, err)
	}

	first := Handoff{ProviderID: "lumen", InitiatedAt: time.Now(), TTL: time.Minute}
	second := Handoff{ProviderID: "pocketsig", InitiatedAt: time.Now(), TTL: time.Minute}
	_ = store.Save(ctx, first)
	_ = store.Save(ctx, second)

	h, ok, err := store.Load(ctx)
	if err != nil || !ok {
		t.Fatalf("Load(): ok=%v err=%v", ok, err)
	}
	if h.ProviderID != "pocketsig" {
		t.Errorf("provider = %s, want pocketsig", h.ProviderID)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	if _, ok, _ := store.Load(ctx); ok {
		t.Error("record survived Clear")
	}
}
