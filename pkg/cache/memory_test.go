package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryStore_SetAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	entry := NewEntry([]byte(`[{"regNo":"20105123001"}]`), time.Hour, false)
	if err := store.Set(ctx, "k", entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got.Data) != string(entry.Data) {
		t.Errorf("Data = %s, want %s", got.Data, entry.Data)
	}
	if got.CacheControl != entry.CacheControl {
		t.Errorf("CacheControl = %q, want %q", got.CacheControl, entry.CacheControl)
	}

	// Mutating the returned copy must not leak into the store.
	got.Data[0] = 'X'
	again, _ := store.Get(ctx, "k")
	if again.Data[0] != '[' {
		t.Error("store returned shared backing array")
	}
}

func TestMemoryStore_Miss(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Get(context.Background(), "absent")
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss, got %v", err)
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Set(ctx, "expired", &Entry{Data: []byte("x"), Expires: time.Now().Add(-time.Minute)}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if store.Len() != 0 {
		t.Error("expired entry should not be stored")
	}

	store.entries["stale"] = &Entry{Data: []byte("x"), Expires: time.Now().Add(-time.Second)}
	if _, err := store.Get(ctx, "stale"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss for stale entry, got %v", err)
	}
	if store.Len() != 0 {
		t.Error("stale entry was not dropped on read")
	}
}

func TestMemoryStore_Sweep(t *testing.T) {
	store := NewMemoryStore()
	store.entries["a"] = &Entry{Expires: time.Now().Add(-time.Second)}
	store.entries["b"] = &Entry{Expires: time.Now().Add(time.Hour)}

	if n := store.Sweep(); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
	if store.Len() != 1 {
		t.Errorf("Len() = %d, want 1", store.Len())
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_ = store.Set(ctx, "k", NewEntry([]byte("x"), time.Hour, false))
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss after Delete, got %v", err)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Errorf("Delete of absent key failed: %v", err)
	}
}

func TestMemoryStore_NilEntry(t *testing.T) {
	if err := NewMemoryStore().Set(context.Background(), "k", nil); err == nil {
		t.Error("Set with nil entry should return error")
	}
}

func TestMemoryStore_ConcurrentWriters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Set(ctx, "same", NewEntry([]byte(`[]`), time.Hour, false))
			_, _ = store.Get(ctx, "same")
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, "same")
	if err != nil || string(got.Data) != `[]` {
		t.Errorf("Get after concurrent writes = %v, %v", got, err)
	}
}
