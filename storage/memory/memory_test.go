package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/jmcleod/hivekeeper/storage"
)

func TestMemoryBackend(t *testing.T) {
	ctx := context.Background()
	b := NewBackend()

	t.Run("PutGet", func(t *testing.T) {
		if err := b.Put(ctx, "userkey_alice", []byte("v1")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		got, err := b.Get(ctx, "userkey_alice")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(got) != "v1" {
			t.Errorf("expected v1, got %q", got)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		if err := b.Put(ctx, "userkey_alice", []byte("v2")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		got, _ := b.Get(ctx, "userkey_alice")
		if string(got) != "v2" {
			t.Errorf("expected v2, got %q", got)
		}
	})

	t.Run("Isolation", func(t *testing.T) {
		got, _ := b.Get(ctx, "userkey_alice")
		got[0] = 'X'
		again, _ := b.Get(ctx, "userkey_alice")
		if string(again) != "v2" {
			t.Errorf("caller mutation leaked into backend: %q", again)
		}
	})

	t.Run("List", func(t *testing.T) {
		b.Put(ctx, "userkey_bob", []byte("x"))
		b.Put(ctx, "device_secret", []byte("y"))
		keys, err := b.List(ctx, "userkey_")
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(keys) != 2 || keys[0] != "userkey_alice" || keys[1] != "userkey_bob" {
			t.Errorf("unexpected keys %v", keys)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := b.Get(ctx, "userkey_nobody")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("DeleteIdempotent", func(t *testing.T) {
		if err := b.Delete(ctx, "userkey_bob"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if err := b.Delete(ctx, "userkey_bob"); err != nil {
			t.Fatalf("second Delete failed: %v", err)
		}
		if _, err := b.Get(ctx, "userkey_bob"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
	})

	t.Run("CanceledContext", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if err := b.Put(cctx, "k", nil); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}
