package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"reqcore/internal/blob/core"
)

func TestStoreIsolatesStoredBytes(t *testing.T) {
	store := New()
	ctx := context.Background()

	meta := map[string]string{"solution": "sol-1"}
	if _, err := store.Put(ctx, "k", strings.NewReader("payload"), core.PutOptions{Metadata: meta}); err != nil {
		t.Fatalf("put: %v", err)
	}
	// Mutating the caller's metadata map after Put must not leak into the store.
	meta["solution"] = "tampered"

	info, body, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	raw, _ := io.ReadAll(body)
	_ = body.Close()
	if string(raw) != "payload" || info.Metadata["solution"] != "sol-1" {
		t.Fatalf("got %q with metadata %v", raw, info.Metadata)
	}

	existed, err := store.Delete(ctx, "k")
	if err != nil || !existed {
		t.Fatalf("delete: existed=%v err=%v", existed, err)
	}
	if _, err := store.Head(ctx, "k"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("head after delete = %v", err)
	}
}

func TestListSortsByKey(t *testing.T) {
	store := New()
	ctx := context.Background()
	for _, key := range []string{"b", "a", "c/nested"} {
		if _, err := store.Put(ctx, key, strings.NewReader(key), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	infos, err := store.List(ctx, "")
	if err != nil || len(infos) != 3 {
		t.Fatalf("list = %+v, err = %v", infos, err)
	}
	if infos[0].Key != "a" || infos[1].Key != "b" || infos[2].Key != "c/nested" {
		t.Fatalf("unsorted list: %+v", infos)
	}
}
