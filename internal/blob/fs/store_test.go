package fs

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"reqcore/internal/blob/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestPutGetHeadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	payload := `{"solution":"sol-1"}`
	info, err := store.Put(ctx, "baselines/sol-1/20260601T100000.json", strings.NewReader(payload), core.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"solution": "sol-1"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != int64(len(payload)) || info.ContentType != "application/json" {
		t.Fatalf("info = %+v", info)
	}
	if info.ETag == "" {
		t.Fatalf("expected content hash etag")
	}

	got, body, err := store.Get(ctx, "baselines/sol-1/20260601T100000.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	raw, err := io.ReadAll(body)
	_ = body.Close()
	if err != nil || string(raw) != payload {
		t.Fatalf("content = %q, err = %v", raw, err)
	}
	if got.ETag != info.ETag || got.Metadata["solution"] != "sol-1" {
		t.Fatalf("metadata lost on read: %+v", got)
	}

	head, err := store.Head(ctx, "baselines/sol-1/20260601T100000.json")
	if err != nil || head.Size != info.Size {
		t.Fatalf("head = %+v, err = %v", head, err)
	}
}

func TestPutOverwritesExistingKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Put(ctx, "k", strings.NewReader("first"), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	second, err := store.Put(ctx, "k", strings.NewReader("second version"), core.PutOptions{})
	if err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	info, body, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	raw, _ := io.ReadAll(body)
	_ = body.Close()
	if string(raw) != "second version" || info.ETag != second.ETag {
		t.Fatalf("overwrite not visible: %q", raw)
	}
}

func TestDeleteAndNotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Put(ctx, "gone", strings.NewReader("x"), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	existed, err := store.Delete(ctx, "gone")
	if err != nil || !existed {
		t.Fatalf("delete: existed=%v err=%v", existed, err)
	}
	existed, err = store.Delete(ctx, "gone")
	if err != nil || existed {
		t.Fatalf("second delete: existed=%v err=%v", existed, err)
	}
	if _, _, err := store.Get(ctx, "gone"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("get after delete = %v", err)
	}
	if _, err := store.Head(ctx, "gone"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("head after delete = %v", err)
	}
}

func TestListFiltersByPrefix(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"baselines/sol-1/a.json", "baselines/sol-1/b.json", "baselines/sol-2/a.json"} {
		if _, err := store.Put(ctx, key, strings.NewReader(key), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}

	infos, err := store.List(ctx, "baselines/sol-1/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 || infos[0].Key != "baselines/sol-1/a.json" || infos[1].Key != "baselines/sol-1/b.json" {
		t.Fatalf("list = %+v", infos)
	}

	all, err := store.List(ctx, "")
	if err != nil || len(all) != 3 {
		t.Fatalf("full list = %+v, err = %v", all, err)
	}
}

func TestSanitizeKeyRejectsTraversal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"", "   ", "../escape", "a/../../b", "/etc/passwd"} {
		if _, err := store.Put(ctx, key, strings.NewReader("x"), core.PutOptions{}); err == nil {
			t.Errorf("key %q accepted", key)
		}
		if _, _, err := store.Get(ctx, key); err == nil {
			t.Errorf("get with key %q accepted", key)
		}
	}
}
