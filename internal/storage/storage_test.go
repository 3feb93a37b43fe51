package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testURL(key string) (string, error) {
	return "/files/" + key, nil
}

func runStoreTests(t *testing.T, store AttachmentStore) {
	ctx := context.Background()
	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)

	url, err := store.Put(ctx, "t1/f1-photo.png", png, "image/png")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if url != "/files/t1/f1-photo.png" {
		t.Errorf("unexpected url %q", url)
	}

	blob, err := store.Open(ctx, "t1/f1-photo.png")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data, _ := io.ReadAll(blob.Body)
	blob.Body.Close()
	if string(data) != string(png) {
		t.Error("blob content changed")
	}
	if blob.ContentType != "image/png" {
		t.Errorf("content type = %q", blob.ContentType)
	}
	if blob.Size != int64(len(png)) {
		t.Errorf("size = %d", blob.Size)
	}

	if _, err := store.Put(ctx, "t1/f2-notes.txt", []byte("hello"), "text/plain"); err != nil {
		t.Fatalf("put second: %v", err)
	}
	if err := store.Delete(ctx, []string{"t1/f1-photo.png", "t1/f2-notes.txt", "t1/missing"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Open(ctx, "t1/f1-photo.png"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	for _, key := range []string{"", "/etc/passwd", "t1/../../x", `t1\x`} {
		if _, err := store.Put(ctx, key, []byte("x"), "text/plain"); err == nil {
			t.Errorf("expected invalid key %q to be rejected", key)
		}
	}
}

func TestFilesystemStore(t *testing.T) {
	root := filepath.Join(t.TempDir(), "uploads")
	store, err := NewFilesystemStore(root, testURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	runStoreTests(t, store)

	if _, err := os.Stat(filepath.Join(root, "t1")); !os.IsNotExist(err) {
		t.Errorf("expected empty ticket directory to be removed, got %v", err)
	}
}

func TestRedisBlobStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	runStoreTests(t, NewRedisBlobStore(client, "test", testURL))
}

func TestFailedKeys(t *testing.T) {
	err := errors.Join(
		&KeyError{Key: "a", Err: errors.New("denied")},
		&KeyError{Key: "b", Err: errors.New("denied")},
	)
	if got := strings.Join(FailedKeys(err), ","); got != "a,b" {
		t.Errorf("FailedKeys = %q", got)
	}
	if FailedKeys(nil) != nil {
		t.Error("expected nil for nil error")
	}
}
