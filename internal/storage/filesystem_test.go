package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/DavidJBarnes/wanly-api/internal/domain"
)

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}
	ctx := context.Background()

	ref, err := store.Store(ctx, []byte("frame"), "/job-1/./segments/../last_frame.png")
	if err != nil {
		t.Fatalf("Store error: %v", err)
	}
	if ref != "job-1/last_frame.png" {
		t.Fatalf("ref = %q", ref)
	}
	data, err := store.Fetch(ctx, ref)
	if err != nil || string(data) != "frame" {
		t.Fatalf("Fetch = %q, %v", data, err)
	}
	if _, err := store.Fetch(ctx, "file://job-1/last_frame.png"); err != nil {
		t.Fatalf("Fetch with scheme error: %v", err)
	}

	if err := store.Delete(ctx, ref); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, err := store.Fetch(ctx, ref); !errors.Is(err, ErrObjectNotFound) || !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
	if err := store.Delete(ctx, ref); err != nil {
		t.Fatalf("deleting a missing object should succeed, got %v", err)
	}
}

func TestFileStoreDeletePrefix(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}
	ctx := context.Background()
	for _, key := range []string{"job-1/a.mp4", "job-1/nested/b.png", "job-10/c.mp4"} {
		if _, err := store.Store(ctx, []byte("x"), key); err != nil {
			t.Fatalf("Store(%s) error: %v", key, err)
		}
	}

	n, err := store.DeletePrefix(ctx, "job-1/")
	if err != nil {
		t.Fatalf("DeletePrefix error: %v", err)
	}
	if n != 2 {
		t.Fatalf("deleted %d objects, want 2", n)
	}
	if _, err := store.Fetch(ctx, "job-10/c.mp4"); err != nil {
		t.Fatalf("sibling prefix was removed: %v", err)
	}
	if n, err := store.DeletePrefix(ctx, "missing/"); err != nil || n != 0 {
		t.Fatalf("DeletePrefix(missing) = %d, %v", n, err)
	}
}

func TestSanitizeKeyRejectsTraversal(t *testing.T) {
	for _, key := range []string{"", "  ", "../etc/passwd", "a/../../b", ".", ".."} {
		if _, err := sanitizeKey(key); err == nil {
			t.Fatalf("sanitizeKey(%q) should fail", key)
		}
	}
}

func TestFileStoreRejectsEscapingKeys(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}
	for _, ref := range []string{"", "..", "../etc/passwd", "job-1/../../x"} {
		if _, err := store.Fetch(context.Background(), ref); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("Fetch(%q) error = %v, want validation error", ref, err)
		}
	}
}

func TestContentType(t *testing.T) {
	cases := map[string]string{
		"j/0_output.mp4":     "video/mp4",
		"j/0_last_frame.PNG": "image/png",
		"uploads/face.jpeg":  "image/jpeg",
		"j/model.bin":        "application/octet-stream",
	}
	for key, want := range cases {
		if got := ContentType(key); got != want {
			t.Fatalf("ContentType(%q) = %q, want %q", key, got, want)
		}
	}
}
