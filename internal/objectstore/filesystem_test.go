package objectstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFilesystemStorePutGetDelete(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewFilesystemStore(dir, "http://localhost:8080/v1/objects", nil)
	if err != nil {
		t.Fatalf("NewFilesystemStore failed: %v", err)
	}

	url, err := s.Put(ctx, "imagegen", "job-1.png", []byte("pixels"), "image/png")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	want := "http://localhost:8080/v1/objects/imagegen/job-1.png"
	if url != want {
		t.Errorf("expected url %q, got %q", want, url)
	}

	data, err := s.Get(ctx, "imagegen", "job-1.png")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(data) != "pixels" {
		t.Errorf("expected 'pixels', got %q", data)
	}

	if err := s.Delete(ctx, "imagegen", "job-1.png"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "imagegen", "job-1.png"); err == nil {
		t.Error("expected error reading deleted object")
	}
}

func TestFilesystemStorePrune(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewFilesystemStore(dir, "http://localhost", nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Put(ctx, "audiogen", "old.wav", []byte("a"), "audio/wav"); err != nil {
		t.Fatal(err)
	}
	oldPath := filepath.Join(dir, "audiogen", "old.wav")
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(oldPath, old, old); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Put(ctx, "audiogen", "new.wav", []byte("b"), "audio/wav"); err != nil {
		t.Fatal(err)
	}

	if err := s.Prune(ctx, "audiogen", 24*time.Hour); err != nil {
		t.Fatalf("Prune failed: %v", err)
	}

	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Error("expected old.wav to be pruned")
	}
	if _, err := os.Stat(filepath.Join(dir, "audiogen", "new.wav")); err != nil {
		t.Error("expected new.wav to survive prune")
	}
}
