package cache

import (
	"errors"
	"io"
	"os"
	"testing"
	"time"
)

func TestPartialSourceFollowsGrowingTempFile(t *testing.T) {
	store := newTestStore(t)
	entry := store.Entry("http://h/growing.mkv")

	writer, err := os.OpenFile(entry.Temp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		t.Fatalf("open temp: %v", err)
	}
	defer writer.Close()

	src := NewPartialSource(entry)
	buf := make([]byte, 16)

	if _, err := src.Read(buf); !errors.Is(err, ErrNotReady) {
		t.Fatalf("empty temp file should report ErrNotReady, got %v", err)
	}

	if _, err := writer.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	n, err := src.Read(buf)
	if err != nil || string(buf[:n]) != "hello" {
		t.Fatalf("expected hello, got %q err=%v", buf[:n], err)
	}
	if src.Cursor() != 5 {
		t.Fatalf("cursor should advance to 5, got %d", src.Cursor())
	}

	if _, err := src.Read(buf); !errors.Is(err, ErrNotReady) {
		t.Fatalf("reader must not run past flushed bytes, got %v", err)
	}

	if _, err := writer.Write([]byte(" world")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := store.Finalize(entry); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	n, err = src.Read(buf)
	if err != nil || string(buf[:n]) != " world" {
		t.Fatalf("expected remaining bytes from final file, got %q err=%v", buf[:n], err)
	}
	if _, err := src.Read(buf); !errors.Is(err, io.EOF) {
		t.Fatalf("zero-length read on final file should be EOF, got %v", err)
	}
}

func TestPartialSourceSeek(t *testing.T) {
	store := newTestStore(t)
	entry := store.Entry("http://h/seek.mp4")
	writeFile(t, entry.Final, "0123456789")

	src := NewPartialSource(entry)
	src.Seek(7)
	buf := make([]byte, 10)
	n, err := src.Read(buf)
	if err != nil || string(buf[:n]) != "789" {
		t.Fatalf("expected 789, got %q err=%v", buf[:n], err)
	}
}

func TestPartialSourceNotFound(t *testing.T) {
	store := newTestStore(t)
	src := NewPartialSource(store.Entry("http://h/absent.mp4"))
	if _, err := src.Read(make([]byte, 4)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPartialSourceEntryEvictedMidRead(t *testing.T) {
	store := newTestStore(t)
	entry := store.Entry("http://h/evicted.mp4")
	writeFile(t, entry.Final, "abcdef")

	src := NewPartialSource(entry)
	buf := make([]byte, 3)
	if _, err := src.Read(buf); err != nil {
		t.Fatalf("first read: %v", err)
	}
	if err := store.Remove(entry.Final); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := src.Read(buf); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after eviction, got %v", err)
	}
}

func TestPartialSourceTouchRefreshesBackingFile(t *testing.T) {
	store := newTestStore(t)
	entry := store.Entry("http://h/touched.mp4")
	if err := os.WriteFile(entry.Final, []byte("data"), 0o644); err != nil {
		t.Fatalf("write final: %v", err)
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(entry.Final, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	if err := NewPartialSource(entry).Touch(); err != nil {
		t.Fatalf("touch: %v", err)
	}
	info, err := os.Stat(entry.Final)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if !info.ModTime().After(old.Add(time.Hour)) {
		t.Fatalf("access time should be refreshed, got %v", info.ModTime())
	}

	missing := NewPartialSource(store.Entry("http://h/none.mp4"))
	if err := missing.Touch(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
