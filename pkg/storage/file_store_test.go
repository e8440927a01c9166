package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestFileStorePutOpenDelete(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	ctx := context.Background()
	key := ObjectKey("doc-1", "Sahih Muslim.pdf")
	if err := fs.Put(ctx, key, strings.NewReader("%PDF-1.4"), 8, "application/pdf"); err != nil {
		t.Fatalf("put: %v", err)
	}
	rc, err := fs.Open(ctx, key)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "%PDF-1.4" {
		t.Fatalf("content = %q", data)
	}
	if err := fs.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := fs.Open(ctx, key); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
	if err := fs.Delete(ctx, key); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
}

func TestFileStoreRejectsEscapingKeys(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	for _, key := range []string{"../etc/passwd", "/abs/path", "", "a/../../b"} {
		if err := fs.Put(context.Background(), key, strings.NewReader("x"), 1, "text/plain"); err == nil {
			t.Fatalf("expected key %q to be rejected", key)
		}
	}
}

func TestObjectKeySanitisesNames(t *testing.T) {
	tests := map[string]string{
		"Sahih Muslim.pdf":   "documents/d/Sahih_Muslim.pdf",
		"..\\..\\evil.docx":  "documents/d/evil.docx",
		"../":                "documents/d/document",
		"تفسير ابن كثير.txt": "documents/d/document.txt",
	}
	for in, want := range tests {
		if got := ObjectKey("d", in); got != want {
			t.Fatalf("ObjectKey(%q) = %q, want %q", in, got, want)
		}
	}
}
