package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileStore implements ObjectStore on the local filesystem under a base
// directory. Keys are slash-separated relative paths.
type FileStore struct {
	basePath string
}

// NewFileStore creates the base directory if missing.
func NewFileStore(basePath string) (*FileStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("storage base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// Put writes r to key, replacing any previous content.
func (f *FileStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	target, err := f.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("commit file: %w", err)
	}
	return nil
}

// Open returns the file stored at key.
func (f *FileStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	target, err := f.resolve(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return file, nil
}

// Delete removes key. Missing files are not an error.
func (f *FileStore) Delete(_ context.Context, key string) error {
	target, err := f.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

func (f *FileStore) resolve(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimSpace(key)))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(f.basePath, clean), nil
}

// ObjectKey builds a storage key for an uploaded document file, keeping a
// sanitised copy of the original name for readability.
func ObjectKey(id, filename string) string {
	name := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	ext := sanitizeName(filepath.Ext(name))
	stem := sanitizeName(strings.TrimSuffix(name, filepath.Ext(name)))
	if stem == "" {
		stem = "document"
	}
	if ext != "" {
		stem += "." + ext
	}
	return "documents/" + id + "/" + stem
}

func sanitizeName(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
	return strings.Trim(s, "_")
}
