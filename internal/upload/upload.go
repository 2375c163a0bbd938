// Package upload stores attachment files on disk and hands back the
// URI the rest of the system references them by.
package upload

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const urlPrefix = "/uploads/"

type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("upload directory cannot be empty")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}

	return &Store{dir: dir}, nil
}

// Save writes the file contents under a generated name, keeping the
// original extension, and returns the attachment URI.
func (s *Store) Save(filename string, r io.Reader) (string, error) {
	name := uuid.NewString() + sanitizeExt(filename)

	f, err := os.Create(filepath.Join(s.dir, name))
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("write file: %w", err)
	}

	return urlPrefix + name, nil
}

// Dir returns the directory files are stored in, for static serving.
func (s *Store) Dir() string {
	return s.dir
}

func sanitizeExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if len(ext) > 10 || strings.ContainsAny(ext, "/\\") {
		return ""
	}
	return ext
}
