package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/stoik/email-risk/internal/ports"
)

// FileStore reads artifacts from a directory. A key maps to a file of the
// same name; "<key>.version" holds its version. Without one, the version is
// a content hash so a changed file is still distinguishable.
type FileStore struct {
	dir string
}

// NewFileStore creates a store rooted at dir
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Get reads the artifact file for key
func (s *FileStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	path, err := s.path(key)
	if err != nil {
		return nil, "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", fmt.Errorf("%w: %s", ports.ErrArtifactNotFound, key)
		}
		return nil, "", fmt.Errorf("failed to read artifact %s: %w", key, err)
	}

	if v, err := os.ReadFile(path + ".version"); err == nil {
		if version := strings.TrimSpace(string(v)); version != "" {
			return data, version, nil
		}
	}

	hash := sha256.Sum256(data)
	return data, "sha256:" + hex.EncodeToString(hash[:])[:16], nil
}

// Put writes an artifact and, when given, its version file
func (s *FileStore) Put(ctx context.Context, key string, data []byte, version string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	// Write then rename so a concurrent Get never sees a truncated file
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write artifact %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to publish artifact %s: %w", key, err)
	}

	if version == "" {
		_ = os.Remove(path + ".version")
		return nil
	}
	if err := os.WriteFile(path+".version", []byte(version), 0644); err != nil {
		return fmt.Errorf("failed to write version for %s: %w", key, err)
	}
	return nil
}

func (s *FileStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid artifact key %q", key)
	}
	return filepath.Join(s.dir, clean), nil
}
