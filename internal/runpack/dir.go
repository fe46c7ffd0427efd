package runpack

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// DirStore keeps a runpack under a local directory.
type DirStore struct {
	root string
}

// NewDirStore returns a store rooted at root. The directory is created on
// first write.
func NewDirStore(root string) (*DirStore, error) {
	if root == "" {
		return nil, errors.New("runpack: directory is required")
	}
	return &DirStore{root: root}, nil
}

// Root returns the runpack directory.
func (d *DirStore) Root() string {
	return d.root
}

func (d *DirStore) resolve(path string) (string, error) {
	if !fs.ValidPath(path) {
		return "", fmt.Errorf("runpack: invalid artifact path %q", path)
	}
	return filepath.Join(d.root, filepath.FromSlash(path)), nil
}

func (d *DirStore) Write(_ context.Context, path string, data []byte, _ string) error {
	full, err := d.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("runpack: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("runpack: %w", err)
	}
	return nil
}

func (d *DirStore) Read(_ context.Context, path string) ([]byte, error) {
	full, err := d.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrArtifactNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("runpack: %w", err)
	}
	return data, nil
}
