package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LocalDisk saves uploaded files to disk under a base directory.
type LocalDisk struct {
	basePath string
}

// NewLocalDisk creates the base directory if missing.
func NewLocalDisk(basePath string) (*LocalDisk, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("storage base path is required")
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &LocalDisk{basePath: abs}, nil
}

func (l *LocalDisk) Kind() string { return KindLocal }

// Save writes the upload under a random name and returns its path as the
// location. Partially written files are removed on failure.
func (l *LocalDisk) Save(_ context.Context, up Upload) (Object, error) {
	ext := Extension(up.Filename)
	storedName := uuid.NewString()
	if ext != "" {
		storedName += "." + ext
	}
	target := filepath.Join(l.basePath, storedName)

	out, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return Object{}, fmt.Errorf("create file: %w", err)
	}
	written, err := io.Copy(out, up.Body)
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(target)
		return Object{}, fmt.Errorf("write file: %w", err)
	}
	return Object{
		StoredName:   storedName,
		Location:     target,
		Format:       ext,
		ContentType:  up.ContentType,
		Size:         written,
		ResourceType: ResourceTypeFor(ext),
	}, nil
}

// Delete removes a stored file. A missing file is not an error.
func (l *LocalDisk) Delete(location string) error {
	path, err := l.Resolve(location)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

// Resolve turns a stored location into a filesystem path. Bare names are
// resolved against the base directory.
func (l *LocalDisk) Resolve(location string) (string, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return "", fmt.Errorf("empty file location")
	}
	if !filepath.IsAbs(location) {
		location = filepath.Join(l.basePath, filepath.Base(location))
	}
	return filepath.Clean(location), nil
}
