// Package blobstore stores job input and output artifacts and addresses them by public URL.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var (
	// ErrForeignURL is returned for URLs that do not belong to this store
	ErrForeignURL = errors.New("url does not belong to blob store")

	// ErrBlobNotFound is returned when the addressed artifact does not exist
	ErrBlobNotFound = errors.New("blob not found")
)

// Store is the narrow contract the gateway and worker depend on
type Store interface {
	Put(ctx context.Context, objectPath string, r io.Reader, contentType string) (string, error)
	Get(ctx context.Context, url string) (io.ReadCloser, error)
	Delete(ctx context.Context, url string) error
}

// DiskStore keeps artifacts under a root directory shared by the API (which serves it) and the workers.
// It backs local and single-host deployments; GCSStore backs the rest.
type DiskStore struct {
	root    string
	baseURL string
	logger  *slog.Logger
}

// NewDiskStore creates the root directory if needed
func NewDiskStore(root, publicBaseURL string, logger *slog.Logger) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}

	return &DiskStore{
		root:    root,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:  logger,
	}, nil
}

// Root returns the directory backing the store
func (s *DiskStore) Root() string {
	return s.root
}

// URLFor returns the public URL of an object path
func (s *DiskStore) URLFor(objectPath string) string {
	return s.baseURL + "/" + strings.TrimLeft(path.Clean("/"+objectPath), "/")
}

// Put writes the object atomically and returns its public URL
func (s *DiskStore) Put(ctx context.Context, objectPath string, r io.Reader, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dst, err := s.localPath(objectPath)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("failed to create blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create blob: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("failed to write blob %s: %w", objectPath, err)
	}

	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", fmt.Errorf("failed to write blob %s: %w", objectPath, err)
	}

	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("failed to publish blob %s: %w", objectPath, err)
	}

	s.logger.Debug("Blob stored",
		slog.String("path", objectPath),
		slog.String("content_type", contentType),
		slog.Int64("bytes", n),
	)

	return s.URLFor(objectPath), nil
}

// Get opens the object addressed by url
func (s *DiskStore) Get(ctx context.Context, url string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src, err := s.pathFromURL(url)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, url)
		}
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return f, nil
}

// Delete removes the object addressed by url; deleting a missing object is not an error
func (s *DiskStore) Delete(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	target, err := s.pathFromURL(url)
	if err != nil {
		return err
	}

	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}

	// drop the per-job directory once empty
	_ = os.Remove(filepath.Dir(target))

	return nil
}

func (s *DiskStore) pathFromURL(url string) (string, error) {
	prefix := s.baseURL + "/"
	if !strings.HasPrefix(url, prefix) {
		return "", fmt.Errorf("%w: %s", ErrForeignURL, url)
	}
	return s.localPath(strings.TrimPrefix(url, prefix))
}

func (s *DiskStore) localPath(objectPath string) (string, error) {
	name, err := objectName(objectPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(name)), nil
}

var _ Store = (*DiskStore)(nil)
