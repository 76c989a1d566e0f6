package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// DefaultGCSBaseURL is the public host of Cloud Storage objects
const DefaultGCSBaseURL = "https://storage.googleapis.com"

// GCSConfig holds the bucket settings
type GCSConfig struct {
	Bucket    string
	ProjectID string
	Location  string

	// PublicRead grants allUsers read on every uploaded object.
	// Leave it off for buckets with uniform bucket-level access.
	PublicRead bool

	// BaseURL overrides DefaultGCSBaseURL in the returned URLs
	BaseURL string
}

// GCSStore keeps artifacts in a Cloud Storage bucket addressed as <base>/<bucket>/<object>
type GCSStore struct {
	client     *storage.Client
	bucket     *storage.BucketHandle
	config     GCSConfig
	prefix     string
	logger     *slog.Logger
	ownsClient bool
}

// NewGCSStore opens a client with the given options (credentials, endpoint) and binds the bucket
func NewGCSStore(ctx context.Context, cfg GCSConfig, logger *slog.Logger, opts ...option.ClientOption) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	s := newGCSStore(client, cfg, logger)
	s.ownsClient = true
	return s, nil
}

func newGCSStore(client *storage.Client, cfg GCSConfig, logger *slog.Logger) *GCSStore {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultGCSBaseURL
	}

	return &GCSStore{
		client: client,
		bucket: client.Bucket(cfg.Bucket),
		config: cfg,
		prefix: base + "/" + cfg.Bucket + "/",
		logger: logger,
	}
}

// EnsureBucket creates the bucket when it does not exist yet
func (s *GCSStore) EnsureBucket(ctx context.Context) error {
	_, err := s.bucket.Attrs(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("failed to read bucket %s: %w", s.config.Bucket, err)
	}

	if s.config.ProjectID == "" {
		return fmt.Errorf("bucket %s does not exist and no project id is configured to create it", s.config.Bucket)
	}

	if err := s.bucket.Create(ctx, s.config.ProjectID, &storage.BucketAttrs{Location: s.config.Location}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.config.Bucket, err)
	}

	s.logger.Info("Bucket created",
		slog.String("bucket", s.config.Bucket),
		slog.String("location", s.config.Location),
	)
	return nil
}

// URLFor returns the public URL of an object path
func (s *GCSStore) URLFor(objectPath string) string {
	return s.prefix + strings.TrimLeft(path.Clean("/"+objectPath), "/")
}

// Put uploads the object and returns its public URL
func (s *GCSStore) Put(ctx context.Context, objectPath string, r io.Reader, contentType string) (string, error) {
	name, err := objectName(objectPath)
	if err != nil {
		return "", err
	}

	obj := s.bucket.Object(name)
	w := obj.NewWriter(ctx)
	w.ContentType = contentType

	n, err := io.Copy(w, r)
	if closeErr := w.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("failed to upload blob %s: %w", name, err)
	}

	if s.config.PublicRead {
		if err := obj.ACL().Set(ctx, storage.AllUsers, storage.RoleReader); err != nil {
			return "", fmt.Errorf("failed to make blob %s public: %w", name, err)
		}
	}

	s.logger.Debug("Blob stored",
		slog.String("bucket", s.config.Bucket),
		slog.String("path", name),
		slog.String("content_type", contentType),
		slog.Int64("bytes", n),
	)

	return s.URLFor(name), nil
}

// Get opens the object addressed by url
func (s *GCSStore) Get(ctx context.Context, url string) (io.ReadCloser, error) {
	name, err := s.objectFromURL(url)
	if err != nil {
		return nil, err
	}

	rc, err := s.bucket.Object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, url)
		}
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return rc, nil
}

// Delete removes the object addressed by url; deleting a missing object is not an error
func (s *GCSStore) Delete(ctx context.Context, url string) error {
	name, err := s.objectFromURL(url)
	if err != nil {
		return err
	}

	if err := s.bucket.Object(name).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// Close releases the client when the store opened it
func (s *GCSStore) Close() error {
	if !s.ownsClient {
		return nil
	}
	return s.client.Close()
}

func (s *GCSStore) objectFromURL(url string) (string, error) {
	if !strings.HasPrefix(url, s.prefix) {
		return "", fmt.Errorf("%w: %s", ErrForeignURL, url)
	}
	return objectName(strings.TrimPrefix(url, s.prefix))
}

func objectName(objectPath string) (string, error) {
	cleaned := path.Clean("/" + objectPath)
	if cleaned == "/" || strings.Contains(objectPath, "..") {
		return "", fmt.Errorf("invalid object path %q", objectPath)
	}
	return strings.TrimPrefix(cleaned, "/"), nil
}

var _ Store = (*GCSStore)(nil)
