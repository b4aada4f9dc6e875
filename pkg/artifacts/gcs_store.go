//go:build gcp

package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSStore keeps bundle blobs in a Cloud Storage bucket, one object per
// address.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

var _ Store = (*GCSStore)(nil)

// GCSConfig configures the Cloud Storage backend.
type GCSConfig struct {
	Bucket string
	Prefix string
}

// NewGCSStore builds a client from application default credentials.
func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *GCSStore) object(raw string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.prefix + raw + ".blob")
}

func (s *GCSStore) Put(ctx context.Context, data []byte) (string, error) {
	addr := Address(data)
	obj := s.object(addr[len(AddressPrefix):])

	if _, err := obj.Attrs(ctx); err == nil {
		return addr, nil
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcs write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs commit: %w", err)
	}
	return addr, nil
}

func (s *GCSStore) Get(ctx context.Context, addr string) ([]byte, error) {
	raw, err := parseAddress(addr)
	if err != nil {
		return nil, err
	}

	r, err := s.object(raw).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("gcs get %s: %w", addr, err)
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gcs read %s: %w", addr, err)
	}
	return data, nil
}

func (s *GCSStore) Exists(ctx context.Context, addr string) (bool, error) {
	raw, err := parseAddress(addr)
	if err != nil {
		return false, err
	}

	_, err = s.object(raw).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("gcs attrs %s: %w", addr, err)
}

func (s *GCSStore) Delete(ctx context.Context, addr string) error {
	raw, err := parseAddress(addr)
	if err != nil {
		return err
	}

	if err := s.object(raw).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs delete %s: %w", addr, err)
	}
	return nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
