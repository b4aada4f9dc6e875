// Package artifacts archives exported verification bundles in
// content-addressed storage. Blobs are named by their SHA-256 digest, so
// re-archiving identical content is a no-op and any fetched blob can be
// checked against its own address.
package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// AddressPrefix tags every blob address with the digest algorithm.
const AddressPrefix = "sha256:"

// ErrNotFound reports a blob absent from the store.
var ErrNotFound = errors.New("artifacts: blob not found")

// Store is content-addressed blob storage for exported bundles. Put returns
// the address of the stored bytes; storing the same bytes twice returns the
// same address without rewriting.
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, addr string) ([]byte, error)
	Exists(ctx context.Context, addr string) (bool, error)
	Delete(ctx context.Context, addr string) error
}

// Address computes the content address of data.
func Address(data []byte) string {
	sum := sha256.Sum256(data)
	return AddressPrefix + hex.EncodeToString(sum[:])
}

// parseAddress validates "sha256:<hex>" and returns the bare digest.
func parseAddress(addr string) (string, error) {
	raw, ok := strings.CutPrefix(addr, AddressPrefix)
	if !ok {
		return "", fmt.Errorf("invalid blob address %q", addr)
	}
	if len(raw) != sha256.Size*2 {
		return "", fmt.Errorf("invalid blob address %q: digest must be %d hex chars", addr, sha256.Size*2)
	}
	if _, err := hex.DecodeString(raw); err != nil {
		return "", fmt.Errorf("invalid blob address %q: %w", addr, err)
	}
	return raw, nil
}

// FileStore keeps blobs as flat files under a base directory, one file per
// address.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates the base directory if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure archive dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) pathFor(raw string) string {
	return filepath.Join(s.baseDir, raw+".blob")
}

func (s *FileStore) Put(ctx context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr := Address(data)
	path := s.pathFor(addr[len(AddressPrefix):])
	if _, err := os.Stat(path); err == nil {
		return addr, nil
	}

	// Write a sibling temp file, then rename so readers never observe a
	// partial blob.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("commit blob: %w", err)
	}
	return addr, nil
}

func (s *FileStore) Get(ctx context.Context, addr string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := parseAddress(addr)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.pathFor(raw))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

func (s *FileStore) Exists(ctx context.Context, addr string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := parseAddress(addr)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(s.pathFor(raw))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat blob: %w", err)
}

func (s *FileStore) Delete(ctx context.Context, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := parseAddress(addr)
	if err != nil {
		return err
	}
	if err := os.Remove(s.pathFor(raw)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}
