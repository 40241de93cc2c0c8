// Package attachment stores file attachments in blob storage and hands back references to them.
package attachment

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// BlobStore persists blobs. Put returns a URL from which the blob can be read back.
type BlobStore interface {
	Put(ctx context.Context, path, contentType string, r io.Reader) (string, error)
}

// BlobReader is implemented by blob stores that can serve their contents.
type BlobReader interface {
	// Get returns nil if there is no blob at the path.
	Get(ctx context.Context, path string) (*Blob, error)
}

type Blob struct {
	ContentType string
	Data        []byte
}

// FileURL returns the URL of the blob at path when served under baseURL.
func FileURL(baseURL, path string) string {
	return strings.TrimSuffix(baseURL, "/") + "/files/" + path
}

// MemoryBlobStore keeps blobs in memory.
type MemoryBlobStore struct {
	// BaseURL is the prefix of returned URLs.
	BaseURL string

	mutex sync.Mutex
	blobs map[string]*Blob
}

func NewMemoryBlobStore(baseURL string) *MemoryBlobStore {
	return &MemoryBlobStore{
		BaseURL: baseURL,
		blobs:   map[string]*Blob{},
	}
}

func (s *MemoryBlobStore) Put(ctx context.Context, path, contentType string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", errors.Wrap(err, "error reading blob")
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.blobs == nil {
		s.blobs = map[string]*Blob{}
	}
	s.blobs[path] = &Blob{
		ContentType: contentType,
		Data:        data,
	}
	return FileURL(s.BaseURL, path), nil
}

func (s *MemoryBlobStore) Get(ctx context.Context, path string) (*Blob, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.blobs[path], nil
}

// Len returns the number of stored blobs.
func (s *MemoryBlobStore) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.blobs)
}
