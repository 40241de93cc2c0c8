package attachment

import (
	"context"
	"io"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack"
)

// PebbleBlobStore keeps blobs in a pebble database, keyed by path.
type PebbleBlobStore struct {
	DB      *pebble.DB
	BaseURL string
}

// OpenPebbleBlobStore opens or creates a database in dir. If fs is nil, the OS filesystem is used.
func OpenPebbleBlobStore(dir string, fs vfs.FS, baseURL string) (*PebbleBlobStore, error) {
	options := &pebble.Options{}
	if fs != nil {
		options.FS = fs
	}
	db, err := pebble.Open(dir, options)
	if err != nil {
		return nil, errors.Wrap(err, "error opening blob database")
	}
	return &PebbleBlobStore{
		DB:      db,
		BaseURL: baseURL,
	}, nil
}

func (s *PebbleBlobStore) Put(ctx context.Context, path, contentType string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", errors.Wrap(err, "error reading blob")
	}
	value, err := msgpack.Marshal(&Blob{
		ContentType: contentType,
		Data:        data,
	})
	if err != nil {
		return "", errors.Wrap(err, "error encoding blob")
	}
	if err := s.DB.Set([]byte(path), value, pebble.Sync); err != nil {
		return "", errors.Wrap(err, "error writing blob")
	}
	return FileURL(s.BaseURL, path), nil
}

func (s *PebbleBlobStore) Get(ctx context.Context, path string) (*Blob, error) {
	value, closer, err := s.DB.Get([]byte(path))
	if err == pebble.ErrNotFound {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "error reading blob")
	}
	// value is only valid until closer is closed
	value = append([]byte(nil), value...)
	closer.Close()

	var blob Blob
	if err := msgpack.Unmarshal(value, &blob); err != nil {
		return nil, errors.Wrap(err, "error decoding blob")
	}
	return &blob, nil
}

func (s *PebbleBlobStore) Close() error {
	return s.DB.Close()
}
