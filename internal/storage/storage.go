package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNotFound is returned by Open for a missing blob.
var ErrNotFound = errors.New("storage: blob not found")

// URLFunc turns a storage key into a retrievable URL.
type URLFunc func(key string) (string, error)

// Blob is an opened attachment.
type Blob struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

// AttachmentStore persists attachment bytes under keys scoped by ticket and file id.
type AttachmentStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Open(ctx context.Context, key string) (*Blob, error)
	// Delete removes every key. Missing keys are not an error. The returned
	// error joins one *KeyError per key that could not be removed.
	Delete(ctx context.Context, keys []string) error
	Ping(ctx context.Context) error
}

// KeyError reports a failed operation on a single key.
type KeyError struct {
	Key string
	Err error
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("attachment %s: %v", e.Key, e.Err)
}

func (e *KeyError) Unwrap() error {
	return e.Err
}

// FailedKeys lists the keys named by the KeyErrors inside err.
func FailedKeys(err error) []string {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var keys []string
		for _, inner := range joined.Unwrap() {
			keys = append(keys, FailedKeys(inner)...)
		}
		return keys
	}
	var ke *KeyError
	if errors.As(err, &ke) {
		return []string{ke.Key}
	}
	return nil
}

func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return fmt.Errorf("storage: invalid key %q", key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("storage: invalid key %q", key)
		}
	}
	return nil
}
