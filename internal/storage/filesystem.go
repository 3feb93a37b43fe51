package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/natefinch/atomic"
)

// FilesystemStore keeps attachments below a root directory.
type FilesystemStore struct {
	root string
	url  URLFunc
}

// NewFilesystemStore creates root if needed.
func NewFilesystemStore(root string, url URLFunc) (*FilesystemStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", root, err)
	}
	return &FilesystemStore{root: root, url: url}, nil
}

func (s *FilesystemStore) path(key string) (string, error) {
	if err := validKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

func (s *FilesystemStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return "", err
	}
	// atomic.WriteFile leaves temp-file permissions on new files
	if err := os.Chmod(path, 0o644); err != nil {
		return "", err
	}
	return s.url(key)
}

func (s *FilesystemStore) Open(ctx context.Context, key string) (*Blob, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Seek(0, 0); err != nil {
		f.Close()
		return nil, err
	}
	return &Blob{Body: f, ContentType: mtype.String(), Size: info.Size()}, nil
}

func (s *FilesystemStore) Delete(ctx context.Context, keys []string) error {
	var errs []error
	dirs := map[string]struct{}{}
	for _, key := range keys {
		path, err := s.path(key)
		if err == nil {
			err = os.Remove(path)
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, &KeyError{Key: key, Err: err})
			continue
		}
		dirs[filepath.Dir(path)] = struct{}{}
	}
	for dir := range dirs {
		if dir != s.root {
			_ = os.Remove(dir) // only succeeds once the ticket directory is empty
		}
	}
	return errors.Join(errs...)
}

func (s *FilesystemStore) Ping(ctx context.Context) error {
	_, err := os.Stat(s.root)
	return err
}
