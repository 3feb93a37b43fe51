package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisBlobStore keeps attachments in Redis hashes, one per key.
type RedisBlobStore struct {
	client *redis.Client
	prefix string
	url    URLFunc
}

// NewRedisBlobStore builds a store on an existing client.
func NewRedisBlobStore(client *redis.Client, prefix string, url URLFunc) *RedisBlobStore {
	if prefix == "" {
		prefix = "ticketkp"
	}
	return &RedisBlobStore{client: client, prefix: prefix, url: url}
}

func (s *RedisBlobStore) blobKey(key string) string {
	return s.prefix + ":file:" + key
}

func (s *RedisBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := validKey(key); err != nil {
		return "", err
	}
	err := s.client.HSet(ctx, s.blobKey(key),
		"data", data,
		"type", contentType,
		"size", len(data),
	).Err()
	if err != nil {
		return "", err
	}
	return s.url(key)
}

func (s *RedisBlobStore) Open(ctx context.Context, key string) (*Blob, error) {
	fields, err := s.client.HGetAll(ctx, s.blobKey(key)).Result()
	if err != nil {
		return nil, err
	}
	data, ok := fields["data"]
	if !ok {
		return nil, ErrNotFound
	}
	size, err := strconv.ParseInt(fields["size"], 10, 64)
	if err != nil {
		size = int64(len(data))
	}
	return &Blob{
		Body:        io.NopCloser(bytes.NewReader([]byte(data))),
		ContentType: fields["type"],
		Size:        size,
	}, nil
}

func (s *RedisBlobStore) Delete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	cmds := make([]*redis.IntCmd, len(keys))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = pipe.Del(ctx, s.blobKey(key))
		}
		return nil
	})
	var errs []error
	for i, cmd := range cmds {
		if cmd.Err() != nil {
			errs = append(errs, &KeyError{Key: keys[i], Err: cmd.Err()})
		}
	}
	if len(errs) == 0 && err != nil {
		return err
	}
	return errors.Join(errs...)
}

func (s *RedisBlobStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
