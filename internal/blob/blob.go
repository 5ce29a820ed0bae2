// Package blob stores binary objects such as chat attachments.
package blob

import (
	"context"
	"errors"
	"io"
	"time"
)

var ErrNotFound = errors.New("blob not found")

type Object struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	ETag        string    `json:"etag"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists objects by key. Get returns ErrNotFound for unknown keys;
// the caller closes the returned reader.
type Store interface {
	Put(ctx context.Context, key, contentType string, size int64, r io.Reader) (Object, error)
	Get(ctx context.Context, key string) (io.ReadCloser, Object, error)
	Delete(ctx context.Context, key string) error
}
