// Package objectstore provides the object-store client used by the
// recording uploader and the DVR redirect path in the edge server: put,
// get, and streaming put, all against an S3-compatible backend with
// bounded exponential backoff and a Permanent/Transient error distinction.
package objectstore

import (
	"context"
	"io"
	"time"
)

// Visibility controls the ACL/cache hints applied when an object is
// written. The backend decides how (or whether) to honor it.
type Visibility int

const (
	// Private objects (segments, thumbnails) are only reachable through
	// presigned URLs minted by the edge server.
	Private Visibility = iota
	// Public objects are served with a long-lived cache-control header;
	// currently unused but reserved for a future public-VOD path.
	Public
)

// Config holds the tunables for a Client's retry behavior and backend
// selection.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string // non-empty selects an S3-compatible backend (e.g. MinIO)
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool

	MaxRetries   int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RequestTimeout time.Duration
}

// DefaultConfig returns the tunables the core ships with out of the box.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     5,
		RetryBaseDelay: 200 * time.Millisecond,
		RetryMaxDelay:  8 * time.Second,
		RequestTimeout: 30 * time.Second,
		UsePathStyle:   true,
	}
}

// Sink is a streaming write handle returned by PutStream. Callers write
// bytes as they become available and Close to finalize the upload; Close
// returns the same Permanent/Transient-classified error a Put would.
type Sink interface {
	io.Writer
	Close() error
}

// Client is the object-store surface the recording uploader and the edge
// server's DVR redirect path depend on. Implementations classify every
// failure as Permanent (do not retry) or Transient (caller may retry with
// backoff) via errors.NewStorageError's permanent flag.
type Client interface {
	// Put uploads the full object body in one call.
	Put(ctx context.Context, key string, body []byte, contentType string, vis Visibility) error

	// Get downloads the full object body. Returns a NotFound error if the
	// key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// PutStream opens a sink for incrementally writing an object whose
	// final size isn't known up front (used for in-progress recordings
	// in case of upload retry part way through a segment).
	PutStream(ctx context.Context, key string, contentType string, vis Visibility) (Sink, error)

	// Delete removes an object. Deleting a nonexistent key is not an error.
	Delete(ctx context.Context, key string) error

	// PresignGet returns a time-limited URL for GET access to key, used by
	// the edge server's DVR redirect path.
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}
