package objectstore

import (
	"context"
	"errors"
	"testing"
	"time"

	coreerrors "github.com/scufflelive/corevideo/pkg/errors"
)

func TestNormalizeKey(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"/foo/bar", "foo/bar"},
		{"foo/bar", "foo/bar"},
		{"/", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := normalizeKey(c.in); got != c.want {
			t.Errorf("normalizeKey(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestWithRetryStopsOnPermanent(t *testing.T) {
	c := &S3Client{cfg: Config{MaxRetries: 5, RetryBaseDelay: time.Millisecond, RetryMaxDelay: time.Millisecond}}
	attempts := 0
	err := c.withRetry(context.Background(), func() error {
		attempts++
		return coreerrors.NewStorageError("denied", errors.New("403"), true)
	})
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt for a permanent error, got %d", attempts)
	}
	if !coreerrors.Is(err, coreerrors.Storage) {
		t.Fatalf("expected a storage error, got %v", err)
	}
}

func TestWithRetryRetriesTransient(t *testing.T) {
	c := &S3Client{cfg: Config{MaxRetries: 3, RetryBaseDelay: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond}}
	attempts := 0
	err := c.withRetry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return coreerrors.NewStorageError("reset", errors.New("conn reset"), false)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestWithRetryExhausts(t *testing.T) {
	c := &S3Client{cfg: Config{MaxRetries: 2, RetryBaseDelay: time.Millisecond, RetryMaxDelay: time.Millisecond}}
	attempts := 0
	err := c.withRetry(context.Background(), func() error {
		attempts++
		return coreerrors.NewStorageError("down", errors.New("timeout"), false)
	})
	if attempts != 3 {
		t.Fatalf("expected MaxRetries+1 = 3 attempts, got %d", attempts)
	}
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
}

func TestWithRetryCancelledContext(t *testing.T) {
	c := &S3Client{cfg: Config{MaxRetries: 5, RetryBaseDelay: time.Second, RetryMaxDelay: time.Second}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	attempts := 0
	err := c.withRetry(ctx, func() error {
		attempts++
		return coreerrors.NewStorageError("down", errors.New("timeout"), false)
	})
	if attempts != 1 {
		t.Fatalf("expected retry loop to stop after cancellation, got %d attempts", attempts)
	}
	if err == nil {
		t.Fatal("expected an error")
	}
}
