package recording

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/scufflelive/corevideo/pkg/logger"
	"github.com/scufflelive/corevideo/pkg/objectstore"
)

type fakeStore struct {
	mu   sync.Mutex
	puts map[string][]byte
}

func newFakeStore() *fakeStore { return &fakeStore{puts: map[string][]byte{}} }

func (f *fakeStore) Put(ctx context.Context, key string, body []byte, contentType string, vis objectstore.Visibility) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts[key] = body
	return nil
}
func (f *fakeStore) Get(ctx context.Context, key string) ([]byte, error) { return nil, nil }
func (f *fakeStore) PutStream(ctx context.Context, key string, contentType string, vis objectstore.Visibility) (objectstore.Sink, error) {
	return nil, nil
}
func (f *fakeStore) Delete(ctx context.Context, key string) error { return nil }
func (f *fakeStore) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "", nil
}

type fakeRecorder struct {
	mu     sync.Mutex
	inits  int
	parts  int
	thumbs int
}

func (f *fakeRecorder) UpsertInit(ctx context.Context, recordingID, rendition, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits++
	return nil
}
func (f *fakeRecorder) UpsertPart(ctx context.Context, recordingID, rendition string, segmentIdx int64, partIdx uint32, partID, key string, durationSeconds float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parts++
	return nil
}
func (f *fakeRecorder) UpsertThumbnail(ctx context.Context, recordingID, rendition string, partIdx uint32, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.thumbs++
	return nil
}
func (f *fakeRecorder) LookupPart(ctx context.Context, recordingID, rendition, partID string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return "", false, nil
}

func TestUploaderProcessesAllTaskKinds(t *testing.T) {
	store := newFakeStore()
	rec := &fakeRecorder{}
	u := New(store, rec, logger.NewDefaultLogger(logger.ErrorLevel, "text"), "rec-1", "720p", "org/room/rec-1/720p", 8)

	ctx := context.Background()
	go u.Run(ctx)

	if err := u.Enqueue(ctx, Task{Kind: TaskInit, Data: []byte("moov")}); err != nil {
		t.Fatalf("enqueue init: %v", err)
	}
	if err := u.Enqueue(ctx, Task{Kind: TaskSegment, SegmentIdx: 1, PartIndex: 2, Data: []byte("frag")}); err != nil {
		t.Fatalf("enqueue segment: %v", err)
	}
	if err := u.Enqueue(ctx, Task{Kind: TaskThumbnail, PartIndex: 2, Data: []byte("jpg")}); err != nil {
		t.Fatalf("enqueue thumbnail: %v", err)
	}
	u.Close()

	deadline := time.After(time.Second)
	for {
		rec.mu.Lock()
		done := rec.inits == 1 && rec.parts == 1 && rec.thumbs == 1
		rec.mu.Unlock()
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatal("uploader did not process all tasks in time")
		case <-time.After(time.Millisecond):
		}
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.puts) != 3 {
		t.Fatalf("expected 3 objects uploaded, got %d", len(store.puts))
	}
}
