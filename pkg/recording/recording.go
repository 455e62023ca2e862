// Package recording implements the optional recording/DVR uploader: one
// goroutine per (rendition, recording) pair that writes init segments,
// media parts, and thumbnails to object storage under canonical keys and
// upserts their row into the database idempotently.
package recording

import (
	"context"
	"fmt"

	coreerrors "github.com/scufflelive/corevideo/pkg/errors"
	"github.com/scufflelive/corevideo/pkg/logger"
	"github.com/scufflelive/corevideo/pkg/objectstore"
)

// TaskKind identifies what a Task instructs the uploader to do.
type TaskKind int

const (
	TaskInit TaskKind = iota
	TaskSegment
	TaskThumbnail
)

// Task is one item of work queued to a rendition's uploader. PartID is the
// opaque part_id minted by the track state machine, carried through so the
// uploaded row can be found later by the edge server's DVR redirect path
// without knowing the part's numeric position.
type Task struct {
	Kind        TaskKind
	PartID      string
	PartIndex   uint32
	SegmentIdx  int64
	Data        []byte
	ContentType string
}

// Uploader owns one rendition's upload queue for one recording. Construct
// with New and run Run in its own goroutine; stop it with Close, then wait
// for Run to return (it drains any tasks already queued before exiting).
// Cancelling ctx does not make Run return; tasks handled after that fail
// and are logged.
type Uploader struct {
	store     objectstore.Client
	db        Recorder
	log       logger.Logger
	recordID  string
	rendition string
	keyPrefix string

	tasks chan Task
}

// Recorder is the subset of database access the uploader needs: an
// idempotent upsert per (recording, rendition, part/segment), plus the
// part_id lookup the edge server's media part handler needs once a part
// has fallen out of the live in-memory track buffer.
type Recorder interface {
	UpsertInit(ctx context.Context, recordingID, rendition, key string) error
	UpsertPart(ctx context.Context, recordingID, rendition string, segmentIdx int64, partIdx uint32, partID, key string, durationSeconds float64) error
	UpsertThumbnail(ctx context.Context, recordingID, rendition string, partIdx uint32, key string) error
	LookupPart(ctx context.Context, recordingID, rendition, partID string) (key string, ok bool, err error)
}

// New builds an Uploader. keyPrefix is typically
// "{org}/{room}/{recordingID}/{rendition}".
func New(store objectstore.Client, db Recorder, log logger.Logger, recordID, rendition, keyPrefix string, queueDepth int) *Uploader {
	return &Uploader{
		store:     store,
		db:        db,
		log:       log,
		recordID:  recordID,
		rendition: rendition,
		keyPrefix: keyPrefix,
		tasks:     make(chan Task, queueDepth),
	}
}

// Enqueue submits a task, blocking if the queue is full (back-pressure
// onto the track state machine feeding it — the spec's bounded-channel
// contract).
func (u *Uploader) Enqueue(ctx context.Context, t Task) error {
	select {
	case u.tasks <- t:
		return nil
	case <-ctx.Done():
		return coreerrors.Wrap(coreerrors.Timeout, "enqueue recording task", ctx.Err())
	}
}

// Close signals no further tasks will be enqueued; Run exits once the
// queue drains.
func (u *Uploader) Close() {
	close(u.tasks)
}

// Run drains the task queue until it is closed, uploading each task and
// upserting its row. A single task's failure is logged and does not stop
// the uploader — later segments for a recording are independently useful
// even if an earlier upload failed.
func (u *Uploader) Run(ctx context.Context) {
	for t := range u.tasks {
		if err := u.handle(ctx, t); err != nil {
			u.log.Error("recording upload failed",
				logger.NewField("recording_id", u.recordID),
				logger.NewField("rendition", u.rendition),
				logger.NewField("error", err.Error()),
			)
		}
	}
}

// LookupPart resolves partID to its object storage key for this uploader's
// recording and rendition, used by the edge server's DVR redirect path
// once a part has aged out of the live track buffer.
func (u *Uploader) LookupPart(ctx context.Context, partID string) (key string, ok bool, err error) {
	return u.db.LookupPart(ctx, u.recordID, u.rendition, partID)
}

func (u *Uploader) handle(ctx context.Context, t Task) error {
	switch t.Kind {
	case TaskInit:
		key := fmt.Sprintf("%s/init.mp4", u.keyPrefix)
		if err := u.store.Put(ctx, key, t.Data, "video/mp4", objectstore.Private); err != nil {
			return err
		}
		return u.db.UpsertInit(ctx, u.recordID, u.rendition, key)

	case TaskSegment:
		key := fmt.Sprintf("%s/%d.mp4", u.keyPrefix, t.SegmentIdx)
		if err := u.store.Put(ctx, key, t.Data, "video/mp4", objectstore.Private); err != nil {
			return err
		}
		return u.db.UpsertPart(ctx, u.recordID, u.rendition, t.SegmentIdx, t.PartIndex, t.PartID, key, 0)

	case TaskThumbnail:
		key := fmt.Sprintf("%s/thumb-%d.jpg", u.keyPrefix, t.PartIndex)
		if err := u.store.Put(ctx, key, t.Data, "image/jpeg", objectstore.Private); err != nil {
			return err
		}
		return u.db.UpsertThumbnail(ctx, u.recordID, u.rendition, t.PartIndex, key)

	default:
		return coreerrors.NewInternalError(fmt.Sprintf("unknown recording task kind %d", t.Kind))
	}
}
