package recording

import (
	"context"
	"database/sql"
	"errors"

	"github.com/scufflelive/corevideo/pkg/database"
)

// SQLRecorder is the database-backed Recorder: idempotent upserts against
// Postgres tables keyed so that replaying the same task (after an uploader
// crash/restart) is a no-op rather than a duplicate row, plus the
// part_id-keyed lookup the edge server's DVR redirect path needs once a
// part has aged out of the live track buffer.
type SQLRecorder struct {
	pool *database.DBPool
}

// NewSQLRecorder wraps pool as a Recorder. Writes go to the master
// connection; the part lookup used on the DVR read path goes to a
// replica, since a stale-by-one-commit read only costs an extra live-buffer
// check before falling back to object storage.
func NewSQLRecorder(pool *database.DBPool) *SQLRecorder {
	return &SQLRecorder{pool: pool}
}

func (r *SQLRecorder) UpsertInit(ctx context.Context, recordingID, rendition, key string) error {
	qb := database.NewQueryBuilder().
		Append("INSERT INTO recording_init (recording_id, rendition, object_key)").
		Append("VALUES ($1, $2, $3)").
		Append("ON CONFLICT (recording_id, rendition) DO UPDATE SET object_key = excluded.object_key")
	query, _ := qb.Build()
	_, err := r.pool.Exec(ctx, query, recordingID, rendition, key)
	return err
}

func (r *SQLRecorder) UpsertPart(ctx context.Context, recordingID, rendition string, segmentIdx int64, partIdx uint32, partID, key string, durationSeconds float64) error {
	qb := database.NewQueryBuilder().
		Append("INSERT INTO recording_parts (recording_id, rendition, segment_idx, part_idx, part_id, object_key, duration_seconds)").
		Append("VALUES ($1, $2, $3, $4, $5, $6, $7)").
		Append("ON CONFLICT (recording_id, rendition, segment_idx, part_idx)").
		Append("DO UPDATE SET part_id = excluded.part_id, object_key = excluded.object_key, duration_seconds = excluded.duration_seconds")
	query, _ := qb.Build()
	_, err := r.pool.Exec(ctx, query, recordingID, rendition, segmentIdx, partIdx, partID, key, durationSeconds)
	return err
}

func (r *SQLRecorder) UpsertThumbnail(ctx context.Context, recordingID, rendition string, partIdx uint32, key string) error {
	qb := database.NewQueryBuilder().
		Append("INSERT INTO recording_thumbnails (recording_id, rendition, part_idx, object_key)").
		Append("VALUES ($1, $2, $3, $4)").
		Append("ON CONFLICT (recording_id, rendition, part_idx) DO UPDATE SET object_key = excluded.object_key")
	query, _ := qb.Build()
	_, err := r.pool.Exec(ctx, query, recordingID, rendition, partIdx, key)
	return err
}

// LookupPart resolves a part_id to its object storage key, scoped to one
// recording and rendition. ok is false when no row matches, the signal the
// edge server uses to fall through to a 404 instead of a DVR redirect.
func (r *SQLRecorder) LookupPart(ctx context.Context, recordingID, rendition, partID string) (key string, ok bool, err error) {
	qb := database.NewQueryBuilder().
		Append("SELECT object_key FROM recording_parts").
		Where("recording_id = $1", recordingID).
		And("rendition = $2", rendition).
		And("part_id = $3", partID)
	query, args := qb.Build()

	row := r.pool.QueryRow(ctx, query, args...)
	if err := row.Scan(&key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return key, true, nil
}
