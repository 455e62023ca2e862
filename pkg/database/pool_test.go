package database

import "testing"

func TestQueryBuilderWhereAndOr(t *testing.T) {
	qb := NewQueryBuilder().
		Append("SELECT * FROM recording_parts").
		Where("recording_id = $1", "rec-1").
		And("rendition = $2", "720p").
		Or("rendition = $3", "360p")

	query, args := qb.Build()
	want := "SELECT * FROM recording_parts WHERE recording_id = $1 AND rendition = $2 OR rendition = $3"
	if query != want {
		t.Fatalf("query = %q, want %q", query, want)
	}
	if len(args) != 3 || args[0] != "rec-1" || args[1] != "720p" || args[2] != "360p" {
		t.Fatalf("unexpected args: %+v", args)
	}
}

func TestQueryBuilderLimitOffsetUsePositionalPlaceholders(t *testing.T) {
	qb := NewQueryBuilder().
		Append("SELECT * FROM recording_parts").
		Where("recording_id = $1", "rec-1").
		OrderBy("segment_idx", "ASC").
		Limit(10).
		Offset(20)

	query, args := qb.Build()
	want := "SELECT * FROM recording_parts WHERE recording_id = $1 ORDER BY segment_idx ASC LIMIT $2 OFFSET $3"
	if query != want {
		t.Fatalf("query = %q, want %q", query, want)
	}
	if len(args) != 3 || args[1] != 10 || args[2] != 20 {
		t.Fatalf("unexpected args: %+v", args)
	}
}

func TestDefaultDBConfigFillsPoolSettings(t *testing.T) {
	cfg := DefaultDBConfig()
	if cfg.MaxOpenConns == 0 || cfg.MaxIdleConns == 0 || cfg.ConnMaxLifetime == 0 {
		t.Fatalf("expected non-zero pool defaults, got %+v", cfg)
	}
}
