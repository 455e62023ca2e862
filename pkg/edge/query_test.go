package edge

import (
	coreerrors "github.com/scufflelive/corevideo/pkg/errors"
	"testing"
)

func TestParseHLSConfigMSNAndPart(t *testing.T) {
	cfg, err := ParseHLSConfig("_HLS_msn=10&_HLS_part=3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	seg, part, ok := cfg.HasMSN()
	if !ok {
		t.Fatal("expected HasMSN true")
	}
	if seg != 10 || part != 3 {
		t.Fatalf("got seg=%d part=%d, want 10/3", seg, part)
	}
}

func TestParseHLSConfigPartWithoutMSNIsAcceptedSilently(t *testing.T) {
	cfg, err := ParseHLSConfig("_HLS_part=3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	seg, part, ok := cfg.HasMSN()
	if !ok || seg != 0 || part != 3 {
		t.Fatalf("expected a block style starting a fresh Hls entry, got seg=%d part=%d ok=%v", seg, part, ok)
	}
}

func TestParseHLSConfigScufflePartMutualExclusion(t *testing.T) {
	_, err := ParseHLSConfig("_HLS_msn=1&_SCUFFLE_part=2")
	if !coreerrors.Is(err, coreerrors.Client) {
		t.Fatalf("expected a client error for mixing _HLS_msn and _SCUFFLE_part, got %v", err)
	}
}

func TestParseHLSConfigScuffleIPartAlone(t *testing.T) {
	cfg, err := ParseHLSConfig("_SCUFFLE_ipart=5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.IsBlocked(0, 4) {
		t.Fatal("expected blocked when current part is behind the requested ipart")
	}
	if !cfg.IsBlocked(0, 5) {
		t.Fatal("expected blocked while current part equals the requested ipart")
	}
	if cfg.IsBlocked(0, 6) {
		t.Fatal("expected not blocked once current part passes the requested ipart")
	}
}

func TestParseHLSConfigSkipValues(t *testing.T) {
	cfg, err := ParseHLSConfig("_HLS_skip=v2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Skip || !cfg.SkipV2 {
		t.Fatalf("expected Skip and SkipV2 both true, got %+v", cfg)
	}

	if _, err := ParseHLSConfig("_HLS_skip=maybe"); err == nil {
		t.Fatal("expected an error for an invalid _HLS_skip value")
	}
}

func TestParseHLSConfigDVRAndJSONRequireYES(t *testing.T) {
	if _, err := ParseHLSConfig("_SCUFFLE_dvr=no"); err == nil {
		t.Fatal("expected error for _SCUFFLE_dvr != YES")
	}
	cfg, err := ParseHLSConfig("_SCUFFLE_dvr=YES&_SCUFFLE_json=YES")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.DVR || !cfg.JSON {
		t.Fatalf("expected DVR and JSON both true, got %+v", cfg)
	}
}

func TestIsBlockedForHLSStyle(t *testing.T) {
	cfg, err := ParseHLSConfig("_HLS_msn=10&_HLS_part=3")
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.IsBlocked(9, 0) {
		t.Fatal("expected blocked: requested msn is ahead of current segment")
	}
	if !cfg.IsBlocked(10, 2) {
		t.Fatal("expected blocked: same segment, requested part ahead")
	}
	if !cfg.IsBlocked(10, 3) {
		t.Fatal("expected blocked: next write position is the requested part, not yet published")
	}
	if cfg.IsBlocked(10, 4) {
		t.Fatal("expected not blocked: next write position is past the requested part")
	}
	if cfg.IsBlocked(11, 0) {
		t.Fatal("expected not blocked: current segment already past requested msn")
	}
}
