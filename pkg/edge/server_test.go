package edge

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/scufflelive/corevideo/pkg/logger"
	"github.com/scufflelive/corevideo/pkg/track"
)

func notFoundStreamLookup(org, room, rendition string) (*track.State, map[string]track.InfoProvider, bool) {
	return nil, nil, false
}

func notFoundPartLookup(org, room, partID string) PartLookupResult {
	return PartLookupResult{Found: false}
}

func TestHandlePlaylistNotFound(t *testing.T) {
	s := New(logger.NewDefaultLogger(logger.ErrorLevel, "text"), Config{}, notFoundStreamLookup, notFoundPartLookup)

	mux := http.NewServeMux()
	s.Routes(mux)

	req := httptest.NewRequest(http.MethodGet, "/org1/room1/720p.m3u8", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandlePlaylistServesCurrentState(t *testing.T) {
	state := track.NewState("720p", 1.0, 2.0, 5)
	state.AppendFragment([]byte{1}, 1.0, true, false)

	s := New(logger.NewDefaultLogger(logger.ErrorLevel, "text"), Config{BlockTimeout: 50 * time.Millisecond},
		func(org, room, rendition string) (*track.State, map[string]track.InfoProvider, bool) {
			return state, nil, true
		},
		notFoundPartLookup)

	mux := http.NewServeMux()
	s.Routes(mux)

	req := httptest.NewRequest(http.MethodGet, "/org1/room1/720p.m3u8", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
}

func TestHandlePlaylistBlocksUntilTimeoutThenServesCurrent(t *testing.T) {
	state := track.NewState("720p", 1.0, 2.0, 5)
	state.AppendFragment([]byte{1}, 1.0, true, false)

	s := New(logger.NewDefaultLogger(logger.ErrorLevel, "text"), Config{BlockTimeout: 30 * time.Millisecond},
		func(org, room, rendition string) (*track.State, map[string]track.InfoProvider, bool) {
			return state, nil, true
		},
		notFoundPartLookup)

	mux := http.NewServeMux()
	s.Routes(mux)

	req := httptest.NewRequest(http.MethodGet, "/org1/room1/720p.m3u8?_HLS_msn=99&_HLS_part=0", nil)
	rec := httptest.NewRecorder()

	start := time.Now()
	mux.ServeHTTP(rec, req)
	elapsed := time.Since(start)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if elapsed < 20*time.Millisecond {
		t.Fatalf("expected the handler to block roughly until the timeout, took %v", elapsed)
	}
}

func TestHandlePartNotFound(t *testing.T) {
	s := New(logger.NewDefaultLogger(logger.ErrorLevel, "text"), Config{}, notFoundStreamLookup, notFoundPartLookup)

	mux := http.NewServeMux()
	s.Routes(mux)

	req := httptest.NewRequest(http.MethodGet, "/org1/room1/deadbeef.mp4", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandlePartServesLiveBytes(t *testing.T) {
	s := New(logger.NewDefaultLogger(logger.ErrorLevel, "text"), Config{}, notFoundStreamLookup,
		func(org, room, partID string) PartLookupResult {
			if partID == "p0" {
				return PartLookupResult{Data: []byte("fragment"), Found: true}
			}
			return PartLookupResult{Found: false}
		})

	mux := http.NewServeMux()
	s.Routes(mux)

	req := httptest.NewRequest(http.MethodGet, "/org1/room1/p0.mp4", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "video/mp4" {
		t.Fatalf("Content-Type = %q, want video/mp4", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-store" {
		t.Fatalf("Cache-Control = %q, want no-store", cc)
	}
	if rec.Body.String() != "fragment" {
		t.Fatalf("body = %q, want %q", rec.Body.String(), "fragment")
	}
}

func TestHandlePartRedirectsToDVR(t *testing.T) {
	s := New(logger.NewDefaultLogger(logger.ErrorLevel, "text"), Config{}, notFoundStreamLookup,
		func(org, room, partID string) PartLookupResult {
			return PartLookupResult{Found: true, DVRRedirect: "https://cdn.example.com/org1/room1/p0.mp4?sig=x"}
		})

	mux := http.NewServeMux()
	s.Routes(mux)

	req := httptest.NewRequest(http.MethodGet, "/org1/room1/p0.mp4", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "https://cdn.example.com/org1/room1/p0.mp4?sig=x" {
		t.Fatalf("Location = %q", loc)
	}
}
