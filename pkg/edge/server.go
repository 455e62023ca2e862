package edge

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	coreerrors "github.com/scufflelive/corevideo/pkg/errors"
	"github.com/scufflelive/corevideo/pkg/logger"
	"github.com/scufflelive/corevideo/pkg/track"
)

// StreamLookup resolves an (org, room, rendition) to its live track state,
// or reports ok=false if the room has no active ingest session (callers
// translate this into a NotFound or, if a watch subscription is wired in,
// a longer block waiting for ingest to start).
type StreamLookup func(org, room, rendition string) (state *track.State, siblings map[string]track.InfoProvider, ok bool)

// PartLookupResult is the outcome of resolving a part_id to bytes. Found
// is false for an unknown id (404). A live hit carries Data; a part that
// has aged out of the in-memory track buffer but is retained in the
// recording/DVR store carries DVRRedirect instead, a presigned object
// storage URL the client is 302-redirected to.
type PartLookupResult struct {
	Data        []byte
	DVRRedirect string
	Found       bool
}

// PartLookup resolves an opaque part_id (which also addresses init
// segments and closed-segment concatenations) to its bytes or a DVR
// redirect target.
type PartLookup func(org, room, partID string) PartLookupResult

// Server is the Live Playlist Server's HTTP surface.
type Server struct {
	log          logger.Logger
	streams      StreamLookup
	parts        PartLookup
	blockTimeout time.Duration
}

// Config controls the server's blocked-read behavior.
type Config struct {
	// BlockTimeout bounds how long a blocked playlist request waits
	// before responding with the current state instead of the requested
	// future msn/part.
	BlockTimeout time.Duration
}

// DefaultConfig returns the core's default blocked-read timeout.
func DefaultConfig() Config {
	return Config{BlockTimeout: 30 * time.Second}
}

// New builds a Server.
func New(log logger.Logger, cfg Config, streams StreamLookup, parts PartLookup) *Server {
	timeout := cfg.BlockTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().BlockTimeout
	}
	return &Server{log: log, streams: streams, parts: parts, blockTimeout: timeout}
}

// Routes registers the server's handlers onto mux. Every resource this
// server serves hangs directly off /{org}/{room}/{file} with no further
// prefix, matching the literal media part and playlist paths: rendition
// playlists are {rendition}.m3u8, parts/segments/init segments are
// {id}.mp4.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/{org}/{room}/{file}", s.withCORS(s.handleStream))
}

func (s *Server) withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Expose-Headers", "Date")
		w.Header().Set("Timing-Allow-Origin", "*")
		w.Header().Set("Access-Control-Max-Age", "86400")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	org := r.PathValue("org")
	room := r.PathValue("room")
	file := r.PathValue("file")

	switch {
	case strings.HasSuffix(file, ".m3u8"):
		s.handlePlaylist(w, r, org, room, strings.TrimSuffix(file, ".m3u8"))
	case strings.HasSuffix(file, ".mp4"):
		s.handlePart(w, r, org, room, strings.TrimSuffix(file, ".mp4"))
	default:
		writeError(w, coreerrors.NewNotFoundError("unknown resource"))
	}
}

func (s *Server) handlePlaylist(w http.ResponseWriter, r *http.Request, org, room, rendition string) {
	cfg, err := ParseHLSConfig(r.URL.RawQuery)
	if err != nil {
		writeError(w, err)
		return
	}

	state, siblings, ok := s.streams(org, room, rendition)
	if !ok {
		writeError(w, coreerrors.NewNotFoundError("stream not live"))
		return
	}

	if segIdx, partIdx, has := cfg.HasMSN(); has {
		info := state.Info()
		if cfg.IsBlocked(info.NextSegmentIndex, info.NextSegmentPartIndex) {
			ctx, cancel := context.WithTimeout(r.Context(), s.blockTimeout)
			defer cancel()
			state.WaitForPart(ctx.Done(), segIdx, partIdx)
		}
	}

	manifest, _ := state.Snapshot(siblings)
	if cfg.JSON {
		writeJSONManifest(w, org, room, manifest)
		return
	}
	writeM3U8(w, org, room, manifest, cfg)
}

func (s *Server) handlePart(w http.ResponseWriter, r *http.Request, org, room, partID string) {
	result := s.parts(org, room, partID)
	if !result.Found {
		writeError(w, coreerrors.NewNotFoundError("part not found"))
		return
	}

	if result.DVRRedirect != "" {
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		http.Redirect(w, r, result.DVRRedirect, http.StatusFound)
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(result.Data)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch coreerrors.KindOf(err) {
	case coreerrors.Client:
		status = http.StatusBadRequest
	case coreerrors.Auth:
		status = http.StatusUnauthorized
	case coreerrors.NotFound:
		status = http.StatusNotFound
	case coreerrors.Timeout:
		status = http.StatusRequestTimeout
	}
	http.Error(w, fmt.Sprintf("%v", err), status)
}
