// Command corevideo-server runs the full pipeline in a single process:
// RTMP ingest, per-rendition transcode, LL-HLS edge playback, and an
// optional recording/DVR uploader.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/scufflelive/corevideo/pkg/bus"
	"github.com/scufflelive/corevideo/pkg/config"
	"github.com/scufflelive/corevideo/pkg/database"
	"github.com/scufflelive/corevideo/pkg/directory"
	"github.com/scufflelive/corevideo/pkg/edge"
	coreerrors "github.com/scufflelive/corevideo/pkg/errors"
	"github.com/scufflelive/corevideo/pkg/logger"
	"github.com/scufflelive/corevideo/pkg/objectstore"
	"github.com/scufflelive/corevideo/pkg/recording"
	"github.com/scufflelive/corevideo/pkg/session"
	"github.com/scufflelive/corevideo/pkg/streaming/rtmp"
	whip "github.com/scufflelive/corevideo/pkg/streaming/webrtc"
	"github.com/scufflelive/corevideo/pkg/track"
	"github.com/scufflelive/corevideo/pkg/transcoder"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional, defaults are used otherwise)")
	flag.Parse()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	log := logger.NewDefaultLogger(parseLevel(cfg.Logging.Level), cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store objectstore.Client
	if cfg.Recording.Enabled {
		s3, err := objectstore.NewS3Client(ctx, objectstore.Config{
			Bucket:          cfg.ObjectStore.Bucket,
			Region:          cfg.ObjectStore.Region,
			Endpoint:        cfg.ObjectStore.Endpoint,
			AccessKeyID:     cfg.ObjectStore.AccessKeyID,
			SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
			UsePathStyle:    cfg.ObjectStore.UsePathStyle,
			MaxRetries:      cfg.ObjectStore.MaxRetries,
			RequestTimeout:  cfg.ObjectStore.RequestTimeout,
		})
		if err != nil {
			log.Fatal("failed to build object store client", logger.NewField("error", err.Error()))
		}
		store = s3
	}

	dbPool, err := database.NewDBPool(database.DBConfig{
		Driver:          "pgx",
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		log.Fatal("failed to connect to database", logger.NewField("error", err.Error()))
	}
	defer dbPool.Close()

	sessions, err := session.New(dbPool.Master(), session.Config{
		MasterSecret: []byte(cfg.Session.MasterSecret),
		TTL:          cfg.Session.TTL,
	})
	if err != nil {
		log.Fatal("failed to build session manager", logger.NewField("error", err.Error()))
	}

	var producer *bus.Producer
	if len(cfg.Bus.Brokers) > 0 && cfg.Bus.Brokers[0] != "" {
		producer, err = bus.NewProducer(bus.Config{
			Brokers:        cfg.Bus.Brokers,
			WorkQueueTopic: cfg.Bus.WorkQueueTopic,
			ConsumerGroup:  cfg.Bus.ConsumerGroup,
		}, log)
		if err != nil {
			log.Warn("message bus unavailable, continuing without it", logger.NewField("error", err.Error()))
		} else {
			defer producer.Close()
		}
	}

	ring := directory.NewRing(0)
	ring.AddNode(cfg.Server.Host + fmt.Sprintf(":%d", cfg.Server.Port))
	notifier := directory.NewNotifier(log)

	reg := newRegistry(store)

	var recorder recording.Recorder
	if cfg.Recording.Enabled {
		recorder = recording.NewSQLRecorder(dbPool)
	}

	rtmpServer := rtmp.NewServer(fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Streaming.RTMP.Port), log)
	rtmpServer.SetOnPublish(func(streamKey string, metadata map[string]interface{}) error {
		org, room := splitStreamKey(streamKey)
		reg.start(org, room, cfg, log, store, recorder, producer)
		return nil
	})
	rtmpServer.SetOnMediaFrame(func(streamKey string, f rtmp.MediaFrame) {
		org, room := splitStreamKey(streamKey)
		s, ok := reg.lookup(org, room)
		if !ok {
			return
		}
		frame := transcoder.Frame{PTS: f.PTS, DTS: f.DTS, KeyFrame: f.KeyFrame, Video: f.Video, Payload: f.Payload}
		if err := s.session.Submit(ctx, frame); err != nil {
			log.Warn("dropped frame, transcoder session unavailable", logger.NewField("stream", streamKey), logger.NewField("error", err.Error()))
		}
	})

	if cfg.Streaming.EnableRTMP {
		if err := rtmpServer.Start(); err != nil {
			log.Fatal("failed to start RTMP server", logger.NewField("error", err.Error()))
		}
		defer rtmpServer.Stop()
	}

	whipIngest := whip.New(log)
	whipIngest.SetOnMediaFrame(func(streamKey string, f whip.MediaFrame) {
		org, room := splitStreamKey(streamKey)
		s, ok := reg.lookup(org, room)
		if !ok {
			return
		}
		frame := transcoder.Frame{PTS: f.PTS, DTS: f.DTS, KeyFrame: f.KeyFrame, Video: f.Video, Payload: f.Payload}
		if err := s.session.Submit(ctx, frame); err != nil {
			log.Warn("dropped frame, transcoder session unavailable", logger.NewField("stream", streamKey), logger.NewField("error", err.Error()))
		}
	})
	defer whipIngest.CloseAll()

	playbackMux := http.NewServeMux()
	edgeServer := edge.New(log, edge.Config{BlockTimeout: cfg.Streaming.BlockTimeout}, reg.streamLookup, reg.partLookup)
	edgeServer.Routes(playbackMux)

	mux := http.NewServeMux()
	mux.Handle("/{org}/{room}/{file}", sessionAuth(sessions, playbackMux))
	mux.Handle("/ws/directory", notifier)
	mux.HandleFunc("/session/open", handleSessionOpen(sessions))
	mux.HandleFunc("/session/refresh", handleSessionRefresh(sessions))
	mux.HandleFunc("/whip/", func(w http.ResponseWriter, r *http.Request) {
		streamKey := strings.TrimPrefix(r.URL.Path, "/whip/")
		if streamKey == "" {
			http.NotFound(w, r)
			return
		}
		org, room := splitStreamKey(streamKey)
		reg.start(org, room, cfg, log, store, recorder, producer)
		whipIngest.HandlerFor(streamKey)(w, r)
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("edge server listening", logger.NewField("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("edge server stopped", logger.NewField("error", err.Error()))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpServer.Shutdown(shutdownCtx)
	reg.closeAll()
}

func parseLevel(s string) logger.LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return logger.DebugLevel
	case "warn":
		return logger.WarnLevel
	case "error":
		return logger.ErrorLevel
	case "fatal":
		return logger.FatalLevel
	default:
		return logger.InfoLevel
	}
}

func splitStreamKey(streamKey string) (org, room string) {
	parts := strings.SplitN(streamKey, "/", 2)
	if len(parts) != 2 {
		return "default", streamKey
	}
	return parts[0], parts[1]
}

// sessionAuth requires a valid bearer token for (org, room) before
// delegating to next; org/room are read from the request path's
// {org}/{room}/{file} pattern variables.
func sessionAuth(sessions *session.Manager, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if token == "" {
			http.Error(w, "missing session token", http.StatusUnauthorized)
			return
		}

		sess, err := sessions.Validate(token)
		if err != nil {
			status := http.StatusUnauthorized
			if coreerrors.KindOf(err) == coreerrors.Timeout {
				status = http.StatusGone
			}
			http.Error(w, err.Error(), status)
			return
		}

		if r.PathValue("org") != sess.Org || r.PathValue("room") != sess.Room {
			http.Error(w, "session does not authorize this stream", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func handleSessionOpen(sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		org := r.URL.Query().Get("org")
		room := r.URL.Query().Get("room")
		if org == "" || room == "" {
			http.Error(w, "org and room query parameters are required", http.StatusBadRequest)
			return
		}
		token, sess, err := sessions.Open(r.Context(), org, room)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeSessionJSON(w, token, sess)
	}
}

func handleSessionRefresh(sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "token query parameter is required", http.StatusBadRequest)
			return
		}
		newToken, sess, err := sessions.Refresh(r.Context(), token)
		if err != nil {
			status := http.StatusBadRequest
			if coreerrors.KindOf(err) == coreerrors.Timeout {
				status = http.StatusGone
			}
			http.Error(w, err.Error(), status)
			return
		}
		writeSessionJSON(w, newToken, sess)
	}
}

func writeSessionJSON(w http.ResponseWriter, token string, sess session.Session) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Token     string    `json:"token"`
		Org       string    `json:"org"`
		Room      string    `json:"room"`
		ExpiresAt time.Time `json:"expires_at"`
	}{Token: token, Org: sess.Org, Room: sess.Room, ExpiresAt: sess.ExpiresAt})
}

// liveStream holds the transcode session and per-rendition track state for
// one active (org, room) ingest.
type liveStream struct {
	session   *transcoder.Session
	states    map[string]*track.State
	uploaders map[string]*recording.Uploader
	cancel    context.CancelFunc
}

type registry struct {
	mu      sync.RWMutex
	streams map[string]*liveStream
	store   objectstore.Client

	presignExpiry time.Duration
}

func newRegistry(store objectstore.Client) *registry {
	return &registry{streams: make(map[string]*liveStream), store: store, presignExpiry: 6 * time.Hour}
}

func key(org, room string) string { return org + "/" + room }

func (r *registry) start(org, room string, cfg *config.Config, log logger.Logger, store objectstore.Client, recorder recording.Recorder, producer *bus.Producer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(org, room)
	if _, exists := r.streams[k]; exists {
		return
	}

	states := make(map[string]*track.State, len(cfg.Streaming.Renditions))
	renditions := make([]transcoder.RenditionSpec, 0, len(cfg.Streaming.Renditions))
	uploaders := make(map[string]*recording.Uploader)

	for _, rc := range cfg.Streaming.Renditions {
		state := track.NewState(rc.Name, cfg.Streaming.TargetPartDuration, cfg.Streaming.TargetSegmentDuration, cfg.Streaming.MaxSegmentsRetained)
		states[rc.Name] = state
		renditions = append(renditions, transcoder.RenditionSpec{
			Name: rc.Name, Width: rc.Width, Height: rc.Height, FPS: rc.FPS,
			VideoBitrate: rc.VideoBitrate, AudioBitrate: rc.AudioBitrate,
		})

		if cfg.Recording.Enabled && store != nil && recorder != nil {
			prefix := strings.NewReplacer("{org}", org, "{room}", room, "{rendition}", rc.Name).Replace(cfg.Recording.KeyPrefixTemplate)
			u := recording.New(store, recorder, log, k, rc.Name, prefix, cfg.Recording.QueueDepth)
			uploaders[rc.Name] = u
			go u.Run(context.Background())

			state.SetOnPart(func(seg track.Segment, part track.Part) {
				task := recording.Task{
					Kind:        recording.TaskSegment,
					PartID:      part.ID,
					PartIndex:   part.Index,
					SegmentIdx:  seg.Index,
					Data:        part.Data,
					ContentType: "video/mp4",
				}
				if err := u.Enqueue(context.Background(), task); err != nil {
					log.Warn("dropped recording task, uploader queue full or closed",
						logger.NewField("stream", k), logger.NewField("rendition", rc.Name), logger.NewField("error", err.Error()))
				}
			})
		}
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	sess := transcoder.NewSession(log, noopEncoder{}, transcoder.NewFragmentMuxer(), renditions, states, 256)

	if producer != nil {
		if err := producer.PublishWatchEvent(sessCtx, org, room, []byte("live")); err != nil {
			log.Warn("failed to publish watch event", logger.NewField("stream", k), logger.NewField("error", err.Error()))
		}
	}

	go func() {
		if err := sess.Run(sessCtx); err != nil {
			log.Error("transcode session exited with error", logger.NewField("stream", k), logger.NewField("error", err.Error()))
		}
	}()

	r.streams[k] = &liveStream{session: sess, states: states, uploaders: uploaders, cancel: cancel}
}

func (r *registry) lookup(org, room string) (*liveStream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[key(org, room)]
	return s, ok
}

func (r *registry) streamLookup(org, room, rendition string) (*track.State, map[string]track.InfoProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[key(org, room)]
	if !ok {
		return nil, nil, false
	}
	state, ok := s.states[rendition]
	if !ok {
		return nil, nil, false
	}
	siblings := make(map[string]track.InfoProvider, len(s.states))
	for name, st := range s.states {
		siblings[name] = st
	}
	return state, siblings, true
}

// partLookup resolves an opaque part_id addressed through the edge
// server's media part endpoint: first against every rendition's live
// track buffer, then, for a part that has aged out of the live window,
// against each rendition's recording uploader so it can be served as a
// redirect into the DVR object store.
func (r *registry) partLookup(org, room, partID string) edge.PartLookupResult {
	r.mu.RLock()
	s, ok := r.streams[key(org, room)]
	if !ok {
		r.mu.RUnlock()
		return edge.PartLookupResult{Found: false}
	}
	for _, state := range s.states {
		if data, ok := state.PartByID(partID); ok {
			r.mu.RUnlock()
			return edge.PartLookupResult{Data: data, Found: true}
		}
	}
	uploaders := make([]*recording.Uploader, 0, len(s.uploaders))
	for _, u := range s.uploaders {
		uploaders = append(uploaders, u)
	}
	r.mu.RUnlock()

	if r.store == nil {
		return edge.PartLookupResult{Found: false}
	}
	for _, u := range uploaders {
		objKey, ok, err := u.LookupPart(context.Background(), partID)
		if err != nil || !ok {
			continue
		}
		url, err := r.store.PresignGet(context.Background(), objKey, r.presignExpiry)
		if err != nil {
			continue
		}
		return edge.PartLookupResult{DVRRedirect: url, Found: true}
	}
	return edge.PartLookupResult{Found: false}
}

func (r *registry) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.streams {
		s.session.Close()
		s.cancel()
		for _, u := range s.uploaders {
			u.Close()
		}
	}
}

// noopEncoder is the fallback Encoder wired when no concrete codec backend
// is configured: it passes each access unit through unmodified. A real
// deployment supplies its own Encoder (a cgo libavcodec shim or hosted
// encode service client) in place of this one.
type noopEncoder struct{}

func (noopEncoder) EncodeVideo(spec transcoder.RenditionSpec, frame transcoder.Frame) ([]transcoder.Frame, error) {
	return []transcoder.Frame{frame}, nil
}

func (noopEncoder) EncodeAudio(spec transcoder.RenditionSpec, frame transcoder.Frame) ([]transcoder.Frame, error) {
	return []transcoder.Frame{frame}, nil
}

func (noopEncoder) Flush(spec transcoder.RenditionSpec) ([]transcoder.Frame, error) {
	return nil, nil
}
