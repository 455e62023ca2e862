// Package transcoder runs one dedicated-OS-thread pipeline per ingest
// session: decode incoming access units, scale/frame-rate-limit them per
// rendition, encode, and mux into fMP4 fragments appended to each
// rendition's track state.
package transcoder

import (
	"context"
	"runtime"

	coreerrors "github.com/scufflelive/corevideo/pkg/errors"
	"github.com/scufflelive/corevideo/pkg/logger"
	"github.com/scufflelive/corevideo/pkg/track"
)

// Frame is one decoded access unit handed from the demux/decode stage to
// the per-rendition scale/encode stage.
type Frame struct {
	PTS      int64
	DTS      int64
	KeyFrame bool
	Video    bool // false => audio
	Payload  []byte
}

// RenditionSpec describes one output rendition's target encode parameters.
type RenditionSpec struct {
	Name           string
	Width, Height  int
	FPS            int
	VideoBitrate   int
	AudioBitrate   int
}

// Encoder is the pluggable codec backend. The core ships no concrete
// implementation (no ffmpeg/cgo binding is available); production
// deployments provide one, typically a cgo shim over libavcodec or a
// hosted encode service client satisfying this interface.
type Encoder interface {
	// EncodeVideo scales+encodes one decoded video frame for spec,
	// returning zero or more encoded access units (an encoder may buffer
	// B-frames before emitting anything).
	EncodeVideo(spec RenditionSpec, frame Frame) ([]Frame, error)
	// EncodeAudio resamples+encodes one decoded audio frame for spec.
	EncodeAudio(spec RenditionSpec, frame Frame) ([]Frame, error)
	// Flush drains any frames the encoder is still holding for spec.
	Flush(spec RenditionSpec) ([]Frame, error)
}

// Muxer packages an encoder's output access units into fMP4 fragments and
// appends them to the rendition's track state. Decoupled from Encoder so
// the transcoder package does not need to depend on pkg/container/mp4's
// exact fragment-boundary policy.
type Muxer interface {
	Mux(spec RenditionSpec, frames []Frame, state *track.State) error
	// Flush force-commits any samples still buffered for spec's rendition
	// as a final part, closing out its last segment. Called once per
	// rendition after its encoder has been drained.
	Flush(spec RenditionSpec, state *track.State) error
}

// Session runs one ingest connection's transcode pipeline: one goroutine
// per Session, locked to its own OS thread for the lifetime of the
// pipeline so that encoder libraries relying on thread-local state (most
// native codec SDKs) are never called from a goroutine the runtime might
// migrate mid-call.
type Session struct {
	log       logger.Logger
	encoder   Encoder
	muxer     Muxer
	renditions []RenditionSpec
	states    map[string]*track.State

	in chan Frame

	thumbnailEvery int
	thumbnailSink  func(spec RenditionSpec, frame Frame)
}

// NewSession builds a transcode session. inCapacity sizes the bounded
// input channel that Submit feeds decoded frames into; that capacity is
// the back-pressure boundary between network reads and encode.
func NewSession(log logger.Logger, encoder Encoder, muxer Muxer, renditions []RenditionSpec, states map[string]*track.State, inCapacity int) *Session {
	return &Session{
		log:        log,
		encoder:    encoder,
		muxer:      muxer,
		renditions: renditions,
		states:     states,
		in:         make(chan Frame, inCapacity),
	}
}

// SetThumbnailCadence arranges for sink to be called with every Nth
// (N = every) independent video frame of the first rendition, used to
// drive the thumbnail emitter without a separate decode pass.
func (s *Session) SetThumbnailCadence(every int, sink func(spec RenditionSpec, frame Frame)) {
	s.thumbnailEvery = every
	s.thumbnailSink = sink
}

// Submit hands one decoded frame to the pipeline, blocking if the input
// channel is full.
func (s *Session) Submit(ctx context.Context, f Frame) error {
	select {
	case s.in <- f:
		return nil
	case <-ctx.Done():
		return coreerrors.Wrap(coreerrors.Timeout, "submit frame", ctx.Err())
	}
}

// Close signals no further frames will be submitted; Run exits once the
// input channel drains.
func (s *Session) Close() {
	close(s.in)
}

// Run drives the pipeline until the input channel closes or ctx is
// cancelled, then flushes every encoder and finishes every rendition's
// track state. Must be called from its own goroutine; it locks the
// calling goroutine to its OS thread for its entire duration.
func (s *Session) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	thumbCounter := 0

loop:
	for {
		select {
		case frame, ok := <-s.in:
			if !ok {
				break loop
			}
			if err := s.process(frame, &thumbCounter); err != nil {
				s.log.Error("transcode pipeline error", logger.NewField("error", err.Error()))
				return err
			}
		case <-ctx.Done():
			break loop
		}
	}

	for _, spec := range s.renditions {
		out, err := s.encoder.Flush(spec)
		if err != nil {
			s.log.Error("encoder flush failed", logger.NewField("rendition", spec.Name), logger.NewField("error", err.Error()))
			continue
		}
		state, ok := s.states[spec.Name]
		if !ok {
			continue
		}
		if len(out) > 0 {
			if err := s.muxer.Mux(spec, out, state); err != nil {
				s.log.Error("mux on flush failed", logger.NewField("rendition", spec.Name), logger.NewField("error", err.Error()))
			}
		}
		if err := s.muxer.Flush(spec, state); err != nil {
			s.log.Error("muxer flush failed", logger.NewField("rendition", spec.Name), logger.NewField("error", err.Error()))
		}
	}
	for _, state := range s.states {
		state.Finish()
	}
	return nil
}

func (s *Session) process(frame Frame, thumbCounter *int) error {
	for _, spec := range s.renditions {
		state, ok := s.states[spec.Name]
		if !ok {
			continue
		}

		var out []Frame
		var err error
		if frame.Video {
			out, err = s.encoder.EncodeVideo(spec, frame)
		} else {
			out, err = s.encoder.EncodeAudio(spec, frame)
		}
		if err != nil {
			return coreerrors.NewCodecError("encode frame", err)
		}
		if len(out) == 0 {
			continue
		}
		if err := s.muxer.Mux(spec, out, state); err != nil {
			return coreerrors.NewCodecError("mux frame", err)
		}
	}

	if frame.Video && frame.KeyFrame && s.thumbnailSink != nil && s.thumbnailEvery > 0 {
		*thumbCounter++
		if *thumbCounter%s.thumbnailEvery == 0 {
			s.thumbnailSink(s.renditions[0], frame)
		}
	}
	return nil
}
