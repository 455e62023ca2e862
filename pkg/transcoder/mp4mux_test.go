package transcoder

import (
	"testing"

	"github.com/scufflelive/corevideo/pkg/track"
)

func TestFragmentMuxerCommitsPartAtTargetDuration(t *testing.T) {
	// 30fps video at a 90kHz timescale is 3000 ticks (1/30s) per sample;
	// a 0.05s target part duration needs two samples to cross.
	state := track.NewState("720p", 0.05, 2.0, 5)
	m := NewFragmentMuxer()
	spec := RenditionSpec{Name: "720p", FPS: 30}

	frames := []Frame{
		{PTS: 0, DTS: 0, KeyFrame: true, Video: true, Payload: []byte{1, 2, 3}},
		{PTS: 33, DTS: 33, KeyFrame: false, Video: true, Payload: []byte{4, 5}},
	}

	if err := m.Mux(spec, frames, state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	info := state.Info()
	if info.NextPartIndex != 1 {
		t.Fatalf("expected one part committed once target duration was reached, got NextPartIndex=%d", info.NextPartIndex)
	}
}

func TestFragmentMuxerBuffersBelowTargetDuration(t *testing.T) {
	state := track.NewState("720p", 1.0, 2.0, 5)
	m := NewFragmentMuxer()
	spec := RenditionSpec{Name: "720p", FPS: 30}

	frames := []Frame{
		{PTS: 0, DTS: 0, KeyFrame: true, Video: true, Payload: []byte{1, 2, 3}},
	}
	if err := m.Mux(spec, frames, state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if info := state.Info(); info.NextPartIndex != 0 {
		t.Fatalf("expected no part committed yet, got NextPartIndex=%d", info.NextPartIndex)
	}
}

func TestFragmentMuxerEmptyFramesIsNoop(t *testing.T) {
	state := track.NewState("720p", 1.0, 2.0, 5)
	m := NewFragmentMuxer()
	if err := m.Mux(RenditionSpec{Name: "720p"}, nil, state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Info().NextPartIndex != 0 {
		t.Fatal("expected no part appended for empty frames")
	}
}

func TestFragmentMuxerFlushForceCommitsRemainder(t *testing.T) {
	state := track.NewState("720p", 1.0, 2.0, 5)
	m := NewFragmentMuxer()
	spec := RenditionSpec{Name: "720p", FPS: 30}

	frames := []Frame{
		{PTS: 0, DTS: 0, KeyFrame: true, Video: true, Payload: []byte{1, 2, 3}},
	}
	if err := m.Mux(spec, frames, state); err != nil {
		t.Fatalf("mux error: %v", err)
	}
	if info := state.Info(); info.NextPartIndex != 0 {
		t.Fatalf("expected nothing committed before flush, got NextPartIndex=%d", info.NextPartIndex)
	}

	if err := m.Flush(spec, state); err != nil {
		t.Fatalf("flush error: %v", err)
	}

	info := state.Info()
	if info.NextPartIndex != 1 {
		t.Fatalf("expected flush to force-commit the buffered sample, got NextPartIndex=%d", info.NextPartIndex)
	}
	if info.NextSegmentPartIndex != 0 {
		t.Fatal("expected flush's commit to be final, closing the segment")
	}
}

func TestFragmentMuxerSeparatesVideoAndAudioAccumulators(t *testing.T) {
	state := track.NewState("720p", 0.01, 2.0, 5)
	m := NewFragmentMuxer()
	spec := RenditionSpec{Name: "720p", FPS: 30}

	videoFrames := []Frame{{Video: true, KeyFrame: true, Payload: []byte{1}}}
	audioFrames := []Frame{{Video: false, KeyFrame: true, Payload: []byte{2}}}

	if err := m.Mux(spec, videoFrames, state); err != nil {
		t.Fatalf("video mux error: %v", err)
	}
	if err := m.Mux(spec, audioFrames, state); err != nil {
		t.Fatalf("audio mux error: %v", err)
	}

	videoAcc := m.accumulator(accumulatorKey(spec.Name, true), true)
	audioAcc := m.accumulator(accumulatorKey(spec.Name, false), false)
	if videoAcc.seq == 0 || audioAcc.seq == 0 {
		t.Fatalf("expected both accumulators to have committed at least one part, got video seq=%d audio seq=%d", videoAcc.seq, audioAcc.seq)
	}
}
