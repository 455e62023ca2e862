package transcoder

import (
	"sync"

	"github.com/scufflelive/corevideo/pkg/container/mp4"
	"github.com/scufflelive/corevideo/pkg/track"
)

// FragmentMuxer is the core's default Muxer: it buffers an encoder's
// output samples per rendition/track and groups them into fMP4 parts by
// split_samples' duration rules, appending each completed part to the
// rendition's track state. Video and audio frames never arrive in the
// same call (Session encodes and muxes them separately), so each
// accumulator tracks exactly one track; video and audio parts share the
// same part timeline by virtue of both flowing through the same
// *track.State.
//
// Sample duration is derived from the rendition's target FPS for video and
// a fixed AAC frame size for audio, since no demuxed per-sample timing
// survives the pluggable Encoder boundary - a concrete Encoder that tracks
// exact sample durations should wrap or replace this muxer.
type FragmentMuxer struct {
	VideoTimescale       uint32
	AudioTimescale       uint32
	AudioSamplesPerFrame uint32

	mu   sync.Mutex
	accs map[string]*partAccumulator
}

// NewFragmentMuxer builds a FragmentMuxer with the core's standard
// timescales: 90kHz for video (matching RTMP/FLV's millisecond-derived
// clock) and 48kHz for audio.
func NewFragmentMuxer() *FragmentMuxer {
	return &FragmentMuxer{
		VideoTimescale:       90000,
		AudioTimescale:       48000,
		AudioSamplesPerFrame: 1024,
		accs:                 make(map[string]*partAccumulator),
	}
}

// partAccumulator buffers one track's not-yet-committed samples across
// Mux calls, implementing split_samples: a part is cut once it reaches
// the target duration, is forced to cut before exceeding the max
// duration, or is cut short by an independent sample arriving once the
// current segment has run at least the minimum segment duration (which
// also marks the part final, opening a new segment on the next commit).
type partAccumulator struct {
	trackID   uint32
	timescale uint32

	samples []mp4.Sample
	payload []byte
	partDur float64 // seconds, accumulated in the not-yet-committed part

	segmentElapsed float64 // seconds committed into the current open segment
	seq            uint32
}

func accumulatorKey(rendition string, video bool) string {
	if video {
		return rendition + ":video"
	}
	return rendition + ":audio"
}

func (m *FragmentMuxer) accumulator(key string, video bool) *partAccumulator {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accs[key]
	if !ok {
		trackID, timescale := uint32(2), m.AudioTimescale
		if video {
			trackID, timescale = 1, m.VideoTimescale
		}
		acc = &partAccumulator{trackID: trackID, timescale: timescale}
		m.accs[key] = acc
	}
	return acc
}

// Mux implements Muxer. It feeds frames's frames into the rendition's
// accumulator one at a time and commits whichever parts split_samples
// decides are complete.
func (m *FragmentMuxer) Mux(spec RenditionSpec, frames []Frame, state *track.State) error {
	if len(frames) == 0 {
		return nil
	}

	video := frames[0].Video
	key := accumulatorKey(spec.Name, video)
	acc := m.accumulator(key, video)

	var sampleDuration uint32
	if video {
		fps := spec.FPS
		if fps <= 0 {
			fps = 30
		}
		sampleDuration = acc.timescale / uint32(fps)
	} else {
		sampleDuration = m.AudioSamplesPerFrame
	}

	for _, f := range frames {
		sample := mp4.Sample{
			Duration:              sampleDuration,
			Size:                  uint32(len(f.Payload)),
			CompositionTimeOffset: int32(f.PTS - f.DTS),
			DependsOnOthers:       !f.KeyFrame,
		}
		if err := m.feedSample(state, acc, sample, f.Payload, f.KeyFrame); err != nil {
			return err
		}
	}
	return nil
}

// Flush implements Muxer. It force-commits whatever a rendition's
// accumulators are still holding as a final part, closing out the
// rendition's last segment. Called once per rendition after its encoder
// has been drained.
func (m *FragmentMuxer) Flush(spec RenditionSpec, state *track.State) error {
	for _, video := range []bool{true, false} {
		key := accumulatorKey(spec.Name, video)
		m.mu.Lock()
		acc, ok := m.accs[key]
		m.mu.Unlock()
		if !ok || len(acc.samples) == 0 {
			continue
		}
		if err := m.commitPart(state, acc, true); err != nil {
			return err
		}
	}
	return nil
}

func (m *FragmentMuxer) feedSample(state *track.State, acc *partAccumulator, sample mp4.Sample, payload []byte, independent bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sampleDur := float64(sample.Duration) / float64(acc.timescale)
	targetPartDur := state.TargetPartDuration()
	maxPartDur := state.MaxPartDuration()
	minSegmentDur := state.MinSegmentDuration()

	switch {
	case len(acc.samples) > 0 && independent && acc.segmentElapsed+acc.partDur >= minSegmentDur:
		if err := m.commitPartLocked(state, acc, true); err != nil {
			return err
		}
	case len(acc.samples) > 0 && acc.partDur+sampleDur > maxPartDur:
		if err := m.commitPartLocked(state, acc, false); err != nil {
			return err
		}
	}

	acc.samples = append(acc.samples, sample)
	acc.payload = append(acc.payload, payload...)
	acc.partDur += sampleDur

	if acc.partDur >= targetPartDur {
		return m.commitPartLocked(state, acc, false)
	}
	return nil
}

func (m *FragmentMuxer) commitPart(state *track.State, acc *partAccumulator, isFinal bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commitPartLocked(state, acc, isFinal)
}

// commitPartLocked assumes m.mu is held.
func (m *FragmentMuxer) commitPartLocked(state *track.State, acc *partAccumulator, isFinal bool) error {
	if len(acc.samples) == 0 {
		return nil
	}

	acc.seq++
	frag := &mp4.Fragment{
		SequenceNumber: acc.seq,
		Traf:           mp4.Traf{TrackID: acc.trackID, Samples: acc.samples},
		Payload:        acc.payload,
	}

	if err := state.MuxFragment(frag, acc.timescale, isFinal); err != nil {
		return err
	}

	if isFinal {
		acc.segmentElapsed = 0
	} else {
		acc.segmentElapsed += acc.partDur
	}
	acc.samples = nil
	acc.payload = nil
	acc.partDur = 0
	return nil
}
