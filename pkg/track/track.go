// Package track implements the per-rendition track state machine: the
// buffer of parts and segments a transcoder writes into and the live
// playlist server reads out of, with broadcast wakeups for blocked reads.
package track

import (
	"crypto/rand"
	"encoding/base64"
	"sync"

	"github.com/scufflelive/corevideo/pkg/container/mp4"
	coreerrors "github.com/scufflelive/corevideo/pkg/errors"
)

// Part is one LL-HLS part: a single fMP4 fragment plus its sequencing
// metadata. Index is the part_idx, local to the segment it belongs to and
// reset to zero at the start of every segment; ID is the part_id, a
// globally unique opaque string used to address the part's bytes over
// HTTP independent of its numeric position.
type Part struct {
	Index       uint32
	ID          string
	Data        []byte
	Duration    float64 // seconds
	Independent bool
}

// Segment groups parts under one playlist-visible segment index. ID is
// the segment_id, a globally unique opaque string distinct from Index
// (the monotonic segment_idx).
type Segment struct {
	Index int64
	ID    string
	Parts []Part
	// Complete is true once no further parts will be appended (either the
	// previous commit carried is_final or the track finished).
	Complete bool
}

func (s *Segment) duration() float64 {
	var total float64
	for _, p := range s.Parts {
		total += p.Duration
	}
	return total
}

// RenditionInfo is the bookkeeping the track orchestrator (pkg/transcoder
// job supervisor) needs to know where to write next, and what it needs to
// publish into sibling renditions' manifests (EXT-X-RENDITION-REPORT).
type RenditionInfo struct {
	NextPartIndex          uint32
	NextSegmentIndex       int64
	NextSegmentPartIndex   uint32
	LastIndependentPartIdx uint32
}

// Manifest is an immutable snapshot of a rendition's segment/part buffer,
// safe to serialize or hand to the playlist renderer without holding the
// track's lock.
type Manifest struct {
	Rendition string
	Completed bool
	InitID    string
	Segments  []Segment
	Info      RenditionInfo
	// SiblingInfo maps every other rendition of the same stream to its
	// RenditionInfo, letting the playlist renderer emit
	// EXT-X-RENDITION-REPORT tags without a round trip to each sibling.
	SiblingInfo map[string]RenditionInfo
}

// InfoProvider exposes a rendition's current RenditionInfo without
// requiring a full Snapshot; used to build the SiblingInfo map cheaply.
type InfoProvider interface {
	Info() RenditionInfo
}

// OnPartFunc is called once per successfully committed part, after the
// state's lock has been released, so recording uploaders and other
// observers can enqueue work without blocking the append path.
type OnPartFunc func(seg Segment, part Part)

// State is the mutable per-rendition buffer. All mutation goes through
// AppendFragment/Finish, which signal Cond on every state change so
// blocked playlist reads can wake up and re-check.
type State struct {
	mu   sync.Mutex
	cond *sync.Cond

	rendition string
	segments  []Segment
	info      RenditionInfo
	finished  bool

	// segmentClosed is true once the previous commit carried is_final;
	// the next AppendFragment call then starts a fresh segment.
	segmentClosed bool

	targetPartDuration    float64
	targetSegmentDuration float64
	maxSegmentsRetained   int

	previousSegments []Segment // for the dirty-check before publish

	onPart OnPartFunc

	initID   string
	initData []byte
}

// NewState builds an empty track state for one rendition.
func NewState(rendition string, targetPartDuration, targetSegmentDuration float64, maxSegmentsRetained int) *State {
	s := &State{
		rendition:             rendition,
		targetPartDuration:    targetPartDuration,
		targetSegmentDuration: targetSegmentDuration,
		maxSegmentsRetained:   maxSegmentsRetained,
		segmentClosed:         true, // the first commit always opens a segment
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// SetOnPart registers fn to be called after every committed part. Only one
// observer is supported; callers that need more should fan out themselves.
func (s *State) SetOnPart(fn OnPartFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPart = fn
}

// SetInit records the rendition's moov init segment and mints its opaque
// init_id, idempotently: the first call wins, matching the fact that a
// rendition's init segment never changes mid-stream. It returns the
// init_id either way.
func (s *State) SetInit(data []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initID == "" {
		s.initID = newOpaqueID()
		s.initData = data
	}
	return s.initID
}

// TargetPartDuration returns the part-cut target duration, in seconds,
// this state was constructed with.
func (s *State) TargetPartDuration() float64 { return s.targetPartDuration }

// MinSegmentDuration returns the minimum duration, in seconds, that must
// elapse in the current segment before an independent sample is allowed
// to cut it.
func (s *State) MinSegmentDuration() float64 { return s.targetSegmentDuration }

// MaxPartDuration returns the hard ceiling, in seconds, a part may never
// exceed regardless of independence: twice the target part duration,
// generous enough to absorb one slow encode tick without fragmenting the
// playlist into too many tiny parts.
func (s *State) MaxPartDuration() float64 { return s.targetPartDuration * 2 }

// Info returns the rendition's current RenditionInfo.
func (s *State) Info() RenditionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// AppendFragment appends one muxed fMP4 fragment as a new part.
// independent marks the part as beginning with a keyframe/sync sample;
// isFinal forces the segment to close after this part, so the next commit
// starts a new one with a freshly minted segment_id and part_idx reset to
// zero. A commit that would open a new segment with independent == false
// is rejected: only a transcoding bug can produce that, since
// split_samples never cuts a segment boundary anywhere but an independent
// sample.
func (s *State) AppendFragment(data []byte, duration float64, independent, isFinal bool) error {
	s.mu.Lock()

	startNewSegment := len(s.segments) == 0 || s.segmentClosed
	if startNewSegment && !independent {
		s.mu.Unlock()
		return coreerrors.NewClientError("non-independent part cannot start a new segment")
	}

	if startNewSegment {
		s.segments = append(s.segments, Segment{Index: s.info.NextSegmentIndex, ID: newOpaqueID()})
		s.info.NextSegmentPartIndex = 0
		s.segmentClosed = false
	}

	part := Part{
		Index:       s.info.NextSegmentPartIndex,
		ID:          newOpaqueID(),
		Data:        data,
		Duration:    duration,
		Independent: independent,
	}

	cur := &s.segments[len(s.segments)-1]
	cur.Parts = append(cur.Parts, part)

	s.info.NextPartIndex++
	s.info.NextSegmentPartIndex++
	if independent {
		s.info.LastIndependentPartIdx = s.info.NextPartIndex - 1
	}

	if isFinal {
		cur.Complete = true
		s.segmentClosed = true
		s.info.NextSegmentIndex++
		s.info.NextSegmentPartIndex = 0
	}

	s.retainLocked()

	onPart := s.onPart
	segCopy := *cur
	s.mu.Unlock()

	s.cond.Broadcast()
	if onPart != nil {
		onPart(segCopy, part)
	}
	return nil
}

// retainLocked drops all but the most recent maxSegmentsRetained complete
// segments, matching the upstream transcoder job's retain_segments(5)
// call after every batch of appended samples: older segments exist only
// for DVR/recording purposes, which read from object storage instead.
func (s *State) retainLocked() {
	if s.maxSegmentsRetained <= 0 {
		return
	}
	complete := 0
	cut := -1
	for i := len(s.segments) - 1; i >= 0; i-- {
		if s.segments[i].Complete {
			complete++
		}
		if complete > s.maxSegmentsRetained {
			cut = i
			break
		}
	}
	if cut >= 0 {
		s.segments = append([]Segment(nil), s.segments[cut+1:]...)
	}
}

// Finish marks the track complete: the current segment is closed and no
// further parts will ever be appended. Safe to call once; subsequent
// calls are no-ops.
func (s *State) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.finished = true
	if len(s.segments) > 0 {
		s.segments[len(s.segments)-1].Complete = true
	}
	s.segmentClosed = true
	s.cond.Broadcast()
}

// Finished reports whether Finish has been called.
func (s *State) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Snapshot builds a Manifest for publishing. siblings supplies every other
// rendition of the same stream, keyed by rendition name; their current
// RenditionInfo is copied in so the playlist renderer can emit
// EXT-X-RENDITION-REPORT without a round trip. dirty reports false (and a
// nil Manifest) when nothing has changed since the last call with the
// same siblings set and the track is not newly completed — mirroring the
// upstream orchestrator's before-publish diff against previous_segments.
func (s *State) Snapshot(siblings map[string]InfoProvider) (manifest Manifest, dirty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	completed := s.finished
	if !completed && segmentsEqual(s.previousSegments, s.segments) {
		return Manifest{}, false
	}
	s.previousSegments = append([]Segment(nil), s.segments...)

	siblingInfo := make(map[string]RenditionInfo, len(siblings))
	for name, provider := range siblings {
		if name == s.rendition {
			continue
		}
		siblingInfo[name] = provider.Info()
	}

	return Manifest{
		Rendition:   s.rendition,
		Completed:   completed,
		InitID:      s.initID,
		Segments:    append([]Segment(nil), s.segments...),
		Info:        s.info,
		SiblingInfo: siblingInfo,
	}, true
}

// readyLocked reports whether the rendition has advanced strictly past
// (segmentIdx, partIdx), matching the blocked-read predicate
// (next_segment_idx, next_segment_part_idx) > (msn, part).
func (s *State) readyLocked(segmentIdx int64, partIdx uint32) bool {
	if s.info.NextSegmentIndex > segmentIdx {
		return true
	}
	return s.info.NextSegmentIndex == segmentIdx && s.info.NextSegmentPartIndex > partIdx
}

// WaitForPart blocks until the track has advanced strictly past
// (segmentIdx, partIdx), the track finishes, or stop fires. It returns
// true once the target has been reached (or the track finished); false if
// stop fired first.
func (s *State) WaitForPart(stop <-chan struct{}, segmentIdx int64, partIdx uint32) (ready bool) {
	done := make(chan struct{})
	go func() {
		select {
		case <-stop:
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if s.readyLocked(segmentIdx, partIdx) || s.finished {
			return true
		}
		select {
		case <-stop:
			return false
		default:
		}
		s.cond.Wait()
	}
}

// PartData returns the raw fMP4 bytes for one (segment, part) addressed by
// their numeric indices, used by recording/DVR bookkeeping that still
// tracks parts positionally. ok is false once the part has fallen out of
// the retained segment window.
func (s *State) PartData(segmentIdx int64, partIdx uint32) (data []byte, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seg := range s.segments {
		if seg.Index != segmentIdx {
			continue
		}
		for _, p := range seg.Parts {
			if p.Index == partIdx {
				return p.Data, true
			}
		}
	}
	return nil, false
}

// PartByID returns the raw fMP4 bytes for the part addressed by its
// opaque part_id, used by the edge server's media part handler. It also
// resolves the rendition's init_id, since the init segment is served
// through the same endpoint as any other part. ok is false once the part
// has fallen out of the retained segment window (the caller should fall
// back to the recording/DVR store).
func (s *State) PartByID(partID string) (data []byte, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initID != "" && partID == s.initID {
		return s.initData, true
	}
	for _, seg := range s.segments {
		for _, p := range seg.Parts {
			if p.ID == partID {
				return p.Data, true
			}
		}
	}
	return nil, false
}

// SegmentByID returns the concatenation of a closed segment's parts,
// addressed by its opaque segment_id, matching the plain (non-LL) HLS
// segment URI the playlist renders alongside each segment's EXT-X-PART
// lines.
func (s *State) SegmentByID(segmentID string) (data []byte, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seg := range s.segments {
		if seg.ID != segmentID {
			continue
		}
		var total []byte
		for _, p := range seg.Parts {
			total = append(total, p.Data...)
		}
		return total, true
	}
	return nil, false
}

func segmentsEqual(a, b []Segment) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Index != b[i].Index || a[i].Complete != b[i].Complete || len(a[i].Parts) != len(b[i].Parts) {
			return false
		}
	}
	return true
}

// MuxFragment is a convenience wrapper used by the transcoder job to go
// straight from a built fMP4 fragment to an appended track part. timescale
// is the track's media timescale (units per second), used to convert the
// fragment's summed sample durations into the seconds AppendFragment and
// the playlist renderer expect. isFinal is forwarded as-is: the caller
// (split_samples) decides segment boundaries, not this wrapper.
func (s *State) MuxFragment(frag *mp4.Fragment, timescale uint32, isFinal bool) error {
	if frag == nil {
		return coreerrors.NewInternalError("nil fragment")
	}
	if timescale == 0 {
		return coreerrors.NewInternalError("zero timescale")
	}
	data, _ := frag.Mux()
	independent := len(frag.Traf.Samples) > 0 && !frag.Traf.Samples[0].DependsOnOthers
	duration := float64(frag.Traf.Duration()) / float64(timescale)
	return s.AppendFragment(data, duration, independent, isFinal)
}

// newOpaqueID mints a globally unique part_id/segment_id, the same
// construction pkg/session uses for session IDs: 16 bytes of crypto/rand,
// base64url-encoded.
func newOpaqueID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("track: crypto/rand unavailable: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
