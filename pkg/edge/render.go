package edge

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/scufflelive/corevideo/pkg/track"
)

// jsonManifest is the wire shape for _SCUFFLE_json=YES responses: the same
// information an M3U8 would carry, already structured for a JS player that
// would rather not parse playlist text.
type jsonManifest struct {
	Rendition string                        `json:"rendition"`
	Completed bool                          `json:"completed"`
	InitURI   string                        `json:"init_uri,omitempty"`
	Segments  []jsonSegment                 `json:"segments"`
	Siblings  map[string]track.RenditionInfo `json:"siblings,omitempty"`
}

type jsonSegment struct {
	Index    int64      `json:"index"`
	URI      string     `json:"uri,omitempty"`
	Complete bool       `json:"complete"`
	Parts    []jsonPart `json:"parts"`
}

type jsonPart struct {
	Index       uint32  `json:"index"`
	URI         string  `json:"uri"`
	Duration    float64 `json:"duration"`
	Independent bool    `json:"independent"`
}

func writeJSONManifest(w http.ResponseWriter, org, room string, m track.Manifest) {
	out := jsonManifest{
		Rendition: m.Rendition,
		Completed: m.Completed,
		Siblings:  m.SiblingInfo,
	}
	if m.InitID != "" {
		out.InitURI = partURI(org, room, m.InitID)
	}
	for _, seg := range m.Segments {
		js := jsonSegment{Index: seg.Index, Complete: seg.Complete}
		if seg.Complete {
			js.URI = partURI(org, room, seg.ID)
		}
		for _, p := range seg.Parts {
			js.Parts = append(js.Parts, jsonPart{
				Index:       p.Index,
				URI:         partURI(org, room, p.ID),
				Duration:    p.Duration,
				Independent: p.Independent,
			})
		}
		out.Segments = append(out.Segments, js)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// partURI builds the literal, prefix-free media part path the edge server
// exposes: GET /{org}/{room}/{part_id}.mp4.
func partURI(org, room, id string) string {
	return fmt.Sprintf("/%s/%s/%s.mp4", org, room, id)
}

const (
	targetDuration  = 5
	partTargetSecs  = 0.250
	partHoldBackSec = 0.750
	dvrSkipUntil    = 15
)

// writeM3U8 renders an LL-HLS media playlist for manifest, following
// spec's literal rendering rules bit for bit: a fixed TARGETDURATION and
// PART-TARGET, a version that depends on whether the playlist is a
// finished recording or carries DVR skip tags, and one EXT-X-PART per
// buffered part plus an EXTINF/segment URI once a segment closes. skip
// (from _HLS_skip) replaces every segment but the last two (their
// EXT-X-PART, EXTINF and URI lines alike) with one EXT-X-SKIP tag, per the
// delta-update convention. This
// implementation never emits EXT-X-PRELOAD-HINT: parts are only minted
// once fully muxed, so there is never a "currently pre-fetchable" partial
// part to hint at.
func writeM3U8(w http.ResponseWriter, org, room string, m track.Manifest, cfg HLSConfig) {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")

	version := 7
	switch {
	case m.Completed:
		version = 6
	case cfg.DVR:
		version = 9
	}
	fmt.Fprintf(&b, "#EXT-X-VERSION:%d\n", version)
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", targetDuration)

	if len(m.Segments) == 0 {
		b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	} else {
		fmt.Fprintf(&b, "#EXT-X-MEDIA-SEQUENCE:%d\n", m.Segments[0].Index)
	}
	b.WriteString("#EXT-DISCONTINUITY-SEQUENCE:0\n")

	if !m.Completed {
		fmt.Fprintf(&b, "#EXT-X-PART-INF:PART-TARGET=%.3f\n", partTargetSecs)
		if cfg.DVR {
			fmt.Fprintf(&b, "#EXT-X-SERVER-CONTROL:PART-HOLD-BACK=%.3f,CAN-BLOCK-RELOAD=YES,SKIP-UNTIL=%d\n", partHoldBackSec, dvrSkipUntil)
		} else {
			fmt.Fprintf(&b, "#EXT-X-SERVER-CONTROL:PART-HOLD-BACK=%.3f,CAN-BLOCK-RELOAD=YES\n", partHoldBackSec)
		}
	}

	if m.InitID != "" {
		fmt.Fprintf(&b, "#EXT-X-MAP:URI=%q\n", partURI(org, room, m.InitID))
	}

	skipCount := 0
	segments := m.Segments
	if cfg.Skip && len(segments) > 2 {
		skipCount = len(segments) - 2
		fmt.Fprintf(&b, "#EXT-X-SKIP:SKIPPED-SEGMENTS=%d\n", skipCount)
		segments = segments[skipCount:]
	}

	for _, seg := range segments {
		for _, p := range seg.Parts {
			fmt.Fprintf(&b, "#EXT-X-PART:DURATION=%.3f,URI=%q", p.Duration, partURI(org, room, p.ID))
			if p.Independent {
				b.WriteString(",INDEPENDENT=YES")
			}
			b.WriteString("\n")
		}
		if seg.Complete {
			fmt.Fprintf(&b, "#EXTINF:%.3f,\n", segmentDuration(seg))
			fmt.Fprintf(&b, "%s\n", partURI(org, room, seg.ID))
		}
	}

	if !m.Completed {
		for name, info := range m.SiblingInfo {
			fmt.Fprintf(&b, "#EXT-X-RENDITION-REPORT:URI=\"./%s.m3u8\",LAST-MSN=%d,LAST-PART=%d\n",
				name, info.NextSegmentIndex, info.NextSegmentPartIndex)
		}
	}

	if m.Completed {
		b.WriteString("#EXT-X-ENDLIST\n")
	}

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Write([]byte(b.String()))
}

func segmentDuration(seg track.Segment) float64 {
	var total float64
	for _, p := range seg.Parts {
		total += p.Duration
	}
	return total
}
