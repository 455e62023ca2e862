package edge

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/scufflelive/corevideo/pkg/track"
)

func TestWriteM3U8IncludesPartsAndSiblingReports(t *testing.T) {
	m := track.Manifest{
		Rendition: "720p",
		InitID:    "init1",
		Segments: []track.Segment{
			{Index: 0, ID: "seg0", Complete: true, Parts: []track.Part{
				{Index: 0, ID: "p0", Duration: 1.0, Independent: true},
				{Index: 1, ID: "p1", Duration: 1.0},
			}},
			{Index: 1, ID: "seg1", Parts: []track.Part{
				{Index: 0, ID: "p2", Duration: 1.0, Independent: true},
			}},
		},
		Info: track.RenditionInfo{NextSegmentIndex: 1, NextSegmentPartIndex: 1},
		SiblingInfo: map[string]track.RenditionInfo{
			"360p": {NextSegmentIndex: 2, NextSegmentPartIndex: 0},
		},
	}

	rec := httptest.NewRecorder()
	writeM3U8(rec, "org1", "room1", m, HLSConfig{})
	body := rec.Body.String()

	if !strings.Contains(body, "#EXTM3U") {
		t.Fatal("missing #EXTM3U header")
	}
	if !strings.Contains(body, "/org1/room1/seg0.mp4") {
		t.Fatal("expected completed segment 0 to be listed by its segment_id")
	}
	if strings.Contains(body, "/org1/room1/seg1.mp4") {
		t.Fatal("incomplete segment 1 must not be listed as a full segment")
	}
	if !strings.Contains(body, "INDEPENDENT=YES") {
		t.Fatal("expected at least one INDEPENDENT=YES part")
	}
	if !strings.Contains(body, "EXT-X-RENDITION-REPORT") {
		t.Fatal("expected a rendition report for the sibling")
	}
	if !strings.Contains(body, `EXT-X-MAP:URI="/org1/room1/init1.mp4"`) {
		t.Fatal("expected an EXT-X-MAP line pointing at the init segment")
	}
}

func TestWriteM3U8MarksEndlistWhenCompleted(t *testing.T) {
	m := track.Manifest{Rendition: "720p", Completed: true}
	rec := httptest.NewRecorder()
	writeM3U8(rec, "org1", "room1", m, HLSConfig{})
	body := rec.Body.String()
	if !strings.Contains(body, "#EXT-X-ENDLIST") {
		t.Fatal("expected #EXT-X-ENDLIST for a completed manifest")
	}
	if !strings.Contains(body, "#EXT-X-VERSION:6") {
		t.Fatal("expected version 6 for a finished (recording) playlist")
	}
	if strings.Contains(body, "EXT-X-RENDITION-REPORT") {
		t.Fatal("a finished playlist has no further sibling reports to advertise")
	}
}

func TestWriteM3U8SkipElidesOlderSegments(t *testing.T) {
	m := track.Manifest{
		Rendition: "720p",
		Segments: []track.Segment{
			{Index: 0, ID: "seg0", Complete: true, Parts: []track.Part{{Index: 0, ID: "p0", Duration: 1.0, Independent: true}}},
			{Index: 1, ID: "seg1", Complete: true, Parts: []track.Part{{Index: 0, ID: "p1", Duration: 1.0, Independent: true}}},
			{Index: 2, ID: "seg2", Complete: true, Parts: []track.Part{{Index: 0, ID: "p2", Duration: 1.0, Independent: true}}},
		},
	}
	rec := httptest.NewRecorder()
	writeM3U8(rec, "org1", "room1", m, HLSConfig{Skip: true})
	body := rec.Body.String()
	if !strings.Contains(body, "EXT-X-SKIP:SKIPPED-SEGMENTS=1") {
		t.Fatalf("expected exactly 1 segment skipped, got body: %s", body)
	}
	if strings.Contains(body, "/org1/room1/seg0.mp4") {
		t.Fatal("skipped segment should not be rendered")
	}
}

func TestWriteM3U8DVREnabledAppendsSkipUntil(t *testing.T) {
	m := track.Manifest{Rendition: "720p"}
	rec := httptest.NewRecorder()
	writeM3U8(rec, "org1", "room1", m, HLSConfig{DVR: true})
	body := rec.Body.String()
	if !strings.Contains(body, "#EXT-X-VERSION:9") {
		t.Fatal("expected version 9 when DVR tags are present")
	}
	if !strings.Contains(body, "#EXT-X-SERVER-CONTROL:PART-HOLD-BACK=0.750,CAN-BLOCK-RELOAD=YES,SKIP-UNTIL=15") {
		t.Fatal("expected SKIP-UNTIL=15 appended to SERVER-CONTROL when DVR is enabled")
	}
}

// TestWriteM3U8LiteralS6Scenario asserts the exact byte-for-byte playlist
// text for the one-segment, one-part, live, non-DVR scenario: one
// rendition with one closed segment idx=0 holding one 0.200s part, init
// id "I", part id "P", segment id "S", and one sibling rendition
// "audio_stereo" at (0,1).
func TestWriteM3U8LiteralS6Scenario(t *testing.T) {
	m := track.Manifest{
		Rendition: "video",
		InitID:    "I",
		Segments: []track.Segment{
			{Index: 0, ID: "S", Complete: true, Parts: []track.Part{
				{Index: 0, ID: "P", Duration: 0.200, Independent: true},
			}},
		},
		Info: track.RenditionInfo{NextSegmentIndex: 1, NextSegmentPartIndex: 0},
		SiblingInfo: map[string]track.RenditionInfo{
			"audio_stereo": {NextSegmentIndex: 0, NextSegmentPartIndex: 1},
		},
	}

	want := "" +
		"#EXTM3U\n" +
		"#EXT-X-VERSION:7\n" +
		"#EXT-X-TARGETDURATION:5\n" +
		"#EXT-X-MEDIA-SEQUENCE:0\n" +
		"#EXT-DISCONTINUITY-SEQUENCE:0\n" +
		"#EXT-X-PART-INF:PART-TARGET=0.250\n" +
		"#EXT-X-SERVER-CONTROL:PART-HOLD-BACK=0.750,CAN-BLOCK-RELOAD=YES\n" +
		"#EXT-X-MAP:URI=\"/ORG/ROOM/I.mp4\"\n" +
		"#EXT-X-PART:DURATION=0.200,URI=\"/ORG/ROOM/P.mp4\",INDEPENDENT=YES\n" +
		"#EXTINF:0.200,\n" +
		"/ORG/ROOM/S.mp4\n" +
		"#EXT-X-RENDITION-REPORT:URI=\"./audio_stereo.m3u8\",LAST-MSN=0,LAST-PART=1\n"

	rec := httptest.NewRecorder()
	writeM3U8(rec, "ORG", "ROOM", m, HLSConfig{})
	if got := rec.Body.String(); got != want {
		t.Fatalf("playlist mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}
