package track

import (
	"testing"
	"time"
)

func TestAppendFragmentResetsPartIndexPerSegmentButNotGlobalCounter(t *testing.T) {
	s := NewState("720p", 1.0, 2.0, 5)

	s.AppendFragment([]byte{1}, 1.0, true, false)  // seg 0 part 0
	s.AppendFragment([]byte{2}, 1.0, false, true)  // seg 0 part 1, marked final -> closes seg 0
	s.AppendFragment([]byte{3}, 1.0, true, false)  // opens seg 1, part 0

	info := s.Info()
	if info.NextSegmentIndex != 1 {
		t.Fatalf("NextSegmentIndex = %d, want 1 (seg 1 is still open)", info.NextSegmentIndex)
	}
	if info.NextPartIndex != 3 {
		t.Fatalf("NextPartIndex = %d, want 3 (monotonic across segments)", info.NextPartIndex)
	}

	m, dirty := s.Snapshot(nil)
	if !dirty {
		t.Fatal("expected dirty snapshot after appends")
	}
	if len(m.Segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(m.Segments))
	}
	if !m.Segments[0].Complete {
		t.Fatal("expected first segment to be marked complete")
	}
	if got := m.Segments[1].Parts[0].Index; got != 0 {
		t.Fatalf("expected the second segment's first part to reset to part_idx 0, got %d", got)
	}
}

func TestAppendFragmentRejectsNonIndependentFirstPartOfSegment(t *testing.T) {
	s := NewState("720p", 1.0, 2.0, 5)
	if err := s.AppendFragment([]byte{1}, 1.0, false, false); err == nil {
		t.Fatal("expected an error when the first part of a new segment is not independent")
	}
}

func TestLastIndependentPartIdxTracksGlobalCounter(t *testing.T) {
	s := NewState("720p", 1.0, 2.0, 5)
	s.AppendFragment([]byte{1}, 1.0, true, false)  // global part 0, independent
	s.AppendFragment([]byte{2}, 1.0, false, true)  // global part 1, closes segment
	s.AppendFragment([]byte{3}, 1.0, true, false)  // global part 2, independent, new segment

	info := s.Info()
	if info.LastIndependentPartIdx != 2 {
		t.Fatalf("LastIndependentPartIdx = %d, want 2 (the global part index, not the segment-local one)", info.LastIndependentPartIdx)
	}
}

func TestSnapshotDirtyCheck(t *testing.T) {
	s := NewState("720p", 1.0, 2.0, 5)
	s.AppendFragment([]byte{1}, 1.0, true, false)

	_, dirty := s.Snapshot(nil)
	if !dirty {
		t.Fatal("expected first snapshot to be dirty")
	}
	_, dirty = s.Snapshot(nil)
	if dirty {
		t.Fatal("expected second snapshot with no new data to not be dirty")
	}

	s.AppendFragment([]byte{2}, 1.0, false, false)
	_, dirty = s.Snapshot(nil)
	if !dirty {
		t.Fatal("expected snapshot to be dirty again after a new append")
	}
}

func TestFinishMarksCompletedAndWakesWaiters(t *testing.T) {
	s := NewState("720p", 1.0, 2.0, 5)
	s.AppendFragment([]byte{1}, 1.0, true, false)

	done := make(chan bool, 1)
	go func() {
		done <- s.WaitForPart(nil, 5, 0)
	}()

	time.Sleep(10 * time.Millisecond)
	s.Finish()

	select {
	case ready := <-done:
		if !ready {
			t.Fatal("expected WaitForPart to return true once the track finished")
		}
	case <-time.After(time.Second):
		t.Fatal("WaitForPart did not wake up after Finish")
	}

	m, _ := s.Snapshot(nil)
	if !m.Completed {
		t.Fatal("expected manifest to report Completed")
	}
}

func TestWaitForPartReturnsImmediatelyWhenAlreadyAvailable(t *testing.T) {
	s := NewState("720p", 1.0, 2.0, 5)
	s.AppendFragment([]byte{1}, 1.0, true, false)

	ready := s.WaitForPart(nil, 0, 0)
	if !ready {
		t.Fatal("expected WaitForPart to see the already-appended part")
	}
}

func TestPartDataReturnsAppendedBytesAndMissReportsNotOK(t *testing.T) {
	s := NewState("720p", 1.0, 2.0, 5)
	s.AppendFragment([]byte{9, 9}, 1.0, true, false)

	data, ok := s.PartData(0, 0)
	if !ok || len(data) != 2 {
		t.Fatalf("expected part 0/0 to be found with 2 bytes, got ok=%v data=%v", ok, data)
	}

	if _, ok := s.PartData(0, 5); ok {
		t.Fatal("expected a miss for a part index that was never appended")
	}
	if _, ok := s.PartData(7, 0); ok {
		t.Fatal("expected a miss for a segment index that was never opened")
	}
}

func TestPartByIDResolvesPartsAndInitSegment(t *testing.T) {
	s := NewState("720p", 1.0, 2.0, 5)
	initID := s.SetInit([]byte("moov"))
	s.AppendFragment([]byte{9, 9}, 1.0, true, false)

	if data, ok := s.PartByID(initID); !ok || string(data) != "moov" {
		t.Fatalf("expected init id to resolve to the init bytes, got ok=%v data=%v", ok, data)
	}

	m, _ := s.Snapshot(nil)
	partID := m.Segments[0].Parts[0].ID
	data, ok := s.PartByID(partID)
	if !ok || len(data) != 2 {
		t.Fatalf("expected part id to resolve to the appended bytes, got ok=%v data=%v", ok, data)
	}

	if _, ok := s.PartByID("nonexistent"); ok {
		t.Fatal("expected a miss for an unknown part id")
	}
}

func TestSegmentByIDConcatenatesParts(t *testing.T) {
	s := NewState("720p", 1.0, 2.0, 5)
	s.AppendFragment([]byte{1}, 0.1, true, false)
	s.AppendFragment([]byte{2}, 0.1, false, true)

	m, _ := s.Snapshot(nil)
	segID := m.Segments[0].ID
	data, ok := s.SegmentByID(segID)
	if !ok {
		t.Fatal("expected the closed segment to resolve by id")
	}
	if string(data) != "\x01\x02" {
		t.Fatalf("expected concatenated part bytes, got %v", data)
	}
}

func TestSetInitIsIdempotent(t *testing.T) {
	s := NewState("720p", 1.0, 2.0, 5)
	first := s.SetInit([]byte("a"))
	second := s.SetInit([]byte("b"))
	if first != second {
		t.Fatal("expected SetInit to keep the first id/bytes across repeated calls")
	}
	data, _ := s.PartByID(first)
	if string(data) != "a" {
		t.Fatalf("expected the first SetInit call's bytes to stick, got %q", data)
	}
}

type fakeInfoProvider struct{ info RenditionInfo }

func (f fakeInfoProvider) Info() RenditionInfo { return f.info }

func TestSnapshotBuildsSiblingInfoExcludingSelf(t *testing.T) {
	s := NewState("720p", 1.0, 2.0, 5)
	s.AppendFragment([]byte{1}, 1.0, true, false)

	siblings := map[string]InfoProvider{
		"720p": fakeInfoProvider{info: RenditionInfo{NextPartIndex: 99}},
		"360p": fakeInfoProvider{info: RenditionInfo{NextPartIndex: 3}},
	}
	m, _ := s.Snapshot(siblings)
	if _, ok := m.SiblingInfo["720p"]; ok {
		t.Fatal("manifest's own rendition must not appear in SiblingInfo")
	}
	if got := m.SiblingInfo["360p"].NextPartIndex; got != 3 {
		t.Fatalf("SiblingInfo[360p].NextPartIndex = %d, want 3", got)
	}
}
