package flv

import "testing"

func TestDemuxHeader(t *testing.T) {
	raw := []byte{'F', 'L', 'V', 1, 0x05, 0, 0, 0, 9}
	h, err := DemuxHeader(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !h.HasAudio || !h.HasVideo {
		t.Fatalf("expected both audio and video flags set, got %+v", h)
	}
	if h.DataOffset != 9 {
		t.Fatalf("DataOffset = %d, want 9", h.DataOffset)
	}
}

func TestDemuxHeaderRejectsBadSignature(t *testing.T) {
	raw := []byte{'X', 'X', 'X', 1, 0x05, 0, 0, 0, 9}
	if _, err := DemuxHeader(raw); err == nil {
		t.Fatal("expected error for bad signature")
	}
}

func TestDemuxTag(t *testing.T) {
	body := []byte{0xAF, 0x01, 0x11, 0x22}
	raw := []byte{
		byte(TagAudio), 0, 0, byte(len(body)),
		0, 0, 100, 0,
		0, 0, 0,
	}
	raw = append(raw, body...)

	tag, n, err := DemuxTag(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != len(raw) {
		t.Fatalf("consumed %d bytes, want %d", n, len(raw))
	}
	if tag.Type != TagAudio {
		t.Fatalf("Type = %v, want TagAudio", tag.Type)
	}
	if tag.Timestamp != 100 {
		t.Fatalf("Timestamp = %d, want 100", tag.Timestamp)
	}
	if string(tag.Data) != string(body) {
		t.Fatalf("Data = %v, want %v", tag.Data, body)
	}
}

func TestDemuxAudioAACSequenceHeader(t *testing.T) {
	data := []byte{0xAF, 0x00, 0x12, 0x34}
	at, err := DemuxAudio(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if at.Format != SoundFormatAAC {
		t.Fatalf("Format = %v, want AAC", at.Format)
	}
	if at.AACType != AACSequenceHeader {
		t.Fatalf("AACType = %v, want sequence header", at.AACType)
	}
	if len(at.Body) != 2 {
		t.Fatalf("Body len = %d, want 2", len(at.Body))
	}
}

func TestDemuxVideoLegacyAVC(t *testing.T) {
	data := []byte{0x17, 0x01, 0x00, 0x00, 0x00, 0xDE, 0xAD}
	vt, err := DemuxVideo(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vt.Frame != FrameKey {
		t.Fatalf("Frame = %v, want key frame", vt.Frame)
	}
	if vt.Codec != VideoCodecAVC {
		t.Fatalf("Codec = %v, want AVC", vt.Codec)
	}
	if vt.PacketType != AVCNALU {
		t.Fatalf("PacketType = %v, want NALU", vt.PacketType)
	}
}

func TestDemuxVideoEnhancedAV1(t *testing.T) {
	data := append([]byte{0x90, 'a', 'v', '0', '1'}, []byte{0xCA, 0xFE}...)
	vt, err := DemuxVideo(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vt.Codec != VideoCodecAV1 {
		t.Fatalf("Codec = %v, want AV1", vt.Codec)
	}
	if vt.PacketType != AVCSequenceHeader {
		t.Fatalf("PacketType = %v, want sequence header", vt.PacketType)
	}
}
