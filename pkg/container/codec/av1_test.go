package codec

import "testing"

func TestAV1CodecConfigurationRecordRoundTrip(t *testing.T) {
	rec := &AV1CodecConfigurationRecord{
		SeqProfile:                      0,
		SeqLevelIdx0:                    8,
		SeqTier0:                        false,
		HighBitdepth:                    false,
		TwelveBit:                       false,
		Monochrome:                      false,
		ChromaSubsamplingX:              true,
		ChromaSubsamplingY:              true,
		ChromaSamplePosition:            0,
		InitialPresentationDelayPresent: true,
		InitialPresentationDelayMinusOne: 5,
		ConfigOBUs:                      []byte{0x0A, 0x0B, 0x0C},
	}

	muxed := rec.Mux()
	got, err := DemuxAV1CodecConfigurationRecord(muxed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.SeqProfile != rec.SeqProfile || got.SeqLevelIdx0 != rec.SeqLevelIdx0 {
		t.Fatalf("seq profile/level mismatch: %+v", got)
	}
	if got.ChromaSubsamplingX != rec.ChromaSubsamplingX || got.ChromaSubsamplingY != rec.ChromaSubsamplingY {
		t.Fatalf("chroma subsampling mismatch: %+v", got)
	}
	if !got.InitialPresentationDelayPresent || got.InitialPresentationDelayMinusOne != 5 {
		t.Fatalf("initial presentation delay mismatch: %+v", got)
	}
	if string(got.ConfigOBUs) != string(rec.ConfigOBUs) {
		t.Fatalf("ConfigOBUs round-trip mismatch: %v", got.ConfigOBUs)
	}
}

func TestAV1CodecConfigurationRecordNoPresentationDelay(t *testing.T) {
	rec := &AV1CodecConfigurationRecord{SeqProfile: 1, SeqLevelIdx0: 12, ConfigOBUs: []byte{0x01}}
	muxed := rec.Mux()
	got, err := DemuxAV1CodecConfigurationRecord(muxed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.InitialPresentationDelayPresent {
		t.Fatal("expected InitialPresentationDelayPresent to be false")
	}
}
