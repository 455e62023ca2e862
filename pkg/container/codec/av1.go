package codec

import coreerrors "github.com/scufflelive/corevideo/pkg/errors"

// AV1CodecConfigurationRecord is the av1C box payload: sequence-level
// profile/level/bit-depth metadata plus the raw sequence-header OBU(s) a
// decoder needs before the first frame.
type AV1CodecConfigurationRecord struct {
	SeqProfile                       uint8
	SeqLevelIdx0                     uint8
	SeqTier0                         bool
	HighBitdepth                     bool
	TwelveBit                        bool
	Monochrome                       bool
	ChromaSubsamplingX               bool
	ChromaSubsamplingY               bool
	ChromaSamplePosition             uint8
	InitialPresentationDelayPresent  bool
	InitialPresentationDelayMinusOne uint8
	ConfigOBUs                       []byte
}

// DemuxAV1CodecConfigurationRecord parses an av1C payload.
func DemuxAV1CodecConfigurationRecord(b []byte) (*AV1CodecConfigurationRecord, error) {
	r := &reader{b: b}
	rec := &AV1CodecConfigurationRecord{}

	b0 := r.u8() // marker(1) | version(7), both fixed, not carried
	_ = b0

	b1 := r.u8()
	rec.SeqProfile = b1 >> 5
	rec.SeqLevelIdx0 = b1 & 0x1F

	b2 := r.u8()
	rec.SeqTier0 = b2&0x80 != 0
	rec.HighBitdepth = b2&0x40 != 0
	rec.TwelveBit = b2&0x20 != 0
	rec.Monochrome = b2&0x10 != 0
	rec.ChromaSubsamplingX = b2&0x08 != 0
	rec.ChromaSubsamplingY = b2&0x04 != 0
	rec.ChromaSamplePosition = b2 & 0x03

	b3 := r.u8()
	rec.InitialPresentationDelayPresent = b3&0x10 != 0
	if rec.InitialPresentationDelayPresent {
		rec.InitialPresentationDelayMinusOne = b3 & 0x0F
	}

	rec.ConfigOBUs = r.bytes(r.remaining())

	if err := r.err; err != nil {
		return nil, coreerrors.NewCodecError("demux av1 codec configuration record", err)
	}
	return rec, nil
}

// Mux serializes the record back to its av1C byte layout.
func (rec *AV1CodecConfigurationRecord) Mux() []byte {
	w := &writer{}
	w.u8(0x80 | 1) // marker=1, version=1

	w.u8(rec.SeqProfile<<5 | rec.SeqLevelIdx0&0x1F)

	var b2 uint8
	if rec.SeqTier0 {
		b2 |= 0x80
	}
	if rec.HighBitdepth {
		b2 |= 0x40
	}
	if rec.TwelveBit {
		b2 |= 0x20
	}
	if rec.Monochrome {
		b2 |= 0x10
	}
	if rec.ChromaSubsamplingX {
		b2 |= 0x08
	}
	if rec.ChromaSubsamplingY {
		b2 |= 0x04
	}
	b2 |= rec.ChromaSamplePosition & 0x03
	w.u8(b2)

	var b3 uint8
	if rec.InitialPresentationDelayPresent {
		b3 |= 0x10
		b3 |= rec.InitialPresentationDelayMinusOne & 0x0F
	}
	w.u8(b3)

	w.bytes(rec.ConfigOBUs)
	return w.buf
}
