// Package codec parses and serializes the decoder configuration records
// carried in FLV/enhanced-RTMP sequence headers and referenced by the
// fragmented MP4 muxer's sample entry boxes (avcC/hvcC/av1C/esds).
package codec

import (
	"fmt"

	coreerrors "github.com/scufflelive/corevideo/pkg/errors"
)

// AVCExtendedConfig is the high-profile tail of an
// AVCDecoderConfigurationRecord, present only when ProfileIndication is not
// one of the baseline/main/extended profiles and bytes remain.
type AVCExtendedConfig struct {
	ChromaFormat         uint8
	BitDepthLumaMinus8   uint8
	BitDepthChromaMinus8 uint8
	SPSExt               [][]byte
}

// AVCDecoderConfigurationRecord is the avcC box payload: SPS/PPS NAL units
// plus the profile/level/NALU-length-size metadata decoders need before
// the first frame.
type AVCDecoderConfigurationRecord struct {
	ConfigurationVersion uint8
	ProfileIndication    uint8
	ProfileCompatibility uint8
	LevelIndication      uint8
	LengthSizeMinusOne   uint8
	SPS                  [][]byte
	PPS                  [][]byte
	Extended             *AVCExtendedConfig
}

// baseline/main/extended profiles never carry the high-profile extended
// tail (chroma format + bit depth + SPS extensions).
var noExtendedConfigProfiles = map[uint8]bool{66: true, 77: true, 88: true}

// DemuxAVCDecoderConfigurationRecord parses an avcC payload.
func DemuxAVCDecoderConfigurationRecord(b []byte) (*AVCDecoderConfigurationRecord, error) {
	r := &reader{b: b}
	rec := &AVCDecoderConfigurationRecord{}

	rec.ConfigurationVersion = r.u8()
	rec.ProfileIndication = r.u8()
	rec.ProfileCompatibility = r.u8()
	rec.LevelIndication = r.u8()
	rec.LengthSizeMinusOne = r.u8() & 0b11

	numSPS := r.u8() & 0b11111
	for i := uint8(0); i < numSPS; i++ {
		n := r.u16()
		rec.SPS = append(rec.SPS, r.bytes(int(n)))
	}

	numPPS := r.u8()
	for i := uint8(0); i < numPPS; i++ {
		n := r.u16()
		rec.PPS = append(rec.PPS, r.bytes(int(n)))
	}

	if !noExtendedConfigProfiles[rec.ProfileIndication] && r.remaining() > 0 {
		ext := &AVCExtendedConfig{}
		b := r.u8()
		ext.ChromaFormat = b & 0b11
		b = r.u8()
		ext.BitDepthLumaMinus8 = b & 0b111
		b = r.u8()
		ext.BitDepthChromaMinus8 = b & 0b111
		numSPSExt := r.u8()
		for i := uint8(0); i < numSPSExt; i++ {
			n := r.u16()
			ext.SPSExt = append(ext.SPSExt, r.bytes(int(n)))
		}
		rec.Extended = ext
	}

	if err := r.err; err != nil {
		return nil, coreerrors.NewCodecError("demux avc decoder configuration record", err)
	}
	return rec, nil
}

// Mux serializes the record back to its avcC byte layout.
func (rec *AVCDecoderConfigurationRecord) Mux() []byte {
	w := &writer{}
	w.u8(rec.ConfigurationVersion)
	w.u8(rec.ProfileIndication)
	w.u8(rec.ProfileCompatibility)
	w.u8(rec.LevelIndication)
	w.u8(0b11111100 | rec.LengthSizeMinusOne)

	w.u8(0b11100000 | uint8(len(rec.SPS)))
	for _, sps := range rec.SPS {
		w.u16(uint16(len(sps)))
		w.bytes(sps)
	}

	w.u8(uint8(len(rec.PPS)))
	for _, pps := range rec.PPS {
		w.u16(uint16(len(pps)))
		w.bytes(pps)
	}

	if rec.Extended != nil && !noExtendedConfigProfiles[rec.ProfileIndication] {
		w.u8(0b11111100 | rec.Extended.ChromaFormat)
		w.u8(0b11111000 | rec.Extended.BitDepthLumaMinus8)
		w.u8(0b11111000 | rec.Extended.BitDepthChromaMinus8)
		w.u8(uint8(len(rec.Extended.SPSExt)))
		for _, ext := range rec.Extended.SPSExt {
			w.u16(uint16(len(ext)))
			w.bytes(ext)
		}
	}

	return w.buf
}

// reader/writer are tiny big-endian byte cursors shared by every codec
// configuration record in this package; they carry the first error hit so
// callers can check once at the end instead of after every field.

type reader struct {
	b   []byte
	pos int
	err error
}

func (r *reader) remaining() int { return len(r.b) - r.pos }

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.pos+n > len(r.b) {
		r.err = fmt.Errorf("need %d bytes, have %d", n, r.remaining())
		return false
	}
	return true
}

func (r *reader) u8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.b[r.pos]
	r.pos++
	return v
}

func (r *reader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := uint16(r.b[r.pos])<<8 | uint16(r.b[r.pos+1])
	r.pos += 2
	return v
}

func (r *reader) bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	v := r.b[r.pos : r.pos+n]
	r.pos += n
	return v
}

type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8)    { w.buf = append(w.buf, v) }
func (w *writer) u16(v uint16)  { w.buf = append(w.buf, byte(v>>8), byte(v)) }
func (w *writer) bytes(b []byte) { w.buf = append(w.buf, b...) }
