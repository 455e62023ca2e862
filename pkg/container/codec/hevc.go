package codec

import coreerrors "github.com/scufflelive/corevideo/pkg/errors"

// HEVCNaluType identifies which parameter set a hvcC array holds.
type HEVCNaluType uint8

const (
	HEVCNaluVPS HEVCNaluType = 32
	HEVCNaluSPS HEVCNaluType = 33
	HEVCNaluPPS HEVCNaluType = 34
)

// HEVCNaluArray is one VPS/SPS/PPS group inside an hvcC record. A record
// may carry several arrays of the same nal_unit_type; the core always
// writes exactly one VPS, one SPS and one PPS array.
type HEVCNaluArray struct {
	ArrayCompleteness bool
	NaluType          HEVCNaluType
	Nalus             [][]byte
}

// HEVCDecoderConfigurationRecord is the hvcC box payload (ISO/IEC
// 14496-15 8.3.2.1): codec profile/level/framerate metadata plus the
// VPS/SPS/PPS NAL units an HEVC decoder needs before the first frame.
type HEVCDecoderConfigurationRecord struct {
	ConfigurationVersion               uint8
	GeneralProfileSpace                uint8
	GeneralTierFlag                    bool
	GeneralProfileIDC                  uint8
	GeneralProfileCompatibilityFlags   uint32
	GeneralConstraintIndicatorFlags    uint64 // 48 bits used
	GeneralLevelIDC                    uint8
	MinSpatialSegmentationIDC          uint16
	ParallelismType                    uint8
	ChromaFormatIDC                    uint8
	BitDepthLumaMinus8                 uint8
	BitDepthChromaMinus8               uint8
	AvgFrameRate                       uint16
	ConstantFrameRate                  uint8
	NumTemporalLayers                  uint8
	TemporalIDNested                   bool
	LengthSizeMinusOne                 uint8
	Arrays                             []HEVCNaluArray
}

// DemuxHEVCDecoderConfigurationRecord parses an hvcC payload. The
// compatibility/constraint flag fields are little-endian, matching the
// byte layout real hvcC payloads use on the wire despite the rest of the
// record (and every other field in this package) being big-endian.
func DemuxHEVCDecoderConfigurationRecord(b []byte) (*HEVCDecoderConfigurationRecord, error) {
	r := &reader{b: b}
	rec := &HEVCDecoderConfigurationRecord{}

	rec.ConfigurationVersion = r.u8()

	b1 := r.u8()
	rec.GeneralProfileSpace = b1 >> 6
	rec.GeneralTierFlag = b1&0x20 != 0
	rec.GeneralProfileIDC = b1 & 0x1F

	rec.GeneralProfileCompatibilityFlags = r.u32le()
	rec.GeneralConstraintIndicatorFlags = r.u48le()
	rec.GeneralLevelIDC = r.u8()

	seg := r.u16()
	rec.MinSpatialSegmentationIDC = seg & 0x0FFF

	rec.ParallelismType = r.u8() & 0x03
	rec.ChromaFormatIDC = r.u8() & 0x03
	rec.BitDepthLumaMinus8 = r.u8() & 0x07
	rec.BitDepthChromaMinus8 = r.u8() & 0x07
	rec.AvgFrameRate = r.u16()

	b21 := r.u8()
	rec.ConstantFrameRate = b21 >> 6
	rec.NumTemporalLayers = (b21 >> 3) & 0x07
	rec.TemporalIDNested = b21&0x04 != 0
	rec.LengthSizeMinusOne = b21 & 0x03

	numArrays := r.u8()
	for i := uint8(0); i < numArrays; i++ {
		hdr := r.u8()
		array := HEVCNaluArray{
			ArrayCompleteness: hdr&0x80 != 0,
			NaluType:          HEVCNaluType(hdr & 0x3F),
		}
		numNalus := r.u16()
		for j := uint16(0); j < numNalus; j++ {
			n := r.u16()
			array.Nalus = append(array.Nalus, r.bytes(int(n)))
		}
		rec.Arrays = append(rec.Arrays, array)
	}

	if err := r.err; err != nil {
		return nil, coreerrors.NewCodecError("demux hevc decoder configuration record", err)
	}
	return rec, nil
}

// Mux serializes the record back to its hvcC byte layout.
func (rec *HEVCDecoderConfigurationRecord) Mux() []byte {
	w := &writer{}
	w.u8(rec.ConfigurationVersion)

	b1 := rec.GeneralProfileSpace<<6 | rec.GeneralProfileIDC&0x1F
	if rec.GeneralTierFlag {
		b1 |= 0x20
	}
	w.u8(b1)

	w.u32le(rec.GeneralProfileCompatibilityFlags)
	w.u48le(rec.GeneralConstraintIndicatorFlags)
	w.u8(rec.GeneralLevelIDC)

	w.u16(0xF000 | rec.MinSpatialSegmentationIDC&0x0FFF)
	w.u8(0xFC | rec.ParallelismType&0x03)
	w.u8(0xFC | rec.ChromaFormatIDC&0x03)
	w.u8(0xF8 | rec.BitDepthLumaMinus8&0x07)
	w.u8(0xF8 | rec.BitDepthChromaMinus8&0x07)
	w.u16(rec.AvgFrameRate)

	b21 := rec.ConstantFrameRate<<6 | rec.NumTemporalLayers<<3 | rec.LengthSizeMinusOne&0x03
	if rec.TemporalIDNested {
		b21 |= 0x04
	}
	w.u8(b21)

	w.u8(uint8(len(rec.Arrays)))
	for _, array := range rec.Arrays {
		hdr := uint8(array.NaluType) & 0x3F
		if array.ArrayCompleteness {
			hdr |= 0x80
		}
		w.u8(hdr)
		w.u16(uint16(len(array.Nalus)))
		for _, nalu := range array.Nalus {
			w.u16(uint16(len(nalu)))
			w.bytes(nalu)
		}
	}

	return w.buf
}

// VPS, SPS and PPS return the first NAL unit of each type carried in the
// record's arrays, or nil if that type was not present.
func (rec *HEVCDecoderConfigurationRecord) VPS() []byte { return rec.firstNalu(HEVCNaluVPS) }
func (rec *HEVCDecoderConfigurationRecord) SPS() []byte { return rec.firstNalu(HEVCNaluSPS) }
func (rec *HEVCDecoderConfigurationRecord) PPS() []byte { return rec.firstNalu(HEVCNaluPPS) }

func (rec *HEVCDecoderConfigurationRecord) firstNalu(t HEVCNaluType) []byte {
	for _, array := range rec.Arrays {
		if array.NaluType == t && len(array.Nalus) > 0 {
			return array.Nalus[0]
		}
	}
	return nil
}

func (r *reader) u32le() uint32 {
	b := r.bytes(4)
	if len(b) < 4 {
		return 0
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func (r *reader) u48le() uint64 {
	b := r.bytes(6)
	if len(b) < 6 {
		return 0
	}
	var v uint64
	for i := 5; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func (w *writer) u32le(v uint32) {
	w.buf = append(w.buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func (w *writer) u48le(v uint64) {
	for i := 0; i < 6; i++ {
		w.buf = append(w.buf, byte(v>>(8*uint(i))))
	}
}
