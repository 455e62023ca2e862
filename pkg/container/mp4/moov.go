package mp4

// TrackKind distinguishes the two media types the core muxes.
type TrackKind int

const (
	TrackVideo TrackKind = iota
	TrackAudio
)

// TrackInfo carries everything the init-segment builder needs for one
// track: identity, timing, and codec-specific sample entry bytes (already
// serialized avcC/hvcC/av1C/esds payloads, built by pkg/container/codec).
type TrackInfo struct {
	ID        uint32
	Kind      TrackKind
	Timescale uint32

	// Video fields.
	Width, Height uint16
	AVCC          []byte // nil unless Kind == TrackVideo and codec is AVC
	HVCC          []byte // nil unless Kind == TrackVideo and codec is HEVC
	AV1C          []byte // nil unless Kind == TrackVideo and codec is AV1

	// Audio fields.
	SampleRate    uint32
	ChannelCount  uint16
	ESDS          []byte // nil unless Kind == TrackAudio
}

// InitSegment builds the ftyp+moov pair a rendition publishes once, at
// the start of a fragment sequence, before any moof/mdat pairs.
func InitSegment(tracks []TrackInfo) []byte {
	out := FileType()
	out = append(out, moov(tracks)...)
	return out
}

func moov(tracks []TrackInfo) []byte {
	b := newBox("moov")
	b.child(mvhd(uint32(len(tracks) + 1)))
	for _, t := range tracks {
		b.child(trak(t))
	}
	b.child(mvex(tracks))
	return b.done()
}

func mvhd(nextTrackID uint32) []byte {
	b := newBox("mvhd")
	b.fullBox(0, 0)
	b.u32(0) // creation_time
	b.u32(0) // modification_time
	b.u32(1000) // timescale
	b.u32(0)    // duration (unknown for a live fragmented stream)
	b.u32(0x00010000) // rate, 1.0
	b.u16(0x0100)     // volume, 1.0
	b.u16(0)          // reserved
	b.u32(0)
	b.u32(0)
	// unity matrix
	matrix := []uint32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}
	for _, m := range matrix {
		b.u32(m)
	}
	for i := 0; i < 6; i++ {
		b.u32(0) // pre_defined
	}
	b.u32(nextTrackID)
	return b.done()
}

func trak(t TrackInfo) []byte {
	b := newBox("trak")
	b.child(tkhd(t))
	b.child(mdia(t))
	return b.done()
}

func tkhd(t TrackInfo) []byte {
	b := newBox("tkhd")
	b.fullBox(0, 0x000007) // enabled | in_movie | in_preview
	b.u32(0)               // creation_time
	b.u32(0)               // modification_time
	b.u32(t.ID)
	b.u32(0) // reserved
	b.u32(0) // duration
	b.u32(0)
	b.u32(0)
	b.u16(0) // layer
	b.u16(0) // alternate_group
	if t.Kind == TrackAudio {
		b.u16(0x0100) // volume 1.0
	} else {
		b.u16(0)
	}
	b.u16(0)
	matrix := []uint32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}
	for _, m := range matrix {
		b.u32(m)
	}
	if t.Kind == TrackVideo {
		b.u32(uint32(t.Width) << 16)
		b.u32(uint32(t.Height) << 16)
	} else {
		b.u32(0)
		b.u32(0)
	}
	return b.done()
}

func mdia(t TrackInfo) []byte {
	b := newBox("mdia")
	b.child(mdhd(t))
	b.child(hdlr(t))
	b.child(minf(t))
	return b.done()
}

func mdhd(t TrackInfo) []byte {
	b := newBox("mdhd")
	b.fullBox(0, 0)
	b.u32(0) // creation_time
	b.u32(0) // modification_time
	b.u32(t.Timescale)
	b.u32(0)      // duration
	b.u16(0x55C4) // language "und"
	b.u16(0)
	return b.done()
}

func hdlr(t TrackInfo) []byte {
	b := newBox("hdlr")
	b.fullBox(0, 0)
	b.u32(0) // pre_defined
	if t.Kind == TrackVideo {
		b.raw([]byte("vide"))
	} else {
		b.raw([]byte("soun"))
	}
	b.u32(0)
	b.u32(0)
	b.u32(0)
	name := "corevideo\x00"
	b.raw([]byte(name))
	return b.done()
}

func minf(t TrackInfo) []byte {
	b := newBox("minf")
	if t.Kind == TrackVideo {
		b.child(vmhd())
	} else {
		b.child(smhd())
	}
	b.child(dinf())
	b.child(stbl(t))
	return b.done()
}

func vmhd() []byte {
	b := newBox("vmhd")
	b.fullBox(0, 1)
	b.u16(0)
	b.u16(0)
	b.u16(0)
	b.u16(0)
	return b.done()
}

func smhd() []byte {
	b := newBox("smhd")
	b.fullBox(0, 0)
	b.u16(0)
	b.u16(0)
	return b.done()
}

func dinf() []byte {
	dref := newBox("dref")
	dref.fullBox(0, 0)
	dref.u32(1)
	url := newBox("url ")
	url.fullBox(0, 1) // self-contained
	dref.child(url.done())

	b := newBox("dinf")
	b.child(dref.done())
	return b.done()
}

func stbl(t TrackInfo) []byte {
	b := newBox("stbl")
	b.child(stsd(t))
	b.child(emptyTable("stts", 8))
	b.child(emptyTable("stsc", 8))
	b.child(emptyTable("stsz", 12))
	b.child(emptyTable("stco", 8))
	return b.done()
}

// emptyTable builds a full-box sample table entry with zero entries; the
// core never writes legacy sample tables (all timing/offset data lives in
// the moof/traf of each fragment), but players require the boxes to exist.
func emptyTable(boxType string, extraZeroBytes int) []byte {
	b := newBox(boxType)
	b.fullBox(0, 0)
	if boxType == "stsz" {
		b.u32(0) // sample_size
	}
	b.u32(0) // entry_count
	return b.done()
}

func stsd(t TrackInfo) []byte {
	b := newBox("stsd")
	b.fullBox(0, 0)
	b.u32(1) // entry_count
	if t.Kind == TrackVideo {
		b.child(sampleEntryVideo(t))
	} else {
		b.child(sampleEntryAudio(t))
	}
	return b.done()
}

func sampleEntryVideo(t TrackInfo) []byte {
	boxType := "avc1"
	var configBox []byte
	switch {
	case t.HVCC != nil:
		boxType = "hvc1"
		c := newBox("hvcC")
		c.raw(t.HVCC)
		configBox = c.done()
	case t.AV1C != nil:
		boxType = "av01"
		c := newBox("av1C")
		c.raw(t.AV1C)
		configBox = c.done()
	default:
		c := newBox("avcC")
		c.raw(t.AVCC)
		configBox = c.done()
	}

	b := newBox(boxType)
	for i := 0; i < 6; i++ {
		b.u8(0) // reserved
	}
	b.u16(1) // data_reference_index
	b.u16(0) // pre_defined
	b.u16(0) // reserved
	for i := 0; i < 3; i++ {
		b.u32(0) // pre_defined
	}
	b.u16(t.Width)
	b.u16(t.Height)
	b.u32(0x00480000) // horizresolution, 72 dpi
	b.u32(0x00480000) // vertresolution, 72 dpi
	b.u32(0)          // reserved
	b.u16(1)          // frame_count
	for i := 0; i < 32; i++ {
		b.u8(0) // compressorname
	}
	b.u16(0x0018) // depth
	b.u16(0xFFFF) // pre_defined
	b.child(configBox)
	return b.done()
}

func sampleEntryAudio(t TrackInfo) []byte {
	b := newBox("mp4a")
	for i := 0; i < 6; i++ {
		b.u8(0)
	}
	b.u16(1) // data_reference_index
	b.u16(0) // version
	b.u16(0) // revision
	b.u32(0) // vendor
	b.u16(t.ChannelCount)
	b.u16(16) // sample size bits
	b.u16(0)
	b.u16(0)
	b.u32(t.SampleRate << 16)
	if t.ESDS != nil {
		esds := newBox("esds")
		esds.fullBox(0, 0)
		esds.raw(t.ESDS)
		b.child(esds.done())
	}
	return b.done()
}

func mvex(tracks []TrackInfo) []byte {
	b := newBox("mvex")
	for _, t := range tracks {
		trex := newBox("trex")
		trex.fullBox(0, 0)
		trex.u32(t.ID)
		trex.u32(1) // default_sample_description_index
		trex.u32(0) // default_sample_duration
		trex.u32(0) // default_sample_size
		trex.u32(0) // default_sample_flags
		b.child(trex.done())
	}
	return b.done()
}
