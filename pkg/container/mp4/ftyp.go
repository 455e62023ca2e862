package mp4

// FileType builds an ftyp box. The core always emits "iso5" as the major
// brand (fragmented, DASH/CMAF-friendly) with "iso5"/"iso6"/"mp41"/"avc1"
// as compatible brands, matching what every LL-HLS-capable player expects.
func FileType() []byte {
	b := newBox("ftyp")
	b.raw([]byte("iso5"))
	b.u32(512)
	b.raw([]byte("iso5"))
	b.raw([]byte("iso6"))
	b.raw([]byte("mp41"))
	b.raw([]byte("avc1"))
	return b.done()
}
