package mp4

// Fragment is one moof+mdat pair: a single track fragment (the core never
// muxes audio and video into the same fragment; each rendition's video and
// audio tracks are independent fragment sequences sharing a sequence
// number space) carrying a run of samples and their concatenated payload
// bytes.
type Fragment struct {
	SequenceNumber uint32
	Traf           Traf
	Payload        []byte // concatenated sample bytes, in Traf.Samples order
}

// Mux serializes the fragment to its moof+mdat byte layout and returns it
// alongside whether the fragment contains an independently decodable
// sample anywhere in its run.
func (f *Fragment) Mux() (data []byte, independent bool) {
	f.Traf.Optimize()
	independent = f.Traf.ContainsKeyframe()

	moofBox := moof(f.SequenceNumber, &f.Traf)
	mdatBox := mdat(f.Payload)

	out := make([]byte, 0, len(moofBox)+len(mdatBox))
	out = append(out, moofBox...)
	out = append(out, mdatBox...)
	return out, independent
}

func moof(seq uint32, traf *Traf) []byte {
	mfhd := newBox("mfhd")
	mfhd.fullBox(0, 0)
	mfhd.u32(seq)

	// data_offset in trun is relative to the start of the moof box; it is
	// fixed up once the moof's total length (and therefore mdat's data
	// start, 8 bytes into mdat) is known, hence the two-pass build below.
	placeholderTraf := traf.build(0, 0)
	moofLen := 8 + len(mfhd.done()) + len(placeholderTraf)
	dataOffset := int32(moofLen + 8) // + mdat header

	b := newBox("moof")
	b.child(mfhd.done())
	b.child(traf.build(0, dataOffset))
	return b.done()
}

func mdat(payload []byte) []byte {
	b := newBox("mdat")
	b.raw(payload)
	return b.done()
}
