// Package mp4 builds the fragmented MP4 containers the core serves: an
// init segment (ftyp+moov) per rendition, and a stream of media segments
// (moof+mdat) split into LL-HLS parts.
package mp4

import (
	"encoding/binary"
)

// boxBuilder is the shared box-serialization helper: every box type in this
// package builds its payload into a boxBuilder, and done() fills in the
// 4-byte big-endian size once the payload is known.
type boxBuilder struct {
	buf []byte
}

func newBox(boxType string) *boxBuilder {
	b := &boxBuilder{}
	b.buf = append(b.buf, 0, 0, 0, 0) // size placeholder
	b.buf = append(b.buf, []byte(boxType)...)
	return b
}

func (b *boxBuilder) u8(v uint8) *boxBuilder {
	b.buf = append(b.buf, v)
	return b
}

func (b *boxBuilder) u16(v uint16) *boxBuilder {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
	return b
}

func (b *boxBuilder) u32(v uint32) *boxBuilder {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
	return b
}

func (b *boxBuilder) i32(v int32) *boxBuilder {
	return b.u32(uint32(v))
}

func (b *boxBuilder) u64(v uint64) *boxBuilder {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
	return b
}

func (b *boxBuilder) raw(v []byte) *boxBuilder {
	b.buf = append(b.buf, v...)
	return b
}

func (b *boxBuilder) str4(s string) *boxBuilder {
	return b.raw([]byte(s)[:4])
}

// fullBox writes the version+flags prefix common to ISO-BMFF "full boxes".
func (b *boxBuilder) fullBox(version uint8, flags uint32) *boxBuilder {
	b.u8(version)
	b.buf = append(b.buf, byte(flags>>16), byte(flags>>8), byte(flags))
	return b
}

// child appends an already-built child box's bytes.
func (b *boxBuilder) child(c []byte) *boxBuilder {
	b.buf = append(b.buf, c...)
	return b
}

// done patches the size field and returns the finished box bytes.
func (b *boxBuilder) done() []byte {
	binary.BigEndian.PutUint32(b.buf[0:4], uint32(len(b.buf)))
	return b.buf
}
