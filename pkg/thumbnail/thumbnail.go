// Package thumbnail implements the Thumbnail Emitter: on a cadence driven
// by the transcoder (one call per captured keyframe), scale a decoded
// frame down and JPEG-encode it, then hand it to the recording uploader
// and the live manifest's thumbnail metadata.
package thumbnail

import (
	"bytes"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"

	coreerrors "github.com/scufflelive/corevideo/pkg/errors"
)

// Config controls the emitted thumbnail's size and encode quality.
type Config struct {
	Width, Height int
	JPEGQuality   int
}

// DefaultConfig returns the core's default thumbnail size.
func DefaultConfig() Config {
	return Config{Width: 320, Height: 180, JPEGQuality: 75}
}

// Sink receives a thumbnail's encoded bytes and its part index (which the
// rendition it was captured from assigns, so a manifest consumer can
// correlate thumbnails with the parts they represent).
type Sink func(partIndex uint32, jpegBytes []byte)

// Emitter scales and encodes decoded frames into JPEG thumbnails.
type Emitter struct {
	cfg Config
}

// New builds an Emitter.
func New(cfg Config) *Emitter {
	return &Emitter{cfg: cfg}
}

// Emit scales src down to the configured thumbnail size and JPEG-encodes
// it, invoking sink with the result. partIndex is carried through
// unchanged for the sink to key its storage/manifest update on.
func (e *Emitter) Emit(src image.Image, partIndex uint32, sink Sink) error {
	dst := image.NewRGBA(image.Rect(0, 0, e.cfg.Width, e.cfg.Height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: e.cfg.JPEGQuality}); err != nil {
		return coreerrors.NewCodecError("encode thumbnail jpeg", err)
	}

	sink(partIndex, buf.Bytes())
	return nil
}
