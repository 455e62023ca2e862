package thumbnail

import (
	"image"
	"image/color"
	"testing"
)

func TestEmitProducesJPEGAtConfiguredSize(t *testing.T) {
	e := New(Config{Width: 64, Height: 36, JPEGQuality: 80})

	src := image.NewRGBA(image.Rect(0, 0, 1280, 720))
	for y := 0; y < 720; y += 10 {
		for x := 0; x < 1280; x += 10 {
			src.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}

	var gotIdx uint32
	var gotBytes []byte
	err := e.Emit(src, 42, func(partIndex uint32, jpegBytes []byte) {
		gotIdx = partIndex
		gotBytes = jpegBytes
	})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if gotIdx != 42 {
		t.Fatalf("partIndex = %d, want 42", gotIdx)
	}
	if len(gotBytes) == 0 {
		t.Fatal("expected non-empty jpeg output")
	}
	// JPEG magic bytes
	if gotBytes[0] != 0xFF || gotBytes[1] != 0xD8 {
		t.Fatalf("output does not look like a JPEG: %x", gotBytes[:2])
	}
}
