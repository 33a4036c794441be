package img

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/socialcdn/image-pipeline/internal/asset"
)

func encodeTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	src := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			src.Set(x, y, color.RGBA{R: uint8(x % 256), G: 100, B: 50, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestTranscodePreservesAspectRatio(t *testing.T) {
	tr := NewTranscoder(85)

	out, err := tr.Transcode(encodeTestPNG(t, 400, 200), []int{100})
	if err != nil {
		t.Fatalf("Transcode returned error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 derivative, got %d", len(out))
	}
	if out[0].Width != 100 || out[0].Height != 50 {
		t.Fatalf("unexpected derivative size: got %dx%d, want 100x50", out[0].Width, out[0].Height)
	}

	decoded, err := jpeg.Decode(bytes.NewReader(out[0].Data))
	if err != nil {
		t.Fatalf("derivative is not valid JPEG: %v", err)
	}
	if decoded.Bounds().Dx() != 100 {
		t.Fatalf("decoded width mismatch: %d", decoded.Bounds().Dx())
	}
}

func TestTranscodeMultipleSizes(t *testing.T) {
	tr := NewTranscoder(85)

	out, err := tr.Transcode(encodeTestPNG(t, 1024, 1024), []int{256, 512})
	if err != nil {
		t.Fatalf("Transcode returned error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 derivatives, got %d", len(out))
	}
	if out[0].Size != 256 || out[1].Size != 512 {
		t.Fatalf("unexpected sizes: %d, %d", out[0].Size, out[1].Size)
	}
	if out[0].ContentHash == out[1].ContentHash {
		t.Fatal("different sizes must not share a content hash")
	}
}

func TestTranscodeDeterministicHash(t *testing.T) {
	tr := NewTranscoder(85)
	src := encodeTestPNG(t, 300, 300)

	first, err := tr.Transcode(src, []int{128})
	if err != nil {
		t.Fatalf("first transcode: %v", err)
	}
	second, err := tr.Transcode(src, []int{128})
	if err != nil {
		t.Fatalf("second transcode: %v", err)
	}

	if first[0].ContentHash != second[0].ContentHash {
		t.Fatalf("hash not deterministic: %s vs %s", first[0].ContentHash, second[0].ContentHash)
	}
	if len(first[0].ContentHash) != 32 {
		t.Fatalf("expected 128-bit hex digest, got %q", first[0].ContentHash)
	}
}

func TestTranscodeDoesNotUpscale(t *testing.T) {
	tr := NewTranscoder(85)

	out, err := tr.Transcode(encodeTestPNG(t, 50, 40), []int{200})
	if err != nil {
		t.Fatalf("Transcode returned error: %v", err)
	}
	if out[0].Width != 50 || out[0].Height != 40 {
		t.Fatalf("source was upscaled: got %dx%d", out[0].Width, out[0].Height)
	}
}

func TestTranscodeRejectsNonImage(t *testing.T) {
	tr := NewTranscoder(85)

	_, err := tr.Transcode([]byte("definitely not an image"), []int{100})
	if err == nil {
		t.Fatal("expected error for non-image input")
	}
	if asset.Retryable(err) {
		t.Fatalf("decode failure must be non-retryable, got %v", err)
	}
}
