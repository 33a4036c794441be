// internal/img/transcode.go
package img

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/disintegration/imaging"

	"github.com/socialcdn/image-pipeline/internal/asset"
)

const DefaultQuality = 85

// Derivative is one resized, re-encoded output with its content hash.
type Derivative struct {
	Size        int // requested longest edge
	Data        []byte
	ContentHash string
	Width       int
	Height      int
}

// Transcoder decodes a source image once and produces one encoded
// derivative per target size.
type Transcoder struct {
	quality int
}

func NewTranscoder(quality int) *Transcoder {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	return &Transcoder{quality: quality}
}

// Transcode decodes src, normalizes it to NRGBA with EXIF orientation
// applied, and for each size resizes so the longest edge equals size
// (never upscaling) and re-encodes as JPEG. The content hash is the MD5
// of the encoded bytes, so identical input bytes always produce
// identical hashes and storage keys.
func (t *Transcoder) Transcode(src []byte, sizes []int) ([]Derivative, error) {
	decoded, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &asset.UpstreamError{Reason: fmt.Sprintf("decode image: %v", err)}
	}
	normalized := imaging.Clone(decoded)

	derivatives := make([]Derivative, 0, len(sizes))
	for _, size := range sizes {
		if size <= 0 {
			return nil, &asset.UpstreamError{Reason: fmt.Sprintf("invalid target size %d", size)}
		}

		thumb := imaging.Fit(normalized, size, size, imaging.Lanczos)

		var buf bytes.Buffer
		if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(t.quality)); err != nil {
			return nil, fmt.Errorf("encode size %d: %w", size, err)
		}

		sum := md5.Sum(buf.Bytes())
		b := thumb.Bounds()
		derivatives = append(derivatives, Derivative{
			Size:        size,
			Data:        buf.Bytes(),
			ContentHash: hex.EncodeToString(sum[:]),
			Width:       b.Dx(),
			Height:      b.Dy(),
		})
	}
	return derivatives, nil
}
