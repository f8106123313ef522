// Package frame turns a screen diff into the bytes broadcast to one user,
// dispatching on that user's WebP-capability flag. The byte-level choice of
// WebP vs. raw diff is an explicit external-collaborator concern per
// spec.md §1; this package only defines the seam and a fully-working
// default.
package frame

import (
	"encoding/binary"
	"image"
	"image/color"

	"github.com/rustyguts/letsplay/internal/screen"
)

// Encoder turns a set of changed pixels (plus the frame's full dimensions,
// needed for WebP-style whole-image encoders) into wire bytes.
type Encoder interface {
	Encode(width, height int, diff []screen.Pixel) []byte
}

// RawDiffEncoder emits a simple, fully specified position+color stream:
// for each pixel, a little-endian (x uint16, y uint16, r,g,b uint8). This
// is the only encoder actually exercised end to end; it is what
// WebPEncoder falls back to when no real encoder hook is installed.
type RawDiffEncoder struct{}

func (RawDiffEncoder) Encode(_, _ int, diff []screen.Pixel) []byte {
	buf := make([]byte, 0, len(diff)*7)
	tmp := make([]byte, 7)
	for _, px := range diff {
		binary.LittleEndian.PutUint16(tmp[0:2], uint16(px.X))
		binary.LittleEndian.PutUint16(tmp[2:4], uint16(px.Y))
		tmp[4], tmp[5], tmp[6] = px.R, px.G, px.B
		buf = append(buf, tmp...)
	}
	return buf
}

// EncodeFunc produces real WebP bytes from a materialized image. The
// public x/image/webp package is decode-only, so this hook has no
// in-repo default implementation; it exists purely so an external
// collaborator can plug one in.
type EncodeFunc func(image.Image) ([]byte, error)

// WebPEncoder renders the diff onto a full image.RGBA canvas (stdlib
// image/color, so the canvas composes with any standard Go image
// pipeline) and hands it to an injected encode hook. With no hook
// installed, it logs nothing itself and returns nil; callers are expected
// to fall back to RawDiffEncoder, matching the WebP-capable-user handling
// spec.md §4.3 describes only at the capability-flag level.
type WebPEncoder struct {
	Encode EncodeFunc
}

func (e WebPEncoder) EncodeDiff(width, height int, diff []screen.Pixel) []byte {
	if e.Encode == nil {
		return nil
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for _, px := range diff {
		img.Set(px.X, px.Y, color.RGBA{R: px.R, G: px.G, B: px.B, A: 255})
	}
	out, err := e.Encode(img)
	if err != nil {
		return nil
	}
	return out
}

// Choose returns the bytes of the encoder a user's capability flag selects.
// It returns RawDiffEncoder's output whenever webp is requested but no hook
// is wired or the hook fails.
func Choose(webpCapable bool, webp WebPEncoder, width, height int, diff []screen.Pixel) []byte {
	if webpCapable {
		if out := webp.EncodeDiff(width, height, diff); out != nil {
			return out
		}
	}
	return RawDiffEncoder{}.Encode(width, height, diff)
}
