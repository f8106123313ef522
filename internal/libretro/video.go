package libretro

import "sync/atomic"

// RGBColor is the decoded form of one core pixel, with an optional
// visibility bit (alpha channel presence).
type RGBColor struct {
	R, G, B uint8
	Visible bool
}

// videoFormatState is the atomically-swapped immutable snapshot backing
// VideoFormat; setPixelFormat installs a fresh one so concurrent readers
// never observe a torn mix of old/new masks and shifts, matching spec.md
// §4.3's "updates masks, shifts and bitsPerPel atomically."
type videoFormatState struct {
	rMask, gMask, bMask, aMask     uint32
	rShift, gShift, bShift, aShift uint
	bitsPerPel                     uint
}

// rgb565Default is the format installed before any core calls
// EnvSetPixelFormat, per spec.md §3 ("The default format is RGB565").
var rgb565Default = videoFormatState{
	rMask: 0xF800, rShift: 11,
	gMask: 0x07E0, gShift: 5,
	bMask: 0x001F, bShift: 0,
	aMask: 0, aShift: 0,
	bitsPerPel: 16,
}

// VideoFormat holds the per-emulator pixel layout and decodes raw core
// frame bytes into RGBColor values. Safe for concurrent use: SetPixelFormat
// (from on_environment) may run while a screen buffer write decodes a
// frame with the previous format.
type VideoFormat struct {
	state atomic.Pointer[videoFormatState]
}

// NewVideoFormat returns a VideoFormat installed with the RGB565 default.
func NewVideoFormat() *VideoFormat {
	vf := &VideoFormat{}
	s := rgb565Default
	vf.state.Store(&s)
	return vf
}

// SetPixelFormat installs masks/shifts/bitsPerPel for one of the three
// formats a core may request via EnvSetPixelFormat.
func (vf *VideoFormat) SetPixelFormat(f PixelFormat) bool {
	var s videoFormatState
	switch f {
	case PixelFormat0RGB1555:
		s = videoFormatState{
			rMask: 0x7C00, rShift: 10,
			gMask: 0x03E0, gShift: 5,
			bMask: 0x001F, bShift: 0,
			bitsPerPel: 16,
		}
	case PixelFormatXRGB8888:
		s = videoFormatState{
			rMask: 0x00FF0000, rShift: 16,
			gMask: 0x0000FF00, gShift: 8,
			bMask: 0x000000FF, bShift: 0,
			aMask: 0xFF000000, aShift: 24,
			bitsPerPel: 32,
		}
	case PixelFormatRGB565:
		s = rgb565Default
	default:
		return false
	}
	vf.state.Store(&s)
	return true
}

// BitsPerPel returns the currently installed pixel width.
func (vf *VideoFormat) BitsPerPel() uint {
	return vf.state.Load().bitsPerPel
}

// Decode reads one pixel of the installed width starting at byte offset off
// within raw, per spec.md §4.3's decoding formulas:
// R = (p & rMask) >> rShift, likewise G/B, with the alpha mask producing
// the visibility bit (absent alpha mask means always visible).
func (vf *VideoFormat) Decode(raw []byte, off int) RGBColor {
	s := vf.state.Load()
	var p uint32
	switch s.bitsPerPel {
	case 16:
		if off+2 > len(raw) {
			return RGBColor{}
		}
		p = uint32(raw[off]) | uint32(raw[off+1])<<8
	case 32:
		if off+4 > len(raw) {
			return RGBColor{}
		}
		p = uint32(raw[off]) | uint32(raw[off+1])<<8 | uint32(raw[off+2])<<16 | uint32(raw[off+3])<<24
	default:
		return RGBColor{}
	}

	c := RGBColor{
		R: uint8((p & s.rMask) >> s.rShift),
		G: uint8((p & s.gMask) >> s.gShift),
		B: uint8((p & s.bMask) >> s.bShift),
	}
	if s.aMask == 0 {
		c.Visible = true
	} else {
		c.Visible = (p&s.aMask)>>s.aShift != 0
	}
	return c
}
