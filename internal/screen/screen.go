// Package screen owns the double-buffered pixel grid one emulator renders
// into: the in-progress "next" frame a core writes via on_video_refresh,
// and the last fully broadcast "current" frame, plus the diff between them
// that periodic broadcast consumes.
package screen

import (
	"sync"

	"github.com/rustyguts/letsplay/internal/libretro"
)

// Pixel is one differing location found by Diff.
type Pixel struct {
	X, Y int
	libretro.RGBColor
}

// Buffer holds one emulator's current/next 2D pixel matrices. Safe for
// concurrent use: Write runs on the emulator's own thread via
// on_video_refresh; Diff/Commit run on the periodic scheduler's video-diff
// task.
type Buffer struct {
	mu             sync.Mutex
	width, height  int
	current, next  []libretro.RGBColor
	fullRepaint    bool
}

// New returns an empty buffer; the first Write installs real dimensions.
func New() *Buffer {
	return &Buffer{fullRepaint: true}
}

// Write decodes raw into the "next" matrix using format, resizing (and
// flagging a full repaint) if (width,height) changed since the last write,
// per spec.md §4.3 point 3.
func (b *Buffer) Write(raw []byte, width, height, pitch uint, format *libretro.VideoFormat) {
	b.mu.Lock()
	defer b.mu.Unlock()

	w, h := int(width), int(height)
	if w != b.width || h != b.height {
		b.width, b.height = w, h
		b.current = make([]libretro.RGBColor, w*h)
		b.next = make([]libretro.RGBColor, w*h)
		b.fullRepaint = true
	}
	if raw == nil {
		// A duped frame per libretro's "core dropped a frame" contract;
		// next stays whatever it already was.
		return
	}

	bytesPerPel := int(format.BitsPerPel() / 8)
	for y := 0; y < h; y++ {
		rowOff := y * int(pitch)
		for x := 0; x < w; x++ {
			off := rowOff + x*bytesPerPel
			b.next[y*w+x] = format.Decode(raw, off)
		}
	}
}

// Diff returns every pixel in "next" that differs from "current". When a
// resize happened since the last Commit, every visible pixel in "next" is
// returned (a full repaint), matching spec.md scenario 6.
func (b *Buffer) Diff() []Pixel {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Pixel
	for y := 0; y < b.height; y++ {
		for x := 0; x < b.width; x++ {
			i := y*b.width + x
			if b.fullRepaint {
				if b.next[i].Visible {
					out = append(out, Pixel{X: x, Y: y, RGBColor: b.next[i]})
				}
				continue
			}
			if b.next[i] != b.current[i] {
				out = append(out, Pixel{X: x, Y: y, RGBColor: b.next[i]})
			}
		}
	}
	return out
}

// Commit copies "next" into "current" and clears the full-repaint flag,
// completing one broadcast cycle.
func (b *Buffer) Commit() {
	b.mu.Lock()
	defer b.mu.Unlock()
	copy(b.current, b.next)
	b.fullRepaint = false
}

// Dimensions returns the buffer's current width and height.
func (b *Buffer) Dimensions() (width, height int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.width, b.height
}
