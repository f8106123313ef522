// Package pad models one emulator's input state: the fixed-size arrays of
// digital-button and analog-stick values a core reads through
// on_input_state. Staging the turn holder's pending intents and committing
// them at on_input_poll is done by the emulator controller, not here.
package pad

import "sync"

// Button IDs match the libretro RETRO_DEVICE_ID_JOYPAD_* ordering used by
// igoracmelo-retroverse's API interface and the corpus's core
// implementations; the exact numeric values are the libretro ABI's, not
// this package's invention.
const (
	ButtonB = iota
	ButtonY
	ButtonSelect
	ButtonStart
	ButtonUp
	ButtonDown
	ButtonLeft
	ButtonRight
	ButtonA
	ButtonX
	ButtonL
	ButtonR
	ButtonL2
	ButtonR2
	ButtonL3
	ButtonR3
	numButtons
)

// Stick identifies one of the two analog sticks.
type Stick int

const (
	StickLeft Stick = iota
	StickRight
	numSticks
)

// pressedThreshold is half of the signed 16-bit positive range, per
// spec.md §3: "pressed when |value| exceeds half of the 16-bit positive
// range."
const pressedThreshold = 1 << 14 // 32768 / 2

// Pad is one emulator's digital/analog state. Safe for concurrent use: the
// controller's on_input_poll callback commits the turn holder's staged
// button events into it and on_input_state reads it on the emulator's own
// thread, while turn changes reset it from the turn scheduler's goroutine.
type Pad struct {
	mu      sync.Mutex
	buttons [numButtons]int16
	sticks  [numSticks][2]int16 // [stick][0]=X, [1]=Y
}

// New returns a Pad with every button and stick at rest.
func New() *Pad {
	return &Pad{}
}

// SetButton records a digital button's signed value. Out-of-range ids are
// ignored, matching the dispatch core's stance that malformed commands are
// silently dropped rather than surfaced.
func (p *Pad) SetButton(id uint, value int16) {
	if int(id) >= numButtons {
		return
	}
	p.mu.Lock()
	p.buttons[id] = value
	p.mu.Unlock()
}

// SetStick records one axis of one analog stick. axis 0 is X, 1 is Y.
func (p *Pad) SetStick(stick Stick, axis int, value int16) {
	if stick < 0 || stick >= numSticks || axis < 0 || axis > 1 {
		return
	}
	p.mu.Lock()
	p.sticks[stick][axis] = value
	p.mu.Unlock()
}

// Button returns the raw signed value for a digital button id.
func (p *Pad) Button(id uint) int16 {
	if int(id) >= numButtons {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buttons[id]
}

// Pressed reports whether a digital button id is held, per the pressed
// threshold rule in spec.md §3.
func (p *Pad) Pressed(id uint) bool {
	v := p.Button(id)
	return v > pressedThreshold || v < -pressedThreshold
}

// StickAxis returns one axis of one analog stick's raw signed value.
func (p *Pad) StickAxis(stick Stick, axis int) int16 {
	if stick < 0 || stick >= numSticks || axis < 0 || axis > 1 {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sticks[stick][axis]
}

// Reset clears every button and stick to rest, used when the turn holder
// changes so a departing holder's held buttons don't leak into the next
// holder's turn.
func (p *Pad) Reset() {
	p.mu.Lock()
	p.buttons = [numButtons]int16{}
	p.sticks = [numSticks][2]int16{}
	p.mu.Unlock()
}
