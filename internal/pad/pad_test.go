package pad

import "testing"

func TestPressedThreshold(t *testing.T) {
	p := New()
	p.SetButton(ButtonA, 32767)
	if !p.Pressed(ButtonA) {
		t.Fatal("max positive value should be pressed")
	}
	p.SetButton(ButtonA, 16384) // exactly half, spec requires strictly greater
	if p.Pressed(ButtonA) {
		t.Fatal("exactly half the range should not count as pressed")
	}
	p.SetButton(ButtonA, 16385)
	if !p.Pressed(ButtonA) {
		t.Fatal("just above half the range should be pressed")
	}
	p.SetButton(ButtonA, -20000)
	if !p.Pressed(ButtonA) {
		t.Fatal("negative value past threshold should be pressed")
	}
}

func TestSetButtonOutOfRangeIgnored(t *testing.T) {
	p := New()
	p.SetButton(999, 32767) // must not panic
	if p.Button(999) != 0 {
		t.Fatal("out-of-range id should read back as 0")
	}
}

func TestResetClearsState(t *testing.T) {
	p := New()
	p.SetButton(ButtonA, 32767)
	p.SetStick(StickLeft, 0, 12000)
	p.Reset()
	if p.Pressed(ButtonA) {
		t.Fatal("Reset() should clear button state")
	}
	if p.StickAxis(StickLeft, 0) != 0 {
		t.Fatal("Reset() should clear stick state")
	}
}
