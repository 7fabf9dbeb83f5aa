package receiver

import "periph.io/x/conn/v3/gpio"

// Button identifies one of the five physical inputs.
type Button int

const (
	BtnUp Button = iota
	BtnDown
	BtnOK
	BtnBack
	BtnBootsel
	numButtons
)

// Buttons polls a fixed set of debounced active-low inputs and reports
// falling edges. The scan period provides the debounce: a press shorter than
// one period is not guaranteed to register.
type Buttons struct {
	Up, Down, OK, Back, Bootsel gpio.PinIn

	prev [numButtons]gpio.Level
}

// NewButtons wraps the five input pins. All lines are assumed pulled up and
// active-low.
func NewButtons(up, down, ok, back, bootsel gpio.PinIn) *Buttons {
	b := &Buttons{Up: up, Down: down, OK: ok, Back: back, Bootsel: bootsel}
	for i := range b.prev {
		b.prev[i] = gpio.High
	}
	return b
}

func (b *Buttons) pin(btn Button) gpio.PinIn {
	switch btn {
	case BtnUp:
		return b.Up
	case BtnDown:
		return b.Down
	case BtnOK:
		return b.OK
	case BtnBack:
		return b.Back
	case BtnBootsel:
		return b.Bootsel
	}
	return nil
}

// Scan reads every line once and returns the buttons that transitioned from
// released to pressed since the previous scan.
func (b *Buttons) Scan() []Button {
	var pressed []Button
	for btn := Button(0); btn < numButtons; btn++ {
		p := b.pin(btn)
		if p == nil {
			continue
		}
		v := p.Read()
		if b.prev[btn] == gpio.High && v == gpio.Low {
			pressed = append(pressed, btn)
		}
		b.prev[btn] = v
	}
	return pressed
}

// Held reports whether a button is currently down, for modifier combos.
func (b *Buttons) Held(btn Button) bool {
	p := b.pin(btn)
	return p != nil && p.Read() == gpio.Low
}
