package receiver

import (
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// Backlight sets the panel backlight level in 0..65535. Two implementations
// exist: PWM when the pin supports it, plain on/off otherwise. The choice is
// made once at startup.
type Backlight interface {
	Set(level int) error
}

// backlightFreq keeps PWM flicker out of the visible range.
const backlightFreq = 2 * physic.KiloHertz

// PWMBacklight drives the backlight pin with a 2 kHz PWM signal.
type PWMBacklight struct {
	Pin gpio.PinOut
}

// Set maps level 0..65535 onto the pin's duty range.
func (b *PWMBacklight) Set(level int) error {
	level = clamp(level, 0, 65535)
	duty := gpio.Duty(int64(level) * int64(gpio.DutyMax) / 65535)
	return b.Pin.PWM(duty, backlightFreq)
}

// PinBacklight is the fallback for pins without PWM: any nonzero level turns
// the backlight fully on.
type PinBacklight struct {
	Pin gpio.PinOut
}

func (b *PinBacklight) Set(level int) error {
	return b.Pin.Out(gpio.Level(level > 0))
}

// NewBacklight picks PWM if the pin supports it, falling back to plain
// digital drive, and applies the initial level.
func NewBacklight(pin gpio.PinOut, level int) Backlight {
	pwm := &PWMBacklight{Pin: pin}
	if err := pwm.Set(level); err == nil {
		return pwm
	}
	b := &PinBacklight{Pin: pin}
	_ = b.Set(level)
	return b
}
