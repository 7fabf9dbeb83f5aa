// Package receiver is the device-side core: it interprets the wire protocol,
// owns the device state, renders frames through the display driver, and runs
// the button/LED feedback loop.
//
// The whole device is one cooperative loop. Input arrives on a line channel
// fed by a reader goroutine, buttons are scanned on a fixed period, and a
// health window compares rendered frames against the target rate. Malformed
// input is dropped silently: device availability takes priority over strict
// protocol conformance.
package receiver

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/saumilthecode/beemovieonblahajctflanyardhwchal/wire"
)

// Display is the subset of the st7567 driver the receiver needs.
type Display interface {
	Show(frame []byte) (int, error)
	SetContrast(contrast int) error
	SetRegulationRatio(ratio int) error
	SetBias(bias17 bool) error
	SetInvert(invert bool) error
}

// PinResolver turns a wire pin number into a GPIO. Returns nil for unknown
// pins; the requesting command is then dropped like any other malformed
// line.
type PinResolver func(num int) gpio.PinIO

const (
	defaultButtonPeriod = 60 * time.Millisecond
	defaultHealthPeriod = time.Second
	// healthSlack is the tolerated shortfall against the target rate
	// before the unhealthy LED lights. Advisory, not a scheduling
	// guarantee.
	healthSlack = 3
	// backlightStep is the duty change per backlight button press.
	backlightStep = 4000
	// ledFlashDuration confirms an LED rebind visually.
	ledFlashDuration = 80 * time.Millisecond
)

// Receiver runs the device loop. Fill in the exported fields and call Run.
type Receiver struct {
	Display   Display
	Backlight Backlight
	// Pins resolves pin numbers for the led2/led3/probe commands. nil
	// disables those commands.
	Pins PinResolver
	// Lines is the serial input, one line per entry. Typically fed by
	// wire.NewLineReader.
	Lines <-chan string
	// Buttons is the physical input scanner. nil disables the button loop.
	Buttons *Buttons
	// LED2 and LED3 are the status LEDs: LED2 lights while the frame rate
	// is healthy, LED3 while it is not. Either may be nil.
	LED2, LED3   gpio.PinIO
	LEDActiveLow bool

	State State
	Log   *slog.Logger

	framesWindow int
	lastGC       time.Time

	// Test seam for the LED flash and probe pulses.
	sleep func(time.Duration)
}

// Run processes input until a quit/exit command or context cancellation.
// Closure of the line channel parks the protocol path; buttons and LEDs keep
// working.
func (r *Receiver) Run(ctx context.Context) error {
	if r.Log == nil {
		r.Log = slog.Default()
	}
	if r.sleep == nil {
		r.sleep = time.Sleep
	}
	r.setLED(r.LED2, false)
	r.setLED(r.LED3, false)

	buttonTick := time.NewTicker(defaultButtonPeriod)
	defer buttonTick.Stop()
	healthTick := time.NewTicker(defaultHealthPeriod)
	defer healthTick.Stop()

	lines := r.Lines
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			frame, quit := r.HandleLine(line)
			if quit {
				return nil
			}
			if frame != nil {
				if _, err := r.Display.Show(frame); err != nil {
					r.Log.Debug("frame render failed", "error", err)
					continue
				}
				r.framesWindow++
			}
		case <-buttonTick.C:
			r.scanButtons()
		case <-healthTick.C:
			r.healthCheck()
			// Nudge the collector between frames so it does not pause a
			// render mid-window.
			if time.Since(r.lastGC) >= 4*time.Second {
				r.lastGC = time.Now()
				runtime.GC()
			}
		}
	}
}

// HandleLine classifies one input line: empty lines are no-ops, command
// lines mutate state and hardware, anything else is tried as a frame
// payload. Malformed input never surfaces past the line being processed.
func (r *Receiver) HandleLine(line string) (frame []byte, quit bool) {
	cmd, ok := wire.ParseCommand(line)
	if ok {
		return nil, r.dispatch(cmd)
	}
	frame, ok = wire.DecodeFrame(line, wire.PackedFrameLen)
	if !ok {
		return nil, false
	}
	return frame, false
}

// dispatch runs one command through the handler table and applies its
// effects. Handler errors are logged and swallowed.
func (r *Receiver) dispatch(cmd wire.Command) (quit bool) {
	h, ok := handlers[cmd.Name]
	if !ok {
		return false
	}
	next, effects, err := h(r.State, cmd.Args)
	if err != nil {
		r.Log.Debug("dropping malformed command", "name", cmd.Name, "error", err)
		return false
	}
	r.State = next
	return r.applyEffects(effects)
}

// applyEffects performs the hardware side of a command. Individual failures
// are logged and do not stop the remaining effects.
func (r *Receiver) applyEffects(effects []Effect) (quit bool) {
	for _, eff := range effects {
		var err error
		switch e := eff.(type) {
		case effQuit:
			return true
		case effSetContrast:
			err = r.Display.SetContrast(e.v)
		case effSetRatio:
			err = r.Display.SetRegulationRatio(e.v)
		case effSetBias:
			err = r.Display.SetBias(e.bias17)
		case effSetInvert:
			err = r.Display.SetInvert(e.invert)
		case effSetBacklight:
			if r.Backlight != nil {
				err = r.Backlight.Set(e.v)
			}
		case effBindLED:
			err = r.bindLED(e)
		case effLEDPolarity:
			r.LEDActiveLow = e.activeLow
		case effProbePin:
			err = r.probePin(e)
		}
		if err != nil {
			r.Log.Debug("effect failed", "effect", eff, "error", err)
		}
	}
	return false
}

// bindLED rebinds a status LED to a new pin and flashes it once to confirm.
// A negative pin number unbinds.
func (r *Receiver) bindLED(e effBindLED) error {
	var pin gpio.PinIO
	if e.pin >= 0 && r.Pins != nil {
		pin = r.Pins(e.pin)
	}
	if e.which == 2 {
		r.LED2 = pin
	} else {
		r.LED3 = pin
	}
	if e.hasPol {
		r.LEDActiveLow = e.pol
	}
	if pin == nil {
		return nil
	}
	if err := r.setLED(pin, true); err != nil {
		return err
	}
	r.sleep(ledFlashDuration)
	return r.setLED(pin, false)
}

// probePin pulses an arbitrary pin and returns it to input mode. Diagnostic
// side channel, independent of the streaming path.
func (r *Receiver) probePin(e effProbePin) error {
	if r.Pins == nil {
		return nil
	}
	pin := r.Pins(e.pin)
	if pin == nil {
		return nil
	}
	if err := pin.Out(gpio.Level(!e.activeLow)); err != nil {
		return err
	}
	r.sleep(time.Duration(e.ms) * time.Millisecond)
	if err := pin.Out(gpio.Level(e.activeLow)); err != nil {
		return err
	}
	return pin.In(gpio.PullNoChange, gpio.NoEdge)
}

func (r *Receiver) setLED(pin gpio.PinIO, on bool) error {
	if pin == nil {
		return nil
	}
	return pin.Out(gpio.Level(on != r.LEDActiveLow))
}

// scanButtons applies one round of edge-detected button actions.
func (r *Receiver) scanButtons() {
	if r.Buttons == nil {
		return
	}
	for _, btn := range r.Buttons.Scan() {
		switch btn {
		case BtnUp:
			r.State.Contrast = clamp(r.State.Contrast+1, 0, 0x3F)
			r.logIgnore(r.Display.SetContrast(r.State.Contrast))
		case BtnDown:
			r.State.Contrast = clamp(r.State.Contrast-1, 0, 0x3F)
			r.logIgnore(r.Display.SetContrast(r.State.Contrast))
		case BtnBack:
			r.State.Backlight = clamp(r.State.Backlight-backlightStep, 0, 65535)
			if r.Backlight != nil {
				r.logIgnore(r.Backlight.Set(r.State.Backlight))
			}
		case BtnBootsel:
			r.State.Backlight = clamp(r.State.Backlight+backlightStep, 0, 65535)
			if r.Backlight != nil {
				r.logIgnore(r.Backlight.Set(r.State.Backlight))
			}
		case BtnOK:
			// OK is the modifier: with UP/DOWN it trims the regulation
			// ratio, with BACK it toggles bias, alone it toggles invert.
			switch {
			case r.Buttons.Held(BtnUp):
				r.State.RegRatio = clamp(r.State.RegRatio+1, 0, 7)
				r.logIgnore(r.Display.SetRegulationRatio(r.State.RegRatio))
			case r.Buttons.Held(BtnDown):
				r.State.RegRatio = clamp(r.State.RegRatio-1, 0, 7)
				r.logIgnore(r.Display.SetRegulationRatio(r.State.RegRatio))
			case r.Buttons.Held(BtnBack):
				r.State.Bias17 = !r.State.Bias17
				r.logIgnore(r.Display.SetBias(r.State.Bias17))
			default:
				r.State.Invert = !r.State.Invert
				r.logIgnore(r.Display.SetInvert(r.State.Invert))
			}
		}
	}
}

// healthCheck compares the rendered-frame window against the target rate and
// lights the matching status LED, then resets the window.
func (r *Receiver) healthCheck() {
	target := r.State.TargetFPS - healthSlack
	if target < 1 {
		target = 1
	}
	healthy := r.framesWindow >= target
	r.logIgnore(r.setLED(r.LED2, healthy))
	r.logIgnore(r.setLED(r.LED3, !healthy))
	r.framesWindow = 0
}

func (r *Receiver) logIgnore(err error) {
	if err != nil {
		r.Log.Debug("peripheral write failed", "error", err)
	}
}
