package receiver

import (
	"fmt"
	"strconv"
	"strings"
)

// State is the device state. It lives for the process lifetime, is mutated
// only by the command interpreter and the button loop, and is read by the
// display driver glue and the health check.
type State struct {
	Contrast  int  // 0..63
	RegRatio  int  // 0..7
	Bias17    bool // true: 1/7 bias, false: 1/9
	Invert    bool
	Backlight int // 0..65535 duty
	TargetFPS int
}

// DefaultState matches the board's power-on configuration.
func DefaultState() State {
	return State{
		Contrast:  0x2A,
		RegRatio:  3,
		Bias17:    true,
		Backlight: 25000,
		TargetFPS: 60,
	}
}

// Effect is a hardware side effect requested by a command handler. Handlers
// are pure: they return the next state plus the effects to apply, and the
// receiver applies them.
type Effect interface {
	effect()
}

type (
	effSetContrast  struct{ v int }
	effSetRatio     struct{ v int }
	effSetBias      struct{ bias17 bool }
	effSetInvert    struct{ invert bool }
	effSetBacklight struct{ v int }
	effBindLED      struct {
		which  int // 2 or 3
		pin    int // negative unbinds
		hasPol bool
		pol    bool // active-low when true
	}
	effLEDPolarity struct{ activeLow bool }
	effProbePin    struct {
		pin       int
		activeLow bool
		ms        int
	}
	effQuit struct{}
)

func (effSetContrast) effect()  {}
func (effSetRatio) effect()     {}
func (effSetBias) effect()      {}
func (effSetInvert) effect()    {}
func (effSetBacklight) effect() {}
func (effBindLED) effect()      {}
func (effLEDPolarity) effect()  {}
func (effProbePin) effect()     {}
func (effQuit) effect()         {}

// handler computes the next state and hardware effects for one command.
type handler func(st State, args []string) (State, []Effect, error)

// handlers is the command dispatch table. Aliases map to the same handler.
var handlers map[string]handler

func init() {
	handlers = map[string]handler{}
	reg := func(h handler, names ...string) {
		for _, n := range names {
			handlers[n] = h
		}
	}
	reg(handleQuit, "quit", "exit")
	reg(handleContrast, "contrast", "c")
	reg(handleRatio, "ratio", "reg")
	reg(handleBias, "bias")
	reg(handleInvert, "invert", "inv")
	reg(handleBacklight, "backlight", "bl")
	reg(handleLED2, "led2", "d2")
	reg(handleLED3, "led3", "d3")
	reg(handleLEDPolarity, "ledpol", "led_polarity")
	reg(handleProbe, "probe", "blinkpin")
	reg(handleTargetFPS, "targetfps", "fps")
}

func needArg(args []string) (string, error) {
	if len(args) < 1 {
		return "", fmt.Errorf("receiver: missing argument")
	}
	return args[0], nil
}

func intArg(args []string) (int, error) {
	s, err := needArg(args)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("receiver: bad integer %q", s)
	}
	return v, nil
}

func handleQuit(st State, _ []string) (State, []Effect, error) {
	return st, []Effect{effQuit{}}, nil
}

func handleContrast(st State, args []string) (State, []Effect, error) {
	v, err := intArg(args)
	if err != nil {
		return st, nil, err
	}
	st.Contrast = clamp(v, 0, 0x3F)
	return st, []Effect{effSetContrast{st.Contrast}}, nil
}

func handleRatio(st State, args []string) (State, []Effect, error) {
	v, err := intArg(args)
	if err != nil {
		return st, nil, err
	}
	st.RegRatio = clamp(v, 0, 7)
	return st, []Effect{effSetRatio{st.RegRatio}}, nil
}

func handleBias(st State, args []string) (State, []Effect, error) {
	v, err := intArg(args)
	if err != nil {
		return st, nil, err
	}
	st.Bias17 = v != 0
	return st, []Effect{effSetBias{st.Bias17}}, nil
}

func handleInvert(st State, args []string) (State, []Effect, error) {
	v, err := intArg(args)
	if err != nil {
		return st, nil, err
	}
	st.Invert = v != 0
	return st, []Effect{effSetInvert{st.Invert}}, nil
}

func handleBacklight(st State, args []string) (State, []Effect, error) {
	s, err := needArg(args)
	if err != nil {
		return st, nil, err
	}
	v, err := ParseBacklight(s)
	if err != nil {
		return st, nil, err
	}
	st.Backlight = v
	return st, []Effect{effSetBacklight{v}}, nil
}

// ParseBacklight parses a backlight value: a number with a decimal point is
// a 0.0..1.0 ratio scaled to the full duty range; an integer 0..100 is a
// percentage; any other integer is a raw duty value. The result is clamped
// to 0..65535.
//
// Raw duty values under 100 cannot be expressed; the percentage reading
// wins. The ambiguity is long-standing wire behavior and is kept as is.
func ParseBacklight(s string) (int, error) {
	if strings.Contains(s, ".") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("receiver: bad backlight ratio %q", s)
		}
		return clamp(int(f*65535.0), 0, 65535), nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("receiver: bad backlight value %q", s)
	}
	if v >= 0 && v <= 100 {
		v = v * 65535 / 100
	}
	return clamp(v, 0, 65535), nil
}

func handleLED2(st State, args []string) (State, []Effect, error) {
	return handleLED(st, args, 2)
}

func handleLED3(st State, args []string) (State, []Effect, error) {
	return handleLED(st, args, 3)
}

func handleLED(st State, args []string, which int) (State, []Effect, error) {
	pin, err := intArg(args)
	if err != nil {
		return st, nil, err
	}
	eff := effBindLED{which: which, pin: pin}
	if len(args) > 1 {
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return st, nil, fmt.Errorf("receiver: bad polarity %q", args[1])
		}
		eff.hasPol = true
		eff.pol = v != 0
	}
	return st, []Effect{eff}, nil
}

func handleLEDPolarity(st State, args []string) (State, []Effect, error) {
	v, err := intArg(args)
	if err != nil {
		return st, nil, err
	}
	return st, []Effect{effLEDPolarity{activeLow: v != 0}}, nil
}

func handleProbe(st State, args []string) (State, []Effect, error) {
	pin, err := intArg(args)
	if err != nil {
		return st, nil, err
	}
	eff := effProbePin{pin: pin, activeLow: true, ms: 120}
	if len(args) > 1 {
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return st, nil, fmt.Errorf("receiver: bad polarity %q", args[1])
		}
		eff.activeLow = v != 0
	}
	if len(args) > 2 {
		v, err := strconv.Atoi(args[2])
		if err != nil {
			return st, nil, fmt.Errorf("receiver: bad pulse length %q", args[2])
		}
		eff.ms = clamp(v, 10, 2000)
	}
	return st, []Effect{eff}, nil
}

func handleTargetFPS(st State, args []string) (State, []Effect, error) {
	v, err := intArg(args)
	if err != nil {
		return st, nil, err
	}
	st.TargetFPS = v
	return st, nil, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
