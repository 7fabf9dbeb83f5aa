// Package control merges interactive reconfiguration with device-bound
// commands so the pacing loop can pick both up between frames without ever
// blocking on input.
//
// One reader goroutine classifies stdin lines by sigil: "@" lines carry host
// reconfiguration and are parsed into name/value pairs, everything else is a
// device command ("!" is prepended to bare command names). The pacing loop
// drains both queues non-blockingly each tick.
package control

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/saumilthecode/beemovieonblahajctflanyardhwchal/dither"
	"github.com/saumilthecode/beemovieonblahajctflanyardhwchal/wire"
)

const usage = `
Interactive commands:
  Device (sent to board): !contrast 40 | !bl 0.3 | !inv 1 | !reg 3 | !bias 1
  Host (video processing): @gamma 1.2 | @contrast 1.2 | @brightness -10 | @dither fs
  Host: @invert 1 | @rotate180 1 | @reset

`

type hostSet struct {
	name  string
	value string
}

// Mux is the control channel multiplexer. Construct with New.
type Mux struct {
	device   chan string
	host     chan hostSet
	defaults dither.Config

	// Status receives user-facing feedback (applied values, usage, input
	// errors). Defaults to io.Discard.
	Status io.Writer
	Log    *slog.Logger
}

// New starts the reader goroutine over r and captures defaults as the
// snapshot restored by "@reset". The feeder blocks if a queue fills, which
// only happens if the pacing loop has stalled completely.
func New(r io.Reader, defaults dither.Config) *Mux {
	m := &Mux{
		device:   make(chan string, 256),
		host:     make(chan hostSet, 256),
		defaults: defaults,
		Status:   io.Discard,
		Log:      slog.Default(),
	}
	go m.read(r)
	return m
}

func (m *Mux) read(r io.Reader) {
	defer close(m.device)
	defer close(m.host)
	for line := range wire.NewLineReader(r).Lines() {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line[0] == wire.ConfigSigil {
			fields := strings.Fields(line[1:])
			if len(fields) == 0 {
				continue
			}
			set := hostSet{name: strings.ToLower(fields[0])}
			if len(fields) > 1 {
				set.value = fields[1]
			}
			m.host <- set
			continue
		}
		if line[0] != wire.CommandSigil {
			line = string(wire.CommandSigil) + line
		}
		m.device <- line
	}
}

// ApplyHost drains the host queue and applies each entry to cfg. Unknown
// names and invalid values are reported on Status and skipped, never fatal.
// Returns true if cfg changed.
func (m *Mux) ApplyHost(cfg *dither.Config) bool {
	changed := false
	for {
		select {
		case set, ok := <-m.host:
			if !ok {
				return changed
			}
			if m.apply(cfg, set) {
				changed = true
			}
		default:
			return changed
		}
	}
}

func (m *Mux) apply(cfg *dither.Config, set hostSet) bool {
	switch set.name {
	case "help", "?":
		fmt.Fprint(m.Status, usage)
		return false
	case "reset":
		*cfg = m.defaults
		fmt.Fprintf(m.Status, "[host] reset -> %+v\n", *cfg)
		return true
	}

	next := *cfg
	canon, err := applySetting(&next, set.name, set.value)
	if err == nil {
		err = next.Validate()
	}
	if err != nil {
		fmt.Fprintf(m.Status, "[host] %v\n", err)
		m.Log.Debug("rejected host setting", "name", set.name, "value", set.value, "error", err)
		return false
	}
	*cfg = next
	fmt.Fprintf(m.Status, "[host] %s -> %s\n", canon, describe(*cfg, canon))
	return true
}

// applySetting dispatches a single name/value pair onto cfg. It returns the
// canonical setting name for reporting.
func applySetting(cfg *dither.Config, name, value string) (string, error) {
	switch name {
	case "gamma", "g":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return "", &dither.ConfigError{Field: "gamma", Reason: "not a number"}
		}
		cfg.Gamma = v
		return "gamma", nil
	case "contrast", "c":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return "", &dither.ConfigError{Field: "contrast", Reason: "not a number"}
		}
		cfg.Contrast = v
		return "contrast", nil
	case "brightness", "b":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return "", &dither.ConfigError{Field: "brightness", Reason: "not a number"}
		}
		cfg.Brightness = int(v)
		return "brightness", nil
	case "dither", "d":
		mode, err := dither.ParseMode(value)
		if err != nil {
			return "", err
		}
		cfg.Mode = mode
		return "dither", nil
	case "invert", "inv":
		cfg.Invert = parseBool(value)
		return "invert", nil
	case "rotate180", "rot", "rotate":
		cfg.Rotate180 = parseBool(value)
		return "rotate180", nil
	}
	return "", &dither.ConfigError{Field: "@" + name, Reason: "unknown (try @help)"}
}

// parseBool treats anything but an explicit off-value as true.
func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "0", "false", "off", "":
		return false
	}
	return true
}

func describe(cfg dither.Config, name string) string {
	switch name {
	case "gamma":
		return strconv.FormatFloat(cfg.Gamma, 'g', -1, 64)
	case "contrast":
		return strconv.FormatFloat(cfg.Contrast, 'g', -1, 64)
	case "brightness":
		return strconv.Itoa(cfg.Brightness)
	case "dither":
		return cfg.Mode.String()
	case "invert":
		return strconv.FormatBool(cfg.Invert)
	case "rotate180":
		return strconv.FormatBool(cfg.Rotate180)
	}
	return ""
}

// ForwardDevice drains the device queue, writing each command line to w.
// Write failures are fatal; the caller aborts the session.
func (m *Mux) ForwardDevice(w *wire.Writer) error {
	for {
		select {
		case line, ok := <-m.device:
			if !ok {
				return nil
			}
			if err := w.WriteLine(line); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}
