package control

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/saumilthecode/beemovieonblahajctflanyardhwchal/dither"
	"github.com/saumilthecode/beemovieonblahajctflanyardhwchal/wire"
)

// drainHost polls ApplyHost until done reports true or the deadline passes.
func drainHost(t *testing.T, m *Mux, cfg *dither.Config, done func() bool) bool {
	t.Helper()
	changed := false
	deadline := time.Now().Add(2 * time.Second)
	for {
		if m.ApplyHost(cfg) {
			changed = true
		}
		if done() {
			return changed
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the feeder")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestApplySettings(t *testing.T) {
	input := strings.Join([]string{
		"@gamma 1.4",
		"@c 1.2",
		"@brightness -10",
		"@dither fs",
		"@invert 1",
		"@rot on",
	}, "\n")
	m := New(strings.NewReader(input), dither.DefaultConfig())
	cfg := dither.DefaultConfig()

	if !drainHost(t, m, &cfg, func() bool { return cfg.Rotate180 }) {
		t.Fatal("ApplyHost reported no change")
	}
	if cfg.Gamma != 1.4 || cfg.Contrast != 1.2 || cfg.Brightness != -10 {
		t.Errorf("tone settings not applied: %+v", cfg)
	}
	if cfg.Mode != dither.FloydSteinberg || !cfg.Invert || !cfg.Rotate180 {
		t.Errorf("mode/flag settings not applied: %+v", cfg)
	}
}

func TestInvalidSettingsIgnored(t *testing.T) {
	input := strings.Join([]string{
		"@gamma nope",
		"@gamma -1",
		"@dither ordered",
		"@bogus 12",
	}, "\n")
	var status bytes.Buffer
	m := New(strings.NewReader(input), dither.DefaultConfig())
	m.Status = &status
	cfg := dither.DefaultConfig()

	if drainHost(t, m, &cfg, func() bool { return strings.Contains(status.String(), "bogus") }) {
		t.Error("invalid settings reported as a change")
	}
	if cfg != dither.DefaultConfig() {
		t.Errorf("config mutated by invalid settings: %+v", cfg)
	}
	if status.Len() == 0 {
		t.Error("invalid settings produced no feedback")
	}
}

func TestResetRestoresDefaults(t *testing.T) {
	defaults := dither.DefaultConfig()
	defaults.Gamma = 2.2
	var status bytes.Buffer
	m := New(strings.NewReader("@gamma 1.1\n@reset\n"), defaults)
	m.Status = &status
	cfg := defaults

	drainHost(t, m, &cfg, func() bool { return strings.Contains(status.String(), "reset") })
	if cfg != defaults {
		t.Errorf("config after reset = %+v, want defaults %+v", cfg, defaults)
	}
}

func TestHelpEmitsUsage(t *testing.T) {
	var status bytes.Buffer
	m := New(strings.NewReader("@help\n"), dither.DefaultConfig())
	m.Status = &status
	cfg := dither.DefaultConfig()

	drainHost(t, m, &cfg, func() bool { return status.Len() > 0 })
	if !strings.Contains(status.String(), "@gamma") {
		t.Errorf("help output missing usage: %q", status.String())
	}
}

func TestDeviceLinesForwardedVerbatim(t *testing.T) {
	input := strings.Join([]string{
		"!contrast 40",
		"bl 0.3", // bare name gets the sigil prepended
		"@gamma 1.2",
	}, "\n")
	m := New(strings.NewReader(input), dither.DefaultConfig())

	var out bytes.Buffer
	w := wire.NewWriter(&out)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && strings.Count(out.String(), "\n") < 2 {
		if err := m.ForwardDevice(w); err != nil {
			t.Fatal(err)
		}
		time.Sleep(time.Millisecond)
	}

	if got, want := out.String(), "!contrast 40\n!bl 0.3\n"; got != want {
		t.Errorf("device output = %q, want %q", got, want)
	}
}

func TestDrainIsNonBlocking(t *testing.T) {
	// A reader that never produces anything must not stall the drains.
	m := New(neverReader{}, dither.DefaultConfig())
	cfg := dither.DefaultConfig()

	done := make(chan struct{})
	go func() {
		m.ApplyHost(&cfg)
		m.ForwardDevice(wire.NewWriter(&bytes.Buffer{}))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("drain blocked on an empty queue")
	}
}

type neverReader struct{}

func (neverReader) Read(p []byte) (int, error) {
	time.Sleep(time.Hour)
	return 0, nil
}
