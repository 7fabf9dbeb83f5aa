// Package decoder manages the external video decoder process. ffmpeg scales
// the input to the display geometry and emits raw 8-bit grayscale frames on
// stdout; this package builds its argument list, supervises the process, and
// tears it down when the session ends.
package decoder

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"syscall"
	"time"
)

// termSignal asks the decoder to exit cleanly before Close escalates to a
// kill.
var termSignal = syscall.SIGTERM

// killGracePeriod is how long Close waits after a terminate signal before
// killing the decoder outright.
const killGracePeriod = 2 * time.Second

// Options configures the decoder pipeline for one session.
type Options struct {
	Input  string
	Width  int
	Height int
	FPS    float64
	// Mode is "crop" (fill and center-crop) or "fit" (letterbox pad).
	Mode string
	// ScaleFlags selects the ffmpeg scaler (lanczos, bicubic, bilinear...).
	ScaleFlags string
	// Seek skips that many seconds into the input. <= 0 means no seek.
	Seek float64
}

// Args returns the full ffmpeg argument list (excluding the program name).
func (o Options) Args() ([]string, error) {
	flags := o.ScaleFlags
	if flags == "" {
		flags = "lanczos"
	}
	var vf string
	switch o.Mode {
	case "crop", "":
		vf = fmt.Sprintf(
			"scale=%d:%d:force_original_aspect_ratio=increase:flags=%s,crop=%d:%d,format=gray,fps=%s",
			o.Width, o.Height, flags, o.Width, o.Height, formatFPS(o.FPS))
	case "fit":
		vf = fmt.Sprintf(
			"scale=%d:%d:force_original_aspect_ratio=decrease:flags=%s,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,format=gray,fps=%s",
			o.Width, o.Height, flags, o.Width, o.Height, formatFPS(o.FPS))
	default:
		return nil, fmt.Errorf("decoder: mode must be crop or fit, got %q", o.Mode)
	}

	args := []string{"-hide_banner", "-loglevel", "error"}
	if o.Seek > 0 {
		args = append(args, "-ss", formatFPS(o.Seek))
	}
	args = append(args,
		"-i", o.Input,
		"-an",
		"-vf", vf,
		"-f", "rawvideo",
		"-pix_fmt", "gray",
		"-",
	)
	return args, nil
}

func formatFPS(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Process is a running decoder. Frames are read from Frames(); Close must be
// called when the session ends, successful or not.
type Process struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr bytes.Buffer
}

// Start launches ffmpeg with the given options.
func Start(opts Options) (*Process, error) {
	args, err := opts.Args()
	if err != nil {
		return nil, err
	}
	p := &Process{cmd: exec.Command("ffmpeg", args...)}
	p.cmd.Stderr = &p.stderr
	p.stdout, err = p.cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("decoder: %w", err)
	}
	if err := p.cmd.Start(); err != nil {
		return nil, fmt.Errorf("decoder: starting ffmpeg: %w", err)
	}
	return p, nil
}

// Frames returns the raw grayscale frame stream. End of stream is a short or
// empty read.
func (p *Process) Frames() io.Reader {
	return p.stdout
}

// Close tears the decoder down: graceful terminate, then a forceful kill
// after a short grace period. If the decoder exited on its own with a
// failure, its stderr is surfaced in the returned error.
func (p *Process) Close() error {
	if p.cmd.ProcessState == nil {
		_ = p.cmd.Process.Signal(termSignal)
		done := make(chan error, 1)
		go func() { done <- p.cmd.Wait() }()
		select {
		case <-done:
		case <-time.After(killGracePeriod):
			_ = p.cmd.Process.Kill()
			<-done
		}
	}

	st := p.cmd.ProcessState
	if st == nil || st.Success() {
		return nil
	}
	if st.ExitCode() < 0 {
		// Killed by our own teardown signal.
		return nil
	}
	msg := bytes.TrimSpace(p.stderr.Bytes())
	if len(msg) > 0 {
		return fmt.Errorf("decoder: ffmpeg failed: %s", msg)
	}
	return errors.New("decoder: ffmpeg failed")
}
