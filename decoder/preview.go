package decoder

import (
	"fmt"
	"os/exec"
)

// PreviewOptions configures the synchronized local preview player.
type PreviewOptions struct {
	Input string
	// Seek positions the preview at that many seconds. Computed by the
	// caller as stream seek plus a user offset; values <= 0 mean play from
	// the start.
	Seek float64
	Mute bool
}

// Preview is a running ffplay instance. It is fire-and-forget: playback ends
// on its own (-autoexit) or with the process group.
type Preview struct {
	cmd *exec.Cmd
}

// StartPreview launches ffplay. Call it from the streamer's first-send hook
// so local playback starts in sync with the first transmitted frame.
func StartPreview(opts PreviewOptions) (*Preview, error) {
	args := []string{"-hide_banner", "-loglevel", "error", "-autoexit"}
	if opts.Mute {
		args = append(args, "-an")
	}
	if opts.Seek > 0 {
		args = append(args, "-ss", formatFPS(opts.Seek))
	}
	args = append(args, "-i", opts.Input)

	p := &Preview{cmd: exec.Command("ffplay", args...)}
	if err := p.cmd.Start(); err != nil {
		return nil, fmt.Errorf("decoder: starting preview player: %w", err)
	}
	go p.cmd.Wait()
	return p, nil
}
