// Command beeblink sends test patterns over the streaming wire protocol:
// handy for checking wiring, contrast, and frame pacing without a video
// pipeline.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"go.bug.st/serial"

	"github.com/saumilthecode/beemovieonblahajctflanyardhwchal/wire"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		port        = flag.String("port", "", "serial port (e.g. /dev/ttyACM0)")
		baud        = flag.Int("baud", 500000, "baud rate")
		pattern     = flag.String("pattern", "blink", "pattern: black, white, blink, or checker")
		fps         = flag.Float64("fps", 2, "pattern frame rate")
		count       = flag.Int("count", 10, "number of frames to send (0 = forever)")
		lcdContrast = flag.Int("lcd-contrast", -1, "set LCD contrast 0..63 first")
		backlight   = flag.String("backlight", "", "set backlight first: percent, raw duty, or ratio")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *port == "" {
		fmt.Fprintln(os.Stderr, "missing -port")
		flag.Usage()
		return 2
	}

	frames, err := patternFrames(*pattern)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	sp, err := serial.Open(*port, &serial.Mode{BaudRate: *baud})
	if err != nil {
		log.Error("opening serial port", "port", *port, "error", err)
		return 1
	}
	defer sp.Close()
	_ = sp.ResetInputBuffer()

	out := wire.NewWriter(sp)
	if *lcdContrast >= 0 {
		if err := out.WriteCommand("contrast", strconv.Itoa(*lcdContrast)); err != nil {
			log.Error("setting LCD contrast", "error", err)
			return 1
		}
	}
	if *backlight != "" {
		if err := out.WriteCommand("bl", *backlight); err != nil {
			log.Error("setting backlight", "error", err)
			return 1
		}
	}

	period := time.Duration(float64(time.Second) / *fps)
	for i := 0; *count == 0 || i < *count; i++ {
		if err := out.WriteFrame(frames[i%len(frames)]); err != nil {
			log.Error("write failed", "error", err)
			return 1
		}
		time.Sleep(period)
	}
	return 0
}

// patternFrames returns the repeating frame cycle for a pattern name.
func patternFrames(name string) ([][]byte, error) {
	switch name {
	case "black":
		return [][]byte{solid(0xFF)}, nil
	case "white":
		return [][]byte{solid(0x00)}, nil
	case "blink":
		return [][]byte{solid(0xFF), solid(0x00)}, nil
	case "checker":
		return [][]byte{checker(false), checker(true)}, nil
	}
	return nil, fmt.Errorf("unknown pattern %q (want black, white, blink, or checker)", name)
}

func solid(v byte) []byte {
	frame := make([]byte, wire.PackedFrameLen)
	for i := range frame {
		frame[i] = v
	}
	return frame
}

// checker builds an 8x8-pixel checkerboard; phase flips which squares are
// set.
func checker(phase bool) []byte {
	frame := make([]byte, wire.PackedFrameLen)
	for page := 0; page < wire.FramePages; page++ {
		for x := 0; x < wire.FrameWidth; x++ {
			on := (x/8+page)%2 == 0
			if phase {
				on = !on
			}
			if on {
				frame[page*wire.FrameWidth+x] = 0xFF
			}
		}
	}
	return frame
}
