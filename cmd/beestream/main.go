// Command beestream streams a video to an ST7567 lanyard badge over serial.
//
// An external ffmpeg process decodes and scales the input to 128x64
// grayscale; beestream dithers each frame to 1 bit, packs it into the
// controller's page-major layout, and writes it to the serial port on a
// real-time schedule. Interactive mode ("-interactive") reads extra lines
// from stdin: "!..." lines go to the device, "@..." lines retune the image
// processing on the fly.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.bug.st/serial"

	"github.com/saumilthecode/beemovieonblahajctflanyardhwchal/control"
	"github.com/saumilthecode/beemovieonblahajctflanyardhwchal/decoder"
	"github.com/saumilthecode/beemovieonblahajctflanyardhwchal/dither"
	"github.com/saumilthecode/beemovieonblahajctflanyardhwchal/stream"
	"github.com/saumilthecode/beemovieonblahajctflanyardhwchal/telemetry"
	"github.com/saumilthecode/beemovieonblahajctflanyardhwchal/wire"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		port = flag.String("port", "", "serial port (e.g. /dev/ttyACM0)")
		baud = flag.Int("baud", 500000, "baud rate (USB CDC ignores this, kept for compatibility)")
		fps  = flag.Float64("fps", 15, "playback FPS (try 10-20)")

		input      = flag.String("input", "bee_movie.mp4", "input video path")
		seek       = flag.Float64("seek", 0, "seek seconds into the movie")
		mode       = flag.String("mode", "crop", "scale mode: crop (fill) or fit (letterbox)")
		scaleFlags = flag.String("scale-flags", "lanczos", "ffmpeg scale filter flags (e.g. lanczos, bicubic)")
		frames     = flag.Int("frames", 0, "stop after N frames (0 = until EOF)")

		gamma      = flag.Float64("gamma", 1.0, "gamma correction (>0), <1 brighter mids, >1 darker")
		brightness = flag.Int("brightness", 0, "brightness shift (-255..255) applied before dithering")
		contrast   = flag.Float64("contrast", 1.0, "contrast multiplier (>0) around mid-gray")
		ditherMode = flag.String("dither", "bayer", "dither algorithm: bayer, fs, or atkinson")
		invert     = flag.Bool("invert", false, "invert pixels (swap black/white)")
		rotate180  = flag.Bool("rotate180", false, "rotate frames 180 degrees")

		lcdContrast = flag.Int("lcd-contrast", -1, "set LCD contrast 0..63 before playback")
		backlight   = flag.String("backlight", "", "set backlight before playback: percent, raw duty, or 0.0..1.0 ratio")

		interactive = flag.Bool("interactive", false, "forward stdin lines to the device (!cmd) or the host (@key val)")
		dropFrames  = flag.Bool("drop-frames", false, "skip input frames to catch up when falling behind real-time")
		noRealtime  = flag.Bool("no-realtime", false, "send frames as fast as possible")

		preview       = flag.Bool("preview", false, "launch a local player (ffplay) in sync with the first frame")
		previewMute   = flag.Bool("preview-mute", false, "mute audio in the local preview player")
		previewOffset = flag.Float64("preview-offset", 0, "start the preview at seek+offset seconds")

		mqttBroker = flag.String("mqtt-broker", "", "publish playback stats to this MQTT broker (host:port)")
		mqttTopic  = flag.String("mqtt-topic", "beestream/stats", "MQTT topic for playback stats")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(log)

	if *port == "" {
		fmt.Fprintln(os.Stderr, "missing -port")
		flag.Usage()
		return 2
	}

	modeCfg, err := dither.ParseMode(*ditherMode)
	if err != nil {
		log.Error("bad -dither", "error", err)
		return 2
	}
	cfg := dither.Config{
		Gamma:      *gamma,
		Brightness: *brightness,
		Contrast:   *contrast,
		Mode:       modeCfg,
		Invert:     *invert,
		Rotate180:  *rotate180,
	}
	if err := cfg.Validate(); err != nil {
		log.Error("bad processing config", "error", err)
		return 2
	}

	sp, err := serial.Open(*port, &serial.Mode{BaudRate: *baud})
	if err != nil {
		log.Error("opening serial port", "port", *port, "error", err)
		return 1
	}
	defer sp.Close()
	// Stale device output would otherwise sit in the buffer forever; we
	// never read it.
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

	dec, err := decoder.Start(decoder.Options{
		Input:      *input,
		Width:      wire.FrameWidth,
		Height:     wire.FrameHeight,
		FPS:        *fps,
		Mode:       *mode,
		ScaleFlags: *scaleFlags,
		Seek:       *seek,
	})
	if err != nil {
		log.Error("starting decoder", "error", err)
		return 1
	}

	s := &stream.Streamer{
		Frames:     dec.Frames(),
		Out:        out,
		Cfg:        cfg,
		FPS:        *fps,
		Realtime:   !*noRealtime,
		DropFrames: *dropFrames,
		MaxFrames:  *frames,
		Log:        log,
	}
	if *interactive {
		mux := control.New(os.Stdin, cfg)
		mux.Status = os.Stderr
		mux.Log = log
		s.Mux = mux
	}
	if *preview {
		s.OnFirstSend = func() {
			_, err := decoder.StartPreview(decoder.PreviewOptions{
				Input: *input,
				Seek:  *seek + *previewOffset,
				Mute:  *previewMute,
			})
			if err != nil {
				log.Warn("preview player failed to start", "error", err)
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *mqttBroker != "" {
		pub, err := telemetry.New(*mqttBroker, *mqttTopic)
		if err != nil {
			log.Warn("telemetry disabled", "error", err)
		} else {
			log.Info("telemetry enabled", "session", pub.Session(), "topic", *mqttTopic)
			go pub.Run(ctx.Done(), 5*time.Second, func() (int64, int64, float64) {
				st := s.Stats()
				return st.Sent, st.Dropped, *fps
			})
		}
	}

	runErr := s.Run(ctx)
	closeErr := dec.Close()
	st := s.Stats()
	log.Info("done", "sent", st.Sent, "dropped", st.Dropped)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("stream aborted", "error", runErr)
		return 1
	}
	if closeErr != nil {
		log.Error("decoder failed", "error", closeErr)
		return 1
	}
	return 0
}
