// Package stream runs the host-side frame loop: it pulls raw grayscale
// frames off the decoder's byte stream, processes them, and writes the packed
// frames to the serial link on a soft-real-time schedule with drop-frame
// catch-up.
package stream

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/saumilthecode/beemovieonblahajctflanyardhwchal/control"
	"github.com/saumilthecode/beemovieonblahajctflanyardhwchal/dither"
	"github.com/saumilthecode/beemovieonblahajctflanyardhwchal/wire"
)

// Stats is a snapshot of the loop counters, safe to read from another
// goroutine while the loop runs.
type Stats struct {
	Index   int64 // frames consumed from the decoder (sent + dropped)
	Sent    int64
	Dropped int64
}

// Streamer drives the per-frame loop. Fill in the exported fields and call
// Run once. The loop is single-threaded and cooperative: it blocks only on
// the exact-length decoder read and on the pacing sleep.
type Streamer struct {
	// Frames is the decoder's raw frame stream. A short or absent read is
	// end of stream, not an error.
	Frames io.Reader
	// Out is the single writer for the serial link.
	Out *wire.Writer
	// Cfg is the processing configuration; mutated between frames by Mux.
	Cfg dither.Config
	// FPS is the playback rate. Must be > 0 when Realtime or DropFrames is
	// set.
	FPS float64
	// Realtime paces transmissions against the wall clock. When false,
	// frames are sent as fast as possible.
	Realtime bool
	// DropFrames enables catch-up: when the loop falls more than one frame
	// behind schedule, already-decoded frames are read and discarded.
	DropFrames bool
	// MaxFrames stops the loop after that many transmitted frames. 0 means
	// until end of stream.
	MaxFrames int
	// Mux, when set, injects interactive reconfiguration and device
	// commands between frames.
	Mux *control.Mux
	// OnFirstSend fires just before the first frame is transmitted, at the
	// moment the pacing clock starts. Used to launch a synchronized
	// preview.
	OnFirstSend func()
	Log         *slog.Logger

	// Test seams; Run fills them with the real clock when nil.
	now   func() time.Time
	sleep func(time.Duration)

	proc  *dither.Processor
	index atomic.Int64
	sent  atomic.Int64
	drops atomic.Int64
}

// Stats returns a snapshot of the loop counters.
func (s *Streamer) Stats() Stats {
	return Stats{
		Index:   s.index.Load(),
		Sent:    s.sent.Load(),
		Dropped: s.drops.Load(),
	}
}

// Run streams frames until end of stream, the frame limit, a fatal transport
// or shape error, or context cancellation. The start of the pacing schedule
// is pinned to the first transmission so launch latency does not count
// against it.
func (s *Streamer) Run(ctx context.Context) error {
	if s.now == nil {
		s.now = time.Now
	}
	if s.sleep == nil {
		s.sleep = time.Sleep
	}
	if s.Log == nil {
		s.Log = slog.Default()
	}

	proc, err := dither.NewProcessor(wire.FrameWidth, wire.FrameHeight, s.Cfg)
	if err != nil {
		return err
	}
	s.proc = proc

	progressEvery := int64(s.FPS * 5)
	if progressEvery < 1 {
		progressEvery = 1
	}

	raw := make([]byte, wire.RawFrameLen)
	var start time.Time

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if s.Mux != nil {
			if s.Mux.ApplyHost(&s.Cfg) {
				s.rebuild()
			}
			if err := s.Mux.ForwardDevice(s.Out); err != nil {
				return err
			}
		}

		if s.Realtime && s.DropFrames && !start.IsZero() {
			eof, err := s.catchUp(start, raw)
			if err != nil {
				return err
			}
			if eof {
				break
			}
		}

		if !s.readFrame(raw) {
			break
		}
		s.index.Add(1)

		packed, err := s.proc.Process(raw)
		if err != nil {
			// Only a SizeError can happen here; the decoder contract is
			// broken and the session cannot continue.
			return err
		}

		if s.sent.Load() == 0 {
			if s.OnFirstSend != nil {
				s.OnFirstSend()
			}
			start = s.now()
		}
		if err := s.Out.WriteFrame(packed); err != nil {
			return err
		}
		sent := s.sent.Add(1)

		if s.Realtime {
			target := start.Add(s.frameDeadline(s.index.Load()))
			if d := target.Sub(s.now()); d > 0 {
				s.sleep(d)
			}
		}

		if sent%progressEvery == 0 {
			s.Log.Info("streaming", "sent", sent, "dropped", s.drops.Load())
		}
		if s.MaxFrames > 0 && sent >= int64(s.MaxFrames) {
			break
		}
	}
	return nil
}

// rebuild recompiles the processor after a config change. An invalid config
// is reported and the previous processor stays in effect.
func (s *Streamer) rebuild() {
	proc, err := dither.NewProcessor(wire.FrameWidth, wire.FrameHeight, s.Cfg)
	if err != nil {
		s.Log.Warn("keeping previous processing config", "error", err)
		s.Cfg = s.proc.Config()
		return
	}
	s.proc = proc
}

// catchUp discards decoded frames when the loop is more than one frame
// behind schedule, capped at two seconds' worth, always keeping one frame to
// actually send. Returns eof=true when the stream ends mid-discard.
func (s *Streamer) catchUp(start time.Time, raw []byte) (eof bool, err error) {
	elapsed := s.now().Sub(start).Seconds()
	shouldHaveSent := int64(elapsed * s.FPS)
	behind := shouldHaveSent - s.index.Load()
	if behind <= 1 {
		return false, nil
	}
	drop := behind - 1
	if limit := int64(2 * s.FPS); drop > limit {
		drop = limit
	}
	for i := int64(0); i < drop; i++ {
		if !s.readFrame(raw) {
			return true, nil
		}
		s.index.Add(1)
		s.drops.Add(1)
	}
	return false, nil
}

// readFrame performs an exact-length read. False means end of stream.
func (s *Streamer) readFrame(raw []byte) bool {
	_, err := io.ReadFull(s.Frames, raw)
	return err == nil
}

// frameDeadline is the offset of frame index's transmission slot from the
// schedule start.
func (s *Streamer) frameDeadline(index int64) time.Duration {
	return time.Duration(float64(index) / s.FPS * float64(time.Second))
}
