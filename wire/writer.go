package wire

import (
	"io"
	"time"
)

// DefaultWriteTimeout bounds how long a single serial write may block before
// the session is considered dead.
const DefaultWriteTimeout = 5 * time.Second

// Writer serializes frame and command lines onto the single ordered output
// stream. There is exactly one Writer per serial link; the pacing loop and
// the control multiplexer interleave on it but never run concurrently, so no
// locking is needed.
//
// A write that exceeds Timeout returns a TransportError wrapping
// ErrWriteTimeout. The caller must abort the session: the underlying write
// may still be in flight and the stream can no longer be trusted.
type Writer struct {
	W       io.Writer
	Timeout time.Duration // 0 means DefaultWriteTimeout
}

// NewWriter returns a Writer with the default timeout.
func NewWriter(w io.Writer) *Writer {
	return &Writer{W: w, Timeout: DefaultWriteTimeout}
}

// WriteFrame writes one packed frame line.
func (w *Writer) WriteFrame(packed []byte) error {
	return w.write(EncodeFrame(packed), "write frame")
}

// WriteCommand writes one device command line.
func (w *Writer) WriteCommand(name string, args ...string) error {
	return w.write(EncodeCommand(name, args...), "write command")
}

// WriteLine writes an already-encoded line, appending the newline if absent.
// Used when forwarding interactive device commands verbatim.
func (w *Writer) WriteLine(line string) error {
	if len(line) == 0 || line[len(line)-1] != '\n' {
		line += "\n"
	}
	return w.write([]byte(line), "write line")
}

func (w *Writer) write(p []byte, op string) error {
	timeout := w.Timeout
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	done := make(chan error, 1)
	go func() {
		_, err := w.W.Write(p)
		done <- err
	}()
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case err := <-done:
		if err != nil {
			return &TransportError{Op: op, Err: err}
		}
		return nil
	case <-t.C:
		return &TransportError{Op: op, Err: ErrWriteTimeout}
	}
}
