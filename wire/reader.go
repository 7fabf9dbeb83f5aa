package wire

import (
	"bufio"
	"io"
)

// LineReader feeds lines from a blocking reader into a channel so a
// single-threaded loop can poll for input with bounded latency instead of
// blocking on a read. The feeding goroutine exits and closes the channel at
// end of stream.
type LineReader struct {
	lines chan string
}

// NewLineReader starts reading lines from r. The buffer is generous so the
// feeder only blocks if the consumer stalls far behind.
func NewLineReader(r io.Reader) *LineReader {
	lr := &LineReader{lines: make(chan string, 256)}
	go lr.feed(r)
	return lr
}

func (lr *LineReader) feed(r io.Reader) {
	defer close(lr.lines)
	sc := bufio.NewScanner(r)
	// Frame lines are ~1.4 KB of base64; leave ample headroom.
	sc.Buffer(make([]byte, 4096), 64*1024)
	for sc.Scan() {
		lr.lines <- sc.Text()
	}
}

// Lines returns the channel of received lines. It is closed at end of
// stream.
func (lr *LineReader) Lines() <-chan string {
	return lr.lines
}
