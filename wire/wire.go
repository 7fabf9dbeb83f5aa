// Package wire implements the line protocol shared by the streaming host and
// the display receiver.
//
// Two line shapes travel on the serial link:
//
//	base64(packedFrame) "\n"        frame payload
//	"!" name (" " arg)* "\n"        device command, name case-insensitive
//
// A third shape, "@" name (" " value)?, is consumed on the host only and
// never transmitted.
package wire

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Display geometry shared by both endpoints.
const (
	FrameWidth  = 128
	FrameHeight = 64
	FramePages  = FrameHeight / 8

	// RawFrameLen is the size of one 8-bit grayscale frame from the decoder.
	RawFrameLen = FrameWidth * FrameHeight
	// PackedFrameLen is the size of one 1-bit page-major frame.
	PackedFrameLen = FrameWidth * FramePages
)

// Protocol sigils.
const (
	CommandSigil = '!'
	ConfigSigil  = '@'
)

// TransportError wraps a fatal serial I/O failure. The session aborts on the
// first one; retrying would desynchronize the pacing clock.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("wire: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ErrWriteTimeout is the cause of a TransportError when a serial write does
// not complete within the writer's deadline.
var ErrWriteTimeout = errors.New("write timed out")

// EncodeFrame encodes a packed frame as a base64 line.
func EncodeFrame(packed []byte) []byte {
	n := base64.StdEncoding.EncodedLen(len(packed))
	out := make([]byte, n+1)
	base64.StdEncoding.Encode(out, packed)
	out[n] = '\n'
	return out
}

// EncodeCommand encodes a device command line.
func EncodeCommand(name string, args ...string) []byte {
	var b strings.Builder
	b.WriteByte(CommandSigil)
	b.WriteString(name)
	for _, a := range args {
		b.WriteByte(' ')
		b.WriteString(a)
	}
	b.WriteByte('\n')
	return []byte(b.String())
}

// Command is a parsed device command line. Transient; it exists only while
// the line is being dispatched.
type Command struct {
	Name string   // lower-cased
	Args []string // up to 3 positional arguments
}

// ParseCommand parses a "!"-sigil line. Returns false if the line is not a
// command or names no command.
func ParseCommand(line string) (Command, bool) {
	line = strings.TrimSpace(line)
	if len(line) < 2 || line[0] != CommandSigil {
		return Command{}, false
	}
	fields := strings.Fields(line[1:])
	if len(fields) == 0 {
		return Command{}, false
	}
	return Command{Name: strings.ToLower(fields[0]), Args: fields[1:]}, true
}

// DecodeFrame decodes a frame line. Returns false on a decode failure or any
// decoded length other than wantLen; the caller discards such lines silently.
func DecodeFrame(line string, wantLen int) ([]byte, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, false
	}
	frame, err := base64.StdEncoding.DecodeString(line)
	if err != nil || len(frame) != wantLen {
		return nil, false
	}
	return frame, true
}
