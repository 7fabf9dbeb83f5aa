// Package st7567 controls a ST7567/ST7565-compatible monochrome LCD via SPI.
//
// The ST7567 is a 1-bit page-addressed controller driving up to 132x65
// pixels; the common panel size is 128x64. Pixel data is written one page
// (8-pixel-tall strip) at a time, each byte covering 8 vertical pixels of one
// column.
//
// Unlike controllers whose chip select is managed by the SPI driver, this
// package drives CS itself: a whole frame is written under one CS assertion
// with only the data/command line toggling between page commands and column
// data. That keeps a frame atomic on the bus, which matters at video rates.
package st7567

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// Opts is the configuration for the ST7567 display.
type Opts struct {
	// Display dimensions in pixels
	W int // Width (default: 128, must be ≤132)
	H int // Height (default: 64, must be a multiple of 8 and ≤64)

	// Panel wiring
	ColOffset      int  // First RAM column mapped to the panel
	LineOffset     int  // Start line, 0..63
	ComReverse     bool // COM output direction (default true on this panel)
	SegmentReverse bool // Segment (ADC) direction

	// Initial analog drive settings, adjustable later at runtime.
	Contrast        int  // 0..63
	RegulationRatio int  // 0..7
	Bias17          bool // true: 1/7 bias, false: 1/9
	Invert          bool

	// Optional hardware reset pin
	RST gpio.PinIO
}

// DefaultOpts matches the lanyard board: contrast 0x2A, regulation ratio 3,
// 1/7 bias, reversed COM direction.
var DefaultOpts = Opts{
	W:               128,
	H:               64,
	Contrast:        0x2A,
	RegulationRatio: 3,
	Bias17:          true,
	ComReverse:      true,
}

// Dev is the device handle for the ST7567 display.
type Dev struct {
	// Communication
	c   conn.Conn   // SPI connection
	dc  gpio.PinOut // Data/Command pin
	cs  gpio.PinOut // Chip select, driven manually (see package doc)
	rst gpio.PinIO  // Reset pin (optional)

	// Display geometry
	w, h  int
	pages int

	// cmdBuf is the per-page command triplet: page select plus the column
	// pointer reset for ColOffset.
	cmdBuf [3]byte

	// State
	halted bool
}

// NewSPI creates a new ST7567 device connected via SPI.
//
// The SPI port is configured for 20MHz, Mode0 (CPOL=0, CPHA=0), 8-bit
// transfers. dc and cs must be outputs; cs is driven by this package.
//
// opts can be nil to use DefaultOpts.
func NewSPI(p spi.Port, dc, cs gpio.PinOut, opts *Opts) (*Dev, error) {
	if opts == nil {
		o := DefaultOpts
		opts = &o
	}

	if opts.W <= 0 || opts.W > 132 {
		return nil, errors.New("st7567: width must be between 1 and 132")
	}
	if opts.H <= 0 || opts.H%8 != 0 || opts.H > 64 {
		return nil, errors.New("st7567: height must be a multiple of 8 between 8 and 64")
	}
	if opts.LineOffset < 0 || opts.LineOffset > 63 {
		return nil, errors.New("st7567: line offset must be between 0 and 63")
	}

	c, err := p.Connect(20*physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		return nil, err
	}

	d := &Dev{
		c:     c,
		dc:    dc,
		cs:    cs,
		rst:   opts.RST,
		w:     opts.W,
		h:     opts.H,
		pages: opts.H / 8,
	}
	col := opts.ColOffset
	d.cmdBuf[1] = 0x10 | byte((col>>4)&0x0F)
	d.cmdBuf[2] = 0x00 | byte(col&0x0F)

	if err := d.init(opts); err != nil {
		return nil, err
	}
	return d, nil
}

// init performs the hardware reset and the fixed initialization sequence.
// The command order is load-bearing; do not reorder.
func (d *Dev) init(opts *Opts) error {
	if err := d.cs.Out(gpio.High); err != nil {
		return fmt.Errorf("st7567: failed to release CS: %w", err)
	}
	if d.rst != nil {
		if err := d.rst.Out(gpio.Low); err != nil {
			return fmt.Errorf("st7567: failed to pull RST low: %w", err)
		}
		time.Sleep(50 * time.Millisecond)
		if err := d.rst.Out(gpio.High); err != nil {
			return fmt.Errorf("st7567: failed to pull RST high: %w", err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	bias := byte(0xA2)
	if opts.Bias17 {
		bias = 0xA3
	}
	seg := byte(0xA0)
	if opts.SegmentReverse {
		seg = 0xA1
	}
	com := byte(0xC0)
	if opts.ComReverse {
		com = 0xC8
	}
	cmds := []byte{
		0xE2,                         // software reset
		0xAE,                         // display off
		bias,                         // LCD bias 1/9 (0xA2) or 1/7 (0xA3)
		seg,                          // segment (ADC) direction
		com,                          // COM output direction
		0x40 | byte(opts.LineOffset), // start line
		0x2F,                         // power control: booster, regulator, follower on
		0x20 | byte(clampInt(opts.RegulationRatio, 0, 7)), // regulation ratio
		0x81, byte(clampInt(opts.Contrast, 0, 0x3F)), // contrast (electronic volume)
	}
	if opts.Invert {
		cmds = append(cmds, 0xA7)
	} else {
		cmds = append(cmds, 0xA6)
	}
	cmds = append(cmds,
		0xA4, // all points normal
		0xAF, // display on
	)
	return d.sendCommands(cmds)
}

// sendCommands sends command bytes under a single CS assertion.
func (d *Dev) sendCommands(cmds []byte) error {
	if err := d.cs.Out(gpio.Low); err != nil {
		return err
	}
	defer d.cs.Out(gpio.High)
	if err := d.dc.Out(gpio.Low); err != nil {
		return err
	}
	return d.c.Tx(cmds, nil)
}

// Show writes one full packed frame. The frame must be exactly
// width*(height/8) bytes in page-major order, bit 0 of each byte being the
// topmost row of its page.
//
// CS stays asserted for the whole frame; only DC toggles between the
// per-page command triplet and that page's column data. A partial frame is
// never left interleaved with another write.
func (d *Dev) Show(frame []byte) (int, error) {
	if d.halted {
		return 0, errors.New("st7567: halted")
	}
	if len(frame) != d.w*d.pages {
		return 0, errors.New("st7567: frame must be width*(height/8) bytes")
	}

	if err := d.cs.Out(gpio.Low); err != nil {
		return 0, err
	}
	defer d.cs.Out(gpio.High)

	for page := 0; page < d.pages; page++ {
		d.cmdBuf[0] = 0xB0 | byte(page)
		if err := d.dc.Out(gpio.Low); err != nil {
			return 0, err
		}
		if err := d.c.Tx(d.cmdBuf[:], nil); err != nil {
			return 0, err
		}
		if err := d.dc.Out(gpio.High); err != nil {
			return 0, err
		}
		start := page * d.w
		if err := d.c.Tx(frame[start:start+d.w], nil); err != nil {
			return 0, err
		}
	}
	return len(frame), nil
}

// Fill sets every pixel on or off.
func (d *Dev) Fill(on bool) error {
	v := byte(0x00)
	if on {
		v = 0xFF
	}
	frame := make([]byte, d.w*d.pages)
	for i := range frame {
		frame[i] = v
	}
	_, err := d.Show(frame)
	return err
}

// SetContrast sets the electronic volume, clamped to 0..63.
func (d *Dev) SetContrast(contrast int) error {
	if d.halted {
		return errors.New("st7567: halted")
	}
	return d.sendCommands([]byte{0x81, byte(clampInt(contrast, 0, 0x3F))})
}

// SetRegulationRatio sets the voltage regulation ratio, clamped to 0..7.
func (d *Dev) SetRegulationRatio(ratio int) error {
	if d.halted {
		return errors.New("st7567: halted")
	}
	return d.sendCommands([]byte{0x20 | byte(clampInt(ratio, 0, 7))})
}

// SetBias selects 1/7 (true) or 1/9 (false) LCD bias.
func (d *Dev) SetBias(bias17 bool) error {
	if d.halted {
		return errors.New("st7567: halted")
	}
	cmd := byte(0xA2)
	if bias17 {
		cmd = 0xA3
	}
	return d.sendCommands([]byte{cmd})
}

// SetInvert inverts the panel (set pixels render light instead of dark).
func (d *Dev) SetInvert(invert bool) error {
	if d.halted {
		return errors.New("st7567: halted")
	}
	cmd := byte(0xA6)
	if invert {
		cmd = 0xA7
	}
	return d.sendCommands([]byte{cmd})
}

// Halt powers off the display. After calling Halt, the display will not
// respond to further commands until the device is re-initialized.
func (d *Dev) Halt() error {
	d.halted = true
	return d.sendCommands([]byte{0xAE})
}

// String returns a string representation of the device.
func (d *Dev) String() string {
	return fmt.Sprintf("st7567.Dev{%dx%d}", d.w, d.h)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
