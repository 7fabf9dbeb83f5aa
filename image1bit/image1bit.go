// Package image1bit provides a 1-bit monochrome image format in the page-major
// layout used by ST7565/ST7567-class display controllers.
//
// The controller stores pixels in vertical byte packing: each byte holds 8
// vertically stacked pixels of one column within an 8-pixel-tall "page".
// Bit 0 is the topmost row of the page. Pages are laid out top to bottom, so
// byte page*width+x covers rows page*8..page*8+7 of column x.
package image1bit

import (
	"image"
	"image/color"
)

// Bit is a binary pixel. On is a set (lit) controller pixel, which on a
// transflective LCD renders dark.
type Bit bool

// Possible bit values.
const (
	On  Bit = true
	Off Bit = false
)

// RGBA implements color.Color. On maps to black, Off to white, matching how
// a set pixel appears on the panel.
func (b Bit) RGBA() (r, g, b2, a uint32) {
	if b {
		return 0, 0, 0, 0xFFFF
	}
	return 0xFFFF, 0xFFFF, 0xFFFF, 0xFFFF
}

func (b Bit) String() string {
	if b {
		return "On"
	}
	return "Off"
}

func toBit(c color.Color) color.Color {
	if b, ok := c.(Bit); ok {
		return b
	}
	r, g, b, _ := c.RGBA()
	y := (299*r + 587*g + 114*b + 500) / 1000
	// Dark colors map to On.
	return Bit(y < 0x8000)
}

// BitModel converts colors to Bit.
var BitModel = color.ModelFunc(toBit)

// VerticalLSB is a 1-bit image in page-major vertical packing.
// The buffer length is always Rect.Dx() * Rect.Dy() / 8.
type VerticalLSB struct {
	Pix    []byte          // Pixel data, one byte per 8 vertical pixels
	Stride int             // Bytes per page (equals the width)
	Rect   image.Rectangle // Image bounds
}

// NewVerticalLSB creates a VerticalLSB image with the specified bounds.
// The height must be a multiple of 8 (whole pages).
func NewVerticalLSB(r image.Rectangle) *VerticalLSB {
	w, h := r.Dx(), r.Dy()
	if w < 0 || h < 0 {
		return &VerticalLSB{Rect: r}
	}
	if h%8 != 0 {
		panic("image1bit: height must be a multiple of 8")
	}
	return &VerticalLSB{
		Pix:    make([]byte, w*h/8),
		Stride: w,
		Rect:   r,
	}
}

// ColorModel returns the color model of the image.
func (p *VerticalLSB) ColorModel() color.Model {
	return BitModel
}

// Bounds returns the image bounds.
func (p *VerticalLSB) Bounds() image.Rectangle {
	return p.Rect
}

// At returns the color of the pixel at (x, y).
// It implements the image.Image interface.
func (p *VerticalLSB) At(x, y int) color.Color {
	return p.BitAt(x, y)
}

// BitAt returns the Bit at (x, y). Out-of-bounds coordinates return Off.
func (p *VerticalLSB) BitAt(x, y int) Bit {
	if !(image.Point{X: x, Y: y}.In(p.Rect)) {
		return Off
	}
	offset, mask := p.pixOffset(x, y)
	return p.Pix[offset]&mask != 0
}

// Set sets the color of the pixel at (x, y).
func (p *VerticalLSB) Set(x, y int, c color.Color) {
	p.SetBit(x, y, BitModel.Convert(c).(Bit))
}

// SetBit sets the Bit at (x, y). This is faster than Set() as it doesn't
// require color conversion.
func (p *VerticalLSB) SetBit(x, y int, b Bit) {
	if !(image.Point{X: x, Y: y}.In(p.Rect)) {
		return
	}
	offset, mask := p.pixOffset(x, y)
	if b {
		p.Pix[offset] |= mask
	} else {
		p.Pix[offset] &^= mask
	}
}

// pixOffset returns the byte offset and bit mask for the pixel at (x, y).
// Memory layout: byte page*Stride+x, bit y%8 (bit 0 = top row of the page).
func (p *VerticalLSB) pixOffset(x, y int) (int, byte) {
	x -= p.Rect.Min.X
	y -= p.Rect.Min.Y
	return (y/8)*p.Stride + x, 1 << uint(y%8)
}
