// Package dither converts raw 8-bit grayscale frames into 1-bit page-major
// frames ready for an ST7567-class display.
//
// The pipeline runs in a fixed order: optional 180° rotation,
// brightness/contrast, gamma, dithering to a binary mask (On = set controller
// pixel, rendered dark), optional mask inversion, and page-major bit packing.
// Tone adjustments are compiled once into a lookup table when the processor is
// built, so the per-frame cost is a single table pass.
package dither

import (
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/saumilthecode/beemovieonblahajctflanyardhwchal/image1bit"
)

// Mode selects the dithering algorithm.
type Mode int

const (
	// Bayer is ordered dithering with a tiled 8x8 threshold matrix. Fast,
	// stateless, visibly patterned.
	Bayer Mode = iota
	// FloydSteinberg is error diffusion with a serpentine scan.
	FloydSteinberg
	// Atkinson is error diffusion that deliberately discards 2/8 of each
	// pixel's quantization error, trading tonal accuracy for contrast.
	Atkinson
)

// String returns the wire name of the mode.
func (m Mode) String() string {
	switch m {
	case Bayer:
		return "bayer"
	case FloydSteinberg:
		return "fs"
	case Atkinson:
		return "atkinson"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses a mode name as used on the control channel.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bayer":
		return Bayer, nil
	case "fs":
		return FloydSteinberg, nil
	case "atkinson":
		return Atkinson, nil
	}
	return 0, &ConfigError{Field: "dither", Reason: "must be bayer, fs, or atkinson"}
}

// Config holds the tunable processing parameters. The zero value is not
// usable; start from DefaultConfig.
type Config struct {
	Gamma      float64 // >0; <1 brightens mids, >1 darkens
	Brightness int     // -255..255, added after the contrast multiply
	Contrast   float64 // >0, multiplier around mid-gray
	Mode       Mode
	Invert     bool
	Rotate180  bool
}

// DefaultConfig returns the identity processing configuration.
func DefaultConfig() Config {
	return Config{Gamma: 1, Contrast: 1, Mode: Bayer}
}

// Validate reports whether the configuration can be compiled.
func (c Config) Validate() error {
	if c.Gamma <= 0 || math.IsNaN(c.Gamma) || math.IsInf(c.Gamma, 0) {
		return &ConfigError{Field: "gamma", Reason: "must be > 0"}
	}
	if c.Contrast <= 0 || math.IsNaN(c.Contrast) || math.IsInf(c.Contrast, 0) {
		return &ConfigError{Field: "contrast", Reason: "must be > 0"}
	}
	switch c.Mode {
	case Bayer, FloydSteinberg, Atkinson:
	default:
		return &ConfigError{Field: "dither", Reason: "unrecognized mode"}
	}
	return nil
}

// SizeError reports a raw frame whose length does not match the processor
// geometry. It indicates an upstream decoder malfunction and is fatal.
type SizeError struct {
	Got, Want int
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("dither: raw frame is %d bytes, want %d", e.Got, e.Want)
}

// ConfigError reports an invalid processing parameter. It is rejected at the
// point of application; the streaming loop continues.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("dither: %s %s", e.Field, e.Reason)
}

// bayerMatrix is the canonical 8x8 Bayer matrix, values 0..63.
var bayerMatrix = [8][8]byte{
	{0, 48, 12, 60, 3, 51, 15, 63},
	{32, 16, 44, 28, 35, 19, 47, 31},
	{8, 56, 4, 52, 11, 59, 7, 55},
	{40, 24, 36, 20, 43, 27, 39, 23},
	{2, 50, 14, 62, 1, 49, 13, 61},
	{34, 18, 46, 30, 33, 17, 45, 29},
	{10, 58, 6, 54, 9, 57, 5, 53},
	{42, 26, 38, 22, 41, 25, 37, 21},
}

// bayerThreshold is bayerMatrix scaled to the 0..255 sample range.
var bayerThreshold = func() (t [8][8]uint8) {
	for y := range bayerMatrix {
		for x := range bayerMatrix[y] {
			t[y][x] = bayerMatrix[y][x]*4 + 2
		}
	}
	return
}()

// Processor turns raw grayscale frames into packed 1-bit frames. It is built
// once from a validated Config and is pure: Process has no side effects
// beyond its return value, so independent frames may be processed in
// parallel.
type Processor struct {
	w, h int
	cfg  Config
	lut  *[256]uint8 // nil when the tone pipeline is identity
}

// NewProcessor compiles cfg for a w x h frame. The height must be a multiple
// of 8. Brightness is clamped to -255..255; gamma and contrast are validated,
// not clamped.
func NewProcessor(w, h int, cfg Config) (*Processor, error) {
	if w <= 0 || h <= 0 || h%8 != 0 {
		return nil, fmt.Errorf("dither: invalid geometry %dx%d", w, h)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Brightness > 255 {
		cfg.Brightness = 255
	} else if cfg.Brightness < -255 {
		cfg.Brightness = -255
	}
	return &Processor{w: w, h: h, cfg: cfg, lut: buildLUT(cfg)}, nil
}

// buildLUT compiles the brightness/contrast and gamma stages into one table.
// Each stage clips to 0..255 before the next, matching the staged pipeline.
func buildLUT(cfg Config) *[256]uint8 {
	affine := cfg.Brightness != 0 || cfg.Contrast != 1
	gamma := cfg.Gamma != 1
	if !affine && !gamma {
		return nil
	}
	var lut [256]uint8
	for i := 0; i < 256; i++ {
		v := float64(i)
		if affine {
			v = clip255((v-128)*cfg.Contrast + 128 + float64(cfg.Brightness))
		}
		if gamma {
			v = clip255(255 * math.Pow(v/255, cfg.Gamma))
		}
		lut[i] = uint8(v)
	}
	return &lut
}

func clip255(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}

// Config returns the compiled configuration.
func (p *Processor) Config() Config {
	return p.cfg
}

// RawLen returns the expected raw frame length in bytes.
func (p *Processor) RawLen() int {
	return p.w * p.h
}

// PackedLen returns the packed frame length in bytes.
func (p *Processor) PackedLen() int {
	return p.w * p.h / 8
}

// Process converts one raw grayscale frame into a packed 1-bit frame.
// The returned buffer is freshly allocated and exactly PackedLen bytes.
func (p *Processor) Process(raw []byte) ([]byte, error) {
	if len(raw) != p.w*p.h {
		return nil, &SizeError{Got: len(raw), Want: p.w * p.h}
	}

	work := make([]uint8, len(raw))
	if p.cfg.Rotate180 {
		// Reversing the flat row-major buffer reverses both axes.
		for i, v := range raw {
			work[len(raw)-1-i] = v
		}
	} else {
		copy(work, raw)
	}
	if p.lut != nil {
		for i, v := range work {
			work[i] = p.lut[v]
		}
	}

	img := image1bit.NewVerticalLSB(image.Rect(0, 0, p.w, p.h))
	switch p.cfg.Mode {
	case Bayer:
		p.ditherBayer(work, img)
	case FloydSteinberg:
		p.ditherFS(work, img)
	case Atkinson:
		p.ditherAtkinson(work, img)
	}
	return img.Pix, nil
}

func (p *Processor) set(img *image1bit.VerticalLSB, x, y int, on bool) {
	if p.cfg.Invert {
		on = !on
	}
	img.SetBit(x, y, image1bit.Bit(on))
}

// ditherBayer thresholds each pixel against the tiled Bayer matrix. Purely a
// function of position and value; the tie-break is strict <.
func (p *Processor) ditherBayer(work []uint8, img *image1bit.VerticalLSB) {
	for y := 0; y < p.h; y++ {
		row := work[y*p.w:]
		thr := &bayerThreshold[y%8]
		for x := 0; x < p.w; x++ {
			p.set(img, x, y, row[x] < thr[x%8])
		}
	}
}

// ditherFS runs Floyd-Steinberg error diffusion with a serpentine scan.
// Weights are 7/16 forward, 5/16 down, 3/16 down-back, 1/16 down-forward,
// with truncating division. Neighbors outside the frame are skipped without
// renormalizing the dropped weight.
func (p *Processor) ditherFS(work []uint8, img *image1bit.VerticalLSB) {
	arr := make([]int16, len(work))
	for i, v := range work {
		arr[i] = int16(v)
	}
	for y := 0; y < p.h; y++ {
		dir := 1
		x0 := 0
		if y&1 == 1 {
			dir = -1
			x0 = p.w - 1
		}
		for i := 0; i < p.w; i++ {
			x := x0 + i*dir
			old := arr[y*p.w+x]
			var newV int16
			if old >= 128 {
				newV = 255
			}
			err := old - newV
			arr[y*p.w+x] = newV
			p.set(img, x, y, newV == 0)

			if xn := x + dir; xn >= 0 && xn < p.w {
				arr[y*p.w+xn] += (err * 7) / 16
			}
			if y+1 < p.h {
				arr[(y+1)*p.w+x] += (err * 5) / 16
				if xp := x - dir; xp >= 0 && xp < p.w {
					arr[(y+1)*p.w+xp] += (err * 3) / 16
				}
				if xn := x + dir; xn >= 0 && xn < p.w {
					arr[(y+1)*p.w+xn] += (err * 1) / 16
				}
			}
		}
	}
}

// ditherAtkinson runs Atkinson error diffusion in raster order, spreading
// err/8 to six neighbors. 2/8 of the error is deliberately discarded; that
// energy loss is the algorithm's defining property, not a bug.
func (p *Processor) ditherAtkinson(work []uint8, img *image1bit.VerticalLSB) {
	arr := make([]int16, len(work))
	for i, v := range work {
		arr[i] = int16(v)
	}
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			old := arr[y*p.w+x]
			var newV int16
			if old >= 128 {
				newV = 255
			}
			q := (old - newV) / 8
			arr[y*p.w+x] = newV
			p.set(img, x, y, newV == 0)

			if x+1 < p.w {
				arr[y*p.w+x+1] += q
			}
			if x+2 < p.w {
				arr[y*p.w+x+2] += q
			}
			if y+1 < p.h {
				if x-1 >= 0 {
					arr[(y+1)*p.w+x-1] += q
				}
				arr[(y+1)*p.w+x] += q
				if x+1 < p.w {
					arr[(y+1)*p.w+x+1] += q
				}
			}
			if y+2 < p.h {
				arr[(y+2)*p.w+x] += q
			}
		}
	}
}
