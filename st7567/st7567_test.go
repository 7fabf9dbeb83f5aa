package st7567

import (
	"bytes"
	"testing"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// busOp is one SPI transaction captured together with the control line
// levels at the time it happened.
type busOp struct {
	cs   gpio.Level
	dc   gpio.Level
	data []byte
}

// recordConn records every Tx along with the current CS/DC levels.
type recordConn struct {
	cs, dc *gpiotest.Pin
	ops    []busOp
}

func (r *recordConn) Tx(w, _ []byte) error {
	r.ops = append(r.ops, busOp{cs: r.cs.L, dc: r.dc.L, data: append([]byte(nil), w...)})
	return nil
}

func (r *recordConn) String() string      { return "record" }
func (r *recordConn) Duplex() conn.Duplex { return conn.Half }

// recordPort hands the recording conn to NewSPI.
type recordPort struct {
	conn *recordConn
	freq physic.Frequency
	mode spi.Mode
}

func (p *recordPort) String() string { return "record" }

func (p *recordPort) Connect(f physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	p.freq = f
	p.mode = mode
	return spiConn{p.conn}, nil
}

// spiConn adapts recordConn to spi.Conn.
type spiConn struct{ *recordConn }

func (c spiConn) TxPackets(pkts []spi.Packet) error {
	for i := range pkts {
		if err := c.Tx(pkts[i].W, pkts[i].R); err != nil {
			return err
		}
	}
	return nil
}

func newTestDev(t *testing.T, opts *Opts) (*Dev, *recordConn) {
	t.Helper()
	cs := &gpiotest.Pin{N: "CS", L: gpio.High}
	dc := &gpiotest.Pin{N: "DC"}
	rc := &recordConn{cs: cs, dc: dc}
	d, err := NewSPI(&recordPort{conn: rc}, dc, cs, opts)
	if err != nil {
		t.Fatalf("NewSPI: %v", err)
	}
	return d, rc
}

func flatten(ops []busOp) []byte {
	var out []byte
	for _, op := range ops {
		out = append(out, op.data...)
	}
	return out
}

func TestOptsValidation(t *testing.T) {
	tests := []struct {
		name    string
		opts    *Opts
		wantErr bool
	}{
		{"nil options (uses defaults)", nil, false},
		{"valid 128x64", &Opts{W: 128, H: 64}, false},
		{"valid 132x32", &Opts{W: 132, H: 32}, false},
		{"width zero", &Opts{W: 0, H: 64}, true},
		{"width > 132", &Opts{W: 133, H: 64}, true},
		{"height zero", &Opts{W: 128, H: 0}, true},
		{"partial page height", &Opts{W: 128, H: 60}, true},
		{"height > 64", &Opts{W: 128, H: 72}, true},
		{"line offset > 63", &Opts{W: 128, H: 64, LineOffset: 64}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs := &gpiotest.Pin{N: "CS", L: gpio.High}
			dc := &gpiotest.Pin{N: "DC"}
			rc := &recordConn{cs: cs, dc: dc}
			_, err := NewSPI(&recordPort{conn: rc}, dc, cs, tt.opts)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewSPI error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// The initialization sequence order is load-bearing and must be exact.
func TestInitSequence(t *testing.T) {
	_, rc := newTestDev(t, &Opts{
		W: 128, H: 64,
		Contrast:        0x2A,
		RegulationRatio: 3,
		Bias17:          true,
		ComReverse:      true,
	})
	want := []byte{
		0xE2,       // software reset
		0xAE,       // display off
		0xA3,       // bias 1/7
		0xA0,       // segment normal
		0xC8,       // COM reversed
		0x40,       // start line 0
		0x2F,       // power control
		0x23,       // regulation ratio 3
		0x81, 0x2A, // contrast
		0xA6, // normal display
		0xA4, // all points normal
		0xAF, // display on
	}
	got := flatten(rc.ops)
	if !bytes.Equal(got, want) {
		t.Errorf("init sequence =\n% 02X, want\n% 02X", got, want)
	}
	for i, op := range rc.ops {
		if op.dc != gpio.Low || op.cs != gpio.Low {
			t.Errorf("init op %d: dc=%v cs=%v, want both Low", i, op.dc, op.cs)
		}
	}
}

func TestInitVariants(t *testing.T) {
	_, rc := newTestDev(t, &Opts{
		W: 128, H: 64,
		SegmentReverse:  true,
		Invert:          true,
		LineOffset:      5,
		RegulationRatio: 7,
	})
	got := flatten(rc.ops)
	for _, b := range []byte{0xA2, 0xA1, 0xC0, 0x45, 0x27, 0xA7} {
		if !bytes.Contains(got, []byte{b}) {
			t.Errorf("init sequence missing %#02X: % 02X", b, got)
		}
	}
}

func TestConnectParameters(t *testing.T) {
	cs := &gpiotest.Pin{N: "CS", L: gpio.High}
	dc := &gpiotest.Pin{N: "DC"}
	p := &recordPort{conn: &recordConn{cs: cs, dc: dc}}
	if _, err := NewSPI(p, dc, cs, nil); err != nil {
		t.Fatal(err)
	}
	if p.freq != 20*physic.MegaHertz {
		t.Errorf("SPI frequency = %v, want 20MHz", p.freq)
	}
	if p.mode != spi.Mode0 {
		t.Errorf("SPI mode = %v, want Mode0", p.mode)
	}
}

func TestShowPageSequence(t *testing.T) {
	d, rc := newTestDev(t, &Opts{W: 128, H: 64, ColOffset: 4})
	rc.ops = nil // discard init

	frame := make([]byte, 128*8)
	for i := range frame {
		frame[i] = byte(i)
	}
	n, err := d.Show(frame)
	if err != nil {
		t.Fatalf("Show: %v", err)
	}
	if n != len(frame) {
		t.Errorf("Show returned %d, want %d", n, len(frame))
	}

	// Two transactions per page: command triplet then 128 data bytes.
	if len(rc.ops) != 16 {
		t.Fatalf("got %d bus ops, want 16", len(rc.ops))
	}
	for page := 0; page < 8; page++ {
		cmd := rc.ops[page*2]
		data := rc.ops[page*2+1]

		wantCmd := []byte{0xB0 | byte(page), 0x10, 0x04}
		if !bytes.Equal(cmd.data, wantCmd) {
			t.Errorf("page %d command = % 02X, want % 02X", page, cmd.data, wantCmd)
		}
		if cmd.dc != gpio.Low {
			t.Errorf("page %d command sent with DC high", page)
		}
		if data.dc != gpio.High {
			t.Errorf("page %d data sent with DC low", page)
		}
		if !bytes.Equal(data.data, frame[page*128:(page+1)*128]) {
			t.Errorf("page %d data mismatch", page)
		}
		// CS stays asserted for the whole frame.
		if cmd.cs != gpio.Low || data.cs != gpio.Low {
			t.Errorf("page %d: CS released mid-frame", page)
		}
	}
	if rc.cs.L != gpio.High {
		t.Error("CS not released after the frame")
	}
}

func TestShowRejectsBadFrameSize(t *testing.T) {
	d, _ := newTestDev(t, nil)
	if _, err := d.Show(make([]byte, 100)); err == nil {
		t.Error("Show accepted a mis-sized frame")
	}
}

func TestRuntimeSettingsClamp(t *testing.T) {
	d, rc := newTestDev(t, nil)

	tests := []struct {
		name string
		call func() error
		want []byte
	}{
		{"contrast over range", func() error { return d.SetContrast(100) }, []byte{0x81, 0x3F}},
		{"contrast under range", func() error { return d.SetContrast(-5) }, []byte{0x81, 0x00}},
		{"ratio over range", func() error { return d.SetRegulationRatio(12) }, []byte{0x27}},
		{"bias 1/9", func() error { return d.SetBias(false) }, []byte{0xA2}},
		{"bias 1/7", func() error { return d.SetBias(true) }, []byte{0xA3}},
		{"invert on", func() error { return d.SetInvert(true) }, []byte{0xA7}},
		{"invert off", func() error { return d.SetInvert(false) }, []byte{0xA6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc.ops = nil
			if err := tt.call(); err != nil {
				t.Fatal(err)
			}
			if got := flatten(rc.ops); !bytes.Equal(got, tt.want) {
				t.Errorf("bus bytes = % 02X, want % 02X", got, tt.want)
			}
		})
	}
}

func TestHalt(t *testing.T) {
	d, rc := newTestDev(t, nil)
	rc.ops = nil
	if err := d.Halt(); err != nil {
		t.Fatal(err)
	}
	if got := flatten(rc.ops); !bytes.Equal(got, []byte{0xAE}) {
		t.Errorf("Halt sent % 02X, want AE", got)
	}
	if err := d.SetContrast(10); err == nil {
		t.Error("SetContrast succeeded after Halt")
	}
	if _, err := d.Show(make([]byte, 128*8)); err == nil {
		t.Error("Show succeeded after Halt")
	}
}

func TestString(t *testing.T) {
	d, _ := newTestDev(t, nil)
	if got, want := d.String(), "st7567.Dev{128x64}"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestHardwareReset(t *testing.T) {
	cs := &gpiotest.Pin{N: "CS", L: gpio.High}
	dc := &gpiotest.Pin{N: "DC"}
	rst := &gpiotest.Pin{N: "RST"}
	rc := &recordConn{cs: cs, dc: dc}
	o := DefaultOpts
	o.RST = rst
	if _, err := NewSPI(&recordPort{conn: rc}, dc, cs, &o); err != nil {
		t.Fatal(err)
	}
	if rst.L != gpio.High {
		t.Error("RST not released after reset pulse")
	}
}
