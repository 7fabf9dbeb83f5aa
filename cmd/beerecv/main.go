// Command beerecv runs the display receiver on a Linux board wired to an
// ST7567 panel: it reads protocol lines from a serial port (or stdin),
// renders frames, and services the badge's buttons and status LEDs.
//
// The streaming host talks to this program over the wire protocol; see
// package wire. The loop runs until a "!quit" command.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.bug.st/serial"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/saumilthecode/beemovieonblahajctflanyardhwchal/receiver"
	"github.com/saumilthecode/beemovieonblahajctflanyardhwchal/st7567"
	"github.com/saumilthecode/beemovieonblahajctflanyardhwchal/wire"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		port = flag.String("port", "", "serial input port; empty reads stdin")
		baud = flag.Int("baud", 500000, "serial baud rate")

		spiPort = flag.String("spi", "", "SPI port name (empty = first available)")
		csPin   = flag.String("cs", "GPIO13", "chip select pin")
		dcPin   = flag.String("dc", "GPIO9", "data/command pin")
		rstPin  = flag.String("rst", "GPIO8", "reset pin")
		blPin   = flag.String("bl", "GPIO6", "backlight pin")

		btnUp      = flag.String("btn-up", "GPIO7", "contrast up button")
		btnDown    = flag.String("btn-down", "GPIO0", "contrast down button")
		btnOK      = flag.String("btn-ok", "GPIO5", "modifier button")
		btnBack    = flag.String("btn-back", "GPIO16", "backlight down button")
		btnBootsel = flag.String("btn-bootsel", "GPIO17", "backlight up button")

		led2 = flag.Int("led2", 2, "healthy status LED pin (negative disables)")
		led3 = flag.Int("led3", 3, "unhealthy status LED pin (negative disables)")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(log)

	if _, err := host.Init(); err != nil {
		log.Error("initializing periph host", "error", err)
		return 1
	}

	sp, err := spireg.Open(*spiPort)
	if err != nil {
		log.Error("opening SPI port", "error", err)
		return 1
	}
	defer sp.Close()

	dc, err := outPin(*dcPin)
	if err != nil {
		log.Error("resolving DC pin", "error", err)
		return 1
	}
	cs, err := outPin(*csPin)
	if err != nil {
		log.Error("resolving CS pin", "error", err)
		return 1
	}
	rst, err := ioPin(*rstPin)
	if err != nil {
		log.Error("resolving RST pin", "error", err)
		return 1
	}

	opts := st7567.DefaultOpts
	opts.RST = rst
	lcd, err := st7567.NewSPI(sp, dc, cs, &opts)
	if err != nil {
		log.Error("initializing display", "error", err)
		return 1
	}
	defer lcd.Halt()

	state := receiver.DefaultState()

	bl, err := outPin(*blPin)
	if err != nil {
		log.Error("resolving backlight pin", "error", err)
		return 1
	}
	backlight := receiver.NewBacklight(bl, state.Backlight)

	buttons, err := openButtons(*btnUp, *btnDown, *btnOK, *btnBack, *btnBootsel)
	if err != nil {
		log.Error("configuring buttons", "error", err)
		return 1
	}

	var input io.Reader = os.Stdin
	if *port != "" {
		p, err := serial.Open(*port, &serial.Mode{BaudRate: *baud})
		if err != nil {
			log.Error("opening serial port", "port", *port, "error", err)
			return 1
		}
		defer p.Close()
		input = p
	}

	// Quick visual self-test: full panel on, then clear.
	_ = lcd.Fill(true)
	_ = lcd.Fill(false)

	r := &receiver.Receiver{
		Display:      lcd,
		Backlight:    backlight,
		Pins:         resolvePin,
		Lines:        wire.NewLineReader(input).Lines(),
		Buttons:      buttons,
		LED2:         resolvePin(*led2),
		LED3:         resolvePin(*led3),
		LEDActiveLow: true,
		State:        state,
		Log:          log,
	}
	if err := r.Run(context.Background()); err != nil {
		log.Error("receiver loop failed", "error", err)
		return 1
	}
	return 0
}

// resolvePin maps a wire pin number onto the host's GPIO namespace. Negative
// or unknown numbers resolve to nil.
func resolvePin(num int) gpio.PinIO {
	if num < 0 {
		return nil
	}
	return gpioreg.ByName(fmt.Sprintf("GPIO%d", num))
}

func ioPin(name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("no pin named %q", name)
	}
	return p, nil
}

func outPin(name string) (gpio.PinOut, error) {
	return ioPin(name)
}

func openButtons(names ...string) (*receiver.Buttons, error) {
	pins := make([]gpio.PinIO, len(names))
	for i, name := range names {
		p, err := ioPin(name)
		if err != nil {
			return nil, err
		}
		if err := p.In(gpio.PullUp, gpio.NoEdge); err != nil {
			return nil, fmt.Errorf("configuring %s: %w", name, err)
		}
		pins[i] = p
	}
	return receiver.NewButtons(pins[0], pins[1], pins[2], pins[3], pins[4]), nil
}
