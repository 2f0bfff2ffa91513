// Package bringup runs the power-on sequence of a board with an ST7735
// panel: clocks, pins, SPI bus, controller handshake, orientation, one
// filled rectangle, then idle.
//
// Each step consumes what the previous one produced, so the order is fixed
// by the types. The first failing step stops the sequence and its error is
// returned with its fault.Kind intact; the caller is expected to Park.
package bringup

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sync"
	"time"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/devices/v3/st7735"
	"periph.io/x/devices/v3/st7735/clocktree"
	"periph.io/x/devices/v3/st7735/fault"
	"periph.io/x/devices/v3/st7735/image565"
	"periph.io/x/devices/v3/st7735/pinmux"
	"periph.io/x/devices/v3/st7735/spibus"
	"periph.io/x/devices/v3/st7735/timing"
)

// Errors returned by Take, wrapped in a fault.PeripheralUnavailable.
var (
	ErrTaken   = errors.New("bringup: peripherals already taken")
	ErrMissing = errors.New("bringup: peripheral missing")
)

// Layout names the pins wired to the panel.
type Layout struct {
	SCK, MISO, MOSI string
	RST, DC         string
}

// Board is the fixed build-time description of the hardware and of what to
// show.
type Board struct {
	Clocks clocktree.Input
	Limits clocktree.Limits
	Bus    spibus.Config
	Pins   Layout
	Panel  st7735.Opts

	Orientation st7735.Orientation
	Shape       image.Rectangle
	Color       image565.RGB565
}

// Default is a Nucleo-F411RE at 72MHz from an 8MHz crystal, a 128x128 panel on
// SPI1 (PA5, PA6, PA7) with reset on PC9 and D/C on PB0, filled red in
// landscape.
var Default = Board{
	Clocks: clocktree.Input{
		HSE:    8 * physic.MegaHertz,
		SYSCLK: 72 * physic.MegaHertz,
		PCLK1:  36 * physic.MegaHertz,
	},
	Limits:      clocktree.STM32F411,
	Bus:         spibus.Default,
	Pins:        Layout{SCK: "PA5", MISO: "PA6", MOSI: "PA7", RST: "PC9", DC: "PB0"},
	Panel:       st7735.DefaultOpts,
	Orientation: st7735.Landscape,
	Shape:       image.Rect(0, 0, 128, 128),
	Color:       image565.Red,
}

// Validate checks the parts of b that no peripheral is needed to judge: the
// panel options, the orientation and the rectangle against the oriented
// panel. Clock and bus parameters are checked by their own packages, still
// before any transfer.
func (b *Board) Validate() error {
	const op = "bringup.Validate"
	if err := b.Panel.Validate(); err != nil {
		return fault.New(fault.Configuration, op, err)
	}
	if !b.Orientation.Valid() {
		return fault.New(fault.Configuration, op, fmt.Errorf("%w: %s", st7735.ErrOpts, b.Orientation))
	}
	if r := b.Panel.Bounds(b.Orientation); !b.Shape.Empty() && !b.Shape.In(r) {
		return fault.New(fault.Configuration, op, fmt.Errorf("%w: %v not in %v", st7735.ErrOutOfBounds, b.Shape, r))
	}
	return nil
}

// Peripherals are the hardware handles the sequence drives.
type Peripherals struct {
	Pins pinmux.Source
	SPI  spi.Port
	// RCC is nil when the clock tree belongs to an operating system.
	RCC   clocktree.Applier
	Timer timing.Source
}

// Handles holds a board's peripherals until they are taken.
type Handles struct {
	mu    sync.Mutex
	p     Peripherals
	taken bool
}

// NewHandles wraps p so it can be taken exactly once.
func NewHandles(p Peripherals) *Handles {
	return &Handles{p: p}
}

// Take returns the peripherals on the first call. Later calls, and a set
// lacking pins, bus or timer, fail with fault.PeripheralUnavailable.
func (h *Handles) Take() (Peripherals, error) {
	const op = "bringup.Take"
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.taken {
		return Peripherals{}, fault.New(fault.PeripheralUnavailable, op, ErrTaken)
	}
	switch {
	case h.p.Pins == nil:
		return Peripherals{}, fault.New(fault.PeripheralUnavailable, op, fmt.Errorf("%w: pins", ErrMissing))
	case h.p.SPI == nil:
		return Peripherals{}, fault.New(fault.PeripheralUnavailable, op, fmt.Errorf("%w: SPI port", ErrMissing))
	case h.p.Timer == nil:
		return Peripherals{}, fault.New(fault.PeripheralUnavailable, op, fmt.Errorf("%w: timer", ErrMissing))
	}
	h.taken = true
	p := h.p
	h.p = Peripherals{}
	return p, nil
}

// Run validates b, takes the peripherals from h and brings b up. It returns
// the panel in OrientationSet state with the rectangle drawn. An invalid
// Board leaves h untouched.
func Run(b Board, h *Handles) (*st7735.Dev, error) {
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("bringup: board: %w", err)
	}
	p, err := h.Take()
	if err != nil {
		return nil, err
	}

	clocks, err := clocktree.Configure(b.Clocks, b.Limits)
	if err != nil {
		return nil, fmt.Errorf("bringup: clocks: %w", err)
	}
	if err := clocks.Apply(p.RCC); err != nil {
		return nil, fmt.Errorf("bringup: clocks: %w", err)
	}

	m := pinmux.New(p.Pins)
	clk, in, out := spibus.Funcs(b.Bus.ID)
	var pins [5]*pinmux.Pin
	for i, c := range []struct {
		name string
		mode pinmux.Mode
	}{
		{b.Pins.SCK, pinmux.Bus(clk)},
		{b.Pins.MISO, pinmux.Bus(in)},
		{b.Pins.MOSI, pinmux.Bus(out)},
		{b.Pins.RST, pinmux.Out},
		{b.Pins.DC, pinmux.Out},
	} {
		if pins[i], err = m.Claim(c.name, c.mode); err != nil {
			return nil, fmt.Errorf("bringup: pins: %w", err)
		}
	}

	bus, err := spibus.New(b.Bus, clocks, pins[0], pins[1], pins[2], p.SPI)
	if err != nil {
		return nil, fmt.Errorf("bringup: bus: %w", err)
	}
	rst, err := pins[3].TakeOut()
	if err != nil {
		return nil, fmt.Errorf("bringup: pins: %w", err)
	}
	dc, err := pins[4].TakeOut()
	if err != nil {
		return nil, fmt.Errorf("bringup: pins: %w", err)
	}

	dev, err := st7735.New(bus, dc, rst, &b.Panel)
	if err != nil {
		return nil, fmt.Errorf("bringup: display: %w", err)
	}
	if err := dev.Init(p.Timer); err != nil {
		return nil, fmt.Errorf("bringup: display: %w", err)
	}
	if err := dev.SetOrientation(b.Orientation); err != nil {
		return nil, fmt.Errorf("bringup: display: %w", err)
	}
	if err := dev.FillRect(b.Shape, b.Color); err != nil {
		return nil, fmt.Errorf("bringup: render: %w", err)
	}
	return dev, nil
}

// Park blocks the calling goroutine forever. It never touches the hardware.
func Park() {
	for {
		time.Sleep(math.MaxInt64)
	}
}
