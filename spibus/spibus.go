// Package spibus configures a synchronous serial bus over pins already
// routed to the bus peripheral.
//
// The bus clock is the peripheral bus clock divided by a power of two
// between 2 and 256. New picks the divider nearest to the requested rate,
// connects the underlying port at the achievable rate and takes ownership of
// the three signal pins. A Bus is usable as a periph spi.Conn and as a TinyGo
// drivers.SPI.
package spibus

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/pin"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/devices/v3/st7735/clocktree"
	"periph.io/x/devices/v3/st7735/fault"
	"periph.io/x/devices/v3/st7735/pinmux"
	"tinygo.org/x/drivers"
)

// Errors returned by Prescaler and New.
var (
	ErrUnknownBus = errors.New("spibus: unknown bus")
	ErrRate       = errors.New("spibus: bit rate not reachable")
	ErrPin        = errors.New("spibus: pin not routed to bus")
)

// Config selects the bus instance and its signalling.
type Config struct {
	ID   int              // peripheral instance, SPI1 is 1
	Mode spi.Mode         // clock polarity and phase
	Freq physic.Frequency // requested bit rate
}

// Default is SPI1, clock idle low, data sampled on the first edge, 16 MHz.
var Default = Config{ID: 1, Mode: spi.Mode0, Freq: 16 * physic.MegaHertz}

const (
	minDiv = 2
	maxDiv = 256
)

// DomainOf returns the peripheral bus clocking instance id. SPI1, 4, 5 and 6
// hang off APB2, SPI2 and 3 off APB1.
func DomainOf(id int) (clocktree.Domain, bool) {
	switch id {
	case 1, 4, 5, 6:
		return clocktree.APB2, true
	case 2, 3:
		return clocktree.APB1, true
	}
	return 0, false
}

// Funcs returns the pin functions of instance id.
func Funcs(id int) (clk, miso, mosi pin.Func) {
	p := fmt.Sprintf("SPI%d_", id)
	return pin.Func(p + "CLK"), pin.Func(p + "MISO"), pin.Func(p + "MOSI")
}

// Prescaler returns the power of two divider of pclk nearest to rate and
// the resulting bit rate. Ties go to the slower rate. A rate outside
// [pclk/256, pclk/2] cannot be reached.
func Prescaler(pclk, rate physic.Frequency) (int, physic.Frequency, error) {
	if pclk <= 0 || rate <= 0 {
		return 0, 0, fmt.Errorf("%w: %s from %s", ErrRate, rate, pclk)
	}
	if rate > pclk/minDiv || rate < pclk/maxDiv {
		return 0, 0, fmt.Errorf("%w: %s outside %s..%s", ErrRate, rate, pclk/maxDiv, pclk/minDiv)
	}
	best, bestDiff := 0, physic.Frequency(0)
	for d := minDiv; d <= maxDiv; d *= 2 {
		diff := pclk/physic.Frequency(d) - rate
		if diff < 0 {
			diff = -diff
		}
		if best == 0 || diff <= bestDiff {
			best, bestDiff = d, diff
		}
	}
	return best, pclk / physic.Frequency(best), nil
}

// Bus is a configured serial bus.
type Bus struct {
	cfg  Config
	c    spi.Conn
	freq physic.Frequency
	div  int
	pins [3]*pinmux.Pin
}

// New configures bus cfg.ID from the frozen clock configuration and
// connects p at the achievable rate. sck, miso and mosi must be live
// handles in bus-signal mode for this instance; they are consumed. New does
// not transmit anything.
func New(cfg Config, clocks *clocktree.Config, sck, miso, mosi *pinmux.Pin, p spi.Port) (*Bus, error) {
	b, err := newBus(cfg, clocks, sck, miso, mosi, p)
	if err != nil {
		return nil, fault.New(fault.Configuration, "spibus.New", err)
	}
	return b, nil
}

func newBus(cfg Config, clocks *clocktree.Config, sck, miso, mosi *pinmux.Pin, p spi.Port) (*Bus, error) {
	dom, ok := DomainOf(cfg.ID)
	if !ok {
		return nil, fmt.Errorf("%w: SPI%d", ErrUnknownBus, cfg.ID)
	}
	clk, in, out := Funcs(cfg.ID)
	pins := [3]*pinmux.Pin{sck, miso, mosi}
	for i, f := range [3]pin.Func{clk, in, out} {
		if pins[i] == nil || !pins[i].Live() || pins[i].Mode() != pinmux.Bus(f) {
			return nil, fmt.Errorf("%w: want %s, got %v", ErrPin, f, pins[i])
		}
	}
	div, freq, err := Prescaler(clocks.Bus(dom), cfg.Freq)
	if err != nil {
		return nil, err
	}
	c, err := p.Connect(freq, cfg.Mode, 8)
	if err != nil {
		return nil, fmt.Errorf("spibus: connect %s: %w", p, err)
	}
	for i, f := range [3]pin.Func{clk, in, out} {
		if err := pins[i].Consume(f); err != nil {
			return nil, err
		}
	}
	return &Bus{cfg: cfg, c: c, freq: freq, div: div, pins: pins}, nil
}

// Tx sends w and reads len(r) bytes at the same time.
func (b *Bus) Tx(w, r []byte) error { return b.c.Tx(w, r) }

// TxPackets sends several packets in one transaction.
func (b *Bus) TxPackets(p []spi.Packet) error { return b.c.TxPackets(p) }

// Duplex returns the duplex mode of the underlying connection.
func (b *Bus) Duplex() conn.Duplex { return b.c.Duplex() }

// Transfer sends one byte and returns the byte read meanwhile. It makes Bus
// a drivers.SPI.
func (b *Bus) Transfer(w byte) (byte, error) {
	var r [1]byte
	err := b.c.Tx([]byte{w}, r[:])
	return r[0], err
}

// Freq is the achieved bit rate.
func (b *Bus) Freq() physic.Frequency { return b.freq }

// Divisor is the peripheral clock divider in use.
func (b *Bus) Divisor() int { return b.div }

// Config returns the configuration the bus was opened with.
func (b *Bus) Config() Config { return b.cfg }

func (b *Bus) String() string {
	return fmt.Sprintf("SPI%d(%s, %s)", b.cfg.ID, b.cfg.Mode, b.freq)
}

var (
	_ spi.Conn    = &Bus{}
	_ drivers.SPI = &Bus{}
)
