// Package hwtest provides recording fakes of the hardware the bring-up
// pipeline drives: pins with alternate functions, an SPI port, a timer and a
// clock controller. All fakes append to one Trace so tests can check the
// exact order of pin edges, bus transfers and delays.
package hwtest

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/pin"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/devices/v3/st7735/clocktree"
)

// ErrNACK is the error injected by Conn when a transfer is rejected.
var ErrNACK = errors.New("hwtest: transfer rejected")

// Event is one recorded hardware interaction.
type Event struct {
	Op    string // "out", "func", "tx", "sleep"
	Pin   string
	Level gpio.Level
	Func  pin.Func
	W     []byte
	D     time.Duration
}

// Trace is an ordered log of events.
type Trace struct {
	Events []Event
}

func (t *Trace) add(e Event) {
	if t != nil {
		t.Events = append(t.Events, e)
	}
}

// Count returns the number of events with the given op.
func (t *Trace) Count(op string) int {
	n := 0
	for _, e := range t.Events {
		if e.Op == op {
			n++
		}
	}
	return n
}

// Command is a controller command byte and the data bytes sent after it.
type Command struct {
	Cmd  byte
	Data []byte
}

// Commands decodes the bus transfers into commands using the level of the
// data/command pin dc at the time of each transfer: bytes sent with dc low
// are command bytes, bytes sent with dc high are data for the last command.
func (t *Trace) Commands(dc string) []Command {
	var out []Command
	level := gpio.Low
	for _, e := range t.Events {
		switch {
		case e.Op == "out" && e.Pin == dc:
			level = e.Level
		case e.Op == "tx" && level == gpio.Low:
			for _, b := range e.W {
				out = append(out, Command{Cmd: b})
			}
		case e.Op == "tx" && len(out) > 0:
			last := &out[len(out)-1]
			last.Data = append(last.Data, e.W...)
		}
	}
	return out
}

// Pin is a gpiotest.Pin that records level changes and supports a fixed set
// of alternate functions.
type Pin struct {
	gpiotest.Pin
	Trace  *Trace
	Funcs  []pin.Func
	OutErr error

	fn pin.Func
}

// NewPin returns a pin named name on trace t supporting funcs.
func NewPin(t *Trace, name string, num int, funcs ...pin.Func) *Pin {
	return &Pin{Pin: gpiotest.Pin{N: name, Num: num}, Trace: t, Funcs: funcs}
}

func (p *Pin) Out(l gpio.Level) error {
	if p.OutErr != nil {
		return p.OutErr
	}
	if err := p.Pin.Out(l); err != nil {
		return err
	}
	p.fn = gpio.OUT
	p.Trace.add(Event{Op: "out", Pin: p.N, Level: l})
	return nil
}

func (p *Pin) Func() pin.Func { return p.fn }

func (p *Pin) SupportedFuncs() []pin.Func {
	return append([]pin.Func{gpio.IN, gpio.OUT}, p.Funcs...)
}

func (p *Pin) SetFunc(f pin.Func) error {
	p.fn = f
	p.Trace.add(Event{Op: "func", Pin: p.N, Func: f})
	return nil
}

// Port is a recording spi.Port.
type Port struct {
	Trace *Trace
	// FailAt makes the FailAt-th transfer (1-based) and every later one
	// fail with ErrNACK. Zero never fails.
	FailAt     int
	ConnectErr error

	Freq        physic.Frequency
	Mode        spi.Mode
	Bits        int
	Connections int

	conn *Conn
}

func (p *Port) String() string { return "hwtest.Port" }

func (p *Port) LimitSpeed(f physic.Frequency) error { return nil }

func (p *Port) Connect(f physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	p.Freq, p.Mode, p.Bits = f, mode, bits
	p.Connections++
	p.conn = &Conn{port: p}
	return p.conn, nil
}

// Txs returns the number of transfers attempted on the port.
func (p *Port) Txs() int {
	if p.conn == nil {
		return 0
	}
	return p.conn.n
}

// Conn is the connection returned by Port.Connect.
type Conn struct {
	port *Port
	n    int
}

func (c *Conn) String() string { return "hwtest.Conn" }

func (c *Conn) Duplex() conn.Duplex { return conn.Full }

func (c *Conn) Tx(w, r []byte) error {
	c.n++
	if c.port.FailAt > 0 && c.n >= c.port.FailAt {
		return ErrNACK
	}
	c.port.Trace.add(Event{Op: "tx", W: append([]byte(nil), w...)})
	for i := range r {
		r[i] = 0
	}
	return nil
}

func (c *Conn) TxPackets(p []spi.Packet) error {
	for _, pkt := range p {
		if err := c.Tx(pkt.W, pkt.R); err != nil {
			return err
		}
	}
	return nil
}

// Timer records delays without sleeping.
type Timer struct {
	Trace *Trace
	Total time.Duration
}

func (t *Timer) Sleep(d time.Duration) {
	t.Total += d
	t.Trace.add(Event{Op: "sleep", D: d})
}

// RCC records applied clock configurations.
type RCC struct {
	Applied []*clocktree.Config
	Err     error
}

func (r *RCC) ApplyClocks(c *clocktree.Config) error {
	if r.Err != nil {
		return r.Err
	}
	r.Applied = append(r.Applied, c)
	return nil
}

// Board bundles the fakes wired like the reference STM32F4 board.
type Board struct {
	Trace *Trace
	Pins  map[string]*Pin
	Port  *Port
	Timer *Timer
	RCC   *RCC
}

// SPI1 functions as routed by alternate function 5 on PA5..PA7.
const (
	SPI1CLK  pin.Func = "SPI1_CLK"
	SPI1MISO pin.Func = "SPI1_MISO"
	SPI1MOSI pin.Func = "SPI1_MOSI"
)

// NewBoard returns fakes for PA5 (SCK), PA6 (MISO), PA7 (MOSI), PC9 (RST)
// and PB0 (D/C).
func NewBoard() *Board {
	t := &Trace{}
	b := &Board{
		Trace: t,
		Pins: map[string]*Pin{
			"PA5": NewPin(t, "PA5", 5, SPI1CLK),
			"PA6": NewPin(t, "PA6", 6, SPI1MISO),
			"PA7": NewPin(t, "PA7", 7, SPI1MOSI),
			"PC9": NewPin(t, "PC9", 41),
			"PB0": NewPin(t, "PB0", 16),
		},
		Port:  &Port{Trace: t},
		Timer: &Timer{Trace: t},
		RCC:   &RCC{},
	}
	return b
}

// ByName implements pinmux.Source.
func (b *Board) ByName(name string) gpio.PinIO {
	p, ok := b.Pins[name]
	if !ok {
		return nil
	}
	return p
}

func (b *Board) String() string {
	return fmt.Sprintf("hwtest.Board{%d pins}", len(b.Pins))
}
