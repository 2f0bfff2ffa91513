// Package pinmux claims physical pins and assigns each one an electrical
// mode.
//
// A pin is claimed once per Mapper. Handles are consumed when a pin changes
// mode or is handed to its final owner, so no two live handles ever refer
// to the same pin.
package pinmux

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/pin"
	"periph.io/x/devices/v3/st7735/fault"
)

// Errors returned by Claim and by the Pin transitions.
var (
	ErrUnknownPin  = errors.New("pinmux: unknown pin")
	ErrPinInUse    = errors.New("pinmux: pin in use")
	ErrInvalidMode = errors.New("pinmux: mode not supported by pin")
	ErrConsumed    = errors.New("pinmux: handle already consumed")
)

// Kind is the electrical role of a pin.
type Kind uint8

const (
	Unassigned Kind = iota
	BusSignal
	Output
)

func (k Kind) String() string {
	switch k {
	case Unassigned:
		return "Unassigned"
	case BusSignal:
		return "BusSignal"
	case Output:
		return "Output"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Mode is a Kind plus, for bus signals, the peripheral function to route
// to the pin.
type Mode struct {
	Kind Kind
	Func pin.Func
}

// Bus returns the bus-signal mode routing f to the pin.
func Bus(f pin.Func) Mode { return Mode{Kind: BusSignal, Func: f} }

// Out is the push-pull digital output mode. Pins enter it driven low.
var Out = Mode{Kind: Output, Func: gpio.OUT}

func (m Mode) String() string {
	if m.Func == "" {
		return m.Kind.String()
	}
	return m.Kind.String() + "(" + string(m.Func) + ")"
}

// Source resolves a pin name to the hardware line.
type Source interface {
	ByName(name string) gpio.PinIO
}

// SourceFunc adapts a lookup function to Source.
type SourceFunc func(name string) gpio.PinIO

func (f SourceFunc) ByName(name string) gpio.PinIO { return f(name) }

// Registry resolves names through periph's global GPIO registry.
var Registry Source = SourceFunc(gpioreg.ByName)

// Table is a fixed name to pin map, for boards whose pins are not in the
// global registry.
type Table map[string]gpio.PinIO

func (t Table) ByName(name string) gpio.PinIO { return t[name] }

// Mapper tracks which pins are claimed.
type Mapper struct {
	src     Source
	claimed map[string]bool
}

// New returns a Mapper resolving pins from src.
func New(src Source) *Mapper {
	return &Mapper{src: src, claimed: map[string]bool{}}
}

// Claim takes the named pin and puts it in mode m.
//
// An unknown pin is a fault.PeripheralUnavailable error. A pin claimed
// before, in any mode, or a mode the pin cannot take is a
// fault.Configuration error.
func (m *Mapper) Claim(name string, mode Mode) (*Pin, error) {
	op := "pinmux.Claim(" + name + ")"
	if m.claimed[name] {
		return nil, fault.New(fault.Configuration, op, ErrPinInUse)
	}
	io := m.src.ByName(name)
	if io == nil {
		return nil, fault.New(fault.PeripheralUnavailable, op, ErrUnknownPin)
	}
	if err := apply(io, mode); err != nil {
		return nil, fault.New(fault.Configuration, op, err)
	}
	m.claimed[name] = true
	return &Pin{name: name, io: io, mode: mode, live: true}, nil
}

// Claimed reports whether name has been claimed.
func (m *Mapper) Claimed(name string) bool { return m.claimed[name] }

func apply(io gpio.PinIO, mode Mode) error {
	switch mode.Kind {
	case BusSignal:
		pf, ok := io.(pin.PinFunc)
		if !ok {
			return fmt.Errorf("%w: %s has no alternate functions", ErrInvalidMode, io.Name())
		}
		if !supports(pf, mode.Func) {
			return fmt.Errorf("%w: %s cannot be %s", ErrInvalidMode, io.Name(), mode.Func)
		}
		return pf.SetFunc(mode.Func)
	case Output:
		return io.Out(gpio.Low)
	default:
		return fmt.Errorf("%w: %s", ErrInvalidMode, mode)
	}
}

func supports(pf pin.PinFunc, f pin.Func) bool {
	for _, s := range pf.SupportedFuncs() {
		if s == f {
			return true
		}
	}
	return false
}

// Pin is the handle of a claimed pin.
type Pin struct {
	name string
	io   gpio.PinIO
	mode Mode
	live bool
}

// Name returns the name the pin was claimed under.
func (p *Pin) Name() string { return p.name }

// Mode returns the mode the handle holds the pin in.
func (p *Pin) Mode() Mode { return p.mode }

// Live reports whether the handle still owns its pin.
func (p *Pin) Live() bool { return p.live }

func (p *Pin) String() string {
	return fmt.Sprintf("pinmux.Pin{%s %s}", p.name, p.mode)
}

// Into moves the pin to another mode. The receiver is consumed and must not
// be used again; the returned handle replaces it.
func (p *Pin) Into(mode Mode) (*Pin, error) {
	op := "pinmux.Into(" + p.name + ")"
	if !p.live {
		return nil, fault.New(fault.Configuration, op, ErrConsumed)
	}
	if err := apply(p.io, mode); err != nil {
		return nil, fault.New(fault.Configuration, op, err)
	}
	p.live = false
	return &Pin{name: p.name, io: p.io, mode: mode, live: true}, nil
}

// TakeOut hands the line of an output pin to its final owner, consuming the
// handle.
func (p *Pin) TakeOut() (gpio.PinOut, error) {
	op := "pinmux.TakeOut(" + p.name + ")"
	if !p.live {
		return nil, fault.New(fault.Configuration, op, ErrConsumed)
	}
	if p.mode.Kind != Output {
		return nil, fault.New(fault.Configuration, op, fmt.Errorf("%w: %s is %s", ErrInvalidMode, p.name, p.mode))
	}
	p.live = false
	return p.io, nil
}

// Consume takes ownership of a bus-signal pin routed to f. It is used by bus
// drivers, which keep the pin for their lifetime.
func (p *Pin) Consume(f pin.Func) error {
	op := "pinmux.Consume(" + p.name + ")"
	if !p.live {
		return fault.New(fault.Configuration, op, ErrConsumed)
	}
	if p.mode.Kind != BusSignal || p.mode.Func != f {
		return fault.New(fault.Configuration, op, fmt.Errorf("%w: %s is %s, want %s", ErrInvalidMode, p.name, p.mode, Bus(f)))
	}
	p.live = false
	return nil
}
