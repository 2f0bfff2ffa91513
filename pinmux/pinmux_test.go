package pinmux

import (
	"errors"
	"testing"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/st7735/fault"
	"periph.io/x/devices/v3/st7735/internal/hwtest"
)

func TestClaimModes(t *testing.T) {
	b := hwtest.NewBoard()
	m := New(b)

	sck, err := m.Claim("PA5", Bus(hwtest.SPI1CLK))
	if err != nil {
		t.Fatal(err)
	}
	if sck.Mode() != Bus(hwtest.SPI1CLK) || !sck.Live() || sck.Name() != "PA5" {
		t.Errorf("unexpected handle %v", sck)
	}
	if got := b.Pins["PA5"].Func(); got != hwtest.SPI1CLK {
		t.Errorf("PA5 function = %q", got)
	}

	rst, err := m.Claim("PC9", Out)
	if err != nil {
		t.Fatal(err)
	}
	if rst.Mode().Kind != Output {
		t.Errorf("mode = %v", rst.Mode())
	}
	if b.Pins["PC9"].Read() != gpio.Low {
		t.Error("output pin should start low")
	}
	if !m.Claimed("PA5") || !m.Claimed("PC9") || m.Claimed("PB0") {
		t.Error("Claimed() out of sync")
	}
}

func TestClaimTwiceRejected(t *testing.T) {
	tests := []struct {
		name         string
		first, again Mode
	}{
		{"same mode", Out, Out},
		{"bus then output", Bus(hwtest.SPI1CLK), Out},
		{"output then bus", Out, Bus(hwtest.SPI1CLK)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := hwtest.NewBoard()
			m := New(b)
			first, err := m.Claim("PA5", tt.first)
			if err != nil {
				t.Fatal(err)
			}
			events := len(b.Trace.Events)
			p, err := m.Claim("PA5", tt.again)
			if p != nil {
				t.Fatalf("second Claim() returned a handle %v", p)
			}
			if !errors.Is(err, ErrPinInUse) || fault.Of(err) != fault.Configuration {
				t.Fatalf("second Claim() error = %v", err)
			}
			if len(b.Trace.Events) != events {
				t.Fatal("second Claim() touched the pin")
			}
			if !first.Live() {
				t.Fatal("first handle lost its pin")
			}
		})
	}
}

func TestClaimUnknownPin(t *testing.T) {
	m := New(hwtest.NewBoard())
	_, err := m.Claim("PZ99", Out)
	if !errors.Is(err, ErrUnknownPin) || fault.Of(err) != fault.PeripheralUnavailable {
		t.Fatalf("Claim() error = %v", err)
	}
	if m.Claimed("PZ99") {
		t.Fatal("unknown pin marked as claimed")
	}
}

func TestClaimInvalidMode(t *testing.T) {
	tests := []struct {
		name string
		pin  string
		mode Mode
	}{
		{"function of another pin", "PA5", Bus(hwtest.SPI1MOSI)},
		{"plain GPIO as bus signal", "PC9", Bus(hwtest.SPI1CLK)},
		{"unassigned", "PB0", Mode{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(hwtest.NewBoard())
			_, err := m.Claim(tt.pin, tt.mode)
			if !errors.Is(err, ErrInvalidMode) || fault.Of(err) != fault.Configuration {
				t.Fatalf("Claim() error = %v", err)
			}
			if m.Claimed(tt.pin) {
				t.Fatal("pin claimed despite the error")
			}
		})
	}
}

func TestClaimOutputFailure(t *testing.T) {
	b := hwtest.NewBoard()
	hw := errors.New("gpio: busy")
	b.Pins["PB0"].OutErr = hw
	_, err := New(b).Claim("PB0", Out)
	if !errors.Is(err, hw) || fault.Of(err) != fault.Configuration {
		t.Fatalf("Claim() error = %v", err)
	}
}

func TestIntoConsumesHandle(t *testing.T) {
	b := hwtest.NewBoard()
	m := New(b)
	old, err := m.Claim("PA7", Out)
	if err != nil {
		t.Fatal(err)
	}
	p, err := old.Into(Bus(hwtest.SPI1MOSI))
	if err != nil {
		t.Fatal(err)
	}
	if old.Live() {
		t.Fatal("old handle still live")
	}
	if !p.Live() || p.Mode() != Bus(hwtest.SPI1MOSI) {
		t.Fatalf("new handle = %v", p)
	}
	if _, err := old.Into(Out); !errors.Is(err, ErrConsumed) {
		t.Fatalf("Into() on dead handle = %v", err)
	}
	if _, err := old.TakeOut(); !errors.Is(err, ErrConsumed) {
		t.Fatalf("TakeOut() on dead handle = %v", err)
	}
}

func TestIntoInvalidKeepsHandle(t *testing.T) {
	m := New(hwtest.NewBoard())
	p, err := m.Claim("PC9", Out)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Into(Bus(hwtest.SPI1CLK)); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("Into() = %v", err)
	}
	if !p.Live() {
		t.Fatal("failed Into() consumed the handle")
	}
}

func TestTakeOut(t *testing.T) {
	b := hwtest.NewBoard()
	m := New(b)
	dc, err := m.Claim("PB0", Out)
	if err != nil {
		t.Fatal(err)
	}
	line, err := dc.TakeOut()
	if err != nil {
		t.Fatal(err)
	}
	if line.Name() != "PB0" {
		t.Fatalf("line = %s", line)
	}
	if dc.Live() {
		t.Fatal("handle live after TakeOut()")
	}

	sck, err := m.Claim("PA5", Bus(hwtest.SPI1CLK))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sck.TakeOut(); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("TakeOut() on bus pin = %v", err)
	}
}

func TestConsume(t *testing.T) {
	m := New(hwtest.NewBoard())
	sck, err := m.Claim("PA5", Bus(hwtest.SPI1CLK))
	if err != nil {
		t.Fatal(err)
	}
	if err := sck.Consume(hwtest.SPI1MOSI); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("Consume(wrong func) = %v", err)
	}
	if err := sck.Consume(hwtest.SPI1CLK); err != nil {
		t.Fatal(err)
	}
	if err := sck.Consume(hwtest.SPI1CLK); !errors.Is(err, ErrConsumed) {
		t.Fatalf("second Consume() = %v", err)
	}
}

func TestRegistrySource(t *testing.T) {
	p := hwtest.NewPin(nil, "PINMUX_TEST_PD3", 1003)
	if err := gpioreg.Register(p); err != nil {
		t.Fatal(err)
	}
	defer gpioreg.Unregister(p.Name())

	h, err := New(Registry).Claim("PINMUX_TEST_PD3", Out)
	if err != nil {
		t.Fatal(err)
	}
	if h.Name() != "PINMUX_TEST_PD3" {
		t.Fatalf("Name() = %q", h.Name())
	}
}

func TestStrings(t *testing.T) {
	if got := Bus(hwtest.SPI1CLK).String(); got != "BusSignal(SPI1_CLK)" {
		t.Errorf("Bus().String() = %q", got)
	}
	if got := (Mode{}).String(); got != "Unassigned" {
		t.Errorf("Mode{}.String() = %q", got)
	}
	if got := Kind(7).String(); got != "Kind(7)" {
		t.Errorf("Kind(7).String() = %q", got)
	}
}
