package bringup

import (
	"bytes"
	"errors"
	"image"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/devices/v3/st7735"
	"periph.io/x/devices/v3/st7735/clocktree"
	"periph.io/x/devices/v3/st7735/fault"
	"periph.io/x/devices/v3/st7735/image565"
	"periph.io/x/devices/v3/st7735/internal/hwtest"
	"periph.io/x/devices/v3/st7735/spibus"
)

// Init transfers plus the two of the MADCTL command.
const setupTxs = 28 + 2

func handles(b *hwtest.Board) *Handles {
	return NewHandles(Peripherals{Pins: b, SPI: b.Port, RCC: b.RCC, Timer: b.Timer})
}

func TestRun(t *testing.T) {
	b := hwtest.NewBoard()
	dev, err := Run(Default, handles(b))
	if err != nil {
		t.Fatal(err)
	}
	if dev.State() != st7735.OrientationSet || dev.Orientation() != st7735.Landscape {
		t.Fatalf("dev = %s", dev)
	}

	if len(b.RCC.Applied) != 1 {
		t.Fatalf("clocks applied %d times", len(b.RCC.Applied))
	}
	c := b.RCC.Applied[0]
	if c.SYSCLK() != 72*physic.MegaHertz || c.PCLK1() != 36*physic.MegaHertz || c.PCLK2() != 72*physic.MegaHertz {
		t.Errorf("clocks = %s", c)
	}

	for name, f := range map[string]string{"PA5": "SPI1_CLK", "PA6": "SPI1_MISO", "PA7": "SPI1_MOSI"} {
		if got := b.Pins[name].Func(); string(got) != f {
			t.Errorf("%s function = %q, want %q", name, got, f)
		}
	}
	if b.Port.Freq != 18*physic.MegaHertz || b.Port.Mode != spi.Mode0 || b.Port.Connections != 1 {
		t.Errorf("bus at %s %v, %d connections", b.Port.Freq, b.Port.Mode, b.Port.Connections)
	}

	cmds := b.Trace.Commands("PB0")
	if len(cmds) != 16+1+3 {
		t.Fatalf("%d commands", len(cmds))
	}
	if cmds[0].Cmd != 0x01 || cmds[15].Cmd != 0x29 {
		t.Errorf("handshake runs %#x..%#x", cmds[0].Cmd, cmds[15].Cmd)
	}
	if cmds[16].Cmd != 0x36 || !bytes.Equal(cmds[16].Data, []byte{0x60}) {
		t.Errorf("orientation = %#x % x", cmds[16].Cmd, cmds[16].Data)
	}
	win := []byte{0, 0, 0, 127}
	if cmds[17].Cmd != 0x2A || !bytes.Equal(cmds[17].Data, win) || cmds[18].Cmd != 0x2B || !bytes.Equal(cmds[18].Data, win) {
		t.Errorf("window = %v %v", cmds[17], cmds[18])
	}
	if cmds[19].Cmd != 0x2C || !bytes.Equal(cmds[19].Data, bytes.Repeat([]byte{0xF8, 0x00}, 128*128)) {
		t.Errorf("RAMWR with %d bytes, want 16384 red words", len(cmds[19].Data))
	}
	if b.Timer.Total != 630*time.Millisecond {
		t.Errorf("waited %s", b.Timer.Total)
	}
}

func TestRunResetBeforeBus(t *testing.T) {
	b := hwtest.NewBoard()
	if _, err := Run(Default, handles(b)); err != nil {
		t.Fatal(err)
	}
	// Claiming drives both outputs low, then the reset pulse goes high, low, high.
	var rst []gpio.Level
	for _, e := range b.Trace.Events {
		if e.Op == "out" && e.Pin == "PC9" {
			rst = append(rst, e.Level)
		}
	}
	want := []gpio.Level{gpio.Low, gpio.High, gpio.Low, gpio.High}
	if len(rst) != len(want) {
		t.Fatalf("reset levels = %v, want %v", rst, want)
	}
	for i := range want {
		if rst[i] != want[i] {
			t.Fatalf("reset levels = %v, want %v", rst, want)
		}
	}
}

func TestTakeOnce(t *testing.T) {
	b := hwtest.NewBoard()
	h := handles(b)
	if _, err := Run(Default, h); err != nil {
		t.Fatal(err)
	}
	events := len(b.Trace.Events)
	_, err := Run(Default, h)
	if !errors.Is(err, ErrTaken) || fault.Of(err) != fault.PeripheralUnavailable {
		t.Fatalf("second Run() = %v", err)
	}
	if len(b.Trace.Events) != events {
		t.Fatal("second Run() touched the hardware")
	}
}

func TestPeripheralsMissing(t *testing.T) {
	b := hwtest.NewBoard()
	tests := []struct {
		name string
		p    Peripherals
	}{
		{"pins", Peripherals{SPI: b.Port, Timer: b.Timer}},
		{"spi", Peripherals{Pins: b, Timer: b.Timer}},
		{"timer", Peripherals{Pins: b, SPI: b.Port}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Run(Default, NewHandles(tt.p))
			if !errors.Is(err, ErrMissing) || fault.Of(err) != fault.PeripheralUnavailable {
				t.Fatalf("Run() = %v", err)
			}
		})
	}
	if len(b.Trace.Events) != 0 {
		t.Fatal("hardware touched")
	}
}

func TestRunNoRCC(t *testing.T) {
	b := hwtest.NewBoard()
	h := NewHandles(Peripherals{Pins: b, SPI: b.Port, Timer: b.Timer})
	if _, err := Run(Default, h); err != nil {
		t.Fatal(err)
	}
	if len(b.RCC.Applied) != 0 {
		t.Fatal("clock controller written")
	}
}

func TestRunConfigurationErrors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Board, *hwtest.Board)
		want error
	}{
		{"inexact SYSCLK", func(c *Board, _ *hwtest.Board) { c.Clocks.SYSCLK = 72300 * physic.KiloHertz }, clocktree.ErrNoPLL},
		{"RCC fails", func(_ *Board, b *hwtest.Board) { b.RCC.Err = errors.New("HSE not ready") }, nil},
		{"bus rate too high", func(c *Board, _ *hwtest.Board) { c.Bus.Freq = 50 * physic.MegaHertz }, spibus.ErrRate},
		{"pin without the bus function", func(c *Board, _ *hwtest.Board) { c.Pins.SCK = "PB0" }, nil},
		{"pin used twice", func(c *Board, _ *hwtest.Board) { c.Pins.DC = "PC9" }, nil},
		{"panel too large", func(c *Board, _ *hwtest.Board) { c.Panel.H = 300 }, st7735.ErrOpts},
		{"bad orientation", func(c *Board, _ *hwtest.Board) { c.Orientation = 0x01 }, st7735.ErrOpts},
		{"shape past the panel", func(c *Board, _ *hwtest.Board) { c.Shape = image.Rect(0, 0, 129, 128) }, st7735.ErrOutOfBounds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			board := Default
			b := hwtest.NewBoard()
			tt.mod(&board, b)
			dev, err := Run(board, handles(b))
			if dev != nil || fault.Of(err) != fault.Configuration {
				t.Fatalf("Run() = %v, %v", dev, err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("Run() = %v, want %v", err, tt.want)
			}
			if b.Port.Txs() != 0 || b.Trace.Count("sleep") != 0 {
				t.Fatalf("%d transfers and %d delays before the error", b.Port.Txs(), b.Trace.Count("sleep"))
			}
		})
	}
}

func TestRunBoardValidatedFirst(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Board)
	}{
		{"orientation", func(c *Board) { c.Orientation = 0x01 }},
		{"panel", func(c *Board) { c.Panel.W = 0 }},
		{"shape in portrait only", func(c *Board) {
			c.Panel = st7735.Opts{W: 80, H: 160}
			c.Shape = image.Rect(0, 0, 80, 160)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			board := Default
			tt.mod(&board)
			b := hwtest.NewBoard()
			h := handles(b)
			if _, err := Run(board, h); fault.Of(err) != fault.Configuration {
				t.Fatalf("Run() = %v", err)
			}
			if len(b.Trace.Events) != 0 || len(b.RCC.Applied) != 0 || b.Port.Connections != 0 {
				t.Fatal("hardware touched by an invalid board")
			}
			if _, err := h.Take(); err != nil {
				t.Fatalf("Take() after an invalid board = %v", err)
			}
		})
	}
}

func TestRunNothingSentOnConfigurationError(t *testing.T) {
	board := Default
	board.Bus.Freq = 50 * physic.MegaHertz
	b := hwtest.NewBoard()
	if _, err := Run(board, handles(b)); err == nil {
		t.Fatal("Run() succeeded")
	}
	if b.Port.Connections != 0 || b.Trace.Count("tx") != 0 || b.Trace.Count("sleep") != 0 {
		t.Fatal("bus or timer used")
	}
}

func TestRunUnknownPin(t *testing.T) {
	board := Default
	board.Pins.RST = "PZ1"
	_, err := Run(board, handles(hwtest.NewBoard()))
	if fault.Of(err) != fault.PeripheralUnavailable {
		t.Fatalf("Run() = %v", err)
	}
}

func TestRunFaultInjection(t *testing.T) {
	tests := []struct {
		failAt int
		want   fault.Kind
	}{
		{1, fault.Init},
		{2, fault.Init},
		{14, fault.Init},
		{28, fault.Init},
		{29, fault.Init}, // MADCTL
		{setupTxs + 1, fault.Draw},
		{setupTxs + 6, fault.Draw}, // first pixel chunk
		{setupTxs + 13, fault.Draw},
	}
	for _, tt := range tests {
		b := hwtest.NewBoard()
		b.Port.FailAt = tt.failAt
		dev, err := Run(Default, handles(b))
		if dev != nil || fault.Of(err) != tt.want || !errors.Is(err, hwtest.ErrNACK) {
			t.Fatalf("fail at %d: Run() = %v, %v", tt.failAt, dev, err)
		}
		if b.Port.Txs() != tt.failAt {
			t.Fatalf("fail at %d: %d transfers attempted", tt.failAt, b.Port.Txs())
		}
	}
}

func TestDefaultBoard(t *testing.T) {
	if Default.Shape != image.Rect(0, 0, 128, 128) || Default.Color != image565.Red {
		t.Errorf("shape %v colour %#04x", Default.Shape, uint16(Default.Color))
	}
	if Default.Bus != spibus.Default || Default.Panel.W != 128 || Default.Panel.H != 128 {
		t.Errorf("bus %+v panel %+v", Default.Bus, Default.Panel)
	}
}

func TestParkBlocks(t *testing.T) {
	done := make(chan struct{})
	go func() {
		Park()
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("Park() returned")
	case <-time.After(20 * time.Millisecond):
	}
}
