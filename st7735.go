package st7735

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/display"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/devices/v3/st7735/fault"
	"periph.io/x/devices/v3/st7735/image565"
	"periph.io/x/devices/v3/st7735/timing"
)

// Sentinel errors, wrapped in a fault.E by the operation that failed.
var (
	ErrState       = errors.New("st7735: operation not allowed in this state")
	ErrOutOfBounds = errors.New("st7735: rectangle outside the panel")
	ErrHalted      = errors.New("st7735: halted")
	ErrOpts        = errors.New("st7735: invalid options")
)

// Controller RAM is 132 columns by 162 rows at most.
const ramSize = 162

// maxChunk bounds a single pixel data transfer. It matches the default
// buffer size of Linux spidev.
const maxChunk = 4096

// Opts is the panel configuration.
type Opts struct {
	// Panel dimensions in the native portrait orientation. Default 128x128.
	W, H int
	// BGR is set for panels whose colour filter is wired blue first.
	BGR bool
	// Inverted panels show white for a zero word.
	Inverted bool
	// Offset of the visible area in controller RAM, added to every window.
	OffsetX, OffsetY int
}

// DefaultOpts is the 128x128 panel in native RGB order.
var DefaultOpts = Opts{W: 128, H: 128}

// Validate reports whether the panel fits the controller RAM. The error
// wraps ErrOpts.
func (o *Opts) Validate() error {
	if o.W <= 0 || o.H <= 0 || o.OffsetX < 0 || o.OffsetY < 0 || o.W+o.OffsetX > ramSize || o.H+o.OffsetY > ramSize {
		return fmt.Errorf("%w: %dx%d at offset (%d,%d)", ErrOpts, o.W, o.H, o.OffsetX, o.OffsetY)
	}
	return nil
}

// Bounds returns the drawable area of the panel once o is programmed.
func (o *Opts) Bounds(or Orientation) image.Rectangle {
	if or.Transposed() {
		return image.Rect(0, 0, o.H, o.W)
	}
	return image.Rect(0, 0, o.W, o.H)
}

// State is the position of a Dev in its bring-up sequence. It only moves
// forward.
type State uint8

const (
	// Uninitialized is a new Dev. Only Init is accepted.
	Uninitialized State = iota
	// Initialized is a Dev whose handshake completed. Only SetOrientation
	// is accepted.
	Initialized
	// OrientationSet is a Dev ready to draw.
	OrientationSet
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Initialized:
		return "Initialized"
	case OrientationSet:
		return "OrientationSet"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Orientation is the scan direction of the panel, as programmed in MADCTL.
type Orientation byte

// The four scan directions the controller supports. Landscape ones swap
// width and height.
const (
	Portrait         Orientation = 0x00
	Landscape        Orientation = madMX | madMV
	PortraitSwapped  Orientation = madMY | madMX
	LandscapeSwapped Orientation = madMY | madMV
)

func (o Orientation) String() string {
	switch o {
	case Portrait:
		return "Portrait"
	case Landscape:
		return "Landscape"
	case PortraitSwapped:
		return "PortraitSwapped"
	case LandscapeSwapped:
		return "LandscapeSwapped"
	default:
		return fmt.Sprintf("Orientation(%#02x)", byte(o))
	}
}

// Valid reports whether o is one of the four supported orientations.
func (o Orientation) Valid() bool {
	switch o {
	case Portrait, Landscape, PortraitSwapped, LandscapeSwapped:
		return true
	}
	return false
}

// Transposed reports whether rows and columns are exchanged.
func (o Orientation) Transposed() bool { return o&madMV != 0 }

// Dev is an ST7735 panel.
type Dev struct {
	c   conn.Conn
	dc  gpio.PinOut
	rst gpio.PinOut

	opts   Opts
	rect   image.Rectangle
	orient Orientation
	state  State
	halted bool
}

// NewSPI connects to the controller on p at 16MHz, mode 0, and returns an
// uninitialized device. Nothing is transmitted.
func NewSPI(p spi.Port, dc, rst gpio.PinOut, opts *Opts) (*Dev, error) {
	c, err := p.Connect(16*physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		return nil, fault.New(fault.Configuration, "st7735.NewSPI", err)
	}
	return New(c, dc, rst, opts)
}

// New returns an uninitialized device talking over c. dc selects between
// command (low) and data (high) bytes, rst is the active low reset line.
// Nothing is transmitted. opts can be nil for DefaultOpts.
func New(c conn.Conn, dc, rst gpio.PinOut, opts *Opts) (*Dev, error) {
	const op = "st7735.New"
	if opts == nil {
		opts = &DefaultOpts
	}
	if c == nil || dc == nil || rst == nil {
		return nil, fault.New(fault.Configuration, op, fmt.Errorf("%w: bus, D/C and reset lines are required", ErrOpts))
	}
	o := *opts
	if err := o.Validate(); err != nil {
		return nil, fault.New(fault.Configuration, op, err)
	}
	return &Dev{c: c, dc: dc, rst: rst, opts: o, rect: o.Bounds(Portrait)}, nil
}

// Init resets the controller and runs the power-on handshake, blocking on
// ts for the delays the controller requires. It is only valid on an
// uninitialized device. On failure the device stays Uninitialized and no
// further byte is sent.
func (d *Dev) Init(ts timing.Source) error {
	const op = "st7735.Init"
	if err := d.expect(Uninitialized); err != nil {
		return fault.New(fault.Init, op, err)
	}
	if err := d.init(ts); err != nil {
		return fault.New(fault.Init, op, err)
	}
	d.state = Initialized
	return nil
}

func (d *Dev) init(ts timing.Source) error {
	for _, l := range []gpio.Level{gpio.High, gpio.Low, gpio.High} {
		if err := d.rst.Out(l); err != nil {
			return fmt.Errorf("st7735: reset %s: %w", l, err)
		}
		ts.Sleep(resetPulse)
	}
	for _, s := range initSequence(d.opts.Inverted) {
		if err := d.command(s.cmd, s.data...); err != nil {
			return err
		}
		if s.delay > 0 {
			ts.Sleep(s.delay)
		}
	}
	return nil
}

// SetOrientation programs the scan direction. It is only valid right after
// Init. Landscape orientations exchange width and height.
func (d *Dev) SetOrientation(o Orientation) error {
	const op = "st7735.SetOrientation"
	if !o.Valid() {
		return fault.New(fault.Configuration, op, fmt.Errorf("%w: %s", ErrOpts, o))
	}
	if err := d.expect(Initialized); err != nil {
		return fault.New(fault.Init, op, err)
	}
	if err := d.command(cmdMADCTL, byte(o)); err != nil {
		return fault.New(fault.Init, op, err)
	}
	d.orient = o
	d.rect = d.opts.Bounds(o)
	d.state = OrientationSet
	return nil
}

// FillRect paints r with c. r uses image.Rectangle bounds, Max excluded, so
// image.Rect(0, 0, W, H) is the whole panel. A rectangle reaching past the
// panel is rejected before anything is sent. An empty rectangle is a no-op.
func (d *Dev) FillRect(r image.Rectangle, c image565.RGB565) error {
	const op = "st7735.FillRect"
	if err := d.checkDraw(r); err != nil {
		return fault.New(fault.Draw, op, err)
	}
	if r.Empty() {
		return nil
	}
	if err := d.writeRect(r, func(x, y int) image565.RGB565 { return c }); err != nil {
		return fault.New(fault.Draw, op, err)
	}
	return nil
}

// Draw implements display.Drawer. The pixel of src at sp lands on
// dst.Min. dst must lie inside Bounds and src must cover the area; it is not
// clipped. Uniform sources are sent as a fill.
func (d *Dev) Draw(dst image.Rectangle, src image.Image, sp image.Point) error {
	const op = "st7735.Draw"
	if err := d.checkDraw(dst); err != nil {
		return fault.New(fault.Draw, op, err)
	}
	if dst.Empty() {
		return nil
	}
	if u, ok := src.(*image.Uniform); ok {
		return d.FillRect(dst, image565.Model.Convert(u.C).(image565.RGB565))
	}
	if sr := (image.Rectangle{Min: sp, Max: sp.Add(dst.Size())}); !sr.In(src.Bounds()) {
		return fault.New(fault.Draw, op, fmt.Errorf("%w: source %v does not cover %v", ErrOutOfBounds, src.Bounds(), sr))
	}
	delta := sp.Sub(dst.Min)
	at := func(x, y int) image565.RGB565 {
		return image565.Model.Convert(src.At(x+delta.X, y+delta.Y)).(image565.RGB565)
	}
	if img, ok := src.(*image565.Image); ok {
		at = func(x, y int) image565.RGB565 { return img.RGB565At(x+delta.X, y+delta.Y) }
	}
	if err := d.writeRect(dst, at); err != nil {
		return fault.New(fault.Draw, op, err)
	}
	return nil
}

func (d *Dev) checkDraw(r image.Rectangle) error {
	if err := d.expect(OrientationSet); err != nil {
		return err
	}
	if !r.Empty() && !r.In(d.rect) {
		return fmt.Errorf("%w: %v not in %v", ErrOutOfBounds, r, d.rect)
	}
	return nil
}

// writeRect opens the RAM window r and streams its pixels, row major.
func (d *Dev) writeRect(r image.Rectangle, at func(x, y int) image565.RGB565) error {
	x0, x1 := r.Min.X+d.opts.OffsetX, r.Max.X-1+d.opts.OffsetX
	y0, y1 := r.Min.Y+d.opts.OffsetY, r.Max.Y-1+d.opts.OffsetY
	if err := d.command(cmdCASET, byte(x0>>8), byte(x0), byte(x1>>8), byte(x1)); err != nil {
		return err
	}
	if err := d.command(cmdRASET, byte(y0>>8), byte(y0), byte(y1>>8), byte(y1)); err != nil {
		return err
	}
	if err := d.command(cmdRAMWR); err != nil {
		return err
	}
	if err := d.dc.Out(gpio.High); err != nil {
		return err
	}
	buf := make([]byte, 0, min(maxChunk, 2*r.Dx()*r.Dy()))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			c := at(x, y)
			if d.opts.BGR {
				c = c.SwapRB()
			}
			buf = append(buf, byte(c>>8), byte(c))
			if len(buf) == cap(buf) {
				if err := d.c.Tx(buf, nil); err != nil {
					return err
				}
				buf = buf[:0]
			}
		}
	}
	if len(buf) > 0 {
		return d.c.Tx(buf, nil)
	}
	return nil
}

// command sends cmd with D/C low, then its parameters with D/C high.
func (d *Dev) command(cmd byte, data ...byte) error {
	if err := d.dc.Out(gpio.Low); err != nil {
		return err
	}
	if err := d.c.Tx([]byte{cmd}, nil); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if err := d.dc.Out(gpio.High); err != nil {
		return err
	}
	return d.c.Tx(data, nil)
}

func (d *Dev) expect(s State) error {
	if d.halted {
		return ErrHalted
	}
	if d.state != s {
		return fmt.Errorf("%w: %s, need %s", ErrState, d.state, s)
	}
	return nil
}

// State returns how far the bring-up sequence went.
func (d *Dev) State() State { return d.state }

// Orientation returns the programmed scan direction.
func (d *Dev) Orientation() Orientation { return d.orient }

// ColorModel implements display.Drawer. Pixels are RGB565.
func (d *Dev) ColorModel() color.Model { return image565.Model }

// Bounds returns the drawable area in the current orientation.
func (d *Dev) Bounds() image.Rectangle { return d.rect }

// Halt turns the display off. The device refuses any further work. A failed
// DISPOFF write is reported as fault.Draw, like any other bus write to a
// running panel.
func (d *Dev) Halt() error {
	if d.halted {
		return nil
	}
	d.halted = true
	return fault.New(fault.Draw, "st7735.Halt", d.command(cmdDISPOFF))
}

func (d *Dev) String() string {
	return fmt.Sprintf("st7735.Dev{%s, %dx%d, %s}", d.c, d.rect.Dx(), d.rect.Dy(), d.state)
}

var _ display.Drawer = &Dev{}
