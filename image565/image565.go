// Package image565 provides the 16-bit RGB565 colour format of ST7735 class
// panels.
//
// Each pixel is one 16-bit word, 5 bits red, 6 bits green and 5 bits blue
// from the most significant bit down. The controller receives the word most
// significant byte first, which is also how Image stores it.
package image565

import (
	"image"
	"image/color"
)

// RGB565 is a packed 16-bit colour.
type RGB565 uint16

// Common colours.
const (
	Black RGB565 = 0x0000
	Red   RGB565 = 0xF800
	Green RGB565 = 0x07E0
	Blue  RGB565 = 0x001F
	White RGB565 = 0xFFFF
)

// New packs 8-bit channels, dropping the low bits of each.
func New(r, g, b uint8) RGB565 {
	return RGB565(uint16(r>>3)<<11 | uint16(g>>2)<<5 | uint16(b>>3))
}

// RGBA implements color.Color. Each field is widened by repeating its high
// bits so full intensity maps to 0xFFFF.
func (c RGB565) RGBA() (r, g, b, a uint32) {
	r5 := uint32(c>>11) & 0x1F
	g6 := uint32(c>>5) & 0x3F
	b5 := uint32(c) & 0x1F
	r = (r5<<3 | r5>>2) * 0x101
	g = (g6<<2 | g6>>4) * 0x101
	b = (b5<<3 | b5>>2) * 0x101
	return r, g, b, 0xFFFF
}

// SwapRB exchanges the red and blue fields, for panels wired in BGR order.
func (c RGB565) SwapRB() RGB565 {
	return c&0x1F<<11 | c&0x07E0 | c>>11
}

// Bytes returns the word as sent on the wire, high byte first.
func (c RGB565) Bytes() [2]byte {
	return [2]byte{byte(c >> 8), byte(c)}
}

func toRGB565(c color.Color) color.Color {
	if v, ok := c.(RGB565); ok {
		return v
	}
	r, g, b, _ := c.RGBA()
	return New(uint8(r>>8), uint8(g>>8), uint8(b>>8))
}

// Model converts colours to RGB565.
var Model = color.ModelFunc(toRGB565)

// Image is an RGB565 image stored as big-endian words, row by row.
type Image struct {
	Pix    []byte
	Stride int // bytes per row
	Rect   image.Rectangle
}

// NewImage returns a black image with bounds r.
func NewImage(r image.Rectangle) *Image {
	w, h := r.Dx(), r.Dy()
	if w <= 0 || h <= 0 {
		return &Image{Rect: r}
	}
	return &Image{Pix: make([]byte, 2*w*h), Stride: 2 * w, Rect: r}
}

func (p *Image) ColorModel() color.Model { return Model }

func (p *Image) Bounds() image.Rectangle { return p.Rect }

func (p *Image) At(x, y int) color.Color { return p.RGB565At(x, y) }

// RGB565At returns the pixel at (x, y), or Black outside the bounds.
func (p *Image) RGB565At(x, y int) RGB565 {
	if !(image.Point{X: x, Y: y}.In(p.Rect)) {
		return Black
	}
	i := p.pixOffset(x, y)
	return RGB565(p.Pix[i])<<8 | RGB565(p.Pix[i+1])
}

func (p *Image) Set(x, y int, c color.Color) {
	p.SetRGB565(x, y, Model.Convert(c).(RGB565))
}

// SetRGB565 sets the pixel at (x, y) without colour conversion.
func (p *Image) SetRGB565(x, y int, c RGB565) {
	if !(image.Point{X: x, Y: y}.In(p.Rect)) {
		return
	}
	i := p.pixOffset(x, y)
	p.Pix[i] = byte(c >> 8)
	p.Pix[i+1] = byte(c)
}

func (p *Image) pixOffset(x, y int) int {
	return (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*2
}

var _ image.Image = &Image{}
