// Package st7735 drives an ST7735 TFT controller over SPI.
//
// The ST7735 is a 16-bit colour controller with up to 132x162 pixels of RAM,
// found on small 128x128, 128x160 and 80x160 panels. Pixels use the RGB565
// format of package image565.
//
// # Bring-up
//
// A Dev goes through three states, in order:
//
//	Uninitialized  -- Init -->  Initialized  -- SetOrientation -->  OrientationSet
//
// Init pulses the reset line and sends the power-on handshake. The delays
// the controller needs are taken from the timing.Source passed to Init, so
// tests and microcontrollers can supply their own clock. SetOrientation
// programs the scan direction. Drawing is only accepted once the
// orientation is set, and a failed step leaves the device where it was.
//
// # Hardware Connection
//
//	Display Pin → System Pin
//	SCL/SCK     → SPI Clock
//	SDA/MOSI    → SPI Data (MOSI)
//	DC/A0       → GPIO output, low for commands and high for data
//	RES/RST     → GPIO output, active low reset
//	CS          → SPI Chip Select (or GND if always selected)
//
// # Basic Usage
//
//	p, _ := spireg.Open("")
//	dev, _ := st7735.NewSPI(p, gpioreg.ByName("GPIO25"), gpioreg.ByName("GPIO24"), nil)
//	if err := dev.Init(timing.System); err != nil {
//		log.Fatal(err)
//	}
//	if err := dev.SetOrientation(st7735.Landscape); err != nil {
//		log.Fatal(err)
//	}
//	dev.FillRect(dev.Bounds(), image565.Red)
//
// Dev also implements display.Drawer, so any image.Image can be drawn:
//
//	dev.Draw(image.Rect(0, 0, 64, 64), img, image.Point{})
//
// # Rectangles
//
// Rectangles follow image.Rectangle: Min is included, Max is not. The full
// 128x128 panel is image.Rect(0, 0, 128, 128), which opens the controller
// window 0..127 on both axes. Rectangles reaching past Bounds are rejected,
// not clipped.
//
// # Panel Variants
//
// Opts.BGR swaps red and blue for panels with a blue-first colour filter.
// Opts.Inverted is for panels that show white on a zero word. Panels that
// do not use the whole controller RAM need Opts.OffsetX and Opts.OffsetY,
// for example 2 and 1 (or 2 and 3) on many 128x128 modules.
//
// # Datasheet
//
// https://cdn-shop.adafruit.com/datasheets/ST7735R_V0.2.pdf
package st7735
