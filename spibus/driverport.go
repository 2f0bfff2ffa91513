package spibus

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"tinygo.org/x/drivers"
)

// DriverPort exposes a TinyGo drivers.SPI, such as *machine.SPI, as a periph
// spi.Port so New can configure microcontroller buses too.
type DriverPort struct {
	Name string
	SPI  drivers.SPI
	// Configure programs the controller for a bit rate in Hz and an SPI mode
	// number (0 to 3).
	Configure func(hz uint32, mode uint8) error

	connected bool
}

func (p *DriverPort) String() string { return p.Name }

func (p *DriverPort) LimitSpeed(f physic.Frequency) error { return nil }

// Connect configures the controller. Only 8 bit words and plain modes 0 to 3
// are supported, and a port can be connected once.
func (p *DriverPort) Connect(f physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	if p.connected {
		return nil, errors.New("spibus: port already connected")
	}
	if bits != 8 {
		return nil, fmt.Errorf("spibus: %d bit words not supported", bits)
	}
	if mode&^spi.Mode3 != 0 {
		return nil, fmt.Errorf("spibus: mode flags %#x not supported", int(mode&^spi.Mode3))
	}
	if p.Configure != nil {
		if err := p.Configure(uint32(f/physic.Hertz), uint8(mode)); err != nil {
			return nil, err
		}
	}
	p.connected = true
	return &driverConn{name: p.Name, spi: p.SPI}, nil
}

type driverConn struct {
	name string
	spi  drivers.SPI
}

func (c *driverConn) String() string { return c.name }

func (c *driverConn) Duplex() conn.Duplex { return conn.Full }

func (c *driverConn) Tx(w, r []byte) error { return c.spi.Tx(w, r) }

func (c *driverConn) TxPackets(p []spi.Packet) error {
	for _, pkt := range p {
		if err := c.spi.Tx(pkt.W, pkt.R); err != nil {
			return err
		}
	}
	return nil
}
