// Package clocktree derives the processor clock tree from an external
// oscillator.
//
// The model is the STM32F4 reset and clock controller:
//
//	HSE ──/M──> VCO in ──xN──> VCO out ──/P──> SYSCLK ──/HPRE──> HCLK
//	                                   └──/Q──> 48 MHz domain      ├─/PPRE1─> PCLK1 (APB1)
//	                                                               └─/PPRE2─> PCLK2 (APB2)
//
// Configure computes the factors once and returns a frozen Config. A
// SYSCLK the PLL cannot produce exactly is rejected; bus clocks round down
// to the nearest prescaler output, which is the tree's own rounding rule.
package clocktree

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/st7735/fault"
)

// Errors returned by Configure and Apply, wrapped in a fault.Configuration.
var (
	ErrNoPLL       = errors.New("clocktree: no exact PLL solution")
	ErrUnreachable = errors.New("clocktree: target above source clock")
	ErrTooFast     = errors.New("clocktree: clock above part maximum")
	ErrApplied     = errors.New("clocktree: configuration already applied")
)

// Limits describes what a part's clock tree can do.
type Limits struct {
	SysClkMax physic.Frequency
	HClkMax   physic.Frequency
	PClk1Max  physic.Frequency
	PClk2Max  physic.Frequency

	VCOInMin, VCOInMax   physic.Frequency
	VCOOutMin, VCOOutMax physic.Frequency

	MMin, MMax int
	NMin, NMax int
	QMin, QMax int
}

// STM32F407 holds the limits of the STM32F405/407 class parts.
var STM32F407 = Limits{
	SysClkMax: 168 * physic.MegaHertz,
	HClkMax:   168 * physic.MegaHertz,
	PClk1Max:  42 * physic.MegaHertz,
	PClk2Max:  84 * physic.MegaHertz,
	VCOInMin:  1 * physic.MegaHertz,
	VCOInMax:  2 * physic.MegaHertz,
	VCOOutMin: 100 * physic.MegaHertz,
	VCOOutMax: 432 * physic.MegaHertz,
	MMin:      2,
	MMax:      63,
	NMin:      50,
	NMax:      432,
	QMin:      2,
	QMax:      15,
}

// STM32F411 holds the limits of the STM32F411 parts, as found on the
// Nucleo-F411RE.
var STM32F411 = Limits{
	SysClkMax: 100 * physic.MegaHertz,
	HClkMax:   100 * physic.MegaHertz,
	PClk1Max:  50 * physic.MegaHertz,
	PClk2Max:  100 * physic.MegaHertz,
	VCOInMin:  1 * physic.MegaHertz,
	VCOInMax:  2 * physic.MegaHertz,
	VCOOutMin: 100 * physic.MegaHertz,
	VCOOutMax: 432 * physic.MegaHertz,
	MMin:      2,
	MMax:      63,
	NMin:      50,
	NMax:      432,
	QMin:      2,
	QMax:      15,
}

const usbClock = 48 * physic.MegaHertz

var (
	pllP    = []int{2, 4, 6, 8}
	ahbDivs = []int{1, 2, 4, 8, 16, 64, 128, 256, 512}
	apbDivs = []int{1, 2, 4, 8, 16}
)

// Input is what the board asks for.
//
// A zero HCLK means HCLK = SYSCLK. A zero PCLK1 or PCLK2 means the fastest
// clock the part allows on that bus.
type Input struct {
	HSE    physic.Frequency
	SYSCLK physic.Frequency
	HCLK   physic.Frequency
	PCLK1  physic.Frequency
	PCLK2  physic.Frequency
}

// Domain selects a peripheral bus.
type Domain uint8

const (
	APB1 Domain = iota + 1
	APB2
)

func (d Domain) String() string {
	switch d {
	case APB1:
		return "APB1"
	case APB2:
		return "APB2"
	default:
		return fmt.Sprintf("Domain(%d)", uint8(d))
	}
}

// PLL holds the main PLL factors. A zero PLL means the PLL is bypassed.
type PLL struct {
	M, N, P, Q int
}

// Config is a frozen clock configuration. It can only be built by Configure.
type Config struct {
	hse, sysclk, hclk, pclk1, pclk2 physic.Frequency

	pll                PLL
	hpre, ppre1, ppre2 int

	applied bool
}

// Configure computes the clock tree for in on a part described by lim.
func Configure(in Input, lim Limits) (*Config, error) {
	c, err := configure(in, lim)
	if err != nil {
		return nil, fault.New(fault.Configuration, "clocktree.Configure", err)
	}
	return c, nil
}

func configure(in Input, lim Limits) (*Config, error) {
	if in.HSE <= 0 || in.SYSCLK <= 0 {
		return nil, errors.New("clocktree: HSE and SYSCLK are required")
	}
	if in.SYSCLK > lim.SysClkMax {
		return nil, fmt.Errorf("%w: SYSCLK %s > %s", ErrTooFast, in.SYSCLK, lim.SysClkMax)
	}
	c := &Config{hse: in.HSE, sysclk: in.SYSCLK}
	if in.SYSCLK != in.HSE {
		p, ok := solvePLL(in.HSE, in.SYSCLK, lim)
		if !ok {
			return nil, fmt.Errorf("%w: %s from %s", ErrNoPLL, in.SYSCLK, in.HSE)
		}
		c.pll = p
	}

	var err error
	hclk := in.HCLK
	if hclk == 0 {
		hclk = in.SYSCLK
	}
	if c.hclk, c.hpre, err = prescale("HCLK", in.SYSCLK, hclk, lim.HClkMax, ahbDivs); err != nil {
		return nil, err
	}
	pclk1 := in.PCLK1
	if pclk1 == 0 {
		pclk1 = min(lim.PClk1Max, c.hclk)
	}
	if c.pclk1, c.ppre1, err = prescale("PCLK1", c.hclk, pclk1, lim.PClk1Max, apbDivs); err != nil {
		return nil, err
	}
	pclk2 := in.PCLK2
	if pclk2 == 0 {
		pclk2 = min(lim.PClk2Max, c.hclk)
	}
	if c.pclk2, c.ppre2, err = prescale("PCLK2", c.hclk, pclk2, lim.PClk2Max, apbDivs); err != nil {
		return nil, err
	}
	return c, nil
}

// solvePLL finds M, N, P such that hse/M*N/P == sys exactly. The highest
// legal VCO input is preferred since it gives the lowest PLL jitter.
func solvePLL(hse, sys physic.Frequency, lim Limits) (PLL, bool) {
	for _, p := range pllP {
		vco := sys * physic.Frequency(p)
		if vco < lim.VCOOutMin || vco > lim.VCOOutMax {
			continue
		}
		for m := lim.MMin; m <= lim.MMax; m++ {
			if hse%physic.Frequency(m) != 0 {
				continue
			}
			vin := hse / physic.Frequency(m)
			if vin > lim.VCOInMax {
				continue
			}
			if vin < lim.VCOInMin {
				break
			}
			if vco%vin != 0 {
				continue
			}
			n := int(int64(vco) / int64(vin))
			if n < lim.NMin || n > lim.NMax {
				continue
			}
			return PLL{M: m, N: n, P: p, Q: usbDivider(vco, lim)}, true
		}
	}
	return PLL{}, false
}

// usbDivider is the smallest Q keeping the 48 MHz domain at or below 48 MHz.
func usbDivider(vco physic.Frequency, lim Limits) int {
	q := int((int64(vco) + int64(usbClock) - 1) / int64(usbClock))
	if q < lim.QMin {
		q = lim.QMin
	}
	if q > lim.QMax {
		q = lim.QMax
	}
	return q
}

// prescale picks the smallest divider in divs whose output does not exceed
// want, and checks the result against limit.
func prescale(name string, src, want, limit physic.Frequency, divs []int) (physic.Frequency, int, error) {
	if want > src {
		return 0, 0, fmt.Errorf("%w: %s %s > %s", ErrUnreachable, name, want, src)
	}
	for _, d := range divs {
		f := src / physic.Frequency(d)
		if f > want {
			continue
		}
		if f > limit {
			break
		}
		return f, d, nil
	}
	return 0, 0, fmt.Errorf("%w: %s %s (max %s)", ErrTooFast, name, want, limit)
}

// Apply writes c to the hardware through a. It may succeed only once; a nil
// Applier freezes the configuration without touching hardware, which is
// what host builds do since the OS owns their clocks.
func (c *Config) Apply(a Applier) error {
	if c.applied {
		return fault.New(fault.Configuration, "clocktree.Apply", ErrApplied)
	}
	c.applied = true
	if a == nil {
		return nil
	}
	return fault.New(fault.Configuration, "clocktree.Apply", a.ApplyClocks(c))
}

// Applier programs a clock configuration into the reset and clock controller.
type Applier interface {
	ApplyClocks(c *Config) error
}

// HSE returns the external oscillator frequency.
func (c *Config) HSE() physic.Frequency { return c.hse }

// SYSCLK returns the core clock.
func (c *Config) SYSCLK() physic.Frequency { return c.sysclk }

// HCLK returns the AHB clock.
func (c *Config) HCLK() physic.Frequency { return c.hclk }

// PCLK1 returns the APB1 peripheral clock.
func (c *Config) PCLK1() physic.Frequency { return c.pclk1 }

// PCLK2 returns the APB2 peripheral clock, which feeds SPI1.
func (c *Config) PCLK2() physic.Frequency { return c.pclk2 }

// PLL returns the main PLL factors, zero when SYSCLK comes straight from HSE.
func (c *Config) PLL() PLL { return c.pll }

// Prescalers returns the AHB, APB1 and APB2 dividers.
func (c *Config) Prescalers() (hpre, ppre1, ppre2 int) { return c.hpre, c.ppre1, c.ppre2 }

// Bus returns the clock of a peripheral bus.
func (c *Config) Bus(d Domain) physic.Frequency {
	switch d {
	case APB1:
		return c.pclk1
	case APB2:
		return c.pclk2
	}
	return 0
}

// Timer returns the timer clock of a peripheral bus. Timers run at twice the
// bus clock whenever the bus is divided.
func (c *Config) Timer(d Domain) physic.Frequency {
	div := c.ppre1
	if d == APB2 {
		div = c.ppre2
	}
	if div == 1 {
		return c.Bus(d)
	}
	return 2 * c.Bus(d)
}

func (c *Config) String() string {
	return fmt.Sprintf("clocktree.Config{SYSCLK: %s, HCLK: %s, PCLK1: %s, PCLK2: %s}", c.sysclk, c.hclk, c.pclk1, c.pclk2)
}
