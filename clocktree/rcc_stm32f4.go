//go:build tinygo && stm32f4

package clocktree

import (
	"device/stm32"
	"errors"

	"periph.io/x/conn/v3/physic"
)

const hseStartupTimeout = 0x0500

var errHSE = errors.New("clocktree: HSE did not start")

// RCC programs the STM32F4 reset and clock controller.
//
// The TinyGo runtime sets up the console UART baud rate and its tick timer
// for the target's fixed CPUFrequency before main runs, and does not follow
// a later change. Once a different tree is applied, console output is at the
// wrong baud rate and sleeps run off the new timer clock; a tree below the
// runtime's one only makes them longer.
type RCC struct{}

// ApplyClocks switches the core to HSI, reprograms the PLL and prescalers
// for c and switches back to the PLL (or HSE when the PLL is bypassed).
func (RCC) ApplyClocks(c *Config) error {
	// Run from HSI while the PLL is reprogrammed.
	stm32.RCC.CR.SetBits(stm32.RCC_CR_HSION)
	for !stm32.RCC.CR.HasBits(stm32.RCC_CR_HSIRDY) {
	}
	stm32.RCC.CFGR.ClearBits(stm32.RCC_CFGR_SW_Msk)
	for stm32.RCC.CFGR.Get()&stm32.RCC_CFGR_SWS_Msk != 0 {
	}
	stm32.RCC.CR.ClearBits(stm32.RCC_CR_PLLON)

	stm32.RCC.CR.SetBits(stm32.RCC_CR_HSEON)
	ready := false
	for i := 0; i < hseStartupTimeout; i++ {
		if stm32.RCC.CR.HasBits(stm32.RCC_CR_HSERDY) {
			ready = true
			break
		}
	}
	if !ready {
		return errHSE
	}

	// Wait states before raising the core clock: one per 30 MHz at 3.3 V.
	ws := uint32((c.hclk - 1) / (30 * physic.MegaHertz))
	stm32.FLASH.ACR.Set(stm32.FLASH_ACR_ICEN | stm32.FLASH_ACR_DCEN | ws<<stm32.FLASH_ACR_LATENCY_Pos)

	cfgr := hpreBits(c.hpre)<<stm32.RCC_CFGR_HPRE_Pos |
		ppreBits(c.ppre1)<<stm32.RCC_CFGR_PPRE1_Pos |
		ppreBits(c.ppre2)<<stm32.RCC_CFGR_PPRE2_Pos
	stm32.RCC.CFGR.Set(cfgr)

	if c.pll == (PLL{}) {
		stm32.RCC.CFGR.SetBits(stm32.RCC_CFGR_SW_HSE << stm32.RCC_CFGR_SW_Pos)
		for stm32.RCC.CFGR.Get()&stm32.RCC_CFGR_SWS_Msk != stm32.RCC_CFGR_SWS_HSE<<stm32.RCC_CFGR_SWS_Pos {
		}
		return nil
	}

	p := c.pll
	stm32.RCC.PLLCFGR.Set(uint32(p.M) |
		uint32(p.N)<<stm32.RCC_PLLCFGR_PLLN_Pos |
		uint32(p.P/2-1)<<stm32.RCC_PLLCFGR_PLLP_Pos |
		1<<stm32.RCC_PLLCFGR_PLLSRC_Pos |
		uint32(p.Q)<<stm32.RCC_PLLCFGR_PLLQ_Pos)
	stm32.RCC.CR.SetBits(stm32.RCC_CR_PLLON)
	for !stm32.RCC.CR.HasBits(stm32.RCC_CR_PLLRDY) {
	}

	stm32.RCC.CFGR.SetBits(stm32.RCC_CFGR_SW_PLL << stm32.RCC_CFGR_SW_Pos)
	for stm32.RCC.CFGR.Get()&stm32.RCC_CFGR_SWS_Msk != stm32.RCC_CFGR_SWS_PLL<<stm32.RCC_CFGR_SWS_Pos {
	}
	return nil
}

// hpreBits encodes an AHB divider: 0xxx is /1, 1000../1111 are /2../512
// skipping /32.
func hpreBits(div int) uint32 {
	switch div {
	case 2:
		return 0b1000
	case 4:
		return 0b1001
	case 8:
		return 0b1010
	case 16:
		return 0b1011
	case 64:
		return 0b1100
	case 128:
		return 0b1101
	case 256:
		return 0b1110
	case 512:
		return 0b1111
	}
	return 0
}

// ppreBits encodes an APB divider: 0xx is /1, 100../111 are /2../16.
func ppreBits(div int) uint32 {
	switch div {
	case 2:
		return 0b100
	case 4:
		return 0b101
	case 8:
		return 0b110
	case 16:
		return 0b111
	}
	return 0
}
