package st7735

import "time"

// Controller commands.
const (
	cmdSWRESET = 0x01 // software reset
	cmdSLPOUT  = 0x11 // sleep out
	cmdINVOFF  = 0x20
	cmdINVON   = 0x21
	cmdDISPOFF = 0x28
	cmdDISPON  = 0x29
	cmdCASET   = 0x2A // column address window
	cmdRASET   = 0x2B // row address window
	cmdRAMWR   = 0x2C // memory write
	cmdMADCTL  = 0x36 // memory data access control
	cmdCOLMOD  = 0x3A // interface pixel format
	cmdFRMCTR1 = 0xB1 // frame rate, normal mode
	cmdFRMCTR2 = 0xB2 // frame rate, idle mode
	cmdFRMCTR3 = 0xB3 // frame rate, partial mode
	cmdINVCTR  = 0xB4 // inversion control
	cmdPWCTR1  = 0xC0
	cmdPWCTR2  = 0xC1
	cmdPWCTR3  = 0xC2
	cmdPWCTR4  = 0xC3
	cmdPWCTR5  = 0xC4
	cmdVMCTR1  = 0xC5 // VCOM voltage
)

// colmod16 selects 16 bits per pixel.
const colmod16 = 0x05

// MADCTL bits.
const (
	madMY = 0x80 // row address order
	madMX = 0x40 // column address order
	madMV = 0x20 // row/column exchange
)

const (
	resetPulse = 10 * time.Millisecond
	cmdDelay   = 200 * time.Millisecond
)

type step struct {
	cmd   byte
	data  []byte
	delay time.Duration
}

// initSequence is the power-on handshake run after the hardware reset pulse.
func initSequence(inverted bool) []step {
	inv := byte(cmdINVOFF)
	if inverted {
		inv = cmdINVON
	}
	return []step{
		{cmd: cmdSWRESET, delay: cmdDelay},
		{cmd: cmdSLPOUT, delay: cmdDelay},
		{cmd: cmdFRMCTR1, data: []byte{0x01, 0x2C, 0x2D}},
		{cmd: cmdFRMCTR2, data: []byte{0x01, 0x2C, 0x2D}},
		{cmd: cmdFRMCTR3, data: []byte{0x01, 0x2C, 0x2D, 0x01, 0x2C, 0x2D}},
		{cmd: cmdINVCTR, data: []byte{0x07}},
		{cmd: cmdPWCTR1, data: []byte{0xA2, 0x02, 0x84}},
		{cmd: cmdPWCTR2, data: []byte{0xC5}},
		{cmd: cmdPWCTR3, data: []byte{0x0A, 0x00}},
		{cmd: cmdPWCTR4, data: []byte{0x8A, 0x2A}},
		{cmd: cmdPWCTR5, data: []byte{0x8A, 0xEE}},
		{cmd: cmdVMCTR1, data: []byte{0x0E}},
		{cmd: inv},
		{cmd: cmdMADCTL, data: []byte{0x00}},
		{cmd: cmdCOLMOD, data: []byte{colmod16}},
		{cmd: cmdDISPON, delay: cmdDelay},
	}
}
