// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build tinygo && avr

package bootjump

import (
	"device/avr"
	"runtime/volatile"
	"unsafe"
)

// ATmega32U4 drives the teardown on a Teensy 2.0.
type ATmega32U4 struct{}

func reg8(r Register) *volatile.Register8 {
	return (*volatile.Register8)(unsafe.Pointer(r.Addr))
}

func (ATmega32U4) DisableInterrupts() {
	avr.Asm("cli")
}

func (ATmega32U4) DetachUSB() {
	reg8(UDCON).Set(udconDETACH)
	reg8(USBCON).Set(usbconFRZCLK)
}

func (ATmega32U4) Delay(cycles int) {
	for i := 0; i < cycles; i++ {
		avr.Asm("nop")
	}
}

func (ATmega32U4) ResetPeripherals() {
	for _, r := range PeripheralResets {
		reg8(r).Set(0)
	}
}

// Jump ignores address; HalfKay on the ATmega32U4 always starts at 0x7E00
// and the instruction needs a constant operand.
func (ATmega32U4) Jump(address uint16) {
	avr.Asm("jmp 0x7E00")
	for {
	}
}
