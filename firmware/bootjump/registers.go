// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bootjump

import "github.com/Thermoquad/keyflash/pkg/halfkay"

// BootloaderAddress is the byte address where HalfKay starts.
const BootloaderAddress = halfkay.BootloaderStart

// Register is an 8-bit memory-mapped ATmega32U4 register.
type Register struct {
	Name string
	Addr uintptr // data space address
}

// USB controller registers and the bits set to detach.
var (
	UDCON  = Register{"UDCON", 0xE0}
	USBCON = Register{"USBCON", 0xD8}
)

const (
	udconDETACH  = 1 << 0
	usbconFRZCLK = 1 << 5
)

// PeripheralResets lists the registers cleared before the jump, in the
// order they are written. Zero is the reset value of each.
var PeripheralResets = []Register{
	{"EIMSK", 0x3D},
	{"SPCR", 0x4C},
	{"ACSR", 0x50},
	{"EECR", 0x3F},
	{"ADCSRA", 0x7A},
	{"TIMSK0", 0x6E},
	{"TIMSK1", 0x6F},
	{"TIMSK3", 0x71},
	{"TIMSK4", 0x72},
	{"UCSR1B", 0xC9},
	{"TWCR", 0xBC},
	{"DDRB", 0x24},
	{"PORTB", 0x25},
	{"DDRC", 0x27},
	{"PORTC", 0x28},
	{"DDRD", 0x2A},
	{"PORTD", 0x2B},
	{"DDRE", 0x2D},
	{"PORTE", 0x2E},
	{"DDRF", 0x30},
	{"PORTF", 0x31},
}
