// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package halfkay describes the update protocol spoken between the keyflash
// host tool and a split keyboard built on a Teensy 2.0 (ATmega32U4).
//
// A keyboard runs in one of two USB identities. In application mode it is a
// HID keyboard that accepts a single vendor control request asking it to
// reboot. In update mode the resident HalfKay bootloader is enumerated and
// accepts fixed-size page writes followed by a commit page at 0xFFFF.
//
// This package holds the wire constants, identity classification and page
// framing. It performs no I/O; see pkg/flasher for the session logic.
package halfkay

import "time"

// USB identities
const (
	VendorID          = 0x16C0 // Van Ooijen Technische Informatica (shared PID pool)
	ProductKeyboard   = 0x047E // keyboard firmware
	ProductBootloader = 0x0478 // HalfKay bootloader
)

// Flash geometry for the ATmega32U4
const (
	PageSize         = 128
	FlashSize        = 32768
	BootloaderStart  = 0x7E00
	WritableCapacity = BootloaderStart // everything below the bootloader
	ErasedByte       = 0xFF
)

// SentinelAddress is the page address that commits the image and reboots
// the bootloader into it. Its content is ignored.
const SentinelAddress = 0xFFFF

// AddressSize is the length of the little-endian address prefix of a page frame.
const AddressSize = 2

// Reboot command (vendor, host-to-device, device recipient)
const (
	RequestTypeReboot = RequestDirectionHostToDevice | RequestTypeVendor | RequestRecipientDevice
	RequestReboot     = 0xFF
)

// Request type fields of bmRequestType (USB 2.0 Table 9-2)
const (
	RequestDirectionHostToDevice = 0x00
	RequestDirectionDeviceToHost = 0x80

	RequestTypeStandard = 0x00
	RequestTypeClass    = 0x20
	RequestTypeVendor   = 0x40

	RequestRecipientDevice    = 0x00
	RequestRecipientInterface = 0x01
)

// HID SET_REPORT used by HalfKay for page writes
const (
	RequestTypeSetReport = RequestDirectionHostToDevice | RequestTypeClass | RequestRecipientInterface
	RequestSetReport     = 0x09
	SetReportOutput      = 0x0200 // report type output, report ID 0
)

// Protocol timing
const (
	SettleDelay    = 5 * time.Millisecond
	PollInterval   = 100 * time.Millisecond
	BoundedWait    = 5000 * time.Millisecond
	ControlTimeout = 2 * time.Second
)
