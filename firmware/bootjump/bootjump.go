// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bootjump is the keyboard firmware's handler for the reboot
// command. On the vendor request (0x40, 0xFF) it tears the chip down to its
// power-on state and jumps into the resident HalfKay bootloader.
//
// The teardown order is fixed:
//
//  1. disable interrupts
//  2. detach from USB and freeze the USB clock
//  3. wait for the host to see the disconnect
//  4. reset every peripheral the firmware may have configured
//  5. jump to the bootloader
//
// The bootloader expects the chip as it is after reset. Skipping step 4
// leaves timers or I/O pins configured and can stop HalfKay from
// enumerating, which is only recoverable with the reset button.
package bootjump

// DetachDelayCycles is the number of idle loop iterations between the USB
// detach and the peripheral reset, about 20 ms at 16 MHz.
const DetachDelayCycles = 20000

// HAL is the hardware needed for the jump. Implementations must not
// allocate or enable interrupts; Jump must not return.
type HAL interface {
	DisableInterrupts()
	DetachUSB()
	Delay(cycles int)
	ResetPeripherals()
	Jump(address uint16)
}

// Handler answers SETUP packets on the control endpoint.
type Handler struct {
	hal HAL
}

// NewHandler returns a handler driving hal.
func NewHandler(hal HAL) *Handler {
	return &Handler{hal: hal}
}

// HandleSetup decodes raw and enters the bootloader if it is the reboot
// command, in which case it does not return. Any other request returns
// false and the caller stalls it.
//
// No status stage is sent for the reboot command. The host sees the
// device drop off the bus instead.
func (h *Handler) HandleSetup(raw []byte) bool {
	var setup SetupPacket
	if !ParseSetupPacket(raw, &setup) || !setup.IsReboot() {
		return false
	}
	h.Enter()
	return true
}

// Enter performs the teardown and jumps to the bootloader. It never returns.
func (h *Handler) Enter() {
	h.hal.DisableInterrupts()
	h.hal.DetachUSB()
	h.hal.Delay(DetachDelayCycles)
	h.hal.ResetPeripherals()
	h.hal.Jump(BootloaderAddress)
	panic("bootjump: bootloader jump returned")
}
