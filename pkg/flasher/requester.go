// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flasher

import (
	"github.com/Thermoquad/keyflash/pkg/halfkay"
	"github.com/Thermoquad/keyflash/pkg/usbbus"
)

// RequestReboot asks a keyboard running the application firmware to jump
// into its bootloader. It sends the vendor control request once and does not
// wait for the device to re-enumerate.
//
// A nil error only means the request was delivered. The keyboard usually
// detaches while acknowledging it, so some hosts report the request as
// failed even though the reboot happened; callers should treat a failure as
// inconclusive and fall back to polling.
func RequestReboot(dev usbbus.Device) error {
	cmd := halfkay.RebootCommand
	if _, err := dev.Control(cmd.RequestType, cmd.Request, cmd.Value, cmd.Index, nil); err != nil {
		return &TransferError{Op: "reboot request", Err: err}
	}
	return nil
}
