// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package usbbus

import (
	"fmt"
	"strconv"

	"github.com/Thermoquad/keyflash/pkg/halfkay"
	"go.bug.st/serial/enumerator"
)

const serialPrefix = "serial"

// SerialPorts enumerates USB serial ports (CDC ACM and USB-UART bridges).
// It is listing-only: no update transfer can travel over a serial port.
type SerialPorts struct{}

func (SerialPorts) Enumerate() ([]Info, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("serial enumerate: %w", err)
	}

	var infos []Info
	for _, port := range ports {
		if !port.IsUSB {
			continue
		}
		vid, err := strconv.ParseUint(port.VID, 16, 16)
		if err != nil {
			continue
		}
		pid, err := strconv.ParseUint(port.PID, 16, 16)
		if err != nil {
			continue
		}
		infos = append(infos, Info{
			Path: makePath(serialPrefix, "%s", port.Name),
			Identity: halfkay.Identity{
				VendorID:  uint16(vid),
				ProductID: uint16(pid),
			},
			Product: port.Product,
		})
	}
	return infos, nil
}
