// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package usbbus

import "fmt"

// Backend names accepted by Open
const (
	BackendLibUSB = "libusb"
	BackendHIDRaw = "hidraw"
	BackendHIDAPI = "hidapi"
	BackendAuto   = "auto"
)

// Backends lists the selectable backends.
var Backends = []string{BackendLibUSB, BackendHIDRaw, BackendHIDAPI, BackendAuto}

// Open creates the named bus. "auto" spans libusb plus whichever HID
// backend is available, with libusb enumerated first.
func Open(name string, debug int) (Bus, error) {
	var (
		bus Bus
		err error
	)
	switch name {
	case BackendLibUSB, "":
		bus, err = OpenLibUSB(debug)
	case BackendHIDRaw:
		bus, err = OpenHIDRaw()
	case BackendHIDAPI:
		bus, err = OpenHIDAPI()
	case BackendAuto:
		lib, err := OpenLibUSB(debug)
		if err != nil {
			return nil, err
		}
		buses := []Bus{lib}
		if h, err := OpenHIDRaw(); err == nil {
			buses = append(buses, h)
		} else if h, err := OpenHIDAPI(); err == nil {
			buses = append(buses, h)
		}
		return Init(buses...), nil
	default:
		return nil, fmt.Errorf("unknown backend %q (want one of %v)", name, Backends)
	}
	if err != nil {
		return nil, err
	}
	return bus, nil
}
