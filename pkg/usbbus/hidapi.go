// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package usbbus

import (
	"fmt"

	"github.com/Thermoquad/keyflash/pkg/halfkay"
	"github.com/karalabe/usb"
)

const hidapiPrefix = "hidapi"

// HIDAPI is a Bus over hidapi (bundled with karalabe/usb). Like HIDRaw it
// only writes output reports.
type HIDAPI struct{}

func OpenHIDAPI() (*HIDAPI, error) {
	if !usb.Supported() {
		return nil, fmt.Errorf("hidapi backend: %w on this platform", ErrUnsupported)
	}
	return &HIDAPI{}, nil
}

func (b *HIDAPI) Enumerate() ([]Info, error) {
	devs, err := usb.EnumerateHid(0, 0) // all devices
	if err != nil {
		return nil, fmt.Errorf("hidapi enumerate: %w", err)
	}
	out := make([]Info, 0, len(devs))
	for _, d := range devs {
		out = append(out, Info{
			Path: makePath(hidapiPrefix, "%s", d.Path),
			Identity: halfkay.Identity{
				VendorID:  d.VendorID,
				ProductID: d.ProductID,
			},
			Product:      d.Product,
			Manufacturer: d.Manufacturer,
		})
	}
	return out, nil
}

func (b *HIDAPI) Has(path string) bool {
	return hasPrefix(path, hidapiPrefix)
}

func (b *HIDAPI) Open(info Info) (Device, error) {
	devs, err := usb.EnumerateHid(info.Identity.VendorID, info.Identity.ProductID)
	if err != nil {
		return nil, fmt.Errorf("hidapi enumerate: %w", err)
	}
	for _, d := range devs {
		if makePath(hidapiPrefix, "%s", d.Path) != info.Path {
			continue
		}
		dev, err := d.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", info.Path, err)
		}
		return &hidapiDevice{dev: dev}, nil
	}
	return nil, ErrNotFound
}

func (b *HIDAPI) Close() error { return nil }

type hidapiDevice struct {
	dev usb.Device
}

func (d *hidapiDevice) Control(uint8, uint8, uint16, uint16, []byte) (int, error) {
	return 0, ErrUnsupported
}

// WriteOutput prefixes the report ID byte hidapi expects.
func (d *hidapiDevice) WriteOutput(payload []byte) error {
	buf := make([]byte, 1+len(payload))
	copy(buf[1:], payload)
	if _, err := d.dev.Write(buf); err != nil {
		return fmt.Errorf("hid write: %w", err)
	}
	return nil
}

func (d *hidapiDevice) Close() error { return d.dev.Close() }
