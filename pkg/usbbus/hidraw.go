// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build !windows

package usbbus

import (
	"fmt"

	"github.com/Thermoquad/keyflash/pkg/halfkay"
	usbhid "rafaelmartins.com/p/usbhid"
)

const hidrawPrefix = "hidraw"

// HIDRaw is a Bus over the operating system HID driver. It can write
// output reports but cannot issue vendor control requests.
type HIDRaw struct{}

func OpenHIDRaw() (*HIDRaw, error) { return &HIDRaw{}, nil }

func (b *HIDRaw) Enumerate() ([]Info, error) {
	devs, err := usbhid.Enumerate(nil)
	if err != nil {
		return nil, fmt.Errorf("hidraw enumerate: %w", err)
	}
	out := make([]Info, 0, len(devs))
	for _, d := range devs {
		out = append(out, Info{
			Path: makePath(hidrawPrefix, "%s", d.Path()),
			Identity: halfkay.Identity{
				VendorID:  d.VendorId(),
				ProductID: d.ProductId(),
			},
			Product:      d.Product(),
			Manufacturer: d.Manufacturer(),
		})
	}
	return out, nil
}

func (b *HIDRaw) Has(path string) bool {
	return hasPrefix(path, hidrawPrefix)
}

func (b *HIDRaw) Open(info Info) (Device, error) {
	d, err := usbhid.Get(func(dev *usbhid.Device) bool {
		return makePath(hidrawPrefix, "%s", dev.Path()) == info.Path
	}, true, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, info.Path, err)
	}
	return &hidrawDevice{d}, nil
}

func (b *HIDRaw) Close() error { return nil }

type hidrawDevice struct{ d *usbhid.Device }

func (d *hidrawDevice) Control(uint8, uint8, uint16, uint16, []byte) (int, error) {
	return 0, ErrUnsupported
}

func (d *hidrawDevice) WriteOutput(payload []byte) error {
	if err := d.d.SetOutputReport(0, payload); err != nil {
		return fmt.Errorf("set output report: %w", err)
	}
	return nil
}

func (d *hidrawDevice) Close() error { return d.d.Close() }
