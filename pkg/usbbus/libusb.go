// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package usbbus

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Thermoquad/keyflash/pkg/halfkay"
	"github.com/google/gousb"
)

const libusbPrefix = "libusb"

// LibUSB is a Bus backed by a gousb context.
type LibUSB struct {
	ctx *gousb.Context
}

// OpenLibUSB creates a libusb context. debug sets the libusb log level (0-3).
func OpenLibUSB(debug int) (*LibUSB, error) {
	ctx := gousb.NewContext()
	if debug > 0 {
		ctx.Debug(debug)
	}
	return &LibUSB{ctx: ctx}, nil
}

func libusbPath(desc *gousb.DeviceDesc) string {
	return makePath(libusbPrefix, "%d:%d", desc.Bus, desc.Address)
}

func (b *LibUSB) Enumerate() ([]Info, error) {
	var infos []Info

	// Returning false from the opener keeps every device closed; only the
	// descriptors are read.
	_, err := b.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		infos = append(infos, Info{
			Path: libusbPath(desc),
			Identity: halfkay.Identity{
				VendorID:  uint16(desc.Vendor),
				ProductID: uint16(desc.Product),
			},
		})
		return false
	})
	if err != nil {
		return nil, fmt.Errorf("libusb enumerate: %w", err)
	}
	return infos, nil
}

func (b *LibUSB) Has(path string) bool {
	return hasPrefix(path, libusbPrefix)
}

func (b *LibUSB) Open(info Info) (Device, error) {
	devs, err := b.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return libusbPath(desc) == info.Path &&
			uint16(desc.Vendor) == info.Identity.VendorID &&
			uint16(desc.Product) == info.Identity.ProductID
	})
	if err != nil {
		for _, d := range devs {
			d.Close()
		}
		return nil, mapLibUSBError(fmt.Errorf("open %s: %w", info.Path, err))
	}
	if len(devs) == 0 {
		return nil, ErrNotFound
	}
	for _, d := range devs[1:] {
		d.Close()
	}

	dev := devs[0]
	dev.ControlTimeout = halfkay.ControlTimeout
	autoDetach(dev, info.Path)
	return &libusbDevice{dev: dev}, nil
}

type detacher interface {
	SetAutoDetach(autodetach bool) error
}

// autoDetach asks libusb to release the kernel HID driver while the handle
// is open. Platforms without driver detach can still talk to the device.
func autoDetach(d detacher, path string) {
	if err := d.SetAutoDetach(true); err != nil {
		slog.Debug("kernel driver auto detach unavailable", slog.String("path", path), slog.Any("error", err))
	}
}

func (b *LibUSB) Close() error {
	return b.ctx.Close()
}

type libusbDevice struct {
	dev *gousb.Device

	mu      sync.Mutex
	release func() // releases the claimed HID interface
}

func (d *libusbDevice) Control(requestType, request uint8, value, index uint16, data []byte) (int, error) {
	n, err := d.dev.Control(requestType, request, value, index, data)
	if err != nil {
		return n, mapLibUSBError(err)
	}
	return n, nil
}

// WriteOutput issues HID SET_REPORT on interface 0. The interface is claimed
// on first use so the kernel HID driver lets go of it.
func (d *libusbDevice) WriteOutput(payload []byte) error {
	d.mu.Lock()
	if d.release == nil {
		_, done, err := d.dev.DefaultInterface()
		if err != nil {
			d.mu.Unlock()
			return mapLibUSBError(fmt.Errorf("claim interface: %w", err))
		}
		d.release = done
	}
	d.mu.Unlock()

	_, err := d.dev.Control(
		halfkay.RequestTypeSetReport,
		halfkay.RequestSetReport,
		halfkay.SetReportOutput,
		0,
		payload,
	)
	return mapLibUSBError(err)
}

func (d *libusbDevice) Close() error {
	d.mu.Lock()
	if d.release != nil {
		d.release()
		d.release = nil
	}
	d.mu.Unlock()
	return d.dev.Close()
}

func mapLibUSBError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gousb.ErrorNoDevice) {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	if errors.Is(err, gousb.ErrorNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
