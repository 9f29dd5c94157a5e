// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package usbbus is the USB transport used by the flasher. A Bus enumerates
// attached devices by identity and opens them for the two transfers the
// update protocol needs: a vendor control request and a HID output report.
//
// Several backends are provided (libusb via gousb, Linux/macOS hidraw via
// usbhid, hidapi via karalabe/usb). HID-only backends cannot issue vendor
// control requests and report ErrUnsupported for them.
package usbbus

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Thermoquad/keyflash/pkg/halfkay"
)

var (
	ErrNotFound     = errors.New("device not found")
	ErrDisconnected = errors.New("device disconnected")
	ErrUnsupported  = errors.New("transfer not supported by backend")
)

// Info describes an attached device.
type Info struct {
	Path         string // backend-prefixed, stable while the device stays attached
	Identity     halfkay.Identity
	Product      string
	Manufacturer string
}

// Backend returns the backend prefix of the path.
func (i Info) Backend() string {
	prefix, _, _ := strings.Cut(i.Path, ":")
	return prefix
}

// Enumerator lists attached devices.
type Enumerator interface {
	Enumerate() ([]Info, error)
}

// Bus is an opened USB context. Close releases it and must be called on
// every exit path.
type Bus interface {
	Enumerator
	Has(path string) bool
	Open(info Info) (Device, error)
	Close() error
}

// Device is an opened device handle.
type Device interface {
	// Control issues a control transfer. data may be nil for requests
	// without a data stage.
	Control(requestType, request uint8, value, index uint16, data []byte) (int, error)

	// WriteOutput sends payload as HID output report 0.
	WriteOutput(payload []byte) error

	Close() error
}

// USB combines several buses. Devices are reported in bus order and
// opened on the bus that owns their path prefix.
type USB struct {
	buses []Bus
}

// Init returns a Bus spanning buses.
func Init(buses ...Bus) *USB {
	return &USB{
		buses: buses,
	}
}

func (b *USB) Has(path string) bool {
	for _, b := range b.buses {
		if b.Has(path) {
			return true
		}
	}
	return false
}

func (b *USB) Enumerate() ([]Info, error) {
	var infos []Info

	for _, b := range b.buses {
		l, err := b.Enumerate()
		if err != nil {
			return nil, err
		}
		infos = append(infos, l...)
	}
	return infos, nil
}

func (b *USB) Open(info Info) (Device, error) {
	for _, b := range b.buses {
		if b.Has(info.Path) {
			return b.Open(info)
		}
	}
	return nil, ErrNotFound
}

// Close closes every bus and returns the first error.
func (b *USB) Close() error {
	var first error
	for _, b := range b.buses {
		if err := b.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func hasPrefix(path, prefix string) bool {
	return strings.HasPrefix(path, prefix+":")
}

func makePath(prefix string, format string, args ...interface{}) string {
	return prefix + ":" + fmt.Sprintf(format, args...)
}
