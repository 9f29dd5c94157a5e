// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build windows

package usbbus

import "fmt"

// HIDRaw is unavailable on Windows; use the hidapi backend instead.
type HIDRaw struct{}

func OpenHIDRaw() (*HIDRaw, error) {
	return nil, fmt.Errorf("hidraw backend: %w on windows (use --backend hidapi)", ErrUnsupported)
}

func (b *HIDRaw) Enumerate() ([]Info, error) { return nil, ErrUnsupported }
func (b *HIDRaw) Has(string) bool { return false }
func (b *HIDRaw) Open(Info) (Device, error) { return nil, ErrUnsupported }
func (b *HIDRaw) Close() error { return nil }
