// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/Thermoquad/keyflash/pkg/flasher"
	"github.com/Thermoquad/keyflash/pkg/usbbus"
)

// OpenBus opens the USB backend selected by --backend. It has the shape of
// flasher.OpenFunc so each session gets a fresh bus.
func OpenBus() (usbbus.Bus, error) {
	bus, err := usbbus.Open(backendName, usbDebug)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s backend: %w", backendName, err)
	}
	logger.Debug("bus opened", "backend", backendName)
	return bus, nil
}

// newFlasher creates a flasher on the selected backend that logs through
// the command logger.
func newFlasher(opts ...flasher.Option) *flasher.Flasher {
	opts = append([]flasher.Option{flasher.WithLogger(logger)}, opts...)
	return flasher.New(OpenBus, opts...)
}

// backendInfo describes the backend for banners.
func backendInfo() string {
	return fmt.Sprintf("USB: %s backend", backendName)
}
