// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Keyflash - firmware updater for Teensy 2.0 split keyboards
//
// Reboots the keyboard into its HalfKay bootloader over USB and writes a
// new firmware image.

package main

import (
	"os"

	"github.com/Thermoquad/keyflash/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(2)
	}
}
