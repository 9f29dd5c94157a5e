// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"os"

	"github.com/Thermoquad/keyflash/pkg/usbbus"
	"github.com/spf13/cobra"
)

var (
	// Transport flags
	backendName string
	usbDebug    int

	// Logging flags
	logFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "keyflash",
	Short: "Firmware updater for Teensy 2.0 split keyboards",
	Long: `Keyflash - Update the firmware of a split keyboard built on a Teensy 2.0.

The keyboard is asked to reboot into its HalfKay bootloader over USB, then the
new image is written page by page and committed. If the keyboard does not
reboot on its own, keyflash waits for the reset button to be pressed.

USB backends:
  libusb: raw USB via libusb (default, needed for the reboot request)
  hidraw: HID output reports via the OS HID driver (bootloader only)
  hidapi: HID output reports via hidapi (bootloader only)
  auto:   libusb first, then the first HID backend that works

The default backend is read from the KEYFLASH_BACKEND environment variable.
Diagnostics go to stderr, or to a rotating file with --log-file.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
	PersistentPostRun: func(cmd *cobra.Command, args []string) { closeLogging() },
}

func init() {
	defaultBackend := usbbus.BackendLibUSB
	if env := os.Getenv("KEYFLASH_BACKEND"); env != "" {
		defaultBackend = env
	}

	// Transport flags
	rootCmd.PersistentFlags().StringVarP(&backendName, "backend", "B", defaultBackend, "USB backend (libusb, hidraw, hidapi, auto)")
	rootCmd.PersistentFlags().IntVar(&usbDebug, "usb-debug", 0, "libusb debug level (0-4)")

	// Logging flags
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write diagnostics to a rotating log file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug messages")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
