// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/Thermoquad/keyflash/pkg/halfkay"
	"github.com/spf13/cobra"
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Report whether the keyboard is attached and in which mode",
	Long: `Scan the USB bus once and report the keyboard's mode.

Modes:
  application - the keyboard firmware is running (16C0:047E)
  bootloader  - HalfKay is waiting for an image (16C0:0478)
  absent      - neither is attached

If both are attached the bootloader is reported.

Exit codes:
  0 - Keyboard found
  1 - Keyboard not attached
  2 - USB error`,
	Args: cobra.NoArgs,
	RunE: runDetect,
}

func init() {
	rootCmd.AddCommand(detectCmd)
}

func runDetect(cmd *cobra.Command, args []string) error {
	fmt.Printf("Keyflash - Detect\n")
	fmt.Printf("Connection: %s\n\n", backendInfo())

	info, mode, err := newFlasher().Find()
	if err != nil {
		fmt.Fprintf(os.Stderr, "USB error: %v\n", err)
		exit(exitUsage)
	}

	fmt.Printf("Mode: %s\n", modeStyle(mode).Render(mode.String()))
	if mode == halfkay.ModeAbsent {
		fmt.Printf("No keyboard found. Check the cable, or press the reset button to enter the bootloader.\n")
		exit(exitFailure)
	}

	fmt.Printf("Device: %s\n", halfkay.FormatIdentity(info.Identity))
	fmt.Printf("Path: %s\n", info.Path)
	if info.Product != "" {
		fmt.Printf("Product: %s\n", info.Product)
	}
	return nil
}
