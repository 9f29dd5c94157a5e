// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/Thermoquad/keyflash/pkg/flasher"
	"github.com/Thermoquad/keyflash/pkg/halfkay"
	"github.com/spf13/cobra"
)

var rebootTimeout time.Duration

var rebootCmd = &cobra.Command{
	Use:   "reboot",
	Short: "Reboot the keyboard into its bootloader without flashing",
	Long: `Send the reboot request to a keyboard running its application firmware
and wait for the HalfKay bootloader to appear.

A keyboard that is already in the bootloader is left alone.

Exit codes:
  0   - Bootloader attached
  1   - Keyboard not found, or it did not reboot in time
  130 - Cancelled`,
	Args: cobra.NoArgs,
	RunE: runReboot,
}

func init() {
	rootCmd.AddCommand(rebootCmd)
	rebootCmd.Flags().DurationVar(&rebootTimeout, "timeout", halfkay.BoundedWait, "How long to wait for the bootloader")
}

func runReboot(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("Keyflash - Reboot\n")
	fmt.Printf("Connection: %s\n", backendInfo())
	fmt.Printf("Timeout: %s\n\n", rebootTimeout)

	start := time.Now()
	info, err := newFlasher(flasher.WithBoundedWait(rebootTimeout)).Reboot(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "REBOOT FAILED: %v\n", err)
		exit(exitCode(err))
	}

	fmt.Printf("Bootloader attached: %s at %s (%s)\n",
		halfkay.FormatIdentity(info.Identity), info.Path, time.Since(start).Round(time.Millisecond))
	return nil
}
