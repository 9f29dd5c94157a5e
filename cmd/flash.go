// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/Thermoquad/keyflash/pkg/flasher"
	"github.com/Thermoquad/keyflash/pkg/halfkay"
	"github.com/Thermoquad/keyflash/pkg/ihex"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// Exit codes
const (
	exitOK        = 0
	exitFailure   = 1
	exitUsage     = 2
	exitCancelled = 130
)

var (
	flashTimeout      time.Duration
	flashPollInterval time.Duration
	flashNoManual     bool
	flashPlain        bool
)

var flashCmd = &cobra.Command{
	Use:   "flash <firmware.hex>",
	Short: "Write a firmware image to the keyboard",
	Long: `Write a firmware image to the keyboard through the HalfKay bootloader.

The image is an Intel HEX file as produced by avr-objcopy. Files ending in
.bin are read as a raw image starting at address 0.

Sequence:
  1. If the bootloader is already attached, program it straight away
  2. Otherwise ask the running keyboard to reboot into the bootloader
  3. Wait up to --timeout for the bootloader to appear
  4. If it does not, ask for the reset button and wait until it appears
  5. Write every non-empty page, then commit and reboot the keyboard

Ctrl+C aborts safely until programming starts. Once the first page is
written the update runs to completion.

Examples:
  keyflash flash firmware.hex
  keyflash flash --backend hidraw --no-manual firmware.hex

Exit codes:
  0   - Firmware written
  1   - Keyboard not found, transfer or programming failure
  2   - Usage or image error
  130 - Cancelled before programming`,
	Args: cobra.ExactArgs(1),
	RunE: runFlash,
}

func init() {
	rootCmd.AddCommand(flashCmd)
	flashCmd.Flags().DurationVar(&flashTimeout, "timeout", halfkay.BoundedWait, "How long to wait for the keyboard to reboot")
	flashCmd.Flags().DurationVar(&flashPollInterval, "poll-interval", halfkay.PollInterval, "Time between USB scans")
	flashCmd.Flags().BoolVar(&flashNoManual, "no-manual", false, "Fail instead of waiting for the reset button")
	flashCmd.Flags().BoolVar(&flashPlain, "plain", false, "Plain text output even on a terminal")
}

func runFlash(cmd *cobra.Command, args []string) error {
	path := args[0]
	image, err := loadImage(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Image error: %v\n", err)
		exit(exitUsage)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	opts := []flasher.Option{
		flasher.WithBoundedWait(flashTimeout),
		flasher.WithPollInterval(flashPollInterval),
		flasher.WithManualFallback(!flashNoManual),
	}

	if !flashPlain && term.IsTerminal(int(os.Stdout.Fd())) {
		err = runFlashTUI(ctx, path, image, opts)
	} else {
		err = runFlashPlain(ctx, os.Stdout, path, image, opts)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "FLASH FAILED: %v\n", err)
		exit(exitCode(err))
	}
	return nil
}

func runFlashPlain(ctx context.Context, w io.Writer, path string, image halfkay.Image, opts []flasher.Option) error {
	fmt.Fprintf(w, "Keyflash - Flash\n")
	fmt.Fprintf(w, "Image: %s (%d bytes)\n", filepath.Base(path), image.Len())
	fmt.Fprintf(w, "Connection: %s\n\n", backendInfo())

	opts = append(opts,
		flasher.WithObserver(func(e flasher.Event) {
			if line := formatEvent(e); line != "" {
				fmt.Fprintln(w, line)
			}
		}),
	)
	return newFlasher(opts...).Flash(ctx, image)
}

// formatEvent renders a session event as one line of plain output. Events
// that need no line return "".
func formatEvent(e flasher.Event) string {
	switch e.Phase {
	case flasher.PhaseRequestSent:
		if e.Err != nil {
			return fmt.Sprintf("Reboot request not delivered to %s: %v", e.Device.Path, e.Err)
		}
		return fmt.Sprintf("Reboot requested: %s", e.Device.Path)
	case flasher.PhaseAwaitBootloader:
		return "Waiting for bootloader..."
	case flasher.PhaseManualPrompt:
		return "Keyboard did not reboot. Press the reset button on the Teensy."
	case flasher.PhaseAwaitManual:
		return "Waiting for bootloader (Ctrl+C to abort)..."
	case flasher.PhaseProgramming:
		if e.Page == 0 {
			return fmt.Sprintf("Programming %s at %s (%d pages)",
				halfkay.FormatIdentity(e.Device.Identity), e.Device.Path, e.Pages)
		}
		if e.Page == e.Pages || e.Page%32 == 0 {
			return fmt.Sprintf("  %d/%d pages (%d written)", e.Page, e.Pages, e.Written)
		}
	case flasher.PhaseCommitted:
		return "Image committed, keyboard rebooting"
	case flasher.PhaseDone:
		return fmt.Sprintf("\nDone in %s", e.Elapsed.Round(time.Millisecond))
	}
	return ""
}

// loadImage reads an Intel HEX file, or a raw image for .bin files.
func loadImage(path string) (halfkay.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return halfkay.Image{}, err
	}
	defer f.Close()

	var data []byte
	if strings.EqualFold(filepath.Ext(path), ".bin") {
		// one byte past the flash is enough for Paginate to reject it
		data, err = io.ReadAll(io.LimitReader(f, halfkay.FlashSize+1))
	} else {
		data, err = ihex.Load(f)
	}
	if err != nil {
		return halfkay.Image{}, fmt.Errorf("%s: %w", path, err)
	}
	if len(data) == 0 {
		return halfkay.Image{}, fmt.Errorf("%s: image is empty", path)
	}
	return halfkay.Image{Data: data}, nil
}

// exitCode maps a flash error to the process exit code.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, flasher.ErrCancelled):
		return exitCancelled
	case errors.Is(err, flasher.ErrImageTooLarge):
		return exitUsage
	default:
		return exitFailure
	}
}

// exit flushes the log file before leaving, since os.Exit skips the
// post-run hook.
func exit(code int) {
	closeLogging()
	os.Exit(code)
}
