// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/Thermoquad/keyflash/pkg/halfkay"
	"github.com/Thermoquad/keyflash/pkg/usbbus"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	listAll    bool
	listSerial bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List attached USB devices",
	Long: `List USB devices on the selected backend and classify each one.

By default only keyboards and bootloaders are shown. Use --all to include
every device. USB serial ports are listed as well unless --serial=false;
they cannot be flashed, but help spot a keyboard that enumerated as a
serial device.`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().BoolVarP(&listAll, "all", "a", false, "Show unrecognized devices too")
	listCmd.Flags().BoolVar(&listSerial, "serial", true, "Include USB serial ports")
}

func runList(cmd *cobra.Command, args []string) error {
	bus, err := OpenBus()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		exit(exitUsage)
	}
	defer bus.Close()

	sources := []usbbus.Enumerator{bus}
	if listSerial {
		sources = append(sources, usbbus.SerialPorts{})
	}

	fmt.Printf("Keyflash - Devices\n")
	fmt.Printf("Connection: %s\n\n", backendInfo())

	found := 0
	for _, source := range sources {
		infos, err := source.Enumerate()
		if err != nil {
			logger.Error("enumerate failed", "error", err)
			continue
		}
		for _, info := range infos {
			mode := halfkay.Classify(info.Identity)
			if mode == halfkay.ModeUnrecognized && !listAll {
				continue
			}
			fmt.Println(formatListRow(info, mode))
			found++
		}
	}

	fmt.Printf("\nDevices: %d\n", found)
	return nil
}

// formatListRow renders one device line.
func formatListRow(info usbbus.Info, mode halfkay.Mode) string {
	row := fmt.Sprintf("  %-28s %s  %s",
		info.Path,
		info.Identity,
		modeStyle(mode).Render(fmt.Sprintf("%-12s", mode)))
	if name := deviceName(info); name != "" {
		row += "  " + headerStyle.Render(name)
	}
	return row
}

func deviceName(info usbbus.Info) string {
	switch {
	case info.Manufacturer != "" && info.Product != "":
		return info.Manufacturer + " " + info.Product
	default:
		return info.Product
	}
}

func modeStyle(mode halfkay.Mode) lipgloss.Style {
	switch mode {
	case halfkay.ModeBootloader:
		return warningStyle
	case halfkay.ModeApplication:
		return valueStyle
	case halfkay.ModeAbsent:
		return errorStyle
	default:
		return headerStyle
	}
}
