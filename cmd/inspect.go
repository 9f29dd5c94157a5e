// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/Thermoquad/keyflash/pkg/halfkay"
	"github.com/spf13/cobra"
)

var inspectHex bool

var inspectCmd = &cobra.Command{
	Use:   "inspect <firmware.hex>",
	Short: "Show how an image would be written, without touching USB",
	Long: `Load a firmware image and print the page sequence flash would send:
the address of every page, which pages are skipped as erased, and the
commit page. With --hex the content of each written page is dumped.

Exit codes:
  0 - Image fits the keyboard
  2 - Image cannot be read or is too large`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().BoolVar(&inspectHex, "hex", false, "Dump page contents")
}

func runInspect(cmd *cobra.Command, args []string) error {
	image, err := loadImage(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Image error: %v\n", err)
		exit(exitUsage)
	}

	pages, err := halfkay.Paginate(image, halfkay.PageSize, halfkay.WritableCapacity)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Image error: %v\n", err)
		exit(exitUsage)
	}

	fmt.Printf("Keyflash - Inspect\n")
	fmt.Printf("Image: %s\n", args[0])
	fmt.Printf("Size: %d of %d bytes (%.1f%%)\n\n",
		image.Len(), halfkay.WritableCapacity, float64(image.Len())*100/halfkay.WritableCapacity)

	for _, page := range pages {
		fmt.Println(halfkay.FormatPage(page))
		if inspectHex && !page.Erased {
			fmt.Print(halfkay.HexDump(page.Address, page.Data))
		}
	}
	fmt.Println(halfkay.FormatPage(halfkay.SentinelPage(halfkay.PageSize)))

	fmt.Printf("\n--- Summary ---\n")
	fmt.Printf("Pages: %d\n", len(pages))
	fmt.Printf("Written: %d\n", halfkay.CountWritable(pages))
	fmt.Printf("Skipped: %d\n", len(pages)-halfkay.CountWritable(pages))
	return nil
}
