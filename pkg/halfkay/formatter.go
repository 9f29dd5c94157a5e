// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package halfkay

import (
	"fmt"
	"strings"
)

// FormatPage formats a page header in human-readable form
func FormatPage(p Page) string {
	switch {
	case p.IsSentinel():
		return "COMMIT (0xFFFF)"
	case p.Erased:
		return fmt.Sprintf("PAGE 0x%04X (erased, skipped)", p.Address)
	default:
		return fmt.Sprintf("PAGE 0x%04X (%d bytes)", p.Address, len(p.Data))
	}
}

// FormatIdentity formats an identity with its classification
func FormatIdentity(id Identity) string {
	mode := Classify(id)
	if mode == ModeUnrecognized {
		return id.String()
	}
	return fmt.Sprintf("%s [%s]", id, mode)
}

// HexDump renders data as rows of 16 bytes prefixed by their address
func HexDump(base uint16, data []byte) string {
	var sb strings.Builder
	for i := 0; i < len(data); i += 16 {
		end := i + 16
		if end > len(data) {
			end = len(data)
		}
		fmt.Fprintf(&sb, "  %04X: ", int(base)+i)
		for _, b := range data[i:end] {
			fmt.Fprintf(&sb, "%02X ", b)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
