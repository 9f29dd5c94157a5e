// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package halfkay

import "fmt"

// Identity is the (vendor, product) pair a USB device reports.
type Identity struct {
	VendorID  uint16
	ProductID uint16
}

// Well-known identities
var (
	ApplicationIdentity = Identity{VendorID: VendorID, ProductID: ProductKeyboard}
	BootloaderIdentity  = Identity{VendorID: VendorID, ProductID: ProductBootloader}
)

func (id Identity) String() string {
	return fmt.Sprintf("%04X:%04X", id.VendorID, id.ProductID)
}

// Mode is the classification of an attached device.
type Mode int

// Mode values. ModeAbsent is only reported by detection when nothing
// recognised is attached; Classify never returns it.
const (
	ModeUnrecognized Mode = iota
	ModeApplication
	ModeBootloader
	ModeAbsent
)

func (m Mode) String() string {
	switch m {
	case ModeApplication:
		return "application"
	case ModeBootloader:
		return "bootloader"
	case ModeAbsent:
		return "absent"
	default:
		return "unrecognized"
	}
}

// Classify maps an identity to its mode. Both fields must match exactly;
// a known vendor with an unknown product is unrecognized.
func Classify(id Identity) Mode {
	switch id {
	case ApplicationIdentity:
		return ModeApplication
	case BootloaderIdentity:
		return ModeBootloader
	default:
		return ModeUnrecognized
	}
}
