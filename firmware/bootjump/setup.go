// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bootjump

import "github.com/Thermoquad/keyflash/pkg/halfkay"

// SetupPacketSize is the size of a USB SETUP packet in bytes.
const SetupPacketSize = 8

// SetupPacket is a decoded USB SETUP packet.
type SetupPacket struct {
	RequestType uint8  // bmRequestType
	Request     uint8  // bRequest
	Value       uint16 // wValue
	Index       uint16 // wIndex
	Length      uint16 // wLength
}

// ParseSetupPacket decodes raw into out.
// Returns false if raw is too short.
func ParseSetupPacket(raw []byte, out *SetupPacket) bool {
	if len(raw) < SetupPacketSize {
		return false
	}
	out.RequestType = raw[0]
	out.Request = raw[1]
	out.Value = uint16(raw[2]) | uint16(raw[3])<<8
	out.Index = uint16(raw[4]) | uint16(raw[5])<<8
	out.Length = uint16(raw[6]) | uint16(raw[7])<<8
	return true
}

// IsReboot reports whether the packet is the reboot-to-bootloader command.
// Only bmRequestType and bRequest are compared; wValue and wIndex are
// reserved and a nonzero value does not turn the command into another one.
func (s *SetupPacket) IsReboot() bool {
	return s.RequestType == halfkay.RebootCommand.RequestType &&
		s.Request == halfkay.RebootCommand.Request
}
