// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package halfkay

// ControlCommand describes a control transfer with no data stage.
type ControlCommand struct {
	RequestType uint8  // bmRequestType
	Request     uint8  // bRequest
	Value       uint16 // wValue (reserved, zero)
	Index       uint16 // wIndex (reserved, zero)
}

// RebootCommand asks a keyboard in application mode to jump into HalfKay.
// The keyboard does not answer; it drops off the bus.
var RebootCommand = ControlCommand{
	RequestType: RequestTypeReboot,
	Request:     RequestReboot,
}

// IsHostToDevice reports whether the command carries no device response.
func (c ControlCommand) IsHostToDevice() bool {
	return c.RequestType&RequestDirectionDeviceToHost == 0
}

// IsVendor reports whether the command uses the vendor request type.
func (c ControlCommand) IsVendor() bool {
	return c.RequestType&0x60 == RequestTypeVendor
}
