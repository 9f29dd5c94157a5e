// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flasher

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/keyflash/pkg/halfkay"
)

// Error kinds. Every error returned by Flash matches exactly one of these
// with errors.Is.
var (
	ErrDeviceAbsent      = errors.New("bootloader not found")
	ErrTransferFailed    = errors.New("transfer failed")
	ErrImageTooLarge     = halfkay.ErrImageTooLarge
	ErrProgrammingFailed = errors.New("programming failed")
	ErrCancelled         = errors.New("cancelled")
	ErrSessionActive     = errors.New("another flash session is active")
)

// ErrTimedOut is returned by Poller.Wait when the deadline passes.
var ErrTimedOut = errors.New("timed out waiting for device")

// TransferError indicates that a single control or report transfer, or the
// bus around it, could not be used.
type TransferError struct {
	Op  string
	Err error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

func (e *TransferError) Is(target error) bool {
	return target == ErrTransferFailed
}

// ProgrammingError indicates that a page write failed mid-sequence. Pages
// below LastAddress were written; the commit page was not sent.
type ProgrammingError struct {
	Address     uint16 // page that failed
	LastAddress int    // last page written, -1 if none
	Err         error
}

func (e *ProgrammingError) Error() string {
	if e.LastAddress < 0 {
		return fmt.Sprintf("write page 0x%04X: %v (no pages written)", e.Address, e.Err)
	}
	return fmt.Sprintf("write page 0x%04X: %v (last written 0x%04X)", e.Address, e.Err, e.LastAddress)
}

func (e *ProgrammingError) Unwrap() error { return e.Err }

func (e *ProgrammingError) Is(target error) bool {
	return target == ErrProgrammingFailed
}

func cancelled(phase Phase, cause error) error {
	return fmt.Errorf("%w during %s: %v", ErrCancelled, phase, cause)
}
