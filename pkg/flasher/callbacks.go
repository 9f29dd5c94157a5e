// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flasher

import (
	"context"
	"time"

	"github.com/Thermoquad/keyflash/pkg/usbbus"
)

// Phase is a state of the flash session.
//
//	Start -> RequestSent -> AwaitBootloader -> Programming -> Committed -> Done
//	                        AwaitBootloader (timeout) -> ManualPrompt -> AwaitManual -> Programming
//
// Start goes straight to Programming when the keyboard already runs the
// bootloader. Any phase may end in Failed.
type Phase int

const (
	PhaseStart Phase = iota
	PhaseRequestSent
	PhaseAwaitBootloader
	PhaseManualPrompt
	PhaseAwaitManual
	PhaseProgramming
	PhaseCommitted
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseStart:
		return "start"
	case PhaseRequestSent:
		return "request-sent"
	case PhaseAwaitBootloader:
		return "await-bootloader"
	case PhaseManualPrompt:
		return "manual-prompt"
	case PhaseAwaitManual:
		return "await-manual"
	case PhaseProgramming:
		return "programming"
	case PhaseCommitted:
		return "committed"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is delivered to the observer on every phase change and after every
// page during programming.
type Event struct {
	Phase Phase

	// Device is the device the phase concerns, when there is one.
	Device usbbus.Info

	// Page is the number of pages processed so far (written or skipped) and
	// Pages the total. Address is the last page processed.
	Page    int
	Pages   int
	Address uint16
	Skipped bool

	// Written is the number of data pages transmitted so far.
	Written int

	Elapsed time.Duration

	// Err is set for PhaseFailed. On PhaseRequestSent it is set when the
	// reboot request could not be delivered, for example on a backend
	// without control transfers; the session still waits for the bootloader.
	Err error
}

// Observer receives session events. It runs on the flashing goroutine and
// should return quickly.
type Observer func(Event)

// ManualResetFunc is called once when the bounded wait expires, before the
// unbounded wait starts. It typically tells the user to press the reset
// button. Returning an error abandons the session as cancelled.
type ManualResetFunc func(ctx context.Context) error

// Logger is an optional leveled logger. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
