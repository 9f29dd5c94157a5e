// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flasher

import (
	"context"
	"time"

	"github.com/Thermoquad/keyflash/pkg/halfkay"
)

// Config holds the flasher configuration.
type Config struct {
	// Logger receives diagnostic messages (optional)
	Logger Logger

	// Observer receives phase and page events (optional)
	Observer Observer

	// ManualReset is called when the keyboard did not reboot on its own (optional)
	ManualReset ManualResetFunc

	// ManualFallback enables the unbounded wait after the bounded wait
	// expires. When false the session fails with ErrDeviceAbsent instead.
	ManualFallback bool

	// BoundedWait is how long to wait for the bootloader after the reboot request
	BoundedWait time.Duration

	// PollInterval separates enumeration scans
	PollInterval time.Duration

	// SettleDelay follows every page write
	SettleDelay time.Duration

	// PageSize must equal the target's flash page size
	PageSize int

	// Capacity is the writable flash size below the bootloader
	Capacity int

	sleep func(ctx context.Context, d time.Duration) error
	pause func(d time.Duration)
	now   func() time.Time
}

// defaultConfig returns the configuration for a Teensy 2.0 running HalfKay.
func defaultConfig() Config {
	return Config{
		Logger:         nopLogger{},
		ManualFallback: true,
		BoundedWait:    halfkay.BoundedWait,
		PollInterval:   halfkay.PollInterval,
		SettleDelay:    halfkay.SettleDelay,
		PageSize:       halfkay.PageSize,
		Capacity:       halfkay.WritableCapacity,
		sleep:          sleepContext,
		pause:          time.Sleep,
		now:            time.Now,
	}
}

// Option is a functional option for configuring the Flasher.
type Option func(*Config)

// WithLogger sets a logger for flasher operations.
//
// Example:
//
//	f := flasher.New(open, flasher.WithLogger(slog.Default()))
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithObserver sets a callback that receives session events.
//
// Example:
//
//	f := flasher.New(open,
//	    flasher.WithObserver(func(e flasher.Event) {
//	        fmt.Printf("[%s] %d/%d\n", e.Phase, e.Page, e.Pages)
//	    }),
//	)
func WithObserver(observer Observer) Option {
	return func(c *Config) {
		c.Observer = observer
	}
}

// WithManualReset sets the callback run when the bounded wait expires.
func WithManualReset(fn ManualResetFunc) Option {
	return func(c *Config) {
		c.ManualReset = fn
	}
}

// WithManualFallback enables or disables the unbounded manual-reset wait.
// Default is true.
func WithManualFallback(enabled bool) Option {
	return func(c *Config) {
		c.ManualFallback = enabled
	}
}

// WithBoundedWait sets how long to wait for the bootloader after the
// reboot request. Default is 5s.
func WithBoundedWait(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.BoundedWait = d
		}
	}
}

// WithPollInterval sets the pause between enumeration scans. Default is 100ms.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.PollInterval = d
		}
	}
}

// WithSettleDelay sets the pause after each page write. Default is 5ms.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.SettleDelay = d
		}
	}
}

// WithPageSize overrides the flash page size. Only change this for a
// target with a different page granularity; a mismatch corrupts flash.
func WithPageSize(size int) Option {
	return func(c *Config) {
		if size > 0 {
			c.PageSize = size
		}
	}
}

// WithCapacity overrides the writable flash capacity.
func WithCapacity(bytes int) Option {
	return func(c *Config) {
		if bytes > 0 && bytes < halfkay.SentinelAddress {
			c.Capacity = bytes
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
