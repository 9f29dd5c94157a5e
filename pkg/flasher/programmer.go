// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flasher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/keyflash/pkg/halfkay"
	"github.com/Thermoquad/keyflash/pkg/usbbus"
)

// Programmer writes a paginated image to a device in bootloader mode and
// commits it.
type Programmer struct {
	pageSize int
	settle   time.Duration
	logger   Logger
	observer Observer

	pause func(d time.Duration)
	now   func() time.Time
}

// NewProgrammer creates a programmer. Only the logger, observer, page size
// and settle delay options apply.
func NewProgrammer(opts ...Option) *Programmer {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return newProgrammer(&cfg)
}

func newProgrammer(cfg *Config) *Programmer {
	return &Programmer{
		pageSize: cfg.PageSize,
		settle:   cfg.SettleDelay,
		logger:   cfg.Logger,
		observer: cfg.Observer,
		pause:    cfg.pause,
		now:      cfg.now,
	}
}

// Program transmits every non-erased page in order, pausing for the settle
// delay after each, then sends the commit page.
//
// The context is checked once before the first page. Once flash has been
// touched the sequence runs to completion or failure; stopping half way
// leaves the keyboard without a bootable image.
//
// A failed page write stops the sequence and returns a *ProgrammingError;
// the commit page is not sent. Errors from the commit page itself are
// logged and ignored, because the bootloader reboots while acknowledging it.
func (p *Programmer) Program(ctx context.Context, dev usbbus.Device, pages []halfkay.Page) error {
	if err := p.validate(pages); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return cancelled(PhaseProgramming, err)
	}

	start := p.now()
	last := -1
	written := 0

	for i, page := range pages {
		if !page.Erased {
			if err := dev.WriteOutput(page.Frame()); err != nil {
				p.logger.Error("page write failed", "address", fmt.Sprintf("0x%04X", page.Address), "error", err)
				return &ProgrammingError{Address: page.Address, LastAddress: last, Err: err}
			}
			last = int(page.Address)
			written++
			p.pause(p.settle)
		}

		p.logger.Debug(halfkay.FormatPage(page))
		p.emit(Event{
			Phase:   PhaseProgramming,
			Page:    i + 1,
			Pages:   len(pages),
			Address: page.Address,
			Skipped: page.Erased,
			Written: written,
			Elapsed: p.now().Sub(start),
		})
	}

	p.commit(dev)
	p.logger.Info("image committed", "pages", len(pages), "written", written, "elapsed", p.now().Sub(start))
	return nil
}

// commit sends the sentinel page. Any error is expected and dropped.
func (p *Programmer) commit(dev usbbus.Device) {
	sentinel := halfkay.SentinelPage(p.pageSize)
	err := dev.WriteOutput(sentinel.Frame())
	switch {
	case err == nil:
		p.logger.Debug(halfkay.FormatPage(sentinel))
	case errors.Is(err, usbbus.ErrDisconnected):
		p.logger.Debug("bootloader detached on commit")
	default:
		p.logger.Debug("commit write reported error", "error", err)
	}
}

func (p *Programmer) validate(pages []halfkay.Page) error {
	next := 0
	for _, page := range pages {
		var msg string
		switch {
		case page.IsSentinel():
			msg = "sentinel page in image"
		case int(page.Address)%p.pageSize != 0:
			msg = "address not page aligned"
		case int(page.Address) < next:
			msg = "pages out of order"
		case len(page.Data) != p.pageSize:
			msg = fmt.Sprintf("page is %d bytes, want %d", len(page.Data), p.pageSize)
		}
		if msg != "" {
			return &ProgrammingError{Address: page.Address, LastAddress: -1, Err: errors.New(msg)}
		}
		next = int(page.Address) + p.pageSize
	}
	return nil
}

func (p *Programmer) emit(e Event) {
	if p.observer != nil {
		p.observer(e)
	}
}
