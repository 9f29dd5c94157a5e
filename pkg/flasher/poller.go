// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flasher

import (
	"context"
	"time"

	"github.com/Thermoquad/keyflash/pkg/halfkay"
	"github.com/Thermoquad/keyflash/pkg/usbbus"
)

// Deadline bounds a Poller wait.
type Deadline struct {
	kind    deadlineKind
	timeout time.Duration
}

type deadlineKind int

const (
	deadlineImmediate deadlineKind = iota
	deadlineBounded
	deadlineUnbounded
)

var (
	// Immediate scans the bus exactly once.
	Immediate = Deadline{kind: deadlineImmediate}

	// Unbounded scans until a match or until the context is cancelled.
	Unbounded = Deadline{kind: deadlineUnbounded}
)

// Within scans until a match or until d has elapsed. The bus is scanned
// once more when the deadline is reached.
func Within(d time.Duration) Deadline {
	if d <= 0 {
		return Immediate
	}
	return Deadline{kind: deadlineBounded, timeout: d}
}

func (d Deadline) String() string {
	switch d.kind {
	case deadlineImmediate:
		return "immediate"
	case deadlineUnbounded:
		return "unbounded"
	default:
		return d.timeout.String()
	}
}

// Poller repeatedly enumerates a bus looking for one identity.
type Poller struct {
	bus      usbbus.Enumerator
	interval time.Duration
	logger   Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewPoller creates a poller that scans bus every interval.
func NewPoller(bus usbbus.Enumerator, interval time.Duration) *Poller {
	cfg := defaultConfig()
	if interval > 0 {
		cfg.PollInterval = interval
	}
	return newPoller(bus, &cfg)
}

func newPoller(bus usbbus.Enumerator, cfg *Config) *Poller {
	return &Poller{
		bus:      bus,
		interval: cfg.PollInterval,
		logger:   cfg.Logger,
		sleep:    cfg.sleep,
		now:      cfg.now,
	}
}

// Wait returns the first attached device whose identity classifies the same
// as target. It returns ErrTimedOut when the deadline passes without a match
// and the context error when ctx is cancelled.
//
// Enumeration failures are not fatal: a device in the middle of a reboot can
// make a scan fail, so the scan counts as a miss.
func (p *Poller) Wait(ctx context.Context, target halfkay.Identity, deadline Deadline) (usbbus.Info, error) {
	want := halfkay.Classify(target)
	start := p.now()
	end := start.Add(deadline.timeout)

	for scan := 1; ; scan++ {
		if err := ctx.Err(); err != nil {
			return usbbus.Info{}, err
		}

		if info, ok := p.scan(want, target); ok {
			p.logger.Debug("device found", "identity", target, "path", info.Path, "scans", scan)
			return info, nil
		}

		var wait time.Duration
		switch deadline.kind {
		case deadlineImmediate:
			return usbbus.Info{}, ErrTimedOut
		case deadlineBounded:
			remaining := end.Sub(p.now())
			if remaining <= 0 {
				p.logger.Debug("wait timed out", "identity", target, "deadline", deadline, "scans", scan)
				return usbbus.Info{}, ErrTimedOut
			}
			wait = min(p.interval, remaining)
		default:
			wait = p.interval
		}

		if err := p.sleep(ctx, wait); err != nil {
			return usbbus.Info{}, err
		}
	}
}

func (p *Poller) scan(want halfkay.Mode, target halfkay.Identity) (usbbus.Info, bool) {
	infos, err := p.bus.Enumerate()
	if err != nil {
		p.logger.Debug("enumerate failed", "error", err)
		return usbbus.Info{}, false
	}
	for _, info := range infos {
		if want == halfkay.ModeUnrecognized {
			if info.Identity == target {
				return info, true
			}
			continue
		}
		if halfkay.Classify(info.Identity) == want {
			return info, true
		}
	}
	return usbbus.Info{}, false
}
