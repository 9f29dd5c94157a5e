// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package flasher runs the host side of a HalfKay update session: it asks
// the keyboard to reboot into its bootloader, waits for the bootloader to
// enumerate, writes the image page by page and commits it.
//
// Example:
//
//	data, _ := ihex.Load(file)
//	f := flasher.New(func() (usbbus.Bus, error) { return usbbus.Open("auto", 0) },
//	    flasher.WithLogger(slog.Default()),
//	)
//	err := f.Flash(ctx, halfkay.Image{Data: data})
package flasher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Thermoquad/keyflash/pkg/halfkay"
	"github.com/Thermoquad/keyflash/pkg/usbbus"
)

// OpenFunc opens the bus a session runs on. It is called once per session
// and the bus is closed when the session ends.
type OpenFunc func() (usbbus.Bus, error)

// Flasher runs update sessions. A Flasher is safe for concurrent use but
// runs at most one session at a time.
type Flasher struct {
	open    OpenFunc
	cfg     Config
	session sync.Mutex
}

// New creates a Flasher.
func New(open OpenFunc, opts ...Option) *Flasher {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Flasher{open: open, cfg: cfg}
}

// session holds per-call state.
type session struct {
	*Flasher
	bus    usbbus.Bus
	poller *Poller
	start  time.Time
}

// Flash writes image to the keyboard.
//
// If the bootloader is already attached the image is written immediately.
// Otherwise the keyboard is asked to reboot and the bus is polled for the
// bootloader until the bounded wait expires. After that the manual reset
// hook runs and polling continues until the context is cancelled, unless
// the manual fallback is disabled.
//
// The returned error matches exactly one of ErrDeviceAbsent,
// ErrTransferFailed, ErrImageTooLarge, ErrProgrammingFailed, ErrCancelled or
// ErrSessionActive.
func (f *Flasher) Flash(ctx context.Context, image halfkay.Image) error {
	if !f.session.TryLock() {
		return ErrSessionActive
	}
	defer f.session.Unlock()

	s := &session{Flasher: f, start: f.cfg.now()}
	s.emit(Event{Phase: PhaseStart})

	pages, err := halfkay.Paginate(image, f.cfg.PageSize, f.cfg.Capacity)
	if err != nil {
		return s.fail(err)
	}
	f.cfg.Logger.Info("image loaded",
		"bytes", image.Len(),
		"pages", len(pages),
		"writable", halfkay.CountWritable(pages))

	bus, err := f.open()
	if err != nil {
		return s.fail(&TransferError{Op: "open bus", Err: err})
	}
	defer bus.Close()
	s.bus = bus
	s.poller = newPoller(bus, &f.cfg)

	loader, err := s.findBootloader(ctx)
	if err != nil {
		return s.fail(err)
	}
	return s.program(ctx, loader, pages)
}

// findBootloader walks the session from Start to the point where a
// bootloader is attached.
func (s *session) findBootloader(ctx context.Context) (usbbus.Info, error) {
	log := s.cfg.Logger

	info, err := s.poller.Wait(ctx, halfkay.BootloaderIdentity, Immediate)
	if err == nil {
		log.Info("bootloader already attached", "path", info.Path)
		return info, nil
	}
	if !errors.Is(err, ErrTimedOut) {
		return usbbus.Info{}, cancelled(PhaseStart, err)
	}

	if err := s.requestReboot(ctx); err != nil {
		return usbbus.Info{}, err
	}

	s.emit(Event{Phase: PhaseAwaitBootloader})
	info, err = s.poller.Wait(ctx, halfkay.BootloaderIdentity, Within(s.cfg.BoundedWait))
	if err == nil {
		return info, nil
	}
	if !errors.Is(err, ErrTimedOut) {
		return usbbus.Info{}, cancelled(PhaseAwaitBootloader, err)
	}

	if !s.cfg.ManualFallback {
		return usbbus.Info{}, fmt.Errorf("%w after %s", ErrDeviceAbsent, s.cfg.BoundedWait)
	}

	log.Info("keyboard did not reboot, waiting for manual reset")
	s.emit(Event{Phase: PhaseManualPrompt})
	if s.cfg.ManualReset != nil {
		if err := s.cfg.ManualReset(ctx); err != nil {
			return usbbus.Info{}, cancelled(PhaseManualPrompt, err)
		}
	}

	s.emit(Event{Phase: PhaseAwaitManual})
	info, err = s.poller.Wait(ctx, halfkay.BootloaderIdentity, Unbounded)
	if err != nil {
		return usbbus.Info{}, cancelled(PhaseAwaitManual, err)
	}
	return info, nil
}

// requestReboot sends the reboot request to the keyboard if one is
// attached. A request that was not delivered is reported on the
// RequestSent event; the session continues either way.
func (s *session) requestReboot(ctx context.Context) error {
	log := s.cfg.Logger

	app, err := s.poller.Wait(ctx, halfkay.ApplicationIdentity, Immediate)
	if err != nil {
		if !errors.Is(err, ErrTimedOut) {
			return cancelled(PhaseStart, err)
		}
		log.Info("keyboard not found, waiting for bootloader")
		return nil
	}

	dev, err := s.bus.Open(app)
	if err != nil {
		log.Error("open keyboard failed", "path", app.Path, "error", err)
		s.emit(Event{Phase: PhaseRequestSent, Device: app, Err: &TransferError{Op: "open keyboard", Err: err}})
		return nil
	}
	defer dev.Close()

	err = RequestReboot(dev)
	switch {
	case err == nil:
		log.Info("reboot requested", "path", app.Path)
	case errors.Is(err, usbbus.ErrDisconnected):
		// the keyboard dropped off the bus before acknowledging
		log.Debug("reboot request not acknowledged", "path", app.Path, "error", err)
		err = nil
	default:
		log.Info("reboot request not delivered", "path", app.Path, "error", err)
	}
	s.emit(Event{Phase: PhaseRequestSent, Device: app, Err: err})
	return nil
}

func (s *session) program(ctx context.Context, info usbbus.Info, pages []halfkay.Page) error {
	dev, err := s.bus.Open(info)
	if err != nil {
		return s.fail(&TransferError{Op: "open bootloader", Err: err})
	}
	defer dev.Close()

	s.emit(Event{Phase: PhaseProgramming, Device: info, Pages: len(pages)})

	prog := newProgrammer(&s.cfg)
	prog.observer = func(e Event) {
		e.Device = info
		s.emit(e)
	}
	if err := prog.Program(ctx, dev, pages); err != nil {
		return s.fail(err)
	}

	s.emit(Event{Phase: PhaseCommitted, Device: info, Pages: len(pages), Written: halfkay.CountWritable(pages)})
	s.emit(Event{Phase: PhaseDone, Device: info, Pages: len(pages), Written: halfkay.CountWritable(pages)})
	return nil
}

func (s *session) fail(err error) error {
	s.cfg.Logger.Error("flash failed", "error", err)
	s.emit(Event{Phase: PhaseFailed, Err: err})
	return err
}

func (s *session) emit(e Event) {
	if s.cfg.Observer == nil {
		return
	}
	e.Elapsed = s.cfg.now().Sub(s.start)
	s.cfg.Observer(e)
}

// Find scans the bus once and returns the attached keyboard. A bootloader
// takes priority over a keyboard in application mode. When neither is
// attached the mode is halfkay.ModeAbsent.
func (f *Flasher) Find() (usbbus.Info, halfkay.Mode, error) {
	bus, err := f.open()
	if err != nil {
		return usbbus.Info{}, halfkay.ModeAbsent, &TransferError{Op: "open bus", Err: err}
	}
	defer bus.Close()

	infos, err := bus.Enumerate()
	if err != nil {
		return usbbus.Info{}, halfkay.ModeAbsent, &TransferError{Op: "enumerate", Err: err}
	}

	var app *usbbus.Info
	for i, info := range infos {
		switch halfkay.Classify(info.Identity) {
		case halfkay.ModeBootloader:
			return info, halfkay.ModeBootloader, nil
		case halfkay.ModeApplication:
			if app == nil {
				app = &infos[i]
			}
		}
	}
	if app != nil {
		return *app, halfkay.ModeApplication, nil
	}
	return usbbus.Info{}, halfkay.ModeAbsent, nil
}

// Detect reports which mode the keyboard is in.
func (f *Flasher) Detect() (halfkay.Mode, error) {
	_, mode, err := f.Find()
	return mode, err
}

// Reboot asks the keyboard to enter its bootloader and waits up to the
// bounded wait for it to appear. When the bootloader is already attached
// it is returned without sending anything.
func (f *Flasher) Reboot(ctx context.Context) (usbbus.Info, error) {
	if !f.session.TryLock() {
		return usbbus.Info{}, ErrSessionActive
	}
	defer f.session.Unlock()

	bus, err := f.open()
	if err != nil {
		return usbbus.Info{}, &TransferError{Op: "open bus", Err: err}
	}
	defer bus.Close()
	poller := newPoller(bus, &f.cfg)

	if info, err := poller.Wait(ctx, halfkay.BootloaderIdentity, Immediate); err == nil {
		return info, nil
	}

	app, err := poller.Wait(ctx, halfkay.ApplicationIdentity, Immediate)
	if err != nil {
		if errors.Is(err, ErrTimedOut) {
			return usbbus.Info{}, fmt.Errorf("%w: keyboard not attached", ErrDeviceAbsent)
		}
		return usbbus.Info{}, cancelled(PhaseStart, err)
	}

	dev, err := bus.Open(app)
	if err != nil {
		return usbbus.Info{}, &TransferError{Op: "open keyboard", Err: err}
	}
	if err := RequestReboot(dev); err != nil {
		f.cfg.Logger.Debug("reboot request not acknowledged", "path", app.Path, "error", err)
	}
	dev.Close()

	info, err := poller.Wait(ctx, halfkay.BootloaderIdentity, Within(f.cfg.BoundedWait))
	switch {
	case err == nil:
		return info, nil
	case errors.Is(err, ErrTimedOut):
		return usbbus.Info{}, fmt.Errorf("%w after %s", ErrDeviceAbsent, f.cfg.BoundedWait)
	default:
		return usbbus.Info{}, cancelled(PhaseAwaitBootloader, err)
	}
}
