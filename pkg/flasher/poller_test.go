// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flasher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Thermoquad/keyflash/pkg/halfkay"
	"github.com/Thermoquad/keyflash/pkg/usbbus"
)

func testPoller(bus usbbus.Enumerator, clock *fakeClock, interval time.Duration) *Poller {
	p := NewPoller(bus, interval)
	p.sleep = clock.sleep
	p.now = clock.now
	return p
}

func TestNewPoller_DefaultInterval(t *testing.T) {
	tests := []struct {
		interval time.Duration
		want     time.Duration
	}{
		{0, halfkay.PollInterval},
		{-time.Second, halfkay.PollInterval},
		{20 * time.Millisecond, 20 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := NewPoller(usbbus.NewMockBus(), tt.interval).interval; got != tt.want {
			t.Errorf("NewPoller(%s) interval = %s, want %s", tt.interval, got, tt.want)
		}
	}
}

func TestPoller_ImmediateScansOnce(t *testing.T) {
	bus := usbbus.NewMockBus(mouse)
	clock := newFakeClock()
	p := testPoller(bus, clock, 100*time.Millisecond)

	_, err := p.Wait(context.Background(), halfkay.BootloaderIdentity, Immediate)
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("Wait() error = %v, want ErrTimedOut", err)
	}
	if bus.Scans() != 1 {
		t.Errorf("scans = %d, want 1", bus.Scans())
	}
	if n := len(clock.Sleeps()); n != 0 {
		t.Errorf("sleeps = %d, want 0", n)
	}
}

func TestPoller_MatchesByClassification(t *testing.T) {
	bus := usbbus.NewMockBus(mouse, keyboard, loader)
	p := testPoller(bus, newFakeClock(), 100*time.Millisecond)

	tests := []struct {
		target halfkay.Identity
		want   string
	}{
		{halfkay.ApplicationIdentity, keyboard.Path},
		{halfkay.BootloaderIdentity, loader.Path},
		{mouse.Identity, mouse.Path},
	}
	for _, tt := range tests {
		info, err := p.Wait(context.Background(), tt.target, Immediate)
		if err != nil {
			t.Fatalf("Wait(%s) error = %v", tt.target, err)
		}
		if info.Path != tt.want {
			t.Errorf("Wait(%s) = %s, want %s", tt.target, info.Path, tt.want)
		}
	}
}

func TestPoller_BoundedClampsFinalSleep(t *testing.T) {
	bus := usbbus.NewMockBus()
	clock := newFakeClock()
	p := testPoller(bus, clock, 100*time.Millisecond)

	_, err := p.Wait(context.Background(), halfkay.BootloaderIdentity, Within(250*time.Millisecond))
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("Wait() error = %v, want ErrTimedOut", err)
	}

	want := []time.Duration{100 * time.Millisecond, 100 * time.Millisecond, 50 * time.Millisecond}
	got := clock.Sleeps()
	if len(got) != len(want) {
		t.Fatalf("sleeps = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sleep %d = %s, want %s", i, got[i], want[i])
		}
	}
	// scan at 0, 100, 200 and at the deadline
	if bus.Scans() != 4 {
		t.Errorf("scans = %d, want 4", bus.Scans())
	}
}

func TestPoller_BoundedFindsLateDevice(t *testing.T) {
	bus := usbbus.NewMockBus()
	bus.AttachAfter(loader, 7)
	p := testPoller(bus, newFakeClock(), 100*time.Millisecond)

	info, err := p.Wait(context.Background(), halfkay.BootloaderIdentity, Within(time.Second))
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if info.Path != loader.Path || bus.Scans() != 7 {
		t.Errorf("found %s after %d scans", info.Path, bus.Scans())
	}
}

func TestPoller_UnboundedStopsOnCancel(t *testing.T) {
	bus := usbbus.NewMockBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.OnScan = func(scan int) {
		if scan == 500 {
			cancel()
		}
	}

	p := testPoller(bus, newFakeClock(), 100*time.Millisecond)
	_, err := p.Wait(ctx, halfkay.BootloaderIdentity, Unbounded)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() error = %v, want context.Canceled", err)
	}
}

func TestPoller_EnumerateErrorIsAMiss(t *testing.T) {
	bus := usbbus.NewMockBus(loader)
	bus.Close()
	p := testPoller(bus, newFakeClock(), 100*time.Millisecond)

	_, err := p.Wait(context.Background(), halfkay.BootloaderIdentity, Within(300*time.Millisecond))
	if !errors.Is(err, ErrTimedOut) {
		t.Errorf("Wait() error = %v, want ErrTimedOut", err)
	}
}

func TestWithin_NonPositiveIsImmediate(t *testing.T) {
	if Within(0) != Immediate || Within(-time.Second) != Immediate {
		t.Error("Within(<=0) should be Immediate")
	}
	if got := Within(5 * time.Second).String(); got != "5s" {
		t.Errorf("String() = %q", got)
	}
}
