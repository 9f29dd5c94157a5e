// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flasher

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/keyflash/pkg/halfkay"
	"github.com/Thermoquad/keyflash/pkg/usbbus"
)

var (
	keyboard = usbbus.MockInfo("kbd", halfkay.ApplicationIdentity)
	loader   = usbbus.MockInfo("halfkay", halfkay.BootloaderIdentity)
	mouse    = usbbus.MockInfo("mouse", halfkay.Identity{VendorID: 0x046D, ProductID: 0xC077})
)

// fakeClock replaces wall time. Sleeps advance it instantly.
type fakeClock struct {
	mu     sync.Mutex
	t      time.Time
	sleeps []time.Duration
	pauses []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	c.sleeps = append(c.sleeps, d)
	return nil
}

func (c *fakeClock) pause(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	c.pauses = append(c.pauses, d)
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func (c *fakeClock) Pauses() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.pauses...)
}

func withClock(c *fakeClock) Option {
	return func(cfg *Config) {
		cfg.now = c.now
		cfg.sleep = c.sleep
		cfg.pause = c.pause
	}
}

// opener returns an OpenFunc over bus and counts how often it is used.
func opener(bus *usbbus.MockBus, calls *int) OpenFunc {
	return func() (usbbus.Bus, error) {
		if calls != nil {
			*calls++
		}
		return bus, nil
	}
}

// testImage returns n bytes with no erased page.
func testImage(n int) halfkay.Image {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return halfkay.Image{Data: data}
}

// rebootOnRequest makes the keyboard drop off the bus on the reboot
// request and the bootloader appear after scans more enumerations.
func rebootOnRequest(bus *usbbus.MockBus, scans int) {
	bus.OnControl = func(info usbbus.Info, t usbbus.Transfer) error {
		if t.RequestType == halfkay.RequestTypeReboot && t.Request == halfkay.RequestReboot {
			bus.Detach(info.Path)
			bus.AttachAfter(loader, scans)
		}
		return nil
	}
}

func phases(events []Event) []Phase {
	var out []Phase
	for i, e := range events {
		if i > 0 && events[i-1].Phase == e.Phase {
			continue
		}
		out = append(out, e.Phase)
	}
	return out
}

func equalPhases(a, b []Phase) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ============================================================
// Session scenarios
// ============================================================

func TestFlash_RebootFromApplication(t *testing.T) {
	bus := usbbus.NewMockBus(mouse, keyboard)
	rebootOnRequest(bus, 3)

	var events []Event
	clock := newFakeClock()
	f := New(opener(bus, nil),
		withClock(clock),
		WithObserver(func(e Event) { events = append(events, e) }),
	)

	img := testImage(300)
	if err := f.Flash(context.Background(), img); err != nil {
		t.Fatalf("Flash() error = %v", err)
	}

	controls := bus.Controls()
	if len(controls) != 1 {
		t.Fatalf("control transfers = %d, want 1", len(controls))
	}
	c := controls[0]
	if c.Path != keyboard.Path || c.RequestType != 0x40 || c.Request != 0xFF || c.Value != 0 || c.Index != 0 || len(c.Data) != 0 {
		t.Errorf("reboot transfer = %+v", c)
	}

	outputs := bus.Outputs()
	if len(outputs) != 4 {
		t.Fatalf("page writes = %d, want 3 pages + sentinel", len(outputs))
	}
	for i, want := range []uint16{0x0000, 0x0080, 0x0100, 0xFFFF} {
		page, err := halfkay.ParseFrame(outputs[i].Data)
		if err != nil {
			t.Fatal(err)
		}
		if page.Address != want {
			t.Errorf("write %d address = 0x%04X, want 0x%04X", i, page.Address, want)
		}
		if outputs[i].Path != loader.Path {
			t.Errorf("write %d went to %s", i, outputs[i].Path)
		}
	}

	last, _ := halfkay.ParseFrame(outputs[2].Data)
	if !bytes.Equal(last.Data[:44], img.Data[256:]) {
		t.Error("last page data mismatch")
	}
	for _, b := range last.Data[44:] {
		if b != 0xFF {
			t.Fatalf("padding byte = 0x%02X, want 0xFF", b)
		}
	}

	want := []Phase{PhaseStart, PhaseRequestSent, PhaseAwaitBootloader, PhaseProgramming, PhaseCommitted, PhaseDone}
	if got := phases(events); !equalPhases(got, want) {
		t.Errorf("phases = %v, want %v", got, want)
	}

	if got := clock.Pauses(); len(got) != 3 || got[0] != halfkay.SettleDelay {
		t.Errorf("settle pauses = %v, want 3 x %s", got, halfkay.SettleDelay)
	}
	if !bus.Closed() || bus.OpenHandles() != 0 {
		t.Errorf("bus closed = %v, open handles = %d", bus.Closed(), bus.OpenHandles())
	}
}

func TestFlash_RebootRequestErrorIsTolerated(t *testing.T) {
	bus := usbbus.NewMockBus(keyboard)
	bus.OnControl = func(info usbbus.Info, t usbbus.Transfer) error {
		bus.Detach(info.Path)
		bus.AttachAfter(loader, 1)
		return usbbus.ErrDisconnected
	}

	var requested []Event
	f := New(opener(bus, nil),
		withClock(newFakeClock()),
		WithObserver(func(e Event) {
			if e.Phase == PhaseRequestSent {
				requested = append(requested, e)
			}
		}),
	)
	if err := f.Flash(context.Background(), testImage(128)); err != nil {
		t.Fatalf("Flash() error = %v", err)
	}
	if n := len(bus.Outputs()); n != 2 {
		t.Errorf("page writes = %d, want 2", n)
	}
	if len(requested) != 1 || requested[0].Err != nil {
		t.Errorf("request events = %+v, want one without error", requested)
	}
}

func TestFlash_RebootRequestNotDelivered(t *testing.T) {
	bus := usbbus.NewMockBus(keyboard)
	bus.OnControl = func(info usbbus.Info, t usbbus.Transfer) error {
		return usbbus.ErrUnsupported
	}

	var requested []Event
	f := New(opener(bus, nil),
		withClock(newFakeClock()),
		WithManualFallback(false),
		WithObserver(func(e Event) {
			if e.Phase == PhaseRequestSent {
				requested = append(requested, e)
			}
		}),
	)

	err := f.Flash(context.Background(), testImage(128))
	if !errors.Is(err, ErrDeviceAbsent) {
		t.Fatalf("Flash() error = %v, want ErrDeviceAbsent", err)
	}
	if len(requested) != 1 {
		t.Fatalf("request events = %d, want 1", len(requested))
	}
	e := requested[0]
	if e.Device.Path != keyboard.Path {
		t.Errorf("event device = %s, want %s", e.Device.Path, keyboard.Path)
	}
	if !errors.Is(e.Err, usbbus.ErrUnsupported) || !errors.Is(e.Err, ErrTransferFailed) {
		t.Errorf("event error = %v, want unsupported transfer", e.Err)
	}
	if len(bus.Controls()) != 0 {
		t.Error("failed control transfer recorded as sent")
	}
}

func TestFlash_BootloaderAlreadyAttached(t *testing.T) {
	bus := usbbus.NewMockBus(loader)

	var events []Event
	clock := newFakeClock()
	f := New(opener(bus, nil),
		withClock(clock),
		WithObserver(func(e Event) { events = append(events, e) }),
	)

	if err := f.Flash(context.Background(), testImage(256)); err != nil {
		t.Fatalf("Flash() error = %v", err)
	}
	if n := len(bus.Controls()); n != 0 {
		t.Errorf("control transfers = %d, want 0", n)
	}
	if n := len(bus.Outputs()); n != 3 {
		t.Errorf("page writes = %d, want 3", n)
	}
	if bus.Scans() != 1 {
		t.Errorf("scans = %d, want 1", bus.Scans())
	}
	if n := len(clock.Sleeps()); n != 0 {
		t.Errorf("poll sleeps = %d, want 0", n)
	}

	want := []Phase{PhaseStart, PhaseProgramming, PhaseCommitted, PhaseDone}
	if got := phases(events); !equalPhases(got, want) {
		t.Errorf("phases = %v, want %v", got, want)
	}
}

func TestFlash_ManualReset(t *testing.T) {
	bus := usbbus.NewMockBus(keyboard)

	prompted := 0
	var events []Event
	f := New(opener(bus, nil),
		withClock(newFakeClock()),
		WithObserver(func(e Event) { events = append(events, e) }),
		WithManualReset(func(ctx context.Context) error {
			prompted++
			bus.Detach(keyboard.Path)
			bus.AttachAfter(loader, 4)
			return nil
		}),
	)

	if err := f.Flash(context.Background(), testImage(128)); err != nil {
		t.Fatalf("Flash() error = %v", err)
	}
	if prompted != 1 {
		t.Errorf("manual reset prompted %d times, want 1", prompted)
	}
	if n := len(bus.Controls()); n != 1 {
		t.Errorf("control transfers = %d, want 1", n)
	}

	want := []Phase{
		PhaseStart, PhaseRequestSent, PhaseAwaitBootloader,
		PhaseManualPrompt, PhaseAwaitManual,
		PhaseProgramming, PhaseCommitted, PhaseDone,
	}
	if got := phases(events); !equalPhases(got, want) {
		t.Errorf("phases = %v, want %v", got, want)
	}
}

func TestFlash_PageWriteFails(t *testing.T) {
	bus := usbbus.NewMockBus(loader)
	writes := 0
	bus.OnOutput = func(info usbbus.Info, payload []byte) error {
		writes++
		if writes == 3 {
			return errors.New("pipe error")
		}
		return nil
	}

	var last Event
	f := New(opener(bus, nil),
		withClock(newFakeClock()),
		WithObserver(func(e Event) { last = e }),
	)
	err := f.Flash(context.Background(), testImage(512))

	if !errors.Is(err, ErrProgrammingFailed) {
		t.Fatalf("Flash() error = %v, want ErrProgrammingFailed", err)
	}
	if errors.Is(err, ErrTransferFailed) || errors.Is(err, ErrDeviceAbsent) {
		t.Errorf("error matches more than one kind: %v", err)
	}

	var perr *ProgrammingError
	if !errors.As(err, &perr) {
		t.Fatalf("error type = %T", err)
	}
	if perr.Address != 0x0100 || perr.LastAddress != 0x0080 {
		t.Errorf("failed at 0x%04X, last written %d", perr.Address, perr.LastAddress)
	}

	for _, o := range bus.Outputs() {
		if page, _ := halfkay.ParseFrame(o.Data); page.IsSentinel() {
			t.Error("sentinel sent after a failed page")
		}
	}
	if last.Phase != PhaseFailed || last.Err != err {
		t.Errorf("last event = %+v", last)
	}
	if !bus.Closed() || bus.OpenHandles() != 0 {
		t.Errorf("bus closed = %v, open handles = %d", bus.Closed(), bus.OpenHandles())
	}
}

// ============================================================
// Failure paths
// ============================================================

func TestFlash_NoDeviceWithoutFallback(t *testing.T) {
	bus := usbbus.NewMockBus(mouse)
	f := New(opener(bus, nil), withClock(newFakeClock()), WithManualFallback(false))

	err := f.Flash(context.Background(), testImage(128))
	if !errors.Is(err, ErrDeviceAbsent) {
		t.Fatalf("Flash() error = %v, want ErrDeviceAbsent", err)
	}
	if errors.Is(err, ErrTimedOut) {
		t.Error("internal timeout leaked")
	}
	// one bootloader scan, one keyboard scan, then 5s of 100ms polls
	if got, want := bus.Scans(), 2+51; got != want {
		t.Errorf("scans = %d, want %d", got, want)
	}
	if len(bus.Transfers()) != 0 {
		t.Error("transfers sent with no device attached")
	}
}

func TestFlash_ImageTooLargeBeforeAnyTransfer(t *testing.T) {
	bus := usbbus.NewMockBus(keyboard)
	opens := 0
	f := New(opener(bus, &opens), withClock(newFakeClock()))

	err := f.Flash(context.Background(), testImage(halfkay.WritableCapacity+1))
	if !errors.Is(err, ErrImageTooLarge) {
		t.Fatalf("Flash() error = %v, want ErrImageTooLarge", err)
	}
	if opens != 0 || bus.Scans() != 0 || len(bus.Transfers()) != 0 {
		t.Errorf("bus touched: opens=%d scans=%d transfers=%d", opens, bus.Scans(), len(bus.Transfers()))
	}
}

func TestFlash_OpenBusFails(t *testing.T) {
	f := New(func() (usbbus.Bus, error) {
		return nil, errors.New("libusb: access denied")
	})
	err := f.Flash(context.Background(), testImage(128))
	if !errors.Is(err, ErrTransferFailed) {
		t.Errorf("Flash() error = %v, want ErrTransferFailed", err)
	}
}

func TestFlash_CancelDuringManualWait(t *testing.T) {
	bus := usbbus.NewMockBus(keyboard)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus.OnScan = func(scan int) {
		if scan == 100 {
			cancel()
		}
	}

	var events []Event
	promptedAt := 0
	f := New(opener(bus, nil),
		withClock(newFakeClock()),
		WithObserver(func(e Event) {
			events = append(events, e)
			if e.Phase == PhaseManualPrompt {
				promptedAt = bus.Scans()
			}
		}),
	)
	err := f.Flash(ctx, testImage(128))
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("Flash() error = %v, want ErrCancelled", err)
	}
	if len(bus.Outputs()) != 0 {
		t.Error("pages written after cancel")
	}

	want := []Phase{
		PhaseStart, PhaseRequestSent, PhaseAwaitBootloader,
		PhaseManualPrompt, PhaseAwaitManual, PhaseFailed,
	}
	if got := phases(events); !equalPhases(got, want) {
		t.Errorf("phases = %v, want %v", got, want)
	}
	// one bootloader scan, one keyboard scan, then the whole bounded wait
	if want := 2 + 51; promptedAt != want {
		t.Errorf("manual prompt after %d scans, want %d", promptedAt, want)
	}
	if last := events[len(events)-1]; !errors.Is(last.Err, ErrCancelled) {
		t.Errorf("failed event error = %v, want ErrCancelled", last.Err)
	}
	if !bus.Closed() {
		t.Error("bus left open")
	}
}

func TestFlash_ManualResetDeclined(t *testing.T) {
	bus := usbbus.NewMockBus()
	f := New(opener(bus, nil),
		withClock(newFakeClock()),
		WithManualReset(func(ctx context.Context) error {
			return errors.New("user aborted")
		}),
	)

	err := f.Flash(context.Background(), testImage(128))
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("Flash() error = %v, want ErrCancelled", err)
	}
}

func TestFlash_ConcurrentSessionRejected(t *testing.T) {
	bus := usbbus.NewMockBus()
	entered := make(chan struct{})
	release := make(chan struct{})

	f := New(opener(bus, nil),
		withClock(newFakeClock()),
		WithManualReset(func(ctx context.Context) error {
			close(entered)
			<-release
			return errors.New("released")
		}),
	)

	done := make(chan error, 1)
	go func() {
		done <- f.Flash(context.Background(), testImage(128))
	}()
	<-entered

	if err := f.Flash(context.Background(), testImage(128)); !errors.Is(err, ErrSessionActive) {
		t.Errorf("second Flash() error = %v, want ErrSessionActive", err)
	}
	if _, err := f.Reboot(context.Background()); !errors.Is(err, ErrSessionActive) {
		t.Errorf("Reboot() error = %v, want ErrSessionActive", err)
	}

	close(release)
	if err := <-done; !errors.Is(err, ErrCancelled) {
		t.Errorf("first Flash() error = %v", err)
	}
}

// ============================================================
// Detect and Reboot
// ============================================================

func TestDetect(t *testing.T) {
	tests := []struct {
		name    string
		devices []usbbus.Info
		want    halfkay.Mode
	}{
		{"nothing attached", nil, halfkay.ModeAbsent},
		{"foreign device only", []usbbus.Info{mouse}, halfkay.ModeAbsent},
		{"keyboard", []usbbus.Info{mouse, keyboard}, halfkay.ModeApplication},
		{"bootloader", []usbbus.Info{loader}, halfkay.ModeBootloader},
		{"bootloader wins", []usbbus.Info{keyboard, loader}, halfkay.ModeBootloader},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := usbbus.NewMockBus(tt.devices...)
			f := New(opener(bus, nil))
			got, err := f.Detect()
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("Detect() = %v, want %v", got, tt.want)
			}
			if !bus.Closed() {
				t.Error("bus left open")
			}
		})
	}
}

func TestReboot(t *testing.T) {
	bus := usbbus.NewMockBus(keyboard)
	rebootOnRequest(bus, 2)

	f := New(opener(bus, nil), withClock(newFakeClock()))
	info, err := f.Reboot(context.Background())
	if err != nil {
		t.Fatalf("Reboot() error = %v", err)
	}
	if info.Path != loader.Path {
		t.Errorf("Reboot() = %s, want %s", info.Path, loader.Path)
	}
	if len(bus.Outputs()) != 0 {
		t.Error("Reboot() wrote pages")
	}
}

func TestReboot_NoKeyboard(t *testing.T) {
	f := New(opener(usbbus.NewMockBus(mouse), nil), withClock(newFakeClock()))
	if _, err := f.Reboot(context.Background()); !errors.Is(err, ErrDeviceAbsent) {
		t.Errorf("Reboot() error = %v, want ErrDeviceAbsent", err)
	}
}

func TestReboot_AlreadyInBootloader(t *testing.T) {
	bus := usbbus.NewMockBus(loader)
	f := New(opener(bus, nil), withClock(newFakeClock()))
	if _, err := f.Reboot(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(bus.Controls()) != 0 {
		t.Error("reboot request sent to the bootloader")
	}
}
