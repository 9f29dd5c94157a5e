// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package usbbus

import (
	"errors"
	"sync"

	"github.com/Thermoquad/keyflash/pkg/halfkay"
)

const mockPrefix = "mock"

// Transfer is one successful transfer recorded by a MockBus.
type Transfer struct {
	Path        string
	Control     bool // false for output reports
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Data        []byte
}

// MockBus is an in-memory Bus for tests and dry runs. Devices are attached
// and detached explicitly; hooks let a test script a reboot or a failure.
type MockBus struct {
	mu        sync.Mutex
	attached  []Info
	pending   []pendingAttach
	transfers []Transfer
	scans     int
	opened    int
	released  int
	closed    bool

	// OnScan runs before each enumeration with the 1-based scan count.
	OnScan func(scan int)

	// OnControl runs for each control transfer; a non-nil error fails it.
	OnControl func(info Info, t Transfer) error

	// OnOutput runs for each output report; a non-nil error fails it.
	OnOutput func(info Info, payload []byte) error
}

type pendingAttach struct {
	info Info
	at   int
}

// MockInfo builds an Info on the mock bus.
func MockInfo(name string, id halfkay.Identity) Info {
	return Info{Path: makePath(mockPrefix, "%s", name), Identity: id}
}

// NewMockBus returns a bus with the given devices attached.
func NewMockBus(devices ...Info) *MockBus {
	return &MockBus{attached: append([]Info(nil), devices...)}
}

// Attach adds a device immediately.
func (b *MockBus) Attach(info Info) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attached = append(b.attached, info)
}

// AttachAfter adds a device once n more enumerations have happened.
func (b *MockBus) AttachAfter(info Info, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, pendingAttach{info: info, at: b.scans + n})
}

// Detach removes a device.
func (b *MockBus) Detach(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.attached[:0]
	for _, info := range b.attached {
		if info.Path != path {
			kept = append(kept, info)
		}
	}
	b.attached = kept
}

func (b *MockBus) Enumerate() ([]Info, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, errors.New("mock bus closed")
	}
	b.scans++
	scan := b.scans
	hook := b.OnScan
	b.mu.Unlock()

	if hook != nil {
		hook(scan)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	waiting := b.pending[:0]
	for _, p := range b.pending {
		if p.at <= b.scans {
			b.attached = append(b.attached, p.info)
		} else {
			waiting = append(waiting, p)
		}
	}
	b.pending = waiting
	return append([]Info(nil), b.attached...), nil
}

func (b *MockBus) Has(path string) bool {
	return hasPrefix(path, mockPrefix)
}

func (b *MockBus) Open(info Info) (Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, a := range b.attached {
		if a.Path == info.Path {
			b.opened++
			return &mockDevice{bus: b, info: a}, nil
		}
	}
	return nil, ErrNotFound
}

func (b *MockBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Closed reports whether Close was called.
func (b *MockBus) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Scans returns the number of enumerations performed.
func (b *MockBus) Scans() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scans
}

// OpenHandles returns the number of opened device handles not yet closed.
func (b *MockBus) OpenHandles() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened - b.released
}

// Transfers returns every recorded transfer in order.
func (b *MockBus) Transfers() []Transfer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Transfer(nil), b.transfers...)
}

// Controls returns the recorded control transfers.
func (b *MockBus) Controls() []Transfer {
	return b.filter(true)
}

// Outputs returns the recorded output reports.
func (b *MockBus) Outputs() []Transfer {
	return b.filter(false)
}

func (b *MockBus) filter(control bool) []Transfer {
	var out []Transfer
	for _, t := range b.Transfers() {
		if t.Control == control {
			out = append(out, t)
		}
	}
	return out
}

func (b *MockBus) record(t Transfer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transfers = append(b.transfers, t)
}

func (b *MockBus) attachedPath(path string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, a := range b.attached {
		if a.Path == path {
			return true
		}
	}
	return false
}

type mockDevice struct {
	bus    *MockBus
	info   Info
	closed bool
}

func (d *mockDevice) Control(requestType, request uint8, value, index uint16, data []byte) (int, error) {
	if err := d.usable(); err != nil {
		return 0, err
	}
	t := Transfer{
		Path:        d.info.Path,
		Control:     true,
		RequestType: requestType,
		Request:     request,
		Value:       value,
		Index:       index,
		Data:        append([]byte(nil), data...),
	}
	if hook := d.bus.OnControl; hook != nil {
		if err := hook(d.info, t); err != nil {
			return 0, err
		}
	}
	d.bus.record(t)
	return len(data), nil
}

func (d *mockDevice) WriteOutput(payload []byte) error {
	if err := d.usable(); err != nil {
		return err
	}
	if hook := d.bus.OnOutput; hook != nil {
		if err := hook(d.info, payload); err != nil {
			return err
		}
	}
	d.bus.record(Transfer{Path: d.info.Path, Data: append([]byte(nil), payload...)})
	return nil
}

func (d *mockDevice) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.bus.mu.Lock()
	d.bus.released++
	d.bus.mu.Unlock()
	return nil
}

func (d *mockDevice) usable() error {
	if d.closed {
		return errors.New("mock device closed")
	}
	if !d.bus.attachedPath(d.info.Path) {
		return ErrDisconnected
	}
	return nil
}
