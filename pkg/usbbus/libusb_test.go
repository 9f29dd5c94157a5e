// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package usbbus

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/gousb"
)

type fakeDetacher struct {
	calls int
	err   error
}

func (d *fakeDetacher) SetAutoDetach(autodetach bool) error {
	if autodetach {
		d.calls++
	}
	return d.err
}

func TestAutoDetach_NotSupportedIsLogged(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	defer slog.SetDefault(prev)

	d := &fakeDetacher{err: gousb.ErrorNotSupported}
	autoDetach(d, "libusb:1:7")

	if d.calls != 1 {
		t.Errorf("SetAutoDetach(true) calls = %d, want 1", d.calls)
	}
	out := buf.String()
	if !strings.Contains(out, "level=DEBUG") || !strings.Contains(out, "libusb:1:7") {
		t.Errorf("log = %q, want a debug line naming the device", out)
	}
}

func TestAutoDetach_Supported(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	defer slog.SetDefault(prev)

	autoDetach(&fakeDetacher{}, "libusb:1:7")
	if buf.Len() != 0 {
		t.Errorf("unexpected log output %q", buf.String())
	}
}
