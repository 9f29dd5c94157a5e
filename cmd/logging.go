// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

// logger receives diagnostics from the flasher and transports. User-facing
// output is printed directly to stdout.
var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

var logCloser io.Closer

func setupLogging(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger = newLogger(logFile, level)
	slog.SetDefault(logger)
	return nil
}

// newLogger builds a text logger writing to stderr, or to a rotating file
// when path is set.
func newLogger(path string, level slog.Level) *slog.Logger {
	var out io.Writer = os.Stderr
	if path != "" {
		rotating := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    5, // megabytes
			MaxBackups: 3,
		}
		logCloser = rotating
		out = rotating
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}

func closeLogging() {
	if logCloser != nil {
		logCloser.Close()
		logCloser = nil
	}
}
