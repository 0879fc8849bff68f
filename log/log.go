// Copyright (c) 2025 The StorageHub developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package log provides structured logging on top of log/slog.
package log

import (
	"log/slog"
	"os"
	"sync/atomic"
)

// Logger is the logging interface handed out to packages.
type Logger interface {
	Debug(msg string, ctx ...any)
	Info(msg string, ctx ...any)
	Warn(msg string, ctx ...any)
	Error(msg string, ctx ...any)

	// With returns a logger with the given context attached.
	With(ctx ...any) Logger
}

var root atomic.Pointer[slog.Logger]

func init() {
	root.Store(slog.New(LogfmtHandler(os.Stderr)))
}

// SetHandler replaces the root handler. All loggers created afterwards via
// WithContext use the new handler; existing loggers keep the old one.
func SetHandler(h slog.Handler) {
	root.Store(slog.New(h))
}

// WithContext creates a logger with the given context attached, e.g.
// WithContext("pkg", "proofsdealer").
func WithContext(ctx ...any) Logger {
	return &logger{root.Load().With(ctx...)}
}

// Root returns a logger without any context.
func Root() Logger {
	return &logger{root.Load()}
}

type logger struct {
	inner *slog.Logger
}

func (l *logger) Debug(msg string, ctx ...any) { l.inner.Debug(msg, ctx...) }
func (l *logger) Info(msg string, ctx ...any)  { l.inner.Info(msg, ctx...) }
func (l *logger) Warn(msg string, ctx ...any)  { l.inner.Warn(msg, ctx...) }
func (l *logger) Error(msg string, ctx ...any) { l.inner.Error(msg, ctx...) }

func (l *logger) With(ctx ...any) Logger {
	return &logger{l.inner.With(ctx...)}
}
