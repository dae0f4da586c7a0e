// SPDX-FileCopyrightText: Copyright 2025 SSO Plugins, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package log provides the package-level structured logging helpers used
// throughout the authorization server. It wraps a zap.SugaredLogger the way
// a host-embedded plugin is expected to: logging setup itself is the host's
// responsibility, so this package exposes a process-wide logger that the
// host can swap via SetLogger during plugin init.
package log

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var current atomic.Pointer[zap.SugaredLogger]

func init() {
	l, _ := zap.NewProduction()
	current.Store(l.Sugar())
}

// SetLogger replaces the process-wide logger. Called once by the host during
// plugin initialization; never swapped mid-request.
func SetLogger(l *zap.SugaredLogger) {
	if l != nil {
		current.Store(l)
	}
}

func logger() *zap.SugaredLogger {
	return current.Load()
}

// Debugw logs at debug level with structured key/value pairs.
func Debugw(msg string, kv ...any) { logger().Debugw(msg, kv...) }

// Infow logs at info level with structured key/value pairs.
func Infow(msg string, kv ...any) { logger().Infow(msg, kv...) }

// Warnw logs at warn level with structured key/value pairs.
func Warnw(msg string, kv ...any) { logger().Warnw(msg, kv...) }

// Errorw logs at error level with structured key/value pairs.
func Errorw(msg string, kv ...any) { logger().Errorw(msg, kv...) }

// Debug logs a plain debug message.
func Debug(msg string) { logger().Debug(msg) }
