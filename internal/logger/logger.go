// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package logger provides the functional logging type threaded
// through every pipeline Step and subsystem constructor, the same way
// tailscale.com/types/logger.Logf is threaded through tailscaled's
// subsystems instead of an ambient global logger.
package logger

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Logf is the logging primitive passed explicitly into every
// constructor; there is no package-level logger singleton.
type Logf func(format string, args ...any)

// Discard drops everything logged through it.
func Discard(string, ...any) {}

// FromZap adapts a zap.SugaredLogger into a Logf.
func FromZap(z *zap.SugaredLogger) Logf {
	return func(format string, args ...any) {
		z.Infof(format, args...)
	}
}

// WithPrefix returns a Logf that prepends prefix and ": " to every
// message.
func WithPrefix(logf Logf, prefix string) Logf {
	return func(format string, args ...any) {
		logf(prefix+": "+format, args...)
	}
}

// RateLimitedFn returns a Logf that forwards at most burst messages
// per window, then one "suppressed" summary line, then resumes after
// window elapses — the same shape as tailscaled's stderr rate
// limiting for paths that can log once per dispatched entry.
func RateLimitedFn(logf Logf, window time.Duration, burst, maxCache int) Logf {
	var mu sync.Mutex
	counts := make(map[string]int)
	windowStart := make(map[string]time.Time)

	return func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		now := time.Now()
		if len(counts) > maxCache {
			counts = make(map[string]int)
			windowStart = make(map[string]time.Time)
		}
		start, ok := windowStart[format]
		if !ok || now.Sub(start) > window {
			windowStart[format] = now
			counts[format] = 0
		}
		counts[format]++
		if counts[format] > burst {
			if counts[format] == burst+1 {
				logf("(rate limiting: suppressing further %q lines for %v)", format, window)
			}
			return
		}
		logf(format, args...)
	}
}

// Errorf logs err prefixed with the calling module's name, in the
// shape "error in <module>: <err>".
func Errorf(logf Logf, module string, err error) {
	logf("error in %s: %v", module, err)
}
