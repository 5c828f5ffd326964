// Copyright 2026 Faultline authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package symlog provides a minimal verbosity-gated logger shared
// across the engine: a single global level, set once by the CLI's -vv
// flag, and a Logf call every package can use without threading a
// logger value through every constructor.
package symlog

import (
	golog "log"
	"sync/atomic"
)

var level int32

// SetVerbosity sets the global verbosity level. Called once from
// cmd/faultline after flag.Parse.
func SetVerbosity(v int) {
	atomic.StoreInt32(&level, int32(v))
}

// Logf logs msg if v is at or below the current verbosity level. 0 is
// always-on diagnostics (one per failing module, per the engine's
// error-handling policy), higher values are progressively noisier
// tracing.
func Logf(v int, msg string, args ...interface{}) {
	if v <= int(atomic.LoadInt32(&level)) {
		golog.Printf(msg, args...)
	}
}

// Fatalf logs and exits the process. Reserved for CLI-level setup
// failures (bad flags, unreadable stdin), never for per-module errors,
// which are absorbed rather than fatal.
func Fatalf(msg string, args ...interface{}) {
	golog.Fatalf(msg, args...)
}
