// Copyright 2026 Faultline authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package symtab

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Every module-load failure is absorbed into one
// of these (or MalformedLineError) and converted to a sticky failed
// ModuleRecord; none of them ever escape past the cache.
var (
	ErrIOError                = errors.New("io error")
	ErrUnknownFormat          = errors.New("unknown format")
	ErrMalformedObject        = errors.New("malformed object")
	ErrMissingDebugInfo       = errors.New("missing debug info")
	ErrUnsupportedCompression = errors.New("unsupported debug section compression")
	ErrPDBNotFound            = errors.New("pdb not found")
	ErrPDBMismatch            = errors.New("pdb guid/age mismatch")
	ErrArchUnavailable        = errors.New("no matching architecture slice")
	ErrMissingStabsTarget     = errors.New("stabs-referenced object file unavailable")
)

// MalformedLineError abandons a Breakpad file at line N; the partial
// parse up to that point is discarded, not cached.
type MalformedLineError struct {
	Line int
	Err  error
}

func (e *MalformedLineError) Error() string {
	return fmt.Sprintf("malformed line %d: %v", e.Line, e.Err)
}

func (e *MalformedLineError) Unwrap() error { return e.Err }
