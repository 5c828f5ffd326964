// Copyright 2026 Faultline authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package symtab

import (
	"github.com/blacktop/go-macho/pkg/swift"
	"github.com/ianlancetaylor/demangle"
)

// demangleName tries, in order, Itanium C++ and Rust (legacy and v0)
// via ianlancetaylor/demangle, then Swift via blacktop/go-macho's swift
// package. A name none of them recognize is returned unchanged.
func demangleName(name string) string {
	if out, err := demangle.ToString(name); err == nil && out != name {
		return out
	}
	if out, err := swift.Demangle(name); err == nil && out != "" {
		return out
	}
	return name
}
