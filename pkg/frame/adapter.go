// Copyright 2026 Faultline authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package frame rewrites stack-trace lines by resolving bracketed
// module/offset frames through a symtab.Cache and substituting the
// resolved function/file/line text in place.
package frame

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/faultline/faultline/pkg/symtab"
)

// frameRe matches the bracketed half of a frame: "[<path> +0x<hex>]".
// The path is any run of non-']' text; the offset is 0x-prefixed hex.
var frameRe = regexp.MustCompile(`\[([^\]]+) \+0x([0-9a-fA-F]+)\]`)

// unresolvedMarker is the placeholder collaborators emit ahead of a
// frame they have not yet symbolized; when present immediately before
// the bracket it is consumed together with it on a successful resolve.
const unresolvedMarker = "???"

// Adapter rewrites frame-bearing lines using a module cache. It holds
// no per-line state and is safe for concurrent use by pkg/frame.Pipeline.
type Adapter struct {
	cache    *symtab.Cache
	json     bool
	breakpad *breakpadResolver
}

// New builds an Adapter over an already-configured cache. jsonMode
// enables the -j escaping of path and function text described in the
// CLI's supplemental JSON mode.
func New(cache *symtab.Cache, jsonMode bool) *Adapter {
	return &Adapter{cache: cache, json: jsonMode}
}

// WithBreakpad switches the adapter into -b mode: every frame path is
// first mapped to its <basename>/<UUID>/<basename>.sym location under
// cfg.Dir before the module cache sees it.
func (a *Adapter) WithBreakpad(cfg BreakpadConfig) *Adapter {
	a.breakpad = newBreakpadResolver(cfg)
	return a
}

// RewriteLine applies the frame-rewrite rule to a single line. Lines
// with no frame substring are returned byte-identical, satisfying the
// passthrough invariant.
func (a *Adapter) RewriteLine(line string) string {
	matches := frameRe.FindAllStringSubmatchIndex(line, -1)
	if matches == nil {
		return line
	}

	var b strings.Builder
	prev := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		path := line[m[2]:m[3]]
		hexOff := line[m[4]:m[5]]

		markerStart := start
		hasMarker := start-len(unresolvedMarker) >= prev &&
			line[start-len(unresolvedMarker):start] == unresolvedMarker
		if hasMarker {
			markerStart = start - len(unresolvedMarker)
		}

		offset, err := strconv.ParseUint(hexOff, 16, 64)
		if err != nil {
			continue // not well-formed hex; leave this frame untouched.
		}

		lookupPath := path
		if a.json {
			lookupPath = jsonUnescape(lookupPath)
		}
		if a.breakpad != nil {
			sym, err := a.breakpad.resolve(lookupPath)
			if err != nil {
				continue // helper failed; best partial rendering is the original text.
			}
			lookupPath = sym
		}

		res, ok := a.cache.Resolve(lookupPath, offset)
		if !ok {
			continue // NotFound: best partial rendering is the original text.
		}

		b.WriteString(line[prev:markerStart])
		b.WriteString(a.render(res))
		prev = end
	}
	b.WriteString(line[prev:])
	return b.String()
}

// render formats a resolved frame per the native/Breakpad output rules:
// the function alone if file or line is unknown, otherwise the
// function followed by a parenthesized (native) or bracketed
// (Breakpad) "file:line" group.
func (a *Adapter) render(res symtab.Resolution) string {
	fn := res.Function
	if fn == "" {
		fn = unresolvedMarker
	}
	if a.json {
		fn = jsonEscape(fn)
	}
	if res.File == "" || res.Line == 0 {
		return fn
	}
	file := res.File
	if a.json {
		file = jsonEscape(file)
	}
	loc := file + ":" + strconv.Itoa(res.Line)
	if res.Backend == symtab.BackendBreakpad {
		return fn + " [" + loc + "]"
	}
	return fn + " (" + loc + ")"
}

// jsonEscape escapes text for embedding inside a JSON string without
// its surrounding quotes, matching the -j/--json boundary convention.
func jsonEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// jsonUnescape is jsonEscape's inverse: it decodes a path matched out of
// a JSON-mode line before that path reaches the module cache, so a frame
// whose path was escaped on the way in (for example a literal quote
// written as \") resolves against the real on-disk name. Malformed
// escapes are left as-is rather than aborting the whole lookup.
func jsonUnescape(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		switch s[i+1] {
		case '"':
			b.WriteByte('"')
		case '\\':
			b.WriteByte('\\')
		case '/':
			b.WriteByte('/')
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		default:
			b.WriteByte(c)
			b.WriteByte(s[i+1])
			i++
			continue
		}
		i++
	}
	return b.String()
}
