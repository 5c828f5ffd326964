// Copyright 2026 Faultline authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package symtab

import (
	"strings"
	"testing"
)

const sampleSym = `MODULE Linux x86_64 000102030405060708090A0B0C0D0E0F0 example
FILE 0 /build/example.c
FUNC 1000 30 0 main
1000 10 24 0
1010 10 25 0
FUNC 2000 10 0 f
2000 10 18 0
PUBLIC 3000 0 helper
`

func TestOpenBreakpadResolvesFuncAndLine(t *testing.T) {
	m, err := openBreakpad(strings.NewReader(sampleSym))
	if err != nil {
		t.Fatalf("openBreakpad: %v", err)
	}
	res, ok := m.Lookup(0x1005)
	if !ok {
		t.Fatal("expected a match inside main")
	}
	if res.Function != "main" || res.File != "/build/example.c" || res.Line != 24 {
		t.Errorf("got %+v", res)
	}
	if res.Backend != BackendBreakpad {
		t.Errorf("Backend = %v, want BackendBreakpad", res.Backend)
	}
}

func TestOpenBreakpadFallsBackToPublic(t *testing.T) {
	m, err := openBreakpad(strings.NewReader(sampleSym))
	if err != nil {
		t.Fatalf("openBreakpad: %v", err)
	}
	res, ok := m.Lookup(0x3000)
	if !ok || res.Function != "helper" {
		t.Errorf("Lookup(PUBLIC) = %+v, %v", res, ok)
	}
}

func TestOpenBreakpadMissingModuleLineErrors(t *testing.T) {
	_, err := openBreakpad(strings.NewReader("FUNC 0 10 0 f\n"))
	if err == nil {
		t.Fatal("expected an error for a file with no MODULE line")
	}
}

func TestOpenBreakpadMalformedLineAbandonsFile(t *testing.T) {
	bad := "MODULE Linux x86_64 0 example\nFUNC zzz 10 0 f\n"
	_, err := openBreakpad(strings.NewReader(bad))
	if err == nil {
		t.Fatal("expected a malformed line error")
	}
	if _, ok := err.(*MalformedLineError); !ok {
		t.Errorf("expected *MalformedLineError, got %T: %v", err, err)
	}
}

const sampleSymWithInline = `MODULE Linux x86_64 000102030405060708090A0B0C0D0E0F0 example
FILE 0 /build/example.c
INLINE_ORIGIN 0 outer_inlined
INLINE_ORIGIN 1 inner_inlined
FUNC 1000 100 0 main
1000 10 10 0
1010 10 11 0
1020 10 12 0
INLINE 0 11 0 0 1010 10
INLINE 1 12 0 1 1018 8
`

func TestOpenBreakpadInlineResolvesInnermostOrigin(t *testing.T) {
	m, err := openBreakpad(strings.NewReader(sampleSymWithInline))
	if err != nil {
		t.Fatalf("openBreakpad: %v", err)
	}
	// Outside any INLINE range: resolves to the enclosing FUNC.
	if res, ok := m.Lookup(0x1005); !ok || res.Function != "main" {
		t.Errorf("Lookup(0x1005) = %+v, %v, want main", res, ok)
	}
	// Inside the depth-0 range but before the nested depth-1 range starts.
	if res, ok := m.Lookup(0x1012); !ok || res.Function != "outer_inlined" {
		t.Errorf("Lookup(0x1012) = %+v, %v, want outer_inlined", res, ok)
	}
	// Inside the nested depth-1 range: the deeper INLINE wins.
	if res, ok := m.Lookup(0x101a); !ok || res.Function != "inner_inlined" {
		t.Errorf("Lookup(0x101a) = %+v, %v, want inner_inlined", res, ok)
	}
}

func TestStripBreakpadFirefoxJunk(t *testing.T) {
	rev := strings.Repeat("a", 40)
	in := "hg:hg.mozilla.org/integration/autoland:caps/BasePrincipal.cpp:" + rev
	if got := stripBreakpadFirefoxJunk(in); got != "caps/BasePrincipal.cpp" {
		t.Errorf("stripBreakpadFirefoxJunk = %q", got)
	}
	// A plain path with no "hg:" scheme is left alone.
	if got := stripBreakpadFirefoxJunk("plain/path.c"); got != "plain/path.c" {
		t.Errorf("stripBreakpadFirefoxJunk(plain) = %q", got)
	}
	// Wrong scheme, missing hg.mozilla.org host, bad revision length, or a
	// trailing fifth segment all fail to match and pass the path through.
	if got := stripBreakpadFirefoxJunk("svn:example.com/repo:file.c:" + rev); got != "svn:example.com/repo:file.c:"+rev {
		t.Errorf("stripBreakpadFirefoxJunk(wrong scheme) = %q", got)
	}
	if got := stripBreakpadFirefoxJunk("hg:example.com/repo:file.c:" + rev); got != "hg:example.com/repo:file.c:"+rev {
		t.Errorf("stripBreakpadFirefoxJunk(wrong host) = %q", got)
	}
	if got := stripBreakpadFirefoxJunk("hg:hg.mozilla.org/x:file.c:" + rev[:10]); got != "hg:hg.mozilla.org/x:file.c:"+rev[:10] {
		t.Errorf("stripBreakpadFirefoxJunk(short rev) = %q", got)
	}
	if got := stripBreakpadFirefoxJunk("hg:hg.mozilla.org/x:file.c:" + rev + ":extra"); got != "hg:hg.mozilla.org/x:file.c:"+rev+":extra" {
		t.Errorf("stripBreakpadFirefoxJunk(extra segment) = %q", got)
	}
}
