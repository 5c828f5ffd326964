// Copyright 2026 Faultline authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package symtab

import "testing"

func TestNormalizeSourcePath(t *testing.T) {
	cases := map[string]string{
		"a\\b\\c.c":   "a/b/c.c",
		"a//b///c.c":  "a/b/c.c",
		"/already/ok": "/already/ok",
		"":            "",
	}
	for in, want := range cases {
		if got := normalizeSourcePath(in); got != want {
			t.Errorf("normalizeSourcePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBasename(t *testing.T) {
	cases := map[string]string{
		"/a/b/c.exe":  "c.exe",
		"a\\b\\c.pdb": "c.pdb",
		"c.sym":       "c.sym",
	}
	for in, want := range cases {
		if got := basename(in); got != want {
			t.Errorf("basename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestJoinPath(t *testing.T) {
	if got := joinPath("/opt/syms", "app"); got != "/opt/syms/app" {
		t.Errorf("joinPath = %q", got)
	}
	if got := joinPath("/opt/syms/", "app"); got != "/opt/syms/app" {
		t.Errorf("joinPath with trailing slash = %q", got)
	}
	if got := joinPath("", "app"); got != "app" {
		t.Errorf("joinPath with empty dir = %q", got)
	}
}
