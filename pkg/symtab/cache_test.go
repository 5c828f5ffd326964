// Copyright 2026 Faultline authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package symtab

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

const cacheFixture = `MODULE Linux x86_64 000000000000000000000000000000000 example
FILE 0 example.c
FUNC 1000 30 0 main
1000 10 24 0
`

func writeCacheFixture(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(cacheFixture), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestCacheResolveCachesAcrossQueries(t *testing.T) {
	dir := t.TempDir()
	path := writeCacheFixture(t, dir, "example-linux")
	c := NewCache(RemapRule{})

	res, ok := c.Resolve(path, 0x1005)
	if !ok || res.Function != "main" {
		t.Fatalf("first Resolve = %+v, %v", res, ok)
	}
	res2, ok2 := c.Resolve(path, 0x1005)
	if !ok2 || res2 != res {
		t.Fatalf("second Resolve = %+v, %v; want identical to first (idempotence)", res2, ok2)
	}
}

func TestCacheResolveConcurrentAtMostOnceParse(t *testing.T) {
	dir := t.TempDir()
	path := writeCacheFixture(t, dir, "example-linux")
	c := NewCache(RemapRule{})

	var wg sync.WaitGroup
	results := make([]Resolution, 32)
	oks := make([]bool, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], oks[i] = c.Resolve(path, 0x1005)
		}(i)
	}
	wg.Wait()
	for i := range results {
		if !oks[i] || results[i].Function != "main" {
			t.Errorf("goroutine %d: %+v, %v", i, results[i], oks[i])
		}
	}
}

func TestCacheResolveMissingPathIsNotFound(t *testing.T) {
	c := NewCache(RemapRule{})
	_, ok := c.Resolve("/does/not/exist", 0x1000)
	if ok {
		t.Error("Resolve of a nonexistent path should report NotFound")
	}
}

func TestCacheResolveLocalRemapRetries(t *testing.T) {
	realDir := t.TempDir()
	writeCacheFixture(t, realDir, "example-linux")
	c := NewCache(RemapRule{Dir: realDir})

	// The original path doesn't exist, but its basename does under Dir.
	res, ok := c.Resolve("/build/missing/example-linux", 0x1005)
	if !ok || res.Function != "main" {
		t.Fatalf("remapped Resolve = %+v, %v", res, ok)
	}
}

func TestCacheResolveStickyFailure(t *testing.T) {
	c := NewCache(RemapRule{})
	_, ok1 := c.Resolve("/does/not/exist", 0x1000)
	_, ok2 := c.Resolve("/does/not/exist", 0x2000)
	if ok1 || ok2 {
		t.Error("a failed module should stay NotFound for every later offset query")
	}
}
