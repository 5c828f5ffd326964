// Copyright 2026 Faultline authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package symtab

import (
	"io"
	"os"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/faultline/faultline/internal/symlog"
)

// backend is the common contract every parsed module satisfies once
// format probing and parsing have run.
type backend interface {
	Lookup(offset uint64) (Resolution, bool)
}

// moduleRecord is the immutable outcome of parsing one module: either a
// ready backend or a sticky failure, never both and never mutated after
// the cache installs it.
type moduleRecord struct {
	backend backend
	err     error
}

// Cache ensures each module path is parsed at most once and serves
// every later query for it from memory, including failures. A
// singleflight.Group collapses concurrent first-queries for the same
// path into one parse; a sync.Map holds completed records with no
// eviction for the process lifetime.
type Cache struct {
	group   singleflight.Group
	records sync.Map // ModuleRef -> *moduleRecord
	remap   RemapRule
}

// NewCache builds a module cache. An empty RemapRule disables --local
// style remapping.
func NewCache(remap RemapRule) *Cache {
	return &Cache{remap: remap}
}

// Resolve answers a (module path, offset) query, parsing path's module
// on first reference and reusing the cached record afterward.
func (c *Cache) Resolve(path string, offset uint64) (Resolution, bool) {
	ref := normalizeRef(path)
	if rec, ok := c.records.Load(ref); ok {
		return resolveFromRecord(rec.(*moduleRecord), offset)
	}

	v, _, _ := c.group.Do(string(ref), func() (interface{}, error) {
		if rec, ok := c.records.Load(ref); ok {
			return rec, nil
		}
		rec := c.loadModule(path)
		c.records.Store(ref, rec)
		return rec, nil
	})

	return resolveFromRecord(v.(*moduleRecord), offset)
}

func resolveFromRecord(rec *moduleRecord, offset uint64) (Resolution, bool) {
	if rec.err != nil {
		return Resolution{}, false
	}
	return rec.backend.Lookup(offset)
}

// loadModule probes path's format and dispatches to the matching
// backend, retrying once under --local remap if the direct path does
// not exist.
func (c *Cache) loadModule(path string) *moduleRecord {
	b, err := c.parseModule(path)
	if os.IsNotExist(err) && c.remap.Dir != "" {
		if remapped := c.remap.Apply(path); remapped != "" {
			if b2, err2 := c.parseModule(remapped); err2 == nil {
				b, err = b2, nil
			}
		}
	}
	if err != nil {
		symlog.Logf(0, "faultline: module %s: %v", path, err)
	}
	return &moduleRecord{backend: b, err: err}
}

func (c *Cache) parseModule(path string) (backend, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header := make([]byte, 512)
	n, _ := io.ReadFull(f, header)
	header = header[:n]

	switch probeFormat(header) {
	case probeELF:
		return buildELFModule(f)
	case probePE:
		return c.loadPE(path)
	case probeMachO:
		return openMachO(path, c.resolveOSO)
	case probeBreakpad:
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		return openBreakpad(f)
	default:
		return nil, ErrUnknownFormat
	}
}

// loadPE resolves the PE's CodeView PDB reference to a concrete PDB
// path (same directory as the binary, or under --local) and parses it.
func (c *Cache) loadPE(path string) (backend, error) {
	m, err := openPE(path)
	if err != nil {
		return nil, err
	}
	candidates := []string{joinPath(dirOf(path), basename(m.pdbPath))}
	if c.remap.Dir != "" {
		candidates = append(candidates, c.remap.Apply(m.pdbPath))
	}
	var lastErr error
	for _, cand := range candidates {
		if cand == "" {
			continue
		}
		if err := m.loadPDB(cand); err == nil {
			return m, nil
		} else {
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = ErrPDBNotFound
	}
	return nil, lastErr
}

func dirOf(path string) string {
	idx := lastSlash(path)
	if idx < 0 {
		return ""
	}
	return path[:idx]
}

func lastSlash(path string) int {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return i
		}
	}
	return -1
}

// resolveOSO is the osoResolver a Mach-O stabs module uses to chase a
// function name into the .o file stabs name it: the object file is
// itself parsed through this same cache (keyed by its own path), so
// sibling functions from the same .o only pay that cost once.
func (c *Cache) resolveOSO(osoPath, funcName string) (string, int, bool) {
	ref := normalizeRef(osoPath)
	var rec *moduleRecord
	if r, ok := c.records.Load(ref); ok {
		rec = r.(*moduleRecord)
	} else {
		v, _, _ := c.group.Do(string(ref), func() (interface{}, error) {
			if r, ok := c.records.Load(ref); ok {
				return r, nil
			}
			r := c.loadModule(osoPath)
			c.records.Store(ref, r)
			return r, nil
		})
		rec = v.(*moduleRecord)
	}
	if rec.err != nil {
		symlog.Logf(1, "faultline: %v: %s: %v", ErrMissingStabsTarget, osoPath, rec.err)
		return "", 0, false
	}
	m, ok := rec.backend.(*machoModule)
	if !ok || m.table == nil {
		return "", 0, false
	}
	for i := range m.table.Functions {
		if m.table.Functions[i].Name == funcName {
			fn := m.table.Functions[i]
			if row, ok := m.table.Lines.lookup(fn.Start); ok {
				return m.table.Lines.Files.get(row.FileID), row.Line, true
			}
			return "", 0, false
		}
	}
	return "", 0, false
}
