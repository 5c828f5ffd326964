// Copyright 2026 Faultline authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package symtab

import (
	"debug/dwarf"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"sort"
)

// elfModule is the parsed state kept alive in the module cache for an
// ELF+DWARF binary. Compile units and subprograms are indexed up front;
// inline chains collapse down to a single (function, file, line)
// Resolution rather than a frame stack.
type elfModule struct {
	table      *SymbolTable
	dw         *dwarf.Data
	dieOffsets []dwarf.Offset // parallel to table.Functions
	fallback   []elf.Symbol   // sorted by Value, function symbols only
}

// buildELFModule does the actual parse against any io.ReaderAt. cache.go
// opens the path itself (it already needs the open file to read the
// format-probe header) and passes that file straight in here, so tests
// can exercise the same entry point with an in-memory fixture via
// bytes.Reader without touching the filesystem.
func buildELFModule(r io.ReaderAt) (*elfModule, error) {
	ef, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedObject, err)
	}
	defer ef.Close()

	dw, err := ef.DWARF()
	if err != nil {
		// debug/elf.File.DWARF only fails this way for two reasons: the
		// .debug_info section is absent or too short to sniff a version
		// from (a dwarf.DecodeError), or a present section carries a
		// compression type debug/elf can't decompress. Telling those
		// apart is what lets a stripped binary and one whose .debug_info
		// uses an unsupported compression type surface as distinct error
		// kinds.
		var de dwarf.DecodeError
		if errors.As(err, &de) {
			return nil, fmt.Errorf("%w: %v", ErrMissingDebugInfo, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedCompression, err)
	}

	syms, _ := ef.Symbols()
	fallback := elfFunctionSymbols(syms)

	m := &elfModule{dw: dw, fallback: fallback}
	cus, err := elfCompileUnits(dw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedObject, err)
	}

	files := &FileTable{}
	var rows []LineRow
	var funcs []FuncEntry
	var dieOffsets []dwarf.Offset

	for _, cu := range cus {
		lr, err := dw.LineReader(cu)
		if err == nil && lr != nil {
			var entry dwarf.LineEntry
			for {
				if err := lr.Next(&entry); err != nil {
					break
				}
				if entry.EndSequence {
					continue
				}
				fileID := files.add(entry.File.Name)
				rows = append(rows, LineRow{Offset: entry.Address, FileID: fileID, Line: entry.Line})
			}
		}

		subs, err := elfSubprograms(dw, cu)
		if err != nil {
			continue
		}
		for _, s := range subs {
			name := elfSubprogramName(dw, s.entry)
			funcs = append(funcs, FuncEntry{Start: s.low, Size: s.high - s.low, Name: name})
			dieOffsets = append(dieOffsets, s.entry.Offset)
		}
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Offset < rows[j].Offset })

	order := make([]int, len(funcs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return funcs[order[i]].Start < funcs[order[j]].Start })
	sortedFuncs := make([]FuncEntry, 0, len(funcs))
	sortedDies := make([]dwarf.Offset, 0, len(funcs))
	for _, idx := range order {
		if n := len(sortedFuncs); n > 0 && sortedFuncs[n-1].Start == funcs[idx].Start {
			sortedFuncs[n-1] = funcs[idx]
			sortedDies[n-1] = dieOffsets[idx]
			continue
		}
		sortedFuncs = append(sortedFuncs, funcs[idx])
		sortedDies = append(sortedDies, dieOffsets[idx])
	}

	m.table = &SymbolTable{
		Backend:   BackendELF,
		Functions: sortedFuncs,
		Lines:     &LineTable{Files: files, Rows: rows},
	}
	m.dieOffsets = sortedDies
	return m, nil
}

func elfFunctionSymbols(syms []elf.Symbol) []elf.Symbol {
	var out []elf.Symbol
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) == elf.STT_FUNC && s.Name != "" {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out
}

type elfSubRange struct {
	low, high uint64
	entry     *dwarf.Entry
}

func elfCompileUnits(dw *dwarf.Data) ([]*dwarf.Entry, error) {
	var cus []*dwarf.Entry
	r := dw.Reader()
	for {
		entry, err := r.Next()
		if err != nil {
			return nil, err
		}
		if entry == nil {
			break
		}
		if entry.Tag == dwarf.TagCompileUnit {
			cus = append(cus, entry)
		}
		r.SkipChildren()
	}
	return cus, nil
}

func elfSubprograms(dw *dwarf.Data, cu *dwarf.Entry) ([]elfSubRange, error) {
	var subs []elfSubRange
	r := dw.Reader()
	r.Seek(cu.Offset)
	if _, err := r.Next(); err != nil {
		return nil, err
	}
	for {
		entry, err := r.Next()
		if err != nil {
			return nil, err
		}
		if entry == nil || entry.Tag == 0 {
			break
		}
		if entry.Tag == dwarf.TagSubprogram {
			if ranges, err := dw.Ranges(entry); err == nil {
				for _, rng := range ranges {
					subs = append(subs, elfSubRange{low: rng[0], high: rng[1], entry: entry})
				}
			}
		}
		if entry.Children {
			r.SkipChildren()
		}
	}
	return subs, nil
}

func elfSubprogramName(dw *dwarf.Data, entry *dwarf.Entry) string {
	if name, ok := entry.Val(dwarf.AttrLinkageName).(string); ok {
		return demangleName(name)
	}
	if name, ok := entry.Val(dwarf.AttrName).(string); ok {
		return name
	}
	return fmt.Sprintf("func_%x", entry.Offset)
}

// Lookup implements the Backend contract's lookup(offset) operation for
// an already-parsed ELF module.
func (m *elfModule) Lookup(offset uint64) (Resolution, bool) {
	idx := sort.Search(len(m.table.Functions), func(i int) bool {
		return m.table.Functions[i].Start > offset
	})
	if idx == 0 || !m.table.Functions[idx-1].contains(offset) {
		return m.fallbackLookup(offset)
	}
	fn := m.table.Functions[idx-1]
	name := m.innermostName(m.dieOffsets[idx-1], offset, fn.Name)

	res := Resolution{Function: name, Backend: BackendELF}
	if row, ok := m.table.Lines.lookup(offset); ok && fn.contains(row.Offset) {
		res.File = m.table.Lines.Files.get(row.FileID)
		res.Line = row.Line
	}
	return res, true
}

// innermostName walks the DWARF children of the subprogram at dieOff,
// looking for the innermost DW_TAG_inlined_subroutine covering offset;
// inline frames collapse to the innermost function's name.
func (m *elfModule) innermostName(dieOff dwarf.Offset, offset uint64, fallback string) string {
	r := m.dw.Reader()
	r.Seek(dieOff)
	entry, err := r.Next()
	if err != nil || entry == nil || !entry.Children {
		return fallback
	}
	name, ok := findInnermostInline(m.dw, r, offset)
	if !ok {
		return fallback
	}
	return name
}

func findInnermostInline(dw *dwarf.Data, r *dwarf.Reader, offset uint64) (string, bool) {
	best := ""
	found := false
	for {
		entry, err := r.Next()
		if err != nil || entry == nil || entry.Tag == 0 {
			break
		}
		covers := false
		if ranges, err := dw.Ranges(entry); err == nil {
			for _, rng := range ranges {
				if offset >= rng[0] && offset < rng[1] {
					covers = true
					break
				}
			}
		}
		if !covers {
			if entry.Children {
				r.SkipChildren()
			}
			continue
		}
		if entry.Tag == dwarf.TagInlinedSubroutine {
			name := inlineOriginName(dw, entry)
			if entry.Children {
				if inner, ok := findInnermostInline(dw, r, offset); ok {
					return inner, true
				}
			}
			best, found = name, true
			continue
		}
		if entry.Children {
			if inner, ok := findInnermostInline(dw, r, offset); ok {
				return inner, true
			}
		}
	}
	return best, found
}

func inlineOriginName(dw *dwarf.Data, entry *dwarf.Entry) string {
	ref, ok := entry.Val(dwarf.AttrAbstractOrigin).(dwarf.Offset)
	if !ok {
		if name, ok := entry.Val(dwarf.AttrName).(string); ok {
			return name
		}
		return fmt.Sprintf("func_%x", entry.Offset)
	}
	r := dw.Reader()
	r.Seek(ref)
	origin, err := r.Next()
	if err != nil || origin == nil {
		return fmt.Sprintf("func_%x", entry.Offset)
	}
	return elfSubprogramName(dw, origin)
}

func (m *elfModule) fallbackLookup(offset uint64) (Resolution, bool) {
	idx := sort.Search(len(m.fallback), func(i int) bool { return m.fallback[i].Value > offset })
	if idx == 0 {
		return Resolution{}, false
	}
	s := m.fallback[idx-1]
	limit := s.Value + s.Size
	if s.Size == 0 {
		limit = s.Value + 1
		if idx < len(m.fallback) {
			limit = m.fallback[idx].Value
		}
	}
	if offset < s.Value || offset >= limit {
		return Resolution{}, false
	}
	return Resolution{Function: demangleName(s.Name), Backend: BackendELF}, true
}
