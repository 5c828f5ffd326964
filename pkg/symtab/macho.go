// Copyright 2026 Faultline authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package symtab

import (
	"fmt"
	"runtime"
	"sort"
	"strings"

	macho "github.com/blacktop/go-macho"
	"github.com/blacktop/go-macho/types"

	dwf "github.com/blacktop/go-dwarf"
)

// machoModule is the parsed state for a Mach-O module: either a thin
// file carrying its own DWARF (a dSYM bundle, or a non-stripped binary
// with a __DWARF segment), or one resolved from stabs (N_OSO/N_FUN)
// naming the .o files a release binary was linked from without a
// dSYM being generated.
type machoModule struct {
	table    *SymbolTable
	dw       *dwf.Data
	dieRefs  []dwf.Offset
	stabs    []machoStabFunc // sorted by Start; used when dw == nil
	resolver osoResolver
}

// machoStabFunc is one N_FUN run: the function's address range in the
// host binary and the object file + local symbol name its debug info
// should be looked up under.
type machoStabFunc struct {
	start, end uint64
	name       string
	osoPath    string
}

// osoResolver resolves (file, line) for a function name inside a
// stabs-referenced .o file. The module cache supplies this so each
// referenced object file is parsed at most once; it is nil until
// wired up by the cache.
type osoResolver func(osoPath, funcName string) (file string, line int, ok bool)

func openMachO(path string, resolver osoResolver) (*machoModule, error) {
	fat, err := macho.OpenFat(path)
	if err == nil {
		defer fat.Close()
		f, ferr := selectFatArch(fat)
		if ferr != nil {
			return nil, ferr
		}
		return buildMachOModule(f, resolver)
	}
	if err != macho.ErrNotFat {
		return nil, fmt.Errorf("%w: %v", ErrIOError, err)
	}
	f, err := macho.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedObject, err)
	}
	defer f.Close()
	return buildMachOModule(f, resolver)
}

// selectFatArch picks the slice matching the running host's CPU type;
// among several slices of that type the widest (highest) subtype wins.
// The host's own subtype is not consulted. It is the tie-break original tooling used
// host-arch cfg checks for; here that becomes a runtime.GOARCH switch.
func selectFatArch(fat *macho.FatFile) (*macho.File, error) {
	want := hostCPUType()
	var best *macho.File
	var bestSub types.CPUSubtype
	for _, a := range fat.Arches {
		if a.CPU != want {
			continue
		}
		if best == nil || a.SubCPU > bestSub {
			best = a.File
			bestSub = a.SubCPU
		}
	}
	if best != nil {
		return best, nil
	}
	if len(fat.Arches) == 0 {
		return nil, fmt.Errorf("%w: empty fat archive", ErrMalformedObject)
	}
	return nil, ErrArchUnavailable
}

func hostCPUType() types.CPU {
	switch runtime.GOARCH {
	case "amd64":
		return types.CPUAmd64
	case "386":
		return types.CPU386
	case "arm64":
		return types.CPUArm64
	case "arm":
		return types.CPUArm
	default:
		return 0
	}
}

func buildMachOModule(f *macho.File, resolver osoResolver) (*machoModule, error) {
	if dw, err := f.DWARF(); err == nil && dw != nil {
		m, err := buildMachODWARFModule(dw)
		if err == nil {
			return m, nil
		}
	}
	if f.Symtab == nil {
		return nil, fmt.Errorf("%w: no symbol table and no DWARF", ErrMissingDebugInfo)
	}
	stabs := machoStabsFromSymtab(f.Symtab.Syms)
	if len(stabs) == 0 {
		return nil, fmt.Errorf("%w: no stabs debug records", ErrMissingDebugInfo)
	}
	return &machoModule{stabs: stabs, resolver: resolver}, nil
}

// buildMachODWARFModule mirrors buildELFModule's compile-unit and
// subprogram walk, against go-dwarf instead of the stdlib debug/dwarf
// package; the two expose matching Tag/Attr constants and Reader,
// LineReader and Ranges methods.
func buildMachODWARFModule(dw *dwf.Data) (*machoModule, error) {
	cus, err := machoCompileUnits(dw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedObject, err)
	}

	files := &FileTable{}
	var rows []LineRow
	var funcs []FuncEntry
	var dieOffsets []dwf.Offset

	for _, cu := range cus {
		if lr, err := dw.LineReader(cu); err == nil && lr != nil {
			var entry dwf.LineEntry
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

		subs, err := machoSubprograms(dw, cu)
		if err != nil {
			continue
		}
		for _, s := range subs {
			funcs = append(funcs, FuncEntry{Start: s.low, Size: s.high - s.low, Name: machoSubprogramName(dw, s.entry)})
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
	sortedDies := make([]dwf.Offset, 0, len(funcs))
	for _, idx := range order {
		if n := len(sortedFuncs); n > 0 && sortedFuncs[n-1].Start == funcs[idx].Start {
			sortedFuncs[n-1] = funcs[idx]
			sortedDies[n-1] = dieOffsets[idx]
			continue
		}
		sortedFuncs = append(sortedFuncs, funcs[idx])
		sortedDies = append(sortedDies, dieOffsets[idx])
	}

	return &machoModule{
		table: &SymbolTable{
			Backend:   BackendMachO,
			Functions: sortedFuncs,
			Lines:     &LineTable{Files: files, Rows: rows},
		},
		dw:      dw,
		dieRefs: sortedDies,
	}, nil
}

type machoSubRange struct {
	low, high uint64
	entry     *dwf.Entry
}

func machoCompileUnits(dw *dwf.Data) ([]*dwf.Entry, error) {
	var cus []*dwf.Entry
	r := dw.Reader()
	for {
		entry, err := r.Next()
		if err != nil {
			return nil, err
		}
		if entry == nil {
			break
		}
		if entry.Tag == dwf.TagCompileUnit {
			cus = append(cus, entry)
		}
		r.SkipChildren()
	}
	return cus, nil
}

func machoSubprograms(dw *dwf.Data, cu *dwf.Entry) ([]machoSubRange, error) {
	var subs []machoSubRange
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
		if entry.Tag == dwf.TagSubprogram {
			if ranges, err := dw.Ranges(entry); err == nil {
				for _, rng := range ranges {
					subs = append(subs, machoSubRange{low: rng[0], high: rng[1], entry: entry})
				}
			}
		}
		if entry.Children {
			r.SkipChildren()
		}
	}
	return subs, nil
}

func machoSubprogramName(dw *dwf.Data, entry *dwf.Entry) string {
	if name, ok := entry.Val(dwf.AttrLinkageName).(string); ok {
		return demangleName(name)
	}
	if name, ok := entry.Val(dwf.AttrName).(string); ok {
		return name
	}
	return fmt.Sprintf("func_%x", entry.Offset)
}

// machoStabsFromSymtab walks the symbol table in file order. An N_OSO
// record names the .o file the symbols following it (until the next
// N_OSO) were compiled from; within that run, an N_FUN record with a
// non-empty name opens a function at its Value address. The N_FUN with
// an empty name that follows carries the function's size in its Value
// and closes it at start+size; a later named N_FUN or N_OSO closes any
// function still open at that record's address.
func machoStabsFromSymtab(syms []macho.Symbol) []machoStabFunc {
	var out []machoStabFunc
	var osoPath string
	var open *machoStabFunc
	closeOpen := func(end uint64) {
		if open != nil {
			open.end = end
			out = append(out, *open)
			open = nil
		}
	}
	for _, s := range syms {
		if !s.Type.IsDebugSym() {
			continue
		}
		if uint8(s.Type) == types.N_OSO {
			closeOpen(s.Value)
			osoPath = s.Name
			continue
		}
		if uint8(s.Type) == types.N_FUN {
			if s.Name == "" {
				if open != nil {
					closeOpen(open.start + s.Value)
				}
				continue
			}
			closeOpen(s.Value)
			open = &machoStabFunc{start: s.Value, name: s.Name, osoPath: osoPath}
		}
	}
	closeOpen(^uint64(0))
	sort.Slice(out, func(i, j int) bool { return out[i].start < out[j].start })
	return out
}

func (m *machoModule) Lookup(offset uint64) (Resolution, bool) {
	if m.table != nil {
		return m.lookupDWARF(offset)
	}
	idx := sort.Search(len(m.stabs), func(i int) bool { return m.stabs[i].start > offset })
	if idx == 0 {
		return Resolution{}, false
	}
	fn := m.stabs[idx-1]
	if offset < fn.start || offset >= fn.end {
		return Resolution{}, false
	}
	bare := strings.TrimPrefix(fn.name, "_")
	res := Resolution{Function: demangleName(bare), Backend: BackendMachO}
	if m.resolver != nil && fn.osoPath != "" {
		if file, line, ok := m.resolver(fn.osoPath, bare); ok {
			res.File, res.Line = file, line
		}
	}
	return res, true
}

func (m *machoModule) lookupDWARF(offset uint64) (Resolution, bool) {
	idx := sort.Search(len(m.table.Functions), func(i int) bool {
		return m.table.Functions[i].Start > offset
	})
	if idx == 0 || !m.table.Functions[idx-1].contains(offset) {
		return Resolution{}, false
	}
	fn := m.table.Functions[idx-1]
	name := m.innermostName(m.dieRefs[idx-1], offset, fn.Name)

	res := Resolution{Function: name, Backend: BackendMachO}
	if row, ok := m.table.Lines.lookup(offset); ok && fn.contains(row.Offset) {
		res.File = m.table.Lines.Files.get(row.FileID)
		res.Line = row.Line
	}
	return res, true
}

func (m *machoModule) innermostName(dieOff dwf.Offset, offset uint64, fallback string) string {
	r := m.dw.Reader()
	r.Seek(dieOff)
	entry, err := r.Next()
	if err != nil || entry == nil || !entry.Children {
		return fallback
	}
	name, ok := findMachOInnermostInline(m.dw, r, offset)
	if !ok {
		return fallback
	}
	return name
}

func findMachOInnermostInline(dw *dwf.Data, r *dwf.Reader, offset uint64) (string, bool) {
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
		if entry.Tag == dwf.TagInlinedSubroutine {
			name := machoInlineOriginName(dw, entry)
			if entry.Children {
				if inner, ok := findMachOInnermostInline(dw, r, offset); ok {
					return inner, true
				}
			}
			best, found = name, true
			continue
		}
		if entry.Children {
			if inner, ok := findMachOInnermostInline(dw, r, offset); ok {
				return inner, true
			}
		}
	}
	return best, found
}

func machoInlineOriginName(dw *dwf.Data, entry *dwf.Entry) string {
	ref, ok := entry.Val(dwf.AttrAbstractOrigin).(dwf.Offset)
	if !ok {
		if name, ok := entry.Val(dwf.AttrName).(string); ok {
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
	return machoSubprogramName(dw, origin)
}
