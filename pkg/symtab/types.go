// Copyright 2026 Faultline authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package symtab implements the symbolication engine: a cache of opened
// binary modules, parsed lazily on first reference, that answers
// (module path, offset) -> (function, file, line) queries against
// whichever debug info format the module carries.
package symtab

import "sort"

// ModuleRef is the cache key for a binary module, exactly as the path
// arrived in a query. It is deliberately not filepath.Clean'd or
// slash-normalized: two spellings of the same file produce two cache
// entries rather than risk conflating files that only coincidentally
// share an inode. See DESIGN.md ("path normalization" open question).
type ModuleRef string

func normalizeRef(path string) ModuleRef {
	return ModuleRef(path)
}

// Backend tags which parser produced a SymbolTable.
type Backend int

const (
	BackendUnknown Backend = iota
	BackendELF
	BackendPE
	BackendMachO
	BackendBreakpad
)

func (b Backend) String() string {
	switch b {
	case BackendELF:
		return "elf"
	case BackendPE:
		return "pe"
	case BackendMachO:
		return "macho"
	case BackendBreakpad:
		return "breakpad"
	default:
		return "unknown"
	}
}

// FileTable maps small integer ids to normalized source paths.
type FileTable struct {
	paths []string
}

func (ft *FileTable) add(path string) int {
	ft.paths = append(ft.paths, normalizeSourcePath(path))
	return len(ft.paths) - 1
}

func (ft *FileTable) get(id int) string {
	if id < 0 || id >= len(ft.paths) {
		return ""
	}
	return ft.paths[id]
}

// LineRow is one (offset, file, line) sample. Rows in a LineTable are
// sorted by offset; backends do not drop rows that share an offset, and
// lookup then returns one of them.
type LineRow struct {
	Offset uint64
	FileID int
	Line   int
}

// LineTable is the offset-ordered sequence of line samples for one
// module (or one function's slice of it).
type LineTable struct {
	Files *FileTable
	Rows  []LineRow
}

// lookup returns the row covering offset, i.e. the last row whose
// Offset is <= the queried offset, or false if offset precedes every row.
func (lt *LineTable) lookup(offset uint64) (LineRow, bool) {
	if lt == nil || len(lt.Rows) == 0 {
		return LineRow{}, false
	}
	idx := sort.Search(len(lt.Rows), func(i int) bool {
		return lt.Rows[i].Offset > offset
	})
	if idx == 0 {
		return LineRow{}, false
	}
	return lt.Rows[idx-1], true
}

// FuncEntry is one function's address range and identity. Backends that
// carry inline-chain information (Mach-O/ELF DWARF DW_TAG_inlined_subroutine,
// Breakpad INLINE/INLINE_ORIGIN) collapse it to the innermost frame's name
// at Lookup time rather than threading it through FuncEntry: the call chain
// above the innermost frame has no representation in Resolution, so keeping
// it past Lookup would have no reader.
type FuncEntry struct {
	Start uint64
	Size  uint64     // 0 means "unknown extent"; Start+Size never wraps.
	Name  string     // already demangled where the backend can demangle.
	Lines *LineTable // nil if the backend has no per-function line info.
}

func (f *FuncEntry) contains(offset uint64) bool {
	if f.Size == 0 {
		return offset == f.Start
	}
	return offset >= f.Start && offset < f.Start+f.Size
}

// SymbolTable is a fully parsed module: its function intervals (sorted,
// non-overlapping, half-open) and an optional module-wide line table.
// The backends' Lookup methods read only this module-wide table; none
// of them consults FuncEntry.Lines.
type SymbolTable struct {
	Backend   Backend
	Functions []FuncEntry // sorted by Start, deduplicated by Start.
	Lines     *LineTable  // module-wide fallback, may be nil.
}

// FuncAt returns the innermost FuncEntry containing offset, if any.
func (st *SymbolTable) FuncAt(offset uint64) *FuncEntry {
	if st == nil || len(st.Functions) == 0 {
		return nil
	}
	idx := sort.Search(len(st.Functions), func(i int) bool {
		return st.Functions[i].Start > offset
	})
	if idx == 0 {
		return nil
	}
	f := &st.Functions[idx-1]
	if f.contains(offset) {
		return f
	}
	return nil
}

// sortFunctions sorts and dedups by Start, keeping the last of any
// duplicate (matches how Breakpad "m" multi-symbol lines and Mach-O OSO
// merges are expected to resolve ties: last write wins).
func sortFunctions(fns []FuncEntry) []FuncEntry {
	sort.SliceStable(fns, func(i, j int) bool { return fns[i].Start < fns[j].Start })
	out := fns[:0:0]
	for i, f := range fns {
		if i > 0 && f.Start == out[len(out)-1].Start {
			out[len(out)-1] = f
			continue
		}
		out = append(out, f)
	}
	return out
}

// Resolution is what the façade returns for a successful or partial
// lookup. Any field may be zero/empty; callers render "???" or omit the
// trailing group accordingly.
type Resolution struct {
	Function string
	File     string
	Line     int
	Backend  Backend
}

// RemapRule is the optional --local policy: retry a missing module path
// under a fixed directory, keyed by basename.
type RemapRule struct {
	Dir string
}

// Apply returns the remapped path for name if dir is set and non-empty;
// the caller decides whether to actually use it (existence is checked
// by the Cache when it opens the remapped path, not here).
func (r RemapRule) Apply(name string) string {
	if r.Dir == "" {
		return ""
	}
	return joinPath(r.Dir, basename(name))
}
