// Copyright 2026 Faultline authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package symtab

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// breakpadModule is the parsed state for a Breakpad-style .sym file:
// FUNC-bounded line tables plus a PUBLIC fallback, both sorted by
// address once the whole file has been consumed.
type breakpadModule struct {
	funcs    []FuncEntry
	lines    *LineTable
	inlines  []breakpadInline // sorted by start
	fallback []breakpadPublic
}

type breakpadPublic struct {
	addr uint64
	name string
}

type breakpadFunc struct {
	start, size uint64
	name        string
	lines       []LineRow // offsets are absolute, not function-relative
}

// breakpadInline is one address range an INLINE record attributes to an
// INLINE_ORIGIN name. Ranges nest; Lookup picks the deepest one covering
// an offset so inline chains collapse to their innermost frame, the same
// rule the DWARF backends apply to DW_TAG_inlined_subroutine chains.
type breakpadInline struct {
	start, size uint64
	name        string
	depth       int
}

type breakpadParseState struct {
	files     *FileTable
	fileByID  map[int]int // breakpad FILE id -> FileTable id
	origins   map[int]string
	funcs     []breakpadFunc
	cur       *breakpadFunc
	inlines   []breakpadInline
	fallbacks []breakpadPublic
	sawModule bool
}

func openBreakpad(r io.Reader) (*breakpadModule, error) {
	st := &breakpadParseState{
		files:    &FileTable{},
		fileByID: make(map[int]int),
		origins:  make(map[int]string),
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if err := st.parseLine(trimmed); err != nil {
			return nil, &MalformedLineError{Line: lineNo, Err: err}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIOError, err)
	}
	if !st.sawModule {
		return nil, fmt.Errorf("%w: missing MODULE line", ErrMalformedObject)
	}
	return st.build(), nil
}

func (st *breakpadParseState) parseLine(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	switch fields[0] {
	case "MODULE":
		st.sawModule = true
		return nil
	case "FILE":
		return st.parseFile(fields)
	case "INLINE_ORIGIN":
		return st.parseInlineOrigin(fields)
	case "FUNC":
		return st.parseFunc(fields)
	case "INLINE":
		return st.parseInline(fields)
	case "PUBLIC":
		return st.parsePublic(fields)
	case "STACK", "CFI":
		return nil
	default:
		if _, err := strconv.ParseUint(fields[0], 16, 64); err == nil {
			return st.parseLineRecord(fields)
		}
		return nil // unrecognized directive; ignored rather than fatal.
	}
}

func (st *breakpadParseState) parseFile(fields []string) error {
	if len(fields) < 3 {
		return fmt.Errorf("FILE record needs an id and a path")
	}
	id, err := strconv.Atoi(fields[1])
	if err != nil {
		return fmt.Errorf("bad FILE id %q: %w", fields[1], err)
	}
	path := strings.Join(fields[2:], " ")
	path = stripBreakpadFirefoxJunk(path)
	st.fileByID[id] = st.files.add(path)
	return nil
}

func (st *breakpadParseState) parseInlineOrigin(fields []string) error {
	if len(fields) < 3 {
		return fmt.Errorf("INLINE_ORIGIN record needs an id and a name")
	}
	id, err := strconv.Atoi(fields[1])
	if err != nil {
		return fmt.Errorf("bad INLINE_ORIGIN id %q: %w", fields[1], err)
	}
	st.origins[id] = strings.Join(fields[2:], " ")
	return nil
}

// parseInline reads "INLINE <depth> <call_line> <call_file> <origin_id>
// <address> <size> [<address> <size> ...]": one or more ranges inlined
// from the named origin, at the given nest depth.
func (st *breakpadParseState) parseInline(fields []string) error {
	if len(fields) < 7 || len(fields)%2 != 1 {
		return fmt.Errorf("INLINE record missing fields")
	}
	depth, err := strconv.Atoi(fields[1])
	if err != nil {
		return fmt.Errorf("bad INLINE depth %q: %w", fields[1], err)
	}
	originID, err := strconv.Atoi(fields[4])
	if err != nil {
		return fmt.Errorf("bad INLINE origin id %q: %w", fields[4], err)
	}
	name, ok := st.origins[originID]
	if !ok {
		return fmt.Errorf("INLINE references unknown origin id %d", originID)
	}
	for i := 5; i+1 < len(fields); i += 2 {
		addr, err := strconv.ParseUint(fields[i], 16, 64)
		if err != nil {
			return fmt.Errorf("bad INLINE address %q: %w", fields[i], err)
		}
		size, err := strconv.ParseUint(fields[i+1], 16, 64)
		if err != nil {
			return fmt.Errorf("bad INLINE size %q: %w", fields[i+1], err)
		}
		st.inlines = append(st.inlines, breakpadInline{start: addr, size: size, name: name, depth: depth})
	}
	return nil
}

func (st *breakpadParseState) parseFunc(fields []string) error {
	idx := 1
	if idx < len(fields) && fields[idx] == "m" {
		idx++
	}
	if len(fields)-idx < 4 {
		return fmt.Errorf("FUNC record missing fields")
	}
	addr, err := strconv.ParseUint(fields[idx], 16, 64)
	if err != nil {
		return fmt.Errorf("bad FUNC address %q: %w", fields[idx], err)
	}
	size, err := strconv.ParseUint(fields[idx+1], 16, 64)
	if err != nil {
		return fmt.Errorf("bad FUNC size %q: %w", fields[idx+1], err)
	}
	name := strings.Join(fields[idx+3:], " ")
	st.funcs = append(st.funcs, breakpadFunc{start: addr, size: size, name: name})
	st.cur = &st.funcs[len(st.funcs)-1]
	return nil
}

func (st *breakpadParseState) parseLineRecord(fields []string) error {
	if st.cur == nil {
		return fmt.Errorf("line record outside of any FUNC")
	}
	if len(fields) < 4 {
		return fmt.Errorf("line record missing fields")
	}
	addr, err := strconv.ParseUint(fields[0], 16, 64)
	if err != nil {
		return fmt.Errorf("bad line address %q: %w", fields[0], err)
	}
	lineNum, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return fmt.Errorf("bad line number %q: %w", fields[2], err)
	}
	fileID, err := strconv.Atoi(fields[3])
	if err != nil {
		return fmt.Errorf("bad line file id %q: %w", fields[3], err)
	}
	id, ok := st.fileByID[fileID]
	if !ok {
		return fmt.Errorf("line record references unknown file id %d", fileID)
	}
	st.cur.lines = append(st.cur.lines, LineRow{Offset: addr, FileID: id, Line: int(lineNum)})
	return nil
}

func (st *breakpadParseState) parsePublic(fields []string) error {
	idx := 1
	if idx < len(fields) && fields[idx] == "m" {
		idx++
	}
	if len(fields)-idx < 3 {
		return fmt.Errorf("PUBLIC record missing fields")
	}
	addr, err := strconv.ParseUint(fields[idx], 16, 64)
	if err != nil {
		return fmt.Errorf("bad PUBLIC address %q: %w", fields[idx], err)
	}
	name := strings.Join(fields[idx+2:], " ")
	st.fallbacks = append(st.fallbacks, breakpadPublic{addr: addr, name: name})
	return nil
}

func (st *breakpadParseState) build() *breakpadModule {
	funcs := make([]FuncEntry, 0, len(st.funcs))
	var rows []LineRow
	for _, f := range st.funcs {
		sort.Slice(f.lines, func(i, j int) bool { return f.lines[i].Offset < f.lines[j].Offset })
		funcs = append(funcs, FuncEntry{Start: f.start, Size: f.size, Name: f.name})
		rows = append(rows, f.lines...)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Offset < rows[j].Offset })
	sort.Slice(st.inlines, func(i, j int) bool { return st.inlines[i].start < st.inlines[j].start })
	sort.Slice(st.fallbacks, func(i, j int) bool { return st.fallbacks[i].addr < st.fallbacks[j].addr })
	return &breakpadModule{
		funcs:    sortFunctions(funcs),
		lines:    &LineTable{Files: st.files, Rows: rows},
		inlines:  st.inlines,
		fallback: st.fallbacks,
	}
}

// innermostInlineName returns the deepest INLINE range's origin name
// covering offset, if any.
func (m *breakpadModule) innermostInlineName(offset uint64) (string, bool) {
	name, found, bestDepth := "", false, -1
	for _, in := range m.inlines {
		if in.start > offset {
			break
		}
		if offset >= in.start && offset < in.start+in.size && in.depth > bestDepth {
			name, found, bestDepth = in.name, true, in.depth
		}
	}
	return name, found
}

func (m *breakpadModule) Lookup(offset uint64) (Resolution, bool) {
	idx := sort.Search(len(m.funcs), func(i int) bool { return m.funcs[i].Start > offset })
	if idx > 0 && m.funcs[idx-1].contains(offset) {
		fn := m.funcs[idx-1]
		name := fn.Name
		if inline, ok := m.innermostInlineName(offset); ok {
			name = inline
		}
		res := Resolution{Function: name, Backend: BackendBreakpad}
		if row, ok := m.lines.lookup(offset); ok && fn.contains(row.Offset) {
			res.File = m.lines.Files.get(row.FileID)
			res.Line = row.Line
		}
		return res, true
	}
	pidx := sort.Search(len(m.fallback), func(i int) bool { return m.fallback[i].addr > offset })
	if pidx == 0 {
		return Resolution{}, false
	}
	return Resolution{Function: m.fallback[pidx-1].name, Backend: BackendBreakpad}, true
}

// stripBreakpadFirefoxJunk removes Mozilla's "hg:<repo host>:<path>:<rev>"
// prefix from a FILE path, leaving the bare path. The four colon-separated
// parts must be: the literal scheme "hg", a host starting with
// "hg.mozilla.org", the path we want, and a 40-char hex revision, with
// nothing after it — any mismatch means this isn't Firefox's junk and the
// path is returned unchanged.
func stripBreakpadFirefoxJunk(path string) string {
	parts := strings.Split(path, ":")
	if len(parts) != 4 {
		return path
	}
	scheme, host, suffix, rev := parts[0], parts[1], parts[2], parts[3]
	if scheme != "hg" {
		return path
	}
	if !strings.HasPrefix(host, "hg.mozilla.org") {
		return path
	}
	if !isHex(rev) || len(rev) != 40 {
		return path
	}
	return suffix
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}
