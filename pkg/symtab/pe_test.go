// Copyright 2026 Faultline authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package symtab

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildProcSymRecord encodes one S_GPROC32 CodeView symbol record: the
// 2-byte length/kind header, the fixed ProcSym body, and a
// NUL-terminated name, matching the layout pdbProcedureSymbols decodes.
func buildProcSymRecord(codeSize, codeOffset uint32, segment uint16, name string) []byte {
	var rec bytes.Buffer
	binary.Write(&rec, binary.LittleEndian, uint32(0))  // PtrParent
	binary.Write(&rec, binary.LittleEndian, uint32(0))  // PtrEnd
	binary.Write(&rec, binary.LittleEndian, uint32(0))  // PtrNext
	binary.Write(&rec, binary.LittleEndian, codeSize)   // CodeSize
	binary.Write(&rec, binary.LittleEndian, uint32(0))  // DbgStart
	binary.Write(&rec, binary.LittleEndian, uint32(0))  // DbgEnd
	binary.Write(&rec, binary.LittleEndian, uint32(0))  // FunctionType
	binary.Write(&rec, binary.LittleEndian, codeOffset) // CodeOffset
	binary.Write(&rec, binary.LittleEndian, segment)    // Segment
	rec.WriteByte(0)                                    // Flags
	rec.WriteString(name)
	rec.WriteByte(0)

	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, uint16(2+rec.Len())) // record length (excludes itself)
	binary.Write(&out, binary.LittleEndian, uint16(cvSymGProc32))
	out.Write(rec.Bytes())
	return out.Bytes()
}

func TestPDBProcedureSymbolsDecodesProcSymFields(t *testing.T) {
	data := buildProcSymRecord(0x40, 0x100, 2, "main")

	procs := pdbProcedureSymbols(&pdbSymbolStream{data: data})
	if len(procs) != 1 {
		t.Fatalf("got %d procs, want 1", len(procs))
	}
	p := procs[0]
	if p.offset != 0x100 || p.length != 0x40 || p.segment != 2 || p.name != "main" {
		t.Errorf("pdbProcedureSymbols = %+v, want offset=0x100 length=0x40 segment=2 name=main", p)
	}
}

func TestPDBProcedureSymbolsSkipsUnknownKinds(t *testing.T) {
	var rec bytes.Buffer
	binary.Write(&rec, binary.LittleEndian, uint16(2)) // zero-length body
	binary.Write(&rec, binary.LittleEndian, uint16(0x1009))

	procs := pdbProcedureSymbols(&pdbSymbolStream{data: rec.Bytes()})
	if len(procs) != 0 {
		t.Errorf("got %d procs, want 0", len(procs))
	}
}

func TestParsePDBLinesSubsectionAppliesSegmentAndOffset(t *testing.T) {
	var sub bytes.Buffer
	binary.Write(&sub, binary.LittleEndian, uint32(0x10)) // offCon
	binary.Write(&sub, binary.LittleEndian, uint16(3))    // segCon
	binary.Write(&sub, binary.LittleEndian, uint16(0))    // flags
	binary.Write(&sub, binary.LittleEndian, uint32(0x40)) // cbCon
	// One file block: fileOff, nLines=1, blockSize.
	binary.Write(&sub, binary.LittleEndian, uint32(0)) // fileOff
	binary.Write(&sub, binary.LittleEndian, uint32(1)) // nLines
	binary.Write(&sub, binary.LittleEndian, uint32(12+8))
	binary.Write(&sub, binary.LittleEndian, uint32(0x20)) // codeOffset
	binary.Write(&sub, binary.LittleEndian, uint32(24))   // packed line number

	checksums := map[uint32]string{0: "example.c"}
	lines := parsePDBLinesSubsection(sub.Bytes(), checksums)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	ln := lines[0]
	if ln.offset != 0x30 || ln.segment != 3 || ln.file != "example.c" || ln.line != 24 {
		t.Errorf("parsePDBLinesSubsection = %+v, want offset=0x30 segment=3 file=example.c line=24", ln)
	}
}

func TestPEModuleRVATranslatesSectionRelativeOffsets(t *testing.T) {
	m := &peModule{sectionRVA: []uint32{0x1000, 0x4000}}

	if got := m.rva(1, 0x50); got != 0x1050 {
		t.Errorf("rva(1, 0x50) = %#x, want 0x1050", got)
	}
	if got := m.rva(2, 0x10); got != 0x4010 {
		t.Errorf("rva(2, 0x10) = %#x, want 0x4010", got)
	}
	// A segment past the section table, or zero, is left untranslated.
	if got := m.rva(3, 0x10); got != 0x10 {
		t.Errorf("rva(3, 0x10) = %#x, want 0x10", got)
	}
	if got := m.rva(0, 0x10); got != 0x10 {
		t.Errorf("rva(0, 0x10) = %#x, want 0x10", got)
	}
}

// TestPEModuleLookupResolvesTranslatedAddresses exercises the same
// section-relative-to-module-relative translation loadPDB performs,
// without needing a full synthetic MSF/PDB container: it builds the
// funcs/lines tables the way loadPDB does, from raw pdbProc/pdbLine
// values, and checks Lookup resolves against module-relative offsets.
func TestPEModuleLookupResolvesTranslatedAddresses(t *testing.T) {
	m := &peModule{sectionRVA: []uint32{0x2000}}

	proc := pdbProc{offset: 0x24, length: 0x40, segment: 1, name: "main"}
	files := &FileTable{}
	fileID := files.add("tests/example.c")
	line := pdbLine{offset: 0x24, segment: 1, file: "tests/example.c", line: 24}

	m.funcs = sortFunctions([]FuncEntry{{Start: m.rva(proc.segment, proc.offset), Size: proc.length, Name: proc.name}})
	m.lines = &LineTable{Files: files, Rows: []LineRow{{Offset: m.rva(line.segment, line.offset), FileID: fileID, Line: line.line}}}

	res, ok := m.Lookup(0x2024)
	if !ok {
		t.Fatal("expected a match at the translated module-relative address")
	}
	if res.Function != "main" || res.File != "tests/example.c" || res.Line != 24 {
		t.Errorf("Lookup(0x2024) = %+v", res)
	}
	if res.Backend != BackendPE {
		t.Errorf("Backend = %v, want BackendPE", res.Backend)
	}

	// The un-translated section-relative offset must not resolve.
	if _, ok := m.Lookup(0x24); ok {
		t.Error("Lookup at the section-relative offset should fail")
	}
}
