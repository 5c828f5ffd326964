// Copyright 2026 Faultline authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package symtab

import (
	"bytes"
	"encoding/binary"
	"fmt"

	pdb "github.com/skdltmxn/pdb-go"
)

// pdbProc is one S_GPROC32/S_LPROC32 record pulled out of a PDB's
// global symbol stream: a function's section-relative offset, length,
// owning section (1-based COFF segment number), and name. The offset
// is section-relative, not module-relative — the PE section table is
// needed to turn it into an address comparable against an input frame
// offset.
type pdbProc struct {
	offset  uint64
	length  uint64
	segment uint16
	name    string
}

type pdbLine struct {
	offset  uint64 // section-relative; see pdbLine.segment
	segment uint16
	file    string
	line    int
}

const (
	cvSymGProc32 = 0x1110
	cvSymLProc32 = 0x110f

	cvSignatureC13 = 4

	debugSFileChksms = 0xf4
	debugSLines      = 0xf2
)

// pdbProcedureSymbols walks the raw CodeView symbol records in a PDB's
// symbol record stream, picking out S_GPROC32/S_LPROC32 entries. The
// record layout (2-byte length, 2-byte kind, then the fixed ProcSym
// body PtrParent/PtrEnd/PtrNext/CodeSize/DbgStart/DbgEnd(uint32 x6),
// FunctionType(uint32), CodeOffset(uint32), Segment(uint16),
// Flags(uint8), then a NUL-terminated name) is the public CodeView
// format; symbol-kind values and the ProcSym field layout are grounded
// on the authoritative struct pdb-go defines for its own record
// decoder.
func pdbProcedureSymbols(p *pdbSymbolStream) []pdbProc {
	var out []pdbProc
	data := p.data
	for off := 0; off+4 <= len(data); {
		length := int(binary.LittleEndian.Uint16(data[off:]))
		if length < 2 || off+2+length > len(data) {
			break
		}
		kind := binary.LittleEndian.Uint16(data[off+2:])
		rec := data[off+4 : off+2+length]
		if (kind == cvSymGProc32 || kind == cvSymLProc32) && len(rec) >= 36 {
			procLen := binary.LittleEndian.Uint32(rec[12:16])
			codeOffset := binary.LittleEndian.Uint32(rec[28:32])
			segment := binary.LittleEndian.Uint16(rec[32:34])
			name := cString(rec[35:])
			out = append(out, pdbProc{offset: uint64(codeOffset), length: uint64(procLen), segment: segment, name: name})
		}
		off += 2 + length
	}
	return out
}

// pdbLineRecords returns every C13 line record collected across all of
// the PDB's module streams during openPDBStream. Each offset is still
// section-relative and carries its segment; loadPDB translates it
// through the PE section table.
func pdbLineRecords(p *pdbSymbolStream) []pdbLine {
	return p.lines
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// pdbSymbolStream is the minimal slice of a parsed PDB this package
// needs: the raw bytes of its global symbol record stream, the C13
// line records flattened across every module stream, and its identity
// (GUID/age) for cross-checking against the PE's CodeView record.
type pdbSymbolStream struct {
	data  []byte
	lines []pdbLine
	guid  [16]byte
	age   uint32
	has   bool
}

func pdbIdentity(p *pdbSymbolStream) ([16]byte, uint32, bool) {
	return p.guid, p.age, p.has
}

// pdbModuleInfo is one DBI Modules-substream record: which stream (if
// any) carries that module's symbols and C11/C13 debug subsections, and
// how many bytes of the stream belong to each.
type pdbModuleInfo struct {
	symStream   int16
	symByteSize uint32
	c11Size     uint32
	c13Size     uint32
}

// openPDBStream opens the MSF container and pulls out everything this
// backend needs: the PDB info stream (1), which carries the GUID/age
// identity and the named-stream map (used to find "/names"), and the
// DBI stream (3), whose header names the global symbol record stream
// and whose Modules substream lists every per-module stream that may
// carry C13 line data. Stream indices 1 and 3, the DBI header's
// SymRecordStream/ModInfoSize field offsets, and the ModInfo record
// layout are fixed points of the MSF/PDB container format, independent
// of any one library's wrapper API.
func openPDBStream(path string) (*pdbSymbolStream, error) {
	f, err := pdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPDBNotFound, err)
	}
	defer f.Close()

	out := &pdbSymbolStream{}
	var namedStreams map[string]int
	if info, err := f.Stream(1); err == nil && len(info) >= 28 {
		out.age = binary.LittleEndian.Uint32(info[8:12])
		copy(out.guid[:], info[12:28])
		out.has = true
		namedStreams = pdbNamedStreamMap(info)
	}

	dbi, err := f.Stream(3)
	if err != nil || len(dbi) < 64 {
		return nil, fmt.Errorf("%w: missing DBI stream", ErrPDBNotFound)
	}
	symRecordStream := binary.LittleEndian.Uint16(dbi[20:22])
	data, err := f.Stream(int(symRecordStream))
	if err != nil {
		return nil, fmt.Errorf("%w: missing symbol record stream", ErrPDBNotFound)
	}
	out.data = data

	var namesBuf []byte
	if idx, ok := namedStreams["/names"]; ok {
		if names, err := f.Stream(idx); err == nil {
			namesBuf = pdbNamesStringBuffer(names)
		}
	}
	if namesBuf != nil {
		for _, mod := range pdbModules(dbi) {
			if mod.symStream < 0 || mod.c13Size == 0 {
				continue
			}
			modData, err := f.Stream(int(mod.symStream))
			if err != nil {
				continue
			}
			out.lines = append(out.lines, pdbModuleC13Lines(modData, mod, namesBuf)...)
		}
	}
	return out, nil
}

// pdbNamedStreamMap parses the PDB info stream's serialized named-stream
// hash table (the structure that maps names like "/names" to a stream
// index) immediately following the 28-byte info-stream header.
func pdbNamedStreamMap(info []byte) map[string]int {
	off := 28
	if off+4 > len(info) {
		return nil
	}
	strLen := int(binary.LittleEndian.Uint32(info[off:]))
	off += 4
	if off+strLen > len(info) {
		return nil
	}
	stringBuffer := info[off : off+strLen]
	off += strLen

	readU32 := func() (uint32, bool) {
		if off+4 > len(info) {
			return 0, false
		}
		v := binary.LittleEndian.Uint32(info[off:])
		off += 4
		return v, true
	}

	if _, ok := readU32(); !ok { // Size: present-entry count, unused here
		return nil
	}
	capacity, ok := readU32()
	if !ok {
		return nil
	}
	presentWords, ok := readU32()
	if !ok {
		return nil
	}
	if off+int(presentWords)*4 > len(info) {
		return nil
	}
	presentBits := info[off : off+int(presentWords)*4]
	off += int(presentWords) * 4

	deletedWords, ok := readU32()
	if !ok {
		return nil
	}
	if off+int(deletedWords)*4 > len(info) {
		return nil
	}
	off += int(deletedWords) * 4 // deleted-bucket bitmap: unread, reading only needs present buckets

	out := make(map[string]int)
	for bucket := 0; bucket < int(capacity); bucket++ {
		word := bucket / 32
		if word >= len(presentBits)/4 {
			break
		}
		bits := binary.LittleEndian.Uint32(presentBits[word*4:])
		if bits&(1<<uint(bucket%32)) == 0 {
			continue
		}
		key, ok := readU32()
		if !ok {
			break
		}
		val, ok := readU32()
		if !ok {
			break
		}
		out[pdbStringAt(stringBuffer, key)] = int(val)
	}
	return out
}

// pdbNamesStringBuffer strips the "/names" stream's 12-byte header
// (signature, hash version, buffer length) and returns the raw
// NUL-separated string buffer that file-checksum entries index into.
func pdbNamesStringBuffer(data []byte) []byte {
	if len(data) < 12 {
		return nil
	}
	byteSize := int(binary.LittleEndian.Uint32(data[8:12]))
	end := 12 + byteSize
	if end > len(data) {
		end = len(data)
	}
	return data[12:end]
}

func pdbStringAt(buf []byte, offset uint32) string {
	if int(offset) >= len(buf) {
		return ""
	}
	if end := bytes.IndexByte(buf[offset:], 0); end >= 0 {
		return string(buf[offset : int(offset)+end])
	}
	return string(buf[offset:])
}

// pdbModules parses the DBI stream's Modules substream (whose size in
// bytes is given by the header's ModInfoSize field at offset 24) into
// one pdbModuleInfo per compiland.
func pdbModules(dbi []byte) []pdbModuleInfo {
	if len(dbi) < 28 {
		return nil
	}
	modInfoSize := int32(binary.LittleEndian.Uint32(dbi[24:28]))
	if modInfoSize <= 0 || 64+int(modInfoSize) > len(dbi) {
		return nil
	}
	data := dbi[64 : 64+int(modInfoSize)]

	var mods []pdbModuleInfo
	off := 0
	for off+64 <= len(data) {
		rec := data[off:]
		symStream := int16(binary.LittleEndian.Uint16(rec[34:36]))
		symByteSize := binary.LittleEndian.Uint32(rec[36:40])
		c11Size := binary.LittleEndian.Uint32(rec[40:44])
		c13Size := binary.LittleEndian.Uint32(rec[44:48])

		strOff := off + 64
		n1 := bytes.IndexByte(data[strOff:], 0)
		if n1 < 0 {
			break
		}
		strOff2 := strOff + n1 + 1
		n2 := bytes.IndexByte(data[strOff2:], 0)
		if n2 < 0 {
			break
		}
		recEnd := strOff2 + n2 + 1
		totalLen := recEnd - off
		aligned := (totalLen + 3) &^ 3

		mods = append(mods, pdbModuleInfo{
			symStream:   symStream,
			symByteSize: symByteSize,
			c11Size:     c11Size,
			c13Size:     c13Size,
		})
		off += aligned
	}
	return mods
}

// pdbModuleC13Lines extracts the DEBUG_S_LINES subsections from one
// module's symbol stream, resolving each line's file name through that
// same module's DEBUG_S_FILECHKSMS subsection and the shared "/names"
// string buffer. The module stream layout (a 4-byte CV_SIGNATURE_C13
// marker, then SymByteSize bytes of symbol records, then C11ByteSize
// bytes of legacy line data, then C13ByteSize bytes of subsections) and
// the subsection/file-checksum/line-record layouts below are the public
// CodeView C13 debug format.
func pdbModuleC13Lines(modData []byte, mod pdbModuleInfo, namesBuf []byte) []pdbLine {
	if len(modData) < 4 || binary.LittleEndian.Uint32(modData[:4]) != cvSignatureC13 {
		return nil
	}
	base := 4 + int(mod.symByteSize) + int(mod.c11Size)
	end := base + int(mod.c13Size)
	if base < 0 || end > len(modData) || base > end {
		return nil
	}
	c13 := modData[base:end]

	checksums := map[uint32]string{}
	var lineSubs [][]byte
	pos := 0
	for pos+8 <= len(c13) {
		kind := binary.LittleEndian.Uint32(c13[pos:]) &^ 0x80000000
		length := int(binary.LittleEndian.Uint32(c13[pos+4:]))
		pos += 8
		if length < 0 || pos+length > len(c13) {
			break
		}
		sub := c13[pos : pos+length]
		switch kind {
		case debugSFileChksms:
			parsePDBFileChecksums(sub, namesBuf, checksums)
		case debugSLines:
			lineSubs = append(lineSubs, sub)
		}
		pos += length
		pos = (pos + 3) &^ 3
	}

	var out []pdbLine
	for _, sub := range lineSubs {
		out = append(out, parsePDBLinesSubsection(sub, checksums)...)
	}
	return out
}

// parsePDBFileChecksums reads one DEBUG_S_FILECHKSMS subsection: a
// packed sequence of (name-offset, checksum-kind, checksum-bytes)
// entries, each padded to a 4-byte boundary. DEBUG_S_LINES file blocks
// reference a file by this entry's byte offset within the subsection,
// not by index, so the map is keyed that way too.
func parsePDBFileChecksums(sub []byte, namesBuf []byte, out map[uint32]string) {
	off := 0
	for off+8 <= len(sub) {
		nameOffset := binary.LittleEndian.Uint32(sub[off:])
		checksumSize := int(sub[off+4])
		entryStart := off
		off += 8 + checksumSize
		if off > len(sub) {
			break
		}
		out[uint32(entryStart)] = pdbStringAt(namesBuf, nameOffset)
		off = (off + 3) &^ 3
	}
}

// parsePDBLinesSubsection reads one DEBUG_S_LINES subsection: a
// CV_LinesHeader naming the code range it covers, followed by one or
// more file blocks, each a small header plus nLines (offset, line
// number) pairs (and, when CV_LINES_HAVE_COLUMNS is set, a column pair
// per line that this engine has no use for and skips over via cbBlock).
func parsePDBLinesSubsection(sub []byte, checksums map[uint32]string) []pdbLine {
	if len(sub) < 12 {
		return nil
	}
	offCon := binary.LittleEndian.Uint32(sub[0:4])
	segCon := binary.LittleEndian.Uint16(sub[4:6])

	var out []pdbLine
	pos := 12
	for pos+12 <= len(sub) {
		fileOff := binary.LittleEndian.Uint32(sub[pos:])
		nLines := int(binary.LittleEndian.Uint32(sub[pos+4:]))
		blockSize := int(binary.LittleEndian.Uint32(sub[pos+8:]))
		fileName := checksums[fileOff]

		linesStart := pos + 12
		for i := 0; i < nLines; i++ {
			entryOff := linesStart + i*8
			if entryOff+8 > len(sub) {
				break
			}
			codeOffset := binary.LittleEndian.Uint32(sub[entryOff:])
			packed := binary.LittleEndian.Uint32(sub[entryOff+4:])
			lineStart := int(packed & 0x00FFFFFF)
			out = append(out, pdbLine{offset: uint64(offCon + codeOffset), segment: segCon, file: fileName, line: lineStart})
		}

		if blockSize <= 0 {
			break
		}
		pos += blockSize
	}
	return out
}
