// Copyright 2026 Faultline authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package symtab

import "testing"

func TestProbeFormatELF(t *testing.T) {
	header := []byte{0x7F, 'E', 'L', 'F', 2, 1, 1, 0}
	if got := probeFormat(header); got != probeELF {
		t.Errorf("probeFormat(ELF) = %v, want probeELF", got)
	}
}

func TestProbeFormatPE(t *testing.T) {
	header := make([]byte, 0x80)
	header[0], header[1] = 'M', 'Z'
	le32put(header[0x3C:], 0x60)
	header[0x60], header[0x61], header[0x62], header[0x63] = 'P', 'E', 0, 0
	if got := probeFormat(header); got != probePE {
		t.Errorf("probeFormat(PE) = %v, want probePE", got)
	}
}

func TestProbeFormatMachOThin(t *testing.T) {
	header := make([]byte, 8)
	bePut32(header, machoMagic64)
	if got := probeFormat(header); got != probeMachO {
		t.Errorf("probeFormat(thin Mach-O) = %v, want probeMachO", got)
	}
}

func TestProbeFormatMachOFatPlausible(t *testing.T) {
	header := make([]byte, 8+20)
	bePut32(header, machoFatMagic)
	bePut32(header[4:], 2) // nArch
	if got := probeFormat(header); got != probeMachO {
		t.Errorf("probeFormat(fat Mach-O) = %v, want probeMachO", got)
	}
}

func TestProbeFormatRejectsJavaClassFile(t *testing.T) {
	// A Java class file shares the 0xCAFEBABE magic with a fat Mach-O
	// but carries an absurd architecture count in the same bytes.
	header := make([]byte, 8)
	bePut32(header, machoFatMagic)
	bePut32(header[4:], 0xFFFFFFFF) // minor/major version, not a sane arch count
	if got := probeFormat(header); got == probeMachO {
		t.Error("probeFormat should reject an implausible fat header")
	}
}

func TestProbeFormatBreakpad(t *testing.T) {
	header := []byte("MODULE Linux x86_64 000102030405 app\nFUNC 0 10 0 f\n")
	if got := probeFormat(header); got != probeBreakpad {
		t.Errorf("probeFormat(breakpad) = %v, want probeBreakpad", got)
	}
}

func TestProbeFormatUnknown(t *testing.T) {
	header := []byte("not a recognized module header")
	if got := probeFormat(header); got != probeUnknown {
		t.Errorf("probeFormat(garbage) = %v, want probeUnknown", got)
	}
}

func le32put(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func bePut32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
