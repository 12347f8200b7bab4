// Package elfcore builds ELF32 core files the way the kernel would, so
// standard tooling (gdb, crash) can open dumps taken from a crashed
// bare-metal core.
package elfcore

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/juju/errors"
)

const (
	MachineARM uint16 = 0x28

	etCore uint16 = 4
	ptLoad uint32 = 1
	ptNote uint32 = 4
)

// Note types understood by gdb for ARM cores.
const (
	NoteUnixPrStatus uint32 = 1
	NoteUnixAuxv     uint32 = 6
	NoteARMVFP       uint32 = 0x400
)

// AT_HWCAP auxv entries advertised for the VFP note to be picked up.
const (
	AuxvHwcap uint32 = 16
	HwcapVFP  uint32 = 1 << 6
	HwcapNeon uint32 = 1 << 12
)

type fileHeader struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint32
	Phoff     uint32
	Shoff     uint32
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

type progHeader struct {
	Type   uint32
	Off    uint32
	Vaddr  uint32
	Paddr  uint32
	Filesz uint32
	Memsz  uint32
	Flags  uint32
	Align  uint32
}

const (
	fileHeaderSize = 52
	progHeaderSize = 32
)

var elfIdent = [16]byte{0x7f, 'E', 'L', 'F', 1 /* 32-bit */, 1 /* LSB */, 1, 0}

// File is a core file under construction. Segment data is referenced, not
// copied; it only needs to stay valid until WriteTo.
type File struct {
	machine  uint16
	segAddrs []uint32
	segs     [][]byte
	note     bytes.Buffer
}

func New(machine uint16) *File {
	return &File{machine: machine}
}

// AddSegment adds a PT_LOAD segment covering data at vaddr.
func (f *File) AddSegment(vaddr uint32, data []byte) {
	f.segAddrs = append(f.segAddrs, vaddr)
	f.segs = append(f.segs, data)
}

func pad4(n int) int { return (n + 3) &^ 3 }

// AddNote appends a note to the PT_NOTE segment.
func (f *File) AddNote(name string, ntype uint32, desc []byte) {
	var hdr [12]byte
	binary.LittleEndian.PutUint32(hdr[0:], uint32(len(name)+1))
	binary.LittleEndian.PutUint32(hdr[4:], uint32(len(desc)))
	binary.LittleEndian.PutUint32(hdr[8:], ntype)
	f.note.Write(hdr[:])
	f.note.WriteString(name)
	for i := len(name); i < pad4(len(name)+1); i++ {
		f.note.WriteByte(0)
	}
	f.note.Write(desc)
	for i := len(desc); i < pad4(len(desc)); i++ {
		f.note.WriteByte(0)
	}
}

// prStatus is the 32-bit ARM elf_prstatus layout, 148 bytes.
type prStatus struct {
	Info    [3]int32 // signo, code, errno
	Cursig  int16
	_       uint16
	Sigpend uint32
	Sighold uint32
	Pid     int32
	Ppid    int32
	Pgrp    int32
	Sid     int32
	Utime   [2]uint32
	Stime   [2]uint32
	Cutime  [2]uint32
	Cstime  [2]uint32
	Reg     [18]uint32
	Fpvalid int32
}

// AddPrStatus adds the NT_PRSTATUS note: r0-r15, cpsr and orig_r0 in regs,
// halted by signal sig.
func (f *File) AddPrStatus(sig int16, regs [18]uint32) {
	ps := prStatus{Cursig: sig, Reg: regs}
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, &ps)
	f.AddNote("CORE", NoteUnixPrStatus, buf.Bytes())
}

// AddAuxv adds an NT_AUXV note from flat type/value pairs.
func (f *File) AddAuxv(auxv []uint32) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, auxv)
	f.AddNote("CORE", NoteUnixAuxv, buf.Bytes())
}

// armVFP is the user_vfp layout the NT_ARM_VFP note carries: 32 double
// registers then the FPSCR.
type armVFP struct {
	D     [32]uint64
	FPSCR uint32
}

// AddVFP adds the NT_ARM_VFP note. Cores with only d0-d15 leave the rest
// zero.
func (f *File) AddVFP(fpscr uint32, d []uint64) {
	vfp := armVFP{FPSCR: fpscr}
	copy(vfp.D[:], d)
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, &vfp)
	f.AddNote("LINUX", NoteARMVFP, buf.Bytes())
}

// WriteTo lays the file out and writes it: header, program headers, note
// segment, then the load segments.
func (f *File) WriteTo(w io.Writer) (int64, error) {
	phnum := len(f.segs) + 1 // loads + the note segment

	ehdr := fileHeader{
		Ident:     elfIdent,
		Type:      etCore,
		Machine:   f.machine,
		Version:   1,
		Phoff:     fileHeaderSize,
		Ehsize:    fileHeaderSize,
		Phentsize: progHeaderSize,
		Phnum:     uint16(phnum),
	}

	phdrs := make([]progHeader, 0, phnum)
	offset := uint32(fileHeaderSize + progHeaderSize*phnum)
	note := f.note.Bytes()
	phdrs = append(phdrs, progHeader{
		Type:   ptNote,
		Off:    offset,
		Filesz: uint32(len(note)),
	})
	offset += uint32(len(note))
	for i, seg := range f.segs {
		phdrs = append(phdrs, progHeader{
			Type:   ptLoad,
			Off:    offset,
			Vaddr:  f.segAddrs[i],
			Filesz: uint32(len(seg)),
			Memsz:  uint32(len(seg)),
		})
		offset += uint32(len(seg))
	}

	cw := &countingWriter{w: w}
	if err := binary.Write(cw, binary.LittleEndian, &ehdr); err != nil {
		return cw.n, errors.Trace(err)
	}
	for i := range phdrs {
		if err := binary.Write(cw, binary.LittleEndian, &phdrs[i]); err != nil {
			return cw.n, errors.Trace(err)
		}
	}
	if _, err := cw.Write(note); err != nil {
		return cw.n, errors.Trace(err)
	}
	for _, seg := range f.segs {
		if _, err := cw.Write(seg); err != nil {
			return cw.n, errors.Trace(err)
		}
	}
	return cw.n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
