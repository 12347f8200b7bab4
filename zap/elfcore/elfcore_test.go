package elfcore

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"io"
	"testing"
)

func TestWriteTo(t *testing.T) {
	f := New(MachineARM)

	var regs [18]uint32
	for i := range regs {
		regs[i] = uint32(i) * 0x100
	}
	f.AddPrStatus(11, regs)
	f.AddAuxv([]uint32{AuxvHwcap, HwcapVFP | HwcapNeon, 0, 0})
	f.AddVFP(0x03000000, []uint64{0x1122334455667788})

	seg1 := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	seg2 := bytes.Repeat([]byte{0xaa}, 0x100)
	f.AddSegment(0x7b000000, seg1)
	f.AddSegment(0x7d000000, seg2)

	var buf bytes.Buffer
	n, err := f.WriteTo(&buf)
	if err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if n != int64(buf.Len()) {
		t.Errorf("WriteTo reported %d bytes, wrote %d", n, buf.Len())
	}

	ef, err := elf.NewFile(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("written file does not parse: %v", err)
	}
	if ef.Type != elf.ET_CORE {
		t.Errorf("type %v, want ET_CORE", ef.Type)
	}
	if ef.Machine != elf.EM_ARM {
		t.Errorf("machine %v, want EM_ARM", ef.Machine)
	}
	if ef.Class != elf.ELFCLASS32 || ef.Data != elf.ELFDATA2LSB {
		t.Errorf("class %v data %v, want 32-bit LSB", ef.Class, ef.Data)
	}

	if len(ef.Progs) != 3 {
		t.Fatalf("%d program headers, want 3", len(ef.Progs))
	}
	if ef.Progs[0].Type != elf.PT_NOTE {
		t.Errorf("first segment is %v, want PT_NOTE", ef.Progs[0].Type)
	}
	for i, want := range []struct {
		vaddr uint64
		data  []byte
	}{
		{0x7b000000, seg1},
		{0x7d000000, seg2},
	} {
		p := ef.Progs[i+1]
		if p.Type != elf.PT_LOAD {
			t.Errorf("segment %d is %v, want PT_LOAD", i+1, p.Type)
		}
		if p.Vaddr != want.vaddr {
			t.Errorf("segment %d at 0x%x, want 0x%x", i+1, p.Vaddr, want.vaddr)
		}
		got, err := io.ReadAll(p.Open())
		if err != nil {
			t.Fatalf("read segment %d: %v", i+1, err)
		}
		if !bytes.Equal(got, want.data) {
			t.Errorf("segment %d data mismatch", i+1)
		}
	}
}

// Walk the raw note segment and check names, types and payload sizes line
// up with what gdb expects for an ARM core.
func TestNoteLayout(t *testing.T) {
	f := New(MachineARM)
	f.AddPrStatus(11, [18]uint32{})
	f.AddAuxv([]uint32{AuxvHwcap, HwcapVFP, 0, 0})
	f.AddVFP(0, nil)

	notes := f.note.Bytes()
	want := []struct {
		name     string
		ntype    uint32
		descSize int
	}{
		{"CORE", NoteUnixPrStatus, 148},
		{"CORE", NoteUnixAuxv, 16},
		{"LINUX", NoteARMVFP, 32*8 + 4},
	}
	for i, w := range want {
		if len(notes) < 12 {
			t.Fatalf("note %d: truncated segment", i)
		}
		namesz := binary.LittleEndian.Uint32(notes[0:])
		descsz := binary.LittleEndian.Uint32(notes[4:])
		ntype := binary.LittleEndian.Uint32(notes[8:])
		notes = notes[12:]
		if namesz != uint32(len(w.name))+1 {
			t.Errorf("note %d: namesz %d", i, namesz)
		}
		if got := string(notes[:len(w.name)]); got != w.name {
			t.Errorf("note %d: name %q, want %q", i, got, w.name)
		}
		if ntype != w.ntype {
			t.Errorf("note %d: type 0x%x, want 0x%x", i, ntype, w.ntype)
		}
		if descsz != uint32(w.descSize) {
			t.Errorf("note %d: descsz %d, want %d", i, descsz, w.descSize)
		}
		notes = notes[pad4(int(namesz)):]
		notes = notes[pad4(int(descsz)):]
	}
	if len(notes) != 0 {
		t.Errorf("%d trailing bytes in the note segment", len(notes))
	}
}

func TestPad4(t *testing.T) {
	for n, want := range map[int]int{0: 0, 1: 4, 3: 4, 4: 4, 5: 8} {
		if got := pad4(n); got != want {
			t.Errorf("pad4(%d) = %d, want %d", n, got, want)
		}
	}
}
