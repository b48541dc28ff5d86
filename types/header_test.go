package types

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMagic(t *testing.T) {
	if !Magic64.Is64() || Magic32.Is64() {
		t.Error("Is64 disagrees with the magic values")
	}
	if !MagicFat.IsFat() || !MagicFat64.IsFat() || Magic64.IsFat() {
		t.Error("IsFat disagrees with the magic values")
	}
	if got := Magic64.String(); got != "64-bit MachO" {
		t.Errorf("Magic64 = %q", got)
	}
	if got := Magic(0x12345678).String(); got != "0x12345678" {
		t.Errorf("unknown magic = %q", got)
	}
}

func TestFileHeaderPut(t *testing.T) {
	h32 := FileHeader{Magic: Magic32, CPU: CPU386, Type: MH_OBJECT, NCommands: 3, SizeCommands: 0x100}
	var b [FileHeaderSize64]byte
	if n := h32.Put(b[:], binary.LittleEndian); n != FileHeaderSize32 {
		t.Errorf("32-bit Put wrote %d bytes, want %d", n, FileHeaderSize32)
	}
	if got := binary.LittleEndian.Uint32(b[0:]); got != uint32(Magic32) {
		t.Errorf("encoded magic = %#x", got)
	}

	h64 := FileHeader{Magic: Magic64, CPU: CPUArm64, Type: MH_EXECUTE, Reserved: 7}
	if n := h64.Put(b[:], binary.BigEndian); n != FileHeaderSize64 {
		t.Errorf("64-bit Put wrote %d bytes, want %d", n, FileHeaderSize64)
	}
	if got := binary.BigEndian.Uint32(b[28:]); got != 7 {
		t.Errorf("reserved word = %d, want 7", got)
	}
}

func TestHeaderFileTypeString(t *testing.T) {
	if got := MH_EXECUTE.String(); got != "EXECUTE" {
		t.Errorf("MH_EXECUTE = %q", got)
	}
	if got := HeaderFileType(0x99).String(); got != "0x99" {
		t.Errorf("unknown file type = %q", got)
	}
}

func TestHeaderFlagList(t *testing.T) {
	f := NoUndefs | DyldLink | TwoLevel | PIE
	want := []string{"NoUndefs", "DyldLink", "TwoLevel", "PIE"}
	if diff := cmp.Diff(f.List(), want); diff != "" {
		t.Errorf("List() mismatch (-got +want):\n%s", diff)
	}
	if !f.PIE() || !f.DyldLink() || f.DylibInCache() {
		t.Error("flag getters disagree with the set bits")
	}
	if got := HeaderFlag(0).List(); len(got) != 1 || got[0] != "None" {
		t.Errorf("empty flag list = %v", got)
	}
	if !f.Has(TwoLevel) || f.Has(SimSupport) {
		t.Error("Has disagrees with the set bits")
	}
}
