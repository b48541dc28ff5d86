package macho

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/appsworld/machoscan/types"
)

// buildImage assembles a header and pre-encoded load commands into a
// decodable byte image. NCommands/SizeCommands are computed from cmds
// unless hdr declares its own (non-zero) values, which lets tests lie
// about them on purpose.
func buildImage(hdr types.FileHeader, bo binary.ByteOrder, cmds ...[]byte) []byte {
	var cmdSize int
	for _, c := range cmds {
		cmdSize += len(c)
	}
	if hdr.NCommands == 0 {
		hdr.NCommands = uint32(len(cmds))
	}
	if hdr.SizeCommands == 0 {
		hdr.SizeCommands = uint32(cmdSize)
	}

	hdrSize := types.FileHeaderSize32
	if hdr.Magic.Is64() {
		hdrSize = types.FileHeaderSize64
	}
	total := hdrSize + cmdSize
	if declared := hdrSize + int(hdr.SizeCommands); declared > total {
		total = declared
	}
	b := make([]byte, total)
	n := hdr.Put(b, bo)
	for _, c := range cmds {
		n += copy(b[n:], c)
	}
	return b
}

func segCmd32(bo binary.ByteOrder, hdr SegmentHeader, sects ...SectionHeader) []byte {
	hdr.LoadCmd = types.LC_SEGMENT
	hdr.Len = uint32(types.SegmentCmdSize32 + len(sects)*types.SectionSize32)
	hdr.Nsect = uint32(len(sects))
	b := make([]byte, hdr.Len)
	s := &Segment{SegmentHeader: hdr}
	n := s.Put32(b, bo)
	for _, sh := range sects {
		sec := &Section{SectionHeader: sh}
		n += sec.Put32(b[n:], bo)
	}
	return b
}

func segCmd64(bo binary.ByteOrder, hdr SegmentHeader, sects ...SectionHeader) []byte {
	hdr.LoadCmd = types.LC_SEGMENT_64
	hdr.Len = uint32(types.SegmentCmdSize64 + len(sects)*types.SectionSize64)
	hdr.Nsect = uint32(len(sects))
	b := make([]byte, hdr.Len)
	s := &Segment{SegmentHeader: hdr}
	n := s.Put64(b, bo)
	for _, sh := range sects {
		sec := &Section{SectionHeader: sh}
		n += sec.Put64(b[n:], bo)
	}
	return b
}

// rawCmd encodes an opaque load command of the given total size; the
// payload past the 8-byte prefix is zero.
func rawCmd(bo binary.ByteOrder, cmd types.LoadCmd, size uint32) []byte {
	b := make([]byte, size)
	bo.PutUint32(b[0:], uint32(cmd))
	bo.PutUint32(b[4:], size)
	return b
}

// lyingCmd encodes size bytes whose cmdsize field claims declared bytes.
func lyingCmd(bo binary.ByteOrder, cmd types.LoadCmd, size, declared uint32) []byte {
	b := rawCmd(bo, cmd, size)
	bo.PutUint32(b[4:], declared)
	return b
}

func TestNewFileThin64(t *testing.T) {
	img := buildImage(
		types.FileHeader{Magic: types.Magic64, CPU: types.CPUArm64, SubCPU: types.CPUSubtypeArm64E, Type: types.MH_EXECUTE, Flags: types.PIE | types.DyldLink},
		binary.LittleEndian,
		segCmd64(binary.LittleEndian,
			SegmentHeader{Name: "__TEXT", Addr: 0x100000000, Memsz: 0x4000, Offset: 0, Filesz: 0x4000, Maxprot: 5, Prot: 5},
			SectionHeader{Name: "__text", Seg: "__TEXT", Addr: 0x100001000, Size: 0x200, Offset: 0x1000, Align: 4,
				Flags: types.S_ATTR_PURE_INSTRUCTIONS | types.S_ATTR_SOME_INSTRUCTIONS},
		),
	)

	f, err := NewFile(bytes.NewReader(img))
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if f.Magic != types.Magic64 || f.ByteOrder != binary.LittleEndian {
		t.Errorf("got magic %v order %v", f.Magic, f.ByteOrder)
	}
	if f.CPU.String() != "ARM64" {
		t.Errorf("CPU name = %q, want ARM64", f.CPU.String())
	}
	segs := f.Segments()
	if len(segs) != 1 || segs[0].Name != "__TEXT" {
		t.Fatalf("segments = %v, want one __TEXT", segs)
	}
	if len(f.Sections) != 1 || f.Sections[0].Name != "__text" {
		t.Fatalf("sections = %v, want one __text", f.Sections)
	}
	if sec := f.Section("__TEXT", "__text"); sec == nil || sec.Addr != 0x100001000 {
		t.Errorf("Section(__TEXT, __text) = %+v", sec)
	}
	if len(f.Anomalies) != 0 {
		t.Errorf("unexpected anomalies: %v", f.Anomalies)
	}
}

func TestEndiannessTransparent(t *testing.T) {
	hdr := types.FileHeader{Magic: types.Magic32, CPU: types.CPU386, SubCPU: types.CPUSubtypeX8664All, Type: types.MH_EXECUTE, Flags: types.NoUndefs}
	seg := SegmentHeader{Name: "__DATA", Addr: 0x2000, Memsz: 0x1000, Offset: 0x1000, Filesz: 0x1000, Maxprot: 7, Prot: 3}
	sect := SectionHeader{Name: "__data", Seg: "__DATA", Addr: 0x2000, Size: 0x14, Offset: 0x1000, Align: 2}

	native := buildImage(hdr, binary.LittleEndian, segCmd32(binary.LittleEndian, seg, sect))
	swapped := buildImage(hdr, binary.BigEndian, segCmd32(binary.BigEndian, seg, sect))

	fn, err := NewFile(bytes.NewReader(native))
	if err != nil {
		t.Fatalf("NewFile(native): %v", err)
	}
	fs, err := NewFile(bytes.NewReader(swapped))
	if err != nil {
		t.Fatalf("NewFile(swapped): %v", err)
	}
	if diff := cmp.Diff(fn.FileHeader, fs.FileHeader); diff != "" {
		t.Errorf("headers differ (-native +swapped):\n%s", diff)
	}
	if diff := cmp.Diff(fn.Segments()[0].SegmentHeader, fs.Segments()[0].SegmentHeader); diff != "" {
		t.Errorf("segments differ (-native +swapped):\n%s", diff)
	}
	if diff := cmp.Diff(fn.Sections[0].SectionHeader, fs.Sections[0].SectionHeader); diff != "" {
		t.Errorf("sections differ (-native +swapped):\n%s", diff)
	}
}

func TestRoundTripSegment32(t *testing.T) {
	want := SegmentHeader{Name: "__TEXT", Addr: 0x1000, Memsz: 0x2000, Offset: 0x400, Filesz: 0x1c00, Maxprot: 7, Prot: 5}
	wantSect := SectionHeader{Name: "__cstring", Seg: "__TEXT", Addr: 0x1f00, Size: 0xd, Offset: 0xf00, Align: 0, Flags: types.S_CSTRING_LITERALS}

	img := buildImage(
		types.FileHeader{Magic: types.Magic32, CPU: types.CPU386, Type: types.MH_EXECUTE},
		binary.LittleEndian,
		segCmd32(binary.LittleEndian, want, wantSect),
	)
	f, err := NewFile(bytes.NewReader(img))
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	got := f.Segments()[0]
	if got.Name != want.Name || got.Addr != want.Addr || got.Memsz != want.Memsz ||
		got.Prot != want.Prot || got.Maxprot != want.Maxprot {
		t.Errorf("segment round trip: got %+v, want %+v", got.SegmentHeader, want)
	}
	if diff := cmp.Diff(f.Sections[0].SectionHeader, wantSect, cmpopts.IgnoreFields(SectionHeader{}, "Reserved3")); diff != "" {
		t.Errorf("section round trip (-got +want):\n%s", diff)
	}
}

func TestTruncatedCommandTable(t *testing.T) {
	// The header admits 16 bytes of commands but the single command
	// claims 24; the walker must refuse to read past the declared bound.
	img := buildImage(
		types.FileHeader{Magic: types.Magic64, CPU: types.CPUAmd64, Type: types.MH_EXECUTE, NCommands: 1, SizeCommands: 16},
		binary.LittleEndian,
		rawCmd(binary.LittleEndian, types.LC_UUID, 24)[:16],
	)
	_, err := NewFile(bytes.NewReader(img))
	var te *TruncatedLoadCommandError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TruncatedLoadCommandError", err)
	}
}

func TestCommandTableExceedsSource(t *testing.T) {
	img := buildImage(
		types.FileHeader{Magic: types.Magic64, CPU: types.CPUAmd64, Type: types.MH_EXECUTE, NCommands: 1, SizeCommands: 16},
		binary.LittleEndian,
	)
	// Chop off the declared command table entirely.
	_, err := NewFile(bytes.NewReader(img[:types.FileHeaderSize64]))
	var te *TruncatedLoadCommandError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TruncatedLoadCommandError", err)
	}
}

func TestMalformedCommandSize(t *testing.T) {
	// cmdsize of 4 cannot encode its own 8-byte prefix and would stall
	// the walk forever if tolerated.
	img := buildImage(
		types.FileHeader{Magic: types.Magic64, CPU: types.CPUAmd64, Type: types.MH_EXECUTE},
		binary.LittleEndian,
		lyingCmd(binary.LittleEndian, types.LC_UUID, 8, 4),
	)
	_, err := NewFile(bytes.NewReader(img))
	var me *MalformedLoadCommandError
	if !errors.As(err, &me) {
		t.Fatalf("err = %v, want *MalformedLoadCommandError", err)
	}
}

func TestCommandTableSlack(t *testing.T) {
	// SizeCommands claims more bytes than the commands actually cover.
	img := buildImage(
		types.FileHeader{Magic: types.Magic64, CPU: types.CPUAmd64, Type: types.MH_EXECUTE, NCommands: 1, SizeCommands: 24},
		binary.LittleEndian,
		rawCmd(binary.LittleEndian, types.LC_UUID, 16),
	)
	_, err := NewFile(bytes.NewReader(img))
	var me *MalformedLoadCommandError
	if !errors.As(err, &me) {
		t.Fatalf("err = %v, want *MalformedLoadCommandError", err)
	}
}

func TestSixteenByteNames(t *testing.T) {
	// A name that fills all 16 bytes has no NUL terminator; it must
	// decode to all 16 characters and not one byte more.
	const longName = "ABCDEFGHIJKLMNOP"
	img := buildImage(
		types.FileHeader{Magic: types.Magic64, CPU: types.CPUArm64, Type: types.MH_EXECUTE},
		binary.LittleEndian,
		segCmd64(binary.LittleEndian, SegmentHeader{Name: longName, Addr: 0x1000, Memsz: 0x1000}),
	)
	f, err := NewFile(bytes.NewReader(img))
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if got := f.Segments()[0].Name; got != longName {
		t.Errorf("segment name = %q (len %d), want %q", got, len(got), longName)
	}
}

func TestSectionSegmentMismatchAnomaly(t *testing.T) {
	img := buildImage(
		types.FileHeader{Magic: types.Magic64, CPU: types.CPUArm64, Type: types.MH_EXECUTE},
		binary.LittleEndian,
		segCmd64(binary.LittleEndian,
			SegmentHeader{Name: "__DATA", Addr: 0x4000, Memsz: 0x4000},
			SectionHeader{Name: "__text", Seg: "__TEXT", Addr: 0x4000, Size: 0x100},
		),
	)
	f, err := NewFile(bytes.NewReader(img))
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if len(f.Anomalies) != 1 {
		t.Fatalf("anomalies = %v, want exactly one", f.Anomalies)
	}
	// The mismatch is a warning, never a failure: the section is still there.
	if len(f.Sections) != 1 || f.Sections[0].Name != "__text" {
		t.Errorf("sections = %v", f.Sections)
	}
}

func TestOpaqueCommandsPreserved(t *testing.T) {
	img := buildImage(
		types.FileHeader{Magic: types.Magic64, CPU: types.CPUArm64, Type: types.MH_DYLIB},
		binary.LittleEndian,
		rawCmd(binary.LittleEndian, types.LC_UUID, 24),
		rawCmd(binary.LittleEndian, types.LC_SOURCE_VERSION, 16),
	)
	f, err := NewFile(bytes.NewReader(img))
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if len(f.Loads) != 2 {
		t.Fatalf("loads = %d, want 2", len(f.Loads))
	}
	lcb, ok := f.Loads[0].(LoadCmdBytes)
	if !ok || lcb.Command() != types.LC_UUID || len(lcb.Raw()) != 24 {
		t.Errorf("load 0 = %#v, want 24-byte LC_UUID", f.Loads[0])
	}
	if f.Loads[1].Command() != types.LC_SOURCE_VERSION {
		t.Errorf("load 1 = %v", f.Loads[1].Command())
	}
}

func TestUnknownMagic(t *testing.T) {
	_, err := NewFile(bytes.NewReader([]byte("GARBAGE!")))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestNewFileRejectsFat(t *testing.T) {
	var b [8]byte
	binary.BigEndian.PutUint32(b[0:], uint32(types.MagicFat))
	binary.BigEndian.PutUint32(b[4:], 0)
	_, err := NewFile(bytes.NewReader(b[:]))
	if !errors.Is(err, ErrNotThin) {
		t.Fatalf("err = %v, want ErrNotThin", err)
	}
}

func TestVmProtectionString(t *testing.T) {
	if got := types.VmProtection(5).String(); got != "r-x" {
		t.Errorf("VmProtection(5) = %q, want r-x", got)
	}
	if got := types.VmProtection(3).String(); got != "rw-" {
		t.Errorf("VmProtection(3) = %q, want rw-", got)
	}
}
