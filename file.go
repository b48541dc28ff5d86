package macho

// High level access to low level data structures.

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/appsworld/machoscan/types"
)

// A File represents one decoded Mach-O image: its header, its load
// commands in table order, and the section records belonging to its
// segment commands. A File is built by a single decode pass and is not
// mutated afterwards.
type File struct {
	types.FileHeader
	ByteOrder binary.ByteOrder
	Loads     []Load
	Sections  []*Section

	// Anomalies are structural oddities that did not prevent decoding.
	Anomalies []Anomaly

	sr     *Reader
	closer io.Closer
}

// detectMagic classifies the first 4 bytes of a source and derives the
// byte order every subsequent read of that image must use. Fat tables
// are big-endian on disk, so a fat magic read big-endian is the normal
// case; the byte-reversed pattern is accepted as well since it is
// unambiguous. Anything else fails rather than guessing.
func detectMagic(ident [4]byte) (types.Magic, binary.ByteOrder, error) {
	be := binary.BigEndian.Uint32(ident[:])
	le := binary.LittleEndian.Uint32(ident[:])
	switch {
	case le == uint32(types.Magic32) || le == uint32(types.Magic64):
		return types.Magic(le), binary.LittleEndian, nil
	case be == uint32(types.Magic32) || be == uint32(types.Magic64):
		return types.Magic(be), binary.BigEndian, nil
	case be == uint32(types.MagicFat) || be == uint32(types.MagicFat64):
		return types.Magic(be), binary.BigEndian, nil
	case le == uint32(types.MagicFat) || le == uint32(types.MagicFat64):
		return types.Magic(le), binary.LittleEndian, nil
	}
	return 0, nil, ErrUnsupportedFormat
}

// Open opens the named file using os.Open and prepares it for use as a
// thin Mach-O binary.
func Open(name string) (*File, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	ff, err := NewFile(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	ff.closer = f
	return ff, nil
}

// Close closes the File.
// If the File was created using NewFile directly instead of Open,
// Close has no effect.
func (f *File) Close() error {
	var err error
	if f.closer != nil {
		err = f.closer.Close()
		f.closer = nil
	}
	return err
}

// Decode classifies the source by its magic number and decodes it as
// either a thin Mach-O image or a fat archive; exactly one of the
// returned values is non-nil on success.
func Decode(ra io.ReaderAt) (*File, *FatFile, error) {
	var ident [4]byte
	if _, err := ra.ReadAt(ident[:], 0); err != nil {
		return nil, nil, fmt.Errorf("failed to read magic: %v", err)
	}
	magic, _, err := detectMagic(ident)
	if err != nil {
		return nil, nil, err
	}
	if magic.IsFat() {
		ff, err := NewFatFile(ra)
		return nil, ff, err
	}
	f, err := NewFile(ra)
	return f, nil, err
}

// NewFile creates a new File for accessing a Mach-O binary in an
// underlying reader. The Mach-O binary is expected to start at position
// 0 in the ReaderAt, whose total size must be discoverable (bytes.Reader,
// io.SectionReader, and os.File all qualify).
func NewFile(ra io.ReaderAt) (*File, error) {
	size, err := sourceSize(ra)
	if err != nil {
		return nil, err
	}

	var ident [4]byte
	if _, err := ra.ReadAt(ident[:], 0); err != nil {
		return nil, fmt.Errorf("failed to read magic: %v", err)
	}
	magic, bo, err := detectMagic(ident)
	if err != nil {
		return nil, err
	}
	if magic.IsFat() {
		return nil, ErrNotThin
	}

	f := new(File)
	f.ByteOrder = bo
	f.sr = NewReader(ra, size, bo)

	hdrSize := int64(types.FileHeaderSize32)
	if magic.Is64() {
		hdrSize = types.FileHeaderSize64
	}
	hdr, err := f.sr.Bytes(0, uint64(hdrSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read file header: %w", err)
	}
	f.Magic = magic
	f.CPU = types.CPU(bo.Uint32(hdr[4:]))
	f.SubCPU = types.CPUSubtype(bo.Uint32(hdr[8:]))
	f.Type = types.HeaderFileType(bo.Uint32(hdr[12:]))
	f.NCommands = bo.Uint32(hdr[16:])
	f.SizeCommands = bo.Uint32(hdr[20:])
	f.Flags = types.HeaderFlag(bo.Uint32(hdr[24:]))
	if magic.Is64() {
		f.Reserved = bo.Uint32(hdr[28:])
	}

	// The command table must fit in what remains of the source.
	if int64(f.SizeCommands) > size-hdrSize {
		return nil, &TruncatedLoadCommandError{Index: -1, Off: hdrSize, End: size}
	}

	cr := NewCommandReader(f.sr, hdrSize, f.NCommands, f.SizeCommands)
	for {
		lc, err := cr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch lc.Cmd {
		case types.LC_SEGMENT:
			if err := f.parseSegment32(lc); err != nil {
				return nil, err
			}
		case types.LC_SEGMENT_64:
			if err := f.parseSegment64(lc); err != nil {
				return nil, err
			}
		default:
			dat, err := f.sr.Bytes(lc.Offset, uint64(lc.Len))
			if err != nil {
				return nil, fmt.Errorf("failed to read %s payload: %w", lc.Cmd, err)
			}
			f.Loads = append(f.Loads, LoadCmdBytes{LoadCmd: lc.Cmd, LoadBytes: dat})
		}
	}
	return f, nil
}

func (f *File) parseSegment32(lc LoadCommand) error {
	if lc.Len < types.SegmentCmdSize32 {
		return &MalformedLoadCommandError{Index: len(f.Loads), Off: lc.Offset, Msg: "cmdsize smaller than the segment record"}
	}
	var seg32 types.Segment32
	if err := f.sr.Object(lc.Offset, &seg32); err != nil {
		return fmt.Errorf("failed to read LC_SEGMENT: %w", err)
	}
	if uint64(seg32.Addr)+uint64(seg32.Memsz) > 1<<32 {
		return &MalformedLoadCommandError{Index: len(f.Loads), Off: lc.Offset, Msg: "vm range overflows the 32-bit address space"}
	}
	s := &Segment{
		SegmentHeader: SegmentHeader{
			LoadCmd:   lc.Cmd,
			Len:       lc.Len,
			Name:      cstring(seg32.Name[0:]),
			Addr:      uint64(seg32.Addr),
			Memsz:     uint64(seg32.Memsz),
			Offset:    uint64(seg32.Offset),
			Filesz:    uint64(seg32.Filesz),
			Maxprot:   seg32.Maxprot,
			Prot:      seg32.Prot,
			Nsect:     seg32.Nsect,
			Flag:      seg32.Flag,
			Firstsect: uint32(len(f.Sections)),
		},
		sr: f.sr,
	}
	if err := f.fillRaw(s, lc); err != nil {
		return err
	}
	if uint64(lc.Len) < types.SegmentCmdSize32+uint64(s.Nsect)*types.SectionSize32 {
		return &MalformedLoadCommandError{Index: len(f.Loads) - 1, Off: lc.Offset, Msg: "cmdsize too small for declared section records"}
	}
	for i := 0; i < int(s.Nsect); i++ {
		off := lc.Offset + types.SegmentCmdSize32 + int64(i)*types.SectionSize32
		var sh32 types.Section32
		if err := f.sr.Object(off, &sh32); err != nil {
			return fmt.Errorf("failed to read Section32: %w", err)
		}
		sh := &Section{
			SectionHeader: SectionHeader{
				Name:      cstring(sh32.Name[0:]),
				Seg:       cstring(sh32.Seg[0:]),
				Addr:      uint64(sh32.Addr),
				Size:      uint64(sh32.Size),
				Offset:    sh32.Offset,
				Align:     sh32.Align,
				Reloff:    sh32.Reloff,
				Nreloc:    sh32.Nreloc,
				Flags:     sh32.Flags,
				Reserved1: sh32.Reserve1,
				Reserved2: sh32.Reserve2,
			},
			sr: f.sr,
		}
		f.pushSection(s, sh, off)
	}
	return nil
}

func (f *File) parseSegment64(lc LoadCommand) error {
	if lc.Len < types.SegmentCmdSize64 {
		return &MalformedLoadCommandError{Index: len(f.Loads), Off: lc.Offset, Msg: "cmdsize smaller than the segment record"}
	}
	var seg64 types.Segment64
	if err := f.sr.Object(lc.Offset, &seg64); err != nil {
		return fmt.Errorf("failed to read LC_SEGMENT_64: %w", err)
	}
	if seg64.Memsz > ^uint64(0)-seg64.Addr {
		return &MalformedLoadCommandError{Index: len(f.Loads), Off: lc.Offset, Msg: "vm range overflows the 64-bit address space"}
	}
	s := &Segment{
		SegmentHeader: SegmentHeader{
			LoadCmd:   lc.Cmd,
			Len:       lc.Len,
			Name:      cstring(seg64.Name[0:]),
			Addr:      seg64.Addr,
			Memsz:     seg64.Memsz,
			Offset:    seg64.Offset,
			Filesz:    seg64.Filesz,
			Maxprot:   seg64.Maxprot,
			Prot:      seg64.Prot,
			Nsect:     seg64.Nsect,
			Flag:      seg64.Flag,
			Firstsect: uint32(len(f.Sections)),
		},
		sr: f.sr,
	}
	if err := f.fillRaw(s, lc); err != nil {
		return err
	}
	if uint64(lc.Len) < types.SegmentCmdSize64+uint64(s.Nsect)*types.SectionSize64 {
		return &MalformedLoadCommandError{Index: len(f.Loads) - 1, Off: lc.Offset, Msg: "cmdsize too small for declared section records"}
	}
	for i := 0; i < int(s.Nsect); i++ {
		off := lc.Offset + types.SegmentCmdSize64 + int64(i)*types.SectionSize64
		var sh64 types.Section64
		if err := f.sr.Object(off, &sh64); err != nil {
			return fmt.Errorf("failed to read Section64: %w", err)
		}
		sh := &Section{
			SectionHeader: SectionHeader{
				Name:      cstring(sh64.Name[0:]),
				Seg:       cstring(sh64.Seg[0:]),
				Addr:      sh64.Addr,
				Size:      sh64.Size,
				Offset:    sh64.Offset,
				Align:     sh64.Align,
				Reloff:    sh64.Reloff,
				Nreloc:    sh64.Nreloc,
				Flags:     sh64.Flags,
				Reserved1: sh64.Reserve1,
				Reserved2: sh64.Reserve2,
				Reserved3: sh64.Reserve3,
			},
			sr: f.sr,
		}
		f.pushSection(s, sh, off)
	}
	return nil
}

// fillRaw attaches the raw command bytes to the segment and appends it
// to the load list.
func (f *File) fillRaw(s *Segment, lc LoadCommand) error {
	dat, err := f.sr.Bytes(lc.Offset, uint64(lc.Len))
	if err != nil {
		return fmt.Errorf("failed to read %s payload: %w", lc.Cmd, err)
	}
	s.LoadBytes = dat
	f.Loads = append(f.Loads, s)
	return nil
}

// pushSection records a decoded section. A section claiming a different
// owning segment than the one it sits in is suspicious but seen in the
// wild, so it is reported as an anomaly rather than failing the decode.
func (f *File) pushSection(s *Segment, sh *Section, off int64) {
	if sh.Seg != s.Name {
		f.Anomalies = append(f.Anomalies, Anomaly{
			Off: off,
			Msg: fmt.Sprintf("section %q declares owning segment %q but sits in segment %q", sh.Name, sh.Seg, s.Name),
		})
	}
	f.Sections = append(f.Sections, sh)
}

// Segments returns the file's segment commands in table order.
func (f *File) Segments() []*Segment {
	var segs []*Segment
	for _, l := range f.Loads {
		if s, ok := l.(*Segment); ok {
			segs = append(segs, s)
		}
	}
	return segs
}

// Segment returns the first Segment with the given name, or nil.
func (f *File) Segment(name string) *Segment {
	for _, l := range f.Loads {
		if s, ok := l.(*Segment); ok && s.Name == name {
			return s
		}
	}
	return nil
}

// Section returns the first section with the given segment and section
// names, or nil.
func (f *File) Section(segment, section string) *Section {
	for _, sh := range f.Sections {
		if sh.Seg == segment && sh.Name == section {
			return sh
		}
	}
	return nil
}

// SectionsForSegment returns the section records belonging to s, in
// table order.
func (f *File) SectionsForSegment(s *Segment) []*Section {
	return f.Sections[s.Firstsect : s.Firstsect+s.Nsect]
}

func pad(length int) string {
	if length > 0 {
		return strings.Repeat(" ", length)
	}
	return " "
}

// LoadsString returns a string representation of all the file's load commands.
func (f *File) LoadsString() string {
	var loadsStr string
	for i, l := range f.Loads {
		if s, ok := l.(*Segment); ok {
			loadsStr += fmt.Sprintf("%03d: %s sz=0x%08x off=0x%08x-0x%08x addr=0x%09x-0x%09x %s/%s   %s%s%s\n",
				i, s.Command(), s.Filesz, s.Offset, s.Offset+s.Filesz, s.Addr, s.Addr+s.Memsz, s.Prot, s.Maxprot, s.Name, pad(20-len(s.Name)), s.Flag)
			for _, c := range f.SectionsForSegment(s) {
				loadsStr += fmt.Sprintf("\tsz=0x%08x off=0x%08x-0x%08x addr=0x%09x-0x%09x\t\t%s.%s\n",
					c.Size, c.Offset, uint64(c.Offset)+c.Size, c.Addr, c.Addr+c.Size, s.Name, c.Name)
			}
		} else if l != nil {
			loadsStr += fmt.Sprintf("%03d: %s%s%v\n", i, l.Command(), pad(28-len(l.Command().String())), l)
		}
	}
	return loadsStr
}

func (f *File) String() string {
	return f.FileHeader.String() + f.LoadsString()
}
