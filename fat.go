package macho

import (
	"fmt"
	"io"
	"os"

	"github.com/appsworld/machoscan/types"
)

// A FatArch is one architecture slice of a fat archive: its fat_arch
// record plus the outcome of decoding the Mach-O image it points at.
// Exactly one of Image and Err is set; a failed slice never aborts its
// siblings, since fat files exist precisely to probe among independent
// images.
type FatArch struct {
	types.FatArchHeader
	Image *File
	Err   error
}

// A FatFile represents a fat (universal) archive: an ordered collection
// of architecture slices in fat_arch declaration order.
type FatFile struct {
	types.FatHeader
	Arches []FatArch

	closer io.Closer
}

// OpenFat opens the named file using os.Open and prepares it for use as
// a fat archive.
func OpenFat(name string) (*FatFile, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	ff, err := NewFatFile(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	ff.closer = f
	return ff, nil
}

// Close closes the FatFile.
// If the FatFile was created using NewFatFile directly instead of
// OpenFat, Close has no effect.
func (ff *FatFile) Close() error {
	var err error
	if ff.closer != nil {
		err = ff.closer.Close()
		ff.closer = nil
	}
	return err
}

// NewFatFile creates a new FatFile for accessing a fat archive in an
// underlying reader. Thin files fail with ErrNotFat so callers can fall
// back to NewFile.
func NewFatFile(ra io.ReaderAt) (*FatFile, error) {
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
	if !magic.IsFat() {
		return nil, ErrNotFat
	}

	// Fat tables are stored big-endian; bo only deviates for the
	// byte-reversed pattern detectMagic tolerates.
	r := NewReader(ra, size, bo)

	ff := new(FatFile)
	ff.Magic = magic
	narch, err := r.Uint32(4)
	if err != nil {
		return nil, fmt.Errorf("failed to read fat header: %w", err)
	}
	ff.NArch = narch
	if ff.NArch < 1 {
		return nil, &FormatError{4, "fat file contains no images", nil}
	}

	archSize := int64(types.FatArchSize32)
	if magic == types.MagicFat64 {
		archSize = types.FatArchSize64
	}

	// The arch count is attacker-controlled; prove the declared table fits
	// the source before sizing anything by it.
	if int64(ff.NArch) > (size-int64(types.FatHeaderSize))/archSize {
		return nil, &OutOfRangeError{
			Off:  types.FatHeaderSize,
			Len:  uint64(ff.NArch) * uint64(archSize),
			Size: size,
		}
	}

	ff.Arches = make([]FatArch, ff.NArch)
	for i := range ff.Arches {
		off := int64(types.FatHeaderSize) + int64(i)*archSize
		hdr, err := readFatArchHeader(r, off, magic)
		if err != nil {
			return nil, fmt.Errorf("failed to read fat_arch %d: %w", i, err)
		}
		ff.Arches[i].FatArchHeader = *hdr
	}

	// A slice pointing past the source only poisons that slice; overlap
	// between two in-range slices is a fault of the fat header itself
	// and aborts the whole archive.
	for i := range ff.Arches {
		fa := &ff.Arches[i]
		if fa.Size > uint64(size) || fa.Offset > uint64(size)-fa.Size {
			fa.Err = &OutOfRangeError{Off: int64(fa.Offset), Len: fa.Size, Size: size}
		}
	}
	for i := range ff.Arches {
		if ff.Arches[i].Err != nil {
			continue
		}
		for j := i + 1; j < len(ff.Arches); j++ {
			if ff.Arches[j].Err != nil {
				continue
			}
			a, b := &ff.Arches[i].FatArchHeader, &ff.Arches[j].FatArchHeader
			if a.Offset < b.Offset+b.Size && b.Offset < a.Offset+a.Size {
				return nil, &OverlappingArchError{First: i, Second: j}
			}
		}
	}

	for i := range ff.Arches {
		fa := &ff.Arches[i]
		if fa.Err != nil {
			continue
		}
		// Each slice is an independent Mach-O image with its own byte
		// order and word width, so decoding restarts at magic detection.
		sr := io.NewSectionReader(ra, int64(fa.Offset), int64(fa.Size))
		fa.Image, fa.Err = NewFile(sr)
	}
	return ff, nil
}

func readFatArchHeader(r *Reader, off int64, magic types.Magic) (*types.FatArchHeader, error) {
	if magic == types.MagicFat64 {
		var fa64 types.FatArch64
		if err := r.Object(off, &fa64); err != nil {
			return nil, err
		}
		return &types.FatArchHeader{
			CPU:    fa64.CPU,
			SubCPU: fa64.SubCPU,
			Offset: fa64.Offset,
			Size:   fa64.Size,
			Align:  fa64.Align,
		}, nil
	}
	var fa32 types.FatArch32
	if err := r.Object(off, &fa32); err != nil {
		return nil, err
	}
	return &types.FatArchHeader{
		CPU:    fa32.CPU,
		SubCPU: fa32.SubCPU,
		Offset: uint64(fa32.Offset),
		Size:   uint64(fa32.Size),
		Align:  fa32.Align,
	}, nil
}

// Arch returns the first slice matching cpu, or nil.
func (ff *FatFile) Arch(cpu types.CPU) *FatArch {
	for i := range ff.Arches {
		if ff.Arches[i].CPU == cpu {
			return &ff.Arches[i]
		}
	}
	return nil
}

func (ff *FatFile) String() string {
	s := fmt.Sprintf("Fat Header    = %s, %d architectures\n", ff.Magic, ff.NArch)
	for i := range ff.Arches {
		fa := &ff.Arches[i]
		s += fmt.Sprintf("%03d: %s, %s, offset=%#x, size=%#x, align=2^%d",
			i, fa.CPU, fa.SubCPU.String(fa.CPU), fa.Offset, fa.Size, fa.Align)
		if fa.Err != nil {
			s += fmt.Sprintf(" (decode failed: %v)", fa.Err)
		}
		s += "\n"
	}
	return s
}
