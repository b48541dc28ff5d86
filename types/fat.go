package types

// Fat (universal) file layout.
// See /Library/Developer/CommandLineTools/SDKs/MacOSX.sdk/usr/include/mach-o/fat.h
//
// Fat headers and fat_arch records are stored big-endian on disk
// regardless of the byte order of the images they contain.

// A FatHeader is the header of a fat 32-bit or fat 64-bit file.
type FatHeader struct {
	Magic Magic
	NArch uint32
}

// A FatArch32 is a raw fat_arch record: one architecture slice with
// 32-bit file offset and size.
type FatArch32 struct {
	CPU    CPU
	SubCPU CPUSubtype
	Offset uint32
	Size   uint32
	Align  uint32
}

// A FatArch64 is a raw fat_arch_64 record, used when slices may sit past
// the 4GiB boundary.
type FatArch64 struct {
	CPU      CPU
	SubCPU   CPUSubtype
	Offset   uint64
	Size     uint64
	Align    uint32
	Reserved uint32
}

const (
	FatHeaderSize = 2 * 4
	FatArchSize32 = 5 * 4
	FatArchSize64 = 4*4 + 2*8
)

// A FatArchHeader unifies the 32- and 64-bit fat_arch variants; offsets
// and sizes are widened once during decode so callers never re-branch on
// the table width.
type FatArchHeader struct {
	CPU    CPU
	SubCPU CPUSubtype
	Offset uint64
	Size   uint64
	Align  uint32 /* power-of-two exponent */
}
