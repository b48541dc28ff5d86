package macho

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedFormat is returned when the first 4 bytes of a source
	// match none of the known thin or fat magic numbers.
	ErrUnsupportedFormat = errors.New("unrecognized magic number")

	// ErrNotFat is returned by the fat entry points when handed a thin
	// Mach-O file.
	ErrNotFat = errors.New("not a fat Mach-O file")

	// ErrNotThin is returned by the thin entry points when handed a fat
	// archive; callers wanting either should use Decode.
	ErrNotThin = errors.New("file is a fat archive, not a thin Mach-O")
)

// FormatError is returned by some operations if the data does
// not have the correct format for an object file.
type FormatError struct {
	off int64
	msg string
	val interface{}
}

func (e *FormatError) Error() string {
	msg := e.msg
	if e.val != nil {
		msg += fmt.Sprintf(" '%v'", e.val)
	}
	msg += fmt.Sprintf(" in record at byte %#x", e.off)
	return msg
}

// An OutOfRangeError reports a read whose offset+length exceeds the
// source's total byte length.
type OutOfRangeError struct {
	Off  int64
	Len  uint64
	Size int64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("read of %d bytes at offset %#x is out of range of %d byte source", e.Len, e.Off, e.Size)
}

// A MalformedLoadCommandError reports a load command that cannot be
// interpreted: a cmdsize too small to encode its own prefix, a segment
// command too small for its declared sections, or a command table whose
// final offset does not land on the declared table end.
type MalformedLoadCommandError struct {
	Index int
	Off   int64
	Msg   string
}

func (e *MalformedLoadCommandError) Error() string {
	return fmt.Sprintf("malformed load command %d at offset %#x: %s", e.Index, e.Off, e.Msg)
}

// A TruncatedLoadCommandError reports that the declared command count
// cannot be satisfied within the declared command-table size, or that the
// declared table exceeds the source itself.
type TruncatedLoadCommandError struct {
	Index int // command index being read when the bound was hit; -1 for the table bound itself
	Off   int64
	End   int64
}

func (e *TruncatedLoadCommandError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("load command table at offset %#x extends past %#x", e.Off, e.End)
	}
	return fmt.Sprintf("load command %d at offset %#x extends past declared table end %#x", e.Index, e.Off, e.End)
}

// An OverlappingArchError reports two fat_arch entries whose byte ranges
// overlap. It aborts the whole archive decode since the fault is in the
// fat header, not in any one slice.
type OverlappingArchError struct {
	First  int
	Second int
}

func (e *OverlappingArchError) Error() string {
	return fmt.Sprintf("fat_arch %d and %d declare overlapping byte ranges", e.First, e.Second)
}

// An Anomaly is a structural oddity that does not prevent decoding, e.g.
// a section whose declared owning segment does not match the segment it
// sits in. Anomalies are collected on the decoded File rather than
// surfaced as errors.
type Anomaly struct {
	Off int64
	Msg string
}

func (a Anomaly) String() string {
	return fmt.Sprintf("%s (record at byte %#x)", a.Msg, a.Off)
}
