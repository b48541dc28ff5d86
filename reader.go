package macho

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// A Reader provides bounds-checked, absolute-offset access to a byte
// source. Every read is addressed explicitly, so repeated or concurrent
// reads at the same offset are idempotent; nothing advances a cursor.
// Multi-byte values are decoded with the byte order fixed at creation,
// which callers derive once from the magic number.
type Reader struct {
	r    io.ReaderAt
	size int64
	bo   binary.ByteOrder
}

// NewReader wraps ra with range checks against size.
func NewReader(ra io.ReaderAt, size int64, bo binary.ByteOrder) *Reader {
	return &Reader{r: ra, size: size, bo: bo}
}

// Size returns the total byte length of the source.
func (r *Reader) Size() int64 { return r.size }

// ByteOrder returns the byte order all multi-byte reads decode with.
func (r *Reader) ByteOrder() binary.ByteOrder { return r.bo }

func (r *Reader) check(off int64, n uint64) error {
	if off < 0 || n > uint64(r.size) || off > r.size-int64(n) {
		return &OutOfRangeError{Off: off, Len: n, Size: r.size}
	}
	return nil
}

// Bytes reads exactly n bytes at off.
func (r *Reader) Bytes(off int64, n uint64) ([]byte, error) {
	if err := r.check(off, n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := r.r.ReadAt(b, off); err != nil {
		return nil, fmt.Errorf("failed to read %d bytes at offset %#x: %v", n, off, err)
	}
	return b, nil
}

func (r *Reader) Uint32(off int64) (uint32, error) {
	b, err := r.Bytes(off, 4)
	if err != nil {
		return 0, err
	}
	return r.bo.Uint32(b), nil
}

func (r *Reader) Int32(off int64) (int32, error) {
	u, err := r.Uint32(off)
	return int32(u), err
}

func (r *Reader) Uint64(off int64) (uint64, error) {
	b, err := r.Bytes(off, 8)
	if err != nil {
		return 0, err
	}
	return r.bo.Uint64(b), nil
}

// Object decodes the fixed-width struct v from the bytes at off.
func (r *Reader) Object(off int64, v interface{}) error {
	n := binary.Size(v)
	if n < 0 {
		return fmt.Errorf("value of type %T has no fixed binary size", v)
	}
	b, err := r.Bytes(off, uint64(n))
	if err != nil {
		return err
	}
	return binary.Read(bytes.NewReader(b), r.bo, v)
}

// sourceSize determines the total byte length of ra without reading it.
func sourceSize(ra io.ReaderAt) (int64, error) {
	switch v := ra.(type) {
	case interface{ Size() int64 }:
		// bytes.Reader, io.SectionReader
		return v.Size(), nil
	case io.Seeker:
		// os.File and friends
		cur, err := v.Seek(0, io.SeekCurrent)
		if err != nil {
			return 0, err
		}
		end, err := v.Seek(0, io.SeekEnd)
		if err != nil {
			return 0, err
		}
		if _, err := v.Seek(cur, io.SeekStart); err != nil {
			return 0, err
		}
		return end, nil
	}
	return 0, fmt.Errorf("cannot determine size of %T source", ra)
}

func cstring(b []byte) string {
	i := bytes.IndexByte(b, 0)
	if i == -1 {
		i = len(b)
	}
	return string(b[0:i])
}
