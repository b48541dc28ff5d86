package macho

import (
	"io"

	"github.com/appsworld/machoscan/types"
)

// A LoadCommand is one raw entry of the load-command table: its kind, its
// declared size, and the file offset of the record (the payload begins 8
// bytes in).
type LoadCommand struct {
	Cmd    types.LoadCmd
	Len    uint32
	Offset int64
}

// A CommandReader walks the load-command table that follows a Mach-O
// header. It is the only place the package advances by cmdsize, and it
// refuses to step outside the table declared by the header: a command
// reaching past the table fails with *TruncatedLoadCommandError and a
// cmdsize below 8 (which could not even encode its own prefix, and would
// never advance the walk) fails with *MalformedLoadCommandError.
//
// The walk yields exactly the declared command count and then demands
// that the running offset landed on the declared table end; leftover
// slack means the header lied about one of the two and is an error, not
// something to tolerate.
type CommandReader struct {
	r     *Reader
	start int64
	end   int64
	count uint32

	index uint32
	off   int64
}

// NewCommandReader returns a walker over ncmds commands occupying
// sizeofcmds bytes starting at start.
func NewCommandReader(r *Reader, start int64, ncmds, sizeofcmds uint32) *CommandReader {
	return &CommandReader{
		r:     r,
		start: start,
		end:   start + int64(sizeofcmds),
		count: ncmds,
		off:   start,
	}
}

// Next returns the next raw load command, io.EOF after the last one.
func (cr *CommandReader) Next() (LoadCommand, error) {
	if cr.index == cr.count {
		if cr.off != cr.end {
			return LoadCommand{}, &MalformedLoadCommandError{
				Index: int(cr.index) - 1,
				Off:   cr.off,
				Msg:   "command table does not fill its declared size",
			}
		}
		return LoadCommand{}, io.EOF
	}
	if cr.off+8 > cr.end {
		return LoadCommand{}, &TruncatedLoadCommandError{Index: int(cr.index), Off: cr.off, End: cr.end}
	}
	cmd, err := cr.r.Uint32(cr.off)
	if err != nil {
		return LoadCommand{}, err
	}
	siz, err := cr.r.Uint32(cr.off + 4)
	if err != nil {
		return LoadCommand{}, err
	}
	if siz < 8 {
		return LoadCommand{}, &MalformedLoadCommandError{
			Index: int(cr.index),
			Off:   cr.off,
			Msg:   "cmdsize too small to encode its own prefix",
		}
	}
	if cr.off+int64(siz) > cr.end {
		return LoadCommand{}, &TruncatedLoadCommandError{Index: int(cr.index), Off: cr.off, End: cr.end}
	}

	lc := LoadCommand{Cmd: types.LoadCmd(cmd), Len: siz, Offset: cr.off}
	cr.off += int64(siz)
	cr.index++
	return lc, nil
}

// Reset rewinds the walk to the stored starting offset.
func (cr *CommandReader) Reset() {
	cr.index = 0
	cr.off = cr.start
}
