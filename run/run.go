/*
Package run supports reading and writing the sorted run files the engine
spills to disk when an emission buffer exceeds its memory budget.

Run file format, one record per emission:

	vint(key-len) key vint(line) vint(ord) vint(val-len) val

Records within a run are sorted by (key, line, ord), so a set of runs can be
merged back into one globally ordered stream.
*/
package run

import (
	"io"

	"github.com/golangplus/errors"

	"github.com/zisismaras/omnimap"
)

// An Emission is one key/value pair produced by the mapping step, tagged
// with its position in the input: Line is the 1-based input line and Ord is
// the index of the emit call within that line's map invocation. (Line, Ord)
// is the emission's sequence number; it is unique across a whole job and
// totally orders equal keys.
type Emission struct {
	Key  []byte
	Line int
	Ord  int
	Val  []byte
}

// Writer generates a run file. The caller is responsible for collecting
// emissions in sorted order.
type Writer struct {
	writer omnimap.WriteCloser
}

// NewWriter returns a *Writer writing a run file at the specified FsPath.
func NewWriter(fp omnimap.FsPath) (*Writer, error) {
	writer, err := fp.Create()
	if err != nil {
		return nil, errorsp.WithStacks(err)
	}
	return &Writer{
		writer: writer,
	}, nil
}

// Collect appends one emission record to the run.
func (w *Writer) Collect(e Emission) error {
	if err := omnimap.ByteArray(e.Key).WriteTo(w.writer); err != nil {
		return errorsp.WithStacksAndMessage(err, "writing key failed")
	}
	if err := omnimap.VInt(e.Line).WriteTo(w.writer); err != nil {
		return errorsp.WithStacksAndMessage(err, "writing line failed")
	}
	if err := omnimap.VInt(e.Ord).WriteTo(w.writer); err != nil {
		return errorsp.WithStacksAndMessage(err, "writing ord failed")
	}
	if err := omnimap.ByteArray(e.Val).WriteTo(w.writer); err != nil {
		return errorsp.WithStacksAndMessage(err, "writing value failed")
	}
	return nil
}

// io.Closer interface
func (w *Writer) Close() error {
	return errorsp.WithStacks(w.writer.Close())
}

// Reader reads a run file.
type Reader struct {
	reader omnimap.ReadCloser
}

// NewReader returns a *Reader reading the run file at the specified FsPath.
func NewReader(fp omnimap.FsPath) (*Reader, error) {
	reader, err := fp.Open()
	if err != nil {
		return nil, errorsp.WithStacks(err)
	}
	return &Reader{
		reader: reader,
	}, nil
}

// io.Closer interface
func (r *Reader) Close() error {
	return errorsp.WithStacks(r.reader.Close())
}

// Next fetches the next emission, reusing e's backing arrays where
// possible. Returns omnimap.EOF only when the run ends cleanly on a record
// boundary; a record truncated anywhere past its first byte, including
// inside the key-length prefix, is omnimap.ErrBadFormat.
func (r *Reader) Next(e *Emission) error {
	key := omnimap.ByteArray(e.Key)
	if err := key.ReadFrom(r.reader); err != nil {
		if errorsp.Cause(err) == io.EOF {
			return omnimap.EOF
		}
		return badFormat(err, "reading key failed")
	}
	e.Key = key

	var line, ord omnimap.VInt
	if err := line.ReadFrom(r.reader); err != nil {
		return badFormat(err, "reading line failed")
	}
	if err := ord.ReadFrom(r.reader); err != nil {
		return badFormat(err, "reading ord failed")
	}
	e.Line, e.Ord = int(line.Val()), int(ord.Val())

	val := omnimap.ByteArray(e.Val)
	if err := val.ReadFrom(r.reader); err != nil {
		return badFormat(err, "reading value failed")
	}
	e.Val = val
	return nil
}

func badFormat(err error, msg string) error {
	switch errorsp.Cause(err) {
	case io.EOF, io.ErrUnexpectedEOF:
		return errorsp.WithStacksAndMessage(omnimap.ErrBadFormat, "%s: %v", msg, err)
	}
	return errorsp.WithStacksAndMessage(err, msg)
}
