/*
Package omnimap provides the shared primitives of the omnimap MapReduce
engine: the binary codec used by run files and the file-system abstraction
the engine stores its temporary runs on.

The codec is a simple varint-based format:

	VInt       base-128 varint, low bits first
	ByteArray  vint(len) followed by len raw bytes
*/
package omnimap

import (
	"errors"
	"fmt"
	"io"
)

var (
	// EOF is returned by readers and iterators when no more records are
	// available.
	EOF = errors.New("EOF")
	// ErrBadFormat is returned when a run file does not match the expected
	// layout.
	ErrBadFormat = errors.New("bad run format")
)

// Reader is the interface required to decode codec values.
type Reader interface {
	io.Reader
	io.ByteReader
}

// ReadCloser is a closable Reader.
type ReadCloser interface {
	Reader
	io.Closer
}

// Writer is the interface required to encode codec values.
type Writer interface {
	io.Writer
	io.ByteWriter
}

// WriteCloser is a closable Writer.
type WriteCloser interface {
	Writer
	io.Closer
}

// VInt is an unsigned integer serialized as a base-128 varint.
type VInt uint64

func (i VInt) WriteTo(w Writer) error {
	var arr [10]byte
	n := 0
	for i > 0x7f {
		arr[n] = byte(i&0x7f) | 0x80
		n++
		i >>= 7
	}
	arr[n] = byte(i)
	n++
	_, err := w.Write(arr[:n])
	return err
}

// ReadFrom decodes a varint. io.EOF is only returned when the stream ends
// before the first byte; a continuation bit with no byte following it is
// io.ErrUnexpectedEOF.
func (i *VInt) ReadFrom(r Reader) error {
	var v VInt
	b, err := r.ReadByte()
	if err != nil {
		return err
	}
	v = VInt(b & 0x7f)
	for n := VInt(7); b&0x80 != 0; n += 7 {
		b, err = r.ReadByte()
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return err
		}
		v |= VInt(b&0x7f) << n
	}
	*i = v
	return nil
}

func (i *VInt) Val() int64 {
	return int64(*i)
}

func (i *VInt) String() string {
	return fmt.Sprint(*i)
}

// ByteArray is a byte sequence serialized with a VInt length prefix.
type ByteArray []byte

func (ba ByteArray) WriteTo(w Writer) error {
	if err := VInt(len(ba)).WriteTo(w); err != nil {
		return err
	}
	_, err := w.Write(ba)
	return err
}

// ReadFrom reads a length-prefixed byte sequence, reusing the backing array
// when it is large enough. io.EOF is only returned when the stream ends
// before the length prefix; once the prefix is consumed, a missing or short
// body is io.ErrUnexpectedEOF.
func (ba *ByteArray) ReadFrom(r Reader) error {
	var l VInt
	if err := l.ReadFrom(r); err != nil {
		return err
	}
	if VInt(cap(*ba)) < l {
		*ba = make(ByteArray, l)
	}
	if VInt(len(*ba)) != l {
		*ba = (*ba)[:l]
	}
	if _, err := io.ReadFull(r, *ba); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return err
	}
	return nil
}
