package run

import (
	"fmt"
	"testing"

	"github.com/golangplus/errors"
	"github.com/golangplus/testing/assert"

	"github.com/daviddengcn/go-villa"
	"github.com/zisismaras/omnimap"
)

func TestReaderWriter(t *testing.T) {
	fn := omnimap.LocalFsPath("./test.run")
	defer villa.Path(fn.Path).Remove()

	emissions := []Emission{
		{Key: []byte("characters"), Line: 1, Ord: 2, Val: []byte("3")},
		{Key: []byte("characters"), Line: 2, Ord: 2, Val: []byte("1")},
		{Key: []byte("lines"), Line: 1, Ord: 0, Val: []byte("1")},
		{Key: []byte("words"), Line: 1, Ord: 1, Val: []byte(`{"n":2}`)},
	}

	writer, err := NewWriter(fn)
	assert.NoError(t, err)
	for _, e := range emissions {
		assert.NoError(t, writer.Collect(e))
	}
	assert.NoError(t, writer.Close())

	reader, err := NewReader(fn)
	assert.NoError(t, err)
	var e Emission
	for i := 0; ; i++ {
		err := reader.Next(&e)
		if err == omnimap.EOF {
			assert.Equal(t, "records read", i, len(emissions))
			break
		}
		assert.NoError(t, err)
		assert.StringEqual(t, fmt.Sprintf("key[%d]", i), string(e.Key), string(emissions[i].Key))
		assert.Equal(t, fmt.Sprintf("line[%d]", i), e.Line, emissions[i].Line)
		assert.Equal(t, fmt.Sprintf("ord[%d]", i), e.Ord, emissions[i].Ord)
		assert.StringEqual(t, fmt.Sprintf("val[%d]", i), string(e.Val), string(emissions[i].Val))
	}
	assert.NoError(t, reader.Close())
}

func TestReaderEmptyFile(t *testing.T) {
	fn := omnimap.LocalFsPath("./empty.run")
	defer villa.Path(fn.Path).Remove()

	writer, err := NewWriter(fn)
	assert.NoError(t, err)
	assert.NoError(t, writer.Close())

	reader, err := NewReader(fn)
	assert.NoError(t, err)
	var e Emission
	assert.Equal(t, "err", reader.Next(&e), omnimap.EOF)
	assert.NoError(t, reader.Close())
}

func TestReaderTruncated(t *testing.T) {
	// one complete record followed by a record cut off at various points;
	// the tail must never be mistaken for a clean end of the run
	for i, c := range []struct {
		name string
		tail func(w omnimap.WriteCloser)
	}{
		{"orphan key", func(w omnimap.WriteCloser) {
			assert.NoError(t, omnimap.ByteArray("orphan").WriteTo(w))
		}},
		{"bare key-length prefix", func(w omnimap.WriteCloser) {
			assert.NoError(t, omnimap.VInt(6).WriteTo(w))
		}},
		{"key-length cut mid-varint", func(w omnimap.WriteCloser) {
			assert.NoError(t, w.WriteByte(0x80))
		}},
		{"partial key body", func(w omnimap.WriteCloser) {
			assert.NoError(t, omnimap.VInt(6).WriteTo(w))
			_, err := w.Write([]byte("orp"))
			assert.NoError(t, err)
		}},
	} {
		fn := omnimap.LocalFsPath(fmt.Sprintf("./truncated-%d.run", i))
		defer villa.Path(fn.Path).Remove()

		w, err := fn.Create()
		assert.NoError(t, err)
		assert.NoError(t, omnimap.ByteArray("words").WriteTo(w))
		assert.NoError(t, omnimap.VInt(1).WriteTo(w))
		assert.NoError(t, omnimap.VInt(0).WriteTo(w))
		assert.NoError(t, omnimap.ByteArray("3").WriteTo(w))
		c.tail(w)
		assert.NoError(t, w.Close())

		reader, err := NewReader(fn)
		assert.NoError(t, err)
		var e Emission
		assert.NoError(t, reader.Next(&e))
		assert.StringEqual(t, "key", string(e.Key), "words")

		err = reader.Next(&e)
		if errorsp.Cause(err) == omnimap.EOF {
			t.Errorf("%s: truncated record read as a clean end of run", c.name)
		}
		assert.Equal(t, c.name, errorsp.Cause(err), omnimap.ErrBadFormat)
		assert.NoError(t, reader.Close())
	}
}
