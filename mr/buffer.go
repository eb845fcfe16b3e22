package mr

import (
	"fmt"
	"sort"

	"github.com/golangplus/bytes"
	"github.com/golangplus/errors"

	"github.com/daviddengcn/go-villa"
	"github.com/zisismaras/omnimap"
	"github.com/zisismaras/omnimap/run"
)

func bytesCmp(a, b []byte) int {
	for i := range a {
		if i >= len(b) {
			return 1
		}
		if a[i] < b[i] {
			return -1
		}
		if a[i] > b[i] {
			return 1
		}
	}
	if len(b) > len(a) {
		return -1
	}
	// equal
	return 0
}

// keyCompare returns the key comparator for an output order. The sequence
// part of the emission order is never reversed, only the key part.
func keyCompare(o Order) func(a, b []byte) int {
	if o == Desc {
		return func(a, b []byte) int {
			return -bytesCmp(a, b)
		}
	}
	return bytesCmp
}

// memBuffer holds buffered emissions in a single byte slice with parallel
// offset columns. Layout per emission i: key bytes in
// buf[keyOffs[i]:keyEnds[i]], value bytes in buf[keyEnds[i]:valEnds[i]].
type memBuffer struct {
	buf     bytesp.Slice
	keyOffs villa.IntSlice
	keyEnds villa.IntSlice
	valEnds villa.IntSlice
	lines   villa.IntSlice
	ords    villa.IntSlice
	cmp     func(a, b []byte) int
}

func (b *memBuffer) add(key, val string, line, ord int) {
	b.keyOffs.Add(len(b.buf))
	b.buf = append(b.buf, key...)
	b.keyEnds.Add(len(b.buf))
	b.buf = append(b.buf, val...)
	b.valEnds.Add(len(b.buf))
	b.lines.Add(line)
	b.ords.Add(ord)
}

func (b *memBuffer) key(i int) []byte {
	return b.buf[b.keyOffs[i]:b.keyEnds[i]]
}

func (b *memBuffer) val(i int) []byte {
	return b.buf[b.keyEnds[i]:b.valEnds[i]]
}

func (b *memBuffer) byteSize() int {
	return len(b.buf)
}

func (b *memBuffer) reset() {
	b.buf = b.buf[:0]
	b.keyOffs = b.keyOffs[:0]
	b.keyEnds = b.keyEnds[:0]
	b.valEnds = b.valEnds[:0]
	b.lines = b.lines[:0]
	b.ords = b.ords[:0]
}

// sort.Interface, ordering by (key, line, ord). The triple is unique per
// emission, so the sort needs no stability.
func (b *memBuffer) Len() int {
	return len(b.keyOffs)
}

func (b *memBuffer) Less(i, j int) bool {
	if c := b.cmp(b.key(i), b.key(j)); c != 0 {
		return c < 0
	}
	if b.lines[i] != b.lines[j] {
		return b.lines[i] < b.lines[j]
	}
	return b.ords[i] < b.ords[j]
}

func (b *memBuffer) Swap(i, j int) {
	b.keyOffs.Swap(i, j)
	b.keyEnds.Swap(i, j)
	b.valEnds.Swap(i, j)
	b.lines.Swap(i, j)
	b.ords.Swap(i, j)
}

// A spiller owns one worker's emission buffer and turns it into sorted run
// files whenever the memory budget is exceeded.
type spiller struct {
	buf    memBuffer
	budget int
	dir    omnimap.FsPath
	worker int
	seq    int
	paths  []omnimap.FsPath
}

func newSpiller(dir omnimap.FsPath, worker, budget int, cmp func(a, b []byte) int) *spiller {
	return &spiller{
		buf:    memBuffer{cmp: cmp},
		budget: budget,
		dir:    dir,
		worker: worker,
	}
}

func (s *spiller) add(key, val string, line, ord int) error {
	s.buf.add(key, val, line, ord)
	if s.buf.byteSize() >= s.budget {
		return s.spill()
	}
	return nil
}

// spill sorts the buffered emissions and writes them out as a new run.
func (s *spiller) spill() error {
	if s.buf.Len() == 0 {
		return nil
	}
	sort.Sort(&s.buf)

	fp := s.dir.Join(fmt.Sprintf("run-%03d-%05d", s.worker, s.seq))
	w, err := run.NewWriter(fp)
	if err != nil {
		return err
	}
	for i := 0; i < s.buf.Len(); i++ {
		if err := w.Collect(run.Emission{
			Key:  s.buf.key(i),
			Line: s.buf.lines[i],
			Ord:  s.buf.ords[i],
			Val:  s.buf.val(i),
		}); err != nil {
			w.Close()
			return errorsp.WithStacksAndMessage(err, "spilling to %s failed", fp.Path)
		}
	}
	if err := w.Close(); err != nil {
		return errorsp.WithStacksAndMessage(err, "closing run %s failed", fp.Path)
	}
	s.seq++
	s.paths = append(s.paths, fp)
	s.buf.reset()
	return nil
}

// flush writes any leftover emissions as a final (possibly small) run, so
// the merger sees a uniform set of runs regardless of total data size.
func (s *spiller) flush() error {
	return s.spill()
}
