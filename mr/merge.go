package mr

import (
	"container/heap"

	"github.com/golangplus/errors"

	"github.com/zisismaras/omnimap"
	"github.com/zisismaras/omnimap/run"
)

// A ValueIterator yields the values of one group in emission order. It
// returns omnimap.EOF when the group is exhausted.
type ValueIterator func() (string, error)

// cursor is the read position of one run inside the merge.
type cursor struct {
	idx int
	r   *run.Reader
	cur run.Emission
}

type mergeHeap struct {
	cs  []*cursor
	cmp func(a, b []byte) int
}

func (h *mergeHeap) Len() int {
	return len(h.cs)
}

func (h *mergeHeap) Less(i, j int) bool {
	a, b := h.cs[i].cur, h.cs[j].cur
	if c := h.cmp(a.Key, b.Key); c != 0 {
		return c < 0
	}
	if a.Line != b.Line {
		return a.Line < b.Line
	}
	if a.Ord != b.Ord {
		return a.Ord < b.Ord
	}
	// (key, line, ord) is unique across runs
	return h.cs[i].idx < h.cs[j].idx
}

func (h *mergeHeap) Swap(i, j int) {
	h.cs[i], h.cs[j] = h.cs[j], h.cs[i]
}

func (h *mergeHeap) Push(x interface{}) {
	h.cs = append(h.cs, x.(*cursor))
}

func (h *mergeHeap) Pop() interface{} {
	c := h.cs[len(h.cs)-1]
	h.cs = h.cs[:len(h.cs)-1]
	return c
}

// A Merger performs a k-way merge over sorted runs, reconstructing global
// (key, line, ord) order and delivering equal keys as consecutive groups.
// Memory use is one buffered head emission per run.
type Merger struct {
	h mergeHeap
}

// NewMerger opens all runs and positions a cursor at the head of each.
func NewMerger(paths []omnimap.FsPath, cmp func(a, b []byte) int) (*Merger, error) {
	m := &Merger{h: mergeHeap{cmp: cmp}}
	for i, fp := range paths {
		r, err := run.NewReader(fp)
		if err != nil {
			m.Close()
			return nil, err
		}
		c := &cursor{idx: i, r: r}
		if err := r.Next(&c.cur); err != nil {
			if errorsp.Cause(err) == omnimap.EOF {
				// empty run, nothing to merge from it
				r.Close()
				continue
			}
			r.Close()
			m.Close()
			return nil, err
		}
		m.h.cs = append(m.h.cs, c)
	}
	heap.Init(&m.h)
	return m, nil
}

// step returns the value of the minimal emission and advances its run,
// dropping the run once it is exhausted.
func (m *Merger) step() (string, error) {
	top := m.h.cs[0]
	val := string(top.cur.Val)
	if err := top.r.Next(&top.cur); err != nil {
		if errorsp.Cause(err) != omnimap.EOF {
			return "", err
		}
		heap.Pop(&m.h)
		if err := top.r.Close(); err != nil {
			return "", err
		}
	} else {
		heap.Fix(&m.h, 0)
	}
	return val, nil
}

// Iterate calls handle once per group, in key order. The ValueIterator
// passed to handle is only valid during that call; any values the handler
// leaves unconsumed are drained so the next group starts clean.
func (m *Merger) Iterate(handle func(key []byte, next ValueIterator) error) error {
	for len(m.h.cs) > 0 {
		key := append([]byte(nil), m.h.cs[0].cur.Key...)
		done := false
		next := func() (string, error) {
			if done {
				return "", omnimap.EOF
			}
			if len(m.h.cs) == 0 || m.h.cmp(m.h.cs[0].cur.Key, key) != 0 {
				done = true
				return "", omnimap.EOF
			}
			return m.step()
		}

		if err := handle(key, ValueIterator(next)); err != nil {
			return err
		}
		// the handler could return before iterating all values
		for !done {
			if _, err := next(); err != nil && errorsp.Cause(err) != omnimap.EOF {
				return err
			}
		}
	}
	return nil
}

// Close closes any still-open runs. Iterate closes runs as it exhausts
// them, so this only matters on early abort.
func (m *Merger) Close() error {
	var err error
	for _, c := range m.h.cs {
		if e := c.r.Close(); e != nil {
			err = e
		}
	}
	m.h.cs = nil
	return err
}
