package mr

import (
	"fmt"
	"testing"

	"github.com/golangplus/errors"
	"github.com/golangplus/testing/assert"

	"github.com/zisismaras/omnimap"
	"github.com/zisismaras/omnimap/run"
)

func writeRun(t *testing.T, fp omnimap.FsPath, emissions []run.Emission) {
	w, err := run.NewWriter(fp)
	assert.NoError(t, err)
	for _, e := range emissions {
		assert.NoError(t, w.Collect(e))
	}
	assert.NoError(t, w.Close())
}

func collectGroups(t *testing.T, m *Merger) map[string][]string {
	groups := make(map[string][]string)
	var order []string
	assert.NoError(t, m.Iterate(func(key []byte, next ValueIterator) error {
		k := string(key)
		order = append(order, k)
		for {
			v, err := next()
			if errorsp.Cause(err) == omnimap.EOF {
				break
			}
			if err != nil {
				return err
			}
			groups[k] = append(groups[k], v)
		}
		return nil
	}))
	// groups must arrive once each, in order
	for i := 1; i < len(order); i++ {
		if order[i-1] >= order[i] {
			t.Errorf("group order violated: %q before %q", order[i-1], order[i])
		}
	}
	return groups
}

func TestMergerInterleavedRuns(t *testing.T) {
	dir := omnimap.LocalFsPath(t.TempDir())
	e := func(key string, line, ord int, val string) run.Emission {
		return run.Emission{Key: []byte(key), Line: line, Ord: ord, Val: []byte(val)}
	}
	writeRun(t, dir.Join("run-000-00000"), []run.Emission{
		e("a", 1, 0, "a1"),
		e("b", 1, 1, "b1"),
		e("b", 4, 0, "b4"),
	})
	writeRun(t, dir.Join("run-001-00000"), []run.Emission{
		e("b", 2, 0, "b2"),
		e("c", 2, 1, "c2"),
	})
	writeRun(t, dir.Join("run-002-00000"), []run.Emission{
		e("b", 3, 0, "b3"),
	})

	m, err := NewMerger([]omnimap.FsPath{
		dir.Join("run-000-00000"),
		dir.Join("run-001-00000"),
		dir.Join("run-002-00000"),
	}, keyCompare(Asc))
	assert.NoError(t, err)

	groups := collectGroups(t, m)
	assert.Equal(t, "groups", len(groups), 3)
	assert.Equal(t, "a", groups["a"], []string{"a1"})
	assert.Equal(t, "b", groups["b"], []string{"b1", "b2", "b3", "b4"})
	assert.Equal(t, "c", groups["c"], []string{"c2"})
}

func TestMergerSkipsEmptyRun(t *testing.T) {
	dir := omnimap.LocalFsPath(t.TempDir())
	writeRun(t, dir.Join("empty"), nil)
	writeRun(t, dir.Join("full"), []run.Emission{
		{Key: []byte("k"), Line: 1, Ord: 0, Val: []byte("v")},
	})

	m, err := NewMerger([]omnimap.FsPath{dir.Join("empty"), dir.Join("full")}, keyCompare(Asc))
	assert.NoError(t, err)
	groups := collectGroups(t, m)
	assert.Equal(t, "k", groups["k"], []string{"v"})
}

func TestMergerDrainsUnconsumedGroup(t *testing.T) {
	dir := omnimap.LocalFsPath(t.TempDir())
	var es []run.Emission
	for i := 0; i < 10; i++ {
		es = append(es, run.Emission{Key: []byte("big"), Line: i + 1, Ord: 0, Val: []byte(fmt.Sprint(i))})
	}
	es = append(es, run.Emission{Key: []byte("last"), Line: 11, Ord: 0, Val: []byte("x")})
	writeRun(t, dir.Join("r"), es)

	m, err := NewMerger([]omnimap.FsPath{dir.Join("r")}, keyCompare(Asc))
	assert.NoError(t, err)

	var keys []string
	assert.NoError(t, m.Iterate(func(key []byte, next ValueIterator) error {
		keys = append(keys, string(key))
		// read a single value and return, the merger must drain the rest
		_, err := next()
		if errorsp.Cause(err) == omnimap.EOF {
			return nil
		}
		return err
	}))
	assert.Equal(t, "keys", keys, []string{"big", "last"})
}

func TestMergerNoRuns(t *testing.T) {
	m, err := NewMerger(nil, keyCompare(Asc))
	assert.NoError(t, err)
	called := false
	assert.NoError(t, m.Iterate(func(key []byte, next ValueIterator) error {
		called = true
		return nil
	}))
	assert.True(t, "not called", !called)
}
