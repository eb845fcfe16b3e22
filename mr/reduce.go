package mr

import (
	"sync"

	"github.com/golangplus/errors"

	"github.com/zisismaras/omnimap"
)

// reduceDriver applies the user reduction step to one group at a time:
// first-level batches of at most batchSize values, then a bounded-fan-in
// rereduce tree over the partial results until exactly one remains.
//
// Batches within one level run in parallel on the evaluator pool; results
// are placed by batch index, so the tree shape (and therefore the final
// value of any reduction honoring the rereduce contract) does not depend
// on scheduling.
type reduceDriver struct {
	batchSize int
	pool      chan Evaluator
}

// reduceGroup returns the final value for one key.
func (d *reduceDriver) reduceGroup(key string, next ValueIterator) (string, error) {
	partials, err := d.runLevel(key, d.groupBatches(next), false)
	if err != nil {
		return "", err
	}
	// a rereduce level must shrink the partial list or the tree never
	// bottoms out, so its fan-in is at least 2 even when batchSize is 1
	fanIn := d.batchSize
	if fanIn < 2 {
		fanIn = 2
	}
	for len(partials) > 1 {
		partials, err = d.runLevel(key, sliceBatches(partials, fanIn), true)
		if err != nil {
			return "", err
		}
	}
	// a group always holds at least one emission, so exactly one partial
	// survives
	return partials[0], nil
}

// groupBatches pulls batches of at most batchSize values from a group's
// lazy iterator, so a key with arbitrarily many values is never fully
// materialized.
func (d *reduceDriver) groupBatches(next ValueIterator) func() ([]string, error) {
	return func() ([]string, error) {
		var batch []string
		for len(batch) < d.batchSize {
			v, err := next()
			if err != nil {
				if errorsp.Cause(err) == omnimap.EOF {
					break
				}
				return nil, err
			}
			batch = append(batch, v)
		}
		if len(batch) == 0 {
			return nil, nil
		}
		return batch, nil
	}
}

// sliceBatches chunks an in-memory partial-result list into batches of at
// most size.
func sliceBatches(values []string, size int) func() ([]string, error) {
	i := 0
	return func() ([]string, error) {
		if i >= len(values) {
			return nil, nil
		}
		j := i + size
		if j > len(values) {
			j = len(values)
		}
		batch := values[i:j]
		i = j
		return batch, nil
	}
}

// runLevel runs one level of the reduction tree: every batch yielded by
// nextBatch is handed to the reduction step on a pooled evaluator, and the
// partial results are collected in batch order.
func (d *reduceDriver) runLevel(key string, nextBatch func() ([]string, error), rereduce bool) ([]string, error) {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		partials []string
		errIdx   = -1
		callErr  error
	)
	for idx := 0; ; idx++ {
		mu.Lock()
		failed := errIdx >= 0
		mu.Unlock()
		if failed {
			break
		}

		batch, err := nextBatch()
		if err != nil {
			wg.Wait()
			return nil, err
		}
		if batch == nil {
			break
		}

		ev := <-d.pool
		wg.Add(1)
		go func(idx int, batch []string, ev Evaluator) {
			defer wg.Done()
			result, err := ev.Reduce(key, batch, rereduce)
			d.pool <- ev

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if errIdx < 0 || idx < errIdx {
					errIdx, callErr = idx, err
				}
				return
			}
			for len(partials) <= idx {
				partials = append(partials, "")
			}
			partials[idx] = result
		}(idx, batch, ev)
	}
	wg.Wait()

	if errIdx >= 0 {
		phase := PhaseReduce
		if rereduce {
			phase = PhaseRereduce
		}
		return nil, &ScriptError{Phase: phase, Key: key, Err: callErr}
	}
	return partials, nil
}
