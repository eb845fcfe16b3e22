/*
Package mr implements omnimap's single-host MapReduce pipeline: input lines
are mapped by a user-supplied script, the emissions are buffered, sorted and
spilled to disk-resident runs, a k-way merge rebuilds global key order, and
a batched reduction with a rereduce tree produces one final value per key.

A word count over stdin looks like this:

	builder, err := script.NewBuilder("wc.js", code)
	if err != nil {
		log.Fatalf("script.NewBuilder failed: %v", err)
	}
	job := mr.Job{
		NewEvaluatorF: builder.NewEvaluator,
		Source:        os.Stdin,
		Dest:          os.Stdout,
		Conf: mr.Config{
			MemoryBudget: 1024 * 1024,
			BatchSize:    256,
			Workers:      runtime.NumCPU(),
			TempDir:      omnimap.LocalFsPath(dir),
		},
	}
	if err := job.Run(); err != nil {
		log.Fatalf("job.Run failed: %v", err)
	}

The pipeline is deterministic: an emission is ordered by its (line, ord)
sequence, so identical input and configuration produce byte-identical
output regardless of worker scheduling.
*/
package mr

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/golangplus/errors"

	"github.com/zisismaras/omnimap"
)

// A KV is one key/value emission produced by the mapping step.
type KV struct {
	Key   string
	Value string
}

// Evaluator is the narrow contract to the embedded script host. The engine
// never depends on scripting-language internals, only on these two entry
// points.
//
// Map is invoked once per input line and returns the emissions of the
// user's map function in emit order. Reduce is invoked once per batch;
// values are raw mapped values when rereduce is false and prior partial
// results when true, and the returned value must combine them into one.
type Evaluator interface {
	Map(line int, text string) ([]KV, error)
	Reduce(key string, values []string, rereduce bool) (string, error)
}

// Order is the key ordering of the output.
type Order int

const (
	Asc Order = iota
	Desc
)

// Config holds the engine tunables. All fields except Order must be set.
type Config struct {
	// MemoryBudget is the number of buffered emission bytes a map worker
	// holds before spilling a sorted run to disk.
	MemoryBudget int
	// BatchSize is the maximum number of values or partial results passed
	// to one reduction call.
	BatchSize int
	// Workers is the number of map workers and the size of the reduction
	// evaluator pool.
	Workers int
	// Order is the key ordering of the output, ascending by default.
	Order Order
	// TempDir is where run files are written. It is created if missing;
	// run files are removed when the job ends.
	TempDir omnimap.FsPath
}

func (c *Config) check() error {
	if c.MemoryBudget <= 0 {
		return ConfigError(fmt.Sprintf("memory budget must be positive, got %d", c.MemoryBudget))
	}
	if c.BatchSize <= 0 {
		return ConfigError(fmt.Sprintf("batch size must be positive, got %d", c.BatchSize))
	}
	if c.Workers <= 0 {
		return ConfigError(fmt.Sprintf("worker count must be positive, got %d", c.Workers))
	}
	if c.Order != Asc && c.Order != Desc {
		return ConfigError(fmt.Sprintf("unknown output order %d", c.Order))
	}
	if c.TempDir.Fs == nil {
		return ConfigError("temp dir undefined")
	}
	return nil
}

// A Job maps the lines of Source with the user script and writes one
// "key<TAB>value" line per key to Dest, keys in total order.
type Job struct {
	// The factory for Evaluators. It is called once per worker; each
	// returned Evaluator is only ever used from one goroutine at a time.
	NewEvaluatorF func() (Evaluator, error)

	// The line-oriented input stream.
	Source io.Reader
	// The output stream.
	Dest io.Writer

	Conf Config
}

// Run executes the job. Any script, I/O or config error is fatal: the run
// aborts and no further output is emitted.
func (job *Job) Run() error {
	if job.NewEvaluatorF == nil {
		return errors.New("Job: NewEvaluatorF undefined!")
	}
	if job.Source == nil {
		return errors.New("Job: Source undefined!")
	}
	if job.Dest == nil {
		return errors.New("Job: Dest undefined!")
	}
	conf := job.Conf
	if err := conf.check(); err != nil {
		return err
	}
	if err := conf.TempDir.Mkdir(0755); err != nil {
		return errorsp.WithStacksAndMessage(err, "creating temp dir failed")
	}

	// Building an evaluator validates the user script, so a broken script
	// fails here, before any input is consumed.
	evals := make([]Evaluator, conf.Workers)
	for i := range evals {
		ev, err := job.NewEvaluatorF()
		if err != nil {
			return err
		}
		evals[i] = ev
	}

	cmp := keyCompare(conf.Order)
	spillers := make([]*spiller, conf.Workers)
	for i := range spillers {
		spillers[i] = newSpiller(conf.TempDir, i, conf.MemoryBudget, cmp)
	}
	defer func() {
		// runs are engine-owned temp files, removed best-effort
		for _, sp := range spillers {
			for _, fp := range sp.paths {
				fp.Remove()
			}
		}
	}()

	log.Println("Start mapping...")
	if err := job.runMap(conf, evals, spillers); err != nil {
		return err
	}

	log.Println("Map ends, begin to reduce")
	if err := job.runReduce(conf, evals, spillers, cmp); err != nil {
		return err
	}
	log.Println("Reduce ends.")
	return nil
}

type mapTask struct {
	line int
	text string
}

// runMap reads input lines and fans them out to a pool of map workers,
// each owning one evaluator and one spilling emission buffer.
func (job *Job) runMap(conf Config, evals []Evaluator, spillers []*spiller) error {
	lines := make(chan mapTask, conf.Workers)
	stop := make(chan struct{})
	var stopOnce sync.Once
	fail := func() {
		stopOnce.Do(func() {
			close(stop)
		})
	}

	ends := make([]chan error, conf.Workers)
	for i := range ends {
		ends[i] = make(chan error, 1)
		go func(sp *spiller, ev Evaluator, end chan error) {
			end <- func() error {
				for task := range lines {
					kvs, err := ev.Map(task.line, task.text)
					if err != nil {
						fail()
						return &ScriptError{Phase: PhaseMap, Line: task.line, Err: err}
					}
					for ord, kv := range kvs {
						if err := sp.add(kv.Key, kv.Value, task.line, ord); err != nil {
							fail()
							return err
						}
					}
				}
				// end of input flushes the leftovers as a final run
				return sp.flush()
			}()
		}(spillers[i], evals[i], ends[i])
	}

	var readErr error
	br := bufio.NewReader(job.Source)
	lineNo := 0
loop:
	for {
		text, err := br.ReadString('\n')
		if len(text) > 0 {
			if text[len(text)-1] == '\n' {
				text = text[:len(text)-1]
			}
			lineNo++
			select {
			case lines <- mapTask{line: lineNo, text: text}:
			case <-stop:
				break loop
			}
		}
		if err != nil {
			if err != io.EOF {
				readErr = errorsp.WithStacksAndMessage(err, "reading input failed")
			}
			break
		}
	}
	close(lines)

	var firstErr error
	for _, end := range ends {
		if err := <-end; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return firstErr
	}
	return readErr
}

// runReduce merges all runs into grouped key order, reduces each group to
// its final value and writes the results to Dest.
func (job *Job) runReduce(conf Config, evals []Evaluator, spillers []*spiller, cmp func(a, b []byte) int) error {
	var paths []omnimap.FsPath
	for _, sp := range spillers {
		paths = append(paths, sp.paths...)
	}
	merger, err := NewMerger(paths, cmp)
	if err != nil {
		return err
	}
	defer merger.Close()

	pool := make(chan Evaluator, len(evals))
	for _, ev := range evals {
		pool <- ev
	}
	driver := &reduceDriver{batchSize: conf.BatchSize, pool: pool}

	out := bufio.NewWriter(job.Dest)
	iterErr := merger.Iterate(func(key []byte, next ValueIterator) error {
		final, err := driver.reduceGroup(string(key), next)
		if err != nil {
			return err
		}
		return writeResult(out, key, final)
	})
	// flushed even on fatal error, so already-completed results are not
	// silently lost in the buffer
	if err := out.Flush(); err != nil && iterErr == nil {
		iterErr = errorsp.WithStacksAndMessage(err, "flushing output failed")
	}
	return iterErr
}

func writeResult(out *bufio.Writer, key []byte, val string) error {
	if _, err := out.Write(key); err != nil {
		return errorsp.WithStacksAndMessage(err, "writing output failed")
	}
	if err := out.WriteByte('\t'); err != nil {
		return errorsp.WithStacksAndMessage(err, "writing output failed")
	}
	if _, err := out.WriteString(val); err != nil {
		return errorsp.WithStacksAndMessage(err, "writing output failed")
	}
	if err := out.WriteByte('\n'); err != nil {
		return errorsp.WithStacksAndMessage(err, "writing output failed")
	}
	return nil
}
