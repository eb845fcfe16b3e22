// Command omnimap runs a JavaScript-scripted MapReduce over stdin and
// writes one "key<TAB>value" line per key to stdout, keys in order.
//
//	omnimap [options] <script.js> < input.txt
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/daviddengcn/go-villa"

	"github.com/zisismaras/omnimap"
	"github.com/zisismaras/omnimap/mr"
	"github.com/zisismaras/omnimap/script"
)

var (
	bufferSize = flag.Int("buffer-size", 1024, "spill threshold per map worker in KB")
	batchSize  = flag.Int("batch-size", 256, "maximum number of values per reduce call")
	workers    = flag.Int("workers", runtime.NumCPU(), "number of worker goroutines")
	order      = flag.String("order", "asc", "key ordering of the output (asc or desc)")
	tempDir    = flag.String("temp-dir", os.TempDir(), "root directory for temporary run files")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [options] <script.js>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	log.SetPrefix("omnimap: ")
	log.SetFlags(0)

	if err := run(flag.Arg(0)); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(scriptFile string) error {
	code, err := os.ReadFile(scriptFile)
	if err != nil {
		return fmt.Errorf("could not read script file: %v", err)
	}
	builder, err := script.NewBuilder(scriptFile, string(code))
	if err != nil {
		return err
	}
	// fail fast on a broken script before touching the input
	if _, err := builder.NewEvaluator(); err != nil {
		return err
	}

	var ord mr.Order
	switch *order {
	case "asc":
		ord = mr.Asc
	case "desc":
		ord = mr.Desc
	default:
		return mr.ConfigError(fmt.Sprintf("unknown output order %q", *order))
	}

	dir, err := os.MkdirTemp(*tempDir, "omnimap-")
	if err != nil {
		return fmt.Errorf("could not create temp directory: %v", err)
	}
	defer villa.Path(dir).RemoveAll()

	job := mr.Job{
		NewEvaluatorF: builder.NewEvaluator,
		Source:        os.Stdin,
		Dest:          os.Stdout,
		Conf: mr.Config{
			MemoryBudget: 1024 * *bufferSize,
			BatchSize:    *batchSize,
			Workers:      *workers,
			Order:        ord,
			TempDir:      omnimap.LocalFsPath(dir),
		},
	}
	return job.Run()
}
