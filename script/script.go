/*
Package script hosts the user's map/reduce JavaScript and implements the
engine's Evaluator contract on top of it.

A script must define two functions:

	function map(key, value)              // key is the line number as a
	                                      // string, value the line text;
	                                      // may call emit(key, value)
	function reduce(key, values, rereduce) // returns one combined value

The host provides emit() and a sum() helper. Keys and values cross the
boundary as strings: emit JSON-stringifies anything that is not already a
string, and so does the reduce return value, which keeps numeric output in
canonical form.
*/
package script

import (
	"strconv"

	"github.com/dop251/goja"
	"github.com/golangplus/errors"

	"github.com/zisismaras/omnimap/mr"
)

// Builder compiles the user script once and stamps out one isolated
// JavaScript runtime per engine worker.
type Builder struct {
	prog *goja.Program
}

// NewBuilder compiles src. name is only used in script error messages.
func NewBuilder(name, src string) (*Builder, error) {
	prog, err := goja.Compile(name, src, false)
	if err != nil {
		return nil, errorsp.WithStacksAndMessage(err, "could not compile script")
	}
	return &Builder{prog: prog}, nil
}

// NewEvaluator creates a fresh runtime, loads the user code into it and
// checks that the map and reduce entry points are defined, so a broken
// script fails before any input is processed. The returned Evaluator must
// not be used concurrently.
func (b *Builder) NewEvaluator() (mr.Evaluator, error) {
	vm := goja.New()
	ev := &evaluator{vm: vm}
	if err := vm.Set("emit", ev.emit); err != nil {
		return nil, errorsp.WithStacks(err)
	}
	if err := vm.Set("sum", ev.sum); err != nil {
		return nil, errorsp.WithStacks(err)
	}
	if _, err := vm.RunProgram(b.prog); err != nil {
		return nil, errorsp.WithStacksAndMessage(err, "could not evaluate script")
	}

	mapFn, ok := goja.AssertFunction(vm.Get("map"))
	if !ok {
		return nil, errorsp.NewWithStacks("no map() function defined in the script")
	}
	reduceFn, ok := goja.AssertFunction(vm.Get("reduce"))
	if !ok {
		return nil, errorsp.NewWithStacks("no reduce() function defined in the script")
	}
	stringify, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("stringify"))
	if !ok {
		return nil, errorsp.NewWithStacks("runtime is missing JSON.stringify")
	}

	ev.mapFn, ev.reduceFn, ev.stringify = mapFn, reduceFn, stringify
	return ev, nil
}

type evaluator struct {
	vm        *goja.Runtime
	mapFn     goja.Callable
	reduceFn  goja.Callable
	stringify goja.Callable

	emitted []mr.KV
	emitErr error
}

// Map runs the user's map function for one input line and returns its
// emissions in emit order.
func (ev *evaluator) Map(line int, text string) ([]mr.KV, error) {
	ev.emitted = ev.emitted[:0]
	ev.emitErr = nil
	_, err := ev.mapFn(goja.Undefined(),
		ev.vm.ToValue(strconv.Itoa(line)), ev.vm.ToValue(text))
	if err != nil {
		return nil, errorsp.WithStacks(err)
	}
	if ev.emitErr != nil {
		return nil, ev.emitErr
	}
	out := make([]mr.KV, len(ev.emitted))
	copy(out, ev.emitted)
	return out, nil
}

// Reduce runs the user's reduce function on one batch.
func (ev *evaluator) Reduce(key string, values []string, rereduce bool) (string, error) {
	items := make([]interface{}, len(values))
	for i, v := range values {
		items[i] = v
	}
	result, err := ev.reduceFn(goja.Undefined(),
		ev.vm.ToValue(key), ev.vm.NewArray(items...), ev.vm.ToValue(rereduce))
	if err != nil {
		return "", errorsp.WithStacks(err)
	}
	return ev.coerce(result)
}

// emit collects one key/value pair from inside the user's map function.
func (ev *evaluator) emit(call goja.FunctionCall) goja.Value {
	key, err := ev.coerce(call.Argument(0))
	if err != nil {
		ev.emitErr = err
		return goja.Undefined()
	}
	val, err := ev.coerce(call.Argument(1))
	if err != nil {
		ev.emitErr = err
		return goja.Undefined()
	}
	ev.emitted = append(ev.emitted, mr.KV{Key: key, Value: val})
	return goja.Undefined()
}

// coerce turns a script value into its string form: strings pass through,
// anything else is JSON-stringified.
func (ev *evaluator) coerce(v goja.Value) (string, error) {
	if s, ok := v.Export().(string); ok {
		return s, nil
	}
	res, err := ev.stringify(goja.Undefined(), v)
	if err != nil {
		return "", errorsp.WithStacks(err)
	}
	if goja.IsUndefined(res) {
		return "null", nil
	}
	return res.String(), nil
}

// sum adds up a numeric sequence. It works like sum([1,2,3]), sum(1,2,3)
// or sum(...values); numeric strings are parsed, anything invalid counts
// as 0.
func (ev *evaluator) sum(call goja.FunctionCall) goja.Value {
	total := 0
	if arr, ok := call.Argument(0).Export().([]interface{}); ok {
		for _, it := range arr {
			total += toInt(it)
		}
		return ev.vm.ToValue(total)
	}
	for _, a := range call.Arguments {
		total += toInt(a.Export())
	}
	return ev.vm.ToValue(total)
}

func toInt(v interface{}) int {
	switch x := v.(type) {
	case string:
		n, _ := strconv.Atoi(x)
		return n
	case int64:
		return int(x)
	}
	return 0
}
