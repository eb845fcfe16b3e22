package mr

// EvaluatorStruct implements Evaluator with funcs.
type EvaluatorStruct struct {
	MapF    func(line int, text string) ([]KV, error)
	ReduceF func(key string, values []string, rereduce bool) (string, error)
}

// Evaluator interface
func (es *EvaluatorStruct) Map(line int, text string) ([]KV, error) {
	if es.MapF != nil {
		return es.MapF(line, text)
	}
	return nil, nil
}

// Evaluator interface
func (es *EvaluatorStruct) Reduce(key string, values []string, rereduce bool) (string, error) {
	if es.ReduceF != nil {
		return es.ReduceF(key, values, rereduce)
	}
	return "", nil
}

// SingleEvaluatorF returns a factory that always hands out the same
// Evaluator. Only suitable when the evaluator is safe to share, e.g. a
// stateless one with a single worker.
func SingleEvaluatorF(ev Evaluator) func() (Evaluator, error) {
	return func() (Evaluator, error) {
		return ev, nil
	}
}
