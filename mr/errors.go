package mr

import "fmt"

// Phase identifies the pipeline stage an error occurred in.
type Phase int

const (
	PhaseMap Phase = iota
	PhaseReduce
	PhaseRereduce
)

func (p Phase) String() string {
	switch p {
	case PhaseMap:
		return "map"
	case PhaseReduce:
		return "reduce"
	case PhaseRereduce:
		return "rereduce"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// ScriptError reports a failure inside the user's map or reduce function.
// It is fatal for the whole job: no output is emitted once one occurs.
type ScriptError struct {
	Phase Phase
	// Line is the 1-based input line number, set for PhaseMap only.
	Line int
	// Key is the group key, set for PhaseReduce and PhaseRereduce.
	Key string
	Err error
}

func (e *ScriptError) Error() string {
	if e.Phase == PhaseMap {
		return fmt.Sprintf("script error in map at line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("script error in %v for key %q: %v", e.Phase, e.Key, e.Err)
}

func (e *ScriptError) Unwrap() error {
	return e.Err
}

// ConfigError reports an invalid tunable value.
type ConfigError string

func (e ConfigError) Error() string {
	return string(e)
}
