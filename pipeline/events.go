package pipeline

// Event reports one state transition. Result is set when the transition
// ends a stage, Err when it moves to Failed.
type Event struct {
	Err    error
	Result *StageResult
	From   State
	To     State
}

// Observer receives events synchronously, in order, on the goroutine
// calling Run. It must not block for long.
type Observer func(Event)
