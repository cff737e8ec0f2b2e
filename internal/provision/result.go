package provision

import "time"

// StepResult records the outcome of one script step.
type StepResult struct {
	// Index is the zero-based position of the step in the script.
	Index int

	// Description is the step's configured description.
	Description string

	// Success is true when the step matched (or was fire-and-forget).
	Success bool

	// ConditionSkipped is true when the step's when-condition evaluated
	// false and the step never ran. Success is also true in that case.
	ConditionSkipped bool

	// Response is the filtered response text the matcher saw.
	Response string

	// Matched is the text matched by the winning pattern.
	Matched string

	// Captures holds the named groups recorded by this step.
	Captures map[string]string

	// Attempts is how many attempts were used (1 = first try).
	Attempts int

	// LinesReceived counts lines received across all attempts.
	LinesReceived int

	// Elapsed is the wall time the step consumed, including retries.
	Elapsed time.Duration

	// Err classifies the failure (ErrStepTimeout, ErrStepNoMatch,
	// ErrUnknownVariable, ErrTransport). Nil on success.
	Err error
}

// Result is the outcome of one script execution against one board.
type Result struct {
	// Script is the script name.
	Script string

	// Success is false only when an abort-disposition step failed, the
	// transport died, or the run was cancelled. Failures on skip or
	// continue steps leave it true.
	Success bool

	// StepsCompleted counts steps that ran and succeeded.
	StepsCompleted int

	// TotalSteps is the number of steps in the script.
	TotalSteps int

	// Captures is the merged capture map across all steps; when two
	// steps capture the same name the later step wins.
	Captures map[string]string

	// Steps holds the per-step outcomes in script order.
	Steps []StepResult

	// Err is the fatal error that stopped the script, if any.
	Err error

	// Elapsed is the total execution time.
	Elapsed time.Duration
}

// FailedStep returns the first step that ran and failed, or nil.
func (r *Result) FailedStep() *StepResult {
	for i := range r.Steps {
		s := &r.Steps[i]
		if !s.Success && !s.ConditionSkipped {
			return s
		}
	}
	return nil
}
