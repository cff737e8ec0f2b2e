package provision

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/expr-lang/expr"
)

// Session is the line transport the engine drives. serialio.Session
// implements it; tests use scripted fakes.
type Session interface {
	// Send writes raw bytes to the device.
	Send(ctx context.Context, data []byte) error

	// Lines is the channel of decoded response lines. A closed channel
	// means the transport died.
	Lines() <-chan string

	// Drain discards queued stale lines, returning how many.
	Drain() int
}

// Logger defines the logging interface used by the Engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// errSessionClosed signals transport death inside an attempt.
var errSessionClosed = errors.New("session closed")

// Engine executes provisioning scripts over a serial session.
//
// One engine serves one session. The orchestrator runs at most one
// Execute at a time; the engine itself spawns no goroutines.
type Engine struct {
	session Session
	logger  Logger
}

// NewEngine creates an engine bound to a session.
//
// Parameters:
//   - session: Line transport to the target board
//   - logger: Logger instance (nil for no logging)
func NewEngine(session Session, logger Logger) *Engine {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Engine{
		session: session,
		logger:  logger,
	}
}

// Execute runs the script against the session with the given variable
// context.
//
// The returned error is non-nil only when the run was cancelled (the
// context's error, with the partial result alongside) or when the
// script fails to compile. Every operational outcome - step failures,
// exhausted retries, transport death - is expressed in the Result, not
// the error.
func (e *Engine) Execute(ctx context.Context, script *Script, vars *Variables) (*Result, error) {
	if err := script.Compile(); err != nil {
		return nil, err
	}

	start := time.Now()
	result := &Result{
		Script:     script.Name,
		Success:    true,
		TotalSteps: len(script.Steps),
		Captures:   make(map[string]string),
	}

	e.logger.Debug("executing script", "script", script.Name, "steps", len(script.Steps))

	for i := range script.Steps {
		step := &script.Steps[i]

		sr, cancelErr := e.runStep(ctx, script, step, i, vars)
		result.Steps = append(result.Steps, sr)

		if cancelErr != nil {
			result.Success = false
			result.Err = cancelErr
			result.Elapsed = time.Since(start)
			return result, cancelErr
		}

		if sr.ConditionSkipped {
			e.logger.Debug("step condition false, skipped", "script", script.Name, "step", i)
			continue
		}

		if sr.Success {
			for name, val := range sr.Captures {
				result.Captures[name] = val
			}
			result.StepsCompleted++
			continue
		}

		// Transport death overrides any disposition.
		if errors.Is(sr.Err, ErrTransport) {
			e.logger.Error("transport failure, aborting script",
				"script", script.Name, "step", i, "error", sr.Err)
			result.Success = false
			result.Err = sr.Err
			break
		}

		switch script.stepOnFail(step) {
		case OnFailAbort:
			e.logger.Warn("step failed, aborting script",
				"script", script.Name, "step", i, "error", sr.Err)
			result.Success = false
			result.Err = sr.Err
		case OnFailSkip, OnFailContinue:
			e.logger.Warn("step failed, continuing",
				"script", script.Name, "step", i, "error", sr.Err)
			continue
		}
		break
	}

	result.Elapsed = time.Since(start)
	e.logger.Info("script finished",
		"script", script.Name,
		"success", result.Success,
		"steps_completed", result.StepsCompleted,
		"elapsed", result.Elapsed.String(),
	)
	return result, nil
}

// runStep executes one step including all its attempts.
//
// The second return value is non-nil only for context cancellation;
// every other failure is classified in sr.Err and left to the caller's
// disposition handling.
func (e *Engine) runStep(ctx context.Context, script *Script, step *Step, index int, vars *Variables) (sr StepResult, cancelErr error) {
	sr = StepResult{Index: index, Description: step.Description}
	stepStart := time.Now()
	defer func() { sr.Elapsed = time.Since(stepStart) }()

	// Condition gate
	if step.whenProgram != nil {
		out, err := expr.Run(step.whenProgram, vars.Env())
		if err != nil {
			sr.Err = fmt.Errorf("when condition: %w", err)
			return sr, nil
		}
		if ok, _ := out.(bool); !ok {
			sr.ConditionSkipped = true
			sr.Success = true
			return sr, nil
		}
	}

	if err := sleepCtx(ctx, secondsToDuration(step.DelayBefore)); err != nil {
		return sr, err
	}

	// Resolve the send template. A missing variable is a step failure
	// handled by the disposition, not a transport problem.
	var payload []byte
	if step.Send != "" {
		resolved, err := vars.Resolve(step.Send)
		if err != nil {
			sr.Err = err
			return sr, nil
		}
		text := DecodeEscapes(resolved)
		if !strings.HasSuffix(text, "\n") {
			text += "\n"
		}
		payload = []byte(text)
	}

	patterns, err := compilePatterns(step, vars)
	if err != nil {
		sr.Err = err
		return sr, nil
	}

	attempts := 1 + script.stepRetries(step)
	timeout := script.stepTimeout(step)
	retryDelay := script.stepRetryDelay(step)
	acc := NewAccumulator(script.stepPrompt(step), step.ignore)

	lastAttemptLines := 0
	for attempt := 1; attempt <= attempts; attempt++ {
		sr.Attempts = attempt
		acc.Reset()
		if n := e.session.Drain(); n > 0 {
			e.logger.Debug("drained stale lines", "step", index, "count", n)
		}

		if payload != nil {
			if err := e.session.Send(ctx, payload); err != nil {
				if ctx.Err() != nil {
					return sr, ctx.Err()
				}
				sr.Err = fmt.Errorf("%w: %w", ErrTransport, err)
				return sr, nil
			}
		}

		// No expectations: the step is fire-and-forget.
		if len(patterns) == 0 {
			sr.Success = true
			break
		}

		match, lines, waitErr := e.await(ctx, acc, patterns, timeout)
		sr.LinesReceived += lines
		lastAttemptLines = lines
		sr.Response = acc.Text()

		if waitErr != nil {
			if errors.Is(waitErr, errSessionClosed) {
				sr.Err = fmt.Errorf("%w: line channel closed", ErrTransport)
				return sr, nil
			}
			return sr, waitErr
		}

		if match != nil {
			sr.Success = true
			sr.Matched = match.Text
			sr.Captures = match.Captures
			for name, val := range match.Captures {
				vars.Record(name, val)
			}
			break
		}

		if attempt < attempts {
			e.logger.Debug("attempt exhausted, retrying",
				"step", index, "attempt", attempt, "lines", lines)
			if err := sleepCtx(ctx, retryDelay); err != nil {
				return sr, err
			}
		}
	}

	if !sr.Success {
		// Silence and noise fail differently: no lines at all in the
		// final window is a timeout, lines that never matched is a
		// pattern mismatch.
		if lastAttemptLines == 0 {
			sr.Err = ErrStepTimeout
		} else {
			sr.Err = ErrStepNoMatch
		}
		return sr, nil
	}

	if err := sleepCtx(ctx, secondsToDuration(step.DelayAfter)); err != nil {
		return sr, err
	}
	return sr, nil
}

// await feeds lines into the accumulator until a pattern matches, the
// attempt deadline passes, the transport dies, or the context is
// cancelled. Returns the match (nil on deadline), the number of lines
// received, and errSessionClosed or the context error.
func (e *Engine) await(ctx context.Context, acc *Accumulator, patterns []*regexp.Regexp, timeout time.Duration) (*Match, int, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	lines := 0
	for {
		select {
		case <-ctx.Done():
			return nil, lines, ctx.Err()
		case <-timer.C:
			return nil, lines, nil
		case line, ok := <-e.session.Lines():
			if !ok {
				return nil, lines, errSessionClosed
			}
			lines++
			acc.Add(line)
			for _, re := range patterns {
				if m, found := acc.Search(re); found {
					return &m, lines, nil
				}
			}
		}
	}
}

// compilePatterns substitutes known variables into the step's expect
// patterns and compiles them. Unknown {tokens} stay literal so regex
// quantifiers survive.
func compilePatterns(step *Step, vars *Variables) ([]*regexp.Regexp, error) {
	raw := step.patterns()
	out := make([]*regexp.Regexp, 0, len(raw))
	for _, p := range raw {
		re, err := regexp.Compile(vars.ResolveKnown(p))
		if err != nil {
			return nil, fmt.Errorf("expect pattern %q after substitution: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// sleepCtx waits for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
