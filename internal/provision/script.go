package provision

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Script-level fallbacks when neither the step nor the script sets a value.
const (
	// defaultStepTimeout is the per-attempt response window in seconds.
	defaultStepTimeout = 5.0

	// defaultRetryDelay is the pause between attempts in seconds.
	defaultRetryDelay = 0.5
)

// OnFail controls what happens when a step exhausts its attempts.
type OnFail string

// Step failure dispositions.
const (
	// OnFailAbort stops the script. The run fails.
	OnFailAbort OnFail = "abort"

	// OnFailSkip records the failure and continues as if the step had
	// not run. Nothing the step captured survives.
	OnFailSkip OnFail = "skip"

	// OnFailContinue records the failure and carries on. The run can
	// still succeed.
	OnFailContinue OnFail = "continue"
)

// Step is one exchange in a provisioning script: optionally send a
// command, optionally await a matching response.
//
// Timeout, Retries, RetryDelay and StripPrompt are pointers so a step
// can explicitly override the script default with a zero value.
type Step struct {
	Description string `yaml:"description"`

	// Send is the command template. {name} placeholders are resolved
	// strictly; \n \r \t escapes are decoded; a trailing newline is
	// appended unless present. Empty means nothing is transmitted.
	Send string `yaml:"send"`

	// Expect is the primary response pattern. Named groups (?P<x>...)
	// become captured variables. Empty with no ExpectAny means
	// fire-and-forget: the step succeeds as soon as the send is written.
	Expect string `yaml:"expect"`

	// ExpectAny lists alternative patterns checked after Expect.
	// The first pattern to match wins.
	ExpectAny []string `yaml:"expect_any"`

	// When is an optional expr condition over the variable context.
	// False means the step is recorded as skipped and never runs.
	When string `yaml:"when"`

	// IgnorePatterns are added to the script's global ignore list.
	IgnorePatterns []string `yaml:"ignore_patterns"`

	StripPrompt *string  `yaml:"strip_prompt"`
	Timeout     *float64 `yaml:"timeout"`
	Retries     *int     `yaml:"retries"`
	RetryDelay  *float64 `yaml:"retry_delay"`
	OnFail      string   `yaml:"on_fail"`

	// DelayBefore and DelayAfter are settle delays in seconds around
	// the exchange (before send, after success).
	DelayBefore float64 `yaml:"delay_before"`
	DelayAfter  float64 `yaml:"delay_after"`

	// Compiled artefacts, populated by Script.Compile.
	ignore      []*regexp.Regexp
	whenProgram *vm.Program
}

// Script is an ordered list of steps plus their shared defaults.
// Scripts are defined in the panel YAML and immutable once compiled.
type Script struct {
	Name string `yaml:"name"`

	DefaultTimeout    float64 `yaml:"default_timeout"`
	DefaultRetries    int     `yaml:"default_retries"`
	DefaultRetryDelay float64 `yaml:"default_retry_delay"`
	DefaultOnFail     string  `yaml:"default_on_fail"`

	// GlobalIgnorePatterns filter noise lines on every step.
	GlobalIgnorePatterns []string `yaml:"global_ignore_patterns"`

	// GlobalStripPrompt is the device prompt removed from each line
	// before matching, unless a step overrides it.
	GlobalStripPrompt string `yaml:"global_strip_prompt"`

	Steps []Step `yaml:"steps"`

	compiled     bool
	globalIgnore []*regexp.Regexp
}

// Validate checks the script's structure without compiling anything.
// All problems are reported at once, prefixed with step indices.
func (s *Script) Validate() error {
	var problems []string

	if len(s.Steps) == 0 {
		problems = append(problems, "script has no steps")
	}
	if s.DefaultTimeout < 0 {
		problems = append(problems, "default_timeout must not be negative")
	}
	if s.DefaultRetries < 0 {
		problems = append(problems, "default_retries must not be negative")
	}
	if s.DefaultRetryDelay < 0 {
		problems = append(problems, "default_retry_delay must not be negative")
	}
	if s.DefaultOnFail != "" && !validOnFail(s.DefaultOnFail) {
		problems = append(problems, fmt.Sprintf("default_on_fail %q is not abort, skip or continue", s.DefaultOnFail))
	}

	for i := range s.Steps {
		st := &s.Steps[i]
		if st.Send == "" && st.Expect == "" && len(st.ExpectAny) == 0 {
			problems = append(problems, fmt.Sprintf("step %d: has neither send nor expect", i))
		}
		if st.OnFail != "" && !validOnFail(st.OnFail) {
			problems = append(problems, fmt.Sprintf("step %d: on_fail %q is not abort, skip or continue", i, st.OnFail))
		}
		if st.Timeout != nil && *st.Timeout <= 0 {
			problems = append(problems, fmt.Sprintf("step %d: timeout must be positive", i))
		}
		if st.Retries != nil && *st.Retries < 0 {
			problems = append(problems, fmt.Sprintf("step %d: retries must not be negative", i))
		}
		if st.RetryDelay != nil && *st.RetryDelay < 0 {
			problems = append(problems, fmt.Sprintf("step %d: retry_delay must not be negative", i))
		}
		if st.DelayBefore < 0 || st.DelayAfter < 0 {
			problems = append(problems, fmt.Sprintf("step %d: delays must not be negative", i))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrScriptInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Compile validates the script, compiles every ignore pattern and
// when-condition, and syntax-checks the expect patterns. Placeholders
// in expect patterns survive this check (Go regexes treat {name} as
// literal text); the final compile happens per board after known
// variables are substituted.
func (s *Script) Compile() error {
	if s.compiled {
		return nil
	}
	if err := s.Validate(); err != nil {
		return err
	}

	var problems []string

	s.globalIgnore = nil
	for _, p := range s.GlobalIgnorePatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			problems = append(problems, fmt.Sprintf("global ignore pattern %q: %v", p, err))
			continue
		}
		s.globalIgnore = append(s.globalIgnore, re)
	}

	for i := range s.Steps {
		st := &s.Steps[i]

		st.ignore = append([]*regexp.Regexp{}, s.globalIgnore...)
		for _, p := range st.IgnorePatterns {
			re, err := regexp.Compile(p)
			if err != nil {
				problems = append(problems, fmt.Sprintf("step %d: ignore pattern %q: %v", i, p, err))
				continue
			}
			st.ignore = append(st.ignore, re)
		}

		for _, p := range st.patterns() {
			if _, err := regexp.Compile(p); err != nil {
				problems = append(problems, fmt.Sprintf("step %d: expect pattern %q: %v", i, p, err))
			}
		}

		if st.When != "" {
			program, err := expr.Compile(st.When, expr.AsBool())
			if err != nil {
				problems = append(problems, fmt.Sprintf("step %d: when condition %q: %v", i, st.When, err))
				continue
			}
			st.whenProgram = program
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrScriptInvalid, strings.Join(problems, "; "))
	}

	s.compiled = true
	return nil
}

// patterns returns the step's expect patterns in match-priority order.
func (st *Step) patterns() []string {
	var out []string
	if st.Expect != "" {
		out = append(out, st.Expect)
	}
	out = append(out, st.ExpectAny...)
	return out
}

// stepTimeout resolves the per-attempt response window for a step.
func (s *Script) stepTimeout(st *Step) time.Duration {
	switch {
	case st.Timeout != nil:
		return secondsToDuration(*st.Timeout)
	case s.DefaultTimeout > 0:
		return secondsToDuration(s.DefaultTimeout)
	default:
		return secondsToDuration(defaultStepTimeout)
	}
}

// stepRetries resolves how many extra attempts a step gets.
func (s *Script) stepRetries(st *Step) int {
	if st.Retries != nil {
		return *st.Retries
	}
	return s.DefaultRetries
}

// stepRetryDelay resolves the pause between attempts.
func (s *Script) stepRetryDelay(st *Step) time.Duration {
	switch {
	case st.RetryDelay != nil:
		return secondsToDuration(*st.RetryDelay)
	case s.DefaultRetryDelay > 0:
		return secondsToDuration(s.DefaultRetryDelay)
	default:
		return secondsToDuration(defaultRetryDelay)
	}
}

// stepOnFail resolves the step's failure disposition.
func (s *Script) stepOnFail(st *Step) OnFail {
	if st.OnFail != "" {
		return OnFail(st.OnFail)
	}
	if s.DefaultOnFail != "" {
		return OnFail(s.DefaultOnFail)
	}
	return OnFailAbort
}

// stepPrompt resolves the prompt prefix stripped from response lines.
func (s *Script) stepPrompt(st *Step) string {
	if st.StripPrompt != nil {
		return *st.StripPrompt
	}
	return s.GlobalStripPrompt
}

func validOnFail(v string) bool {
	switch OnFail(v) {
	case OnFailAbort, OnFailSkip, OnFailContinue:
		return true
	}
	return false
}

// secondsToDuration converts a float seconds value from YAML.
func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
