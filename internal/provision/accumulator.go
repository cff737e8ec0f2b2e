package provision

import (
	"regexp"
	"strings"
)

// Buffer caps. Chatty firmware (boot logs, debug spam) must not grow
// the match buffer without bound during a long step timeout.
const (
	// maxBufferBytes is the total filtered/raw buffer cap. Oldest lines
	// are dropped once it is exceeded.
	maxBufferBytes = 32 * 1024

	// maxAccLineBytes is the per-line cap. Longer lines are truncated.
	maxAccLineBytes = 4 * 1024
)

// Match holds the outcome of a successful pattern search.
type Match struct {
	// Text is the full matched text.
	Text string

	// Captures maps named groups to their matched text. A group is
	// present only when it actually participated in the match; optional
	// groups that matched nothing are absent, not empty.
	Captures map[string]string
}

// Accumulator collects response lines into a buffer suitable for
// pattern matching. It strips the device prompt, filters noise lines,
// and keeps the raw stream separately for diagnostics.
//
// The accumulator never performs I/O; the engine feeds it lines and
// asks it questions.
type Accumulator struct {
	prompt string
	ignore []*regexp.Regexp

	lines    []string // filtered, what patterns run against
	rawLines []string // unfiltered, for logs
	size     int      // bytes in filtered buffer
	rawSize  int      // bytes in raw buffer
}

// NewAccumulator creates an accumulator with the given prompt prefix
// and compiled ignore patterns. Both may be empty.
func NewAccumulator(prompt string, ignore []*regexp.Regexp) *Accumulator {
	return &Accumulator{
		prompt: prompt,
		ignore: ignore,
	}
}

// Add processes one received line. The prompt prefix is stripped before
// the ignore check so a noise pattern can match the line's real content.
// Returns true when the line was retained in the filtered buffer.
func (a *Accumulator) Add(line string) bool {
	if len(line) > maxAccLineBytes {
		line = line[:maxAccLineBytes]
	}

	a.rawLines = append(a.rawLines, line)
	a.rawSize += len(line) + 1
	a.trimOldest(&a.rawLines, &a.rawSize)

	stripped := line
	if a.prompt != "" {
		stripped = strings.TrimPrefix(line, a.prompt)
	}

	if stripped == "" {
		return false
	}

	for _, re := range a.ignore {
		if re.MatchString(stripped) {
			return false
		}
	}

	a.lines = append(a.lines, stripped)
	a.size += len(stripped) + 1
	a.trimOldest(&a.lines, &a.size)
	return true
}

// trimOldest drops lines from the front until the buffer fits the cap.
// The newest line is always kept.
func (a *Accumulator) trimOldest(lines *[]string, size *int) {
	for *size > maxBufferBytes && len(*lines) > 1 {
		*size -= len((*lines)[0]) + 1
		*lines = (*lines)[1:]
	}
}

// Text returns the filtered buffer joined with newlines. Patterns that
// span lines produced by separate read events match against this.
func (a *Accumulator) Text() string {
	return strings.Join(a.lines, "\n")
}

// Raw returns the unfiltered buffer joined with newlines.
func (a *Accumulator) Raw() string {
	return strings.Join(a.rawLines, "\n")
}

// Reset clears both buffers. Called before each attempt so a retry
// matches only its own response.
func (a *Accumulator) Reset() {
	a.lines = nil
	a.rawLines = nil
	a.size = 0
	a.rawSize = 0
}

// Search runs the pattern against the buffer: first line by line (the
// earliest matching line wins), then against the joined text so
// multi-line patterns still work.
func (a *Accumulator) Search(re *regexp.Regexp) (Match, bool) {
	for _, line := range a.lines {
		if m, ok := matchIn(re, line); ok {
			return m, true
		}
	}
	return matchIn(re, a.Text())
}

// matchIn applies the pattern to s and extracts participating named groups.
func matchIn(re *regexp.Regexp, s string) (Match, bool) {
	idx := re.FindStringSubmatchIndex(s)
	if idx == nil {
		return Match{}, false
	}

	m := Match{
		Text:     s[idx[0]:idx[1]],
		Captures: make(map[string]string),
	}

	for i, name := range re.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		lo, hi := idx[2*i], idx[2*i+1]
		if lo >= 0 && hi >= 0 {
			m.Captures[name] = s[lo:hi]
		}
	}

	return m, true
}
