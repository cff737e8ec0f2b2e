package provision

import (
	"regexp"
	"strings"
	"testing"
)

func TestAccumulatorPromptStrippedBeforeIgnoreCheck(t *testing.T) {
	ignore := []*regexp.Regexp{regexp.MustCompile(`^LOG:`)}
	acc := NewAccumulator("uart:~$ ", ignore)

	// A noise line hiding behind the prompt must still be filtered
	if acc.Add("uart:~$ LOG: radio init") {
		t.Error("noise line behind prompt should not be retained")
	}
	if !acc.Add("uart:~$ READY") {
		t.Error("content line should be retained")
	}

	if got := acc.Text(); got != "READY" {
		t.Errorf("Text() = %q, want %q", got, "READY")
	}
	// Raw keeps everything for diagnostics
	if got := acc.Raw(); got != "uart:~$ LOG: radio init\nuart:~$ READY" {
		t.Errorf("Raw() = %q", got)
	}
}

func TestAccumulatorBarePromptDropped(t *testing.T) {
	acc := NewAccumulator("shell>", nil)

	if acc.Add("shell>") {
		t.Error("bare prompt line should not be retained")
	}
	if got := acc.Text(); got != "" {
		t.Errorf("Text() = %q, want empty", got)
	}
}

func TestAccumulatorSearchEarliestLineWins(t *testing.T) {
	acc := NewAccumulator("", nil)
	acc.Add("boot complete")
	acc.Add("status alpha")
	acc.Add("status beta")

	m, ok := acc.Search(regexp.MustCompile(`status (\w+)`))
	if !ok {
		t.Fatal("expected match")
	}
	if m.Text != "status alpha" {
		t.Errorf("Text = %q, want %q", m.Text, "status alpha")
	}
}

func TestAccumulatorSearchJoinedFallback(t *testing.T) {
	acc := NewAccumulator("", nil)
	acc.Add("BEGIN")
	acc.Add("END")

	// Spans two lines, only matches the joined buffer
	if _, ok := acc.Search(regexp.MustCompile(`BEGIN\nEND`)); !ok {
		t.Error("expected multi-line pattern to match joined text")
	}
}

func TestAccumulatorNamedCaptureParticipation(t *testing.T) {
	acc := NewAccumulator("", nil)
	acc.Add("B")

	m, ok := acc.Search(regexp.MustCompile(`(?P<a>A)?(?P<b>B)`))
	if !ok {
		t.Fatal("expected match")
	}
	if _, present := m.Captures["a"]; present {
		t.Error("non-participating group should be absent, not empty")
	}
	if m.Captures["b"] != "B" {
		t.Errorf("capture b = %q, want %q", m.Captures["b"], "B")
	}
}

func TestAccumulatorLineTruncation(t *testing.T) {
	acc := NewAccumulator("", nil)
	acc.Add(strings.Repeat("x", maxAccLineBytes+500))

	if got := len(acc.Text()); got != maxAccLineBytes {
		t.Errorf("retained line length = %d, want %d", got, maxAccLineBytes)
	}
}

func TestAccumulatorOldestDroppedAtCap(t *testing.T) {
	acc := NewAccumulator("", nil)

	acc.Add("first-line-marker")
	big := strings.Repeat("y", maxAccLineBytes)
	for i := 0; i < 10; i++ {
		acc.Add(big)
	}

	text := acc.Text()
	if strings.Contains(text, "first-line-marker") {
		t.Error("oldest line should have been dropped")
	}
	if len(text) > maxBufferBytes {
		t.Errorf("buffer size = %d exceeds cap %d", len(text), maxBufferBytes)
	}
	// Newest line always survives
	if !strings.HasSuffix(text, big) {
		t.Error("newest line missing from buffer")
	}
}

func TestAccumulatorReset(t *testing.T) {
	acc := NewAccumulator("", nil)
	acc.Add("something")
	acc.Reset()

	if acc.Text() != "" || acc.Raw() != "" {
		t.Error("Reset() should clear both buffers")
	}
	if _, ok := acc.Search(regexp.MustCompile(`something`)); ok {
		t.Error("no match expected after reset")
	}
}
