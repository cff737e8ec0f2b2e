package provision

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// varPattern matches {name} placeholders in templates. Word characters
// only, so regex quantifiers like {2} or {1,3} are left for ResolveKnown
// to pass through untouched.
var varPattern = regexp.MustCompile(`\{(\w+)\}`)

// escapeDecoder turns literal escape sequences in send templates into
// control characters.
var escapeDecoder = strings.NewReplacer(`\n`, "\n", `\r`, "\r", `\t`, "\t")

// SystemVars carries the station-provided values for the system layer.
type SystemVars struct {
	Row       int
	Col       int
	PanelName string

	// Now stamps timestamp/date/time; zero value means time.Now().
	Now time.Time
}

// Variables is the layered variable context for one board's script run.
//
// Lookup precedence, highest first:
//  1. captured - named groups recorded by earlier steps
//  2. scan     - serial_number and qr_raw from the vision phase
//  3. custom   - panel-defined constants
//  4. system   - row, col, cell_id, panel_name, timestamp, date, time
//
// Not safe for concurrent use; one context belongs to one script run on
// the orchestrator task.
type Variables struct {
	captured map[string]string
	scan     map[string]string
	custom   map[string]string
	system   map[string]string

	row int
	col int
}

// NewVariables builds a context from system values and panel constants.
func NewVariables(sys SystemVars, custom map[string]string) *Variables {
	now := sys.Now
	if now.IsZero() {
		now = time.Now()
	}

	system := map[string]string{
		"row":        fmt.Sprintf("%d", sys.Row),
		"col":        fmt.Sprintf("%d", sys.Col),
		"cell_id":    fmt.Sprintf("R%dC%d", sys.Row, sys.Col),
		"panel_name": sys.PanelName,
		"timestamp":  now.Format(time.RFC3339),
		"date":       now.Format("2006-01-02"),
		"time":       now.Format("15:04:05"),
	}

	v := &Variables{
		captured: make(map[string]string),
		scan:     make(map[string]string),
		custom:   make(map[string]string),
		system:   system,
		row:      sys.Row,
		col:      sys.Col,
	}
	for k, val := range custom {
		v.custom[k] = val
	}
	return v
}

// SetScan records the vision phase result.
func (v *Variables) SetScan(serialNumber, qrRaw string) {
	v.scan["serial_number"] = serialNumber
	v.scan["qr_raw"] = qrRaw
}

// Record stores a captured value. A later capture of the same name wins.
func (v *Variables) Record(name, value string) {
	v.captured[name] = value
}

// Lookup resolves a name through the layers.
func (v *Variables) Lookup(name string) (string, bool) {
	for _, layer := range []map[string]string{v.captured, v.scan, v.custom, v.system} {
		if val, ok := layer[name]; ok {
			return val, true
		}
	}
	return "", false
}

// Resolve substitutes every {name} placeholder in the template.
// Any unresolvable name fails the whole resolution with
// ErrUnknownVariable naming the missing variables.
func (v *Variables) Resolve(template string) (string, error) {
	var missing []string

	out := varPattern.ReplaceAllStringFunc(template, func(tok string) string {
		name := tok[1 : len(tok)-1]
		if val, ok := v.Lookup(name); ok {
			return val
		}
		missing = append(missing, name)
		return tok
	})

	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("%w: %s", ErrUnknownVariable, strings.Join(missing, ", "))
	}
	return out, nil
}

// ResolveKnown substitutes the placeholders it can and leaves the rest
// untouched. Used on expect patterns, where an unresolved token is
// usually a regex quantifier rather than a variable.
func (v *Variables) ResolveKnown(template string) string {
	return varPattern.ReplaceAllStringFunc(template, func(tok string) string {
		name := tok[1 : len(tok)-1]
		if val, ok := v.Lookup(name); ok {
			return val
		}
		return tok
	})
}

// DecodeEscapes converts literal \n, \r and \t sequences to control
// characters. Applied to send text after substitution, just before
// transmit, so captured values pass through byte-exact.
func DecodeEscapes(s string) string {
	return escapeDecoder.Replace(s)
}

// Captured returns a copy of the capture layer.
func (v *Variables) Captured() map[string]string {
	out := make(map[string]string, len(v.captured))
	for k, val := range v.captured {
		out[k] = val
	}
	return out
}

// Snapshot returns the merged view of all layers, lower layers
// overridden by higher ones. Used by observers and the when-condition
// environment.
func (v *Variables) Snapshot() map[string]string {
	out := make(map[string]string)
	for _, layer := range []map[string]string{v.system, v.custom, v.scan, v.captured} {
		for k, val := range layer {
			out[k] = val
		}
	}
	return out
}

// Env returns the expr evaluation environment for when-conditions: the
// merged snapshot with row and col replaced by ints so numeric
// comparisons read naturally.
func (v *Variables) Env() map[string]any {
	env := make(map[string]any)
	for k, val := range v.Snapshot() {
		env[k] = val
	}
	env["row"] = v.row
	env["col"] = v.col
	return env
}
