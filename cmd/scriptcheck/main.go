// Scriptcheck validates benchline panel definitions and provisioning
// scripts without touching any hardware.
//
// Usage:
//
//	scriptcheck [flags] file.yaml [file.yaml ...]
//
// Each file is loaded as a panel definition by default; with -script,
// files are read as bare provisioning scripts instead. Load and compile
// errors fail the run. Style findings (a send with nothing expected, a
// placeholder no layer can resolve) are reported as warnings, and
// -strict promotes them to failures.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/benchline/internal/panel"
	"github.com/nerrad567/benchline/internal/provision"
)

// placeholderPattern mirrors the engine's variable syntax: word
// characters only, so regex quantifiers like {2} never match.
var placeholderPattern = regexp.MustCompile(`\{(\w+)\}`)

func main() {
	scriptMode := flag.Bool("script", false, "treat inputs as bare provisioning scripts, not panels")
	summary := flag.Bool("summary", false, "print a step summary for each compiled script")
	strict := flag.Bool("strict", false, "treat warnings as failures")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	failed := 0
	for _, path := range flag.Args() {
		if !check(os.Stdout, path, *scriptMode, *summary, *strict) {
			failed++
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: scriptcheck [flags] file.yaml [file.yaml ...]\n")
	fmt.Fprintf(os.Stderr, "\nValidates panel definitions and provisioning scripts.\n\n")
	flag.PrintDefaults()
}

// namedScript pairs a script with its role in the panel, so findings
// read "provision step 2" rather than a bare index.
type namedScript struct {
	role   string
	script *provision.Script
}

// check validates one file and prints its findings to w. It returns
// false when the file should fail the run.
func check(w io.Writer, path string, scriptMode, summary, strict bool) bool {
	var scripts []namedScript
	var custom map[string]string

	if scriptMode {
		script, err := loadScript(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			return false
		}
		scripts = []namedScript{{"script", script}}
	} else {
		def, err := panel.Load(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			return false
		}
		custom = def.CustomVariables
		scripts = []namedScript{{"provision", def.Provision}}
		if def.Test != nil {
			scripts = append(scripts, namedScript{"test", def.Test})
		}
	}

	var warnings []string
	for _, ns := range scripts {
		warnings = append(warnings, lint(ns.role, ns.script, custom)...)
	}

	if len(warnings) == 0 {
		fmt.Fprintf(w, "%s: OK\n", path)
	} else {
		fmt.Fprintf(w, "%s: %d warning(s)\n", path, len(warnings))
		for _, warn := range warnings {
			fmt.Fprintf(w, "  %s\n", warn)
		}
	}

	if summary {
		for _, ns := range scripts {
			printSummary(w, ns.role, ns.script, custom)
		}
	}

	return !strict || len(warnings) == 0
}

// loadScript reads and compiles a bare provisioning script file.
func loadScript(path string) (*provision.Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script: %w", err)
	}

	script := &provision.Script{}
	if err := yaml.Unmarshal(data, script); err != nil {
		return nil, fmt.Errorf("parsing script: %w", err)
	}

	if err := script.Compile(); err != nil {
		return nil, err
	}
	return script, nil
}

// lint reports findings Compile accepts but an operator probably does
// not want: fire-and-forget sends, and send templates that reference a
// variable no layer will be able to resolve at run time.
//
// Step indices are zero-based, matching the engine's own messages.
func lint(role string, script *provision.Script, custom map[string]string) []string {
	known := knownNames(custom)
	var warnings []string

	for i := range script.Steps {
		step := &script.Steps[i]
		label := stepLabel(role, i, step)

		if step.Send != "" && step.Expect == "" && len(step.ExpectAny) == 0 {
			warnings = append(warnings, label+": sends a command but expects nothing")
		}

		for _, m := range placeholderPattern.FindAllStringSubmatch(step.Send, -1) {
			if _, ok := known[m[1]]; !ok {
				warnings = append(warnings, fmt.Sprintf("%s: send references unknown variable {%s}", label, m[1]))
			}
		}

		// Named groups captured here become available to later steps.
		// Patterns that fail to compile were already rejected by
		// Compile, so they are skipped without a second report.
		for _, p := range append([]string{step.Expect}, step.ExpectAny...) {
			if p == "" {
				continue
			}
			re, err := regexp.Compile(p)
			if err != nil {
				continue
			}
			for _, name := range re.SubexpNames() {
				if name != "" {
					known[name] = struct{}{}
				}
			}
		}
	}

	return warnings
}

// knownNames builds the set of variable names resolvable before any
// step runs: the system layer, the vision scan layer, and the panel's
// custom constants.
func knownNames(custom map[string]string) map[string]struct{} {
	vars := provision.NewVariables(provision.SystemVars{}, custom)
	vars.SetScan("", "")

	known := make(map[string]struct{})
	for name := range vars.Snapshot() {
		known[name] = struct{}{}
	}
	return known
}

func stepLabel(role string, i int, step *provision.Step) string {
	if step.Description != "" {
		return fmt.Sprintf("%s step %d (%s)", role, i, step.Description)
	}
	return fmt.Sprintf("%s step %d", role, i)
}

// printSummary lists the compiled script the way the engine will run
// it, with long send/expect strings truncated for the terminal.
func printSummary(w io.Writer, role string, script *provision.Script, custom map[string]string) {
	onFail := script.DefaultOnFail
	if onFail == "" {
		onFail = string(provision.OnFailAbort)
	}

	fmt.Fprintf(w, "\n%s: %s (%d steps)\n", role, script.Name, len(script.Steps))
	fmt.Fprintf(w, "  default timeout %gs, retries %d, on_fail %s\n",
		script.DefaultTimeout, script.DefaultRetries, onFail)
	if len(script.GlobalIgnorePatterns) > 0 {
		fmt.Fprintf(w, "  global ignore patterns: %d\n", len(script.GlobalIgnorePatterns))
	}
	if script.GlobalStripPrompt != "" {
		fmt.Fprintf(w, "  global strip prompt: %q\n", script.GlobalStripPrompt)
	}
	if len(custom) > 0 {
		names := make([]string, 0, len(custom))
		for name := range custom {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintf(w, "  custom variables:\n")
		for _, name := range names {
			fmt.Fprintf(w, "    %s = %q\n", name, custom[name])
		}
	}

	for i := range script.Steps {
		step := &script.Steps[i]
		desc := step.Description
		if desc == "" {
			desc = fmt.Sprintf("step %d", i)
		}
		fmt.Fprintf(w, "  %2d. %s\n", i, desc)
		if step.Send != "" {
			fmt.Fprintf(w, "      send:   %q\n", truncate(step.Send, 48))
		}
		if step.Expect != "" {
			fmt.Fprintf(w, "      expect: %q\n", truncate(step.Expect, 48))
		}
		if len(step.ExpectAny) > 0 {
			fmt.Fprintf(w, "      expect_any: %d patterns\n", len(step.ExpectAny))
		}
		if step.When != "" {
			fmt.Fprintf(w, "      when:   %q\n", truncate(step.When, 48))
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
