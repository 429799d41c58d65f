// Package redflag screens candidate model output before it is allowed
// into a voting round, rejecting candidates that are too long, miss a
// required shape, or look like the model refused to do the task.
package redflag

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/tidwall/gjson"
)

// defaultMaxChars is used when a Rules value leaves MaxChars unset.
const defaultMaxChars = 4000

// Rules configures the checks a Flagger applies to one candidate.
type Rules struct {
	MaxChars         int
	MaxTokens        int
	RequiredRegex    string
	RequireJSON      bool
	RequiredJSONPath string // e.g. "$.actions" — only checked when RequireJSON is also set
}

// Flagger evaluates candidate output against Rules and a fixed set of
// built-in heuristics for refusal-like or instruction-like text.
type Flagger struct {
	rules        Rules
	requiredExpr *regexp.Regexp
}

// New compiles rules into a Flagger. An empty MaxChars defaults to
// defaultMaxChars so a Flagger is never accidentally unbounded.
func New(rules Rules) (*Flagger, error) {
	if rules.MaxChars <= 0 {
		rules.MaxChars = defaultMaxChars
	}

	f := &Flagger{rules: rules}
	if rules.RequiredRegex != "" {
		expr, err := regexp.Compile(rules.RequiredRegex)
		if err != nil {
			return nil, fmt.Errorf("redflag: compile required regex: %w", err)
		}
		f.requiredExpr = expr
	}
	return f, nil
}

// refusalTriggers mirrors the teacher's keyword-trigger pattern list,
// repurposed here to detect model refusals instead of task categories;
// shell-instruction output is caught separately by
// leadingShellCommandWord.
var refusalTriggers = []string{
	"i cannot",
	"i can't assist",
	"i'm not able to",
	"as an ai",
	"i apologize, but",
}

// orderedListPrefix matches a line that begins a numbered instruction
// step whose verb implies a manual action, e.g. "1. Open the file and
// run...". Numbered lines with no such leading verb (changelog
// entries, numbered comments) are left alone.
var orderedListPrefix = regexp.MustCompile(`(?mi)^\s*\d+\.\s+(create|add|open|install|run|start|build|make|write)\b`)

// shellCommandWords are the leading tokens of a candidate that mark it
// as a shell command instead of the file content or action payload a
// step actually asked for.
var shellCommandWords = map[string]bool{
	"mkdir": true, "touch": true, "cd": true, "ls": true, "git": true,
	"rm": true, "cp": true, "mv": true, "chmod": true, "chown": true,
	"sudo": true, "npm": true, "yarn": true, "pip": true, "go": true,
	"curl": true, "wget": true, "bash": true, "sh": true, "./": true,
}

// Check runs all configured rules and built-in heuristics against
// output, returning the names of every rule that tripped. An empty
// slice means the candidate is clean.
func (f *Flagger) Check(output string) []string {
	var flags []string

	if len(output) > f.rules.MaxChars {
		flags = append(flags, fmt.Sprintf("max_chars_exceeded:%d>%d", len(output), f.rules.MaxChars))
	}

	if f.rules.MaxTokens > 0 {
		if estimated := estimateTokens(output); estimated > f.rules.MaxTokens {
			flags = append(flags, fmt.Sprintf("max_tokens_exceeded:%d>%d", estimated, f.rules.MaxTokens))
		}
	}

	if f.requiredExpr != nil && !f.requiredExpr.MatchString(output) {
		flags = append(flags, "required_pattern_missing")
	}

	if f.rules.RequireJSON {
		if !gjson.Valid(output) {
			flags = append(flags, "invalid_json")
		} else if f.rules.RequiredJSONPath != "" {
			if flag := f.checkJSONPath(output); flag != "" {
				flags = append(flags, flag)
			}
		}
	}

	lower := strings.ToLower(output)
	for _, trigger := range refusalTriggers {
		if strings.Contains(lower, trigger) {
			flags = append(flags, "refusal_language:"+trigger)
			break
		}
	}
	if word, ok := leadingShellCommandWord(output); ok {
		flags = append(flags, "shell_instruction_language:"+word)
	}
	if orderedListPrefix.MatchString(output) {
		flags = append(flags, "ordered_list_instructions")
	}

	return flags
}

// checkJSONPath resolves rules.RequiredJSONPath against output, which
// the caller has already confirmed is valid JSON. A missing path (or
// one resolving to nothing) flags the candidate rather than erroring,
// since a malformed shape is exactly what this check exists to catch.
func (f *Flagger) checkJSONPath(output string) string {
	var parsed any
	if err := json.Unmarshal([]byte(output), &parsed); err != nil {
		return "invalid_json"
	}
	if _, err := jsonpath.Get(f.rules.RequiredJSONPath, parsed); err != nil {
		return "required_json_path_missing:" + f.rules.RequiredJSONPath
	}
	return ""
}

// leadingShellCommandWord reports whether output's first whitespace-
// delimited token is a shell command word, meaning the candidate
// describes a terminal session instead of producing the file content
// or action payload the step asked for. A chained command like
// "mkdir foo && touch bar" is caught by its leading token alone.
func leadingShellCommandWord(output string) (string, bool) {
	fields := strings.Fields(output)
	if len(fields) == 0 {
		return "", false
	}
	word := strings.ToLower(fields[0])
	if shellCommandWords[word] || strings.HasPrefix(word, "./") {
		return word, true
	}
	return "", false
}

// estimateTokens counts whitespace-delimited tokens, the maxTokens
// definition this package's rule checks against (distinct from the
// char-based estimate the orchestrator records for usage accounting
// when a provider doesn't report exact usage).
func estimateTokens(s string) int {
	return len(strings.Fields(s))
}
