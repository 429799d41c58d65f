package redflag

import (
	"strings"
	"testing"
)

func TestCheckCleanOutput(t *testing.T) {
	f, err := New(Rules{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flags := f.Check("func main() {}"); len(flags) != 0 {
		t.Errorf("expected no flags, got %v", flags)
	}
}

func TestCheckMaxCharsDefault(t *testing.T) {
	f, err := New(Rules{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	output := strings.Repeat("x", defaultMaxChars+1)
	flags := f.Check(output)
	if len(flags) == 0 {
		t.Fatal("expected a max_chars flag")
	}
}

func TestCheckRequiredRegexMissing(t *testing.T) {
	f, err := New(Rules{RequiredRegex: `package \w+`})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	flags := f.Check("no package declaration here")
	found := false
	for _, fl := range flags {
		if fl == "required_pattern_missing" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected required_pattern_missing flag, got %v", flags)
	}
}

func TestCheckRequireJSONInvalid(t *testing.T) {
	f, err := New(Rules{RequireJSON: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	flags := f.Check("not json at all")
	found := false
	for _, fl := range flags {
		if fl == "invalid_json" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected invalid_json flag, got %v", flags)
	}
}

func TestCheckRequireJSONValid(t *testing.T) {
	f, err := New(Rules{RequireJSON: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	flags := f.Check(`{"actions":[]}`)
	for _, fl := range flags {
		if fl == "invalid_json" {
			t.Errorf("did not expect invalid_json flag for valid JSON, got %v", flags)
		}
	}
}

func TestCheckRequiredJSONPathMissing(t *testing.T) {
	f, err := New(Rules{RequireJSON: true, RequiredJSONPath: "$.actions"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	flags := f.Check(`{"other": "field"}`)
	found := false
	for _, fl := range flags {
		if strings.HasPrefix(fl, "required_json_path_missing") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected required_json_path_missing flag, got %v", flags)
	}
}

func TestCheckRequiredJSONPathPresent(t *testing.T) {
	f, err := New(Rules{RequireJSON: true, RequiredJSONPath: "$.actions"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	flags := f.Check(`{"actions": [{"kind": "write_file"}]}`)
	for _, fl := range flags {
		if strings.HasPrefix(fl, "required_json_path_missing") {
			t.Errorf("did not expect a missing-path flag, got %v", flags)
		}
	}
}

func TestCheckRefusalLanguage(t *testing.T) {
	f, err := New(Rules{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	flags := f.Check("I cannot help with that request.")
	found := false
	for _, fl := range flags {
		if strings.HasPrefix(fl, "refusal_language") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected refusal_language flag, got %v", flags)
	}
}

func TestCheckShellInstructionLanguageFlagsLeadingCommandWord(t *testing.T) {
	f, err := New(Rules{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	flags := f.Check("mkdir foo && touch bar")
	found := false
	for _, fl := range flags {
		if strings.HasPrefix(fl, "shell_instruction_language") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected shell_instruction_language flag, got %v", flags)
	}
}

func TestCheckShellInstructionLanguageIgnoresProseMentioningCommands(t *testing.T) {
	f, err := New(Rules{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	flags := f.Check("Open a terminal and then execute the build script.")
	for _, fl := range flags {
		if strings.HasPrefix(fl, "shell_instruction_language") {
			t.Errorf("did not expect shell_instruction_language for prose not led by a command word, got %v", flags)
		}
	}
}

func TestCheckOrderedListInstructions(t *testing.T) {
	f, err := New(Rules{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	flags := f.Check("1. Create the file\n2. Add imports\n3. Run tests")
	found := false
	for _, fl := range flags {
		if fl == "ordered_list_instructions" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected ordered_list_instructions flag, got %v", flags)
	}
}

func TestCheckOrderedListIgnoresNonInstructionNumberedLines(t *testing.T) {
	f, err := New(Rules{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	flags := f.Check("## Changelog\n1. Fixed a crash on startup\n2. Improved logging")
	for _, fl := range flags {
		if fl == "ordered_list_instructions" {
			t.Errorf("did not expect ordered_list_instructions for non-action numbered lines, got %v", flags)
		}
	}
}

func TestCheckMaxTokensIsWhitespaceDelimitedCount(t *testing.T) {
	f, err := New(Rules{MaxTokens: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	flags := f.Check("one two three four")
	found := false
	for _, fl := range flags {
		if strings.HasPrefix(fl, "max_tokens_exceeded") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected max_tokens_exceeded flag for a 4-word output over a 3-token limit, got %v", flags)
	}

	// A long single "word" with no whitespace must not trip maxTokens,
	// since the rule counts whitespace-delimited tokens, not characters.
	flags = f.Check(strings.Repeat("x", 40))
	for _, fl := range flags {
		if strings.HasPrefix(fl, "max_tokens_exceeded") {
			t.Errorf("did not expect max_tokens_exceeded for one long token, got %v", flags)
		}
	}
}

func TestNewInvalidRegexErrors(t *testing.T) {
	_, err := New(Rules{RequiredRegex: "("})
	if err == nil {
		t.Fatal("expected error for invalid regex")
	}
}
