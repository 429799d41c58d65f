package action

import (
	"path/filepath"
	"testing"

	"github.com/ultracode-dev/forge/internal/forgemodel"
	"github.com/ultracode-dev/forge/internal/guard"
)

type fakeRunner struct {
	lastWorkDir string
	lastCommand string
	output      []byte
	err         error
}

func (f *fakeRunner) RunShell(workDir, command string) ([]byte, error) {
	f.lastWorkDir = workDir
	f.lastCommand = command
	if f.err != nil {
		return nil, f.err
	}
	return f.output, nil
}

func newTestExecutor(t *testing.T) (*Executor, *guard.Guard) {
	t.Helper()
	g, err := guard.New(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return New(g, &fakeRunner{output: []byte("ok")}, false), g
}

func TestApplyWriteFileSubtask(t *testing.T) {
	e, g := newTestExecutor(t)
	subtask := &forgemodel.Subtask{ApplyType: forgemodel.ApplyWriteFile, ApplyPath: "out.txt"}

	applied, err := e.Apply(subtask, "hello world")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(applied) != 1 || applied[0].Kind != KindWriteFile {
		t.Fatalf("unexpected applied actions: %+v", applied)
	}

	data, err := g.ReadFile("out.txt")
	if err != nil {
		t.Fatalf("unexpected error reading back file: %v", err)
	}
	if string(data) != "hello world" {
		t.Errorf("expected %q, got %q", "hello world", data)
	}
}

func TestApplyAppendFileSubtask(t *testing.T) {
	e, g := newTestExecutor(t)
	if err := g.WriteFile("log.txt", []byte("first\n"), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	subtask := &forgemodel.Subtask{ApplyType: forgemodel.ApplyAppendFile, ApplyPath: "log.txt"}

	if _, err := e.Apply(subtask, "second\n"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := g.ReadFile("log.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "first\nsecond\n" {
		t.Errorf("unexpected content: %q", data)
	}
}

func TestApplyEditFileReplacesUniqueOldString(t *testing.T) {
	e, g := newTestExecutor(t)
	if err := g.WriteFile("main.go", []byte("func old() {}\n"), false); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	subtask := &forgemodel.Subtask{ApplyType: forgemodel.ApplyEditFile, ApplyPath: "main.go"}

	candidate := `{"old_string": "func old() {}\n", "new_string": "func new() {}\n"}`
	applied, err := e.Apply(subtask, candidate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(applied) != 1 || applied[0].Kind != KindApplyPatch {
		t.Fatalf("unexpected applied actions: %+v", applied)
	}

	data, err := g.ReadFile("main.go")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "func new() {}\n" {
		t.Errorf("unexpected content: %q", data)
	}
}

func TestApplyEditFileRejectsAmbiguousOldString(t *testing.T) {
	e, g := newTestExecutor(t)
	if err := g.WriteFile("main.go", []byte("x\nx\n"), false); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	subtask := &forgemodel.Subtask{ApplyType: forgemodel.ApplyEditFile, ApplyPath: "main.go"}

	candidate := `{"old_string": "x\n", "new_string": "y\n"}`
	if _, err := e.Apply(subtask, candidate); err == nil {
		t.Error("expected an error for an old_string matching more than once")
	}
}

func TestApplyEditFileRejectsNonJSONCandidate(t *testing.T) {
	e, g := newTestExecutor(t)
	if err := g.WriteFile("main.go", []byte("x\n"), false); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	subtask := &forgemodel.Subtask{ApplyType: forgemodel.ApplyEditFile, ApplyPath: "main.go"}

	if _, err := e.Apply(subtask, "just replace it for me"); err == nil {
		t.Error("expected an error for a non-JSON editFile candidate")
	}
}

func TestApplyWriteFileFromStatePullsStateValue(t *testing.T) {
	e, g := newTestExecutor(t)
	e.State.Set("generated-readme", "# Hello\n")
	subtask := &forgemodel.Subtask{ApplyType: forgemodel.ApplyWriteFileFromState, ApplyPath: "README.md"}

	applied, err := e.Apply(subtask, `{"key": "generated-readme"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(applied) != 1 || applied[0].Kind != KindWriteFile {
		t.Fatalf("unexpected applied actions: %+v", applied)
	}

	data, err := g.ReadFile("README.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "# Hello\n" {
		t.Errorf("unexpected content: %q", data)
	}
}

func TestApplyWriteFileFromStateAcceptsBareKey(t *testing.T) {
	e, g := newTestExecutor(t)
	e.State.Set("notes", "jotted down")
	subtask := &forgemodel.Subtask{ApplyType: forgemodel.ApplyWriteFileFromState, ApplyPath: "notes.txt"}

	if _, err := e.Apply(subtask, "  notes  "); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, _ := g.ReadFile("notes.txt")
	if string(data) != "jotted down" {
		t.Errorf("unexpected content: %q", data)
	}
}

func TestApplyWriteFileFromStateMissingKeyErrors(t *testing.T) {
	e, _ := newTestExecutor(t)
	subtask := &forgemodel.Subtask{ApplyType: forgemodel.ApplyWriteFileFromState, ApplyPath: "notes.txt"}

	if _, err := e.Apply(subtask, `{"key": "missing"}`); err == nil {
		t.Error("expected an error for a key with no stored state value")
	}
}

func TestApplyStatePatchUpdatesStateAndFile(t *testing.T) {
	e, g := newTestExecutor(t)
	e.State.Set("plan", "step one\nstep two\n")
	subtask := &forgemodel.Subtask{ApplyType: forgemodel.ApplyStatePatch, ApplyPath: "plan.txt"}

	candidate := `{"key": "plan", "old_string": "step two\n", "new_string": "step TWO\n"}`
	if _, err := e.Apply(subtask, candidate); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	gotState, ok := e.State.Get("plan")
	if !ok || gotState != "step one\nstep TWO\n" {
		t.Errorf("unexpected state value: %q", gotState)
	}
	data, err := g.ReadFile("plan.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "step one\nstep TWO\n" {
		t.Errorf("unexpected file content: %q", data)
	}
}

func TestApplyUnknownApplyType(t *testing.T) {
	e, _ := newTestExecutor(t)
	subtask := &forgemodel.Subtask{ApplyType: forgemodel.ApplyType("bogus")}

	if _, err := e.Apply(subtask, "anything"); err == nil {
		t.Error("expected an error for an unknown apply type")
	}
}

func TestApplyActionsEnvelopeWritesAndRunsCommand(t *testing.T) {
	e, g := newTestExecutor(t)
	runner := e.Runner.(*fakeRunner)
	subtask := &forgemodel.Subtask{ApplyType: forgemodel.ApplyActions}

	raw := `{"actions":[
		{"kind":"write_file","path":"a.txt","content":"alpha"},
		{"kind":"run_cmd","command":"echo hi"}
	]}`

	applied, err := e.Apply(subtask, raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(applied) != 2 {
		t.Fatalf("expected 2 applied actions, got %d", len(applied))
	}
	if runner.lastCommand != "echo hi" {
		t.Errorf("expected run_cmd to reach the CommandRunner, got %q", runner.lastCommand)
	}
	if runner.lastWorkDir != g.Root {
		t.Errorf("expected run_cmd to execute in the guard root, got %q", runner.lastWorkDir)
	}

	data, err := g.ReadFile("a.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "alpha" {
		t.Errorf("unexpected content: %q", data)
	}
}

func TestApplyActionsEnvelopeAbortsOnFirstFailure(t *testing.T) {
	e, g := newTestExecutor(t)
	subtask := &forgemodel.Subtask{ApplyType: forgemodel.ApplyActions}

	raw := `{"actions":[
		{"kind":"write_file","path":"first.txt","content":"one"},
		{"kind":"write_file","path":"../escape.txt","content":"two"},
		{"kind":"write_file","path":"third.txt","content":"three"}
	]}`

	applied, err := e.Apply(subtask, raw)
	var partial *ErrPartialApply
	if err == nil {
		t.Fatal("expected an error from the escaping second action")
	}
	if !asPartialApply(err, &partial) {
		t.Fatalf("expected ErrPartialApply, got %v", err)
	}
	if partial.FailedIndex != 1 {
		t.Errorf("expected failure at index 1, got %d", partial.FailedIndex)
	}
	if len(applied) != 1 {
		t.Errorf("expected only the first action to have applied, got %d", len(applied))
	}
	if g.Exists("third.txt") {
		t.Error("expected the third action to never run once the second failed")
	}
	if g.Exists(filepath.Join("..", "escape.txt")) {
		t.Error("expected the escaping write to be rejected, not performed outside root")
	}
}

func TestApplyActionsEnvelopeInvalidJSON(t *testing.T) {
	e, _ := newTestExecutor(t)
	subtask := &forgemodel.Subtask{ApplyType: forgemodel.ApplyActions}

	if _, err := e.Apply(subtask, "not json"); err == nil {
		t.Error("expected a parse error for malformed actions JSON")
	}
}

func TestApplyActionsEnvelopeMissingActionsKey(t *testing.T) {
	e, _ := newTestExecutor(t)
	subtask := &forgemodel.Subtask{ApplyType: forgemodel.ApplyActions}

	if _, err := e.Apply(subtask, `{"not_actions": []}`); err == nil {
		t.Error("expected an error for valid JSON missing the actions array")
	}
}

func TestApplyRunCmdWithoutRunnerErrors(t *testing.T) {
	g, err := guard.New(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e := New(g, nil, false)
	subtask := &forgemodel.Subtask{ApplyType: forgemodel.ApplyActions}

	raw := `{"actions":[{"kind":"run_cmd","command":"echo hi"}]}`
	if _, err := e.Apply(subtask, raw); err == nil {
		t.Error("expected an error when no CommandRunner is configured")
	}
}

func TestApplyRequestInfoPassesThroughPrompt(t *testing.T) {
	e, _ := newTestExecutor(t)
	subtask := &forgemodel.Subtask{ApplyType: forgemodel.ApplyActions}

	raw := `{"actions":[{"kind":"request_info","prompt":"need clarification on schema"}]}`
	applied, err := e.Apply(subtask, raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied[0].Output != "need clarification on schema" {
		t.Errorf("unexpected output: %q", applied[0].Output)
	}
}

func TestApplyDryRunDoesNotWrite(t *testing.T) {
	g, err := guard.New(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e := New(g, &fakeRunner{}, true)
	subtask := &forgemodel.Subtask{ApplyType: forgemodel.ApplyWriteFile, ApplyPath: "dry.txt"}

	if _, err := e.Apply(subtask, "content"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Exists("dry.txt") {
		t.Error("expected dry run to skip the actual write")
	}
}

func asPartialApply(err error, target **ErrPartialApply) bool {
	for err != nil {
		if p, ok := err.(*ErrPartialApply); ok {
			*target = p
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
