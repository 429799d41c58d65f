// Package action applies a Subtask's winning candidate output to a
// project's guarded folder, either directly (per the Subtask's
// ApplyType) or by dispatching a JSON actions array produced by the
// model.
package action

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ultracode-dev/forge/internal/forgemodel"
	"github.com/ultracode-dev/forge/internal/guard"
)

// Kind names one entry in a JSON actions array.
type Kind string

const (
	KindWriteFile    Kind = "write_file"
	KindAppendFile   Kind = "append_file"
	KindApplyPatch   Kind = "apply_patch"
	KindReplaceRange Kind = "replace_range"
	KindRunCmd       Kind = "run_cmd"
	KindRequestInfo  Kind = "request_info"
)

// Action is one discriminated-union entry in a model-produced actions
// array. Only the fields relevant to Kind are populated.
type Action struct {
	Kind    Kind   `json:"kind"`
	Path    string `json:"path,omitempty"`
	Content string `json:"content,omitempty"`
	Patch   string `json:"patch,omitempty"`
	Start   int    `json:"start,omitempty"`
	End     int    `json:"end,omitempty"`
	Command string `json:"command,omitempty"`
	Prompt  string `json:"prompt,omitempty"`
}

// actionsEnvelope is the top-level shape expected from a Subtask whose
// ApplyType is ApplyActions.
type actionsEnvelope struct {
	Actions []Action `json:"actions"`
}

// CommandRunner executes a shell command during a run_cmd action.
type CommandRunner interface {
	RunShell(workDir, command string) ([]byte, error)
}

// Executor applies Subtask output to a Guard-confined project folder.
type Executor struct {
	Guard  *guard.Guard
	Runner CommandRunner
	DryRun bool

	// State backs the writeFileFromState and statePatch apply types.
	// Left nil, those two apply types fail with a clear error instead
	// of a nil-pointer panic.
	State StateStore
}

// New creates an Executor with a fresh MemoryState.
func New(g *guard.Guard, runner CommandRunner, dryRun bool) *Executor {
	return &Executor{Guard: g, Runner: runner, DryRun: dryRun, State: NewMemoryState()}
}

// AppliedAction records the outcome of one applied action for logging
// and event payloads.
type AppliedAction struct {
	Kind   Kind
	Path   string
	Output string
}

// ErrPartialApply wraps the first action failure encountered while
// applying a JSON actions array; no later action in the array is
// attempted once one fails.
type ErrPartialApply struct {
	FailedIndex int
	Kind        Kind
	Err         error
}

func (e *ErrPartialApply) Error() string {
	return fmt.Sprintf("action: action %d (%s) failed: %v", e.FailedIndex, e.Kind, e.Err)
}

func (e *ErrPartialApply) Unwrap() error { return e.Err }

// Apply applies output according to subtask.ApplyType. For
// ApplyActions it parses output as a JSON actions array and
// applies each action in order, aborting on the first failure without
// attempting the remaining actions.
func (e *Executor) Apply(subtask *forgemodel.Subtask, output string) ([]AppliedAction, error) {
	switch subtask.ApplyType {
	case forgemodel.ApplyWriteFile:
		if err := e.Guard.WriteFile(subtask.ApplyPath, []byte(output), e.DryRun); err != nil {
			return nil, err
		}
		return []AppliedAction{{Kind: KindWriteFile, Path: subtask.ApplyPath}}, nil

	case forgemodel.ApplyAppendFile:
		if err := e.Guard.AppendFile(subtask.ApplyPath, []byte(output), e.DryRun); err != nil {
			return nil, err
		}
		return []AppliedAction{{Kind: KindAppendFile, Path: subtask.ApplyPath}}, nil

	case forgemodel.ApplyEditFile:
		return e.applyEditFile(subtask, output)

	case forgemodel.ApplyWriteFileFromState:
		return e.applyWriteFileFromState(subtask, output)

	case forgemodel.ApplyStatePatch:
		return e.applyStatePatch(subtask, output)

	case forgemodel.ApplyActions:
		return e.applyActionsEnvelope(output)

	default:
		return nil, fmt.Errorf("action: unknown apply type %q", subtask.ApplyType)
	}
}

// editFilePatch is the candidate shape required for ApplyEditFile:
// old_string must appear exactly once in the current file content and
// is replaced with new_string.
type editFilePatch struct {
	OldString string `json:"old_string"`
	NewString string `json:"new_string"`
}

// applyEditFile parses output as a {old_string, new_string} JSON
// object and replaces the unique occurrence of old_string in the
// current file at subtask.ApplyPath.
func (e *Executor) applyEditFile(subtask *forgemodel.Subtask, output string) ([]AppliedAction, error) {
	var patch editFilePatch
	if err := json.Unmarshal([]byte(extractJSONObject(output)), &patch); err != nil {
		return nil, fmt.Errorf("action: editFile candidate is not {old_string, new_string} JSON: %w", err)
	}
	if patch.OldString == "" {
		return nil, fmt.Errorf("action: editFile candidate has an empty old_string")
	}

	original, err := e.Guard.ReadFile(subtask.ApplyPath)
	if err != nil {
		return nil, fmt.Errorf("action: read %q for editFile: %w", subtask.ApplyPath, err)
	}

	updated, err := replaceUniqueOccurrence(string(original), patch.OldString, patch.NewString)
	if err != nil {
		return nil, fmt.Errorf("action: editFile %q: %w", subtask.ApplyPath, err)
	}

	if err := e.Guard.WriteFile(subtask.ApplyPath, []byte(updated), e.DryRun); err != nil {
		return nil, err
	}
	return []AppliedAction{{Kind: KindApplyPatch, Path: subtask.ApplyPath, Output: updated}}, nil
}

// stateKeyCandidate is the shape writeFileFromState and statePatch
// candidates may use to name a state key explicitly; a bare,
// non-JSON string is also accepted as the key itself.
type stateKeyCandidate struct {
	Key       string `json:"key"`
	OldString string `json:"old_string,omitempty"`
	NewString string `json:"new_string,omitempty"`
}

// applyWriteFileFromState treats output as naming a key in the
// Executor's State store and writes that key's current value to
// subtask.ApplyPath, unchanged.
func (e *Executor) applyWriteFileFromState(subtask *forgemodel.Subtask, output string) ([]AppliedAction, error) {
	if e.State == nil {
		return nil, fmt.Errorf("action: writeFileFromState requested but no State store configured")
	}
	key := parseStateKey(output)
	if key == "" {
		return nil, fmt.Errorf("action: writeFileFromState candidate does not name a state key")
	}
	value, ok := e.State.Get(key)
	if !ok {
		return nil, fmt.Errorf("action: writeFileFromState: no state value for key %q", key)
	}
	if err := e.Guard.WriteFile(subtask.ApplyPath, []byte(value), e.DryRun); err != nil {
		return nil, err
	}
	return []AppliedAction{{Kind: KindWriteFile, Path: subtask.ApplyPath, Output: value}}, nil
}

// applyStatePatch parses output as {key, old_string, new_string},
// replaces the unique occurrence of old_string in that key's current
// state value (an absent key starts from ""), persists the patched
// value back to State, and also writes it to subtask.ApplyPath so the
// project folder reflects the same state.
func (e *Executor) applyStatePatch(subtask *forgemodel.Subtask, output string) ([]AppliedAction, error) {
	if e.State == nil {
		return nil, fmt.Errorf("action: statePatch requested but no State store configured")
	}
	var patch stateKeyCandidate
	if err := json.Unmarshal([]byte(extractJSONObject(output)), &patch); err != nil {
		return nil, fmt.Errorf("action: statePatch candidate is not {key, old_string, new_string} JSON: %w", err)
	}
	if patch.Key == "" {
		return nil, fmt.Errorf("action: statePatch candidate has an empty key")
	}

	current, _ := e.State.Get(patch.Key)
	updated, err := replaceUniqueOccurrence(current, patch.OldString, patch.NewString)
	if err != nil {
		return nil, fmt.Errorf("action: statePatch key %q: %w", patch.Key, err)
	}

	e.State.Set(patch.Key, updated)
	if err := e.Guard.WriteFile(subtask.ApplyPath, []byte(updated), e.DryRun); err != nil {
		return nil, err
	}
	return []AppliedAction{{Kind: KindApplyPatch, Path: subtask.ApplyPath, Output: updated}}, nil
}

// replaceUniqueOccurrence replaces oldStr with newStr in content,
// requiring oldStr to appear exactly once so an ambiguous or
// already-applied edit fails loudly instead of patching the wrong spot.
func replaceUniqueOccurrence(content, oldStr, newStr string) (string, error) {
	if oldStr == "" {
		if content != "" {
			return "", fmt.Errorf("empty old_string against non-empty content")
		}
		return newStr, nil
	}
	switch strings.Count(content, oldStr) {
	case 0:
		return "", fmt.Errorf("old_string not found")
	case 1:
		return strings.Replace(content, oldStr, newStr, 1), nil
	default:
		return "", fmt.Errorf("old_string is ambiguous: matches more than once")
	}
}

// parseStateKey extracts a state key name from a candidate that may be
// a bare string, a fenced bare string, or a {"key": "..."} JSON object.
func parseStateKey(output string) string {
	var candidate stateKeyCandidate
	if err := json.Unmarshal([]byte(extractJSONObject(output)), &candidate); err == nil && candidate.Key != "" {
		return candidate.Key
	}
	key := strings.TrimSpace(output)
	key = strings.Trim(key, "`")
	key = strings.Trim(key, `"'`)
	return strings.TrimSpace(key)
}

// extractJSONObject returns the first top-level {...} span in s, or s
// unchanged if none is found, tolerating a candidate wrapped in
// markdown code fences or commentary around the JSON payload.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end <= start {
		return s
	}
	return s[start : end+1]
}

func (e *Executor) applyActionsEnvelope(raw string) ([]AppliedAction, error) {
	// Cheap structural probe before paying for a full unmarshal: a
	// candidate that isn't even shaped like {"actions": [...]} should
	// fail fast with a clear message instead of a generic JSON error.
	if !gjson.Get(raw, "actions").IsArray() {
		return nil, fmt.Errorf("action: candidate is not a JSON object with an \"actions\" array")
	}

	var envelope actionsEnvelope
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return nil, fmt.Errorf("action: parse actions envelope: %w", err)
	}

	applied := make([]AppliedAction, 0, len(envelope.Actions))
	for i, a := range envelope.Actions {
		result, err := e.applyOne(a)
		if err != nil {
			return applied, &ErrPartialApply{FailedIndex: i, Kind: a.Kind, Err: err}
		}
		applied = append(applied, result)
	}
	return applied, nil
}

func (e *Executor) applyOne(a Action) (AppliedAction, error) {
	switch a.Kind {
	case KindWriteFile:
		if err := e.Guard.WriteFile(a.Path, []byte(a.Content), e.DryRun); err != nil {
			return AppliedAction{}, err
		}
		return AppliedAction{Kind: a.Kind, Path: a.Path}, nil

	case KindAppendFile:
		if err := e.Guard.AppendFile(a.Path, []byte(a.Content), e.DryRun); err != nil {
			return AppliedAction{}, err
		}
		return AppliedAction{Kind: a.Kind, Path: a.Path}, nil

	case KindApplyPatch:
		patched, err := e.Guard.ApplyPatch(a.Path, a.Patch, e.DryRun)
		if err != nil {
			return AppliedAction{}, err
		}
		return AppliedAction{Kind: a.Kind, Path: a.Path, Output: patched}, nil

	case KindReplaceRange:
		if err := e.Guard.ReplaceRange(a.Path, a.Start, a.End, a.Content, e.DryRun); err != nil {
			return AppliedAction{}, err
		}
		return AppliedAction{Kind: a.Kind, Path: a.Path}, nil

	case KindRunCmd:
		if e.Runner == nil {
			return AppliedAction{}, fmt.Errorf("action: run_cmd requested but no CommandRunner configured")
		}
		out, err := e.Runner.RunShell(e.Guard.Root, a.Command)
		if err != nil {
			return AppliedAction{}, err
		}
		return AppliedAction{Kind: a.Kind, Output: string(out)}, nil

	case KindRequestInfo:
		return AppliedAction{Kind: a.Kind, Output: a.Prompt}, nil

	default:
		return AppliedAction{}, fmt.Errorf("action: unknown action kind %q", a.Kind)
	}
}
