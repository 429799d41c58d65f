// Package cmdrunner executes shell commands on behalf of a project,
// classifying each by severity and routing medium/high severity
// commands through an approval queue before they run.
package cmdrunner

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Severity classifies how much trust a command requires before it runs.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// DefaultHighSeverityKeywords names substrings that escalate a command
// to high severity. A matching Policy.AllowPatterns entry still
// downgrades the command to low severity.
var DefaultHighSeverityKeywords = []string{
	"rm -rf",
	"sudo",
	"chmod 777",
	"dd if=",
	"mkfs",
	":(){ :|:& };:",
	"curl",
	"wget",
	"> /dev/sd",
}

// DefaultMediumSeverityKeywords names substrings that escalate a
// command to medium severity.
var DefaultMediumSeverityKeywords = []string{
	"rm ",
	"mv ",
	"git push",
	"git reset",
	"npm publish",
	"docker",
}

// Policy controls which commands require approval and at what rate
// commands may be issued.
type Policy struct {
	Mode          string // "auto" or "ask"
	AllowPatterns []string
	DenyPatterns  []string
	RateLimit     rate.Limit
	Burst         int
}

// Classify returns the Severity of a shell command by keyword match.
// High-severity keywords win over medium; anything else is low.
func Classify(command string) Severity {
	lower := strings.ToLower(command)
	for _, kw := range DefaultHighSeverityKeywords {
		if strings.Contains(lower, kw) {
			return SeverityHigh
		}
	}
	for _, kw := range DefaultMediumSeverityKeywords {
		if strings.Contains(lower, kw) {
			return SeverityMedium
		}
	}
	return SeverityLow
}

// ErrDenied indicates a command matched a deny pattern or was rejected
// by the approval callback.
type ErrDenied struct {
	Command string
	Reason  string
}

func (e *ErrDenied) Error() string {
	return "cmdrunner: command denied: " + e.Command + ": " + e.Reason
}

// Approver decides whether a command of a given severity may run. It
// is invoked only for commands the Policy routes to approval.
type Approver func(ctx context.Context, command string, severity Severity) (bool, error)

// Runner executes commands under a Policy, classifying severity and
// gating medium/high severity commands through an Approver when the
// Policy mode is "ask".
type Runner struct {
	Policy  Policy
	Approve Approver
	limiter *rate.Limiter
}

// New creates a Runner. If policy.RateLimit is zero, commands are not
// rate limited.
func New(policy Policy, approve Approver) *Runner {
	r := &Runner{Policy: policy, Approve: approve}
	if policy.RateLimit > 0 {
		burst := policy.Burst
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(policy.RateLimit, burst)
	}
	return r
}

func matchesAny(command string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(command, p) {
			return true
		}
	}
	return false
}

// authorize applies deny/allow/approval gating before a command runs.
func (r *Runner) authorize(ctx context.Context, command string) error {
	if matchesAny(command, r.Policy.DenyPatterns) {
		return &ErrDenied{Command: command, Reason: "matched deny pattern"}
	}

	severity := Classify(command)
	if len(r.Policy.AllowPatterns) > 0 && matchesAny(command, r.Policy.AllowPatterns) {
		severity = SeverityLow
	}

	if severity == SeverityLow || r.Policy.Mode != "ask" {
		return nil
	}
	if r.Approve == nil {
		return &ErrDenied{Command: command, Reason: "no approver configured for ask mode"}
	}

	ok, err := r.Approve(ctx, command, severity)
	if err != nil {
		return err
	}
	if !ok {
		return &ErrDenied{Command: command, Reason: "rejected by approver"}
	}
	return nil
}

func (r *Runner) wait(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	return r.limiter.Wait(ctx)
}

// Run executes name with args in workDir, returning combined
// stdout/stderr. It honors the Runner's Policy before executing.
func (r *Runner) Run(ctx context.Context, workDir, name string, args ...string) ([]byte, error) {
	full := strings.TrimSpace(name + " " + strings.Join(args, " "))
	if err := r.authorize(ctx, full); err != nil {
		return nil, err
	}
	if err := r.wait(ctx); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, name, args...)
	if workDir != "" {
		cmd.Dir = workDir
	}
	return cmd.CombinedOutput()
}

// RunShell executes command through "sh -c" in workDir.
func (r *Runner) RunShell(ctx context.Context, workDir, command string) ([]byte, error) {
	if err := r.authorize(ctx, command); err != nil {
		return nil, err
	}
	if err := r.wait(ctx); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if workDir != "" {
		cmd.Dir = workDir
	}
	return cmd.CombinedOutput()
}

// RunShellStreaming executes command through "sh -c", invoking onChunk
// with output as it becomes available rather than buffering it all.
func (r *Runner) RunShellStreaming(ctx context.Context, workDir, command string, onChunk func([]byte)) error {
	if err := r.authorize(ctx, command); err != nil {
		return err
	}
	if err := r.wait(ctx); err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if workDir != "" {
		cmd.Dir = workDir
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return err
	}

	buf := make([]byte, 4096)
	for {
		n, readErr := stdout.Read(buf)
		if n > 0 && onChunk != nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			onChunk(chunk)
		}
		if readErr != nil {
			break
		}
	}

	return cmd.Wait()
}

// Exists checks if path exists inside workDir using a "test -e" probe,
// matching the teacher's convention of shelling out rather than
// touching the filesystem directly from this package.
func (r *Runner) Exists(ctx context.Context, workDir, path string) bool {
	cmd := exec.CommandContext(ctx, "test", "-e", path)
	if workDir != "" {
		cmd.Dir = workDir
	}
	return cmd.Run() == nil
}

// WaitForApprovalTimeout is the default time an ask-mode command may
// sit in the approval queue before its context is expected to cancel.
const WaitForApprovalTimeout = 10 * time.Minute
