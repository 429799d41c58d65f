package cmdrunner

import (
	"context"
	"errors"
	"testing"
)

func TestClassifyLow(t *testing.T) {
	if got := Classify("ls -la"); got != SeverityLow {
		t.Errorf("expected low severity, got %v", got)
	}
}

func TestClassifyMedium(t *testing.T) {
	if got := Classify("git push origin main"); got != SeverityMedium {
		t.Errorf("expected medium severity, got %v", got)
	}
}

func TestClassifyHigh(t *testing.T) {
	if got := Classify("sudo rm -rf /"); got != SeverityHigh {
		t.Errorf("expected high severity, got %v", got)
	}
}

func TestRunDeniedByDenyPattern(t *testing.T) {
	r := New(Policy{Mode: "auto", DenyPatterns: []string{"curl"}}, nil)

	_, err := r.RunShell(context.Background(), "", "curl http://example.com")
	var denied *ErrDenied
	if !errors.As(err, &denied) {
		t.Fatalf("expected ErrDenied, got %v", err)
	}
}

func TestRunAutoModeAllowsWithoutApprover(t *testing.T) {
	r := New(Policy{Mode: "auto"}, nil)

	out, err := r.RunShell(context.Background(), "", "echo hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != "hello\n" {
		t.Errorf("expected %q, got %q", "hello\n", out)
	}
}

func TestRunAskModeRequiresApprover(t *testing.T) {
	r := New(Policy{Mode: "ask"}, nil)

	_, err := r.RunShell(context.Background(), "", "git push origin main")
	var denied *ErrDenied
	if !errors.As(err, &denied) {
		t.Fatalf("expected ErrDenied for missing approver, got %v", err)
	}
}

func TestRunAskModeApproverRejects(t *testing.T) {
	r := New(Policy{Mode: "ask"}, func(ctx context.Context, command string, severity Severity) (bool, error) {
		return false, nil
	})

	_, err := r.RunShell(context.Background(), "", "git push origin main")
	var denied *ErrDenied
	if !errors.As(err, &denied) {
		t.Fatalf("expected ErrDenied when approver rejects, got %v", err)
	}
}

func TestRunAskModeApproverAccepts(t *testing.T) {
	r := New(Policy{Mode: "ask"}, func(ctx context.Context, command string, severity Severity) (bool, error) {
		return true, nil
	})

	out, err := r.RunShell(context.Background(), "", "echo ok && git push origin main")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) == 0 {
		t.Error("expected output from approved command")
	}
}

func TestRunAskModeSkipsApprovalForLowSeverity(t *testing.T) {
	called := false
	r := New(Policy{Mode: "ask"}, func(ctx context.Context, command string, severity Severity) (bool, error) {
		called = true
		return true, nil
	})

	if _, err := r.RunShell(context.Background(), "", "echo low-severity"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Error("expected approver not to be called for low severity command")
	}
}

func TestAllowPatternDowngradesSeverity(t *testing.T) {
	called := false
	r := New(Policy{Mode: "ask", AllowPatterns: []string{"git push origin main"}},
		func(ctx context.Context, command string, severity Severity) (bool, error) {
			called = true
			return true, nil
		})

	if _, err := r.RunShell(context.Background(), "", "git push origin main"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Error("expected allow-listed command to bypass approval")
	}
}
