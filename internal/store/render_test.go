package store

import (
	"strings"
	"testing"

	"github.com/ultracode-dev/forge/internal/forgemodel"
)

func TestRenderMarkdownProducesHTML(t *testing.T) {
	html, err := RenderMarkdown("# Done when\n\n- tests pass\n- docs updated")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(html, "<h1>") || !strings.Contains(html, "<li>tests pass</li>") {
		t.Errorf("expected rendered HTML with heading and list items, got %q", html)
	}
}

func TestRenderFeatureSummaryHTMLWithoutTechnicalSummary(t *testing.T) {
	f := &forgemodel.Feature{DefinitionOfDone: "- works"}
	html, err := RenderFeatureSummaryHTML(f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(html, "<hr>") {
		t.Errorf("did not expect a separator with no technical summary, got %q", html)
	}
}

func TestRenderFeatureSummaryHTMLWithTechnicalSummary(t *testing.T) {
	f := &forgemodel.Feature{
		DefinitionOfDone: "- works",
		TechnicalSummary: "Uses a worker pool.",
	}
	html, err := RenderFeatureSummaryHTML(f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(html, "<hr>") {
		t.Errorf("expected a separator between sections, got %q", html)
	}
}
