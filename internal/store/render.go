package store

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"

	"github.com/ultracode-dev/forge/internal/forgemodel"
)

// RenderMarkdown converts a Markdown source string (as typically
// authored in a Feature's DefinitionOfDone or TechnicalSummary) to an
// HTML fragment. Forge owns only this rendering call — consuming the
// HTML in a browser or dashboard UI is out of scope for this package.
func RenderMarkdown(source string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(source), &buf); err != nil {
		return "", fmt.Errorf("store: render markdown: %w", err)
	}
	return buf.String(), nil
}

// RenderFeatureSummaryHTML renders a Feature's DefinitionOfDone and,
// if present, its TechnicalSummary as one HTML fragment, in that
// order, separated by a horizontal rule.
func RenderFeatureSummaryHTML(f *forgemodel.Feature) (string, error) {
	dod, err := RenderMarkdown(f.DefinitionOfDone)
	if err != nil {
		return "", err
	}
	if f.TechnicalSummary == "" {
		return dod, nil
	}
	summary, err := RenderMarkdown(f.TechnicalSummary)
	if err != nil {
		return "", err
	}
	return dod + "<hr>\n" + summary, nil
}
