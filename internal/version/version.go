// Package version exposes Forge's build version, embedded from a
// plain-text file so release tooling can bump it without touching Go
// source.
package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var versionContent string

// Get returns the current version, with surrounding whitespace trimmed.
func Get() string {
	return strings.TrimSpace(versionContent)
}
