package manifest

import (
	"fmt"
	"strings"
)

// Issue is one problem found in a manifest. Path is a JSON pointer into the document.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

// ValidationError aggregates every issue found while parsing a manifest.
type ValidationError struct {
	Issues []Issue
}

// Add records an issue.
func (e *ValidationError) Add(path, format string, args ...any) {
	e.Issues = append(e.Issues, Issue{Path: path, Message: fmt.Sprintf(format, args...)})
}

// OrNil returns e when it holds issues, nil otherwise.
func (e *ValidationError) OrNil() error {
	if len(e.Issues) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	switch len(e.Issues) {
	case 0:
		return "invalid manifest"
	case 1:
		return "invalid manifest: " + e.Issues[0].String()
	default:
		parts := make([]string, 0, len(e.Issues))
		for _, issue := range e.Issues {
			parts = append(parts, issue.String())
		}
		return fmt.Sprintf("invalid manifest (%d issues): %s", len(e.Issues), strings.Join(parts, "; "))
	}
}
