package types

import "fmt"

// ValidationError reports input that cannot become a valid Issue.
type ValidationError struct {
	Field  string
	Reason string
	// Path is the file the input came from, when known.
	Path string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	if e.Path != "" {
		return e.Path + ": " + msg
	}
	return msg
}
