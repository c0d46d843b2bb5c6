package beads

import (
	"fmt"
	"strings"
)

// LineError is a log line that could not be read as an issue.
type LineError struct {
	Line int
	// ID is the id the line carries, when it has a readable one.
	ID  string
	Err error
}

func (e *LineError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("line %d (%s): %v", e.Line, e.ID, e.Err)
	}
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// LogError aggregates the unreadable lines of a log. The issues on the
// other lines are still returned alongside it.
type LogError struct {
	Path  string
	Lines []*LineError
}

func (e *LogError) Error() string {
	msgs := make([]string, len(e.Lines))
	for i, l := range e.Lines {
		msgs[i] = l.Error()
	}
	return fmt.Sprintf("%s: skipped %d unreadable line(s): %s", e.Path, len(e.Lines), strings.Join(msgs, "; "))
}

func (e *LogError) Unwrap() []error {
	errs := make([]error, len(e.Lines))
	for i, l := range e.Lines {
		errs[i] = l
	}
	return errs
}

// IDs returns the ids carried by the unreadable lines.
func (e *LogError) IDs() []string {
	var ids []string
	for _, l := range e.Lines {
		if l.ID != "" {
			ids = append(ids, l.ID)
		}
	}
	return ids
}
