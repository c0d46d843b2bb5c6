package templates

import (
	"context"
	"fmt"
	"strings"
)

// Assistant fills slot values that plain anchor matching could not recover.
type Assistant interface {
	FillSlots(ctx context.Context, req AssistRequest) (map[string]string, error)
}

// AssistRequest describes the slots an Assistant should fill.
type AssistRequest struct {
	Template string
	Document string
	// Slots are the paths still missing or empty after matching.
	Slots []string
}

// ExtractAssisted runs Extract and, when the confidence is below
// minConfidence and an assistant is available, asks it for the slots that
// are still missing or empty. Only those slots are filled. On assistant
// failure the plain result is returned together with the error.
func ExtractAssisted(ctx context.Context, tmpl, doc string, a Assistant, minConfidence float64) (Result, error) {
	res := Extract(tmpl, doc)
	if a == nil || res.Confidence >= minConfidence {
		return res, nil
	}

	var missing []string
	for _, path := range Slots(tmpl) {
		if v, ok := res.Data.Get(path); !ok || v.Text() == "" {
			missing = append(missing, path)
		}
	}
	if len(missing) == 0 {
		return res, nil
	}

	filled, err := a.FillSlots(ctx, AssistRequest{Template: tmpl, Document: doc, Slots: missing})
	if err != nil {
		return res, fmt.Errorf("assisted extraction failed: %w", err)
	}

	var still []string
	for _, path := range missing {
		v := strings.TrimSpace(filled[path])
		if v == "" {
			continue
		}
		res.Data.Set(path, String(v))
		res.AIAssisted = true
	}
	for _, path := range res.Unmatched {
		if v, ok := res.Data.Get(path); !ok || v.Text() == "" {
			still = append(still, path)
		}
	}
	res.Unmatched = still
	res.Confidence = score(parseTemplate(tmpl), res.Data, res.Unmatched)
	return res, nil
}
