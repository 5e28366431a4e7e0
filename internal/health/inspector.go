// Package health implements the heuristic that distinguishes a genuine page
// from a backend-error surface such as a rendered 500 page.
package health

import "strings"

// Status is the inspector's verdict on a loaded page. It is advisory
// metadata: a flagged page is still audited.
type Status struct {
	Title         string `json:"title"`
	ContentLength int    `json:"contentLength"`
	HasError      bool   `json:"hasError"`
	ErrorType     string `json:"errorType,omitempty"`
}

// DefaultIndicators are the backend-failure substrings matched
// case-insensitively against the title and visible text.
var DefaultIndicators = []string{
	"internal server error",
	"database error",
	"exception",
	"error",
	"database",
	"500",
	"404",
	"not found",
	"service unavailable",
	"bad gateway",
}

// Inspector evaluates page text against a fixed indicator list.
type Inspector struct {
	indicators []string
}

// New creates an Inspector. A nil list uses DefaultIndicators.
func New(indicators []string) *Inspector {
	if indicators == nil {
		indicators = DefaultIndicators
	}
	lowered := make([]string, len(indicators))
	for i, s := range indicators {
		lowered[i] = strings.ToLower(s)
	}
	return &Inspector{indicators: lowered}
}

// Evaluate inspects the extracted title and visible text. The first
// matching indicator wins; more specific indicators are listed first so
// "internal server error" is reported over plain "error".
func (i *Inspector) Evaluate(title, text string) Status {
	status := Status{
		Title:         title,
		ContentLength: len(text),
	}

	haystack := strings.ToLower(title + "\n" + text)
	for _, indicator := range i.indicators {
		if strings.Contains(haystack, indicator) {
			status.HasError = true
			status.ErrorType = indicator
			break
		}
	}
	return status
}
