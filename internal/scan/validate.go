package scan

import (
	"net/url"
	"regexp"
)

var hexColorPattern = regexp.MustCompile(`^#?(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

var actionKinds = map[ActionKind]bool{
	ActionClick: true,
	ActionFocus: true,
	ActionType:  true,
	ActionHover: true,
}

// Validate checks the request against the invariants the rest of the system
// assumes: http(s) URL, recognized audit kinds, well-formed brand colors,
// and a bounded, well-formed action list. Validation runs before any
// resource is acquired.
func (r Request) Validate() error {
	if r.URL == "" {
		return &ValidationError{Field: "url", Message: "url is required"}
	}
	parsed, err := url.Parse(r.URL)
	if err != nil {
		return &ValidationError{Field: "url", Message: "url is not parseable"}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return &ValidationError{Field: "url", Message: "url scheme must be http or https"}
	}
	if parsed.Host == "" {
		return &ValidationError{Field: "url", Message: "url host is required"}
	}

	if len(r.Audits) == 0 {
		return &ValidationError{Field: "audits", Message: "at least one audit kind is required"}
	}
	for _, kind := range r.Audits {
		if !KnownKinds[kind] {
			return &ValidationError{Field: "audits", Message: "unknown audit kind " + string(kind)}
		}
	}

	for _, color := range r.BrandColors {
		if !hexColorPattern.MatchString(color) {
			return &ValidationError{Field: "brandColors", Message: "invalid hex color " + color}
		}
	}

	if len(r.DynamicActions) > MaxDynamicActions {
		return &ValidationError{Field: "dynamicActions", Message: "too many dynamic actions"}
	}
	for _, action := range r.DynamicActions {
		if !actionKinds[action.Kind] {
			return &ValidationError{Field: "dynamicActions", Message: "unknown action kind " + string(action.Kind)}
		}
		if action.Selector == "" {
			return &ValidationError{Field: "dynamicActions", Message: "action selector is required"}
		}
	}
	return nil
}

// Requested reports whether the request asked for the given kind.
func (r Request) Requested(kind AuditKind) bool {
	for _, k := range r.Audits {
		if k == kind {
			return true
		}
	}
	return false
}

// LighthouseCategories returns the requested kinds that belong to the
// external audit engine, in request order.
func (r Request) LighthouseCategories() []AuditKind {
	var out []AuditKind
	for _, k := range r.Audits {
		if LighthouseKinds[k] {
			out = append(out, k)
		}
	}
	return out
}
