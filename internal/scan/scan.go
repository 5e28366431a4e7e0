// Package scan defines the domain model for website audit scans: requests,
// results, audit kinds, and the error taxonomy shared by the pool, the
// navigator, the audit pipeline, and the HTTP layer.
package scan

import (
	"errors"
	"fmt"
	"time"
)

// AuditKind identifies one independent audit run against a loaded page.
type AuditKind string

// Recognized audit kinds.
const (
	KindAccessibility AuditKind = "accessibility"
	KindDynamic       AuditKind = "dynamic-content"
	KindBrandContrast AuditKind = "brand-color-contrast"
	KindPerformance   AuditKind = "performance"
	KindSEO           AuditKind = "seo"
	KindBestPractices AuditKind = "best-practices"
	KindPWA           AuditKind = "pwa"
)

// LighthouseKinds are the kinds delegated to the external audit engine.
var LighthouseKinds = map[AuditKind]bool{
	KindPerformance:   true,
	KindSEO:           true,
	KindBestPractices: true,
	KindPWA:           true,
}

// KnownKinds enumerates every recognized audit kind.
var KnownKinds = map[AuditKind]bool{
	KindAccessibility: true,
	KindDynamic:       true,
	KindBrandContrast: true,
	KindPerformance:   true,
	KindSEO:           true,
	KindBestPractices: true,
	KindPWA:           true,
}

// ActionKind is the interaction type of a scripted dynamic action.
type ActionKind string

// Supported dynamic interaction kinds.
const (
	ActionClick ActionKind = "click"
	ActionFocus ActionKind = "focus"
	ActionType  ActionKind = "type"
	ActionHover ActionKind = "hover"
)

// MaxDynamicActions bounds the scripted action list per request.
const MaxDynamicActions = 10

// DynamicAction is one scripted interaction performed against the live page
// before re-running the accessibility evaluation.
type DynamicAction struct {
	Kind     ActionKind `json:"kind" mapstructure:"kind"`
	Selector string     `json:"selector" mapstructure:"selector"`
	Value    string     `json:"value,omitempty" mapstructure:"value"`
}

// Request describes one scan to execute.
type Request struct {
	URL            string          `json:"url"`
	Audits         []AuditKind     `json:"audits"`
	BrandColors    []string        `json:"brandColors,omitempty"`
	DynamicActions []DynamicAction `json:"dynamicActions,omitempty"`
}

// WebsiteStatus reports what the navigator and health inspector observed
// about the target, independent of any audit outcome.
type WebsiteStatus struct {
	Loaded        bool   `json:"loaded"`
	HasError      bool   `json:"hasError"`
	ErrorType     string `json:"errorType,omitempty"`
	Title         string `json:"title"`
	ContentLength int    `json:"contentLength"`
}

// Result aggregates every attempted audit for one request.
type Result struct {
	URL           string            `json:"url"`
	Audits        map[AuditKind]any `json:"audits"`
	WebsiteStatus WebsiteStatus     `json:"websiteStatus"`
	ScanDuration  int64             `json:"scanDuration"`
	Timestamp     time.Time         `json:"timestamp"`
}

// AuditError is the payload stored under an audit kind when that audit
// failed. A failed audit never aborts its siblings.
type AuditError struct {
	Error string `json:"error"`
}

// ErrPoolExhausted is returned by the session pool when the live-session
// ceiling is reached. Callers should retry with backoff, not treat it as
// fatal.
var ErrPoolExhausted = errors.New("browser pool exhausted")

// NavKind classifies a navigation failure. It is the single source of truth
// the HTTP layer uses to pick a status code.
type NavKind string

// Navigation failure classes.
const (
	NavTimeout           NavKind = "timeout"
	NavDNSNotFound       NavKind = "dns-not-found"
	NavConnectionRefused NavKind = "connection-refused"
	NavTLSError          NavKind = "tls-error"
	NavRedirectLoop      NavKind = "redirect-loop"
	NavOther             NavKind = "other"
)

// NavigationError reports that every load strategy failed for a URL.
type NavigationError struct {
	Kind    NavKind
	Message string
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation failed (%s): %s", e.Kind, e.Message)
}

// ValidationError reports a malformed request. Always a 400, never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
