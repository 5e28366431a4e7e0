package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/sitewarden/sitewarden/internal/scan"
)

// lighthouseCategories maps audit kinds to the engine's category names.
var lighthouseCategories = map[scan.AuditKind]string{
	scan.KindPerformance:   "performance",
	scan.KindSEO:           "seo",
	scan.KindBestPractices: "best-practices",
	scan.KindPWA:           "pwa",
}

// CategoryResult is the per-category payload extracted from the engine's
// report.
type CategoryResult struct {
	Score       float64 `json:"score"`
	Title       string  `json:"title"`
	AuditsTotal int     `json:"auditsTotal"`
}

// lighthouseReport is the subset of the engine's JSON output we consume.
type lighthouseReport struct {
	Categories map[string]struct {
		Title     string  `json:"title"`
		Score     float64 `json:"score"`
		AuditRefs []struct {
			ID string `json:"id"`
		} `json:"auditRefs"`
	} `json:"categories"`
}

// runCommandFunc executes the external engine binary. Injectable for tests.
type runCommandFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// LighthouseRunner invokes the external performance/SEO audit engine once
// per scan against the session's debugging endpoint.
type LighthouseRunner struct {
	path      string
	timeout   time.Duration
	available bool
	runCmd    runCommandFunc
	logger    *zap.Logger
}

// NewLighthouseRunner probes for the engine binary once at startup; an
// absent engine is a capability flag, not an error.
func NewLighthouseRunner(path string, timeout time.Duration, logger *zap.Logger) *LighthouseRunner {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	_, lookErr := exec.LookPath(path)
	runner := &LighthouseRunner{
		path:      path,
		timeout:   timeout,
		available: lookErr == nil,
		logger:    logger,
		runCmd: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		},
	}
	if !runner.available {
		logger.Info("external audit engine not found; performance/seo/best-practices/pwa audits disabled",
			zap.String("path", path),
		)
	}
	return runner
}

// Available reports whether the engine binary was found at startup.
func (l *LighthouseRunner) Available() bool { return l.available }

// Run invokes the engine filtered to the requested category subset and
// returns one payload per requested kind.
func (l *LighthouseRunner) Run(ctx context.Context, url string, debugPort int, kinds []scan.AuditKind) (map[scan.AuditKind]any, error) {
	categories := ""
	for i, kind := range kinds {
		if i > 0 {
			categories += ","
		}
		categories += lighthouseCategories[kind]
	}

	runCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	args := []string{
		url,
		"--port=" + strconv.Itoa(debugPort),
		"--output=json",
		"--quiet",
		"--only-categories=" + categories,
	}
	out, err := l.runCmd(runCtx, l.path, args...)
	if err != nil {
		return nil, fmt.Errorf("run external audit engine: %w", err)
	}

	var parsed lighthouseReport
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("parse external audit report: %w", err)
	}

	results := make(map[scan.AuditKind]any, len(kinds))
	for _, kind := range kinds {
		category, ok := parsed.Categories[lighthouseCategories[kind]]
		if !ok {
			continue
		}
		results[kind] = CategoryResult{
			Score:       category.Score * 100,
			Title:       category.Title,
			AuditsTotal: len(category.AuditRefs),
		}
	}
	return results, nil
}
