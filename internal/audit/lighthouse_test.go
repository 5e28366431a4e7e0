package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sitewarden/sitewarden/internal/scan"
)

const sampleReport = `{
	"categories": {
		"performance": {"title": "Performance", "score": 0.92, "auditRefs": [{"id":"fcp"},{"id":"lcp"}]},
		"seo": {"title": "SEO", "score": 0.77, "auditRefs": [{"id":"meta-description"}]}
	}
}`

func availableRunner(run runCommandFunc) *LighthouseRunner {
	return &LighthouseRunner{
		path:      "lighthouse",
		timeout:   time.Minute,
		available: true,
		runCmd:    run,
		logger:    zap.NewNop(),
	}
}

func TestLighthouseRunFiltersCategories(t *testing.T) {
	t.Parallel()

	var gotArgs []string
	runner := availableRunner(func(_ context.Context, _ string, args ...string) ([]byte, error) {
		gotArgs = args
		return []byte(sampleReport), nil
	})

	results, err := runner.Run(context.Background(), "https://example.com", 9222, []scan.AuditKind{scan.KindPerformance, scan.KindSEO})
	require.NoError(t, err)
	require.Contains(t, gotArgs, "--only-categories=performance,seo")
	require.Contains(t, gotArgs, "--port=9222")

	perf, ok := results[scan.KindPerformance].(CategoryResult)
	require.True(t, ok)
	require.InDelta(t, 92.0, perf.Score, 0.001)
	require.Equal(t, 2, perf.AuditsTotal)

	seo, ok := results[scan.KindSEO].(CategoryResult)
	require.True(t, ok)
	require.Equal(t, "SEO", seo.Title)
}

func TestLighthouseRunOmitsMissingCategories(t *testing.T) {
	t.Parallel()

	runner := availableRunner(func(_ context.Context, _ string, _ ...string) ([]byte, error) {
		return []byte(sampleReport), nil
	})

	results, err := runner.Run(context.Background(), "https://example.com", 9222, []scan.AuditKind{scan.KindPWA})
	require.NoError(t, err)
	require.NotContains(t, results, scan.KindPWA)
}

func TestLighthouseRunPropagatesEngineFailure(t *testing.T) {
	t.Parallel()

	runner := availableRunner(func(_ context.Context, _ string, _ ...string) ([]byte, error) {
		return nil, errors.New("engine crashed")
	})

	_, err := runner.Run(context.Background(), "https://example.com", 9222, []scan.AuditKind{scan.KindPerformance})
	require.Error(t, err)
}

func TestNewLighthouseRunnerMissingBinary(t *testing.T) {
	t.Parallel()

	runner := NewLighthouseRunner("definitely-not-a-real-binary-name", time.Minute, zap.NewNop())
	require.False(t, runner.Available())
}
