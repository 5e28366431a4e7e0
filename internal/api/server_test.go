package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sitewarden/sitewarden/internal/probe"
	"github.com/sitewarden/sitewarden/internal/report"
	"github.com/sitewarden/sitewarden/internal/report/memory"
	"github.com/sitewarden/sitewarden/internal/scan"
)

type fakeScanner struct {
	result *scan.Result
	err    error
	gotReq scan.Request
}

func (f *fakeScanner) Scan(_ context.Context, req scan.Request) (*scan.Result, error) {
	f.gotReq = req
	return f.result, f.err
}

type fakeProber struct {
	result probe.Result
	err    error
	gotURL string
}

func (f *fakeProber) Check(_ context.Context, url string) (probe.Result, error) {
	f.gotURL = url
	return f.result, f.err
}

type fakeGate struct {
	allow bool
}

func (f *fakeGate) Allow(string) bool { return f.allow }

type fakeSuggester struct {
	enabled bool
	text    string
	err     error
}

func (f *fakeSuggester) Enabled() bool { return f.enabled }

func (f *fakeSuggester) Generate(context.Context, string, string) (string, error) {
	return f.text, f.err
}

type fakePoolStats struct {
	live int
}

func (f *fakePoolStats) Live() int { return f.live }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func newTestStore() report.Store {
	return memory.New(memory.Config{
		MaxAge:     time.Hour,
		MaxEntries: 100,
	}, systemClock{}, zap.NewNop())
}

func newTestServer(scanner Scanner, prober Prober, store report.Store, gate RateGate, suggester Suggester) *Server {
	if store == nil {
		store = newTestStore()
	}
	if gate == nil {
		gate = &fakeGate{allow: true}
	}
	return NewServer(scanner, prober, store, gate, suggester, &fakePoolStats{live: 2}, Config{
		RequestTimeout:  10 * time.Second,
		MaxPoolSessions: 5,
	}, zap.NewNop())
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "203.0.113.10:54321"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestScanSuccess(t *testing.T) {
	t.Parallel()

	scanner := &fakeScanner{result: &scan.Result{
		URL:           "https://example.com",
		Audits:        map[scan.AuditKind]any{scan.KindAccessibility: map[string]any{"violations": []any{}}},
		WebsiteStatus: scan.WebsiteStatus{Loaded: true, Title: "Example"},
		ScanDuration:  1234,
	}}
	server := newTestServer(scanner, &fakeProber{}, nil, nil, nil)

	rec := doJSON(t, server.Handler(), http.MethodPost, "/scan", map[string]any{
		"url":    "https://example.com",
		"audits": []string{"accessibility"},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var result scan.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Equal(t, "https://example.com", result.URL)
	require.True(t, result.WebsiteStatus.Loaded)
	require.Equal(t, "https://example.com", scanner.gotReq.URL)
}

func TestScanErrorStatusMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &scan.ValidationError{Field: "url", Message: "scheme must be http or https"}, http.StatusBadRequest},
		{"pool exhausted", scan.ErrPoolExhausted, http.StatusServiceUnavailable},
		{"nav timeout", &scan.NavigationError{Kind: scan.NavTimeout, Message: "deadline"}, http.StatusRequestTimeout},
		{"dns", &scan.NavigationError{Kind: scan.NavDNSNotFound, Message: "no such host"}, http.StatusNotFound},
		{"refused", &scan.NavigationError{Kind: scan.NavConnectionRefused, Message: "refused"}, http.StatusServiceUnavailable},
		{"tls", &scan.NavigationError{Kind: scan.NavTLSError, Message: "bad cert"}, http.StatusInternalServerError},
		{"redirect loop", &scan.NavigationError{Kind: scan.NavRedirectLoop, Message: "too many redirects"}, http.StatusInternalServerError},
		{"deadline", context.DeadlineExceeded, http.StatusRequestTimeout},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			server := newTestServer(&fakeScanner{err: tc.err}, &fakeProber{}, nil, nil, nil)
			rec := doJSON(t, server.Handler(), http.MethodPost, "/scan", map[string]string{"url": "https://example.com"})
			require.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestScanRejectsInvalidJSON(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeScanner{}, &fakeProber{}, nil, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/scan", bytes.NewBufferString("{not json"))
	req.RemoteAddr = "203.0.113.10:54321"
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScanRateLimited(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeScanner{}, &fakeProber{}, nil, &fakeGate{allow: false}, nil)
	rec := doJSON(t, server.Handler(), http.MethodPost, "/scan", map[string]string{"url": "https://example.com"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestCheckWebsite(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{result: probe.Result{
		Accessible: true,
		StatusCode: 200,
		LoadTimeMs: 42,
		Title:      "Example",
	}}
	server := newTestServer(&fakeScanner{}, prober, nil, nil, nil)

	rec := doJSON(t, server.Handler(), http.MethodPost, "/check-website", map[string]string{
		"url": "https://example.com",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var result probe.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.True(t, result.Accessible)
	require.Equal(t, "https://example.com", prober.gotURL)
}

func TestCheckWebsiteRejectsBadScheme(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeScanner{}, &fakeProber{}, nil, nil, nil)
	rec := doJSON(t, server.Handler(), http.MethodPost, "/check-website", map[string]string{
		"url": "ftp://example.com",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckWebsiteRateLimited(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeScanner{}, &fakeProber{}, nil, &fakeGate{allow: false}, nil)
	rec := doJSON(t, server.Handler(), http.MethodPost, "/check-website", map[string]string{
		"url": "https://example.com",
	})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestReportRoundTrip(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeScanner{}, &fakeProber{}, nil, nil, nil)

	rec := doJSON(t, server.Handler(), http.MethodPost, "/report", map[string]any{
		"url":    "https://example.com",
		"report": map[string]any{"violations": 3},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id := created["reportId"]
	require.NotEmpty(t, id)

	rec = doJSON(t, server.Handler(), http.MethodGet, "/report/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stored report.Stored
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stored))
	require.Equal(t, id, stored.ID)
	require.Equal(t, "https://example.com", stored.SourceURL)
}

func TestReportRequiresBody(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeScanner{}, &fakeProber{}, nil, nil, nil)
	rec := doJSON(t, server.Handler(), http.MethodPost, "/report", map[string]any{"url": "https://example.com"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReportNotFound(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeScanner{}, &fakeProber{}, nil, nil, nil)
	rec := doJSON(t, server.Handler(), http.MethodGet, "/report/deadbeefdeadbeef", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSuggestDisabled(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeScanner{}, &fakeProber{}, nil, nil, &fakeSuggester{enabled: false})
	rec := doJSON(t, server.Handler(), http.MethodPost, "/suggest", map[string]string{
		"url": "https://example.com", "summary": "low contrast",
	})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSuggestSuccess(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeScanner{}, &fakeProber{}, nil, nil, &fakeSuggester{
		enabled: true,
		text:    "Increase button contrast to 4.5:1.",
	})
	rec := doJSON(t, server.Handler(), http.MethodPost, "/suggest", map[string]string{
		"url": "https://example.com", "summary": "low contrast on #buy",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "Increase button contrast to 4.5:1.", resp["suggestion"])
}

func TestSuggestUpstreamFailure(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeScanner{}, &fakeProber{}, nil, nil, &fakeSuggester{
		enabled: true,
		err:     errors.New("quota exceeded"),
	})
	rec := doJSON(t, server.Handler(), http.MethodPost, "/suggest", map[string]string{
		"url": "https://example.com", "summary": "low contrast",
	})
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHealthReportsPoolOccupancy(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeScanner{}, &fakeProber{}, nil, nil, nil)
	rec := doJSON(t, server.Handler(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, "ok", payload["status"])

	pool, ok := payload["pool"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, float64(2), pool["live"])
	require.Equal(t, float64(5), pool["max"])
}

func TestRequestIDHeaderSet(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeScanner{}, &fakeProber{}, nil, nil, nil)
	rec := doJSON(t, server.Handler(), http.MethodGet, "/health", nil)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestClientIdentity(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "198.51.100.7:4411"
	require.Equal(t, "198.51.100.7", clientIdentity(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.99, 198.51.100.7")
	require.Equal(t, "203.0.113.99", clientIdentity(req))
}
