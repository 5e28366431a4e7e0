// Package probe performs lightweight reachability checks without a
// browser session. It answers "is this site up" using a single HTTP
// fetch and the same content heuristics the full scan applies.
package probe

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/sitewarden/sitewarden/internal/health"
)

// Config controls the prober's HTTP behavior.
type Config struct {
	UserAgent      string
	RequestTimeout time.Duration
}

// Result is the outcome of a single reachability check.
type Result struct {
	Accessible    bool   `json:"accessible"`
	StatusCode    int    `json:"status"`
	LoadTimeMs    int64  `json:"loadTime"`
	Title         string `json:"title,omitempty"`
	ContentLength int    `json:"contentLength"`
	HasError      bool   `json:"hasError"`
	ErrorType     string `json:"errorType,omitempty"`
	Details       string `json:"details,omitempty"`
}

// Prober fetches a page over plain HTTP and inspects the response body.
type Prober struct {
	baseCollector *colly.Collector
	inspector     *health.Inspector
	logger        *zap.Logger
}

// New constructs a configured Prober.
func New(cfg Config, inspector *health.Inspector, logger *zap.Logger) (*Prober, error) {
	if inspector == nil {
		return nil, errors.New("health inspector is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	opts := []colly.CollectorOption{}
	if cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(cfg.UserAgent))
	}
	base := colly.NewCollector(opts...)
	base.AllowURLRevisit = true
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          32,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(timeout)

	return &Prober{
		baseCollector: base,
		inspector:     inspector,
		logger:        logger,
	}, nil
}

// Check fetches the URL once and reports whether the site responded with
// usable content. Transport failures are reported in the result rather
// than returned: an unreachable site is a valid answer, not an error.
func (p *Prober) Check(ctx context.Context, rawURL string) (Result, error) {
	collector := p.baseCollector.Clone()

	resultCh := make(chan fetchResult, 1)
	var once sync.Once
	send := func(res fetchResult) {
		once.Do(func() {
			resultCh <- res
		})
	}

	collector.OnResponse(func(r *colly.Response) {
		send(fetchResult{
			statusCode: r.StatusCode,
			body:       append([]byte{}, r.Body...),
		})
	})

	collector.OnError(func(r *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown fetch error")
		}
		res := fetchResult{err: err}
		if r != nil {
			res.statusCode = r.StatusCode
		}
		send(res)
	})

	start := time.Now()
	if err := collector.Visit(rawURL); err != nil {
		return Result{
			LoadTimeMs: time.Since(start).Milliseconds(),
			Details:    err.Error(),
		}, nil
	}
	collector.Wait()
	elapsed := time.Since(start)

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var fetched fetchResult
	select {
	case fetched = <-resultCh:
	default:
		return Result{}, errors.New("fetch produced no result")
	}

	result := Result{
		StatusCode: fetched.statusCode,
		LoadTimeMs: elapsed.Milliseconds(),
	}
	if fetched.err != nil {
		result.Details = fetched.err.Error()
		p.logger.Debug("probe fetch failed",
			zap.String("url", rawURL),
			zap.Error(fetched.err),
		)
		return result, nil
	}

	title, text := extractContent(fetched.body)
	status := p.inspector.Evaluate(title, text)
	result.Title = status.Title
	result.ContentLength = status.ContentLength
	result.HasError = status.HasError
	result.ErrorType = status.ErrorType
	result.Accessible = fetched.statusCode >= 200 && fetched.statusCode < 400
	if !result.Accessible {
		result.Details = http.StatusText(fetched.statusCode)
	}
	return result, nil
}

// extractContent parses the body and pulls out the document title and
// visible text. A body that fails to parse yields empty content, which
// the health inspector treats as suspiciously thin.
func extractContent(body []byte) (title, text string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return "", ""
	}
	doc.Find("script, style, noscript").Remove()
	title = strings.TrimSpace(doc.Find("title").First().Text())
	text = strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	return title, text
}

type fetchResult struct {
	statusCode int
	body       []byte
	err        error
}
