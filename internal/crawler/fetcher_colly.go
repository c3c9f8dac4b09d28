package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// CollyFetcher retrieves raw page HTML using a Colly collector. It is the
// plain HTTP half of the renderer; JavaScript execution is layered on top
// by PageRenderer when enabled.
type CollyFetcher struct {
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// NewCollyFetcher constructs a configured Colly-based fetcher.
func NewCollyFetcher(userAgent string, requestTimeout time.Duration, concurrency int, logger *zap.Logger) (*CollyFetcher, error) {
	if concurrency <= 0 {
		concurrency = 1
	}

	base := colly.NewCollector(
		colly.Async(true),
		colly.UserAgent(userAgent),
	)
	base.AllowURLRevisit = false
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          128,
		MaxIdleConnsPerHost:   32,
		MaxConnsPerHost:       concurrency * 2,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: requestTimeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(requestTimeout)

	if err := base.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: concurrency,
	}); err != nil {
		return nil, err
	}

	return &CollyFetcher{
		baseCollector: base,
		logger:        logger,
	}, nil
}

// Fetch retrieves a page body via the configured Colly collector. Failures
// come back as *RenderFailure with the kind already classified.
func (f *CollyFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	collector := f.baseCollector.Clone()
	resultCh := make(chan fetchResult, 1)
	var once sync.Once
	send := func(res fetchResult) {
		once.Do(func() {
			resultCh <- res
		})
	}

	collector.OnResponse(func(r *colly.Response) {
		send(fetchResult{body: append([]byte{}, r.Body...)})
	})

	collector.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		send(fetchResult{err: classifyFetchError(status, err)})
	})

	if err := collector.Visit(rawURL); err != nil {
		return nil, classifyFetchError(0, err)
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if err := ctx.Err(); err != nil {
			return nil, classifyFetchError(0, err)
		}
		return res.body, res.err
	default:
		return nil, &RenderFailure{Kind: KindFetchFailed, Message: "fetch produced no result"}
	}
}

type fetchResult struct {
	body []byte
	err  error
}

// classifyFetchError maps transport errors onto the failure taxonomy.
// Timeouts and connection-level errors get their own kinds; an HTTP error
// status is a plain fetch failure.
func classifyFetchError(status int, err error) *RenderFailure {
	if err == nil {
		err = errors.New("unknown fetch error")
	}

	var rf *RenderFailure
	if errors.As(err, &rf) {
		return rf
	}

	var nerr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &RenderFailure{Kind: KindTimeout, Message: err.Error()}
	case errors.As(err, &nerr) && nerr.Timeout():
		return &RenderFailure{Kind: KindTimeout, Message: err.Error()}
	}

	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) {
		return &RenderFailure{Kind: KindNetwork, Message: err.Error()}
	}

	msg := err.Error()
	if status != 0 {
		msg = fmt.Sprintf("http status %d: %s", status, msg)
	}
	return &RenderFailure{Kind: KindFetchFailed, Message: msg}
}
