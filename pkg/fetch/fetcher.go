package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/Sriram-PR/codex-crawler/pkg/config"
	"github.com/Sriram-PR/codex-crawler/pkg/utils"
)

// Page is the result of a successful fetch
type Page struct {
	RequestedURL string
	FinalURL     string // Address after redirects
	StatusCode   int
	ContentType  string
	Body         []byte
	Truncated    bool // Body was cut at MaxPageSizeBytes
}

// Options controls a Fetcher. MaxRetries 0 means a failed fetch is not retried.
type Options struct {
	UserAgent         string
	MaxRetries        int
	InitialRetryDelay time.Duration
	MaxRetryDelay     time.Duration
	MaxPageSizeBytes  int64
	SemaphoreTimeout  time.Duration
}

// OptionsFromConfig derives fetch options for a site
func OptionsFromConfig(siteCfg config.SiteConfig, appCfg config.AppConfig) Options {
	return Options{
		UserAgent:         config.GetEffectiveUserAgent(siteCfg, appCfg),
		MaxRetries:        appCfg.MaxRetries,
		InitialRetryDelay: appCfg.InitialRetryDelay,
		MaxRetryDelay:     appCfg.MaxRetryDelay,
		MaxPageSizeBytes:  appCfg.MaxPageSizeBytes,
		SemaphoreTimeout:  appCfg.SemaphoreAcquireTimeout,
	}
}

// Fetcher performs GET requests through a shared client, bounded by a global
// request semaphore, with optional retries for transient failures.
type Fetcher struct {
	client *http.Client
	sem    *semaphore.Weighted // nil = unbounded
	opts   Options
	log    *logrus.Entry
}

// NewFetcher creates a new Fetcher. sem may be shared between fetchers.
func NewFetcher(client *http.Client, sem *semaphore.Weighted, opts Options, log *logrus.Entry) *Fetcher {
	return &Fetcher{client: client, sem: sem, opts: opts, log: log}
}

// attemptError marks whether a failed attempt may be retried
type attemptError struct {
	err       error
	retryable bool
}

// Fetch GETs address, following redirects. Any non-2xx outcome is an error
// wrapping one of the utils HTTP sentinels.
func (f *Fetcher) Fetch(ctx context.Context, address string) (*Page, error) {
	reqLog := f.log.WithField("url", address)
	var lastErr error

	for attempt := 0; attempt <= f.opts.MaxRetries; attempt++ {
		// --- Context Check ---
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return nil, fmt.Errorf("context cancelled (%v) after error: %w", err, lastErr)
			}
			return nil, err
		}
		// --- Exponential Backoff Delay ---
		if attempt > 0 {
			delay := f.backoff(attempt)
			reqLog.WithFields(logrus.Fields{"attempt": attempt, "max_retries": f.opts.MaxRetries, "delay": delay}).Warn("Retrying request...")
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("context cancelled (%v) during retry delay after error: %w", ctx.Err(), lastErr)
			}
		}

		// --- Perform HTTP Request ---
		page, aerr := f.attempt(ctx, address, reqLog.WithField("attempt", attempt))
		if aerr == nil {
			return page, nil
		}
		if !aerr.retryable {
			return nil, aerr.err
		}
		lastErr = aerr.err
	}

	// --- All Retries Failed ---
	if f.opts.MaxRetries == 0 {
		return nil, lastErr
	}
	reqLog.Errorf("All %d fetch attempts failed. Last error: %v", f.opts.MaxRetries+1, lastErr)
	return nil, fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
}

// backoff returns initial * 2^(attempt-1), capped, with +/-10% jitter.
func (f *Fetcher) backoff(attempt int) time.Duration {
	delay := time.Duration(float64(f.opts.InitialRetryDelay) * math.Pow(2, float64(attempt-1)))
	if delay <= 0 || (f.opts.MaxRetryDelay > 0 && delay > f.opts.MaxRetryDelay) {
		delay = f.opts.MaxRetryDelay
	}
	if spread := int64(delay) / 5; spread > 0 {
		delay += time.Duration(rand.Int63n(spread)) - delay/10
	}
	return max(delay, 0)
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.sem == nil {
		return nil
	}
	acqCtx := ctx
	if f.opts.SemaphoreTimeout > 0 {
		var cancel context.CancelFunc
		acqCtx, cancel = context.WithTimeout(ctx, f.opts.SemaphoreTimeout)
		defer cancel()
	}
	if err := f.sem.Acquire(acqCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: waited %v for a request slot", utils.ErrSemaphoreTimeout, f.opts.SemaphoreTimeout)
	}
	return nil
}

// attempt performs one request while holding a request slot.
func (f *Fetcher) attempt(ctx context.Context, address string, log *logrus.Entry) (*Page, *attemptError) {
	if err := f.acquire(ctx); err != nil {
		return nil, &attemptError{err: err}
	}
	defer func() {
		if f.sem != nil {
			f.sem.Release(1)
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, address, nil)
	if err != nil {
		return nil, &attemptError{err: fmt.Errorf("%w: %s: %w", utils.ErrRequestCreation, address, err)}
	}
	if f.opts.UserAgent != "" {
		req.Header.Set("User-Agent", f.opts.UserAgent)
	}

	// --- Handle Network-Level Errors ---
	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, &attemptError{err: err}
		}
		log.Debugf("Network error: %v", err)
		return nil, &attemptError{err: err, retryable: true}
	}
	defer resp.Body.Close()

	// --- Handle HTTP Status Codes ---
	statusCode := resp.StatusCode
	resLog := log.WithField("status_code", statusCode)
	switch {
	case statusCode >= 200 && statusCode < 300:
		// handled below
	case statusCode >= 500:
		resLog.Debug("Server error")
		io.Copy(io.Discard, resp.Body)
		return nil, &attemptError{err: fmt.Errorf("%w: status %d %s", utils.ErrServerHTTPError, statusCode, resp.Status), retryable: true}
	case statusCode == http.StatusTooManyRequests:
		resLog.Debug("Received 429 Too Many Requests")
		io.Copy(io.Discard, resp.Body)
		return nil, &attemptError{err: fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, statusCode, resp.Status), retryable: true}
	case statusCode >= 400:
		return nil, &attemptError{err: fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, statusCode, resp.Status)}
	default:
		return nil, &attemptError{err: fmt.Errorf("%w: status %d %s", utils.ErrOtherHTTPError, statusCode, resp.Status)}
	}

	// --- Read Body (capped) ---
	reader := io.Reader(resp.Body)
	if f.opts.MaxPageSizeBytes > 0 {
		reader = io.LimitReader(resp.Body, f.opts.MaxPageSizeBytes+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &attemptError{err: ctx.Err()}
		}
		return nil, &attemptError{err: fmt.Errorf("%w: %s: %w", utils.ErrResponseBodyRead, address, err), retryable: true}
	}

	page := &Page{
		RequestedURL: address,
		FinalURL:     resp.Request.URL.String(),
		StatusCode:   statusCode,
		ContentType:  resp.Header.Get("Content-Type"),
		Body:         body,
	}
	if f.opts.MaxPageSizeBytes > 0 && int64(len(body)) > f.opts.MaxPageSizeBytes {
		page.Body = body[:f.opts.MaxPageSizeBytes]
		page.Truncated = true
		resLog.Warnf("Body exceeds %d bytes, truncated", f.opts.MaxPageSizeBytes)
	}
	if page.FinalURL != address {
		resLog.WithField("final_url", page.FinalURL).Debug("Fetched after redirect")
	}
	return page, nil
}
