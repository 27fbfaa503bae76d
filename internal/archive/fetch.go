// Package archive downloads monthly mailing-list mbox segments. Fetching
// is idempotent per segment: closed months already in the store are never
// requested again, while the current month is always re-fetched because
// it is still growing.
package archive

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/TobiSchelling/kipwatch/internal/config"
	"github.com/TobiSchelling/kipwatch/internal/store"
)

// FetchError reports a segment that could not be downloaded. One failed
// segment never fails the run; the caller gets the keys back so it can
// retry on the next run.
type FetchError struct {
	Key string
	Err error
}

func (e FetchError) Error() string {
	return fmt.Sprintf("fetching segment %s: %v", e.Key, e.Err)
}

func (e FetchError) Unwrap() error { return e.Err }

type httpError struct {
	code int
}

func (e *httpError) Error() string {
	return fmt.Sprintf("HTTP %d %s", e.code, http.StatusText(e.code))
}

// Fetcher downloads archive segments through the store.
type Fetcher struct {
	store      *store.Store
	client     *http.Client
	baseURL    string
	list       string
	domain     string
	limiter    *rate.Limiter
	maxRetries uint64

	now func() time.Time
}

// New creates a Fetcher for the configured mailing list. The now func
// decides which month counts as open; nil means wall-clock time.
func New(cfg config.Mail, st *store.Store, now func() time.Time) *Fetcher {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	limit := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	if now == nil {
		now = time.Now
	}

	return &Fetcher{
		store:      st,
		client:     &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		list:       cfg.List,
		domain:     cfg.Domain,
		limiter:    rate.NewLimiter(limit, 1),
		maxRetries: uint64(retries),
		now:        now,
	}
}

// FetchWindow returns the segments covering the trailing daysBack window
// in archive order, plus the segments that failed to download.
func (f *Fetcher) FetchWindow(ctx context.Context, daysBack int) ([]store.Segment, []FetchError) {
	return f.FetchMonths(ctx, MonthsBack(f.now(), daysBack))
}

// FetchMonths fetches the given months in order. Closed months present in
// the store are served locally; everything else goes to the network.
func (f *Fetcher) FetchMonths(ctx context.Context, months []YearMonth) ([]store.Segment, []FetchError) {
	now := f.now()
	var segments []store.Segment
	var failed []FetchError

	for _, ym := range months {
		seg := store.Segment{List: f.list, Year: ym.Year, Month: ym.Month}

		stored, err := f.store.GetSegment(f.list, ym.Year, ym.Month)
		if err != nil {
			failed = append(failed, FetchError{Key: seg.Key(), Err: err})
			continue
		}
		// A closed month is final only if its copy was taken after the
		// rollover; a copy from while the month was still growing may
		// miss late mail, so it gets one more fetch. The merge-offset
		// filter makes the re-merge additive.
		if stored != nil && !stored.IsOpen(now) && !stored.FetchedWhileOpen() {
			segments = append(segments, *stored)
			continue
		}

		log.Printf("Downloading %s archive for %d/%d", f.list, ym.Month, ym.Year)
		raw, err := f.fetchMonth(ctx, ym)
		if err != nil {
			// The open month, or a closed month pending its final
			// fetch, may still have a usable earlier copy.
			if stored != nil {
				log.Printf("Fetch failed for %s, using stored copy: %v", seg.Key(), err)
				segments = append(segments, *stored)
			}
			failed = append(failed, FetchError{Key: seg.Key(), Err: err})
			continue
		}

		if err := f.store.UpsertSegment(f.list, ym.Year, ym.Month, raw, now); err != nil {
			failed = append(failed, FetchError{Key: seg.Key(), Err: err})
			continue
		}
		stored, err = f.store.GetSegment(f.list, ym.Year, ym.Month)
		if err != nil || stored == nil {
			failed = append(failed, FetchError{Key: seg.Key(), Err: fmt.Errorf("re-reading stored segment: %w", err)})
			continue
		}
		segments = append(segments, *stored)
	}

	return segments, failed
}

// fetchMonth downloads one monthly mbox, retrying transient failures with
// exponential backoff. Client errors (4xx) are permanent.
func (f *Fetcher) fetchMonth(ctx context.Context, ym YearMonth) (string, error) {
	var raw string

	operation := func() error {
		if err := f.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		params := url.Values{
			"list":   {f.list},
			"domain": {f.domain},
			"d":      {fmt.Sprintf("%d-%d", ym.Year, ym.Month)},
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"?"+params.Encode(), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", "kipwatch/1.0 (proposal mention miner)")

		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return &httpError{code: resp.StatusCode}
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(&httpError{code: resp.StatusCode})
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		raw = string(body)
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), f.maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return "", err
	}
	return raw, nil
}
