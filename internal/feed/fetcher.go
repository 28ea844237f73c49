package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const maxBodySize = 10 << 20

type FetcherOptions struct {
	UserAgent  string
	Timeout    time.Duration
	RetryDelay time.Duration
}

// Fetcher performs bounded HTTP GETs. A failed request is retried once
// after RetryDelay.
type Fetcher struct {
	client     *http.Client
	userAgent  string
	timeout    time.Duration
	retryDelay time.Duration
	log        zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func NewFetcher(client *http.Client, opts FetcherOptions, log zerolog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "Broadcast/1.0"
	}

	return &Fetcher{
		client:     client,
		userAgent:  opts.UserAgent,
		timeout:    opts.Timeout,
		retryDelay: opts.RetryDelay,
		log:        log,
		sleep:      sleepContext,
	}
}

func (f *Fetcher) Get(ctx context.Context, url string) ([]byte, error) {
	data, err := f.get(ctx, url)
	if err == nil {
		return data, nil
	}

	f.log.Debug().Err(err).Str("url", url).Dur("delay", f.retryDelay).Msg("GET failed, retrying")

	if err := f.sleep(ctx, f.retryDelay); err != nil {
		return nil, err
	}

	return f.get(ctx, url)
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	f.log.Trace().Str("url", url).Int("bytes", len(data)).Msg("GET ok")

	return data, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
