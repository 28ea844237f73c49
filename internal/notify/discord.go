// Package notify delivers items, and optionally log entries, to a Discord
// webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/lysyi3m/broadcast/internal/feed"
)

// Notifier delivers a single item. Implementations retry internally and
// return a *DeliveryError when they give up.
type Notifier interface {
	Notify(ctx context.Context, item feed.Item) error
}

type Options struct {
	WebhookURL    string
	Username      string
	AvatarURL     string
	FooterText    string
	FooterIconURL string
	Styles        map[feed.SourceID]Style

	Timeout       time.Duration
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64
	RatePerSec    float64
}

type Discord struct {
	client  *http.Client
	url     string
	opt     Options
	format  *formatter
	limiter *rate.Limiter
	log     zerolog.Logger

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

func NewDiscord(client *http.Client, opt Options, log zerolog.Logger) (*Discord, error) {
	if strings.TrimSpace(opt.WebhookURL) == "" {
		return nil, errors.New("webhook url is required")
	}
	if client == nil {
		client = &http.Client{}
	}
	if opt.Timeout <= 0 {
		opt.Timeout = 10 * time.Second
	}
	if opt.RetryMax <= 0 {
		opt.RetryMax = 3
	}
	if opt.RetryBase <= 0 {
		opt.RetryBase = time.Second
	}
	if opt.RetryMaxDelay <= 0 {
		opt.RetryMaxDelay = 30 * time.Second
	}
	if opt.FooterText == "" {
		opt.FooterText = defaultFooter
	}

	limit := rate.Inf
	if opt.RatePerSec > 0 {
		limit = rate.Limit(opt.RatePerSec)
	}

	return &Discord{
		client: client,
		url:    opt.WebhookURL,
		opt:    opt,
		format: &formatter{
			username:   opt.Username,
			avatarURL:  opt.AvatarURL,
			footer:     opt.FooterText,
			footerIcon: opt.FooterIconURL,
			styles:     opt.Styles,
			now:        time.Now,
		},
		limiter: rate.NewLimiter(limit, 1),
		log:     log.With().Str("component", "notifier").Logger(),
		sleep:   sleepContext,
		jitter:  rand.Float64,
	}, nil
}

func (d *Discord) Notify(ctx context.Context, item feed.Item) error {
	log := d.log.With().Str("source", item.Source.String()).Str("item_id", item.ID).Logger()

	attempts, err := d.send(ctx, d.format.payload(item), log)
	if err != nil {
		return err
	}

	log.Debug().Int("attempt", attempts).Msg("Item delivered")
	return nil
}

// SendLog posts a single log entry. It shares the limiter, client and retry
// policy with item delivery.
func (d *Discord) SendLog(ctx context.Context, level zerolog.Level, message string) error {
	_, err := d.send(ctx, d.format.logPayload(level, message), d.log)
	return err
}

// send posts payload with retries and returns the number of attempts made.
func (d *Discord) send(ctx context.Context, payload webhookPayload, log zerolog.Logger) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, &DeliveryError{Kind: Permanent, Err: fmt.Errorf("failed to encode payload: %w", err)}
	}

	for attempt := 1; ; attempt++ {
		if err := d.limiter.Wait(ctx); err != nil {
			return attempt - 1, &DeliveryError{Kind: Transient, Attempts: attempt - 1, Err: err}
		}

		err := d.post(ctx, body)
		if err == nil {
			return attempt, nil
		}

		var ae *attemptError
		if !errors.As(err, &ae) {
			ae = &attemptError{transient: true, err: err}
		}

		if !ae.transient {
			return attempt, &DeliveryError{Kind: Permanent, Status: ae.status, Attempts: attempt, Err: ae.err}
		}
		if attempt >= d.opt.RetryMax || ctx.Err() != nil {
			return attempt, &DeliveryError{Kind: Transient, Status: ae.status, Attempts: attempt, Err: ae.err}
		}

		delay := d.backoff(attempt, ae.retryAfter)
		log.Warn().
			Err(ae.err).
			Int("attempt", attempt).
			Int("status", ae.status).
			Dur("delay", delay).
			Msg("Delivery failed, retrying")

		if err := d.sleep(ctx, delay); err != nil {
			return attempt, &DeliveryError{Kind: Transient, Status: ae.status, Attempts: attempt, Err: err}
		}
	}
}

// post performs exactly one webhook call.
func (d *Discord) post(ctx context.Context, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, d.opt.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return &attemptError{err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return &attemptError{transient: true, err: fmt.Errorf("failed to post webhook: %w", err)}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	ae := &attemptError{
		status:    resp.StatusCode,
		transient: isTransientStatus(resp.StatusCode),
		err:       fmt.Errorf("webhook returned %s: %s", resp.Status, strings.TrimSpace(string(respBody))),
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		ae.retryAfter = retryAfter(resp.Header, respBody, time.Now())
	}
	return ae
}

func isTransientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}

// retryAfter reads the server's delay hint from the Retry-After header or
// Discord's JSON retry_after field, both in seconds.
func retryAfter(h http.Header, body []byte, now time.Time) time.Duration {
	if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs >= 0 {
			return time.Duration(secs * float64(time.Second))
		}
		if at, err := http.ParseTime(v); err == nil {
			return max(at.Sub(now), 0)
		}
	}

	var rl struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if len(body) > 0 && json.Unmarshal(body, &rl) == nil && rl.RetryAfter > 0 {
		return time.Duration(rl.RetryAfter * float64(time.Second))
	}
	return 0
}

// backoff doubles RetryBase per attempt up to RetryMaxDelay. A server hint
// replaces the computed delay but is still capped.
func (d *Discord) backoff(attempt int, hint time.Duration) time.Duration {
	maxD := d.opt.RetryMaxDelay
	if hint > 0 {
		return min(hint, maxD)
	}

	delay := d.opt.RetryBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > maxD {
			delay = maxD
			break
		}
	}

	if j := d.opt.RetryJitter; j > 0 && d.jitter != nil {
		r := (d.jitter()*2 - 1) * j
		delay = time.Duration(float64(delay) * (1 + r))
	}
	return min(max(delay, 0), maxD)
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
