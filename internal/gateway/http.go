package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// RPS and Burst throttle outbound calls. Zero RPS disables throttling.
	RPS   float64
	Burst int
	// Retries bounds retries of read-only calls.
	Retries int
	Backoff time.Duration
}

// HTTPClient talks to a Stripe-compatible REST API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	retries int
	backoff time.Duration
	logger  *slog.Logger
}

func NewHTTPClient(opts Options, logger *slog.Logger) (*HTTPClient, error) {
	if opts.APIKey == "" {
		return nil, errors.New("gateway api key is required")
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid gateway base url %q", opts.BaseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}

	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}

	return &HTTPClient{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		http:    &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(limit, opts.Burst),
		retries: opts.Retries,
		backoff: opts.Backoff,
		logger:  logger,
	}, nil
}

type apiIntent struct {
	ID           string            `json:"id"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Status       string            `json:"status"`
	ClientSecret string            `json:"client_secret"`
	Created      int64             `json:"created"`
	Metadata     map[string]string `json:"metadata"`
}

func (a apiIntent) toIntent() *Intent {
	return &Intent{
		ID:           a.ID,
		ClientSecret: a.ClientSecret,
		Amount:       a.Amount,
		Currency:     a.Currency,
		Status:       IntentStatus(a.Status),
		OrderID:      a.Metadata["orderId"],
		Created:      time.Unix(a.Created, 0).UTC(),
	}
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateIntent is never retried here. The idempotency key makes a retry by
// the caller safe, but deciding to retry is left to the payment service.
func (c *HTTPClient) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	amount := MinorUnits(req.Total, req.Currency)
	if amount <= 0 {
		return nil, fmt.Errorf("%w: total must be positive", ErrInvalidAmount)
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amount, 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("metadata[orderId]", req.OrderID.String())
	form.Set("automatic_payment_methods[enabled]", "true")

	var out apiIntent
	if err := c.do(ctx, http.MethodPost, "/v1/payment_intents", form, req.IdempotencyKey(), &out); err != nil {
		return nil, fmt.Errorf("create intent: %w", err)
	}
	return out.toIntent(), nil
}

func (c *HTTPClient) RetrieveIntent(ctx context.Context, intentID string) (*Intent, error) {
	if intentID == "" {
		return nil, fmt.Errorf("%w: empty intent id", ErrInvalidRequest)
	}

	var out apiIntent
	path := "/v1/payment_intents/" + url.PathEscape(intentID)
	err := c.withRetry(ctx, func() error {
		return c.do(ctx, http.MethodGet, path, nil, "", &out)
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve intent: %w", err)
	}
	return out.toIntent(), nil
}

func (c *HTTPClient) Refund(ctx context.Context, intentID string, amount *int64) (*Refund, error) {
	if intentID == "" {
		return nil, fmt.Errorf("%w: empty intent id", ErrInvalidRequest)
	}
	form := url.Values{}
	form.Set("payment_intent", intentID)
	if amount != nil {
		if *amount <= 0 {
			return nil, fmt.Errorf("%w: refund amount must be positive", ErrInvalidAmount)
		}
		form.Set("amount", strconv.FormatInt(*amount, 10))
	}

	var out Refund
	if err := c.do(ctx, http.MethodPost, "/v1/refunds", form, "", &out); err != nil {
		return nil, fmt.Errorf("create refund: %w", err)
	}
	return &out, nil
}

func (c *HTTPClient) withRetry(ctx context.Context, call func() error) error {
	var err error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			delay := c.backoff << (attempt - 1)
			c.logger.Warn("retrying gateway call", "attempt", attempt, "delay", delay, "err", err)
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			case <-time.After(delay):
			}
		}
		err = call()
		if err == nil || !errors.Is(err, ErrUnavailable) {
			return err
		}
	}
	return err
}

func (c *HTTPClient) do(ctx context.Context, method, path string, form url.Values, idempotencyKey string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.apiKey, "")
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode >= 400:
		var apiErr apiError
		_ = json.Unmarshal(raw, &apiErr)
		msg := apiErr.Error.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		if apiErr.Error.Code == "amount_too_small" || apiErr.Error.Code == "amount_too_large" {
			return fmt.Errorf("%w: %s", ErrInvalidAmount, msg)
		}
		return fmt.Errorf("%w: %s", ErrInvalidRequest, msg)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return nil
}
