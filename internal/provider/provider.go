package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"vortex-ramp/internal/model"
)

const (
	payinTicketsPathFmt = "/v1/accounts/%s/pay-in-tickets"
	kycStatusPathFmt    = "/v1/accounts/%s/kyc"
)

// ErrUnavailable wraps transient provider failures. Callers retry on the
// next tick instead of failing the saga.
var ErrUnavailable = errors.New("provider: temporarily unavailable")

// KycStatus is the provider's verdict on an account's identity.
type KycStatus struct {
	IdentityStatus string `json:"identityStatus"`
}

// PaidTicketSource is the slice of the provider surface the reconciliation
// workers need.
type PaidTicketSource interface {
	PaidTickets(ctx context.Context, accountID string) ([]model.Ticket, error)
}

// Options parameterise the provider client.
type Options struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
	RatePerSecond  float64
	MaxRetries     int
	UserAgent      string
}

// Client talks to the KYC/payment provider API. The provider is eventually
// consistent; reads are retried with backoff and rate limited.
type Client struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
}

// NewClient constructs a provider client.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	perSecond := opts.RatePerSecond
	if perSecond <= 0 {
		perSecond = 5
	}

	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		logger:  logger.With().Str("component", "provider_client").Logger(),
		opts:    opts,
	}
}

// PaidTickets returns all pay-in tickets for a provider account. Filtering
// for the PAID status is up to the caller.
func (c *Client) PaidTickets(ctx context.Context, accountID string) ([]model.Ticket, error) {
	var payload struct {
		Tickets []model.Ticket `json:"tickets"`
	}
	path := fmt.Sprintf(payinTicketsPathFmt, accountID)
	if err := c.getJSON(ctx, path, &payload); err != nil {
		return nil, err
	}
	return payload.Tickets, nil
}

// KycStatus returns the identity verdict for a provider account.
func (c *Client) KycStatus(ctx context.Context, accountID string) (KycStatus, error) {
	var status KycStatus
	path := fmt.Sprintf(kycStatusPathFmt, accountID)
	if err := c.getJSON(ctx, path, &status); err != nil {
		return KycStatus{}, err
	}
	return status, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	if c.baseURL == "" {
		return errors.New("provider base url not configured")
	}

	attempts := c.opts.MaxRetries + 1
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		retryable, err := c.doGetJSON(ctx, path, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
		c.logger.Warn().Err(err).Str("path", path).Int("attempt", attempt+1).
			Msg("provider request failed; will retry")
	}

	return fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (c *Client) doGetJSON(ctx context.Context, path string, out any) (retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")
	if c.opts.APIKey != "" {
		req.Header.Set("X-Api-Key", c.opts.APIKey)
	}
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return true, fmt.Errorf("provider status %d", resp.StatusCode)
	default:
		return false, fmt.Errorf("provider status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decode provider response: %w", err)
	}
	return false, nil
}

var _ PaidTicketSource = (*Client)(nil)
