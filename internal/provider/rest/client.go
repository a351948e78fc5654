// Package rest implements the provider ports over plain HTTP/JSON.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/mkorenev/geopay/internal/infrastructure/observability"
	"github.com/mkorenev/geopay/internal/provider"
	pkgerrors "github.com/mkorenev/geopay/pkg/errors"
	"github.com/shopspring/decimal"
)

// Client talks to one provider endpoint. The same type backs the capture,
// payout and balance ports since they share transport and retry behavior.
type Client struct {
	baseURL    string
	httpClient *http.Client
	policy     provider.RetryPolicy
}

func NewClient(baseURL string, policy provider.RetryPolicy) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		policy:     policy,
	}
}

func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.policy.InitialInterval
	bo.MaxInterval = c.policy.MaxInterval
	return backoff.WithContext(backoff.WithMaxRetries(bo, c.policy.MaxAttempts-1), ctx)
}

// doJSON posts the request body and decodes the response into out. Retries
// are bounded by the injected policy; a 4xx is not retried since the request
// itself is wrong.
func (c *Client) doJSON(ctx context.Context, operation, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal provider request: %w", err)
	}

	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return backoff.Permanent(fmt.Errorf("provider rejected %s: status %d: %s", operation, resp.StatusCode, payload))
		}
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			return fmt.Errorf("provider %s returned status %d", operation, resp.StatusCode)
		}
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}

	if err := backoff.Retry(attempt, c.newBackOff(ctx)); err != nil {
		observability.ProviderCalls.WithLabelValues(operation, "error").Inc()
		slog.Error("provider call failed", "operation", operation, "url", c.baseURL+path, "error", err)
		return fmt.Errorf("%w: %s: %v", pkgerrors.ErrProviderFailure, operation, err)
	}
	observability.ProviderCalls.WithLabelValues(operation, "success").Inc()
	return nil
}

func (c *Client) OpenOrder(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (*provider.CaptureOrder, error) {
	req := map[string]interface{}{
		"account_id": accountID.String(),
		"amount":     amount,
	}
	var order provider.CaptureOrder
	if err := c.doJSON(ctx, "open_order", "/orders", req, &order); err != nil {
		return nil, err
	}
	if order.OrderRef == "" {
		return nil, fmt.Errorf("%w: open_order: empty order ref", pkgerrors.ErrProviderFailure)
	}
	return &order, nil
}

func (c *Client) SendPayout(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (string, error) {
	req := map[string]interface{}{
		"account_id": accountID.String(),
		"amount":     amount,
	}
	var resp struct {
		PayoutRef string `json:"payout_ref"`
	}
	if err := c.doJSON(ctx, "send_payout", "/payouts", req, &resp); err != nil {
		return "", err
	}
	if resp.PayoutRef == "" {
		return "", fmt.Errorf("%w: send_payout: empty payout ref", pkgerrors.ErrProviderFailure)
	}
	return resp.PayoutRef, nil
}

func (c *Client) CurrentBalance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	req := map[string]interface{}{
		"account_id": accountID.String(),
	}
	var resp struct {
		Balance decimal.Decimal `json:"balance"`
	}
	if err := c.doJSON(ctx, "current_balance", "/balances", req, &resp); err != nil {
		return decimal.Zero, err
	}
	return resp.Balance, nil
}
