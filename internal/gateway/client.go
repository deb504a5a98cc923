package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"

	"github.com/watchearn/backend/internal/logging"
	"github.com/watchearn/backend/internal/metrics"
)

var (
	// ErrUnavailable indicates the gateway could not be reached or answered with a server error.
	ErrUnavailable = errors.New("payment gateway unavailable")
	// ErrOrderNotFound indicates the gateway does not know the order id.
	ErrOrderNotFound = errors.New("payment order not found")
	// ErrRejected indicates the gateway refused the request.
	ErrRejected = errors.New("payment gateway rejected request")
)

// Status is the normalised payment state of an order.
type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusFailed  Status = "failed"
)

// NormalizeStatus maps gateway specific spellings onto the closed status set.
// Anything unrecognised is treated as still pending.
func NormalizeStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "paid", "finished", "confirmed", "completed", "succeeded", "success":
		return StatusPaid
	case "failed", "expired", "refunded", "cancelled", "canceled", "rejected":
		return StatusFailed
	}
	return StatusPending
}

// Order is a created payment order.
type Order struct {
	ID         string `json:"id"`
	PaymentURL string `json:"payment_url"`
}

// OrderState is the current payment state of an order.
type OrderState struct {
	ID     string
	Status Status
}

// Gateway is the subset of the payment gateway API the service requires.
type Gateway interface {
	CreateOrder(ctx context.Context, amount decimal.Decimal, currency, reference string) (Order, error)
	OrderStatus(ctx context.Context, orderID string) (OrderState, error)
}

// Config controls the HTTP client.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxElapsed time.Duration
	MaxRetries uint64
}

// Client implements Gateway against the HTTP API.
type Client struct {
	baseURL       string
	apiKey        string
	http          *http.Client
	maxElapsed    time.Duration
	maxRetries    uint64
	retryInterval time.Duration
	metrics       *metrics.Metrics
}

// NewClient constructs an HTTP client with explicit timeouts.
func NewClient(cfg Config, m *metrics.Metrics) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxElapsed := cfg.MaxElapsed
	if maxElapsed <= 0 {
		maxElapsed = 2 * timeout
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 4
	}
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:        cfg.APIKey,
		http:          &http.Client{Timeout: timeout},
		maxElapsed:    maxElapsed,
		maxRetries:    maxRetries,
		retryInterval: 250 * time.Millisecond,
		metrics:       m,
	}
}

type createOrderRequest struct {
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Reference string `json:"reference"`
}

type orderStatusResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
}

// CreateOrder creates a payment order. It is attempted once.
func (c *Client) CreateOrder(ctx context.Context, amount decimal.Decimal, currency, reference string) (Order, error) {
	payload := createOrderRequest{Amount: amount.StringFixed(2), Currency: currency, Reference: reference}

	start := time.Now()
	var order Order
	err := c.do(ctx, http.MethodPost, "/orders", payload, &order)
	if err == nil && order.ID == "" {
		err = fmt.Errorf("%w: order response missing id", ErrUnavailable)
	}
	c.metrics.GatewayCall("create_order", err, time.Since(start))
	if err != nil {
		return Order{}, err
	}
	return order, nil
}

// OrderStatus queries the order with bounded exponential backoff. Transport
// failures and server errors are retried; client errors are not.
func (c *Client) OrderStatus(ctx context.Context, orderID string) (OrderState, error) {
	if strings.TrimSpace(orderID) == "" {
		return OrderState{}, ErrOrderNotFound
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval
	b.MaxElapsedTime = c.maxElapsed
	policy := backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx)

	logger := logging.FromContext(ctx)
	start := time.Now()
	var resp orderStatusResponse
	op := func() error {
		resp = orderStatusResponse{}
		err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil, &resp)
		if err != nil && !errors.Is(err, ErrUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("gateway status query failed, retrying",
			slog.String("order_id", orderID),
			slog.Duration("wait", wait),
			slog.Any("error", err),
		)
	}
	err := backoff.RetryNotify(op, policy, notify)
	c.metrics.GatewayCall("order_status", err, time.Since(start))
	if err != nil {
		return OrderState{}, err
	}

	raw := resp.PaymentStatus
	if raw == "" {
		raw = resp.Status
	}
	id := resp.ID
	if id == "" {
		id = orderID
	}
	return OrderState{ID: id, Status: NormalizeStatus(raw)}, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any, out any) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("%w: client not configured", ErrUnavailable)
	}

	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrOrderNotFound, path)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s %s status=%d", ErrUnavailable, method, path, resp.StatusCode)
	case resp.StatusCode >= 300:
		return fmt.Errorf("%w: %s %s status=%d", ErrRejected, method, path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return nil
}
