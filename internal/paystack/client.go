// Package paystack talks to the Paystack transaction API and verifies its
// webhook signatures.
package paystack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	DefaultBaseURL = "https://api.paystack.co"
	DefaultTimeout = 10 * time.Second

	// DepositMetadataType tags checkouts this service created, so the webhook
	// can ignore the merchant's other charges.
	DepositMetadataType = "wallet_deposit"
)

var ErrRequestFailed = errors.New("paystack request failed")

type Metadata struct {
	UserID   string `json:"user_id,omitempty"`
	WalletID string `json:"wallet_id,omitempty"`
	Type     string `json:"type,omitempty"`
}

type InitializeRequest struct {
	Email     string   `json:"email"`
	Amount    int64    `json:"amount"`
	Reference string   `json:"reference"`
	Metadata  Metadata `json:"metadata"`
}

type Checkout struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// Verification is the provider's view of a single transaction.
type Verification struct {
	Status    string     `json:"status"`
	Reference string     `json:"reference"`
	Amount    int64      `json:"amount"`
	Channel   string     `json:"channel"`
	Currency  string     `json:"currency"`
	PaidAt    *time.Time `json:"paid_at"`
}

type envelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    *T     `json:"data"`
}

type Client struct {
	http *resty.Client
}

// NewClient builds a client that makes exactly one attempt per call, bounded
// by timeout.
func NewClient(baseURL, secretKey string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetAuthToken(secretKey).
		SetHeader("Accept", "application/json").
		SetRetryCount(0)
	return &Client{http: c}
}

// Initialize opens a hosted checkout for req.
func (c *Client) Initialize(ctx context.Context, req InitializeRequest) (Checkout, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		Post("/transaction/initialize")
	if err != nil {
		return Checkout{}, fmt.Errorf("%w: initialize: %v", ErrRequestFailed, err)
	}
	out, err := decode[Checkout](resp)
	if err != nil {
		return Checkout{}, fmt.Errorf("initialize %s: %w", req.Reference, err)
	}
	if out.AuthorizationURL == "" {
		return Checkout{}, fmt.Errorf("%w: initialize %s: empty authorization url", ErrRequestFailed, req.Reference)
	}
	return out, nil
}

// Verify asks the provider for the current state of reference.
func (c *Client) Verify(ctx context.Context, reference string) (Verification, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get("/transaction/verify/" + url.PathEscape(reference))
	if err != nil {
		return Verification{}, fmt.Errorf("%w: verify: %v", ErrRequestFailed, err)
	}
	out, err := decode[Verification](resp)
	if err != nil {
		return Verification{}, fmt.Errorf("verify %s: %w", reference, err)
	}
	return out, nil
}

func decode[T any](resp *resty.Response) (T, error) {
	var zero T
	var env envelope[T]
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return zero, fmt.Errorf("%w: status %d: undecodable body", ErrRequestFailed, resp.StatusCode())
	}
	if resp.IsError() || !env.Status || env.Data == nil {
		msg := env.Message
		if msg == "" {
			msg = resp.Status()
		}
		return zero, fmt.Errorf("%w: status %d: %s", ErrRequestFailed, resp.StatusCode(), msg)
	}
	return *env.Data, nil
}
