// Package payments integrates Stripe Checkout: a thin REST client for
// sessions and customers, webhook signature verification, and the idempotent
// reconciliation that turns a completed checkout session into registration,
// ticket and payment rows.
package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/markw53/mt-api/config"
	"github.com/markw53/mt-api/internal/apperr"
)

const defaultBaseURL = "https://api.stripe.com"

// Client talks to the Stripe REST API with form-encoded requests and bearer
// auth. A client with an empty secret key is disabled and fails every call
// with Unavailable rather than at construction, so the server can boot
// without Stripe configured.
type Client struct {
	cfg        config.StripeConfig
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg config.StripeConfig) *Client {
	return &Client{
		cfg:        cfg,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) Enabled() bool {
	return c.cfg.SecretKey != ""
}

func (c *Client) WebhookSecret() string {
	return c.cfg.WebhookSecret
}

// CheckoutSession is the subset of Stripe's checkout session object the
// platform reads. Metadata carries eventId and userId through the checkout
// round trip.
type CheckoutSession struct {
	ID            string            `json:"id"`
	URL           string            `json:"url"`
	Customer      string            `json:"customer"`
	PaymentStatus string            `json:"payment_status"`
	PaymentIntent string            `json:"payment_intent"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	Metadata      map[string]string `json:"metadata"`
}

// EventUserIDs extracts the metadata ids; both must be present and numeric.
func (s *CheckoutSession) EventUserIDs() (eventID, userID uint, err error) {
	e, err1 := strconv.ParseUint(s.Metadata["eventId"], 10, 32)
	u, err2 := strconv.ParseUint(s.Metadata["userId"], 10, 32)
	if err1 != nil || err2 != nil {
		return 0, 0, apperr.Validation("Checkout session metadata is missing eventId/userId")
	}
	return uint(e), uint(u), nil
}

type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type stripeAPIError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateCustomer registers the user with Stripe so later sessions can be
// attached to a stable customer id.
func (c *Client) CreateCustomer(ctx context.Context, email string, userID uint) (*Customer, error) {
	form := url.Values{}
	form.Set("email", email)
	form.Set("metadata[userId]", strconv.FormatUint(uint64(userID), 10))

	var customer Customer
	if err := c.post(ctx, "/v1/customers", form, &customer); err != nil {
		return nil, err
	}
	return &customer, nil
}

// CheckoutParams describes a single-ticket checkout for one event.
type CheckoutParams struct {
	CustomerID  string
	EventID     uint
	UserID      uint
	Title       string
	Description string
	AmountMinor int64
	Currency    string
	SuccessURL  string
	CancelURL   string
}

// CreateCheckoutSession opens a hosted checkout flow for one ticket.
func (c *Client) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	description := p.Description
	if description == "" {
		description = "Event ticket"
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("customer", p.CustomerID)
	form.Set("payment_method_types[0]", "card")
	form.Set("line_items[0][price_data][currency]", p.Currency)
	form.Set("line_items[0][price_data][product_data][name]", fmt.Sprintf("Ticket for %s", p.Title))
	form.Set("line_items[0][price_data][product_data][description]", description)
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(p.AmountMinor, 10))
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", p.SuccessURL)
	form.Set("cancel_url", p.CancelURL)
	form.Set("metadata[eventId]", strconv.FormatUint(uint64(p.EventID), 10))
	form.Set("metadata[userId]", strconv.FormatUint(uint64(p.UserID), 10))

	var session CheckoutSession
	if err := c.post(ctx, "/v1/checkout/sessions", form, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// RetrieveSession fetches the current state of a checkout session.
func (c *Client) RetrieveSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	var session CheckoutSession
	if err := c.do(ctx, http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(sessionID), nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *Client) post(ctx context.Context, path string, form url.Values, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, form, out)
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values, out interface{}) error {
	if !c.Enabled() {
		return apperr.Unavailable("Stripe payment service unavailable - API key not configured")
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return apperr.Internal(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Idempotency-Key", uuid.New().String())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.Unavailable("Stripe payment service unreachable")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Internal(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr stripeAPIError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			return &apperr.Error{Kind: apperr.KindInternal, Msg: apiErr.Error.Message}
		}
		return &apperr.Error{Kind: apperr.KindInternal, Msg: fmt.Sprintf("Stripe request failed with status %d", resp.StatusCode)}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return apperr.Internal(err)
		}
	}
	return nil
}
