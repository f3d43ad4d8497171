// Package gateway talks to the external payment provider: creating
// payment intents over its REST API and verifying completion signatures
// with the shared secret. The provider's checkout UI and webhooks are out
// of scope; only the session-creation and signing contract lives here.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
)

// Client calls the provider's order-intent API using basic auth with the
// key id/secret pair.
type Client struct {
	baseURL   string
	keyID     string
	keySecret string
	http      *http.Client
}

// NewClient creates a gateway Client for the given API credentials.
func NewClient(baseURL, keyID, keySecret string) *Client {
	return &Client{
		baseURL:   baseURL,
		keyID:     keyID,
		keySecret: keySecret,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type createIntentRequest struct {
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Receipt        string `json:"receipt"`
	PaymentCapture int    `json:"payment_capture"`
}

type createIntentResponse struct {
	ID string `json:"id"`
}

type apiError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateIntent registers a payment intent with the provider and returns its
// gateway-side order id. No local state is involved; callers may safely
// retry on error.
func (c *Client) CreateIntent(ctx context.Context, amount int64, currency, receipt string) (string, error) {
	body, err := json.Marshal(createIntentRequest{
		Amount:         amount,
		Currency:       currency,
		Receipt:        receipt,
		PaymentCapture: 1,
	})
	if err != nil {
		return "", errors.Wrap(err, "encode intent request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "build intent request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "call gateway")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errors.Wrap(err, "read gateway response")
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Description != "" {
			return "", errors.Errorf("gateway rejected intent: %s (%s)",
				apiErr.Error.Description, apiErr.Error.Code)
		}
		return "", errors.Errorf("gateway returned status %d", resp.StatusCode)
	}

	var out createIntentResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", errors.Wrap(err, "decode gateway response")
	}
	if out.ID == "" {
		return "", errors.New("gateway response missing order id")
	}
	return out.ID, nil
}
