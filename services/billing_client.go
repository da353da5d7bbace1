package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Subscription states reported by the billing service.
const (
	SubscriptionActivePaid = "active_paid"
	SubscriptionTrial      = "trial"
	SubscriptionNone       = "none"
)

// SubscriptionChecker is what the conversion monitor needs from billing.
type SubscriptionChecker interface {
	SubscriptionStateByPass(ctx context.Context, passID string) (string, error)
}

// BillingClient talks to the external billing service. Every call uses a
// bounded timeout and a fixed retry budget with doubling backoff; on
// exhaustion the caller's state is left as-is and the failure is logged
// for the next scheduled run, never silently dropped.
type BillingClient struct {
	BaseURL string
	Token   string
	Client  *http.Client

	attempts     int
	backoffStart time.Duration
}

func NewBillingClient(baseURL, token string) *BillingClient {
	return &BillingClient{
		BaseURL: baseURL,
		Token:   token,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
		attempts:     3,
		backoffStart: 500 * time.Millisecond,
	}
}

// StartTrial asks billing to open a 14-day trial subscription tagged
// with the pass id, so the later conversion check can reconcile by pass.
func (c *BillingClient) StartTrial(ctx context.Context, passID, recipientID, paymentToken string) error {
	body := map[string]interface{}{
		"pass_id":       passID,
		"recipient_id":  recipientID,
		"payment_token": paymentToken,
	}
	return c.doWithRetry(ctx, "POST", "/billing/trials", body, nil)
}

// SubscriptionStateByPass resolves the subscription opened for a pass:
// active_paid, trial, or none.
func (c *BillingClient) SubscriptionStateByPass(ctx context.Context, passID string) (string, error) {
	var out struct {
		State string `json:"state"`
	}
	err := c.doWithRetry(ctx, "GET", "/billing/subscriptions/by-pass/"+passID, nil, &out)
	if err != nil {
		return "", err
	}
	return out.State, nil
}

// ApplyReward asks billing to credit days onto the referrer's own
// subscription; the ledger settles the reward once this succeeds.
func (c *BillingClient) ApplyReward(ctx context.Context, referrerID string, days int, rewardID string) error {
	body := map[string]interface{}{
		"referrer_id": referrerID,
		"days":        days,
		"reward_id":   rewardID,
	}
	return c.doWithRetry(ctx, "POST", "/billing/credits", body, nil)
}

func (c *BillingClient) doWithRetry(ctx context.Context, method, path string, body, out interface{}) error {
	backoff := c.backoffStart
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		lastErr = c.do(ctx, method, path, body, out)
		if lastErr == nil {
			return nil
		}
		log.Printf("⚠️  billing %s %s attempt %d/%d failed: %v", method, path, attempt, c.attempts, lastErr)
		if attempt < c.attempts {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrExternalService, ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}
	}
	return fmt.Errorf("%w: %v", ErrExternalService, lastErr)
}

func (c *BillingClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonData, _ := json.Marshal(body)
		reader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("billing returned %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode billing response: %w", err)
		}
	}
	return nil
}
