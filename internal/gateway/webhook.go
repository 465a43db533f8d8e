// Package gateway delivers channel messages to the per-channel provider
// endpoint. Providers sit behind a plain HTTP contract; their own wire
// formats and usage-limit policies are out of scope here.
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/entersite/outreach/internal/circuitbreaker"
	"github.com/entersite/outreach/internal/domain"
)

const defaultTimeout = 30 * time.Second

// Payload is the message handed to the channel provider.
type Payload struct {
	Tenant  string `json:"tenant"`
	Channel string `json:"channel"`
	To      string `json:"to"`
	Content string `json:"content"`
}

// Webhook sends channel messages as signed HTTP POSTs. One Webhook per
// channel endpoint.
type Webhook struct {
	channel domain.Channel
	url     string
	secret  string
	timeout time.Duration
	client  *http.Client
	breaker *circuitbreaker.Breaker // optional, nil = disabled
}

func NewWebhook(channel domain.Channel, url, secret string) *Webhook {
	return &Webhook{
		channel: channel,
		url:     url,
		secret:  secret,
		timeout: defaultTimeout,
		client:  &http.Client{},
	}
}

// WithBreaker guards the endpoint with a circuit breaker. An open circuit
// fails the send fast.
func (w *Webhook) WithBreaker(b *circuitbreaker.Breaker) *Webhook {
	w.breaker = b
	return w
}

func (w *Webhook) WithTimeout(d time.Duration) *Webhook {
	if d > 0 {
		w.timeout = d
	}
	return w
}

// Send posts the payload with an HMAC-SHA256 signature header. A non-2xx
// response is an error; the caller decides what a failed send means for
// the run.
func (w *Webhook) Send(ctx context.Context, tenantID, to, content string) error {
	if w.breaker != nil {
		if err := w.breaker.Allow(w.url); err != nil {
			return fmt.Errorf("%s gateway: %w", w.channel, err)
		}
	}

	err := w.post(ctx, tenantID, to, content)
	if w.breaker != nil {
		if err != nil {
			w.breaker.RecordFailure(w.url)
		} else {
			w.breaker.RecordSuccess(w.url)
		}
	}
	return err
}

func (w *Webhook) post(ctx context.Context, tenantID, to, content string) error {
	body, err := json.Marshal(Payload{
		Tenant:  tenantID,
		Channel: string(w.channel),
		To:      to,
		Content: content,
	})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Outreach-Channel", string(w.channel))
	req.Header.Set("X-Outreach-Tenant", tenantID)
	req.Header.Set("X-Outreach-Signature", ComputeSignature(w.secret, body))

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gateway status %d", resp.StatusCode)
	}
	return nil
}

// ComputeSignature returns the hex HMAC-SHA256 of body under secret.
func ComputeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for providers to verify incoming gateway requests.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := ComputeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
