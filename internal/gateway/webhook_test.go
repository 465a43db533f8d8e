package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/entersite/outreach/internal/circuitbreaker"
	"github.com/entersite/outreach/internal/domain"
)

type capturedRequest struct {
	payload   Payload
	signature string
	channel   string
	tenant    string
}

func captureServer(t *testing.T, status int) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var mu sync.Mutex
	var captured []capturedRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var p Payload
		if err := json.Unmarshal(body, &p); err != nil {
			t.Errorf("invalid payload: %v", err)
		}
		mu.Lock()
		captured = append(captured, capturedRequest{
			payload:   p,
			signature: r.Header.Get("X-Outreach-Signature"),
			channel:   r.Header.Get("X-Outreach-Channel"),
			tenant:    r.Header.Get("X-Outreach-Tenant"),
		})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		result := make([]capturedRequest, len(captured))
		copy(result, captured)
		return result
	}
}

func TestWebhook_SendSignsPayload(t *testing.T) {
	srv, captured := captureServer(t, http.StatusOK)
	w := NewWebhook(domain.ChannelSMS, srv.URL, "topsecret")

	if err := w.Send(context.Background(), "t1", "+15550001", "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}

	reqs := captured()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	req := reqs[0]
	if req.payload.Tenant != "t1" || req.payload.To != "+15550001" || req.payload.Content != "hello" {
		t.Errorf("payload = %+v", req.payload)
	}
	if req.payload.Channel != "sms" || req.channel != "sms" {
		t.Errorf("channel = %q / header %q", req.payload.Channel, req.channel)
	}
	if req.tenant != "t1" {
		t.Errorf("tenant header = %q", req.tenant)
	}

	body, _ := json.Marshal(req.payload)
	if !VerifySignature("topsecret", body, req.signature) {
		t.Error("signature does not verify against the payload")
	}
	if VerifySignature("wrong", body, req.signature) {
		t.Error("signature verified under the wrong secret")
	}
}

func TestWebhook_Non2xxIsError(t *testing.T) {
	srv, _ := captureServer(t, http.StatusBadGateway)
	w := NewWebhook(domain.ChannelEmail, srv.URL, "s")

	err := w.Send(context.Background(), "t1", "a@example.com", "hi")
	if err == nil {
		t.Fatal("expected error on 502")
	}
}

func TestWebhook_BreakerOpensAndFailsFast(t *testing.T) {
	srv, captured := captureServer(t, http.StatusInternalServerError)
	b := circuitbreaker.New(2, time.Minute)
	w := NewWebhook(domain.ChannelEmail, srv.URL, "s").WithBreaker(b)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := w.Send(ctx, "t1", "a@example.com", "hi"); err == nil {
			t.Fatalf("send %d should fail", i)
		}
	}

	// Third send must fail fast without reaching the endpoint.
	err := w.Send(ctx, "t1", "a@example.com", "hi")
	if !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if got := len(captured()); got != 2 {
		t.Errorf("open circuit must not hit the endpoint, saw %d requests", got)
	}
}

func TestWebhook_SuccessClosesBreaker(t *testing.T) {
	var status = http.StatusInternalServerError
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		s := status
		mu.Unlock()
		w.WriteHeader(s)
	}))
	t.Cleanup(srv.Close)

	b := circuitbreaker.New(1, 0) // cooldown 0: next Allow is the probe
	w := NewWebhook(domain.ChannelEmail, srv.URL, "s").WithBreaker(b)
	ctx := context.Background()

	if err := w.Send(ctx, "t1", "a@example.com", "hi"); err == nil {
		t.Fatal("first send should fail")
	}

	mu.Lock()
	status = http.StatusOK
	mu.Unlock()

	if err := w.Send(ctx, "t1", "a@example.com", "hi"); err != nil {
		t.Fatalf("probe send should succeed: %v", err)
	}
	if err := w.Send(ctx, "t1", "a@example.com", "hi"); err != nil {
		t.Fatalf("circuit should be closed again: %v", err)
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"x":1}`)
	sig := ComputeSignature("secret", body)

	if !VerifySignature("secret", body, sig) {
		t.Error("valid signature rejected")
	}
	if VerifySignature("secret", []byte(`{"x":2}`), sig) {
		t.Error("signature accepted for a different body")
	}
	if VerifySignature("secret", body, "deadbeef") {
		t.Error("bogus signature accepted")
	}
}
