package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/noah-isme/lms-commerce-api/pkg/config"
)

// PreferenceItem is a single purchasable line sent to the gateway.
type PreferenceItem struct {
	Title      string `json:"title"`
	Quantity   int    `json:"quantity"`
	UnitPrice  int64  `json:"unit_price"`
	CurrencyID string `json:"currency_id"`
}

// PreferenceRequest describes a hosted-checkout session to create.
type PreferenceRequest struct {
	ExternalReference string           `json:"external_reference"`
	Items             []PreferenceItem `json:"items"`
	PayerEmail        string           `json:"payer_email,omitempty"`
	SuccessURL        string           `json:"success_url"`
	FailureURL        string           `json:"failure_url"`
}

// CheckoutSession is the gateway's answer to a preference creation.
type CheckoutSession struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

// RedirectURL selects the hosted-checkout URL for the configured environment.
func (s CheckoutSession) RedirectURL(sandbox bool) string {
	if sandbox && s.SandboxInitPoint != "" {
		return s.SandboxInitPoint
	}
	return s.InitPoint
}

// Gateway is a thin HTTP client for the external payment provider.
type Gateway struct {
	baseURL       string
	accessToken   string
	webhookSecret string
	sandbox       bool
	successURL    string
	failureURL    string
	client        *http.Client
}

// NewGateway builds a gateway client from configuration.
func NewGateway(cfg config.PaymentConfig) *Gateway {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Gateway{
		baseURL:       cfg.BaseURL,
		accessToken:   cfg.AccessToken,
		webhookSecret: cfg.WebhookSecret,
		sandbox:       cfg.Sandbox,
		successURL:    cfg.SuccessURL,
		failureURL:    cfg.FailureURL,
		client:        &http.Client{Timeout: timeout},
	}
}

// Sandbox reports whether the gateway runs against the sandbox environment.
func (g *Gateway) Sandbox() bool {
	return g.sandbox
}

// CreatePreference registers a checkout session and returns its redirect URLs.
func (g *Gateway) CreatePreference(ctx context.Context, req PreferenceRequest) (*CheckoutSession, error) {
	if req.SuccessURL == "" {
		req.SuccessURL = g.successURL
	}
	if req.FailureURL == "" {
		req.FailureURL = g.failureURL
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal preference: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/checkout/preferences", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build preference request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.accessToken)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("create preference: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read preference response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, string(body))
	}

	var session CheckoutSession
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("decode preference response: %w", err)
	}
	if session.InitPoint == "" && session.SandboxInitPoint == "" {
		return nil, fmt.Errorf("gateway response missing init point")
	}
	return &session, nil
}

// SignPayload computes the hex HMAC-SHA256 of a webhook body.
func (g *Gateway) SignPayload(body []byte) string {
	mac := hmac.New(sha256.New, []byte(g.webhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a webhook signature in constant time.
func (g *Gateway) VerifySignature(body []byte, signature string) bool {
	expected := g.SignPayload(body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
