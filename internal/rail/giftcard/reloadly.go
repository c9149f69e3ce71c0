// Package giftcard adapts a Reloadly-style gift card reseller to the rail
// adapter contract. Orders settle asynchronously: initiation places the
// order and reports pending; confirmation maps the reseller's order status
// to a terminal outcome.
package giftcard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentpay/agentpay/internal/rail"
)

// Config holds the reseller API settings.
type Config struct {
	BaseURL      string
	AuthURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// Adapter is the gift card rail implementation.
type Adapter struct {
	cfg    Config
	client *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// New creates the gift card adapter.
func New(cfg Config) *Adapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Adapter{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

type orderRequest struct {
	ProductID        int64   `json:"productId"`
	Quantity         int     `json:"quantity"`
	UnitPrice        float64 `json:"unitPrice"`
	CustomIdentifier string  `json:"customIdentifier"`
	RecipientEmail   string  `json:"recipientEmail,omitempty"`
}

type orderResponse struct {
	TransactionID int64  `json:"transactionId"`
	Status        string `json:"status"`
}

// Initiate implements rail.Adapter. The request metadata must carry the
// reseller product id under "product_id"; "recipient_email" is optional.
func (a *Adapter) Initiate(ctx context.Context, req rail.Request) (rail.Result, error) {
	productID, err := strconv.ParseInt(req.Metadata["product_id"], 10, 64)
	if err != nil {
		return rail.Result{}, fmt.Errorf("giftcard rail requires a numeric product_id in metadata")
	}

	order := orderRequest{
		ProductID:        productID,
		Quantity:         1,
		UnitPrice:        req.Amount,
		CustomIdentifier: "agentpay-" + uuid.NewString()[:8],
		RecipientEmail:   req.Metadata["recipient_email"],
	}

	var resp orderResponse
	if err := a.post(ctx, "/orders", order, &resp); err != nil {
		return rail.Result{}, err
	}

	result := rail.Result{
		ProviderRef: strconv.FormatInt(resp.TransactionID, 10),
		Outcome:     mapStatus(resp.Status),
	}
	// Resellers usually answer PROCESSING here; a synchronous SUCCESSFUL is
	// honored when it happens.
	if result.Outcome == "" {
		result.Outcome = rail.OutcomePending
	}
	return result, nil
}

// Confirm implements rail.Adapter.
func (a *Adapter) Confirm(ctx context.Context, providerRef string) (rail.Outcome, error) {
	var resp orderResponse
	if err := a.get(ctx, "/orders/transactions/"+providerRef, &resp); err != nil {
		return "", err
	}
	out := mapStatus(resp.Status)
	if out == "" {
		return rail.OutcomePending, nil
	}
	return out, nil
}

// mapStatus translates reseller order statuses to rail outcomes. Unknown
// statuses map to the empty outcome and are treated as still pending.
func mapStatus(status string) rail.Outcome {
	switch status {
	case "SUCCESSFUL":
		return rail.OutcomeCompleted
	case "FAILED", "REFUNDED":
		return rail.OutcomeFailed
	case "PENDING", "PROCESSING":
		return rail.OutcomePending
	default:
		return ""
	}
}

func (a *Adapter) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding order: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building order request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return a.do(req, out)
}

func (a *Adapter) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building status request: %w", err)
	}
	return a.do(req, out)
}

func (a *Adapter) do(req *http.Request, out any) error {
	token, err := a.accessToken(req.Context())
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling reseller api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("reseller api returned %d: %s", resp.StatusCode, detail)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding reseller response: %w", err)
	}
	return nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// accessToken returns a cached client-credentials token, refreshing it
// shortly before expiry.
func (a *Adapter) accessToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token != "" && time.Now().Before(a.tokenExpiry) {
		return a.token, nil
	}

	payload, err := json.Marshal(map[string]string{
		"client_id":     a.cfg.ClientID,
		"client_secret": a.cfg.ClientSecret,
		"grant_type":    "client_credentials",
		"audience":      a.cfg.BaseURL,
	})
	if err != nil {
		return "", fmt.Errorf("encoding token request: %w", err)
	}

	authURL := a.cfg.AuthURL
	if authURL == "" {
		authURL = a.cfg.BaseURL + "/oauth/token"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, authURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching access token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}
	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned an empty token")
	}

	a.token = tok.AccessToken
	ttl := time.Duration(tok.ExpiresIn) * time.Second
	if ttl <= time.Minute {
		ttl = 2 * time.Minute
	}
	a.tokenExpiry = time.Now().Add(ttl - 30*time.Second)
	return a.token, nil
}

var _ rail.Adapter = (*Adapter)(nil)
