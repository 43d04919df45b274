package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mneepay/checkout/logger"
	"github.com/mneepay/checkout/types"
	"github.com/mneepay/checkout/utils"
)

const (
	configPath            = "/api/buttons/public/%s/config"
	createSessionPath     = "/api/checkout/public/buttons/%s/session"
	completeSessionPath   = "/api/checkout/public/sessions/complete"
	sessionStatusPath     = "/api/checkout/public/sessions/status"
	transactionStatusPath = "/api/checkout/public/transaction-status/%s"
	retrieveSessionPath   = "/api/checkout/sessions/%s"

	errorBodyReadLimit int64 = 4096
)

var errAPIBaseRequired = errors.New("api base url is required")

// Client calls the public checkout endpoints of the payment backend.
// It holds no per-checkout state.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     logger.Logger
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.logger = logger.OrNoop(l) }
}

// WithAPIKey authenticates requests as the merchant. Only server side
// callers hold a key.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = strings.TrimSpace(key) }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// NewClient builds a client for the backend at apiBase.
func NewClient(apiBase string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(apiBase), "/")
	if trimmed == "" {
		return nil, types.WrapError(errAPIBaseRequired, types.ErrConfigError, "invalid session client config")
	}
	if u, err := url.Parse(trimmed); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, types.NewError(types.ErrConfigError, fmt.Sprintf("invalid api base url %q", apiBase))
	}

	c := &Client{
		httpClient: &http.Client{Timeout: types.DefaultTimeout},
		baseURL:    trimmed,
		logger:     logger.NoopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// BaseURL returns the normalized api base.
func (c *Client) BaseURL() string { return c.baseURL }

// LineItem is one cart line sent with a cart-mode session request.
type LineItem struct {
	ProductID       string         `json:"productId"`
	Name            string         `json:"name,omitempty"`
	Quantity        int            `json:"quantity"`
	UnitPriceCents  int64          `json:"unitPrice"`
	OptionsCents    int64          `json:"optionsTotal,omitempty"`
	SelectedOptions map[string]any `json:"selectedOptions,omitempty"`
}

// CreateSessionRequest is the body of a session creation call. All money
// fields are integer cents.
type CreateSessionRequest struct {
	AmountCents    int64                 `json:"amount"`
	Chain          types.Network         `json:"chain"`
	Currency       types.SettlementAsset `json:"currency"`
	Email          string                `json:"email,omitempty"`
	Phone          string                `json:"phone,omitempty"`
	Shipping       *types.Address        `json:"shippingAddress,omitempty"`
	CustomFields   map[string]any        `json:"customFields,omitempty"`
	Quantity       int                   `json:"quantity,omitempty"`
	DonationAmount *float64              `json:"donationAmount,omitempty"`
	CartItems      []LineItem            `json:"cartItems,omitempty"`
	SubtotalCents  int64                 `json:"subtotal"`
	TaxCents       int64                 `json:"tax"`
	ShippingCents  int64                 `json:"shipping"`
	WalletAddress  string                `json:"walletAddress,omitempty"`
}

// CompleteResult acknowledges a session completion.
type CompleteResult struct {
	Success bool   `json:"success"`
	Status  string `json:"status,omitempty"`
	OrderID string `json:"orderId,omitempty"`
	Message string `json:"message,omitempty"`
}

// Status is the backend's view of a session.
type Status struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
	TxHash    string `json:"txHash,omitempty"`
}

// TransactionStatus is the indexing state of a submitted transaction.
// Found is false until the backend has seen the hash.
type TransactionStatus struct {
	Found         bool   `json:"found"`
	TxHash        string `json:"txHash,omitempty"`
	Status        string `json:"status,omitempty"`
	IsConfirmed   bool   `json:"isConfirmed"`
	Confirmations int    `json:"confirmations,omitempty"`
}

// FetchProductConfig loads the public configuration of a checkout button.
func (c *Client) FetchProductConfig(ctx context.Context, productID string) (*types.ProductConfig, error) {
	id := strings.TrimSpace(productID)
	if id == "" {
		return nil, types.NewError(types.ErrInvalidInput, "product id is required")
	}

	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf(configPath, url.PathEscape(id)), "", nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, types.NewError(types.ErrNotFound, fmt.Sprintf("checkout button %s not found", id))
	case resp.StatusCode != http.StatusOK:
		return nil, types.NewError(types.ErrNetworkError, fmt.Sprintf("load product config: %s", readServerMessage(resp)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.WrapError(err, types.ErrNetworkError, "read product config")
	}
	return utils.ParseProductConfig(body)
}

type sessionResponse struct {
	SessionID          string          `json:"sessionId"`
	SessionToken       string          `json:"sessionToken"`
	DepositAddress     string          `json:"depositAddress"`
	MneeDepositAddress string          `json:"mneeDepositAddress"`
	MneeAmount         decimal.Decimal `json:"mneeAmount"`
	ExpiresAt          json.RawMessage `json:"expiresAt"`
}

// CreateSession asks the backend for a new checkout session.
func (c *Client) CreateSession(ctx context.Context, productID string, req CreateSessionRequest) (*types.CheckoutSession, error) {
	id := strings.TrimSpace(productID)
	if id == "" {
		return nil, types.NewError(types.ErrInvalidInput, "product id is required")
	}
	if req.AmountCents < 0 {
		return nil, types.NewError(types.ErrInvalidInput, "amount cannot be negative")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, types.WrapError(err, types.ErrInvalidInput, "marshal session request")
	}

	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf(createSessionPath, url.PathEscape(id)), "", payload)
	if err != nil {
		return nil, types.WrapError(err, types.ErrSessionCreationFailed, "failed to create checkout session")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := readServerMessage(resp)
		c.logger.Warn("session creation rejected", map[string]any{
			"product_id": id,
			"status":     resp.StatusCode,
			"error":      msg,
		})
		return nil, types.NewError(types.ErrSessionCreationFailed, msg).WithData(map[string]any{"status": resp.StatusCode})
	}

	var raw sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, types.WrapError(err, types.ErrSessionCreationFailed, "decode session response")
	}
	if raw.SessionToken == "" {
		return nil, types.NewError(types.ErrSessionCreationFailed, "session response missing token")
	}

	expiresAt, err := parseExpiry(raw.ExpiresAt)
	if err != nil {
		return nil, types.WrapError(err, types.ErrSessionCreationFailed, "invalid session expiry")
	}

	c.logger.Info("checkout session created", map[string]any{
		"product_id": id,
		"session_id": raw.SessionID,
		"chain":      req.Chain,
		"expires_at": expiresAt,
	})

	return &types.CheckoutSession{
		SessionID:          raw.SessionID,
		SessionToken:       raw.SessionToken,
		DepositAddress:     raw.DepositAddress,
		MneeDepositAddress: raw.MneeDepositAddress,
		MneeAmount:         raw.MneeAmount,
		ExpiresAt:          expiresAt,
	}, nil
}

// CompleteSession reports the payment transaction for a session.
func (c *Client) CompleteSession(ctx context.Context, sessionToken, txHash string) (*CompleteResult, error) {
	if sessionToken == "" {
		return nil, types.NewError(types.ErrInvalidInput, "session token is required")
	}
	if strings.TrimSpace(txHash) == "" {
		return nil, types.NewError(types.ErrInvalidInput, "transaction hash is required")
	}

	payload, err := json.Marshal(map[string]string{"txHash": txHash})
	if err != nil {
		return nil, types.WrapError(err, types.ErrInvalidInput, "marshal completion request")
	}

	resp, err := c.do(ctx, http.MethodPost, completeSessionPath, sessionToken, payload)
	if err != nil {
		return nil, types.WrapError(err, types.ErrSessionCompletionFailed, "failed to complete checkout session")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, types.NewError(types.ErrSessionCompletionFailed, readServerMessage(resp)).WithData(map[string]any{"status": resp.StatusCode})
	}

	var out CompleteResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		return nil, types.WrapError(err, types.ErrSessionCompletionFailed, "decode completion response")
	}
	return &out, nil
}

// GetSessionStatus reads the backend state of the session behind sessionToken.
func (c *Client) GetSessionStatus(ctx context.Context, sessionToken string) (*Status, error) {
	if sessionToken == "" {
		return nil, types.NewError(types.ErrInvalidInput, "session token is required")
	}

	resp, err := c.do(ctx, http.MethodGet, sessionStatusPath, sessionToken, nil)
	if err != nil {
		return nil, types.WrapError(err, types.ErrNetworkError, "failed to read session status")
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusGone:
		return nil, types.NewError(types.ErrSessionExpired, readServerMessage(resp))
	case resp.StatusCode != http.StatusOK:
		return nil, types.NewError(types.ErrNetworkError, readServerMessage(resp))
	}

	var out Status
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.WrapError(err, types.ErrNetworkError, "decode session status")
	}
	return &out, nil
}

// GetTransactionStatus reads the indexing state of txHash. A hash the
// backend has not seen yet is reported as Found false, not as an error.
func (c *Client) GetTransactionStatus(ctx context.Context, txHash string) (*TransactionStatus, error) {
	hash := strings.TrimSpace(txHash)
	if hash == "" {
		return nil, types.NewError(types.ErrInvalidInput, "transaction hash is required")
	}

	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf(transactionStatusPath, url.PathEscape(hash)), "", nil)
	if err != nil {
		return nil, types.WrapError(err, types.ErrNetworkError, "failed to read transaction status")
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &TransactionStatus{Found: false, TxHash: hash}, nil
	case resp.StatusCode != http.StatusOK:
		return nil, types.NewError(types.ErrNetworkError, readServerMessage(resp))
	}

	var out TransactionStatus
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.WrapError(err, types.ErrNetworkError, "decode transaction status")
	}
	if out.TxHash == "" {
		out.TxHash = hash
	}
	if !out.Found {
		out.IsConfirmed = false
	}
	return &out, nil
}

// SessionDetails is the merchant view of a session.
type SessionDetails struct {
	SessionID     string                `json:"sessionId"`
	SessionToken  string                `json:"sessionToken"`
	ProductID     string                `json:"buttonId"`
	Status        string                `json:"status"`
	TxHash        string                `json:"txHash,omitempty"`
	AmountCents   int64                 `json:"amount"`
	Chain         types.Network         `json:"chain"`
	Currency      types.SettlementAsset `json:"currency"`
	Email         string                `json:"email,omitempty"`
	Phone         string                `json:"phone,omitempty"`
	Shipping      *types.Address        `json:"shippingAddress,omitempty"`
	CustomFields  map[string]any        `json:"customFields,omitempty"`
	CartItems     []LineItem            `json:"cartItems,omitempty"`
	WalletAddress string                `json:"walletAddress,omitempty"`
}

// RetrieveSession loads a session by id. It requires an API key.
func (c *Client) RetrieveSession(ctx context.Context, sessionID string) (*SessionDetails, error) {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return nil, types.NewError(types.ErrInvalidInput, "session id is required")
	}
	if c.apiKey == "" {
		return nil, types.NewError(types.ErrConfigError, "merchant api key is required to retrieve sessions")
	}

	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf(retrieveSessionPath, url.PathEscape(id)), "", nil)
	if err != nil {
		return nil, types.WrapError(err, types.ErrNetworkError, "failed to retrieve checkout session")
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, types.NewError(types.ErrNotFound, fmt.Sprintf("checkout session %s not found", id))
	case resp.StatusCode != http.StatusOK:
		return nil, types.NewError(types.ErrNetworkError, readServerMessage(resp)).WithData(map[string]any{"status": resp.StatusCode})
	}

	var out SessionDetails
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.WrapError(err, types.ErrNetworkError, "decode checkout session")
	}
	if out.SessionID == "" {
		out.SessionID = id
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path, bearer string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("backend request failed", map[string]any{
			"method": method,
			"path":   path,
			"error":  err,
		})
		return nil, err
	}
	c.logger.Debug("backend request", map[string]any{
		"method":      method,
		"path":        path,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return resp, nil
}

// readServerMessage extracts the error or message field of an error body,
// falling back to the raw text and then the status line.
func readServerMessage(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))

	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" && !strings.HasPrefix(text, "{") {
		return text
	}
	return fmt.Sprintf("backend returned %s", resp.Status)
}

func parseExpiry(raw json.RawMessage) (time.Time, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return time.Time{}, errors.New("expiresAt is missing")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return utils.ParseFlexibleTime(s)
	}
	return utils.ParseFlexibleTime(text)
}
