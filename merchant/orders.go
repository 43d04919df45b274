package merchant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mneepay/checkout/logger"
	"github.com/mneepay/checkout/pricing"
	"github.com/mneepay/checkout/session"
	"github.com/mneepay/checkout/types"
)

// Backend is the subset of *session.Client the server helpers call.
type Backend interface {
	CreateSession(ctx context.Context, productID string, req session.CreateSessionRequest) (*types.CheckoutSession, error)
	RetrieveSession(ctx context.Context, sessionID string) (*session.SessionDetails, error)
	CompleteSession(ctx context.Context, sessionToken, txHash string) (*session.CompleteResult, error)
}

var _ Backend = (*session.Client)(nil)

// NewBackend builds a session client authenticated with the merchant key.
func NewBackend(baseURL, apiKey string, opts ...session.Option) (*session.Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, types.NewError(types.ErrConfigError, "merchant api key is required")
	}
	return session.NewClient(baseURL, append(opts, session.WithAPIKey(apiKey))...)
}

const statusCompleted = "completed"

// SessionProxy creates sessions on behalf of the storefront. When a totals
// calculator is set, cart amounts are recomputed before forwarding.
type SessionProxy struct {
	backend Backend
	totals  *TotalsCalculator
	logger  logger.Logger
}

func NewSessionProxy(backend Backend, totals *TotalsCalculator, log logger.Logger) *SessionProxy {
	return &SessionProxy{backend: backend, totals: totals, logger: logger.OrNoop(log)}
}

func (p *SessionProxy) CreateSession(ctx context.Context, productID string, req session.CreateSessionRequest) (*types.CheckoutSession, error) {
	if p.totals != nil && len(req.CartItems) > 0 {
		treq := TotalsRequest{Shipping: req.Shipping}
		for _, it := range req.CartItems {
			treq.Items = append(treq.Items, TotalsItem{
				ProductID:       it.ProductID,
				Quantity:        it.Quantity,
				SelectedOptions: it.SelectedOptions,
			})
		}
		totals, err := p.totals.Calculate(ctx, treq)
		if err != nil {
			return nil, err
		}

		amount := pricing.ToCents(totals.Total)
		if amount != req.AmountCents {
			p.logger.Warn("client cart total differs from merchant total", map[string]any{
				"product_id":   productID,
				"client_cents": req.AmountCents,
				"server_cents": amount,
			})
		}
		req.AmountCents = amount
		req.SubtotalCents = pricing.ToCents(totals.Subtotal)
		req.TaxCents = pricing.ToCents(totals.Tax)
		req.ShippingCents = pricing.ToCents(totals.Shipping)
	}
	return p.backend.CreateSession(ctx, productID, req)
}

// Order is the normalized record of a paid session.
type Order struct {
	ID            string                `json:"id"`
	SessionID     string                `json:"sessionId"`
	ProductID     string                `json:"productId,omitempty"`
	Status        string                `json:"status"`
	TxHash        string                `json:"txHash"`
	AmountCents   int64                 `json:"amount"`
	Currency      types.SettlementAsset `json:"currency"`
	Chain         types.Network         `json:"chain"`
	Email         string                `json:"email,omitempty"`
	Phone         string                `json:"phone,omitempty"`
	Shipping      *types.Address        `json:"shippingAddress,omitempty"`
	CustomFields  map[string]any        `json:"customFields,omitempty"`
	Items         []session.LineItem    `json:"items,omitempty"`
	WalletAddress string                `json:"walletAddress,omitempty"`
	ProcessedAt   time.Time             `json:"processedAt"`
}

// OrderProcessor turns a paid session into an Order.
type OrderProcessor struct {
	backend Backend
	logger  logger.Logger
	now     func() time.Time
}

func NewOrderProcessor(backend Backend, log logger.Logger) *OrderProcessor {
	return &OrderProcessor{backend: backend, logger: logger.OrNoop(log), now: time.Now}
}

// Process retrieves the session, completes it with txHash (or the hash the
// backend already recorded) and returns the order. Completed sessions are
// not completed again.
func (p *OrderProcessor) Process(ctx context.Context, sessionID, txHash string) (*Order, error) {
	s, err := p.backend.RetrieveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	hash := strings.TrimSpace(txHash)
	if hash == "" {
		hash = s.TxHash
	}
	if hash == "" {
		return nil, types.NewError(types.ErrInvalidState, fmt.Sprintf("session %s has no payment transaction", s.SessionID))
	}
	if s.TxHash != "" && s.TxHash != hash {
		return nil, types.NewError(types.ErrInvalidInput, "transaction hash does not match the session").
			WithData(map[string]any{"sessionTxHash": s.TxHash})
	}

	order := &Order{
		ID:            s.SessionID,
		SessionID:     s.SessionID,
		ProductID:     s.ProductID,
		Status:        s.Status,
		TxHash:        hash,
		AmountCents:   s.AmountCents,
		Currency:      s.Currency,
		Chain:         s.Chain,
		Email:         s.Email,
		Phone:         s.Phone,
		Shipping:      s.Shipping,
		CustomFields:  s.CustomFields,
		Items:         s.CartItems,
		WalletAddress: s.WalletAddress,
		ProcessedAt:   p.now().UTC(),
	}

	if s.Status == statusCompleted {
		return order, nil
	}

	res, err := p.backend.CompleteSession(ctx, s.SessionToken, hash)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		msg := res.Message
		if msg == "" {
			msg = "backend refused to complete the session"
		}
		return nil, types.NewError(types.ErrPaymentFailed, msg)
	}

	order.Status = statusCompleted
	if res.Status != "" {
		order.Status = res.Status
	}
	if res.OrderID != "" {
		order.ID = res.OrderID
	}
	p.logger.Info("order processed", map[string]any{
		"order_id":   order.ID,
		"session_id": order.SessionID,
		"tx_hash":    hash,
		"amount":     order.AmountCents,
	})
	return order, nil
}
