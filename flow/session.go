package flow

import (
	"context"
	"time"

	"github.com/mneepay/checkout/metrics"
	"github.com/mneepay/checkout/pricing"
	"github.com/mneepay/checkout/session"
	"github.com/mneepay/checkout/types"
)

// CreateSession creates the checkout session for the selected token.
//
// At most one creation runs per flow; a call made while another is in
// flight returns nil without effect. A still valid session is reused.
func (f *Flow) CreateSession(ctx context.Context) error {
	if !f.creating.CompareAndSwap(false, true) {
		f.logger.Debug("session creation already in flight", map[string]any{"flow_id": f.id})
		return nil
	}
	attempt := f.sessionAttempt.Load()
	defer func() {
		if f.sessionAttempt.Load() == attempt {
			f.creating.Store(false)
		}
	}()

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	if f.state.Session.IsValid(f.now()) {
		f.mu.Unlock()
		return nil
	}
	if f.state.Session != nil {
		f.logger.Info("checkout session expired, creating a new one", map[string]any{
			"flow_id":    f.id,
			"session_id": f.state.Session.SessionID,
		})
		f.state.Session = nil
	}
	if f.state.Token == nil {
		f.mu.Unlock()
		return types.NewError(types.ErrInvalidState, "no settlement token selected")
	}

	f.recomputeLocked()
	req, err := f.sessionRequestLocked()
	if err != nil {
		f.setErrorLocked(ErrKeySession, err)
		f.state.Step = StepError
		st := f.state.clone()
		f.mu.Unlock()
		f.publish(st)
		f.reportError(err)
		return err
	}
	f.state.CreatingSession = true
	delete(f.state.Errors, ErrKeySession)
	st := f.state.clone()
	f.mu.Unlock()
	f.publish(st)

	labels := map[string]string{"chain": string(req.Chain)}
	start := time.Now()
	sess, err := f.backend.CreateSession(ctx, f.productID, req)
	f.metrics.ObserveLatency(metrics.OpCreateSession, time.Since(start), labels)

	f.mu.Lock()
	if f.sessionAttempt.Load() != attempt || f.closed {
		f.mu.Unlock()
		f.logger.Debug("dropping stale session result", map[string]any{"flow_id": f.id})
		return nil
	}
	f.state.CreatingSession = false
	if err != nil {
		f.setErrorLocked(ErrKeySession, err)
		f.state.Step = StepError
		st := f.state.clone()
		f.mu.Unlock()

		f.metrics.IncCounter(metrics.EventSessionCreateFailed, labels)
		f.logger.Error("checkout session creation failed", map[string]any{
			"flow_id":    f.id,
			"product_id": f.productID,
			"chain":      req.Chain,
			"error":      err,
		})
		f.publish(st)
		f.reportError(err)
		return err
	}

	f.state.Session = sess
	st = f.state.clone()
	f.mu.Unlock()

	f.metrics.IncCounter(metrics.EventSessionCreated, labels)
	f.logger.Info("checkout session ready", map[string]any{
		"flow_id":    f.id,
		"session_id": sess.SessionID,
		"chain":      req.Chain,
		"amount":     req.AmountCents,
	})
	f.publish(st)
	return nil
}

// ClearSession drops the session and releases the creation guard. A
// creation still in flight has its result discarded.
func (f *Flow) ClearSession() {
	f.mu.Lock()
	f.clearSessionLocked()
	st := f.state.clone()
	f.mu.Unlock()
	f.publish(st)
}

func (f *Flow) clearSessionLocked() {
	f.sessionAttempt.Add(1)
	f.creating.Store(false)
	f.state.Session = nil
	f.state.CreatingSession = false
}

func (f *Flow) sessionRequestLocked() (session.CreateSessionRequest, error) {
	totals := f.state.Totals
	form := f.state.Form

	req := session.CreateSessionRequest{
		AmountCents:   pricing.ToCents(totals.Total),
		Chain:         f.state.Token.Network,
		Currency:      f.state.Token.Asset,
		Email:         form.Email,
		Phone:         form.Phone,
		Shipping:      form.Shipping,
		CustomFields:  form.CustomFields,
		SubtotalCents: pricing.ToCents(totals.Subtotal),
		TaxCents:      pricing.ToCents(totals.Tax),
		ShippingCents: pricing.ToCents(totals.Shipping),
		WalletAddress: f.state.Wallet.Address,
	}

	if f.state.CartMode && f.cart != nil {
		for _, it := range f.cart.Items() {
			req.CartItems = append(req.CartItems, session.LineItem{
				ProductID:       it.ProductExternalID,
				Name:            it.ProductName,
				Quantity:        it.Quantity,
				UnitPriceCents:  pricing.ToCents(it.BaseAmount),
				OptionsCents:    pricing.ToCents(it.OptionsTotal),
				SelectedOptions: it.SelectedOptions,
			})
		}
	} else {
		req.Quantity = form.quantity()
		if f.state.Product != nil && f.state.Product.ButtonType == types.ButtonDonation {
			req.DonationAmount = form.DonationAmount
		}
	}

	if req.AmountCents <= 0 {
		return req, types.NewError(types.ErrInvalidInput, "checkout amount must be greater than zero")
	}
	return req, nil
}
