package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mneepay/checkout/metrics"
	"github.com/mneepay/checkout/pricing"
	"github.com/mneepay/checkout/types"
	"github.com/mneepay/checkout/wallet"
)

// ConfirmAndPay submits the transfer for the current session and starts
// watching for its confirmation.
//
// A user rejection returns to confirming with the token selector shown for
// multi-chain wallets. Any other failure moves to error and is reported.
func (f *Flow) ConfirmAndPay(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	if f.state.Step != StepConfirming {
		step := f.state.Step
		f.mu.Unlock()
		return types.NewError(types.ErrInvalidState, fmt.Sprintf("cannot pay in step %s", step))
	}
	expired := !f.state.Session.IsValid(f.now())
	f.mu.Unlock()

	if expired {
		if err := f.CreateSession(ctx); err != nil {
			return err
		}
	}

	f.mu.Lock()
	if f.closed || f.state.Step != StepConfirming {
		f.mu.Unlock()
		return nil
	}
	sess := f.state.Session
	if !sess.IsValid(f.now()) {
		f.mu.Unlock()
		return types.NewError(types.ErrSessionExpired, "no valid checkout session")
	}
	ws := f.wallet.State()
	if !ws.IsConnected() {
		err := types.NewError(types.ErrWalletNotConnected, "connect a wallet to pay")
		f.setErrorLocked(ErrKeyWallet, err)
		st := f.state.clone()
		f.mu.Unlock()
		f.publish(st)
		return err
	}
	req, err := f.transferRequestLocked(ws.Kind)
	if err != nil {
		f.mu.Unlock()
		return err
	}
	f.state.Step = StepProcessing
	f.payAttempt++
	attempt := f.payAttempt
	delete(f.state.Errors, ErrKeyPayment)
	st := f.state.clone()
	f.mu.Unlock()
	f.publish(st)

	labels := map[string]string{"chain": string(req.Token.Network)}
	txID, err := f.wallet.Transfer(ctx, req)
	if err != nil {
		f.transferFailed(err, ws.Kind, labels, attempt)
		return err
	}

	f.metrics.IncCounter(metrics.EventPaymentSubmitted, labels)
	f.logger.Info("payment submitted", map[string]any{
		"flow_id":    f.id,
		"session_id": sess.SessionID,
		"tx_hash":    txID,
		"chain":      req.Token.Network,
		"amount":     req.Amount.String(),
	})

	f.mu.Lock()
	if f.closed || !f.currentAttemptLocked(attempt) {
		f.mu.Unlock()
		f.logger.Warn("transfer submitted for an abandoned checkout", map[string]any{
			"flow_id":    f.id,
			"session_id": sess.SessionID,
			"tx_hash":    txID,
		})
		return nil
	}
	f.state.TxHash = txID
	st = f.state.clone()
	f.mu.Unlock()
	f.publish(st)

	runCtx := f.runContext()
	f.wg.Add(1)
	go f.watchTransfer(runCtx, txID, attempt)
	return nil
}

// currentAttemptLocked reports whether attempt is still the payment the
// flow is processing.
func (f *Flow) currentAttemptLocked(attempt uint64) bool {
	return f.payAttempt == attempt && f.state.Step == StepProcessing
}

func (f *Flow) transferRequestLocked(kind wallet.Kind) (wallet.TransferRequest, error) {
	sess := f.state.Session
	if kind == wallet.KindDirect {
		token, _ := types.LookupToken(types.NetworkBSV, types.AssetMNEE)
		if sess.MneeDepositAddress == "" || !sess.MneeAmount.IsPositive() {
			return wallet.TransferRequest{}, types.NewError(types.ErrSessionCreationFailed, "session has no MNEE deposit details")
		}
		return wallet.TransferRequest{To: sess.MneeDepositAddress, Amount: sess.MneeAmount, Token: token}, nil
	}

	if f.state.Token == nil {
		return wallet.TransferRequest{}, types.NewError(types.ErrInvalidState, "no settlement token selected")
	}
	token, ok := types.LookupToken(f.state.Token.Network, f.state.Token.Asset)
	if !ok {
		return wallet.TransferRequest{}, types.NewError(types.ErrUnsupportedChain, fmt.Sprintf("%s is not available on %s", f.state.Token.Asset, f.state.Token.Network))
	}
	if sess.DepositAddress == "" {
		return wallet.TransferRequest{}, types.NewError(types.ErrSessionCreationFailed, "session has no deposit address")
	}
	amount := sess.MneeAmount
	if !amount.IsPositive() {
		amount = pricing.FromCents(pricing.ToCents(f.state.Totals.Total))
	}
	return wallet.TransferRequest{To: sess.DepositAddress, Amount: amount, Token: token}, nil
}

func (f *Flow) transferFailed(err error, kind wallet.Kind, labels map[string]string, attempt uint64) {
	te := wallet.Classify(err)

	f.mu.Lock()
	if f.closed || !f.currentAttemptLocked(attempt) {
		f.mu.Unlock()
		f.logger.Debug("dropping transfer failure of an abandoned payment", map[string]any{"flow_id": f.id, "error": err})
		return
	}
	rejected := te.Kind == wallet.ErrUserRejected
	if rejected {
		f.state.Step = StepConfirming
		f.state.ShowTokenSelector = kind == wallet.KindEVM
		f.setErrorLocked(ErrKeyPayment, errors.New("transaction was rejected in the wallet"))
	} else {
		f.state.Step = StepError
		f.setErrorLocked(ErrKeyPayment, te)
	}
	st := f.state.clone()
	f.mu.Unlock()

	if rejected {
		f.metrics.IncCounter(metrics.EventPaymentRejected, labels)
		f.logger.Info("payment rejected by user", map[string]any{"flow_id": f.id})
		f.publish(st)
		return
	}

	f.metrics.IncCounter(metrics.EventPaymentFailed, labels)
	f.logger.Error("payment failed", map[string]any{
		"flow_id":    f.id,
		"error_kind": te.Kind,
		"error":      err,
	})
	f.publish(st)
	f.reportError(err)
}

// watchTransfer waits for the wallet to see the transfer mined and hands it
// to HandleConfirmation.
func (f *Flow) watchTransfer(ctx context.Context, txID string, attempt uint64) {
	defer f.wg.Done()

	start := time.Now()
	_, err := f.wallet.WaitForConfirmation(ctx, txID)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		f.mu.Lock()
		if f.closed || f.state.TxHash != txID {
			f.mu.Unlock()
			return
		}
		chain := ""
		if f.state.Token != nil {
			chain = string(f.state.Token.Network)
		}
		f.mu.Unlock()
		f.transferFailed(err, f.wallet.State().Kind, map[string]string{"chain": chain}, attempt)
		return
	}
	f.logger.Debug("transfer confirmed by wallet", map[string]any{
		"flow_id":     f.id,
		"tx_hash":     txID,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	if err := f.HandleConfirmation(ctx, txID); err != nil {
		f.logger.Warn("confirmation handling failed", map[string]any{"flow_id": f.id, "tx_hash": txID, "error": err})
	}
}

// HandleConfirmation is the single entry point for an on-chain confirmed
// transfer, whichever wallet family or transport observed it.
//
// Each hash is processed at most once: the session is completed, the success
// callback awaited, and backend confirmation polling started. Later calls
// for the same hash return nil.
func (f *Flow) HandleConfirmation(ctx context.Context, txHash string) error {
	if txHash == "" {
		return types.NewError(types.ErrInvalidInput, "transaction hash is required")
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	sess := f.state.Session
	if sess == nil {
		f.mu.Unlock()
		return types.NewError(types.ErrInvalidState, "no checkout session to complete")
	}
	attempt := f.payAttempt
	f.mu.Unlock()

	if !f.markProcessed(txHash) {
		f.logger.Debug("confirmation already processed", map[string]any{"flow_id": f.id, "tx_hash": txHash})
		return nil
	}

	res, err := f.backend.CompleteSession(ctx, sess.SessionToken, txHash)
	if err == nil && res != nil && !res.Success {
		msg := res.Message
		if msg == "" {
			msg = "backend refused to complete the session"
		}
		err = types.NewError(types.ErrPaymentFailed, msg)
	}
	if err != nil {
		f.logger.Error("session completion failed", map[string]any{
			"flow_id":    f.id,
			"session_id": sess.SessionID,
			"tx_hash":    txHash,
			"error":      err,
		})

		f.mu.Lock()
		if f.closed || f.payAttempt != attempt {
			f.mu.Unlock()
			return err
		}
		f.state.Step = StepError
		f.setErrorLocked(ErrKeySession, err)
		st := f.state.clone()
		f.mu.Unlock()

		f.publish(st)
		f.reportError(err)
		return err
	}

	f.mu.Lock()
	if f.closed || f.payAttempt != attempt {
		f.mu.Unlock()
		f.logger.Warn("session completed for an abandoned checkout", map[string]any{
			"flow_id":    f.id,
			"session_id": sess.SessionID,
			"tx_hash":    txHash,
		})
		return nil
	}
	result := f.paymentResultLocked(txHash, sess)
	f.state.TxHash = txHash
	f.state.PaymentResult = &result
	if f.state.Step != StepProcessing {
		// confirmations may arrive for a transfer submitted elsewhere
		f.state.Step = StepProcessing
	}
	st := f.state.clone()
	cartMode := f.state.CartMode
	f.mu.Unlock()
	f.publish(st)

	if f.onSuccess != nil {
		var cbErr error
		if perr := f.safeCall("success callback", func() { cbErr = f.onSuccess(ctx, result) }); perr != nil {
			cbErr = perr
		}
		if cbErr != nil {
			f.logger.Error("success callback failed", map[string]any{"flow_id": f.id, "tx_hash": txHash, "error": cbErr})
			f.reportError(cbErr)
		}
	}

	if cartMode && f.cart != nil {
		if err := f.cart.Clear(ctx); err != nil {
			f.logger.Warn("failed to clear cart after payment", map[string]any{"flow_id": f.id, "error": err})
		}
	}

	runCtx := f.runContext()
	f.wg.Add(1)
	go f.pollConfirmation(runCtx, txHash, result.Network)
	return nil
}

func (f *Flow) markProcessed(txHash string) bool {
	f.processedMu.Lock()
	defer f.processedMu.Unlock()
	if _, ok := f.processed[txHash]; ok {
		return false
	}
	f.processed[txHash] = struct{}{}
	return true
}

func (f *Flow) paymentResultLocked(txHash string, sess *types.CheckoutSession) types.PaymentResult {
	result := types.PaymentResult{
		TxHash:    txHash,
		From:      f.state.Wallet.Address,
		Timestamp: f.now().UTC(),
		Metadata:  map[string]any{"sessionId": sess.SessionID},
	}

	if f.state.Wallet.Kind == wallet.KindDirect {
		result.Amount = sess.MneeAmount
		result.Currency = types.AssetMNEE
		result.Network = types.NetworkBSV
		result.To = sess.MneeDepositAddress
		return result
	}

	result.Amount = sess.MneeAmount
	if !result.Amount.IsPositive() {
		result.Amount = decimal.NewFromFloat(f.state.Totals.Total).Round(2)
	}
	result.To = sess.DepositAddress
	if f.state.Token != nil {
		result.Currency = f.state.Token.Asset
		result.Network = f.state.Token.Network
	}
	return result
}

// pollConfirmation polls the backend until it reports txHash confirmed.
// Each poll is scheduled after the previous one resolves; errors are
// retried. After the attempt limit the flow is left pending.
func (f *Flow) pollConfirmation(ctx context.Context, txHash string, network types.Network) {
	defer f.wg.Done()

	labels := map[string]string{"chain": string(network)}
	start := time.Now()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		f.metrics.IncCounter(metrics.EventConfirmationPoll, labels)
		status, err := f.backend.GetTransactionStatus(ctx, txHash)
		switch {
		case err != nil:
			f.logger.Debug("transaction status poll failed", map[string]any{
				"flow_id": f.id,
				"tx_hash": txHash,
				"attempt": attempt,
				"error":   err,
			})
		case status.Found && status.IsConfirmed:
			f.metrics.ObserveLatency(metrics.OpConfirmation, time.Since(start), labels)
			f.finish(txHash, StepComplete, labels)
			return
		}

		if attempt >= f.maxPollAttempts {
			f.finish(txHash, StepPending, labels)
			return
		}
		timer.Reset(f.pollInterval)
	}
}

func (f *Flow) finish(txHash string, step Step, labels map[string]string) {
	f.mu.Lock()
	if f.closed || f.state.TxHash != txHash || f.state.Step != StepProcessing {
		f.mu.Unlock()
		return
	}
	f.state.Step = step
	st := f.state.clone()
	f.mu.Unlock()

	if step == StepComplete {
		f.metrics.IncCounter(metrics.EventPaymentCompleted, labels)
		f.logger.Info("payment complete", map[string]any{"flow_id": f.id, "tx_hash": txHash})
	} else {
		f.metrics.IncCounter(metrics.EventPaymentPending, labels)
		f.logger.Warn("payment confirmation still pending", map[string]any{
			"flow_id":  f.id,
			"tx_hash":  txHash,
			"attempts": f.maxPollAttempts,
		})
	}
	f.publish(st)
}
