package merchant

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mneepay/checkout/logger"
	"github.com/mneepay/checkout/metrics"
	"github.com/mneepay/checkout/session"
	"github.com/mneepay/checkout/types"
	"github.com/mneepay/checkout/utils"
)

const maxBodyBytes = 1 << 20

// WebhookHandler receives verified webhook events.
type WebhookHandler func(ctx context.Context, event *WebhookEvent) error

// Server exposes the merchant helpers over HTTP. Routes are mounted only
// for the helpers that were configured.
type Server struct {
	proxy         *SessionProxy
	totals        *TotalsCalculator
	orders        *OrderProcessor
	webhookSecret string
	onWebhook     WebhookHandler

	logger  logger.Logger
	metrics metrics.Recorder
}

type ServerOption func(*Server)

func WithSessionProxy(p *SessionProxy) ServerOption {
	return func(s *Server) { s.proxy = p }
}

func WithTotals(c *TotalsCalculator) ServerOption {
	return func(s *Server) { s.totals = c }
}

func WithOrders(p *OrderProcessor) ServerOption {
	return func(s *Server) { s.orders = p }
}

func WithWebhook(secret string, fn WebhookHandler) ServerOption {
	return func(s *Server) {
		s.webhookSecret = secret
		s.onWebhook = fn
	}
}

func WithServerLogger(l logger.Logger) ServerOption {
	return func(s *Server) { s.logger = logger.OrNoop(l) }
}

func WithServerMetrics(r metrics.Recorder) ServerOption {
	return func(s *Server) { s.metrics = metrics.OrNoop(r) }
}

func NewServer(opts ...ServerOption) *Server {
	s := &Server{logger: logger.NoopLogger{}, metrics: metrics.NoopRecorder{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the chi router serving the configured helpers.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/checkout", func(r chi.Router) {
		if s.proxy != nil {
			r.Post("/session", s.createSession)
		}
		if s.totals != nil {
			r.Post("/totals", s.calculateTotals)
		}
		if s.orders != nil {
			r.Post("/orders/{sessionId}", s.processOrder)
		}
	})
	if s.webhookSecret != "" {
		r.Post("/webhooks/mneepay", s.receiveWebhook)
	}
	return r
}

type createSessionBody struct {
	ProductID string `json:"productId" validate:"required"`
	session.CreateSessionRequest
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var body createSessionBody
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.proxy.CreateSession(r.Context(), body.ProductID, body.CreateSessionRequest)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{Data: sess})
}

func (s *Server) calculateTotals(w http.ResponseWriter, r *http.Request) {
	var body TotalsRequest
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	totals, err := s.totals.Calculate(r.Context(), body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: totals})
}

type processOrderBody struct {
	TxHash string `json:"txHash"`
}

func (s *Server) processOrder(w http.ResponseWriter, r *http.Request) {
	var body processOrderBody
	if r.ContentLength != 0 {
		if err := decodeBody(r, &body); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	order, err := s.orders.Process(r.Context(), chi.URLParam(r, "sessionId"), body.TxHash)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: order})
}

func (s *Server) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, r, types.WrapError(err, types.ErrInvalidInput, "read request body"))
		return
	}

	event, err := ParseWebhook(payload, r.Header.Get(SignatureHeader), s.webhookSecret)
	if err != nil {
		s.metrics.IncCounter(metrics.EventWebhookRejected, nil)
		if errors.Is(err, ErrInvalidSignature) {
			s.logger.Warn("webhook signature rejected", map[string]any{"remote_addr": r.RemoteAddr})
			writeJSON(w, http.StatusUnauthorized, errorEnvelope{Error: apiError{Code: types.ErrInvalidInput, Message: err.Error()}})
			return
		}
		s.writeError(w, r, err)
		return
	}

	if s.onWebhook != nil {
		if err := s.onWebhook(r.Context(), event); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	s.logger.Info("webhook processed", map[string]any{
		"event_id":   event.ID,
		"event_type": event.Type,
		"session_id": event.Data.SessionID,
	})
	writeJSON(w, http.StatusOK, envelope{Data: map[string]bool{"received": true}})
}

type envelope struct {
	Data any `json:"data"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

var statusByCode = map[string]int{
	types.ErrInvalidInput:            http.StatusBadRequest,
	types.ErrUnsupportedChain:        http.StatusBadRequest,
	types.ErrNotFound:                http.StatusNotFound,
	types.ErrInvalidState:            http.StatusConflict,
	types.ErrWalletNotConnected:      http.StatusConflict,
	types.ErrPaymentFailed:           http.StatusPaymentRequired,
	types.ErrSessionExpired:          http.StatusGone,
	types.ErrSessionCreationFailed:   http.StatusBadGateway,
	types.ErrSessionCompletionFailed: http.StatusBadGateway,
	types.ErrNetworkError:            http.StatusBadGateway,
	types.ErrConfigError:             http.StatusInternalServerError,
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ce, ok := types.AsCheckoutError(err)
	if !ok {
		ce = types.WrapError(err, "INTERNAL", "unexpected error")
	}
	status, known := statusByCode[ce.Code]
	if !known {
		status = http.StatusInternalServerError
	}

	payload := apiError{Code: ce.Code, Message: ce.Message}
	if status < http.StatusInternalServerError {
		payload.Details = ce.Data
	}

	fields := map[string]any{
		"path":       r.URL.Path,
		"status":     status,
		"error":      err,
		"request_id": middleware.GetReqID(r.Context()),
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", fields)
	} else {
		s.logger.Warn("request rejected", fields)
	}
	writeJSON(w, status, errorEnvelope{Error: payload})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeBody(r *http.Request, dest any) error {
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()

	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return types.WrapError(err, types.ErrInvalidInput, "invalid request body").WithData(map[string]any{"error": err.Error()})
	}
	if fields := utils.ValidateStruct(dest); fields != nil {
		return types.NewError(types.ErrInvalidInput, "validation failed").WithData(fields)
	}
	return nil
}
