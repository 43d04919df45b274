package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mneepay/checkout/types"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL + "/")
	require.NoError(t, err)
	return c
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient("  ")
	assert.True(t, types.IsCode(err, types.ErrConfigError))

	_, err = NewClient("not a url")
	assert.True(t, types.IsCode(err, types.ErrConfigError))

	c, err := NewClient("https://api.mnee.test/")
	require.NoError(t, err)
	assert.Equal(t, "https://api.mnee.test", c.BaseURL())
}

func TestFetchProductConfig(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		switch r.URL.Path {
		case "/api/buttons/public/btn_1/config":
			_, _ = io.WriteString(w, `{"id":"btn_1","name":"Tee","buttonType":"ecommerce","priceCents":2500,"taxRatePercent":5,
				"customFields":[{"id":"size","type":"select","options":[{"value":"L","priceModifier":200}]}]}`)
		case "/api/buttons/public/broken/config":
			_, _ = io.WriteString(w, `{"name":"no id"}`)
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	cfg, err := c.FetchProductConfig(ctx, "btn_1")
	require.NoError(t, err)
	assert.Equal(t, "Tee", cfg.Name)
	assert.Equal(t, int64(2500), cfg.PriceCents)
	require.Len(t, cfg.CustomFields, 1)
	assert.Equal(t, int64(200), cfg.CustomFields[0].Options[0].PriceModifierCents)

	_, err = c.FetchProductConfig(ctx, "missing")
	assert.True(t, types.IsCode(err, types.ErrNotFound), "got %v", err)

	_, err = c.FetchProductConfig(ctx, "broken")
	assert.True(t, types.IsCode(err, types.ErrConfigError))

	_, err = c.FetchProductConfig(ctx, "")
	assert.True(t, types.IsCode(err, types.ErrInvalidInput))
}

func TestCreateSession(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/checkout/public/buttons/btn_1/session", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_, _ = io.WriteString(w, `{"sessionId":"ses_1","sessionToken":"tok_1","depositAddress":"0x384Aa214be0B279cbf211e9b2C992d8633F77848",
			"mneeAmount":"52.5","expiresAt":"2026-10-16T12:30:00Z"}`)
	})

	sess, err := c.CreateSession(context.Background(), "btn_1", CreateSessionRequest{
		AmountCents:   5250,
		Chain:         types.NetworkBase,
		Currency:      types.AssetUSDC,
		Email:         "a@b.co",
		Quantity:      2,
		SubtotalCents: 5000,
		TaxCents:      250,
		CartItems:     []LineItem{{ProductID: "btn_1", Quantity: 2, UnitPriceCents: 2500}},
	})
	require.NoError(t, err)

	assert.Equal(t, "ses_1", sess.SessionID)
	assert.Equal(t, "tok_1", sess.SessionToken)
	assert.Equal(t, "52.5", sess.MneeAmount.String())
	assert.Equal(t, time.Date(2026, 10, 16, 12, 30, 0, 0, time.UTC), sess.ExpiresAt.UTC())
	assert.True(t, sess.IsValid(time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)))
	assert.False(t, sess.IsValid(sess.ExpiresAt))

	assert.EqualValues(t, 5250, got["amount"])
	assert.Equal(t, "base", got["chain"])
	assert.Equal(t, "USDC", got["currency"])
	assert.EqualValues(t, 0, got["shipping"])
	items, ok := got["cartItems"].([]any)
	require.True(t, ok)
	assert.Len(t, items, 1)
}

func TestCreateSessionExpiryFormats(t *testing.T) {
	for name, expires := range map[string]string{
		"unix seconds": `1792153800`,
		"unix millis":  `1792153800000`,
		"quoted":       `"1792153800"`,
	} {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `{"sessionToken":"tok","expiresAt":`+expires+`}`)
			})
			sess, err := c.CreateSession(context.Background(), "btn", CreateSessionRequest{})
			require.NoError(t, err)
			assert.Equal(t, int64(1792153800), sess.ExpiresAt.Unix())
		})
	}
}

func TestCreateSessionFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("server message", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"Chain not accepted by merchant"}`)
		})
		_, err := c.CreateSession(ctx, "btn", CreateSessionRequest{AmountCents: 100})
		ce, ok := types.AsCheckoutError(err)
		require.True(t, ok)
		assert.Equal(t, types.ErrSessionCreationFailed, ce.Code)
		assert.Equal(t, "Chain not accepted by merchant", ce.Message)
		assert.Equal(t, map[string]any{"status": http.StatusBadRequest}, ce.Data)
	})

	t.Run("message field", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, `{"message":"database unavailable"}`)
		})
		_, err := c.CreateSession(ctx, "btn", CreateSessionRequest{})
		assert.EqualError(t, err, "database unavailable")
	})

	t.Run("empty body", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})
		_, err := c.CreateSession(ctx, "btn", CreateSessionRequest{})
		assert.True(t, types.IsCode(err, types.ErrSessionCreationFailed))
		assert.Contains(t, err.Error(), "502")
	})

	t.Run("missing token", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"sessionId":"ses"}`)
		})
		_, err := c.CreateSession(ctx, "btn", CreateSessionRequest{})
		assert.True(t, types.IsCode(err, types.ErrSessionCreationFailed))
	})

	t.Run("transport error", func(t *testing.T) {
		boom := errors.New("connection refused")
		c, err := NewClient("http://backend.test", WithHTTPClient(&http.Client{
			Transport: roundTripFunc(func(*http.Request) (*http.Response, error) { return nil, boom }),
		}))
		require.NoError(t, err)

		_, err = c.CreateSession(ctx, "btn", CreateSessionRequest{})
		assert.True(t, types.IsCode(err, types.ErrSessionCreationFailed))
		assert.ErrorIs(t, err, boom)
	})
}

func TestCompleteSessionUsesBearerToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/checkout/public/sessions/complete", r.URL.Path)
		if r.Header.Get("Authorization") != "Bearer tok_1" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":"invalid session token"}`)
			return
		}
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "0xabc", body["txHash"])
		_, _ = io.WriteString(w, `{"success":true,"status":"completed","orderId":"ord_9"}`)
	})
	ctx := context.Background()

	res, err := c.CompleteSession(ctx, "tok_1", "0xabc")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "ord_9", res.OrderID)

	_, err = c.CompleteSession(ctx, "stale", "0xabc")
	ce, ok := types.AsCheckoutError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrSessionCompletionFailed, ce.Code)
	assert.Equal(t, "invalid session token", ce.Message)

	_, err = c.CompleteSession(ctx, "", "0xabc")
	assert.True(t, types.IsCode(err, types.ErrInvalidInput))
	_, err = c.CompleteSession(ctx, "tok_1", " ")
	assert.True(t, types.IsCode(err, types.ErrInvalidInput))
}

func TestGetSessionStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/checkout/public/sessions/status", r.URL.Path)
		if r.Header.Get("Authorization") == "Bearer expired" {
			w.WriteHeader(http.StatusGone)
			return
		}
		_, _ = io.WriteString(w, `{"sessionId":"ses_1","status":"paid","txHash":"0xabc"}`)
	})
	ctx := context.Background()

	st, err := c.GetSessionStatus(ctx, "tok_1")
	require.NoError(t, err)
	assert.Equal(t, "paid", st.Status)
	assert.Equal(t, "0xabc", st.TxHash)

	_, err = c.GetSessionStatus(ctx, "expired")
	assert.True(t, types.IsCode(err, types.ErrSessionExpired))
}

func TestGetTransactionStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hash := strings.TrimPrefix(r.URL.Path, "/api/checkout/public/transaction-status/")
		switch hash {
		case "0xconfirmed":
			_, _ = io.WriteString(w, `{"found":true,"status":"confirmed","isConfirmed":true,"confirmations":3}`)
		case "0xunindexed":
			_, _ = io.WriteString(w, `{"found":false,"isConfirmed":true}`)
		case "0xerror":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	st, err := c.GetTransactionStatus(ctx, "0xconfirmed")
	require.NoError(t, err)
	assert.True(t, st.Found)
	assert.True(t, st.IsConfirmed)
	assert.Equal(t, "0xconfirmed", st.TxHash)

	st, err = c.GetTransactionStatus(ctx, "0xunindexed")
	require.NoError(t, err)
	assert.False(t, st.Found)
	assert.False(t, st.IsConfirmed)

	st, err = c.GetTransactionStatus(ctx, "0xnew")
	require.NoError(t, err)
	assert.False(t, st.Found)

	_, err = c.GetTransactionStatus(ctx, "0xerror")
	assert.True(t, types.IsCode(err, types.ErrNetworkError))
}

func TestRetrieveSessionRequiresAPIKey(t *testing.T) {
	c, err := NewClient("https://pay.example.com")
	require.NoError(t, err)

	_, err = c.RetrieveSession(context.Background(), "ses_1")
	assert.True(t, types.IsCode(err, types.ErrConfigError))
}

func TestRetrieveSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sk_test", r.Header.Get("X-API-Key"))
		switch r.URL.Path {
		case "/api/checkout/sessions/ses_1":
			_, _ = io.WriteString(w, `{"sessionId":"ses_1","sessionToken":"tok_1","status":"pending","txHash":"0xabc","amount":2625,"chain":"base","currency":"USDC","email":"buyer@example.com"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL, WithAPIKey(" sk_test "))
	require.NoError(t, err)
	ctx := context.Background()

	s, err := c.RetrieveSession(ctx, "ses_1")
	require.NoError(t, err)
	assert.Equal(t, "tok_1", s.SessionToken)
	assert.Equal(t, int64(2625), s.AmountCents)
	assert.Equal(t, types.NetworkBase, s.Chain)
	assert.Equal(t, types.AssetUSDC, s.Currency)

	_, err = c.RetrieveSession(ctx, "ses_missing")
	assert.True(t, types.IsCode(err, types.ErrNotFound))
}
