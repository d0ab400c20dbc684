package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{
		TerminalKey: "term1",
		Password:    "secret",
		BaseURL:     srv.URL,
		HTTPClient:  srv.Client(),
	})
	require.NoError(t, err)
	return c, srv
}

func TestNewClientTerminalKeyValidation(t *testing.T) {
	var cfgErr *ConfigError

	_, err := NewClient(Config{TerminalKey: "   "})
	require.Error(t, err)
	assert.True(t, errors.As(err, &cfgErr))

	_, err = NewClient(Config{TerminalKey: strings.Repeat("x", 65)})
	require.Error(t, err)
	assert.True(t, errors.As(err, &cfgErr))

	_, err = NewClient(Config{TerminalKey: strings.Repeat("x", 64)})
	assert.NoError(t, err)
}

func TestInitSignsAndParsesSession(t *testing.T) {
	var received map[string]interface{}

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/Init", r.URL.Path)

		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		require.NoError(t, dec.Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"Success":true,"ErrorCode":"0","PaymentId":12345,"Status":"NEW","PaymentURL":"https://pay.example/s/1"}`))
	})

	session, err := c.Init(context.Background(), InitRequest{
		Amount:      10000,
		OrderID:     "42",
		Description: "sub",
		Receipt:     map[string]interface{}{"Email": "x@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "12345", session.PaymentID)
	assert.Equal(t, "https://pay.example/s/1", session.CheckoutURL)
	assert.Equal(t, "NEW", session.Status)

	// The wire body carries the terminal key and a token signed over
	// its own scalar fields.
	assert.Equal(t, "term1", received["TerminalKey"])
	token, ok := received["Token"].(string)
	require.True(t, ok)
	assert.Equal(t, SignToken(received, "secret"), token)
}

func TestCallClassifiesGatewayError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"Success":false,"ErrorCode":"9999","Message":"Недостаточно средств","Details":"insufficient funds"}`))
	})

	_, err := c.GetState(context.Background(), "12345")
	require.Error(t, err)

	var gwErr *GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, "9999", gwErr.Code)
	assert.Equal(t, "Недостаточно средств", gwErr.Message)
	assert.Equal(t, "insufficient funds", gwErr.Details)
}

func TestCallClassifiesNon200AsTransportError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	})

	_, err := c.GetState(context.Background(), "12345")
	require.Error(t, err)

	var trErr *TransportError
	require.True(t, errors.As(err, &trErr))
	assert.Equal(t, http.StatusBadGateway, trErr.StatusCode)
	assert.Contains(t, trErr.Body, "upstream down")
}

func TestCallClassifiesNonJSONAsTransportError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>maintenance</html>"))
	})

	_, err := c.GetState(context.Background(), "12345")
	require.Error(t, err)

	var trErr *TransportError
	require.True(t, errors.As(err, &trErr))
	assert.Equal(t, http.StatusOK, trErr.StatusCode)
}

func TestCallSendsBearerToken(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"Success":true,"PaymentId":"1","Status":"CONFIRMED"}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{
		TerminalKey: "term1",
		Password:    "secret",
		BaseURL:     srv.URL,
		BearerToken: "tok123",
		HTTPClient:  srv.Client(),
	})
	require.NoError(t, err)

	_, err = c.Confirm(context.Background(), "1", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok123", auth)
}
