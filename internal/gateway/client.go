package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultBaseURL = "https://securepay.tinkoff.ru/v2"

const maxErrorBodyBytes = 2048

type Config struct {
	TerminalKey string
	Password    string
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
}

// Client talks to the acquiring gateway. Every request body carries the
// terminal key and a Token computed by SignToken; responses are either
// returned as results or classified as transport / gateway errors.
type Client struct {
	terminalKey string
	password    string
	baseURL     string
	bearerToken string
	httpClient  *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	key := strings.TrimSpace(cfg.TerminalKey)
	if len(key) < 1 || len(key) > 64 {
		return nil, &ConfigError{Reason: fmt.Sprintf("terminal key must be 1-64 characters, got %d", len(key))}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		terminalKey: key,
		password:    cfg.Password,
		baseURL:     baseURL,
		bearerToken: strings.TrimSpace(cfg.BearerToken),
		httpClient:  httpClient,
	}, nil
}

// GatewaySession is an opened checkout: the user finishes payment at
// CheckoutURL and the gateway reports the outcome asynchronously.
type GatewaySession struct {
	PaymentID   string
	CheckoutURL string
	Status      string
}

type GatewayResult struct {
	PaymentID string
	OrderID   string
	Status    string
	Amount    uint64
}

type InitRequest struct {
	Amount          uint64                 `json:"Amount"`
	OrderID         string                 `json:"OrderId"`
	Description     string                 `json:"Description,omitempty"`
	CustomerKey     string                 `json:"CustomerKey,omitempty"`
	NotificationURL string                 `json:"NotificationURL,omitempty"`
	SuccessURL      string                 `json:"SuccessURL,omitempty"`
	FailURL         string                 `json:"FailURL,omitempty"`
	Receipt         map[string]interface{} `json:"Receipt,omitempty"`
	Data            map[string]string      `json:"DATA,omitempty"`
}

type confirmRequest struct {
	PaymentID string                 `json:"PaymentId"`
	Amount    uint64                 `json:"Amount,omitempty"`
	Receipt   map[string]interface{} `json:"Receipt,omitempty"`
}

type getStateRequest struct {
	PaymentID string `json:"PaymentId"`
}

type finishAuthorizeRequest struct {
	PaymentID string `json:"PaymentId"`
	CardData  string `json:"CardData"`
	SendEmail bool   `json:"SendEmail,omitempty"`
	InfoEmail string `json:"InfoEmail,omitempty"`
}

type response struct {
	Success     bool            `json:"Success"`
	ErrorCode   string          `json:"ErrorCode"`
	Message     string          `json:"Message"`
	Details     json.RawMessage `json:"Details"`
	TerminalKey string          `json:"TerminalKey"`
	PaymentID   json.Number     `json:"PaymentId"`
	OrderID     string          `json:"OrderId"`
	Status      string          `json:"Status"`
	Amount      json.Number     `json:"Amount"`
	PaymentURL  string          `json:"PaymentURL"`
}

func (c *Client) Init(ctx context.Context, req InitRequest) (*GatewaySession, error) {
	resp, err := c.call(ctx, "Init", req)
	if err != nil {
		return nil, err
	}
	return &GatewaySession{
		PaymentID:   resp.PaymentID.String(),
		CheckoutURL: resp.PaymentURL,
		Status:      resp.Status,
	}, nil
}

// Confirm settles a previously authorized payment. Amount 0 confirms
// the full authorized amount.
func (c *Client) Confirm(ctx context.Context, paymentID string, amount uint64, receipt map[string]interface{}) (*GatewayResult, error) {
	resp, err := c.call(ctx, "Confirm", confirmRequest{PaymentID: paymentID, Amount: amount, Receipt: receipt})
	if err != nil {
		return nil, err
	}
	return resp.result(), nil
}

func (c *Client) GetState(ctx context.Context, paymentID string) (*GatewayResult, error) {
	resp, err := c.call(ctx, "GetState", getStateRequest{PaymentID: paymentID})
	if err != nil {
		return nil, err
	}
	return resp.result(), nil
}

func (c *Client) FinishAuthorize(ctx context.Context, paymentID, cardData string) (*GatewayResult, error) {
	resp, err := c.call(ctx, "FinishAuthorize", finishAuthorizeRequest{PaymentID: paymentID, CardData: cardData})
	if err != nil {
		return nil, err
	}
	return resp.result(), nil
}

func (r *response) result() *GatewayResult {
	amount, _ := r.Amount.Int64()
	return &GatewayResult{
		PaymentID: r.PaymentID.String(),
		OrderID:   r.OrderID,
		Status:    r.Status,
		Amount:    uint64(amount),
	}
}

func (c *Client) call(ctx context.Context, method string, reqBody interface{}) (*response, error) {
	body, err := c.signedBody(reqBody)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.bearerToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gateway %s: %w", method, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("gateway %s: read body: %w", method, err)
	}

	contentType := httpResp.Header.Get("Content-Type")
	if httpResp.StatusCode != http.StatusOK || !strings.Contains(contentType, "application/json") {
		return nil, &TransportError{
			StatusCode:  httpResp.StatusCode,
			ContentType: contentType,
			Body:        truncate(string(raw), maxErrorBodyBytes),
		}
	}

	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &TransportError{
			StatusCode:  httpResp.StatusCode,
			ContentType: contentType,
			Body:        truncate(string(raw), maxErrorBodyBytes),
		}
	}

	if !resp.Success {
		return nil, &GatewayError{
			Code:    resp.ErrorCode,
			Message: resp.Message,
			Details: detailsString(resp.Details),
		}
	}
	return &resp, nil
}

// signedBody round-trips the request through JSON so numbers become
// json.Number, then injects TerminalKey and the computed Token.
func (c *Client) signedBody(reqBody interface{}) ([]byte, error) {
	encoded, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]interface{})
	dec := json.NewDecoder(bytes.NewReader(encoded))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}

	fields["TerminalKey"] = c.terminalKey
	fields["Token"] = SignToken(fields, c.password)
	return json.Marshal(fields)
}

func detailsString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
