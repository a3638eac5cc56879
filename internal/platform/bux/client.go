// Package bux implements the platform clients for the BUX brokerage: the
// REST order client and the WebSocket subscription client.
package bux

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/quintic/buxbot/internal/domain"
)

const (
	buyPath  = "/core/21/users/me/trades"
	sellPath = "/core/21/users/me/portfolio/positions/%s"
)

// APIError is a non-2xx response from the brokerage order API.
type APIError struct {
	StatusCode int
	Message    string `json:"message"`
	ErrorCode  string `json:"errorCode"`
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" || e.ErrorCode != "" {
		return fmt.Sprintf("bux: API error %d (code=%s): %s", e.StatusCode, e.ErrorCode, e.Message)
	}
	return fmt.Sprintf("bux: API error %d: %s", e.StatusCode, e.Body)
}

func parseAPIError(statusCode int, body []byte) error {
	apiErr := &APIError{StatusCode: statusCode, Body: string(body)}
	// Best effort: the error body is not always JSON.
	_ = json.Unmarshal(body, apiErr)
	return apiErr
}

// Client is the REST client for the BUX order API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates an order API client.
//
// baseURL is the API root, e.g. "https://api.getbux.com". token is the
// bearer token used for every request.
func NewClient(baseURL string, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// OpenPosition submits a buy order for the configured trade and returns the
// created order record. Any non-200 status is returned as *APIError.
func (c *Client) OpenPosition(ctx context.Context, trade domain.TradeConfig) (domain.OrderRecord, error) {
	respBody, err := c.do(ctx, http.MethodPost, buyPath, newBuyOrderRequest(trade))
	if err != nil {
		return domain.OrderRecord{}, fmt.Errorf("bux: open position %s: %w", trade.ProductID, err)
	}

	var resp apiOrderResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return domain.OrderRecord{}, fmt.Errorf("bux: decode buy response: %w", err)
	}
	return resp.toDomain(), nil
}

// ClosePosition sells the position with the given brokerage position ID and
// returns the closing order record.
func (c *Client) ClosePosition(ctx context.Context, positionID string) (domain.OrderRecord, error) {
	respBody, err := c.do(ctx, http.MethodDelete, fmt.Sprintf(sellPath, positionID), nil)
	if err != nil {
		return domain.OrderRecord{}, fmt.Errorf("bux: close position %s: %w", positionID, err)
	}

	var resp apiOrderResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return domain.OrderRecord{}, fmt.Errorf("bux: decode sell response: %w", err)
	}
	return resp.toDomain(), nil
}

// do executes an authenticated JSON request and returns the response body.
// Only HTTP 200 counts as success.
func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "nl-NL,en;q=0.8")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseAPIError(resp.StatusCode, respBody)
	}
	return respBody, nil
}
