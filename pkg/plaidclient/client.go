/**
 * @description
 * This package provides a client for the bank-link aggregator's REST API
 * (Plaid). It covers the three calls this service needs: exchanging a
 * client-side public token for an access token, listing the accounts behind a
 * link, and minting a processor token that authorizes the payment rail to
 * bind a funding source to one specific account.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, io, net/http, time: Standard Go libraries.
 */
package plaidclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// ProcessorDwolla is the processor name used when minting tokens for the payment rail.
const ProcessorDwolla = "dwolla"

// Client is a client for the aggregator API.
type Client struct {
	BaseURL    string
	ClientID   string
	Secret     string
	HTTPClient *http.Client
}

// NewClient creates a new aggregator API client.
func NewClient(baseURL, clientID, secret string) *Client {
	return &Client{
		BaseURL:  baseURL,
		ClientID: clientID,
		Secret:   secret,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ExchangeResponse is the result of exchanging a public token.
type ExchangeResponse struct {
	AccessToken string `json:"access_token"`
	ItemID      string `json:"item_id"`
}

// Account is one bank account behind a link.
type Account struct {
	AccountID    string `json:"account_id"`
	Name         string `json:"name"`
	OfficialName string `json:"official_name"`
	Mask         string `json:"mask"`
	Balances     struct {
		Available float64 `json:"available"`
		Current   float64 `json:"current"`
	} `json:"balances"`
}

type accountsResponse struct {
	Accounts []Account `json:"accounts"`
}

type processorTokenResponse struct {
	ProcessorToken string `json:"processor_token"`
}

// ErrorResponse represents an error from the aggregator API.
type ErrorResponse struct {
	ErrorType    string `json:"error_type"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("aggregator api error: %s - %s", e.ErrorCode, e.ErrorMessage)
}

// ExchangePublicToken exchanges a client-side public token for a durable access token.
func (c *Client) ExchangePublicToken(ctx context.Context, publicToken string) (*ExchangeResponse, error) {
	body := map[string]string{
		"client_id":    c.ClientID,
		"secret":       c.Secret,
		"public_token": publicToken,
	}

	var resp ExchangeResponse
	if err := c.post(ctx, "/item/public_token/exchange", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetAccounts lists the accounts behind an access token.
func (c *Client) GetAccounts(ctx context.Context, accessToken string) ([]Account, error) {
	body := map[string]string{
		"client_id":    c.ClientID,
		"secret":       c.Secret,
		"access_token": accessToken,
	}

	var resp accountsResponse
	if err := c.post(ctx, "/accounts/get", body, &resp); err != nil {
		return nil, err
	}
	return resp.Accounts, nil
}

// CreateProcessorToken mints a short-lived processor token that authorizes the
// named processor to create a funding source for one specific account.
func (c *Client) CreateProcessorToken(ctx context.Context, accessToken, accountID, processor string) (string, error) {
	body := map[string]string{
		"client_id":    c.ClientID,
		"secret":       c.Secret,
		"access_token": accessToken,
		"account_id":   accountID,
		"processor":    processor,
	}

	var resp processorTokenResponse
	if err := c.post(ctx, "/processor/token/create", body, &resp); err != nil {
		return "", err
	}
	return resp.ProcessorToken, nil
}

// post is a generic helper that executes one aggregator request.
func (c *Client) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal aggregator request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create aggregator request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute aggregator request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read aggregator response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=plaid_client path=%s status=%d msg=\"non-2xx response (unparsable error body)\"", path, resp.StatusCode)
			return fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=plaid_client path=%s status=%d code=%q msg=%q", path, resp.StatusCode, errResp.ErrorCode, errResp.ErrorMessage)
		return &errResp
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode success response: %w", err)
	}
	return nil
}
