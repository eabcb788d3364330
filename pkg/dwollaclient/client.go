/**
 * @description
 * This package provides a client for the payment rail's HAL-style REST API
 * (Dwolla). It creates customer identities, funding sources, and transfers.
 * Created resources are identified by the Location header of the response;
 * errors carry a structured body with an optional list of field-path
 * violations, which callers use for duplicate-resource idempotency and for
 * classifying transfer failures attributable to the destination endpoint.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, io, net/http, time: Standard Go libraries.
 */
package dwollaclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// FundingSourcesPath is the path segment under which the rail exposes funding
// source resources; endpoint URLs are validated against it.
const FundingSourcesPath = "/funding-sources/"

// DestinationHrefPath is the field path the rail reports when a transfer's
// destination endpoint is invalid.
const DestinationHrefPath = "/_links/destination/href"

// Client is a client for the payment-rail API.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewClient creates a new payment-rail API client.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Link is one HAL link.
type Link struct {
	Href string `json:"href"`
}

// FieldError is one field-path violation inside an APIError.
type FieldError struct {
	Code    string          `json:"code"`
	Path    string          `json:"path"`
	Message string          `json:"message"`
	Links   map[string]Link `json:"_links"`
}

// APIError represents a structured error from the rail.
type APIError struct {
	StatusCode int             `json:"-"`
	Code       string          `json:"code"`
	Message    string          `json:"message"`
	Links      map[string]Link `json:"_links"`
	Embedded   struct {
		Errors []FieldError `json:"errors"`
	} `json:"_embedded"`
}

func (e *APIError) Error() string {
	if len(e.Embedded.Errors) > 0 {
		first := e.Embedded.Errors[0]
		return fmt.Sprintf("rail api error: %s - %s (%s %s)", e.Code, e.Message, first.Code, first.Path)
	}
	return fmt.Sprintf("rail api error: %s - %s", e.Code, e.Message)
}

// FieldViolation returns the first violation targeting the given field path.
func (e *APIError) FieldViolation(path string) (FieldError, bool) {
	for _, fieldErr := range e.Embedded.Errors {
		if fieldErr.Path == path {
			return fieldErr, true
		}
	}
	return FieldError{}, false
}

// duplicateLocation returns the URL of the already-existing resource when the
// error is a duplicate-resource rejection, in either of the two shapes the
// rail uses: a top-level DuplicateResource code with an `about` link, or an
// embedded Duplicate violation on /email carrying its own `about` link.
func (e *APIError) duplicateLocation() (string, bool) {
	if e.Code == "DuplicateResource" {
		if about, ok := e.Links["about"]; ok && about.Href != "" {
			return about.Href, true
		}
	}
	for _, fieldErr := range e.Embedded.Errors {
		if fieldErr.Code == "Duplicate" && fieldErr.Path == "/email" {
			if about, ok := fieldErr.Links["about"]; ok && about.Href != "" {
				return about.Href, true
			}
		}
	}
	return "", false
}

// DestinationInvalid reports whether err is a rail validation error whose
// field path identifies the transfer destination, returning its message.
func DestinationInvalid(err error) (string, bool) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return "", false
	}
	if violation, ok := apiErr.FieldViolation(DestinationHrefPath); ok {
		return violation.Message, true
	}
	return "", false
}

// CustomerParams is the profile used to provision a rail customer identity.
type CustomerParams struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Type      string `json:"type"`
}

// CreateCustomer provisions a customer identity and returns its URL. A
// duplicate-email rejection resolves to the existing customer's URL.
func (c *Client) CreateCustomer(ctx context.Context, params CustomerParams) (string, error) {
	location, err := c.post(ctx, "/customers", params)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			if existing, ok := apiErr.duplicateLocation(); ok {
				log.Printf("level=info component=dwolla_client op=create_customer msg=\"customer already exists; using existing\" location=%s", existing)
				return existing, nil
			}
		}
		return "", err
	}
	if location == "" {
		return "", errors.New("no location header returned from rail when creating customer")
	}
	return location, nil
}

// CreateOnDemandAuthorization obtains the authorization links the rail
// requires when attaching a funding source through a processor token.
func (c *Client) CreateOnDemandAuthorization(ctx context.Context) (map[string]Link, error) {
	var resp struct {
		Links map[string]Link `json:"_links"`
	}
	if err := c.postDecode(ctx, "/on-demand-authorizations", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to create on-demand authorization: %w", err)
	}
	return resp.Links, nil
}

type fundingSourceRequest struct {
	Name       string          `json:"name"`
	PlaidToken string          `json:"plaidToken"`
	Links      map[string]Link `json:"_links,omitempty"`
}

// CreateFundingSource binds a funding source to (customer, processor token)
// and returns its URL. A duplicate-resource rejection resolves to the
// already-existing funding source URL instead of an error.
func (c *Client) CreateFundingSource(ctx context.Context, customerID, name, processorToken string, authLinks map[string]Link) (string, error) {
	payload := fundingSourceRequest{
		Name:       name,
		PlaidToken: processorToken,
		Links:      authLinks,
	}

	location, err := c.post(ctx, "/customers/"+customerID+"/funding-sources", payload)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			if existing, ok := apiErr.duplicateLocation(); ok {
				log.Printf("level=info component=dwolla_client op=create_funding_source msg=\"funding source already exists; using existing\" location=%s", existing)
				return existing, nil
			}
		}
		return "", err
	}
	if location == "" {
		return "", errors.New("no location header returned from rail when creating funding source")
	}
	return location, nil
}

type bankAccountFundingSourceRequest struct {
	RoutingNumber   string `json:"routingNumber"`
	AccountNumber   string `json:"accountNumber"`
	BankAccountType string `json:"bankAccountType"`
	Name            string `json:"name"`
}

// CreateFundingSourceWithBankAccount binds a funding source from raw
// routing/account numbers, with the same duplicate-resource idempotency.
func (c *Client) CreateFundingSourceWithBankAccount(ctx context.Context, customerID, routingNumber, accountNumber, bankAccountType, name string) (string, error) {
	payload := bankAccountFundingSourceRequest{
		RoutingNumber:   strings.TrimSpace(routingNumber),
		AccountNumber:   strings.TrimSpace(accountNumber),
		BankAccountType: bankAccountType,
		Name:            strings.TrimSpace(name),
	}

	location, err := c.post(ctx, "/customers/"+customerID+"/funding-sources", payload)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			if existing, ok := apiErr.duplicateLocation(); ok {
				log.Printf("level=info component=dwolla_client op=create_funding_source_bank msg=\"funding source already exists; using existing\" location=%s", existing)
				return existing, nil
			}
		}
		return "", err
	}
	if location == "" {
		return "", errors.New("no location header returned from rail when creating funding source")
	}
	return location, nil
}

type transferRequest struct {
	Links struct {
		Source      Link `json:"source"`
		Destination Link `json:"destination"`
	} `json:"_links"`
	Amount struct {
		Currency string `json:"currency"`
		Value    string `json:"value"`
	} `json:"amount"`
}

// CreateTransfer submits a transfer between two funding source URLs and
// returns the location of the created transfer resource.
func (c *Client) CreateTransfer(ctx context.Context, sourceURL, destinationURL, amount string) (string, error) {
	payload := transferRequest{}
	payload.Links.Source.Href = strings.TrimSpace(sourceURL)
	payload.Links.Destination.Href = strings.TrimSpace(destinationURL)
	payload.Amount.Currency = "USD"
	payload.Amount.Value = amount

	location, err := c.post(ctx, "/transfers", payload)
	if err != nil {
		return "", err
	}
	return location, nil
}

// post executes one rail request and returns the Location header of the
// created resource. Non-2xx responses decode into *APIError.
func (c *Client) post(ctx context.Context, path string, payload interface{}) (string, error) {
	resp, bodyBytes, err := c.do(ctx, path, payload)
	if err != nil {
		return "", err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", c.decodeError(path, resp.StatusCode, bodyBytes)
	}
	return resp.Header.Get("Location"), nil
}

// postDecode executes one rail request and decodes a 2xx JSON body into out.
func (c *Client) postDecode(ctx context.Context, path string, payload interface{}, out interface{}) error {
	resp, bodyBytes, err := c.do(ctx, path, payload)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.decodeError(path, resp.StatusCode, bodyBytes)
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode success response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, path string, payload interface{}) (*http.Response, []byte, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal rail request: %w", err)
		}
		body = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+path, body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create rail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/vnd.dwolla.v1.hal+json")
	req.Header.Set("Accept", "application/vnd.dwolla.v1.hal+json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to execute rail request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read rail response: %w", err)
	}
	return resp, bodyBytes, nil
}

func (c *Client) decodeError(path string, statusCode int, bodyBytes []byte) error {
	var apiErr APIError
	if err := json.Unmarshal(bodyBytes, &apiErr); err != nil {
		log.Printf("level=warn component=dwolla_client path=%s status=%d msg=\"non-2xx response (unparsable error body)\"", path, statusCode)
		return fmt.Errorf("failed to decode error response (status %d)", statusCode)
	}
	apiErr.StatusCode = statusCode
	log.Printf("level=warn component=dwolla_client path=%s status=%d code=%q msg=%q", path, statusCode, apiErr.Code, apiErr.Message)
	return &apiErr
}
