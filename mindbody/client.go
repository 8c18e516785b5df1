// Package mindbody provides a client for the Mindbody Public API v6.
package mindbody

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kennangle/mbodataanalysis/ratelimit"
)

const defaultBaseURL = "https://api.mindbodyonline.com/public/v6"

// User tokens are valid for a week but are cheap to reissue; a short TTL
// keeps a stale token from surviving a credential rotation for long.
const tokenTTL = 55 * time.Minute

// The date-time format Mindbody expects in query parameters (no zone).
const dateTimeFormat = "2006-01-02T15:04:05"

// Client wraps Mindbody API interactions for one studio site.
type Client struct {
	apiKey     string
	siteID     string
	username   string
	password   string
	baseURL    string
	httpClient *http.Client
	limiter    *ratelimit.Limiter

	accessToken string
	tokenExpiry time.Time
}

// Config holds per-site Mindbody credentials.
type Config struct {
	APIKey   string
	SiteID   string
	Username string
	Password string
	BaseURL  string // optional override, defaults to the public v6 API
}

// NewClient creates a new Mindbody client for one site.
func NewClient(cfg *Config, limiter *ratelimit.Limiter) (*Client, error) {
	if cfg.APIKey == "" || cfg.SiteID == "" || cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("missing required Mindbody credentials")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	if limiter == nil {
		limiter = ratelimit.New(nil)
	}

	return &Client{
		apiKey:     cfg.APIKey,
		siteID:     cfg.SiteID,
		username:   cfg.Username,
		password:   cfg.Password,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    limiter,
	}, nil
}

// authenticate issues a new user token.
func (c *Client) authenticate(ctx context.Context) error {
	payload, err := json.Marshal(map[string]string{
		"Username": c.username,
		"Password": c.password,
	})
	if err != nil {
		return fmt.Errorf("encode auth payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/usertoken/issue", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", c.apiKey)
	req.Header.Set("SiteId", c.siteID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("auth request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read auth response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth failed with status %d: %s", resp.StatusCode, string(body))
	}

	var authResp struct {
		AccessToken string `json:"AccessToken"`
	}
	if err := json.Unmarshal(body, &authResp); err != nil {
		return fmt.Errorf("decode auth response: %w", err)
	}
	if authResp.AccessToken == "" {
		return fmt.Errorf("auth response missing access token")
	}

	c.accessToken = authResp.AccessToken
	c.tokenExpiry = time.Now().Add(tokenTTL)
	return nil
}

// ensureAuthenticated refreshes the cached token when missing or near expiry.
func (c *Client) ensureAuthenticated(ctx context.Context) error {
	if c.accessToken != "" && time.Now().Before(c.tokenExpiry.Add(-5*time.Minute)) {
		return nil
	}
	return c.authenticate(ctx)
}

// invalidateToken drops the cached token so the next call re-authenticates.
func (c *Client) invalidateToken() {
	c.accessToken = ""
	c.tokenExpiry = time.Time{}
}

// get performs an authenticated GET under the rate limiter. A 401 response
// invalidates the token cache and retries the same request once; a second
// 401 is fatal for the call.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	var body []byte
	err := c.limiter.ExecuteWithRetry(ctx, func() error {
		b, err := c.doGet(ctx, endpoint, params, false)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	return body, err
}

func (c *Client) doGet(ctx context.Context, endpoint string, params url.Values, retried bool) ([]byte, error) {
	if err := c.ensureAuthenticated(ctx); err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	fullURL := fmt.Sprintf("%s/%s", c.baseURL, strings.TrimPrefix(endpoint, "/"))
	if len(params) > 0 {
		fullURL = fmt.Sprintf("%s?%s", fullURL, params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Api-Key", c.apiKey)
	req.Header.Set("SiteId", c.siteID)
	req.Header.Set("Authorization", c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized && !retried {
		c.invalidateToken()
		return c.doGet(ctx, endpoint, params, true)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// SiteID returns the configured site identifier.
func (c *Client) SiteID() string {
	return c.siteID
}

// GetClientsPage retrieves one page of studio clients.
func (c *Client) GetClientsPage(ctx context.Context, limit, offset int) (*Page, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))

	body, err := c.get(ctx, "client/clients", params)
	if err != nil {
		return nil, err
	}
	return decodePage(body, "Clients")
}

// GetClassesPage retrieves one page of class occurrences in the date range.
func (c *Client) GetClassesPage(ctx context.Context, start, end time.Time, limit, offset int) (*Page, error) {
	params := url.Values{}
	params.Set("StartDateTime", start.Format(dateTimeFormat))
	params.Set("EndDateTime", end.Format(dateTimeFormat))
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))

	body, err := c.get(ctx, "class/classes", params)
	if err != nil {
		return nil, err
	}
	return decodePage(body, "Classes")
}

// GetClientVisits retrieves all visits for a single client in the range.
// The endpoint usually answers in one page; the walker copes when it does
// paginate.
func (c *Client) GetClientVisits(ctx context.Context, clientID string, start, end time.Time) ([]map[string]interface{}, error) {
	params := url.Values{}
	params.Set("ClientId", clientID)
	params.Set("StartDate", start.Format(dateTimeFormat))
	params.Set("EndDate", end.Format(dateTimeFormat))

	return c.fetchAll(ctx, "client/clientvisits", params, "Visits")
}

// GetClientSales retrieves all line-item sales for a single client in the
// range.
func (c *Client) GetClientSales(ctx context.Context, clientID string, start, end time.Time) ([]map[string]interface{}, error) {
	params := url.Values{}
	params.Set("ClientId", clientID)
	params.Set("StartSaleDateTime", start.Format(dateTimeFormat))
	params.Set("EndSaleDateTime", end.Format(dateTimeFormat))

	return c.fetchAll(ctx, "sale/sales", params, "Sales")
}

// GetClientTransactions retrieves all flat payment transactions for a single
// client in the range. Used as a fallback for deployments that do not
// populate line-item sales.
func (c *Client) GetClientTransactions(ctx context.Context, clientID string, start, end time.Time) ([]map[string]interface{}, error) {
	params := url.Values{}
	params.Set("ClientID", clientID)
	params.Set("TransactionStartDateTime", start.Format(dateTimeFormat))
	params.Set("TransactionEndDateTime", end.Format(dateTimeFormat))

	return c.fetchAll(ctx, "sale/transactions", params, "Transactions")
}

// HasLineItemSales probes the line-item sales endpoint for the period. Some
// deployments only populate one of the two sales endpoints, so callers use
// this once per import phase to pick a source.
func (c *Client) HasLineItemSales(ctx context.Context, start, end time.Time) (bool, error) {
	params := url.Values{}
	params.Set("StartSaleDateTime", start.Format(dateTimeFormat))
	params.Set("EndSaleDateTime", end.Format(dateTimeFormat))
	params.Set("limit", "1")
	params.Set("offset", "0")

	body, err := c.get(ctx, "sale/sales", params)
	if err != nil {
		return false, err
	}
	page, err := decodePage(body, "Sales")
	if err != nil {
		return false, err
	}
	if page.Pagination != nil {
		return page.Pagination.TotalResults > 0, nil
	}
	return len(page.Results) > 0, nil
}
