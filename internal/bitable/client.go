// Package bitable is a minimal client for the Lark Bitable open API,
// scoped to one logical table: token exchange, filtered record search,
// record create and record update. Store response envelopes carry a
// numeric code where zero means success; any non-zero code is decoded
// into a typed error here and never leaks to callers as raw JSON.
package bitable

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"
)

// Store codes Lark returns for a bearer token that is no longer usable.
const (
	codeTokenExpired = 99991661
	codeTokenInvalid = 99991663
)

// tokenExpiryMargin is subtracted from the advertised token lifetime so
// a token is refreshed before the store starts rejecting it.
const tokenExpiryMargin = 5 * time.Minute

// Config holds connection settings for one Bitable table.
type Config struct {
	Endpoint  string // e.g. https://open.larksuite.com
	AppID     string
	AppSecret string
	BaseID    string
	TableID   string
}

// DefaultConfig returns a Config pointed at the public Lark endpoint.
func DefaultConfig() Config {
	return Config{Endpoint: "https://open.larksuite.com"}
}

// Condition is one predicate in a record search filter.
type Condition struct {
	FieldName string `json:"field_name"`
	Operator  string `json:"operator"`
	Value     []any  `json:"value"`
}

// Is builds an equality condition on a named field.
func Is(field string, value any) Condition {
	return Condition{FieldName: field, Operator: "is", Value: []any{value}}
}

// Record is one row of the table as the store returns it.
type Record struct {
	ID     string
	Fields map[string]any
}

// Client provides record-level access to the configured table.
type Client interface {
	// FindRecord returns the first record matching all conditions,
	// or nil when no record matches.
	FindRecord(ctx context.Context, conds ...Condition) (*Record, error)

	// CreateRecord inserts a new record and returns its store ID.
	CreateRecord(ctx context.Context, fields map[string]any) (string, error)

	// UpdateRecord patches the named fields on an existing record,
	// leaving unnamed fields untouched.
	UpdateRecord(ctx context.Context, recordID string, fields map[string]any) error
}

// httpClient implements Client against the Lark open API over HTTPS.
type httpClient struct {
	cfg      Config
	http     *http.Client
	observer Observer

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient creates a Client for the table described by cfg.
func NewClient(cfg Config, observer Observer) Client {
	if observer == nil {
		observer = NoopObserver{}
	}
	return &httpClient{
		cfg: cfg,
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 5 * time.Second,
				}).DialContext,
			},
		},
		observer: observer,
	}
}

// envelope is the outer shape of every store response.
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type tokenResponse struct {
	Code              int    `json:"code"`
	Msg               string `json:"msg"`
	TenantAccessToken string `json:"tenant_access_token"`
	Expire            int    `json:"expire"`
}

type searchRequest struct {
	Filter searchFilter `json:"filter"`
}

type searchFilter struct {
	Conjunction string      `json:"conjunction"`
	Conditions  []Condition `json:"conditions"`
}

type searchResponse struct {
	Items []struct {
		RecordID string         `json:"record_id"`
		Fields   map[string]any `json:"fields"`
	} `json:"items"`
}

type recordRequest struct {
	Fields map[string]any `json:"fields"`
}

type createResponse struct {
	Record struct {
		RecordID string `json:"record_id"`
	} `json:"record"`
}

func (c *httpClient) FindRecord(ctx context.Context, conds ...Condition) (*Record, error) {
	start := time.Now()
	path := fmt.Sprintf("/open-apis/bitable/v1/apps/%s/tables/%s/records/search", c.cfg.BaseID, c.cfg.TableID)
	body := searchRequest{Filter: searchFilter{Conjunction: "and", Conditions: conds}}

	data, err := c.exec(ctx, http.MethodPost, path, body)
	if err != nil {
		err = wrapOpErr(ErrQuery, err)
		c.observe("search", start, err)
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		err = fmt.Errorf("%w: decoding search response: %v", ErrQuery, err)
		c.observe("search", start, err)
		return nil, err
	}

	c.observe("search", start, nil)
	if len(resp.Items) == 0 {
		return nil, nil
	}
	item := resp.Items[0]
	return &Record{ID: item.RecordID, Fields: item.Fields}, nil
}

func (c *httpClient) CreateRecord(ctx context.Context, fields map[string]any) (string, error) {
	start := time.Now()
	path := fmt.Sprintf("/open-apis/bitable/v1/apps/%s/tables/%s/records", c.cfg.BaseID, c.cfg.TableID)

	data, err := c.exec(ctx, http.MethodPost, path, recordRequest{Fields: fields})
	if err != nil {
		err = wrapOpErr(ErrWrite, err)
		c.observe("create", start, err)
		return "", err
	}

	var resp createResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		err = fmt.Errorf("%w: decoding create response: %v", ErrWrite, err)
		c.observe("create", start, err)
		return "", err
	}

	c.observe("create", start, nil)
	return resp.Record.RecordID, nil
}

func (c *httpClient) UpdateRecord(ctx context.Context, recordID string, fields map[string]any) error {
	start := time.Now()
	path := fmt.Sprintf("/open-apis/bitable/v1/apps/%s/tables/%s/records/%s", c.cfg.BaseID, c.cfg.TableID, recordID)

	_, err := c.exec(ctx, http.MethodPut, path, recordRequest{Fields: fields})
	if err != nil {
		err = wrapOpErr(ErrWrite, err)
		c.observe("update", start, err)
		return err
	}

	c.observe("update", start, nil)
	return nil
}

// exec performs one authenticated store call. A stale bearer token is
// refreshed and the call retried exactly once.
func (c *httpClient) exec(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	token, err := c.tenantToken(ctx)
	if err != nil {
		return nil, err
	}

	env, status, err := c.request(ctx, method, path, token, body)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized || env.Code == codeTokenExpired || env.Code == codeTokenInvalid {
		c.invalidateToken()
		token, err = c.tenantToken(ctx)
		if err != nil {
			return nil, err
		}
		env, status, err = c.request(ctx, method, path, token, body)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			return nil, fmt.Errorf("store rejected refreshed token (status %d)", status)
		}
	}

	if env.Code != 0 {
		return nil, fmt.Errorf("store code %d: %s", env.Code, env.Msg)
	}
	return env.Data, nil
}

func (c *httpClient) request(ctx context.Context, method, path, token string, body any) (*envelope, int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.Endpoint+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		if resp.StatusCode == http.StatusUnauthorized {
			// Gateway-level 401 without a JSON envelope still means the
			// token went stale.
			return &envelope{Code: codeTokenInvalid}, resp.StatusCode, nil
		}
		return nil, resp.StatusCode, fmt.Errorf("store status %d: %s", resp.StatusCode, string(respBody))
	}
	return &env, resp.StatusCode, nil
}

// tenantToken returns a cached tenant access token, exchanging the app
// credentials for a fresh one when the cache is empty or expired.
func (c *httpClient) tenantToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	body := map[string]string{
		"app_id":     c.cfg.AppID,
		"app_secret": c.cfg.AppSecret,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("%w: marshaling credentials: %v", ErrAuth, err)
	}

	url := c.cfg.Endpoint + "/open-apis/auth/v3/tenant_access_token/internal"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: creating request: %v", ErrAuth, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuth, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %v", ErrAuth, err)
	}

	var tok tokenResponse
	if err := json.Unmarshal(respBody, &tok); err != nil {
		return "", fmt.Errorf("%w: store status %d: %s", ErrAuth, resp.StatusCode, string(respBody))
	}
	if tok.Code != 0 {
		return "", fmt.Errorf("%w: store code %d: %s", ErrAuth, tok.Code, tok.Msg)
	}

	c.token = tok.TenantAccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tok.Expire)*time.Second - tokenExpiryMargin)
	return c.token, nil
}

func (c *httpClient) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

func (c *httpClient) observe(op string, start time.Time, err error) {
	c.observer.OnCallComplete(CallEvent{
		Op:        op,
		LatencyMs: time.Since(start).Milliseconds(),
		Success:   err == nil,
		ErrorCode: errorCode(err),
	})
}

// wrapOpErr tags err with the operation's sentinel unless it already
// carries the auth sentinel from the token exchange.
func wrapOpErr(sentinel, err error) error {
	if errors.Is(err, ErrAuth) {
		return err
	}
	return fmt.Errorf("%w: %v", sentinel, err)
}

func errorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuth):
		return "AUTH"
	case errors.Is(err, ErrQuery):
		return "QUERY"
	case errors.Is(err, ErrWrite):
		return "WRITE"
	default:
		return "UNKNOWN"
	}
}
