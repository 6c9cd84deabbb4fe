package query

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gigsync/gigsync-go/pkg/syncerr"
	"github.com/gigsync/gigsync-go/pkg/transport"
)

const (
	defaultConnectTimeout = 5 * time.Second
	defaultTLSTimeout     = 5 * time.Second

	// maxErrorBody caps how much of an error response is kept.
	maxErrorBody = 512
)

// HTTPConfig configures the HTTP query client.
type HTTPConfig struct {
	// BaseURL is the REST root, e.g. https://api.example.com/rest/v1.
	BaseURL string

	// Token is sent as a bearer token when set.
	Token string

	// APIKey is sent in the "apikey" header when set.
	APIKey string
}

// HTTPClient implements Reader and Mutator over JSON/HTTP.
// Per-request ceilings come from the caller's context.
type HTTPClient struct {
	cfg    HTTPConfig
	client *http.Client
	logger *slog.Logger
}

// NewHTTPClient creates an HTTP query client.
func NewHTTPClient(cfg HTTPConfig, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	dialer := &net.Dialer{Timeout: defaultConnectTimeout}
	return &HTTPClient{
		cfg: cfg,
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				DialContext:         dialer.DialContext,
				TLSHandshakeTimeout: defaultTLSTimeout,
			},
		},
		logger: logger,
	}
}

// Read fetches every row of entityType.
func (c *HTTPClient) Read(ctx context.Context, entityType string, filter transport.Filter) ([]Record, error) {
	u := c.cfg.BaseURL + "/" + url.PathEscape(entityType)
	if !filter.IsZero() {
		q := url.Values{}
		q.Set(filter.Field, "eq."+filter.Value)
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &syncerr.FetchError{Collection: entityType, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &syncerr.FetchError{
			Collection: entityType,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", readErrorBody(resp.Body)),
		}
	}

	var raw []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, &syncerr.FetchError{Collection: entityType, Err: fmt.Errorf("decode response: %w", err)}
	}

	rows := make([]Record, 0, len(raw))
	for i, msg := range raw {
		rec, err := decodeRow(entityType, msg)
		if err != nil {
			c.logger.Warn("dropping malformed row", "entity", entityType, "index", i, "error", err)
			continue
		}
		rows = append(rows, rec)
	}

	c.logger.Debug("query read", "entity", entityType, "filter", filter.String(), "rows", len(rows), "dropped", len(raw)-len(rows))
	return rows, nil
}

// decodeRow decodes one element of a read response. Anything but a JSON
// object is a *syncerr.DataShapeError.
func decodeRow(entityType string, msg json.RawMessage) (Record, error) {
	var rec Record
	if err := json.Unmarshal(msg, &rec); err != nil {
		return nil, &syncerr.DataShapeError{EntityType: entityType, Reason: err.Error()}
	}
	if rec == nil {
		return nil, &syncerr.DataShapeError{EntityType: entityType, Reason: "row is null"}
	}
	return rec, nil
}

// ClaimExclusive calls the claim_exclusive procedure.
func (c *HTTPClient) ClaimExclusive(ctx context.Context, entityType, field, id string) error {
	return c.rpc(ctx, "claim_exclusive", entityType, field, id)
}

// ReleaseExclusive calls the release_exclusive procedure.
func (c *HTTPClient) ReleaseExclusive(ctx context.Context, entityType, field, id string) error {
	return c.rpc(ctx, "release_exclusive", entityType, field, id)
}

type exclusiveArgs struct {
	Entity string `json:"entity"`
	Field  string `json:"field"`
	ID     string `json:"id"`
}

func (c *HTTPClient) rpc(ctx context.Context, procedure, entityType, field, id string) error {
	body, err := json.Marshal(exclusiveArgs{Entity: entityType, Field: field, ID: id})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/rpc/"+procedure, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", procedure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s: status %d: %s", procedure, resp.StatusCode, readErrorBody(resp.Body))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("apikey", c.cfg.APIKey)
	}
}

func readErrorBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	msg := strings.TrimSpace(string(b))
	if msg == "" {
		return "empty response"
	}
	return msg
}

// Compile-time interface satisfaction checks.
var (
	_ Reader  = (*HTTPClient)(nil)
	_ Mutator = (*HTTPClient)(nil)
)
