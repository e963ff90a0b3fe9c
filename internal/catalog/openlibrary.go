// Package catalog provides the client for the external bibliographic catalog
// used to enrich queued book requests.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/helixir/book-request-service/internal/domain"
)

const (
	// DefaultBaseURL is the default OpenLibrary base URL.
	DefaultBaseURL = "https://openlibrary.org"

	// DefaultTimeout bounds one catalog call, retries included.
	DefaultTimeout = 5 * time.Second

	// DefaultRateLimit is the default rate limit for requests per second.
	DefaultRateLimit = 5.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 5

	// DefaultMaxRetries is the default number of retries per call.
	DefaultMaxRetries = 1

	// DefaultSearchLimit is the number of search documents requested.
	DefaultSearchLimit = 1

	// DefaultUserAgent identifies the service to the catalog.
	DefaultUserAgent = "Helixir-BookRequestService/1.0"

	// EndpointBooks labels identifier lookups in logs and metrics.
	EndpointBooks = "books"

	// EndpointSearch labels free-text searches in logs and metrics.
	EndpointSearch = "search"

	sourceName      = "OpenLibrary"
	maxResponseSize = 10 << 20
)

var errMalformedResponse = errors.New("malformed catalog response")

// Catalog is the lookup surface the enrichment resolver depends on.
type Catalog interface {
	// LookupByISBN fetches the record keyed by the identifier.
	LookupByISBN(ctx context.Context, isbn string) Result[*IdentifierRecord]

	// SearchByText returns the first document matching a free-text query.
	SearchByText(ctx context.Context, query string, limit int) Result[*SearchDocument]
}

// Config holds configuration for the OpenLibrary client.
type Config struct {
	// BaseURL is the catalog base URL.
	// Defaults to https://openlibrary.org
	BaseURL string

	// Timeout bounds each lookup, retries included.
	// Defaults to 5 seconds.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// MaxRetries is the number of retries on 429, 5xx and network errors.
	// Negative disables retries.
	MaxRetries int

	// RetryDelay is the initial retry delay.
	RetryDelay time.Duration

	// UserAgent is sent with every request.
	UserAgent string

	// SearchLimit is the default number of search documents requested.
	SearchLimit int
}

// applyDefaults sets default values for unset configuration fields.
func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.BurstSize == 0 {
		c.BurstSize = DefaultBurstSize
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.SearchLimit <= 0 {
		c.SearchLimit = DefaultSearchLimit
	}
}

// Client is the OpenLibrary implementation of Catalog.
type Client struct {
	config     Config
	httpClient *HTTPClient
}

// Ensure Client implements Catalog.
var _ Catalog = (*Client)(nil)

// New creates a new OpenLibrary client with the given configuration.
func New(cfg Config) *Client {
	cfg.applyDefaults()

	httpClient := NewHTTPClient(HTTPClientConfig{
		Timeout:    cfg.Timeout,
		RateLimit:  cfg.RateLimit,
		BurstSize:  cfg.BurstSize,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		UserAgent:  cfg.UserAgent,
	})

	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}
}

// NewWithHTTPClient creates a new OpenLibrary client with a custom HTTP client.
// This is useful for testing with mock servers.
func NewWithHTTPClient(cfg Config, httpClient *HTTPClient) *Client {
	cfg.applyDefaults()

	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}
}

// LookupByISBN queries the books endpoint with an ISBN bibkey. The result is
// Found only when the response contains an object under "ISBN:{isbn}".
func (c *Client) LookupByISBN(ctx context.Context, isbn string) Result[*IdentifierRecord] {
	isbn = strings.TrimSpace(isbn)
	if isbn == "" {
		return Absent[*IdentifierRecord]()
	}

	key := "ISBN:" + isbn
	params := url.Values{}
	params.Set("bibkeys", key)
	params.Set("format", "json")
	params.Set("jscmd", "data")

	payload, err := c.getJSON(ctx, c.config.BaseURL+"/api/books?"+params.Encode())
	if err != nil {
		return TransportError[*IdentifierRecord](err)
	}

	entry, ok := payload[key].(map[string]any)
	if !ok {
		return Absent[*IdentifierRecord]()
	}
	return Found(newIdentifierRecord(key, entry))
}

// SearchByText queries the search endpoint and returns the first document.
// A non-positive limit uses the configured default.
func (c *Client) SearchByText(ctx context.Context, query string, limit int) Result[*SearchDocument] {
	query = strings.TrimSpace(query)
	if query == "" {
		return Absent[*SearchDocument]()
	}
	if limit <= 0 {
		limit = c.config.SearchLimit
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(limit))

	payload, err := c.getJSON(ctx, c.config.BaseURL+"/search.json?"+params.Encode())
	if err != nil {
		return TransportError[*SearchDocument](err)
	}

	rawDocs, present := payload["docs"]
	if !present {
		return TransportError[*SearchDocument](fmt.Errorf("%w: missing docs", errMalformedResponse))
	}
	docs, ok := rawDocs.([]any)
	if !ok {
		return TransportError[*SearchDocument](fmt.Errorf("%w: docs is not a list", errMalformedResponse))
	}
	if len(docs) == 0 {
		return Absent[*SearchDocument]()
	}

	first, ok := docs[0].(map[string]any)
	if !ok {
		return Absent[*SearchDocument]()
	}
	return Found(newSearchDocument(first))
}

// getJSON performs a bounded GET and decodes a JSON object body.
func (c *Client) getJSON(ctx context.Context, endpoint string) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return nil, domain.NewExternalAPIError(sourceName, resp.StatusCode, string(body), domain.ErrServiceUnavailable)
	}

	var payload map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedResponse, err)
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: empty body", errMalformedResponse)
	}
	return payload, nil
}

// TextQuery joins the present search terms with a single space.
func TextQuery(terms ...string) string {
	parts := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = strings.TrimSpace(t); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
