package engine

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"fleettag/pkg/query"
)

const (
	// DefaultPort is the engine's query listener.
	DefaultPort = 1671
	// DefaultTimeout bounds a single engine request.
	DefaultTimeout = 30 * time.Second

	queryPath    = "/2/query"
	maxBodyBytes = 256 << 20
)

// Format selects the response encoding an engine produces.
type Format string

const (
	FormatJSON Format = "json"
	FormatXML  Format = "xml"
	FormatCSV  Format = "csv"
)

// Options tunes a Client. Zero values select defaults.
type Options struct {
	Port               int
	Timeout            time.Duration
	HumanReadable      bool
	InsecureSkipVerify bool
	// HTTPClient overrides the instrumented client built from the fields above.
	HTTPClient *http.Client
}

// Response is a completed engine request. Non-2xx statuses are returned as
// responses, not errors; only transport failures produce an error.
type Response struct {
	Engine     string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// StatusError describes a non-2xx engine answer.
type StatusError struct {
	Engine     string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("engine %s: unexpected status %d", e.Engine, e.StatusCode)
	}
	return fmt.Sprintf("engine %s: unexpected status %d: %s", e.Engine, e.StatusCode, e.Body)
}

// Err converts a non-2xx response into a *StatusError.
func (r *Response) Err() error {
	if r == nil {
		return errors.New("nil response")
	}
	if r.OK() {
		return nil
	}
	body := strings.TrimSpace(string(r.Body))
	if len(body) > 512 {
		body = body[:512]
	}
	return &StatusError{Engine: r.Engine, StatusCode: r.StatusCode, Body: body}
}

// Client executes statements against engines over HTTPS.
type Client struct {
	http    *http.Client
	creds   Credentials
	port    int
	timeout time.Duration
	hr      bool
}

// NewClient builds a Client that authenticates every request with creds.
func NewClient(creds Credentials, opts Options) (*Client, error) {
	if creds.IsZero() {
		return nil, errors.New("engine: credentials are required")
	}
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.Port < 0 || opts.Port > 65535 {
		return nil, fmt.Errorf("engine: port %d is outside the valid range 1-65535", opts.Port)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = NewHTTPClient(opts.Timeout, opts.InsecureSkipVerify)
	}

	return &Client{
		http:    httpClient,
		creds:   creds,
		port:    opts.Port,
		timeout: opts.Timeout,
		hr:      opts.HumanReadable,
	}, nil
}

// NewHTTPClient returns an HTTP client whose transport is traced with otelhttp.
func NewHTTPClient(timeout time.Duration, insecureSkipVerify bool) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: insecureSkipVerify, //nolint:gosec
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(transport),
	}
}

// URL returns the query endpoint for an engine address.
func (c *Client) URL(engine string) string {
	return "https://" + HostPort(engine, c.port) + queryPath
}

// Query runs stmt on engine and returns the raw response.
func (c *Client) Query(ctx context.Context, engine string, stmt query.Statement, format Format) (*Response, error) {
	if c == nil {
		return nil, errors.New("nil engine client")
	}
	if strings.TrimSpace(engine) == "" {
		return nil, errors.New("engine address is required")
	}
	if stmt.IsZero() {
		return nil, errors.New("statement is required")
	}
	if format == "" {
		format = FormatJSON
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := url.Values{}
	params.Set("query", stmt.String())
	params.Set("format", string(format))
	params.Set("hr", strconv.FormatBool(c.hr))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(engine)+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", c.creds.Header())
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query engine %s: %w", engine, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read engine %s response: %w", engine, err)
	}

	return &Response{
		Engine:     engine,
		StatusCode: resp.StatusCode,
		Body:       body,
		Duration:   time.Since(start),
	}, nil
}

// HostPort appends port to addr unless addr already names one.
func HostPort(addr string, port int) string {
	addr = strings.TrimSpace(addr)
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	if port <= 0 {
		return addr
	}
	return net.JoinHostPort(strings.Trim(addr, "[]"), strconv.Itoa(port))
}
