package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fleettag/pkg/engine"
)

const (
	enginesPath     = "/api/configuration/v1/engines"
	statusConnected = "CONNECTED"
	defaultTimeout  = 30 * time.Second
)

// ErrNoEngines is returned when the portal lists no connected engine.
var ErrNoEngines = errors.New("portal: no connected engines")

// Engine is one entry of the portal's engine directory.
type Engine struct {
	Address string `json:"address"`
	Status  string `json:"status"`
}

// Connected reports whether the engine accepts queries. The portal's status
// value is matched exactly.
func (e Engine) Connected() bool {
	return e.Status == statusConnected
}

// Client queries the portal for the engines attached to it.
type Client struct {
	baseURL string
	creds   engine.Credentials
	http    *http.Client
}

// NewClient creates a directory client for the portal at addr. A zero port keeps
// the HTTPS default unless addr carries its own.
func NewClient(addr string, port int, creds engine.Credentials, httpClient *http.Client) (*Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("portal: address is required")
	}
	if creds.IsZero() {
		return nil, errors.New("portal: credentials are required")
	}
	if httpClient == nil {
		httpClient = engine.NewHTTPClient(defaultTimeout, false)
	}
	if port == 443 {
		port = 0
	}

	return &Client{
		baseURL: "https://" + engine.HostPort(addr, port),
		creds:   creds,
		http:    httpClient,
	}, nil
}

// Engines returns the full engine directory.
func (c *Client) Engines(ctx context.Context) ([]Engine, error) {
	if c == nil {
		return nil, errors.New("nil portal client")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+enginesPath, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", c.creds.Header())
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list engines: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("list engines unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var engines []Engine
	if err := json.NewDecoder(resp.Body).Decode(&engines); err != nil {
		return nil, fmt.Errorf("decode engines: %w", err)
	}
	return engines, nil
}

// ConnectedEngines returns the addresses of connected engines, deduplicated and
// in directory order.
func (c *Client) ConnectedEngines(ctx context.Context) ([]string, error) {
	engines, err := c.Engines(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(engines))
	addrs := make([]string, 0, len(engines))
	for _, e := range engines {
		addr := strings.TrimSpace(e.Address)
		if addr == "" || !e.Connected() {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, ErrNoEngines
	}
	return addrs, nil
}
