// Package transport provides the HTTP primitives shared by every
// component that talks to another node or the aggregator: the
// membership monitor pinging peers and the OTA engine polling the
// aggregator. Every node
// is a peer: there is no distinguished coordinator endpoint.
package transport

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

// PeerInfo identifies a node reachable over the overlay.
type PeerInfo struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

// AnnounceRequest is sent by a node to a peer to announce its presence
// or changed state.
type AnnounceRequest struct {
	Node PeerInfo `json:"node"`
}

// BroadcastRequest carries a path + JSON payload to fan out to every
// known peer.
type BroadcastRequest struct {
	Path    string          `json:"path"`
	Payload json.RawMessage `json:"payload"`
}

// Client is a thin HTTP client with a bounded timeout, shared across
// transport calls so connections are pooled instead of reconstructed
// per request.
type Client struct {
	http *http.Client
}

// NewClient builds a Client with the given timeout. HTTP requests carry
// a default 30s timeout, configurable by the caller.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{http: &http.Client{Timeout: timeout}}
}

// PostJSON encodes body as JSON, POSTs it to url, and decodes the JSON
// response into out (if non-nil). A non-2xx response is surfaced as an
// error carrying the status code.
func (c *Client) PostJSON(ctx context.Context, url string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetJSON performs a GET and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) (statusCode int, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decoding response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// GetStream performs a GET and returns the raw response for the caller
// to stream-copy, used by the OTA diff download which must read in
// bounded chunks rather than buffer the whole body.
func (c *Client) GetStream(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return resp, nil
}

// Ping performs a lightweight GET against addr's /health endpoint,
// returning an error if the peer is unreachable or unhealthy.
func (c *Client) Ping(ctx context.Context, addr string) error {
	url := addr
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}
	url = strings.TrimRight(url, "/") + "/health"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}
