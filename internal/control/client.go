package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Client is a control socket client.
type Client struct {
	socketPath string
	httpClient *http.Client
}

// NewClient creates a new control client.
func NewClient(socketPath string) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}

	return &Client{
		socketPath: socketPath,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   10 * time.Second,
		},
	}
}

// Status retrieves the engine's status.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	resp, err := c.get(ctx, "/status")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var status StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &status, nil
}

// Peers retrieves the list of connected peers.
func (c *Client) Peers(ctx context.Context) (*PeersResponse, error) {
	resp, err := c.get(ctx, "/peers")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var peers PeersResponse
	if err := json.NewDecoder(resp.Body).Decode(&peers); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &peers, nil
}

// PairInitiate starts a pairing session and returns the code to publish.
func (c *Client) PairInitiate(ctx context.Context) (*InitiateResponse, error) {
	resp, err := c.post(ctx, "/pair/initiate", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var initiate InitiateResponse
	if err := json.NewDecoder(resp.Body).Decode(&initiate); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &initiate, nil
}

// PairPending retrieves the join request awaiting a decision, if any.
func (c *Client) PairPending(ctx context.Context) (*PendingResponse, error) {
	resp, err := c.get(ctx, "/pair/pending")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var pending PendingResponse
	if err := json.NewDecoder(resp.Body).Decode(&pending); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &pending, nil
}

// PairRespond accepts or rejects the pending join request.
func (c *Client) PairRespond(ctx context.Context, accept bool) (*RespondResponse, error) {
	body, err := json.Marshal(RespondRequest{Accept: accept})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	resp, err := c.post(ctx, "/pair/respond", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var respond RespondResponse
	if err := json.NewDecoder(resp.Body).Decode(&respond); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &respond, nil
}

// PairCancel ends the current pairing session without a decision.
func (c *Client) PairCancel(ctx context.Context) error {
	resp, err := c.post(ctx, "/pair/cancel", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// get performs a GET request to the control socket.
func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://localhost"+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// post performs a POST request to the control socket.
func (c *Client) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://localhost"+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		var parsed errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err == nil && parsed.Error != "" {
			return nil, fmt.Errorf("request failed: %s", parsed.Error)
		}
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return resp, nil
}

// Close closes the client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
