package pairing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Client submits a join request to a remote initiator's pairing Server.
// It is used directly by the joiner's CLI, dialing the initiator over the
// network; the joiner's own daemon is not involved in this step, since the
// session being joined lives on the initiator's device.
type Client struct {
	httpClient *http.Client
}

// NewClient returns a Client with a sensible request timeout.
func NewClient() *Client {
	return &Client{httpClient: &http.Client{Timeout: 15 * time.Second}}
}

// Join submits code and info to the initiator at address (host:port).
func (c *Client) Join(ctx context.Context, address, code string, info JoinInfo) (JoinResult, error) {
	body, err := json.Marshal(joinRequest{
		Code:         code,
		DeviceID:     info.DeviceID,
		DeviceName:   info.DeviceName,
		PublicKeyHex: info.PublicKeyHex,
	})
	if err != nil {
		return JoinResult{}, fmt.Errorf("encode join request: %w", err)
	}

	url := "http://" + address + "/join"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return JoinResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return JoinResult{}, fmt.Errorf("submit join to %s: %w", address, err)
	}
	defer resp.Body.Close()

	var parsed joinResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return JoinResult{}, fmt.Errorf("decode join response: %w", err)
	}
	if parsed.Error != "" {
		return JoinResult{Status: parsed.Status}, fmt.Errorf("join rejected: %s", parsed.Error)
	}
	return JoinResult{Status: parsed.Status}, nil
}

// JoinStatus polls address for the outcome of a code this client already
// submitted via Join.
func (c *Client) JoinStatus(ctx context.Context, address, code string) (JoinResult, error) {
	reqURL := fmt.Sprintf("http://%s/join/status?code=%s", address, url.QueryEscape(code))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return JoinResult{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return JoinResult{}, fmt.Errorf("poll join status at %s: %w", address, err)
	}
	defer resp.Body.Close()

	var parsed joinResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return JoinResult{}, fmt.Errorf("decode join status response: %w", err)
	}
	return JoinResult{Status: parsed.Status}, nil
}
