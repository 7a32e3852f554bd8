package krist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxStartResponse bounds how much of the /ws/start body is read.
const maxStartResponse = 64 << 10

// start performs the one-shot /ws/start call and returns the URL of the
// persistent channel. An empty privateKey starts a guest session.
func (c *Client) start(ctx context.Context, privateKey string) (string, error) {
	body, err := json.Marshal(startRequest{PrivateKey: privateKey})
	if err != nil {
		return "", fmt.Errorf("marshal start request: %w", err)
	}

	endpoint := strings.TrimRight(c.nodeURL, "/") + "/ws/start"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: create request: %v", ErrHandshake, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: http request: %v", ErrHandshake, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxStartResponse))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrHandshake, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: unexpected status %d: %s", ErrHandshake, resp.StatusCode, bytes.TrimSpace(respBody))
	}

	trimmed := bytes.TrimSpace(respBody)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return "", fmt.Errorf("%w: response is not an object", ErrHandshake)
	}

	var start startResponse
	if err := json.Unmarshal(trimmed, &start); err != nil {
		return "", fmt.Errorf("%w: unmarshal response: %v", ErrHandshake, err)
	}
	if !start.OK {
		return "", fmt.Errorf("%w: node refused: %s", ErrHandshake, trimmed)
	}
	if start.URL == "" {
		return "", fmt.Errorf("%w: response has no url", ErrHandshake)
	}

	return start.URL, nil
}
