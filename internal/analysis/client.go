package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"golang.org/x/xerrors"
)

// Client calls a remote analysis service over HTTP. It is the default
// Engine implementation wired in from the entrypoint.
type Client struct {
	BaseURL string
	client  *http.Client
}

// NewClient builds a client against the service base URL, e.g.
// "http://localhost:9090".
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		client:  &http.Client{},
	}
}

// Run posts the request to the service's /analyze endpoint and decodes
// the result. The context deadline bounds the whole round trip.
func (c *Client) Run(ctx context.Context, req Request) (*Result, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, xerrors.Errorf("marshal analysis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/analyze", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, xerrors.Errorf("create analysis request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, xerrors.Errorf("send analysis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, xerrors.Errorf("analysis service returned status %d: %s", resp.StatusCode, string(body))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, xerrors.Errorf("decode analysis response: %w", err)
	}
	return &result, nil
}
