// Package ipfs implements a minimal client for the IPFS HTTP API's add/cat
// endpoints, talking to the node directly over net/http. The add call is a
// single multipart POST; the node pins what it adds, so no separate pin
// round-trip is needed.
package ipfs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// Client adds and fetches content through a node's HTTP API.
type Client struct {
	apiURL     string
	httpClient *http.Client
}

func New(apiURL string, timeout time.Duration) *Client {
	return &Client{
		apiURL:     strings.TrimSuffix(apiURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type addResponse struct {
	Hash string `json:"Hash"`
}

// Add streams r to /api/v0/add, pins it (the API pins by default), and
// returns its content identifier.
func (c *Client) Add(ctx context.Context, filename string, r io.Reader) (string, error) {
	body := &strings.Builder{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("create multipart field: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("write multipart body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	url := c.apiURL + "/api/v0/add?pin=true"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body.String()))
	if err != nil {
		return "", fmt.Errorf("build ipfs add request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ipfs add request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ipfs add returned %d: %s", resp.StatusCode, string(data))
	}

	var parsed addResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode ipfs add response: %w", err)
	}
	if parsed.Hash == "" {
		return "", fmt.Errorf("ipfs add response missing Hash")
	}
	return parsed.Hash, nil
}

// Cat fetches the content behind a CID via /api/v0/cat.
func (c *Client) Cat(ctx context.Context, cid string) (io.ReadCloser, error) {
	url := fmt.Sprintf("%s/api/v0/cat?arg=%s", c.apiURL, cid)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build ipfs cat request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ipfs cat request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ipfs cat returned %d: %s", resp.StatusCode, string(data))
	}
	return resp.Body, nil
}

// Pin re-pins an existing CID via /api/v0/pin/add — used when the mirror
// copy exists but the IPFS node lost its pin (e.g. after a node restart
// with non-persistent storage).
func (c *Client) Pin(ctx context.Context, cid string) error {
	url := fmt.Sprintf("%s/api/v0/pin/add?arg=%s", c.apiURL, cid)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("build ipfs pin request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ipfs pin request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ipfs pin returned %d: %s", resp.StatusCode, string(data))
	}
	return nil
}
