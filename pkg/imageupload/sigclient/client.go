// Package sigclient requests upload signatures from the signature endpoint.
package sigclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tendant/simple-imageupload/pkg/imageupload"
)

// DefaultPath is where the signature endpoint is mounted.
const DefaultPath = "/api/generate-signature"

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 << 10

// Client calls the signature endpoint
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// Option is a functional option for configuring a Client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithPath overrides DefaultPath
func WithPath(path string) Option {
	return func(c *Client) {
		c.endpoint = joinURL(strings.TrimSuffix(c.endpoint, DefaultPath), path)
	}
}

// New creates a client for the server at baseURL, e.g. "http://localhost:3000".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		endpoint:   joinURL(baseURL, DefaultPath),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the full signature endpoint URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

type signatureResponse struct {
	Signature string `json:"signature"`
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// RequestSignature posts params and returns the signature the server computed
// for them. Any failure, including a server-side configuration error, is
// returned as an ErrSignatureRequest carrying the server's message when one
// was sent.
func (c *Client) RequestSignature(ctx context.Context, params imageupload.UploadRequestParams) (imageupload.Signature, error) {
	const op = "request signature"

	body, err := json.Marshal(params)
	if err != nil {
		return "", imageupload.SignatureRequestError(op, "", fmt.Errorf("failed to encode params: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", imageupload.SignatureRequestError(op, "", fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", imageupload.SignatureRequestError(op, "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := readErrorMessage(resp.Body)
		return "", imageupload.SignatureRequestError(op, msg, fmt.Errorf("signature endpoint returned status: %s", resp.Status))
	}

	var out signatureResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", imageupload.SignatureRequestError(op, "", fmt.Errorf("failed to decode response: %w", err))
	}
	if out.Signature == "" {
		return "", imageupload.SignatureRequestError(op, "", fmt.Errorf("response is missing signature"))
	}
	return imageupload.Signature(out.Signature), nil
}

func readErrorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(data) == 0 {
		return ""
	}
	var e errorResponse
	if json.Unmarshal(data, &e) != nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
