// Package hostclient transfers files to a Cloudinary-style upload endpoint
// as signed multipart requests, reporting progress as the body is sent.
package hostclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tendant/simple-imageupload/pkg/imageupload"
	"github.com/tendant/simple-imageupload/pkg/imageupload/uploader"
)

// DefaultBaseURL is the public Cloudinary API.
const DefaultBaseURL = "https://api.cloudinary.com"

const maxErrorBody = 64 << 10

// ErrMissingCloudName is returned by New when no cloud name is given.
var ErrMissingCloudName = fmt.Errorf("%w: cloud name is required", imageupload.ErrConfiguration)

// Client uploads files to the hosting service
type Client struct {
	baseURL    string
	cloudName  string
	apiKey     string
	httpClient *http.Client
}

// Option is a functional option for configuring a Client
type Option func(*Client)

// WithBaseURL points the client at another API host, such as the local emulator
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithHTTPClient sets a custom HTTP client. Transfers are bounded by the
// caller's context, so the client should not carry a shorter timeout.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// New creates a client for the given cloud. The api key is public and is
// sent with every upload.
func New(cloudName, apiKey string, opts ...Option) (*Client, error) {
	if cloudName == "" {
		return nil, ErrMissingCloudName
	}
	c := &Client{
		baseURL:    DefaultBaseURL,
		cloudName:  cloudName,
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// UploadURL returns the upload endpoint for the configured cloud.
func (c *Client) UploadURL() string {
	return UploadURL(c.baseURL, c.cloudName)
}

// UploadURL builds the image upload endpoint for cloudName under baseURL.
func UploadURL(baseURL, cloudName string) string {
	return strings.TrimRight(baseURL, "/") + "/v1_1/" + cloudName + "/image/upload"
}

// Transfer sends the payload and returns the hosting service's result.
// Non-2xx responses become ErrTransfer errors carrying the service's message
// when one is present.
func (c *Client) Transfer(ctx context.Context, payload uploader.Payload, progress uploader.ProgressFunc) (*imageupload.UploadResult, error) {
	const op = "transfer"

	body, contentType, err := c.encode(payload)
	if err != nil {
		return nil, imageupload.TransferError(op, "", err)
	}

	total := int64(body.Len())
	var reader io.Reader = body
	if progress != nil {
		reader = &progressReader{reader: body, total: total, callback: progress}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.UploadURL(), reader)
	if err != nil {
		return nil, imageupload.TransferError(op, "", fmt.Errorf("failed to create request: %w", err))
	}
	req.ContentLength = total
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, imageupload.TransferError(op, "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := readErrorMessage(resp.Body)
		return nil, imageupload.TransferError(op, msg, fmt.Errorf("upload failed with status: %s", resp.Status))
	}

	var result imageupload.UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, imageupload.TransferError(op, "", fmt.Errorf("failed to decode response: %w", err))
	}
	if result.SecureURL == "" {
		return nil, imageupload.TransferError(op, "", errors.New("response is missing secure_url"))
	}
	return &result, nil
}

// encode writes the multipart form into memory so its length is known and
// progress can be computed against it.
func (c *Client) encode(payload uploader.Payload) (*bytes.Buffer, string, error) {
	if payload.File.Open == nil {
		return nil, "", errors.New("file has no content")
	}
	rc, err := payload.File.Open()
	if err != nil {
		return nil, "", fmt.Errorf("failed to open file: %w", err)
	}
	defer rc.Close()

	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`,
		imageupload.ParamFile, filepath.Base(payload.File.Name)))
	ct := payload.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, rc); err != nil {
		return nil, "", fmt.Errorf("failed to read file: %w", err)
	}

	fields := [][2]string{
		{imageupload.ParamTimestamp, strconv.FormatInt(payload.Params.IssuedAt, 10)},
		{imageupload.ParamAPIKey, c.apiKey},
		{imageupload.ParamSignature, string(payload.Signature)},
		{imageupload.ParamPublicID, payload.Params.ResourceID},
		{imageupload.ParamEager, payload.Params.TransformSpec},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
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
	if e.Error.Message != "" {
		return e.Error.Message
	}
	return e.Message
}

// progressReader wraps the request body to report TransferProgress
type progressReader struct {
	reader   io.Reader
	sent     int64
	total    int64
	callback uploader.ProgressFunc
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	pr.sent += int64(n)
	if n > 0 {
		pr.callback(imageupload.Percent(pr.sent, pr.total))
	}
	return n, err
}
