package api_test

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-imageupload/pkg/imageupload"
	"github.com/tendant/simple-imageupload/pkg/imageupload/api"
	"github.com/tendant/simple-imageupload/pkg/imageupload/metrics"
	"github.com/tendant/simple-imageupload/pkg/imageupload/signer"
	"github.com/tendant/simple-imageupload/pkg/imageupload/uploader"
)

type stubTransport struct {
	mu       sync.Mutex
	payloads []uploader.Payload
	result   *imageupload.UploadResult
	err      error
}

func (s *stubTransport) Transfer(_ context.Context, p uploader.Payload, progress uploader.ProgressFunc) (*imageupload.UploadResult, error) {
	s.mu.Lock()
	s.payloads = append(s.payloads, p)
	s.mu.Unlock()
	progress(100)
	return s.result, s.err
}

func newServer(t *testing.T, secret string, opts ...api.Option) (*httptest.Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	obs, err := metrics.NewPrometheusObserver("imageupload", reg)
	require.NoError(t, err)

	opts = append([]api.Option{api.WithObserver(obs)}, opts...)
	h := api.NewUploadHandler(signer.New(signer.WithSecret(secret)), opts...)
	srv := httptest.NewServer(api.NewRouter(h, api.RouterConfig{Gatherer: reg}))
	t.Cleanup(srv.Close)
	return srv, reg
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]string) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestGenerateSignature(t *testing.T) {
	srv, _ := newServer(t, "s3cr3t")

	resp, body := postJSON(t, srv.URL+"/api/generate-signature",
		`{"public_id":"sample_image","eager":"w_400,h_300,c_pad|w_260,h_200,c_crop","timestamp":1700000000}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sum := sha1.Sum([]byte("eager=w_400,h_300,c_pad|w_260,h_200,c_crop&public_id=sample_image&timestamp=1700000000s3cr3t"))
	assert.Equal(t, hex.EncodeToString(sum[:]), body["signature"])
}

func TestGenerateSignature_MissingSecret(t *testing.T) {
	srv, _ := newServer(t, "")

	resp, body := postJSON(t, srv.URL+"/api/generate-signature", `{"public_id":"a","eager":"w_1","timestamp":1700000000}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "API Secret is missing", body["message"])
}

func TestGenerateSignature_BadRequest(t *testing.T) {
	srv, _ := newServer(t, "s3cr3t")

	for _, body := range []string{`not json`, `{"public_id":"a"}`, `{"timestamp":"soon"}`} {
		resp, out := postJSON(t, srv.URL+"/api/generate-signature", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		assert.NotEmpty(t, out["message"], body)
	}
}

func TestGenerateSignature_MethodNotAllowed(t *testing.T) {
	srv, _ := newServer(t, "s3cr3t")
	resp, err := http.Get(srv.URL + "/api/generate-signature")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestGetConfig_NeverExposesSecret(t *testing.T) {
	srv, _ := newServer(t, "s3cr3t", api.WithPublicConfig(api.PublicConfig{
		CloudName:     "demo",
		APIKey:        "key",
		UploadURL:     "https://api.cloudinary.com/v1_1/demo/image/upload",
		Eager:         imageupload.DefaultTransformSpec,
		MaxFileSize:   imageupload.DefaultMaxFileSize,
		AcceptedTypes: imageupload.AcceptedTypes,
	}))

	resp, err := http.Get(srv.URL + "/api/config")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.NotContains(t, string(raw), "s3cr3t")
	var cfg api.PublicConfig
	require.NoError(t, json.Unmarshal(raw, &cfg))
	assert.Equal(t, "demo", cfg.CloudName)
	assert.Equal(t, int64(11_000_000), cfg.MaxFileSize)
	assert.Equal(t, []string{"image/png", "image/gif", "image/jpeg"}, cfg.AcceptedTypes)
}

func multipartFile(t *testing.T, name, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+name+`"`)
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, _ = part.Write(data)
	require.NoError(t, w.Close())
	return &body, w.FormDataContentType()
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestProxyUpload(t *testing.T) {
	transport := &stubTransport{result: &imageupload.UploadResult{
		PublicID:  "sample_image",
		SecureURL: "https://res.example.com/demo/image/upload/v1/sample_image.png",
	}}
	srv, reg := newServer(t, "s3cr3t",
		api.WithTransport(transport),
		api.WithUploaderOptions(uploader.WithResourceIDPolicy(imageupload.FixedResourceID("sample_image"))),
	)

	body, contentType := multipartFile(t, "cat.png", "image/png", pngHeader)
	resp, err := http.Post(srv.URL+"/api/upload", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out api.ProxyUploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "https://res.example.com/demo/image/upload/v1/sample_image.png", out.URL)
	assert.Equal(t, "sample_image", out.PublicID)

	require.Len(t, transport.payloads, 1)
	p := transport.payloads[0]
	assert.Equal(t, "image/png", p.ContentType)
	assert.Equal(t, "sample_image", p.Params.ResourceID)
	expected, err := signer.New(signer.WithSecret("s3cr3t")).Sign(p.Params)
	require.NoError(t, err)
	assert.Equal(t, expected, p.Signature)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "imageupload_uploaded_bytes_total")
}

func TestProxyUpload_Failures(t *testing.T) {
	failing := &stubTransport{err: imageupload.TransferError("transfer", "Invalid Signature", errors.New("401"))}

	tests := []struct {
		name        string
		opts        []api.Option
		method      string
		fileType    string
		data        []byte
		status      int
		wantMessage string
	}{
		{"get", nil, http.MethodGet, "", nil, http.StatusMethodNotAllowed, "Method GET not allowed"},
		{"no transport", nil, http.MethodPost, "image/png", pngHeader, http.StatusInternalServerError, "Server is not configured for uploads"},
		{"not an image", []api.Option{api.WithTransport(failing)}, http.MethodPost, "text/plain", []byte("hello"), http.StatusBadRequest, "File type must be"},
		{"hosting rejects", []api.Option{api.WithTransport(failing)}, http.MethodPost, "image/png", pngHeader, http.StatusInternalServerError, "Invalid Signature"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newServer(t, "s3cr3t", tt.opts...)

			var req *http.Request
			if tt.method == http.MethodGet {
				req, _ = http.NewRequest(http.MethodGet, srv.URL+"/api/upload", nil)
			} else {
				body, contentType := multipartFile(t, "f", tt.fileType, tt.data)
				req, _ = http.NewRequest(http.MethodPost, srv.URL+"/api/upload", body)
				req.Header.Set("Content-Type", contentType)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.status, resp.StatusCode)
			var out map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
			assert.Contains(t, out["error"], tt.wantMessage)
		})
	}
}

func TestProxyUpload_BodyLimit(t *testing.T) {
	transport := &stubTransport{result: &imageupload.UploadResult{PublicID: "big", SecureURL: "https://res.example.com/big.png"}}
	data := append(append([]byte{}, pngHeader...), make([]byte, 1<<20+64<<10)...)

	tests := []struct {
		name        string
		maxFileSize int64
		status      int
		wantMessage string
	}{
		{"over the limit", 1000, http.StatusBadRequest, "File is too large, maximum is 1kB"},
		{"unset limit uses default", 0, http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := api.NewUploadHandler(signer.New(signer.WithSecret("s3cr3t")),
				api.WithTransport(transport),
				api.WithPublicConfig(api.PublicConfig{MaxFileSize: tt.maxFileSize}),
			)
			body, contentType := multipartFile(t, "big.png", "image/png", data)
			req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
			req.Header.Set("Content-Type", contentType)
			rec := httptest.NewRecorder()

			h.Upload(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.wantMessage != "" {
				var out map[string]string
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
				assert.Equal(t, tt.wantMessage, out["error"])
			}
		})
	}
}

func TestProxyUpload_MissingSecret(t *testing.T) {
	srv, _ := newServer(t, "", api.WithTransport(&stubTransport{}))

	body, contentType := multipartFile(t, "cat.png", "image/png", pngHeader)
	resp, err := http.Post(srv.URL+"/api/upload", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "Server is not configured for uploads", out["error"])
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newServer(t, "s3cr3t")
	_, _ = postJSON(t, srv.URL+"/api/generate-signature", `{"public_id":"a","eager":"w_1","timestamp":1700000000}`)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(raw), `imageupload_operation_duration_seconds_count{operation="signature"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newServer(t, "s3cr3t")
	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/generate-signature", nil)
	req.Header.Set("Origin", "http://app.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
