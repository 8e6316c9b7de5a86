package sigclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-imageupload/pkg/imageupload"
	"github.com/tendant/simple-imageupload/pkg/imageupload/sigclient"
)

var params = imageupload.UploadRequestParams{
	ResourceID:    "sample_image",
	TransformSpec: imageupload.DefaultTransformSpec,
	IssuedAt:      1700000000,
}

func TestRequestSignature(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, sigclient.DefaultPath, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"signature":"0a1b2c"}`))
	}))
	defer srv.Close()

	sig, err := sigclient.New(srv.URL+"/").RequestSignature(context.Background(), params)

	require.NoError(t, err)
	assert.Equal(t, imageupload.Signature("0a1b2c"), sig)
	assert.Equal(t, map[string]any{
		"public_id": "sample_image",
		"eager":     imageupload.DefaultTransformSpec,
		"timestamp": float64(1700000000),
	}, got)
}

func TestRequestSignature_ServerMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"API Secret is missing"}`))
	}))
	defer srv.Close()

	_, err := sigclient.New(srv.URL).RequestSignature(context.Background(), params)

	require.Error(t, err)
	assert.ErrorIs(t, err, imageupload.ErrSignatureRequest)
	assert.Equal(t, "API Secret is missing", imageupload.UserMessage(err))
}

func TestRequestSignature_GenericFailure(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"non json error", http.StatusBadGateway, "<html>bad gateway</html>"},
		{"empty signature", http.StatusOK, `{"signature":""}`},
		{"malformed body", http.StatusOK, `{"signature":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := sigclient.New(srv.URL).RequestSignature(context.Background(), params)

			assert.ErrorIs(t, err, imageupload.ErrSignatureRequest)
			assert.Equal(t, "Failed to generate signature", imageupload.UserMessage(err))
		})
	}
}

func TestRequestSignature_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := sigclient.New(url).RequestSignature(context.Background(), params)

	assert.ErrorIs(t, err, imageupload.ErrSignatureRequest)
}

func TestRequestSignature_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := sigclient.New(srv.URL).RequestSignature(ctx, params)

	assert.ErrorIs(t, err, imageupload.ErrSignatureRequest)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithPath(t *testing.T) {
	c := sigclient.New("http://localhost:3000", sigclient.WithPath("/sign"))
	assert.Equal(t, "http://localhost:3000/sign", c.Endpoint())
}
