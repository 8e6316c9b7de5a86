package hostclient_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-imageupload/pkg/imageupload"
	"github.com/tendant/simple-imageupload/pkg/imageupload/hostclient"
	"github.com/tendant/simple-imageupload/pkg/imageupload/uploader"
)

func payload(data []byte) uploader.Payload {
	return uploader.Payload{
		File: imageupload.File{
			Name:        "dir/cat.png",
			ContentType: "image/png",
			Size:        int64(len(data)),
			Open: func() (io.ReadCloser, error) {
				return io.NopCloser(bytes.NewReader(data)), nil
			},
		},
		ContentType: "image/png",
		Params: imageupload.UploadRequestParams{
			ResourceID:    "sample_image",
			TransformSpec: imageupload.DefaultTransformSpec,
			IssuedAt:      1700000000,
		},
		Signature: "deadbeef",
	}
}

func TestNew_RequiresCloudName(t *testing.T) {
	_, err := hostclient.New("", "key")
	assert.ErrorIs(t, err, imageupload.ErrConfiguration)
}

func TestUploadURL(t *testing.T) {
	c, err := hostclient.New("demo", "key")
	require.NoError(t, err)
	assert.Equal(t, "https://api.cloudinary.com/v1_1/demo/image/upload", c.UploadURL())

	c, err = hostclient.New("demo", "key", hostclient.WithBaseURL("http://localhost:9000/"))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000/v1_1/demo/image/upload", c.UploadURL())
}

func TestTransfer(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789abcdef"), 64<<10)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1_1/demo/image/upload", r.URL.Path)
		if !assert.NoError(t, r.ParseMultipartForm(32<<20)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(t, "1700000000", r.FormValue("timestamp"))
		assert.Equal(t, "key", r.FormValue("api_key"))
		assert.Equal(t, "deadbeef", r.FormValue("signature"))
		assert.Equal(t, "sample_image", r.FormValue("public_id"))
		assert.Equal(t, imageupload.DefaultTransformSpec, r.FormValue("eager"))

		f, hdr, err := r.FormFile("file")
		if assert.NoError(t, err) {
			defer f.Close()
			assert.Equal(t, "cat.png", hdr.Filename)
			assert.Equal(t, "image/png", hdr.Header.Get("Content-Type"))
			got, _ := io.ReadAll(f)
			assert.Equal(t, len(data), len(got))
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"public_id": "sample_image",
			"version": 1700000001,
			"format": "png",
			"width": 800,
			"height": 600,
			"secure_url": "https://res.example.com/demo/image/upload/v1700000001/sample_image.png",
			"eager": [{"transformation": "c_pad,h_300,w_400", "width": 400, "height": 300, "secure_url": "https://res.example.com/e1.png"}]
		}`))
	}))
	defer srv.Close()

	c, err := hostclient.New("demo", "key", hostclient.WithBaseURL(srv.URL))
	require.NoError(t, err)

	var mu sync.Mutex
	var events []int
	result, err := c.Transfer(context.Background(), payload(data), func(p int) {
		mu.Lock()
		events = append(events, p)
		mu.Unlock()
	})

	require.NoError(t, err)
	assert.Equal(t, "sample_image", result.PublicID)
	assert.Equal(t, "https://res.example.com/demo/image/upload/v1700000001/sample_image.png", result.SecureURL)
	assert.Equal(t, int64(1700000001), result.Version)
	require.Len(t, result.Eager, 1)
	assert.Equal(t, 400, result.Eager[0].Width)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, events)
	assert.Equal(t, 100, events[len(events)-1])
	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqual(t, events[i], events[i-1])
	}
}

func TestTransfer_ErrorMessages(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"hosting error", http.StatusBadRequest, `{"error":{"message":"Invalid Signature deadbeef"}}`, "Invalid Signature deadbeef"},
		{"flat message", http.StatusUnauthorized, `{"message":"Unknown API key"}`, "Unknown API key"},
		{"no message", http.StatusInternalServerError, `oops`, "Upload failed"},
		{"missing secure_url", http.StatusOK, `{"public_id":"x"}`, "Upload failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.Copy(io.Discard, r.Body)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c, err := hostclient.New("demo", "key", hostclient.WithBaseURL(srv.URL))
			require.NoError(t, err)

			_, err = c.Transfer(context.Background(), payload([]byte("png")), nil)

			assert.ErrorIs(t, err, imageupload.ErrTransfer)
			assert.Equal(t, tt.message, imageupload.UserMessage(err))
		})
	}
}

func TestTransfer_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := hostclient.New("demo", "key", hostclient.WithBaseURL(base))
	require.NoError(t, err)

	_, err = c.Transfer(context.Background(), payload([]byte("png")), nil)
	assert.ErrorIs(t, err, imageupload.ErrTransfer)
}

func TestTransfer_UnreadableFile(t *testing.T) {
	c, err := hostclient.New("demo", "key")
	require.NoError(t, err)

	p := payload(nil)
	p.File.Open = func() (io.ReadCloser, error) { return nil, io.ErrUnexpectedEOF }

	_, err = c.Transfer(context.Background(), p, nil)
	assert.ErrorIs(t, err, imageupload.ErrTransfer)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
