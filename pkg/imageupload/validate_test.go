package imageupload_test

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-imageupload/pkg/imageupload"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func memFile(name, contentType string, data []byte) imageupload.File {
	return imageupload.File{
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

func TestValidator_AcceptsImages(t *testing.T) {
	v := imageupload.DefaultValidator()
	for _, ct := range []string{"image/png", "image/gif", "image/jpeg", "image/jpeg; q=0.9"} {
		got, err := v.Validate(memFile("x", ct, []byte("data")))
		require.NoError(t, err, ct)
		assert.Contains(t, imageupload.AcceptedTypes, got)
	}
}

func TestValidator_RejectsOtherTypes(t *testing.T) {
	v := imageupload.DefaultValidator()
	for _, f := range []imageupload.File{
		memFile("notes.txt", "text/plain", []byte("hello")),
		memFile("doc.pdf", "application/pdf", []byte("%PDF-1.4")),
		memFile("anim.webp", "image/webp", []byte("RIFF")),
	} {
		_, err := v.Validate(f)
		require.Error(t, err, f.Name)
		assert.True(t, errors.Is(err, imageupload.ErrValidation))
		assert.Equal(t, "File type must be .png,.jpg,.jpeg,.gif", imageupload.UserMessage(err))
	}
}

func TestValidator_RejectsOversizedFile(t *testing.T) {
	v := imageupload.DefaultValidator()
	f := imageupload.File{Name: "big.png", ContentType: "image/png", Size: 12_000_000}

	_, err := v.Validate(f)

	require.Error(t, err)
	assert.ErrorIs(t, err, imageupload.ErrValidation)
	assert.Contains(t, imageupload.UserMessage(err), "too large")
}

func TestValidator_SizeLimitIsInclusive(t *testing.T) {
	v := imageupload.DefaultValidator()
	f := imageupload.File{Name: "edge.png", ContentType: "image/png", Size: imageupload.DefaultMaxFileSize}

	_, err := v.Validate(f)
	assert.NoError(t, err)
}

func TestValidator_RejectsEmptyFile(t *testing.T) {
	_, err := imageupload.DefaultValidator().Validate(memFile("empty.png", "image/png", nil))
	assert.ErrorIs(t, err, imageupload.ErrValidation)
}

func TestResolveContentType(t *testing.T) {
	t.Run("declared", func(t *testing.T) {
		ct, err := imageupload.ResolveContentType(memFile("a.bin", "IMAGE/PNG", nil))
		require.NoError(t, err)
		assert.Equal(t, "image/png", ct)
	})
	t.Run("extension", func(t *testing.T) {
		ct, err := imageupload.ResolveContentType(memFile("photo.JPG", "", nil))
		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", ct)
	})
	t.Run("sniffed", func(t *testing.T) {
		ct, err := imageupload.ResolveContentType(memFile("noext", "", pngHeader))
		require.NoError(t, err)
		assert.Equal(t, "image/png", ct)
	})
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 0, imageupload.Percent(0, 100))
	assert.Equal(t, 25, imageupload.Percent(25, 100))
	assert.Equal(t, 33, imageupload.Percent(1, 3))
	assert.Equal(t, 67, imageupload.Percent(2, 3))
	assert.Equal(t, 50, imageupload.Percent(1, 2))
	assert.Equal(t, 100, imageupload.Percent(120, 100))
	assert.Equal(t, 0, imageupload.Percent(10, 0))
}

func TestResourceIDPolicies(t *testing.T) {
	at := time.Unix(1700000000, 0)

	fixed := imageupload.FixedResourceID("")
	assert.Equal(t, "sample_image", fixed.ResourceID(memFile("a.png", "", nil), at))
	assert.Equal(t, "sample_image", fixed.ResourceID(memFile("b.png", "", nil), at))

	byName := imageupload.FilenameResourceID()
	assert.Equal(t, "holiday_photo_1700000000", byName.ResourceID(memFile("/tmp/holiday photo.png", "", nil), at))
	assert.Equal(t, "image_1700000000", byName.ResourceID(memFile("???.gif", "", nil), at))
	assert.NotEqual(t,
		byName.ResourceID(memFile("a.png", "", nil), at),
		byName.ResourceID(memFile("a.png", "", nil), at.Add(time.Second)))
}

func TestParseResourceIDPolicy(t *testing.T) {
	at := time.Unix(1, 0)
	p, ok := imageupload.ParseResourceIDPolicy("fixed:avatar")
	require.True(t, ok)
	assert.Equal(t, "avatar", p.ResourceID(imageupload.File{Name: "x.png"}, at))

	p, ok = imageupload.ParseResourceIDPolicy("")
	require.True(t, ok)
	assert.Equal(t, "x_1", p.ResourceID(imageupload.File{Name: "x.png"}, at))

	_, ok = imageupload.ParseResourceIDPolicy("random")
	assert.False(t, ok)
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "", imageupload.UserMessage(nil))
	assert.Equal(t, "Failed to generate signature",
		imageupload.UserMessage(imageupload.SignatureRequestError("sign", "", errors.New("dial tcp: refused"))))
	assert.Equal(t, "Invalid Signature",
		imageupload.UserMessage(imageupload.TransferError("upload", "Invalid Signature", nil)))
	assert.Equal(t, "Upload failed",
		imageupload.UserMessage(imageupload.TransferError("upload", "", errors.New("eof"))))

	err := imageupload.TransferError("upload", "", errors.New("eof"))
	assert.ErrorIs(t, err, imageupload.ErrTransfer)
	assert.NotErrorIs(t, err, imageupload.ErrSignatureRequest)
	assert.ErrorIs(t, imageupload.ErrMissingSecret, imageupload.ErrConfiguration)
}
