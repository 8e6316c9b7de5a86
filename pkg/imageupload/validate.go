package imageupload

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/docker/go-units"
)

// DefaultMaxFileSize is the largest accepted file, in bytes.
const DefaultMaxFileSize int64 = 11_000_000

// AcceptedTypes are the MIME types accepted for upload.
var AcceptedTypes = []string{"image/png", "image/gif", "image/jpeg"}

// Validator checks a selected file before any network call is made.
type Validator struct {
	MaxSize       int64
	AcceptedTypes []string
}

// DefaultValidator returns a Validator with the default size limit and types.
func DefaultValidator() Validator {
	return Validator{MaxSize: DefaultMaxFileSize, AcceptedTypes: AcceptedTypes}
}

// Validate rejects files whose type is not accepted or whose size exceeds
// the limit. It returns the resolved content type on success.
func (v Validator) Validate(f File) (string, error) {
	contentType, err := ResolveContentType(f)
	if err != nil {
		return "", ValidationError("validate", fmt.Sprintf("cannot read file %q", f.Name))
	}
	if !v.accepts(contentType) {
		return "", ValidationError("validate", "File type must be .png,.jpg,.jpeg,.gif")
	}
	if f.Size <= 0 {
		return "", ValidationError("validate", "File is empty")
	}
	limit := v.MaxSize
	if limit <= 0 {
		limit = DefaultMaxFileSize
	}
	if f.Size > limit {
		return "", ValidationError("validate", fmt.Sprintf("File is too large (%s), maximum is %s",
			units.HumanSize(float64(f.Size)), units.HumanSize(float64(limit))))
	}
	return contentType, nil
}

func (v Validator) accepts(contentType string) bool {
	types := v.AcceptedTypes
	if len(types) == 0 {
		types = AcceptedTypes
	}
	for _, t := range types {
		if strings.EqualFold(t, contentType) {
			return true
		}
	}
	return false
}

// ResolveContentType returns the declared content type of f, falling back to
// the file extension and finally to sniffing the first 512 bytes.
func ResolveContentType(f File) (string, error) {
	if ct := normalizeMediaType(f.ContentType); ct != "" {
		return ct, nil
	}
	if ct := normalizeMediaType(mime.TypeByExtension(strings.ToLower(filepath.Ext(f.Name)))); ct != "" {
		return ct, nil
	}
	if f.Open == nil {
		return "application/octet-stream", nil
	}
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	head := make([]byte, 512)
	n, err := io.ReadFull(rc, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	return normalizeMediaType(http.DetectContentType(head[:n])), nil
}

func normalizeMediaType(ct string) string {
	if ct == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(ct))
	}
	return mediaType
}
