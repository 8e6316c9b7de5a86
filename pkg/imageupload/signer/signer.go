package signer

import (
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tendant/simple-imageupload/pkg/imageupload"
)

// Verification errors
var (
	// ErrMissingSignature is returned when no signature accompanies the params
	ErrMissingSignature = errors.New("signer: missing signature")

	// ErrInvalidSignature is returned when the signature does not match the params
	ErrInvalidSignature = errors.New("signer: invalid signature")

	// ErrInvalidTimestamp is returned when the timestamp cannot be parsed
	ErrInvalidTimestamp = errors.New("signer: invalid timestamp")

	// ErrStaleTimestamp is returned when the timestamp is older than the allowed age
	ErrStaleTimestamp = errors.New("signer: stale request")
)

// excluded lists parameters that never take part in the signature
var excluded = map[string]struct{}{
	imageupload.ParamFile:      {},
	imageupload.ParamAPIKey:    {},
	imageupload.ParamSignature: {},
	"resource_type":            {},
	"cloud_name":               {},
}

// Signer computes and verifies upload signatures. It is safe for concurrent
// use and performs no I/O.
type Signer struct {
	secret  []byte
	newHash func() hash.Hash
	maxAge  time.Duration
	now     func() time.Time
}

// New creates a new Signer with the given options
func New(opts ...Option) *Signer {
	s := &Signer{
		newHash: func() hash.Hash { return sha1.New() },
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsEnabled returns true if a secret is configured
func (s *Signer) IsEnabled() bool {
	return len(s.secret) > 0
}

// Sign returns the signature for params.
//
// Example:
//
//	sig, err := signer.New(signer.WithSecret("s3cr3t")).Sign(imageupload.UploadRequestParams{
//	    ResourceID: "sample_image", TransformSpec: "w_400,h_300,c_pad", IssuedAt: 1700000000,
//	})
//	// sha1("eager=w_400,h_300,c_pad&public_id=sample_image&timestamp=1700000000s3cr3t")
func (s *Signer) Sign(params imageupload.UploadRequestParams) (imageupload.Signature, error) {
	return s.SignValues(params.Values())
}

// SignValues signs an arbitrary parameter set. Empty values and parameters
// that are never signed (file, api_key, signature, ...) are ignored.
func (s *Signer) SignValues(values map[string]string) (imageupload.Signature, error) {
	if !s.IsEnabled() {
		return "", imageupload.ErrMissingSecret
	}
	h := s.newHash()
	h.Write([]byte(Canonical(values)))
	h.Write(s.secret)
	return imageupload.Signature(hex.EncodeToString(h.Sum(nil))), nil
}

// Verify recomputes the signature for values and compares it with sig in
// constant time. When a max age is configured the timestamp must be recent.
func (s *Signer) Verify(values map[string]string, sig string) error {
	if sig == "" {
		return ErrMissingSignature
	}
	if s.maxAge > 0 {
		ts, err := strconv.ParseInt(values[imageupload.ParamTimestamp], 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTimestamp, err)
		}
		if s.now().Sub(time.Unix(ts, 0)) > s.maxAge {
			return ErrStaleTimestamp
		}
	}
	expected, err := s.SignValues(values)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(strings.ToLower(sig)), []byte(expected)) != 1 {
		return ErrInvalidSignature
	}
	return nil
}

// Canonical builds the string that is signed: key=value pairs sorted by key
// and joined with '&'. Values are used verbatim, without URL escaping.
// Parameters with an empty value are left out, so an empty eager spec signs
// as "public_id=..&timestamp=..", the string the hosting service verifies.
func Canonical(values map[string]string) string {
	keys := make([]string, 0, len(values))
	for k, v := range values {
		if v == "" {
			continue
		}
		if _, skip := excluded[k]; skip {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(values[k])
	}
	return b.String()
}
