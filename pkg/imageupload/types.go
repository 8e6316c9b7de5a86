package imageupload

import (
	"io"
	"strconv"
)

// Wire names of the signed upload parameters.
const (
	ParamPublicID  = "public_id"
	ParamEager     = "eager"
	ParamTimestamp = "timestamp"
	ParamSignature = "signature"
	ParamAPIKey    = "api_key"
	ParamFile      = "file"
)

// DefaultTransformSpec is the eager transformation requested when the caller
// does not configure one: a padded 400x300 variant and a cropped 260x200 one.
const DefaultTransformSpec = "w_400,h_300,c_pad|w_260,h_200,c_crop"

// UploadRequestParams are the parameters covered by a signature. A value is
// created once per upload attempt and must not be changed after signing.
type UploadRequestParams struct {
	ResourceID    string `json:"public_id"`
	TransformSpec string `json:"eager"`
	IssuedAt      int64  `json:"timestamp"`
}

// Values returns the params keyed by their wire names.
func (p UploadRequestParams) Values() map[string]string {
	return map[string]string{
		ParamPublicID:  p.ResourceID,
		ParamEager:     p.TransformSpec,
		ParamTimestamp: strconv.FormatInt(p.IssuedAt, 10),
	}
}

// Signature is a lowercase hexadecimal digest proving that a set of
// UploadRequestParams was authorized by the secret holder.
type Signature string

// EagerVariant describes one derived image generated at upload time.
type EagerVariant struct {
	Transformation string `json:"transformation"`
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
	Bytes          int64  `json:"bytes,omitempty"`
	URL            string `json:"url,omitempty"`
	SecureURL      string `json:"secure_url"`
}

// UploadResult is produced by the hosting service for a successful upload.
// Only PublicID and SecureURL are guaranteed to be present.
type UploadResult struct {
	PublicID  string         `json:"public_id"`
	SecureURL string         `json:"secure_url"`
	URL       string         `json:"url,omitempty"`
	AssetID   string         `json:"asset_id,omitempty"`
	Version   int64          `json:"version,omitempty"`
	Format    string         `json:"format,omitempty"`
	Width     int            `json:"width,omitempty"`
	Height    int            `json:"height,omitempty"`
	Bytes     int64          `json:"bytes,omitempty"`
	Eager     []EagerVariant `json:"eager,omitempty"`
}

// File is a user-selected file. Open may be called more than once; every call
// must return a reader positioned at the start of the content.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// State is a state of the upload orchestrator.
type State string

// Orchestrator states.
const (
	StateIdle              State = "idle"
	StateAwaitingSignature State = "awaiting_signature"
	StateTransferring      State = "transferring"
	StateSucceeded         State = "succeeded"
	StateFailed            State = "failed"
)

// Busy reports whether an attempt is in flight.
func (s State) Busy() bool {
	return s == StateAwaitingSignature || s == StateTransferring
}

// Percent computes TransferProgress for sent of total bytes, rounded to the
// nearest integer and clamped to [0,100].
func Percent(sent, total int64) int {
	if total <= 0 {
		return 0
	}
	if sent >= total {
		return 100
	}
	if sent <= 0 {
		return 0
	}
	return int((sent*100 + total/2) / total)
}
