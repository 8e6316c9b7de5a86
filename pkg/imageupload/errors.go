package imageupload

import (
	"errors"
	"fmt"
)

// Error kinds. Every error surfaced by this module matches exactly one of
// them under errors.Is.
var (
	// ErrValidation indicates a rejected file (type or size). No network call was made.
	ErrValidation = errors.New("validation error")

	// ErrConfiguration indicates a server-side fault such as a missing signing secret.
	ErrConfiguration = errors.New("configuration error")

	// ErrSignatureRequest indicates the signature could not be obtained.
	ErrSignatureRequest = errors.New("signature request failed")

	// ErrTransfer indicates the upload to the hosting service failed.
	ErrTransfer = errors.New("transfer failed")
)

var (
	// ErrMissingSecret is returned when signing without a configured secret.
	ErrMissingSecret = fmt.Errorf("%w: API Secret is missing", ErrConfiguration)

	// ErrUploadInProgress is returned when a file is selected while another
	// attempt is still in flight. The selection is ignored.
	ErrUploadInProgress = errors.New("upload already in progress")
)

// Error carries the kind of failure, the operation that failed and, when
// available, the message provided by the remote side.
type Error struct {
	Kind    error
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ValidationError returns an ErrValidation error with a user-facing message.
func ValidationError(op, message string) error {
	return &Error{Kind: ErrValidation, Op: op, Message: message}
}

// SignatureRequestError wraps err as an ErrSignatureRequest.
func SignatureRequestError(op, message string, err error) error {
	return &Error{Kind: ErrSignatureRequest, Op: op, Message: message, Err: err}
}

// TransferError wraps err as an ErrTransfer.
func TransferError(op, message string, err error) error {
	return &Error{Kind: ErrTransfer, Op: op, Message: message, Err: err}
}

// Generic messages shown when the remote side did not provide one.
const (
	msgSignatureFailed = "Failed to generate signature"
	msgTransferFailed  = "Upload failed"
)

// UserMessage renders err as the short, dismissible notification shown to
// the user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	switch {
	case errors.Is(err, ErrUploadInProgress):
		return "An upload is already in progress"
	case errors.Is(err, ErrSignatureRequest):
		return msgSignatureFailed
	case errors.Is(err, ErrTransfer):
		return msgTransferFailed
	case errors.Is(err, ErrConfiguration):
		return "Server is not configured for uploads"
	}
	return err.Error()
}
