package uploader

import (
	"context"

	"github.com/tendant/simple-imageupload/pkg/imageupload"
	"github.com/tendant/simple-imageupload/pkg/imageupload/signer"
)

// SignatureSource obtains a signature for the params that will accompany an
// upload, typically from the signature endpoint.
type SignatureSource interface {
	RequestSignature(ctx context.Context, params imageupload.UploadRequestParams) (imageupload.Signature, error)
}

// Payload is everything sent to the hosting service for one attempt.
type Payload struct {
	File        imageupload.File
	ContentType string
	Params      imageupload.UploadRequestParams
	Signature   imageupload.Signature
}

// ProgressFunc receives TransferProgress as a percentage. It is safe to call
// from any goroutine, including after Transfer has returned; such late calls
// are ignored.
type ProgressFunc func(percent int)

// Transport sends a payload to the hosting service. It must call progress
// for every progress event the underlying transport exposes. Progress may be
// reported from a goroutine other than the caller's, e.g. the one writing the
// request body.
type Transport interface {
	Transfer(ctx context.Context, payload Payload, progress ProgressFunc) (*imageupload.UploadResult, error)
}

// Listener receives the orchestrator's notifications. It stands in for the
// presentation layer (progress card, toasts, result link). State, success and
// error callbacks run on the goroutine that called SelectFile. OnProgress runs
// on whichever goroutine the Transport reports progress from. Callbacks must
// not block.
type Listener interface {
	OnStateChange(from, to imageupload.State)
	OnProgress(percent int)
	OnSuccess(result imageupload.UploadResult)
	OnError(err error)
}

// ListenerFuncs adapts optional functions to a Listener.
type ListenerFuncs struct {
	StateChange func(from, to imageupload.State)
	Progress    func(percent int)
	Success     func(result imageupload.UploadResult)
	Error       func(err error)
}

func (l ListenerFuncs) OnStateChange(from, to imageupload.State) {
	if l.StateChange != nil {
		l.StateChange(from, to)
	}
}

func (l ListenerFuncs) OnProgress(percent int) {
	if l.Progress != nil {
		l.Progress(percent)
	}
}

func (l ListenerFuncs) OnSuccess(result imageupload.UploadResult) {
	if l.Success != nil {
		l.Success(result)
	}
}

func (l ListenerFuncs) OnError(err error) {
	if l.Error != nil {
		l.Error(err)
	}
}

// LocalSignatures signs in-process. It is used where the secret is available,
// such as the server-side proxy upload.
func LocalSignatures(s *signer.Signer) SignatureSource {
	return localSignatures{signer: s}
}

type localSignatures struct {
	signer *signer.Signer
}

func (l localSignatures) RequestSignature(_ context.Context, params imageupload.UploadRequestParams) (imageupload.Signature, error) {
	return l.signer.Sign(params)
}
