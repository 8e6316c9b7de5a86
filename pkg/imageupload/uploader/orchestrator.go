// Package uploader implements the upload orchestrator: an explicit state
// machine that validates a selected file, requests a signature for the upload
// parameters and transfers the file directly to the hosting service.
//
// States: idle → awaiting_signature → transferring → succeeded | failed.
// A terminal state returns to idle on the next selection. Every failure is
// terminal for its attempt; nothing is retried.
package uploader

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tendant/simple-imageupload/pkg/imageupload"
	"github.com/tendant/simple-imageupload/pkg/imageupload/metrics"
)

const (
	// DefaultTransferTimeout bounds one transfer when no timeout is configured.
	DefaultTransferTimeout = 2 * time.Minute

	// DefaultSignatureTimeout bounds one signature request.
	DefaultSignatureTimeout = 15 * time.Second
)

const tracerName = "github.com/tendant/simple-imageupload/pkg/imageupload/uploader"

// Snapshot is a consistent view of the orchestrator.
type Snapshot struct {
	State    imageupload.State
	Progress int
	Result   *imageupload.UploadResult
	Err      error
}

// Orchestrator owns the upload state for one view session. It is safe for
// concurrent use; at most one attempt is in flight at a time.
type Orchestrator struct {
	signatures SignatureSource
	transport  Transport

	validator        imageupload.Validator
	policy           imageupload.ResourceIDPolicy
	transformSpec    string
	transferTimeout  time.Duration
	signatureTimeout time.Duration
	listener         Listener
	logger           *slog.Logger
	observer         metrics.Observer
	tracer           trace.Tracer
	now              func() time.Time

	mu       sync.Mutex
	attempt  uint64
	state    imageupload.State
	progress int
	result   *imageupload.UploadResult
	err      error
}

// New creates an Orchestrator in the idle state.
func New(signatures SignatureSource, transport Transport, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		signatures:       signatures,
		transport:        transport,
		validator:        imageupload.DefaultValidator(),
		policy:           imageupload.FilenameResourceID(),
		transformSpec:    imageupload.DefaultTransformSpec,
		transferTimeout:  DefaultTransferTimeout,
		signatureTimeout: DefaultSignatureTimeout,
		listener:         ListenerFuncs{},
		logger:           slog.Default(),
		observer:         metrics.Nop(),
		tracer:           otel.Tracer(tracerName),
		now:              time.Now,
		state:            imageupload.StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Snapshot returns the current state, progress, result and last error.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := Snapshot{State: o.state, Progress: o.progress, Err: o.err}
	if o.result != nil {
		r := *o.result
		s.Result = &r
	}
	return s
}

// State returns the current state.
func (o *Orchestrator) State() imageupload.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Reset returns a finished orchestrator to idle, clearing result and error.
// It has no effect while an attempt is in flight.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	if o.state.Busy() || o.state == imageupload.StateIdle {
		o.mu.Unlock()
		return
	}
	from := o.state
	o.state, o.progress, o.result, o.err = imageupload.StateIdle, 0, nil, nil
	o.mu.Unlock()
	o.listener.OnStateChange(from, imageupload.StateIdle)
}

// SelectFile runs one upload attempt for f and blocks until it finishes.
//
// A file of the wrong type or size is rejected with an ErrValidation error
// before any state change or network call. A selection made while another
// attempt is in flight is ignored and returns ErrUploadInProgress.
func (o *Orchestrator) SelectFile(ctx context.Context, f imageupload.File) (*imageupload.UploadResult, error) {
	if o.State().Busy() {
		return nil, imageupload.ErrUploadInProgress
	}

	contentType, err := o.validator.Validate(f)
	if err != nil {
		o.logger.Warn("file rejected", "file", f.Name, "size", f.Size, "error", err)
		o.observer.RecordRejected(err)
		o.listener.OnError(err)
		return nil, err
	}

	attempt, ok := o.begin()
	if !ok {
		return nil, imageupload.ErrUploadInProgress
	}

	ctx, span := o.tracer.Start(ctx, "uploader.SelectFile", trace.WithAttributes(
		attribute.String("file.name", f.Name),
		attribute.Int64("file.size", f.Size),
		attribute.String("file.content_type", contentType),
	))
	defer span.End()

	issuedAt := o.now()
	params := imageupload.UploadRequestParams{
		ResourceID:    o.policy.ResourceID(f, issuedAt),
		TransformSpec: o.transformSpec,
		IssuedAt:      issuedAt.Unix(),
	}
	span.SetAttributes(attribute.String("upload.public_id", params.ResourceID))

	sig, err := o.requestSignature(ctx, params)
	if err != nil {
		o.fail(span, err)
		return nil, err
	}

	o.transition(imageupload.StateTransferring)

	result, err := o.transfer(ctx, attempt, Payload{File: f, ContentType: contentType, Params: params, Signature: sig})
	if err != nil {
		o.fail(span, err)
		return nil, err
	}

	o.succeed(*result)
	o.logger.Info("upload succeeded", "public_id", result.PublicID, "secure_url", result.SecureURL)
	r := *result
	return &r, nil
}

// begin starts a new attempt: a terminal state first returns to idle, then
// the orchestrator moves to awaiting_signature with progress and result cleared.
func (o *Orchestrator) begin() (uint64, bool) {
	o.mu.Lock()
	if o.state.Busy() {
		o.mu.Unlock()
		return 0, false
	}
	o.attempt++
	attempt := o.attempt
	from := o.state
	o.state = imageupload.StateAwaitingSignature
	o.progress, o.result, o.err = 0, nil, nil
	o.mu.Unlock()

	if from != imageupload.StateIdle {
		o.listener.OnStateChange(from, imageupload.StateIdle)
		from = imageupload.StateIdle
	}
	o.listener.OnStateChange(from, imageupload.StateAwaitingSignature)
	return attempt, true
}

func (o *Orchestrator) requestSignature(ctx context.Context, params imageupload.UploadRequestParams) (imageupload.Signature, error) {
	ctx, span := o.tracer.Start(ctx, "uploader.requestSignature")
	defer span.End()

	if o.signatureTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.signatureTimeout)
		defer cancel()
	}

	start := time.Now()
	sig, err := o.signatures.RequestSignature(ctx, params)
	if err == nil && sig == "" {
		err = errors.New("empty signature")
	}
	if err != nil && !isKind(err) {
		err = imageupload.SignatureRequestError("request signature", "", err)
	}
	o.observer.RecordSignature(time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "signature request failed")
		return "", err
	}
	return sig, nil
}

func (o *Orchestrator) transfer(ctx context.Context, attempt uint64, payload Payload) (*imageupload.UploadResult, error) {
	ctx, span := o.tracer.Start(ctx, "uploader.transfer")
	defer span.End()

	if o.transferTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.transferTimeout)
		defer cancel()
	}

	start := time.Now()
	progress := func(percent int) { o.reportProgress(attempt, percent) }
	result, err := o.transport.Transfer(ctx, payload, progress)
	if err == nil && (result == nil || result.SecureURL == "") {
		err = imageupload.TransferError("transfer", "", errors.New("response is missing secure_url"))
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = imageupload.TransferError("transfer", "Upload timed out", err)
		} else if !isKind(err) {
			err = imageupload.TransferError("transfer", "", err)
		}
	}
	o.observer.RecordTransfer(time.Since(start), payload.File.Size, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transfer failed")
		return nil, err
	}
	o.reportProgress(attempt, 100)
	return result, nil
}

// reportProgress records percent if attempt is the one transferring and the
// value advances; regressions, repeats and events from earlier attempts are
// dropped.
func (o *Orchestrator) reportProgress(attempt uint64, percent int) {
	if percent > 100 {
		percent = 100
	}
	o.mu.Lock()
	if o.attempt != attempt || o.state != imageupload.StateTransferring || percent <= o.progress {
		o.mu.Unlock()
		return
	}
	o.progress = percent
	o.mu.Unlock()
	o.listener.OnProgress(percent)
}

func (o *Orchestrator) transition(to imageupload.State) {
	o.mu.Lock()
	from := o.state
	o.state = to
	o.mu.Unlock()
	o.listener.OnStateChange(from, to)
}

func (o *Orchestrator) succeed(result imageupload.UploadResult) {
	o.mu.Lock()
	from := o.state
	o.state = imageupload.StateSucceeded
	o.result = &result
	o.err = nil
	o.mu.Unlock()
	o.listener.OnStateChange(from, imageupload.StateSucceeded)
	o.listener.OnSuccess(result)
}

func (o *Orchestrator) fail(span trace.Span, err error) {
	o.mu.Lock()
	from := o.state
	o.state = imageupload.StateFailed
	o.result = nil
	o.err = err
	o.mu.Unlock()

	span.RecordError(err)
	span.SetStatus(codes.Error, imageupload.UserMessage(err))
	o.logger.Error("upload failed", "from", string(from), "error", err)
	o.listener.OnStateChange(from, imageupload.StateFailed)
	o.listener.OnError(err)
}

func isKind(err error) bool {
	return errors.Is(err, imageupload.ErrSignatureRequest) ||
		errors.Is(err, imageupload.ErrTransfer) ||
		errors.Is(err, imageupload.ErrConfiguration)
}
