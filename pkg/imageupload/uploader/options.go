package uploader

import (
	"log/slog"
	"time"

	"github.com/tendant/simple-imageupload/pkg/imageupload"
	"github.com/tendant/simple-imageupload/pkg/imageupload/metrics"
)

// Option is a functional option for configuring an Orchestrator
type Option func(*Orchestrator)

// WithValidator replaces the default file validator
func WithValidator(v imageupload.Validator) Option {
	return func(o *Orchestrator) {
		o.validator = v
	}
}

// WithResourceIDPolicy sets how the public id is derived for each upload
func WithResourceIDPolicy(p imageupload.ResourceIDPolicy) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.policy = p
		}
	}
}

// WithTransformSpec sets the eager transformations requested with each upload
func WithTransformSpec(spec string) Option {
	return func(o *Orchestrator) {
		o.transformSpec = spec
	}
}

// WithTransferTimeout bounds a single transfer. Expiry is a transfer error.
func WithTransferTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.transferTimeout = d
	}
}

// WithSignatureTimeout bounds a single signature request.
func WithSignatureTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.signatureTimeout = d
	}
}

// WithListener registers the presentation-layer listener
func WithListener(l Listener) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.listener = l
		}
	}
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithObserver records transfer metrics
func WithObserver(obs metrics.Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithClock overrides the time source used for the issue timestamp
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}
