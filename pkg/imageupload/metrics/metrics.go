// Package metrics exports signature and transfer telemetry to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tendant/simple-imageupload/pkg/imageupload"
)

// Observer captures telemetry for signing and uploading.
type Observer interface {
	RecordSignature(duration time.Duration, err error)
	RecordTransfer(duration time.Duration, sizeBytes int64, err error)
	RecordRejected(err error)
}

// Nop returns an Observer that discards everything.
func Nop() Observer {
	return nopObserver{}
}

// PrometheusObserver exports upload metrics to Prometheus.
type PrometheusObserver struct {
	duration      *prometheus.HistogramVec
	errors        *prometheus.CounterVec
	rejected      prometheus.Counter
	uploadedBytes prometheus.Counter
}

// NewPrometheusObserver registers signature/transfer metrics on reg.
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = "imageupload"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	o := &PrometheusObserver{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of signature and transfer operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_errors_total",
			Help:      "Count of failed signature and transfer operations by error kind.",
		}, []string{"operation", "kind"}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_files_total",
			Help:      "Files rejected by client-side validation.",
		}),
		uploadedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Cumulative size of successfully transferred files.",
		}),
	}
	collectors := []prometheus.Collector{o.duration, o.errors, o.rejected, o.uploadedBytes}
	for i, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				collectors[i] = are.ExistingCollector
				continue
			}
			return nil, fmt.Errorf("register upload metric: %w", err)
		}
	}
	// Reuse collectors registered by an earlier observer in the same registry.
	o.duration = collectors[0].(*prometheus.HistogramVec)
	o.errors = collectors[1].(*prometheus.CounterVec)
	o.rejected = collectors[2].(prometheus.Counter)
	o.uploadedBytes = collectors[3].(prometheus.Counter)
	return o, nil
}

// RecordSignature tracks a signature computation or request.
func (o *PrometheusObserver) RecordSignature(duration time.Duration, err error) {
	if o == nil {
		return
	}
	o.duration.WithLabelValues("signature").Observe(duration.Seconds())
	if err != nil {
		o.errors.WithLabelValues("signature", Kind(err)).Inc()
	}
}

// RecordTransfer tracks transfer duration, size and failures.
func (o *PrometheusObserver) RecordTransfer(duration time.Duration, sizeBytes int64, err error) {
	if o == nil {
		return
	}
	o.duration.WithLabelValues("transfer").Observe(duration.Seconds())
	if err != nil {
		o.errors.WithLabelValues("transfer", Kind(err)).Inc()
		return
	}
	o.uploadedBytes.Add(float64(sizeBytes))
}

// RecordRejected counts a file rejected before any network call.
func (o *PrometheusObserver) RecordRejected(error) {
	if o == nil {
		return
	}
	o.rejected.Inc()
}

// Kind maps err to a low-cardinality label value.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, imageupload.ErrValidation):
		return "validation"
	case errors.Is(err, imageupload.ErrConfiguration):
		return "configuration"
	case errors.Is(err, imageupload.ErrSignatureRequest):
		return "signature_request"
	case errors.Is(err, imageupload.ErrTransfer):
		return "transfer"
	}
	return "other"
}

type nopObserver struct{}

func (nopObserver) RecordSignature(time.Duration, error) {}

func (nopObserver) RecordTransfer(time.Duration, int64, error) {}

func (nopObserver) RecordRejected(error) {}
