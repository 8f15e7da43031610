// Package instrumented decorates an objectstore.Store with Prometheus metrics.
package instrumented

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Adoubf/cloud-mail/internal/objectstore"
)

const (
	resultOK       = "ok"
	resultNotFound = "not_found"
	resultError    = "error"
)

type Metrics struct {
	Operations    *prometheus.CounterVec
	Duration      *prometheus.HistogramVec
	UploadedBytes prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloudmail_objectstore_operations_total",
				Help: "Object store operations by backend, operation and result",
			},
			[]string{"backend", "op", "result"},
		),
		Duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cloudmail_objectstore_operation_duration_seconds",
				Help:    "Object store operation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend", "op"},
		),
		UploadedBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cloudmail_objectstore_uploaded_bytes_total",
				Help: "Bytes successfully written to the object store",
			},
		),
	}
}

type store struct {
	inner   objectstore.Store
	metrics *Metrics
	backend string
}

func Wrap(inner objectstore.Store, metrics *Metrics) objectstore.Store {
	return &store{inner: inner, metrics: metrics, backend: string(inner.Kind())}
}

func (s *store) observe(op objectstore.Op, begin time.Time, result string) {
	s.metrics.Operations.WithLabelValues(s.backend, string(op), result).Inc()
	s.metrics.Duration.WithLabelValues(s.backend, string(op)).Observe(time.Since(begin).Seconds())
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return resultOK
	case errors.Is(err, objectstore.ErrNotFound):
		return resultNotFound
	default:
		return resultError
	}
}

func (s *store) Kind() objectstore.Kind {
	return s.inner.Kind()
}

func (s *store) Put(ctx context.Context, key string, body []byte, opts objectstore.PutOptions) (objectstore.PutResult, error) {
	begin := time.Now()
	res, err := s.inner.Put(ctx, key, body, opts)
	s.observe(objectstore.OpPut, begin, resultOf(err))
	if err == nil {
		s.metrics.UploadedBytes.Add(float64(res.Size))
	}
	return res, err
}

func (s *store) Get(ctx context.Context, key string) (*objectstore.Object, error) {
	begin := time.Now()
	obj, err := s.inner.Get(ctx, key)
	s.observe(objectstore.OpGet, begin, resultOf(err))
	return obj, err
}

func (s *store) Head(ctx context.Context, key string) (*objectstore.ObjectInfo, error) {
	begin := time.Now()
	info, err := s.inner.Head(ctx, key)
	result := resultOf(err)
	if err == nil && info == nil {
		result = resultNotFound
	}
	s.observe(objectstore.OpHead, begin, result)
	return info, err
}

func (s *store) Delete(ctx context.Context, key string) error {
	begin := time.Now()
	err := s.inner.Delete(ctx, key)
	s.observe(objectstore.OpDelete, begin, resultOf(err))
	return err
}

func (s *store) PublicURL(key string) (string, bool) {
	return s.inner.PublicURL(key)
}

func (s *store) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	begin := time.Now()
	url, err := s.inner.PresignGet(ctx, key, ttl)
	s.observe(objectstore.OpPresign, begin, resultOf(err))
	return url, err
}
