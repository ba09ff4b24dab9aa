// Package metrics provides prometheus collectors for the ingest client.
package metrics

import (
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

const namespace = "kvs_ingest"

// Metrics holds the collectors of one client process. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	bytesStreamed   *prometheus.CounterVec
	chunksStreamed  *prometheus.CounterVec
	acks            *prometheus.CounterVec
	putMedia        *prometheus.CounterVec
	putMediaSeconds *prometheus.HistogramVec
	fragmentQueries *prometheus.CounterVec
	fragmentsListed *prometheus.CounterVec
}

// New creates the collectors and registers them in a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		bytesStreamed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_bytes_streamed_total",
			Help:      "Media bytes written to PutMedia request bodies.",
		}, []string{"stream"}),
		chunksStreamed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_chunks_streamed_total",
			Help:      "Media chunks produced for PutMedia request bodies.",
		}, []string{"stream"}),
		acks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acks_total",
			Help:      "PutMedia acknowledgements received, by event type.",
		}, []string{"stream", "event_type"}),
		putMedia: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "put_media_total",
			Help:      "PutMedia calls, by outcome.",
		}, []string{"stream", "outcome"}),
		putMediaSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "put_media_duration_seconds",
			Help:      "Wall time of PutMedia calls.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 12),
		}, []string{"stream"}),
		fragmentQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragment_queries_total",
			Help:      "ListFragments calls, by outcome.",
		}, []string{"stream", "outcome"}),
		fragmentsListed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_listed_total",
			Help:      "Fragments returned by ListFragments.",
		}, []string{"stream"}),
	}

	m.Registry.MustRegister(
		m.bytesStreamed,
		m.chunksStreamed,
		m.acks,
		m.putMedia,
		m.putMediaSeconds,
		m.fragmentQueries,
		m.fragmentsListed,
	)
	return m
}

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeEmpty   = "empty"
)

// BytesCounter returns the streamed-bytes counter of stream, or nil.
func (m *Metrics) BytesCounter(stream string) prometheus.Counter {
	if m == nil {
		return nil
	}
	return m.bytesStreamed.WithLabelValues(stream)
}

// ChunksCounter returns the streamed-chunks counter of stream, or nil.
func (m *Metrics) ChunksCounter(stream string) prometheus.Counter {
	if m == nil {
		return nil
	}
	return m.chunksStreamed.WithLabelValues(stream)
}

// ObserveAck counts one acknowledgement.
func (m *Metrics) ObserveAck(stream, eventType string) {
	if m == nil {
		return
	}
	m.acks.WithLabelValues(stream, eventType).Inc()
}

// ObservePutMedia records the outcome and duration of a PutMedia call.
func (m *Metrics) ObservePutMedia(stream string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.putMedia.WithLabelValues(stream, outcome(err)).Inc()
	m.putMediaSeconds.WithLabelValues(stream).Observe(d.Seconds())
}

// ObserveFragmentQuery records a ListFragments call and its result size.
func (m *Metrics) ObserveFragmentQuery(stream string, n int, err error) {
	if m == nil {
		return
	}
	o := outcome(err)
	if err == nil && n == 0 {
		o = OutcomeEmpty
	}
	m.fragmentQueries.WithLabelValues(stream, o).Inc()
	m.fragmentsListed.WithLabelValues(stream).Add(float64(n))
}

// Dump writes every collected metric family in the text exposition format.
func (m *Metrics) Dump(w io.Writer) error {
	if m == nil {
		return nil
	}
	families, err := m.Registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeSuccess
}
