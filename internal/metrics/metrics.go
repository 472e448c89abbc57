// Package metrics exports playback counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/book-expert/readaloud/internal/player"
)

const (
	namespace = "readaloud"

	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Metrics counts playback activity for one site. It implements
// player.Observer.
type Metrics struct {
	registry *prometheus.Registry

	pagesRead         prometheus.Counter
	chunksSpoken      prometheus.Counter
	playbackErrors    *prometheus.CounterVec
	playbacksFinished prometheus.Counter
	audioBytes        prometheus.Counter
}

var _ player.Observer = (*Metrics)(nil)

// New registers the counters, labelled with site, on a fresh registry along
// with the Go runtime collectors.
func New(site string) *Metrics {
	labels := prometheus.Labels{"site": site}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pagesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "pages_read_total",
			Help:        "Total number of playback sessions started",
			ConstLabels: labels,
		}),
		chunksSpoken: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "chunks_spoken_total",
			Help:        "Total number of chunks spoken to the end",
			ConstLabels: labels,
		}),
		playbackErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "playback_errors_total",
			Help:        "Total number of playback sessions ended by an engine error",
			ConstLabels: labels,
		}, []string{"reason"}),
		playbacksFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "playbacks_finished_total",
			Help:        "Total number of playback sessions that read every chunk",
			ConstLabels: labels,
		}),
		audioBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "audio_bytes_total",
			Help:        "Total bytes of synthesized audio",
			ConstLabels: labels,
		}),
	}

	m.registry.MustRegister(
		m.pagesRead,
		m.chunksSpoken,
		m.playbackErrors,
		m.playbacksFinished,
		m.audioBytes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the registry holding the counters.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// PlaybackStarted counts a new session.
func (m *Metrics) PlaybackStarted(int) {
	m.pagesRead.Inc()
}

// ChunkSpoken counts a finished chunk.
func (m *Metrics) ChunkSpoken() {
	m.chunksSpoken.Inc()
}

// PlaybackFinished counts a session read to the end.
func (m *Metrics) PlaybackFinished() {
	m.playbacksFinished.Inc()
}

// PlaybackFailed counts a session ended by the engine error reason.
func (m *Metrics) PlaybackFailed(reason string) {
	m.playbackErrors.WithLabelValues(reason).Inc()
}

// AudioRendered adds size bytes of synthesized audio.
func (m *Metrics) AudioRendered(size int) {
	m.audioBytes.Add(float64(size))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Serve exposes /metrics and /health on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errChan := make(chan error, 1)

	go func() {
		errChan <- server.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := server.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("failed to shut down metrics server: %w", err)
	}

	err = <-errChan
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}

	return nil
}
