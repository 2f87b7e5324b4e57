package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "loghell"

// Store error reasons.
const (
	ReasonDecode  = "decode"
	ReasonBackend = "backend"
	ReasonPublish = "publish"
)

// Metrics groups the process collectors. A nil *Metrics is valid and
// records nothing, which keeps tests free of registry plumbing.
type Metrics struct {
	registry *prometheus.Registry

	connectionsTotal   *prometheus.CounterVec
	entriesStored      prometheus.Counter
	entriesReplicated  prometheus.Counter
	storeErrors        *prometheus.CounterVec
	broadcastDropped   prometheus.Counter
	clusterPeersLinked prometheus.Gauge
}

// New registers every collector on reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Accepted connections by classified kind.",
		}, []string{"kind"}),
		entriesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_stored_total",
			Help:      "Entries ingested on this node.",
		}),
		entriesReplicated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_replicated_total",
			Help:      "Entries received from cluster peers.",
		}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Failed store operations by reason.",
		}, []string{"reason"}),
		broadcastDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_dropped_total",
			Help:      "Messages dropped because a cluster link fell behind.",
		}),
		clusterPeersLinked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cluster_peers_linked",
			Help:      "Outbound cluster peers currently connected.",
		}),
	}
	reg.MustRegister(
		m.connectionsTotal,
		m.entriesStored,
		m.entriesReplicated,
		m.storeErrors,
		m.broadcastDropped,
		m.clusterPeersLinked,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes Handler on /metrics at ln until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	})
	defer stop()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ObserveConnections exports the server's open connection counter as a gauge.
func (m *Metrics) ObserveConnections(open *atomic.Int64) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections_open",
		Help:      "Currently open client and cluster connections.",
	}, func() float64 { return float64(open.Load()) }))
}

// ConnectionClassified counts an accepted connection by kind.
func (m *Metrics) ConnectionClassified(kind string) {
	if m == nil {
		return
	}
	m.connectionsTotal.WithLabelValues(kind).Inc()
}

// EntryStored counts an entry ingested on this node.
func (m *Metrics) EntryStored() {
	if m == nil {
		return
	}
	m.entriesStored.Inc()
}

// EntryReplicated counts an entry received from a peer.
func (m *Metrics) EntryReplicated() {
	if m == nil {
		return
	}
	m.entriesReplicated.Inc()
}

// StoreFailed counts a failed store by reason.
func (m *Metrics) StoreFailed(reason string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(reason).Inc()
}

// BroadcastDropped counts a message dropped for a slow subscriber.
func (m *Metrics) BroadcastDropped() {
	if m == nil {
		return
	}
	m.broadcastDropped.Inc()
}

// PeerLinked tracks outbound peer links going up or down.
func (m *Metrics) PeerLinked(up bool) {
	if m == nil {
		return
	}
	if up {
		m.clusterPeersLinked.Inc()
	} else {
		m.clusterPeersLinked.Dec()
	}
}
