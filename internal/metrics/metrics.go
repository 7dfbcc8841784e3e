// Package metrics exposes prometheus counters for the sidecar client, the
// block follower and the security orchestrator.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sidecarRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxyguard_sidecar_requests_total",
		Help: "Sidecar HTTP requests by route and status code (0 for transport errors).",
	}, []string{"method", "route", "status"})

	sidecarLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "proxyguard_sidecar_request_duration_seconds",
		Help:    "Sidecar HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	sidecarRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxyguard_sidecar_retries_total",
		Help: "Sidecar requests retried after a transient failure.",
	}, []string{"route"})

	headHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "proxyguard_chain_head_height",
		Help: "Latest block height observed by the follower.",
	})

	blocksScanned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proxyguard_blocks_scanned_total",
		Help: "Blocks scanned for events.",
	})

	txSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxyguard_extrinsics_submitted_total",
		Help: "Signed extrinsics submitted, by call.",
	}, []string{"call"})

	announcementsSeen = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxyguard_announcements_total",
		Help: "Proxy announcements inspected, by verdict.",
	}, []string{"verdict"})

	outcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxyguard_protocol_outcomes_total",
		Help: "Terminal orchestrator states.",
	}, []string{"state"})
)

// SidecarRequest records one HTTP round trip.
func SidecarRequest(method, route string, status int, d time.Duration) {
	sidecarRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	sidecarLatency.WithLabelValues(route).Observe(d.Seconds())
}

// SidecarRetry records a retried request.
func SidecarRetry(route string) {
	sidecarRetries.WithLabelValues(route).Inc()
}

// Head records the latest observed block height.
func Head(height uint64) {
	headHeight.Set(float64(height))
}

// BlockScanned records one scanned block.
func BlockScanned() {
	blocksScanned.Inc()
}

// Submitted records a submitted extrinsic.
func Submitted(call string) {
	txSubmitted.WithLabelValues(call).Inc()
}

// Announcement records the safety verdict for an inspected announcement.
func Announcement(safe bool) {
	verdict := "unsafe"
	if safe {
		verdict = "safe"
	}
	announcementsSeen.WithLabelValues(verdict).Inc()
}

// Outcome records a terminal orchestrator state.
func Outcome(state string) {
	outcomes.WithLabelValues(state).Inc()
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
