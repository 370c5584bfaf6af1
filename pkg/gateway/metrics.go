package gateway

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	wharferrors "github.com/wharfdev/wharf/pkg/errors"
	"github.com/wharfdev/wharf/pkg/jobs"
	"github.com/wharfdev/wharf/pkg/shells"
)

var (
	metricActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "wharf",
		Name:      "active_jobs",
		Help:      "Jobs currently running.",
	})
	metricActiveShells = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "wharf",
		Name:      "active_shells",
		Help:      "Shell sessions with a connected client.",
	})
	metricJobStreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "wharf",
		Name:      "job_stream_clients",
		Help:      "Connected job stream WebSocket clients.",
	})
	metricShellClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "wharf",
		Name:      "shell_clients",
		Help:      "Connected shell WebSocket clients.",
	})
	metricAuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wharf",
		Name:      "auth_failures_total",
		Help:      "Rejected requests by error code.",
	}, []string{"code"})
)

func (s *Server) countAuthFailure(err error) {
	metricAuthFailures.WithLabelValues(string(wharferrors.CodeOf(err))).Inc()
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	// Refresh the registry-derived gauges on scrape.
	metricActiveJobs.Set(float64(s.jobs.Count(jobs.StatusRunning)))
	metricActiveShells.Set(float64(s.shells.Count(shells.StatusConnected)))

	if !s.cfg.PublicMetrics {
		principal, err := s.authorize(r)
		if err != nil {
			s.countAuthFailure(err)
			respondError(w, err)
			return
		}
		if _, known := scopeRank[principal.Scope]; !known {
			respondError(w, wharferrors.New(wharferrors.ErrCodeInvalidToken, "unknown token scope"))
			return
		}
	}
	promhttp.Handler().ServeHTTP(w, r)
}
