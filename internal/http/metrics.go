package httpx

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AbhishekMashetty/axon/internal/domain"
	"github.com/AbhishekMashetty/axon/internal/manifest"
	"github.com/AbhishekMashetty/axon/internal/service/rollout"
)

var (
	latencyBuckets   = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}
	manifestBuckets  = []float64{1, 2, 5, 10, 20, 50, 100}
	metricsNamespace = "axon"
	metricsSubsystem = "api"
)

var (
	errQuotaSpent  = errors.New("quota spent")
	errInvalidMode = errors.New("invalid processing mode")
)

type apiMetrics struct {
	requests        *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	submissions     *prometheus.CounterVec
	manifestSize    *prometheus.HistogramVec
	rollbacks       *prometheus.CounterVec
	cancelFailures  prometheus.Counter
	quotaRejections *prometheus.CounterVec
}

func (r *Router) initMetrics() {
	r.metricsOnce.Do(func() {
		opts := func(name, help string) prometheus.CounterOpts {
			return prometheus.CounterOpts{Namespace: metricsNamespace, Subsystem: metricsSubsystem, Name: name, Help: help}
		}
		m := &apiMetrics{}
		m.requests = registerCollector(r, prometheus.NewCounterVec(opts("http_requests_total", "Count of processed HTTP requests"),
			[]string{"method", "route", "status"}))
		m.latency = registerCollector(r, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Subsystem: metricsSubsystem,
			Name: "http_request_duration_seconds", Help: "Latency distribution of HTTP handlers", Buckets: latencyBuckets,
		}, []string{"method", "route", "status"}))
		m.submissions = registerCollector(r, prometheus.NewCounterVec(opts("batch_submissions_total", "Manifest submissions by processing mode and outcome"),
			[]string{"mode", "outcome"}))
		m.manifestSize = registerCollector(r, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Subsystem: metricsSubsystem,
			Name: "batch_manifest_deployments", Help: "Deployments per accepted manifest", Buckets: manifestBuckets,
		}, []string{"mode"}))
		m.rollbacks = registerCollector(r, prometheus.NewCounterVec(opts("batch_rollbacks_total", "Rollback requests by outcome"),
			[]string{"outcome"}))
		m.cancelFailures = registerCollector(r, prometheus.NewCounter(opts("batch_rollback_cancel_failures_total", "Pipeline cancellations that failed during rollback")))
		m.quotaRejections = registerCollector(r, prometheus.NewCounterVec(opts("quota_rejections_total", "Requests refused because a quota was spent"),
			[]string{"quota", "scope"}))
		r.metrics = m
	})
}

// registerCollector adds c to the router's registry, reusing a collector a previous router already registered.
func registerCollector[C prometheus.Collector](r *Router, c C) C {
	if err := r.registerer.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		r.logger.Warn("metric registration failed", "error", err)
	}
	return c
}

func (r *Router) recordRequestMetrics(method, route string, status int, duration time.Duration) {
	if r.metrics == nil {
		return
	}
	labels := prometheus.Labels{"method": method, "route": route, "status": strconv.Itoa(status)}
	r.metrics.requests.With(labels).Inc()
	r.metrics.latency.With(labels).Observe(duration.Seconds())
}

// recordSubmission counts a submission; deployments is observed only for accepted manifests.
func (r *Router) recordSubmission(mode domain.ProcessingMode, err error, deployments int) {
	if r.metrics == nil {
		return
	}
	label := string(mode)
	if label == "" {
		label = "unknown"
	}
	outcome := submissionOutcome(err)
	r.metrics.submissions.WithLabelValues(label, outcome).Inc()
	if outcome == "accepted" {
		r.metrics.manifestSize.WithLabelValues(label).Observe(float64(deployments))
	}
}

func submissionOutcome(err error) string {
	var verr *manifest.ValidationError
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, errQuotaSpent):
		return "throttled"
	case errors.As(err, &verr), errors.Is(err, rollout.ErrEmptyBatch), errors.Is(err, errInvalidMode):
		return "invalid"
	default:
		return "failed"
	}
}

func (r *Router) recordRollback(result rollout.RollbackResult, err error) {
	if r.metrics == nil {
		return
	}
	r.metrics.rollbacks.WithLabelValues(rollbackOutcome(err)).Inc()
	if result.CancelFailures > 0 {
		r.metrics.cancelFailures.Add(float64(result.CancelFailures))
	}
}

func rollbackOutcome(err error) string {
	switch {
	case err == nil:
		return "rolled_back"
	case errors.Is(err, errQuotaSpent):
		return "throttled"
	case errors.Is(err, domain.ErrBatchNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrBatchInProgress):
		return "in_progress"
	case errors.Is(err, domain.ErrNoSuccessfulDeployments):
		return "nothing_to_roll_back"
	default:
		return "failed"
	}
}

func (r *Router) recordQuotaRejection(name, scope string) {
	if r.metrics == nil {
		return
	}
	r.metrics.quotaRejections.WithLabelValues(name, scope).Inc()
}
