package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SchedulerTicks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "campaigns_scheduler_ticks_total",
		Help: "Total scheduler ticks",
	})
	SchedulerTickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "campaigns_scheduler_tick_duration_seconds",
		Help:    "Scheduler tick duration seconds",
		Buckets: prometheus.DefBuckets,
	})
	ReplyAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "campaigns_reply_attempts_total",
		Help: "Reply processing outcomes by result",
	}, []string{"result"})
	RateLimitDenials = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "campaigns_rate_limit_denials_total",
		Help: "Reply attempts denied by the rate limiter, by gate",
	}, []string{"gate"})
	AnalysisRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "campaigns_analysis_runs_total",
		Help: "Analysis pipeline runs by result",
	}, []string{"result"})
	AnalysisDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "campaigns_analysis_duration_seconds",
		Help:    "Analysis pipeline duration seconds",
		Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 2400},
	})
	UpstreamRateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "campaigns_upstream_rate_limited_total",
		Help: "Platform API responses with status 429, by endpoint",
	}, []string{"endpoint"})
	LinkClicks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "campaigns_link_clicks_total",
		Help: "Tracked link clicks",
	})
)

func init() {
	prometheus.MustRegister(SchedulerTicks, SchedulerTickDuration, ReplyAttempts, RateLimitDenials,
		AnalysisRuns, AnalysisDuration, UpstreamRateLimited, LinkClicks)
}

// Handler serves the registered metrics
func Handler() http.Handler { return promhttp.Handler() }

// ObserveSince records a duration on h
func ObserveSince(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

func IncReplyAttempt(result string) { ReplyAttempts.WithLabelValues(result).Inc() }

func IncRateLimitDenial(gate string) { RateLimitDenials.WithLabelValues(gate).Inc() }

func IncAnalysisRun(result string) { AnalysisRuns.WithLabelValues(result).Inc() }

func IncUpstreamRateLimited(endpoint string) { UpstreamRateLimited.WithLabelValues(endpoint).Inc() }
