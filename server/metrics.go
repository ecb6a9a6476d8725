package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-martini/martini"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wimslti_http_requests_total",
			Help: "HTTP requests by method and status.",
		},
		[]string{"method", "status"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wimslti_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	launchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wimslti_launches_total",
			Help: "LTI launches by target kind and response status.",
		},
		[]string{"kind", "status"},
	)

	sweepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wimslti_sweeps_total",
			Help: "Background sweeps by job and result.",
		},
		[]string{"job", "result"},
	)
)

// martini middleware: count requests and their latency
func counter(w http.ResponseWriter, r *http.Request, c martini.Context) {
	start := time.Now()
	c.Next()
	rw := w.(martini.ResponseWriter)
	requestsTotal.WithLabelValues(r.Method, strconv.Itoa(rw.Status())).Inc()
	requestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
}
