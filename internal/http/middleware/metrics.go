// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file exposes Prometheus instrumentation for HTTP traffic under the
// rag_http_ prefix. Labels are kept bounded:
//
//   - method: HTTP verb
//   - route:  the registered Gin route (e.g. /api/v1/documents/:id), or
//     "unmatched" for 404/405 traffic so scanners cannot mint series
//   - status: numeric status code as a string
//
// Latency buckets stretch to two minutes because answer and upload routes
// wait on the embedding and completion APIs.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "rag"
	metricsSubsystem = "http"
	unmatchedRoute   = "unmatched"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "request_duration_seconds",
			Help:      "Time to complete an HTTP request, streaming included.",
			Buckets:   []float64{.005, .025, .1, .25, .5, 1, 2.5, 5, 10, 20, 40, 80, 120},
		},
		[]string{"method", "route"},
	)

	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "requests_inflight",
			Help:      "HTTP requests currently being served.",
		},
	)

	httpResponseBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "response_size_bytes",
			Help:      "Bytes written per response.",
			Buckets:   prometheus.ExponentialBuckets(128, 4, 9), // 128B..8MiB
		},
		[]string{"method", "route"},
	)

	// Uploads dominate request sizes; buckets run past the default upload cap.
	httpRequestBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "request_size_bytes",
			Help:      "Declared request body size.",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 10), // 256B..64MiB
		},
		[]string{"method", "route"},
	)

	httpPanics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "panics_total",
			Help:      "Handler panics caught by Recovery.",
		},
		[]string{"route"},
	)

	httpRateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "rate_limited_total",
			Help:      "Requests refused by the rate limiter.",
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(httpRequests, httpDuration, httpInflight, httpResponseBytes, httpRequestBytes, httpPanics, httpRateLimited)
}

// Metrics returns a Gin middleware that records request count, latency,
// in-flight requests and body sizes.
//
// Usage:
//
//	r.Use(middleware.Metrics())
//	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		method := c.Request.Method

		httpRequests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		if size := c.Writer.Size(); size >= 0 {
			httpResponseBytes.WithLabelValues(method, route).Observe(float64(size))
		}
		if n := c.Request.ContentLength; n > 0 {
			httpRequestBytes.WithLabelValues(method, route).Observe(float64(n))
		}
	}
}
