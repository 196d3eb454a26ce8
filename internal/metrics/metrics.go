// Package metrics holds the Prometheus collectors shared by the server,
// its services and the background workers.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SessionsStarted counts Start calls by outcome: new, resumed, retry.
	SessionsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ujian_exam_sessions_started_total",
			Help: "Total number of exam session starts",
		},
		[]string{"kind"},
	)

	// Submissions counts graded submissions. trigger: manual/auto,
	// source: payload/autosave.
	Submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ujian_exam_submissions_total",
			Help: "Total number of graded exam submissions",
		},
		[]string{"trigger", "source"},
	)

	// Scores tracks the distribution of final scores.
	Scores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ujian_exam_scores",
			Help:    "Distribution of final exam scores",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		},
	)

	// AnswersSaved counts incremental saves by transport: rest/ws.
	AnswersSaved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ujian_answers_saved_total",
			Help: "Total number of incremental answer saves",
		},
		[]string{"transport"},
	)

	// WorkerItems counts queue items handled by the background workers.
	// result: ok/requeued/dropped.
	WorkerItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ujian_worker_items_total",
			Help: "Total number of queue items handled by workers",
		},
		[]string{"worker", "result"},
	)

	// ActiveStreams is the number of open autosave WebSocket connections.
	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ujian_autosave_streams_current",
			Help: "Current number of open autosave WebSocket connections",
		},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ujian_http_request_duration_seconds",
			Help:    "Time spent serving HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "status"},
	)
)

// Middleware records request latency by matched route and status code.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		requestDuration.
			WithLabelValues(route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// Handler serves the default registry.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
