package monitoring

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	AttemptTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "module_attempt_transitions_total",
			Help: "Module attempt lifecycle transitions",
		},
		[]string{"module_type", "status"},
	)

	AssignmentTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "module_assignment_transitions_total",
			Help: "Module assignment status transitions",
		},
		[]string{"status"},
	)

	AssignmentSyncResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assignment_sync_results_total",
			Help: "Outcome of post-submit assignment synchronisation",
		},
		[]string{"result"},
	)

	AssignmentSyncBacklog = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "assignment_sync_jobs",
			Help: "Assignment sync outbox jobs by status",
		},
		[]string{"status"},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(RequestCounter)
		prometheus.MustRegister(RequestDuration)
		prometheus.MustRegister(AttemptTransitions)
		prometheus.MustRegister(AssignmentTransitions)
		prometheus.MustRegister(AssignmentSyncResults)
		prometheus.MustRegister(AssignmentSyncBacklog)
	})
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
