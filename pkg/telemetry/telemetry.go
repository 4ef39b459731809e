package telemetry

import (
	"net/http"
	"time"

	"branchdb/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Low-overhead request and domain telemetry. Counters are registered on
// the default registry and served by promhttp at /metrics; slow requests
// additionally get a lightweight log line (see slowThreshold).

var (
	slowThreshold = 200 * time.Millisecond

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "branchdb_http_request_duration_seconds",
		Help:    "HTTP request latency by method and status class.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "status"})

	messagesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "branchdb_messages_created_total",
		Help: "Messages created, by role.",
	}, []string{"role"})

	branchesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "branchdb_branches_created_total",
		Help: "Branches created from an existing parent message.",
	})

	branchSwitches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "branchdb_branch_switches_total",
		Help: "Active-path switches between sibling branches.",
	})

	conversationsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "branchdb_conversations_created_total",
		Help: "Conversations created.",
	})
)

// MessageCreated records a created message by role.
func MessageCreated(role string) { messagesCreated.WithLabelValues(role).Inc() }

// BranchCreated records a branch creation.
func BranchCreated() { branchesCreated.Inc() }

// BranchSwitched records an active-path switch.
func BranchSwitched() { branchSwitches.Inc() }

// ConversationCreated records a conversation creation.
func ConversationCreated() { conversationsCreated.Inc() }

// SetSlowThreshold sets the duration above which requests get a log line.
func SetSlowThreshold(d time.Duration) {
	if d <= 0 {
		d = 0
	}
	slowThreshold = d
}

// Middleware wraps the handler, records request timing, and logs slow
// requests.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		srw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(srw, r)
		dur := time.Since(start)

		requestDuration.WithLabelValues(r.Method, statusClass(srw.status)).Observe(dur.Seconds())
		if dur > slowThreshold {
			logger.Warn("slow_request", "method", r.Method, "path", r.URL.Path, "status", srw.status, "duration_ms", dur.Milliseconds())
		}
	})
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// statusRecorder captures the response status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
