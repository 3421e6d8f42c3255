package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

type Prom struct {
	RequestsTotal    *prometheus.CounterVec
	RequestsDuration *prometheus.HistogramVec
	InFlight         *prometheus.GaugeVec
	// DB
	DbQueryDuration *prometheus.HistogramVec
	DbErrorsTotal   *prometheus.CounterVec

	// Auth
	AuthRejections *prometheus.CounterVec
	TokensIssued   *prometheus.CounterVec
	Revocations    *prometheus.CounterVec

	// Sweeper
	SweptTotal *prometheus.CounterVec
}

func NewProm(reg prometheus.Registerer) *Prom {
	p := &Prom{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "shopfront",
				Name:      "http_requests_total",
				Help:      "Total HTTP requests processed",
			},
			[]string{"method", "route", "status"},
		),
		RequestsDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "shopfront",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency distributions.",
				// bcrypt dominates login/register, so the upper buckets matter
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "route", "status"},
		),
		InFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "shopfront",
				Name:      "http_in_flight_requests",
				Help:      "Current number of in-flight HTTP requests.",
			},
			[]string{"method", "route"},
		),
		DbQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "shopfront",
				Subsystem: "db",
				Name:      "query_duration_seconds",
				Help:      "DB operation latency (logical op, not raw SQL)",
				Buckets:   []float64{0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.35, 0.5, 1, 2, 5},
			},
			[]string{"op", "status"},
		),
		DbErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "shopfront",
				Subsystem: "db",
				Name:      "errors_total",
				Help:      "DB errors by logical op and class.",
			},
			[]string{"op", "class"},
		),
		AuthRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "shopfront",
				Subsystem: "auth",
				Name:      "rejections_total",
				Help:      "Rejected requests by reason.",
			},
			[]string{"reason"}, // no_token|revoked|expired|invalid|user_not_found|forbidden|revocation_unavailable
		),
		TokensIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "shopfront",
				Subsystem: "auth",
				Name:      "tokens_issued_total",
				Help:      "Tokens issued by type and flow.",
			},
			[]string{"type", "flow"},
		),
		Revocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "shopfront",
				Subsystem: "auth",
				Name:      "revocations_total",
				Help:      "Tokens added to the revocation list by type.",
			},
			[]string{"type"},
		),
		SweptTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "shopfront",
				Subsystem: "sweeper",
				Name:      "removed_total",
				Help:      "Expired entries removed by the sweeper.",
			},
			[]string{"kind"}, // revocations|sessions
		),
	}
	reg.MustRegister(
		p.RequestsTotal, p.RequestsDuration, p.InFlight,
		p.DbQueryDuration, p.DbErrorsTotal,
		p.AuthRejections, p.TokensIssued, p.Revocations,
		p.SweptTotal,
	)

	return p
}

func (p *Prom) GinHandleMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()

		// route template is only available after routing; best effort:
		route := ctx.FullPath()

		if route == "" {
			route = "unmatched"
		}

		method := ctx.Request.Method
		p.InFlight.WithLabelValues(method, route).Inc()
		defer p.InFlight.WithLabelValues(method, route).Dec()
		ctx.Next()

		status := strconv.Itoa(ctx.Writer.Status())
		secs := time.Since(start).Seconds()

		p.RequestsTotal.WithLabelValues(method, route, status).Inc()
		p.RequestsDuration.WithLabelValues(method, route, status).Observe(secs)
	}
}

func (p *Prom) AuthRejected(reason string) {
	p.AuthRejections.WithLabelValues(reason).Inc()
}

func (p *Prom) TokenIssued(typ, flow string) {
	p.TokensIssued.WithLabelValues(typ, flow).Inc()
}

func (p *Prom) TokenRevoked(typ string) {
	p.Revocations.WithLabelValues(typ).Inc()
}

func (p *Prom) Swept(kind string, n int) {
	if n > 0 {
		p.SweptTotal.WithLabelValues(kind).Add(float64(n))
	}
}
