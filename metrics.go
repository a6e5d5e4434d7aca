package roughtime

import "github.com/prometheus/client_golang/prometheus"

// serverMetrics holds the Prometheus collectors a Server reports through.
// They are registered against whatever registry the caller supplies (the
// CLI owns a *prometheus.Registry per process; the core never reaches for
// prometheus.DefaultRegisterer).
type serverMetrics struct {
	responses      prometheus.Counter
	dropped        *prometheus.CounterVec
	handleDuration prometheus.Histogram
}

func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	m := &serverMetrics{
		responses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roughtime_server_responses_total",
			Help: "Signed responses successfully sent.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roughtime_server_dropped_total",
			Help: "Datagrams dropped during request intake, by reason.",
		}, []string{"reason"}),
		handleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "roughtime_server_handle_duration_seconds",
			Help:    "Time to parse, sign, and send a response for one request.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.responses, m.dropped, m.handleDuration)
	}
	return m
}

// clientMetrics holds the Prometheus collectors a Client reports through.
type clientMetrics struct {
	queries            *prometheus.CounterVec
	queryDuration      *prometheus.HistogramVec
	causalityViolations prometheus.Counter
}

func newClientMetrics(reg prometheus.Registerer) *clientMetrics {
	m := &clientMetrics{
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roughtime_client_queries_total",
			Help: "Queries issued, by server and outcome.",
		}, []string{"server", "outcome"}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "roughtime_client_query_duration_seconds",
			Help:    "Round-trip time of a query, by server.",
			Buckets: prometheus.DefBuckets,
		}, []string{"server"}),
		causalityViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roughtime_client_causality_violations_total",
			Help: "Reply pairs found to violate causality by VerifyReplies.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.queries, m.queryDuration, m.causalityViolations)
	}
	return m
}
