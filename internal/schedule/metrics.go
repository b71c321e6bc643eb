package schedule

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts executor activity. A nil registerer keeps the counters
// unregistered, which tests rely on.
type Metrics struct {
	ItemsExecuted   prometheus.Counter
	ItemsFailed     prometheus.Counter
	ClaimsReclaimed prometheus.Counter
	MonitorsFired   prometheus.Counter
	MonitorsExpired prometheus.Counter
}

// NewMetrics creates executor counters registered on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ItemsExecuted: factory.NewCounter(prometheus.CounterOpts{
			Name: "rin_executor_items_executed_total",
			Help: "Scheduled items executed successfully.",
		}),
		ItemsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "rin_executor_items_failed_total",
			Help: "Scheduled item executions that failed.",
		}),
		ClaimsReclaimed: factory.NewCounter(prometheus.CounterOpts{
			Name: "rin_executor_claims_reclaimed_total",
			Help: "Stale execution claims returned to the queue.",
		}),
		MonitorsFired: factory.NewCounter(prometheus.CounterOpts{
			Name: "rin_executor_monitors_fired_total",
			Help: "Monitoring schedules whose condition fired.",
		}),
		MonitorsExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "rin_executor_monitors_expired_total",
			Help: "Monitoring schedules that expired before firing.",
		}),
	}
}
