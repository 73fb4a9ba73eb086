package syncjobs

import "github.com/prometheus/client_golang/prometheus"

var (
	iterationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "account_connections_sync_iterations_total",
		Help: "Number of completed sync loop iterations, by loop.",
	}, []string{"loop"})

	connectionsProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "account_connections_sync_connections_processed_total",
		Help: "Number of connections processed per sync loop iteration, by loop and outcome.",
	}, []string{"loop", "outcome"})

	deactivationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "account_connections_sync_deactivations_total",
		Help: "Number of connections deactivated after a 401 from the brokerage, by loop.",
	}, []string{"loop"})
)

func init() {
	prometheus.MustRegister(iterationsTotal, connectionsProcessedTotal, deactivationsTotal)
}
