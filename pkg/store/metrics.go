package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Op counters are labelled by primitive so the debug endpoint can show
// where store traffic comes from without per-path cardinality.
var (
	Ops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rownak_store_ops_total",
		Help: "Store operations issued by this client, by primitive.",
	}, []string{"op"})

	OpErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rownak_store_op_errors_total",
		Help: "Store operations that returned an error, by primitive.",
	}, []string{"op"})

	TxnRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rownak_store_txn_retries_total",
		Help: "Optimistic transaction attempts that lost a write race and re-ran.",
	})
)

// CountOp records one op and its error outcome.
func CountOp(op string, err error) {
	Ops.WithLabelValues(op).Inc()
	if err != nil {
		OpErrors.WithLabelValues(op).Inc()
	}
}
