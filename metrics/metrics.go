package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the creditflow collectors.
	Registry = prometheus.NewRegistry()

	numbersIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "creditflow",
			Subsystem: "sequence",
			Name:      "numbers_issued_total",
			Help:      "Tracking numbers issued, by year.",
		},
		[]string{"year"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "creditflow",
			Subsystem: "application",
			Name:      "transitions_total",
			Help:      "Lifecycle transitions applied, by source and target state.",
		},
		[]string{"from", "to", "automatic"},
	)

	transitionsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "creditflow",
			Subsystem: "application",
			Name:      "transitions_rejected_total",
			Help:      "Transition requests refused by the state graph.",
		},
		[]string{"from", "to"},
	)

	signaturesAppended = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "creditflow",
			Subsystem: "signature",
			Name:      "entries_appended_total",
			Help:      "Signature entries appended to artifacts.",
		},
	)

	storageErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "creditflow",
			Subsystem: "storage",
			Name:      "errors_total",
			Help:      "Durable store failures, by operation.",
		},
		[]string{"op"},
	)
)

func init() {
	Registry.MustRegister(
		numbersIssued,
		transitions,
		transitionsRejected,
		signaturesAppended,
		storageErrors,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered collectors.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RecordNumberIssued(year int) {
	numbersIssued.WithLabelValues(strconv.Itoa(year)).Inc()
}

func RecordTransition(from, to string, automatic bool) {
	transitions.WithLabelValues(from, to, strconv.FormatBool(automatic)).Inc()
}

func RecordTransitionRejected(from, to string) {
	transitionsRejected.WithLabelValues(from, to).Inc()
}

func RecordSignatureAppended() {
	signaturesAppended.Inc()
}

func RecordStorageError(op string) {
	storageErrors.WithLabelValues(op).Inc()
}
