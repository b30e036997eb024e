// Package metrics constructs the metrics the application will track.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// This holds the single instance of the metrics value needed for
// collecting metrics. The prometheus collectors are safe for concurrent use.
var m *metrics

// metrics represents the set of metrics we gather. These fields are
// safe to be accessed concurrently.
type metrics struct {
	requests    prometheus.Counter
	errors      prometheus.Counter
	panics      prometheus.Counter
	mutations   *prometheus.CounterVec
	syncRounds  *prometheus.CounterVec
	compromised prometheus.Counter
	replayed    prometheus.Counter
}

func init() {
	m = &metrics{
		requests: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "encloud",
			Name:      "requests",
			Help:      "Number of web requests handled.",
		}),
		errors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "encloud",
			Name:      "errors",
			Help:      "Number of web requests that failed.",
		}),
		panics: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "encloud",
			Name:      "panics",
			Help:      "Number of panics recovered in web requests.",
		}),
		mutations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "encloud",
			Name:      "mutations",
			Help:      "Mutations offered to the journals by outcome.",
		}, []string{"outcome"}),
		syncRounds: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "encloud",
			Name:      "sync_rounds",
			Help:      "Sync rounds run against peers by result.",
		}, []string{"result"}),
		compromised: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "encloud",
			Name:      "compromised_clouds",
			Help:      "Clouds found to be compromised by equivocation.",
		}),
		replayed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "encloud",
			Name:      "replayed_mutations",
			Help:      "Mutations applied to the replay stores.",
		}),
	}
}

// =============================================================================

// Metrics will be supported through the context.

// ctxKeyMetric represents the type of value for the context key.
type ctxKey int

// key is how metric values are stored/retrieved.
const key ctxKey = 1

// Set sets the metrics data into the context.
func Set(ctx context.Context) context.Context {
	return context.WithValue(ctx, key, m)
}

// AddRequests increments the request metric by 1.
func AddRequests(ctx context.Context) {
	if v, ok := ctx.Value(key).(*metrics); ok {
		v.requests.Inc()
	}
}

// AddErrors increments the errors metric by 1.
func AddErrors(ctx context.Context) {
	if v, ok := ctx.Value(key).(*metrics); ok {
		v.errors.Inc()
	}
}

// AddPanics increments the panics metric by 1.
func AddPanics(ctx context.Context) {
	if v, ok := ctx.Value(key).(*metrics); ok {
		v.panics.Inc()
	}
}

// =============================================================================

// Mutations records the outcome counts of a batch offered to a journal.
func Mutations(accepted, buffered, duplicates, rejected int) {
	m.mutations.WithLabelValues("accepted").Add(float64(accepted))
	m.mutations.WithLabelValues("buffered").Add(float64(buffered))
	m.mutations.WithLabelValues("duplicate").Add(float64(duplicates))
	m.mutations.WithLabelValues("rejected").Add(float64(rejected))
}

// SyncRound records one sync round with its result.
func SyncRound(err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.syncRounds.WithLabelValues(result).Inc()
}

// Compromised records a cloud that turned compromised.
func Compromised() {
	m.compromised.Inc()
}

// Replayed records mutations applied to a replay store.
func Replayed(n int) {
	m.replayed.Add(float64(n))
}
