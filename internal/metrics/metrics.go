// Package metrics exposes parking activity to Prometheus. Recorder is
// registered with the parking service as an observer; its counters move
// only for committed changes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/parkb/internal/parking"
)

const namespace = "parkb"

// Recorder holds the parking counters and implements parking.Observer.
type Recorder struct {
	reservations *prometheus.CounterVec
	entries      *prometheus.CounterVec
	exits        *prometheus.CounterVec
	extensions   prometheus.Counter
	autoCancels  prometheus.Counter
	failures     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. available is
// sampled on every scrape for the available-spots gauge; pass nil to skip
// the gauge.
func New(reg prometheus.Registerer, available func() float64) *Recorder {
	r := &Recorder{
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reservations",
			Name:      "transitions_total",
			Help:      "Reservation state changes by resulting state",
		}, []string{"state"}),

		entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "entries_total",
			Help:      "Vehicles admitted, by walk-in or reservation",
		}, []string{"mode"}),

		exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "exits_total",
			Help:      "Vehicles that left, by punctuality",
		}, []string{"punctuality"}),

		extensions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "extensions_total",
			Help:      "Granted session extensions",
		}),

		autoCancels: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reservations",
			Name:      "auto_cancellations_total",
			Help:      "Preorders cancelled because the holder did not arrive in time",
		}),

		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_failures_total",
			Help:      "Rejected or failed commands by operation and error kind",
		}, []string{"op", "kind"}),
	}
	reg.MustRegister(r.reservations, r.entries, r.exits, r.extensions, r.autoCancels, r.failures)

	if available != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "available_spots",
			Help:      "Spots free for the next standard stay",
		}, available))
	}
	return r
}

// Committed implements parking.Observer.
func (r *Recorder) Committed(e parking.Event) {
	switch e.Type {
	case parking.EventReservationCreated:
		r.reservations.WithLabelValues("created").Inc()
	case parking.EventReservationActivated:
		r.reservations.WithLabelValues("activated").Inc()
	case parking.EventReservationFinished:
		r.reservations.WithLabelValues("finished").Inc()
	case parking.EventReservationCancelled:
		r.reservations.WithLabelValues("cancelled").Inc()
		if e.Reason == "no-show" {
			r.autoCancels.Inc()
		}
	case parking.EventSessionStarted:
		mode := "walk_in"
		if e.ReservationCode != 0 {
			mode = "reservation"
		}
		r.entries.WithLabelValues(mode).Inc()
	case parking.EventSessionEnded:
		p := "on_time"
		if e.Late {
			p = "late"
		}
		r.exits.WithLabelValues(p).Inc()
	case parking.EventSessionExtended:
		r.extensions.Inc()
	}
}

// Failed implements parking.Observer.
func (r *Recorder) Failed(op string, kind parking.Kind) {
	r.failures.WithLabelValues(op, string(kind)).Inc()
}

// Handler serves the metrics gathered by g in the text exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
