package observ

import (
	domain "github.com/aq2208/gcheckout/internal/entity"
	"github.com/aq2208/gcheckout/internal/transport"
	"github.com/aq2208/gcheckout/internal/usecase"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts checkout transitions and provider transport attempts.
type Metrics struct {
	transitions *prometheus.CounterVec
	attempts    *prometheus.CounterVec
}

// NewMetrics registers on reg; pass prometheus.DefaultRegisterer in main.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_transitions_total",
				Help: "Checkout state machine transitions by provider and target state",
			},
			[]string{"provider", "from", "to"},
		),
		attempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transport_attempts_total",
				Help: "Provider HTTP attempts by outcome kind",
			},
			[]string{"provider", "outcome"},
		),
	}
}

func (m *Metrics) CheckoutTransition(provider string, from, to domain.CheckoutState) {
	m.transitions.WithLabelValues(provider, string(from), string(to)).Inc()
}

func (m *Metrics) ObserveAttempt(provider, outcome string) {
	m.attempts.WithLabelValues(provider, outcome).Inc()
}

var (
	_ usecase.Metrics           = (*Metrics)(nil)
	_ transport.AttemptObserver = (*Metrics)(nil)
)
