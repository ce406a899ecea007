package infra

import (
	"context"

	"coordination-gateway/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusStats expõe as decisões como contador por resource/resultado.
// A identidade não vira label (cardinalidade).
type PrometheusStats struct {
	decisions *prometheus.CounterVec
}

// NewPrometheusStats registra gateway_ratelimit_decisions_total em reg.
// reg nil usa prometheus.DefaultRegisterer.
func NewPrometheusStats(reg prometheus.Registerer) (*PrometheusStats, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	decisions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_ratelimit_decisions_total",
			Help: "rate limit decisions by resource and result",
		},
		[]string{"resource", "result"},
	)
	if err := reg.Register(decisions); err != nil {
		return nil, err
	}
	return &PrometheusStats{decisions: decisions}, nil
}

func (p *PrometheusStats) Record(_ context.Context, ev domain.StatsEvent) error {
	result := "denied"
	if ev.Allowed {
		result = "allowed"
	}
	p.decisions.WithLabelValues(ev.Resource, result).Inc()
	return nil
}

// Counter expõe o vetor (para testes e dashboards locais).
func (p *PrometheusStats) Counter() *prometheus.CounterVec { return p.decisions }

// MultiStats envia o mesmo evento para vários stores; devolve o primeiro erro.
type MultiStats []domain.StatsStore

func (m MultiStats) Record(ctx context.Context, ev domain.StatsEvent) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
