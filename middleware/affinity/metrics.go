package affinity

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// resultados possíveis do roteamento
const (
	outcomeNewSession = "new_session"
	outcomeLocal      = "local"
	outcomeForwarded  = "forwarded"
	outcomeTakeover   = "takeover"
	outcomeReleased   = "released"
	outcomeInvalid    = "invalid"
	outcomeStoreError = "store_error"
	outcomeProxyError = "proxy_error"
)

type routeMetrics struct {
	routes *prometheus.CounterVec
}

// newRouteMetrics registra gateway_affinity_routes_total em reg. Com reg nil
// as métricas ficam desligadas. Registro repetido reaproveita o coletor.
func newRouteMetrics(reg prometheus.Registerer) (*routeMetrics, error) {
	if reg == nil {
		return &routeMetrics{}, nil
	}
	cv := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_affinity_routes_total",
			Help: "session routing decisions by outcome",
		},
		[]string{"outcome"},
	)
	if err := reg.Register(cv); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		existing, ok := are.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, err
		}
		cv = existing
	}
	return &routeMetrics{routes: cv}, nil
}

func (m *routeMetrics) inc(outcome string) {
	if m == nil || m.routes == nil {
		return
	}
	m.routes.WithLabelValues(outcome).Inc()
}
