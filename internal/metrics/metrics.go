// Package metrics records Prometheus metrics for vault backend operations.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/systmms/dsvault/pkg/provider"
	"github.com/systmms/dsvault/pkg/secure"
)

// Operation label values.
const (
	OpValidate  = "validate"
	OpCreate    = "create"
	OpGetSecret = "get_secret"
)

var (
	registeredMu sync.Mutex
	registered   = make(map[prometheus.Registerer]*Metrics)
)

// Metrics holds the collectors for one registerer.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	open       *prometheus.GaugeVec
}

// New returns the metrics registered with reg, registering them on first
// use. A nil reg means prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	registeredMu.Lock()
	defer registeredMu.Unlock()

	if m, ok := registered[reg]; ok {
		return m
	}

	factory := promauto.With(reg)
	m := &Metrics{
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dsvault_provider_operations_total",
				Help: "Total number of vault backend operations by outcome",
			},
			[]string{"backend", "operation", "outcome"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dsvault_provider_operation_duration_seconds",
				Help:    "Duration of vault backend operations in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"backend", "operation"},
		),
		open: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dsvault_providers_open",
				Help: "Number of providers created and not yet closed",
			},
			[]string{"backend"},
		),
	}
	registered[reg] = m
	return m
}

// Observe records one operation against backend.
func (m *Metrics) Observe(backend, operation string, start time.Time, err error) {
	m.operations.WithLabelValues(backend, operation, string(provider.KindOf(err))).Inc()
	m.duration.WithLabelValues(backend, operation).Observe(time.Since(start).Seconds())
}

// InstrumentFactory wraps f so Validate, Create and every created provider
// are observed.
func (m *Metrics) InstrumentFactory(f provider.VaultProviderFactory) provider.VaultProviderFactory {
	return &factory{next: f, metrics: m}
}

// InstrumentProvider wraps p so GetSecret is observed under backend.
func (m *Metrics) InstrumentProvider(backend string, p provider.VaultProvider) provider.VaultProvider {
	m.open.WithLabelValues(backend).Inc()
	return &instrumentedProvider{next: p, backend: backend, metrics: m}
}

type factory struct {
	next    provider.VaultProviderFactory
	metrics *Metrics
}

func (f *factory) Kind() string {
	return f.next.Kind()
}

func (f *factory) Validate(ctx context.Context, config *secure.String) error {
	start := time.Now()
	err := f.next.Validate(ctx, config)
	f.metrics.Observe(f.next.Kind(), OpValidate, start, err)
	return err
}

func (f *factory) Create(ctx context.Context, config *secure.String) (provider.VaultProvider, error) {
	start := time.Now()
	p, err := f.next.Create(ctx, config)
	f.metrics.Observe(f.next.Kind(), OpCreate, start, err)
	if err != nil {
		return nil, err
	}
	return f.metrics.InstrumentProvider(f.next.Kind(), p), nil
}

type instrumentedProvider struct {
	next    provider.VaultProvider
	backend string
	metrics *Metrics

	closeOnce sync.Once
	closeErr  error
}

func (p *instrumentedProvider) GetSecret(ctx context.Context, name string) (*provider.ProviderSecret, error) {
	start := time.Now()
	secret, err := p.next.GetSecret(ctx, name)
	p.metrics.Observe(p.backend, OpGetSecret, start, err)
	return secret, err
}

// Close closes the wrapped provider once.
func (p *instrumentedProvider) Close() error {
	p.closeOnce.Do(func() {
		p.metrics.open.WithLabelValues(p.backend).Dec()
		p.closeErr = provider.Close(p.next)
	})
	return p.closeErr
}
