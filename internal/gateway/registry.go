package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Conxian/conxian-nexus/internal/metrics"
)

// ErrUnknownService is returned when a request names an unregistered
// adapter.
var ErrUnknownService = errors.New("unknown gateway service")

// SimulationRequest is a protocol-agnostic dry-run of an exit
// transaction through an adapter.
type SimulationRequest struct {
	Address string `json:"address"`
	Amount  int64  `json:"amount"`
	Payload string `json:"payload,omitempty"`
}

// SimulationResult is the adapter's verdict on a simulation.
type SimulationResult struct {
	Service  string `json:"service"`
	Accepted bool   `json:"accepted"`
	Detail   string `json:"detail,omitempty"`
}

// ServiceStatus is one adapter's health at a point in time.
type ServiceStatus struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Detail    string    `json:"detail,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Service is the uniform capability contract every protocol adapter
// implements. Adapters are registered once at startup; the registry
// never assumes anything about a protocol beyond this surface.
type Service interface {
	Name() string
	CheckHealth(ctx context.Context) error
	Simulate(ctx context.Context, req SimulationRequest) (SimulationResult, error)
}

// Registry holds the registered protocol adapters and fronts them with
// metrics and per-call timeouts.
type Registry struct {
	logger       *slog.Logger
	checkTimeout time.Duration
	nowFn        func() time.Time

	mu       sync.RWMutex
	services map[string]Service
}

type RegistryOption func(*Registry)

func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l.With("component", "gateway") }
}

func WithCheckTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.checkTimeout = d
		}
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		logger:       slog.Default().With("component", "gateway"),
		checkTimeout: 5 * time.Second,
		nowFn:        time.Now,
		services:     make(map[string]Service),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds an adapter. Names are unique.
func (r *Registry) Register(svc Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := svc.Name()
	if _, dup := r.services[name]; dup {
		return fmt.Errorf("gateway service %q already registered", name)
	}
	r.services[name] = svc
	r.logger.Info("gateway service registered", "service", name)
	return nil
}

// Names returns the registered adapter names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Health checks every adapter and returns per-adapter status. A failing
// adapter never fails the call; its status carries the error detail.
func (r *Registry) Health(ctx context.Context) []ServiceStatus {
	r.mu.RLock()
	services := make([]Service, 0, len(r.services))
	for _, svc := range r.services {
		services = append(services, svc)
	}
	r.mu.RUnlock()

	sort.Slice(services, func(i, j int) bool { return services[i].Name() < services[j].Name() })

	statuses := make([]ServiceStatus, 0, len(services))
	for _, svc := range services {
		checkCtx, cancel := context.WithTimeout(ctx, r.checkTimeout)
		err := svc.CheckHealth(checkCtx)
		cancel()

		status := ServiceStatus{
			Name:      svc.Name(),
			Healthy:   err == nil,
			CheckedAt: r.nowFn().UTC(),
		}
		label := "healthy"
		if err != nil {
			status.Detail = err.Error()
			label = "unhealthy"
		}
		metrics.GatewayHealthChecksTotal.WithLabelValues(svc.Name(), label).Inc()
		statuses = append(statuses, status)
	}
	return statuses
}

// Simulate routes a dry-run to the named adapter.
func (r *Registry) Simulate(ctx context.Context, name string, req SimulationRequest) (SimulationResult, error) {
	r.mu.RLock()
	svc, ok := r.services[name]
	r.mu.RUnlock()
	if !ok {
		return SimulationResult{}, fmt.Errorf("%w: %s", ErrUnknownService, name)
	}

	res, err := svc.Simulate(ctx, req)
	switch {
	case err != nil:
		metrics.GatewaySimulationsTotal.WithLabelValues(name, "error").Inc()
	case res.Accepted:
		metrics.GatewaySimulationsTotal.WithLabelValues(name, "accepted").Inc()
	default:
		metrics.GatewaySimulationsTotal.WithLabelValues(name, "rejected").Inc()
	}
	return res, err
}
