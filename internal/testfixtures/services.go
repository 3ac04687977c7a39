package testfixtures

import (
	"log/slog"
	"time"

	"github.com/example/negotiation-scheduler/internal/negotiation"
)

// ServiceFactory assists tests with constructing coordinators using
// deterministic identifiers and clocks.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock:       NewClock(time.Time{}),
		IDGenerator: NewIDGenerator("id"),
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("id")
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithIDGenerator overrides the identifier generator used by the factory.
func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.IDGenerator = generator
	}
}

// CoordinatorDeps captures dependencies for constructing a coordinator.
type CoordinatorDeps struct {
	Store  negotiation.Store
	Hooks  negotiation.Hooks
	Config negotiation.Config
	Logger *slog.Logger
}

// NewCoordinator builds a coordinator using the supplied dependencies
// combined with the factory defaults. Config.Now and Config.NewID are only
// filled in when unset.
func (f *ServiceFactory) NewCoordinator(deps CoordinatorDeps) *negotiation.Coordinator {
	cfg := deps.Config
	if cfg.Now == nil {
		cfg.Now = f.Clock.Func()
	}
	if cfg.NewID == nil {
		cfg.NewID = f.IDGenerator.Func()
	}
	if cfg.Logger == nil {
		cfg.Logger = deps.Logger
	}
	return negotiation.NewCoordinator(deps.Store, deps.Hooks, cfg)
}
