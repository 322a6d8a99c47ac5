package runtime

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/liquidbus/liquidbus/broker"
	codecpkg "github.com/liquidbus/liquidbus/internal/runtime/codec"
	configpkg "github.com/liquidbus/liquidbus/internal/runtime/config"
	errspkg "github.com/liquidbus/liquidbus/internal/runtime/errors"
	loggingpkg "github.com/liquidbus/liquidbus/internal/runtime/logging"
	telemetrypkg "github.com/liquidbus/liquidbus/internal/runtime/telemetry"
)

// ServiceDependencies holds the optional collaborators that the Service can
// use. Leave fields nil to get the defaults built from the config.
type ServiceDependencies struct {
	// Client overrides the broker client; the config's BrokerSystem is
	// ignored when set.
	Client broker.Client

	// Telemetry overrides the default log-backed telemetry.
	Telemetry telemetrypkg.Telemetry

	// Codec overrides the default JSON codec used by producers.
	Codec codecpkg.Codec

	// Hooks are merged into every consumer's pipeline hooks.
	Hooks PipelineHooks

	// Registry overrides the default broker registry used to build clients.
	Registry *broker.Registry
}

// Service owns the broker client and the registered consumers and producers.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	client    broker.Client
	telemetry telemetrypkg.Telemetry
	codec     codecpkg.Codec
	hooks     PipelineHooks

	consumers   []*Consumer
	consumersMu sync.RWMutex

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex

	resourceTracker *resourceTracker
}

// TryNewService constructs a Service for the supplied configuration. Register
// consumers on the returned Service before calling Start. No broker polling
// happens until Start.
func TryNewService(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	log.Info("Creating bus service", loggingpkg.LogFields{
		"broker_system": conf.BrokerSystem,
		"config":        conf,
	})

	s := &Service{
		Conf:            conf,
		Logger:          log,
		telemetry:       deps.Telemetry,
		codec:           deps.Codec,
		hooks:           deps.Hooks,
		resourceTracker: newResourceTracker(),
	}

	s.client = deps.Client
	if s.client == nil {
		registry := deps.Registry
		if registry == nil {
			registry = broker.DefaultRegistry
		}
		client, err := registry.Build(ctx, conf, loggingpkg.NewWatermillAdapter(log))
		if err != nil {
			return nil, err
		}
		s.client = client
	}

	if s.codec == nil {
		s.codec = codecpkg.JSON{}
	}
	if s.telemetry == nil {
		s.telemetry = defaultTelemetry(conf, log)
	}

	if conf.MetricsEnabled && conf.MetricsPort > 0 {
		s.RegisterHTTPHandler(conf.MetricsPort, "/metrics", promhttp.Handler())
	}

	return s, nil
}

// NewService is like TryNewService but panics on error, for wiring code that
// has no way to recover anyway.
func NewService(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) *Service {
	s, err := TryNewService(ctx, conf, log, deps)
	if err != nil {
		panic(err)
	}
	return s
}

func defaultTelemetry(conf *configpkg.Config, log loggingpkg.ServiceLogger) telemetrypkg.Telemetry {
	logger := telemetrypkg.NewLogger(log)
	if !conf.MetricsEnabled {
		return logger
	}
	return telemetrypkg.NewMulti(logger, telemetrypkg.NewPrometheus(prometheus.DefaultRegisterer))
}

// Start runs all registered consumers until the context is cancelled or a
// consumer fails fatally. On return every consumer has stopped.
func (s *Service) Start(ctx context.Context) error {
	s.startHTTPServers()

	s.consumersMu.RLock()
	consumers := make([]*Consumer, len(s.consumers))
	copy(consumers, s.consumers)
	s.consumersMu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, consumer := range consumers {
		g.Go(func() error {
			if err := consumer.Start(gctx); err != nil {
				return err
			}
			return consumer.Wait()
		})
	}
	return g.Wait()
}

// Stop shuts down all consumers, bounded by each consumer's grace period and
// the provided context, then closes the broker client.
func (s *Service) Stop(ctx context.Context) error {
	s.consumersMu.RLock()
	consumers := make([]*Consumer, len(s.consumers))
	copy(consumers, s.consumers)
	s.consumersMu.RUnlock()

	var firstErr error
	for _, consumer := range consumers {
		if err := consumer.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := s.client.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Consumers returns a snapshot of all registered consumers and their stats.
func (s *Service) Consumers() []ConsumerInfo {
	s.consumersMu.RLock()
	defer s.consumersMu.RUnlock()

	infos := make([]ConsumerInfo, 0, len(s.consumers))
	for _, consumer := range s.consumers {
		infos = append(infos, ConsumerInfo{
			Name:         consumer.name,
			Queue:        consumer.queue,
			AutoComplete: consumer.autoComplete,
			State:        consumer.State().String(),
			Stats:        consumer.stats,
		})
	}
	return infos
}

// Client exposes the underlying broker client, mainly for tests and custom
// tooling.
func (s *Service) Client() broker.Client { return s.client }

// RegisterHTTPHandler mounts a handler on the service-managed HTTP server for
// the given port. Servers start with the service.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpServers {
		addr := fmt.Sprintf(":%d", port)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": addr})
		go func(addr string, handler http.Handler) {
			if err := http.ListenAndServe(addr, handler); err != nil {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": addr})
			}
		}(addr, mux)
	}
}

func (s *Service) getResourceTracker() *resourceTracker {
	if s.resourceTracker == nil {
		s.resourceTracker = newResourceTracker()
	}
	return s.resourceTracker
}
