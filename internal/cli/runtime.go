package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonwraymond/steadycore/cache"
	"github.com/jonwraymond/steadycore/config"
	"github.com/jonwraymond/steadycore/health"
	"github.com/jonwraymond/steadycore/messaging"
	"github.com/jonwraymond/steadycore/observe"
	"github.com/jonwraymond/steadycore/pool"
	"github.com/jonwraymond/steadycore/resilience"
	"github.com/jonwraymond/steadycore/storage"
)

// runtime owns every long-lived component built from a Config.
type runtime struct {
	cfg      *config.Config
	obs      observe.Observer
	log      observe.Logger
	store    *storage.Store
	remote   *resilience.Client
	messages *messaging.Client // nil without a remote base URL
	caches   *cache.Registry[[]byte]
	health   *health.Aggregator
}

func newRuntime(ctx context.Context, cfg *config.Config) (rt *runtime, err error) {
	obs, err := observe.NewObserver(ctx, cfg.Observe)
	if err != nil {
		return nil, fmt.Errorf("observer: %w", err)
	}
	rt = &runtime{cfg: cfg, obs: obs, log: obs.Logger()}
	defer func() {
		if err != nil {
			_ = rt.Close(ctx)
		}
	}()
	in := obs.Instruments()

	storeCfg := cfg.Storage
	storeCfg.Logger = rt.log
	storeCfg.Instruments = in
	if rt.store, err = storage.Open(ctx, storeCfg); err != nil {
		return nil, err
	}

	rt.remote = newRemoteClient(cfg.Remote, obs)

	if cfg.Messaging.BaseURL != "" {
		msgCfg := cfg.Messaging
		msgCfg.Logger = rt.log
		msgCfg.Instruments = in
		if rt.messages, err = messaging.New(msgCfg, rt.remote); err != nil {
			return nil, err
		}
	}

	rt.caches = cache.NewRegistry[[]byte](cfg.Caches, cache.DefaultPolicy(),
		cache.WithLogger(rt.log),
		cache.WithInstruments(in),
	)
	for _, name := range cfg.CacheNames() {
		rt.caches.Cache(name)
	}

	rt.health = health.NewAggregator(health.AggregatorConfig{Logger: rt.log})
	rt.health.Register(health.NewPingChecker("store", rt.store))
	rt.health.Register(health.NewBreakerChecker(rt.remote.Breakers()))
	if rt.messages != nil {
		rt.health.Register(health.NewPoolChecker(statsFunc(rt.messages.SessionStats)))
	}

	rt.log.Info(ctx, "runtime ready",
		observe.F("storage_path", cfg.Storage.Path),
		observe.F("remote", cfg.Messaging.BaseURL != ""),
		observe.F("caches", cfg.CacheNames()),
	)
	return rt, nil
}

func newRemoteClient(cfg config.Remote, obs observe.Observer) *resilience.Client {
	log, in := obs.Logger(), obs.Instruments()

	retry := cfg.Retry
	retry.Logger, retry.Instruments = log, in
	breaker := cfg.Breaker
	breaker.Logger, breaker.Instruments = log, in

	return resilience.NewClient(
		resilience.WithRetry(resilience.NewRetry(retry)),
		resilience.WithBreakers(resilience.NewBreakerRegistry(breaker)),
		resilience.WithRateLimiter(resilience.NewRateLimiter(cfg.RateLimit)),
		resilience.WithBulkhead(resilience.NewBulkhead(cfg.Bulkhead)),
		resilience.WithTimeout(cfg.Timeout),
		resilience.WithTracer(observe.NewTracer(obs.Tracer())),
		resilience.WithInstruments(in),
	)
}

// Close releases components in reverse order of construction.
func (rt *runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.caches != nil {
		errs = append(errs, rt.caches.Close(ctx))
	}
	if rt.messages != nil {
		errs = append(errs, rt.messages.Close())
	}
	if rt.store != nil {
		errs = append(errs, rt.store.Close())
	}
	errs = append(errs, rt.obs.Shutdown(ctx))
	return errors.Join(errs...)
}

// Stats is the body of the /debug/stats endpoint.
type Stats struct {
	Breakers []resilience.BreakerSnapshot `json:"breakers"`
	Caches   []cache.Stats                `json:"caches"`
	Sessions *pool.Stats                  `json:"sessions,omitempty"`
}

func (rt *runtime) stats() Stats {
	s := Stats{
		Breakers: rt.remote.Breakers().Snapshot(),
		Caches:   rt.caches.Stats(),
	}
	if rt.messages != nil {
		ss := rt.messages.SessionStats()
		s.Sessions = &ss
	}
	return s
}

type statsFunc func() pool.Stats

func (f statsFunc) Stats() pool.Stats { return f() }
