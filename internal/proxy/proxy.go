// Package proxy serves APOD records from a bounded cache and falls back to
// the upstream API through a circuit breaker on a miss.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/apodrating/cache"
	"github.com/briangreenhill/apodrating/internal/apod"
	"github.com/briangreenhill/apodrating/internal/breaker"
	"github.com/briangreenhill/apodrating/nasa"
)

// Fetcher performs the actual upstream request. *nasa.Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context, id, date, apiKey string) (apod.Record, error)
}

// Config is the typed proxy configuration.
type Config struct {
	CacheCapacity int
	// CacheTTL of zero keeps entries until they are evicted.
	CacheTTL time.Duration

	BreakerMaxFailures  int
	BreakerCallTimeout  time.Duration
	BreakerResetTimeout time.Duration
	BreakerMaxRetries   int
}

// DefaultConfig returns a size-bound cache of ten entries and the breaker
// thresholds from breaker.DefaultConfig.
func DefaultConfig() Config {
	b := breaker.DefaultConfig()
	return Config{
		CacheCapacity:       cache.DefaultCapacity,
		BreakerMaxFailures:  b.MaxFailures,
		BreakerCallTimeout:  b.CallTimeout,
		BreakerResetTimeout: b.ResetTimeout,
		BreakerMaxRetries:   b.MaxRetries,
	}
}

// Service is the remote proxy. It is safe for concurrent use.
type Service struct {
	cache   cache.Cache
	breaker *breaker.CircuitBreaker
	fetcher Fetcher
	logger  zerolog.Logger
	metrics *metrics
}

// Options wires a Service from already constructed parts.
type Options struct {
	Cache      cache.Cache
	Breaker    *breaker.CircuitBreaker
	Fetcher    Fetcher
	Logger     zerolog.Logger
	Registerer prometheus.Registerer
}

// New creates a Service. Cache and Breaker default to a fresh LRU and a
// breaker with breaker.DefaultConfig.
func New(opts Options) *Service {
	if opts.Cache == nil {
		opts.Cache = cache.NewLRU(cache.Options{})
	}
	if opts.Breaker == nil {
		opts.Breaker = breaker.New(breaker.DefaultConfig())
	}
	return &Service{
		cache:   opts.Cache,
		breaker: opts.Breaker,
		fetcher: opts.Fetcher,
		logger:  opts.Logger,
		metrics: newMetrics(opts.Registerer),
	}
}

// Build constructs the cache and breaker described by cfg and the Service
// that owns them.
func Build(cfg Config, fetcher Fetcher, logger zerolog.Logger, reg prometheus.Registerer) *Service {
	m := newMetrics(reg)
	m.breakerState.Set(float64(breaker.StateClosed))

	cb := breaker.New(breaker.Config{
		MaxFailures:  cfg.BreakerMaxFailures,
		CallTimeout:  cfg.BreakerCallTimeout,
		ResetTimeout: cfg.BreakerResetTimeout,
		MaxRetries:   cfg.BreakerMaxRetries,
		OnStateChange: func(from, to breaker.State) {
			m.breakerState.Set(float64(to))
			logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})

	return &Service{
		cache:   cache.NewLRU(cache.Options{Capacity: cfg.CacheCapacity, TTL: cfg.CacheTTL, Registerer: reg}),
		breaker: cb,
		fetcher: fetcher,
		logger:  logger,
		metrics: m,
	}
}

// fetched is what a guarded call yields: a record, or the reason there is none.
type fetched struct {
	rec apod.Record
	err error
}

// Query returns the record for date, stamped with id. A cache hit never
// touches the network or the breaker. When no record can be produced the
// error wraps apod.ErrNotFound together with the cause.
func (s *Service) Query(ctx context.Context, id, date, apiKey string) (apod.Record, error) {
	log := s.logger.With().Str("id", id).Str("date", date).Logger()

	if rec, ok := s.cache.Get(date); ok {
		log.Info().Msg("cache hit")
		rec.ID = id
		return rec, nil
	}

	var attempts atomic.Int32
	op := func(ctx context.Context) (fetched, error) {
		if n := attempts.Add(1); n > 1 {
			log.Info().Int32("retry", n-1).Msg("retrying upstream fetch")
		}
		rec, err := s.fetcher.Fetch(ctx, id, date, apiKey)
		s.metrics.observeFetch(err)
		if err != nil {
			return fetched{}, err
		}
		return fetched{rec: rec}, nil
	}
	fallback := func(err error) fetched {
		if errors.Is(err, breaker.ErrCircuitOpen) {
			s.metrics.shortCircuits.Inc()
		}
		log.Error().Err(err).Msg("upstream fetch gave up, serving fallback")
		return fetched{err: err}
	}

	res := breaker.Execute(ctx, s.breaker, op, fallback)
	if res.err != nil {
		return apod.Record{}, fmt.Errorf("%w: %w", apod.ErrNotFound, res.err)
	}

	if s.cache.Put(date, res.rec) {
		log.Info().Msg("added entry to cache")
	}
	return res.rec, nil
}

// BreakerState reports the state of the shared breaker.
func (s *Service) BreakerState() breaker.State {
	return s.breaker.State()
}

// Close drops every cached record.
func (s *Service) Close() {
	s.cache.Clear()
}

var _ Fetcher = (*nasa.Client)(nil)
