// Package tiercache wires the entry/breaker/codec/transport/middleware/
// retryqueue/dedup/driver/cachestack/cache/manager/backplane/telemetry
// packages into a single convenience constructor, exposing one Manager
// built from its L1/L2/breaker/bus/metrics collaborators.
package tiercache

import (
	"time"

	"github.com/otero-labs/tiercache/backplane"
	"github.com/otero-labs/tiercache/breaker"
	"github.com/otero-labs/tiercache/bus"
	"github.com/otero-labs/tiercache/cache"
	"github.com/otero-labs/tiercache/cachestack"
	"github.com/otero-labs/tiercache/codec"
	"github.com/otero-labs/tiercache/driver"
	"github.com/otero-labs/tiercache/driver/memory"
	"github.com/otero-labs/tiercache/manager"
	"github.com/otero-labs/tiercache/middleware"
	"github.com/otero-labs/tiercache/retryqueue"
	"github.com/otero-labs/tiercache/telemetry"
	"github.com/otero-labs/tiercache/transport"
)

// L2Config describes one named L2 layer before it is wrapped in a breaker.
type L2Config struct {
	Name             string
	Driver           driver.RemoteDriver
	FailureThreshold int
	BreakDuration    time.Duration
}

// StoreConfig describes one named store: L1 capacity plus its ordered L2
// layers.
type StoreConfig struct {
	L1MaxEntries int
	L2           []L2Config
	Cache        cache.Config
}

// BusConfig configures the optional backplane transport and the
// middleware decorators layered over it.
type BusConfig struct {
	Transport          transport.Transport
	Codec              codec.Codec
	HMACKey            []byte // non-empty enables the integrity middleware
	OnIntegrityError   func(channel string, err error)
	CompressionEnabled bool
	Retry              retryqueue.Config
}

// Config configures a full Manager via New.
type Config struct {
	Default string
	Stores  map[string]StoreConfig
	Bus     *BusConfig
	Metrics *telemetry.Metrics
	Logger  *telemetry.Logger
}

// New builds a manager.Manager from cfg: every StoreConfig becomes a
// cachestack.Stack with a fresh breaker.CircuitBreaker per L2 layer, and a
// BusConfig, if present, becomes a fully decorated bus.Bus serving as the
// manager's backplane.
func New(cfg Config) (*manager.Manager, error) {
	stores := make(map[string]manager.StoreConfig, len(cfg.Stores))
	for name, sc := range cfg.Stores {
		maxEntries := sc.L1MaxEntries
		if maxEntries <= 0 {
			maxEntries = 10_000
		}
		layers := make([]cachestack.Layer, 0, len(sc.L2))
		for _, l2 := range sc.L2 {
			threshold := l2.FailureThreshold
			if threshold <= 0 {
				threshold = 5
			}
			breakDuration := l2.BreakDuration
			if breakDuration <= 0 {
				breakDuration = 30 * time.Second
			}
			var onTrip func()
			if cfg.Metrics != nil {
				layerName := l2.Name
				onTrip = func() { cfg.Metrics.BreakerTrips.WithLabelValues(layerName).Inc() }
			}
			layers = append(layers, cachestack.Layer{
				Name:   l2.Name,
				Driver: l2.Driver,
				Breaker: breaker.New(breaker.Config{
					Threshold: threshold, BreakDuration: breakDuration, OnTrip: onTrip,
				}),
			})
		}
		stores[name] = manager.StoreConfig{
			L1:      memory.New(maxEntries),
			Layers:  layers,
			Cache:   sc.Cache,
			OnEvent: cacheEventRecorder(name, cfg.Metrics),
		}
	}

	var b *bus.Bus
	if cfg.Bus != nil {
		b = buildBus(*cfg.Bus, cfg.Metrics, cfg.Logger)
	}

	mgr, err := manager.New(manager.Config{Default: cfg.Default, Stores: stores, Bus: b})
	if err != nil {
		return nil, err
	}
	if cfg.Logger != nil {
		cfg.Logger.Info("tiercache: manager built")
		cfg.Logger.Debug("tiercache: store configuration", map[string]any{
			"stores":       mgr.Stores(),
			"defaultStore": cfg.Default,
			"busEnabled":   cfg.Bus != nil,
		})
	}
	return mgr, nil
}

// cacheEventRecorder returns an onEvent hook reporting hit/miss counts and
// per-op latency for store into metrics. Returns nil when metrics is nil,
// so cache.New's nil-safe emit path is taken instead.
func cacheEventRecorder(store string, metrics *telemetry.Metrics) func(cache.Event) {
	if metrics == nil {
		return nil
	}
	return func(e cache.Event) {
		switch e.Kind {
		case "hit":
			metrics.CacheHits.WithLabelValues(store, e.Source).Inc()
		case "miss":
			metrics.CacheMisses.WithLabelValues(store).Inc()
		}
		if !e.Start.IsZero() {
			metrics.CacheLatencyMS.WithLabelValues(store, e.Kind).Observe(telemetry.Since(e.Start))
		}
	}
}

// buildBus decorates cfg.Transport with the compression -> integrity ->
// retry chain (innermost first, so retry sees the same bytes a peer's
// transport will verify and decompress), then wraps the result in a Bus
// reporting into metrics and logger when present.
func buildBus(cfg BusConfig, metrics *telemetry.Metrics, logger *telemetry.Logger) *bus.Bus {
	t := cfg.Transport
	if cfg.CompressionEnabled {
		t = middleware.NewCompression(t, middleware.DefaultCompressionConfig())
	}
	if len(cfg.HMACKey) > 0 {
		onErr := cfg.OnIntegrityError
		if onErr == nil && logger != nil {
			onErr = func(channel string, err error) { logger.Security(err, "integrity verification failed on "+channel) }
		}
		t = middleware.NewIntegrity(t, cfg.HMACKey, onErr)
	}
	if cfg.Retry.MaxAttempts > 0 || cfg.Retry.BaseDelay > 0 {
		retryCfg := cfg.Retry
		if metrics != nil {
			retryCfg.OnRetry = func(channel string, payload []byte, attempt int) {
				metrics.RetryAttempts.WithLabelValues(channel).Inc()
			}
			retryCfg.OnDeadLetter = func(channel string, payload []byte, err *retryqueue.DeadLetterError) {
				metrics.DeadLetters.WithLabelValues(channel).Inc()
			}
		}
		queue := retryqueue.New(retryCfg, t.Publish)
		t = middleware.NewRetry(t, queue)
	}

	telem := bus.Telemetry{}
	if metrics != nil {
		telem.OnPublish = func(channel string, size int, codecUsed string, d time.Duration, err error) {
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			metrics.BusPublished.WithLabelValues(channel, outcome).Inc()
			metrics.BusPublishMS.WithLabelValues(channel).Observe(float64(d.Microseconds()) / 1000.0)
		}
		telem.OnHandlerExecution = func(channel string, d time.Duration, err error) {
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			metrics.HandlerOutcomes.WithLabelValues(channel, outcome).Inc()
		}
	}
	if logger != nil {
		telem.OnError = func(operation, channel string, err error) {
			logger.Error(err, "bus "+operation+" failed on "+channel)
		}
	}

	return bus.New(t, bus.Config{Codec: cfg.Codec, Telemetry: telem})
}
