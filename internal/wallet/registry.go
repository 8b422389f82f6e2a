package wallet

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mintmesh/wallet_layer/internal/events"
	"github.com/mintmesh/wallet_layer/internal/metrics"
	"github.com/mintmesh/wallet_layer/pkg/logger"
)

// RegistryConfig configures the provider registry.
type RegistryConfig struct {
	Integrations []Integration
	Bus          *events.Bus
	Logger       logger.Logger
	Metrics      *metrics.Metrics
	// ProbeTimeout bounds each provider's detection probe. Default 2s.
	ProbeTimeout time.Duration
	// WarmupAttempts is the number of short-interval rescans after Start,
	// because providers can come up after the process does. Default 5.
	WarmupAttempts int
	// WarmupInterval is the delay between warmup rescans. Default 2s.
	WarmupInterval time.Duration
	// RescanSpec is the cron spec for steady-state rescans. Default
	// "@every 30s". Empty after defaulting disables the background job.
	RescanSpec string
}

// Registry detects which wallet providers are reachable and hands out
// provider instances for connected use. The descriptor list is replaced
// atomically on each scan so readers never observe a partial set.
type Registry struct {
	mu           sync.RWMutex
	integrations []Integration
	descriptors  []Descriptor
	providers    map[string]Provider

	bus          *events.Bus
	log          logger.Logger
	metrics      *metrics.Metrics
	probeTimeout time.Duration

	warmupAttempts int
	warmupInterval time.Duration
	rescanSpec     string

	cron   *cron.Cron
	cancel context.CancelFunc
}

// NewRegistry creates a registry over the given integrations.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}
	if cfg.WarmupAttempts == 0 {
		cfg.WarmupAttempts = 5
	}
	if cfg.WarmupInterval == 0 {
		cfg.WarmupInterval = 2 * time.Second
	}
	if cfg.RescanSpec == "" {
		cfg.RescanSpec = "@every 30s"
	}

	return &Registry{
		integrations:   cfg.Integrations,
		providers:      make(map[string]Provider),
		bus:            cfg.Bus,
		log:            cfg.Logger,
		metrics:        cfg.Metrics,
		probeTimeout:   cfg.ProbeTimeout,
		warmupAttempts: cfg.WarmupAttempts,
		warmupInterval: cfg.WarmupInterval,
		rescanSpec:     cfg.RescanSpec,
	}
}

// Start performs the initial scan and launches the warmup and steady-state
// rescan jobs.
func (r *Registry) Start(ctx context.Context) error {
	r.Scan(ctx)

	runCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	go r.warmup(runCtx)

	c := cron.New()
	if _, err := c.AddFunc(r.rescanSpec, func() {
		r.Scan(runCtx)
	}); err != nil {
		cancel()
		return err
	}
	c.Start()

	r.mu.Lock()
	r.cron = c
	r.mu.Unlock()

	r.log.Info("provider registry started", "integrations", len(r.integrations))
	return nil
}

// Stop halts background rescans.
func (r *Registry) Stop() {
	r.mu.Lock()
	c := r.cron
	cancel := r.cancel
	r.cron = nil
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c != nil {
		c.Stop()
	}
}

// warmup rescans on a short interval right after startup. Providers that
// register themselves asynchronously are usually visible by the last
// attempt.
func (r *Registry) warmup(ctx context.Context) {
	t := time.NewTicker(r.warmupInterval)
	defer t.Stop()

	for i := 0; i < r.warmupAttempts; i++ {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Scan(ctx)
		}
	}
}

// NotifyActivated triggers an immediate rescan. The host calls this when
// the user returns to the application, which is the canonical moment a
// mobile wallet becomes detectable.
func (r *Registry) NotifyActivated(ctx context.Context) []Descriptor {
	return r.Scan(ctx)
}

// Scan probes every integration and replaces the descriptor snapshot.
// Individual probe failures classify the provider as NotDetected and are
// never propagated. Publishes providers.changed when the (id, readiness)
// set differs from the previous scan.
func (r *Registry) Scan(ctx context.Context) []Descriptor {
	if r.metrics != nil {
		r.metrics.ProviderScan()
	}

	next := make([]Descriptor, 0, len(r.integrations))
	installed := make(map[string]Integration)

	for _, integ := range r.integrations {
		d := Descriptor{
			ID:             integ.ID,
			DisplayName:    integ.DisplayName,
			InstallURL:     integ.InstallURL,
			MobileDeepLink: integ.DeepLinkCapable(),
		}

		switch {
		case integ.Disabled:
			d.Readiness = ReadinessUnsupported
		case integ.Probe == nil:
			if integ.DeepLinkCapable() {
				d.Readiness = ReadinessLoadable
			} else {
				d.Readiness = ReadinessNotDetected
			}
		default:
			if r.probe(ctx, integ) {
				d.Readiness = ReadinessInstalled
				installed[integ.ID] = integ
			} else {
				d.Readiness = ReadinessNotDetected
			}
		}

		next = append(next, d)
	}

	r.mu.Lock()
	prev := r.descriptors
	r.descriptors = next
	for id, integ := range installed {
		if _, ok := r.providers[id]; !ok && integ.NewProvider != nil {
			r.providers[id] = integ.NewProvider()
		}
	}
	// Drop cached providers that are no longer detected.
	for id := range r.providers {
		if _, ok := installed[id]; !ok {
			delete(r.providers, id)
		}
	}
	r.mu.Unlock()

	if r.bus != nil && changed(prev, next) {
		_ = r.bus.Publish(ctx, events.TopicProvidersChanged, "registry", next)
	}

	return next
}

// probe runs one integration's detection probe under a timeout, swallowing
// errors and panics.
func (r *Registry) probe(ctx context.Context, integ Integration) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Warn("provider probe panicked", "provider", integ.ID, "panic", rec)
			ok = false
		}
	}()

	pctx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	detected, err := integ.Probe(pctx)
	if err != nil {
		r.log.Debug("provider probe failed", "provider", integ.ID, "error", err)
		return false
	}
	return detected
}

// Descriptors returns the current snapshot.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.descriptors
}

// Installed returns providers that answered their detection probe.
func (r *Registry) Installed() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Descriptor
	for _, d := range r.descriptors {
		if d.Readiness == ReadinessInstalled {
			out = append(out, d)
		}
	}
	return out
}

// Get returns the descriptor for the given provider id.
func (r *Registry) Get(id string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, d := range r.descriptors {
		if d.ID == id {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Provider returns the live provider instance for an installed wallet.
func (r *Registry) Provider(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// Integration returns the static integration definition for an id.
func (r *Registry) Integration(id string) (Integration, error) {
	return FindIntegration(r.integrations, id)
}

func changed(prev, next []Descriptor) bool {
	if len(prev) != len(next) {
		return true
	}
	prevSet := make(map[string]Readiness, len(prev))
	for _, d := range prev {
		prevSet[d.ID] = d.Readiness
	}
	for _, d := range next {
		if prevSet[d.ID] != d.Readiness {
			return true
		}
	}
	return false
}
