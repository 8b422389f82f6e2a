package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/mintmesh/wallet_layer/internal/events"
	"github.com/mintmesh/wallet_layer/internal/metrics"
	"github.com/mintmesh/wallet_layer/internal/retry"
	"github.com/mintmesh/wallet_layer/internal/settlement"
	"github.com/mintmesh/wallet_layer/internal/wallet"
	"github.com/mintmesh/wallet_layer/pkg/logger"
)

// State is the coarse connection state.
type State string

const (
	StateDisconnected  State = "disconnected"
	StateConnecting    State = "connecting"
	StateConnected     State = "connected"
	StateDisconnecting State = "disconnecting"
)

// Session is a snapshot of the single active connection. The manager owns
// the live value; snapshots are copies.
type Session struct {
	ID          uuid.UUID      `json:"id"`
	ProviderID  string         `json:"provider_id,omitempty"`
	State       State          `json:"state"`
	Account     wallet.Account `json:"account,omitempty"`
	ConnectedAt time.Time      `json:"connected_at,omitempty"`
}

// Catalog is the registry surface the manager needs. Satisfied by
// *wallet.Registry.
type Catalog interface {
	Get(id string) (wallet.Descriptor, bool)
	Provider(id string) (wallet.Provider, bool)
	Integration(id string) (wallet.Integration, error)
	NotifyActivated(ctx context.Context) []wallet.Descriptor
}

// HandoffStarted describes a connect attempt that must continue in an
// external wallet application. The caller redirects to DeepLink and, if
// the wallet does not take over within Grace, to InstallURL instead.
type HandoffStarted struct {
	ProviderID string        `json:"provider_id"`
	DeepLink   string        `json:"deep_link"`
	InstallURL string        `json:"install_url"`
	Grace      time.Duration `json:"grace"`
}

func (e *HandoffStarted) Error() string {
	return fmt.Sprintf("connect to %s handed off to the wallet application", e.ProviderID)
}

// Config wires a Manager.
type Config struct {
	Catalog  Catalog
	Handoffs HandoffStore     // default: in-memory
	Bus      *events.Bus      // optional
	Metrics  *metrics.Metrics // optional
	Logger   logger.Logger

	ConnectTimeout time.Duration // default 30s
	HandoffTTL     time.Duration // default 5m
	// HandoffGrace is how long the caller waits for the deep link before
	// falling back to the install URL.
	HandoffGrace time.Duration // default 2.5s
	// DeepLinkCallback is where the wallet application sends the user back.
	DeepLinkCallback string
	// ResumeRetry paces silent re-detection after a handoff.
	ResumeRetry retry.Policy // default 2s, 5s, 10s, 20s, 30s
	// PurgeSpec schedules the expired-handoff sweep.
	PurgeSpec string // default "@every 1m"
}

// Manager owns at most one wallet connection at a time. Connect and
// disconnect are strictly serialized; a second connect while one is in
// flight fails fast instead of racing.
type Manager struct {
	cfg  Config
	log  logger.Logger
	cron *cron.Cron

	mu       sync.Mutex
	cur      Session
	provider wallet.Provider
	signer   wallet.Signer
	// generation counts connect attempts so a late resolution of an
	// abandoned attempt cannot overwrite newer state.
	generation  uint64
	watchCancel context.CancelFunc
}

// NewManager validates the configuration and builds a manager in the
// Disconnected state.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("provider catalog required")
	}
	if cfg.Handoffs == nil {
		cfg.Handoffs = NewMemoryHandoffStore()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.HandoffTTL == 0 {
		cfg.HandoffTTL = 5 * time.Minute
	}
	if cfg.HandoffGrace == 0 {
		cfg.HandoffGrace = 2500 * time.Millisecond
	}
	if cfg.ResumeRetry.MaxAttempts == 0 {
		cfg.ResumeRetry = retry.Schedule(
			2*time.Second, 5*time.Second, 10*time.Second, 20*time.Second, 30*time.Second)
	}
	if cfg.PurgeSpec == "" {
		cfg.PurgeSpec = "@every 1m"
	}

	return &Manager{
		cfg: cfg,
		log: cfg.Logger,
		cur: Session{State: StateDisconnected},
	}, nil
}

// Start schedules the expired-handoff purge job.
func (m *Manager) Start() error {
	if m.cron != nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(m.cfg.PurgeSpec, func() {
		m.purgeExpired(context.Background())
	}); err != nil {
		return fmt.Errorf("schedule handoff purge: %w", err)
	}
	c.Start()
	m.cron = c
	return nil
}

// Stop halts the purge job.
func (m *Manager) Stop() {
	if m.cron != nil {
		m.cron.Stop()
	}
}

// Current returns a snapshot of the session.
func (m *Manager) Current() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}

// Connect establishes a session with the given provider. Legal only from
// Disconnected. An undetected provider that supports deep linking starts
// the mobile handoff flow instead of failing outright.
func (m *Manager) Connect(ctx context.Context, providerID string) (Session, error) {
	m.mu.Lock()
	switch m.cur.State {
	case StateConnecting, StateDisconnecting:
		m.mu.Unlock()
		return Session{}, settlement.NewError(settlement.KindConnectionPending,
			"a connect attempt is already in flight")
	case StateConnected:
		m.mu.Unlock()
		return Session{}, settlement.NewError(settlement.KindInvalidRequest,
			"already connected; disconnect first")
	}

	desc, ok := m.cfg.Catalog.Get(providerID)
	if !ok {
		m.mu.Unlock()
		return Session{}, settlement.NewError(settlement.KindProviderNotInstalled,
			fmt.Sprintf("unknown provider %q", providerID))
	}

	switch desc.Readiness {
	case wallet.ReadinessInstalled:
	case wallet.ReadinessUnsupported:
		m.mu.Unlock()
		return Session{}, settlement.NewError(settlement.KindProviderNotInstalled,
			fmt.Sprintf("provider %q is disabled for this deployment", providerID))
	default:
		m.mu.Unlock()
		if desc.MobileDeepLink {
			return Session{}, m.beginHandoff(ctx, providerID)
		}
		return Session{}, settlement.NewError(settlement.KindProviderNotInstalled,
			fmt.Sprintf("provider %q is not detected", providerID))
	}

	m.generation++
	gen := m.generation
	m.cur = Session{ID: uuid.New(), ProviderID: providerID, State: StateConnecting}
	m.mu.Unlock()

	provider, ok := m.cfg.Catalog.Provider(providerID)
	if !ok {
		m.reset(gen)
		return Session{}, settlement.NewError(settlement.KindProviderNotInstalled,
			fmt.Sprintf("provider %q dropped between scan and connect", providerID))
	}

	account, err := m.connectWithTimeout(ctx, provider)
	if err != nil {
		m.reset(gen)
		return Session{}, err
	}

	m.mu.Lock()
	if m.generation != gen || m.cur.State != StateConnecting {
		// Disconnected while the provider call was in flight.
		m.mu.Unlock()
		return Session{}, settlement.NewError(settlement.KindConnectionPending,
			"connect attempt superseded")
	}
	m.cur.State = StateConnected
	m.cur.Account = account
	m.cur.ConnectedAt = time.Now()
	m.provider = provider
	m.signer = provider.Signer()
	sess := m.cur
	m.mu.Unlock()

	m.watchAccount(provider, gen)

	m.emit(ctx, events.TopicSessionConnected, sess, "connect")
	m.log.Info("wallet connected", "provider", providerID, "account", account.Address)
	return sess, nil
}

// Disconnect tears the session down. It always reaches Disconnected even
// when the provider call fails; from Disconnected it is a no-op and emits
// nothing.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.cur.State == StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	m.cur.State = StateDisconnecting
	providerID := m.cur.ProviderID
	provider := m.provider
	cancel := m.watchCancel
	m.watchCancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if provider != nil {
		dctx, done := context.WithTimeout(ctx, 5*time.Second)
		if err := provider.Disconnect(dctx); err != nil {
			m.log.Warn("provider disconnect failed", "provider", providerID, "error", err)
		}
		done()
	}

	m.mu.Lock()
	m.generation++
	m.cur = Session{State: StateDisconnected}
	m.provider = nil
	m.signer = nil
	m.mu.Unlock()

	m.emit(ctx, events.TopicSessionDisconnected, nil, "disconnect")
	m.log.Info("wallet disconnected")
	return nil
}

// ActiveSigner returns the connected session's signer, verifying the
// session account matches when one is given.
func (m *Manager) ActiveSigner(account string) (wallet.Signer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur.State != StateConnected || m.signer == nil {
		return nil, settlement.NewError(settlement.KindNoActiveSession,
			"no connected wallet session")
	}
	if account != "" && m.cur.Account.Address != account {
		return nil, settlement.NewError(settlement.KindNoActiveSession,
			"session account does not match the requested account")
	}
	return m.signer, nil
}

// Resume completes an interrupted mobile handoff on host activation. With
// no pending handoff it is a no-op. An unexpired record drives silent
// re-detection under the backoff schedule; exhaustion purges the record.
func (m *Manager) Resume(ctx context.Context) (Session, error) {
	h, ok, err := m.cfg.Handoffs.Load(ctx)
	if err != nil {
		return m.Current(), fmt.Errorf("load handoff: %w", err)
	}
	if !ok {
		return m.Current(), nil
	}
	if h.Expired(time.Now()) {
		if err := m.cfg.Handoffs.Clear(ctx); err != nil {
			m.log.Warn("expired handoff purge failed", "error", err)
		}
		m.log.Info("expired handoff purged", "provider", h.ProviderID)
		return m.Current(), nil
	}

	m.log.Info("resuming handoff", "provider", h.ProviderID)
	err = m.cfg.ResumeRetry.Do(ctx, func(ctx context.Context) error {
		m.cfg.Catalog.NotifyActivated(ctx)
		d, found := m.cfg.Catalog.Get(h.ProviderID)
		if !found || d.Readiness != wallet.ReadinessInstalled {
			return fmt.Errorf("provider %s not detected", h.ProviderID)
		}
		return nil
	})
	if err != nil {
		if cerr := m.cfg.Handoffs.Clear(ctx); cerr != nil {
			m.log.Warn("handoff purge failed", "error", cerr)
		}
		return m.Current(), settlement.WrapError(settlement.KindProviderNotInstalled,
			"wallet did not become detectable after handoff", err)
	}

	sess, err := m.Connect(ctx, h.ProviderID)
	if err != nil {
		// The record stays for the next activation; TTL bounds it.
		return m.Current(), err
	}

	if err := m.cfg.Handoffs.Clear(ctx); err != nil {
		m.log.Warn("handoff clear failed", "error", err)
	}
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.SessionEvent("resume")
	}
	return sess, nil
}

// beginHandoff records the pending handoff and reports the redirect
// targets to the caller.
func (m *Manager) beginHandoff(ctx context.Context, providerID string) error {
	integ, err := m.cfg.Catalog.Integration(providerID)
	if err != nil || !integ.DeepLinkCapable() {
		return settlement.NewError(settlement.KindProviderNotInstalled,
			fmt.Sprintf("provider %q has no mobile handoff", providerID))
	}

	h := Handoff{ProviderID: providerID, InitiatedAt: time.Now(), TTL: m.cfg.HandoffTTL}
	if err := m.cfg.Handoffs.Save(ctx, h); err != nil {
		m.log.Warn("handoff save failed", "provider", providerID, "error", err)
	}
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.SessionEvent("handoff")
	}
	m.log.Info("mobile handoff started", "provider", providerID)

	return settlement.WrapError(settlement.KindHandoffPending,
		"control handed to the wallet application",
		&HandoffStarted{
			ProviderID: providerID,
			DeepLink:   integ.ConnectDeepLink(m.cfg.DeepLinkCallback),
			InstallURL: integ.InstallURL,
			Grace:      m.cfg.HandoffGrace,
		})
}

type connectOutcome struct {
	account wallet.Account
	err     error
}

// connectWithTimeout races the provider's connect call against the
// configured timeout. A late answer from a timed-out call is discarded.
func (m *Manager) connectWithTimeout(ctx context.Context, provider wallet.Provider) (wallet.Account, error) {
	done := make(chan connectOutcome, 1)
	go func() {
		account, err := provider.Connect(ctx)
		done <- connectOutcome{account: account, err: err}
	}()

	timer := time.NewTimer(m.cfg.ConnectTimeout)
	defer timer.Stop()

	var out connectOutcome
	select {
	case out = <-done:
	case <-timer.C:
		return wallet.Account{}, settlement.NewError(settlement.KindSigningTimeout,
			"provider did not answer the connect request")
	case <-ctx.Done():
		return wallet.Account{}, settlement.WrapError(settlement.KindSigningTimeout,
			"connect interrupted", ctx.Err())
	}

	if out.err != nil {
		var rejected *wallet.ErrUserRejected
		if errors.As(out.err, &rejected) {
			return wallet.Account{}, settlement.WrapError(settlement.KindUserRejected,
				"user declined the connection", out.err)
		}
		return wallet.Account{}, settlement.WrapError(settlement.KindProviderNotInstalled,
			"provider connect failed", out.err)
	}
	return out.account, nil
}

// watchAccount subscribes to provider account-change pushes when the
// provider supports them. Changes update the snapshot without altering
// the coarse state.
func (m *Manager) watchAccount(provider wallet.Provider, gen uint64) {
	watcher, ok := provider.(wallet.AccountWatcher)
	if !ok {
		return
	}

	wctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.watchCancel = cancel
	m.mu.Unlock()

	go func() {
		err := watcher.WatchAccount(wctx, func(account wallet.Account) {
			m.mu.Lock()
			if m.generation != gen || m.cur.State != StateConnected {
				m.mu.Unlock()
				return
			}
			m.cur.Account = account
			sess := m.cur
			m.mu.Unlock()

			m.emit(wctx, events.TopicAccountChanged, sess, "account_changed")
			m.log.Info("wallet account changed", "provider", sess.ProviderID, "account", account.Address)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			m.log.Debug("account watch ended", "error", err)
		}
	}()
}

// reset returns the session to Disconnected, unless a newer attempt has
// taken over.
func (m *Manager) reset(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != gen {
		return
	}
	m.cur = Session{State: StateDisconnected}
	m.provider = nil
	m.signer = nil
}

func (m *Manager) purgeExpired(ctx context.Context) {
	h, ok, err := m.cfg.Handoffs.Load(ctx)
	if err != nil {
		m.log.Debug("handoff purge load failed", "error", err)
		return
	}
	if !ok || !h.Expired(time.Now()) {
		return
	}
	if err := m.cfg.Handoffs.Clear(ctx); err != nil {
		m.log.Warn("expired handoff purge failed", "error", err)
		return
	}
	m.log.Info("expired handoff purged", "provider", h.ProviderID)
}

func (m *Manager) emit(ctx context.Context, topic events.Topic, data any, event string) {
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.SessionEvent(event)
	}
	if m.cfg.Bus != nil {
		_ = m.cfg.Bus.Publish(ctx, topic, "session", data)
	}
}
