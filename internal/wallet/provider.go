// Package wallet defines wallet provider integrations and the registry that
// detects which providers are reachable from the running process.
package wallet

import "context"

// Readiness classifies how a provider can be used right now.
type Readiness string

const (
	// ReadinessInstalled means the provider answered its detection probe.
	ReadinessInstalled Readiness = "installed"
	// ReadinessNotDetected means the probe found nothing.
	ReadinessNotDetected Readiness = "not_detected"
	// ReadinessLoadable means the provider is not locally reachable but can
	// be brought in through a deep link or install flow.
	ReadinessLoadable Readiness = "loadable"
	// ReadinessUnsupported means the provider is disabled for this
	// deployment and must not be connected.
	ReadinessUnsupported Readiness = "unsupported"
)

// Descriptor is an immutable snapshot of one provider's detection state.
// Identity is ID; a new snapshot is produced on every scan.
type Descriptor struct {
	ID             string    `json:"id"`
	DisplayName    string    `json:"display_name"`
	InstallURL     string    `json:"install_url"`
	Readiness      Readiness `json:"readiness"`
	MobileDeepLink bool      `json:"mobile_deep_link"`
}

// Account identifies the wallet account a provider exposes after connecting.
type Account struct {
	Address string `json:"address"`
}

// Provider is the normalized call surface over one connected wallet.
type Provider interface {
	ID() string
	Connect(ctx context.Context) (Account, error)
	Disconnect(ctx context.Context) error
	// Signer returns the signing capability resolved at detection time.
	Signer() Signer
}

// Signer is a marker for a provider's signing capability. Concrete values
// implement exactly one of TransactionSigner or TransactionSender.
type Signer interface {
	signerCapability()
}

// TransactionSigner signs a transaction payload and returns the signed
// bytes; broadcasting is the caller's job.
type TransactionSigner interface {
	Signer
	SignTransaction(ctx context.Context, payload []byte) ([]byte, error)
}

// TransactionSender signs and broadcasts in one provider call, returning
// the transaction id.
type TransactionSender interface {
	Signer
	SignAndSend(ctx context.Context, payload []byte) (string, error)
}

// AccountWatcher is implemented by providers that push account-change
// notifications (the user switches accounts inside the wallet).
type AccountWatcher interface {
	WatchAccount(ctx context.Context, onChange func(Account)) error
}

// ErrUserRejected is returned by providers when the user declines a
// connect or signing prompt.
type ErrUserRejected struct{ Op string }

func (e *ErrUserRejected) Error() string {
	return "user rejected " + e.Op
}
