package wallet

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// Integration describes one statically known wallet and how to detect and
// drive it. The set of integrations is fixed at build time; detection state
// is what changes at runtime.
type Integration struct {
	ID          string
	DisplayName string
	InstallURL  string
	// DeepLinkScheme is the mobile application scheme, e.g. "lumen://".
	// Empty when the wallet has no mobile deep link.
	DeepLinkScheme string
	// Probe reports whether the provider is reachable right now. A nil
	// Probe means the wallet is never locally detectable (deep link only).
	Probe func(ctx context.Context) (bool, error)
	// NewProvider builds the provider once the probe succeeds.
	NewProvider func() Provider
	// Disabled marks the integration unsupported for this deployment.
	Disabled bool
}

// DeepLinkCapable reports whether the integration supports the mobile
// handoff flow.
func (i Integration) DeepLinkCapable() bool {
	return i.DeepLinkScheme != ""
}

// ConnectDeepLink builds the wallet-app link that resumes the connect flow
// out of process. callback is where the wallet sends the user back.
func (i Integration) ConnectDeepLink(callback string) string {
	if i.DeepLinkScheme == "" {
		return ""
	}
	return i.DeepLinkScheme + "connect?callback=" + url.QueryEscape(callback)
}

// BridgeConfig configures a wallet reachable over a local HTTP bridge,
// which is how desktop wallet applications expose themselves to clients.
type BridgeConfig struct {
	ID          string
	DisplayName string
	InstallURL  string
	DeepLink    string
	BridgeURL   string
	Timeout     time.Duration
}

// NewBridgeIntegration builds an integration for a local-bridge wallet.
func NewBridgeIntegration(cfg BridgeConfig) Integration {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 2 * time.Second
	}

	client := newBridgeClient(cfg.BridgeURL, timeout)

	return Integration{
		ID:             cfg.ID,
		DisplayName:    cfg.DisplayName,
		InstallURL:     cfg.InstallURL,
		DeepLinkScheme: cfg.DeepLink,
		Probe: func(ctx context.Context) (bool, error) {
			return client.probe(ctx)
		},
		NewProvider: func() Provider {
			return newBridgeProvider(cfg.ID, client)
		},
	}
}

// DefaultIntegrations returns the fixed set of well-known wallets.
// Bridge ports follow each vendor's published defaults.
func DefaultIntegrations() []Integration {
	return []Integration{
		NewBridgeIntegration(BridgeConfig{
			ID:          "lumen",
			DisplayName: "Lumen Wallet",
			InstallURL:  "https://lumenwallet.app/download",
			DeepLink:    "lumen://",
			BridgeURL:   "http://127.0.0.1:8317",
		}),
		NewBridgeIntegration(BridgeConfig{
			ID:          "driftpay",
			DisplayName: "DriftPay",
			InstallURL:  "https://driftpay.io/get",
			DeepLink:    "driftpay://",
			BridgeURL:   "http://127.0.0.1:8429",
		}),
		NewBridgeIntegration(BridgeConfig{
			ID:          "havenkey",
			DisplayName: "HavenKey",
			InstallURL:  "https://havenkey.com/install",
			BridgeURL:   "http://127.0.0.1:8561",
		}),
		NewBridgeIntegration(BridgeConfig{
			ID:          "atlasvault",
			DisplayName: "Atlas Vault",
			InstallURL:  "https://atlasvault.xyz/app",
			DeepLink:    "atlasvault://",
			BridgeURL:   "http://127.0.0.1:8673",
		}),
		// Mobile-only wallet: never locally detectable, deep link only.
		{
			ID:             "pocketsig",
			DisplayName:    "PocketSig",
			InstallURL:     "https://pocketsig.app",
			DeepLinkScheme: "pocketsig://",
			NewProvider:    nil,
		},
	}
}

// FindIntegration returns the integration with the given id.
func FindIntegration(integrations []Integration, id string) (Integration, error) {
	for _, integ := range integrations {
		if integ.ID == id {
			return integ, nil
		}
	}
	return Integration{}, fmt.Errorf("unknown provider: %s", id)
}
