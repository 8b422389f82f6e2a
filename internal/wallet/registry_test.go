package wallet

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mintmesh/wallet_layer/internal/events"
)

type fakeProvider struct {
	id string
}

func (p *fakeProvider) ID() string                                   { return p.id }
func (p *fakeProvider) Connect(ctx context.Context) (Account, error) { return Account{Address: "a"}, nil }
func (p *fakeProvider) Disconnect(ctx context.Context) error         { return nil }
func (p *fakeProvider) Signer() Signer                               { return nil }

func probeResult(detected bool, err error) func(ctx context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) { return detected, err }
}

func testIntegration(id string, probe func(ctx context.Context) (bool, error)) Integration {
	return Integration{
		ID:          id,
		DisplayName: id,
		InstallURL:  "https://" + id + ".example",
		Probe:       probe,
		NewProvider: func() Provider { return &fakeProvider{id: id} },
	}
}

func newTestRegistry(integrations []Integration, bus *events.Bus) *Registry {
	return NewRegistry(RegistryConfig{
		Integrations: integrations,
		Bus:          bus,
		ProbeTimeout: 100 * time.Millisecond,
	})
}

func TestScan_ClassifiesReadiness(t *testing.T) {
	integrations := []Integration{
		testIntegration("up", probeResult(true, nil)),
		testIntegration("down", probeResult(false, nil)),
		{ID: "mobileonly", DisplayName: "Mobile Only", DeepLinkScheme: "mo://"},
		{ID: "blocked", DisplayName: "Blocked", Disabled: true},
	}

	r := newTestRegistry(integrations, nil)
	descriptors := r.Scan(context.Background())

	want := map[string]Readiness{
		"up":         ReadinessInstalled,
		"down":       ReadinessNotDetected,
		"mobileonly": ReadinessLoadable,
		"blocked":    ReadinessUnsupported,
	}
	if len(descriptors) != len(want) {
		t.Fatalf("Scan() returned %d descriptors, want %d", len(descriptors), len(want))
	}
	for _, d := range descriptors {
		if d.Readiness != want[d.ID] {
			t.Errorf("%s readiness = %s, want %s", d.ID, d.Readiness, want[d.ID])
		}
	}
}

func TestScan_ProbeErrorIsNotDetected(t *testing.T) {
	r := newTestRegistry([]Integration{
		testIntegration("flaky", probeResult(false, errors.New("probe exploded"))),
	}, nil)

	descriptors := r.Scan(context.Background())
	if descriptors[0].Readiness != ReadinessNotDetected {
		t.Errorf("readiness = %s, want %s", descriptors[0].Readiness, ReadinessNotDetected)
	}
}

func TestScan_ProbePanicIsNotDetected(t *testing.T) {
	r := newTestRegistry([]Integration{
		testIntegration("angry", func(ctx context.Context) (bool, error) {
			panic("detection gone wrong")
		}),
	}, nil)

	descriptors := r.Scan(context.Background())
	if descriptors[0].Readiness != ReadinessNotDetected {
		t.Errorf("readiness = %s, want %s", descriptors[0].Readiness, ReadinessNotDetected)
	}
}

func TestScan_PublishesOnlyOnChange(t *testing.T) {
	var detected atomic.Bool
	detected.Store(false)

	bus := events.NewBus()
	var published atomic.Int64
	bus.Subscribe(events.TopicProvidersChanged, func(ctx context.Context, ev events.Event) {
		published.Add(1)
	})

	r := newTestRegistry([]Integration{
		testIntegration("w", func(ctx context.Context) (bool, error) {
			return detected.Load(), nil
		}),
	}, bus)

	ctx := context.Background()
	r.Scan(ctx) // nil -> [w:not_detected]: change
	r.Scan(ctx) // same set: no event
	detected.Store(true)
	r.Scan(ctx) // readiness flips: change

	deadline := time.Now().Add(time.Second)
	for published.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := published.Load(); n != 2 {
		t.Errorf("providers.changed published %d times, want 2", n)
	}
}

func TestScan_InstalledProviderAvailable(t *testing.T) {
	r := newTestRegistry([]Integration{
		testIntegration("up", probeResult(true, nil)),
	}, nil)
	r.Scan(context.Background())

	p, ok := r.Provider("up")
	if !ok {
		t.Fatal("Provider() not found after successful probe")
	}
	if p.ID() != "up" {
		t.Errorf("Provider().ID() = %s, want up", p.ID())
	}

	if _, ok := r.Provider("ghost"); ok {
		t.Error("Provider() should not return unknown providers")
	}
}

func TestScan_ProviderDroppedWhenUndetected(t *testing.T) {
	var detected atomic.Bool
	detected.Store(true)

	r := newTestRegistry([]Integration{
		testIntegration("w", func(ctx context.Context) (bool, error) {
			return detected.Load(), nil
		}),
	}, nil)

	ctx := context.Background()
	r.Scan(ctx)
	if _, ok := r.Provider("w"); !ok {
		t.Fatal("provider should be cached while installed")
	}

	detected.Store(false)
	r.Scan(ctx)
	if _, ok := r.Provider("w"); ok {
		t.Error("provider should be dropped once undetected")
	}
}

func TestGetAndInstalled(t *testing.T) {
	r := newTestRegistry([]Integration{
		testIntegration("up", probeResult(true, nil)),
		testIntegration("down", probeResult(false, nil)),
	}, nil)
	r.Scan(context.Background())

	d, ok := r.Get("down")
	if !ok || d.Readiness != ReadinessNotDetected {
		t.Errorf("Get(down) = %+v, %v", d, ok)
	}
	if _, ok := r.Get("nope"); ok {
		t.Error("Get(nope) should miss")
	}

	installed := r.Installed()
	if len(installed) != 1 || installed[0].ID != "up" {
		t.Errorf("Installed() = %+v, want [up]", installed)
	}
}

func TestNotifyActivated_Rescans(t *testing.T) {
	var calls atomic.Int64
	r := newTestRegistry([]Integration{
		testIntegration("w", func(ctx context.Context) (bool, error) {
			calls.Add(1)
			return false, nil
		}),
	}, nil)

	ctx := context.Background()
	r.Scan(ctx)
	r.NotifyActivated(ctx)
	if n := calls.Load(); n != 2 {
		t.Errorf("probe called %d times, want 2", n)
	}
}

func TestConnectDeepLink(t *testing.T) {
	integ := Integration{ID: "lumen", DeepLinkScheme: "lumen://"}
	got := integ.ConnectDeepLink("https://app.example/return?x=1")
	want := "lumen://connect?callback=https%3A%2F%2Fapp.example%2Freturn%3Fx%3D1"
	if got != want {
		t.Errorf("ConnectDeepLink() = %q, want %q", got, want)
	}

	if (Integration{ID: "x"}).ConnectDeepLink("cb") != "" {
		t.Error("ConnectDeepLink() without scheme should be empty")
	}
}
