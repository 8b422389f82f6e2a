package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mintmesh/wallet_layer/internal/events"
	"github.com/mintmesh/wallet_layer/internal/history"
	"github.com/mintmesh/wallet_layer/internal/session"
	"github.com/mintmesh/wallet_layer/internal/settlement"
	"github.com/mintmesh/wallet_layer/internal/wallet"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeProviders struct {
	list        []wallet.Descriptor
	activations int
}

func (f *fakeProviders) Descriptors() []wallet.Descriptor { return f.list }
func (f *fakeProviders) NotifyActivated(ctx context.Context) []wallet.Descriptor {
	f.activations++
	return f.list
}

type fakeSessions struct {
	cur       session.Session
	connectFn func(providerID string) (session.Session, error)
	resumeFn  func() (session.Session, error)
}

func (f *fakeSessions) Current() session.Session { return f.cur }

func (f *fakeSessions) Connect(ctx context.Context, providerID string) (session.Session, error) {
	return f.connectFn(providerID)
}

func (f *fakeSessions) Disconnect(ctx context.Context) error {
	f.cur = session.Session{State: session.StateDisconnected}
	return nil
}

func (f *fakeSessions) Resume(ctx context.Context) (session.Session, error) {
	if f.resumeFn != nil {
		return f.resumeFn()
	}
	return f.cur, nil
}

type fakeSettler struct {
	got settlement.PurchaseRequest
	res settlement.Result
}

func (f *fakeSettler) Settle(ctx context.Context, req settlement.PurchaseRequest) settlement.Result {
	f.got = req
	return f.res
}

type fakeHistory struct {
	records []history.Record
}

func (f *fakeHistory) Recent(ctx context.Context, limit int) ([]history.Record, error) {
	if limit < len(f.records) {
		return f.records[:limit], nil
	}
	return f.records, nil
}

func testServer(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()
	if cfg.Providers == nil {
		cfg.Providers = &fakeProviders{}
	}
	if cfg.Sessions == nil {
		cfg.Sessions = &fakeSessions{cur: session.Session{State: session.StateDisconnected}}
	}
	if cfg.Settler == nil {
		cfg.Settler = &fakeSettler{}
	}
	srv := httptest.NewServer(NewServer(cfg))
	t.Cleanup(srv.Close)
	return srv
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

// =============================================================================
// Tests
// =============================================================================

func TestListProviders(t *testing.T) {
	providers := &fakeProviders{list: []wallet.Descriptor{
		{ID: "lumen", Readiness: wallet.ReadinessInstalled},
		{ID: "pocketsig", Readiness: wallet.ReadinessLoadable, MobileDeepLink: true},
	}}
	srv := testServer(t, Config{Providers: providers})

	resp, err := http.Get(srv.URL + "/v1/providers")
	if err != nil {
		t.Fatalf("GET /v1/providers: %v", err)
	}
	got := decode[[]wallet.Descriptor](t, resp)
	if len(got) != 2 || got[0].ID != "lumen" {
		t.Errorf("providers = %+v", got)
	}
}

func TestConnect(t *testing.T) {
	sessions := &fakeSessions{
		connectFn: func(providerID string) (session.Session, error) {
			return session.Session{ProviderID: providerID, State: session.StateConnected}, nil
		},
	}
	srv := testServer(t, Config{Sessions: sessions})

	resp, err := http.Post(srv.URL+"/v1/session/connect", "application/json",
		strings.NewReader(`{"provider_id":"lumen"}`))
	if err != nil {
		t.Fatalf("POST connect: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	got := decode[session.Session](t, resp)
	if got.State != session.StateConnected || got.ProviderID != "lumen" {
		t.Errorf("session = %+v", got)
	}
}

func TestConnect_HandoffAnswers202(t *testing.T) {
	sessions := &fakeSessions{
		connectFn: func(providerID string) (session.Session, error) {
			return session.Session{}, settlement.WrapError(settlement.KindHandoffPending,
				"control handed to the wallet application",
				&session.HandoffStarted{
					ProviderID: providerID,
					DeepLink:   "pocketsig://connect?callback=x",
					InstallURL: "https://pocketsig.app",
					Grace:      2500 * time.Millisecond,
				})
		},
	}
	srv := testServer(t, Config{Sessions: sessions})

	resp, err := http.Post(srv.URL+"/v1/session/connect", "application/json",
		strings.NewReader(`{"provider_id":"pocketsig"}`))
	if err != nil {
		t.Fatalf("POST connect: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	got := decode[handoffResponse](t, resp)
	if got.DeepLink != "pocketsig://connect?callback=x" || got.GraceMs != 2500 {
		t.Errorf("handoff = %+v", got)
	}
}

func TestConnect_PendingAnswers409(t *testing.T) {
	sessions := &fakeSessions{
		connectFn: func(providerID string) (session.Session, error) {
			return session.Session{}, settlement.NewError(settlement.KindConnectionPending,
				"a connect attempt is already in flight")
		},
	}
	srv := testServer(t, Config{Sessions: sessions})

	resp, err := http.Post(srv.URL+"/v1/session/connect", "application/json",
		strings.NewReader(`{"provider_id":"lumen"}`))
	if err != nil {
		t.Fatalf("POST connect: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestResume_TriggersActivationScan(t *testing.T) {
	providers := &fakeProviders{}
	srv := testServer(t, Config{Providers: providers})

	resp, err := http.Post(srv.URL+"/v1/session/resume", "application/json", nil)
	if err != nil {
		t.Fatalf("POST resume: %v", err)
	}
	resp.Body.Close()
	if providers.activations != 1 {
		t.Errorf("activation scans = %d, want 1", providers.activations)
	}
}

func TestSettle(t *testing.T) {
	settler := &fakeSettler{res: settlement.Result{
		ID:        "res-1",
		Outcome:   settlement.OutcomeSuccess,
		Reference: "tx-abc",
	}}
	srv := testServer(t, Config{Settler: settler})

	body := `{"buyer_account":"b","seller_account":"s","asset_ref":"asset-1","price":"10.00"}`
	resp, err := http.Post(srv.URL+"/v1/settlements", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST settlements: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	got := decode[settleResult](t, resp)
	if got.Reference != "tx-abc" {
		t.Errorf("reference = %s", got.Reference)
	}
	if settler.got.Price != 10_000_000_000 {
		t.Errorf("price = %d, want 10000000000", settler.got.Price)
	}
}

func TestSettle_InsufficientFundsAnswers402(t *testing.T) {
	failure := settlement.Result{
		Outcome:   settlement.OutcomeFailure,
		ErrorKind: settlement.KindInsufficientFunds,
		Err: &settlement.Error{
			Kind:      settlement.KindInsufficientFunds,
			Message:   "balance too low",
			Shortfall: 5_000_000_000,
		},
	}
	srv := testServer(t, Config{Settler: &fakeSettler{res: failure}})

	body := `{"buyer_account":"b","seller_account":"s","asset_ref":"a","price":"10.00"}`
	resp, err := http.Post(srv.URL+"/v1/settlements", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST settlements: %v", err)
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", resp.StatusCode)
	}
	got := decode[settleResult](t, resp)
	if got.Shortfall != 5_000_000_000 {
		t.Errorf("shortfall = %d", got.Shortfall)
	}
}

func TestSettle_BadPrice(t *testing.T) {
	srv := testServer(t, Config{})

	body := `{"buyer_account":"b","seller_account":"s","asset_ref":"a","price":"-1"}`
	resp, err := http.Post(srv.URL+"/v1/settlements", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST settlements: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRecent(t *testing.T) {
	store := &fakeHistory{records: []history.Record{{ID: "id-1"}, {ID: "id-2"}}}
	srv := testServer(t, Config{History: store})

	resp, err := http.Get(srv.URL + "/v1/settlements/recent?limit=1")
	if err != nil {
		t.Fatalf("GET recent: %v", err)
	}
	got := decode[[]history.Record](t, resp)
	if len(got) != 1 || got[0].ID != "id-1" {
		t.Errorf("records = %+v", got)
	}

	resp, err = http.Get(srv.URL + "/v1/settlements/recent?limit=0")
	if err != nil {
		t.Fatalf("GET recent: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("limit=0 status = %d, want 400", resp.StatusCode)
	}
}

func TestRecent_DisabledHistory(t *testing.T) {
	srv := testServer(t, Config{})

	resp, err := http.Get(srv.URL + "/v1/settlements/recent")
	if err != nil {
		t.Fatalf("GET recent: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestEventsStream(t *testing.T) {
	bus := events.NewBus()
	srv := testServer(t, Config{Bus: bus})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Give the subscription a moment to register before publishing.
	time.Sleep(20 * time.Millisecond)
	_ = bus.Publish(context.Background(), events.TopicSessionConnected, "session",
		map[string]string{"provider_id": "lumen"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev events.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Topic != events.TopicSessionConnected {
		t.Errorf("topic = %s, want %s", ev.Topic, events.TopicSessionConnected)
	}
}
