package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/synthpool/margin-engine/internal/custody"
	"github.com/synthpool/margin-engine/internal/ledger"
	"github.com/synthpool/margin-engine/internal/model"
	"github.com/synthpool/margin-engine/internal/oracle"
	"github.com/synthpool/margin-engine/internal/server"
	"github.com/synthpool/margin-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type testEnv struct {
	svc    *server.Service
	ledger *ledger.Ledger
	store  *store.MemoryStore
	prices *oracle.StaticSource
	router chi.Router
}

// newTestEnv creates a Service backed by an in-memory store, custodian,
// and static price source, with two whitelisted tokens.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	prices := oracle.NewStaticSource()
	prices.Set("WETH", d(300))
	prices.Set("USDC", d(1))

	bank := custody.NewInMemory()
	lg := ledger.New(ledger.DefaultParams(), prices, bank)
	lg.SetClock(func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) })
	for _, cfg := range []model.AssetConfig{
		{Symbol: "WETH", Decimals: 18, Weight: 60, IsShortable: true},
		{Symbol: "USDC", Decimals: 6, Weight: 40, IsStable: true},
	} {
		if err := lg.SetAssetConfig(cfg); err != nil {
			t.Fatal(err)
		}
	}

	ms := store.NewMemoryStore()
	svc := server.NewService(lg, ms, bank, nil)

	r := chi.NewRouter()
	r.Mount("/api/v1", svc.Routes())
	return &testEnv{svc: svc, ledger: lg, store: ms, prices: prices, router: r}
}

func (e *testEnv) post(t *testing.T, path, account string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, _ := json.Marshal(body)
	req := httptest.NewRequest("POST", path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	if account != "" {
		req.Header.Set("X-Account", account)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
	return w
}

func TestBuyStableEndpoint(t *testing.T) {
	e := newTestEnv(t)

	w := e.post(t, "/api/v1/stable/buy", "", server.BuyStableRequest{
		Token: "WETH", Amount: d(100), Receiver: "lp",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp ledger.BuyReceipt
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Minted.Equal(d(29910)) {
		t.Errorf("minted: got %s, want 29910", resp.Minted)
	}

	// Write-behind store must mirror the committed state.
	a, err := e.store.GetAssetState(context.Background(), "WETH")
	if err != nil {
		t.Fatalf("store state: %v", err)
	}
	if !a.PoolAmount.Equal(d(99.7)) {
		t.Errorf("persisted pool: got %s, want 99.7", a.PoolAmount)
	}
	supply, _ := e.store.LoadStableUnitSupply(context.Background())
	if !supply.Equal(d(29910)) {
		t.Errorf("persisted supply: got %s, want 29910", supply)
	}
}

func TestBuyStableRejectsUnknownToken(t *testing.T) {
	e := newTestEnv(t)
	w := e.post(t, "/api/v1/stable/buy", "", server.BuyStableRequest{
		Token: "DOGE", Amount: d(10), Receiver: "lp",
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestBuyStableRejectsZeroAmount(t *testing.T) {
	e := newTestEnv(t)
	w := e.post(t, "/api/v1/stable/buy", "", server.BuyStableRequest{
		Token: "WETH", Receiver: "lp",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestIncreaseAndQueryPosition(t *testing.T) {
	e := newTestEnv(t)
	e.post(t, "/api/v1/stable/buy", "", server.BuyStableRequest{
		Token: "WETH", Amount: d(100), Receiver: "lp",
	})

	w := e.post(t, "/api/v1/positions/increase", "alice", server.IncreaseRequest{
		Account: "alice", CollateralToken: "WETH", IndexToken: "WETH",
		Side: model.Long, CollateralAmount: d(10), SizeDelta: d(9000),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var receipt ledger.IncreaseReceipt
	json.Unmarshal(w.Body.Bytes(), &receipt)
	if !receipt.Collateral.Equal(d(2991)) {
		t.Errorf("collateral: got %s, want 2991", receipt.Collateral)
	}

	w = e.get(t, "/api/v1/positions/alice")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var positions []model.Position
	json.Unmarshal(w.Body.Bytes(), &positions)
	if len(positions) != 1 || !positions[0].Size.Equal(d(9000)) {
		t.Errorf("positions: got %+v", positions)
	}

	// Persisted copy matches.
	key := model.PositionKey("alice", "WETH", "WETH", model.Long)
	p, err := e.store.GetPosition(context.Background(), key)
	if err != nil {
		t.Fatalf("store position: %v", err)
	}
	if !p.Size.Equal(d(9000)) {
		t.Errorf("persisted size: got %s, want 9000", p.Size)
	}
}

func TestIncreaseRequiresOwner(t *testing.T) {
	e := newTestEnv(t)
	w := e.post(t, "/api/v1/positions/increase", "mallory", server.IncreaseRequest{
		Account: "alice", CollateralToken: "WETH", IndexToken: "WETH",
		Side: model.Long, CollateralAmount: d(10), SizeDelta: d(9000),
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
}

func TestDecreaseClosesAndDeletesPersisted(t *testing.T) {
	e := newTestEnv(t)
	e.post(t, "/api/v1/stable/buy", "", server.BuyStableRequest{
		Token: "WETH", Amount: d(100), Receiver: "lp",
	})
	e.post(t, "/api/v1/positions/increase", "alice", server.IncreaseRequest{
		Account: "alice", CollateralToken: "WETH", IndexToken: "WETH",
		Side: model.Long, CollateralAmount: d(10), SizeDelta: d(9000),
	})

	w := e.post(t, "/api/v1/positions/decrease", "alice", server.DecreaseRequest{
		Account: "alice", CollateralToken: "WETH", IndexToken: "WETH",
		Side: model.Long, SizeDelta: d(9000),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var receipt ledger.DecreaseReceipt
	json.Unmarshal(w.Body.Bytes(), &receipt)
	if !receipt.Closed {
		t.Error("expected full close")
	}

	key := model.PositionKey("alice", "WETH", "WETH", model.Long)
	if _, err := e.store.GetPosition(context.Background(), key); err == nil {
		t.Error("expected persisted position deleted after close")
	}
}

func TestLiquidateIsPermissionless(t *testing.T) {
	e := newTestEnv(t)
	e.post(t, "/api/v1/stable/buy", "", server.BuyStableRequest{
		Token: "WETH", Amount: d(100), Receiver: "lp",
	})
	e.post(t, "/api/v1/positions/increase", "alice", server.IncreaseRequest{
		Account: "alice", CollateralToken: "WETH", IndexToken: "WETH",
		Side: model.Long, CollateralAmount: d(10), SizeDelta: d(9000),
	})
	e.prices.Set("WETH", d(200))

	// No X-Account header: liquidation is open to any keeper.
	w := e.post(t, "/api/v1/positions/liquidate", "", server.LiquidateRequest{
		Account: "alice", CollateralToken: "WETH", IndexToken: "WETH",
		Side: model.Long, FeeReceiver: "keeper",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var receipt ledger.LiquidationReceipt
	json.Unmarshal(w.Body.Bytes(), &receipt)
	if receipt.ReasonText != "underwater" {
		t.Errorf("reason: got %q, want underwater", receipt.ReasonText)
	}
}

func TestLiquidateHealthyConflicts(t *testing.T) {
	e := newTestEnv(t)
	e.post(t, "/api/v1/stable/buy", "", server.BuyStableRequest{
		Token: "WETH", Amount: d(100), Receiver: "lp",
	})
	e.post(t, "/api/v1/positions/increase", "alice", server.IncreaseRequest{
		Account: "alice", CollateralToken: "WETH", IndexToken: "WETH",
		Side: model.Long, CollateralAmount: d(10), SizeDelta: d(9000),
	})

	w := e.post(t, "/api/v1/positions/liquidate", "", server.LiquidateRequest{
		Account: "alice", CollateralToken: "WETH", IndexToken: "WETH",
		Side: model.Long, FeeReceiver: "keeper",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSwapEndpoint(t *testing.T) {
	e := newTestEnv(t)
	e.post(t, "/api/v1/stable/buy", "", server.BuyStableRequest{
		Token: "WETH", Amount: d(100), Receiver: "lp",
	})
	e.post(t, "/api/v1/stable/buy", "", server.BuyStableRequest{
		Token: "USDC", Amount: d(10000), Receiver: "lp",
	})

	w := e.post(t, "/api/v1/swap", "", server.SwapRequest{
		TokenIn: "WETH", TokenOut: "USDC", AmountIn: d(10), Receiver: "trader",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var receipt ledger.SwapReceipt
	json.Unmarshal(w.Body.Bytes(), &receipt)
	if receipt.AmountOut.GreaterThanOrEqual(d(3000)) {
		t.Errorf("amount out: got %s, want < 3000 after fees", receipt.AmountOut)
	}
}

func TestPoolAndSolvencyEndpoints(t *testing.T) {
	e := newTestEnv(t)
	e.post(t, "/api/v1/stable/buy", "", server.BuyStableRequest{
		Token: "WETH", Amount: d(100), Receiver: "lp",
	})

	w := e.get(t, "/api/v1/pool/WETH")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var a model.AssetState
	json.Unmarshal(w.Body.Bytes(), &a)
	if !a.PoolAmount.Equal(d(99.7)) {
		t.Errorf("pool: got %s, want 99.7", a.PoolAmount)
	}

	w = e.get(t, "/api/v1/solvency")
	if w.Code != http.StatusOK {
		t.Fatalf("solvency: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var reports []ledger.SolvencyReport
	json.Unmarshal(w.Body.Bytes(), &reports)
	if len(reports) != 2 {
		t.Fatalf("reports: got %d, want 2", len(reports))
	}
	for _, rep := range reports {
		if !rep.Solvent {
			t.Errorf("%s reported insolvent", rep.Token)
		}
	}
}

func TestJournalEndpoint(t *testing.T) {
	e := newTestEnv(t)
	e.post(t, "/api/v1/stable/buy", "", server.BuyStableRequest{
		Token: "WETH", Amount: d(100), Receiver: "lp",
	})

	w := e.get(t, "/api/v1/journal/lp")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var entries []model.JournalEntry
	json.Unmarshal(w.Body.Bytes(), &entries)
	if len(entries) != 1 || entries[0].Op != "buy_stable" {
		t.Errorf("journal: got %+v", entries)
	}
}

func TestPositionDetailEndpoint(t *testing.T) {
	e := newTestEnv(t)
	e.post(t, "/api/v1/stable/buy", "", server.BuyStableRequest{
		Token: "WETH", Amount: d(100), Receiver: "lp",
	})
	e.post(t, "/api/v1/positions/increase", "alice", server.IncreaseRequest{
		Account: "alice", CollateralToken: "WETH", IndexToken: "WETH",
		Side: model.Long, CollateralAmount: d(10), SizeDelta: d(9000),
	})

	w := e.get(t, "/api/v1/positions/alice/WETH/WETH/LONG")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var detail server.PositionDetail
	json.Unmarshal(w.Body.Bytes(), &detail)
	if !detail.Position.Size.Equal(d(9000)) {
		t.Errorf("size: got %s, want 9000", detail.Position.Size)
	}
	if detail.LeverageBps != 30090 {
		t.Errorf("leverage: got %d, want 30090", detail.LeverageBps)
	}
	if detail.LiquidationReason != "none" {
		t.Errorf("reason: got %q, want none", detail.LiquidationReason)
	}
	if !detail.Delta.IsZero() {
		t.Errorf("delta at entry price: got %s, want 0", detail.Delta)
	}

	// Mark moves against the long: the dry-run flips to underwater.
	e.prices.Set("WETH", d(200))
	w = e.get(t, "/api/v1/positions/alice/WETH/WETH/LONG")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	json.Unmarshal(w.Body.Bytes(), &detail)
	if detail.HasProfit {
		t.Error("expected loss")
	}
	if !detail.Delta.Equal(d(3000)) {
		t.Errorf("delta: got %s, want 3000", detail.Delta)
	}
	if detail.LiquidationReason != "underwater" {
		t.Errorf("reason: got %q, want underwater", detail.LiquidationReason)
	}
}

func TestPositionDetailUnknownPosition(t *testing.T) {
	e := newTestEnv(t)
	w := e.get(t, "/api/v1/positions/nobody/WETH/WETH/LONG")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestPoolValueEndpoint(t *testing.T) {
	e := newTestEnv(t)
	e.post(t, "/api/v1/stable/buy", "", server.BuyStableRequest{
		Token: "WETH", Amount: d(100), Receiver: "lp",
	})

	w := e.get(t, "/api/v1/pool/value")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var value struct {
		Min decimal.Decimal `json:"min_usd"`
		Max decimal.Decimal `json:"max_usd"`
	}
	json.Unmarshal(w.Body.Bytes(), &value)
	// 99.7 WETH at $300 on both bounds of an unspread quote.
	if !value.Min.Equal(d(29910)) || !value.Max.Equal(d(29910)) {
		t.Errorf("pool value: got min=%s max=%s, want 29910", value.Min, value.Max)
	}
}

func TestGlobalShortsEndpoint(t *testing.T) {
	e := newTestEnv(t)
	e.post(t, "/api/v1/stable/buy", "", server.BuyStableRequest{
		Token: "USDC", Amount: d(10000), Receiver: "lp",
	})
	e.post(t, "/api/v1/positions/increase", "bob", server.IncreaseRequest{
		Account: "bob", CollateralToken: "USDC", IndexToken: "WETH",
		Side: model.Short, CollateralAmount: d(1000), SizeDelta: d(3000),
	})

	e.prices.Set("WETH", d(270))
	w := e.get(t, "/api/v1/shorts/WETH")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var shorts struct {
		Size         decimal.Decimal `json:"size"`
		AveragePrice decimal.Decimal `json:"average_price"`
		HasProfit    bool            `json:"shorts_have_profit"`
		Delta        decimal.Decimal `json:"delta_usd"`
	}
	json.Unmarshal(w.Body.Bytes(), &shorts)
	if !shorts.Size.Equal(d(3000)) || !shorts.AveragePrice.Equal(d(300)) {
		t.Errorf("aggregate: got size=%s avg=%s, want 3000 at 300", shorts.Size, shorts.AveragePrice)
	}
	if !shorts.HasProfit || !shorts.Delta.Equal(d(300)) {
		t.Errorf("short pnl: got profit=%v delta=%s, want profit 300", shorts.HasProfit, shorts.Delta)
	}
}
