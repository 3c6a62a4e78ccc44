package settle_test

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

	"github.com/claimdex/market-engine/internal/amm"
	"github.com/claimdex/market-engine/internal/model"
	"github.com/claimdex/market-engine/internal/quota"
	"github.com/claimdex/market-engine/internal/settle"
	"github.com/claimdex/market-engine/internal/store"
	"github.com/claimdex/market-engine/internal/trade"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newTestEnv(t *testing.T) (*store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore(d(1000))
	curve, err := amm.NewCurve(d(0.02))
	if err != nil {
		t.Fatalf("NewCurve: %v", err)
	}
	locks := trade.NewLocks()
	tradeSvc := trade.NewService(ms, curve, quota.NewLimiter(25), locks, d(1000), nil)
	settleSvc := settle.NewService(ms, locks, nil)

	r := chi.NewRouter()
	r.Post("/api/v1/orders", tradeSvc.ExecuteOrder)
	r.Post("/api/v1/markets/{marketID}/resolve", settleSvc.ResolveMarket)
	r.Delete("/api/v1/markets/{marketID}", settleSvc.VoidMarket)
	return ms, r
}

func seedMarket(t *testing.T, ms *store.MemoryStore, id string) {
	t.Helper()
	market := &model.Market{
		ID:        id,
		Question:  "Will the bill pass this session?",
		Topic:     "politics",
		PoolYes:   d(1000),
		PoolNo:    d(1000),
		Outcome:   model.OutcomePending,
		CreatedAt: time.Now().UTC(),
	}
	if err := ms.CreateMarket(context.Background(), market); err != nil {
		t.Fatalf("failed to seed market: %v", err)
	}
}

func buy(t *testing.T, router chi.Router, userID, marketID string, side model.Side, amount float64) model.Receipt {
	t.Helper()
	body, _ := json.Marshal(trade.OrderRequest{
		UserID:   userID,
		MarketID: marketID,
		Side:     side,
		Action:   model.ActionBuy,
		Amount:   d(amount),
	})
	req := httptest.NewRequest("POST", "/api/v1/orders", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("buy failed: %d: %s", w.Code, w.Body.String())
	}
	var receipt model.Receipt
	json.Unmarshal(w.Body.Bytes(), &receipt)
	return receipt
}

func TestResolveMarketPaysWinners(t *testing.T) {
	ms, router := newTestEnv(t)
	seedMarket(t, ms, "m1")

	yesReceipt := buy(t, router, "alice", "m1", model.SideYes, 100)
	buy(t, router, "bob", "m1", model.SideNo, 100)

	body, _ := json.Marshal(settle.ResolveRequest{Outcome: model.OutcomeYes})
	req := httptest.NewRequest("POST", "/api/v1/markets/m1/resolve", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("resolve: %d: %s", w.Code, w.Body.String())
	}

	var settlement store.Settlement
	json.Unmarshal(w.Body.Bytes(), &settlement)
	if settlement.Winners != 1 {
		t.Errorf("winners = %d, want 1", settlement.Winners)
	}
	if !settlement.TotalPaid.Equal(yesReceipt.Shares) {
		t.Errorf("total paid = %s, want %s", settlement.TotalPaid, yesReceipt.Shares)
	}

	ctx := context.Background()
	alice, _ := ms.GetAccount(ctx, "alice")
	// 1000 - 100 spent + shares * $1.
	want := d(900).Add(yesReceipt.Shares)
	if !alice.Balance.Equal(want) {
		t.Errorf("alice balance = %s, want %s", alice.Balance, want)
	}
	bob, _ := ms.GetAccount(ctx, "bob")
	if !bob.Balance.Equal(d(900)) {
		t.Errorf("bob balance = %s, want 900", bob.Balance)
	}

	m, _ := ms.GetMarket(ctx, "m1")
	if !m.Closed || m.Outcome != model.OutcomeYes {
		t.Errorf("market not closed with YES outcome: %+v", m)
	}
}

func TestResolveMarketTwiceRejected(t *testing.T) {
	ms, router := newTestEnv(t)
	seedMarket(t, ms, "m1")

	body, _ := json.Marshal(settle.ResolveRequest{Outcome: model.OutcomeNo})
	req := httptest.NewRequest("POST", "/api/v1/markets/m1/resolve", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("first resolve: %d", w.Code)
	}

	req = httptest.NewRequest("POST", "/api/v1/markets/m1/resolve", bytes.NewReader(body))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Errorf("second resolve: %d, want 409", w.Code)
	}
}

func TestResolveValidation(t *testing.T) {
	ms, router := newTestEnv(t)
	seedMarket(t, ms, "m1")

	body, _ := json.Marshal(settle.ResolveRequest{Outcome: "PENDING"})
	req := httptest.NewRequest("POST", "/api/v1/markets/m1/resolve", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestVoidMarketRefunds(t *testing.T) {
	ms, router := newTestEnv(t)
	seedMarket(t, ms, "m1")

	buy(t, router, "alice", "m1", model.SideYes, 100)

	req := httptest.NewRequest("DELETE", "/api/v1/markets/m1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("void: %d: %s", w.Code, w.Body.String())
	}

	var summary store.VoidSummary
	json.Unmarshal(w.Body.Bytes(), &summary)
	if summary.Reversed != 1 {
		t.Errorf("reversed = %d, want 1", summary.Reversed)
	}
	if !summary.CashRefunded.Equal(d(100)) {
		t.Errorf("refunded = %s, want 100", summary.CashRefunded)
	}

	ctx := context.Background()
	alice, _ := ms.GetAccount(ctx, "alice")
	if !alice.Balance.Equal(d(1000)) {
		t.Errorf("alice balance = %s, want 1000", alice.Balance)
	}
	if _, err := ms.GetMarket(ctx, "m1"); err == nil {
		t.Error("voided market still exists")
	}
}

func TestVoidResolvedMarketRejected(t *testing.T) {
	ms, router := newTestEnv(t)
	seedMarket(t, ms, "m1")
	if _, err := ms.ResolveMarket(context.Background(), "m1", model.OutcomeYes, time.Now().UTC()); err != nil {
		t.Fatalf("ResolveMarket: %v", err)
	}

	req := httptest.NewRequest("DELETE", "/api/v1/markets/m1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}
}

func TestVoidMissingMarket(t *testing.T) {
	_, router := newTestEnv(t)

	req := httptest.NewRequest("DELETE", "/api/v1/markets/ghost", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
