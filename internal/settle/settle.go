// Package settle provides the administrative handlers for market
// resolution and void-and-refund. Both operations take the market's
// exclusive lock so they never interleave with an in-flight order.
package settle

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/claimdex/market-engine/internal/metrics"
	"github.com/claimdex/market-engine/internal/model"
	"github.com/claimdex/market-engine/internal/store"
	"github.com/claimdex/market-engine/internal/trade"
)

// Service settles markets. It shares the trade service's lock set.
type Service struct {
	store store.Store
	locks *trade.Locks
	wsHub *trade.WSHub // optional
}

// NewService creates a settlement service.
func NewService(st store.Store, locks *trade.Locks, hub *trade.WSHub) *Service {
	return &Service{store: st, locks: locks, wsHub: hub}
}

// ResolveRequest is the JSON body for POST /markets/{marketID}/resolve.
type ResolveRequest struct {
	Outcome model.Outcome `json:"outcome"` // "YES" or "NO"
}

// ResolveMarket handles POST /api/v1/markets/{marketID}/resolve
// Pays $1 per winning share, zeroes every position on the market, and
// closes it permanently. Resolution is irreversible.
func (s *Service) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Outcome != model.OutcomeYes && req.Outcome != model.OutcomeNo {
		writeError(w, "outcome must be YES or NO", http.StatusBadRequest)
		return
	}

	unlock := s.locks.LockMarket(marketID)
	defer unlock()

	settlement, err := s.store.ResolveMarket(r.Context(), marketID, req.Outcome, time.Now().UTC())
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	metrics.ResolutionsTotal.WithLabelValues(string(req.Outcome)).Inc()
	metrics.ActiveMarkets.Dec()
	slog.Info("market resolved",
		"market", marketID,
		"outcome", req.Outcome,
		"winners", settlement.Winners,
		"total_paid", settlement.TotalPaid.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(trade.WSMessage{
			Type:     "market_resolved",
			MarketID: marketID,
			Outcome:  string(req.Outcome),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(settlement)
}

// VoidMarket handles DELETE /api/v1/markets/{marketID}
// Reverses every trade's net cash effect, removes the market and its
// history, and refunds traders. Only open markets can be voided.
func (s *Service) VoidMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	unlock := s.locks.LockMarket(marketID)
	defer unlock()

	summary, err := s.store.VoidMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	metrics.VoidsTotal.Inc()
	metrics.ActiveMarkets.Dec()
	slog.Info("market voided",
		"market", marketID,
		"records_reversed", summary.Reversed,
		"cash_refunded", summary.CashRefunded.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(trade.WSMessage{
			Type:     "market_voided",
			MarketID: marketID,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrMarketNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrMarketClosed),
		errors.Is(err, store.ErrAlreadyResolved),
		errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
