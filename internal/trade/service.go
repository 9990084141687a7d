// Package trade implements trade execution against participant ledgers.
//
// Execution is serialized per participant: a participant's cash balance and
// holdings are re-read under their lock, so concurrent trades can never
// spend the same cash or sell the same shares twice.
package trade

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockarena/contest-engine/internal/auth"
	"github.com/stockarena/contest-engine/internal/httpx"
	"github.com/stockarena/contest-engine/internal/leaderboard"
	"github.com/stockarena/contest-engine/internal/ledger"
	"github.com/stockarena/contest-engine/internal/metrics"
	"github.com/stockarena/contest-engine/internal/model"
	"github.com/stockarena/contest-engine/internal/pricefeed"
	"github.com/stockarena/contest-engine/internal/store"
)

// Service executes trades and serves portfolio reads.
type Service struct {
	store store.Store
	feed  *pricefeed.Feed
	board *leaderboard.Aggregator
	locks *lockArena
}

// NewService creates a trade service. board may be nil, which disables
// post-trade leaderboard updates (used in tests).
func NewService(st store.Store, feed *pricefeed.Feed, board *leaderboard.Aggregator) *Service {
	return &Service{store: st, feed: feed, board: board, locks: newLockArena()}
}

// TradeRequest is the body of a trade execution request.
type TradeRequest struct {
	StockSymbol     string `json:"stockSymbol"`
	TransactionType string `json:"transactionType"`
	Quantity        int64  `json:"quantity"`
}

// TradeResponse returns the recorded transaction and the resulting portfolio.
type TradeResponse struct {
	Transaction *model.Transaction `json:"transaction"`
	Portfolio   *model.Portfolio   `json:"portfolio"`
}

// HandleExecute handles POST /api/v1/contests/{id}/transactions.
func (s *Service) HandleExecute(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		httpx.WriteMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := s.Execute(r.Context(), chi.URLParam(r, "id"), identity.UserID, req)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, resp)
}

// Execute runs one trade end to end: validation, window check, pricing,
// ledger update, persistence. Any precondition failure leaves all state
// untouched.
func (s *Service) Execute(ctx context.Context, contestID, userID string, req TradeRequest) (*TradeResponse, error) {
	start := time.Now()

	txType := strings.ToUpper(strings.TrimSpace(req.TransactionType))
	if txType != model.TxBuy && txType != model.TxSell {
		metrics.TradeRejections.WithLabelValues("validation").Inc()
		return nil, fmt.Errorf("%w: transactionType must be BUY or SELL", model.ErrValidation)
	}
	if req.Quantity <= 0 {
		metrics.TradeRejections.WithLabelValues("validation").Inc()
		return nil, fmt.Errorf("%w: quantity must be positive", model.ErrValidation)
	}
	symbol := pricefeed.Normalize(req.StockSymbol)
	if symbol == "" {
		metrics.TradeRejections.WithLabelValues("validation").Inc()
		return nil, fmt.Errorf("%w: stockSymbol is required", model.ErrValidation)
	}

	contest, err := s.store.GetContest(ctx, contestID)
	if err != nil {
		return nil, err
	}
	if contest.EffectiveStatus(time.Now()) != model.StatusLive {
		metrics.TradeRejections.WithLabelValues("window_closed").Inc()
		return nil, model.ErrTradingWindowClosed
	}

	participant, err := s.store.GetParticipant(ctx, contestID, userID)
	if err != nil {
		return nil, err
	}

	quote, err := s.feed.Lookup(ctx, symbol)
	if err != nil {
		metrics.TradeRejections.WithLabelValues("price_unavailable").Inc()
		return nil, err
	}

	unlock := s.locks.acquire(participant.ID)
	defer unlock()

	// Re-read under the lock: a concurrent trade may have moved the ledger
	// between the membership check and here.
	participant, err = s.store.GetParticipantByID(ctx, participant.ID)
	if err != nil {
		return nil, err
	}
	holding, err := s.store.GetHolding(ctx, participant.ID, symbol)
	if err != nil {
		return nil, err
	}

	total := quote.Price.Mul(decimal.NewFromInt(req.Quantity))

	var newCash decimal.Decimal
	var newHolding model.Holding
	switch txType {
	case model.TxBuy:
		if total.GreaterThan(participant.CashBalance) {
			metrics.TradeRejections.WithLabelValues("insufficient_funds").Inc()
			return nil, model.ErrInsufficientFunds
		}
		newCash = participant.CashBalance.Sub(total)
		newHolding = ledger.ApplyBuy(holding, participant.ID, symbol, req.Quantity, quote.Price)
	case model.TxSell:
		newHolding, err = ledger.ApplySell(holding, req.Quantity)
		if err != nil {
			metrics.TradeRejections.WithLabelValues("insufficient_holdings").Inc()
			return nil, err
		}
		newCash = participant.CashBalance.Add(total)
	}

	tx := &model.Transaction{
		ID:             uuid.NewString(),
		ParticipantID:  participant.ID,
		ContestID:      contestID,
		StockSymbol:    symbol,
		Type:           txType,
		Quantity:       req.Quantity,
		ExecutionPrice: quote.Price,
		Total:          total,
		Timestamp:      time.Now().UTC(),
	}
	if err := s.store.ApplyTrade(ctx, tx, newCash, &newHolding); err != nil {
		return nil, err
	}

	metrics.TradesTotal.WithLabelValues(txType).Inc()
	metrics.TradeLatency.WithLabelValues(txType).Observe(time.Since(start).Seconds())
	slog.Info("trade executed",
		"contest_id", contestID,
		"participant_id", participant.ID,
		"symbol", symbol,
		"type", txType,
		"quantity", req.Quantity,
		"price", quote.Price)

	if s.board != nil {
		s.board.ParticipantTraded(ctx, contestID, participant.ID)
	}

	pf, err := s.portfolio(ctx, participant.ID)
	if err != nil {
		return nil, err
	}
	return &TradeResponse{Transaction: tx, Portfolio: pf}, nil
}

// portfolio builds the valued portfolio for a participant.
func (s *Service) portfolio(ctx context.Context, participantID string) (*model.Portfolio, error) {
	participant, err := s.store.GetParticipantByID(ctx, participantID)
	if err != nil {
		return nil, err
	}
	holdings, err := s.store.GetHoldings(ctx, participantID)
	if err != nil {
		return nil, err
	}

	// Keep held symbols in the feed's fetch set so the valuation stays fresh.
	for _, h := range holdings {
		s.feed.Track(h.StockSymbol)
	}

	pf := ledger.Valuate(participant, holdings, s.feed.Price)
	return &pf, nil
}

// HandlePortfolio handles GET /api/v1/contests/{id}/portfolio.
func (s *Service) HandlePortfolio(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		httpx.WriteMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	participant, err := s.store.GetParticipant(r.Context(), chi.URLParam(r, "id"), identity.UserID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	pf, err := s.portfolio(r.Context(), participant.ID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, pf)
}

// HandleTransactions handles GET /api/v1/contests/{id}/transactions, the
// caller's trade history in the contest, oldest first.
func (s *Service) HandleTransactions(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		httpx.WriteMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	participant, err := s.store.GetParticipant(r.Context(), chi.URLParam(r, "id"), identity.UserID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	txs, err := s.store.ListTransactions(r.Context(), participant.ID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, txs)
}

// HandleQuote handles GET /api/v1/contests/quote/{symbol}.
func (s *Service) HandleQuote(w http.ResponseWriter, r *http.Request) {
	symbol := pricefeed.Normalize(chi.URLParam(r, "symbol"))
	if symbol == "" {
		httpx.WriteMessage(w, http.StatusBadRequest, "symbol is required")
		return
	}

	quote, err := s.feed.Lookup(r.Context(), symbol)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, quote)
}

// HandleSearch handles GET /api/v1/contests/search?q=.
func (s *Service) HandleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		httpx.WriteMessage(w, http.StatusBadRequest, "q is required")
		return
	}

	results, err := s.feed.Search(r.Context(), query)
	if err != nil {
		slog.Error("symbol search failed", "query", query, "err", err)
		httpx.WriteError(w, model.ErrPriceUnavailable)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, results)
}
