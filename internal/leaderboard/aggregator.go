// Package leaderboard derives contest rankings from participant ledgers and
// the latest prices, and publishes incremental updates over the WebSocket
// hub. Rankings are never stored; they are recomputed from source-of-truth
// state on demand.
package leaderboard

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/stockarena/contest-engine/internal/httpx"
	"github.com/stockarena/contest-engine/internal/ledger"
	"github.com/stockarena/contest-engine/internal/metrics"
	"github.com/stockarena/contest-engine/internal/model"
	"github.com/stockarena/contest-engine/internal/pricefeed"
	"github.com/stockarena/contest-engine/internal/store"
	"github.com/stockarena/contest-engine/internal/ws"
)

// Aggregator computes leaderboards and pushes value deltas to subscribers.
type Aggregator struct {
	store store.Store
	feed  *pricefeed.Feed
	hub   *ws.Hub

	mu        sync.Mutex
	published map[string]decimal.Decimal // participantID → last published value
}

// NewAggregator creates an aggregator. hub may be nil, which disables
// publishing (used in tests).
func NewAggregator(st store.Store, feed *pricefeed.Feed, hub *ws.Hub) *Aggregator {
	return &Aggregator{
		store:     st,
		feed:      feed,
		hub:       hub,
		published: make(map[string]decimal.Decimal),
	}
}

// Entries computes the ranked leaderboard for one contest: total portfolio
// value descending, ties broken by earliest join.
func (a *Aggregator) Entries(ctx context.Context, contestID string) ([]model.LeaderboardEntry, error) {
	participants, err := a.store.ListParticipants(ctx, contestID)
	if err != nil {
		return nil, err
	}

	entries := make([]model.LeaderboardEntry, 0, len(participants))
	for i := range participants {
		p := &participants[i]
		value, err := a.value(ctx, p)
		if err != nil {
			return nil, err
		}
		entries = append(entries, model.LeaderboardEntry{
			ParticipantID:       p.ID,
			Username:            p.Username,
			TotalPortfolioValue: value,
			JoinedAt:            p.JoinedAt,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if c := entries[i].TotalPortfolioValue.Cmp(entries[j].TotalPortfolioValue); c != 0 {
			return c > 0
		}
		return entries[i].JoinedAt.Before(entries[j].JoinedAt)
	})
	return entries, nil
}

// value computes one participant's total portfolio value at current prices.
func (a *Aggregator) value(ctx context.Context, p *model.Participant) (decimal.Decimal, error) {
	holdings, err := a.store.GetHoldings(ctx, p.ID)
	if err != nil {
		return decimal.Zero, err
	}
	pf := ledger.Valuate(p, holdings, a.feed.Price)
	return pf.TotalPortfolioValue, nil
}

// ParticipantTraded recomputes one participant's value after a trade and
// publishes the delta to the contest topic.
func (a *Aggregator) ParticipantTraded(ctx context.Context, contestID, participantID string) {
	p, err := a.store.GetParticipantByID(ctx, participantID)
	if err != nil {
		slog.Error("leaderboard recompute failed", "participant_id", participantID, "err", err)
		return
	}
	value, err := a.value(ctx, p)
	if err != nil {
		slog.Error("leaderboard recompute failed", "participant_id", participantID, "err", err)
		return
	}
	a.publish(contestID, p, value)
}

// Run revalues participants of live contests on every price tick and
// publishes the entries whose value changed. Blocks until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context) {
	ticks := a.feed.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-ticks:
			if !ok {
				return
			}
			a.onTick(ctx, tick)
		}
	}
}

func (a *Aggregator) onTick(ctx context.Context, tick pricefeed.Tick) {
	if a.hub != nil {
		a.hub.BroadcastAll(ws.Message{Type: ws.TypePriceTick, Prices: tick.Prices})
	}

	contests, err := a.store.ListActiveContests(ctx)
	if err != nil {
		slog.Error("leaderboard tick failed", "err", err)
		return
	}

	now := time.Now()
	for _, c := range contests {
		if c.EffectiveStatus(now) != model.StatusLive {
			continue
		}
		participants, err := a.store.ListParticipants(ctx, c.ID)
		if err != nil {
			slog.Error("leaderboard tick failed", "contest_id", c.ID, "err", err)
			continue
		}
		for i := range participants {
			p := &participants[i]
			value, err := a.value(ctx, p)
			if err != nil {
				continue
			}
			a.publish(c.ID, p, value)
		}
	}
}

// publish sends a leaderboard delta if the value changed since the last
// published one for this participant.
func (a *Aggregator) publish(contestID string, p *model.Participant, value decimal.Decimal) {
	a.mu.Lock()
	last, seen := a.published[p.ID]
	if seen && last.Equal(value) {
		a.mu.Unlock()
		return
	}
	a.published[p.ID] = value
	a.mu.Unlock()

	if a.hub == nil {
		return
	}
	a.hub.BroadcastTopic(ws.ContestTopic(contestID), ws.Message{
		Type:                ws.TypeLeaderboardDelta,
		ContestID:           contestID,
		ParticipantID:       p.ID,
		Username:            p.Username,
		TotalPortfolioValue: value,
	})
	metrics.LeaderboardDeltas.Inc()
}

// HandleLeaderboard handles GET /api/v1/contests/{id}/leaderboard.
func (a *Aggregator) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	contestID := chi.URLParam(r, "id")
	if _, err := a.store.GetContest(r.Context(), contestID); err != nil {
		httpx.WriteError(w, err)
		return
	}

	entries, err := a.Entries(r.Context(), contestID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, entries)
}
