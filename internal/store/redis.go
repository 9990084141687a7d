package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/stockarena/contest-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary. Hot paths are contest
// lookups (every trade and read checks status) and holdings (revalued on
// every price tick).
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateContest(ctx context.Context, c *model.Contest) error {
	if err := s.primary.CreateContest(ctx, c); err != nil {
		return err
	}
	s.cacheContest(ctx, c)
	return nil
}

func (s *CachedStore) UpdateContestStatus(ctx context.Context, id, from, to string) error {
	if err := s.primary.UpdateContestStatus(ctx, id, from, to); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, contestKey(id))
	return nil
}

func (s *CachedStore) AddParticipant(ctx context.Context, p *model.Participant) error {
	if err := s.primary.AddParticipant(ctx, p); err != nil {
		return err
	}
	// Participant count changed.
	s.rdb.Del(ctx, contestKey(p.ContestID))
	return nil
}

func (s *CachedStore) ApplyTrade(ctx context.Context, t *model.Transaction, newCash decimal.Decimal, holding *model.Holding) error {
	if err := s.primary.ApplyTrade(ctx, t, newCash, holding); err != nil {
		return err
	}
	s.rdb.Del(ctx, holdingsKey(t.ParticipantID), participantKey(t.ParticipantID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetContest(ctx context.Context, id string) (*model.Contest, error) {
	data, err := s.rdb.Get(ctx, contestKey(id)).Bytes()
	if err == nil {
		var c model.Contest
		if json.Unmarshal(data, &c) == nil {
			return &c, nil
		}
	}

	c, err := s.primary.GetContest(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheContest(ctx, c)
	return c, nil
}

func (s *CachedStore) GetContestByInviteCode(ctx context.Context, code string) (*model.Contest, error) {
	// Try cache via code→contestID mapping.
	contestID, err := s.rdb.Get(ctx, inviteKey(code)).Result()
	if err == nil {
		return s.GetContest(ctx, contestID)
	}

	c, err := s.primary.GetContestByInviteCode(ctx, code)
	if err != nil {
		return nil, err
	}

	s.cacheContest(ctx, c)
	s.rdb.Set(ctx, inviteKey(code), c.ID, s.ttl)
	return c, nil
}

func (s *CachedStore) GetParticipantByID(ctx context.Context, id string) (*model.Participant, error) {
	data, err := s.rdb.Get(ctx, participantKey(id)).Bytes()
	if err == nil {
		var p model.Participant
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetParticipantByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, participantKey(id), data, s.ttl)
	}
	return p, nil
}

func (s *CachedStore) GetHoldings(ctx context.Context, participantID string) ([]model.Holding, error) {
	data, err := s.rdb.Get(ctx, holdingsKey(participantID)).Bytes()
	if err == nil {
		var holdings []model.Holding
		if json.Unmarshal(data, &holdings) == nil {
			return holdings, nil
		}
	}

	holdings, err := s.primary.GetHoldings(ctx, participantID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(holdings); err == nil {
		s.rdb.Set(ctx, holdingsKey(participantID), data, s.ttl)
	}
	return holdings, nil
}

// --- Passthrough (not cached) ---

// GetParticipant bypasses the cache: trade execution re-reads it under the
// participant lock and must see the latest balance.
func (s *CachedStore) GetParticipant(ctx context.Context, contestID, userID string) (*model.Participant, error) {
	return s.primary.GetParticipant(ctx, contestID, userID)
}

func (s *CachedStore) ListContestsByUser(ctx context.Context, userID string) ([]model.Contest, error) {
	return s.primary.ListContestsByUser(ctx, userID)
}

func (s *CachedStore) ListOpenPublicContests(ctx context.Context, now time.Time) ([]model.Contest, error) {
	return s.primary.ListOpenPublicContests(ctx, now)
}

func (s *CachedStore) ListActiveContests(ctx context.Context) ([]model.Contest, error) {
	return s.primary.ListActiveContests(ctx)
}

func (s *CachedStore) ListParticipants(ctx context.Context, contestID string) ([]model.Participant, error) {
	return s.primary.ListParticipants(ctx, contestID)
}

func (s *CachedStore) GetHolding(ctx context.Context, participantID, symbol string) (*model.Holding, error) {
	return s.primary.GetHolding(ctx, participantID, symbol)
}

func (s *CachedStore) ListTransactions(ctx context.Context, participantID string) ([]model.Transaction, error) {
	return s.primary.ListTransactions(ctx, participantID)
}

func (s *CachedStore) ListHeldSymbols(ctx context.Context) ([]string, error) {
	return s.primary.ListHeldSymbols(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) cacheContest(ctx context.Context, c *model.Contest) {
	if data, err := json.Marshal(c); err == nil {
		s.rdb.Set(ctx, contestKey(c.ID), data, s.ttl)
	}
}

func contestKey(id string) string     { return fmt.Sprintf("contest:%s", id) }
func inviteKey(code string) string    { return fmt.Sprintf("invite:%s", code) }
func participantKey(id string) string { return fmt.Sprintf("participant:%s", id) }
func holdingsKey(pid string) string   { return fmt.Sprintf("holdings:%s", pid) }
