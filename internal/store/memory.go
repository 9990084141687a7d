package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockarena/contest-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	contests     map[string]*model.Contest
	participants map[string]*model.Participant        // by participant ID
	byMember     map[string]map[string]string         // contestID → userID → participantID
	holdings     map[string]map[string]*model.Holding // participantID → symbol → holding
	transactions map[string][]model.Transaction       // participantID → append-only
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contests:     make(map[string]*model.Contest),
		participants: make(map[string]*model.Participant),
		byMember:     make(map[string]map[string]string),
		holdings:     make(map[string]map[string]*model.Holding),
		transactions: make(map[string][]model.Transaction),
	}
}

func (s *MemoryStore) CreateContest(_ context.Context, c *model.Contest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	cp := *c
	s.contests[c.ID] = &cp
	return nil
}

func (s *MemoryStore) GetContest(_ context.Context, id string) (*model.Contest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contests[id]
	if !ok {
		return nil, model.ErrContestNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) GetContestByInviteCode(_ context.Context, code string) (*model.Contest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.contests {
		if c.IsPrivate && c.InviteCode == code &&
			c.Status != model.StatusCancelled && c.Status != model.StatusCompleted {
			cp := *c
			return &cp, nil
		}
	}
	return nil, model.ErrInvalidInviteCode
}

func (s *MemoryStore) ListContestsByUser(_ context.Context, userID string) ([]model.Contest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Contest
	for _, c := range s.contests {
		if c.CreatorID == userID {
			out = append(out, *c)
			continue
		}
		if members, ok := s.byMember[c.ID]; ok {
			if _, joined := members[userID]; joined {
				out = append(out, *c)
			}
		}
	}
	sortContests(out)
	return out, nil
}

func (s *MemoryStore) ListOpenPublicContests(_ context.Context, now time.Time) ([]model.Contest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Contest
	for _, c := range s.contests {
		if c.IsPrivate {
			continue
		}
		if c.EffectiveStatus(now) != model.StatusOpen {
			continue
		}
		if c.CurrentParticipants >= c.MaxParticipants {
			continue
		}
		out = append(out, *c)
	}
	sortContests(out)
	return out, nil
}

func (s *MemoryStore) ListActiveContests(_ context.Context) ([]model.Contest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Contest
	for _, c := range s.contests {
		if c.Status == model.StatusCompleted || c.Status == model.StatusCancelled {
			continue
		}
		out = append(out, *c)
	}
	sortContests(out)
	return out, nil
}

func (s *MemoryStore) UpdateContestStatus(_ context.Context, id, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contests[id]
	if !ok {
		return model.ErrContestNotFound
	}
	if c.Status != from {
		return nil // another sweep got there first
	}
	c.Status = to
	return nil
}

func (s *MemoryStore) AddParticipant(_ context.Context, p *model.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contests[p.ContestID]
	if !ok {
		return model.ErrContestNotFound
	}

	members := s.byMember[p.ContestID]
	if members == nil {
		members = make(map[string]string)
		s.byMember[p.ContestID] = members
	}
	if _, joined := members[p.UserID]; joined {
		return model.ErrAlreadyJoined
	}
	if c.CurrentParticipants >= c.MaxParticipants {
		return model.ErrContestFull
	}

	c.CurrentParticipants++
	members[p.UserID] = p.ID
	cp := *p
	s.participants[p.ID] = &cp
	return nil
}

func (s *MemoryStore) GetParticipant(_ context.Context, contestID, userID string) (*model.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members, ok := s.byMember[contestID]
	if !ok {
		return nil, model.ErrParticipantNotFound
	}
	id, ok := members[userID]
	if !ok {
		return nil, model.ErrParticipantNotFound
	}
	cp := *s.participants[id]
	return &cp, nil
}

func (s *MemoryStore) GetParticipantByID(_ context.Context, id string) (*model.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.participants[id]
	if !ok {
		return nil, model.ErrParticipantNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListParticipants(_ context.Context, contestID string) ([]model.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Participant
	for _, id := range s.byMember[contestID] {
		out = append(out, *s.participants[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (s *MemoryStore) GetHoldings(_ context.Context, participantID string) ([]model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Holding
	for _, h := range s.holdings[participantID] {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StockSymbol < out[j].StockSymbol })
	return out, nil
}

func (s *MemoryStore) GetHolding(_ context.Context, participantID, symbol string) (*model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.holdings[participantID][symbol]
	if !ok {
		return nil, nil
	}
	cp := *h
	return &cp, nil
}

func (s *MemoryStore) ApplyTrade(_ context.Context, tx *model.Transaction, newCash decimal.Decimal, holding *model.Holding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[tx.ParticipantID]
	if !ok {
		return model.ErrParticipantNotFound
	}

	p.CashBalance = newCash

	bySymbol := s.holdings[tx.ParticipantID]
	if bySymbol == nil {
		bySymbol = make(map[string]*model.Holding)
		s.holdings[tx.ParticipantID] = bySymbol
	}
	if holding.Quantity == 0 {
		delete(bySymbol, holding.StockSymbol)
	} else {
		cp := *holding
		bySymbol[holding.StockSymbol] = &cp
	}

	s.transactions[tx.ParticipantID] = append(s.transactions[tx.ParticipantID], *tx)
	return nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, participantID string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txs := s.transactions[participantID]
	out := make([]model.Transaction, len(txs))
	copy(out, txs)
	return out, nil
}

func (s *MemoryStore) ListHeldSymbols(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	for pid, bySymbol := range s.holdings {
		p, ok := s.participants[pid]
		if !ok {
			continue
		}
		c, ok := s.contests[p.ContestID]
		if !ok || c.Status == model.StatusCompleted || c.Status == model.StatusCancelled {
			continue
		}
		for sym := range bySymbol {
			seen[sym] = true
		}
	}

	out := make([]string, 0, len(seen))
	for sym := range seen {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out, nil
}

func sortContests(cs []model.Contest) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].CreatedAt.After(cs[j].CreatedAt) })
}
