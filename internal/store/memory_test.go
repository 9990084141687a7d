package store_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockarena/contest-engine/internal/model"
	"github.com/stockarena/contest-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func seedContest(t *testing.T, ms *store.MemoryStore, id string, max int) *model.Contest {
	t.Helper()
	now := time.Now()
	c := &model.Contest{
		ID: id, Name: id, CreatorID: "host",
		VirtualBudget: d(100000), MaxParticipants: max,
		StartTime: now.Add(time.Hour), EndTime: now.Add(2 * time.Hour),
		Status: model.StatusOpen, CreatedAt: now,
	}
	if err := ms.CreateContest(context.Background(), c); err != nil {
		t.Fatal(err)
	}
	return c
}

func participant(contestID, userID string) *model.Participant {
	return &model.Participant{
		ID:          "participant-" + userID,
		ContestID:   contestID,
		UserID:      userID,
		Username:    userID,
		CashBalance: d(100000),
		JoinedAt:    time.Now(),
	}
}

func TestAddParticipant_EnforcesCapacityAndUniqueness(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedContest(t, ms, "c1", 2)

	if err := ms.AddParticipant(ctx, participant("c1", "alice")); err != nil {
		t.Fatalf("first join: %v", err)
	}
	if err := ms.AddParticipant(ctx, participant("c1", "alice")); !errors.Is(err, model.ErrAlreadyJoined) {
		t.Errorf("duplicate: err = %v, want ErrAlreadyJoined", err)
	}
	if err := ms.AddParticipant(ctx, participant("c1", "bob")); err != nil {
		t.Fatalf("second join: %v", err)
	}
	if err := ms.AddParticipant(ctx, participant("c1", "carol")); !errors.Is(err, model.ErrContestFull) {
		t.Errorf("over capacity: err = %v, want ErrContestFull", err)
	}
	if err := ms.AddParticipant(ctx, participant("nope", "dave")); !errors.Is(err, model.ErrContestNotFound) {
		t.Errorf("missing contest: err = %v, want ErrContestNotFound", err)
	}

	c, _ := ms.GetContest(ctx, "c1")
	if c.CurrentParticipants != 2 {
		t.Errorf("currentParticipants = %d, want 2", c.CurrentParticipants)
	}
}

func TestAddParticipant_ConcurrentJoins(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedContest(t, ms, "c1", 8)

	var wg sync.WaitGroup
	errs := make(chan error, 30)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			errs <- ms.AddParticipant(ctx, participant("c1", fmt.Sprintf("user%d", n)))
		}(i)
	}
	wg.Wait()
	close(errs)

	admitted := 0
	for err := range errs {
		if err == nil {
			admitted++
		} else if !errors.Is(err, model.ErrContestFull) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if admitted != 8 {
		t.Errorf("admitted = %d, want 8", admitted)
	}
}

func TestUpdateContestStatus_ConditionalOnFrom(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedContest(t, ms, "c1", 5)

	if err := ms.UpdateContestStatus(ctx, "c1", model.StatusOpen, model.StatusLive); err != nil {
		t.Fatalf("transition: %v", err)
	}
	// A stale transition (stored status moved on) is a silent no-op.
	if err := ms.UpdateContestStatus(ctx, "c1", model.StatusOpen, model.StatusCancelled); err != nil {
		t.Fatalf("stale transition: %v", err)
	}

	c, _ := ms.GetContest(ctx, "c1")
	if c.Status != model.StatusLive {
		t.Errorf("status = %s, want LIVE", c.Status)
	}
}

func TestApplyTrade_RemovesHoldingAtZero(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedContest(t, ms, "c1", 5)
	p := participant("c1", "alice")
	if err := ms.AddParticipant(ctx, p); err != nil {
		t.Fatal(err)
	}

	buy := &model.Transaction{
		ID: "t1", ParticipantID: p.ID, ContestID: "c1",
		StockSymbol: "TCS.NS", Type: model.TxBuy, Quantity: 5,
		ExecutionPrice: d(4000), Total: d(20000), Timestamp: time.Now(),
	}
	if err := ms.ApplyTrade(ctx, buy, d(80000), &model.Holding{
		ParticipantID: p.ID, StockSymbol: "TCS.NS",
		Quantity: 5, AverageBuyPrice: d(4000), BuyValue: d(20000),
	}); err != nil {
		t.Fatal(err)
	}

	h, err := ms.GetHolding(ctx, p.ID, "TCS.NS")
	if err != nil || h == nil || h.Quantity != 5 {
		t.Fatalf("holding = %+v (%v)", h, err)
	}

	sell := &model.Transaction{
		ID: "t2", ParticipantID: p.ID, ContestID: "c1",
		StockSymbol: "TCS.NS", Type: model.TxSell, Quantity: 5,
		ExecutionPrice: d(4000), Total: d(20000), Timestamp: time.Now(),
	}
	if err := ms.ApplyTrade(ctx, sell, d(100000), &model.Holding{
		ParticipantID: p.ID, StockSymbol: "TCS.NS", Quantity: 0, BuyValue: decimal.Zero,
	}); err != nil {
		t.Fatal(err)
	}

	h, err = ms.GetHolding(ctx, p.ID, "TCS.NS")
	if err != nil {
		t.Fatal(err)
	}
	if h != nil {
		t.Errorf("holding should be removed at zero, got %+v", h)
	}

	after, _ := ms.GetParticipantByID(ctx, p.ID)
	if !after.CashBalance.Equal(d(100000)) {
		t.Errorf("cash = %s, want 100000", after.CashBalance)
	}
	txs, _ := ms.ListTransactions(ctx, p.ID)
	if len(txs) != 2 {
		t.Errorf("transactions = %d, want 2", len(txs))
	}
}

func TestListHeldSymbols_SkipsTerminalContests(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	seedContest(t, ms, "active", 5)
	seedContest(t, ms, "finished", 5)

	pa := participant("active", "alice")
	pf := participant("finished", "bob")
	if err := ms.AddParticipant(ctx, pa); err != nil {
		t.Fatal(err)
	}
	if err := ms.AddParticipant(ctx, pf); err != nil {
		t.Fatal(err)
	}

	hold := func(p *model.Participant, symbol string) {
		t.Helper()
		err := ms.ApplyTrade(ctx, &model.Transaction{
			ID: "t-" + p.ID, ParticipantID: p.ID, ContestID: p.ContestID,
			StockSymbol: symbol, Type: model.TxBuy, Quantity: 1,
			ExecutionPrice: d(100), Total: d(100), Timestamp: time.Now(),
		}, d(99900), &model.Holding{
			ParticipantID: p.ID, StockSymbol: symbol,
			Quantity: 1, AverageBuyPrice: d(100), BuyValue: d(100),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	hold(pa, "INFY.NS")
	hold(pf, "WIPRO.NS")

	if err := ms.UpdateContestStatus(ctx, "finished", model.StatusOpen, model.StatusCompleted); err != nil {
		t.Fatal(err)
	}

	symbols, err := ms.ListHeldSymbols(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(symbols) != 1 || symbols[0] != "INFY.NS" {
		t.Errorf("held symbols = %v, want [INFY.NS]", symbols)
	}
}

func TestGetContestByInviteCode(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	c := &model.Contest{
		ID: "private", Name: "Private", CreatorID: "host", IsPrivate: true,
		InviteCode: "ABC234", VirtualBudget: d(100000), MaxParticipants: 5,
		StartTime: now.Add(time.Hour), EndTime: now.Add(2 * time.Hour),
		Status: model.StatusOpen, CreatedAt: now,
	}
	if err := ms.CreateContest(ctx, c); err != nil {
		t.Fatal(err)
	}

	got, err := ms.GetContestByInviteCode(ctx, "ABC234")
	if err != nil || got.ID != "private" {
		t.Errorf("got %+v (%v)", got, err)
	}
	if _, err := ms.GetContestByInviteCode(ctx, "NOPE99"); !errors.Is(err, model.ErrInvalidInviteCode) {
		t.Errorf("unknown code: err = %v, want ErrInvalidInviteCode", err)
	}

	// Codes of terminal contests stop resolving.
	if err := ms.UpdateContestStatus(ctx, "private", model.StatusOpen, model.StatusCancelled); err != nil {
		t.Fatal(err)
	}
	if _, err := ms.GetContestByInviteCode(ctx, "ABC234"); !errors.Is(err, model.ErrInvalidInviteCode) {
		t.Errorf("cancelled contest code: err = %v, want ErrInvalidInviteCode", err)
	}
}
