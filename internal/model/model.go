// Package model defines the core domain types shared across the contest
// trading engine. All monetary values use shopspring/decimal — never float64
// for money. Share quantities are whole int64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Contest status values. Transitions are monotonic:
// OPEN → LIVE → COMPLETED, or → CANCELLED from any non-terminal state.
const (
	StatusOpen      = "OPEN"
	StatusLive      = "LIVE"
	StatusCompleted = "COMPLETED"
	StatusCancelled = "CANCELLED"
)

// Transaction types.
const (
	TxBuy  = "BUY"
	TxSell = "SELL"
)

// Contest is a time-boxed virtual trading competition with a fixed starting
// budget per participant.
type Contest struct {
	ID                  string          `json:"id" db:"id"`
	Name                string          `json:"name" db:"name"`
	CreatorID           string          `json:"creatorId" db:"creator_id"`
	IsPrivate           bool            `json:"isPrivate" db:"is_private"`
	InviteCode          string          `json:"inviteCode,omitempty" db:"invite_code"` // set iff private
	VirtualBudget       decimal.Decimal `json:"virtualBudget" db:"virtual_budget"`
	MaxParticipants     int             `json:"maxParticipants" db:"max_participants"`
	CurrentParticipants int             `json:"currentParticipants" db:"current_participants"`
	StartTime           time.Time       `json:"startTime" db:"start_time"`
	EndTime             time.Time       `json:"endTime" db:"end_time"`
	Status              string          `json:"status" db:"status"`
	CreatedAt           time.Time       `json:"createdAt" db:"created_at"`
}

// EffectiveStatus returns the status the contest should surface at time now.
// Stored OPEN/LIVE states advance lazily with the clock; terminal states
// (COMPLETED, CANCELLED) never move.
func (c *Contest) EffectiveStatus(now time.Time) string {
	switch c.Status {
	case StatusCompleted, StatusCancelled:
		return c.Status
	}
	if !now.Before(c.EndTime) {
		return StatusCompleted
	}
	if !now.Before(c.StartTime) {
		return StatusLive
	}
	return StatusOpen
}

// Participant is one user's membership and ledger within one contest.
// Exactly one row per (ContestID, UserID).
type Participant struct {
	ID          string          `json:"id" db:"id"`
	ContestID   string          `json:"contestId" db:"contest_id"`
	UserID      string          `json:"userId" db:"user_id"`
	Username    string          `json:"username" db:"username"`
	CashBalance decimal.Decimal `json:"cashBalance" db:"cash_balance"`
	JoinedAt    time.Time       `json:"joinedAt" db:"joined_at"`
}

// Holding is a participant's current position in one stock symbol.
// Quantity never goes negative; a holding is removed when it reaches zero.
// AverageBuyPrice is recomputed only on BUY; SELL peels BuyValue off
// proportionally so the average is preserved for the remainder.
type Holding struct {
	ParticipantID   string          `json:"participantId" db:"participant_id"`
	StockSymbol     string          `json:"stockSymbol" db:"stock_symbol"`
	Quantity        int64           `json:"quantity" db:"quantity"`
	AverageBuyPrice decimal.Decimal `json:"averageBuyPrice" db:"average_buy_price"`
	BuyValue        decimal.Decimal `json:"buyValue" db:"buy_value"` // cost basis
}

// Transaction is an immutable record of one executed trade.
// Once created, these are never modified or deleted.
type Transaction struct {
	ID             string          `json:"id" db:"id"`
	ParticipantID  string          `json:"participantId" db:"participant_id"`
	ContestID      string          `json:"contestId" db:"contest_id"`
	StockSymbol    string          `json:"stockSymbol" db:"stock_symbol"`
	Type           string          `json:"transactionType" db:"transaction_type"` // BUY or SELL
	Quantity       int64           `json:"quantity" db:"quantity"`
	ExecutionPrice decimal.Decimal `json:"executionPrice" db:"execution_price"`
	Total          decimal.Decimal `json:"total" db:"total"` // quantity × executionPrice
	Timestamp      time.Time       `json:"timestamp" db:"timestamp"`
}

// PriceQuote is the latest known price for one symbol. Ephemeral: sourced
// from the upstream feed, held only in the price cache.
type PriceQuote struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// HoldingView is a holding valued at the latest price.
type HoldingView struct {
	StockSymbol     string          `json:"stockSymbol"`
	Quantity        int64           `json:"quantity"`
	AverageBuyPrice decimal.Decimal `json:"averageBuyPrice"`
	BuyValue        decimal.Decimal `json:"buyValue"`
	CurrentPrice    decimal.Decimal `json:"currentPrice"`
	CurrentValue    decimal.Decimal `json:"currentValue"`
	Profit          decimal.Decimal `json:"profit"` // currentValue - buyValue
}

// Portfolio is the derived valuation of one participant's ledger.
// Pure function of (holdings, cash balance, latest prices).
type Portfolio struct {
	ParticipantID       string          `json:"participantId"`
	ContestID           string          `json:"contestId"`
	CashBalance         decimal.Decimal `json:"cashBalance"`
	Holdings            []HoldingView   `json:"holdings"`
	TotalHoldingsValue  decimal.Decimal `json:"totalHoldingsValue"`
	TotalPortfolioValue decimal.Decimal `json:"totalPortfolioValue"`
	TotalProfitLoss     decimal.Decimal `json:"totalProfitLoss"`
}

// LeaderboardEntry is a derived ranking row, never stored as source of truth.
// Ordering: TotalPortfolioValue descending, ties broken by earliest JoinedAt.
type LeaderboardEntry struct {
	ParticipantID       string          `json:"participantId"`
	Username            string          `json:"username"`
	TotalPortfolioValue decimal.Decimal `json:"totalPortfolioValue"`
	JoinedAt            time.Time       `json:"-"`
}
