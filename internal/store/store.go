// Package store defines the persistence interface for the contest engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockarena/contest-engine/internal/model"
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
//
// AddParticipant and ApplyTrade are atomic: either every effect lands or
// none do. Capacity and per-contest uniqueness are enforced inside
// AddParticipant so concurrent joins can never overbook.
type Store interface {
	// --- Contest operations ---

	// CreateContest persists a new contest.
	CreateContest(ctx context.Context, c *model.Contest) error

	// GetContest retrieves a contest by its ID.
	GetContest(ctx context.Context, id string) (*model.Contest, error)

	// GetContestByInviteCode retrieves a private contest by its invite code.
	GetContestByInviteCode(ctx context.Context, code string) (*model.Contest, error)

	// ListContestsByUser returns contests the user created or joined.
	ListContestsByUser(ctx context.Context, userID string) ([]model.Contest, error)

	// ListOpenPublicContests returns joinable public contests as of now.
	ListOpenPublicContests(ctx context.Context, now time.Time) ([]model.Contest, error)

	// ListActiveContests returns contests whose stored status is not terminal.
	ListActiveContests(ctx context.Context) ([]model.Contest, error)

	// UpdateContestStatus moves a contest from one status to another.
	// The update applies only if the stored status still equals from,
	// which keeps transitions monotonic under concurrent sweeps.
	UpdateContestStatus(ctx context.Context, id, from, to string) error

	// --- Participants ---

	// AddParticipant admits a participant and increments the contest's
	// participant count in one atomic step. Returns model.ErrContestFull
	// when at capacity and model.ErrAlreadyJoined on a duplicate
	// (contestID, userID) pair.
	AddParticipant(ctx context.Context, p *model.Participant) error

	// GetParticipant retrieves a participant by contest and user.
	GetParticipant(ctx context.Context, contestID, userID string) (*model.Participant, error)

	// GetParticipantByID retrieves a participant by its ID.
	GetParticipantByID(ctx context.Context, id string) (*model.Participant, error)

	// ListParticipants returns all participants of a contest.
	ListParticipants(ctx context.Context, contestID string) ([]model.Participant, error)

	// --- Ledger ---

	// GetHoldings returns all holdings of a participant.
	GetHoldings(ctx context.Context, participantID string) ([]model.Holding, error)

	// GetHolding returns one holding. A missing holding is not an error:
	// it returns (nil, nil).
	GetHolding(ctx context.Context, participantID, symbol string) (*model.Holding, error)

	// ApplyTrade applies one executed trade atomically: sets the
	// participant's cash balance, upserts the holding (or deletes it when
	// holding.Quantity == 0), and appends the immutable transaction.
	ApplyTrade(ctx context.Context, tx *model.Transaction, newCash decimal.Decimal, holding *model.Holding) error

	// ListTransactions returns a participant's transactions, oldest first.
	ListTransactions(ctx context.Context, participantID string) ([]model.Transaction, error)

	// ListHeldSymbols returns the distinct symbols held across participants
	// of non-terminal contests. Seeds the price feed's tracked set.
	ListHeldSymbols(ctx context.Context) ([]string, error)
}
