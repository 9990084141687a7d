package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/stockarena/contest-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const contestCols = `id, name, creator_id, is_private, COALESCE(invite_code, ''),
	virtual_budget::TEXT, max_participants, current_participants,
	start_time, end_time, status, created_at`

func scanContest(row pgx.Row) (*model.Contest, error) {
	var c model.Contest
	var budget string
	err := row.Scan(&c.ID, &c.Name, &c.CreatorID, &c.IsPrivate, &c.InviteCode,
		&budget, &c.MaxParticipants, &c.CurrentParticipants,
		&c.StartTime, &c.EndTime, &c.Status, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.VirtualBudget, _ = decimal.NewFromString(budget)
	return &c, nil
}

func (s *PostgresStore) CreateContest(ctx context.Context, c *model.Contest) error {
	var invite any
	if c.InviteCode != "" {
		invite = c.InviteCode
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO contests (id, name, creator_id, is_private, invite_code,
		     virtual_budget, max_participants, current_participants,
		     start_time, end_time, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, $8, $9, $10, $11, $12)`,
		c.ID, c.Name, c.CreatorID, c.IsPrivate, invite,
		c.VirtualBudget.String(), c.MaxParticipants, c.CurrentParticipants,
		c.StartTime, c.EndTime, c.Status, c.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetContest(ctx context.Context, id string) (*model.Contest, error) {
	c, err := scanContest(s.pool.QueryRow(ctx,
		`SELECT `+contestCols+` FROM contests WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrContestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get contest %s: %w", id, err)
	}
	return c, nil
}

func (s *PostgresStore) GetContestByInviteCode(ctx context.Context, code string) (*model.Contest, error) {
	c, err := scanContest(s.pool.QueryRow(ctx,
		`SELECT `+contestCols+` FROM contests
		 WHERE is_private = TRUE AND invite_code = $1
		   AND status NOT IN ($2, $3)`,
		code, model.StatusCompleted, model.StatusCancelled))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrInvalidInviteCode
	}
	if err != nil {
		return nil, fmt.Errorf("get contest by invite code: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListContestsByUser(ctx context.Context, userID string) ([]model.Contest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+contestCols+` FROM contests
		 WHERE creator_id = $1
		    OR id IN (SELECT contest_id FROM participants WHERE user_id = $1)
		 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanContests(rows)
}

func (s *PostgresStore) ListOpenPublicContests(ctx context.Context, now time.Time) ([]model.Contest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+contestCols+` FROM contests
		 WHERE is_private = FALSE
		   AND status = $1
		   AND start_time > $2
		   AND current_participants < max_participants
		 ORDER BY created_at DESC`, model.StatusOpen, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanContests(rows)
}

func (s *PostgresStore) ListActiveContests(ctx context.Context) ([]model.Contest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+contestCols+` FROM contests
		 WHERE status NOT IN ($1, $2)
		 ORDER BY created_at DESC`,
		model.StatusCompleted, model.StatusCancelled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanContests(rows)
}

func (s *PostgresStore) UpdateContestStatus(ctx context.Context, id, from, to string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE contests SET status = $3 WHERE id = $1 AND status = $2`,
		id, from, to)
	return err
}

func (s *PostgresStore) AddParticipant(ctx context.Context, p *model.Participant) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Conditional increment enforces capacity exactly, even under
	// concurrent joins.
	ct, err := tx.Exec(ctx,
		`UPDATE contests
		 SET current_participants = current_participants + 1
		 WHERE id = $1 AND current_participants < max_participants`,
		p.ContestID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM contests WHERE id = $1)`,
			p.ContestID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return model.ErrContestNotFound
		}
		return model.ErrContestFull
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO participants (id, contest_id, user_id, username, cash_balance, joined_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6)`,
		p.ID, p.ContestID, p.UserID, p.Username, p.CashBalance.String(), p.JoinedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return model.ErrAlreadyJoined
		}
		return err
	}

	return tx.Commit(ctx)
}

const participantCols = `id, contest_id, user_id, username, cash_balance::TEXT, joined_at`

func scanParticipant(row pgx.Row) (*model.Participant, error) {
	var p model.Participant
	var cash string
	err := row.Scan(&p.ID, &p.ContestID, &p.UserID, &p.Username, &cash, &p.JoinedAt)
	if err != nil {
		return nil, err
	}
	p.CashBalance, _ = decimal.NewFromString(cash)
	return &p, nil
}

func (s *PostgresStore) GetParticipant(ctx context.Context, contestID, userID string) (*model.Participant, error) {
	p, err := scanParticipant(s.pool.QueryRow(ctx,
		`SELECT `+participantCols+` FROM participants
		 WHERE contest_id = $1 AND user_id = $2`, contestID, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrParticipantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get participant: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) GetParticipantByID(ctx context.Context, id string) (*model.Participant, error) {
	p, err := scanParticipant(s.pool.QueryRow(ctx,
		`SELECT `+participantCols+` FROM participants WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrParticipantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get participant %s: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) ListParticipants(ctx context.Context, contestID string) ([]model.Participant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+participantCols+` FROM participants
		 WHERE contest_id = $1 ORDER BY joined_at`, contestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Participant
	for rows.Next() {
		var p model.Participant
		var cash string
		if err := rows.Scan(&p.ID, &p.ContestID, &p.UserID, &p.Username, &cash, &p.JoinedAt); err != nil {
			return nil, err
		}
		p.CashBalance, _ = decimal.NewFromString(cash)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetHoldings(ctx context.Context, participantID string) ([]model.Holding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT participant_id, stock_symbol, quantity,
		        average_buy_price::TEXT, buy_value::TEXT
		 FROM holdings WHERE participant_id = $1 ORDER BY stock_symbol`, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Holding
	for rows.Next() {
		var h model.Holding
		var avg, buyValue string
		if err := rows.Scan(&h.ParticipantID, &h.StockSymbol, &h.Quantity, &avg, &buyValue); err != nil {
			return nil, err
		}
		h.AverageBuyPrice, _ = decimal.NewFromString(avg)
		h.BuyValue, _ = decimal.NewFromString(buyValue)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetHolding(ctx context.Context, participantID, symbol string) (*model.Holding, error) {
	var h model.Holding
	var avg, buyValue string
	err := s.pool.QueryRow(ctx,
		`SELECT participant_id, stock_symbol, quantity,
		        average_buy_price::TEXT, buy_value::TEXT
		 FROM holdings WHERE participant_id = $1 AND stock_symbol = $2`,
		participantID, symbol).
		Scan(&h.ParticipantID, &h.StockSymbol, &h.Quantity, &avg, &buyValue)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get holding: %w", err)
	}
	h.AverageBuyPrice, _ = decimal.NewFromString(avg)
	h.BuyValue, _ = decimal.NewFromString(buyValue)
	return &h, nil
}

func (s *PostgresStore) ApplyTrade(ctx context.Context, t *model.Transaction, newCash decimal.Decimal, holding *model.Holding) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE participants SET cash_balance = $2::NUMERIC WHERE id = $1`,
		t.ParticipantID, newCash.String()); err != nil {
		return err
	}

	if holding.Quantity == 0 {
		if _, err := tx.Exec(ctx,
			`DELETE FROM holdings WHERE participant_id = $1 AND stock_symbol = $2`,
			holding.ParticipantID, holding.StockSymbol); err != nil {
			return err
		}
	} else {
		if _, err := tx.Exec(ctx,
			`INSERT INTO holdings (participant_id, stock_symbol, quantity, average_buy_price, buy_value)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC)
			 ON CONFLICT (participant_id, stock_symbol)
			 DO UPDATE SET quantity = $3, average_buy_price = $4::NUMERIC, buy_value = $5::NUMERIC`,
			holding.ParticipantID, holding.StockSymbol, holding.Quantity,
			holding.AverageBuyPrice.String(), holding.BuyValue.String()); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO transactions (id, participant_id, contest_id, stock_symbol,
		     transaction_type, quantity, execution_price, total, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9)`,
		t.ID, t.ParticipantID, t.ContestID, t.StockSymbol,
		t.Type, t.Quantity, t.ExecutionPrice.String(), t.Total.String(), t.Timestamp); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ListTransactions(ctx context.Context, participantID string) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, participant_id, contest_id, stock_symbol, transaction_type,
		        quantity, execution_price::TEXT, total::TEXT, timestamp
		 FROM transactions WHERE participant_id = $1 ORDER BY timestamp`, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var price, total string
		if err := rows.Scan(&t.ID, &t.ParticipantID, &t.ContestID, &t.StockSymbol,
			&t.Type, &t.Quantity, &price, &total, &t.Timestamp); err != nil {
			return nil, err
		}
		t.ExecutionPrice, _ = decimal.NewFromString(price)
		t.Total, _ = decimal.NewFromString(total)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListHeldSymbols(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT h.stock_symbol
		 FROM holdings h
		 JOIN participants p ON p.id = h.participant_id
		 JOIN contests c ON c.id = p.contest_id
		 WHERE c.status NOT IN ($1, $2)`,
		model.StatusCompleted, model.StatusCancelled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

func scanContests(rows pgx.Rows) ([]model.Contest, error) {
	var out []model.Contest
	for rows.Next() {
		var c model.Contest
		var budget string
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatorID, &c.IsPrivate, &c.InviteCode,
			&budget, &c.MaxParticipants, &c.CurrentParticipants,
			&c.StartTime, &c.EndTime, &c.Status, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.VirtualBudget, _ = decimal.NewFromString(budget)
		out = append(out, c)
	}
	return out, rows.Err()
}
