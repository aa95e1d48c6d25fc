package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/scrip/internal/model"
)

// ErrDuplicateID is returned when an insert collides with an existing token
// id. Given 128-bit ids this should never happen; it is checked anyway and
// treated as an integrity anomaly by callers.
var ErrDuplicateID = errors.New("duplicate token id")

type TokenStore struct {
	db *sql.DB
}

func NewTokenStore(db *sql.DB) *TokenStore {
	return &TokenStore{db: db}
}

func scanToken(scanner interface{ Scan(...any) error }) (*model.Token, error) {
	var t model.Token
	var redeemedAt sql.NullTime
	var expiresAt sql.NullTime
	var phone sql.NullString

	err := scanner.Scan(
		&t.ID, &t.ProductName, &t.BatchID, &t.Amount, &t.State,
		&redeemedAt, &expiresAt, &phone, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if redeemedAt.Valid {
		t.RedeemedAt = &redeemedAt.Time
	}
	if expiresAt.Valid {
		t.ExpiresAt = &expiresAt.Time
	}
	if phone.Valid {
		t.CustomerPhone = phone.String
	}
	return &t, nil
}

const tokenCols = `id, product_name, batch_id, amount, state, redeemed_at, expires_at, customer_phone, created_at`

// InsertBatch inserts all tokens in a single transaction. If any id already
// exists the whole batch is rolled back and ErrDuplicateID is returned.
func (s *TokenStore) InsertBatch(ctx context.Context, tokens []*model.Token) error {
	if len(tokens) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO tokens (id, product_name, batch_id, state, expires_at, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare insert token: %w", err)
	}
	defer stmt.Close()

	for _, t := range tokens {
		var expiresAt sql.NullTime
		if t.ExpiresAt != nil {
			expiresAt = sql.NullTime{Time: t.ExpiresAt.UTC(), Valid: true}
		}
		_, err := stmt.ExecContext(ctx, t.ID, t.ProductName, t.BatchID, model.StateUnredeemed, expiresAt, t.CreatedAt.UTC())
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("insert token %s: %w", t.ID, ErrDuplicateID)
			}
			return fmt.Errorf("insert token %s: %w", t.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert batch: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a SQLite unique/primary-key
// constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetByID returns the token with the given id, or nil if it does not exist.
func (s *TokenStore) GetByID(ctx context.Context, id string) (*model.Token, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tokenCols+` FROM tokens WHERE id = ?`, id)
	t, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	return t, nil
}

// Transition atomically moves the token from one state to another, recording
// the reward amount and redemption time. It is the sole mutation primitive:
// the UPDATE only applies while the stored state still equals from, so a
// plain read-then-write race cannot double-redeem. Returns false when the
// token was not in the expected state at commit time (or does not exist).
func (s *TokenStore) Transition(ctx context.Context, id string, from, to model.TokenState, amount int64, redeemedAt time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tokens SET state = ?, amount = ?, redeemed_at = ? WHERE id = ? AND state = ?`,
		to, amount, redeemedAt.UTC(), id, from,
	)
	if err != nil {
		return false, fmt.Errorf("transition token: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition rows affected: %w", err)
	}
	return n == 1, nil
}

// Count returns the total number of issued tokens.
func (s *TokenStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tokens`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count tokens: %w", err)
	}
	return n, nil
}

// CountByState returns the number of tokens in the given state.
func (s *TokenStore) CountByState(ctx context.Context, state model.TokenState) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tokens WHERE state = ?`, state).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count tokens by state: %w", err)
	}
	return n, nil
}

// SumRedeemedAmount returns the total reward paid across all redeemed tokens.
func (s *TokenStore) SumRedeemedAmount(ctx context.Context) (int64, error) {
	var sum sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM tokens WHERE state = ?`, model.StateRedeemed,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum redeemed amount: %w", err)
	}
	return sum.Int64, nil
}

// ProductStats returns per-product issued and redeemed counts, ordered by
// product name.
func (s *TokenStore) ProductStats(ctx context.Context) ([]model.ProductStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_name,
		       COUNT(*),
		       COALESCE(SUM(CASE WHEN state = ? THEN 1 ELSE 0 END), 0)
		FROM tokens
		GROUP BY product_name
		ORDER BY product_name ASC`, model.StateRedeemed)
	if err != nil {
		return nil, fmt.Errorf("product stats: %w", err)
	}
	defer rows.Close()

	var stats []model.ProductStats
	for rows.Next() {
		var ps model.ProductStats
		if err := rows.Scan(&ps.ProductName, &ps.Total, &ps.Redeemed); err != nil {
			return nil, fmt.Errorf("scan product stats: %w", err)
		}
		stats = append(stats, ps)
	}
	return stats, rows.Err()
}

// BatchStats returns per-batch issued and redeemed counts, newest batch first.
func (s *TokenStore) BatchStats(ctx context.Context) ([]model.BatchStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT batch_id,
		       product_name,
		       COUNT(*),
		       COALESCE(SUM(CASE WHEN state = ? THEN 1 ELSE 0 END), 0)
		FROM tokens
		GROUP BY batch_id, product_name`, model.StateRedeemed)
	if err != nil {
		return nil, fmt.Errorf("batch stats: %w", err)
	}
	defer rows.Close()

	var stats []model.BatchStats
	for rows.Next() {
		var bs model.BatchStats
		if err := rows.Scan(&bs.BatchID, &bs.ProductName, &bs.Total, &bs.Redeemed); err != nil {
			return nil, fmt.Errorf("scan batch stats: %w", err)
		}
		stats = append(stats, bs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batch stats: %w", err)
	}
	rows.Close()

	// Expiry and creation time are uniform within a batch; read them off one
	// representative row per batch.
	for i := range stats {
		var expiresAt sql.NullTime
		err := s.db.QueryRowContext(ctx,
			`SELECT expires_at, created_at FROM tokens WHERE batch_id = ? LIMIT 1`,
			stats[i].BatchID,
		).Scan(&expiresAt, &stats[i].CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("batch %s detail: %w", stats[i].BatchID, err)
		}
		if expiresAt.Valid {
			stats[i].ExpiresAt = &expiresAt.Time
		}
	}

	// Newest batch first
	for i := 0; i < len(stats); i++ {
		for j := i + 1; j < len(stats); j++ {
			if stats[j].CreatedAt.After(stats[i].CreatedAt) {
				stats[i], stats[j] = stats[j], stats[i]
			}
		}
	}

	return stats, nil
}
