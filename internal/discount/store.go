package discount

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// singletonID is the well-known row holding the system discount.
const singletonID = 1

// Store persists the discount singleton in Postgres.
type Store struct {
	Pool *pgxpool.Pool
}

// NewStore constructs a discount store over the provided pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

// Get fetches the discount record. pgx.ErrNoRows surfaces when the singleton
// was never bootstrapped.
func (s *Store) Get(ctx context.Context) (Discount, error) {
	var d Discount
	err := s.Pool.QueryRow(ctx, `
		SELECT auth_id, discount_percent, created_at, updated_at
		FROM discounts WHERE id = $1`, singletonID,
	).Scan(&d.AuthID, &d.DiscountPercent, &d.Timestamp, &d.UpdateTimeStamp)
	return d, err
}

// Update overwrites the discount and stamps the modification time.
func (s *Store) Update(ctx context.Context, authID string, percent float64, at time.Time) (Discount, error) {
	var d Discount
	err := s.Pool.QueryRow(ctx, `
		UPDATE discounts
		SET auth_id = $2, discount_percent = $3, updated_at = $4
		WHERE id = $1
		RETURNING auth_id, discount_percent, created_at, updated_at`,
		singletonID, authID, percent, at,
	).Scan(&d.AuthID, &d.DiscountPercent, &d.Timestamp, &d.UpdateTimeStamp)
	return d, err
}

// EnsureDefault bootstraps the singleton if it does not exist yet. Existing
// rows are left untouched.
func (s *Store) EnsureDefault(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO discounts (id, auth_id, discount_percent)
		VALUES ($1, 'system', $2)
		ON CONFLICT (id) DO NOTHING`, singletonID, defaultPercent)
	return err
}
