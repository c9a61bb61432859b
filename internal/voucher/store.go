package voucher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrPinTaken signals the pin unique constraint rejected an insert. Callers
// regenerate the pin and retry.
var ErrPinTaken = errors.New("voucher: pin already in use")

const pgUniqueViolation = "23505"

const voucherColumns = `id, driver_id, driver_phone_number, pin, amount_bought,
	voucher_worth, discount_amount, user_phone_number, status, date_generated, date_used`

// Store persists vouchers in Postgres.
type Store struct {
	Pool *pgxpool.Pool
}

// NewStore constructs a voucher store over the provided pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

// Insert persists a new voucher and fills the store-assigned fields. A pin
// collision surfaces as ErrPinTaken.
func (s *Store) Insert(ctx context.Context, v *Voucher) error {
	row := s.Pool.QueryRow(ctx, `
		INSERT INTO vouchers (driver_id, driver_phone_number, pin, amount_bought,
			voucher_worth, discount_amount, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, date_generated`,
		v.DriverID, v.DriverPhoneNumber, v.Pin, v.AmountBought,
		v.VoucherWorth, v.DiscountAmount, int(v.Status),
	)
	if err := row.Scan(&v.ID, &v.DateGenerated); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrPinTaken
		}
		return fmt.Errorf("insert voucher: %w", err)
	}
	return nil
}

// GetByID fetches a voucher by its store-assigned identifier.
func (s *Store) GetByID(ctx context.Context, id int64) (Voucher, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT `+voucherColumns+` FROM vouchers WHERE id = $1`, id)
	return scanVoucher(row)
}

// GetByPin fetches a voucher by its redemption pin.
func (s *Store) GetByPin(ctx context.Context, pin string) (Voucher, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT `+voucherColumns+` FROM vouchers WHERE pin = $1`, pin)
	return scanVoucher(row)
}

// ListByDriver returns every voucher issued by the given driver, oldest first.
func (s *Store) ListByDriver(ctx context.Context, driverID string) ([]Voucher, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+voucherColumns+` FROM vouchers WHERE driver_id = $1 ORDER BY id`, driverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectVouchers(rows)
}

// List returns vouchers matching the filter, ordered by ascending id.
func (s *Store) List(ctx context.Context, f Filter, limit, offset int) ([]Voucher, error) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.ID != nil {
		add("id = $%d", *f.ID)
	}
	if f.DriverID != nil {
		add("driver_id = $%d", *f.DriverID)
	}
	if f.DriverPhoneNumber != nil {
		add("driver_phone_number = $%d", *f.DriverPhoneNumber)
	}
	if f.UserPhoneNumber != nil {
		add("user_phone_number = $%d", *f.UserPhoneNumber)
	}
	if f.MinDiscountAmount != nil {
		add("discount_amount >= $%d", *f.MinDiscountAmount)
	}
	if f.MaxDiscountAmount != nil {
		add("discount_amount <= $%d", *f.MaxDiscountAmount)
	}
	if f.MinVoucherWorth != nil {
		add("voucher_worth >= $%d", *f.MinVoucherWorth)
	}
	if f.MaxVoucherWorth != nil {
		add("voucher_worth <= $%d", *f.MaxVoucherWorth)
	}
	if f.Status != nil {
		add("status = $%d", int(*f.Status))
	}

	query := `SELECT ` + voucherColumns + ` FROM vouchers`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY id LIMIT $%d", len(args))
	args = append(args, offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectVouchers(rows)
}

// MarkSold transitions a voucher UNSOLD -> SOLD. The status predicate makes
// the update a compare-and-swap: a concurrent redemption that already won
// leaves no row to update and pgx.ErrNoRows is returned.
func (s *Store) MarkSold(ctx context.Context, pin string, userPhoneNumber *string, usedAt time.Time) (Voucher, error) {
	row := s.Pool.QueryRow(ctx, `
		UPDATE vouchers
		SET status = $2,
			user_phone_number = COALESCE($3, user_phone_number),
			date_used = $4
		WHERE pin = $1 AND status = $5
		RETURNING `+voucherColumns,
		pin, int(StatusSold), userPhoneNumber, usedAt, int(StatusUnsold),
	)
	return scanVoucher(row)
}

// DayCount is a per-calendar-day issuance tally.
type DayCount struct {
	Day   time.Time
	Count int64
}

// MonthCount is a per-month issuance tally.
type MonthCount struct {
	Month int
	Count int64
}

// CountVouchers returns the total number of vouchers ever issued.
func (s *Store) CountVouchers(ctx context.Context) (int64, error) {
	var count int64
	err := s.Pool.QueryRow(ctx, `SELECT count(*) FROM vouchers`).Scan(&count)
	return count, err
}

// CountVouchersByDay tallies vouchers generated per calendar day within the
// inclusive range. Days with no vouchers produce no row.
func (s *Store) CountVouchersByDay(ctx context.Context, start, end time.Time) ([]DayCount, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT date_generated::date AS day, count(*)
		FROM vouchers
		WHERE date_generated::date BETWEEN $1 AND $2
		GROUP BY day
		ORDER BY day`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DayCount
	for rows.Next() {
		var dc DayCount
		if err := rows.Scan(&dc.Day, &dc.Count); err != nil {
			return nil, err
		}
		out = append(out, dc)
	}
	return out, rows.Err()
}

// CountVouchersByMonth tallies vouchers generated per month of the given year.
func (s *Store) CountVouchersByMonth(ctx context.Context, year int) ([]MonthCount, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT EXTRACT(MONTH FROM date_generated)::int AS month, count(*)
		FROM vouchers
		WHERE EXTRACT(YEAR FROM date_generated)::int = $1
		GROUP BY month
		ORDER BY month`, year)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MonthCount
	for rows.Next() {
		var mc MonthCount
		if err := rows.Scan(&mc.Month, &mc.Count); err != nil {
			return nil, err
		}
		out = append(out, mc)
	}
	return out, rows.Err()
}

func collectVouchers(rows pgx.Rows) ([]Voucher, error) {
	vouchers := make([]Voucher, 0)
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, err
		}
		vouchers = append(vouchers, v)
	}
	return vouchers, rows.Err()
}

func scanVoucher(row pgx.Row) (Voucher, error) {
	var (
		v              Voucher
		status         int
		discountAmount pgtype.Int8
		userPhone      pgtype.Text
		dateUsed       pgtype.Timestamptz
	)
	err := row.Scan(
		&v.ID, &v.DriverID, &v.DriverPhoneNumber, &v.Pin, &v.AmountBought,
		&v.VoucherWorth, &discountAmount, &userPhone, &status, &v.DateGenerated, &dateUsed,
	)
	if err != nil {
		return Voucher{}, err
	}
	v.Status = Status(status)
	if discountAmount.Valid {
		amount := discountAmount.Int64
		v.DiscountAmount = &amount
	}
	if userPhone.Valid {
		phone := userPhone.String
		v.UserPhoneNumber = &phone
	}
	if dateUsed.Valid {
		used := dateUsed.Time
		v.DateUsed = &used
	}
	return v, nil
}
