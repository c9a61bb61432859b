package discount

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-voucher/internal/obs"
)

var (
	// ErrNotConfigured signals the discount singleton is missing. Issuance
	// must fail loudly rather than default silently.
	ErrNotConfigured = errors.New("discount: not configured")
	// ErrNoChange signals an update to the already-current percent. The
	// record, including its modification time, is left untouched.
	ErrNoChange = errors.New("discount: percent unchanged")
	// ErrInvalidPercent signals a percent outside [0, 1).
	ErrInvalidPercent = errors.New("discount: percent must be in [0, 1)")
)

// Querier is the subset of the store the service needs.
type Querier interface {
	Get(ctx context.Context) (Discount, error)
	Update(ctx context.Context, authID string, percent float64, at time.Time) (Discount, error)
}

// Service owns the discount singleton.
type Service struct {
	store Querier
	log   zerolog.Logger
	now   func() time.Time
}

// NewService wires the discount service.
func NewService(store Querier, log zerolog.Logger) *Service {
	return &Service{
		store: store,
		log:   log.With().Str("component", "discount").Logger(),
		now:   time.Now,
	}
}

// Get returns the current discount.
func (s *Service) Get(ctx context.Context) (Discount, error) {
	d, err := s.store.Get(ctx)
	if errors.Is(err, pgx.ErrNoRows) {
		return Discount{}, ErrNotConfigured
	}
	return d, err
}

// CurrentPercent exposes the configured percent to voucher issuance.
func (s *Service) CurrentPercent(ctx context.Context) (float64, error) {
	d, err := s.Get(ctx)
	if err != nil {
		return 0, err
	}
	return d.DiscountPercent, nil
}

// Update replaces the discount percent, recording which admin changed it. A
// no-op update is rejected so the modification time stays honest.
func (s *Service) Update(ctx context.Context, authID string, percent float64) (Discount, error) {
	if percent < 0 || percent >= 1 {
		return Discount{}, ErrInvalidPercent
	}
	current, err := s.Get(ctx)
	if err != nil {
		return Discount{}, err
	}
	if percent == current.DiscountPercent {
		return Discount{}, ErrNoChange
	}
	d, err := s.store.Update(ctx, authID, percent, s.now())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Discount{}, ErrNotConfigured
		}
		return Discount{}, err
	}
	obs.DiscountUpdatesTotal.Inc()
	s.log.Info().
		Str("auth_id", authID).
		Float64("old_percent", current.DiscountPercent).
		Float64("new_percent", percent).
		Msg("discount updated")
	return d, nil
}
