package voucher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-voucher/internal/common"
	"github.com/noah-isme/backend-voucher/internal/obs"
)

var (
	// ErrNotFound signals that no voucher matches the requested id or pin.
	ErrNotFound = errors.New("voucher: not found")
	// ErrAlreadySold signals a redemption attempt against a SOLD voucher.
	ErrAlreadySold = errors.New("voucher: already sold")
	// ErrNoDiscount signals that issuance ran without a configured discount.
	ErrNoDiscount = errors.New("voucher: discount not configured")
)

// maxPinAttempts bounds pin regeneration on unique-constraint conflicts
// before issuance gives up.
const maxPinAttempts = 5

// Querier is the subset of the store the service reads and writes vouchers
// through.
type Querier interface {
	Insert(ctx context.Context, v *Voucher) error
	GetByID(ctx context.Context, id int64) (Voucher, error)
	GetByPin(ctx context.Context, pin string) (Voucher, error)
	ListByDriver(ctx context.Context, driverID string) ([]Voucher, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]Voucher, error)
	MarkSold(ctx context.Context, pin string, userPhoneNumber *string, usedAt time.Time) (Voucher, error)
}

// DiscountSource yields the currently configured discount percent.
type DiscountSource interface {
	CurrentPercent(ctx context.Context) (float64, error)
}

// WalletGateway moves money in the external wallet service. Debit charges a
// driver at issuance; Credit pays a rider at redemption.
type WalletGateway interface {
	Debit(ctx context.Context, auth, phoneNumber string, amount int64, desc string) error
	Credit(ctx context.Context, auth, phoneNumber string, amount int64, desc string) error
}

// Locker serializes redemption per pin so at most one wallet credit is in
// flight for a given voucher.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}

const (
	debitDesc  = "Voucher Purchase By Driver"
	creditDesc = "Voucher Purchase By Rider"

	redeemLockPrefix = "voucher:redeem:"
	redeemLockTTL    = 10 * time.Second
)

// Service implements the voucher lifecycle.
type Service struct {
	store    Querier
	discount DiscountSource
	wallet   WalletGateway
	locker   Locker
	log      zerolog.Logger

	// newPin and now are swappable for tests.
	newPin func() (string, error)
	now    func() time.Time
}

// NewService wires the voucher service.
func NewService(store Querier, discount DiscountSource, wallet WalletGateway, locker Locker, log zerolog.Logger) *Service {
	return &Service{
		store:    store,
		discount: discount,
		wallet:   wallet,
		locker:   locker,
		log:      log.With().Str("component", "voucher").Logger(),
		newPin:   GeneratePin,
		now:      time.Now,
	}
}

// IssueInput carries the caller-supplied fields of an issuance. AmountBought
// overrides the discounted price when set; normally it is derived from the
// current discount.
type IssueInput struct {
	DriverPhoneNumber string
	VoucherWorth      int64
	AmountBought      *int64
}

// Issue sells a voucher: it prices the purchase with the current discount,
// debits the driver's wallet, then persists the voucher. The wallet call runs
// before the insert so a declined debit leaves no voucher behind; a pin
// collision after a successful debit is retried with a fresh pin.
func (s *Service) Issue(ctx context.Context, id common.Identity, in IssueInput) (Voucher, error) {
	percent, err := s.discount.CurrentPercent(ctx)
	if err != nil {
		obs.VoucherIssuedTotal.WithLabelValues("no_discount").Inc()
		return Voucher{}, ErrNoDiscount
	}

	amountBought := int64((1 - percent) * float64(in.VoucherWorth))
	if in.AmountBought != nil {
		amountBought = *in.AmountBought
	}
	discountAmount := in.VoucherWorth - amountBought

	if err := s.wallet.Debit(ctx, id.RawHeader, in.DriverPhoneNumber, amountBought, debitDesc); err != nil {
		obs.VoucherIssuedTotal.WithLabelValues("wallet_declined").Inc()
		return Voucher{}, err
	}

	v := Voucher{
		DriverID:          id.AuthID,
		DriverPhoneNumber: in.DriverPhoneNumber,
		AmountBought:      amountBought,
		VoucherWorth:      in.VoucherWorth,
		DiscountAmount:    &discountAmount,
		Status:            StatusUnsold,
	}
	for attempt := 0; attempt < maxPinAttempts; attempt++ {
		pin, err := s.newPin()
		if err != nil {
			return Voucher{}, err
		}
		v.Pin = pin

		err = s.store.Insert(ctx, &v)
		if err == nil {
			obs.VoucherIssuedTotal.WithLabelValues("success").Inc()
			s.log.Info().
				Int64("voucher_id", v.ID).
				Str("driver_id", v.DriverID).
				Int64("voucher_worth", v.VoucherWorth).
				Int64("amount_bought", v.AmountBought).
				Msg("voucher issued")
			return v, nil
		}
		if !errors.Is(err, ErrPinTaken) {
			obs.VoucherIssuedTotal.WithLabelValues("error").Inc()
			return Voucher{}, err
		}
		s.log.Warn().Int("attempt", attempt+1).Msg("pin collision, regenerating")
	}
	obs.VoucherIssuedTotal.WithLabelValues("error").Inc()
	return Voucher{}, fmt.Errorf("voucher: exhausted %d pin attempts", maxPinAttempts)
}

// RedeemInput carries the caller-supplied fields of a redemption.
type RedeemInput struct {
	Pin             string
	UserPhoneNumber *string
}

// Redeem pays out a voucher: under a per-pin lock it credits the rider's
// wallet for the face value, then flips the voucher to SOLD. The conditional
// update is the second line of defense should the lock ever be lost.
func (s *Service) Redeem(ctx context.Context, id common.Identity, in RedeemInput) (Voucher, error) {
	var redeemed Voucher
	err := s.locker.WithLock(ctx, redeemLockPrefix+in.Pin, redeemLockTTL, func(ctx context.Context) error {
		v, err := s.store.GetByPin(ctx, in.Pin)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if v.Status == StatusSold {
			return ErrAlreadySold
		}

		phone := v.DriverPhoneNumber
		if in.UserPhoneNumber != nil {
			phone = *in.UserPhoneNumber
		}
		if err := s.wallet.Credit(ctx, id.RawHeader, phone, v.VoucherWorth, creditDesc); err != nil {
			obs.VoucherRedeemedTotal.WithLabelValues("wallet_declined").Inc()
			return err
		}

		redeemed, err = s.store.MarkSold(ctx, in.Pin, in.UserPhoneNumber, s.now())
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrAlreadySold
			}
			return err
		}
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrAlreadySold):
			obs.VoucherRedeemedTotal.WithLabelValues("already_sold").Inc()
		case errors.Is(err, ErrNotFound):
			obs.VoucherRedeemedTotal.WithLabelValues("not_found").Inc()
		}
		return Voucher{}, err
	}
	obs.VoucherRedeemedTotal.WithLabelValues("success").Inc()
	s.log.Info().
		Int64("voucher_id", redeemed.ID).
		Int64("voucher_worth", redeemed.VoucherWorth).
		Msg("voucher redeemed")
	return redeemed, nil
}

// GetByID returns a single voucher by its identifier.
func (s *Service) GetByID(ctx context.Context, id int64) (Voucher, error) {
	v, err := s.store.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return Voucher{}, ErrNotFound
	}
	return v, err
}

// GetByPin returns a single voucher by its redemption pin.
func (s *Service) GetByPin(ctx context.Context, pin string) (Voucher, error) {
	v, err := s.store.GetByPin(ctx, pin)
	if errors.Is(err, pgx.ErrNoRows) {
		return Voucher{}, ErrNotFound
	}
	return v, err
}

// ListByDriver returns every voucher the authenticated driver has issued.
func (s *Service) ListByDriver(ctx context.Context, driverID string) ([]Voucher, error) {
	return s.store.ListByDriver(ctx, driverID)
}

// List returns a filtered page of vouchers.
func (s *Service) List(ctx context.Context, f Filter, p common.Pagination) ([]Voucher, error) {
	return s.store.List(ctx, f, p.PerPage, (p.Page-1)*p.PerPage)
}
