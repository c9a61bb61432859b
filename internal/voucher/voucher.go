package voucher

import "time"

// Status tracks the voucher lifecycle. A voucher is created UNSOLD and moves
// to SOLD exactly once, at redemption.
type Status int

const (
	// StatusUnsold marks a voucher that has been issued but not redeemed.
	StatusUnsold Status = 1
	// StatusSold marks a redeemed voucher. Terminal.
	StatusSold Status = 2
)

// Voucher is a prepaid, single-use credit instrument sold by a driver and
// redeemable by a rider for its face value.
type Voucher struct {
	ID                int64      `json:"id"`
	DriverID          string     `json:"driverId"`
	DriverPhoneNumber string     `json:"driverPhoneNumber"`
	Pin               string     `json:"pin"`
	AmountBought      int64      `json:"amountBought"`
	VoucherWorth      int64      `json:"voucherWorth"`
	DiscountAmount    *int64     `json:"discountAmount,omitempty"`
	UserPhoneNumber   *string    `json:"userPhoneNumber,omitempty"`
	Status            Status     `json:"status"`
	DateGenerated     time.Time  `json:"dateGenerated"`
	DateUsed          *time.Time `json:"dateUsed,omitempty"`
}

// Filter describes the optional predicates of a voucher listing. All supplied
// fields are combined with AND.
type Filter struct {
	ID                *int64
	DriverID          *string
	DriverPhoneNumber *string
	UserPhoneNumber   *string
	MinDiscountAmount *int64
	MaxDiscountAmount *int64
	MinVoucherWorth   *int64
	MaxVoucherWorth   *int64
	Status            *Status
}
