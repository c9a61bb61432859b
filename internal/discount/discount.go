package discount

import "time"

// defaultPercent seeds the discount record when none exists at startup.
const defaultPercent = 0.2

// Discount is the single system-wide purchase discount applied to voucher
// issuance. The store holds exactly one row.
type Discount struct {
	AuthID          string    `json:"authId"`
	DiscountPercent float64   `json:"discountPercent"`
	Timestamp       time.Time `json:"timestamp"`
	UpdateTimeStamp time.Time `json:"updateTimeStamp"`
}
