// Package stats reports voucher issuance totals, cached in Redis.
package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-voucher/internal/voucher"
)

// ErrInvalidRange signals a reporting window the service refuses to compute.
var ErrInvalidRange = errors.New("stats: invalid range")

// DateLayout is the wire format of reporting dates.
const DateLayout = "02/01/2006"

// minYear bounds the month report; the system did not exist before 2020.
const minYear = 2020

// Querier is the voucher counting surface the service reads from.
type Querier interface {
	CountVouchers(ctx context.Context) (int64, error)
	CountVouchersByDay(ctx context.Context, start, end time.Time) ([]voucher.DayCount, error)
	CountVouchersByMonth(ctx context.Context, year int) ([]voucher.MonthCount, error)
}

// Service provides cached access to issuance statistics.
type Service struct {
	Q   Querier
	R   *redis.Client
	TTL time.Duration
}

func cacheKey(parts ...any) string {
	formatted := make([]string, 0, len(parts)+1)
	formatted = append(formatted, "stat")
	for _, part := range parts {
		formatted = append(formatted, fmt.Sprint(part))
	}
	return strings.Join(formatted, ":")
}

// Total returns the number of vouchers ever issued.
func (s *Service) Total(ctx context.Context) (int64, error) {
	key := cacheKey("sum")
	if s.R != nil && s.TTL > 0 {
		if raw, err := s.R.Get(ctx, key).Int64(); err == nil {
			return raw, nil
		}
	}
	total, err := s.Q.CountVouchers(ctx)
	if err != nil {
		return 0, err
	}
	if s.R != nil && s.TTL > 0 {
		_ = s.R.Set(ctx, key, total, s.TTL).Err()
	}
	return total, nil
}

// ByDay returns a zero-filled per-day issuance count over the inclusive
// range. The map keys use DateLayout.
func (s *Service) ByDay(ctx context.Context, start, end time.Time) (map[string]int64, error) {
	start = start.Truncate(24 * time.Hour)
	end = end.Truncate(24 * time.Hour)
	if start.After(end) {
		return nil, ErrInvalidRange
	}

	key := cacheKey("day", start.Format("2006-01-02"), end.Format("2006-01-02"))
	if cached, ok := s.fromCache(ctx, key); ok {
		return cached, nil
	}

	counts, err := s.Q.CountVouchersByDay(ctx, start, end)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64)
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		out[day.Format(DateLayout)] = 0
	}
	for _, dc := range counts {
		out[dc.Day.Format(DateLayout)] = dc.Count
	}
	s.store(ctx, key, out)
	return out, nil
}

// ByMonth returns a zero-filled per-month issuance count for the year. Keys
// are month numbers 1 through 12.
func (s *Service) ByMonth(ctx context.Context, year int) (map[int]int64, error) {
	if year < minYear {
		return nil, ErrInvalidRange
	}

	key := cacheKey("month", year)
	if s.R != nil && s.TTL > 0 {
		if data, err := s.R.Get(ctx, key).Bytes(); err == nil {
			var cached map[int]int64
			if json.Unmarshal(data, &cached) == nil {
				return cached, nil
			}
		}
	}

	counts, err := s.Q.CountVouchersByMonth(ctx, year)
	if err != nil {
		return nil, err
	}
	out := make(map[int]int64, 12)
	for m := 1; m <= 12; m++ {
		out[m] = 0
	}
	for _, mc := range counts {
		if mc.Month >= 1 && mc.Month <= 12 {
			out[mc.Month] = mc.Count
		}
	}
	s.store(ctx, key, out)
	return out, nil
}

func (s *Service) fromCache(ctx context.Context, key string) (map[string]int64, bool) {
	if s.R == nil || s.TTL <= 0 {
		return nil, false
	}
	data, err := s.R.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var out map[string]int64
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false
	}
	return out, true
}

func (s *Service) store(ctx context.Context, key string, value any) {
	if s.R == nil || s.TTL <= 0 {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = s.R.Set(ctx, key, data, s.TTL).Err()
}
