package voucher

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-voucher/internal/common"
	"github.com/noah-isme/backend-voucher/internal/lock"
	"github.com/noah-isme/backend-voucher/internal/obs"
)

func TestMain(m *testing.M) {
	obs.MustRegisterDomainMetrics("test", nil)
	os.Exit(m.Run())
}

type stubStore struct {
	mu           sync.Mutex
	vouchers     map[string]Voucher
	insertCalls  int
	pinConflicts int
	insertErr    error
	nextID       int64
	sold         []string
}

func newStubStore() *stubStore {
	return &stubStore{vouchers: map[string]Voucher{}}
}

func (s *stubStore) Insert(ctx context.Context, v *Voucher) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertCalls++
	if s.insertErr != nil {
		return s.insertErr
	}
	if s.pinConflicts > 0 {
		s.pinConflicts--
		return ErrPinTaken
	}
	if _, exists := s.vouchers[v.Pin]; exists {
		return ErrPinTaken
	}
	s.nextID++
	v.ID = s.nextID
	v.DateGenerated = time.Now()
	s.vouchers[v.Pin] = *v
	return nil
}

func (s *stubStore) GetByID(ctx context.Context, id int64) (Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.vouchers {
		if v.ID == id {
			return v, nil
		}
	}
	return Voucher{}, pgx.ErrNoRows
}

func (s *stubStore) GetByPin(ctx context.Context, pin string) (Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vouchers[pin]
	if !ok {
		return Voucher{}, pgx.ErrNoRows
	}
	return v, nil
}

func (s *stubStore) ListByDriver(ctx context.Context, driverID string) ([]Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Voucher
	for _, v := range s.vouchers {
		if v.DriverID == driverID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *stubStore) List(ctx context.Context, f Filter, limit, offset int) ([]Voucher, error) {
	return nil, nil
}

func (s *stubStore) MarkSold(ctx context.Context, pin string, userPhoneNumber *string, usedAt time.Time) (Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vouchers[pin]
	if !ok || v.Status != StatusUnsold {
		return Voucher{}, pgx.ErrNoRows
	}
	v.Status = StatusSold
	v.UserPhoneNumber = userPhoneNumber
	v.DateUsed = &usedAt
	s.vouchers[pin] = v
	s.sold = append(s.sold, pin)
	return v, nil
}

type stubDiscount struct {
	percent float64
	err     error
}

func (s stubDiscount) CurrentPercent(ctx context.Context) (float64, error) {
	return s.percent, s.err
}

type stubWallet struct {
	mu          sync.Mutex
	debits      int
	credits     int
	creditPhone string
	debitErr    error
	creditErr   error
}

func (s *stubWallet) Debit(ctx context.Context, auth, phone string, amount int64, desc string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.debits++
	return s.debitErr
}

func (s *stubWallet) Credit(ctx context.Context, auth, phone string, amount int64, desc string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credits++
	s.creditPhone = phone
	return s.creditErr
}

type passthroughLocker struct{}

func (passthroughLocker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	return fn(ctx)
}

func newTestService(store *stubStore, d stubDiscount, w *stubWallet) *Service {
	return NewService(store, d, w, passthroughLocker{}, zerolog.Nop())
}

func driverIdentity() common.Identity {
	return common.Identity{AuthID: "driver-1", RawHeader: "Bearer token"}
}

func TestIssueComputesDiscountedPrice(t *testing.T) {
	store := newStubStore()
	walletStub := &stubWallet{}
	svc := newTestService(store, stubDiscount{percent: 0.2}, walletStub)

	v, err := svc.Issue(context.Background(), driverIdentity(), IssueInput{
		DriverPhoneNumber: "+254700000001",
		VoucherWorth:      100,
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if v.AmountBought != 80 {
		t.Fatalf("expected amountBought 80, got %d", v.AmountBought)
	}
	if v.DiscountAmount == nil || *v.DiscountAmount != 20 {
		t.Fatalf("expected discountAmount 20, got %v", v.DiscountAmount)
	}
	if v.Status != StatusUnsold {
		t.Fatalf("expected UNSOLD, got %d", v.Status)
	}
	if v.DriverID != "driver-1" {
		t.Fatalf("driver id not taken from identity: %q", v.DriverID)
	}
	if walletStub.debits != 1 {
		t.Fatalf("expected exactly one debit, got %d", walletStub.debits)
	}
}

func TestIssueWithoutDiscountFails(t *testing.T) {
	store := newStubStore()
	walletStub := &stubWallet{}
	svc := newTestService(store, stubDiscount{err: errors.New("not configured")}, walletStub)

	_, err := svc.Issue(context.Background(), driverIdentity(), IssueInput{
		DriverPhoneNumber: "+254700000001",
		VoucherWorth:      100,
	})
	if !errors.Is(err, ErrNoDiscount) {
		t.Fatalf("expected ErrNoDiscount, got %v", err)
	}
	if walletStub.debits != 0 {
		t.Fatal("wallet must not be debited without a discount")
	}
	if store.insertCalls != 0 {
		t.Fatal("no voucher may be persisted without a discount")
	}
}

func TestIssueWalletDeclinedPersistsNothing(t *testing.T) {
	store := newStubStore()
	walletStub := &stubWallet{debitErr: errors.New("declined")}
	svc := newTestService(store, stubDiscount{percent: 0.2}, walletStub)

	_, err := svc.Issue(context.Background(), driverIdentity(), IssueInput{
		DriverPhoneNumber: "+254700000001",
		VoucherWorth:      100,
	})
	if err == nil {
		t.Fatal("expected error from declined debit")
	}
	if store.insertCalls != 0 {
		t.Fatal("declined debit must not persist a voucher")
	}
}

func TestIssueRetriesOnPinConflict(t *testing.T) {
	store := newStubStore()
	store.pinConflicts = 2
	walletStub := &stubWallet{}
	svc := newTestService(store, stubDiscount{percent: 0.2}, walletStub)

	v, err := svc.Issue(context.Background(), driverIdentity(), IssueInput{
		DriverPhoneNumber: "+254700000001",
		VoucherWorth:      100,
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if store.insertCalls != 3 {
		t.Fatalf("expected 3 insert attempts, got %d", store.insertCalls)
	}
	if !ValidPin(v.Pin) {
		t.Fatalf("pin %q does not match expected shape", v.Pin)
	}
	if walletStub.debits != 1 {
		t.Fatalf("retries must not debit again, got %d debits", walletStub.debits)
	}
}

func TestIssueGivesUpAfterMaxPinAttempts(t *testing.T) {
	store := newStubStore()
	store.pinConflicts = maxPinAttempts + 1
	svc := newTestService(store, stubDiscount{percent: 0.2}, &stubWallet{})

	_, err := svc.Issue(context.Background(), driverIdentity(), IssueInput{
		DriverPhoneNumber: "+254700000001",
		VoucherWorth:      100,
	})
	if err == nil {
		t.Fatal("expected error after exhausting pin attempts")
	}
	if store.insertCalls != maxPinAttempts {
		t.Fatalf("expected %d attempts, got %d", maxPinAttempts, store.insertCalls)
	}
}

func TestIssueExplicitAmountOverridesDiscount(t *testing.T) {
	store := newStubStore()
	svc := newTestService(store, stubDiscount{percent: 0.2}, &stubWallet{})

	amount := int64(90)
	v, err := svc.Issue(context.Background(), driverIdentity(), IssueInput{
		DriverPhoneNumber: "+254700000001",
		VoucherWorth:      100,
		AmountBought:      &amount,
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if v.AmountBought != 90 {
		t.Fatalf("expected amountBought 90, got %d", v.AmountBought)
	}
}

func TestRedeemMarksSoldAndCredits(t *testing.T) {
	store := newStubStore()
	walletStub := &stubWallet{}
	svc := newTestService(store, stubDiscount{percent: 0.2}, walletStub)

	issued, err := svc.Issue(context.Background(), driverIdentity(), IssueInput{
		DriverPhoneNumber: "+254700000001",
		VoucherWorth:      100,
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	phone := "+254711111111"
	redeemed, err := svc.Redeem(context.Background(), common.Identity{AuthID: "rider-1"}, RedeemInput{
		Pin:             issued.Pin,
		UserPhoneNumber: &phone,
	})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if redeemed.Status != StatusSold {
		t.Fatalf("expected SOLD, got %d", redeemed.Status)
	}
	if redeemed.UserPhoneNumber == nil || *redeemed.UserPhoneNumber != phone {
		t.Fatalf("user phone not recorded: %v", redeemed.UserPhoneNumber)
	}
	if redeemed.DateUsed == nil {
		t.Fatal("dateUsed not set")
	}
	if walletStub.credits != 1 {
		t.Fatalf("expected exactly one credit, got %d", walletStub.credits)
	}
	if walletStub.creditPhone != phone {
		t.Fatalf("credit went to %q, want rider %q", walletStub.creditPhone, phone)
	}
}

func TestRedeemWithoutUserPhoneCreditsDriver(t *testing.T) {
	// The wallet call always names a concrete account. With no rider phone
	// in the request the face value goes back to the driver's number, and
	// the stored voucher keeps user_phone_number empty.
	store := newStubStore()
	walletStub := &stubWallet{}
	svc := newTestService(store, stubDiscount{percent: 0.2}, walletStub)

	issued, err := svc.Issue(context.Background(), driverIdentity(), IssueInput{
		DriverPhoneNumber: "+254700000001",
		VoucherWorth:      100,
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	redeemed, err := svc.Redeem(context.Background(), common.Identity{AuthID: "rider-1"}, RedeemInput{Pin: issued.Pin})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if walletStub.creditPhone != "+254700000001" {
		t.Fatalf("credit went to %q, want driver phone", walletStub.creditPhone)
	}
	if redeemed.UserPhoneNumber != nil {
		t.Fatalf("user phone should stay unset, got %v", redeemed.UserPhoneNumber)
	}
}

func TestRedeemSoldVoucherNeverCreditsAgain(t *testing.T) {
	store := newStubStore()
	walletStub := &stubWallet{}
	svc := newTestService(store, stubDiscount{percent: 0.2}, walletStub)

	issued, err := svc.Issue(context.Background(), driverIdentity(), IssueInput{
		DriverPhoneNumber: "+254700000001",
		VoucherWorth:      100,
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	rider := common.Identity{AuthID: "rider-1"}
	if _, err := svc.Redeem(context.Background(), rider, RedeemInput{Pin: issued.Pin}); err != nil {
		t.Fatalf("first redeem: %v", err)
	}

	_, err = svc.Redeem(context.Background(), rider, RedeemInput{Pin: issued.Pin})
	if !errors.Is(err, ErrAlreadySold) {
		t.Fatalf("expected ErrAlreadySold, got %v", err)
	}
	if walletStub.credits != 1 {
		t.Fatalf("repeat redemption must not credit again, got %d credits", walletStub.credits)
	}
}

func TestConcurrentRedeemCreditsOnce(t *testing.T) {
	// Two racing redemptions through the real redis lock: exactly one wins,
	// exactly one wallet credit fires, the loser sees the sold voucher.
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := newStubStore()
	walletStub := &stubWallet{}
	svc := NewService(store, stubDiscount{percent: 0.2}, walletStub, lock.Locker{R: rdb, RetryBackoff: time.Millisecond}, zerolog.Nop())

	issued, err := svc.Issue(context.Background(), driverIdentity(), IssueInput{
		DriverPhoneNumber: "+254700000001",
		VoucherWorth:      100,
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	rider := common.Identity{AuthID: "rider-1"}
	results := make([]error, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.Redeem(context.Background(), rider, RedeemInput{Pin: issued.Pin})
		}(i)
	}
	wg.Wait()

	var wins, replays int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrAlreadySold):
			replays++
		default:
			t.Fatalf("unexpected redeem error: %v", err)
		}
	}
	if wins != 1 || replays != 1 {
		t.Fatalf("expected one winner and one replay, got %d wins, %d replays", wins, replays)
	}
	if walletStub.credits != 1 {
		t.Fatalf("expected exactly one credit, got %d", walletStub.credits)
	}
	if got := store.vouchers[issued.Pin].Status; got != StatusSold {
		t.Fatalf("voucher not sold after race, status %d", got)
	}
}

func TestRedeemUnknownPin(t *testing.T) {
	store := newStubStore()
	svc := newTestService(store, stubDiscount{percent: 0.2}, &stubWallet{})

	_, err := svc.Redeem(context.Background(), common.Identity{AuthID: "rider-1"}, RedeemInput{Pin: "zz9999"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRedeemWalletFailureLeavesVoucherUnsold(t *testing.T) {
	store := newStubStore()
	walletStub := &stubWallet{creditErr: errors.New("wallet down")}
	svc := newTestService(store, stubDiscount{percent: 0.2}, walletStub)

	issued, err := svc.Issue(context.Background(), driverIdentity(), IssueInput{
		DriverPhoneNumber: "+254700000001",
		VoucherWorth:      100,
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	_, err = svc.Redeem(context.Background(), common.Identity{AuthID: "rider-1"}, RedeemInput{Pin: issued.Pin})
	if err == nil {
		t.Fatal("expected wallet failure to surface")
	}
	v, err := svc.GetByPin(context.Background(), issued.Pin)
	if err != nil {
		t.Fatalf("get after failed redeem: %v", err)
	}
	if v.Status != StatusUnsold {
		t.Fatalf("voucher must stay UNSOLD after failed credit, got %d", v.Status)
	}
}
