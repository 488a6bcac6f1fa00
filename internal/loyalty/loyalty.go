// Package loyalty implements the "every 10th wash is free" ledger.
//
// The balance is derived: earned = floor(total_washes / WashesPerReward) and
// available = max(0, earned - total_redeemed). Stores apply Apply's rule as one
// atomic update per customer so concurrent transactions never clobber each
// other's read-modify-write.
package loyalty

import (
	"context"
	"errors"
	"fmt"

	"laundrypos/backend/internal/domain"
)

const WashesPerReward = 10

var ErrInvalidActivity = errors.New("invalid wash activity")

type Balance struct {
	TotalWashes   int
	LoyaltyPoints int
	TotalRedeemed int
}

func BalanceOf(customer domain.Customer) Balance {
	return Balance{
		TotalWashes:   customer.TotalWashes,
		LoyaltyPoints: customer.LoyaltyPoints,
		TotalRedeemed: customer.TotalRedeemed,
	}
}

func Earned(totalWashes int) int {
	return EarnedEvery(totalWashes, WashesPerReward)
}

// EarnedEvery counts rewards for one free wash every washesPerReward paid
// washes. A non-positive interval falls back to WashesPerReward.
func EarnedEvery(totalWashes int, washesPerReward int) int {
	if washesPerReward <= 0 {
		washesPerReward = WashesPerReward
	}
	if totalWashes < 0 {
		return 0
	}
	return totalWashes / washesPerReward
}

// Apply accrues paid washes and then redeems free washes, returning the new
// balance and the number of milestones crossed by the paid washes.
func Apply(current Balance, paidWashes int, freeWashes int, washesPerReward int) (Balance, int) {
	next := current
	next.TotalWashes = current.TotalWashes + paidWashes
	earned := EarnedEvery(next.TotalWashes, washesPerReward)
	newlyEarned := earned - EarnedEvery(current.TotalWashes, washesPerReward)

	next.LoyaltyPoints = max(0, earned-current.TotalRedeemed)
	if freeWashes > 0 {
		next.LoyaltyPoints = max(0, next.LoyaltyPoints-freeWashes)
		next.TotalRedeemed = current.TotalRedeemed + freeWashes
	}
	return next, newlyEarned
}

// Store applies one customer's wash activity atomically and reports the
// resulting balance.
type Store interface {
	ApplyWashActivity(ctx context.Context, customerID string, paidWashes int, freeWashes int, washesPerReward int) (*domain.LoyaltyDelta, error)
}

type Ledger struct {
	store Store
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

func (l *Ledger) ApplyWashActivity(ctx context.Context, customerID string, paidWashes int, freeWashes int) (domain.LoyaltyDelta, error) {
	if customerID == "" {
		return domain.LoyaltyDelta{}, fmt.Errorf("%w: customer id required", ErrInvalidActivity)
	}
	if paidWashes < 0 || freeWashes < 0 {
		return domain.LoyaltyDelta{}, fmt.Errorf("%w: negative wash count paid=%d free=%d", ErrInvalidActivity, paidWashes, freeWashes)
	}
	if paidWashes == 0 && freeWashes == 0 {
		return domain.LoyaltyDelta{}, fmt.Errorf("%w: no wash activity", ErrInvalidActivity)
	}

	delta, err := l.store.ApplyWashActivity(ctx, customerID, paidWashes, freeWashes, WashesPerReward)
	if err != nil {
		return domain.LoyaltyDelta{}, err
	}
	return *delta, nil
}

// Summary reports a customer's balance together with the washes still needed
// for the next reward.
func Summary(customer domain.Customer) domain.CustomerLoyaltyResponse {
	remaining := WashesPerReward - customer.TotalWashes%WashesPerReward
	return domain.CustomerLoyaltyResponse{
		CustomerID:         customer.ID,
		TotalWashes:        customer.TotalWashes,
		EarnedPoints:       Earned(customer.TotalWashes),
		TotalRedeemed:      customer.TotalRedeemed,
		LoyaltyPoints:      customer.LoyaltyPoints,
		WashesToNextReward: remaining,
	}
}
