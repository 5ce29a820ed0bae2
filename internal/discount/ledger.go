package discount

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Usage is one redemption of a code against an order.
type Usage struct {
	Code           string          `json:"code"`
	UserID         string          `json:"user_id,omitempty"`
	OrderID        string          `json:"order_id"`
	Amount         decimal.Decimal `json:"amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	FinalAmount    decimal.Decimal `json:"final_amount"`
	At             time.Time       `json:"at"`
}

// Limits are re-checked atomically while recording so that concurrent
// redemptions cannot push a code past its caps. Zero means unlimited.
type Limits struct {
	MaxUses        int
	MaxUsesPerUser int
}

func limitsOf(d Discount) Limits {
	var l Limits
	if d.MaxUses != nil {
		l.MaxUses = *d.MaxUses
	}
	if d.MaxUsesPerUser != nil {
		l.MaxUsesPerUser = *d.MaxUsesPerUser
	}
	return l
}

type RecordStatus int

const (
	Recorded RecordStatus = iota
	AlreadyRecorded
	UsageLimitReached
	UserLimitReached
)

func (s RecordStatus) String() string {
	switch s {
	case Recorded:
		return "recorded"
	case AlreadyRecorded:
		return "already_recorded"
	case UsageLimitReached:
		return "usage_limit_reached"
	case UserLimitReached:
		return "user_limit_reached"
	default:
		return "unknown"
	}
}

// UsageLedger records redemptions keyed by (code, order). Recording the same
// order twice is a no-op reporting AlreadyRecorded. Release undoes a
// redemption and gives its slot back to both counters; it reports false when
// nothing was recorded for the order.
type UsageLedger interface {
	Record(ctx context.Context, usage Usage, limits Limits) (RecordStatus, error)
	Release(ctx context.Context, code, orderID string) (bool, error)
	Count(ctx context.Context, code string) (int, error)
	UserCount(ctx context.Context, code, userID string) (int, error)
	Usage(ctx context.Context, code, orderID string) (Usage, bool, error)
}

type MemoryLedger struct {
	mu     sync.Mutex
	usages map[string]map[string]Usage
	counts map[string]int
	users  map[string]map[string]int
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		usages: make(map[string]map[string]Usage),
		counts: make(map[string]int),
		users:  make(map[string]map[string]int),
	}
}

func (l *MemoryLedger) Record(_ context.Context, usage Usage, limits Limits) (RecordStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	orders := l.usages[usage.Code]
	if _, ok := orders[usage.OrderID]; ok {
		return AlreadyRecorded, nil
	}
	if limits.MaxUses > 0 && l.counts[usage.Code] >= limits.MaxUses {
		return UsageLimitReached, nil
	}
	if limits.MaxUsesPerUser > 0 && usage.UserID != "" && l.users[usage.Code][usage.UserID] >= limits.MaxUsesPerUser {
		return UserLimitReached, nil
	}

	if orders == nil {
		orders = make(map[string]Usage)
		l.usages[usage.Code] = orders
	}
	orders[usage.OrderID] = usage
	l.counts[usage.Code]++
	if usage.UserID != "" {
		if l.users[usage.Code] == nil {
			l.users[usage.Code] = make(map[string]int)
		}
		l.users[usage.Code][usage.UserID]++
	}
	return Recorded, nil
}

func (l *MemoryLedger) Release(_ context.Context, code, orderID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	usage, ok := l.usages[code][orderID]
	if !ok {
		return false, nil
	}
	delete(l.usages[code], orderID)
	if l.counts[code] > 0 {
		l.counts[code]--
	}
	if usage.UserID != "" && l.users[code][usage.UserID] > 0 {
		l.users[code][usage.UserID]--
	}
	return true, nil
}

func (l *MemoryLedger) Count(_ context.Context, code string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[code], nil
}

func (l *MemoryLedger) UserCount(_ context.Context, code, userID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.users[code][userID], nil
}

func (l *MemoryLedger) Usage(_ context.Context, code, orderID string) (Usage, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	usage, ok := l.usages[code][orderID]
	return usage, ok, nil
}
