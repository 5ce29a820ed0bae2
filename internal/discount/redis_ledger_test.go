package discount

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

func setupTestLedger(t *testing.T) (*RedisLedger, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	return NewRedisLedgerWithClient(client), s
}

func TestNewRedisLedger(t *testing.T) {
	ledger, _ := setupTestLedger(t)
	defer ledger.Close()

	if err := ledger.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestRedisLedgerRecordIsIdempotent(t *testing.T) {
	ledger, s := setupTestLedger(t)
	defer ledger.Close()
	ctx := context.Background()

	usage := Usage{
		Code:           "SPRING25",
		UserID:         "user-1",
		OrderID:        "order-1",
		Amount:         decimal.NewFromInt(100),
		DiscountAmount: decimal.NewFromInt(25),
		FinalAmount:    decimal.NewFromInt(75),
		At:             time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}

	status, err := ledger.Record(ctx, usage, Limits{})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if status != Recorded {
		t.Fatalf("expected Recorded, got %s", status)
	}

	status, err = ledger.Record(ctx, usage, Limits{})
	if err != nil {
		t.Fatalf("second Record failed: %v", err)
	}
	if status != AlreadyRecorded {
		t.Fatalf("expected AlreadyRecorded, got %s", status)
	}

	count, err := ledger.Count(ctx, "SPRING25")
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected count 1, got %d", count)
	}
	userCount, err := ledger.UserCount(ctx, "SPRING25", "user-1")
	if err != nil {
		t.Fatalf("UserCount failed: %v", err)
	}
	if userCount != 1 {
		t.Errorf("expected user count 1, got %d", userCount)
	}

	stored, ok, err := ledger.Usage(ctx, "SPRING25", "order-1")
	if err != nil || !ok {
		t.Fatalf("Usage lookup failed: ok=%v err=%v", ok, err)
	}
	if !stored.FinalAmount.Equal(usage.FinalAmount) {
		t.Errorf("expected final %s, got %s", usage.FinalAmount, stored.FinalAmount)
	}
	if !stored.At.Equal(usage.At) {
		t.Errorf("expected time %s, got %s", usage.At, stored.At)
	}

	if !s.Exists("discount:{SPRING25}:usage:order-1") {
		t.Error("expected usage key with hash tag")
	}
}

func TestRedisLedgerMissingKeys(t *testing.T) {
	ledger, _ := setupTestLedger(t)
	defer ledger.Close()
	ctx := context.Background()

	count, err := ledger.Count(ctx, "NONE")
	if err != nil || count != 0 {
		t.Fatalf("expected zero count, got %d err=%v", count, err)
	}
	userCount, err := ledger.UserCount(ctx, "NONE", "user-1")
	if err != nil || userCount != 0 {
		t.Fatalf("expected zero user count, got %d err=%v", userCount, err)
	}
	if _, ok, err := ledger.Usage(ctx, "NONE", "order"); err != nil || ok {
		t.Fatalf("expected no usage, ok=%v err=%v", ok, err)
	}
}

func TestRedisLedgerReleaseRestoresCounters(t *testing.T) {
	ledger, s := setupTestLedger(t)
	defer ledger.Close()
	ctx := context.Background()

	usage := Usage{Code: "ONCE20", UserID: "user-1", OrderID: "order-1", Amount: decimal.NewFromInt(40)}
	limits := Limits{MaxUsesPerUser: 1}
	if status, err := ledger.Record(ctx, usage, limits); err != nil || status != Recorded {
		t.Fatalf("Record: status=%s err=%v", status, err)
	}

	released, err := ledger.Release(ctx, "ONCE20", "order-1")
	if err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if !released {
		t.Fatal("expected release to report true")
	}
	if s.Exists("discount:{ONCE20}:usage:order-1") {
		t.Error("expected usage key removed")
	}
	count, _ := ledger.Count(ctx, "ONCE20")
	userCount, _ := ledger.UserCount(ctx, "ONCE20", "user-1")
	if count != 0 || userCount != 0 {
		t.Errorf("expected counters back at zero, got count=%d user=%d", count, userCount)
	}

	released, err = ledger.Release(ctx, "ONCE20", "order-1")
	if err != nil || released {
		t.Fatalf("expected no-op release, released=%v err=%v", released, err)
	}

	usage.Amount = decimal.NewFromInt(200)
	if status, err := ledger.Record(ctx, usage, limits); err != nil || status != Recorded {
		t.Fatalf("re-record after release: status=%s err=%v", status, err)
	}
}

func TestMemoryLedgerRelease(t *testing.T) {
	ledger := NewMemoryLedger()
	ctx := context.Background()
	usage := Usage{Code: "ONCE20", UserID: "user-1", OrderID: "order-1"}
	if _, err := ledger.Record(ctx, usage, Limits{MaxUsesPerUser: 1}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	if released, _ := ledger.Release(ctx, "ONCE20", "order-1"); !released {
		t.Fatal("expected release")
	}
	if released, _ := ledger.Release(ctx, "ONCE20", "order-1"); released {
		t.Fatal("expected second release to be a no-op")
	}
	if n, _ := ledger.UserCount(ctx, "ONCE20", "user-1"); n != 0 {
		t.Errorf("expected user count 0, got %d", n)
	}
	if _, ok, _ := ledger.Usage(ctx, "ONCE20", "order-1"); ok {
		t.Error("expected usage removed")
	}
}

func TestRedisLedgerEnforcesLimits(t *testing.T) {
	ledger, _ := setupTestLedger(t)
	defer ledger.Close()
	ctx := context.Background()

	limits := Limits{MaxUses: 3, MaxUsesPerUser: 1}
	record := func(user, order string) RecordStatus {
		t.Helper()
		status, err := ledger.Record(ctx, Usage{Code: "CAPPED", UserID: user, OrderID: order}, limits)
		if err != nil {
			t.Fatalf("Record failed: %v", err)
		}
		return status
	}

	if got := record("u1", "o1"); got != Recorded {
		t.Fatalf("expected Recorded, got %s", got)
	}
	if got := record("u1", "o2"); got != UserLimitReached {
		t.Fatalf("expected UserLimitReached, got %s", got)
	}
	if got := record("u2", "o3"); got != Recorded {
		t.Fatalf("expected Recorded, got %s", got)
	}
	if got := record("", "o4"); got != Recorded {
		t.Fatalf("expected Recorded for anonymous usage, got %s", got)
	}
	if got := record("u3", "o5"); got != UsageLimitReached {
		t.Fatalf("expected UsageLimitReached, got %s", got)
	}

	count, _ := ledger.Count(ctx, "CAPPED")
	if count != 3 {
		t.Errorf("expected count 3, got %d", count)
	}
}

func TestRedisLedgerConcurrentRecordsRespectCap(t *testing.T) {
	ledger, _ := setupTestLedger(t)
	defer ledger.Close()
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		recorded int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status, err := ledger.Record(ctx, Usage{Code: "RUSH", OrderID: "order-" + string(rune('a'+i))}, Limits{MaxUses: 5})
			if err != nil {
				t.Errorf("Record failed: %v", err)
				return
			}
			if status == Recorded {
				mu.Lock()
				recorded++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if recorded != 5 {
		t.Errorf("expected exactly 5 recorded usages, got %d", recorded)
	}
}

func TestServiceWithRedisLedger(t *testing.T) {
	ledger, _ := setupTestLedger(t)
	defer ledger.Close()
	ctx := context.Background()

	svc := NewService(NewMemoryRepository(), ledger, nil).WithClock(func() time.Time { return testNow })
	if _, err := svc.Create(ctx, CreateRequest{Code: "REDIS10", Type: TypePercentage, Value: decimal.NewFromInt(10)}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	req := ApplyRequest{ValidateRequest: ValidateRequest{Code: "REDIS10", Amount: "80"}, OrderID: "order-9"}
	for i := 0; i < 3; i++ {
		res, err := svc.Apply(ctx, req)
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		if !res.FinalAmount.Equal(decimal.NewFromInt(72)) {
			t.Fatalf("expected 72, got %s", res.FinalAmount)
		}
		if res.AlreadyRecorded != (i > 0) {
			t.Fatalf("attempt %d: AlreadyRecorded=%v", i, res.AlreadyRecorded)
		}
	}

	d, err := svc.Get(ctx, "REDIS10")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if d.UsedCount != 1 {
		t.Errorf("expected used count 1, got %d", d.UsedCount)
	}
}
