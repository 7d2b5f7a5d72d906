package deal

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/joytrade/joycoin/internal/logging"
)

func newTestService() *Service {
	return NewService(NewMemoryStore(), logging.Discard())
}

func mirrorDeal(t *testing.T, svc *Service, dealID, orderID int64) Deal {
	t.Helper()
	d, err := svc.Create(context.Background(), CreateInput{
		DealID:        dealID,
		OrderID:       orderID,
		BuyerAddress:  "0xbuyer",
		SellerAddress: "0xseller",
		TokenAddress:  "0xtoken",
		Amount:        decimal.NewFromInt(1_000_000),
		FeeBps:        250,
		CreatedTxHash: "0xcreate",
	})
	if err != nil {
		t.Fatalf("create deal: %v", err)
	}
	return d
}

func TestCreateMirrorsDealInOpenState(t *testing.T) {
	svc := newTestService()
	d := mirrorDeal(t, svc, 1, 10)

	if d.Status != StatusOpen {
		t.Fatalf("expected OPEN, got %s", d.Status)
	}
	if d.CreatedTxHash != "0xcreate" {
		t.Fatalf("expected creation hash recorded, got %q", d.CreatedTxHash)
	}

	got, err := svc.Get(context.Background(), 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.DealID != 1 || got.OrderID != 10 {
		t.Fatalf("unexpected deal %+v", got)
	}
}

func TestCreateRejectsDuplicateDealID(t *testing.T) {
	svc := newTestService()
	mirrorDeal(t, svc, 1, 10)

	_, err := svc.Create(context.Background(), CreateInput{DealID: 1, Amount: decimal.NewFromInt(1)})
	if !errors.Is(err, ErrDealExists) {
		t.Fatalf("expected ErrDealExists, got %v", err)
	}
}

func TestHappyPathTransitions(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mirrorDeal(t, svc, 1, 10)

	d, err := svc.MarkFunded(ctx, 1, "0xfund")
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	if d.Status != StatusFunded || d.FundedTxHash != "0xfund" {
		t.Fatalf("unexpected deal %+v", d)
	}

	d, err = svc.MarkReleased(ctx, 1, "0xrelease")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if d.Status != StatusReleased || d.ReleasedTxHash != "0xrelease" {
		t.Fatalf("unexpected deal %+v", d)
	}
}

func TestRefundPathTransitions(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mirrorDeal(t, svc, 1, 10)

	if _, err := svc.MarkFunded(ctx, 1, "0xfund"); err != nil {
		t.Fatalf("fund: %v", err)
	}
	d, err := svc.MarkRefunded(ctx, 1, "0xrefund")
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if d.Status != StatusRefunded || d.RefundedTxHash != "0xrefund" {
		t.Fatalf("unexpected deal %+v", d)
	}
}

func TestCancelOnlyFromOpen(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mirrorDeal(t, svc, 1, 10)

	if _, err := svc.MarkCanceled(ctx, 1); err != nil {
		t.Fatalf("cancel open deal: %v", err)
	}

	mirrorDeal(t, svc, 2, 20)
	if _, err := svc.MarkFunded(ctx, 2, "0xfund"); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if _, err := svc.MarkCanceled(ctx, 2); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("funded deal must not cancel, got %v", err)
	}
}

func TestInvalidTransitionsRejected(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mirrorDeal(t, svc, 1, 10)

	// Release requires FUNDED first.
	if _, err := svc.MarkReleased(ctx, 1, "0x"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}

	if _, err := svc.MarkFunded(ctx, 1, "0xfund"); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if _, err := svc.MarkReleased(ctx, 1, "0xrelease"); err != nil {
		t.Fatalf("release: %v", err)
	}

	// Terminal states permit no further transition; replays are rejected.
	for _, attempt := range []func() error{
		func() error { _, err := svc.MarkFunded(ctx, 1, "0x"); return err },
		func() error { _, err := svc.MarkReleased(ctx, 1, "0x"); return err },
		func() error { _, err := svc.MarkRefunded(ctx, 1, "0x"); return err },
		func() error { _, err := svc.MarkCanceled(ctx, 1); return err },
	} {
		if err := attempt(); !errors.Is(err, ErrInvalidState) {
			t.Fatalf("expected ErrInvalidState on terminal deal, got %v", err)
		}
	}
}

func TestGetByOrderCorrelation(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mirrorDeal(t, svc, 1, 10)
	mirrorDeal(t, svc, 2, 0)

	d, err := svc.GetByOrder(ctx, 10)
	if err != nil {
		t.Fatalf("get by order: %v", err)
	}
	if d.DealID != 1 {
		t.Fatalf("expected deal 1, got %d", d.DealID)
	}

	if _, err := svc.GetByOrder(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTransitionOnMissingDeal(t *testing.T) {
	svc := newTestService()
	if _, err := svc.MarkFunded(context.Background(), 404, "0x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateIsConditionalOnObservedStatus(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	d, err := store.Create(ctx, Deal{DealID: 1, Status: StatusOpen, Amount: decimal.NewFromInt(1)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	funded := d
	funded.Status = StatusFunded
	if err := store.Update(ctx, funded, StatusOpen); err != nil {
		t.Fatalf("first writer: %v", err)
	}

	// A second writer still holding the OPEN snapshot must lose.
	stale := d
	stale.Status = StatusCanceled
	if err := store.Update(ctx, stale, StatusOpen); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for stale writer, got %v", err)
	}

	got, err := store.ByDealID(ctx, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusFunded {
		t.Fatalf("stale write must not apply, status %s", got.Status)
	}
}

func TestConcurrentResolutionAdmitsOneWinner(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	const deals = 25
	for i := int64(1); i <= deals; i++ {
		mirrorDeal(t, svc, i, 0)
		if _, err := svc.MarkFunded(ctx, i, "0xfund"); err != nil {
			t.Fatalf("fund %d: %v", i, err)
		}
	}

	relErrs := make([]error, deals+1)
	refErrs := make([]error, deals+1)
	var wg sync.WaitGroup
	for i := int64(1); i <= deals; i++ {
		wg.Add(2)
		go func(i int64) {
			defer wg.Done()
			_, relErrs[i] = svc.MarkReleased(ctx, i, "0xrelease")
		}(i)
		go func(i int64) {
			defer wg.Done()
			_, refErrs[i] = svc.MarkRefunded(ctx, i, "0xrefund")
		}(i)
	}
	wg.Wait()

	for i := int64(1); i <= deals; i++ {
		released := relErrs[i] == nil
		refunded := refErrs[i] == nil
		if released == refunded {
			t.Fatalf("deal %d: exactly one resolution must win, released err=%v refunded err=%v", i, relErrs[i], refErrs[i])
		}
		loser := relErrs[i]
		want := StatusRefunded
		if released {
			loser = refErrs[i]
			want = StatusReleased
		}
		if !errors.Is(loser, ErrInvalidState) {
			t.Fatalf("deal %d: loser must see ErrInvalidState, got %v", i, loser)
		}
		d, err := svc.Get(ctx, i)
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		if d.Status != want {
			t.Fatalf("deal %d: expected %s, got %s", i, want, d.Status)
		}
	}
}
