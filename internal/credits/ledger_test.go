package credits

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/voxlens/voxlens/constants"
	"github.com/voxlens/voxlens/internal/common"
	"github.com/voxlens/voxlens/internal/entity"
	"github.com/voxlens/voxlens/internal/repository"
)

func TestRequiredCredits(t *testing.T) {
	cases := []struct {
		minutes     float64
		diarization bool
		want        int
	}{
		{10, false, 10},
		{10, true, 15},
		{0, false, 0},
		{0, true, 0},
		{2, false, 2},
		{2.1, false, 3},  // partial minutes round up
		{10.5, true, 15}, // floor(10.5 * 1.5) = 15
		{-1, false, 0},
	}
	for _, c := range cases {
		if got := RequiredCredits(c.minutes, c.diarization); got != c.want {
			t.Errorf("RequiredCredits(%v, %v) = %d, want %d", c.minutes, c.diarization, got, c.want)
		}
	}
}

func newLedger(t *testing.T) (*Ledger, *repository.MemoryCreditRepository, *repository.MemoryJobRepository) {
	t.Helper()
	credits := repository.NewMemoryCreditRepository()
	jobs := repository.NewMemoryJobRepository()
	return NewLedger(credits, jobs, nil), credits, jobs
}

func TestReserveDeductsBalance(t *testing.T) {
	ctx := context.Background()
	ledger, credits, _ := newLedger(t)
	user := uuid.New()
	if err := credits.EnsureUser(ctx, user, 10); err != nil {
		t.Fatal(err)
	}

	ok, err := ledger.Reserve(ctx, user, 7)
	if err != nil || !ok {
		t.Fatalf("Reserve = %v, %v; want true, nil", ok, err)
	}
	if balance, _ := credits.GetBalance(ctx, user); balance != 3 {
		t.Errorf("balance after reserve = %d, want 3", balance)
	}

	// Remaining balance does not cover another 7.
	ok, err = ledger.Reserve(ctx, user, 7)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("Reserve should reject when balance is insufficient")
	}
	if balance, _ := credits.GetBalance(ctx, user); balance != 3 {
		t.Errorf("rejected reserve must not touch balance, got %d", balance)
	}
}

func TestSettleCompletesDebit(t *testing.T) {
	ctx := context.Background()
	ledger, credits, jobs := newLedger(t)
	user := uuid.New()
	jobID := uuid.New()
	_ = credits.EnsureUser(ctx, user, 10)
	_ = jobs.Create(ctx, &entity.Job{ID: jobID, UserID: user, Status: constants.JobStatusQueued})

	if err := ledger.CreateDebit(ctx, user, jobID, 5, constants.TxTranscription, "test"); err != nil {
		t.Fatal(err)
	}
	if err := ledger.Settle(ctx, jobID); err != nil {
		t.Fatal(err)
	}

	debit, err := credits.GetDebitByJob(ctx, jobID)
	if err != nil {
		t.Fatal(err)
	}
	if debit.Status != constants.TxCompleted {
		t.Errorf("debit status = %s, want completed", debit.Status)
	}
	job, _ := jobs.Get(ctx, jobID)
	if !job.CreditsCharged {
		t.Error("job should be marked credits_charged after settle")
	}
}

func TestSettleMissingDebitIsHardError(t *testing.T) {
	ctx := context.Background()
	ledger, _, _ := newLedger(t)
	err := ledger.Settle(ctx, uuid.New())
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("Settle without debit = %v, want ErrNotFound", err)
	}
}

func TestRefundRestoresBalanceAndMagnitude(t *testing.T) {
	ctx := context.Background()
	ledger, credits, _ := newLedger(t)
	user := uuid.New()
	jobID := uuid.New()
	_ = credits.EnsureUser(ctx, user, 10)

	ok, err := ledger.Reserve(ctx, user, 6)
	if err != nil || !ok {
		t.Fatal("reserve failed")
	}
	if err := ledger.CreateDebit(ctx, user, jobID, 6, constants.TxTranscriptionDiarization, "test"); err != nil {
		t.Fatal(err)
	}
	if err := ledger.Refund(ctx, jobID, user); err != nil {
		t.Fatal(err)
	}

	if balance, _ := credits.GetBalance(ctx, user); balance != 10 {
		t.Errorf("balance after refund = %d, want 10", balance)
	}

	txs, _ := credits.ListByUser(ctx, user)
	var refund *entity.CreditTransaction
	for _, tx := range txs {
		if tx.Type == constants.TxRefund {
			refund = tx
		}
	}
	if refund == nil {
		t.Fatal("refund transaction missing")
	}
	if refund.Amount != 6 || refund.Status != constants.TxCompleted {
		t.Errorf("refund tx = %+v, want amount 6, status completed", refund)
	}
	// Original debit is superseded, never deleted.
	if len(txs) != 2 {
		t.Errorf("expected 2 transactions, got %d", len(txs))
	}
	// At most one non-refunded debit per job: the original is now refunded.
	if _, err := credits.GetDebitByJob(ctx, jobID); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("GetDebitByJob after refund = %v, want ErrNotFound", err)
	}
}

func TestRefundWithoutDebitIsHardError(t *testing.T) {
	ctx := context.Background()
	ledger, credits, _ := newLedger(t)
	user := uuid.New()
	_ = credits.EnsureUser(ctx, user, 10)
	if err := ledger.Refund(ctx, uuid.New(), user); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("Refund without debit = %v, want ErrNotFound", err)
	}
}

func TestAdminAdjust(t *testing.T) {
	ctx := context.Background()
	ledger, credits, _ := newLedger(t)
	user := uuid.New()
	_ = credits.EnsureUser(ctx, user, 5)

	if err := ledger.AdminAdjust(ctx, user, 20, "promo grant"); err != nil {
		t.Fatal(err)
	}
	if err := ledger.AdminAdjust(ctx, user, -3, "correction"); err != nil {
		t.Fatal(err)
	}
	if balance, _ := credits.GetBalance(ctx, user); balance != 22 {
		t.Errorf("balance = %d, want 22", balance)
	}

	txs, _ := credits.ListByUser(ctx, user)
	var types []constants.TransactionType
	for _, tx := range txs {
		types = append(types, tx.Type)
	}
	if len(types) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(types))
	}
}
