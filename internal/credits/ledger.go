// Package credits implements the usage-credit ledger: cost computation,
// reservation, settlement and refunds. One credit covers one minute of
// processed audio; diarization multiplies the rate by 1.5.
package credits

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"github.com/voxlens/voxlens/constants"
	"github.com/voxlens/voxlens/internal/entity"
	"github.com/voxlens/voxlens/internal/repository"
)

// RequiredCredits computes the credits a job of the given duration costs.
// Partial minutes are charged in full; with diarization the cost is
// floor(minutes × 1.5).
func RequiredCredits(durationMinutes float64, diarizationEnabled bool) int {
	if durationMinutes <= 0 {
		return 0
	}
	if diarizationEnabled {
		return int(math.Floor(durationMinutes * 1.5))
	}
	return int(math.Ceil(durationMinutes))
}

// Ledger reserves, settles and refunds credit transactions against the
// credit store. It is constructed once and injected into the stage workers.
type Ledger struct {
	credits repository.CreditRepository
	jobs    repository.JobRepository
	log     *slog.Logger
}

func NewLedger(credits repository.CreditRepository, jobs repository.JobRepository, log *slog.Logger) *Ledger {
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{credits: credits, jobs: jobs, log: log}
}

// Reserve atomically deducts credits from the user's balance. It returns
// false when the balance does not cover the amount; nothing is persisted in
// that case. The deduction is restored by Refund if the job later fails.
func (l *Ledger) Reserve(ctx context.Context, userID uuid.UUID, credits int) (bool, error) {
	ok, err := l.credits.TryReserve(ctx, userID, credits)
	if err != nil {
		return false, err
	}
	if !ok {
		l.log.Info("credit reservation rejected", "user_id", userID, "credits", credits)
		return false, nil
	}
	l.log.Info("credits reserved", "user_id", userID, "credits", credits)
	return true, nil
}

// CreateDebit records the pending debit transaction for a reserved job.
func (l *Ledger) CreateDebit(ctx context.Context, userID, jobID uuid.UUID, credits int, txType constants.TransactionType, description string) error {
	return l.credits.InsertTransaction(ctx, &entity.CreditTransaction{
		UserID:      userID,
		JobID:       &jobID,
		Amount:      -credits,
		Type:        txType,
		Status:      constants.TxPending,
		Description: description,
	})
}

// Settle marks the job's debit completed and flags the job as charged. A
// missing debit is a hard error: the pipeline must not silently complete a
// job that was never paid for.
func (l *Ledger) Settle(ctx context.Context, jobID uuid.UUID) error {
	if err := l.credits.UpdateTransactionStatus(ctx, jobID, constants.TxCompleted); err != nil {
		return fmt.Errorf("settle job %s: %w", jobID, err)
	}
	charged := true
	if err := l.jobs.Update(ctx, jobID, entity.JobUpdate{CreditsCharged: &charged}); err != nil {
		return fmt.Errorf("mark job %s charged: %w", jobID, err)
	}
	l.log.Info("transaction settled", "job_id", jobID)
	return nil
}

// Refund marks the original debit refunded, writes a completed refund entry
// of equal magnitude and restores the user's balance.
func (l *Ledger) Refund(ctx context.Context, jobID, userID uuid.UUID) error {
	debit, err := l.credits.GetDebitByJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("refund job %s: %w", jobID, err)
	}
	if err := l.credits.UpdateTransactionStatus(ctx, jobID, constants.TxRefunded); err != nil {
		return fmt.Errorf("refund job %s: %w", jobID, err)
	}

	amount := -debit.Amount
	if err := l.credits.InsertTransaction(ctx, &entity.CreditTransaction{
		UserID:      userID,
		JobID:       &jobID,
		Amount:      amount,
		Type:        constants.TxRefund,
		Status:      constants.TxCompleted,
		Description: fmt.Sprintf("Refund for failed job %s", jobID),
	}); err != nil {
		return fmt.Errorf("refund job %s: %w", jobID, err)
	}
	if err := l.credits.AddBalance(ctx, userID, amount); err != nil {
		return fmt.Errorf("restore balance for job %s: %w", jobID, err)
	}
	l.log.Info("transaction refunded", "job_id", jobID, "user_id", userID, "credits", amount)
	return nil
}

// AdminAdjust applies a manual balance change and records it as an
// admin_credit or admin_debit transaction.
func (l *Ledger) AdminAdjust(ctx context.Context, userID uuid.UUID, delta int, description string) error {
	if delta == 0 {
		return nil
	}
	if err := l.credits.AddBalance(ctx, userID, delta); err != nil {
		return err
	}
	txType := constants.TxAdminCredit
	if delta < 0 {
		txType = constants.TxAdminDebit
	}
	return l.credits.InsertTransaction(ctx, &entity.CreditTransaction{
		UserID:      userID,
		Amount:      delta,
		Type:        txType,
		Status:      constants.TxCompleted,
		Description: description,
	})
}
