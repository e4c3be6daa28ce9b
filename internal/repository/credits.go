package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/voxlens/voxlens/constants"
	"github.com/voxlens/voxlens/internal/common"
	"github.com/voxlens/voxlens/internal/entity"
)

// CreditRepository is the credit-store surface consumed by the ledger.
type CreditRepository interface {
	EnsureUser(ctx context.Context, userID uuid.UUID, initialBalance int) error
	GetBalance(ctx context.Context, userID uuid.UUID) (int, error)
	// TryReserve atomically decrements the balance when it covers credits.
	// Returns false without touching the balance otherwise.
	TryReserve(ctx context.Context, userID uuid.UUID, credits int) (bool, error)
	AddBalance(ctx context.Context, userID uuid.UUID, delta int) error
	InsertTransaction(ctx context.Context, tx *entity.CreditTransaction) error
	UpdateTransactionStatus(ctx context.Context, jobID uuid.UUID, status constants.TransactionStatus) error
	// GetDebitByJob returns the job's debit transaction (amount < 0) that
	// has not been refunded.
	GetDebitByJob(ctx context.Context, jobID uuid.UUID) (*entity.CreditTransaction, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*entity.CreditTransaction, error)
	ListAll(ctx context.Context, from, to time.Time) ([]*entity.CreditTransaction, error)
}

type creditRepo struct {
	db      *sql.DB
	dialect Dialect
	log     *slog.Logger
}

func NewCreditRepository(db *sql.DB, d Dialect, log *slog.Logger) CreditRepository {
	if log == nil {
		log = slog.Default()
	}
	return &creditRepo{db: db, dialect: d, log: log}
}

func (r *creditRepo) EnsureUser(ctx context.Context, userID uuid.UUID, initialBalance int) error {
	now := time.Now().UTC()
	q := rebind(r.dialect, `INSERT INTO users (id, balance, created_at, updated_at)
		VALUES (?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`)
	_, err := r.db.ExecContext(ctx, q, userID.String(), initialBalance, now, now)
	if err != nil {
		return common.WrapError(err, "ensure user")
	}
	return nil
}

func (r *creditRepo) GetBalance(ctx context.Context, userID uuid.UUID) (int, error) {
	q := rebind(r.dialect, `SELECT balance FROM users WHERE id = ?`)
	var balance int
	err := r.db.QueryRowContext(ctx, q, userID.String()).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, common.ErrNotFound
	}
	if err != nil {
		return 0, common.WrapError(err, "get balance")
	}
	return balance, nil
}

func (r *creditRepo) TryReserve(ctx context.Context, userID uuid.UUID, credits int) (bool, error) {
	// Conditional decrement in a single statement: two concurrent uploads
	// cannot both pass against a balance only one of them can afford.
	q := rebind(r.dialect, `UPDATE users SET balance = balance - ?, updated_at = ?
		WHERE id = ? AND balance >= ?`)
	res, err := r.db.ExecContext(ctx, q, credits, time.Now().UTC(), userID.String(), credits)
	if err != nil {
		r.log.Error("credit reserve failed", "user_id", userID, "credits", credits, "error", err)
		return false, common.WrapError(err, "reserve credits")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *creditRepo) AddBalance(ctx context.Context, userID uuid.UUID, delta int) error {
	q := rebind(r.dialect, `UPDATE users SET balance = balance + ?, updated_at = ? WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, q, delta, time.Now().UTC(), userID.String())
	if err != nil {
		return common.WrapError(err, "adjust balance")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *creditRepo) InsertTransaction(ctx context.Context, tx *entity.CreditTransaction) error {
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	tx.CreatedAt = time.Now().UTC()

	var jobID any
	if tx.JobID != nil {
		jobID = tx.JobID.String()
	}
	q := rebind(r.dialect, `INSERT INTO credit_transactions
		(id, user_id, job_id, amount, type, status, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, q, tx.ID.String(), tx.UserID.String(), jobID,
		tx.Amount, string(tx.Type), string(tx.Status), tx.Description, tx.CreatedAt)
	if err != nil {
		r.log.Error("transaction insert failed", "user_id", tx.UserID, "error", err)
		return common.WrapError(err, "insert transaction")
	}
	r.log.Info("transaction inserted",
		"tx_id", tx.ID, "user_id", tx.UserID, "amount", tx.Amount, "type", tx.Type)
	return nil
}

func (r *creditRepo) UpdateTransactionStatus(ctx context.Context, jobID uuid.UUID, status constants.TransactionStatus) error {
	q := rebind(r.dialect, `UPDATE credit_transactions SET status = ?
		WHERE job_id = ? AND amount < 0 AND status != ?`)
	res, err := r.db.ExecContext(ctx, q, string(status), jobID.String(), string(constants.TxRefunded))
	if err != nil {
		return common.WrapError(err, "update transaction")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *creditRepo) GetDebitByJob(ctx context.Context, jobID uuid.UUID) (*entity.CreditTransaction, error) {
	q := rebind(r.dialect, `SELECT id, user_id, job_id, amount, type, status, description, created_at
		FROM credit_transactions WHERE job_id = ? AND amount < 0 AND status != ?`)
	row := r.db.QueryRowContext(ctx, q, jobID.String(), string(constants.TxRefunded))
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, common.WrapError(err, "get debit")
	}
	return tx, nil
}

func (r *creditRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*entity.CreditTransaction, error) {
	q := rebind(r.dialect, `SELECT id, user_id, job_id, amount, type, status, description, created_at
		FROM credit_transactions WHERE user_id = ? ORDER BY created_at DESC`)
	rows, err := r.db.QueryContext(ctx, q, userID.String())
	if err != nil {
		return nil, common.WrapError(err, "list transactions")
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func (r *creditRepo) ListAll(ctx context.Context, from, to time.Time) ([]*entity.CreditTransaction, error) {
	q := rebind(r.dialect, `SELECT id, user_id, job_id, amount, type, status, description, created_at
		FROM credit_transactions WHERE created_at >= ? AND created_at <= ? ORDER BY created_at`)
	rows, err := r.db.QueryContext(ctx, q, from, to)
	if err != nil {
		return nil, common.WrapError(err, "list transactions")
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func collectTransactions(rows *sql.Rows) ([]*entity.CreditTransaction, error) {
	var out []*entity.CreditTransaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func scanTransaction(row rowScanner) (*entity.CreditTransaction, error) {
	var (
		tx          entity.CreditTransaction
		idStr, uStr string
		jobStr      sql.NullString
		typ, status string
	)
	err := row.Scan(&idStr, &uStr, &jobStr, &tx.Amount, &typ, &status, &tx.Description, &tx.CreatedAt)
	if err != nil {
		return nil, err
	}
	if tx.ID, err = uuid.Parse(idStr); err != nil {
		return nil, err
	}
	if tx.UserID, err = uuid.Parse(uStr); err != nil {
		return nil, err
	}
	if jobStr.Valid {
		jid, err := uuid.Parse(jobStr.String)
		if err != nil {
			return nil, err
		}
		tx.JobID = &jid
	}
	tx.Type = constants.TransactionType(typ)
	tx.Status = constants.TransactionStatus(status)
	return &tx, nil
}
