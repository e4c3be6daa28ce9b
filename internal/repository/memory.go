package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxlens/voxlens/constants"
	"github.com/voxlens/voxlens/internal/common"
	"github.com/voxlens/voxlens/internal/entity"
)

// MemoryJobRepository is an in-process JobRepository for tests and the
// storeless demo mode.
type MemoryJobRepository struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*entity.Job
}

func NewMemoryJobRepository() *MemoryJobRepository {
	return &MemoryJobRepository{jobs: make(map[uuid.UUID]*entity.Job)}
}

func (m *MemoryJobRepository) Create(_ context.Context, job *entity.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *MemoryJobRepository) Get(_ context.Context, id uuid.UUID) (*entity.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *MemoryJobRepository) Update(_ context.Context, id uuid.UUID, upd entity.JobUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return common.ErrNotFound
	}
	if upd.Status != nil {
		job.Status = *upd.Status
	}
	if upd.ErrorMessage != nil {
		job.ErrorMessage = *upd.ErrorMessage
	}
	if upd.FileName != nil {
		job.FileName = *upd.FileName
	}
	if upd.FileKey != nil {
		job.FileKey = *upd.FileKey
	}
	if upd.Transcript != nil {
		job.Transcript = *upd.Transcript
	}
	if upd.SubtitleContent != nil {
		job.SubtitleContent = *upd.SubtitleContent
	}
	if upd.RefinedTranscript != nil {
		job.RefinedTranscript = *upd.RefinedTranscript
	}
	if upd.Summary != nil {
		job.Summary = *upd.Summary
	}
	if upd.DiarizationStatus != nil {
		ds := *upd.DiarizationStatus
		job.DiarizationStatus = &ds
	}
	if upd.DiarizationProgress != nil {
		job.DiarizationProgress = *upd.DiarizationProgress
	}
	if upd.RefinementPending != nil {
		job.RefinementPending = *upd.RefinementPending
	}
	if upd.SpeakerProfiles != nil {
		job.SpeakerProfiles = upd.SpeakerProfiles
	}
	if upd.SpeakerSegments != nil {
		job.SpeakerSegments = upd.SpeakerSegments
	}
	if upd.CreditsCharged != nil {
		job.CreditsCharged = *upd.CreditsCharged
	}
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryJobRepository) ListByUser(_ context.Context, userID uuid.UUID) ([]*entity.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.Job
	for _, job := range m.jobs {
		if job.UserID == userID {
			cp := *job
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryJobRepository) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return common.ErrNotFound
	}
	delete(m.jobs, id)
	return nil
}

func (m *MemoryJobRepository) CountByStatus(_ context.Context) (map[constants.JobStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[constants.JobStatus]int)
	for _, job := range m.jobs {
		out[job.Status]++
	}
	return out, nil
}

// MemoryCreditRepository is an in-process CreditRepository for tests and the
// storeless demo mode.
type MemoryCreditRepository struct {
	mu       sync.Mutex
	balances map[uuid.UUID]int
	txs      []*entity.CreditTransaction
}

func NewMemoryCreditRepository() *MemoryCreditRepository {
	return &MemoryCreditRepository{balances: make(map[uuid.UUID]int)}
}

func (m *MemoryCreditRepository) EnsureUser(_ context.Context, userID uuid.UUID, initialBalance int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.balances[userID]; !ok {
		m.balances[userID] = initialBalance
	}
	return nil
}

func (m *MemoryCreditRepository) GetBalance(_ context.Context, userID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	balance, ok := m.balances[userID]
	if !ok {
		return 0, common.ErrNotFound
	}
	return balance, nil
}

func (m *MemoryCreditRepository) TryReserve(_ context.Context, userID uuid.UUID, credits int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	balance, ok := m.balances[userID]
	if !ok || balance < credits {
		return false, nil
	}
	m.balances[userID] = balance - credits
	return true, nil
}

func (m *MemoryCreditRepository) AddBalance(_ context.Context, userID uuid.UUID, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.balances[userID]; !ok {
		return common.ErrNotFound
	}
	m.balances[userID] += delta
	return nil
}

func (m *MemoryCreditRepository) InsertTransaction(_ context.Context, tx *entity.CreditTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	tx.CreatedAt = time.Now().UTC()
	cp := *tx
	m.txs = append(m.txs, &cp)
	return nil
}

func (m *MemoryCreditRepository) UpdateTransactionStatus(_ context.Context, jobID uuid.UUID, status constants.TransactionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.txs {
		if tx.JobID != nil && *tx.JobID == jobID && tx.Amount < 0 && tx.Status != constants.TxRefunded {
			tx.Status = status
			return nil
		}
	}
	return common.ErrNotFound
}

func (m *MemoryCreditRepository) GetDebitByJob(_ context.Context, jobID uuid.UUID) (*entity.CreditTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.txs {
		if tx.JobID != nil && *tx.JobID == jobID && tx.Amount < 0 && tx.Status != constants.TxRefunded {
			cp := *tx
			return &cp, nil
		}
	}
	return nil, common.ErrNotFound
}

func (m *MemoryCreditRepository) ListByUser(_ context.Context, userID uuid.UUID) ([]*entity.CreditTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.CreditTransaction
	for _, tx := range m.txs {
		if tx.UserID == userID {
			cp := *tx
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryCreditRepository) ListAll(_ context.Context, from, to time.Time) ([]*entity.CreditTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.CreditTransaction
	for _, tx := range m.txs {
		if !tx.CreatedAt.Before(from) && !tx.CreatedAt.After(to) {
			cp := *tx
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
