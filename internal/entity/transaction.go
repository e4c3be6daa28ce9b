package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/voxlens/voxlens/constants"
)

// CreditTransaction represents one ledger entry. Negative amounts are
// debits; a refund is a separate positive entry, never a deletion.
type CreditTransaction struct {
	ID          uuid.UUID                   `json:"id"`
	UserID      uuid.UUID                   `json:"user_id"`
	JobID       *uuid.UUID                  `json:"job_id,omitempty"`
	Amount      int                         `json:"amount"`
	Type        constants.TransactionType   `json:"type"`
	Status      constants.TransactionStatus `json:"status"`
	Description string                      `json:"description"`
	CreatedAt   time.Time                   `json:"created_at"`
}
