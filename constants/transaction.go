package constants

// TransactionType classifies a row in credit_transactions.
type TransactionType string

const (
	TxTranscription            TransactionType = "transcription"
	TxTranscriptionDiarization TransactionType = "transcription_with_diarization"
	TxRefund                   TransactionType = "refund"
	TxAdminCredit              TransactionType = "admin_credit"
	TxAdminDebit               TransactionType = "admin_debit"
)

// TransactionStatus is the settlement state of a credit transaction.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxCompleted TransactionStatus = "completed"
	TxRefunded  TransactionStatus = "refunded"
)
