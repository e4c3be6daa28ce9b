// Package export produces the admin credit-usage workbook.
package export

import (
	"context"
	"fmt"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/voxlens/voxlens/internal/entity"
	"github.com/voxlens/voxlens/internal/repository"
)

// Service is a tiny façade over the credit repository that produces XLSX
// bytes for usage reports.
type Service struct {
	credits repository.CreditRepository
	logger  *slog.Logger
}

func NewService(credits repository.CreditRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{credits: credits, logger: logger}
}

// ExportUsageXLSX returns an XLSX workbook (as bytes) for the given date
// window across all users. Zero times widen the window to everything.
func (s *Service) ExportUsageXLSX(ctx context.Context, from, to time.Time) ([]byte, error) {
	start := time.Now()

	// Normalize to date-only UTC bounds, inclusive.
	if from.IsZero() {
		from = time.Unix(0, 0).UTC()
	} else {
		from = time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	}
	if to.IsZero() {
		to = time.Now().UTC()
	} else {
		to = time.Date(to.Year(), to.Month(), to.Day(), 23, 59, 59, 0, time.UTC)
	}

	txs, err := s.credits.ListAll(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	return s.writeWorkbook(txs, start, "window", from.Format("2006-01-02")+".."+to.Format("2006-01-02"))
}

// ExportUserXLSX returns the usage workbook for a single user.
func (s *Service) ExportUserXLSX(ctx context.Context, userID uuid.UUID) ([]byte, error) {
	start := time.Now()
	txs, err := s.credits.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	return s.writeWorkbook(txs, start, "user_id", userID.String())
}

func (s *Service) writeWorkbook(txs []*entity.CreditTransaction, start time.Time, scopeKey, scopeVal string) ([]byte, error) {
	f := excelize.NewFile()
	const sheet = "Credit Usage"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)

	headers := []string{
		"Date",
		"User",
		"Job",
		"Type",
		"Status",
		"Credits",
		"Description",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	var spent, granted int
	row := 2
	for _, tx := range txs {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}

		write(1, tx.CreatedAt.UTC().Format("2006-01-02 15:04"))
		write(2, tx.UserID.String())
		if tx.JobID != nil {
			write(3, tx.JobID.String())
		} else {
			write(3, "")
		}
		write(4, string(tx.Type))
		write(5, string(tx.Status))
		write(6, tx.Amount)
		write(7, truncate(tx.Description, 140))

		if tx.Amount < 0 {
			spent += -tx.Amount
		} else {
			granted += tx.Amount
		}
		row++
	}

	// Totals footer.
	totalCell, _ := excelize.CoordinatesToCellName(1, row+1)
	_ = f.SetCellValue(sheet, totalCell, fmt.Sprintf("Spent: %d  Granted: %d", spent, granted))

	_ = f.SetColWidth(sheet, "A", "A", 18) // date
	_ = f.SetColWidth(sheet, "B", "C", 38) // ids
	_ = f.SetColWidth(sheet, "D", "E", 24) // type/status
	_ = f.SetColWidth(sheet, "F", "F", 10) // credits
	_ = f.SetColWidth(sheet, "G", "G", 48) // description

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		scopeKey, scopeVal,
		"rows", len(txs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
