package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/voxlens/voxlens/constants"
	"github.com/voxlens/voxlens/internal/async"
	"github.com/voxlens/voxlens/internal/entity"
)

// HandleRefinement runs the LLM refinement and summary pass and settles the
// credit hold. It is the only place a job's debit transitions to completed.
func (w *Workers) HandleRefinement(ctx context.Context, task async.Task) error {
	payload, ok := task.Payload.(RefinementTask)
	if !ok {
		return fmt.Errorf("refinement: unexpected payload %T", task.Payload)
	}

	job, err := w.getJob(ctx, payload.JobID)
	if err != nil {
		return err
	}
	if job == nil {
		return nil
	}
	// Duplicate delivery guard. CreditsCharged is set by settlement, so it
	// marks completion even when the refined output is legitimately empty.
	if job.CreditsCharged || job.Status == constants.JobStatusFailed {
		w.log.Info("refinement skipped", "job_id", job.ID, "status", job.Status)
		return nil
	}

	text := payload.FullText
	if len(payload.Segments) > 0 {
		parts := make([]string, 0, len(payload.Segments))
		for _, seg := range payload.Segments {
			parts = append(parts, seg.Text)
		}
		text = strings.Join(parts, " ")
	}

	refined, summary, err := w.engine.Process(ctx, text)
	if err != nil {
		w.failJob(ctx, job, fmt.Sprintf("Refinement failed: %v", err))
		return err
	}

	pending := false
	if err := w.update(ctx, job.ID, entity.JobUpdate{
		RefinedTranscript: &refined,
		Summary:           &summary,
		RefinementPending: &pending,
	}); err != nil {
		return err
	}

	if err := w.ledger.Settle(ctx, job.ID); err != nil {
		w.log.Error("credit settlement failed", "job_id", job.ID, "error", err)
		return err
	}

	w.log.Info("refinement complete", "job_id", job.ID,
		"refined_chars", len(refined), "summary_chars", len(summary))
	return nil
}
