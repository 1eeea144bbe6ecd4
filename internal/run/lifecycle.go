package run

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fundops/harrier/internal/domain"
	"github.com/fundops/harrier/internal/export"
	"github.com/google/uuid"
)

// Approve moves a run from AWAITING_APPROVAL to APPROVED. Runs that
// collected errors cannot be approved; they must be corrected and
// recomputed.
func (o *Orchestrator) Approve(ctx context.Context, runID, approvedBy string) (*domain.CalculationRun, error) {
	run, err := o.repo.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	if len(run.Errors) > 0 {
		return nil, fmt.Errorf("run %s has %d errors and cannot be approved", runID, len(run.Errors))
	}
	if err := run.Transition(domain.RunApproved); err != nil {
		return nil, err
	}
	run.ApprovedBy = approvedBy

	if err := o.repo.UpdateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to persist approval: %w", err)
	}

	slog.Info("run approved", "run_id", runID, "approved_by", approvedBy)
	return run, nil
}

// Reject returns a run awaiting approval to DRAFT for correction.
func (o *Orchestrator) Reject(ctx context.Context, runID string) (*domain.CalculationRun, error) {
	run, err := o.repo.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	if err := run.Transition(domain.RunDraft); err != nil {
		return nil, err
	}
	if err := o.repo.UpdateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to persist rejection: %w", err)
	}

	slog.Info("run rejected", "run_id", runID)
	return run, nil
}

// Lock finalizes an APPROVED run: it renders the four export shapes from
// the stored results, pins each shape's checksum on the run, records an
// export job per shape, and makes the run immutable. Locking is the
// moment the determinism contract starts; replay verifies against the
// checksums pinned here.
func (o *Orchestrator) Lock(ctx context.Context, runID string) (*domain.CalculationRun, error) {
	run, err := o.repo.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	if run.Status != domain.RunApproved {
		return nil, fmt.Errorf("run %s is %s; only APPROVED runs can be locked", runID, run.Status)
	}

	results, err := o.repo.ListResultsByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load results for run %s: %w", runID, err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("run %s has no results to lock", runID)
	}

	shapes := export.Build(results)
	sums, err := export.Checksums(shapes)
	if err != nil {
		return nil, fmt.Errorf("failed to checksum export shapes: %w", err)
	}

	now := time.Now().UTC()
	for _, shape := range export.ShapeNames {
		job := &domain.ExportJob{
			ID:           uuid.New().String(),
			RunID:        runID,
			Shape:        shape,
			Checksum:     sums[shape],
			RowCount:     len(shapes.Rows(shape)),
			RoundingDiff: shapes.RoundingDiff,
			CreatedAt:    now,
		}
		if err := o.repo.SaveExportJob(ctx, job); err != nil {
			return nil, fmt.Errorf("failed to record export job for shape %s: %w", shape, err)
		}
	}

	run.ShapeChecksums = sums
	run.LockedAt = &now
	if err := run.Transition(domain.RunLocked); err != nil {
		return nil, err
	}
	if err := o.repo.UpdateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to persist lock: %w", err)
	}

	o.publishLocked(ctx, run)

	slog.Info("run locked",
		"run_id", runID,
		"results", len(results),
		"rounding_diff", shapes.RoundingDiff.String(),
	)
	return run, nil
}

func (o *Orchestrator) publishLocked(ctx context.Context, run *domain.CalculationRun) {
	if o.bus == nil {
		return
	}

	payload, err := json.Marshal(run)
	if err != nil {
		return
	}
	if err := o.bus.Publish(ctx, domain.TopicRunLocked, payload); err != nil {
		slog.Error("failed to publish run locked event",
			"run_id", run.ID,
			"error", err,
		)
	}
}
