package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fundops/harrier/internal/calc"
	"github.com/fundops/harrier/internal/domain"
)

// Verdict statuses per shape.
const (
	VerdictMatch    = "MATCH"
	VerdictMismatch = "MISMATCH"
)

// ShapeVerdict compares one shape's replayed checksum with the value
// pinned at lock time.
type ShapeVerdict struct {
	Shape    string `json:"shape"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Status   string `json:"status"`
}

// ReplayReport is the determinism proof for one locked run.
type ReplayReport struct {
	RunID      string         `json:"runId"`
	Verdicts   []ShapeVerdict `json:"verdicts"`
	Overall    string         `json:"overall"`
	Errors     []string       `json:"errors,omitempty"`
	VerifiedAt time.Time      `json:"verifiedAt"`
}

// Verifier replays locked runs from their pinned inputs and compares
// export checksums byte for byte.
type Verifier struct {
	repo domain.Repository
	bus  domain.EventBus
}

// NewVerifier creates a replay verifier.
func NewVerifier(repo domain.Repository, bus domain.EventBus) *Verifier {
	return &Verifier{repo: repo, bus: bus}
}

// Replay recomputes a LOCKED run's four export shapes from its pinned
// rule snapshots and original source events, and compares each shape's
// checksum against the one stored at lock time. Mismatches are reported
// per shape, never silently ignored. Replay is read-only: no balances
// or results are mutated.
func (v *Verifier) Replay(ctx context.Context, runID string) (*ReplayReport, error) {
	run, err := v.repo.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	if run.Status != domain.RunLocked {
		return nil, fmt.Errorf("run %s is %s; only LOCKED runs can be replayed", runID, run.Status)
	}
	if len(run.ShapeChecksums) == 0 {
		return nil, fmt.Errorf("run %s has no pinned export checksums", runID)
	}

	stored, err := v.repo.ListResultsByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load results for run %s: %w", runID, err)
	}

	report := &ReplayReport{RunID: runID, VerifiedAt: time.Now().UTC()}

	replayed := make([]*domain.CalculationResult, 0, len(stored))
	for _, res := range stored {
		rr, err := v.replayResult(ctx, res)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("calculation %s: %v", res.ID, err))
			// A result that cannot be replayed still participates in
			// hashing via its stored values, so the mismatch surfaces
			// in the verdicts rather than vanishing.
			replayed = append(replayed, res)
			continue
		}
		replayed = append(replayed, rr)
	}

	shapes := Build(replayed)
	sums, err := Checksums(shapes)
	if err != nil {
		return nil, fmt.Errorf("failed to checksum replayed shapes: %w", err)
	}

	report.Overall = VerdictMatch
	for _, shape := range ShapeNames {
		verdict := ShapeVerdict{
			Shape:    shape,
			Expected: run.ShapeChecksums[shape],
			Actual:   sums[shape],
			Status:   VerdictMatch,
		}
		if verdict.Expected != verdict.Actual {
			verdict.Status = VerdictMismatch
			report.Overall = VerdictMismatch
		}
		report.Verdicts = append(report.Verdicts, verdict)
	}

	v.publish(ctx, report)
	return report, nil
}

// replayResult recomputes one calculation from its pinned rule snapshot
// and the original event. The base amount and credit application are
// pinned inputs; the schedule, clamp and VAT arithmetic are recomputed.
func (v *Verifier) replayResult(ctx context.Context, res *domain.CalculationResult) (*domain.CalculationResult, error) {
	if len(res.RuleSnapshot) == 0 {
		return nil, fmt.Errorf("no rule snapshot pinned")
	}

	var rule domain.Rule
	if err := json.Unmarshal(res.RuleSnapshot, &rule); err != nil {
		return nil, fmt.Errorf("failed to decode rule snapshot: %w", err)
	}

	if rule.Checksum != res.RuleChecksum {
		return nil, fmt.Errorf("rule snapshot checksum %s does not match pinned %s", rule.Checksum, res.RuleChecksum)
	}

	event, err := v.repo.GetEvent(ctx, res.EventID)
	if err != nil {
		return nil, fmt.Errorf("failed to load source event %s: %w", res.EventID, err)
	}
	if event.EntityName(res.EntityType) != res.EntityName {
		return nil, fmt.Errorf("source event role %s no longer names %s", res.EntityType, res.EntityName)
	}

	// The VAT rate is a pinned input from the original calculation, not a
	// lookup against the current table.
	out, err := calc.Calculate(&rule, calc.Input{
		BaseAmount: res.BaseAmount,
		VATRate:    res.VATRate,
	})
	if err != nil {
		return nil, err
	}

	rr := *res
	rr.AppliedRate = out.AppliedRate
	rr.TierApplied = out.TierApplied
	rr.GrossCommission = out.Gross
	rr.VATRate = out.VATRate
	rr.VATAmount = out.VAT
	rr.NetCommission = out.Net
	rr.TotalPayable = out.Total.Sub(res.CreditsApplied)
	rr.Trace = out.Trace
	return &rr, nil
}

func (v *Verifier) publish(ctx context.Context, report *ReplayReport) {
	if v.bus == nil {
		return
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return
	}
	if err := v.bus.Publish(ctx, domain.TopicReplayVerified, payload); err != nil {
		slog.Error("failed to publish replay report",
			"run_id", report.RunID,
			"error", err,
		)
	}
}
