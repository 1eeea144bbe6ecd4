// Package run orchestrates batch commission calculation over a run's
// distribution events.
package run

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fundops/harrier/internal/calc"
	"github.com/fundops/harrier/internal/credits"
	"github.com/fundops/harrier/internal/domain"
	"github.com/fundops/harrier/internal/export"
	"github.com/fundops/harrier/internal/rules"
	"github.com/fundops/harrier/internal/volume"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Orchestrator executes calculation runs: it fans (event, role) units
// out over bounded sub-batches, persists results, aggregates totals and
// drives the run state machine.
type Orchestrator struct {
	repo      domain.Repository
	bus       domain.EventBus
	evaluator *rules.Evaluator
	ledger    *credits.Ledger
	volumes   *volume.Service
	vat       domain.VATTable

	batchSize int
	actorID   string
}

// NewOrchestrator creates a run orchestrator.
func NewOrchestrator(repo domain.Repository, bus domain.EventBus, ledger *credits.Ledger, volumes *volume.Service, vat domain.VATTable, cfg domain.EngineConfig) *Orchestrator {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 10
	}
	return &Orchestrator{
		repo:      repo,
		bus:       bus,
		evaluator: rules.NewEvaluator(),
		ledger:    ledger,
		volumes:   volumes,
		vat:       vat,
		batchSize: batch,
		actorID:   cfg.ActorID,
	}
}

// unit is one (event, role) calculation work item.
type unit struct {
	event *domain.DistributionEvent
	role  domain.EntityType
	name  string
}

// collector gathers per-unit outcomes; totals reduction is commutative
// so collection order does not matter.
type collector struct {
	mu sync.Mutex

	results  []*domain.CalculationResult
	errors   []string
	warnings []string
	skips    int

	gross decimal.Decimal
	vat   decimal.Decimal
	net   decimal.Decimal
}

func (c *collector) addResult(res *domain.CalculationResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, res)
	c.gross = c.gross.Add(res.GrossCommission)
	c.vat = c.vat.Add(res.VATAmount)
	c.net = c.net.Add(res.NetCommission)
}

func (c *collector) addError(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, fmt.Sprintf(format, args...))
}

func (c *collector) addSkips(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.skips += n
}

// ExecuteRun computes all commissions for a run. Per-item errors are
// collected, not thrown; only infrastructure failures (cannot read the
// run, events or rules at all) return a non-nil error.
func (o *Orchestrator) ExecuteRun(ctx context.Context, runID string) (*domain.RunReport, error) {
	start := time.Now()

	run, err := o.repo.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	if !run.Status.Computable() {
		return nil, fmt.Errorf("run %s is %s; only DRAFT or IN_PROGRESS runs may be computed", runID, run.Status)
	}

	if run.Status == domain.RunDraft {
		if err := run.Transition(domain.RunInProgress); err != nil {
			return nil, err
		}
		if err := o.repo.UpdateRun(ctx, run); err != nil {
			return nil, fmt.Errorf("failed to mark run in progress: %w", err)
		}
	}

	events, err := o.repo.ListEventsByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load events for run %s: %w", runID, err)
	}

	active, err := o.repo.ListActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active rules: %w", err)
	}

	col := &collector{gross: decimal.Zero, vat: decimal.Zero, net: decimal.Zero}

	// Structural pre-validation: invalid rules are excluded with a
	// warning, never silently included.
	valid := make([]*domain.Rule, 0, len(active))
	for _, rule := range active {
		if problems := rules.Validate(rule); len(problems) > 0 {
			for _, p := range problems {
				col.warnings = append(col.warnings,
					fmt.Sprintf("rule %s v%d excluded: %s", rule.ID, rule.Version, p))
			}
			continue
		}
		valid = append(valid, rule)
	}

	// Zero events or zero usable rules is a reported failure, not a crash.
	if len(events) == 0 || len(valid) == 0 {
		reason := "run has no distribution events"
		if len(events) > 0 {
			reason = "no active rules passed validation"
		}
		col.errors = append(col.errors, reason)
		return o.finishFailed(ctx, run, col, start)
	}

	// Recomputation replaces any prior results wholesale.
	if err := o.repo.DeleteResultsByRun(ctx, runID); err != nil {
		return nil, fmt.Errorf("failed to clear prior results: %w", err)
	}

	var units []unit
	for _, event := range events {
		for _, role := range domain.EntityTypes {
			if name := event.EntityName(role); name != "" {
				units = append(units, unit{event: event, role: role, name: name})
			}
		}
	}

	// Bounded-concurrency fan-out over sub-batches.
	var wg sync.WaitGroup
	sem := make(chan struct{}, o.batchSize)

	for _, u := range units {
		wg.Add(1)
		go func(u unit) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			o.processUnit(ctx, run, u, valid, col)
		}(u)
	}

	wg.Wait()

	run.TotalGross = col.gross
	run.TotalVAT = col.vat
	run.TotalNet = col.net
	run.ResultCount = len(col.results)
	run.Errors = col.errors
	run.Warnings = col.warnings

	if err := run.Transition(domain.RunAwaitingApproval); err != nil {
		return nil, err
	}
	if err := o.repo.UpdateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to persist run totals: %w", err)
	}

	report := &domain.RunReport{
		RunID:      runID,
		Success:    true,
		Results:    col.results,
		Errors:     col.errors,
		Warnings:   col.warnings,
		Skips:      col.skips,
		TotalGross: col.gross,
		TotalVAT:   col.vat,
		TotalNet:   col.net,
		ElapsedMs:  time.Since(start).Milliseconds(),
	}

	o.publishReport(ctx, domain.TopicRunCompleted, report)

	slog.Info("run executed",
		"run_id", runID,
		"events", len(events),
		"results", len(col.results),
		"skips", col.skips,
		"errors", len(col.errors),
		"warnings", len(col.warnings),
		"duration_ms", report.ElapsedMs,
	)

	return report, nil
}

// finishFailed reports a non-fatal run failure and returns the run to
// DRAFT so it can be corrected and recomputed.
func (o *Orchestrator) finishFailed(ctx context.Context, run *domain.CalculationRun, col *collector, start time.Time) (*domain.RunReport, error) {
	run.Errors = col.errors
	run.Warnings = col.warnings
	if run.Status == domain.RunInProgress {
		if err := run.Transition(domain.RunDraft); err != nil {
			return nil, err
		}
	}
	if err := o.repo.UpdateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to persist failed run: %w", err)
	}

	return &domain.RunReport{
		RunID:      run.ID,
		Success:    false,
		Errors:     col.errors,
		Warnings:   col.warnings,
		TotalGross: decimal.Zero,
		TotalVAT:   decimal.Zero,
		TotalNet:   decimal.Zero,
		ElapsedMs:  time.Since(start).Milliseconds(),
	}, nil
}

// processUnit evaluates and calculates one (event, role) pair.
func (o *Orchestrator) processUnit(ctx context.Context, run *domain.CalculationRun, u unit, ruleSet []*domain.Rule, col *collector) {
	started := time.Now().UTC()

	candidates := make([]*domain.Rule, 0, len(ruleSet))
	for _, rule := range ruleSet {
		if rule.EntityType == u.role {
			candidates = append(candidates, rule)
		}
	}
	if len(candidates) == 0 {
		col.addSkips(1)
		return
	}

	evalCtx := &rules.Context{
		Event:      u.event,
		Role:       u.role,
		EntityName: u.name,
	}

	if needsAggregates(candidates) {
		aggregates, err := o.volumes.Aggregates(ctx, u.role, u.name, u.event.Date)
		if err != nil {
			col.addError("event %s %s: failed to compute volume aggregates: %v", u.event.ID, u.role, err)
			return
		}
		evalCtx.Aggregates = aggregates
	}

	selected, outcomes := o.evaluator.Select(candidates, evalCtx)

	for _, out := range outcomes {
		status := domain.HistorySkipped
		reason := string(out.SkipReason)
		switch {
		case out.Applicable:
			status = domain.HistorySuccess
			reason = ""
		case out.SkipReason == rules.SkipEvaluationError:
			status = domain.HistoryFailed
			reason = fmt.Sprintf("%s: %v", out.SkipReason, out.Err)
		}
		o.recordHistory(ctx, run.ID, out.RuleID, u, status, reason, out.Elapsed)
	}

	if selected == nil {
		col.addSkips(len(outcomes))
		return
	}

	base, err := evalCtx.BaseAmount(selected.Basis)
	if err != nil {
		col.addError("event %s %s: rule %s: %v", u.event.ID, u.role, selected.ID, err)
		o.recordHistory(ctx, run.ID, selected.ID, u, domain.HistoryFailed, err.Error(), 0)
		return
	}

	out, err := calc.Calculate(selected, calc.Input{
		BaseAmount: base,
		VATRate:    o.vat.RateFor(u.event.FundName),
	})
	if err != nil {
		col.addError("event %s %s: rule %s: %v", u.event.ID, u.role, selected.ID, err)
		o.recordHistory(ctx, run.ID, selected.ID, u, domain.HistoryFailed, err.Error(), 0)
		return
	}

	// Credits net the payable amount after VAT is finalized.
	app, err := o.ledger.Apply(ctx, u.event.InvestorName, u.event.FundName, out.Total)
	if err != nil {
		col.addError("event %s %s: credit application failed: %v", u.event.ID, u.role, err)
		o.recordHistory(ctx, run.ID, selected.ID, u, domain.HistoryFailed, err.Error(), 0)
		return
	}

	trace := out.Trace
	if app.CreditsApplied.IsPositive() {
		trace = append(trace, domain.TraceEntry{
			Step:    domain.StepCredit,
			Formula: "total_payable = total - credits_applied",
			Inputs: map[string]string{
				"total":           out.Total.String(),
				"credits_applied": app.CreditsApplied.String(),
			},
			Outputs: map[string]string{
				"total_payable": out.Total.Sub(app.CreditsApplied).String(),
			},
		})
	}

	snapshot, err := json.Marshal(selected)
	if err != nil {
		col.addError("event %s %s: failed to snapshot rule %s: %v", u.event.ID, u.role, selected.ID, err)
		return
	}

	result := &domain.CalculationResult{
		ID:              uuid.New().String(),
		RunID:           run.ID,
		EventID:         u.event.ID,
		RuleID:          selected.ID,
		RuleVersion:     selected.Version,
		RuleChecksum:    selected.Checksum,
		RuleSnapshot:    snapshot,
		EntityType:      u.role,
		EntityName:      u.name,
		BaseAmount:      out.BaseAmount,
		AppliedRate:     out.AppliedRate,
		TierApplied:     out.TierApplied,
		GrossCommission: out.Gross,
		VATRate:         out.VATRate,
		VATAmount:       out.VAT,
		NetCommission:   out.Net,
		CreditsApplied:  app.CreditsApplied,
		TotalPayable:    out.Total.Sub(app.CreditsApplied),
		Trace:           trace,
		ActorID:         o.actorID,
		StartedAt:       started,
		CalculatedAt:    time.Now().UTC(),
	}

	sum, err := export.ResultChecksum(result)
	if err != nil {
		col.addError("event %s %s: failed to checksum result: %v", u.event.ID, u.role, err)
		return
	}
	result.Checksum = sum

	if err := o.repo.SaveResult(ctx, result); err != nil {
		col.addError("event %s %s: failed to persist result: %v", u.event.ID, u.role, err)
		return
	}

	col.addResult(result)
}

// needsAggregates reports whether any candidate rule requires historical
// volume figures, either as its calculation basis or in a condition.
func needsAggregates(candidates []*domain.Rule) bool {
	for _, rule := range candidates {
		if rule.Basis != domain.BasisDistributionAmount {
			return true
		}
		for _, cond := range rule.Conditions {
			switch cond.Field {
			case "cumulative_amount", "monthly_volume", "quarterly_volume", "annual_volume":
				return true
			}
		}
	}
	return false
}

// recordHistory publishes an execution-history entry fire-and-forget.
// History failures are logged and never abort the run.
func (o *Orchestrator) recordHistory(ctx context.Context, runID, ruleID string, u unit, status, reason string, elapsed time.Duration) {
	if o.bus == nil {
		return
	}

	entry := domain.ExecutionHistoryEntry{
		ID:         uuid.New().String(),
		RunID:      runID,
		RuleID:     ruleID,
		EventID:    u.event.ID,
		EntityType: u.role,
		Status:     status,
		Reason:     reason,
		ElapsedUs:  elapsed.Microseconds(),
		RecordedAt: time.Now().UTC(),
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := o.bus.Publish(ctx, domain.TopicHistoryRecorded, payload); err != nil {
		slog.Debug("failed to publish execution history",
			"run_id", runID,
			"rule_id", ruleID,
			"error", err,
		)
	}
}

func (o *Orchestrator) publishReport(ctx context.Context, topic string, report *domain.RunReport) {
	if o.bus == nil {
		return
	}

	// The report payload omits full results; subscribers read them from
	// the repository.
	slim := *report
	slim.Results = nil

	payload, err := json.Marshal(&slim)
	if err != nil {
		return
	}
	if err := o.bus.Publish(ctx, topic, payload); err != nil {
		slog.Error("failed to publish run report",
			"run_id", report.RunID,
			"topic", topic,
			"error", err,
		)
	}
}
