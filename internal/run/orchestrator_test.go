package run

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/fundops/harrier/internal/bus"
	"github.com/fundops/harrier/internal/cache"
	"github.com/fundops/harrier/internal/credits"
	"github.com/fundops/harrier/internal/domain"
	"github.com/fundops/harrier/internal/export"
	"github.com/fundops/harrier/internal/money"
	"github.com/fundops/harrier/internal/repository"
	"github.com/fundops/harrier/internal/rules"
	"github.com/fundops/harrier/internal/volume"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, domain.Repository) {
	t.Helper()

	tmpfile, err := os.CreateTemp("", "harrier-run-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpfile.Close()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpfile.Name(),
	})
	if err != nil {
		os.Remove(tmpfile.Name())
		t.Fatalf("failed to create repository: %v", err)
	}

	eventBus := bus.NewChannelBus(100)

	t.Cleanup(func() {
		eventBus.Close()
		repo.Close()
		os.Remove(tmpfile.Name())
	})

	vat := domain.VATTable{DefaultRate: money.MustParse("0.17")}
	orch := NewOrchestrator(
		repo,
		eventBus,
		credits.NewLedger(repo),
		volume.NewService(repo, cache.NewLRUCache(100)),
		vat,
		domain.EngineConfig{BatchSize: 4, ActorID: "test-engine"},
	)
	return orch, repo
}

func seedSampleRules(t *testing.T, repo domain.Repository) {
	t.Helper()
	for _, rule := range rules.SampleRules() {
		if err := repo.SaveRule(context.Background(), rule); err != nil {
			t.Fatalf("SaveRule %s failed: %v", rule.ID, err)
		}
	}
}

func newDraftRun(t *testing.T, repo domain.Repository, id string) *domain.CalculationRun {
	t.Helper()
	now := time.Now().UTC()
	run := &domain.CalculationRun{
		ID:         id,
		Name:       "March close",
		Status:     domain.RunDraft,
		TotalGross: money.Zero,
		TotalVAT:   money.Zero,
		TotalNet:   money.Zero,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := repo.SaveRun(context.Background(), run); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	return run
}

func seedEvent(t *testing.T, repo domain.Repository, runID string, withAllRoles bool) *domain.DistributionEvent {
	t.Helper()
	event := &domain.DistributionEvent{
		ID:              "evt-" + runID,
		RunID:           runID,
		InvestorName:    "Meridian Capital",
		FundName:        "Atlas Growth Fund",
		DistributorName: "NorthBridge Securities",
		Amount:          money.MustParse("150000"),
		Date:            time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
		CreatedAt:       time.Now().UTC(),
	}
	if withAllRoles {
		event.ReferrerName = "Harbor Advisory"
		event.PartnerName = "Crestline Partners"
	}
	if err := repo.SaveEvent(context.Background(), event); err != nil {
		t.Fatalf("SaveEvent failed: %v", err)
	}
	return event
}

func TestExecuteRun(t *testing.T) {
	ctx := context.Background()

	t.Run("ComputesAllRoles", func(t *testing.T) {
		orch, repo := newTestOrchestrator(t)
		seedSampleRules(t, repo)
		newDraftRun(t, repo, "run-1")
		seedEvent(t, repo, "run-1", true)

		report, err := orch.ExecuteRun(ctx, "run-1")
		if err != nil {
			t.Fatalf("ExecuteRun failed: %v", err)
		}
		if !report.Success {
			t.Fatalf("expected success, got errors %v", report.Errors)
		}
		if len(report.Results) != 3 {
			t.Fatalf("expected one result per populated role, got %d", len(report.Results))
		}

		// Tiered distributor 1750 + referrer 750 + partner flat 250.
		if !report.TotalGross.Equal(money.MustParse("2750")) {
			t.Errorf("expected total gross 2750, got %s", report.TotalGross)
		}

		run, err := repo.GetRun(ctx, "run-1")
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}
		if run.Status != domain.RunAwaitingApproval {
			t.Errorf("expected AWAITING_APPROVAL, got %s", run.Status)
		}
		if run.ResultCount != 3 || !run.TotalGross.Equal(report.TotalGross) {
			t.Errorf("run totals not persisted: %+v", run)
		}

		stored, err := repo.ListResultsByRun(ctx, "run-1")
		if err != nil {
			t.Fatalf("ListResultsByRun failed: %v", err)
		}
		if len(stored) != 3 {
			t.Fatalf("expected 3 persisted results, got %d", len(stored))
		}
		for _, res := range stored {
			if res.Checksum == "" || len(res.RuleSnapshot) == 0 || res.RuleChecksum == "" {
				t.Errorf("result %s missing audit pins: %+v", res.ID, res)
			}
			if res.ActorID != "test-engine" {
				t.Errorf("result %s missing actor, got %q", res.ID, res.ActorID)
			}
			if len(res.Trace) == 0 {
				t.Errorf("result %s has no trace", res.ID)
			}
		}
	})

	t.Run("TieredSelectionForAtlasFund", func(t *testing.T) {
		orch, repo := newTestOrchestrator(t)
		seedSampleRules(t, repo)
		newDraftRun(t, repo, "run-2")
		seedEvent(t, repo, "run-2", false)

		report, err := orch.ExecuteRun(ctx, "run-2")
		if err != nil {
			t.Fatalf("ExecuteRun failed: %v", err)
		}
		if len(report.Results) != 1 {
			t.Fatalf("expected 1 result, got %d", len(report.Results))
		}

		res := report.Results[0]
		// The priority-1 tiered rule wins over the standard percentage.
		if res.RuleID != "dist-tiered-atlas" {
			t.Errorf("expected dist-tiered-atlas selected, got %s", res.RuleID)
		}
		if !res.GrossCommission.Equal(money.MustParse("1750")) {
			t.Errorf("expected gross 1750, got %s", res.GrossCommission)
		}
		if !res.VATAmount.Equal(money.MustParse("297.5")) {
			t.Errorf("expected VAT 297.5, got %s", res.VATAmount)
		}
		if !res.TotalPayable.Equal(money.MustParse("2047.5")) {
			t.Errorf("expected payable 2047.5, got %s", res.TotalPayable)
		}
		if res.TierApplied == nil || *res.TierApplied != 2 {
			t.Errorf("expected tier 2, got %v", res.TierApplied)
		}
	})

	t.Run("CreditsNetThePayable", func(t *testing.T) {
		orch, repo := newTestOrchestrator(t)
		seedSampleRules(t, repo)
		newDraftRun(t, repo, "run-3")
		seedEvent(t, repo, "run-3", false)

		credit := &domain.Credit{
			ID:               "cr-1",
			InvestorName:     "Meridian Capital",
			FundName:         "Atlas Growth Fund",
			OriginalAmount:   money.MustParse("500"),
			RemainingBalance: money.MustParse("500"),
			DatePosted:       time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			CreatedAt:        time.Now().UTC(),
		}
		if err := repo.SaveCredit(ctx, credit); err != nil {
			t.Fatalf("SaveCredit failed: %v", err)
		}

		report, err := orch.ExecuteRun(ctx, "run-3")
		if err != nil {
			t.Fatalf("ExecuteRun failed: %v", err)
		}

		res := report.Results[0]
		if !res.CreditsApplied.Equal(money.MustParse("500")) {
			t.Errorf("expected 500 credits applied, got %s", res.CreditsApplied)
		}
		if !res.TotalPayable.Equal(money.MustParse("1547.5")) {
			t.Errorf("expected payable 1547.5 after netting, got %s", res.TotalPayable)
		}

		hasCreditStep := false
		for _, entry := range res.Trace {
			if entry.Step == domain.StepCredit {
				hasCreditStep = true
			}
		}
		if !hasCreditStep {
			t.Error("expected a credit trace step")
		}

		open, _ := repo.ListOpenCredits(ctx, "Meridian Capital", "Atlas Growth Fund")
		if len(open) != 0 {
			t.Errorf("expected the credit exhausted, got %d open", len(open))
		}
	})

	t.Run("NoEventsFailsBackToDraft", func(t *testing.T) {
		orch, repo := newTestOrchestrator(t)
		seedSampleRules(t, repo)
		newDraftRun(t, repo, "run-empty")

		report, err := orch.ExecuteRun(ctx, "run-empty")
		if err != nil {
			t.Fatalf("ExecuteRun failed: %v", err)
		}
		if report.Success {
			t.Error("expected failure report for run without events")
		}
		if len(report.Errors) == 0 {
			t.Error("expected an error naming the cause")
		}

		run, _ := repo.GetRun(ctx, "run-empty")
		if run.Status != domain.RunDraft {
			t.Errorf("expected run returned to DRAFT, got %s", run.Status)
		}
	})

	t.Run("InvalidRulesExcludedWithWarning", func(t *testing.T) {
		orch, repo := newTestOrchestrator(t)
		seedSampleRules(t, repo)

		// An active rule with a tier gap must never participate.
		cap100 := money.MustParse("100")
		broken := &domain.Rule{
			ID:            "broken-tiers",
			Version:       1,
			Name:          "Broken tier table",
			EntityType:    domain.EntityDistributor,
			Priority:      0,
			VATMode:       domain.VATAdded,
			Basis:         domain.BasisDistributionAmount,
			Active:        true,
			EffectiveFrom: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			Schedule: domain.TieredSchedule{
				Tiers: []domain.Tier{
					{Order: 1, MinThreshold: money.Zero, MaxThreshold: &cap100, Rate: money.MustParse("0.5")},
					{Order: 2, MinThreshold: money.MustParse("500"), Rate: money.MustParse("0.5")},
				},
			},
		}
		if err := repo.SaveRule(ctx, broken); err != nil {
			t.Fatalf("SaveRule failed: %v", err)
		}

		newDraftRun(t, repo, "run-4")
		seedEvent(t, repo, "run-4", false)

		report, err := orch.ExecuteRun(ctx, "run-4")
		if err != nil {
			t.Fatalf("ExecuteRun failed: %v", err)
		}
		if !report.Success {
			t.Fatalf("expected success with the broken rule excluded, got %v", report.Errors)
		}
		if len(report.Warnings) == 0 {
			t.Error("expected a warning about the excluded rule")
		}
		if report.Results[0].RuleID == "broken-tiers" {
			t.Error("excluded rule must not produce results")
		}
	})

	t.Run("OnlyInvalidRulesIsAFailure", func(t *testing.T) {
		orch, repo := newTestOrchestrator(t)

		bad := &domain.Rule{
			ID:            "bad",
			Version:       1,
			Name:          "No tiers",
			EntityType:    domain.EntityDistributor,
			VATMode:       domain.VATAdded,
			Basis:         domain.BasisDistributionAmount,
			Active:        true,
			EffectiveFrom: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			Schedule:      domain.TieredSchedule{},
		}
		if err := repo.SaveRule(ctx, bad); err != nil {
			t.Fatalf("SaveRule failed: %v", err)
		}

		newDraftRun(t, repo, "run-5")
		seedEvent(t, repo, "run-5", false)

		report, err := orch.ExecuteRun(ctx, "run-5")
		if err != nil {
			t.Fatalf("ExecuteRun failed: %v", err)
		}
		if report.Success {
			t.Error("expected failure when no rules pass validation")
		}
	})

	t.Run("RefusesNonComputableRun", func(t *testing.T) {
		orch, repo := newTestOrchestrator(t)
		run := newDraftRun(t, repo, "run-locked")
		run.Status = domain.RunLocked
		if err := repo.UpdateRun(ctx, run); err != nil {
			t.Fatalf("UpdateRun failed: %v", err)
		}

		if _, err := orch.ExecuteRun(ctx, "run-locked"); err == nil {
			t.Error("expected execution of a LOCKED run to fail")
		}
	})

	t.Run("RecomputeReplacesResults", func(t *testing.T) {
		orch, repo := newTestOrchestrator(t)
		seedSampleRules(t, repo)
		newDraftRun(t, repo, "run-6")
		seedEvent(t, repo, "run-6", false)

		if _, err := orch.ExecuteRun(ctx, "run-6"); err != nil {
			t.Fatalf("first execution failed: %v", err)
		}
		if _, err := orch.Reject(ctx, "run-6"); err != nil {
			t.Fatalf("Reject failed: %v", err)
		}
		report, err := orch.ExecuteRun(ctx, "run-6")
		if err != nil {
			t.Fatalf("second execution failed: %v", err)
		}
		if !report.Success {
			t.Fatalf("expected success, got %v", report.Errors)
		}

		stored, _ := repo.ListResultsByRun(ctx, "run-6")
		if len(stored) != 1 {
			t.Errorf("expected results replaced wholesale, got %d", len(stored))
		}
	})
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()

	executed := func(t *testing.T, id string) (*Orchestrator, domain.Repository) {
		t.Helper()
		orch, repo := newTestOrchestrator(t)
		seedSampleRules(t, repo)
		newDraftRun(t, repo, id)
		seedEvent(t, repo, id, true)
		if _, err := orch.ExecuteRun(ctx, id); err != nil {
			t.Fatalf("ExecuteRun failed: %v", err)
		}
		return orch, repo
	}

	t.Run("ApproveThenLock", func(t *testing.T) {
		orch, repo := executed(t, "run-1")

		run, err := orch.Approve(ctx, "run-1", "ops@fundops")
		if err != nil {
			t.Fatalf("Approve failed: %v", err)
		}
		if run.Status != domain.RunApproved || run.ApprovedBy != "ops@fundops" {
			t.Errorf("approval not applied: %+v", run)
		}

		run, err = orch.Lock(ctx, "run-1")
		if err != nil {
			t.Fatalf("Lock failed: %v", err)
		}
		if run.Status != domain.RunLocked || run.LockedAt == nil {
			t.Errorf("lock not applied: %+v", run)
		}
		if len(run.ShapeChecksums) != len(export.ShapeNames) {
			t.Errorf("expected %d pinned checksums, got %d", len(export.ShapeNames), len(run.ShapeChecksums))
		}

		jobs, err := repo.ListExportJobs(ctx, "run-1")
		if err != nil {
			t.Fatalf("ListExportJobs failed: %v", err)
		}
		if len(jobs) != len(export.ShapeNames) {
			t.Errorf("expected one export job per shape, got %d", len(jobs))
		}

		// Locked runs survive replay verification untouched.
		report, err := export.NewVerifier(repo, nil).Replay(ctx, "run-1")
		if err != nil {
			t.Fatalf("Replay failed: %v", err)
		}
		if report.Overall != export.VerdictMatch {
			t.Errorf("expected replay MATCH, got %s: %+v", report.Overall, report.Verdicts)
		}
	})

	t.Run("RejectReturnsToDraft", func(t *testing.T) {
		orch, repo := executed(t, "run-2")

		run, err := orch.Reject(ctx, "run-2")
		if err != nil {
			t.Fatalf("Reject failed: %v", err)
		}
		if run.Status != domain.RunDraft {
			t.Errorf("expected DRAFT, got %s", run.Status)
		}

		stored, _ := repo.GetRun(ctx, "run-2")
		if stored.Status != domain.RunDraft {
			t.Errorf("rejection not persisted: %s", stored.Status)
		}
	})

	t.Run("ApproveRefusesRunsWithErrors", func(t *testing.T) {
		orch, repo := newTestOrchestrator(t)
		now := time.Now().UTC()
		run := &domain.CalculationRun{
			ID:         "run-err",
			Name:       "broken",
			Status:     domain.RunAwaitingApproval,
			TotalGross: money.Zero,
			TotalVAT:   money.Zero,
			TotalNet:   money.Zero,
			Errors:     []string{"event evt-1 distributor: no applicable tier"},
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := repo.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}

		if _, err := orch.Approve(ctx, "run-err", "ops@fundops"); err == nil {
			t.Error("expected approval of an errored run to fail")
		}
	})

	t.Run("LockRequiresApproval", func(t *testing.T) {
		orch, _ := executed(t, "run-3")

		if _, err := orch.Lock(ctx, "run-3"); err == nil {
			t.Error("expected lock of an unapproved run to fail")
		}
	})

	t.Run("ApproveRequiresAwaitingApproval", func(t *testing.T) {
		orch, repo := newTestOrchestrator(t)
		newDraftRun(t, repo, "run-4")

		if _, err := orch.Approve(ctx, "run-4", "ops@fundops"); err == nil {
			t.Error("expected approval of a DRAFT run to fail")
		}
	})
}
