package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RunStatus is the calculation run state machine.
type RunStatus string

const (
	RunDraft            RunStatus = "DRAFT"
	RunInProgress       RunStatus = "IN_PROGRESS"
	RunAwaitingApproval RunStatus = "AWAITING_APPROVAL"
	RunApproved         RunStatus = "APPROVED"
	RunLocked           RunStatus = "LOCKED"
)

// runTransitions maps each status to its allowed successors.
// DRAFT and IN_PROGRESS may recompute; only APPROVED may lock;
// LOCKED is terminal.
var runTransitions = map[RunStatus][]RunStatus{
	RunDraft:            {RunInProgress},
	RunInProgress:       {RunDraft, RunInProgress, RunAwaitingApproval},
	RunAwaitingApproval: {RunDraft, RunApproved},
	RunApproved:         {RunLocked},
	RunLocked:           {},
}

// CanTransitionTo reports whether next is a legal successor state.
func (s RunStatus) CanTransitionTo(next RunStatus) bool {
	for _, allowed := range runTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Computable reports whether the run may be (re)computed in this state.
func (s RunStatus) Computable() bool {
	return s == RunDraft || s == RunInProgress
}

// CalculationRun batches distribution events into one commission
// computation. A LOCKED run is immutable and is the unit of replay
// verification.
type CalculationRun struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	Status RunStatus `json:"status"`

	TotalGross decimal.Decimal `json:"totalGross"`
	TotalVAT   decimal.Decimal `json:"totalVat"`
	TotalNet   decimal.Decimal `json:"totalNet"`

	ResultCount int `json:"resultCount"`

	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`

	// ShapeChecksums holds the export checksums pinned at lock time,
	// keyed by shape name. Replay compares against these.
	ShapeChecksums map[string]string `json:"shapeChecksums,omitempty"`

	ApprovedBy string     `json:"approvedBy,omitempty"`
	LockedAt   *time.Time `json:"lockedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Transition moves the run to next, enforcing the state machine.
func (r *CalculationRun) Transition(next RunStatus) error {
	if !r.Status.CanTransitionTo(next) {
		return fmt.Errorf("illegal run transition %s -> %s", r.Status, next)
	}
	r.Status = next
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// RunReport is the outcome of executing a run: per-item errors and
// warnings are collected here rather than thrown past the batch
// boundary. Success means "no fatal errors", not "zero issues".
type RunReport struct {
	RunID   string `json:"runId"`
	Success bool   `json:"success"`

	Results []*CalculationResult `json:"results,omitempty"`

	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Skips    int      `json:"skips"`

	TotalGross decimal.Decimal `json:"totalGross"`
	TotalVAT   decimal.Decimal `json:"totalVat"`
	TotalNet   decimal.Decimal `json:"totalNet"`

	ElapsedMs int64 `json:"elapsedMs"`
}
