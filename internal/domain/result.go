package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Trace step types recorded during calculation. The trace is part of the
// audit contract, not optional instrumentation.
const (
	StepBaseAmount  = "base_amount"
	StepDiscount    = "discount"
	StepSchedule    = "schedule"
	StepTier        = "tier"
	StepClamp       = "clamp"
	StepVAT         = "vat"
	StepCredit      = "credit"
)

// TraceEntry records one calculation step with its inputs and outputs.
type TraceEntry struct {
	Step    string            `json:"step"`
	Inputs  map[string]string `json:"inputs,omitempty"`
	Outputs map[string]string `json:"outputs,omitempty"`
	Formula string            `json:"formula,omitempty"`
	Notes   string            `json:"notes,omitempty"`
}

// CalculationResult is one commission calculation for an (event, role)
// pair. Owned by exactly one run; immutable once the run is locked.
type CalculationResult struct {
	ID      string `json:"id"`
	RunID   string `json:"runId"`
	EventID string `json:"eventId"`

	RuleID       string `json:"ruleId"`
	RuleVersion  int    `json:"ruleVersion"`
	RuleChecksum string `json:"ruleChecksum"`

	// RuleSnapshot is the frozen rule content at calculation time,
	// embedded for source-of-truth traceability.
	RuleSnapshot json.RawMessage `json:"ruleSnapshot,omitempty"`

	EntityType EntityType `json:"entityType"`
	EntityName string     `json:"entityName"`

	BaseAmount  decimal.Decimal `json:"baseAmount"`
	AppliedRate decimal.Decimal `json:"appliedRate"`

	// TierApplied is the highest tier order reached, for tiered rules.
	TierApplied *int `json:"tierApplied,omitempty"`

	GrossCommission decimal.Decimal `json:"grossCommission"`
	VATRate         decimal.Decimal `json:"vatRate"`
	VATAmount       decimal.Decimal `json:"vatAmount"`
	NetCommission   decimal.Decimal `json:"netCommission"`
	CreditsApplied  decimal.Decimal `json:"creditsApplied"`
	TotalPayable    decimal.Decimal `json:"totalPayable"`

	Trace []TraceEntry `json:"trace"`

	// Checksum covers the result's canonical content.
	Checksum string `json:"checksum,omitempty"`

	ActorID      string    `json:"actorId,omitempty"`
	StartedAt    time.Time `json:"startedAt"`
	CalculatedAt time.Time `json:"calculatedAt"`
}

// Execution-history statuses per rule x event.
const (
	HistorySuccess = "success"
	HistorySkipped = "skipped"
	HistoryFailed  = "failed"
)

// ExecutionHistoryEntry records one rule x event evaluation outcome.
// Written fire-and-forget; losing an entry never fails a run.
type ExecutionHistoryEntry struct {
	ID         string     `json:"id"`
	RunID      string     `json:"runId"`
	RuleID     string     `json:"ruleId"`
	EventID    string     `json:"eventId"`
	EntityType EntityType `json:"entityType"`
	Status     string     `json:"status"`
	Reason     string     `json:"reason,omitempty"`
	ElapsedUs  int64      `json:"elapsedUs"`
	RecordedAt time.Time  `json:"recordedAt"`
}

// ExportJob records a rendered export shape and its audit checksum.
type ExportJob struct {
	ID           string          `json:"id"`
	RunID        string          `json:"runId"`
	Shape        string          `json:"shape"`
	Checksum     string          `json:"checksum"`
	RowCount     int             `json:"rowCount"`
	RoundingDiff decimal.Decimal `json:"roundingDiff"`
	CreatedAt    time.Time       `json:"createdAt"`
}
