package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DistributionEvent is a capital-contribution record consumed by the
// engine. Read-only input: the engine never mutates events.
type DistributionEvent struct {
	ID    string `json:"id"`
	RunID string `json:"runId,omitempty"`

	InvestorName string `json:"investorName"`
	FundName     string `json:"fundName"`

	DistributorName string `json:"distributorName,omitempty"`
	ReferrerName    string `json:"referrerName,omitempty"`
	PartnerName     string `json:"partnerName,omitempty"`

	Amount decimal.Decimal `json:"amount"`
	Date   time.Time       `json:"date"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// EntityName returns the name filling the given role on this event,
// or empty if the role is unpopulated.
func (e *DistributionEvent) EntityName(role EntityType) string {
	switch role {
	case EntityDistributor:
		return e.DistributorName
	case EntityReferrer:
		return e.ReferrerName
	case EntityPartner:
		return e.PartnerName
	}
	return ""
}

// Credit is a pre-existing balance owed to an investor that offsets
// future payables. The balance only ever decreases, via FIFO
// application, and never goes below zero.
type Credit struct {
	ID           string `json:"id"`
	InvestorName string `json:"investorName"`
	FundName     string `json:"fundName"`

	OriginalAmount   decimal.Decimal `json:"originalAmount"`
	RemainingBalance decimal.Decimal `json:"remainingBalance"`

	DatePosted time.Time `json:"datePosted"`
	CreatedAt  time.Time `json:"createdAt,omitempty"`
}

// Exhausted reports whether the credit has no balance left.
func (c *Credit) Exhausted() bool {
	return !c.RemainingBalance.IsPositive()
}
