// Package credits applies an investor's outstanding credit balance
// against amounts due, FIFO by posting date.
package credits

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fundops/harrier/internal/domain"
	"github.com/shopspring/decimal"
)

// Consumption records one credit drawn down during an application.
type Consumption struct {
	CreditID  string          `json:"creditId"`
	Amount    decimal.Decimal `json:"amount"`
	Exhausted bool            `json:"exhausted"`
}

// Application is the outcome of netting credits against an amount due.
type Application struct {
	CreditsApplied decimal.Decimal `json:"creditsApplied"`
	Remaining      decimal.Decimal `json:"remaining"`
	Consumed       []Consumption   `json:"consumed,omitempty"`
}

// Ledger serializes credit mutation per (investor, fund) key. Concurrent
// application for the same pair is the one place the engine requires
// true mutual exclusion; everything else is append-only.
type Ledger struct {
	repo domain.Repository

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLedger creates a credit ledger applier over the repository.
func NewLedger(repo domain.Repository) *Ledger {
	return &Ledger{
		repo:  repo,
		locks: make(map[string]*sync.Mutex),
	}
}

func (l *Ledger) lockFor(investorName, fundName string) *sync.Mutex {
	key := investorName + "\x00" + fundName

	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[key] = lock
	}
	return lock
}

// Apply consumes open credits for (investor, fund) against amountDue,
// oldest posting date first, taking the lesser of the amount due and
// each credit's remaining balance until the due amount reaches zero or
// credits are exhausted. Balances decrease monotonically and never go
// below zero.
func (l *Ledger) Apply(ctx context.Context, investorName, fundName string, amountDue decimal.Decimal) (*Application, error) {
	app := &Application{
		CreditsApplied: decimal.Zero,
		Remaining:      amountDue,
	}

	if !amountDue.IsPositive() {
		return app, nil
	}

	lock := l.lockFor(investorName, fundName)
	lock.Lock()
	defer lock.Unlock()

	open, err := l.repo.ListOpenCredits(ctx, investorName, fundName)
	if err != nil {
		return nil, fmt.Errorf("failed to list credits for %s/%s: %w", investorName, fundName, err)
	}

	// Repository orders by date_posted, but FIFO is a correctness
	// invariant, so enforce it here too.
	sort.SliceStable(open, func(i, j int) bool {
		if !open[i].DatePosted.Equal(open[j].DatePosted) {
			return open[i].DatePosted.Before(open[j].DatePosted)
		}
		return open[i].ID < open[j].ID
	})

	due := amountDue
	for _, credit := range open {
		if !due.IsPositive() {
			break
		}
		if credit.Exhausted() {
			continue
		}

		draw := due
		if credit.RemainingBalance.LessThan(draw) {
			draw = credit.RemainingBalance
		}

		newBalance := credit.RemainingBalance.Sub(draw)
		if err := l.repo.UpdateCreditBalance(ctx, credit.ID, newBalance); err != nil {
			return nil, fmt.Errorf("failed to update credit %s: %w", credit.ID, err)
		}

		due = due.Sub(draw)
		app.CreditsApplied = app.CreditsApplied.Add(draw)
		app.Consumed = append(app.Consumed, Consumption{
			CreditID:  credit.ID,
			Amount:    draw,
			Exhausted: newBalance.IsZero(),
		})
	}

	app.Remaining = due
	return app, nil
}
