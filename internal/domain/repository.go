// Package domain defines the core types and collaborator interfaces for
// Harrier.
package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Repository defines the interface to the persistence collaborator.
// The engine consumes plain records through it and never owns storage
// concerns itself.
type Repository interface {
	// Distribution events (read-only inputs to the engine)
	SaveEvent(ctx context.Context, event *DistributionEvent) error
	GetEvent(ctx context.Context, eventID string) (*DistributionEvent, error)
	ListEventsByRun(ctx context.Context, runID string) ([]*DistributionEvent, error)
	GetEvents(ctx context.Context, eventIDs []string) ([]*DistributionEvent, error)

	// SumContributions totals contribution amounts for an entity role
	// within [from, to). Backs cumulative/periodic calculation bases.
	SumContributions(ctx context.Context, entityType EntityType, entityName string, from, to time.Time) (decimal.Decimal, error)

	// Commission rules (versioned; a new version per edit)
	SaveRule(ctx context.Context, rule *Rule) error
	GetRule(ctx context.Context, ruleID string, version int) (*Rule, error)
	GetLatestRule(ctx context.Context, ruleID string) (*Rule, error)
	ListActiveRules(ctx context.Context) ([]*Rule, error)

	// Credits
	SaveCredit(ctx context.Context, credit *Credit) error
	ListOpenCredits(ctx context.Context, investorName, fundName string) ([]*Credit, error)
	UpdateCreditBalance(ctx context.Context, creditID string, remaining decimal.Decimal) error

	// Calculation runs and results
	SaveRun(ctx context.Context, run *CalculationRun) error
	GetRun(ctx context.Context, runID string) (*CalculationRun, error)
	UpdateRun(ctx context.Context, run *CalculationRun) error
	SaveResult(ctx context.Context, result *CalculationResult) error
	ListResultsByRun(ctx context.Context, runID string) ([]*CalculationResult, error)
	DeleteResultsByRun(ctx context.Context, runID string) error

	// Execution history (best-effort writes)
	SaveHistory(ctx context.Context, entry *ExecutionHistoryEntry) error

	// Export job metadata
	SaveExportJob(ctx context.Context, job *ExportJob) error
	ListExportJobs(ctx context.Context, runID string) ([]*ExportJob, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `env:"HARRIER_DB_DRIVER"`

	// SQLite specific
	SQLitePath string `env:"HARRIER_SQLITE_PATH"`

	// PostgreSQL specific
	PostgresHost     string `env:"HARRIER_PG_HOST"`
	PostgresPort     int    `env:"HARRIER_PG_PORT"`
	PostgresUser     string `env:"HARRIER_PG_USER"`
	PostgresPassword string `env:"HARRIER_PG_PASSWORD"`
	PostgresDB       string `env:"HARRIER_PG_DB"`
	PostgresSSLMode  string `env:"HARRIER_PG_SSLMODE"`

	// Connection pool settings
	MaxOpenConns    int           `env:"HARRIER_DB_MAX_OPEN"`
	MaxIdleConns    int           `env:"HARRIER_DB_MAX_IDLE"`
	ConnMaxLifetime time.Duration `env:"HARRIER_DB_CONN_LIFETIME"`
}
