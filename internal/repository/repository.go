// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fundops/harrier/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveEvent stores a distribution event.
func (r *SQLRepository) SaveEvent(ctx context.Context, event *domain.DistributionEvent) error {
	if event.ID == "" {
		return fmt.Errorf("%w: event ID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO distribution_events (
			id, run_id, investor_name, fund_name,
			distributor_name, referrer_name, partner_name,
			amount, event_date, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		event.ID, event.RunID, event.InvestorName, event.FundName,
		event.DistributorName, event.ReferrerName, event.PartnerName,
		event.Amount.String(), event.Date, event.CreatedAt,
	)
	return err
}

const eventColumns = `id, run_id, investor_name, fund_name,
	   distributor_name, referrer_name, partner_name,
	   amount, event_date, created_at`

func scanEvent(row interface{ Scan(...any) error }) (*domain.DistributionEvent, error) {
	var event domain.DistributionEvent
	var amount string

	err := row.Scan(
		&event.ID, &event.RunID, &event.InvestorName, &event.FundName,
		&event.DistributorName, &event.ReferrerName, &event.PartnerName,
		&amount, &event.Date, &event.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	event.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("bad amount for event %s: %w", event.ID, err)
	}
	return &event, nil
}

// GetEvent retrieves a distribution event by ID.
func (r *SQLRepository) GetEvent(ctx context.Context, eventID string) (*domain.DistributionEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM distribution_events WHERE id = ?`

	event, err := scanEvent(r.db.QueryRowContext(ctx, r.rebind(query), eventID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return event, err
}

// ListEventsByRun retrieves all events attached to a run, in a stable order.
func (r *SQLRepository) ListEventsByRun(ctx context.Context, runID string) ([]*domain.DistributionEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM distribution_events WHERE run_id = ? ORDER BY id`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.DistributionEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// GetEvents retrieves a batch of events by ID.
func (r *SQLRepository) GetEvents(ctx context.Context, eventIDs []string) ([]*domain.DistributionEvent, error) {
	if len(eventIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(eventIDs)), ", ")
	query := `SELECT ` + eventColumns + ` FROM distribution_events WHERE id IN (` + placeholders + `) ORDER BY id`

	args := make([]any, len(eventIDs))
	for i, id := range eventIDs {
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.DistributionEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// SumContributions totals event amounts where the entity fills the given
// role, within [from, to). Amounts are summed in Go so no precision is
// lost to SQL numeric types.
func (r *SQLRepository) SumContributions(ctx context.Context, entityType domain.EntityType, entityName string, from, to time.Time) (decimal.Decimal, error) {
	var column string
	switch entityType {
	case domain.EntityDistributor:
		column = "distributor_name"
	case domain.EntityReferrer:
		column = "referrer_name"
	case domain.EntityPartner:
		column = "partner_name"
	default:
		return decimal.Zero, fmt.Errorf("%w: unknown entity type %q", ErrInvalidInput, entityType)
	}

	query := `
		SELECT amount FROM distribution_events
		WHERE ` + column + ` = ? AND event_date >= ? AND event_date < ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), entityName, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Zero, err
		}
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("bad stored amount %q: %w", raw, err)
		}
		total = total.Add(amount)
	}
	return total, rows.Err()
}

// SaveRule stores a rule version. The (id, version) pair is the identity;
// saving the same version again replaces its content.
func (r *SQLRepository) SaveRule(ctx context.Context, rule *domain.Rule) error {
	if rule.ID == "" {
		return fmt.Errorf("%w: rule ID is required", ErrInvalidInput)
	}
	if rule.Version <= 0 {
		return fmt.Errorf("%w: rule version must be positive", ErrInvalidInput)
	}

	schedule, err := domain.EncodeSchedule(rule.Schedule)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	conditions, _ := json.Marshal(rule.Conditions)

	active := 0
	if rule.Active {
		active = 1
	}

	var effectiveTo sql.NullTime
	if rule.EffectiveTo != nil {
		effectiveTo = sql.NullTime{Time: *rule.EffectiveTo, Valid: true}
	}

	now := time.Now().UTC()
	createdAt := rule.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	query := `
		INSERT INTO commission_rules (
			id, version, checksum, name, description, entity_type, entity_name,
			priority, vat_mode, calculation_basis, effective_from, effective_to,
			active, schedule, conditions, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, version) DO UPDATE SET
			checksum = excluded.checksum,
			name = excluded.name,
			description = excluded.description,
			entity_type = excluded.entity_type,
			entity_name = excluded.entity_name,
			priority = excluded.priority,
			vat_mode = excluded.vat_mode,
			calculation_basis = excluded.calculation_basis,
			effective_from = excluded.effective_from,
			effective_to = excluded.effective_to,
			active = excluded.active,
			schedule = excluded.schedule,
			conditions = excluded.conditions,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Version, rule.Checksum, rule.Name, rule.Description,
		rule.EntityType, rule.EntityName, rule.Priority, rule.VATMode,
		rule.Basis, rule.EffectiveFrom, effectiveTo,
		active, string(schedule), string(conditions),
		createdAt, now,
	)
	return err
}

const ruleColumns = `id, version, checksum, name, description, entity_type, entity_name,
	   priority, vat_mode, calculation_basis, effective_from, effective_to,
	   active, schedule, conditions, created_at, updated_at`

func scanRule(row interface{ Scan(...any) error }) (*domain.Rule, error) {
	var rule domain.Rule
	var effectiveTo sql.NullTime
	var active int
	var schedule, conditions string

	err := row.Scan(
		&rule.ID, &rule.Version, &rule.Checksum, &rule.Name, &rule.Description,
		&rule.EntityType, &rule.EntityName, &rule.Priority, &rule.VATMode,
		&rule.Basis, &rule.EffectiveFrom, &effectiveTo,
		&active, &schedule, &conditions,
		&rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.Active = active == 1
	if effectiveTo.Valid {
		t := effectiveTo.Time
		rule.EffectiveTo = &t
	}

	rule.Schedule, err = domain.DecodeSchedule([]byte(schedule))
	if err != nil {
		return nil, fmt.Errorf("failed to parse schedule for rule %s: %w", rule.ID, err)
	}
	if conditions != "" && conditions != "null" {
		if err := json.Unmarshal([]byte(conditions), &rule.Conditions); err != nil {
			return nil, fmt.Errorf("failed to parse conditions for rule %s: %w", rule.ID, err)
		}
	}

	return &rule, nil
}

// GetRule retrieves one exact rule version.
func (r *SQLRepository) GetRule(ctx context.Context, ruleID string, version int) (*domain.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM commission_rules WHERE id = ? AND version = ?`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), ruleID, version))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

// GetLatestRule retrieves the highest version of a rule.
func (r *SQLRepository) GetLatestRule(ctx context.Context, ruleID string) (*domain.Rule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM commission_rules
		WHERE id = ?
		ORDER BY version DESC
		LIMIT 1
	`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

// ListActiveRules retrieves the latest version of every rule that is
// active, ordered by priority for evaluation.
func (r *SQLRepository) ListActiveRules(ctx context.Context) ([]*domain.Rule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM commission_rules cr
		WHERE active = 1
		  AND version = (SELECT MAX(version) FROM commission_rules WHERE id = cr.id)
		ORDER BY priority, id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// SaveCredit stores a credit posting.
func (r *SQLRepository) SaveCredit(ctx context.Context, credit *domain.Credit) error {
	if credit.ID == "" {
		return fmt.Errorf("%w: credit ID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO credits (
			id, investor_name, fund_name, original_amount,
			remaining_balance, date_posted, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		credit.ID, credit.InvestorName, credit.FundName,
		credit.OriginalAmount.String(), credit.RemainingBalance.String(),
		credit.DatePosted, credit.CreatedAt,
	)
	return err
}

// ListOpenCredits retrieves credits with a positive remaining balance for
// an (investor, fund) pair, oldest posting first.
func (r *SQLRepository) ListOpenCredits(ctx context.Context, investorName, fundName string) ([]*domain.Credit, error) {
	query := `
		SELECT id, investor_name, fund_name, original_amount,
			   remaining_balance, date_posted, created_at
		FROM credits
		WHERE investor_name = ? AND fund_name = ?
		ORDER BY date_posted, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), investorName, fundName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var credits []*domain.Credit
	for rows.Next() {
		var credit domain.Credit
		var original, remaining string

		if err := rows.Scan(
			&credit.ID, &credit.InvestorName, &credit.FundName,
			&original, &remaining, &credit.DatePosted, &credit.CreatedAt,
		); err != nil {
			return nil, err
		}

		if credit.OriginalAmount, err = decimal.NewFromString(original); err != nil {
			return nil, fmt.Errorf("bad original amount for credit %s: %w", credit.ID, err)
		}
		if credit.RemainingBalance, err = decimal.NewFromString(remaining); err != nil {
			return nil, fmt.Errorf("bad remaining balance for credit %s: %w", credit.ID, err)
		}

		// Exhausted credits stay in the table for audit but are not open.
		if credit.Exhausted() {
			continue
		}
		credits = append(credits, &credit)
	}
	return credits, rows.Err()
}

// UpdateCreditBalance sets a credit's remaining balance. Balances only
// decrease; a negative balance is rejected before it reaches storage.
func (r *SQLRepository) UpdateCreditBalance(ctx context.Context, creditID string, remaining decimal.Decimal) error {
	if remaining.IsNegative() {
		return fmt.Errorf("%w: remaining balance must not be negative", ErrInvalidInput)
	}

	query := `UPDATE credits SET remaining_balance = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), remaining.String(), creditID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveRun stores a new calculation run.
func (r *SQLRepository) SaveRun(ctx context.Context, run *domain.CalculationRun) error {
	if run.ID == "" {
		return fmt.Errorf("%w: run ID is required", ErrInvalidInput)
	}

	errs, _ := json.Marshal(run.Errors)
	warnings, _ := json.Marshal(run.Warnings)
	checksums, _ := json.Marshal(run.ShapeChecksums)

	var lockedAt sql.NullTime
	if run.LockedAt != nil {
		lockedAt = sql.NullTime{Time: *run.LockedAt, Valid: true}
	}

	query := `
		INSERT INTO calculation_runs (
			id, name, status, total_gross, total_vat, total_net,
			result_count, errors, warnings, shape_checksums,
			approved_by, locked_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		run.ID, run.Name, run.Status,
		run.TotalGross.String(), run.TotalVAT.String(), run.TotalNet.String(),
		run.ResultCount, string(errs), string(warnings), string(checksums),
		run.ApprovedBy, lockedAt, run.CreatedAt, run.UpdatedAt,
	)
	return err
}

// GetRun retrieves a calculation run by ID.
func (r *SQLRepository) GetRun(ctx context.Context, runID string) (*domain.CalculationRun, error) {
	query := `
		SELECT id, name, status, total_gross, total_vat, total_net,
			   result_count, errors, warnings, shape_checksums,
			   approved_by, locked_at, created_at, updated_at
		FROM calculation_runs
		WHERE id = ?
	`

	var run domain.CalculationRun
	var gross, vat, net string
	var errs, warnings, checksums string
	var lockedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, r.rebind(query), runID).Scan(
		&run.ID, &run.Name, &run.Status, &gross, &vat, &net,
		&run.ResultCount, &errs, &warnings, &checksums,
		&run.ApprovedBy, &lockedAt, &run.CreatedAt, &run.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if run.TotalGross, err = decimal.NewFromString(gross); err != nil {
		return nil, fmt.Errorf("bad total_gross for run %s: %w", runID, err)
	}
	if run.TotalVAT, err = decimal.NewFromString(vat); err != nil {
		return nil, fmt.Errorf("bad total_vat for run %s: %w", runID, err)
	}
	if run.TotalNet, err = decimal.NewFromString(net); err != nil {
		return nil, fmt.Errorf("bad total_net for run %s: %w", runID, err)
	}

	json.Unmarshal([]byte(errs), &run.Errors)
	json.Unmarshal([]byte(warnings), &run.Warnings)
	json.Unmarshal([]byte(checksums), &run.ShapeChecksums)

	if lockedAt.Valid {
		t := lockedAt.Time
		run.LockedAt = &t
	}

	return &run, nil
}

// UpdateRun replaces a run's mutable fields.
func (r *SQLRepository) UpdateRun(ctx context.Context, run *domain.CalculationRun) error {
	errs, _ := json.Marshal(run.Errors)
	warnings, _ := json.Marshal(run.Warnings)
	checksums, _ := json.Marshal(run.ShapeChecksums)

	var lockedAt sql.NullTime
	if run.LockedAt != nil {
		lockedAt = sql.NullTime{Time: *run.LockedAt, Valid: true}
	}

	query := `
		UPDATE calculation_runs
		SET name = ?, status = ?, total_gross = ?, total_vat = ?, total_net = ?,
			result_count = ?, errors = ?, warnings = ?, shape_checksums = ?,
			approved_by = ?, locked_at = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		run.Name, run.Status,
		run.TotalGross.String(), run.TotalVAT.String(), run.TotalNet.String(),
		run.ResultCount, string(errs), string(warnings), string(checksums),
		run.ApprovedBy, lockedAt, time.Now().UTC(),
		run.ID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveResult stores one calculation result.
func (r *SQLRepository) SaveResult(ctx context.Context, result *domain.CalculationResult) error {
	if result.ID == "" {
		return fmt.Errorf("%w: result ID is required", ErrInvalidInput)
	}

	trace, _ := json.Marshal(result.Trace)

	var tier sql.NullInt64
	if result.TierApplied != nil {
		tier = sql.NullInt64{Int64: int64(*result.TierApplied), Valid: true}
	}

	query := `
		INSERT INTO calculation_results (
			id, run_id, event_id, rule_id, rule_version, rule_checksum,
			rule_snapshot, entity_type, entity_name, base_amount, applied_rate,
			tier_applied, gross_commission, vat_rate, vat_amount, net_commission,
			credits_applied, total_payable, trace, checksum, actor_id,
			started_at, calculated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		result.ID, result.RunID, result.EventID,
		result.RuleID, result.RuleVersion, result.RuleChecksum,
		string(result.RuleSnapshot), result.EntityType, result.EntityName,
		result.BaseAmount.String(), result.AppliedRate.String(), tier,
		result.GrossCommission.String(), result.VATRate.String(),
		result.VATAmount.String(), result.NetCommission.String(),
		result.CreditsApplied.String(), result.TotalPayable.String(),
		string(trace), result.Checksum, result.ActorID,
		result.StartedAt, result.CalculatedAt,
	)
	return err
}

// ListResultsByRun retrieves all results for a run in a stable order.
func (r *SQLRepository) ListResultsByRun(ctx context.Context, runID string) ([]*domain.CalculationResult, error) {
	query := `
		SELECT id, run_id, event_id, rule_id, rule_version, rule_checksum,
			   rule_snapshot, entity_type, entity_name, base_amount, applied_rate,
			   tier_applied, gross_commission, vat_rate, vat_amount, net_commission,
			   credits_applied, total_payable, trace, checksum, actor_id,
			   started_at, calculated_at
		FROM calculation_results
		WHERE run_id = ?
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.CalculationResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

func scanResult(rows *sql.Rows) (*domain.CalculationResult, error) {
	var res domain.CalculationResult
	var snapshot, trace string
	var tier sql.NullInt64
	var base, rate, gross, vatRate, vat, net, credits, total string

	if err := rows.Scan(
		&res.ID, &res.RunID, &res.EventID,
		&res.RuleID, &res.RuleVersion, &res.RuleChecksum,
		&snapshot, &res.EntityType, &res.EntityName,
		&base, &rate, &tier, &gross, &vatRate, &vat, &net,
		&credits, &total, &trace, &res.Checksum, &res.ActorID,
		&res.StartedAt, &res.CalculatedAt,
	); err != nil {
		return nil, err
	}

	res.RuleSnapshot = json.RawMessage(snapshot)
	if tier.Valid {
		t := int(tier.Int64)
		res.TierApplied = &t
	}

	var err error
	fields := []struct {
		dst *decimal.Decimal
		raw string
	}{
		{&res.BaseAmount, base},
		{&res.AppliedRate, rate},
		{&res.GrossCommission, gross},
		{&res.VATRate, vatRate},
		{&res.VATAmount, vat},
		{&res.NetCommission, net},
		{&res.CreditsApplied, credits},
		{&res.TotalPayable, total},
	}
	for _, f := range fields {
		if *f.dst, err = decimal.NewFromString(f.raw); err != nil {
			return nil, fmt.Errorf("bad decimal for result %s: %w", res.ID, err)
		}
	}

	if err := json.Unmarshal([]byte(trace), &res.Trace); err != nil {
		return nil, fmt.Errorf("failed to parse trace for result %s: %w", res.ID, err)
	}

	return &res, nil
}

// DeleteResultsByRun removes all results for a run ahead of recomputation.
func (r *SQLRepository) DeleteResultsByRun(ctx context.Context, runID string) error {
	query := `DELETE FROM calculation_results WHERE run_id = ?`
	_, err := r.db.ExecContext(ctx, r.rebind(query), runID)
	return err
}

// SaveHistory stores one execution-history entry.
func (r *SQLRepository) SaveHistory(ctx context.Context, entry *domain.ExecutionHistoryEntry) error {
	query := `
		INSERT INTO execution_history (
			id, run_id, rule_id, event_id, entity_type,
			status, reason, elapsed_us, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		entry.ID, entry.RunID, entry.RuleID, entry.EventID, entry.EntityType,
		entry.Status, entry.Reason, entry.ElapsedUs, entry.RecordedAt,
	)
	return err
}

// SaveExportJob stores an export job record.
func (r *SQLRepository) SaveExportJob(ctx context.Context, job *domain.ExportJob) error {
	query := `
		INSERT INTO export_jobs (
			id, run_id, shape, checksum, row_count, rounding_diff, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		job.ID, job.RunID, job.Shape, job.Checksum,
		job.RowCount, job.RoundingDiff.String(), job.CreatedAt,
	)
	return err
}

// ListExportJobs retrieves export jobs for a run.
func (r *SQLRepository) ListExportJobs(ctx context.Context, runID string) ([]*domain.ExportJob, error) {
	query := `
		SELECT id, run_id, shape, checksum, row_count, rounding_diff, created_at
		FROM export_jobs
		WHERE run_id = ?
		ORDER BY created_at, shape
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.ExportJob
	for rows.Next() {
		var job domain.ExportJob
		var diff string

		if err := rows.Scan(
			&job.ID, &job.RunID, &job.Shape, &job.Checksum,
			&job.RowCount, &diff, &job.CreatedAt,
		); err != nil {
			return nil, err
		}

		if job.RoundingDiff, err = decimal.NewFromString(diff); err != nil {
			return nil, fmt.Errorf("bad rounding_diff for export %s: %w", job.ID, err)
		}
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
