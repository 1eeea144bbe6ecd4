package repository

// Schema definitions for the Harrier database.
// Compatible with both SQLite and PostgreSQL. Monetary values are stored
// as TEXT and parsed to exact decimals; REAL would lose precision.

const schemaDistributionEvents = `
CREATE TABLE IF NOT EXISTS distribution_events (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    investor_name TEXT NOT NULL,
    fund_name TEXT NOT NULL,
    distributor_name TEXT,
    referrer_name TEXT,
    partner_name TEXT,
    amount TEXT NOT NULL,
    event_date TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_run ON distribution_events(run_id);
CREATE INDEX IF NOT EXISTS idx_events_distributor ON distribution_events(distributor_name, event_date);
CREATE INDEX IF NOT EXISTS idx_events_referrer ON distribution_events(referrer_name, event_date);
CREATE INDEX IF NOT EXISTS idx_events_partner ON distribution_events(partner_name, event_date);
`

const schemaCommissionRules = `
CREATE TABLE IF NOT EXISTS commission_rules (
    id TEXT NOT NULL,
    version INTEGER NOT NULL,
    checksum TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    entity_type TEXT NOT NULL,
    entity_name TEXT,
    priority INTEGER NOT NULL DEFAULT 100,
    vat_mode TEXT NOT NULL,
    calculation_basis TEXT NOT NULL,
    effective_from TIMESTAMP NOT NULL,
    effective_to TIMESTAMP,
    active INTEGER NOT NULL DEFAULT 1,
    schedule TEXT NOT NULL,
    conditions TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, version)
);

CREATE INDEX IF NOT EXISTS idx_rules_active ON commission_rules(active, entity_type);
CREATE INDEX IF NOT EXISTS idx_rules_priority ON commission_rules(priority);
`

const schemaCredits = `
CREATE TABLE IF NOT EXISTS credits (
    id TEXT PRIMARY KEY,
    investor_name TEXT NOT NULL,
    fund_name TEXT NOT NULL,
    original_amount TEXT NOT NULL,
    remaining_balance TEXT NOT NULL,
    date_posted TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_credits_pair ON credits(investor_name, fund_name, date_posted);
`

const schemaCalculationRuns = `
CREATE TABLE IF NOT EXISTS calculation_runs (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    status TEXT NOT NULL,
    total_gross TEXT NOT NULL,
    total_vat TEXT NOT NULL,
    total_net TEXT NOT NULL,
    result_count INTEGER NOT NULL DEFAULT 0,
    errors TEXT,
    warnings TEXT,
    shape_checksums TEXT,
    approved_by TEXT,
    locked_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON calculation_runs(status);
`

const schemaCalculationResults = `
CREATE TABLE IF NOT EXISTS calculation_results (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    event_id TEXT NOT NULL,
    rule_id TEXT NOT NULL,
    rule_version INTEGER NOT NULL,
    rule_checksum TEXT NOT NULL,
    rule_snapshot TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    entity_name TEXT NOT NULL,
    base_amount TEXT NOT NULL,
    applied_rate TEXT NOT NULL,
    tier_applied INTEGER,
    gross_commission TEXT NOT NULL,
    vat_rate TEXT NOT NULL,
    vat_amount TEXT NOT NULL,
    net_commission TEXT NOT NULL,
    credits_applied TEXT NOT NULL,
    total_payable TEXT NOT NULL,
    trace TEXT NOT NULL,
    checksum TEXT NOT NULL,
    actor_id TEXT,
    started_at TIMESTAMP NOT NULL,
    calculated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_results_run ON calculation_results(run_id);
CREATE INDEX IF NOT EXISTS idx_results_event ON calculation_results(event_id);
`

const schemaExecutionHistory = `
CREATE TABLE IF NOT EXISTS execution_history (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    rule_id TEXT NOT NULL,
    event_id TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    status TEXT NOT NULL,
    reason TEXT,
    elapsed_us INTEGER NOT NULL DEFAULT 0,
    recorded_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_run ON execution_history(run_id);
CREATE INDEX IF NOT EXISTS idx_history_rule ON execution_history(rule_id);
`

const schemaExportJobs = `
CREATE TABLE IF NOT EXISTS export_jobs (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    shape TEXT NOT NULL,
    checksum TEXT NOT NULL,
    row_count INTEGER NOT NULL DEFAULT 0,
    rounding_diff TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_exports_run ON export_jobs(run_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaDistributionEvents,
		schemaCommissionRules,
		schemaCredits,
		schemaCalculationRuns,
		schemaCalculationResults,
		schemaExecutionHistory,
		schemaExportJobs,
	}
}
