package repository

// Schema definitions for the Harrier database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    txn_id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    timestamp TEXT NOT NULL,
    amount REAL NOT NULL,
    currency TEXT NOT NULL,
    counterparty_country TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(account_id);
CREATE INDEX IF NOT EXISTS idx_transactions_created ON transactions(created_at);
`

const schemaCustomers = `
CREATE TABLE IF NOT EXISTS customers (
    customer_id TEXT PRIMARY KEY,
    full_name TEXT NOT NULL,
    dob TEXT,
    kyc_level TEXT NOT NULL,
    pep_flag INTEGER NOT NULL DEFAULT 0
);
`

const schemaAccounts = `
CREATE TABLE IF NOT EXISTS accounts (
    account_id TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL,
    country TEXT NOT NULL,
    opened_at TEXT,
    account_type TEXT
);

CREATE INDEX IF NOT EXISTS idx_accounts_customer ON accounts(customer_id);
`

const schemaScores = `
CREATE TABLE IF NOT EXISTS scores (
    txn_id TEXT PRIMARY KEY,
    risk_score REAL NOT NULL,
    confidence REAL NOT NULL,
    risk_category TEXT NOT NULL,
    model_scores TEXT NOT NULL,
    attributions TEXT NOT NULL,
    scored_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scores_category ON scores(risk_category);
`

// alerts.txn_id carries a UNIQUE constraint: alert creation is an atomic
// check-and-insert per transaction id, so concurrent scored events for the
// same transaction cannot both win.
const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    alert_id TEXT PRIMARY KEY,
    txn_id TEXT NOT NULL UNIQUE,
    customer_id TEXT NOT NULL,
    risk_score REAL NOT NULL,
    status TEXT NOT NULL,
    alert_type TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    seq BIGINT NOT NULL,
    sar_narrative TEXT,
    investigation_notes TEXT,
    assigned_to TEXT
);

CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
CREATE INDEX IF NOT EXISTS idx_alerts_score ON alerts(risk_score);
CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaCustomers,
		schemaAccounts,
		schemaScores,
		schemaAlerts,
	}
}
