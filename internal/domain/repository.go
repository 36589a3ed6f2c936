// Package domain defines the core interfaces and types for Harrier.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence. The feature engine
// owns transaction history and reference data; the alert manager is the only
// writer of alerts.
type Repository interface {
	// Transaction history (append-only)
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, txnID string) (*Transaction, error)
	ListTransactionsByAccount(ctx context.Context, accountID string) ([]*Transaction, error)

	// Reference data (loaded once per batch, read-only to the pipeline)
	SaveCustomer(ctx context.Context, c *Customer) error
	GetCustomer(ctx context.Context, customerID string) (*Customer, error)
	SaveAccount(ctx context.Context, a *Account) error
	GetAccount(ctx context.Context, accountID string) (*Account, error)

	// Score results
	SaveScore(ctx context.Context, res *ScoreResult) error
	GetScore(ctx context.Context, txnID string) (*ScoreResult, error)

	// Alerts. CreateAlert is an atomic check-and-insert keyed on txn_id:
	// if an alert already exists for the transaction, the existing alert is
	// returned with created=false and nothing is written.
	CreateAlert(ctx context.Context, alert *Alert) (stored *Alert, created bool, err error)
	GetAlert(ctx context.Context, alertID string) (*Alert, error)
	GetAlertByTxn(ctx context.Context, txnID string) (*Alert, error)
	ListAlerts(ctx context.Context, q AlertQuery) ([]*Alert, error)
	CountAlerts(ctx context.Context, q AlertQuery) (int, error)
	UpdateAlert(ctx context.Context, alertID string, patch AlertPatch) (*Alert, error)
	AlertStats(ctx context.Context) (*AlertStats, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
