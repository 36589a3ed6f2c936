// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
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
	seq    atomic.Int64 // insertion-order tie-breaker for alert listings
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
	repo.seq.Store(time.Now().UnixNano())

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

// SaveTransaction appends a transaction to the account history.
// Redeliveries of an already-stored txn_id are dropped (first write wins),
// keeping the handler idempotent under at-least-once delivery.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx == nil || tx.TxnID == "" {
		return fmt.Errorf("%w: txn_id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO transactions (
			txn_id, account_id, timestamp, amount, currency,
			counterparty_country, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(txn_id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.TxnID, tx.AccountID, tx.Timestamp,
		tx.Amount, tx.Currency, tx.CounterpartyCountry,
		time.Now().UTC(),
	)
	return err
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txnID string) (*domain.Transaction, error) {
	query := `
		SELECT txn_id, account_id, timestamp, amount, currency, counterparty_country
		FROM transactions
		WHERE txn_id = ?
	`

	var tx domain.Transaction
	err := r.db.QueryRowContext(ctx, r.rebind(query), txnID).Scan(
		&tx.TxnID, &tx.AccountID, &tx.Timestamp,
		&tx.Amount, &tx.Currency, &tx.CounterpartyCountry,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &tx, nil
}

// ListTransactionsByAccount retrieves the full history for an account in
// insertion order. Timestamp interpretation is left to the caller.
func (r *SQLRepository) ListTransactionsByAccount(ctx context.Context, accountID string) ([]*domain.Transaction, error) {
	query := `
		SELECT txn_id, account_id, timestamp, amount, currency, counterparty_country
		FROM transactions
		WHERE account_id = ?
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		if err := rows.Scan(
			&tx.TxnID, &tx.AccountID, &tx.Timestamp,
			&tx.Amount, &tx.Currency, &tx.CounterpartyCountry,
		); err != nil {
			return nil, err
		}
		transactions = append(transactions, &tx)
	}

	return transactions, rows.Err()
}

// SaveCustomer upserts customer reference data.
func (r *SQLRepository) SaveCustomer(ctx context.Context, c *domain.Customer) error {
	if c == nil || c.CustomerID == "" {
		return fmt.Errorf("%w: customer_id is required", ErrInvalidInput)
	}

	pep := 0
	if c.PEPFlag {
		pep = 1
	}

	query := `
		INSERT INTO customers (customer_id, full_name, dob, kyc_level, pep_flag)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(customer_id) DO UPDATE SET
			full_name = excluded.full_name,
			dob = excluded.dob,
			kyc_level = excluded.kyc_level,
			pep_flag = excluded.pep_flag
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		c.CustomerID, c.FullName, c.DOB, c.KYCLevel, pep,
	)
	return err
}

// GetCustomer retrieves customer reference data.
func (r *SQLRepository) GetCustomer(ctx context.Context, customerID string) (*domain.Customer, error) {
	query := `
		SELECT customer_id, full_name, dob, kyc_level, pep_flag
		FROM customers
		WHERE customer_id = ?
	`

	var c domain.Customer
	var pep int
	err := r.db.QueryRowContext(ctx, r.rebind(query), customerID).Scan(
		&c.CustomerID, &c.FullName, &c.DOB, &c.KYCLevel, &pep,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	c.PEPFlag = pep == 1
	return &c, nil
}

// SaveAccount upserts account reference data.
func (r *SQLRepository) SaveAccount(ctx context.Context, a *domain.Account) error {
	if a == nil || a.AccountID == "" {
		return fmt.Errorf("%w: account_id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO accounts (account_id, customer_id, country, opened_at, account_type)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			customer_id = excluded.customer_id,
			country = excluded.country,
			opened_at = excluded.opened_at,
			account_type = excluded.account_type
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		a.AccountID, a.CustomerID, a.Country, a.OpenedAt, a.AccountType,
	)
	return err
}

// GetAccount retrieves account reference data.
func (r *SQLRepository) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	query := `
		SELECT account_id, customer_id, country, opened_at, account_type
		FROM accounts
		WHERE account_id = ?
	`

	var a domain.Account
	var openedAt, accountType sql.NullString
	err := r.db.QueryRowContext(ctx, r.rebind(query), accountID).Scan(
		&a.AccountID, &a.CustomerID, &a.Country, &openedAt, &accountType,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	a.OpenedAt = openedAt.String
	a.AccountType = accountType.String
	return &a, nil
}

// SaveScore stores a score result. Scores are immutable; a redelivered
// scored event leaves the first result in place.
func (r *SQLRepository) SaveScore(ctx context.Context, res *domain.ScoreResult) error {
	if res == nil || res.TxnID == "" {
		return fmt.Errorf("%w: txn_id is required", ErrInvalidInput)
	}

	modelScores, _ := json.Marshal(res.ModelScores)
	attributions, _ := json.Marshal(res.Attributions)

	query := `
		INSERT INTO scores (
			txn_id, risk_score, confidence, risk_category,
			model_scores, attributions, scored_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(txn_id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		res.TxnID, res.RiskScore, res.Confidence, res.RiskCategory,
		string(modelScores), string(attributions), res.ScoredAt,
	)
	return err
}

// GetScore retrieves a score result by transaction ID.
func (r *SQLRepository) GetScore(ctx context.Context, txnID string) (*domain.ScoreResult, error) {
	query := `
		SELECT txn_id, risk_score, confidence, risk_category,
		       model_scores, attributions, scored_at
		FROM scores
		WHERE txn_id = ?
	`

	var res domain.ScoreResult
	var modelScores, attributions string
	err := r.db.QueryRowContext(ctx, r.rebind(query), txnID).Scan(
		&res.TxnID, &res.RiskScore, &res.Confidence, &res.RiskCategory,
		&modelScores, &attributions, &res.ScoredAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(modelScores), &res.ModelScores)
	json.Unmarshal([]byte(attributions), &res.Attributions)

	return &res, nil
}

// CreateAlert inserts an alert if none exists for the transaction.
// The insert races through the UNIQUE constraint on txn_id: exactly one of
// any number of concurrent creators wins, the rest receive the stored alert.
func (r *SQLRepository) CreateAlert(ctx context.Context, alert *domain.Alert) (*domain.Alert, bool, error) {
	if alert == nil || alert.TxnID == "" {
		return nil, false, fmt.Errorf("%w: txn_id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO alerts (
			alert_id, txn_id, customer_id, risk_score, status, alert_type,
			created_at, updated_at, seq, sar_narrative, investigation_notes, assigned_to
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(txn_id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		alert.AlertID, alert.TxnID, alert.CustomerID,
		alert.RiskScore, alert.Status, alert.AlertType,
		alert.CreatedAt, alert.UpdatedAt, r.seq.Add(1),
		alert.SARNarrative, alert.InvestigationNotes, alert.AssignedTo,
	)
	if err != nil {
		return nil, false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	if rows == 0 {
		existing, err := r.GetAlertByTxn(ctx, alert.TxnID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	return alert, true, nil
}

const alertColumns = `
	alert_id, txn_id, customer_id, risk_score, status, alert_type,
	created_at, updated_at, sar_narrative, investigation_notes, assigned_to
`

func scanAlert(row interface{ Scan(...any) error }) (*domain.Alert, error) {
	var a domain.Alert
	var narrative, notes, assignee sql.NullString
	err := row.Scan(
		&a.AlertID, &a.TxnID, &a.CustomerID, &a.RiskScore, &a.Status, &a.AlertType,
		&a.CreatedAt, &a.UpdatedAt, &narrative, &notes, &assignee,
	)
	if err != nil {
		return nil, err
	}
	a.SARNarrative = narrative.String
	a.InvestigationNotes = notes.String
	a.AssignedTo = assignee.String
	return &a, nil
}

// GetAlert retrieves an alert by alert ID.
func (r *SQLRepository) GetAlert(ctx context.Context, alertID string) (*domain.Alert, error) {
	query := `SELECT` + alertColumns + `FROM alerts WHERE alert_id = ?`

	alert, err := scanAlert(r.db.QueryRowContext(ctx, r.rebind(query), alertID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return alert, err
}

// GetAlertByTxn retrieves the alert for a transaction, if any.
func (r *SQLRepository) GetAlertByTxn(ctx context.Context, txnID string) (*domain.Alert, error) {
	query := `SELECT` + alertColumns + `FROM alerts WHERE txn_id = ?`

	alert, err := scanAlert(r.db.QueryRowContext(ctx, r.rebind(query), txnID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return alert, err
}

func alertFilter(q domain.AlertQuery) (string, []any) {
	var conds []string
	var args []any

	if q.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, q.Status)
	}
	if q.RiskThreshold > 0 {
		conds = append(conds, "risk_score >= ?")
		args = append(args, q.RiskThreshold)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListAlerts retrieves alerts matching the query, newest first.
// Equal creation times keep insertion order.
func (r *SQLRepository) ListAlerts(ctx context.Context, q domain.AlertQuery) ([]*domain.Alert, error) {
	where, args := alertFilter(q)

	query := `SELECT` + alertColumns + `FROM alerts` + where +
		` ORDER BY created_at DESC, seq ASC LIMIT ? OFFSET ?`

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, q.Offset)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}

	return alerts, rows.Err()
}

// CountAlerts returns the number of alerts matching the query filters.
func (r *SQLRepository) CountAlerts(ctx context.Context, q domain.AlertQuery) (int, error) {
	where, args := alertFilter(q)

	var count int
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT COUNT(*) FROM alerts`+where), args...).Scan(&count)
	return count, err
}

// UpdateAlert applies a partial patch to an alert. Only status,
// investigation notes and assignee are mutable; updated_at always advances.
func (r *SQLRepository) UpdateAlert(ctx context.Context, alertID string, patch domain.AlertPatch) (*domain.Alert, error) {
	if patch.Status != nil && !domain.ValidAlertStatus(*patch.Status) {
		return nil, fmt.Errorf("%w: invalid status %q", ErrInvalidInput, *patch.Status)
	}

	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *patch.Status)
	}
	if patch.InvestigationNotes != nil {
		sets = append(sets, "investigation_notes = ?")
		args = append(args, *patch.InvestigationNotes)
	}
	if patch.AssignedTo != nil {
		sets = append(sets, "assigned_to = ?")
		args = append(args, *patch.AssignedTo)
	}

	args = append(args, alertID)
	query := `UPDATE alerts SET ` + strings.Join(sets, ", ") + ` WHERE alert_id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, ErrNotFound
	}

	return r.GetAlert(ctx, alertID)
}

// AlertStats aggregates the alert store for monitoring.
func (r *SQLRepository) AlertStats(ctx context.Context) (*domain.AlertStats, error) {
	stats := &domain.AlertStats{
		ByStatus: make(map[string]int),
		ByType:   make(map[string]int),
	}

	rows, err := r.db.QueryContext(ctx, `SELECT status, alert_type, risk_score FROM alerts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sum float64
	for rows.Next() {
		var status, alertType string
		var score float64
		if err := rows.Scan(&status, &alertType, &score); err != nil {
			return nil, err
		}
		stats.TotalAlerts++
		stats.ByStatus[status]++
		stats.ByType[alertType]++
		sum += score
		if score >= 0.8 {
			stats.HighRiskCount++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if stats.TotalAlerts > 0 {
		stats.AvgRiskScore = sum / float64(stats.TotalAlerts)
	}

	return stats, nil
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
