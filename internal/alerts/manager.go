// Package alerts turns scored transactions into deduplicated compliance
// alerts with SAR narratives.
package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/domain"
)

// attributionSignalThreshold is the minimum attribution treated as the
// dominant signal when classifying an alert.
const attributionSignalThreshold = 0.02

const maxListLimit = 500

// Manager owns the alert lifecycle: creation with dedup, narrative
// generation, queries and status updates.
type Manager struct {
	repo      domain.Repository
	cfg       domain.PipelineConfig
	narrative NarrativeGenerator
	logger    *slog.Logger
}

// NewManager creates an alert manager. narrative may be nil to skip SAR
// generation entirely.
func NewManager(repo domain.Repository, cfg domain.PipelineConfig, narrative NarrativeGenerator, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		repo:      repo,
		cfg:       cfg,
		narrative: narrative,
		logger:    logger.With("component", "alerts"),
	}
}

// ProcessScored evaluates a score result and creates an alert when it
// crosses the alert threshold. Returns (nil, nil) below the threshold.
// Duplicate deliveries for one transaction return the existing alert.
func (m *Manager) ProcessScored(ctx context.Context, result *domain.ScoreResult) (*domain.Alert, error) {
	if result == nil || result.TxnID == "" {
		return nil, fmt.Errorf("score result with txn_id is required")
	}

	if result.RiskScore < m.cfg.AlertThreshold {
		m.logger.Debug("score below alert threshold",
			"txn_id", result.TxnID, "risk_score", result.RiskScore)
		return nil, nil
	}

	now := time.Now().UTC()
	alert := &domain.Alert{
		AlertID:    uuid.New().String(),
		TxnID:      result.TxnID,
		CustomerID: m.resolveCustomer(ctx, result.TxnID),
		RiskScore:  result.RiskScore,
		Status:     domain.AlertOpen,
		AlertType:  classify(result),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	// Narrative generation happens before the insert and holds no
	// repository state; a failure degrades the alert, never drops it.
	if m.narrative != nil && result.RiskScore >= m.cfg.NarrativeThreshold {
		narrative, err := m.narrative.Generate(ctx, alert, result)
		if err != nil {
			m.logger.Warn("sar narrative generation failed",
				"txn_id", result.TxnID, "error", err)
		} else {
			alert.SARNarrative = narrative
		}
	}

	stored, created, err := m.repo.CreateAlert(ctx, alert)
	if err != nil {
		return nil, fmt.Errorf("create alert: %w", err)
	}

	if created {
		m.logger.Info("alert created",
			"alert_id", stored.AlertID,
			"txn_id", stored.TxnID,
			"alert_type", stored.AlertType,
			"risk_score", stored.RiskScore)
	} else {
		m.logger.Info("alert already exists for transaction",
			"alert_id", stored.AlertID, "txn_id", stored.TxnID)
	}

	return stored, nil
}

// classify picks the alert type from the dominant attribution, in fixed
// precedence order, falling back on the score itself.
func classify(result *domain.ScoreResult) string {
	attr := result.Attributions

	switch {
	case attr[domain.FeaturePEPExposure] > attributionSignalThreshold:
		return domain.AlertTypeSuspiciousPattern
	case attr[domain.FeatureHighRiskCountry] > attributionSignalThreshold:
		return domain.AlertTypeHighRisk
	case attr[domain.FeatureVelocityScore] > attributionSignalThreshold:
		return domain.AlertTypeVelocitySpike
	case result.RiskScore >= 0.9:
		return domain.AlertTypeGraphAnomaly
	default:
		return domain.AlertTypeHighRisk
	}
}

// resolveCustomer maps the transaction to its customer through the account
// reference data. Missing links leave the customer id empty.
func (m *Manager) resolveCustomer(ctx context.Context, txnID string) string {
	txn, err := m.repo.GetTransaction(ctx, txnID)
	if err != nil {
		m.logger.Warn("transaction lookup failed for alert", "txn_id", txnID, "error", err)
		return ""
	}
	account, err := m.repo.GetAccount(ctx, txn.AccountID)
	if err != nil {
		m.logger.Warn("account lookup failed for alert",
			"txn_id", txnID, "account_id", txn.AccountID, "error", err)
		return ""
	}
	return account.CustomerID
}

// GetAlert retrieves one alert by id.
func (m *Manager) GetAlert(ctx context.Context, alertID string) (*domain.Alert, error) {
	return m.repo.GetAlert(ctx, alertID)
}

// ListAlerts returns one page of alerts, newest first. The limit is clamped
// to [1, 500] with a default of 100.
func (m *Manager) ListAlerts(ctx context.Context, q domain.AlertQuery) (*domain.AlertPage, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > maxListLimit {
		q.Limit = maxListLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	alerts, err := m.repo.ListAlerts(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	total, err := m.repo.CountAlerts(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("count alerts: %w", err)
	}

	return &domain.AlertPage{
		Alerts: alerts,
		Total:  total,
		Limit:  q.Limit,
		Offset: q.Offset,
	}, nil
}

// UpdateAlert applies a restricted patch to an alert's mutable fields.
func (m *Manager) UpdateAlert(ctx context.Context, alertID string, patch domain.AlertPatch) (*domain.Alert, error) {
	updated, err := m.repo.UpdateAlert(ctx, alertID, patch)
	if err != nil {
		return nil, err
	}

	m.logger.Info("alert updated", "alert_id", alertID)
	return updated, nil
}

// Stats aggregates the alert store.
func (m *Manager) Stats(ctx context.Context) (*domain.AlertStats, error) {
	return m.repo.AlertStats(ctx)
}
