package domain

import "time"

// Alert is a compliance alert raised for one transaction. At most one alert
// exists per transaction id; alerts are mutated only through UpdateAlert and
// are never deleted.
type Alert struct {
	AlertID    string  `json:"alert_id"`
	TxnID      string  `json:"txn_id"`
	CustomerID string  `json:"customer_id"`
	RiskScore  float64 `json:"risk_score"`
	Status     string  `json:"status"`
	AlertType  string  `json:"alert_type"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	SARNarrative       string `json:"sar_narrative,omitempty"`
	InvestigationNotes string `json:"investigation_notes,omitempty"`
	AssignedTo         string `json:"assigned_to,omitempty"`
}

// Alert lifecycle states. A new alert opens in AlertOpen; the remaining
// states are reachable only through an explicit update.
const (
	AlertOpen          = "open"
	AlertInvestigating = "investigating"
	AlertClosed        = "closed"
	AlertFalsePositive = "false_positive"
)

// Alert classifications derived from the attribution map.
const (
	AlertTypeHighRisk          = "high_risk_transaction"
	AlertTypeSuspiciousPattern = "suspicious_pattern"
	AlertTypeVelocitySpike     = "velocity_spike"
	AlertTypeGraphAnomaly      = "graph_anomaly"
)

// ValidAlertStatus reports whether s is a recognized lifecycle state.
func ValidAlertStatus(s string) bool {
	switch s {
	case AlertOpen, AlertInvestigating, AlertClosed, AlertFalsePositive:
		return true
	}
	return false
}

// AlertPatch is the partial update accepted for an alert. Nil fields are
// left unchanged; every update refreshes the updated_at timestamp.
type AlertPatch struct {
	Status             *string `json:"status,omitempty"`
	InvestigationNotes *string `json:"investigation_notes,omitempty"`
	AssignedTo         *string `json:"assigned_to,omitempty"`
}

// AlertQuery filters and paginates alert listings.
type AlertQuery struct {
	Status        string  // empty matches all statuses
	RiskThreshold float64 // minimum risk score, 0 matches all
	Limit         int
	Offset        int
}

// AlertPage is one page of an alert listing, ordered by creation time
// descending with insertion order breaking ties.
type AlertPage struct {
	Alerts []*Alert `json:"alerts"`
	Total  int      `json:"total"`
	Limit  int      `json:"limit"`
	Offset int      `json:"offset"`
}

// AlertStats aggregates the alert store for monitoring.
type AlertStats struct {
	TotalAlerts   int            `json:"total_alerts"`
	ByStatus      map[string]int `json:"by_status"`
	ByType        map[string]int `json:"by_type"`
	AvgRiskScore  float64        `json:"avg_risk_score"`
	HighRiskCount int            `json:"high_risk_count"`
}
