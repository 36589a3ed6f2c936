package domain

import "time"

// ModelScores holds the per-model components behind a blended risk score.
type ModelScores struct {
	Primary  float64 `json:"primary"`
	Ensemble float64 `json:"ensemble"`
	Combined float64 `json:"combined"`
}

// ScoreResult is the immutable output of the risk scorer for one transaction.
type ScoreResult struct {
	TxnID        string      `json:"txn_id"`
	RiskScore    float64     `json:"risk_score"`
	Confidence   float64     `json:"confidence"`
	RiskCategory string      `json:"risk_category"`
	ModelScores  ModelScores `json:"model_scores"`

	// Attributions is a linear per-feature decomposition of the score
	// (value x weight x 0.1), an approximation of a Shapley attribution.
	Attributions map[string]float64 `json:"attributions"`

	ScoredAt time.Time `json:"scored_at"`
}

// Risk categories in ascending order of severity.
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// ModelMetrics is the performance snapshot reported by the scorer.
type ModelMetrics struct {
	ModelVersion string    `json:"model_version"`
	Accuracy     float64   `json:"accuracy"`
	Precision    float64   `json:"precision"`
	Recall       float64   `json:"recall"`
	F1Score      float64   `json:"f1_score"`
	AUCROC       float64   `json:"auc_roc"`
	LastUpdated  time.Time `json:"last_updated"`
}
