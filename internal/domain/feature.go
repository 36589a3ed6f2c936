package domain

// FeatureVector maps a fixed set of named numeric features to values,
// one vector per transaction. Vectors are derived data: they can be
// recomputed at any time from history plus reference data.
type FeatureVector map[string]float64

// Feature names shared across pipeline stages. Window-dependent velocity
// features (amt_30d, count_7d, ...) are formatted from the configured
// window lengths and are not listed here.
const (
	FeatureAmount            = "amount"
	FeatureAmountLog         = "amount_log"
	FeatureAmountRounded     = "amount_rounded"
	FeatureThreshold10K      = "amount_threshold_10k"
	FeatureThreshold50K      = "amount_threshold_50k"
	FeatureAmountDeviation   = "amount_deviation"
	FeatureVelocityScore     = "velocity_score"
	FeatureVelocityAccel     = "velocity_acceleration"
	FeatureStructuringScore  = "structuring_score"
	FeatureNearThresholdCnt  = "near_threshold_count"
	FeatureCountryRisk       = "country_risk"
	FeatureHighRiskCountry   = "high_risk_country"
	FeatureSanctionsCountry  = "sanctions_country"
	FeatureHighRiskJurisd    = "high_risk_jurisdiction"
	FeatureTaxHaven          = "tax_haven"
	FeatureRiskLevelLow      = "risk_level_low"
	FeatureRiskLevelMedium   = "risk_level_medium"
	FeatureRiskLevelHigh     = "risk_level_high"
	FeatureRiskLevelCritical = "risk_level_critical"
	FeatureKYCGapScore       = "kyc_gap_score"
	FeaturePEPExposure       = "pep_exposure"
	FeatureAccountAgeScore   = "account_age_score"
	FeatureNewAccount        = "new_account"
	FeatureHourOfDay         = "hour_of_day"
	FeatureIsWeekend         = "is_weekend"
	FeatureIsOffHours        = "is_off_hours"
)

// Clone returns an independent copy of the vector.
func (v FeatureVector) Clone() FeatureVector {
	out := make(FeatureVector, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}
