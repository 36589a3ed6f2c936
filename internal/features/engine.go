// Package features derives per-transaction feature vectors from transaction
// history and customer reference data.
package features

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// KYC gap scores per verification tier. Weaker verification scores higher.
var kycScores = map[string]float64{
	domain.KYCBasic:    0.7,
	domain.KYCStandard: 0.3,
	domain.KYCEnhanced: 0.1,
}

const unknownKYCScore = 0.5

// Structuring reporting thresholds (USD equivalents), checked against the
// [0.8t, 0.99t] near band.
var structuringThresholds = []float64{10000, 5000, 3000, 1000}

// featureTTL bounds how long a derived vector stays cached. Vectors are
// recomputable, so expiry is safe.
const featureTTL = time.Hour

// Engine computes feature vectors. Compute never fails outward: any data
// anomaly yields the documented default values and a warning log, so one bad
// record cannot stall the pipeline.
type Engine struct {
	repo   domain.Repository
	cache  domain.Cache
	cfg    domain.PipelineConfig
	logger *slog.Logger
}

// NewEngine creates a feature engine.
func NewEngine(repo domain.Repository, cache domain.Cache, cfg domain.PipelineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		repo:   repo,
		cache:  cache,
		cfg:    cfg,
		logger: logger.With("component", "features"),
	}
}

// Ingest records a transaction in the append-only account history.
// Redelivery is a no-op.
func (e *Engine) Ingest(ctx context.Context, txn *domain.Transaction) error {
	return e.repo.SaveTransaction(ctx, txn)
}

// Compute derives the full feature vector for a transaction and caches it.
func (e *Engine) Compute(ctx context.Context, txn *domain.Transaction) domain.FeatureVector {
	fv := make(domain.FeatureVector)

	e.computeAmountFeatures(fv, txn)

	if err := e.computeVelocityFeatures(ctx, fv, txn); err != nil {
		e.logger.Warn("velocity computation failed, using defaults",
			"txn_id", txn.TxnID, "error", err)
		return e.defaultVector()
	}

	e.computeCountryFeatures(fv, txn)
	e.computeCustomerFeatures(ctx, fv, txn)
	e.computeTimeFeatures(fv, txn)

	if txn.TxnID != "" && e.cache != nil {
		if err := e.cache.SetFeatures(ctx, txn.TxnID, fv, featureTTL); err != nil {
			e.logger.Warn("feature cache write failed", "txn_id", txn.TxnID, "error", err)
		}
	}

	return fv
}

// Cached returns the cached vector for a transaction, or nil on miss.
func (e *Engine) Cached(ctx context.Context, txnID string) domain.FeatureVector {
	if e.cache == nil {
		return nil
	}
	fv, err := e.cache.GetFeatures(ctx, txnID)
	if err != nil {
		e.logger.Warn("feature cache read failed", "txn_id", txnID, "error", err)
		return nil
	}
	return fv
}

func (e *Engine) computeAmountFeatures(fv domain.FeatureVector, txn *domain.Transaction) {
	amount := txn.Amount

	fv[domain.FeatureAmount] = amount
	fv[domain.FeatureAmountLog] = math.Log(math.Max(amount, 1))
	fv[domain.FeatureAmountRounded] = boolFeature(amount != 0 && math.Mod(amount, 1000) == 0)
	fv[domain.FeatureThreshold10K] = boolFeature(amount >= 10000)
	fv[domain.FeatureThreshold50K] = boolFeature(amount >= 50000)
}

func (e *Engine) computeVelocityFeatures(ctx context.Context, fv domain.FeatureVector, txn *domain.Transaction) error {
	longDays := e.cfg.VelocityWindowDays
	shortDays := e.cfg.VelocityShortWindowDays

	txnTime, _ := ParseTimestamp(txn.Timestamp)

	history, err := e.repo.ListTransactionsByAccount(ctx, txn.AccountID)
	if err != nil {
		return fmt.Errorf("loading account history: %w", err)
	}

	longCutoff := txnTime.AddDate(0, 0, -longDays)
	shortCutoff := txnTime.AddDate(0, 0, -shortDays)

	var amtLong, amtShort float64
	var countLong, countShort int
	var recent []*domain.Transaction

	recentCutoff := txnTime.AddDate(0, 0, -7)
	for _, prior := range history {
		if prior.TxnID == txn.TxnID {
			continue
		}
		priorTime, _ := ParseTimestamp(prior.Timestamp)
		if !priorTime.Before(longCutoff) {
			amtLong += prior.Amount
			countLong++
		}
		if !priorTime.Before(shortCutoff) {
			amtShort += prior.Amount
			countShort++
		}
		if !priorTime.Before(recentCutoff) {
			recent = append(recent, prior)
		}
	}

	avgLong := amtLong / math.Max(float64(countLong), 1)
	avgShort := amtShort / math.Max(float64(countShort), 1)

	dailyLong := float64(countLong) / math.Max(float64(longDays), 1)
	dailyShort := float64(countShort) / math.Max(float64(shortDays), 1)

	acceleration := math.Max(0, dailyShort-dailyLong)

	var deviation float64
	if avgLong > 0 {
		deviation = math.Abs(txn.Amount-avgLong) / math.Max(avgLong, 1)
	}

	fv[fmt.Sprintf("amt_%dd", longDays)] = amtLong
	fv[fmt.Sprintf("count_%dd", longDays)] = float64(countLong)
	fv[fmt.Sprintf("avg_amt_%dd", longDays)] = avgLong
	fv[fmt.Sprintf("amt_%dd", shortDays)] = amtShort
	fv[fmt.Sprintf("count_%dd", shortDays)] = float64(countShort)
	fv[fmt.Sprintf("avg_amt_%dd", shortDays)] = avgShort
	fv[domain.FeatureVelocityScore] = math.Min(dailyLong, 1.0)
	fv[domain.FeatureVelocityAccel] = math.Min(acceleration, 1.0)
	fv[domain.FeatureAmountDeviation] = math.Min(deviation, 5.0)

	score, nearCount := structuringScore(txn.Amount, recent)
	fv[domain.FeatureStructuringScore] = score
	fv[domain.FeatureNearThresholdCnt] = nearCount

	return nil
}

// structuringScore scores proximity to reporting thresholds: the current
// amount in a near band adds 0.3, each trailing-7d transaction in a band adds
// 0.1, and five or more recent sub-5000 transactions summing over 20000 add
// 0.4. Clamped to [0,1].
func structuringScore(amount float64, recent []*domain.Transaction) (score, nearCount float64) {
	for _, t := range structuringThresholds {
		if amount >= t*0.8 && amount <= t*0.99 {
			score += 0.3
			nearCount++
		}
	}

	for _, prior := range recent {
		for _, t := range structuringThresholds {
			if prior.Amount >= t*0.8 && prior.Amount <= t*0.99 {
				score += 0.1
				nearCount++
			}
		}
	}

	if len(recent) >= 5 {
		allSmall := true
		var sum float64
		for _, prior := range recent {
			if prior.Amount >= 5000 {
				allSmall = false
				break
			}
			sum += prior.Amount
		}
		if allSmall && sum > 20000 {
			score += 0.4
		}
	}

	return math.Min(score, 1.0), nearCount
}

func (e *Engine) computeCountryFeatures(fv domain.FeatureVector, txn *domain.Transaction) {
	country := txn.CounterpartyCountry
	if country == "" {
		country = "US"
	}
	risk := CountryRisk(country)

	fv[domain.FeatureCountryRisk] = risk
	fv[domain.FeatureHighRiskCountry] = boolFeature(risk >= e.cfg.CountryRiskHighThreshold)
	fv[domain.FeatureSanctionsCountry] = boolFeature(sanctionsCountries[country])
	fv[domain.FeatureHighRiskJurisd] = boolFeature(highRiskJurisdictions[country])
	fv[domain.FeatureTaxHaven] = boolFeature(taxHavens[country])

	fv[domain.FeatureRiskLevelLow] = boolFeature(risk <= 0.2)
	fv[domain.FeatureRiskLevelMedium] = boolFeature(risk > 0.2 && risk <= 0.6)
	fv[domain.FeatureRiskLevelHigh] = boolFeature(risk > 0.6 && risk <= 0.8)
	fv[domain.FeatureRiskLevelCritical] = boolFeature(risk > 0.8)
}

func (e *Engine) computeCustomerFeatures(ctx context.Context, fv domain.FeatureVector, txn *domain.Transaction) {
	account, err := e.repo.GetAccount(ctx, txn.AccountID)
	if err != nil || account.CustomerID == "" {
		e.logger.Warn("account reference data missing, using customer defaults",
			"txn_id", txn.TxnID, "account_id", txn.AccountID)
		e.defaultCustomerFeatures(fv)
		return
	}

	customer, err := e.repo.GetCustomer(ctx, account.CustomerID)
	if err != nil {
		e.logger.Warn("customer reference data missing, using customer defaults",
			"txn_id", txn.TxnID, "customer_id", account.CustomerID)
		e.defaultCustomerFeatures(fv)
		return
	}

	kycGap, ok := kycScores[customer.KYCLevel]
	if !ok {
		kycGap = unknownKYCScore
	}
	fv[domain.FeatureKYCGapScore] = kycGap
	fv[domain.FeaturePEPExposure] = boolFeature(customer.PEPFlag)

	ageScore := 0.5
	if account.OpenedAt != "" {
		if opened, ok := ParseTimestamp(account.OpenedAt); ok {
			txnTime, _ := ParseTimestamp(txn.Timestamp)
			ageDays := txnTime.Sub(opened).Hours() / 24
			ageScore = math.Min(ageDays/365.0, 1.0)
		}
	}
	fv[domain.FeatureAccountAgeScore] = ageScore
	fv[domain.FeatureNewAccount] = boolFeature(ageScore < 0.1)
}

func (e *Engine) computeTimeFeatures(fv domain.FeatureVector, txn *domain.Transaction) {
	ts, ok := ParseTimestamp(txn.Timestamp)
	if !ok {
		fv[domain.FeatureHourOfDay] = float64(neutralHour)
		fv[domain.FeatureIsWeekend] = 0
		fv[domain.FeatureIsOffHours] = 0
		return
	}

	hour := ts.Hour()
	fv[domain.FeatureHourOfDay] = float64(hour)
	fv[domain.FeatureIsWeekend] = boolFeature(ts.Weekday() == time.Saturday || ts.Weekday() == time.Sunday)
	fv[domain.FeatureIsOffHours] = boolFeature(hour < 8 || hour > 18)
}

func (e *Engine) defaultCustomerFeatures(fv domain.FeatureVector) {
	fv[domain.FeatureKYCGapScore] = unknownKYCScore
	fv[domain.FeaturePEPExposure] = 0
	fv[domain.FeatureAccountAgeScore] = 0.5
	fv[domain.FeatureNewAccount] = 0
}

// defaultVector is returned when feature computation fails: neutral values
// that score medium rather than dropping the transaction.
func (e *Engine) defaultVector() domain.FeatureVector {
	longDays := e.cfg.VelocityWindowDays
	shortDays := e.cfg.VelocityShortWindowDays

	return domain.FeatureVector{
		domain.FeatureAmount:                     0,
		domain.FeatureAmountLog:                  0,
		domain.FeatureAmountRounded:              0,
		domain.FeatureThreshold10K:               0,
		domain.FeatureThreshold50K:               0,
		fmt.Sprintf("amt_%dd", longDays):         0,
		fmt.Sprintf("count_%dd", longDays):       0,
		fmt.Sprintf("avg_amt_%dd", longDays):     0,
		fmt.Sprintf("amt_%dd", shortDays):        0,
		fmt.Sprintf("count_%dd", shortDays):      0,
		domain.FeatureVelocityScore:              0,
		domain.FeatureCountryRisk:                defaultCountryRisk,
		domain.FeatureHighRiskCountry:            0,
		domain.FeatureKYCGapScore:                unknownKYCScore,
		domain.FeaturePEPExposure:                0,
		domain.FeatureAccountAgeScore:            0.5,
		domain.FeatureNewAccount:                 0,
		domain.FeatureHourOfDay:                  float64(neutralHour),
		domain.FeatureIsWeekend:                  0,
		domain.FeatureIsOffHours:                 0,
	}
}

func boolFeature(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}
