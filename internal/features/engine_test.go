package features

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/repository"
)

func testConfig() domain.PipelineConfig {
	return domain.PipelineConfig{
		VelocityWindowDays:       30,
		VelocityShortWindowDays:  7,
		CountryRiskHighThreshold: 0.6,
	}
}

func newTestEngine(t *testing.T) (*Engine, domain.Repository) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "features-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	lru := cache.NewLRUCache(100)
	t.Cleanup(func() { lru.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewEngine(repo, lru, testConfig(), logger), repo
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name  string
		input string
		ok    bool
		hour  int
	}{
		{"RFC3339", "2026-03-16T14:30:00+00:00", true, 14},
		{"TrailingZ", "2026-03-16T14:30:00Z", true, 14},
		{"DoubledOffset", "2026-03-16T14:30:00+00:00+00:00", true, 14},
		{"TripledOffset", "2026-03-16T14:30:00+00:00+00:00+00:00", true, 14},
		{"NoOffset", "2026-03-16T14:30:00", true, 14},
		{"DateOnly", "2026-03-16", true, 0},
		{"Garbage", "not-a-timestamp", false, 12},
		{"Empty", "", false, 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseTimestamp(tt.input)
			if ok != tt.ok {
				t.Errorf("expected ok=%v, got %v", tt.ok, ok)
			}
			if got.Hour() != tt.hour {
				t.Errorf("expected hour %d, got %d", tt.hour, got.Hour())
			}
		})
	}
}

func TestAmountFeatures(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	fv := engine.Compute(ctx, &domain.Transaction{
		TxnID:               "tx-amt",
		AccountID:           "acc-amt",
		Timestamp:           "2026-03-16T14:00:00+00:00",
		Amount:              50000,
		Currency:            "USD",
		CounterpartyCountry: "DE",
	})

	if fv[domain.FeatureAmount] != 50000 {
		t.Errorf("expected amount 50000, got %v", fv[domain.FeatureAmount])
	}
	if fv[domain.FeatureAmountRounded] != 1 {
		t.Error("expected 50000 flagged as round number")
	}
	if fv[domain.FeatureThreshold10K] != 1 || fv[domain.FeatureThreshold50K] != 1 {
		t.Error("expected both threshold flags set for 50000")
	}
	if fv[domain.FeatureAmountLog] < 10.8 || fv[domain.FeatureAmountLog] > 10.9 {
		t.Errorf("unexpected amount_log %v", fv[domain.FeatureAmountLog])
	}
}

func TestStructuringDetection(t *testing.T) {
	engine, repo := newTestEngine(t)
	ctx := context.Background()

	t.Run("SingleNearThreshold", func(t *testing.T) {
		// 9500 sits in the [8000, 9900] band under the 10000 threshold
		fv := engine.Compute(ctx, &domain.Transaction{
			TxnID:               "tx-struct-1",
			AccountID:           "acc-struct-empty",
			Timestamp:           "2026-03-16T14:00:00+00:00",
			Amount:              9500,
			Currency:            "USD",
			CounterpartyCountry: "US",
		})

		if got := fv[domain.FeatureStructuringScore]; got < 0.29 || got > 0.31 {
			t.Errorf("expected structuring score 0.3, got %v", got)
		}
		if fv[domain.FeatureNearThresholdCnt] != 1 {
			t.Errorf("expected near_threshold_count 1, got %v", fv[domain.FeatureNearThresholdCnt])
		}
	})

	t.Run("SmurfingPattern", func(t *testing.T) {
		// Six recent sub-5000 transactions summing over 20000
		base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
		for i := 0; i < 6; i++ {
			tx := &domain.Transaction{
				TxnID:               fmt.Sprintf("tx-smurf-%d", i),
				AccountID:           "acc-smurf",
				Timestamp:           base.Add(time.Duration(i) * time.Hour).Format(time.RFC3339),
				Amount:              4500,
				Currency:            "USD",
				CounterpartyCountry: "US",
			}
			if err := repo.SaveTransaction(ctx, tx); err != nil {
				t.Fatalf("SaveTransaction failed: %v", err)
			}
		}

		fv := engine.Compute(ctx, &domain.Transaction{
			TxnID:               "tx-smurf-current",
			AccountID:           "acc-smurf",
			Timestamp:           "2026-03-16T14:00:00+00:00",
			Amount:              4500,
			Currency:            "USD",
			CounterpartyCountry: "US",
		})

		// Current near 5000 band (+0.3), six priors near 5000 (+0.6), pattern (+0.4), clamped
		if fv[domain.FeatureStructuringScore] != 1 {
			t.Errorf("expected clamped structuring score 1, got %v", fv[domain.FeatureStructuringScore])
		}
		if fv[domain.FeatureNearThresholdCnt] != 7 {
			t.Errorf("expected near_threshold_count 7, got %v", fv[domain.FeatureNearThresholdCnt])
		}
	})
}

func TestVelocityFeatures(t *testing.T) {
	engine, repo := newTestEngine(t)
	ctx := context.Background()

	seed := func(t *testing.T, account string, base time.Time, spacing time.Duration) {
		t.Helper()
		for i := 0; i < 10; i++ {
			tx := &domain.Transaction{
				TxnID:               fmt.Sprintf("tx-vel-%s-%d", account, i),
				AccountID:           account,
				Timestamp:           base.Add(time.Duration(i) * spacing).Format(time.RFC3339),
				Amount:              2000,
				Currency:            "USD",
				CounterpartyCountry: "US",
			}
			if err := repo.SaveTransaction(ctx, tx); err != nil {
				t.Fatalf("SaveTransaction failed: %v", err)
			}
		}
	}

	compute := func(account string) domain.FeatureVector {
		return engine.Compute(ctx, &domain.Transaction{
			TxnID:               "tx-vel-current-" + account,
			AccountID:           account,
			Timestamp:           "2026-03-17T14:00:00+00:00",
			Amount:              2000,
			Currency:            "USD",
			CounterpartyCountry: "US",
		})
	}

	t.Run("SpreadOverLongWindow", func(t *testing.T) {
		// Ten prior transactions of 2000 spread over the last 20 days
		seed(t, "acc-vel", time.Date(2026, 2, 25, 10, 0, 0, 0, time.UTC), 48*time.Hour)
		fv := compute("acc-vel")

		if fv["count_30d"] != 10 {
			t.Errorf("expected count_30d 10, got %v", fv["count_30d"])
		}
		if fv["amt_30d"] != 20000 {
			t.Errorf("expected amt_30d 20000, got %v", fv["amt_30d"])
		}
		if fv["avg_amt_30d"] != 2000 {
			t.Errorf("expected avg_amt_30d 2000, got %v", fv["avg_amt_30d"])
		}

		// 10 txns / 30 days
		want := 10.0 / 30.0
		if got := fv[domain.FeatureVelocityScore]; got < want-0.001 || got > want+0.001 {
			t.Errorf("expected velocity_score %.3f, got %v", want, got)
		}

		// Same amount as historical average: zero deviation
		if fv[domain.FeatureAmountDeviation] != 0 {
			t.Errorf("expected zero deviation, got %v", fv[domain.FeatureAmountDeviation])
		}
	})

	t.Run("BurstInsideShortWindow", func(t *testing.T) {
		// Ten prior transactions of 2000 within the last three days land
		// in both the 7-day and 30-day windows
		seed(t, "acc-vel-burst", time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC), 6*time.Hour)
		fv := compute("acc-vel-burst")

		if fv["count_7d"] != 10 {
			t.Errorf("expected count_7d 10, got %v", fv["count_7d"])
		}
		if fv["amt_7d"] != 20000 {
			t.Errorf("expected amt_7d 20000, got %v", fv["amt_7d"])
		}
		if fv["avg_amt_7d"] != 2000 {
			t.Errorf("expected avg_amt_7d 2000, got %v", fv["avg_amt_7d"])
		}
		if fv["count_30d"] != 10 {
			t.Errorf("expected count_30d 10, got %v", fv["count_30d"])
		}
	})
}

func TestVelocityNoHistory(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	fv := engine.Compute(ctx, &domain.Transaction{
		TxnID:               "tx-lone",
		AccountID:           "acc-lone",
		Timestamp:           "2026-03-16T14:00:00+00:00",
		Amount:              500,
		Currency:            "USD",
		CounterpartyCountry: "US",
	})

	if fv[domain.FeatureVelocityScore] != 0 {
		t.Errorf("expected zero velocity without history, got %v", fv[domain.FeatureVelocityScore])
	}
	if fv[domain.FeatureAmountDeviation] != 0 {
		t.Errorf("expected zero deviation without history, got %v", fv[domain.FeatureAmountDeviation])
	}
	if fv["count_30d"] != 0 {
		t.Errorf("expected empty window, got %v", fv["count_30d"])
	}
}

func TestCountryRiskFeatures(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	compute := func(country string) domain.FeatureVector {
		return engine.Compute(ctx, &domain.Transaction{
			TxnID:               "tx-country-" + country,
			AccountID:           "acc-country",
			Timestamp:           "2026-03-16T14:00:00+00:00",
			Amount:              100,
			Currency:            "USD",
			CounterpartyCountry: country,
		})
	}

	t.Run("Sanctioned", func(t *testing.T) {
		fv := compute("IR")
		if fv[domain.FeatureSanctionsCountry] != 1 {
			t.Error("expected IR flagged as sanctioned")
		}
		if fv[domain.FeatureCountryRisk] != 0.9 {
			t.Errorf("expected country_risk 0.9, got %v", fv[domain.FeatureCountryRisk])
		}
		if fv[domain.FeatureRiskLevelCritical] != 1 {
			t.Error("expected critical risk band")
		}
		if fv[domain.FeatureHighRiskCountry] != 1 {
			t.Error("expected high_risk_country flag")
		}
	})

	t.Run("TaxHaven", func(t *testing.T) {
		fv := compute("KY")
		if fv[domain.FeatureTaxHaven] != 1 {
			t.Error("expected KY flagged as tax haven")
		}
		if fv[domain.FeatureHighRiskJurisd] != 1 {
			t.Error("expected KY flagged as high-risk jurisdiction")
		}
		if fv[domain.FeatureSanctionsCountry] != 0 {
			t.Error("KY is not sanctioned")
		}
		if fv[domain.FeatureRiskLevelHigh] != 1 {
			t.Error("expected high risk band for 0.75")
		}
	})

	t.Run("LowRisk", func(t *testing.T) {
		fv := compute("DE")
		if fv[domain.FeatureCountryRisk] != 0.1 {
			t.Errorf("expected country_risk 0.1, got %v", fv[domain.FeatureCountryRisk])
		}
		if fv[domain.FeatureRiskLevelLow] != 1 {
			t.Error("expected low risk band")
		}
		if fv[domain.FeatureHighRiskCountry] != 0 {
			t.Error("expected no high_risk_country flag")
		}
	})

	t.Run("UnknownCountry", func(t *testing.T) {
		fv := compute("XX")
		if fv[domain.FeatureCountryRisk] != 0.5 {
			t.Errorf("expected default risk 0.5, got %v", fv[domain.FeatureCountryRisk])
		}
		if fv[domain.FeatureRiskLevelMedium] != 1 {
			t.Error("expected medium risk band for unknown country")
		}
	})

	t.Run("BandsExclusive", func(t *testing.T) {
		for _, country := range []string{"DE", "BR", "KY", "IR", "XX"} {
			fv := compute(country)
			sum := fv[domain.FeatureRiskLevelLow] + fv[domain.FeatureRiskLevelMedium] +
				fv[domain.FeatureRiskLevelHigh] + fv[domain.FeatureRiskLevelCritical]
			if sum != 1 {
				t.Errorf("%s: expected exactly one risk band, got sum %v", country, sum)
			}
		}
	})
}

func TestCustomerFeatures(t *testing.T) {
	engine, repo := newTestEngine(t)
	ctx := context.Background()

	if err := repo.SaveCustomer(ctx, &domain.Customer{
		CustomerID: "cust-pep",
		FullName:   "Alex Reyes",
		KYCLevel:   domain.KYCEnhanced,
		PEPFlag:    true,
	}); err != nil {
		t.Fatalf("SaveCustomer failed: %v", err)
	}
	if err := repo.SaveAccount(ctx, &domain.Account{
		AccountID:  "acc-pep",
		CustomerID: "cust-pep",
		Country:    "GB",
		OpenedAt:   "2025-12-20T00:00:00+00:00",
	}); err != nil {
		t.Fatalf("SaveAccount failed: %v", err)
	}

	t.Run("PEPWithEnhancedKYC", func(t *testing.T) {
		fv := engine.Compute(ctx, &domain.Transaction{
			TxnID:               "tx-pep",
			AccountID:           "acc-pep",
			Timestamp:           "2026-03-16T14:00:00+00:00",
			Amount:              1000,
			Currency:            "GBP",
			CounterpartyCountry: "GB",
		})

		if fv[domain.FeaturePEPExposure] != 1 {
			t.Error("expected pep_exposure 1")
		}
		if fv[domain.FeatureKYCGapScore] != 0.1 {
			t.Errorf("expected enhanced KYC gap 0.1, got %v", fv[domain.FeatureKYCGapScore])
		}
		// Account opened ~86 days before the transaction
		age := fv[domain.FeatureAccountAgeScore]
		if age < 0.2 || age > 0.3 {
			t.Errorf("unexpected account_age_score %v", age)
		}
		if fv[domain.FeatureNewAccount] != 0 {
			t.Error("86-day account is not new")
		}
	})

	t.Run("NewAccount", func(t *testing.T) {
		repo.SaveCustomer(ctx, &domain.Customer{
			CustomerID: "cust-new",
			KYCLevel:   domain.KYCBasic,
		})
		repo.SaveAccount(ctx, &domain.Account{
			AccountID:  "acc-new",
			CustomerID: "cust-new",
			OpenedAt:   "2026-03-10T00:00:00+00:00",
		})

		fv := engine.Compute(ctx, &domain.Transaction{
			TxnID:               "tx-new-acct",
			AccountID:           "acc-new",
			Timestamp:           "2026-03-16T14:00:00+00:00",
			Amount:              1000,
			Currency:            "USD",
			CounterpartyCountry: "US",
		})

		if fv[domain.FeatureNewAccount] != 1 {
			t.Error("expected 6-day account flagged as new")
		}
		if fv[domain.FeatureKYCGapScore] != 0.7 {
			t.Errorf("expected basic KYC gap 0.7, got %v", fv[domain.FeatureKYCGapScore])
		}
	})

	t.Run("MissingAccountDefaults", func(t *testing.T) {
		fv := engine.Compute(ctx, &domain.Transaction{
			TxnID:               "tx-orphan",
			AccountID:           "acc-missing",
			Timestamp:           "2026-03-16T14:00:00+00:00",
			Amount:              1000,
			Currency:            "USD",
			CounterpartyCountry: "US",
		})

		if fv[domain.FeatureKYCGapScore] != 0.5 {
			t.Errorf("expected default kyc_gap_score 0.5, got %v", fv[domain.FeatureKYCGapScore])
		}
		if fv[domain.FeaturePEPExposure] != 0 {
			t.Error("expected no PEP exposure for missing customer")
		}
		if fv[domain.FeatureAccountAgeScore] != 0.5 {
			t.Errorf("expected default account_age_score 0.5, got %v", fv[domain.FeatureAccountAgeScore])
		}
	})
}

func TestTimeFeatures(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	compute := func(ts string) domain.FeatureVector {
		return engine.Compute(ctx, &domain.Transaction{
			TxnID:               "tx-time",
			AccountID:           "acc-time",
			Timestamp:           ts,
			Amount:              100,
			Currency:            "USD",
			CounterpartyCountry: "US",
		})
	}

	t.Run("WeekdayBusinessHours", func(t *testing.T) {
		// Monday 14:00
		fv := compute("2026-03-16T14:00:00+00:00")
		if fv[domain.FeatureHourOfDay] != 14 {
			t.Errorf("expected hour 14, got %v", fv[domain.FeatureHourOfDay])
		}
		if fv[domain.FeatureIsWeekend] != 0 {
			t.Error("Monday is not a weekend")
		}
		if fv[domain.FeatureIsOffHours] != 0 {
			t.Error("14:00 is not off-hours")
		}
	})

	t.Run("WeekendNight", func(t *testing.T) {
		// Saturday 03:00
		fv := compute("2026-03-14T03:00:00+00:00")
		if fv[domain.FeatureIsWeekend] != 1 {
			t.Error("expected Saturday flagged as weekend")
		}
		if fv[domain.FeatureIsOffHours] != 1 {
			t.Error("expected 03:00 flagged as off-hours")
		}
	})

	t.Run("MalformedTimestamp", func(t *testing.T) {
		fv := compute("garbage")
		if fv[domain.FeatureHourOfDay] != 12 {
			t.Errorf("expected neutral hour 12, got %v", fv[domain.FeatureHourOfDay])
		}
		if fv[domain.FeatureIsWeekend] != 0 || fv[domain.FeatureIsOffHours] != 0 {
			t.Error("expected neutral flags for malformed timestamp")
		}
	})
}

func TestFeatureCaching(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	txn := &domain.Transaction{
		TxnID:               "tx-cached",
		AccountID:           "acc-cached",
		Timestamp:           "2026-03-16T14:00:00+00:00",
		Amount:              7500,
		Currency:            "USD",
		CounterpartyCountry: "CH",
	}

	computed := engine.Compute(ctx, txn)

	cached := engine.Cached(ctx, "tx-cached")
	if cached == nil {
		t.Fatal("expected computed vector to be cached")
	}
	if cached[domain.FeatureAmount] != computed[domain.FeatureAmount] {
		t.Errorf("cached vector differs: %v vs %v",
			cached[domain.FeatureAmount], computed[domain.FeatureAmount])
	}

	if engine.Cached(ctx, "tx-never-seen") != nil {
		t.Error("expected nil for uncached transaction")
	}
}
