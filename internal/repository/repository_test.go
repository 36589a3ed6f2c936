package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "harrier-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetTransaction", func(t *testing.T) {
		tx := &domain.Transaction{
			TxnID:               "tx-001",
			AccountID:           "acc-001",
			Timestamp:           "2026-03-15T10:30:00+00:00",
			Amount:              1000.00,
			Currency:            "USD",
			CounterpartyCountry: "DE",
		}

		if err := repo.SaveTransaction(ctx, tx); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}

		retrieved, err := repo.GetTransaction(ctx, tx.TxnID)
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}

		if retrieved.TxnID != tx.TxnID {
			t.Errorf("expected TxnID %s, got %s", tx.TxnID, retrieved.TxnID)
		}
		if retrieved.Amount != tx.Amount {
			t.Errorf("expected Amount %.2f, got %.2f", tx.Amount, retrieved.Amount)
		}
		if retrieved.Timestamp != tx.Timestamp {
			t.Errorf("expected Timestamp %s, got %s", tx.Timestamp, retrieved.Timestamp)
		}
	})

	t.Run("SaveTransactionIdempotent", func(t *testing.T) {
		tx := &domain.Transaction{
			TxnID:     "tx-dup",
			AccountID: "acc-001",
			Amount:    500,
			Currency:  "EUR",
		}
		if err := repo.SaveTransaction(ctx, tx); err != nil {
			t.Fatalf("first SaveTransaction failed: %v", err)
		}
		// Redelivery must not error or duplicate, and must not clobber
		// the stored row (first write wins)
		redelivered := *tx
		redelivered.Amount = 9999
		if err := repo.SaveTransaction(ctx, &redelivered); err != nil {
			t.Fatalf("redelivered SaveTransaction failed: %v", err)
		}

		history, err := repo.ListTransactionsByAccount(ctx, "acc-001")
		if err != nil {
			t.Fatalf("ListTransactionsByAccount failed: %v", err)
		}
		seen := 0
		for _, h := range history {
			if h.TxnID == "tx-dup" {
				seen++
				if h.Amount != 500 {
					t.Errorf("expected original amount 500 to survive redelivery, got %v", h.Amount)
				}
			}
		}
		if seen != 1 {
			t.Errorf("expected 1 copy of tx-dup in history, got %d", seen)
		}
	})

	t.Run("GetTransactionNotFound", func(t *testing.T) {
		_, err := repo.GetTransaction(ctx, "missing")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ListTransactionsByAccountOrder", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			tx := &domain.Transaction{
				TxnID:     fmt.Sprintf("tx-ord-%d", i),
				AccountID: "acc-order",
				Amount:    float64(100 * (i + 1)),
				Currency:  "USD",
			}
			if err := repo.SaveTransaction(ctx, tx); err != nil {
				t.Fatalf("SaveTransaction failed: %v", err)
			}
		}

		history, err := repo.ListTransactionsByAccount(ctx, "acc-order")
		if err != nil {
			t.Fatalf("ListTransactionsByAccount failed: %v", err)
		}
		if len(history) != 3 {
			t.Fatalf("expected 3 transactions, got %d", len(history))
		}
		for i, tx := range history {
			want := fmt.Sprintf("tx-ord-%d", i)
			if tx.TxnID != want {
				t.Errorf("position %d: expected %s, got %s", i, want, tx.TxnID)
			}
		}
	})

	t.Run("SaveAndGetCustomer", func(t *testing.T) {
		c := &domain.Customer{
			CustomerID: "cust-001",
			FullName:   "Jordan Mills",
			DOB:        "1985-04-12",
			KYCLevel:   domain.KYCEnhanced,
			PEPFlag:    true,
		}
		if err := repo.SaveCustomer(ctx, c); err != nil {
			t.Fatalf("SaveCustomer failed: %v", err)
		}

		retrieved, err := repo.GetCustomer(ctx, c.CustomerID)
		if err != nil {
			t.Fatalf("GetCustomer failed: %v", err)
		}
		if !retrieved.PEPFlag {
			t.Error("expected PEPFlag to round-trip as true")
		}
		if retrieved.KYCLevel != domain.KYCEnhanced {
			t.Errorf("expected KYC level %s, got %s", domain.KYCEnhanced, retrieved.KYCLevel)
		}

		// Upsert replaces the previous record
		c.KYCLevel = domain.KYCBasic
		if err := repo.SaveCustomer(ctx, c); err != nil {
			t.Fatalf("SaveCustomer upsert failed: %v", err)
		}
		retrieved, err = repo.GetCustomer(ctx, c.CustomerID)
		if err != nil {
			t.Fatalf("GetCustomer after upsert failed: %v", err)
		}
		if retrieved.KYCLevel != domain.KYCBasic {
			t.Errorf("expected upserted KYC level %s, got %s", domain.KYCBasic, retrieved.KYCLevel)
		}
	})

	t.Run("SaveAndGetAccount", func(t *testing.T) {
		a := &domain.Account{
			AccountID:   "acc-ref-001",
			CustomerID:  "cust-001",
			Country:     "GB",
			OpenedAt:    "2020-01-15",
			AccountType: "checking",
		}
		if err := repo.SaveAccount(ctx, a); err != nil {
			t.Fatalf("SaveAccount failed: %v", err)
		}

		retrieved, err := repo.GetAccount(ctx, a.AccountID)
		if err != nil {
			t.Fatalf("GetAccount failed: %v", err)
		}
		if retrieved.Country != "GB" {
			t.Errorf("expected country GB, got %s", retrieved.Country)
		}
		if retrieved.OpenedAt != "2020-01-15" {
			t.Errorf("expected opened_at 2020-01-15, got %s", retrieved.OpenedAt)
		}
	})

	t.Run("SaveAndGetScore", func(t *testing.T) {
		res := &domain.ScoreResult{
			TxnID:        "tx-001",
			RiskScore:    0.87,
			Confidence:   0.62,
			RiskCategory: domain.RiskHigh,
			ModelScores: domain.ModelScores{
				Primary:  0.91,
				Ensemble: 0.79,
				Combined: 0.87,
			},
			Attributions: map[string]float64{"sanctions_country": 0.025},
			ScoredAt:     time.Now().UTC(),
		}
		if err := repo.SaveScore(ctx, res); err != nil {
			t.Fatalf("SaveScore failed: %v", err)
		}

		retrieved, err := repo.GetScore(ctx, res.TxnID)
		if err != nil {
			t.Fatalf("GetScore failed: %v", err)
		}
		if retrieved.RiskScore != res.RiskScore {
			t.Errorf("expected RiskScore %.2f, got %.2f", res.RiskScore, retrieved.RiskScore)
		}
		if retrieved.ModelScores.Primary != 0.91 {
			t.Errorf("expected primary model score 0.91, got %.2f", retrieved.ModelScores.Primary)
		}
		if retrieved.Attributions["sanctions_country"] != 0.025 {
			t.Errorf("attributions did not round-trip: %v", retrieved.Attributions)
		}
	})

	t.Run("ScoreImmutable", func(t *testing.T) {
		first := &domain.ScoreResult{
			TxnID:        "tx-score-immutable",
			RiskScore:    0.5,
			RiskCategory: domain.RiskMedium,
			ScoredAt:     time.Now().UTC(),
		}
		if err := repo.SaveScore(ctx, first); err != nil {
			t.Fatalf("SaveScore failed: %v", err)
		}

		second := &domain.ScoreResult{
			TxnID:        "tx-score-immutable",
			RiskScore:    0.9,
			RiskCategory: domain.RiskCritical,
			ScoredAt:     time.Now().UTC(),
		}
		if err := repo.SaveScore(ctx, second); err != nil {
			t.Fatalf("redelivered SaveScore failed: %v", err)
		}

		retrieved, err := repo.GetScore(ctx, "tx-score-immutable")
		if err != nil {
			t.Fatalf("GetScore failed: %v", err)
		}
		if retrieved.RiskScore != 0.5 {
			t.Errorf("expected first score 0.5 to win, got %.2f", retrieved.RiskScore)
		}
	})
}

func TestAlertLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	newAlert := func(txnID string, score float64) *domain.Alert {
		now := time.Now().UTC()
		return &domain.Alert{
			AlertID:    uuid.New().String(),
			TxnID:      txnID,
			CustomerID: "cust-001",
			RiskScore:  score,
			Status:     domain.AlertOpen,
			AlertType:  domain.AlertTypeHighRisk,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}

	t.Run("CreateAlert", func(t *testing.T) {
		alert := newAlert("tx-alert-1", 0.85)
		stored, created, err := repo.CreateAlert(ctx, alert)
		if err != nil {
			t.Fatalf("CreateAlert failed: %v", err)
		}
		if !created {
			t.Error("expected created=true for first alert")
		}
		if stored.AlertID != alert.AlertID {
			t.Errorf("expected stored alert %s, got %s", alert.AlertID, stored.AlertID)
		}
	})

	t.Run("CreateAlertDeduplicates", func(t *testing.T) {
		first := newAlert("tx-alert-dup", 0.75)
		if _, _, err := repo.CreateAlert(ctx, first); err != nil {
			t.Fatalf("first CreateAlert failed: %v", err)
		}

		second := newAlert("tx-alert-dup", 0.95)
		stored, created, err := repo.CreateAlert(ctx, second)
		if err != nil {
			t.Fatalf("duplicate CreateAlert failed: %v", err)
		}
		if created {
			t.Error("expected created=false for duplicate txn_id")
		}
		if stored.AlertID != first.AlertID {
			t.Errorf("expected first alert %s to win, got %s", first.AlertID, stored.AlertID)
		}
		if stored.RiskScore != 0.75 {
			t.Errorf("expected first alert score 0.75, got %.2f", stored.RiskScore)
		}
	})

	t.Run("ConcurrentCreateAlert", func(t *testing.T) {
		const workers = 8
		var wg sync.WaitGroup
		createdCount := make(chan bool, workers)

		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, created, err := repo.CreateAlert(ctx, newAlert("tx-alert-race", 0.9))
				if err != nil {
					t.Errorf("concurrent CreateAlert failed: %v", err)
					return
				}
				createdCount <- created
			}()
		}
		wg.Wait()
		close(createdCount)

		wins := 0
		for created := range createdCount {
			if created {
				wins++
			}
		}
		if wins != 1 {
			t.Errorf("expected exactly 1 winning insert, got %d", wins)
		}
	})

	t.Run("GetAlertByTxn", func(t *testing.T) {
		alert, err := repo.GetAlertByTxn(ctx, "tx-alert-1")
		if err != nil {
			t.Fatalf("GetAlertByTxn failed: %v", err)
		}
		if alert.TxnID != "tx-alert-1" {
			t.Errorf("expected txn tx-alert-1, got %s", alert.TxnID)
		}

		if _, err := repo.GetAlertByTxn(ctx, "tx-no-alert"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("UpdateAlert", func(t *testing.T) {
		alert := newAlert("tx-alert-update", 0.8)
		if _, _, err := repo.CreateAlert(ctx, alert); err != nil {
			t.Fatalf("CreateAlert failed: %v", err)
		}

		status := domain.AlertInvestigating
		notes := "escalated to compliance"
		assignee := "analyst-7"
		updated, err := repo.UpdateAlert(ctx, alert.AlertID, domain.AlertPatch{
			Status:             &status,
			InvestigationNotes: &notes,
			AssignedTo:         &assignee,
		})
		if err != nil {
			t.Fatalf("UpdateAlert failed: %v", err)
		}
		if updated.Status != domain.AlertInvestigating {
			t.Errorf("expected status %s, got %s", domain.AlertInvestigating, updated.Status)
		}
		if updated.InvestigationNotes != notes {
			t.Errorf("expected notes %q, got %q", notes, updated.InvestigationNotes)
		}
		if updated.AssignedTo != assignee {
			t.Errorf("expected assignee %q, got %q", assignee, updated.AssignedTo)
		}
		if !updated.UpdatedAt.After(alert.UpdatedAt) {
			t.Error("expected updated_at to advance")
		}

		// Unspecified fields stay untouched
		statusOnly := domain.AlertClosed
		updated, err = repo.UpdateAlert(ctx, alert.AlertID, domain.AlertPatch{Status: &statusOnly})
		if err != nil {
			t.Fatalf("UpdateAlert failed: %v", err)
		}
		if updated.InvestigationNotes != notes {
			t.Errorf("partial patch clobbered notes: %q", updated.InvestigationNotes)
		}
	})

	t.Run("UpdateAlertInvalidStatus", func(t *testing.T) {
		bad := "archived"
		_, err := repo.UpdateAlert(ctx, "any", domain.AlertPatch{Status: &bad})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("UpdateAlertNotFound", func(t *testing.T) {
		status := domain.AlertClosed
		_, err := repo.UpdateAlert(ctx, "missing-alert", domain.AlertPatch{Status: &status})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestListAlerts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	scores := []float64{0.72, 0.85, 0.91, 0.78, 0.95}
	for i, score := range scores {
		status := domain.AlertOpen
		if i%2 == 1 {
			status = domain.AlertClosed
		}
		alert := &domain.Alert{
			AlertID:    fmt.Sprintf("alert-%d", i),
			TxnID:      fmt.Sprintf("tx-list-%d", i),
			CustomerID: "cust-list",
			RiskScore:  score,
			Status:     status,
			AlertType:  domain.AlertTypeHighRisk,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
			UpdatedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		if _, _, err := repo.CreateAlert(ctx, alert); err != nil {
			t.Fatalf("CreateAlert failed: %v", err)
		}
	}

	t.Run("NewestFirst", func(t *testing.T) {
		alerts, err := repo.ListAlerts(ctx, domain.AlertQuery{})
		if err != nil {
			t.Fatalf("ListAlerts failed: %v", err)
		}
		if len(alerts) != 5 {
			t.Fatalf("expected 5 alerts, got %d", len(alerts))
		}
		if alerts[0].AlertID != "alert-4" || alerts[4].AlertID != "alert-0" {
			t.Errorf("expected newest-first ordering, got %s..%s", alerts[0].AlertID, alerts[4].AlertID)
		}
	})

	t.Run("FilterByStatus", func(t *testing.T) {
		alerts, err := repo.ListAlerts(ctx, domain.AlertQuery{Status: domain.AlertClosed})
		if err != nil {
			t.Fatalf("ListAlerts failed: %v", err)
		}
		if len(alerts) != 2 {
			t.Fatalf("expected 2 closed alerts, got %d", len(alerts))
		}
		for _, a := range alerts {
			if a.Status != domain.AlertClosed {
				t.Errorf("expected closed status, got %s", a.Status)
			}
		}
	})

	t.Run("FilterByRiskThreshold", func(t *testing.T) {
		alerts, err := repo.ListAlerts(ctx, domain.AlertQuery{RiskThreshold: 0.9})
		if err != nil {
			t.Fatalf("ListAlerts failed: %v", err)
		}
		if len(alerts) != 2 {
			t.Fatalf("expected 2 alerts >= 0.9, got %d", len(alerts))
		}
	})

	t.Run("Pagination", func(t *testing.T) {
		page1, err := repo.ListAlerts(ctx, domain.AlertQuery{Limit: 2})
		if err != nil {
			t.Fatalf("ListAlerts page 1 failed: %v", err)
		}
		page2, err := repo.ListAlerts(ctx, domain.AlertQuery{Limit: 2, Offset: 2})
		if err != nil {
			t.Fatalf("ListAlerts page 2 failed: %v", err)
		}
		if len(page1) != 2 || len(page2) != 2 {
			t.Fatalf("expected 2+2 alerts, got %d+%d", len(page1), len(page2))
		}
		if page1[0].AlertID == page2[0].AlertID {
			t.Error("pages overlap")
		}
	})

	t.Run("Count", func(t *testing.T) {
		total, err := repo.CountAlerts(ctx, domain.AlertQuery{})
		if err != nil {
			t.Fatalf("CountAlerts failed: %v", err)
		}
		if total != 5 {
			t.Errorf("expected total 5, got %d", total)
		}

		closed, err := repo.CountAlerts(ctx, domain.AlertQuery{Status: domain.AlertClosed})
		if err != nil {
			t.Fatalf("CountAlerts failed: %v", err)
		}
		if closed != 2 {
			t.Errorf("expected 2 closed, got %d", closed)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		stats, err := repo.AlertStats(ctx)
		if err != nil {
			t.Fatalf("AlertStats failed: %v", err)
		}
		if stats.TotalAlerts != 5 {
			t.Errorf("expected 5 total, got %d", stats.TotalAlerts)
		}
		if stats.ByStatus[domain.AlertOpen] != 3 {
			t.Errorf("expected 3 open, got %d", stats.ByStatus[domain.AlertOpen])
		}
		if stats.HighRiskCount != 3 {
			t.Errorf("expected 3 high-risk alerts, got %d", stats.HighRiskCount)
		}
		if stats.AvgRiskScore < 0.84 || stats.AvgRiskScore > 0.85 {
			t.Errorf("unexpected average risk score %.4f", stats.AvgRiskScore)
		}
	})
}

func TestRepositoryInvalidInput(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.SaveTransaction(ctx, &domain.Transaction{}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for empty txn, got %v", err)
	}
	if err := repo.SaveCustomer(ctx, &domain.Customer{}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for empty customer, got %v", err)
	}
	if _, _, err := repo.CreateAlert(ctx, &domain.Alert{AlertID: "a"}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for alert without txn, got %v", err)
	}
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := New(domain.RepositoryConfig{Driver: "oracle"})
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}
