// Benchmark tool for the Harrier detection pipeline.
//
// Usage:
//   go run cmd/benchmark/main.go -count 10000 -fraud 0.05
//
// This tool:
//   1. Builds a full Community-tier pipeline in-process (SQLite, LRU, channels)
//   2. Generates synthetic reference data and transactions, injecting
//      sanctions, PEP, structuring and velocity patterns at the given rate
//   3. Publishes everything through the event bus and waits for drain
//   4. Reports throughput, stage counters and how many injected patterns
//      produced alerts
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/opensource-finance/harrier/internal/alerts"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/features"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/scoring"
	"github.com/opensource-finance/harrier/internal/worker"
)

// Injected suspicious pattern kinds.
const (
	patternNone        = "benign"
	patternSanctions   = "sanctions"
	patternPEP         = "pep_large"
	patternStructuring = "structuring"
)

func main() {
	count := flag.Int("count", 10000, "Number of transactions to generate")
	accounts := flag.Int("accounts", 500, "Number of synthetic accounts")
	fraudRate := flag.Float64("fraud", 0.05, "Fraction of transactions carrying an injected pattern")
	shards := flag.Int("shards", 8, "Worker shards per stage")
	seed := flag.Int64("seed", 42, "RNG seed")
	timeout := flag.Duration("timeout", 2*time.Minute, "Drain timeout")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║        HARRIER BENCHMARK - Synthetic Pipeline Load            ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nTransactions: %d\n", *count)
	fmt.Printf("Accounts:     %d\n", *accounts)
	fmt.Printf("Pattern Rate: %.2f\n", *fraudRate)
	fmt.Printf("Shards:       %d\n", *shards)
	fmt.Printf("Seed:         %d\n", *seed)
	fmt.Println()

	env, cleanup, err := buildPipeline(*shards, *count)
	if err != nil {
		fmt.Printf("ERROR: failed to build pipeline: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()
	fmt.Println("✓ Pipeline assembled (sqlite + LRU + channel bus)")

	rng := rand.New(rand.NewSource(*seed))
	ctx := context.Background()

	// Reference data first so customer features resolve.
	customers, accts := generateReferenceData(rng, *accounts)
	for _, c := range customers {
		publish(ctx, env.bus, "harrier/benchmark", domain.CustomerIngested{Customer: *c})
	}
	for _, a := range accts {
		publish(ctx, env.bus, "harrier/benchmark", domain.AccountIngested{Account: *a})
	}
	fmt.Printf("✓ Published %d customers, %d accounts\n", len(customers), len(accts))

	txns, patterns := generateTransactions(rng, accts, *count, *fraudRate)

	injected := make(map[string]int)
	for _, p := range patterns {
		injected[p]++
	}

	fmt.Printf("✓ Generated %d transactions (benign: %d, sanctions: %d, pep: %d, structuring: %d)\n\n",
		len(txns), injected[patternNone], injected[patternSanctions],
		injected[patternPEP], injected[patternStructuring])

	fmt.Println("Publishing...")
	start := time.Now()
	for _, txn := range txns {
		publish(ctx, env.bus, "harrier/benchmark", domain.TransactionIngested{Transaction: *txn})
	}
	publishDone := time.Since(start)

	if !waitForDrain(ctx, env.cache, int64(*count), *timeout) {
		fmt.Printf("WARNING: pipeline did not drain within %v\n", *timeout)
	}
	total := time.Since(start)

	printResults(ctx, env, txns, patterns, injected, publishDone, total)
}

type pipelineEnv struct {
	bus     domain.EventBus
	repo    domain.Repository
	cache   domain.Cache
	manager *alerts.Manager
	workers *worker.Pipeline
}

func buildPipeline(shards, capacity int) (*pipelineEnv, func(), error) {
	// Keep benchmark output clean: the pipeline logs errors only.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tmpFile, err := os.CreateTemp("", "harrier-bench-*.db")
	if err != nil {
		return nil, nil, err
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		os.Remove(tmpPath)
		return nil, nil, err
	}

	cfg := domain.DefaultConfig().Pipeline
	cfg.WorkerShards = shards

	// Size the bus so the full batch fits without drops.
	eventBus := bus.NewChannelBus(capacity*2 + 4096)
	localCache := cache.NewLRUCache(capacity * 2)

	engine := features.NewEngine(repo, localCache, cfg, logger)

	rules, err := scoring.DefaultRuleSet(logger)
	if err != nil {
		repo.Close()
		os.Remove(tmpPath)
		return nil, nil, err
	}
	scorer := scoring.NewScorer(cfg, rules, rand.New(rand.NewSource(1)), logger)

	tmpl, err := alerts.NewTemplateGenerator()
	if err != nil {
		repo.Close()
		os.Remove(tmpPath)
		return nil, nil, err
	}
	manager := alerts.NewManager(repo, cfg, alerts.NarrativeChain{tmpl, alerts.GenericGenerator{}}, logger)

	workers := worker.NewPipeline(eventBus, repo, localCache, engine, scorer, manager, cfg, logger)
	if err := workers.Start(); err != nil {
		repo.Close()
		os.Remove(tmpPath)
		return nil, nil, err
	}

	env := &pipelineEnv{
		bus:     eventBus,
		repo:    repo,
		cache:   localCache,
		manager: manager,
		workers: workers,
	}
	cleanup := func() {
		workers.Stop()
		eventBus.Close()
		repo.Close()
		os.Remove(tmpPath)
	}
	return env, cleanup, nil
}

func publish(ctx context.Context, b domain.EventBus, source string, ev domain.Event) {
	payload, err := domain.EncodeEvent(source, ev)
	if err != nil {
		fmt.Printf("ERROR: encode failed: %v\n", err)
		os.Exit(1)
	}
	if err := b.Publish(ctx, domain.TopicEvents, payload); err != nil {
		fmt.Printf("ERROR: publish failed: %v\n", err)
		os.Exit(1)
	}
}

func generateReferenceData(rng *rand.Rand, n int) ([]*domain.Customer, []*domain.Account) {
	kycLevels := []string{domain.KYCBasic, domain.KYCStandard, domain.KYCEnhanced}

	customers := make([]*domain.Customer, 0, n)
	accounts := make([]*domain.Account, 0, n)

	for i := 0; i < n; i++ {
		custID := fmt.Sprintf("cust-%04d", i)
		customers = append(customers, &domain.Customer{
			CustomerID: custID,
			FullName:   fmt.Sprintf("Synthetic Holder %d", i),
			KYCLevel:   kycLevels[rng.Intn(len(kycLevels))],
			PEPFlag:    rng.Float64() < 0.02,
		})

		// Account ages from a week to a decade.
		ageDays := 7 + rng.Intn(3650)
		opened := time.Now().UTC().AddDate(0, 0, -ageDays)
		accounts = append(accounts, &domain.Account{
			AccountID:  fmt.Sprintf("acc-%04d", i),
			CustomerID: custID,
			Country:    "US",
			OpenedAt:   opened.Format(time.RFC3339),
		})
	}

	return customers, accounts
}

func generateTransactions(rng *rand.Rand, accounts []*domain.Account, count int, fraudRate float64) ([]*domain.Transaction, []string) {
	benignCountries := []string{"US", "GB", "DE", "FR", "CA", "JP", "AU", "NL"}
	sanctioned := []string{"IR", "KP", "SY", "CU"}

	txns := make([]*domain.Transaction, 0, count)
	patterns := make([]string, 0, count)

	base := time.Now().UTC().Add(-24 * time.Hour)

	for i := 0; i < count; i++ {
		acct := accounts[rng.Intn(len(accounts))]
		ts := base.Add(time.Duration(i) * time.Second)

		txn := &domain.Transaction{
			TxnID:     fmt.Sprintf("bench-%06d", i),
			AccountID: acct.AccountID,
			Timestamp: ts.Format(time.RFC3339),
			Currency:  "USD",
		}

		pattern := patternNone
		if rng.Float64() < fraudRate {
			switch rng.Intn(3) {
			case 0:
				pattern = patternSanctions
				txn.Amount = 1000 + rng.Float64()*99000
				txn.CounterpartyCountry = sanctioned[rng.Intn(len(sanctioned))]
			case 1:
				pattern = patternPEP
				txn.Amount = 60000 + rng.Float64()*200000
				txn.CounterpartyCountry = benignCountries[rng.Intn(len(benignCountries))]
			default:
				pattern = patternStructuring
				// Just under the 10k reporting threshold.
				txn.Amount = 8000 + rng.Float64()*1900
				txn.CounterpartyCountry = benignCountries[rng.Intn(len(benignCountries))]
			}
		} else {
			txn.Amount = 10 + rng.Float64()*4000
			txn.CounterpartyCountry = benignCountries[rng.Intn(len(benignCountries))]
		}

		txns = append(txns, txn)
		patterns = append(patterns, pattern)
	}

	return txns, patterns
}

// waitForDrain polls the alert-stage counter until every transaction has
// passed through the final stage.
func waitForDrain(ctx context.Context, c domain.Cache, want int64, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		processed, err := c.GetCounter(ctx, "stage:alerts")
		if err == nil && processed >= want {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return false
}

func printResults(ctx context.Context, env *pipelineEnv, txns []*domain.Transaction, patterns []string, injected map[string]int, publishDone, total time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	stats, err := env.manager.Stats(ctx)
	if err != nil {
		fmt.Printf("ERROR: failed to read alert stats: %v\n", err)
		return
	}

	// How many injected patterns were caught.
	caught := make(map[string]int)
	for i, txn := range txns {
		if patterns[i] == patternNone {
			continue
		}
		if _, err := env.repo.GetAlertByTxn(ctx, txn.TxnID); err == nil {
			caught[patterns[i]]++
		}
	}

	var benignAlerts int
	for i, txn := range txns {
		if patterns[i] != patternNone {
			continue
		}
		if _, err := env.repo.GetAlertByTxn(ctx, txn.TxnID); err == nil {
			benignAlerts++
		}
	}

	fmt.Printf("\n📊 ALERTS\n")
	fmt.Printf("   Total Alerts:      %d\n", stats.TotalAlerts)
	fmt.Printf("   High Risk (≥0.8):  %d\n", stats.HighRiskCount)
	fmt.Printf("   Avg Risk Score:    %.4f\n", stats.AvgRiskScore)
	for alertType, n := range stats.ByType {
		fmt.Printf("   %-22s %d\n", alertType+":", n)
	}

	fmt.Printf("\n🎯 INJECTED PATTERN DETECTION\n")
	for _, p := range []string{patternSanctions, patternPEP, patternStructuring} {
		if injected[p] == 0 {
			continue
		}
		rate := 100 * float64(caught[p]) / float64(injected[p])
		fmt.Printf("   %-12s %d / %d (%.1f%%)\n", p+":", caught[p], injected[p], rate)
	}
	fmt.Printf("   false alarms: %d / %d benign\n", benignAlerts, injected[patternNone])

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Publish Time:     %v\n", publishDone.Round(time.Millisecond))
	fmt.Printf("   End-to-End Time:  %v\n", total.Round(time.Millisecond))
	if total.Seconds() > 0 {
		fmt.Printf("   Throughput:       %.2f tx/sec\n", float64(len(txns))/total.Seconds())
	}

	for _, stage := range []string{"features", "scoring", "alerts"} {
		n, err := env.cache.GetCounter(ctx, "stage:"+stage)
		if err == nil {
			fmt.Printf("   Stage %-10s  %d events\n", stage+":", n)
		}
	}

	fmt.Println()
}
