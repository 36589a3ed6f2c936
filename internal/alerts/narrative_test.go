package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

func testAlert() *domain.Alert {
	return &domain.Alert{
		AlertID:    "alert-001",
		TxnID:      "tx-001",
		CustomerID: "cust-001",
		RiskScore:  0.93,
		Status:     domain.AlertOpen,
		AlertType:  domain.AlertTypeHighRisk,
		CreatedAt:  time.Date(2026, 3, 16, 10, 0, 0, 0, time.UTC),
	}
}

func testResult() *domain.ScoreResult {
	return &domain.ScoreResult{
		TxnID:     "tx-001",
		RiskScore: 0.93,
		Attributions: map[string]float64{
			"sanctions_country": 0.09,
			"pep_exposure":      0.06,
			"hour_of_day":       0.002,
		},
	}
}

type failingGenerator struct{}

func (failingGenerator) Generate(ctx context.Context, alert *domain.Alert, result *domain.ScoreResult) (string, error) {
	return "", fmt.Errorf("upstream unavailable")
}

func TestTemplateGenerator(t *testing.T) {
	gen, err := NewTemplateGenerator()
	if err != nil {
		t.Fatalf("NewTemplateGenerator failed: %v", err)
	}
	ctx := context.Background()

	t.Run("HighRisk", func(t *testing.T) {
		narrative, err := gen.Generate(ctx, testAlert(), testResult())
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		for _, want := range []string{"SUSPICIOUS ACTIVITY REPORT", "cust-001", "tx-001", "0.93", "sanctions country"} {
			if !strings.Contains(narrative, want) {
				t.Errorf("narrative missing %q:\n%s", want, narrative)
			}
		}
		// Insignificant factors are excluded
		if strings.Contains(narrative, "hour of day") {
			t.Error("narrative includes sub-threshold factor")
		}
	})

	t.Run("PerTypeTemplates", func(t *testing.T) {
		for _, alertType := range []string{
			domain.AlertTypeHighRisk,
			domain.AlertTypeSuspiciousPattern,
			domain.AlertTypeVelocitySpike,
			domain.AlertTypeGraphAnomaly,
		} {
			alert := testAlert()
			alert.AlertType = alertType
			narrative, err := gen.Generate(ctx, alert, testResult())
			if err != nil {
				t.Fatalf("Generate(%s) failed: %v", alertType, err)
			}
			if narrative == "" {
				t.Errorf("empty narrative for %s", alertType)
			}
		}
	})

	t.Run("UnknownTypeFallsBack", func(t *testing.T) {
		alert := testAlert()
		alert.AlertType = "something_else"
		narrative, err := gen.Generate(ctx, alert, testResult())
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		if !strings.Contains(narrative, "HIGH RISK TRANSACTION") {
			t.Error("expected fallback to the high-risk template")
		}
	})

	t.Run("NoSignificantFactors", func(t *testing.T) {
		result := testResult()
		result.Attributions = map[string]float64{"hour_of_day": 0.001}
		narrative, err := gen.Generate(ctx, testAlert(), result)
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		if !strings.Contains(narrative, "Multiple risk indicators detected") {
			t.Error("expected generic risk factor line")
		}
	})
}

func TestGenericGenerator(t *testing.T) {
	narrative, err := GenericGenerator{}.Generate(context.Background(), testAlert(), testResult())
	if err != nil {
		t.Fatalf("generic generator must not fail: %v", err)
	}
	if !strings.Contains(narrative, "cust-001") || !strings.Contains(narrative, "tx-001") {
		t.Errorf("generic narrative missing identifiers:\n%s", narrative)
	}
}

func TestNarrativeChain(t *testing.T) {
	ctx := context.Background()

	t.Run("FirstSuccessWins", func(t *testing.T) {
		tmpl, _ := NewTemplateGenerator()
		chain := NarrativeChain{failingGenerator{}, tmpl, GenericGenerator{}}

		narrative, err := chain.Generate(ctx, testAlert(), testResult())
		if err != nil {
			t.Fatalf("chain failed: %v", err)
		}
		if !strings.Contains(narrative, "HIGH RISK TRANSACTION") {
			t.Error("expected template output after AI failure")
		}
	})

	t.Run("AllFail", func(t *testing.T) {
		chain := NarrativeChain{failingGenerator{}, failingGenerator{}}
		if _, err := chain.Generate(ctx, testAlert(), testResult()); err == nil {
			t.Error("expected error when every generator fails")
		}
	})

	t.Run("GenericTerminatesChain", func(t *testing.T) {
		chain := NarrativeChain{failingGenerator{}, GenericGenerator{}}
		narrative, err := chain.Generate(ctx, testAlert(), testResult())
		if err != nil {
			t.Fatalf("chain with generic terminal failed: %v", err)
		}
		if narrative == "" {
			t.Error("expected non-empty narrative")
		}
	})
}

func TestAIGenerator(t *testing.T) {
	ctx := context.Background()

	newGen := func(t *testing.T, baseURL string) *AIGenerator {
		t.Helper()
		gen := NewAIGenerator(domain.NarrativeConfig{
			Enabled:     true,
			APIKey:      "test-key",
			BaseURL:     baseURL,
			Model:       "gpt-4",
			MaxTokens:   500,
			Temperature: 0.3,
			Timeout:     5 * time.Second,
		}, quietLogger())
		if gen == nil {
			t.Fatal("expected AI generator with key configured")
		}
		return gen
	}

	t.Run("Success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/chat/completions" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
				t.Errorf("unexpected auth header %q", got)
			}

			var req chatRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode request: %v", err)
			}
			if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
				t.Errorf("unexpected messages %+v", req.Messages)
			}
			if !strings.Contains(req.Messages[1].Content, "tx-001") {
				t.Error("prompt missing transaction id")
			}

			json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{
					{"message": map[string]string{"role": "assistant", "content": "  Formal SAR narrative.  "}},
				},
			})
		}))
		defer srv.Close()

		narrative, err := newGen(t, srv.URL).Generate(ctx, testAlert(), testResult())
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		if narrative != "Formal SAR narrative." {
			t.Errorf("unexpected narrative %q", narrative)
		}
	})

	t.Run("APIError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]string{"message": "rate limit exceeded"},
			})
		}))
		defer srv.Close()

		if _, err := newGen(t, srv.URL).Generate(ctx, testAlert(), testResult()); err == nil {
			t.Error("expected error from API failure")
		}
	})

	t.Run("EmptyChoices", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
		}))
		defer srv.Close()

		if _, err := newGen(t, srv.URL).Generate(ctx, testAlert(), testResult()); err == nil {
			t.Error("expected error for empty choices")
		}
	})

	t.Run("DisabledWithoutKey", func(t *testing.T) {
		if gen := NewAIGenerator(domain.NarrativeConfig{Enabled: true}, quietLogger()); gen != nil {
			t.Error("expected nil generator without API key")
		}
		if gen := NewAIGenerator(domain.NarrativeConfig{Enabled: false, APIKey: "k"}, quietLogger()); gen != nil {
			t.Error("expected nil generator when disabled")
		}
	})
}

func TestDefaultChain(t *testing.T) {
	t.Run("WithoutKey", func(t *testing.T) {
		chain, err := DefaultChain(domain.NarrativeConfig{Enabled: true}, quietLogger())
		if err != nil {
			t.Fatalf("DefaultChain failed: %v", err)
		}
		// template + generic only
		if len(chain) != 2 {
			t.Errorf("expected 2 generators without API key, got %d", len(chain))
		}
	})

	t.Run("WithKey", func(t *testing.T) {
		chain, err := DefaultChain(domain.NarrativeConfig{
			Enabled: true,
			APIKey:  "k",
			Timeout: time.Second,
		}, quietLogger())
		if err != nil {
			t.Fatalf("DefaultChain failed: %v", err)
		}
		if len(chain) != 3 {
			t.Errorf("expected 3 generators with API key, got %d", len(chain))
		}
	})
}
