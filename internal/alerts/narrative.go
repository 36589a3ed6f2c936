package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"text/template"

	"github.com/opensource-finance/harrier/internal/domain"
)

// NarrativeGenerator produces a SAR narrative for an alert. Implementations
// return an error to hand off to the next generator in the chain.
type NarrativeGenerator interface {
	Generate(ctx context.Context, alert *domain.Alert, result *domain.ScoreResult) (string, error)
}

// NarrativeChain tries generators in order and returns the first non-empty
// narrative. The chain is expected to end in a generator that cannot fail.
type NarrativeChain []NarrativeGenerator

// Generate runs the chain. It errors only if every generator fails.
func (c NarrativeChain) Generate(ctx context.Context, alert *domain.Alert, result *domain.ScoreResult) (string, error) {
	var lastErr error
	for _, g := range c {
		narrative, err := g.Generate(ctx, alert, result)
		if err == nil && narrative != "" {
			return narrative, nil
		}
		if err != nil {
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no generator produced a narrative")
	}
	return "", lastErr
}

// significantFactorThreshold filters attributions included in narratives.
const significantFactorThreshold = 0.05

// riskFactorLines formats the significant attributions, highest first.
func riskFactorLines(attributions map[string]float64) string {
	type factor struct {
		name  string
		value float64
	}
	var factors []factor
	for name, value := range attributions {
		if value > significantFactorThreshold {
			factors = append(factors, factor{name, value})
		}
	}
	if len(factors) == 0 {
		return "Multiple risk indicators detected through automated analysis"
	}

	sort.Slice(factors, func(i, j int) bool { return factors[i].value > factors[j].value })

	var b strings.Builder
	for i, f := range factors {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "- %s: %.3f", strings.ReplaceAll(f.name, "_", " "), f.value)
	}
	return b.String()
}

// AIGenerator produces narratives through an OpenAI-compatible
// chat-completions endpoint.
type AIGenerator struct {
	cfg    domain.NarrativeConfig
	client *http.Client
	logger *slog.Logger
}

// NewAIGenerator creates an AI narrative generator. Returns nil if the
// config is disabled or carries no API key; the chain simply skips it.
func NewAIGenerator(cfg domain.NarrativeConfig, logger *slog.Logger) *AIGenerator {
	if !cfg.Enabled || strings.TrimSpace(cfg.APIKey) == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AIGenerator{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With("component", "alerts.narrative"),
	}
}

const sarSystemPrompt = "You are an expert AML compliance officer writing Suspicious Activity Reports " +
	"for regulatory authorities. Your narratives must be precise, professional, and compliant with banking regulations."

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate posts a structured prompt and returns the model's narrative.
func (g *AIGenerator) Generate(ctx context.Context, alert *domain.Alert, result *domain.ScoreResult) (string, error) {
	prompt := fmt.Sprintf(`Generate a professional Suspicious Activity Report (SAR) narrative for the following transaction:

Alert Type: %s
Customer ID: %s
Transaction ID: %s
Risk Score: %.2f

Key Risk Factors:
%s

Requirements:
1. Professional, regulatory-compliant language
2. Clear description of suspicious activity
3. Specific risk factors identified
4. Recommendation for next steps
5. Maximum 400 words

Format as a formal SAR narrative suitable for regulatory submission.`,
		alert.AlertType, alert.CustomerID, alert.TxnID, alert.RiskScore,
		riskFactorLines(result.Attributions))

	body, err := json.Marshal(chatRequest{
		Model: g.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: sarSystemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	url := strings.TrimRight(g.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat completion request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := resp.Status
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return "", fmt.Errorf("chat completion failed: %s", msg)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	narrative := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if narrative == "" {
		return "", fmt.Errorf("chat completion returned empty narrative")
	}

	g.logger.Info("generated ai sar narrative", "alert_id", alert.AlertID)
	return narrative, nil
}

// TemplateGenerator fills fixed SAR templates keyed by alert type.
type TemplateGenerator struct {
	templates map[string]*template.Template
}

type templateContext struct {
	CustomerID  string
	TxnID       string
	RiskScore   string
	AlertDate   string
	RiskFactors string
}

var sarTemplateText = map[string]string{
	domain.AlertTypeHighRisk: `SUSPICIOUS ACTIVITY REPORT - HIGH RISK TRANSACTION

Customer ID: {{.CustomerID}}
Transaction ID: {{.TxnID}}
Date: {{.AlertDate}}
Risk Score: {{.RiskScore}}

SUSPICIOUS ACTIVITY DESCRIPTION:
A high-risk transaction has been identified involving customer {{.CustomerID}}. The transaction has triggered multiple risk indicators with an overall risk score of {{.RiskScore}}.

RISK FACTORS IDENTIFIED:
{{.RiskFactors}}

RECOMMENDATION:
This transaction requires immediate investigation and potential filing of a Suspicious Activity Report (SAR) with relevant authorities.`,

	domain.AlertTypeSuspiciousPattern: `SUSPICIOUS ACTIVITY REPORT - PATTERN ANALYSIS

Customer ID: {{.CustomerID}}
Risk Score: {{.RiskScore}}
Pattern Type: Suspicious Transaction Pattern

SUSPICIOUS ACTIVITY DESCRIPTION:
Analysis has identified suspicious transaction patterns for customer {{.CustomerID}} with a risk score of {{.RiskScore}}. The patterns suggest potential money laundering or other illicit activities.

PATTERN INDICATORS:
{{.RiskFactors}}

RECOMMENDATION:
Enhanced monitoring and investigation recommended. Consider filing SAR if patterns persist.`,

	domain.AlertTypeVelocitySpike: `SUSPICIOUS ACTIVITY REPORT - VELOCITY ANOMALY

Customer ID: {{.CustomerID}}
Transaction ID: {{.TxnID}}
Risk Score: {{.RiskScore}}

SUSPICIOUS ACTIVITY DESCRIPTION:
An abnormal spike in transaction velocity has been detected for customer {{.CustomerID}}. The transaction frequency materially exceeds the account's established baseline, a pattern consistent with layering or structuring activity.

VELOCITY INDICATORS:
{{.RiskFactors}}

RECOMMENDATION:
Immediate investigation required. Review the account's recent transaction history against its historical profile.`,

	domain.AlertTypeGraphAnomaly: `SUSPICIOUS ACTIVITY REPORT - NETWORK ANOMALY

Customer ID: {{.CustomerID}}
Transaction ID: {{.TxnID}}
Risk Score: {{.RiskScore}}

SUSPICIOUS ACTIVITY DESCRIPTION:
Automated analysis has flagged customer {{.CustomerID}} at critical risk. The combination of risk factors is anomalous relative to the customer's peer group and transaction network.

RISK FACTORS IDENTIFIED:
{{.RiskFactors}}

RECOMMENDATION:
Escalate for enhanced due diligence and immediate investigation.`,
}

// NewTemplateGenerator compiles the built-in SAR templates.
func NewTemplateGenerator() (*TemplateGenerator, error) {
	compiled := make(map[string]*template.Template, len(sarTemplateText))
	for alertType, text := range sarTemplateText {
		tmpl, err := template.New(alertType).Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parse sar template %s: %w", alertType, err)
		}
		compiled[alertType] = tmpl
	}
	return &TemplateGenerator{templates: compiled}, nil
}

// Generate fills the template for the alert type. Unknown types use the
// high-risk template.
func (g *TemplateGenerator) Generate(ctx context.Context, alert *domain.Alert, result *domain.ScoreResult) (string, error) {
	tmpl, ok := g.templates[alert.AlertType]
	if !ok {
		tmpl = g.templates[domain.AlertTypeHighRisk]
	}

	var out bytes.Buffer
	err := tmpl.Execute(&out, templateContext{
		CustomerID:  alert.CustomerID,
		TxnID:       alert.TxnID,
		RiskScore:   fmt.Sprintf("%.2f", alert.RiskScore),
		AlertDate:   alert.CreatedAt.Format("2006-01-02"),
		RiskFactors: riskFactorLines(result.Attributions),
	})
	if err != nil {
		return "", fmt.Errorf("execute sar template: %w", err)
	}
	return out.String(), nil
}

// GenericGenerator is the terminal fallback. It cannot fail.
type GenericGenerator struct{}

// Generate returns a minimal narrative built from the alert fields alone.
func (GenericGenerator) Generate(ctx context.Context, alert *domain.Alert, result *domain.ScoreResult) (string, error) {
	return fmt.Sprintf(`SUSPICIOUS ACTIVITY REPORT

Customer ID: %s
Transaction ID: %s
Risk Score: %.2f

High-risk activity detected through automated analysis. Multiple risk indicators suggest potential money laundering or other illicit activities. Manual investigation required.

Risk Factors:
%s

Recommendation: Immediate investigation and potential regulatory filing required.`,
		alert.CustomerID, alert.TxnID, alert.RiskScore,
		riskFactorLines(result.Attributions)), nil
}

// DefaultChain assembles AI -> template -> generic. A nil AI generator (no
// key configured) leaves template as the first strategy.
func DefaultChain(cfg domain.NarrativeConfig, logger *slog.Logger) (NarrativeChain, error) {
	tmpl, err := NewTemplateGenerator()
	if err != nil {
		return nil, err
	}

	var chain NarrativeChain
	if ai := NewAIGenerator(cfg, logger); ai != nil {
		chain = append(chain, ai)
	}
	chain = append(chain, tmpl, GenericGenerator{})
	return chain, nil
}
