package scoring

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/harrier/internal/domain"
)

// OverrideKind distinguishes the two override behaviors.
type OverrideKind string

const (
	// OverrideFloor raises the score to at least Value when the guard fires.
	OverrideFloor OverrideKind = "floor"

	// OverrideMultiplier scales the score by Value when the guard fires.
	OverrideMultiplier OverrideKind = "multiplier"
)

// OverrideRule is a deterministic business-rule adjustment layered on the
// model output. The guard is a CEL boolean expression over the feature
// activation.
type OverrideRule struct {
	Name  string
	Kind  OverrideKind
	Guard string
	Value float64
}

type compiledOverride struct {
	rule    OverrideRule
	program cel.Program
}

// RuleSet holds compiled override rules. Floors apply before multipliers,
// and floors are monotonic: a higher floor cannot be lowered by a later one.
type RuleSet struct {
	mu          sync.RWMutex
	env         *cel.Env
	floors      []compiledOverride
	multipliers []compiledOverride
	logger      *slog.Logger
}

// NewRuleSet creates an empty rule set with the feature evaluation
// environment.
func NewRuleSet(logger *slog.Logger) (*RuleSet, error) {
	if logger == nil {
		logger = slog.Default()
	}

	env, err := cel.NewEnv(
		cel.Variable("features", cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("sanctions_country", cel.DoubleType),
		cel.Variable("structuring_score", cel.DoubleType),
		cel.Variable("pep_exposure", cel.DoubleType),
		cel.Variable("account_age_score", cel.DoubleType),
		cel.Variable("kyc_gap_score", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &RuleSet{
		env:    env,
		logger: logger.With("component", "scoring.rules"),
	}, nil
}

// DefaultRuleSet compiles the standard override rules: sanctions, structuring
// and large PEP transfers floor the score; seasoned accounts and enhanced KYC
// discount it.
func DefaultRuleSet(logger *slog.Logger) (*RuleSet, error) {
	rs, err := NewRuleSet(logger)
	if err != nil {
		return nil, err
	}

	defaults := []OverrideRule{
		{Name: "sanctions-floor", Kind: OverrideFloor, Guard: "sanctions_country > 0.5", Value: 0.9},
		{Name: "structuring-floor", Kind: OverrideFloor, Guard: "structuring_score > 0.8", Value: 0.85},
		{Name: "pep-large-amount-floor", Kind: OverrideFloor, Guard: "pep_exposure > 0.5 && amount > 50000.0", Value: 0.8},
		{Name: "seasoned-account-discount", Kind: OverrideMultiplier, Guard: "account_age_score > 0.8", Value: 0.9},
		{Name: "enhanced-kyc-discount", Kind: OverrideMultiplier, Guard: "kyc_gap_score < 0.2", Value: 0.95},
	}

	for _, rule := range defaults {
		if err := rs.Add(rule); err != nil {
			return nil, err
		}
	}

	return rs, nil
}

// Add compiles and registers an override rule.
func (rs *RuleSet) Add(rule OverrideRule) error {
	if rule.Kind != OverrideFloor && rule.Kind != OverrideMultiplier {
		return fmt.Errorf("unknown override kind: %s", rule.Kind)
	}

	ast, issues := rs.env.Compile(rule.Guard)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("failed to compile rule %s: %w", rule.Name, issues.Err())
	}

	program, err := rs.env.Program(ast)
	if err != nil {
		return fmt.Errorf("failed to build program for rule %s: %w", rule.Name, err)
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	compiled := compiledOverride{rule: rule, program: program}
	if rule.Kind == OverrideFloor {
		rs.floors = append(rs.floors, compiled)
	} else {
		rs.multipliers = append(rs.multipliers, compiled)
	}
	return nil
}

// Apply adjusts a model score with the registered overrides and clamps the
// result to [0, 1]. A rule that fails to evaluate is skipped: overrides must
// never turn a scoreable transaction into an error.
func (rs *RuleSet) Apply(score float64, features domain.FeatureVector) float64 {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	activation := ruleActivation(features)

	adjusted := score
	for _, c := range rs.floors {
		if rs.fires(c, activation) && c.rule.Value > adjusted {
			adjusted = c.rule.Value
		}
	}
	for _, c := range rs.multipliers {
		if rs.fires(c, activation) {
			adjusted *= c.rule.Value
		}
	}

	return clamp01(adjusted)
}

func (rs *RuleSet) fires(c compiledOverride, activation map[string]any) bool {
	out, _, err := c.program.Eval(activation)
	if err != nil {
		rs.logger.Warn("override rule evaluation failed", "rule", c.rule.Name, "error", err)
		return false
	}
	return toBool(out)
}

func ruleActivation(features domain.FeatureVector) map[string]any {
	fm := make(map[string]float64, len(features))
	for k, v := range features {
		fm[k] = v
	}
	return map[string]any{
		"features":          fm,
		"amount":            features[domain.FeatureAmount],
		"sanctions_country": features[domain.FeatureSanctionsCountry],
		"structuring_score": features[domain.FeatureStructuringScore],
		"pep_exposure":      features[domain.FeaturePEPExposure],
		"account_age_score": features[domain.FeatureAccountAgeScore],
		"kyc_gap_score":     features[domain.FeatureKYCGapScore],
	}
}

func toBool(val ref.Val) bool {
	if b, ok := val.(types.Bool); ok {
		return bool(b)
	}
	return false
}
