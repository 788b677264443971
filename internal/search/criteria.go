package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/cascadesearch/cascade/internal/search/filter"
	"github.com/cascadesearch/cascade/internal/search/rank"
	apperrors "github.com/cascadesearch/cascade/pkg/errors"
)

// ruleSpec is one parsed entry of the configured criteria chain. Rules are
// stateful, so specs are instantiated fresh for every request.
type ruleSpec struct {
	name  string
	boost filter.Expr
}

// parseCriteria validates the configured criteria names and pre-parses
// boost filter expressions. Order is preserved.
func parseCriteria(names []string) ([]ruleSpec, error) {
	specs := make([]ruleSpec, 0, len(names))
	for _, name := range names {
		trimmed := strings.TrimSpace(name)
		lower := strings.ToLower(trimmed)
		switch {
		case lower == "words" || lower == "typo" || lower == "proximity" ||
			lower == "attribute" || lower == "exactness":
			specs = append(specs, ruleSpec{name: lower})
		case strings.HasPrefix(lower, "boost(") && strings.HasSuffix(trimmed, ")"):
			inner := trimmed[len("boost(") : len(trimmed)-1]
			expr, err := filter.Parse(inner)
			if err != nil {
				return nil, fmt.Errorf("criterion %q: %w", trimmed, err)
			}
			specs = append(specs, ruleSpec{name: "boost", boost: expr})
		default:
			return nil, apperrors.Newf(apperrors.ErrInvalidCriterion, 400,
				"unknown ranking criterion %q", trimmed)
		}
	}
	return specs, nil
}

// parseStrategy maps the request parameter onto a matching strategy. The
// empty string selects the default.
func parseStrategy(s string) (rank.MatchingStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "last":
		return rank.MatchLast, nil
	case "all":
		return rank.MatchAll, nil
	case "frequency":
		return rank.MatchFrequency, nil
	default:
		return 0, apperrors.Newf(apperrors.ErrInvalidInput, 400,
			"unknown matching strategy %q", s)
	}
}

// graphRuleStrategies returns the matching strategy each entry of the chain
// runs with. Word dropping belongs to exactly one rule: the words rule when
// present, otherwise the first graph rule; every other rule gets MatchAll so
// it never prices removal skip edges of its own.
func graphRuleStrategies(specs []ruleSpec, strategy rank.MatchingStrategy) []rank.MatchingStrategy {
	hasWords := false
	for _, spec := range specs {
		if spec.name == "words" {
			hasWords = true
		}
	}
	next := strategy
	if hasWords {
		next = rank.MatchAll
	}
	out := make([]rank.MatchingStrategy, len(specs))
	for i, spec := range specs {
		out[i] = rank.MatchAll
		if spec.name == "words" || spec.name == "boost" {
			continue
		}
		out[i] = next
		next = rank.MatchAll
	}
	return out
}

// buildRules instantiates the rule chain for one request.
func buildRules(specs []ruleSpec, lookup filter.FacetLookup, strategy rank.MatchingStrategy) []rank.RankingRule {
	strategies := graphRuleStrategies(specs, strategy)

	rules := make([]rank.RankingRule, 0, len(specs))
	for i, spec := range specs {
		switch spec.name {
		case "words":
			rules = append(rules, rank.NewWords(strategy))
		case "typo":
			rules = append(rules, rank.NewGraphRule[rank.TypoCondition](rank.TypoCriterion{}, strategies[i]))
		case "proximity":
			rules = append(rules, rank.NewGraphRule[rank.ProximityCondition](rank.ProximityCriterion{}, strategies[i]))
		case "attribute":
			rules = append(rules, rank.NewGraphRule[rank.AttributeCondition](rank.AttributeCriterion{}, strategies[i]))
		case "exactness":
			rules = append(rules, rank.NewGraphRule[rank.ExactnessCondition](rank.ExactnessCriterion{}, strategies[i]))
		case "boost":
			expr := spec.boost
			rules = append(rules, rank.NewBoost(
				"boost("+expr.String()+")",
				func(ctx context.Context) (*roaring.Bitmap, error) {
					return expr.Evaluate(ctx, lookup)
				},
			))
		}
	}
	return rules
}
