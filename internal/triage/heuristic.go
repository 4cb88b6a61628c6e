package triage

import "strings"

// heuristicRule is one keyword group. Rules are checked in order; the
// first group with any keyword present in the combined ticket text wins.
type heuristicRule struct {
	keywords   []string
	category   Category
	priority   int
	confidence float64
	reasoning  string
}

// Keyword groups in fixed priority order. The categories, priorities, and
// confidence values here are part of the observable contract.
var heuristicRules = []heuristicRule{
	{
		keywords:   []string{"fire", "flood", "gas leak", "burst", "emergency", "smoke", "burning"},
		category:   CategoryEmergency,
		priority:   5,
		confidence: 0.85,
		reasoning:  "Contains emergency keywords",
	},
	{
		keywords:   []string{"broken", "leak", "electrical", "urgent"},
		category:   CategoryUrgent,
		priority:   4,
		confidence: 0.75,
		reasoning:  "Contains urgent maintenance keywords",
	},
	{
		keywords:   []string{"question", "wondering", "how do i"},
		category:   CategoryInquiry,
		priority:   1,
		confidence: 0.70,
		reasoning:  "Appears to be an inquiry",
	},
}

// Heuristic classifies a ticket by keyword matching alone. It is pure and
// total: identical input always yields an identical result, and there is
// no failure path. Used whenever no model is configured or the model call
// fails.
func Heuristic(title, description, transcript string) *Result {
	combined := strings.ToLower(title + " " + description + " " + transcript)

	for _, rule := range heuristicRules {
		for _, kw := range rule.keywords {
			if strings.Contains(combined, kw) {
				return &Result{
					Category:   rule.category,
					Priority:   rule.priority,
					Confidence: rule.confidence,
					Reasoning:  rule.reasoning,
					Source:     SourceHeuristic,
				}
			}
		}
	}

	return &Result{
		Category:   CategoryRoutine,
		Priority:   3,
		Confidence: 0.60,
		Reasoning:  "Standard maintenance request",
		Source:     SourceHeuristic,
	}
}
