package triage

// Category is the triage classification of a ticket.
type Category string

const (
	CategoryEmergency Category = "emergency"
	CategoryUrgent    Category = "urgent"
	CategoryRoutine   Category = "routine"
	CategoryCosmetic  Category = "cosmetic"
	CategoryInquiry   Category = "inquiry"
)

// ParseCategory maps a raw category string onto one of the five known
// categories. Anything unrecognized (including empty) becomes routine.
func ParseCategory(s string) Category {
	switch Category(s) {
	case CategoryEmergency, CategoryUrgent, CategoryRoutine, CategoryCosmetic, CategoryInquiry:
		return Category(s)
	default:
		return CategoryRoutine
	}
}

// Source records which classifier produced a result.
type Source string

const (
	SourceModel     Source = "model"
	SourceHeuristic Source = "heuristic"
)

// SimilarIncident is one retrieved past incident, as returned by the
// memory store's vector search.
type SimilarIncident struct {
	Content    string         `json:"content"`
	Similarity float64        `json:"similarity"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Result is the outcome of triaging one ticket. Priority and Confidence
// are always in range; Category is always one of the five known values.
type Result struct {
	Category         Category          `json:"category"`
	Priority         int               `json:"priority"`
	Confidence       float64           `json:"confidence"`
	Reasoning        string            `json:"reasoning"`
	Source           Source            `json:"source"`
	SimilarIncidents []SimilarIncident `json:"similar_incidents,omitempty"`
}

// clampPriority bounds a priority into [1, 5].
func clampPriority(p int) int {
	if p < 1 {
		return 1
	}
	if p > 5 {
		return 5
	}
	return p
}

// clampConfidence bounds a confidence into [0, 1].
func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
