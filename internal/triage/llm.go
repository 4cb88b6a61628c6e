package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	// ErrModelUnavailable marks a failure to reach the generative model.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrBadModelResponse marks a model response that could not be parsed
	// into a classification.
	ErrBadModelResponse = errors.New("invalid model response")
)

// Provider is the interface for any generative-model backend.
type Provider interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// excerptLen bounds the content excerpt included per similar incident.
const excerptLen = 200

const promptTemplate = `You are a property maintenance triage AI. Analyze the following maintenance ticket and classify it.

TICKET DETAILS:
Title: %s
Description: %s

MESSAGES:
%s

%s

Respond with a JSON object containing:
- category: One of "emergency", "urgent", "routine", "cosmetic", "inquiry"
- priority: Integer 1-5 (5 = highest, life safety or major property damage)
- confidence: Float 0.0-1.0 indicating how confident you are
- reasoning: Brief explanation of your classification (include reference to similar tickets if relevant)

CLASSIFICATION GUIDELINES:
- Emergency (priority 5): Fire, flooding, gas leak, no heat in winter, security breach
- Urgent (priority 4): Major appliance failure, significant water leak, electrical issues
- Routine (priority 3): Standard repairs, minor appliance issues
- Cosmetic (priority 2): Paint, minor scratches, aesthetic improvements
- Inquiry (priority 1): Questions about property, lease, or general information

Respond ONLY with valid JSON, no markdown.`

const similarSectionTemplate = `SIMILAR PAST INCIDENTS:
%s

Use these past resolutions to inform your classification. If a past incident is highly similar, reference it in your reasoning.`

// ModelClassifier classifies tickets through a generative model, grounding
// the prompt in retrieved similar incidents when available.
type ModelClassifier struct {
	provider Provider
}

// NewModelClassifier creates a classifier backed by the given provider.
func NewModelClassifier(provider Provider) *ModelClassifier {
	return &ModelClassifier{provider: provider}
}

// Classify builds the triage prompt, invokes the model, and parses its
// response into a normalized Result. It never returns a partial result:
// transport failures surface as ErrModelUnavailable and unparseable
// responses as ErrBadModelResponse.
func (m *ModelClassifier) Classify(ctx context.Context, title, description, transcript string, similar []SimilarIncident) (*Result, error) {
	prompt := buildPrompt(title, description, transcript, similar)

	raw, err := m.provider.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	return parseVerdict(raw)
}

func buildPrompt(title, description, transcript string, similar []SimilarIncident) string {
	if transcript == "" {
		transcript = "(no messages)"
	}

	var similarSection string
	if len(similar) > 0 {
		lines := make([]string, 0, len(similar))
		for _, inc := range similar {
			lines = append(lines, fmt.Sprintf("- [Similarity: %.0f%%] %s...",
				inc.Similarity*100, excerpt(inc.Content, excerptLen)))
		}
		similarSection = fmt.Sprintf(similarSectionTemplate, strings.Join(lines, "\n"))
	}

	return fmt.Sprintf(promptTemplate, title, description, transcript, similarSection)
}

// excerpt truncates s to at most n bytes without splitting a rune.
func excerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// modelVerdict is the JSON shape expected from the model. Priority and
// confidence are pointers so an absent field is distinguishable from a
// present zero.
type modelVerdict struct {
	Category   string   `json:"category"`
	Priority   *int     `json:"priority"`
	Confidence *float64 `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
}

// Defaults applied when the model omits a verdict field entirely.
const (
	defaultPriority   = 3
	defaultConfidence = 0.7
)

// parseVerdict strips Markdown code fences if present, decodes the verdict,
// and clamps priority/confidence into range. Missing fields default rather
// than failing.
func parseVerdict(raw string) (*Result, error) {
	text := stripFences(raw)

	var v modelVerdict
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadModelResponse, err)
	}

	priority := defaultPriority
	if v.Priority != nil {
		priority = *v.Priority
	}
	confidence := defaultConfidence
	if v.Confidence != nil {
		confidence = *v.Confidence
	}
	reasoning := v.Reasoning
	if reasoning == "" {
		reasoning = "LLM classification"
	}

	return &Result{
		Category:   ParseCategory(v.Category),
		Priority:   clampPriority(priority),
		Confidence: clampConfidence(confidence),
		Reasoning:  reasoning,
		Source:     SourceModel,
	}, nil
}

// stripFences removes a Markdown code-fence wrapper around the payload, if
// any, and trims surrounding whitespace.
func stripFences(s string) string {
	if idx := strings.Index(s, "```json"); idx >= 0 {
		s = s[idx+len("```json"):]
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
	} else if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+len("```"):]
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
	}
	return strings.TrimSpace(s)
}
