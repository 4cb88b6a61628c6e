package triage

import (
	"context"
	"errors"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/steward/internal/ticket"
)

// EngineHooks are optional callbacks the Engine invokes for
// instrumentation. Nil fields are skipped.
type EngineHooks struct {
	OnRetrieval func(hits int)
	OnLLMCall   func(duration float64, failed bool)
	OnComplete  func(source Source, category Category, duration float64)
}

// Engine orchestrates similarity retrieval, model classification, and the
// heuristic fallback into a single triage operation.
type Engine struct {
	retriever *Retriever
	model     *ModelClassifier // nil when no model is configured
	logger    log.Logger
	hooks     EngineHooks
}

// NewEngine creates a triage engine. A nil model means every ticket goes
// through the heuristic classifier.
func NewEngine(retriever *Retriever, model *ModelClassifier, logger log.Logger, hooks EngineHooks) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	return &Engine{
		retriever: retriever,
		model:     model,
		logger:    logger,
		hooks:     hooks,
	}
}

// Triage classifies a ticket. It is total: the heuristic fallback
// guarantees a result even when the model is unreachable or returns
// garbage, so triage availability never depends on the model's.
func (e *Engine) Triage(ctx context.Context, tenantID string, tkt *ticket.Context) *Result {
	start := time.Now()
	transcript := tkt.Transcript()

	var similar []SimilarIncident
	if e.retriever != nil {
		similar = e.retriever.Retrieve(ctx, tenantID, tkt.Title, tkt.Description)
	}
	if e.hooks.OnRetrieval != nil {
		e.hooks.OnRetrieval(len(similar))
	}
	if len(similar) > 0 {
		e.logger.Info(ctx, "found similar past incidents", "count", len(similar))
	}

	result := e.classify(ctx, tkt.Title, tkt.Description, transcript, similar)
	result.SimilarIncidents = similar

	if e.hooks.OnComplete != nil {
		e.hooks.OnComplete(result.Source, result.Category, time.Since(start).Seconds())
	}
	return result
}

func (e *Engine) classify(ctx context.Context, title, description, transcript string, similar []SimilarIncident) *Result {
	if e.model == nil {
		return Heuristic(title, description, transcript)
	}

	llmStart := time.Now()
	result, err := e.model.Classify(ctx, title, description, transcript, similar)
	if e.hooks.OnLLMCall != nil {
		e.hooks.OnLLMCall(time.Since(llmStart).Seconds(), err != nil)
	}
	if err != nil {
		switch {
		case errors.Is(err, ErrBadModelResponse):
			e.logger.Warn(ctx, "model response unparseable, falling back to heuristics", "error", err)
		default:
			e.logger.Warn(ctx, "model call failed, falling back to heuristics", "error", err)
		}
		return Heuristic(title, description, transcript)
	}
	return result
}
