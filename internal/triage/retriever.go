package triage

import (
	"context"

	"github.com/linnemanlabs/go-core/log"
)

// Embedder turns text into a fixed-length embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Searcher queries the vector memory index for a tenant.
type Searcher interface {
	SearchMemory(ctx context.Context, tenantID string, queryEmbedding []float64, topK int) ([]SimilarIncident, error)
}

// Retriever finds past incidents semantically similar to a ticket.
// Retrieval is best-effort: any failure degrades to an empty result so
// triage never depends on the memory path being up.
type Retriever struct {
	embedder  Embedder
	searcher  Searcher
	threshold float64
	topK      int
	logger    log.Logger
}

// NewRetriever creates a retriever that keeps hits with similarity
// strictly above threshold, up to topK results per query.
func NewRetriever(embedder Embedder, searcher Searcher, threshold float64, topK int, logger log.Logger) *Retriever {
	if logger == nil {
		logger = log.Nop()
	}
	return &Retriever{
		embedder:  embedder,
		searcher:  searcher,
		threshold: threshold,
		topK:      topK,
		logger:    logger,
	}
}

// Retrieve embeds the ticket's title+description and searches the tenant's
// memory, preserving the store's ranking order. Returns nil on any failure.
func (r *Retriever) Retrieve(ctx context.Context, tenantID, title, description string) []SimilarIncident {
	if r.embedder == nil || r.searcher == nil {
		return nil
	}

	query := title + " " + description

	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.logger.Warn(ctx, "memory search skipped: embedding failed", "error", err)
		return nil
	}

	hits, err := r.searcher.SearchMemory(ctx, tenantID, embedding, r.topK)
	if err != nil {
		r.logger.Warn(ctx, "memory search failed", "error", err)
		return nil
	}

	var kept []SimilarIncident
	for _, hit := range hits {
		if hit.Similarity > r.threshold {
			kept = append(kept, hit)
		}
	}
	return kept
}
