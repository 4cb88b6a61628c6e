// Package memory turns resolved tickets into durable memory documents in
// the context store's vector index.
package memory

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/steward/internal/ctxstore"
	"github.com/linnemanlabs/steward/internal/ticket"
)

const (
	// transcript portion of the memory content is bounded so one chatty
	// ticket cannot dominate the embedding
	maxTranscriptLen = 500

	// resolution notes stored in metadata are bounded separately
	maxNotesMetaLen = 200
)

// Outcome reports what happened to a memory write.
type Outcome string

const (
	OutcomeStored  Outcome = "stored"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Embedder turns text into a fixed-length embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Store persists memory documents, deduplicating by source event.
type Store interface {
	StoreMemory(ctx context.Context, doc *ctxstore.MemoryDocument) (ctxstore.StoreMemoryResult, error)
}

// Writer composes, embeds, and persists memory documents for resolved
// tickets.
type Writer struct {
	embedder Embedder
	store    Store
	logger   log.Logger
}

// NewWriter creates a memory writer.
func NewWriter(embedder Embedder, store Store, logger log.Logger) *Writer {
	if logger == nil {
		logger = log.Nop()
	}
	return &Writer{
		embedder: embedder,
		store:    store,
		logger:   logger,
	}
}

// Write builds the canonical memory content for a resolved ticket, embeds
// it, and persists it keyed by the source event ID. A store-side skip
// (document already present) is success, not an error.
func (w *Writer) Write(ctx context.Context, ev *ticket.Event, tkt *ticket.Context) (Outcome, error) {
	if w.embedder == nil {
		return OutcomeFailed, fmt.Errorf("no embedder configured")
	}

	var res ticket.Resolution
	if ev.Resolution != nil {
		res = *ev.Resolution
	}

	content := buildContent(tkt, &res)

	embedding, err := w.embedder.Embed(ctx, content)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("embed memory content: %w", err)
	}

	result, err := w.store.StoreMemory(ctx, &ctxstore.MemoryDocument{
		TenantID:      ev.TenantID,
		SourceEventID: ev.EventID,
		TicketID:      ev.TicketID,
		Content:       content,
		Embedding:     embedding,
		Metadata: map[string]any{
			"ticketTitle":     tkt.Title,
			"vendorName":      res.VendorName,
			"resolutionNotes": truncate(res.Notes, maxNotesMetaLen),
			"correlationId":   ev.CorrelationID,
		},
	})
	if err != nil {
		return OutcomeFailed, fmt.Errorf("store memory: %w", err)
	}

	if result.Skipped {
		w.logger.Info(ctx, "memory already stored, skipping", "event_id", ev.EventID)
		return OutcomeSkipped, nil
	}

	w.logger.Info(ctx, "memory stored", "event_id", ev.EventID, "memory_id", result.ID)
	return OutcomeStored, nil
}

// buildContent renders the fixed memory document template.
func buildContent(tkt *ticket.Context, res *ticket.Resolution) string {
	return fmt.Sprintf(`Ticket: %s
Description: %s
Messages: %s
Resolution: %s
Vendor: %s`,
		tkt.Title,
		tkt.Description,
		truncate(tkt.Transcript(), maxTranscriptLen),
		res.Notes,
		res.VendorName,
	)
}

// truncate bounds s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
