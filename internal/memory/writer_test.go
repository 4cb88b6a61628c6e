package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/linnemanlabs/steward/internal/ctxstore"
	"github.com/linnemanlabs/steward/internal/ticket"
)

type fakeEmbedder struct {
	vec  []float64
	err  error
	text string
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	f.text = text
	return f.vec, f.err
}

type fakeStore struct {
	result ctxstore.StoreMemoryResult
	err    error
	doc    *ctxstore.MemoryDocument
}

func (f *fakeStore) StoreMemory(_ context.Context, doc *ctxstore.MemoryDocument) (ctxstore.StoreMemoryResult, error) {
	f.doc = doc
	return f.result, f.err
}

func resolvedEvent() *ticket.Event {
	return &ticket.Event{
		Topic:         ticket.TopicResolved,
		EventID:       "evt-1",
		TenantID:      "tn-1",
		TicketID:      "tk-1",
		CorrelationID: "corr-1",
		Resolution: &ticket.Resolution{
			Notes:      "replaced washer",
			VendorName: "Ace Plumbing",
		},
	}
}

func TestWriter_Stored(t *testing.T) {
	t.Parallel()

	embedder := &fakeEmbedder{vec: []float64{0.1, 0.2}}
	store := &fakeStore{result: ctxstore.StoreMemoryResult{ID: "mem-1"}}
	w := NewWriter(embedder, store, nil)

	tkt := &ticket.Context{
		Title:       "Leak under sink",
		Description: "water pooling",
		Messages:    []ticket.Message{{SenderType: "TENANT", Content: "please help"}},
	}

	outcome, err := w.Write(context.Background(), resolvedEvent(), tkt)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if outcome != OutcomeStored {
		t.Errorf("outcome = %q, want %q", outcome, OutcomeStored)
	}

	doc := store.doc
	if doc.TenantID != "tn-1" || doc.SourceEventID != "evt-1" || doc.TicketID != "tk-1" {
		t.Errorf("doc identity = %+v", doc)
	}
	for _, want := range []string{
		"Ticket: Leak under sink",
		"Description: water pooling",
		"- [TENANT]: please help",
		"Resolution: replaced washer",
		"Vendor: Ace Plumbing",
	} {
		if !strings.Contains(doc.Content, want) {
			t.Errorf("content missing %q", want)
		}
	}
	if embedder.text != doc.Content {
		t.Error("embedded text should be the stored content")
	}
	if doc.Metadata["vendorName"] != "Ace Plumbing" {
		t.Errorf("metadata vendorName = %v", doc.Metadata["vendorName"])
	}
	if doc.Metadata["correlationId"] != "corr-1" {
		t.Errorf("metadata correlationId = %v", doc.Metadata["correlationId"])
	}
}

func TestWriter_SkipIsSuccess(t *testing.T) {
	t.Parallel()

	w := NewWriter(
		&fakeEmbedder{vec: []float64{0.1}},
		&fakeStore{result: ctxstore.StoreMemoryResult{Skipped: true}},
		nil,
	)

	outcome, err := w.Write(context.Background(), resolvedEvent(), &ticket.Context{Title: "t"})
	if err != nil {
		t.Fatalf("Write() error = %v, duplicate must not be an error", err)
	}
	if outcome != OutcomeSkipped {
		t.Errorf("outcome = %q, want %q", outcome, OutcomeSkipped)
	}
}

func TestWriter_EmbedFailure(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	w := NewWriter(&fakeEmbedder{err: errors.New("quota exceeded")}, store, nil)

	outcome, err := w.Write(context.Background(), resolvedEvent(), &ticket.Context{Title: "t"})
	if err == nil {
		t.Fatal("expected error")
	}
	if outcome != OutcomeFailed {
		t.Errorf("outcome = %q, want %q", outcome, OutcomeFailed)
	}
	if store.doc != nil {
		t.Error("nothing should be stored when embedding fails")
	}
}

func TestWriter_StoreFailure(t *testing.T) {
	t.Parallel()

	w := NewWriter(
		&fakeEmbedder{vec: []float64{0.1}},
		&fakeStore{err: errors.New("store down")},
		nil,
	)

	outcome, err := w.Write(context.Background(), resolvedEvent(), &ticket.Context{Title: "t"})
	if err == nil {
		t.Fatal("expected error")
	}
	if outcome != OutcomeFailed {
		t.Errorf("outcome = %q, want %q", outcome, OutcomeFailed)
	}
}

func TestWriter_NoEmbedder(t *testing.T) {
	t.Parallel()

	w := NewWriter(nil, &fakeStore{}, nil)

	outcome, err := w.Write(context.Background(), resolvedEvent(), &ticket.Context{Title: "t"})
	if err == nil {
		t.Fatal("expected error")
	}
	if outcome != OutcomeFailed {
		t.Errorf("outcome = %q, want %q", outcome, OutcomeFailed)
	}
}

func TestWriter_TruncatesLongFields(t *testing.T) {
	t.Parallel()

	store := &fakeStore{result: ctxstore.StoreMemoryResult{ID: "mem-1"}}
	w := NewWriter(&fakeEmbedder{vec: []float64{0.1}}, store, nil)

	ev := resolvedEvent()
	ev.Resolution.Notes = strings.Repeat("n", 400)

	tkt := &ticket.Context{Title: "t"}
	for i := 0; i < 50; i++ {
		tkt.Messages = append(tkt.Messages, ticket.Message{SenderType: "TENANT", Content: strings.Repeat("m", 40)})
	}

	if _, err := w.Write(context.Background(), ev, tkt); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	notes, _ := store.doc.Metadata["resolutionNotes"].(string)
	if len(notes) != 200 {
		t.Errorf("metadata notes length = %d, want 200", len(notes))
	}

	// content template keeps the full notes but bounds the transcript
	if !strings.Contains(store.doc.Content, ev.Resolution.Notes) {
		t.Error("content should carry the full resolution notes")
	}
	transcript := tkt.Transcript()
	if strings.Contains(store.doc.Content, transcript) {
		t.Error("content should not carry the full transcript")
	}
	if !strings.Contains(store.doc.Content, transcript[:500]) {
		t.Error("content should carry the truncated transcript prefix")
	}
}

func TestWriter_TruncationKeepsValidUTF8(t *testing.T) {
	t.Parallel()

	store := &fakeStore{result: ctxstore.StoreMemoryResult{ID: "mem-1"}}
	w := NewWriter(&fakeEmbedder{vec: []float64{0.1}}, store, nil)

	ev := resolvedEvent()
	// 3-byte runes; a byte cut at 200 would land mid-rune.
	ev.Resolution.Notes = strings.Repeat("漏", 100)

	if _, err := w.Write(context.Background(), ev, &ticket.Context{Title: "t"}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	notes, _ := store.doc.Metadata["resolutionNotes"].(string)
	if !utf8.ValidString(notes) {
		t.Fatalf("metadata notes are invalid UTF-8: %q", notes)
	}
	if len(notes) > maxNotesMetaLen {
		t.Errorf("metadata notes length = %d, want <= %d", len(notes), maxNotesMetaLen)
	}
	if notes != strings.Repeat("漏", 66) {
		t.Errorf("notes = %q, want 66 full runes", notes)
	}
}
