// Package dispatch runs the worker's consume loop: one event at a time
// through the claim, context-fetch, and process gates, reporting exactly
// one outcome per event.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/steward/internal/bus"
	"github.com/linnemanlabs/steward/internal/ctxstore"
	"github.com/linnemanlabs/steward/internal/memory"
	"github.com/linnemanlabs/steward/internal/ticket"
	"github.com/linnemanlabs/steward/internal/triage"
)

// Consumer identities for the idempotency claim. The triage and memory
// paths claim independently so one event is processed exactly once per
// path, not once overall.
const (
	ConsumerTriage = "ai-worker"
	ConsumerMemory = "ai-worker-memory"
)

// proposalStatus is the ticket status a triage proposal would apply.
const proposalStatus = "TRIAGED"

// Stage is a gate in the per-event state machine.
type Stage string

const (
	StageReceived       Stage = "received"
	StageClaimed        Stage = "claimed"
	StageContextFetched Stage = "context_fetched"
	StageProcessed      Stage = "processed"
)

// Outcome is the single reported result of one event's processing.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Record is the reported outcome of one event, kept in the outcome history
// and served by the outcomes API.
type Record struct {
	ID            string  `json:"id"`
	Topic         string  `json:"topic"`
	EventID       string  `json:"event_id,omitempty"`
	TenantID      string  `json:"tenant_id,omitempty"`
	TicketID      string  `json:"ticket_id,omitempty"`
	CorrelationID string  `json:"correlation_id,omitempty"`
	Outcome       Outcome `json:"outcome"`
	Stage         Stage   `json:"stage"`
	Detail        string  `json:"detail,omitempty"`

	// triage path
	Category     triage.Category `json:"category,omitempty"`
	Priority     int             `json:"priority,omitempty"`
	Confidence   float64         `json:"confidence,omitempty"`
	AutoExecuted bool            `json:"auto_executed,omitempty"`

	// memory path
	MemoryOutcome memory.Outcome `json:"memory_outcome,omitempty"`

	At       time.Time `json:"at"`
	Duration float64   `json:"duration_seconds"`
}

// Store is the slice of context-store operations the dispatcher needs.
type Store interface {
	ClaimEvent(ctx context.Context, tenantID, eventID, consumerName string) (bool, error)
	GetTicketContext(ctx context.Context, tenantID, ticketID string) (*ticket.Context, error)
	CreateActionProposals(ctx context.Context, tenantID, ticketID, correlationID string, proposals []ctxstore.Proposal) ([]ctxstore.ProposalResult, error)
}

// Engine triages created tickets.
type Engine interface {
	Triage(ctx context.Context, tenantID string, tkt *ticket.Context) *triage.Result
}

// Writer persists memories for resolved tickets.
type Writer interface {
	Write(ctx context.Context, ev *ticket.Event, tkt *ticket.Context) (memory.Outcome, error)
}

// Notifier is told about noteworthy outcomes (emergencies, failures).
type Notifier interface {
	Notify(ctx context.Context, rec *Record) error
}

// Dispatcher consumes events and drives them through the state machine.
type Dispatcher struct {
	consumer bus.Consumer
	store    Store
	engine   Engine
	writer   Writer
	history  *History
	metrics  *Metrics
	notifier Notifier
	logger   log.Logger
	tracer   trace.Tracer

	steps []step
}

// New creates a dispatcher. History, metrics, and notifier are optional.
func New(consumer bus.Consumer, store Store, engine Engine, writer Writer, history *History, metrics *Metrics, notifier Notifier, logger log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Nop()
	}
	d := &Dispatcher{
		consumer: consumer,
		store:    store,
		engine:   engine,
		writer:   writer,
		history:  history,
		metrics:  metrics,
		notifier: notifier,
		logger:   logger,
		tracer:   otel.Tracer("steward/dispatch"),
	}
	d.steps = []step{
		{StageReceived, d.parse},
		{StageClaimed, d.claim},
		{StageContextFetched, d.fetchContext},
		{StageProcessed, d.process},
	}
	return d
}

// Run fetches and handles events until ctx is done or the broker fails
// fatally. Per-event failures never terminate the loop.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info(ctx, "starting consume loop")

	for {
		del, err := d.consumer.Fetch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) {
				d.logger.Info(context.Background(), "consume loop stopped")
				return nil
			}
			return fmt.Errorf("bus fetch: %w", err)
		}

		rec := d.Handle(ctx, del)
		d.report(ctx, rec)

		if err := d.consumer.Commit(ctx, del); err != nil {
			d.logger.Error(ctx, err, "commit failed",
				"topic", del.Topic, "event_id", rec.EventID)
		}
	}
}

// stepStatus is the per-stage transition result.
type stepStatus int

const (
	stepOK stepStatus = iota
	stepSkip
	stepFail
)

type step struct {
	stage Stage
	run   func(ctx context.Context, st *procState) (stepStatus, string)
}

// procState is the transient per-event processing state. Nothing in it
// survives past the event's final transition.
type procState struct {
	del *bus.Delivery
	ev  *ticket.Event
	tkt *ticket.Context
	rec *Record
}

// Handle drives one delivery through the state machine and returns its
// outcome record. It never panics out or returns an error: every failure
// becomes a FAILED record for this event only.
func (d *Dispatcher) Handle(ctx context.Context, del *bus.Delivery) *Record {
	ctx, span := d.tracer.Start(ctx, "event.process",
		trace.WithAttributes(attribute.String("steward.topic", del.Topic)))
	defer span.End()

	start := time.Now()
	st := &procState{
		del: del,
		rec: &Record{
			ID:      ulid.Make().String(),
			Topic:   del.Topic,
			Outcome: OutcomeProcessed,
			At:      start,
		},
	}

	for _, s := range d.steps {
		status, detail := s.run(ctx, st)
		st.rec.Stage = s.stage
		if detail != "" {
			st.rec.Detail = detail
		}
		if status == stepSkip {
			st.rec.Outcome = OutcomeSkipped
			break
		}
		if status == stepFail {
			st.rec.Outcome = OutcomeFailed
			break
		}
	}

	st.rec.Duration = time.Since(start).Seconds()
	span.SetAttributes(
		attribute.String("steward.event_id", st.rec.EventID),
		attribute.String("steward.outcome", string(st.rec.Outcome)),
	)
	return st.rec
}

func (d *Dispatcher) parse(_ context.Context, st *procState) (stepStatus, string) {
	ev, err := ticket.ParseEvent(st.del.Topic, st.del.Value)
	if err != nil {
		return stepFail, fmt.Sprintf("parse event: %v", err)
	}
	st.ev = ev
	st.rec.EventID = ev.EventID
	st.rec.TenantID = ev.TenantID
	st.rec.TicketID = ev.TicketID
	st.rec.CorrelationID = ev.CorrelationID
	return stepOK, ""
}

func (d *Dispatcher) claim(ctx context.Context, st *procState) (stepStatus, string) {
	consumer := ConsumerTriage
	if st.ev.Topic == ticket.TopicResolved {
		consumer = ConsumerMemory
	}

	claimed, err := d.store.ClaimEvent(ctx, st.ev.TenantID, st.ev.EventID, consumer)
	if err != nil {
		return stepFail, fmt.Sprintf("claim event: %v", err)
	}
	if !claimed {
		return stepSkip, "already processed by " + consumer
	}
	return stepOK, ""
}

func (d *Dispatcher) fetchContext(ctx context.Context, st *procState) (stepStatus, string) {
	tkt, err := d.store.GetTicketContext(ctx, st.ev.TenantID, st.ev.TicketID)
	if err != nil {
		return stepFail, fmt.Sprintf("get ticket context: %v", err)
	}
	st.tkt = tkt
	return stepOK, ""
}

func (d *Dispatcher) process(ctx context.Context, st *procState) (stepStatus, string) {
	switch st.ev.Topic {
	case ticket.TopicCreated:
		return d.processCreated(ctx, st)
	case ticket.TopicResolved:
		return d.processResolved(ctx, st)
	default:
		// unreachable: parse rejects unknown topics
		return stepFail, "unknown topic " + string(st.ev.Topic)
	}
}

func (d *Dispatcher) processCreated(ctx context.Context, st *procState) (stepStatus, string) {
	result := d.engine.Triage(ctx, st.ev.TenantID, st.tkt)
	st.rec.Category = result.Category
	st.rec.Priority = result.Priority
	st.rec.Confidence = result.Confidence

	proposals, err := d.store.CreateActionProposals(ctx,
		st.ev.TenantID, st.ev.TicketID, st.ev.CorrelationID,
		[]ctxstore.Proposal{{
			ActionType: "APPLY_TRIAGE",
			Confidence: result.Confidence,
			Reasoning:  result.Reasoning,
			Payload: ctxstore.ProposalPayload{
				Status:   proposalStatus,
				Priority: result.Priority,
				Category: string(result.Category),
			},
		}})
	if err != nil {
		return stepFail, fmt.Sprintf("create proposal: %v", err)
	}
	if len(proposals) == 0 {
		return stepFail, "store returned no proposals"
	}

	st.rec.AutoExecuted = proposals[0].AutoExecuted
	if proposals[0].AutoExecuted {
		return stepOK, "triage auto-executed"
	}
	return stepOK, "proposal queued for review"
}

func (d *Dispatcher) processResolved(ctx context.Context, st *procState) (stepStatus, string) {
	outcome, err := d.writer.Write(ctx, st.ev, st.tkt)
	st.rec.MemoryOutcome = outcome
	if err != nil {
		return stepFail, fmt.Sprintf("write memory: %v", err)
	}
	if outcome == memory.OutcomeSkipped {
		return stepOK, "memory already stored"
	}
	return stepOK, "memory stored"
}

// report logs the outcome once with the event identity, records it in the
// history, updates metrics, and notifies on noteworthy outcomes.
func (d *Dispatcher) report(ctx context.Context, rec *Record) {
	L := d.logger.With(
		"topic", rec.Topic,
		"event_id", rec.EventID,
		"tenant_id", rec.TenantID,
		"ticket_id", rec.TicketID,
	)

	switch rec.Outcome {
	case OutcomeProcessed:
		L.Info(ctx, "event processed",
			"stage", rec.Stage,
			"detail", rec.Detail,
			"category", rec.Category,
			"priority", rec.Priority,
			"duration", rec.Duration,
		)
	case OutcomeSkipped:
		L.Info(ctx, "event skipped", "detail", rec.Detail)
	case OutcomeFailed:
		L.Warn(ctx, "event failed", "stage", rec.Stage, "detail", rec.Detail)
	}

	if d.history != nil {
		d.history.Add(rec)
	}
	if d.metrics != nil {
		d.metrics.Observe(rec)
	}

	if d.notifier != nil && (rec.Outcome == OutcomeFailed || rec.Category == triage.CategoryEmergency) {
		if err := d.notifier.Notify(ctx, rec); err != nil {
			L.Warn(ctx, "notify failed", "error", err)
		}
	}
}
