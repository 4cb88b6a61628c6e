// Package ctxstore is the HTTP client for the context store, the remote
// tool-execution service that owns ticket data, idempotency claims, action
// proposals, and the vector memory index. The worker persists nothing of
// its own; every durable datum goes through this client.
package ctxstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/steward/internal/ticket"
)

const httpTimeout = 30 * time.Second

// ErrStore marks an application-level error reported by the context store,
// as opposed to a transport failure reaching it.
var ErrStore = errors.New("context store error")

// Client calls the context store's tool endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a context-store client for the given base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   httpTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Health checks the store's health endpoint. Used at startup to refuse to
// enter the consume loop against an unreachable store.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

// ClaimEvent attempts the idempotency claim for (tenantID, eventID) under
// the given consumer name. A false return means the event was already
// processed by that consumer.
func (c *Client) ClaimEvent(ctx context.Context, tenantID, eventID, consumerName string) (bool, error) {
	var out struct {
		Claimed bool `json:"claimed"`
	}
	err := c.callTool(ctx, "claim_event", map[string]any{
		"tenant_id":     tenantID,
		"event_id":      eventID,
		"consumer_name": consumerName,
	}, &out)
	if err != nil {
		return false, err
	}
	return out.Claimed, nil
}

// GetTicketContext fetches the current ticket state. An error field in the
// store's response is surfaced as ErrStore.
func (c *Client) GetTicketContext(ctx context.Context, tenantID, ticketID string) (*ticket.Context, error) {
	var out struct {
		ticket.Context
		Error string `json:"error"`
	}
	err := c.callTool(ctx, "get_ticket_context", map[string]any{
		"tenant_id": tenantID,
		"ticket_id": ticketID,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.Error != "" {
		return nil, fmt.Errorf("%w: get_ticket_context: %s", ErrStore, out.Error)
	}
	return &out.Context, nil
}

// Proposal is a single action proposal submitted to the store. The store
// decides whether confidence is high enough for auto-execution.
type Proposal struct {
	ActionType string          `json:"action_type"`
	Confidence float64         `json:"confidence"`
	Reasoning  string          `json:"reasoning"`
	Payload    ProposalPayload `json:"payload"`
}

// ProposalPayload is the ticket mutation a triage proposal would apply.
type ProposalPayload struct {
	Status   string `json:"status"`
	Priority int    `json:"priority"`
	Category string `json:"category"`
}

// ProposalResult reports the store's decision for one submitted proposal.
type ProposalResult struct {
	ID           string `json:"id,omitempty"`
	AutoExecuted bool   `json:"autoExecuted"`
}

// CreateActionProposals submits proposals for a ticket and returns the
// store's per-proposal decisions.
func (c *Client) CreateActionProposals(ctx context.Context, tenantID, ticketID, correlationID string, proposals []Proposal) ([]ProposalResult, error) {
	var out struct {
		Proposals []ProposalResult `json:"proposals"`
		Error     string           `json:"error"`
	}
	err := c.callTool(ctx, "create_action_proposals", map[string]any{
		"tenant_id":      tenantID,
		"ticket_id":      ticketID,
		"correlation_id": correlationID,
		"proposals":      proposals,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.Error != "" {
		return nil, fmt.Errorf("%w: create_action_proposals: %s", ErrStore, out.Error)
	}
	return out.Proposals, nil
}

// MemoryDocument is an embedded record of a resolved ticket persisted for
// future retrieval. The store deduplicates by SourceEventID.
type MemoryDocument struct {
	TenantID      string
	SourceEventID string
	TicketID      string
	Content       string
	Embedding     []float64
	Metadata      map[string]any
}

// StoreMemoryResult reports the outcome of a store_memory call. Skipped
// means a document with the same source event already exists.
type StoreMemoryResult struct {
	ID      string
	Skipped bool
}

// StoreMemory persists a memory document.
func (c *Client) StoreMemory(ctx context.Context, doc *MemoryDocument) (StoreMemoryResult, error) {
	var out struct {
		Success bool   `json:"success"`
		Skipped bool   `json:"skipped"`
		ID      string `json:"id"`
		Error   string `json:"error"`
	}
	err := c.callTool(ctx, "store_memory", map[string]any{
		"tenant_id":       doc.TenantID,
		"source_event_id": doc.SourceEventID,
		"ticket_id":       doc.TicketID,
		"content":         doc.Content,
		"embedding":       doc.Embedding,
		"metadata":        doc.Metadata,
	}, &out)
	if err != nil {
		return StoreMemoryResult{}, err
	}
	if out.Error != "" {
		return StoreMemoryResult{}, fmt.Errorf("%w: store_memory: %s", ErrStore, out.Error)
	}
	if out.Skipped {
		return StoreMemoryResult{Skipped: true}, nil
	}
	if !out.Success {
		return StoreMemoryResult{}, fmt.Errorf("%w: store_memory reported failure", ErrStore)
	}
	return StoreMemoryResult{ID: out.ID}, nil
}

// SearchResult is one vector-search hit, in the store's own ranking order.
type SearchResult struct {
	Content    string         `json:"content"`
	Similarity float64        `json:"similarity"`
	Metadata   map[string]any `json:"metadata"`
}

// SearchMemory queries the vector memory index for the tenant.
func (c *Client) SearchMemory(ctx context.Context, tenantID string, queryEmbedding []float64, topK int) ([]SearchResult, error) {
	var out struct {
		Results []SearchResult `json:"results"`
		Error   string         `json:"error"`
	}
	err := c.callTool(ctx, "search_memory", map[string]any{
		"tenant_id":       tenantID,
		"query_embedding": queryEmbedding,
		"top_k":           topK,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.Error != "" {
		return nil, fmt.Errorf("%w: search_memory: %s", ErrStore, out.Error)
	}
	return out.Results, nil
}

// callTool posts arguments to a tool endpoint and decodes the response.
func (c *Client) callTool(ctx context.Context, name string, args map[string]any, out any) error {
	body, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal %s args: %w", name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/tools/"+name, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", name, err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d: %s", name, resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal %s response: %w", name, err)
	}
	return nil
}
