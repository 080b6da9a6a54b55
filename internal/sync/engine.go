package sync

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/flowdesk-io/flowdesk/internal/clients"
	"github.com/flowdesk-io/flowdesk/internal/database"
	"github.com/flowdesk-io/flowdesk/internal/mailbox"
	"github.com/flowdesk-io/flowdesk/internal/metrics"
	"github.com/flowdesk-io/flowdesk/internal/models"
)

// MessageStore is what the engine needs from the message repository.
type MessageStore interface {
	UpsertBatch(ctx context.Context, workspaceID string, msgs []*models.Message) []*models.Message
	LinkToTicket(ctx context.Context, workspaceID, messageID, jobID string) error
}

// TicketStore is what the engine needs from the ticket repository. Insert
// must surface storage uniqueness violations unchanged; tolerating them
// is the engine's job.
type TicketStore interface {
	Insert(ctx context.Context, t *models.Ticket) error
}

// Allocator hands out job identifiers.
type Allocator interface {
	Next(ctx context.Context, prefix string) (string, error)
}

// Resolver maps sender addresses to client resolutions in one batch.
type Resolver interface {
	ResolveBatch(ctx context.Context, addresses []string) map[string]clients.Resolution
}

// Report summarizes one sync pass. Duplicate skips are not failures;
// they mean a prior or concurrent pass already filed the message.
type Report struct {
	EmailsFetched     int `json:"emailsFetched"`
	TicketsCreated    int `json:"ticketsCreated"`
	DuplicatesSkipped int `json:"duplicatesSkipped"`
}

// Engine orchestrates poll, upsert, client resolution, job-id allocation,
// and constraint-tolerant ticket insertion for one workspace at a time.
type Engine struct {
	account  mailbox.Account
	poller   mailbox.Poller
	messages MessageStore
	tickets  TicketStore
	resolver Resolver
	alloc    Allocator
	lock     Locker
	logger   *log.Logger
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine wires the pipeline together.
func NewEngine(account mailbox.Account, poller mailbox.Poller, messages MessageStore,
	tickets TicketStore, resolver Resolver, alloc Allocator, lock Locker, opts ...EngineOption) *Engine {
	e := &Engine{
		account:  account,
		poller:   poller,
		messages: messages,
		tickets:  tickets,
		resolver: resolver,
		alloc:    alloc,
		lock:     lock,
		logger:   log.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Sync runs one pass for the workspace. A pass rejected by the lock
// returns ErrSyncBusy or ErrSyncCooldown with zero effect. A mailbox
// failure aborts the pass before any store mutation and releases the
// lock without starting the cooldown, so the caller can retry at once.
func (e *Engine) Sync(ctx context.Context, workspaceID string) (*Report, error) {
	if err := e.lock.Acquire(ctx, workspaceID); err != nil {
		metrics.SyncPasses.WithLabelValues("busy").Inc()
		return nil, err
	}

	msgs, err := e.poller.Poll(ctx, e.account)
	if err != nil {
		e.lock.Release(ctx, workspaceID, false)
		metrics.SyncPasses.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("sync: poll: %w", err)
	}

	report := &Report{EmailsFetched: len(msgs)}
	metrics.EmailsFetched.Add(float64(len(msgs)))

	stored := e.messages.UpsertBatch(ctx, workspaceID, msgs)
	e.synthesize(ctx, workspaceID, stored, report)

	e.lock.Release(ctx, workspaceID, true)
	metrics.SyncPasses.WithLabelValues("ok").Inc()
	e.logger.Printf("sync: workspace %s fetched=%d created=%d duplicates=%d",
		workspaceID, report.EmailsFetched, report.TicketsCreated, report.DuplicatesSkipped)
	return report, nil
}

func (e *Engine) synthesize(ctx context.Context, workspaceID string, stored []*models.Message, report *Report) {
	candidates := make([]*models.Message, 0, len(stored))
	addresses := make([]string, 0, len(stored))
	for _, m := range stored {
		if m.Linked() {
			continue
		}
		candidates = append(candidates, m)
		addresses = append(addresses, m.FromAddress)
	}
	if len(candidates) == 0 {
		return
	}

	resolutions := e.resolver.ResolveBatch(ctx, addresses)

	// Allocation is deliberately a sequential loop: the counter store's
	// atomic increment is the only cross-process safety needed, and two
	// drafts in the same batch must never race each other for a number.
	for _, m := range candidates {
		res := resolutions[strings.ToLower(strings.TrimSpace(m.FromAddress))]
		draft := buildDraft(workspaceID, m, res)

		jobID, err := e.alloc.Next(ctx, res.JobCode)
		if err != nil {
			e.logger.Printf("sync: allocate for %s: %v", m.MessageID, err)
			continue
		}
		draft.JobID = jobID

		if err := e.tickets.Insert(ctx, draft); err != nil {
			if database.IsUniqueViolation(err) {
				report.DuplicatesSkipped++
				metrics.DuplicatesSkipped.Inc()
				continue
			}
			e.logger.Printf("sync: insert ticket %s: %v", jobID, err)
			continue
		}
		report.TicketsCreated++
		metrics.TicketsCreated.Inc()

		if err := e.messages.LinkToTicket(ctx, workspaceID, m.MessageID, jobID); err != nil {
			e.logger.Printf("sync: link %s to %s: %v", m.MessageID, jobID, err)
		}
	}
}

// buildDraft maps a stored message and its client resolution onto a new
// not-assigned ticket. Unknown senders become "new client" tickets with
// the cleaned sender name standing in as consultant.
func buildDraft(workspaceID string, m *models.Message, res clients.Resolution) *models.Ticket {
	t := &models.Ticket{
		WorkspaceID: workspaceID,
		ClientName:  res.DisplayName,
		ClientEmail: strings.ToLower(strings.TrimSpace(m.FromAddress)),
		Subject:     m.Subject,
		Status:      models.StatusNotAssigned,
		MessageID:   m.MessageID,
		ThreadID:    m.ThreadID,
		Messages:    []models.MessageSnapshot{m.Snapshot()},
	}
	if res.Known {
		t.Consultant = res.Consultant
	} else {
		t.NewClient = true
		t.Consultant = clients.CleanSenderName(m.FromName)
	}
	return t
}
