package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/flowdesk-io/flowdesk/internal/models"
)

// MemoryTicketRepository is the in-memory twin of TicketRepository. Its
// Insert enforces the same uniqueness rules as the SQL schema and reports
// violations with errors that database.IsUniqueViolation classifies the
// same way, so dedup behavior is identical under test.
type MemoryTicketRepository struct {
	mu      sync.RWMutex
	tickets map[string]*models.Ticket // keyed by workspace + job id
	nextID  int
}

// NewMemoryTicketRepository returns an empty in-memory store.
func NewMemoryTicketRepository() *MemoryTicketRepository {
	return &MemoryTicketRepository{tickets: make(map[string]*models.Ticket)}
}

func ticketKey(workspaceID, jobID string) string {
	return workspaceID + "\x00" + jobID
}

func cloneTicket(t *models.Ticket) *models.Ticket {
	c := *t
	c.TeamLeads = append(models.StringList(nil), t.TeamLeads...)
	c.TeamMembers = append(models.StringList(nil), t.TeamMembers...)
	c.Messages = append([]models.MessageSnapshot(nil), t.Messages...)
	c.MergeHistory = append([]models.MergeEntry(nil), t.MergeHistory...)
	if t.InProcessAt != nil {
		at := *t.InProcessAt
		c.InProcessAt = &at
	}
	return &c
}

// Insert stores a new ticket, rejecting duplicate job ids and duplicate
// (workspace, message id) pairs.
func (r *MemoryTicketRepository) Insert(_ context.Context, t *models.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.tickets {
		if existing.JobID == t.JobID {
			return fmt.Errorf("unique constraint failed: tickets.job_id %s", t.JobID)
		}
		if existing.WorkspaceID == t.WorkspaceID && existing.MessageID == t.MessageID {
			return fmt.Errorf("unique constraint failed: tickets.workspace_id, tickets.message_id %s", t.MessageID)
		}
	}
	r.nextID++
	t.ID = r.nextID
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	r.tickets[ticketKey(t.WorkspaceID, t.JobID)] = cloneTicket(t)
	return nil
}

// GetByJobID returns the ticket or ErrNotFound.
func (r *MemoryTicketRepository) GetByJobID(_ context.Context, workspaceID, jobID string) (*models.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tickets[ticketKey(workspaceID, jobID)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTicket(t), nil
}

// List returns all tickets in a workspace, newest first.
func (r *MemoryTicketRepository) List(_ context.Context, workspaceID string) ([]*models.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Ticket
	for _, t := range r.tickets {
		if t.WorkspaceID == workspaceID {
			out = append(out, cloneTicket(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Update rewrites the mutable fields of an existing ticket.
func (r *MemoryTicketRepository) Update(_ context.Context, _ *sqlx.Tx, t *models.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.tickets[ticketKey(t.WorkspaceID, t.JobID)]
	if !ok {
		return ErrNotFound
	}
	t.UpdatedAt = time.Now().UTC()
	t.ID = existing.ID
	t.MessageID = existing.MessageID
	t.CreatedAt = existing.CreatedAt
	r.tickets[ticketKey(t.WorkspaceID, t.JobID)] = cloneTicket(t)
	return nil
}

// Delete removes a ticket outright.
func (r *MemoryTicketRepository) Delete(_ context.Context, _ *sqlx.Tx, workspaceID, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := ticketKey(workspaceID, jobID)
	if _, ok := r.tickets[key]; !ok {
		return ErrNotFound
	}
	delete(r.tickets, key)
	return nil
}

// Transact runs fn with a nil transaction. The memory store has no
// rollback; tests that need failure-path coverage use the SQL repository
// over sqlite.
func (r *MemoryTicketRepository) Transact(_ context.Context, fn func(tx *sqlx.Tx) error) error {
	return fn(nil)
}
