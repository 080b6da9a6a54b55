package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/flowdesk-io/flowdesk/internal/models"
)

// MemoryMessageRepository is the in-memory twin of MessageRepository,
// used by tests and by local development without a database. Method
// signatures match the SQL repository so both satisfy the same consumer
// interfaces; the tx parameter is accepted and ignored.
type MemoryMessageRepository struct {
	mu       sync.RWMutex
	messages map[string]*models.Message
}

// NewMemoryMessageRepository returns an empty in-memory store.
func NewMemoryMessageRepository() *MemoryMessageRepository {
	return &MemoryMessageRepository{messages: make(map[string]*models.Message)}
}

func messageKey(workspaceID, messageID string) string {
	return workspaceID + "\x00" + messageID
}

func cloneMessage(m *models.Message) *models.Message {
	c := *m
	c.Recipients = append(models.StringList(nil), m.Recipients...)
	c.References = append(models.StringList(nil), m.References...)
	c.Attachments = append([]models.Attachment(nil), m.Attachments...)
	return &c
}

// UpsertBatch mirrors the SQL repository: existing rows keep their ticket
// link and creation time, new rows come in unlinked.
func (r *MemoryMessageRepository) UpsertBatch(_ context.Context, workspaceID string, msgs []*models.Message) []*models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := make([]*models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.MessageID == "" {
			continue
		}
		m.WorkspaceID = workspaceID
		if existing, ok := r.messages[messageKey(workspaceID, m.MessageID)]; ok {
			m.ID = existing.ID
			m.TicketJobID = existing.TicketJobID
			m.CreatedAt = existing.CreatedAt
		} else {
			m.ID = uuid.New().String()
			m.TicketJobID = ""
			m.CreatedAt = time.Now().UTC()
		}
		r.messages[messageKey(workspaceID, m.MessageID)] = cloneMessage(m)
		stored = append(stored, m)
	}
	return stored
}

// GetByMessageID returns the message or ErrNotFound.
func (r *MemoryMessageRepository) GetByMessageID(_ context.Context, workspaceID, messageID string) (*models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.messages[messageKey(workspaceID, messageID)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMessage(m), nil
}

// ListUnlinked returns messages not yet filed under any ticket, newest
// first.
func (r *MemoryMessageRepository) ListUnlinked(_ context.Context, workspaceID string) ([]*models.Message, error) {
	return r.filter(workspaceID, func(m *models.Message) bool { return m.TicketJobID == "" }, true), nil
}

// ListByJobID returns messages linked to the given ticket, oldest first.
func (r *MemoryMessageRepository) ListByJobID(_ context.Context, workspaceID, jobID string) ([]*models.Message, error) {
	return r.filter(workspaceID, func(m *models.Message) bool { return m.TicketJobID == jobID }, false), nil
}

func (r *MemoryMessageRepository) filter(workspaceID string, keep func(*models.Message) bool, newestFirst bool) []*models.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Message
	for _, m := range r.messages {
		if m.WorkspaceID == workspaceID && keep(m) {
			out = append(out, cloneMessage(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

// LinkToTicket stamps the job id onto a message.
func (r *MemoryMessageRepository) LinkToTicket(_ context.Context, workspaceID, messageID, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.messages[messageKey(workspaceID, messageID)]; ok {
		m.TicketJobID = jobID
	}
	return nil
}

// UnlinkByJobID returns every message of jobID to the unlinked pool.
func (r *MemoryMessageRepository) UnlinkByJobID(_ context.Context, _ *sqlx.Tx, workspaceID, jobID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, m := range r.messages {
		if m.WorkspaceID == workspaceID && m.TicketJobID == jobID {
			m.TicketJobID = ""
			n++
		}
	}
	return n, nil
}

// RepointJobID moves messages between tickets and clears their starred
// flag.
func (r *MemoryMessageRepository) RepointJobID(_ context.Context, _ *sqlx.Tx, workspaceID, fromJobID, toJobID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, m := range r.messages {
		if m.WorkspaceID == workspaceID && m.TicketJobID == fromJobID {
			m.TicketJobID = toJobID
			m.Starred = false
			n++
		}
	}
	return n, nil
}
