package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/flowdesk-io/flowdesk/internal/database"
	"github.com/flowdesk-io/flowdesk/internal/models"
)

// TicketRepository persists tickets. Dedup relies on the store's
// uniqueness constraint on (workspace_id, message_id): Insert surfaces the
// violation untouched and callers decide whether it is an error.
type TicketRepository struct {
	db *sqlx.DB
}

// NewTicketRepository returns a repository over the shared handle.
func NewTicketRepository(db *sqlx.DB) *TicketRepository {
	return &TicketRepository{db: db}
}

type ticketRow struct {
	ID           int          `db:"id"`
	WorkspaceID  string       `db:"workspace_id"`
	JobID        string       `db:"job_id"`
	ClientName   string       `db:"client_name"`
	ClientEmail  string       `db:"client_email"`
	Consultant   string       `db:"consultant"`
	Subject      string       `db:"subject"`
	Status       string       `db:"status"`
	NewClient    bool         `db:"new_client"`
	Owner        string       `db:"owner"`
	TeamLeads    string       `db:"team_leads"`
	TeamMembers  string       `db:"team_members"`
	Metadata     string       `db:"metadata"`
	Messages     string       `db:"messages"`
	MergeCount   int          `db:"merge_count"`
	MergeHistory string       `db:"merge_history"`
	MessageID    string       `db:"message_id"`
	ThreadID     string       `db:"thread_id"`
	InProcessAt  sql.NullTime `db:"in_process_at"`
	CreatedAt    time.Time    `db:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at"`
}

const ticketColumns = `id, workspace_id, job_id, client_name, client_email, consultant,
	subject, status, new_client, owner, team_leads, team_members, metadata,
	messages, merge_count, merge_history, message_id, thread_id, in_process_at,
	created_at, updated_at`

func (r *ticketRow) toModel() (*models.Ticket, error) {
	t := &models.Ticket{
		ID:          r.ID,
		WorkspaceID: r.WorkspaceID,
		JobID:       r.JobID,
		ClientName:  r.ClientName,
		ClientEmail: r.ClientEmail,
		Consultant:  r.Consultant,
		Subject:     r.Subject,
		Status:      models.Status(r.Status),
		NewClient:   r.NewClient,
		Owner:       r.Owner,
		MergeCount:  r.MergeCount,
		MessageID:   r.MessageID,
		ThreadID:    r.ThreadID,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.InProcessAt.Valid {
		at := r.InProcessAt.Time
		t.InProcessAt = &at
	}
	for _, pair := range []struct {
		raw  string
		dest any
	}{
		{r.TeamLeads, &t.TeamLeads},
		{r.TeamMembers, &t.TeamMembers},
		{r.Metadata, &t.Metadata},
		{r.Messages, &t.Messages},
		{r.MergeHistory, &t.MergeHistory},
	} {
		if err := json.Unmarshal([]byte(pair.raw), pair.dest); err != nil {
			return nil, fmt.Errorf("decode ticket %s: %w", r.JobID, err)
		}
	}
	return t, nil
}

func encodeTicketJSON(t *models.Ticket) (leads, members, metadata, messages, history string, err error) {
	enc := func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	}
	if leads, err = enc(orEmpty(t.TeamLeads)); err != nil {
		return
	}
	if members, err = enc(orEmpty(t.TeamMembers)); err != nil {
		return
	}
	if metadata, err = enc(t.Metadata); err != nil {
		return
	}
	snaps := t.Messages
	if snaps == nil {
		snaps = []models.MessageSnapshot{}
	}
	if messages, err = enc(snaps); err != nil {
		return
	}
	hist := t.MergeHistory
	if hist == nil {
		hist = []models.MergeEntry{}
	}
	history, err = enc(hist)
	return
}

// Insert writes a new ticket. A uniqueness violation on
// (workspace_id, message_id) or job_id passes through for the caller to
// classify with database.IsUniqueViolation.
func (r *TicketRepository) Insert(ctx context.Context, t *models.Ticket) error {
	leads, members, metadata, messages, history, err := encodeTicketJSON(t)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	q := database.ConvertPlaceholders(`INSERT INTO tickets (
		workspace_id, job_id, client_name, client_email, consultant, subject,
		status, new_client, owner, team_leads, team_members, metadata, messages,
		merge_count, merge_history, message_id, thread_id, in_process_at,
		created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`)
	_, err = r.db.ExecContext(ctx, q,
		t.WorkspaceID, t.JobID, t.ClientName, t.ClientEmail, t.Consultant, t.Subject,
		string(t.Status), t.NewClient, t.Owner, leads, members, metadata, messages,
		t.MergeCount, history, t.MessageID, t.ThreadID, nullTimePtr(t.InProcessAt),
		t.CreatedAt, t.UpdatedAt)
	return err
}

// GetByJobID returns the ticket or ErrNotFound.
func (r *TicketRepository) GetByJobID(ctx context.Context, workspaceID, jobID string) (*models.Ticket, error) {
	var row ticketRow
	q := database.ConvertPlaceholders(`SELECT ` + ticketColumns + ` FROM tickets
		WHERE workspace_id = $1 AND job_id = $2`)
	err := r.db.GetContext(ctx, &row, q, workspaceID, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

// List returns all tickets in a workspace, newest first.
func (r *TicketRepository) List(ctx context.Context, workspaceID string) ([]*models.Ticket, error) {
	var rows []ticketRow
	q := database.ConvertPlaceholders(`SELECT ` + ticketColumns + ` FROM tickets
		WHERE workspace_id = $1 ORDER BY created_at DESC`)
	if err := r.db.SelectContext(ctx, &rows, q, workspaceID); err != nil {
		return nil, err
	}
	out := make([]*models.Ticket, 0, len(rows))
	for i := range rows {
		t, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Update rewrites every mutable field. JobID, MessageID, and CreatedAt are
// immutable once assigned and are deliberately absent from the SET list.
func (r *TicketRepository) Update(ctx context.Context, tx *sqlx.Tx, t *models.Ticket) error {
	leads, members, metadata, messages, history, err := encodeTicketJSON(t)
	if err != nil {
		return err
	}
	t.UpdatedAt = time.Now().UTC()
	q := database.ConvertPlaceholders(`UPDATE tickets SET
		client_name = $1, client_email = $2, consultant = $3, subject = $4,
		status = $5, new_client = $6, owner = $7, team_leads = $8,
		team_members = $9, metadata = $10, messages = $11, merge_count = $12,
		merge_history = $13, thread_id = $14, in_process_at = $15, updated_at = $16
		WHERE workspace_id = $17 AND job_id = $18`)
	res, err := execer(r.db, tx).ExecContext(ctx, q,
		t.ClientName, t.ClientEmail, t.Consultant, t.Subject,
		string(t.Status), t.NewClient, t.Owner, leads,
		members, metadata, messages, t.MergeCount,
		history, t.ThreadID, nullTimePtr(t.InProcessAt), t.UpdatedAt,
		t.WorkspaceID, t.JobID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

// Delete removes a ticket outright. Only undo and merge-absorption call
// this.
func (r *TicketRepository) Delete(ctx context.Context, tx *sqlx.Tx, workspaceID, jobID string) error {
	q := database.ConvertPlaceholders(`DELETE FROM tickets WHERE workspace_id = $1 AND job_id = $2`)
	res, err := execer(r.db, tx).ExecContext(ctx, q, workspaceID, jobID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

// Transact runs fn inside a transaction, rolling back on error.
func (r *TicketRepository) Transact(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
