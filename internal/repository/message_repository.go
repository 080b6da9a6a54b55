package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/flowdesk-io/flowdesk/internal/database"
	"github.com/flowdesk-io/flowdesk/internal/models"
)

// MessageRepository persists synchronized mailbox messages.
type MessageRepository struct {
	db     *sqlx.DB
	logger *log.Logger
}

// NewMessageRepository returns a repository over the shared handle.
func NewMessageRepository(db *sqlx.DB, logger *log.Logger) *MessageRepository {
	if logger == nil {
		logger = log.Default()
	}
	return &MessageRepository{db: db, logger: logger}
}

type messageRow struct {
	ID          string       `db:"id"`
	WorkspaceID string       `db:"workspace_id"`
	MessageID   string       `db:"message_id"`
	UID         uint32       `db:"uid"`
	FromName    string       `db:"from_name"`
	FromAddress string       `db:"from_address"`
	Recipients  string       `db:"recipients"`
	Subject     string       `db:"subject"`
	BodyText    string       `db:"body_text"`
	BodyHTML    string       `db:"body_html"`
	Attachments string       `db:"attachments"`
	InReplyTo   string       `db:"in_reply_to"`
	Refs        string       `db:"refs"`
	ThreadID    string       `db:"thread_id"`
	Starred     bool         `db:"starred"`
	TicketJobID string       `db:"ticket_job_id"`
	Date        sql.NullTime `db:"date"`
	CreatedAt   time.Time    `db:"created_at"`
}

const messageColumns = `id, workspace_id, message_id, uid, from_name, from_address,
	recipients, subject, body_text, body_html, attachments, in_reply_to, refs,
	thread_id, starred, ticket_job_id, date, created_at`

func (r *messageRow) toModel() (*models.Message, error) {
	m := &models.Message{
		ID:          r.ID,
		WorkspaceID: r.WorkspaceID,
		MessageID:   r.MessageID,
		UID:         r.UID,
		FromName:    r.FromName,
		FromAddress: r.FromAddress,
		Subject:     r.Subject,
		BodyText:    r.BodyText,
		BodyHTML:    r.BodyHTML,
		InReplyTo:   r.InReplyTo,
		ThreadID:    r.ThreadID,
		Starred:     r.Starred,
		TicketJobID: r.TicketJobID,
		CreatedAt:   r.CreatedAt,
	}
	if r.Date.Valid {
		m.Date = r.Date.Time
	}
	if err := json.Unmarshal([]byte(r.Recipients), &m.Recipients); err != nil {
		return nil, fmt.Errorf("decode recipients: %w", err)
	}
	if err := json.Unmarshal([]byte(r.Refs), &m.References); err != nil {
		return nil, fmt.Errorf("decode references: %w", err)
	}
	if err := json.Unmarshal([]byte(r.Attachments), &m.Attachments); err != nil {
		return nil, fmt.Errorf("decode attachments: %w", err)
	}
	return m, nil
}

// UpsertBatch stores a batch of freshly polled messages. Existing rows get
// their non-linkage fields refreshed in place; the ticket link is never
// touched here. The batch is not transactional: per-row failures are
// logged and skipped, and the successfully stored messages are returned.
func (r *MessageRepository) UpsertBatch(ctx context.Context, workspaceID string, msgs []*models.Message) []*models.Message {
	stored := make([]*models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.MessageID == "" {
			continue
		}
		if err := r.upsertOne(ctx, workspaceID, m); err != nil {
			r.logger.Printf("repository: upsert message %s: %v", m.MessageID, err)
			continue
		}
		stored = append(stored, m)
	}
	return stored
}

func (r *MessageRepository) upsertOne(ctx context.Context, workspaceID string, m *models.Message) error {
	m.WorkspaceID = workspaceID

	existing, err := r.GetByMessageID(ctx, workspaceID, m.MessageID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	recipients, refs, attachments, encErr := encodeMessageJSON(m)
	if encErr != nil {
		return encErr
	}

	if existing != nil {
		m.ID = existing.ID
		m.TicketJobID = existing.TicketJobID
		m.CreatedAt = existing.CreatedAt
		q := database.ConvertPlaceholders(`UPDATE messages SET
			uid = $1, from_name = $2, from_address = $3, recipients = $4,
			subject = $5, body_text = $6, body_html = $7, attachments = $8,
			in_reply_to = $9, refs = $10, thread_id = $11, starred = $12, date = $13
			WHERE workspace_id = $14 AND message_id = $15`)
		_, err = r.db.ExecContext(ctx, q,
			m.UID, m.FromName, m.FromAddress, recipients,
			m.Subject, m.BodyText, m.BodyHTML, attachments,
			m.InReplyTo, refs, m.ThreadID, m.Starred, nullTime(m.Date),
			workspaceID, m.MessageID)
		return err
	}

	m.ID = uuid.New().String()
	m.TicketJobID = ""
	m.CreatedAt = time.Now().UTC()
	q := database.ConvertPlaceholders(`INSERT INTO messages (` + messageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`)
	_, err = r.db.ExecContext(ctx, q,
		m.ID, workspaceID, m.MessageID, m.UID, m.FromName, m.FromAddress,
		recipients, m.Subject, m.BodyText, m.BodyHTML, attachments,
		m.InReplyTo, refs, m.ThreadID, m.Starred, "", nullTime(m.Date), m.CreatedAt)
	return err
}

// GetByMessageID returns the message or ErrNotFound.
func (r *MessageRepository) GetByMessageID(ctx context.Context, workspaceID, messageID string) (*models.Message, error) {
	var row messageRow
	q := database.ConvertPlaceholders(`SELECT ` + messageColumns + ` FROM messages
		WHERE workspace_id = $1 AND message_id = $2`)
	err := r.db.GetContext(ctx, &row, q, workspaceID, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

// ListUnlinked returns messages not yet filed under any ticket.
func (r *MessageRepository) ListUnlinked(ctx context.Context, workspaceID string) ([]*models.Message, error) {
	q := database.ConvertPlaceholders(`SELECT ` + messageColumns + ` FROM messages
		WHERE workspace_id = $1 AND ticket_job_id = '' ORDER BY date DESC`)
	return r.list(ctx, q, workspaceID)
}

// ListByJobID returns messages linked to the given ticket.
func (r *MessageRepository) ListByJobID(ctx context.Context, workspaceID, jobID string) ([]*models.Message, error) {
	q := database.ConvertPlaceholders(`SELECT ` + messageColumns + ` FROM messages
		WHERE workspace_id = $1 AND ticket_job_id = $2 ORDER BY date ASC`)
	return r.list(ctx, q, workspaceID, jobID)
}

func (r *MessageRepository) list(ctx context.Context, q string, args ...any) ([]*models.Message, error) {
	var rows []messageRow
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	out := make([]*models.Message, 0, len(rows))
	for i := range rows {
		m, err := rows[i].toModel()
		if err != nil {
			r.logger.Printf("repository: decode message %s: %v", rows[i].MessageID, err)
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// LinkToTicket stamps the job id onto a message after its ticket was
// created.
func (r *MessageRepository) LinkToTicket(ctx context.Context, workspaceID, messageID, jobID string) error {
	q := database.ConvertPlaceholders(`UPDATE messages SET ticket_job_id = $1
		WHERE workspace_id = $2 AND message_id = $3`)
	_, err := r.db.ExecContext(ctx, q, jobID, workspaceID, messageID)
	return err
}

// UnlinkByJobID strips the ticket linkage from every message pointing at
// jobID, returning them to the unlinked pool. Used by undo.
func (r *MessageRepository) UnlinkByJobID(ctx context.Context, tx *sqlx.Tx, workspaceID, jobID string) (int64, error) {
	q := database.ConvertPlaceholders(`UPDATE messages SET ticket_job_id = ''
		WHERE workspace_id = $1 AND ticket_job_id = $2`)
	res, err := execer(r.db, tx).ExecContext(ctx, q, workspaceID, jobID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RepointJobID moves messages from one ticket to another and clears their
// starred flag so they stop surfacing as sync candidates. Used by merge.
func (r *MessageRepository) RepointJobID(ctx context.Context, tx *sqlx.Tx, workspaceID, fromJobID, toJobID string) (int64, error) {
	q := database.ConvertPlaceholders(`UPDATE messages SET ticket_job_id = $1, starred = $2
		WHERE workspace_id = $3 AND ticket_job_id = $4`)
	res, err := execer(r.db, tx).ExecContext(ctx, q, toJobID, false, workspaceID, fromJobID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func encodeMessageJSON(m *models.Message) (recipients, refs, attachments string, err error) {
	rb, err := json.Marshal(orEmpty(m.Recipients))
	if err != nil {
		return "", "", "", err
	}
	fb, err := json.Marshal(orEmpty(m.References))
	if err != nil {
		return "", "", "", err
	}
	atts := m.Attachments
	if atts == nil {
		atts = []models.Attachment{}
	}
	ab, err := json.Marshal(atts)
	if err != nil {
		return "", "", "", err
	}
	return string(rb), string(fb), string(ab), nil
}

func orEmpty(l models.StringList) models.StringList {
	if l == nil {
		return models.StringList{}
	}
	return l
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func execer(db *sqlx.DB, tx *sqlx.Tx) sqlx.ExecerContext {
	if tx != nil {
		return tx
	}
	return db
}
