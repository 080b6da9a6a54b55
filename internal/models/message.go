package models

import (
	"time"
)

// Attachment holds attachment metadata captured during the bulk poll.
// Raw bytes are fetched on demand via the mailbox full-fetch path and are
// never persisted with the message row.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	ContentID   string `json:"content_id,omitempty"`
	Data        []byte `json:"-"`
}

// Message represents one inbound email synchronized from the mailbox.
// A message is either unlinked (TicketJobID empty) or linked to exactly
// one ticket at a time.
type Message struct {
	ID          string       `json:"id" db:"id"`
	WorkspaceID string       `json:"workspace_id" db:"workspace_id"`
	MessageID   string       `json:"message_id" db:"message_id"`
	UID         uint32       `json:"uid" db:"uid"`
	FromName    string       `json:"from_name" db:"from_name"`
	FromAddress string       `json:"from_address" db:"from_address"`
	Recipients  StringList   `json:"recipients" db:"recipients"`
	Subject     string       `json:"subject" db:"subject"`
	BodyText    string       `json:"body_text" db:"body_text"`
	BodyHTML    string       `json:"body_html" db:"body_html"`
	Attachments []Attachment `json:"attachments"`
	InReplyTo   string       `json:"in_reply_to" db:"in_reply_to"`
	References  StringList   `json:"references"`
	ThreadID    string       `json:"thread_id" db:"thread_id"`
	Starred     bool         `json:"starred" db:"starred"`
	TicketJobID string       `json:"ticket_job_id,omitempty" db:"ticket_job_id"`
	Date        time.Time    `json:"date" db:"date"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
}

// Linked reports whether the message has been filed under a ticket.
func (m *Message) Linked() bool {
	return m.TicketJobID != ""
}

// MessageSnapshot is the denormalized copy of a message embedded in a
// ticket. Snapshots are copies, not live references; merges union them
// by MessageID.
type MessageSnapshot struct {
	MessageID   string       `json:"message_id"`
	UID         uint32       `json:"uid"`
	FromName    string       `json:"from_name"`
	FromAddress string       `json:"from_address"`
	Subject     string       `json:"subject"`
	BodyText    string       `json:"body_text"`
	BodyHTML    string       `json:"body_html"`
	Attachments []Attachment `json:"attachments"`
	ThreadID    string       `json:"thread_id"`
	Date        time.Time    `json:"date"`
}

// Snapshot builds the embedded copy of a message for ticket storage.
func (m *Message) Snapshot() MessageSnapshot {
	return MessageSnapshot{
		MessageID:   m.MessageID,
		UID:         m.UID,
		FromName:    m.FromName,
		FromAddress: m.FromAddress,
		Subject:     m.Subject,
		BodyText:    m.BodyText,
		BodyHTML:    m.BodyHTML,
		Attachments: m.Attachments,
		ThreadID:    m.ThreadID,
		Date:        m.Date,
	}
}
