package models

import (
	"time"
)

// Status is a ticket workflow state.
type Status string

const (
	StatusNotAssigned  Status = "not_assigned"
	StatusAssigned     Status = "assigned"
	StatusInProcess    Status = "in_process"
	StatusRFQC         Status = "rf_qc"
	StatusQCD          Status = "qcd"
	StatusFileReceived Status = "file_received"
	StatusSent         Status = "sent"
	StatusPaused       Status = "paused"
	StatusOnHold       Status = "on_hold"
	StatusTBC          Status = "tbc"
	StatusCancelled    Status = "cancelled"
)

// MergeEntry records one ticket absorbed into another.
type MergeEntry struct {
	SourceJobID  string    `json:"source_job_id"`
	MessageCount int       `json:"message_count"`
	MergedAt     time.Time `json:"merged_at"`
}

// TicketMetadata is the free-form bag carried on every ticket.
type TicketMetadata struct {
	Deadline *time.Time        `json:"deadline,omitempty"`
	Timezone string            `json:"timezone,omitempty"`
	Notes    StringList        `json:"notes,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// Ticket is one unit of work derived from a starred email. JobID is
// immutable once assigned. Uniqueness of (WorkspaceID, MessageID) is
// enforced by the store, which is what makes repeated syncs idempotent.
type Ticket struct {
	ID           int               `json:"id" db:"id"`
	WorkspaceID  string            `json:"workspace_id" db:"workspace_id"`
	JobID        string            `json:"job_id" db:"job_id"`
	ClientName   string            `json:"client_name" db:"client_name"`
	ClientEmail  string            `json:"client_email" db:"client_email"`
	Consultant   string            `json:"consultant" db:"consultant"`
	Subject      string            `json:"subject" db:"subject"`
	Status       Status            `json:"status" db:"status"`
	NewClient    bool              `json:"new_client" db:"new_client"`
	Owner        string            `json:"owner" db:"owner"`
	TeamLeads    StringList        `json:"team_leads"`
	TeamMembers  StringList        `json:"team_members"`
	Metadata     TicketMetadata    `json:"metadata"`
	Messages     []MessageSnapshot `json:"messages"`
	MergeCount   int               `json:"merge_count" db:"merge_count"`
	MergeHistory []MergeEntry      `json:"merge_history"`
	MessageID    string            `json:"message_id" db:"message_id"`
	ThreadID     string            `json:"thread_id" db:"thread_id"`
	InProcessAt  *time.Time        `json:"in_process_at,omitempty" db:"in_process_at"`
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at" db:"updated_at"`
}

// HasMessage reports whether a snapshot with the given message id is
// already embedded on the ticket.
func (t *Ticket) HasMessage(messageID string) bool {
	for _, s := range t.Messages {
		if s.MessageID == messageID {
			return true
		}
	}
	return false
}
