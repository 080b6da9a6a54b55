package tickets

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/flowdesk-io/flowdesk/internal/metrics"
	"github.com/flowdesk-io/flowdesk/internal/models"
)

// TicketStore is what the service needs from the ticket repository.
type TicketStore interface {
	GetByJobID(ctx context.Context, workspaceID, jobID string) (*models.Ticket, error)
	List(ctx context.Context, workspaceID string) ([]*models.Ticket, error)
	Update(ctx context.Context, tx *sqlx.Tx, t *models.Ticket) error
	Delete(ctx context.Context, tx *sqlx.Tx, workspaceID, jobID string) error
	Transact(ctx context.Context, fn func(tx *sqlx.Tx) error) error
}

// MessageStore is what the service needs from the message repository.
type MessageStore interface {
	UnlinkByJobID(ctx context.Context, tx *sqlx.Tx, workspaceID, jobID string) (int64, error)
	RepointJobID(ctx context.Context, tx *sqlx.Tx, workspaceID, fromJobID, toJobID string) (int64, error)
}

// Notifier delivers assignment notices. Best-effort: failures are
// reported as warnings, never rolled into the assignment itself.
type Notifier interface {
	SendAssignment(ctx context.Context, recipient string, t *models.Ticket) error
}

// Service coordinates ticket mutations over the stores.
type Service struct {
	tickets  TicketStore
	messages MessageStore
	notifier Notifier
	logger   *log.Logger
	clock    func() time.Time
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock injects a time source for tests.
func WithClock(clock func() time.Time) ServiceOption {
	return func(s *Service) { s.clock = clock }
}

// NewService returns a service over the given stores. notifier may be
// nil, in which case assignment notices are skipped.
func NewService(tickets TicketStore, messages MessageStore, notifier Notifier, opts ...ServiceOption) *Service {
	s := &Service{
		tickets:  tickets,
		messages: messages,
		notifier: notifier,
		logger:   log.Default(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns one ticket.
func (s *Service) Get(ctx context.Context, workspaceID, jobID string) (*models.Ticket, error) {
	return s.tickets.GetByJobID(ctx, workspaceID, jobID)
}

// List returns all tickets in the workspace, newest first.
func (s *Service) List(ctx context.Context, workspaceID string) ([]*models.Ticket, error) {
	return s.tickets.List(ctx, workspaceID)
}

// Assignment is the input to Assign.
type Assignment struct {
	Owner       string            `json:"owner"`
	TeamLeads   models.StringList `json:"team_leads"`
	TeamMembers models.StringList `json:"team_members"`
}

// Assign sets the assignment fields and, from not_assigned, advances the
// status to assigned. Notification failures come back as warnings; the
// assignment itself stands.
func (s *Service) Assign(ctx context.Context, workspaceID, jobID string, in Assignment) (*models.Ticket, []string, error) {
	if len(in.TeamMembers) == 0 {
		return nil, nil, ErrNoTeamMembers
	}
	t, err := s.tickets.GetByJobID(ctx, workspaceID, jobID)
	if err != nil {
		return nil, nil, err
	}
	t.Owner = in.Owner
	t.TeamLeads = in.TeamLeads
	t.TeamMembers = in.TeamMembers
	if t.Status == models.StatusNotAssigned {
		if err := applyTransition(t, models.StatusAssigned, s.clock()); err != nil {
			return nil, nil, err
		}
	}
	if err := s.tickets.Update(ctx, nil, t); err != nil {
		return nil, nil, err
	}

	var warnings []string
	if s.notifier != nil {
		for _, member := range t.TeamMembers {
			if err := s.notifier.SendAssignment(ctx, member, t); err != nil {
				metrics.NotificationFailures.Inc()
				s.logger.Printf("tickets: notify %s for %s: %v", member, t.JobID, err)
				warnings = append(warnings, fmt.Sprintf("notification to %s failed: %v", member, err))
			}
		}
	}
	return t, warnings, nil
}

// SetStatus moves the ticket through the workflow.
func (s *Service) SetStatus(ctx context.Context, workspaceID, jobID string, to models.Status) (*models.Ticket, error) {
	t, err := s.tickets.GetByJobID(ctx, workspaceID, jobID)
	if err != nil {
		return nil, err
	}
	if err := applyTransition(t, to, s.clock()); err != nil {
		return nil, err
	}
	if err := s.tickets.Update(ctx, nil, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Undo deletes a not-yet-assigned ticket and returns its messages to the
// unlinked pool so they resurface for review. Destructive and only legal
// from not_assigned.
func (s *Service) Undo(ctx context.Context, workspaceID, jobID string) error {
	t, err := s.tickets.GetByJobID(ctx, workspaceID, jobID)
	if err != nil {
		return err
	}
	if t.Status != models.StatusNotAssigned {
		return fmt.Errorf("%w: %s is %s", ErrUndoNotAllowed, t.JobID, t.Status)
	}
	return s.tickets.Transact(ctx, func(tx *sqlx.Tx) error {
		if err := s.tickets.Delete(ctx, tx, workspaceID, jobID); err != nil {
			return err
		}
		n, err := s.messages.UnlinkByJobID(ctx, tx, workspaceID, jobID)
		if err != nil {
			return err
		}
		s.logger.Printf("tickets: undo %s unlinked %d messages", jobID, n)
		return nil
	})
}
