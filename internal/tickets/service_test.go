package tickets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowdesk-io/flowdesk/internal/models"
	"github.com/flowdesk-io/flowdesk/internal/repository"
)

type fakeNotifier struct {
	sent    []string
	failFor map[string]bool
}

func (n *fakeNotifier) SendAssignment(_ context.Context, recipient string, _ *models.Ticket) error {
	if n.failFor[recipient] {
		return errors.New("smtp: connection refused")
	}
	n.sent = append(n.sent, recipient)
	return nil
}

type serviceRig struct {
	svc      *Service
	tickets  *repository.MemoryTicketRepository
	messages *repository.MemoryMessageRepository
	notifier *fakeNotifier
	now      time.Time
}

func newServiceRig(t *testing.T) *serviceRig {
	t.Helper()
	rig := &serviceRig{
		tickets:  repository.NewMemoryTicketRepository(),
		messages: repository.NewMemoryMessageRepository(),
		notifier: &fakeNotifier{failFor: map[string]bool{}},
		now:      time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC),
	}
	rig.svc = NewService(rig.tickets, rig.messages, rig.notifier,
		WithClock(func() time.Time { return rig.now }))
	return rig
}

func (rig *serviceRig) seedTicket(t *testing.T, jobID, clientName, clientEmail string, status models.Status, msgIDs ...string) {
	t.Helper()
	ctx := context.Background()
	tk := &models.Ticket{
		WorkspaceID: "ws1",
		JobID:       jobID,
		ClientName:  clientName,
		ClientEmail: clientEmail,
		Status:      status,
		MessageID:   jobID + "-origin@x",
	}
	if status != models.StatusNotAssigned {
		tk.TeamMembers = models.StringList{"worker@flowdesk.example"}
	}
	var batch []*models.Message
	for _, id := range msgIDs {
		tk.Messages = append(tk.Messages, models.MessageSnapshot{MessageID: id, Subject: "s"})
		batch = append(batch, &models.Message{MessageID: id, FromAddress: clientEmail, Starred: true})
	}
	require.NoError(t, rig.tickets.Insert(ctx, tk))
	rig.messages.UpsertBatch(ctx, "ws1", batch)
	for _, id := range msgIDs {
		require.NoError(t, rig.messages.LinkToTicket(ctx, "ws1", id, jobID))
	}
}

func TestAssignAdvancesStatusAndNotifies(t *testing.T) {
	rig := newServiceRig(t)
	rig.seedTicket(t, "KNC001", "Knownco", "dana@knownco.com", models.StatusNotAssigned, "m1@x")
	ctx := context.Background()

	tk, warnings, err := rig.svc.Assign(ctx, "ws1", "KNC001", Assignment{
		Owner:       "coordinator@flowdesk.example",
		TeamLeads:   models.StringList{"lead@flowdesk.example"},
		TeamMembers: models.StringList{"worker@flowdesk.example"},
	})
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, models.StatusAssigned, tk.Status)
	require.Equal(t, []string{"worker@flowdesk.example"}, rig.notifier.sent)

	stored, err := rig.tickets.GetByJobID(ctx, "ws1", "KNC001")
	require.NoError(t, err)
	require.Equal(t, models.StatusAssigned, stored.Status)
	require.Equal(t, "coordinator@flowdesk.example", stored.Owner)
}

func TestAssignWithoutTeamMembersRejected(t *testing.T) {
	rig := newServiceRig(t)
	rig.seedTicket(t, "KNC001", "Knownco", "dana@knownco.com", models.StatusNotAssigned)

	_, _, err := rig.svc.Assign(context.Background(), "ws1", "KNC001", Assignment{Owner: "x"})
	require.ErrorIs(t, err, ErrNoTeamMembers)
}

func TestAssignNotificationFailureIsAWarningNotARollback(t *testing.T) {
	rig := newServiceRig(t)
	rig.seedTicket(t, "KNC001", "Knownco", "dana@knownco.com", models.StatusNotAssigned)
	rig.notifier.failFor["down@flowdesk.example"] = true
	ctx := context.Background()

	tk, warnings, err := rig.svc.Assign(ctx, "ws1", "KNC001", Assignment{
		TeamMembers: models.StringList{"down@flowdesk.example", "up@flowdesk.example"},
	})
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0], "down@flowdesk.example")
	require.Equal(t, models.StatusAssigned, tk.Status)

	stored, err := rig.tickets.GetByJobID(ctx, "ws1", "KNC001")
	require.NoError(t, err)
	require.Equal(t, models.StatusAssigned, stored.Status, "assignment must survive the failed notice")
}

func TestSetStatusStampsInProcessIdempotently(t *testing.T) {
	rig := newServiceRig(t)
	rig.seedTicket(t, "KNC001", "Knownco", "dana@knownco.com", models.StatusAssigned)
	ctx := context.Background()

	first := rig.now
	tk, err := rig.svc.SetStatus(ctx, "ws1", "KNC001", models.StatusInProcess)
	require.NoError(t, err)
	require.NotNil(t, tk.InProcessAt)
	require.Equal(t, first, *tk.InProcessAt)

	rig.now = rig.now.Add(3 * time.Hour)
	_, err = rig.svc.SetStatus(ctx, "ws1", "KNC001", models.StatusPaused)
	require.NoError(t, err)
	tk, err = rig.svc.SetStatus(ctx, "ws1", "KNC001", models.StatusInProcess)
	require.NoError(t, err)
	require.Equal(t, first, *tk.InProcessAt)
}

func TestSetStatusRejectsIllegalMove(t *testing.T) {
	rig := newServiceRig(t)
	rig.seedTicket(t, "KNC001", "Knownco", "dana@knownco.com", models.StatusAssigned)

	_, err := rig.svc.SetStatus(context.Background(), "ws1", "KNC001", models.StatusSent)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestUndoDeletesTicketAndRestoresMessages(t *testing.T) {
	rig := newServiceRig(t)
	rig.seedTicket(t, "KNC001", "Knownco", "dana@knownco.com", models.StatusNotAssigned, "m1@x", "m2@x")
	ctx := context.Background()

	require.NoError(t, rig.svc.Undo(ctx, "ws1", "KNC001"))

	_, err := rig.tickets.GetByJobID(ctx, "ws1", "KNC001")
	require.ErrorIs(t, err, repository.ErrNotFound)

	unlinked, err := rig.messages.ListUnlinked(ctx, "ws1")
	require.NoError(t, err)
	require.Len(t, unlinked, 2)
}

func TestUndoRejectedOnceAssigned(t *testing.T) {
	rig := newServiceRig(t)
	rig.seedTicket(t, "KNC001", "Knownco", "dana@knownco.com", models.StatusAssigned, "m1@x")
	ctx := context.Background()

	err := rig.svc.Undo(ctx, "ws1", "KNC001")
	require.ErrorIs(t, err, ErrUndoNotAllowed)

	_, err = rig.tickets.GetByJobID(ctx, "ws1", "KNC001")
	require.NoError(t, err, "rejected undo must not mutate")
}
