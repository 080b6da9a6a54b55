package sync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowdesk-io/flowdesk/internal/clients"
	"github.com/flowdesk-io/flowdesk/internal/jobid"
	"github.com/flowdesk-io/flowdesk/internal/mailbox"
	"github.com/flowdesk-io/flowdesk/internal/models"
	"github.com/flowdesk-io/flowdesk/internal/repository"
)

type fakePoller struct {
	mu    sync.Mutex
	msgs  []*models.Message
	err   error
	delay time.Duration
	calls int
}

func (p *fakePoller) Poll(_ context.Context, _ mailbox.Account) ([]*models.Message, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if p.err != nil {
		return nil, p.err
	}
	return p.msgs, nil
}

func (p *fakePoller) FetchFull(_ context.Context, _ mailbox.Account, _ uint32) (*models.Message, error) {
	return nil, errors.New("not implemented")
}

func starred(messageID, fromName, fromAddress, subject string) *models.Message {
	return &models.Message{
		MessageID:   messageID,
		FromName:    fromName,
		FromAddress: fromAddress,
		Subject:     subject,
		Starred:     true,
		ThreadID:    messageID,
		Date:        time.Date(2026, 8, 19, 8, 0, 0, 0, time.UTC),
	}
}

type testRig struct {
	engine   *Engine
	poller   *fakePoller
	messages *repository.MemoryMessageRepository
	tickets  *repository.MemoryTicketRepository
}

func newTestRig(t *testing.T, msgs ...*models.Message) *testRig {
	t.Helper()
	registry := repository.NewMemoryClientRepository(models.Client{
		Email:      "dana@knownco.com",
		Domain:     "knownco.com",
		ClientName: "Knownco",
		Consultant: "Priya",
		Attributes: map[string]string{"Job Code ": "KNC"},
	})
	rig := &testRig{
		poller:   &fakePoller{msgs: msgs},
		messages: repository.NewMemoryMessageRepository(),
		tickets:  repository.NewMemoryTicketRepository(),
	}
	rig.engine = NewEngine(
		mailbox.Account{Host: "imap.example.com", Address: "desk@flowdesk.example"},
		rig.poller,
		rig.messages,
		rig.tickets,
		clients.NewLookup(registry, nil),
		jobid.NewAllocator(jobid.NewMemoryStore()),
		NewMemoryLock(WithCooldown(0)),
	)
	return rig
}

func TestSyncCreatesTicketsForStarredMessages(t *testing.T) {
	rig := newTestRig(t,
		starred("m1@x", "Dana Reeve", "dana@knownco.com", "Q3 brief"),
		starred("m2@x", "", "new.person@knownco.com", "Follow-up"),
	)
	ctx := context.Background()

	report, err := rig.engine.Sync(ctx, "ws1")
	require.NoError(t, err)
	require.Equal(t, 2, report.EmailsFetched)
	require.Equal(t, 2, report.TicketsCreated)
	require.Zero(t, report.DuplicatesSkipped)

	// Both senders resolve to the registered client, the second through
	// the domain fallback, so both tickets file under the KNC prefix.
	first, err := rig.tickets.GetByJobID(ctx, "ws1", "KNC001")
	require.NoError(t, err)
	require.Equal(t, "Knownco", first.ClientName)
	require.Equal(t, "Priya", first.Consultant)
	require.False(t, first.NewClient)
	require.Equal(t, models.StatusNotAssigned, first.Status)
	require.Len(t, first.Messages, 1)

	_, err = rig.tickets.GetByJobID(ctx, "ws1", "KNC002")
	require.NoError(t, err)

	stored, err := rig.messages.GetByMessageID(ctx, "ws1", "m1@x")
	require.NoError(t, err)
	require.True(t, stored.Linked())
}

func TestSyncUnknownSenderSynthesis(t *testing.T) {
	rig := newTestRig(t, starred("m1@x", `"Sam Ortiz" <sam@totallynew.io> (via Google Groups)`, "sam@totallynew.io", "Intro"))
	ctx := context.Background()

	_, err := rig.engine.Sync(ctx, "ws1")
	require.NoError(t, err)

	ticket, err := rig.tickets.GetByJobID(ctx, "ws1", "TOT001")
	require.NoError(t, err)
	require.Equal(t, "Totallynew", ticket.ClientName)
	require.True(t, ticket.NewClient)
	require.Equal(t, "Sam Ortiz", ticket.Consultant)
}

func TestSyncIdempotentOnUnchangedMailbox(t *testing.T) {
	rig := newTestRig(t,
		starred("m1@x", "Dana Reeve", "dana@knownco.com", "Q3 brief"),
		starred("m2@x", "Dana Reeve", "dana@knownco.com", "Q4 brief"),
	)
	ctx := context.Background()

	report, err := rig.engine.Sync(ctx, "ws1")
	require.NoError(t, err)
	require.Equal(t, 2, report.TicketsCreated)

	report, err = rig.engine.Sync(ctx, "ws1")
	require.NoError(t, err)
	require.Equal(t, 2, report.EmailsFetched)
	require.Zero(t, report.TicketsCreated, "second pass must not refile linked messages")
	require.Zero(t, report.DuplicatesSkipped)
}

func TestSyncToleratesExistingTicketForMessage(t *testing.T) {
	// A prior pass crashed after inserting the ticket but before the link
	// write-back: the message is unlinked while its ticket exists. The
	// uniqueness constraint turns the re-insert into a counted skip.
	rig := newTestRig(t, starred("m1@x", "Dana Reeve", "dana@knownco.com", "Q3 brief"))
	ctx := context.Background()

	require.NoError(t, rig.tickets.Insert(ctx, &models.Ticket{
		WorkspaceID: "ws1",
		JobID:       "KNC777",
		ClientName:  "Knownco",
		Status:      models.StatusNotAssigned,
		MessageID:   "m1@x",
	}))

	report, err := rig.engine.Sync(ctx, "ws1")
	require.NoError(t, err)
	require.Zero(t, report.TicketsCreated)
	require.Equal(t, 1, report.DuplicatesSkipped)
}

func TestSyncRejectsConcurrentPassForSameWorkspace(t *testing.T) {
	rig := newTestRig(t, starred("m1@x", "Dana Reeve", "dana@knownco.com", "Q3 brief"))
	rig.poller.delay = 50 * time.Millisecond
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = rig.engine.Sync(ctx, "ws1")
		}(i)
	}
	wg.Wait()

	var busy, ok int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrSyncBusy):
			busy++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, busy)

	list, err := rig.tickets.List(ctx, "ws1")
	require.NoError(t, err)
	require.Len(t, list, 1, "exactly one ticket per distinct message")
}

func TestSyncPollFailureAbortsWithoutCooldown(t *testing.T) {
	rig := newTestRig(t)
	rig.poller.err = errors.New("imap auth: bad credentials")
	ctx := context.Background()

	_, err := rig.engine.Sync(ctx, "ws1")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrSyncBusy)

	// The lock must be free again for an immediate retry.
	rig.poller.err = nil
	_, err = rig.engine.Sync(ctx, "ws1")
	require.NoError(t, err)
	require.Equal(t, 2, rig.poller.calls)
}

func TestSyncCooldownReturnsImmediatelyWithZeroEffect(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	rig := newTestRig(t, starred("m1@x", "Dana Reeve", "dana@knownco.com", "Q3 brief"))
	rig.engine.lock = NewMemoryLock(WithLockClock(func() time.Time { return now }))
	ctx := context.Background()

	_, err := rig.engine.Sync(ctx, "ws1")
	require.NoError(t, err)
	require.Equal(t, 1, rig.poller.calls)

	report, err := rig.engine.Sync(ctx, "ws1")
	require.ErrorIs(t, err, ErrSyncCooldown)
	require.Nil(t, report)
	require.Equal(t, 1, rig.poller.calls, "rejected pass must not touch the mailbox")
}
