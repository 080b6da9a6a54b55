package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/flowdesk-io/flowdesk/internal/jobid"
	"github.com/flowdesk-io/flowdesk/internal/mailbox"
	"github.com/flowdesk-io/flowdesk/internal/middleware"
	"github.com/flowdesk-io/flowdesk/internal/models"
	"github.com/flowdesk-io/flowdesk/internal/repository"
	syncengine "github.com/flowdesk-io/flowdesk/internal/sync"
	"github.com/flowdesk-io/flowdesk/internal/tickets"
)

type fakeSyncer struct {
	report *syncengine.Report
	err    error
}

func (f *fakeSyncer) Sync(context.Context, string) (*syncengine.Report, error) {
	return f.report, f.err
}

type fakeFullPoller struct {
	full *models.Message
	err  error
}

func (f *fakeFullPoller) Poll(context.Context, mailbox.Account) ([]*models.Message, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeFullPoller) FetchFull(context.Context, mailbox.Account, uint32) (*models.Message, error) {
	return f.full, f.err
}

type apiRig struct {
	router   *gin.Engine
	jwt      *middleware.JWTManager
	syncer   *fakeSyncer
	poller   *fakeFullPoller
	tickets  *repository.MemoryTicketRepository
	messages *repository.MemoryMessageRepository
	alloc    *jobid.Allocator
}

func newAPIRig(t *testing.T) *apiRig {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rig := &apiRig{
		jwt:      middleware.NewJWTManager("test-secret", time.Hour),
		syncer:   &fakeSyncer{report: &syncengine.Report{EmailsFetched: 3, TicketsCreated: 2, DuplicatesSkipped: 1}},
		poller:   &fakeFullPoller{},
		tickets:  repository.NewMemoryTicketRepository(),
		messages: repository.NewMemoryMessageRepository(),
		alloc:    jobid.NewAllocator(jobid.NewMemoryStore()),
	}
	svc := tickets.NewService(rig.tickets, rig.messages, nil)
	server := NewServer(rig.syncer, svc, rig.messages, rig.alloc,
		rig.poller, mailbox.Account{}, rig.jwt, "ws1")
	rig.router = server.Router()
	return rig
}

func (rig *apiRig) do(t *testing.T, method, path, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if role != "" {
		token, err := rig.jwt.Generate("user-1", role)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	rig.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func (rig *apiRig) seedTicket(t *testing.T, jobID string, status models.Status, msgIDs ...string) {
	t.Helper()
	ctx := context.Background()
	tk := &models.Ticket{
		WorkspaceID: "ws1", JobID: jobID, ClientName: "Knownco",
		ClientEmail: "dana@knownco.com", Status: status, MessageID: jobID + "@x",
	}
	if status != models.StatusNotAssigned {
		tk.TeamMembers = models.StringList{"worker@flowdesk.example"}
	}
	for _, id := range msgIDs {
		tk.Messages = append(tk.Messages, models.MessageSnapshot{MessageID: id})
	}
	require.NoError(t, rig.tickets.Insert(ctx, tk))
	for _, id := range msgIDs {
		rig.messages.UpsertBatch(ctx, "ws1", []*models.Message{{MessageID: id, Starred: true}})
		require.NoError(t, rig.messages.LinkToTicket(ctx, "ws1", id, jobID))
	}
}

func TestAuthRequired(t *testing.T) {
	rig := newAPIRig(t)
	w := rig.do(t, http.MethodGet, "/api/v1/tickets", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSyncRoleRestricted(t *testing.T) {
	rig := newAPIRig(t)
	w := rig.do(t, http.MethodPost, "/api/v1/sync", middleware.RoleMember, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestSyncReportsCounts(t *testing.T) {
	rig := newAPIRig(t)
	w := rig.do(t, http.MethodPost, "/api/v1/sync", middleware.RoleCoordinator, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	require.Equal(t, float64(3), body["emailsFetched"])
	require.Equal(t, float64(2), body["ticketsCreated"])
	require.Equal(t, float64(1), body["duplicatesSkipped"])
}

func TestSyncBusyIsANoopNotAFailure(t *testing.T) {
	rig := newAPIRig(t)
	rig.syncer.report = nil
	rig.syncer.err = syncengine.ErrSyncCooldown
	w := rig.do(t, http.MethodPost, "/api/v1/sync", middleware.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	require.Equal(t, float64(0), body["ticketsCreated"])
	require.Contains(t, body["message"], "already running")
}

func TestTicketLifecycleOverHTTP(t *testing.T) {
	rig := newAPIRig(t)
	rig.seedTicket(t, "KNC001", models.StatusNotAssigned, "m1@x", "m2@x")

	w := rig.do(t, http.MethodGet, "/api/v1/tickets", middleware.RoleMember, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, float64(1), decode(t, w)["count"])

	w = rig.do(t, http.MethodPost, "/api/v1/tickets/KNC001/assign", middleware.RoleCoordinator, gin.H{
		"owner":        "coord@flowdesk.example",
		"team_members": []string{"worker@flowdesk.example"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = rig.do(t, http.MethodPost, "/api/v1/tickets/KNC001/status", middleware.RoleMember, gin.H{"status": "in_process"})
	require.Equal(t, http.StatusOK, w.Code)

	// Undo is now rejected: the ticket left not_assigned.
	w = rig.do(t, http.MethodDelete, "/api/v1/tickets/KNC001", middleware.RoleCoordinator, nil)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestStatusConflictNamesTransition(t *testing.T) {
	rig := newAPIRig(t)
	rig.seedTicket(t, "KNC001", models.StatusAssigned)

	w := rig.do(t, http.MethodPost, "/api/v1/tickets/KNC001/status", middleware.RoleCoordinator, gin.H{"status": "sent"})
	require.Equal(t, http.StatusConflict, w.Code)
	require.Contains(t, decode(t, w)["error"], "assigned -> sent")
}

func TestUndoReturnsMessagesToPool(t *testing.T) {
	rig := newAPIRig(t)
	rig.seedTicket(t, "KNC001", models.StatusNotAssigned, "m1@x", "m2@x")

	w := rig.do(t, http.MethodDelete, "/api/v1/tickets/KNC001", middleware.RoleCoordinator, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = rig.do(t, http.MethodGet, "/api/v1/messages/unlinked", middleware.RoleMember, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, float64(2), decode(t, w)["count"])

	w = rig.do(t, http.MethodGet, "/api/v1/tickets/KNC001", middleware.RoleMember, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestMergeMismatchIsConflict(t *testing.T) {
	rig := newAPIRig(t)
	rig.seedTicket(t, "ACM001", models.StatusNotAssigned)
	rig.seedTicket(t, "GLO001", models.StatusNotAssigned)
	ctx := context.Background()

	acme, err := rig.tickets.GetByJobID(ctx, "ws1", "ACM001")
	require.NoError(t, err)
	acme.ClientName, acme.ClientEmail = "Acme", "jo@acme.com"
	require.NoError(t, rig.tickets.Update(ctx, nil, acme))
	globex, err := rig.tickets.GetByJobID(ctx, "ws1", "GLO001")
	require.NoError(t, err)
	globex.ClientName, globex.ClientEmail = "Globex", "pat@globex.com"
	require.NoError(t, rig.tickets.Update(ctx, nil, globex))

	w := rig.do(t, http.MethodPost, "/api/v1/tickets/ACM001/merge", middleware.RoleCoordinator, gin.H{"target_job_id": "GLO001"})
	require.Equal(t, http.StatusConflict, w.Code)
	msg := decode(t, w)["error"].(string)
	require.Contains(t, msg, "Acme")
	require.Contains(t, msg, "Globex")
}

func TestFullMessageFetchEncodesAttachmentBytes(t *testing.T) {
	rig := newAPIRig(t)
	rig.messages.UpsertBatch(context.Background(), "ws1", []*models.Message{{MessageID: "m1@x", UID: 42}})
	rig.poller.full = &models.Message{
		MessageID: "m1@x", UID: 42, Subject: "with attachment",
		Attachments: []models.Attachment{{
			Filename: "brief.pdf", ContentType: "application/pdf",
			Size: 4, Data: []byte("%PDF"),
		}},
	}

	w := rig.do(t, http.MethodGet, "/api/v1/messages/m1@x/full", middleware.RoleMember, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	atts := body["attachments"].([]any)
	require.Len(t, atts, 1)
	att := atts[0].(map[string]any)
	require.Equal(t, "brief.pdf", att["filename"])
	require.Equal(t, base64.StdEncoding.EncodeToString([]byte("%PDF")), att["data"])
}

func TestAdminCountersRoundTrip(t *testing.T) {
	rig := newAPIRig(t)

	// Only admin may touch counters.
	w := rig.do(t, http.MethodGet, "/api/v1/admin/counters/KNC", middleware.RoleCoordinator, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = rig.do(t, http.MethodPut, "/api/v1/admin/counters/KNC", middleware.RoleAdmin, gin.H{"value": 250})
	require.Equal(t, http.StatusOK, w.Code)

	w = rig.do(t, http.MethodGet, "/api/v1/admin/counters/KNC", middleware.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, float64(250), decode(t, w)["current"])
}

func TestHealthz(t *testing.T) {
	rig := newAPIRig(t)
	w := rig.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
}
