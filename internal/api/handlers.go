package api

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flowdesk-io/flowdesk/internal/database"
	"github.com/flowdesk-io/flowdesk/internal/models"
	"github.com/flowdesk-io/flowdesk/internal/repository"
	syncengine "github.com/flowdesk-io/flowdesk/internal/sync"
	"github.com/flowdesk-io/flowdesk/internal/tickets"
)

func (s *Server) handleSync(c *gin.Context) {
	ws := s.workspace(c)
	report, err := s.engine.Sync(c.Request.Context(), ws)
	switch {
	case errors.Is(err, syncengine.ErrSyncBusy), errors.Is(err, syncengine.ErrSyncCooldown):
		// Repeated triggers are a safe no-op, not a failure.
		c.JSON(http.StatusOK, gin.H{
			"message":        "sync already running or completed recently",
			"emailsFetched":  0,
			"ticketsCreated": 0,
		})
		return
	case err != nil:
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":           "sync completed",
		"emailsFetched":     report.EmailsFetched,
		"ticketsCreated":    report.TicketsCreated,
		"duplicatesSkipped": report.DuplicatesSkipped,
	})
}

func (s *Server) handleListTickets(c *gin.Context) {
	list, err := s.tickets.List(c.Request.Context(), s.workspace(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tickets": list, "count": len(list)})
}

func (s *Server) handleGetTicket(c *gin.Context) {
	t, err := s.tickets.Get(c.Request.Context(), s.workspace(c), c.Param("jobID"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) handleAssign(c *gin.Context) {
	var in tickets.Assignment
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	t, warnings, err := s.tickets.Assign(c.Request.Context(), s.workspace(c), c.Param("jobID"), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	resp := gin.H{"ticket": t}
	if len(warnings) > 0 {
		resp["warnings"] = warnings
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSetStatus(c *gin.Context) {
	var in struct {
		Status models.Status `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	t, err := s.tickets.SetStatus(c.Request.Context(), s.workspace(c), c.Param("jobID"), in.Status)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) handleMerge(c *gin.Context) {
	var in struct {
		TargetJobID string `json:"target_job_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	target, err := s.tickets.Merge(c.Request.Context(), s.workspace(c), c.Param("jobID"), in.TargetJobID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, target)
}

func (s *Server) handleUndo(c *gin.Context) {
	jobID := c.Param("jobID")
	if err := s.tickets.Undo(c.Request.Context(), s.workspace(c), jobID); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ticket " + jobID + " removed, messages returned for review"})
}

func (s *Server) handleUnlinkedMessages(c *gin.Context) {
	msgs, err := s.messages.ListUnlinked(c.Request.Context(), s.workspace(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "count": len(msgs)})
}

// handleFullMessage re-fetches one message from the mailbox by UID,
// including attachment bytes, for the message-open view.
func (s *Server) handleFullMessage(c *gin.Context) {
	ctx := c.Request.Context()
	stored, err := s.messages.GetByMessageID(ctx, s.workspace(c), c.Param("messageID"))
	if err != nil {
		s.fail(c, err)
		return
	}
	full, err := s.poller.FetchFull(ctx, s.account, stored.UID)
	if err != nil {
		s.fail(c, err)
		return
	}

	attachments := make([]gin.H, 0, len(full.Attachments))
	for _, a := range full.Attachments {
		attachments = append(attachments, gin.H{
			"filename":     a.Filename,
			"content_type": a.ContentType,
			"size":         a.Size,
			"content_id":   a.ContentID,
			"data":         base64.StdEncoding.EncodeToString(a.Data),
		})
	}
	c.JSON(http.StatusOK, gin.H{"message": full, "attachments": attachments})
}

func (s *Server) handleGetCounter(c *gin.Context) {
	prefix := c.Param("prefix")
	current, err := s.counters.Current(c.Request.Context(), prefix)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"prefix": prefix, "current": current})
}

func (s *Server) handleSeedCounter(c *gin.Context) {
	var in struct {
		Value *int64 `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	prefix := c.Param("prefix")
	if err := s.counters.Seed(c.Request.Context(), prefix, *in.Value); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"prefix": prefix, "current": *in.Value})
}

// fail translates domain errors into HTTP responses. Validation errors
// carry the descriptive message through; infrastructure errors map to
// 503 so clients can retry.
func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, tickets.ErrClientMismatch),
		errors.Is(err, tickets.ErrInvalidTransition),
		errors.Is(err, tickets.ErrNoTeamMembers),
		errors.Is(err, tickets.ErrUndoNotAllowed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case database.IsConnectionError(err):
		s.logger.Printf("api: dependency unavailable: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "dependency unavailable, retry later"})
	default:
		s.logger.Printf("api: internal error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
