package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/DistilledAI/conductor/pkg/controller"
	"github.com/DistilledAI/conductor/pkg/session"
)

// createConversationHandler handles POST /api/v1/conversations.
func (s *Server) createConversationHandler(c *gin.Context) {
	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if len(req.InitialMessage) > maxContentLength {
		c.JSON(http.StatusRequestEntityTooLarge,
			ErrorResponse{Error: "initial_message exceeds maximum length of 100,000 characters"})
		return
	}
	if req.MaxIterations < 0 || req.MaxBudgetPerTask < 0 {
		c.JSON(http.StatusBadRequest,
			ErrorResponse{Error: "max_iterations and max_budget_per_task must be non-negative"})
		return
	}

	sess, err := s.manager.Create(c.Request.Context(), session.CreateParams{
		InitialMessage:   req.InitialMessage,
		ImageURLs:        req.ImageURLs,
		MaxIterations:    req.MaxIterations,
		MaxBudgetPerTask: req.MaxBudgetPerTask,
		ConfirmationMode: req.ConfirmationMode,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, &CreateConversationResponse{
		ConversationID: sess.ID(),
		Status:         "active",
	})
}

// listConversationsHandler handles GET /api/v1/conversations.
func (s *Server) listConversationsHandler(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	records, err := s.manager.ListConversations(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if records == nil {
		records = []session.ConversationRecord{}
	}
	c.JSON(http.StatusOK, records)
}

// getConversationHandler handles GET /api/v1/conversations/:id.
func (s *Server) getConversationHandler(c *gin.Context) {
	id := c.Param("id")

	if sess, ok := s.manager.Get(id); ok {
		view := sess.View()
		created := sess.CreatedAt()
		detail := &ConversationDetail{
			ConversationID:   id,
			Live:             true,
			Status:           session.StatusForState(view.AgentState),
			AgentState:       string(view.AgentState),
			TrafficControl:   string(view.TrafficControl),
			Iteration:        view.Iteration,
			MaxIterations:    view.MaxIterations,
			ActivePlanID:     view.ActivePlanID,
			CurrentTaskIndex: view.CurrentTaskIndex,
			Cost:             view.Cost,
			Usage:            view.Usage,
			LastError:        view.LastError,
			LatestEventID:    sess.Stream().LatestEventID(),
			CreatedAt:        &created,
		}
		c.JSON(http.StatusOK, detail)
		return
	}

	record, err := s.manager.LookupConversation(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, &ConversationDetail{
		ConversationID:   record.ID,
		Status:           record.Status,
		AgentState:       record.AgentState,
		CurrentTaskIndex: -1,
		FinalThought:     record.FinalThought,
		LatestEventID:    s.latestJournaledID(c, record.ID),
		CreatedAt:        &record.CreatedAt,
		UpdatedAt:        &record.UpdatedAt,
	})
}

// deleteConversationHandler handles DELETE /api/v1/conversations/:id. The
// live session is closed and deregistered; the persisted record and journal
// stay readable.
func (s *Server) deleteConversationHandler(c *gin.Context) {
	id := c.Param("id")
	if err := s.manager.Delete(id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, &CancelResponse{
		ConversationID: id,
		Message:        "Conversation closed",
	})
}

// sendMessageHandler handles POST /api/v1/conversations/:id/messages. It is
// the resume path for every waiting state: AWAITING_USER_INPUT, a throttled
// budget, or a terminal planner picking up a follow-up task.
func (s *Server) sendMessageHandler(c *gin.Context) {
	id := c.Param("id")
	sess, ok := s.manager.Get(id)
	if !ok {
		respondError(c, session.ErrSessionNotFound)
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if len(req.Content) > maxContentLength {
		c.JSON(http.StatusRequestEntityTooLarge,
			ErrorResponse{Error: "content exceeds maximum length of 100,000 characters"})
		return
	}

	if err := sess.SendMessage(req.Content, req.ImageURLs); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, &AcceptedResponse{ConversationID: id, Status: "accepted"})
}

// confirmHandler handles POST /api/v1/conversations/:id/confirm.
func (s *Server) confirmHandler(c *gin.Context) {
	id := c.Param("id")
	sess, ok := s.manager.Get(id)
	if !ok {
		respondError(c, session.ErrSessionNotFound)
		return
	}

	var req ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	if err := sess.Confirm(*req.Accept); err != nil {
		respondError(c, err)
		return
	}
	decision := string(controller.StateUserConfirmed)
	if !*req.Accept {
		decision = string(controller.StateUserRejected)
	}
	c.JSON(http.StatusOK, &ConfirmResponse{ConversationID: id, Decision: decision})
}

// latestJournaledID reads the highest journaled event id; -1 without a
// journal or on error (the detail response stays useful either way).
func (s *Server) latestJournaledID(c *gin.Context, id string) int {
	if s.journal == nil {
		return -1
	}
	latest, err := s.journal.LatestEventID(c.Request.Context(), id)
	if err != nil {
		return -1
	}
	return latest
}
