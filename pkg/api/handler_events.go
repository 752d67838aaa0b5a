package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/DistilledAI/conductor/pkg/events"
	"github.com/DistilledAI/conductor/pkg/plan"
	"github.com/DistilledAI/conductor/pkg/session"
)

// getEventsHandler handles GET /api/v1/conversations/:id/events.
// Query: since_id (exclusive lower bound, default all), types (comma list of
// event kinds to include), reverse (newest first). Live conversations read
// the stream; evicted ones fall back to the journal.
func (s *Server) getEventsHandler(c *gin.Context) {
	id := c.Param("id")

	sinceID := -1
	if v := c.Query("since_id"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "since_id must be an integer"})
			return
		}
		sinceID = n
	}
	reverse := false
	if v := c.Query("reverse"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "reverse must be a boolean"})
			return
		}
		reverse = b
	}
	var include map[events.Kind]bool
	if v := c.Query("types"); v != "" {
		include = make(map[events.Kind]bool)
		for _, t := range strings.Split(v, ",") {
			include[events.Kind(strings.TrimSpace(t))] = true
		}
	}

	evs, err := s.loadEvents(c, id, sinceID)
	if err != nil {
		respondError(c, err)
		return
	}

	if include != nil {
		kept := evs[:0]
		for _, ev := range evs {
			if include[ev.Kind()] {
				kept = append(kept, ev)
			}
		}
		evs = kept
	}
	if reverse {
		for i, j := 0, len(evs)-1; i < j; i, j = i+1, j-1 {
			evs[i], evs[j] = evs[j], evs[i]
		}
	}

	raw := make([]json.RawMessage, 0, len(evs))
	for _, ev := range evs {
		data, err := events.Marshal(ev)
		if err != nil {
			respondError(c, err)
			return
		}
		raw = append(raw, data)
	}
	c.JSON(http.StatusOK, &EventsResponse{
		ConversationID: id,
		Events:         raw,
		Count:          len(raw),
	})
}

// loadEvents reads a conversation's events after sinceID, preferring the
// live stream over the journal.
func (s *Server) loadEvents(c *gin.Context, id string, sinceID int) ([]events.Event, error) {
	if sess, ok := s.manager.Get(id); ok {
		return sess.Stream().GetEvents(sinceID+1, -1, false, nil, false), nil
	}
	if s.journal == nil {
		return nil, session.ErrConversationNotFound
	}
	if _, err := s.manager.LookupConversation(c.Request.Context(), id); err != nil {
		return nil, err
	}
	return s.journal.GetEvents(c.Request.Context(), id, sinceID, 0)
}

// getPlanHandler handles GET /api/v1/conversations/:id/plan. Plans live in
// session memory only, so this serves resident conversations.
func (s *Server) getPlanHandler(c *gin.Context) {
	id := c.Param("id")
	sess, ok := s.manager.Get(id)
	if !ok {
		respondError(c, session.ErrSessionNotFound)
		return
	}

	p, ok := sess.ActivePlan()
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "conversation has no active plan"})
		return
	}
	c.JSON(http.StatusOK, &PlanResponse{
		ConversationID: id,
		Plan:           p,
		Rendered:       plan.Format(p),
		CompletedSteps: p.CompletedCount(),
		TotalSteps:     len(p.Steps),
	})
}

// getTrajectoryHandler handles GET /api/v1/conversations/:id/trajectory.
// The response is the replayable trajectory format produced by
// session.EncodeTrajectory.
func (s *Server) getTrajectoryHandler(c *gin.Context) {
	id := c.Param("id")

	evs, err := s.loadEvents(c, id, -1)
	if err != nil {
		respondError(c, err)
		return
	}
	data, err := session.EncodeTrajectory(evs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

// ingestObservationHandler handles POST /api/v1/conversations/:id/observations.
// External runtimes report action results here: the body is one journal-form
// event envelope whose cause links it to the action it answers. The control
// plane publishes shell, editor and browser actions but never executes them;
// this endpoint closes that loop.
func (s *Server) ingestObservationHandler(c *gin.Context) {
	id := c.Param("id")
	sess, ok := s.manager.Get(id)
	if !ok {
		respondError(c, session.ErrSessionNotFound)
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "failed to read request body"})
		return
	}
	ev, err := events.Unmarshal(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid event envelope: " + err.Error()})
		return
	}

	if err := sess.Ingest(ev); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, &AcceptedResponse{ConversationID: id, Status: "accepted"})
}
