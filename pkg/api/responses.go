package api

import (
	"encoding/json"
	"time"

	"github.com/DistilledAI/conductor/pkg/llm"
	"github.com/DistilledAI/conductor/pkg/plan"
)

// CreateConversationResponse is returned by POST /api/v1/conversations.
type CreateConversationResponse struct {
	ConversationID string `json:"conversation_id"`
	Status         string `json:"status"`
}

// AcceptedResponse acknowledges an asynchronous command (message, ingested
// observation).
type AcceptedResponse struct {
	ConversationID string `json:"conversation_id"`
	Status         string `json:"status"`
}

// ConfirmResponse is returned by POST /api/v1/conversations/:id/confirm.
type ConfirmResponse struct {
	ConversationID string `json:"conversation_id"`
	Decision       string `json:"decision"`
}

// CancelResponse is returned by DELETE /api/v1/conversations/:id.
type CancelResponse struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

// ConversationDetail is the status snapshot returned by
// GET /api/v1/conversations/:id. Live conversations carry the controller
// view; evicted ones fall back to the persisted record, with the live-only
// fields zeroed and Live false.
type ConversationDetail struct {
	ConversationID   string              `json:"conversation_id"`
	Live             bool                `json:"live"`
	Status           string              `json:"status"`
	AgentState       string              `json:"agent_state"`
	TrafficControl   string              `json:"traffic_control_state,omitempty"`
	Iteration        int                 `json:"iteration"`
	MaxIterations    int                 `json:"max_iterations,omitempty"`
	ActivePlanID     string              `json:"active_plan_id,omitempty"`
	CurrentTaskIndex int                 `json:"current_task_index"`
	Cost             float64             `json:"accumulated_cost"`
	Usage            llm.MetricsSnapshot `json:"usage"`
	LastError        string              `json:"last_error,omitempty"`
	FinalThought     string              `json:"final_thought,omitempty"`
	LatestEventID    int                 `json:"latest_event_id"`
	CreatedAt        *time.Time          `json:"created_at,omitempty"`
	UpdatedAt        *time.Time          `json:"updated_at,omitempty"`
}

// EventsResponse is returned by GET /api/v1/conversations/:id/events. Each
// entry is one journal envelope.
type EventsResponse struct {
	ConversationID string            `json:"conversation_id"`
	Events         []json.RawMessage `json:"events"`
	Count          int               `json:"count"`
}

// PlanResponse is returned by GET /api/v1/conversations/:id/plan.
type PlanResponse struct {
	ConversationID string     `json:"conversation_id"`
	Plan           *plan.Plan `json:"plan"`
	Rendered       string     `json:"rendered"`
	CompletedSteps int        `json:"completed_steps"`
	TotalSteps     int        `json:"total_steps"`
}

// HealthCheck is one component entry in the health response.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /api/v1/health.
type HealthResponse struct {
	Status              string                 `json:"status"`
	Version             string                 `json:"version"`
	Checks              map[string]HealthCheck `json:"checks"`
	ActiveConversations int                    `json:"active_conversations"`
	WSConnections       int                    `json:"ws_connections"`
}
