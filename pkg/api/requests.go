package api

// maxContentLength caps user-supplied message bodies.
const maxContentLength = 100_000

// CreateConversationRequest is the body of POST /api/v1/conversations.
// Optional fields fall back to the configured session defaults.
type CreateConversationRequest struct {
	InitialMessage   string   `json:"initial_message" binding:"required"`
	ImageURLs        []string `json:"image_urls,omitempty"`
	ConfirmationMode *bool    `json:"confirmation_mode,omitempty"`
	MaxIterations    int      `json:"max_iterations,omitempty"`
	MaxBudgetPerTask float64  `json:"max_budget_per_task,omitempty"`
}

// SendMessageRequest is the body of POST /api/v1/conversations/:id/messages.
type SendMessageRequest struct {
	Content   string   `json:"content" binding:"required"`
	ImageURLs []string `json:"image_urls,omitempty"`
}

// ConfirmRequest is the body of POST /api/v1/conversations/:id/confirm.
// Accept is a pointer so an explicit false binds.
type ConfirmRequest struct {
	Accept *bool `json:"accept" binding:"required"`
}
