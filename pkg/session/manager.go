package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DistilledAI/conductor/pkg/agent"
	"github.com/DistilledAI/conductor/pkg/agent/prompt"
	"github.com/DistilledAI/conductor/pkg/config"
	"github.com/DistilledAI/conductor/pkg/controller"
	"github.com/DistilledAI/conductor/pkg/events"
	"github.com/DistilledAI/conductor/pkg/hub"
	"github.com/DistilledAI/conductor/pkg/llm"
	"github.com/DistilledAI/conductor/pkg/plan"
)

const dbOpTimeout = 5 * time.Second

// ErrConversationNotFound reports a conversation id with neither a live
// session nor a database record.
var ErrConversationNotFound = errors.New("conversation not found")

// Manager creates and tracks conversations. pool and journal may both be nil
// for in-memory operation (headless CLI without persistence).
type Manager struct {
	cfg      *config.Config
	pool     *pgxpool.Pool
	journal  *events.Journal
	registry *Registry

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager builds a session manager on the given database handles.
func NewManager(cfg *config.Config, pool *pgxpool.Pool, journal *events.Journal) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:      cfg,
		pool:     pool,
		journal:  journal,
		registry: NewRegistry(cfg.Session.MaxConcurrent),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// CreateParams carries per-conversation overrides of the session defaults.
type CreateParams struct {
	InitialMessage string
	ImageURLs      []string

	MaxIterations    int     // 0 uses the configured default
	MaxBudgetPerTask float64 // 0 uses the configured default
	ConfirmationMode *bool   // nil uses the configured default

	// Headless disables interactive recovery: budget and iteration limits
	// error the conversation out instead of pausing for the user.
	Headless bool

	// ReplayEvents seeds deterministic replay of a recorded trajectory.
	ReplayEvents []events.Event

	// StatusCallback receives out-of-band status notices (headless mode).
	StatusCallback controller.StatusCallback

	// OnEvent, when set, is subscribed to the stream before the opening
	// message is published, so the caller observes the conversation from
	// event 0. Used by the CLI renderer.
	OnEvent events.Handler
}

// Create starts a new conversation: reserves capacity, persists the record,
// assembles the stream/agents/controller, and publishes the opening user
// message. Returns ErrAtCapacity when the instance is full.
func (m *Manager) Create(ctx context.Context, params CreateParams) (*Session, error) {
	if strings.TrimSpace(params.InitialMessage) == "" {
		return nil, ErrEmptyMessage
	}

	id := uuid.NewString()
	if err := m.registry.Reserve(id); err != nil {
		return nil, err
	}
	if err := m.insertConversation(ctx, id); err != nil {
		m.registry.Remove(id)
		return nil, err
	}

	sess, err := m.startSession(id, params)
	if err != nil {
		m.registry.Remove(id)
		m.markFailed(id)
		return nil, err
	}
	m.registry.Bind(id, sess)

	if err := sess.SendMessage(params.InitialMessage, params.ImageURLs); err != nil {
		sess.Close()
		m.registry.Remove(id)
		return nil, err
	}

	slog.Info("Conversation created",
		"conversation_id", id,
		"headless", params.Headless,
		"active_conversations", m.registry.ActiveCount())
	return sess, nil
}

// startSession assembles the conversation machinery: event stream with
// journal sink, plan store, planner agent, delegate executor factory, the
// top-level controller, the runtime bridge, and the state watcher.
func (m *Manager) startSession(id string, params CreateParams) (*Session, error) {
	var sink events.Sink
	if m.journal != nil {
		sink = m.journal.Sink(id)
	}
	stream := events.NewStream(id, sink)

	plans := plan.NewStore()
	planTool := plan.NewTool(plans)
	prompts := prompt.NewBuilder()
	hubClient := hub.NewClient(
		m.cfg.FunctionHub.URL,
		m.cfg.FunctionHub.WalletAddress,
		m.cfg.FunctionHub.APIKey,
		m.cfg.FunctionHub.Timeout)

	agentCfg := m.agentConfig()
	plannerLLM := llm.NewOpenAI(m.llmConfig())
	planner := agent.NewPlanner("planner", plannerLLM, planTool, agentCfg, prompts)

	// Each delegate gets a fresh completer so its spend and token counters
	// start at zero.
	newExecutor := func(delegateID string) (agent.Agent, *llm.Metrics, error) {
		completer := llm.NewOpenAI(m.llmConfig())
		exec := agent.NewExecutor("executor", completer, hubClient, agentCfg, prompts)
		return exec, completer.Metrics(), nil
	}

	maxIterations := params.MaxIterations
	if maxIterations <= 0 {
		maxIterations = m.cfg.Session.MaxIterations
	}
	budget := params.MaxBudgetPerTask
	if budget <= 0 {
		budget = m.cfg.Session.MaxBudgetPerTask
	}
	confirmation := m.cfg.Session.ConfirmationMode
	if params.ConfirmationMode != nil {
		confirmation = *params.ConfirmationMode
	}

	ctrl, err := controller.New(controller.Options{
		SessionID:        id,
		Stream:           stream,
		Agent:            planner,
		LiveMetrics:      plannerLLM.Metrics(),
		Plans:            plans,
		NewExecutor:      newExecutor,
		Prompts:          prompts,
		MaxIterations:    maxIterations,
		MaxBudgetPerTask: budget,
		ConfirmationMode: confirmation,
		Headless:         params.Headless,
		EnableTruncation: m.cfg.Agent.EnableHistoryTruncation,
		StatusCallback:   params.StatusCallback,
		ReplayEvents:     params.ReplayEvents,
	})
	if err != nil {
		stream.Close()
		return nil, fmt.Errorf("build controller: %w", err)
	}

	var sessCtx context.Context
	var cancel context.CancelFunc
	if timeout := m.cfg.Session.SessionTimeout; timeout > 0 {
		sessCtx, cancel = context.WithTimeout(m.ctx, timeout)
	} else {
		sessCtx, cancel = context.WithCancel(m.ctx)
	}

	s := &Session{
		id:         id,
		created:    time.Now().UTC(),
		stream:     stream,
		ctrl:       ctrl,
		plans:      plans,
		pool:       m.pool,
		cancel:     cancel,
		onExpired:  m.registry.Remove,
		logger:     slog.With("conversation_id", id),
		lastSynced: controller.StateLoading,
	}

	newBridge(sessCtx, stream, hubClient, planTool, s.logger).subscribe()
	stream.Subscribe(events.SubscriberServer, "state-watch", s.onEvent)
	if params.OnEvent != nil {
		stream.Subscribe(events.SubscriberMain, "main", params.OnEvent)
	}
	go s.watchLifetime(sessCtx)

	return s, nil
}

// Get returns the live session for id, if one is resident.
func (m *Manager) Get(id string) (*Session, bool) {
	return m.registry.Get(id)
}

// ActiveCount returns the number of resident non-terminal conversations.
func (m *Manager) ActiveCount() int {
	return m.registry.ActiveCount()
}

// Delete closes the live session and releases its registry slot. The
// conversation record and journal stay: only the running machinery goes.
func (m *Manager) Delete(id string) error {
	s, ok := m.registry.Get(id)
	if !ok {
		return ErrSessionNotFound
	}
	s.Close()
	m.registry.Remove(id)
	slog.Info("Conversation closed", "conversation_id", id)
	return nil
}

// ConversationRecord is the persisted state snapshot of a conversation.
type ConversationRecord struct {
	ID           string    `json:"conversation_id"`
	Status       string    `json:"status"`
	AgentState   string    `json:"agent_state"`
	FinalThought string    `json:"final_thought,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// LookupConversation reads the persisted record for id; it serves detail
// queries for conversations whose session is no longer resident.
func (m *Manager) LookupConversation(ctx context.Context, id string) (*ConversationRecord, error) {
	if m.pool == nil {
		return nil, ErrConversationNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, dbOpTimeout)
	defer cancel()

	var rec ConversationRecord
	err := m.pool.QueryRow(ctx,
		`SELECT id, status, agent_state, final_thought, created_at, updated_at FROM conversations WHERE id = $1`,
		id).Scan(&rec.ID, &rec.Status, &rec.AgentState, &rec.FinalThought, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("look up conversation: %w", err)
	}
	return &rec, nil
}

// ListConversations returns persisted records, newest first.
func (m *Manager) ListConversations(ctx context.Context, limit int) ([]ConversationRecord, error) {
	if m.pool == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := context.WithTimeout(ctx, dbOpTimeout)
	defer cancel()

	rows, err := m.pool.Query(ctx,
		`SELECT id, status, agent_state, final_thought, created_at, updated_at FROM conversations ORDER BY created_at DESC LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []ConversationRecord
	for rows.Next() {
		var rec ConversationRecord
		if err := rows.Scan(&rec.ID, &rec.Status, &rec.AgentState, &rec.FinalThought, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Shutdown closes every resident session, waiting up to the context deadline
// before abandoning the stragglers.
func (m *Manager) Shutdown(ctx context.Context) {
	defer m.cancel()

	active := m.registry.ActiveIDs()
	if len(active) > 0 {
		slog.Info("Closing active conversations",
			"count", len(active), "conversation_ids", active)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, s := range m.registry.All() {
			s.Close()
		}
	}()

	select {
	case <-done:
		slog.Info("Session manager stopped")
	case <-ctx.Done():
		slog.Warn("Graceful shutdown timed out, abandoning remaining conversations",
			"error", ctx.Err())
	}
}

func (m *Manager) llmConfig() llm.Config {
	return llm.Config{
		Model:              m.cfg.LLM.Model,
		BaseURL:            m.cfg.LLM.BaseURL,
		APIKey:             m.cfg.LLM.APIKey(),
		Temperature:        m.cfg.LLM.Temperature,
		MaxOutputTokens:    m.cfg.LLM.MaxOutputTokens,
		Timeout:            m.cfg.LLM.Timeout,
		CachingPrompt:      m.cfg.LLM.CachingPrompt,
		InputCostPerToken:  m.cfg.LLM.InputCostPerToken,
		OutputCostPerToken: m.cfg.LLM.OutputCostPerToken,
	}
}

func (m *Manager) agentConfig() agent.Config {
	return agent.Config{
		EnableBrowsing:  m.cfg.Agent.EnableBrowsing,
		EnableJupyter:   m.cfg.Agent.EnableJupyter,
		EnableLLMEditor: m.cfg.Agent.EnableLLMEditor,
		MaxMessageChars: m.cfg.Agent.MaxMessageChars,
		CachingPrompt:   m.cfg.LLM.CachingPrompt,
		EnableVision:    m.cfg.Agent.EnableVision,
	}
}

func (m *Manager) insertConversation(ctx context.Context, id string) error {
	if m.pool == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, dbOpTimeout)
	defer cancel()
	if _, err := m.pool.Exec(ctx, `INSERT INTO conversations (id) VALUES ($1)`, id); err != nil {
		return fmt.Errorf("create conversation record: %w", err)
	}
	return nil
}

// markFailed records a conversation that died during assembly.
func (m *Manager) markFailed(id string) {
	if m.pool == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), dbOpTimeout)
	defer cancel()
	_, err := m.pool.Exec(ctx,
		`UPDATE conversations SET status = 'error', agent_state = 'error', updated_at = now() WHERE id = $1`, id)
	if err != nil {
		slog.Warn("Failed to mark conversation errored", "conversation_id", id, "error", err)
	}
}
