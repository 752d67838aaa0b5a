package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DistilledAI/conductor/pkg/agent"
	"github.com/DistilledAI/conductor/pkg/agent/prompt"
	"github.com/DistilledAI/conductor/pkg/conversation"
	"github.com/DistilledAI/conductor/pkg/events"
	"github.com/DistilledAI/conductor/pkg/llm"
	"github.com/DistilledAI/conductor/pkg/plan"
)

// Status callback ids surfaced to API clients alongside ERROR transitions.
const (
	StatusErrorLLMAuthentication      = "STATUS$ERROR_LLM_AUTHENTICATION"
	StatusErrorLLMServiceUnavailable  = "STATUS$ERROR_LLM_SERVICE_UNAVAILABLE"
	StatusErrorLLMInternalServerError = "STATUS$ERROR_LLM_INTERNAL_SERVER_ERROR"
	StatusErrorLLMOutOfCredits        = "STATUS$ERROR_LLM_OUT_OF_CREDITS"
	StatusErrorAgentStuckInLoop       = "STATUS$ERROR_AGENT_STUCK_IN_LOOP"
)

// condensationMessage is the history marker published after a long-context
// truncation; its arrival schedules the retry step.
const condensationMessage = "Trimming prompt to meet context window limitations"

// unexecutedActionMessage answers a pending tool call that a reset threw
// away, so the transcript never ends on an unanswered call.
const unexecutedActionMessage = "The action has not been executed."

// StatusCallback receives out-of-band error reports for status surfaces.
// level is "error"; id is one of the STATUS$ constants or empty.
type StatusCallback func(level, id, message string)

// DelegateFactory builds a fresh executor agent for one delegated task and
// returns the live metrics of its completer so the delegate controller can
// account spend.
type DelegateFactory func(delegateID string) (agent.Agent, *llm.Metrics, error)

// Kickoff renders the delegate kickoff and plan finalize messages.
// prompt.Builder satisfies it.
type Kickoff interface {
	TaskAssignment(planText string, taskIndex int, taskContent string, now time.Time) string
	FinalizeAllTasks() string
}

// Options configures a top-level controller. Plans and NewExecutor together
// enable plan mode: the controller steps the planner agent and spawns one
// delegate controller per task.
type Options struct {
	SessionID string
	Stream    *events.EventStream

	// Agent is the stepping agent: the planner in plan mode, the executor
	// otherwise. LiveMetrics is the metrics instance of its completer.
	Agent       agent.Agent
	LiveMetrics *llm.Metrics

	Plans        *plan.Store
	NewExecutor  DelegateFactory
	ExecutorName string
	Prompts      Kickoff

	MaxIterations    int
	MaxBudgetPerTask float64
	ConfirmationMode bool
	Headless         bool
	EnableTruncation bool

	StatusCallback StatusCallback

	// ReplayEvents seeds the replay manager with a recorded trajectory;
	// agent-sourced actions are re-published verbatim instead of calling
	// the LLM.
	ReplayEvents []events.Event

	// InitialState resumes a restored session; nil starts fresh.
	InitialState *State
}

// Controller projects the event stream into one agent's history, decides
// when the agent steps, and enforces the session limits. In plan mode it
// additionally owns the plan lifecycle and the per-task delegates.
//
// All state is mutated under mu on the subscription's dispatch goroutine;
// the LLM call inside step runs unlocked so Views and Close never wait on
// the provider.
type Controller struct {
	id     string
	stream *events.EventStream
	agent  agent.Agent
	live   *llm.Metrics

	headless bool
	truncate bool
	statusCb StatusCallback

	replay *ReplayManager
	stuck  *StuckDetector

	prompts      Kickoff
	executorName string

	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	initialMaxIterations int
	initialMaxBudget     float64

	mu      sync.Mutex
	state   *State
	pending events.Action
	// lastMerged tracks how much of the live accounting already made it
	// into the terminal rollup, so repeated merges stay additive.
	lastMerged   llm.MetricsSnapshot
	kick         bool
	closed       bool
	unsubscribed bool

	// plan mode
	planning    bool
	plans       *plan.Store
	newExecutor DelegateFactory
	tasks       map[string]map[int]*Controller
}

// New builds a controller, restores its window if resuming, and subscribes
// it to the stream. The controller starts in LOADING and transitions to
// RUNNING on the first user message.
func New(opts Options) (*Controller, error) {
	if opts.SessionID == "" {
		return nil, errors.New("controller: session id is required")
	}
	if opts.Stream == nil {
		return nil, errors.New("controller: event stream is required")
	}
	if opts.Agent == nil {
		return nil, errors.New("controller: agent is required")
	}
	if opts.LiveMetrics == nil {
		return nil, errors.New("controller: live metrics are required")
	}
	if opts.MaxIterations <= 0 {
		return nil, fmt.Errorf("controller: max iterations must be positive, got %d", opts.MaxIterations)
	}
	if opts.Plans != nil && opts.NewExecutor == nil {
		return nil, errors.New("controller: plan mode requires a delegate factory")
	}

	c := newController(opts)
	if opts.InitialState != nil {
		c.state = opts.InitialState
		c.initHistory()
	}
	if len(opts.ReplayEvents) > 0 {
		c.replay = NewReplayManager(opts.SessionID, opts.ReplayEvents)
	}

	c.stream.Subscribe(events.SubscriberController, c.id, c.onEvent)
	return c, nil
}

// newController wires the struct without subscribing; spawnDelegate and New
// share it.
func newController(opts Options) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	execName := opts.ExecutorName
	if execName == "" {
		execName = "executor"
	}
	prompts := opts.Prompts
	if prompts == nil {
		prompts = prompt.NewBuilder()
	}

	c := &Controller{
		id:                   opts.SessionID,
		stream:               opts.Stream,
		agent:                opts.Agent,
		live:                 opts.LiveMetrics,
		headless:             opts.Headless,
		truncate:             opts.EnableTruncation,
		statusCb:             opts.StatusCallback,
		stuck:                NewStuckDetector(opts.SessionID),
		prompts:              prompts,
		executorName:         execName,
		ctx:                  ctx,
		cancel:               cancel,
		initialMaxIterations: opts.MaxIterations,
		initialMaxBudget:     opts.MaxBudgetPerTask,
		state:                newState(opts.SessionID, opts.MaxIterations, opts.MaxBudgetPerTask, opts.ConfirmationMode),
		planning:             opts.Plans != nil,
		plans:                opts.Plans,
		newExecutor:          opts.NewExecutor,
		logger: slog.With(
			"session_id", opts.SessionID,
			"agent", opts.Agent.Name()),
	}
	if c.planning {
		c.tasks = make(map[string]map[int]*Controller)
	}
	return c
}

// ID returns the controller id (session id, or delegate id for task
// controllers).
func (c *Controller) ID() string { return c.id }

// View returns a locked snapshot for status surfaces.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	activePlan := c.state.ActivePlanID
	if c.planning {
		activePlan = c.plans.ActiveID()
	}
	usage := c.usageTotalLocked()
	return View{
		SessionID:        c.state.SessionID,
		AgentState:       c.state.AgentState,
		TrafficControl:   c.state.TrafficControl,
		Iteration:        c.state.Iteration,
		LocalIteration:   c.state.LocalIteration,
		MaxIterations:    c.state.MaxIterations,
		ActivePlanID:     activePlan,
		CurrentTaskIndex: c.state.CurrentTaskIndex,
		Cost:             usage.AccumulatedCost,
		Usage:            usage,
		LastError:        c.state.LastError,
	}
}

// EffectiveState returns the state the user is acting against: while a
// delegate is working its task, its state (RUNNING, AWAITING_USER_CONFIRMATION)
// is the one that matters; otherwise the controller's own.
func (c *Controller) EffectiveState() AgentState {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, byIndex := range c.tasks {
		for _, dlg := range byIndex {
			if st := dlg.EffectiveState(); !st.Terminal() {
				return st
			}
		}
	}
	return c.state.AgentState
}

// UsageTotal returns total LLM usage including unmerged live spend. Parents
// fold this into their own rollup when a delegate ends.
func (c *Controller) UsageTotal() llm.MetricsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usageTotalLocked()
}

// SetAgentState requests a state transition from outside the stream, e.g.
// the session runtime pausing a controller directly.
func (c *Controller) SetAgentState(next AgentState) {
	c.mu.Lock()
	c.setAgentStateLocked(next)
	kick := c.kick
	c.kick = false
	c.mu.Unlock()
	if kick {
		c.step()
	}
}

// Close unsubscribes the controller, stops in-flight work, and transitions
// to STOPPED unless the controller already ended. Safe to call repeatedly.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true

	for planID, byIndex := range c.tasks {
		for idx, dlg := range byIndex {
			dlg.Close()
			delete(byIndex, idx)
		}
		delete(c.tasks, planID)
	}

	if !c.unsubscribed {
		c.unsubscribed = true
		c.stream.Unsubscribe(events.SubscriberController, c.id)
	}
	if !c.state.AgentState.Terminal() {
		c.setAgentStateLocked(StateStopped)
	}
	c.mu.Unlock()
	c.cancel()
}

// onEvent is the subscription handler: project the event into history,
// apply its side effects, and step the agent if it warrants one.
func (c *Controller) onEvent(ev events.Event) {
	m := ev.Meta()

	c.mu.Lock()
	if c.closed || m.Hidden || m.ID < c.state.StartID {
		c.mu.Unlock()
		return
	}

	if c.appendsToHistoryLocked(ev) {
		c.state.History = append(c.state.History, ev)
	}

	switch e := ev.(type) {
	case events.Action:
		c.handleActionLocked(e)
	case events.Observation:
		c.handleObservationLocked(e)
	}

	step := c.shouldStepLocked(ev) || c.kick
	c.kick = false
	c.mu.Unlock()

	if step {
		c.step()
	}
}

// eventFiltered lists the event kinds that never enter any agent history:
// bookkeeping signals the LLM must not see.
func eventFiltered(ev events.Event) bool {
	switch ev.(type) {
	case *events.NullAction,
		*events.NullObservation,
		*events.ChangeAgentStateAction,
		*events.AgentStateChangedObservation,
		*events.PlanStatusObservation,
		*events.MarkTaskAction:
		return true
	}
	return false
}

// passThrough lists the events a planner still appends while a delegate is
// running.
func passThrough(ev events.Event) bool {
	switch ev.(type) {
	case *events.AgentFinishAction, *events.AssignTaskAction:
		return true
	}
	return false
}

func (c *Controller) appendsToHistoryLocked(ev events.Event) bool {
	if eventFiltered(ev) {
		return false
	}
	if c.planning && c.delegateActiveLocked() && !passThrough(ev) {
		return false
	}
	return true
}

func (c *Controller) handleActionLocked(act events.Action) {
	switch a := act.(type) {
	case *events.ChangeAgentStateAction:
		c.setAgentStateLocked(AgentState(a.AgentState))
	case *events.MessageAction:
		c.handleMessageLocked(a)
	case *events.AgentFinishAction:
		if c.planning {
			c.handlePlanFinishLocked(a)
		} else {
			c.handleFinishLocked(a)
		}
	case *events.AgentRejectAction:
		c.handleRejectLocked(a)
	case *events.CreatePlanAction:
		if c.planning {
			c.handleCreatePlanLocked(a)
		}
	case *events.MarkTaskAction:
		if c.planning {
			c.handleMarkTaskLocked(a)
		}
	case *events.AssignTaskAction:
		if c.planning {
			c.handleAssignTaskLocked(a)
		}
	}
}

// handleMessageLocked reacts to conversation messages. Every user message
// publishes a RecallAction whose answer drives the next step; that keeps
// exactly one step in flight per user turn.
func (c *Controller) handleMessageLocked(a *events.MessageAction) {
	switch a.Meta().Source {
	case events.SourceUser:
		c.logger.Info("User message received", "event_id", a.Meta().ID)
		if c.state.AgentState != StateRunning {
			c.setAgentStateLocked(StateRunning)
		}
		// A user turn outside headless runs re-extends the iteration
		// budget and lifts throttling.
		if !c.headless {
			c.state.MaxIterations = c.state.Iteration + c.initialMaxIterations
			if c.state.TrafficControl != TrafficNormal {
				c.state.TrafficControl = TrafficNormal
			}
		}
		recall := &events.RecallAction{Query: a.Content}
		c.pending = recall
		c.publishLocked(recall, events.SourceUser)
	case events.SourceAgent:
		if a.WaitForResponse {
			c.setAgentStateLocked(StateAwaitingUserInput)
		}
	}
}

func (c *Controller) handleFinishLocked(a *events.AgentFinishAction) {
	c.state.Outputs = a.Outputs
	c.mergeMetricsLocked()
	c.setAgentStateLocked(StateFinished)
}

func (c *Controller) handleRejectLocked(a *events.AgentRejectAction) {
	c.state.Outputs = a.Outputs
	c.mergeMetricsLocked()
	c.setAgentStateLocked(StateRejected)
}

func (c *Controller) handleObservationLocked(obs events.Observation) {
	if c.pending == nil || obs.Meta().Cause != c.pending.Meta().ID {
		return
	}
	// An answer arriving while the gate is still open is premature: the
	// action stays pending until the user decides.
	if c.state.AgentState == StateAwaitingUserConfirmation {
		return
	}
	c.pending = nil
	switch c.state.AgentState {
	case StateUserConfirmed:
		c.setAgentStateLocked(StateRunning)
	case StateUserRejected:
		c.setAgentStateLocked(StateAwaitingUserInput)
	}
}

// shouldStepLocked decides whether the event that was just handled warrants
// an agent step.
func (c *Controller) shouldStepLocked(ev events.Event) bool {
	if _, ok := ev.(events.Action); ok {
		msg, isMsg := ev.(*events.MessageAction)
		if !isMsg {
			return false
		}
		if msg.Meta().Source == events.SourceUser {
			return true
		}
		return c.state.AgentState != StateAwaitingUserInput
	}

	switch ev.(type) {
	case *events.NullObservation:
		return ev.Meta().Cause > events.NoCause
	case *events.AgentStateChangedObservation, *events.PlanStatusObservation:
		return false
	}
	_, isObs := ev.(events.Observation)
	return isObs
}

// step runs one agent turn. Guards run under the lock; the LLM call does
// not, and its result is discarded if the controller left RUNNING meanwhile.
func (c *Controller) step() {
	c.mu.Lock()
	if c.closed || c.state.AgentState != StateRunning {
		c.mu.Unlock()
		return
	}
	if c.planning && c.delegateActiveLocked() {
		c.mu.Unlock()
		return
	}
	if c.pending != nil {
		c.mu.Unlock()
		return
	}
	if !c.checkTrafficLocked() {
		c.mu.Unlock()
		return
	}
	if c.stuck.IsStuck(c.state.History) {
		c.reactToErrorLocked(&StuckInLoopError{Pattern: "repeated actions and observations"})
		c.mu.Unlock()
		return
	}

	c.state.Iteration++
	c.state.LocalIteration++

	var action events.Action
	if c.replay != nil && c.replay.ShouldReplay() {
		action = c.replay.Step()
		// Publish re-stamps id, timestamp and source; the stale answer
		// linkage and confirmation decision must not leak into this run.
		action.Meta().Cause = events.NoCause
		action.Meta().Confirmation = ""
	}
	sc := c.stepContextLocked()
	c.logger.Debug("Stepping agent",
		"iteration", c.state.Iteration,
		"local_iteration", c.state.LocalIteration,
		"history_len", len(c.state.History))
	c.mu.Unlock()

	var err error
	if action == nil {
		action, err = c.agent.Step(c.ctx, sc)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if err != nil {
		c.handleStepErrorLocked(err)
		return
	}
	if action == nil {
		action = &events.NullAction{}
	}
	if c.state.AgentState != StateRunning {
		// A stop or pause landed while the model was thinking; the
		// produced action is discarded.
		c.logger.Warn("Dropping action produced outside RUNNING",
			"agent_state", c.state.AgentState, "kind", action.Kind())
		return
	}
	if c.planning {
		action = c.ensurePlanLocked(action)
	}

	if action.Runnable() {
		if c.state.ConfirmationMode && confirmable(action) {
			action.Meta().Confirmation = events.ConfirmationAwaiting
		}
		c.pending = action
	}

	if _, isNull := action.(*events.NullAction); !isNull {
		if action.Meta().Confirmation == events.ConfirmationAwaiting {
			c.setAgentStateLocked(StateAwaitingUserConfirmation)
		}
		c.publishLocked(action, events.SourceAgent)
	}

	c.state.LocalMetrics = c.live.Snapshot()
}

// confirmable reports whether the confirmation gate applies to an action:
// only shell and code execution wait for the user.
func confirmable(act events.Action) bool {
	switch act.(type) {
	case *events.CmdRunAction, *events.CodeCellRunAction:
		return true
	}
	return false
}

// checkTrafficLocked enforces the iteration and budget caps. It returns
// false when the step must not run.
func (c *Controller) checkTrafficLocked() bool {
	switch c.state.TrafficControl {
	case TrafficPaused:
		// The user resumed past a breach; this one check passes.
		c.state.TrafficControl = TrafficNormal
		return true
	case TrafficThrottling:
		return false
	}

	if c.state.Iteration >= c.state.MaxIterations {
		c.throttleLocked("iteration",
			float64(c.state.Iteration), float64(c.state.MaxIterations))
		return false
	}
	if c.state.MaxBudgetPerTask > 0 {
		if cost := c.currentCostLocked(); cost > c.state.MaxBudgetPerTask {
			c.throttleLocked("budget", cost, c.state.MaxBudgetPerTask)
			return false
		}
	}
	return true
}

func (c *Controller) throttleLocked(limit string, current, max float64) {
	c.state.TrafficControl = TrafficThrottling
	msg := trafficControlMessage(limit, current, max, c.headless)
	c.logger.Warn("Limit breached", "limit", limit, "current", current, "max", max)

	if c.headless {
		c.state.LastError = msg
		if c.statusCb != nil {
			c.statusCb("error", "", msg)
		}
		c.setAgentStateLocked(StateError)
		return
	}
	c.publishLocked(&events.ErrorObservation{Content: msg}, events.SourceEnvironment)
	c.setAgentStateLocked(StatePaused)
}

func (c *Controller) handleStepErrorLocked(err error) {
	switch {
	case llm.IsContextWindowExceeded(err):
		if c.truncate {
			c.truncateHistoryLocked()
			return
		}
		c.reactToErrorLocked(&ContextWindowFatalError{Err: err})
	case agent.IsRecoverable(err):
		// Malformed responses go back into the history so the model can
		// correct itself; the stuck detector bounds the retries.
		c.logger.Warn("Recoverable agent error", "error", err)
		c.publishLocked(&events.ErrorObservation{Content: err.Error()}, events.SourceAgent)
	default:
		c.reactToErrorLocked(err)
	}
}

// truncateHistoryLocked halves the window after a context overflow and
// publishes the condensation marker whose arrival retries the step.
func (c *Controller) truncateHistoryLocked() {
	t := conversation.TruncateHistory(c.state.History)
	c.state.History = t.Events
	c.state.TruncationID = t.TruncationID
	if t.StartID >= 0 {
		c.state.StartID = t.StartID
	}
	c.logger.Warn("History truncated after context overflow",
		"kept", len(t.Events), "truncation_id", t.TruncationID)
	c.publishLocked(&events.AgentCondensationObservation{Content: condensationMessage}, events.SourceAgent)
}

// reactToErrorLocked classifies a fatal error, reports it, and ends the
// controller. Rate limits move to RATE_LIMITED instead so a later resume
// can continue.
func (c *Controller) reactToErrorLocked(err error) {
	if llm.IsRateLimit(err) {
		c.setAgentStateLocked(StateRateLimited)
		return
	}
	c.state.LastError = err.Error()
	if c.statusCb != nil {
		c.statusCb("error", statusID(err), c.state.LastError)
	}
	c.setAgentStateLocked(StateError)
}

func statusID(err error) string {
	var te *llm.TransportError
	if errors.As(err, &te) {
		switch te.Kind {
		case llm.KindAuthentication:
			return StatusErrorLLMAuthentication
		case llm.KindTimeout, llm.KindConnection, llm.KindServiceUnavailable:
			return StatusErrorLLMServiceUnavailable
		case llm.KindInternalServer:
			return StatusErrorLLMInternalServerError
		case llm.KindBadRequest:
			if llm.IsOutOfCredits(err) {
				return StatusErrorLLMOutOfCredits
			}
		}
		return ""
	}
	if IsStuckInLoop(err) {
		return StatusErrorAgentStuckInLoop
	}
	return ""
}

// setAgentStateLocked applies a state transition with its side effects and
// mirrors it onto the stream.
func (c *Controller) setAgentStateLocked(next AgentState) {
	cur := c.state.AgentState
	if next == cur {
		return
	}

	if next == StateStopped || next == StateError {
		c.mergeMetricsLocked()
		c.resetLocked()
	}

	if c.pending != nil &&
		c.pending.Meta().Confirmation == events.ConfirmationAwaiting &&
		(next == StateUserConfirmed || next == StateUserRejected) {
		c.republishPendingLocked(next)
	}

	// Resuming past a breached limit raises it by one initial allotment;
	// the next breach check passes once and re-enters NORMAL.
	if next == StateRunning && cur == StatePaused && c.state.TrafficControl == TrafficThrottling {
		c.state.TrafficControl = TrafficPaused
		if c.state.Iteration >= c.state.MaxIterations {
			c.state.MaxIterations += c.initialMaxIterations
		}
		if c.state.MaxBudgetPerTask > 0 && c.currentCostLocked() >= c.state.MaxBudgetPerTask {
			c.state.MaxBudgetPerTask += c.initialMaxBudget
		}
		c.kick = true
	}

	c.state.AgentState = next
	c.logger.Info("Agent state changed", "from", cur, "to", next)
	c.publishLocked(&events.AgentStateChangedObservation{AgentState: string(next)},
		events.SourceEnvironment)

	// Task controllers end with their task; the planner stays subscribed
	// so a later user message can resume the conversation.
	if next.Terminal() && !c.planning && !c.unsubscribed {
		c.unsubscribed = true
		c.stream.Unsubscribe(events.SubscriberController, c.id)
	}
}

// republishPendingLocked re-emits the gated action with the user's decision.
// The stored entry stays untouched; a codec round trip produces the copy
// that gets the fresh id.
func (c *Controller) republishPendingLocked(decision AgentState) {
	clone, err := cloneAction(c.pending)
	if err != nil {
		c.logger.Error("Failed to clone pending action for republish", "error", err)
		return
	}
	m := clone.Meta()
	m.ID = 0
	m.Timestamp = time.Time{}
	m.Cause = events.NoCause
	if decision == StateUserConfirmed {
		m.Confirmation = events.ConfirmationConfirmed
	} else {
		m.Confirmation = events.ConfirmationRejected
	}
	c.pending = clone
	c.publishLocked(clone, events.SourceAgent)
}

func cloneAction(act events.Action) (events.Action, error) {
	raw, err := events.Marshal(act)
	if err != nil {
		return nil, err
	}
	ev, err := events.Unmarshal(raw)
	if err != nil {
		return nil, err
	}
	out, ok := ev.(events.Action)
	if !ok {
		return nil, fmt.Errorf("cloned event %s is not an action", ev.Kind())
	}
	return out, nil
}

// resetLocked answers any unanswered pending tool call with a synthetic
// error observation and resets the agent, so histories never end on an open
// call.
func (c *Controller) resetLocked() {
	if c.pending != nil && c.pending.Meta().ToolCall != nil {
		answered := false
		for _, ev := range c.state.History {
			if _, ok := ev.(events.Observation); !ok {
				continue
			}
			tc := ev.Meta().ToolCall
			if tc != nil && tc.CallID == c.pending.Meta().ToolCall.CallID {
				answered = true
				break
			}
		}
		if !answered {
			obs := &events.ErrorObservation{Content: unexecutedActionMessage}
			obs.Meta().Cause = c.pending.Meta().ID
			obs.Meta().ToolCall = c.pending.Meta().ToolCall
			c.publishLocked(obs, events.SourceAgent)
		}
	}
	c.pending = nil
	c.agent.Reset()
}

// mergeMetricsLocked folds the not-yet-merged slice of live accounting into
// the terminal rollup.
func (c *Controller) mergeMetricsLocked() {
	cur := c.live.Snapshot()
	c.state.LocalMetrics = cur
	delta := diffSnapshots(cur, c.lastMerged)
	if delta.Calls > 0 || delta.AccumulatedCost > 0 {
		c.state.Metrics.Merge(delta)
	}
	c.lastMerged = cur
}

func (c *Controller) usageTotalLocked() llm.MetricsSnapshot {
	total := c.state.Metrics.Snapshot()
	unmerged := diffSnapshots(c.live.Snapshot(), c.lastMerged)
	return combineSnapshots(total, unmerged)
}

func (c *Controller) currentCostLocked() float64 {
	return c.usageTotalLocked().AccumulatedCost
}

func diffSnapshots(cur, prev llm.MetricsSnapshot) llm.MetricsSnapshot {
	return llm.MetricsSnapshot{
		AccumulatedCost:  cur.AccumulatedCost - prev.AccumulatedCost,
		PromptTokens:     cur.PromptTokens - prev.PromptTokens,
		CompletionTokens: cur.CompletionTokens - prev.CompletionTokens,
		CacheReadTokens:  cur.CacheReadTokens - prev.CacheReadTokens,
		Calls:            cur.Calls - prev.Calls,
	}
}

func combineSnapshots(a, b llm.MetricsSnapshot) llm.MetricsSnapshot {
	return llm.MetricsSnapshot{
		AccumulatedCost:  a.AccumulatedCost + b.AccumulatedCost,
		PromptTokens:     a.PromptTokens + b.PromptTokens,
		CompletionTokens: a.CompletionTokens + b.CompletionTokens,
		CacheReadTokens:  a.CacheReadTokens + b.CacheReadTokens,
		Calls:            a.Calls + b.Calls,
	}
}

func (c *Controller) stepContextLocked() *agent.StepContext {
	hist := make([]events.Event, len(c.state.History))
	copy(hist, c.state.History)
	return &agent.StepContext{
		SessionID:      c.state.SessionID,
		History:        hist,
		Inputs:         c.state.Inputs,
		ExtraData:      c.extraDataLocked(),
		Iteration:      c.state.Iteration,
		LocalIteration: c.state.LocalIteration,
	}
}

func (c *Controller) extraDataLocked() map[string]any {
	out := make(map[string]any, len(c.state.ExtraData)+1)
	for k, v := range c.state.ExtraData {
		out[k] = v
	}
	if c.planning {
		if p, ok := c.plans.Active(); ok {
			if _, set := out["plan_state"]; !set {
				out["plan_state"] = plan.Format(p)
			}
		}
	}
	return out
}

// initHistory rebuilds the history window of a restored session from the
// stream, honoring a previous truncation point.
func (c *Controller) initHistory() {
	evs := c.stream.GetEvents(c.state.StartID, c.state.EndID, false, historyExcludedKinds(), true)
	if c.state.TruncationID > 0 {
		evs = conversation.ReloadWindow(evs, c.state.TruncationID)
	}
	c.state.History = evs
}

func historyExcludedKinds() []events.Kind {
	return []events.Kind{
		events.KindNullAction,
		events.KindNullObservation,
		events.KindChangeAgentState,
		events.KindAgentStateChanged,
		events.KindPlanStatus,
		events.KindMarkTask,
	}
}

func (c *Controller) firstUserMessageLocked() *events.MessageAction {
	return conversation.FirstUserMessage(c.state.History)
}

func (c *Controller) publishLocked(ev events.Event, source events.Source) {
	c.stream.Publish(ev, source)
}
