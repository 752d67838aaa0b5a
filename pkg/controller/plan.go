package controller

import (
	"fmt"
	"time"

	"github.com/DistilledAI/conductor/pkg/agent"
	"github.com/DistilledAI/conductor/pkg/events"
	"github.com/DistilledAI/conductor/pkg/plan"
)

// Plan-mode handlers. The planner agent only talks to the planning tool;
// everything that makes a plan execute — registering it, marking tasks,
// spawning a delegate per task, advancing on completion — happens here, on
// the controller's dispatch goroutine.

// handleCreatePlanLocked registers a new plan, makes it active, and kicks
// off its first task.
func (c *Controller) handleCreatePlanLocked(a *events.CreatePlanAction) {
	p, err := c.plans.Create(a.PlanID, a.Title, a.Steps)
	if err != nil {
		c.logger.Warn("Plan creation failed", "plan_id", a.PlanID, "error", err)
		obs := &events.ErrorObservation{Content: err.Error()}
		obs.Meta().Cause = a.Meta().ID
		c.publishLocked(obs, events.SourceEnvironment)
		return
	}
	if err := c.plans.SetActive(p.ID); err != nil {
		c.logger.Warn("Failed to activate plan", "plan_id", p.ID, "error", err)
	}
	c.state.ActivePlanID = p.ID
	c.logger.Info("Plan created", "plan_id", p.ID, "title", p.Title, "steps", len(p.Steps))
	c.publishPlanStatusLocked(p)

	if len(p.Steps) > 0 {
		c.publishLocked(&events.MarkTaskAction{
			PlanID:    p.ID,
			TaskIndex: 0,
			Status:    string(plan.StatusInProgress),
		}, events.SourceAgent)
	}
}

// handleMarkTaskLocked applies a task status change to the store. A task
// entering IN_PROGRESS is assigned to a delegate.
func (c *Controller) handleMarkTaskLocked(a *events.MarkTaskAction) {
	status := plan.StepStatus(a.Status)
	p, err := c.plans.MarkStep(a.PlanID, a.TaskIndex, status, a.Notes)
	if err != nil {
		c.logger.Warn("Task mark rejected",
			"plan_id", a.PlanID, "task_index", a.TaskIndex, "status", a.Status, "error", err)
		obs := &events.ErrorObservation{Content: err.Error()}
		obs.Meta().Cause = a.Meta().ID
		c.publishLocked(obs, events.SourceEnvironment)
		return
	}
	c.publishPlanStatusLocked(p)

	if status != plan.StatusInProgress {
		return
	}
	if a.PlanID == c.plans.ActiveID() {
		c.state.CurrentTaskIndex = a.TaskIndex
	}
	c.publishLocked(&events.AssignTaskAction{
		DelegateID: fmt.Sprintf("%s_%d", c.state.SessionID, a.TaskIndex),
		Agent:      c.executorName,
		PlanID:     a.PlanID,
		TaskIndex:  a.TaskIndex,
		Inputs:     map[string]any{"task": p.Steps[a.TaskIndex].Content},
	}, events.SourceUser)
}

// handleAssignTaskLocked spawns the delegate controller for a task and
// publishes its kickoff message.
func (c *Controller) handleAssignTaskLocked(a *events.AssignTaskAction) {
	if byIndex := c.tasks[a.PlanID]; byIndex != nil {
		if _, exists := byIndex[a.TaskIndex]; exists {
			c.logger.Warn("Delegate already assigned, skipping",
				"plan_id", a.PlanID, "task_index", a.TaskIndex)
			return
		}
	}
	p, err := c.plans.Get(a.PlanID)
	if err != nil {
		c.logger.Warn("Assign task for unknown plan", "plan_id", a.PlanID, "error", err)
		return
	}
	if a.TaskIndex < 0 || a.TaskIndex >= len(p.Steps) {
		c.logger.Warn("Assign task index out of range",
			"plan_id", a.PlanID, "task_index", a.TaskIndex, "steps", len(p.Steps))
		return
	}

	dlg, err := c.spawnDelegateLocked(a)
	if err != nil {
		c.reactToErrorLocked(fmt.Errorf("spawn delegate %s: %w", a.DelegateID, err))
		return
	}
	if c.tasks[a.PlanID] == nil {
		c.tasks[a.PlanID] = make(map[int]*Controller)
	}
	c.tasks[a.PlanID][a.TaskIndex] = dlg
	c.logger.Info("Delegate spawned",
		"delegate_id", a.DelegateID,
		"plan_id", a.PlanID,
		"task_index", a.TaskIndex,
		"max_iterations", dlg.state.MaxIterations)

	kickoff := c.prompts.TaskAssignment(
		plan.Format(p), a.TaskIndex, p.Steps[a.TaskIndex].Content, time.Now())
	c.publishLocked(&events.MessageAction{Content: kickoff}, events.SourceUser)
}

// spawnDelegateLocked builds a task controller on the shared stream. The
// delegate only sees events published from its start id onward, gets half
// the remaining iteration budget, and always runs interactively so a breach
// pauses instead of erroring.
func (c *Controller) spawnDelegateLocked(a *events.AssignTaskAction) (*Controller, error) {
	ag, live, err := c.newExecutor(a.DelegateID)
	if err != nil {
		return nil, err
	}

	maxIter := (c.state.MaxIterations - c.state.Iteration) / 2
	if maxIter < 1 {
		maxIter = 1
	}

	dlg := newController(Options{
		SessionID:        a.DelegateID,
		Stream:           c.stream,
		Agent:            ag,
		LiveMetrics:      live,
		MaxIterations:    maxIter,
		MaxBudgetPerTask: c.state.MaxBudgetPerTask,
		ConfirmationMode: c.state.ConfirmationMode,
		Headless:         false,
		EnableTruncation: c.truncate,
		StatusCallback:   c.statusCb,
	})
	dlg.replay = c.replay

	dlg.state.StartID = c.stream.LatestEventID() + 1
	for k, v := range a.Inputs {
		dlg.state.Inputs[k] = v
	}
	if p, err := c.plans.Get(a.PlanID); err == nil {
		dlg.state.Inputs["plan"] = plan.FormatWithoutResults(p)
	}

	c.stream.Subscribe(events.SubscriberController, dlg.id, dlg.onEvent)
	dlg.SetAgentState(StateRunning)
	return dlg, nil
}

// handlePlanFinishLocked routes an AgentFinishAction: with unresolved tasks
// it ends the current delegate and advances the plan; once every task is
// completed or blocked it ends the session.
func (c *Controller) handlePlanFinishLocked(a *events.AgentFinishAction) {
	if c.allTasksResolvedLocked() {
		c.logger.Info("All plan tasks resolved, finishing session")
		c.handleFinishLocked(a)
		return
	}

	planID := c.plans.ActiveID()
	p, err := c.plans.Get(planID)
	if err != nil {
		c.logger.Warn("Finish with no readable active plan", "plan_id", planID, "error", err)
		c.handleFinishLocked(a)
		return
	}
	idx := c.state.CurrentTaskIndex
	if idx < 0 || idx >= len(p.Steps) {
		c.logger.Warn("Finish with no task in flight", "plan_id", planID, "task_index", idx)
		c.handleFinishLocked(a)
		return
	}

	if dlg := c.takeDelegateLocked(planID, idx); dlg != nil {
		c.state.Metrics.Merge(dlg.UsageTotal())
	}

	if a.FinalThought != "" {
		if _, err := c.plans.AddResult(planID, idx, a.FinalThought); err != nil {
			c.logger.Warn("Failed to record task result",
				"plan_id", planID, "task_index", idx, "error", err)
		}
	}
	c.logger.Info("Task completed", "plan_id", planID, "task_index", idx)
	c.publishLocked(&events.MarkTaskAction{
		PlanID:    planID,
		TaskIndex: idx,
		Status:    string(plan.StatusCompleted),
	}, events.SourceAgent)

	next := nextAssignableTask(p, idx)
	if next >= 0 {
		c.publishLocked(&events.MarkTaskAction{
			PlanID:    planID,
			TaskIndex: next,
			Status:    string(plan.StatusInProgress),
		}, events.SourceAgent)
		return
	}
	c.publishLocked(&events.MessageAction{Content: c.prompts.FinalizeAllTasks()},
		events.SourceUser)
}

// takeDelegateLocked removes and returns the delegate for a task, if any.
// The delegate unsubscribes itself on its own terminal transition.
func (c *Controller) takeDelegateLocked(planID string, idx int) *Controller {
	byIndex := c.tasks[planID]
	if byIndex == nil {
		return nil
	}
	dlg := byIndex[idx]
	if dlg != nil {
		delete(byIndex, idx)
		if len(byIndex) == 0 {
			delete(c.tasks, planID)
		}
	}
	return dlg
}

// nextAssignableTask returns the first task after idx that still needs
// work, or -1.
func nextAssignableTask(p *plan.Plan, idx int) int {
	for i := idx + 1; i < len(p.Steps); i++ {
		if p.Steps[i].Status.Active() {
			return i
		}
	}
	return -1
}

func (c *Controller) allTasksResolvedLocked() bool {
	id := c.plans.ActiveID()
	if id == "" {
		return true
	}
	p, err := c.plans.Get(id)
	if err != nil {
		return true
	}
	for _, s := range p.Steps {
		if s.Status.Active() {
			return false
		}
	}
	return true
}

// delegateActiveLocked reports whether any spawned delegate is still
// working; the planner never steps while one is.
func (c *Controller) delegateActiveLocked() bool {
	for _, byIndex := range c.tasks {
		for _, dlg := range byIndex {
			if !dlg.View().AgentState.Terminal() {
				return true
			}
		}
	}
	return false
}

// ensurePlanLocked guarantees the session has a plan after the first
// planner step: when the model produced anything other than a plan, a
// default three-step plan built from the first user request replaces it.
func (c *Controller) ensurePlanLocked(action events.Action) events.Action {
	if _, ok := action.(*events.CreatePlanAction); ok {
		return action
	}
	if plans, _ := c.plans.List(); len(plans) > 0 {
		return action
	}
	request := ""
	if msg := c.firstUserMessageLocked(); msg != nil {
		request = msg.Content
	}
	def := agent.DefaultPlan(request)
	c.logger.Warn("Planner produced no plan, creating default",
		"dropped_kind", action.Kind(), "plan_id", def.PlanID)
	return def
}

func (c *Controller) publishPlanStatusLocked(p *plan.Plan) {
	c.publishLocked(&events.PlanStatusObservation{
		Content: plan.Format(p),
		PlanID:  p.ID,
	}, events.SourceEnvironment)
}
