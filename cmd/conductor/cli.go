package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/DistilledAI/conductor/pkg/config"
	"github.com/DistilledAI/conductor/pkg/controller"
	"github.com/DistilledAI/conductor/pkg/events"
	"github.com/DistilledAI/conductor/pkg/plan"
	"github.com/DistilledAI/conductor/pkg/session"
)

// taskOptions carries the task-mode flags.
type taskOptions struct {
	Task             string
	Headless         bool
	SaveTrajectory   string
	ReplayTrajectory string
}

// runTask runs one conversation in-process, without database or journal,
// rendering events to stdout. The operator stands in for the external
// runtime: actions the bridge leaves pending are answered from stdin (or
// from the recording when replaying). Returns the process exit code: 0 when
// the conversation finished, 1 otherwise.
func runTask(ctx context.Context, cfg *config.Config, opts taskOptions) int {
	var recorded []events.Event
	if opts.ReplayTrajectory != "" {
		var err error
		recorded, err = session.LoadTrajectory(opts.ReplayTrajectory)
		if err != nil {
			fmt.Fprintf(os.Stderr, "conductor: %v\n", err)
			return 1
		}
		fmt.Printf("replaying %d recorded events from %s\n", len(recorded), opts.ReplayTrajectory)
	}

	initial := opts.Task
	if strings.TrimSpace(initial) == "" {
		initial = firstUserMessage(recorded)
	}
	if strings.TrimSpace(initial) == "" {
		fmt.Fprintln(os.Stderr, "conductor: no task given and the recording has no user message")
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	run := &taskRun{
		opts:    opts,
		answers: indexReplayAnswers(recorded),
		confirm: cfg.Session.ConfirmationMode,
		wake:    make(chan events.Event, 64),
		lines:   readStdin(),
		sigCh:   sigCh,
	}

	manager := session.NewManager(cfg, nil, nil)
	sess, err := manager.Create(ctx, session.CreateParams{
		InitialMessage: initial,
		Headless:       opts.Headless,
		ReplayEvents:   recorded,
		OnEvent:        run.onEvent,
		StatusCallback: func(level, id, message string) {
			fmt.Printf("[%s] %s\n", level, message)
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "conductor: %v\n", err)
		return 1
	}
	run.sess = sess
	fmt.Printf("conversation %s\n", sess.ID())
	if !opts.Headless {
		fmt.Println(`type a message when prompted; "exit" ends the conversation`)
	}

	code := run.loop()
	// Keep draining so a rendering handler mid-send never blocks stream
	// close; the goroutine dies with the process.
	go func() {
		for range run.wake {
		}
	}()

	trajectory := sess.Trajectory()
	if opts.SaveTrajectory != "" {
		if err := session.SaveTrajectory(opts.SaveTrajectory, trajectory); err != nil {
			fmt.Fprintf(os.Stderr, "conductor: %v\n", err)
			code = 1
		} else {
			fmt.Printf("trajectory saved: %s (%d events)\n", opts.SaveTrajectory, len(trajectory))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	manager.Shutdown(shutdownCtx)
	return code
}

// taskRun is the interaction loop state for one task-mode conversation.
type taskRun struct {
	sess    *session.Session
	opts    taskOptions
	answers *replayAnswers
	confirm bool

	// wake carries the events the loop must react to: state transitions and
	// actions waiting on a runtime answer. Rendering happens on the dispatch
	// goroutine; reads from stdin happen only on the loop goroutine.
	wake  chan events.Event
	lines chan string
	sigCh chan os.Signal

	// finished records that the current task reached FINISHED; a follow-up
	// message resets it.
	finished bool
}

// onEvent renders every stream event and forwards the ones the loop reacts to.
func (t *taskRun) onEvent(ev events.Event) {
	renderEvent(ev, t.confirm)
	if _, ok := ev.(*events.AgentStateChangedObservation); ok {
		t.wake <- ev
		return
	}
	if act, ok := ev.(events.Action); ok && awaitsRuntimeAnswer(act) {
		t.wake <- ev
	}
}

// loop drives the conversation until a terminal state, a user exit, or an
// interrupt, and returns the exit code.
func (t *taskRun) loop() int {
	for {
		select {
		case <-t.sigCh:
			fmt.Println("\ninterrupted, shutting down")
			return t.exitCode()
		case ev := <-t.wake:
			var done bool
			if act, ok := ev.(events.Action); ok {
				done = t.answerRuntimeAction(act)
			} else {
				done = t.react()
			}
			if done {
				return t.exitCode()
			}
		}
	}
}

// react inspects the effective conversation state after a transition and
// reports whether the loop is done. Delegate transitions fold into the
// effective state, so a delegate waiting at the confirmation gate prompts
// here exactly like the planner would.
func (t *taskRun) react() bool {
	switch state := t.sess.View().AgentState; state {
	case controller.StateFinished:
		t.finished = true
		if t.opts.Headless {
			return true
		}
		return !t.promptNextTask()
	case controller.StateAwaitingUserInput, controller.StatePaused, controller.StateRateLimited:
		if t.opts.Headless {
			fmt.Printf("agent is waiting for input (%s); headless run ends here\n", state)
			_ = t.sess.Stop()
			return false
		}
		return !t.promptNextTask()
	case controller.StateAwaitingUserConfirmation:
		return !t.promptConfirmation()
	case controller.StateError, controller.StateRejected, controller.StateStopped:
		return true
	}
	return false
}

// answerRuntimeAction resolves an action the bridge leaves for an external
// runtime: replay answers come from the recording, interactive runs ask the
// operator, headless runs stop.
func (t *taskRun) answerRuntimeAction(act events.Action) bool {
	if obs, ok := t.answers.answer(act); ok {
		return t.ingest(obs)
	}
	if t.opts.Headless {
		fmt.Printf("action %s needs an external runtime; headless run ends here\n", act.Kind())
		_ = t.sess.Stop()
		return false
	}
	fmt.Println(`enter the action result, then a line with only "." (just "." for none):`)
	output, ok := t.readBlock()
	if !ok {
		_ = t.sess.Stop()
		return false
	}
	obs := runtimeObservation(act, output)
	m := obs.Meta()
	m.Cause = act.Meta().ID
	m.ToolCall = act.Meta().ToolCall
	return t.ingest(obs)
}

func (t *taskRun) ingest(obs events.Observation) bool {
	if err := t.sess.Ingest(obs); err != nil {
		fmt.Printf("error: %v\n", err)
		return true
	}
	return false
}

// promptNextTask reads the next user message. It reports false when the
// conversation should end (exit, closed stdin, interrupt).
func (t *taskRun) promptNextTask() bool {
	for {
		fmt.Print("> ")
		line, ok := t.readLine()
		if !ok || strings.TrimSpace(line) == "exit" {
			_ = t.sess.Stop()
			return false
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := t.sess.SendMessage(line, nil); err != nil {
			fmt.Printf("error: %v\n", err)
			return false
		}
		t.finished = false
		return true
	}
}

// promptConfirmation resolves the confirmation gate. Headless runs reject:
// refusing execution is the only safe answer without an operator.
func (t *taskRun) promptConfirmation() bool {
	if t.opts.Headless {
		fmt.Println("confirmation required; headless run rejects the action")
		return t.decide(false)
	}
	for {
		fmt.Print("confirm action? [y/n] > ")
		line, ok := t.readLine()
		if !ok {
			_ = t.sess.Stop()
			return false
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return t.decide(true)
		case "n", "no":
			return t.decide(false)
		}
	}
}

func (t *taskRun) decide(accept bool) bool {
	if err := t.sess.Confirm(accept); err != nil {
		fmt.Printf("error: %v\n", err)
		return false
	}
	return true
}

// readLine blocks for one stdin line; ok is false on closed stdin or
// interrupt.
func (t *taskRun) readLine() (string, bool) {
	select {
	case line, ok := <-t.lines:
		return line, ok
	case <-t.sigCh:
		fmt.Println("\ninterrupted, shutting down")
		return "", false
	}
}

// readBlock reads stdin lines until a lone "." terminator.
func (t *taskRun) readBlock() (string, bool) {
	var b strings.Builder
	for {
		line, ok := t.readLine()
		if !ok {
			return "", false
		}
		if line == "." {
			return strings.TrimRight(b.String(), "\n"), true
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
}

func (t *taskRun) exitCode() int {
	if t.finished || t.sess.View().AgentState == controller.StateFinished {
		return 0
	}
	return 1
}

// readStdin pumps stdin lines into a channel so prompts can also watch for
// signals. The channel closes on EOF.
func readStdin() chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	return lines
}

// needsRuntime reports whether act executes outside the control plane. The
// bridge answers recalls, hub calls, and planning reads in-process; shell,
// notebook, file-edit, and local browser tools belong to an external runtime.
func needsRuntime(act events.Action) bool {
	if !act.Runnable() {
		return false
	}
	switch a := act.(type) {
	case *events.RecallAction:
		return false
	case *events.ToolCallAction:
		return a.FunctionID == "" && a.FunctionName != plan.ToolName
	}
	return true
}

// awaitsRuntimeAnswer reports whether act is pending on a runtime answer
// right now. Actions held at the confirmation gate are not answerable yet,
// and rejected ones are answered by the bridge.
func awaitsRuntimeAnswer(act events.Action) bool {
	switch act.Meta().Confirmation {
	case events.ConfirmationAwaiting, events.ConfirmationRejected:
		return false
	}
	return needsRuntime(act)
}

// runtimeObservation wraps operator-entered output in the observation type
// matching the action.
func runtimeObservation(act events.Action, output string) events.Observation {
	switch a := act.(type) {
	case *events.FileEditAction:
		return &events.FileEditObservation{Content: output, Path: a.Path}
	case *events.ToolCallAction:
		return &events.FunctionHubObservation{Text: output, FunctionName: a.FunctionName}
	default:
		return &events.CmdOutputObservation{Content: output}
	}
}

// firstUserMessage finds the opening user message of a recording.
func firstUserMessage(recorded []events.Event) string {
	for _, ev := range recorded {
		if msg, ok := ev.(*events.MessageAction); ok && msg.Meta().Source == events.SourceUser {
			return msg.Content
		}
	}
	return ""
}

// replayAnswers indexes recorded observations by the tool call they answered,
// so replayed runtime actions resolve from the recording instead of waiting
// on a runtime that is not there.
type replayAnswers struct {
	byCall map[string]events.Event
}

func indexReplayAnswers(recorded []events.Event) *replayAnswers {
	byCall := make(map[string]events.Event)
	for _, ev := range recorded {
		if _, ok := ev.(events.Observation); !ok {
			continue
		}
		if tc := ev.Meta().ToolCall; tc != nil && tc.CallID != "" {
			byCall[tc.CallID] = ev
		}
	}
	return &replayAnswers{byCall: byCall}
}

// answer returns an independent copy of the recorded observation answering
// act, cause-linked to the live action. The copy goes through the codec so
// the recording stays untouched.
func (r *replayAnswers) answer(act events.Action) (events.Observation, bool) {
	tc := act.Meta().ToolCall
	if r == nil || tc == nil {
		return nil, false
	}
	rec, ok := r.byCall[tc.CallID]
	if !ok {
		return nil, false
	}
	data, err := events.Marshal(rec)
	if err != nil {
		return nil, false
	}
	copied, err := events.Unmarshal(data)
	if err != nil {
		return nil, false
	}
	obs := copied.(events.Observation)
	m := obs.Meta()
	m.Cause = act.Meta().ID
	m.ToolCall = tc
	return obs, true
}

// renderEvent prints one stream event. User messages are the operator's own
// input and state-change observations drive the loop, so neither is echoed.
func renderEvent(ev events.Event, confirmationMode bool) {
	if ev.Meta().Hidden {
		return
	}
	switch e := ev.(type) {
	case *events.MessageAction:
		if e.Meta().Source == events.SourceAgent {
			fmt.Printf("\n%s\n", e.Content)
		}
	case *events.CmdRunAction:
		renderThought(e.Thought)
		fmt.Printf("$ %s\n", e.Command)
	case *events.CodeCellRunAction:
		renderThought(e.Thought)
		fmt.Printf(">>> %s\n", e.Code)
	case *events.FileEditAction:
		renderThought(e.Thought)
		fmt.Printf("edit %s\n", e.Path)
	case *events.ToolCallAction:
		renderThought(e.Thought)
		fmt.Printf("call %s %s\n", e.FunctionName, compactArgs(e.Arguments))
	case *events.CreatePlanAction:
		renderThought(e.Thought)
		fmt.Printf("\nplan: %s\n", e.Title)
		for i, step := range e.Steps {
			fmt.Printf("  %d. %s\n", i+1, step)
		}
	case *events.MarkTaskAction:
		fmt.Printf("task %d -> %s\n", e.TaskIndex+1, e.Status)
	case *events.AssignTaskAction:
		fmt.Printf("task %d assigned to %s\n", e.TaskIndex+1, e.DelegateID)
	case *events.AgentFinishAction:
		if e.FinalThought != "" {
			fmt.Printf("\n%s\n", e.FinalThought)
		}
	case *events.AgentRejectAction:
		fmt.Println("\nThe agent rejected the task.")
	case *events.CmdOutputObservation:
		fmt.Println(strings.TrimRight(e.Content, "\n"))
		if e.ExitCode != 0 {
			fmt.Printf("(exit %d)\n", e.ExitCode)
		}
	case *events.FileEditObservation:
		fmt.Println(strings.TrimRight(e.Content, "\n"))
	case *events.FunctionHubObservation:
		if e.Error != "" {
			fmt.Printf("%s failed: %s\n", e.FunctionName, e.Error)
		} else if e.Text != "" {
			fmt.Println(strings.TrimRight(e.Text, "\n"))
		}
	case *events.ErrorObservation:
		fmt.Printf("error: %s\n", e.Content)
	case *events.PlanStatusObservation:
		fmt.Println(strings.TrimRight(e.Content, "\n"))
	case *events.AgentCondensationObservation:
		fmt.Println("(conversation history truncated)")
	}
	if confirmationMode && ev.Meta().Confirmation != "" {
		fmt.Printf("(confirmation: %s)\n", ev.Meta().Confirmation)
	}
}

func renderThought(thought string) {
	if thought != "" {
		fmt.Printf("\n%s\n", thought)
	}
}

func compactArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(data)
}
