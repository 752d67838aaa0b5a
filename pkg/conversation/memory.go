// Package conversation turns event history into provider-neutral chat
// transcripts and compresses the history window after a context overflow.
package conversation

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/DistilledAI/conductor/pkg/events"
	"github.com/DistilledAI/conductor/pkg/llm"
)

// DefaultMaxMessageChars caps the serialized text of a single message.
const DefaultMaxMessageChars = 30000

// clipMarker separates the head and tail halves of clipped message text.
const clipMarker = "<response clipped><NOTE>Due to the max output limit, only part of this output has been shown to you.</NOTE>"

// Options configure transcript building for one agent.
type Options struct {
	// SystemPrompt opens every transcript.
	SystemPrompt string

	// Examples holds worked examples composed into the first user message.
	Examples string

	// MaxMessageChars clips per-message text. Zero means
	// DefaultMaxMessageChars; negative disables clipping.
	MaxMessageChars int

	// CachingActive marks the system message and the last two user messages
	// as prompt-cache anchors.
	CachingActive bool

	// VisionActive keeps image URLs on user messages; otherwise they are
	// dropped.
	VisionActive bool
}

// Memory builds chat transcripts from filtered event history.
type Memory struct {
	opts Options
}

func NewMemory(opts Options) *Memory {
	if opts.MaxMessageChars == 0 {
		opts.MaxMessageChars = DefaultMaxMessageChars
	}
	return &Memory{opts: opts}
}

// Build converts history into an ordered transcript: the system prompt, then
// user, assistant and tool messages reconstructed from events. Actions that
// carry tool-call metadata are grouped by the model response that issued
// them: the stream records one action event per call and the calls of a
// response stay open until an event outside the response arrives, so they
// collapse back into a single assistant message followed by its tool
// results. Unanswered calls never reach the transcript.
func (m *Memory) Build(history []events.Event) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+1)
	if m.opts.SystemPrompt != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: m.opts.SystemPrompt})
	}

	var group *openGroup
	for _, ev := range history {
		meta := ev.Meta()

		if a, ok := ev.(events.Action); ok && meta.ToolCall != nil && meta.ToolCall.ResponseID != "" {
			if call, ok := reconstructCall(a); ok {
				if group != nil && group.responseID != meta.ToolCall.ResponseID {
					msgs = group.flushInto(msgs)
					group = nil
				}
				if group == nil {
					group = newOpenGroup(meta.ToolCall.ResponseID)
				}
				group.add(call, thoughtOf(a))
				continue
			}
		}

		if o, ok := ev.(events.Observation); ok && meta.ToolCall != nil {
			if group != nil && group.has(meta.ToolCall.CallID) {
				body, _ := observationBody(o)
				group.answer(meta.ToolCall, m.clip(body))
			} else {
				slog.Debug("Dropping tool response without matching call",
					"call_id", meta.ToolCall.CallID, "function", meta.ToolCall.FunctionName)
			}
			continue
		}

		if group != nil {
			msgs = group.flushInto(msgs)
			group = nil
		}

		switch ev := ev.(type) {
		case events.Action:
			if msg, ok := m.actionMessage(ev); ok {
				msgs = append(msgs, msg)
			}
		case events.Observation:
			body, ok := observationBody(ev)
			if !ok {
				continue
			}
			if _, isCondensation := ev.(*events.AgentCondensationObservation); !isCondensation {
				body = "OBSERVATION:\n" + body
			}
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: m.clip(body)})
		}
	}
	if group != nil {
		msgs = group.flushInto(msgs)
	}

	msgs = m.composeExamples(msgs)
	msgs = joinSameRole(msgs)
	if m.opts.CachingActive {
		markCacheAnchors(msgs)
	}
	return msgs
}

func (m *Memory) clip(text string) string { return Clip(text, m.opts.MaxMessageChars) }

// Clip shortens text to maxChars by keeping the head and tail halves around
// a marker. Non-positive maxChars returns the text unchanged.
func Clip(text string, maxChars int) string {
	if maxChars <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	half := maxChars / 2
	return string(runes[:half]) + clipMarker + string(runes[len(runes)-half:])
}

// actionMessage serializes an action that is not part of a tool-call group.
func (m *Memory) actionMessage(a events.Action) (llm.Message, bool) {
	switch a := a.(type) {
	case *events.MessageAction:
		if a.Meta().Source == events.SourceUser {
			msg := llm.Message{Role: llm.RoleUser, Content: m.clip(a.Content)}
			if m.opts.VisionActive {
				msg.ImageURLs = slices.Clone(a.ImageURLs)
			}
			return msg, true
		}
		return llm.Message{Role: llm.RoleAssistant, Content: m.clip(a.Content)}, true

	case *events.CmdRunAction:
		if a.Meta().Source == events.SourceUser {
			return llm.Message{Role: llm.RoleUser, Content: m.clip("User executed the command:\n" + a.Command)}, true
		}

	case *events.AgentFinishAction:
		text := a.FinalThought
		if text == "" {
			text = a.Thought
		}
		if text == "" {
			return llm.Message{}, false
		}
		return llm.Message{Role: llm.RoleAssistant, Content: m.clip(text)}, true

	case *events.CreatePlanAction:
		// Plans synthesized by the controller have no tool call to show the
		// model; a short summary keeps the transcript coherent.
		text := a.Thought
		if text == "" {
			text = "Created plan: " + a.Title
		}
		return llm.Message{Role: llm.RoleAssistant, Content: m.clip(text)}, true

	case *events.RecallAction, *events.AssignTaskAction, *events.ChangeAgentStateAction, *events.NullAction:
		return llm.Message{}, false
	}

	if t := thoughtOf(a); t != "" {
		return llm.Message{Role: llm.RoleAssistant, Content: m.clip(t)}, true
	}
	return llm.Message{}, false
}

// observationBody serializes an observation's conversational text. The
// second return is false for observations that carry none (state changes,
// null placeholders).
func observationBody(o events.Observation) (string, bool) {
	switch o := o.(type) {
	case *events.CmdOutputObservation:
		return fmt.Sprintf("%s\n[Command finished with exit code %d]", o.Content, o.ExitCode), true
	case *events.FileEditObservation:
		return o.Content, true
	case *events.ErrorObservation:
		return o.Content + "\n[Error occurred in processing last action]", true
	case *events.FunctionHubObservation:
		parts := make([]string, 0, 2)
		if o.Text != "" {
			parts = append(parts, o.Text)
		}
		if o.Error != "" {
			parts = append(parts, "Error: "+o.Error)
		}
		return strings.Join(parts, "\n"), true
	case *events.AgentCondensationObservation:
		return o.Content, true
	case *events.PlanStatusObservation:
		return o.Content, true
	default:
		return "", false
	}
}

// thoughtOf returns the free-text reasoning attached to an action.
func thoughtOf(a events.Action) string {
	switch a := a.(type) {
	case *events.CmdRunAction:
		return a.Thought
	case *events.CodeCellRunAction:
		return a.Thought
	case *events.FileEditAction:
		return a.Thought
	case *events.ToolCallAction:
		return a.Thought
	case *events.RecallAction:
		return a.Thought
	case *events.CreatePlanAction:
		return a.Thought
	case *events.MarkTaskAction:
		return a.Thought
	case *events.AssignTaskAction:
		return a.Thought
	case *events.AgentFinishAction:
		return a.Thought
	case *events.AgentRejectAction:
		return a.Thought
	case *events.ChangeAgentStateAction:
		return a.Thought
	default:
		return ""
	}
}

// reconstructCall rebuilds the tool call that produced an action. The stream
// stores parsed actions rather than raw model output, so arguments are
// re-marshaled from the action's own fields using the same keys the parser
// reads.
func reconstructCall(a events.Action) (llm.ToolCall, bool) {
	meta := a.Meta().ToolCall

	var args map[string]any
	switch a := a.(type) {
	case *events.CmdRunAction:
		args = map[string]any{"command": a.Command}
	case *events.CodeCellRunAction:
		args = map[string]any{"code": a.Code}
	case *events.FileEditAction:
		args = map[string]any{"path": a.Path, "content": a.Content}
		if a.Start != 0 {
			args["start"] = a.Start
		}
		if a.End != 0 {
			args["end"] = a.End
		}
	case *events.ToolCallAction:
		args = a.Arguments
		if args == nil {
			args = map[string]any{}
		}
	case *events.AgentFinishAction:
		completed := true
		if v, ok := a.Outputs["task_completed"].(bool); ok {
			completed = v
		}
		args = map[string]any{"message": a.FinalThought, "task_completed": completed}
	case *events.CreatePlanAction:
		args = map[string]any{"command": "create", "title": a.Title, "steps": a.Steps}
		if a.PlanID != "" {
			args["plan_id"] = a.PlanID
		}
	case *events.MarkTaskAction:
		args = map[string]any{"command": "mark_step", "step_index": a.TaskIndex, "step_status": a.Status}
		if a.PlanID != "" {
			args["plan_id"] = a.PlanID
		}
		if a.Notes != "" {
			args["step_notes"] = a.Notes
		}
	default:
		return llm.ToolCall{}, false
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return llm.ToolCall{}, false
	}
	return llm.ToolCall{ID: meta.CallID, Name: meta.FunctionName, Arguments: string(raw)}, true
}

// composeExamples prepends the worked examples to the first user message.
func (m *Memory) composeExamples(msgs []llm.Message) []llm.Message {
	if m.opts.Examples == "" {
		return msgs
	}
	for i := range msgs {
		if msgs[i].Role == llm.RoleUser {
			if msgs[i].Content == "" {
				msgs[i].Content = m.opts.Examples
			} else {
				msgs[i].Content = m.opts.Examples + "\n\n" + msgs[i].Content
			}
			break
		}
	}
	return msgs
}

// joinSameRole folds consecutive same-role messages into one, separated by a
// blank line. Tool messages and assistant messages carrying tool calls keep
// their own protocol slots and are never joined.
func joinSameRole(msgs []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, msg := range msgs {
		if len(out) > 0 && joinable(out[len(out)-1], msg) {
			prev := &out[len(out)-1]
			switch {
			case prev.Content == "":
				prev.Content = msg.Content
			case msg.Content != "":
				prev.Content += "\n\n" + msg.Content
			}
			prev.ImageURLs = append(prev.ImageURLs, msg.ImageURLs...)
			continue
		}
		out = append(out, msg)
	}
	return out
}

func joinable(a, b llm.Message) bool {
	if a.Role != b.Role {
		return false
	}
	switch a.Role {
	case llm.RoleTool:
		return false
	case llm.RoleAssistant:
		return len(a.ToolCalls) == 0 && len(b.ToolCalls) == 0
	default:
		return true
	}
}

// markCacheAnchors flags the system message and the last two user messages
// as prompt-cache breakpoints.
func markCacheAnchors(msgs []llm.Message) {
	for i := range msgs {
		if msgs[i].Role == llm.RoleSystem {
			msgs[i].CachePrompt = true
		}
	}
	marked := 0
	for i := len(msgs) - 1; i >= 0 && marked < 2; i-- {
		if msgs[i].Role == llm.RoleUser {
			msgs[i].CachePrompt = true
			marked++
		}
	}
}

// openGroup accumulates the tool calls of one model response together with
// their tool responses until an event outside the response closes it.
type openGroup struct {
	responseID string
	content    string
	calls      []llm.ToolCall
	responses  map[string]llm.Message
}

func newOpenGroup(responseID string) *openGroup {
	return &openGroup{responseID: responseID, responses: make(map[string]llm.Message)}
}

// add records a call, replacing a previous occurrence of the same call id.
// A confirmation republish puts the same call on the stream twice; only one
// copy may reach the transcript.
func (g *openGroup) add(call llm.ToolCall, thought string) {
	for i := range g.calls {
		if g.calls[i].ID == call.ID {
			g.calls[i] = call
			return
		}
	}
	g.calls = append(g.calls, call)
	if g.content == "" {
		g.content = thought
	}
}

func (g *openGroup) has(callID string) bool {
	for _, call := range g.calls {
		if call.ID == callID {
			return true
		}
	}
	return false
}

func (g *openGroup) answer(meta *events.ToolCallMetadata, text string) {
	g.responses[meta.CallID] = llm.Message{
		Role:       llm.RoleTool,
		Content:    text,
		ToolCallID: meta.CallID,
		Name:       meta.FunctionName,
	}
}

// flushInto appends the assistant message and its tool results. Calls that
// never got a response are omitted so the transcript stays well-formed; a
// group with no answered call at all contributes nothing.
func (g *openGroup) flushInto(msgs []llm.Message) []llm.Message {
	answered := make([]llm.ToolCall, 0, len(g.calls))
	for _, call := range g.calls {
		if _, ok := g.responses[call.ID]; ok {
			answered = append(answered, call)
		}
	}
	if len(answered) < len(g.calls) {
		slog.Debug("Dropping unanswered tool calls from transcript",
			"response_id", g.responseID, "unanswered", len(g.calls)-len(answered))
	}
	if len(answered) == 0 {
		return msgs
	}

	msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: g.content, ToolCalls: answered})
	for _, call := range answered {
		msgs = append(msgs, g.responses[call.ID])
	}
	return msgs
}
