package agent

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/DistilledAI/conductor/pkg/events"
	"github.com/DistilledAI/conductor/pkg/llm"
	"github.com/DistilledAI/conductor/pkg/plan"
	"github.com/DistilledAI/conductor/pkg/tools"
)

// ResponseToActions converts one LLM response into the ordered action list
// the agent enqueues. A response without tool calls becomes a single
// assistant message awaiting a reply; each tool call becomes the typed
// built-in action for its name, or a generic ToolCallAction routed through
// the merged set's external-id map for hub functions. The response text, if
// any, becomes the thought of the first action.
func ResponseToActions(resp *llm.Response, merged *tools.MergeSet) ([]events.Action, error) {
	if len(resp.ToolCalls) == 0 {
		if strings.TrimSpace(resp.Content) == "" {
			return nil, &NoActionError{ResponseID: resp.ID}
		}
		return []events.Action{&events.MessageAction{
			Content:         resp.Content,
			WaitForResponse: true,
		}}, nil
	}

	actions := make([]events.Action, 0, len(resp.ToolCalls))
	for _, call := range resp.ToolCalls {
		args, err := decodeArguments(call)
		if err != nil {
			return nil, err
		}

		def, known := merged.Definition(call.Name)
		if !known {
			return nil, &FunctionCallNotExistsError{FunctionName: call.Name}
		}
		if err := tools.ValidateArgs(def, args); err != nil {
			return nil, &FunctionCallValidationError{FunctionName: call.Name, Err: err}
		}

		action, err := callToAction(call, args, merged, resp.ID)
		if err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}

	if len(actions) == 0 {
		return nil, &NoActionError{ResponseID: resp.ID}
	}

	if resp.Content != "" {
		setThought(actions[0], resp.Content)
	}
	return actions, nil
}

// decodeArguments parses a tool call's argument JSON, repairing malformed
// output (single quotes, trailing commas, bare values) before giving up.
func decodeArguments(call llm.ToolCall) (map[string]any, error) {
	raw := strings.TrimSpace(call.Arguments)
	if raw == "" {
		return map[string]any{}, nil
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		return args, nil
	}

	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return nil, &MalformedActionError{FunctionName: call.Name, Raw: raw, Err: err}
	}
	if err := json.Unmarshal([]byte(repaired), &args); err != nil {
		return nil, &MalformedActionError{FunctionName: call.Name, Raw: raw, Err: err}
	}
	slog.Debug("Repaired malformed tool arguments", "tool", call.Name)
	return args, nil
}

// callToAction routes one validated tool call to its action. Hub functions
// take precedence only when the name is not a built-in, mirroring the merge
// order.
func callToAction(call llm.ToolCall, args map[string]any, merged *tools.MergeSet, responseID string) (events.Action, error) {
	var action events.Action

	switch call.Name {
	case ToolBash:
		action = &events.CmdRunAction{Command: stringArg(args, "command")}
	case ToolIPython:
		action = &events.CodeCellRunAction{Code: stringArg(args, "code")}
	case ToolFileEdit:
		action = &events.FileEditAction{
			Path:    stringArg(args, "path"),
			Content: stringArg(args, "content"),
			Start:   intArg(args, "start"),
			End:     intArg(args, "end"),
		}
	case ToolFinish:
		completed, _ := args["task_completed"].(bool)
		action = &events.AgentFinishAction{
			FinalThought: stringArg(args, "message"),
			Outputs:      map[string]any{"task_completed": completed},
		}
	case ToolThink:
		// Thoughts carry no side effect: they surface as a plain assistant
		// message and keep no tool-call metadata, so no observation is owed.
		return &events.MessageAction{Content: stringArg(args, "thought")}, nil
	default:
		var err error
		action, err = plannedOrRouted(call, args, merged)
		if err != nil {
			return nil, err
		}
	}

	action.Meta().ToolCall = &events.ToolCallMetadata{
		CallID:       call.ID,
		FunctionName: call.Name,
		ResponseID:   responseID,
	}
	return action, nil
}

// plannedOrRouted handles the planning tool's command dispatch and every
// remaining name: hub functions resolve through the external-id map, local
// names (planning's query commands, browser, web_read) stay as registry
// calls with an empty function id.
func plannedOrRouted(call llm.ToolCall, args map[string]any, merged *tools.MergeSet) (events.Action, error) {
	if call.Name == plan.ToolName {
		switch stringArg(args, "command") {
		case "create":
			return &events.CreatePlanAction{
				PlanID: stringArg(args, "plan_id"),
				Title:  stringArg(args, "title"),
				Steps:  stringsArg(args, "steps"),
			}, nil
		case "mark_step":
			return &events.MarkTaskAction{
				PlanID:    stringArg(args, "plan_id"),
				TaskIndex: intArg(args, "step_index"),
				Status:    stringArg(args, "step_status"),
				Notes:     stringArg(args, "step_notes"),
			}, nil
		}
	}

	externalID, _ := merged.ExternalID(call.Name)
	return &events.ToolCallAction{
		FunctionID:   externalID,
		FunctionName: call.Name,
		Arguments:    args,
	}, nil
}

// setThought attaches the response text to the first parsed action.
func setThought(action events.Action, thought string) {
	switch a := action.(type) {
	case *events.CmdRunAction:
		a.Thought = thought
	case *events.CodeCellRunAction:
		a.Thought = thought
	case *events.FileEditAction:
		a.Thought = thought
	case *events.ToolCallAction:
		a.Thought = thought
	case *events.CreatePlanAction:
		a.Thought = thought
	case *events.MarkTaskAction:
		a.Thought = thought
	case *events.AgentFinishAction:
		a.Thought = thought
	case *events.MessageAction:
		// Message content already carries the model's text.
	}
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func stringsArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
