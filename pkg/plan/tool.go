package plan

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/DistilledAI/conductor/pkg/tools"
)

// ToolName is the function name the LLM calls to manage plans.
const ToolName = "planning"

// Tool exposes the store as a single LLM-callable function with a command
// argument. Validation failures come back as plain errors whose text is fed
// to the model, so it can correct itself on the next step.
type Tool struct {
	store *Store
}

func NewTool(store *Store) *Tool {
	return &Tool{store: store}
}

// Store returns the underlying store, which the planning controller reads to
// drive task assignment.
func (t *Tool) Store() *Store {
	return t.store
}

func (t *Tool) Definition() tools.Definition {
	return tools.Definition{
		Name:        ToolName,
		Description: "The planning tool allows agents to create and manage plans to solve complex tasks.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"description": "The command to execute. The available commands are: create, update, list, get, set_active, mark_step, delete, add_result.",
					"enum":        []string{"create", "update", "list", "get", "set_active", "mark_step", "delete", "add_result"},
					"type":        "string",
				},
				"plan_id": map[string]any{
					"description": "The unique identifier for the plan. Required for commands: create, update, set_active, and delete. Optional for commands: get and mark_step (use the active plan if not specified).",
					"type":        "string",
				},
				"title": map[string]any{
					"description": "The title for the plan. Required for command: create, optional for command: update.",
					"type":        "string",
				},
				"steps": map[string]any{
					"description": "The list of steps for the plan. Required for command: create, optional for command: update.",
					"type":        "array",
					"items":       map[string]any{"type": "string"},
				},
				"step_index": map[string]any{
					"description": "The index of the step to update (starting from 0). Required for commands: mark_step and add_result.",
					"type":        "integer",
				},
				"step_status": map[string]any{
					"description": "The status to set for a step. Used with command: mark_step.",
					"enum":        []string{"not_started", "in_progress", "completed", "blocked"},
					"type":        "string",
				},
				"step_notes": map[string]any{
					"description": "Additional notes for a step. Optional for command: mark_step.",
					"type":        "string",
				},
				"step_result": map[string]any{
					"description": "The result of a step. Used with command: add_result.",
					"type":        "string",
				},
			},
			"required": []string{"command"},
		},
	}
}

// Execute dispatches one planning command.
func (t *Tool) Execute(_ context.Context, args map[string]any) (string, error) {
	command, _ := args["command"].(string)
	planID, _ := args["plan_id"].(string)
	title, _ := args["title"].(string)

	switch command {
	case "create":
		steps, err := stepsArg(args, command)
		if err != nil {
			return "", err
		}
		p, err := t.store.Create(planID, title, steps)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Plan created successfully with ID: %s\n\n%s", p.ID, Format(p)), nil

	case "update":
		steps, err := stepsArg(args, command)
		if err != nil {
			return "", err
		}
		p, err := t.store.Update(planID, title, steps)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Plan updated successfully: %s\n\n%s", p.ID, Format(p)), nil

	case "list":
		plans, activeID := t.store.List()
		return FormatList(plans, activeID), nil

	case "get":
		p, err := t.store.Get(planID)
		if err != nil {
			return "", err
		}
		return Format(p), nil

	case "set_active":
		if err := t.store.SetActive(planID); err != nil {
			return "", err
		}
		return fmt.Sprintf("The active plan is now set to: %s", planID), nil

	case "mark_step":
		index, err := indexArg(args)
		if err != nil {
			return "", err
		}
		if index == nil {
			return "", fmt.Errorf("The `step_index` parameter is required for command: mark_step")
		}
		status, _ := args["step_status"].(string)
		notes, _ := args["step_notes"].(string)
		p, err := t.store.MarkStep(planID, *index, StepStatus(status), notes)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Step %d updated in plan '%s'.\n\n%s", *index, p.ID, Format(p)), nil

	case "delete":
		if err := t.store.Delete(planID); err != nil {
			return "", err
		}
		return fmt.Sprintf("Plan with ID '%s' has been deleted successfully.", planID), nil

	case "add_result":
		index, err := indexArg(args)
		if err != nil {
			return "", err
		}
		i := 0
		if index != nil {
			i = *index
		}
		result, _ := args["step_result"].(string)
		p, err := t.store.AddResult(planID, i, result)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Result added to step %d in plan '%s'.\n\n%s", i, p.ID, Format(p)), nil

	default:
		return "", fmt.Errorf("Command not recognized: %s. The allowed commands are: create, update, list, get, set_active, mark_step, delete, add_result", command)
	}
}

// stepsArg decodes the steps argument. Absent or empty is fine (nil); any
// non-string element is an error in the model's wording.
func stepsArg(args map[string]any, command string) ([]string, error) {
	raw, ok := args["steps"]
	if !ok || raw == nil {
		return nil, nil
	}

	badType := func() error {
		if command == "create" {
			return fmt.Errorf("The `steps` parameter must be a non-empty list of strings for command: create")
		}
		return fmt.Errorf("The `steps` parameter must be a list of strings for command: update")
	}

	switch list := raw.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, el := range list {
			s, ok := el.(string)
			if !ok {
				return nil, badType()
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, badType()
	}
}

// indexArg decodes step_index, which arrives as a JSON number and
// occasionally as a numeric string.
func indexArg(args map[string]any) (*int, error) {
	raw, ok := args["step_index"]
	if !ok || raw == nil {
		return nil, nil
	}

	switch v := raw.(type) {
	case int:
		return &v, nil
	case float64:
		if v != math.Trunc(v) {
			return nil, fmt.Errorf("Invalid step_index: %v. Must be an integer.", v)
		}
		i := int(v)
		return &i, nil
	case string:
		i, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("Invalid step_index: %v. Must be an integer.", v)
		}
		return &i, nil
	default:
		return nil, fmt.Errorf("Invalid step_index: %v. Must be an integer.", raw)
	}
}
