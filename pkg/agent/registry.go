package agent

import (
	"github.com/DistilledAI/conductor/pkg/plan"
	"github.com/DistilledAI/conductor/pkg/tools"
)

// Built-in tool names. The response parser routes calls to these names into
// typed actions; every other name must resolve through the hub routing map.
const (
	ToolBash     = "execute_bash"
	ToolIPython  = "execute_ipython_cell"
	ToolFileEdit = "edit_file"
	ToolFinish   = "finish"
	ToolThink    = "think"
	ToolBrowser  = "browser"
	ToolWebRead  = "web_read"
)

// CmdRunTool executes a shell command in the sandbox.
var CmdRunTool = tools.Definition{
	Name: ToolBash,
	Description: `Execute a bash command in the terminal.
* Long running commands: for commands that may run indefinitely, run them in the background and redirect output to a file, e.g. command = ` + "`python3 app.py > server.log 2>&1 &`" + `.
* One command at a time: chain multiple steps with && or ; instead of sending several calls.`,
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The bash command to execute. Can be empty to view additional logs when the previous exit code is missing.",
			},
		},
		"required": []any{"command"},
	},
}

// IPythonTool runs a cell of Python code in the session interpreter.
var IPythonTool = tools.Definition{
	Name: ToolIPython,
	Description: `Run a cell of Python code in an IPython environment.
* The kernel keeps state between calls: variables and imports persist.
* Print what you need to see; the cell output is returned as the observation.`,
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"code": map[string]any{
				"type":        "string",
				"description": "The Python code to execute. Supports magic commands such as %pip.",
			},
		},
		"required": []any{"code"},
	},
}

// FileEditTool edits a file through the LLM-based editor.
var FileEditTool = tools.Definition{
	Name: ToolFileEdit,
	Description: `Edit a file by describing the full target content of the edited range.
* Omit start and end to rewrite the whole file, or give 1-based line bounds to scope the edit.
* end = -1 means end of file.`,
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Absolute path of the file to edit.",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "The new content for the edited range.",
			},
			"start": map[string]any{
				"type":        "integer",
				"description": "First line of the edited range (1-based). Defaults to 1.",
			},
			"end": map[string]any{
				"type":        "integer",
				"description": "Last line of the edited range; -1 means end of file.",
			},
		},
		"required": []any{"path", "content"},
	},
}

// FinishTool signals completion of the current task or conversation.
var FinishTool = tools.Definition{
	Name: ToolFinish,
	Description: `Signals the completion of the current task or conversation.

Use this tool when:
- You have successfully completed the user's requested task and saved the final answer to file
- You maynot proceed further due to technical limitations or missing information

The message should concise and include:
- The absolute path to the file where the final answer is saved. Eg: ` + "`/workspace/36eedc34afb34d84ba1a1bfdb13e0e97/result.md or /workspace/result.md`" + `. If there's a session id, it should be included in the path, e.g. ` + "`/workspace/36eedc34afb34d84ba1a1bfdb13e0e97/result.md`" + `."

The task_completed field should be set to True if you believe you have successfully completed the task, and False otherwise.
`,
	Parameters: map[string]any{
		"type":     "object",
		"required": []any{"message", "task_completed"},
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "The final message to the user, including the absolute path to the file where the final answer is saved.",
			},
			"task_completed": map[string]any{
				"type":        "boolean",
				"description": "Whether you believe you have successfully completed the user's task",
			},
		},
		"additionalProperties": false,
	},
}

// ThinkTool records a reasoning step without acting on the environment.
var ThinkTool = tools.Definition{
	Name: ToolThink,
	Description: `Use the tool to think about something. It will not obtain new information or make any changes, but the thought is logged into the conversation.
Use it when complex reasoning or brainstorming is needed before the next action.`,
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"thought": map[string]any{
				"type":        "string",
				"description": "The thought to log.",
			},
		},
		"required": []any{"thought"},
	},
}

// WebReadTool fetches a page and returns its content as markdown.
var WebReadTool = tools.Definition{
	Name: ToolWebRead,
	Description: `Read (convert to markdown) the content of a webpage. Use this for plain content pages; use the browser tool when interaction is required.`,
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The URL of the webpage to read.",
			},
		},
		"required": []any{"url"},
	},
}

// BrowserTool drives an interactive browser session.
var BrowserTool = tools.Definition{
	Name: ToolBrowser,
	Description: `Interact with the browser by issuing navigation and interaction commands (goto, click, fill, scroll). One interaction per call.`,
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"code": map[string]any{
				"type":        "string",
				"description": "The browser commands to execute.",
			},
		},
		"required": []any{"code"},
	},
}

// ExecutorToolset returns the built-in definitions for an executor with the
// given configuration. Order is stable: the merged set sent to the LLM keeps
// built-ins before hub results.
func ExecutorToolset(cfg Config) []tools.Definition {
	defs := []tools.Definition{CmdRunTool, ThinkTool, FinishTool}
	if cfg.EnableBrowsing {
		defs = append(defs, WebReadTool, BrowserTool)
	}
	if cfg.EnableJupyter {
		defs = append(defs, IPythonTool)
	}
	if cfg.EnableLLMEditor {
		defs = append(defs, FileEditTool)
	}
	return defs
}

// PlannerToolset returns the fixed planner tool set: the planning tool plus
// the think and finish helpers.
func PlannerToolset(planTool *plan.Tool) []tools.Definition {
	return []tools.Definition{planTool.Definition(), ThinkTool, FinishTool}
}
