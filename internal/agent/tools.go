package agent

import (
	"github.com/anthropics/anthropic-sdk-go"
)

// ToolDefinitions returns the file and shell tools API-backed sessions
// expose to the model. The names and parameter shapes mirror the
// claude CLI's built-in tools so prompts work on either backend.
func ToolDefinitions() []anthropic.ToolUnionParam {
	return []anthropic.ToolUnionParam{
		{
			OfTool: &anthropic.ToolParam{
				Name:        "Read",
				Description: anthropic.String("Read a file from the filesystem. Returns the content with line numbers."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]any{
						"file_path": map[string]any{
							"type":        "string",
							"description": "Path to the file, absolute or relative to the working directory",
						},
						"offset": map[string]any{
							"type":        "integer",
							"description": "Line number to start reading from (1-based)",
						},
						"limit": map[string]any{
							"type":        "integer",
							"description": "Maximum number of lines to read",
						},
					},
					Required: []string{"file_path"},
				},
			},
		},
		{
			OfTool: &anthropic.ToolParam{
				Name:        "Write",
				Description: anthropic.String("Write content to a file, creating parent directories as needed. Overwrites existing files."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]any{
						"file_path": map[string]any{
							"type":        "string",
							"description": "Path to the file to write",
						},
						"content": map[string]any{
							"type":        "string",
							"description": "Full content to write",
						},
					},
					Required: []string{"file_path", "content"},
				},
			},
		},
		{
			OfTool: &anthropic.ToolParam{
				Name:        "Edit",
				Description: anthropic.String("Replace an exact string in a file. The old string must be unique unless replace_all is set."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]any{
						"file_path": map[string]any{
							"type":        "string",
							"description": "Path to the file to edit",
						},
						"old_string": map[string]any{
							"type":        "string",
							"description": "Exact text to replace",
						},
						"new_string": map[string]any{
							"type":        "string",
							"description": "Replacement text",
						},
						"replace_all": map[string]any{
							"type":        "boolean",
							"description": "Replace every occurrence instead of requiring uniqueness",
						},
					},
					Required: []string{"file_path", "old_string", "new_string"},
				},
			},
		},
		{
			OfTool: &anthropic.ToolParam{
				Name:        "Bash",
				Description: anthropic.String("Run a shell command in the working directory and return its combined output."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]any{
						"command": map[string]any{
							"type":        "string",
							"description": "Command to execute",
						},
						"timeout": map[string]any{
							"type":        "integer",
							"description": "Timeout in milliseconds (default 120000)",
						},
					},
					Required: []string{"command"},
				},
			},
		},
		{
			OfTool: &anthropic.ToolParam{
				Name:        "Glob",
				Description: anthropic.String("Find files matching a glob pattern. Supports ** for recursive matching."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]any{
						"pattern": map[string]any{
							"type":        "string",
							"description": "Glob pattern, e.g. internal/**/*.go",
						},
						"path": map[string]any{
							"type":        "string",
							"description": "Directory to search in (default: working directory)",
						},
					},
					Required: []string{"pattern"},
				},
			},
		},
		{
			OfTool: &anthropic.ToolParam{
				Name:        "Grep",
				Description: anthropic.String("Search file contents with a regular expression. Returns matching lines with file and line number."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]any{
						"pattern": map[string]any{
							"type":        "string",
							"description": "Regular expression to search for",
						},
						"path": map[string]any{
							"type":        "string",
							"description": "File or directory to search (default: working directory)",
						},
						"glob": map[string]any{
							"type":        "string",
							"description": "Restrict the search to files matching this glob",
						},
					},
					Required: []string{"pattern"},
				},
			},
		},
	}
}
