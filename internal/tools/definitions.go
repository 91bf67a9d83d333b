package tools

import (
	"encoding/json"

	"github.com/quillengine/quill/pkg/models"
)

// Tool definitions offered to the model. Parameters are JSON Schema
// objects; the required lists are enforced before dispatch.

var readDefinition = models.ToolDefinition{
	Name:        "Read",
	Description: "Reads a file from the local filesystem. The file_path must be an absolute path.",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"file_path": {
				"type": "string",
				"description": "The absolute path to the file to read"
			},
			"offset": {
				"type": "integer",
				"minimum": 0,
				"description": "The line number to start reading from (required, 0-based)"
			},
			"limit": {
				"type": "integer",
				"minimum": 0,
				"description": "The number of lines to read (required)"
			}
		},
		"required": ["file_path", "offset", "limit"]
	}`),
}

var globDefinition = models.ToolDefinition{
	Name:        "Glob",
	Description: "Fast file pattern matching tool using glob patterns like '**/*.go'",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern": {
				"type": "string",
				"description": "The glob pattern to match files against"
			},
			"path": {
				"type": "string",
				"description": "The directory to search in (optional)"
			}
		},
		"required": ["pattern"]
	}`),
}

var grepDefinition = models.ToolDefinition{
	Name:        "Grep",
	Description: "Fast content search tool using regular expressions",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern": {
				"type": "string",
				"description": "The regular expression pattern to search for in file contents"
			},
			"include": {
				"type": "string",
				"description": "File pattern to include in the search (e.g. \"*.go\", \"*.{go,mod}\")"
			},
			"path": {
				"type": "string",
				"description": "The directory to search in (optional)"
			}
		},
		"required": ["pattern"]
	}`),
}

var lsDefinition = models.ToolDefinition{
	Name:        "LS",
	Description: "Lists files and directories in a given path",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {
				"type": "string",
				"description": "The absolute path to the directory to list"
			},
			"ignore": {
				"type": "array",
				"items": {"type": "string"},
				"description": "List of glob patterns to ignore (optional)"
			}
		},
		"required": ["path"]
	}`),
}

var editDefinition = models.ToolDefinition{
	Name:        "Edit",
	Description: "Edits a file by replacing one string with another",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"file_path": {
				"type": "string",
				"description": "The absolute path to the file to modify"
			},
			"old_string": {
				"type": "string",
				"description": "The text to replace (must be unique within the file)"
			},
			"new_string": {
				"type": "string",
				"description": "The text to replace it with"
			}
		},
		"required": ["file_path", "old_string", "new_string"]
	}`),
}

var replaceDefinition = models.ToolDefinition{
	Name:        "Replace",
	Description: "Completely replaces a file with new content",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"file_path": {
				"type": "string",
				"description": "The absolute path to the file to write"
			},
			"content": {
				"type": "string",
				"description": "The content to write to the file"
			}
		},
		"required": ["file_path", "content"]
	}`),
}

var bashDefinition = models.ToolDefinition{
	Name:        "Bash",
	Description: "Executes a shell command",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {
				"type": "string",
				"description": "The command to execute"
			},
			"timeout": {
				"type": "integer",
				"description": "Optional timeout in milliseconds (max 600000)"
			}
		},
		"required": ["command"]
	}`),
}
