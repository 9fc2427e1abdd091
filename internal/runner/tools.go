package runner

import (
	"github.com/taskforge-ai/taskforge/internal/provider"
	"github.com/taskforge-ai/taskforge/internal/sandbox"
)

// ToolDefinitions returns the tool vocabulary offered to the model. The
// schemas mirror the executor's argument parsing exactly.
func ToolDefinitions() []provider.ToolDefinition {
	return []provider.ToolDefinition{
		provider.NewTool(sandbox.ToolReadFile,
			"Read a file from the workspace. Returns the file content, truncated if very large.",
			objectSchema(map[string]any{
				"path": stringProp("Workspace-relative path of the file to read"),
			}, "path")),
		provider.NewTool(sandbox.ToolWriteFile,
			"Write content to a file in the workspace, creating parent directories as needed. Overwrites existing files.",
			objectSchema(map[string]any{
				"path":    stringProp("Workspace-relative path of the file to write"),
				"content": stringProp("Full content to write"),
			}, "path", "content")),
		provider.NewTool(sandbox.ToolListDirectory,
			"List the entries of a workspace directory. Directories are listed first.",
			objectSchema(map[string]any{
				"path": stringProp("Workspace-relative directory path; defaults to the workspace root"),
			})),
		provider.NewTool(sandbox.ToolRunCommand,
			"Run a whitelisted shell command in the workspace and return its combined output. Build, test, and VCS commands are allowed; network and destructive commands are not.",
			objectSchema(map[string]any{
				"command": stringProp("The shell command to run"),
			}, "command")),
		provider.NewTool(sandbox.ToolVerifyServer,
			"Start a server command and verify it prints one of the given patterns and stays up. The process is always killed before returning.",
			objectSchema(map[string]any{
				"command": stringProp("The server start command"),
				"success_patterns": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Substrings that indicate the server is ready (case-insensitive)",
				},
				"timeout_seconds": map[string]any{
					"type":        "integer",
					"description": "How long to wait for a pattern match, in seconds",
				},
			}, "command", "success_patterns")),
		provider.NewTool(sandbox.ToolSearchFiles,
			"Search workspace files for a regular expression and return matching lines with file and line number.",
			objectSchema(map[string]any{
				"pattern": stringProp("Regular expression to search for; treated literally if it does not compile"),
				"path":    stringProp("Workspace-relative directory to search; defaults to the workspace root"),
			}, "pattern")),
		provider.NewTool(sandbox.ToolTaskComplete,
			"Declare the task finished. Call this exactly once, after all work is done and verified.",
			objectSchema(map[string]any{
				"summary": stringProp("A concise summary of what was accomplished"),
			}, "summary")),
	}
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}
