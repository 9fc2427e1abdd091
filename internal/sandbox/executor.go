// Package sandbox executes the fixed vocabulary of tool calls an agent may
// request, confined to one workspace directory. Execute never returns a Go
// error: every failure is carried in the ToolResult so the agent loop can
// feed it back to the model.
package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/taskforge-ai/taskforge/internal/core"
	"github.com/taskforge-ai/taskforge/internal/logging"
	"github.com/taskforge-ai/taskforge/internal/safety"
)

// Resource ceilings for tool execution.
const (
	// MaxFileSize is the largest file read_file will open.
	MaxFileSize = 1 << 20 // 1 MiB

	// MaxOutputSize caps tool output returned to the agent.
	MaxOutputSize = 10 << 10 // 10 KiB

	// streamKillLimit kills a running command once either output stream
	// exceeds it.
	streamKillLimit = 2 * MaxOutputSize

	truncationMarker = "\n[Output truncated]"
)

// Tool names understood by the executor.
const (
	ToolReadFile      = "read_file"
	ToolWriteFile     = "write_file"
	ToolListDirectory = "list_directory"
	ToolRunCommand    = "run_command"
	ToolVerifyServer  = "verify_server"
	ToolSearchFiles   = "search_files"
	ToolTaskComplete  = "task_complete"
)

// ToolResult is the outcome of one tool call. Purely a return value,
// never persisted.
type ToolResult struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Error   string `json:"error,omitempty"`
}

func failure(err error) ToolResult {
	return ToolResult{Success: false, Error: err.Error()}
}

func success(output string) ToolResult {
	return ToolResult{Success: true, Output: Truncate(output)}
}

// CheckFunc decides whether a shell command may run.
type CheckFunc func(command string) safety.Decision

// Executor runs tool calls confined to a single workspace root.
type Executor struct {
	root       string
	check      CheckFunc
	logger     *logging.Logger
	cmdTimeout time.Duration
}

// New creates an executor rooted at the given workspace directory.
func New(workspaceRoot string, logger *logging.Logger) *Executor {
	if logger == nil {
		logger = logging.NewNop()
	}
	abs, err := filepath.Abs(workspaceRoot)
	if err != nil {
		abs = workspaceRoot
	}
	return &Executor{
		root:       abs,
		check:      safety.Check,
		logger:     logger,
		cmdTimeout: commandTimeout,
	}
}

// WithCheck overrides the command whitelist, used by tests.
func (e *Executor) WithCheck(check CheckFunc) *Executor {
	e.check = check
	return e
}

// WithCommandTimeout overrides the run_command ceiling, used by tests.
func (e *Executor) WithCommandTimeout(d time.Duration) *Executor {
	e.cmdTimeout = d
	return e
}

// Root returns the workspace root the executor is confined to.
func (e *Executor) Root() string {
	return e.root
}

// Execute runs one tool call. Unknown tool names resolve to a failure
// result, never a panic or error.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]any) ToolResult {
	log := e.logger.WithTool(name)
	log.Debug("executing tool call")

	var result ToolResult
	switch name {
	case ToolReadFile:
		result = e.readFile(stringArg(args, "path"))
	case ToolWriteFile:
		result = e.writeFile(stringArg(args, "path"), stringArg(args, "content"))
	case ToolListDirectory:
		result = e.listDirectory(stringArg(args, "path"))
	case ToolRunCommand:
		result = e.runCommand(ctx, stringArg(args, "command"))
	case ToolVerifyServer:
		result = e.verifyServer(ctx, stringArg(args, "command"), stringSliceArg(args, "success_patterns"), intArg(args, "timeout_seconds"))
	case ToolSearchFiles:
		result = e.searchFiles(stringArg(args, "pattern"), stringArg(args, "path"))
	case ToolTaskComplete:
		result = e.taskComplete(stringArg(args, "summary"))
	default:
		result = failure(core.ErrValidation(core.CodeUnknownTool, fmt.Sprintf("unknown tool %q", name)))
	}

	if !result.Success {
		log.Debug("tool call failed", "error", result.Error)
	}
	return result
}

// resolvePath confines a tool-supplied path to the workspace root. It
// normalizes separators first so escape attempts using backslashes or
// drive letters are caught on every platform.
func (e *Executor) resolvePath(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", core.ErrValidation("PATH_REQUIRED", "path cannot be empty")
	}

	normalized := strings.ReplaceAll(trimmed, "\\", "/")
	if driveLetterRe.MatchString(normalized) {
		return "", core.ErrSandbox(core.CodePathEscape, fmt.Sprintf("absolute path %q escapes the workspace", raw))
	}
	if strings.HasPrefix(normalized, "/") {
		return "", core.ErrSandbox(core.CodePathEscape, fmt.Sprintf("absolute path %q escapes the workspace", raw))
	}

	joined := filepath.Join(e.root, filepath.FromSlash(normalized))
	rel, err := filepath.Rel(e.root, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", core.ErrSandbox(core.CodePathEscape, fmt.Sprintf("path %q escapes the workspace", raw))
	}
	return joined, nil
}

var driveLetterRe = regexp.MustCompile(`^[a-zA-Z]:`)

func (e *Executor) readFile(path string) ToolResult {
	resolved, err := e.resolvePath(path)
	if err != nil {
		return failure(err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return failure(core.ErrNotFound("file", path))
		}
		return failure(fmt.Errorf("stat %s: %w", path, err))
	}
	if info.IsDir() {
		return failure(core.ErrValidation("IS_DIRECTORY", fmt.Sprintf("%q is a directory, not a file", path)))
	}
	if info.Size() > MaxFileSize {
		return failure(core.ErrResource(core.CodeFileTooLarge,
			fmt.Sprintf("file %q is %d bytes, exceeds the %d byte ceiling", path, info.Size(), MaxFileSize)))
	}

	content, err := os.ReadFile(resolved)
	if err != nil {
		return failure(fmt.Errorf("reading %s: %w", path, err))
	}
	return success(string(content))
}

func (e *Executor) writeFile(path, content string) ToolResult {
	resolved, err := e.resolvePath(path)
	if err != nil {
		return failure(err)
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return failure(fmt.Errorf("creating parent directories for %s: %w", path, err))
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return failure(fmt.Errorf("writing %s: %w", path, err))
	}
	return success(fmt.Sprintf("Wrote %d bytes to %s", len(content), path))
}

func (e *Executor) listDirectory(path string) ToolResult {
	if strings.TrimSpace(path) == "" {
		path = "."
	}
	resolved, err := e.resolvePath(path)
	if err != nil {
		return failure(err)
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return failure(core.ErrNotFound("directory", path))
		}
		return failure(fmt.Errorf("listing %s: %w", path, err))
	}
	if len(entries) == 0 {
		return success("(empty directory)")
	}

	// Directories first, then lexicographic within each group.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})

	var b strings.Builder
	for _, entry := range entries {
		if entry.IsDir() {
			fmt.Fprintf(&b, "[DIR]  %s\n", entry.Name())
		} else {
			fmt.Fprintf(&b, "[FILE] %s\n", entry.Name())
		}
	}
	return success(strings.TrimRight(b.String(), "\n"))
}

func (e *Executor) taskComplete(summary string) ToolResult {
	if strings.TrimSpace(summary) == "" {
		return failure(core.ErrValidation("SUMMARY_REQUIRED", "task_complete requires a non-empty summary"))
	}
	return ToolResult{Success: true, Output: summary}
}

// Truncate caps output at MaxOutputSize with an explicit marker. Applying
// it to already-truncated output is a no-op.
func Truncate(s string) string {
	if len(s) <= MaxOutputSize {
		return s
	}
	if strings.HasSuffix(s, truncationMarker) && len(s) <= MaxOutputSize+len(truncationMarker) {
		return s
	}
	return s[:MaxOutputSize] + truncationMarker
}

func stringArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func intArg(args map[string]any, key string) int {
	if args == nil {
		return 0
	}
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func stringSliceArg(args map[string]any, key string) []string {
	if args == nil {
		return nil
	}
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
