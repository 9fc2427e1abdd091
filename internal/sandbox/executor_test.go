package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge-ai/taskforge/internal/safety"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	return New(t.TempDir(), nil)
}

// allowAll bypasses the whitelist so command tests can use arbitrary
// shell builtins.
func allowAll(string) safety.Decision {
	return safety.Decision{Allowed: true, Reason: "test"}
}

func TestExecute_UnknownTool(t *testing.T) {
	e := newTestExecutor(t)
	res := e.Execute(context.Background(), "launch_missiles", nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "unknown tool")
}

func TestPathConfinement(t *testing.T) {
	e := newTestExecutor(t)
	escapes := []string{
		"../outside.txt",
		"../../etc/passwd",
		"a/../../outside",
		"/etc/passwd",
		`..\..\windows\system32`,
		`C:\Windows\system32\config`,
		`c:/secrets`,
	}

	for _, p := range escapes {
		for _, tool := range []string{ToolReadFile, ToolWriteFile, ToolListDirectory} {
			res := e.Execute(context.Background(), tool, map[string]any{"path": p, "content": "x"})
			assert.False(t, res.Success, "tool %s must reject path %q", tool, p)
			assert.Contains(t, res.Error, "workspace", "tool %s path %q", tool, p)
		}
		res := e.Execute(context.Background(), ToolSearchFiles, map[string]any{"pattern": "x", "path": p})
		assert.False(t, res.Success, "search_files must reject path %q", p)
	}
}

func TestPathConfinement_NeverTouchesOutside(t *testing.T) {
	dir := t.TempDir()
	outside := filepath.Join(dir, "outside.txt")
	workspace := filepath.Join(dir, "ws")
	require.NoError(t, os.Mkdir(workspace, 0o755))

	e := New(workspace, nil)
	res := e.Execute(context.Background(), ToolWriteFile, map[string]any{
		"path": "../outside.txt", "content": "escaped",
	})
	assert.False(t, res.Success)
	_, err := os.Stat(outside)
	assert.True(t, os.IsNotExist(err), "file outside the workspace must not be created")
}

func TestReadFile(t *testing.T) {
	e := newTestExecutor(t)
	require.NoError(t, os.WriteFile(filepath.Join(e.Root(), "hello.txt"), []byte("hello world"), 0o644))

	res := e.Execute(context.Background(), ToolReadFile, map[string]any{"path": "hello.txt"})
	assert.True(t, res.Success)
	assert.Equal(t, "hello world", res.Output)
}

func TestReadFile_Missing(t *testing.T) {
	e := newTestExecutor(t)
	res := e.Execute(context.Background(), ToolReadFile, map[string]any{"path": "nope.txt"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not found")
}

func TestReadFile_Directory(t *testing.T) {
	e := newTestExecutor(t)
	require.NoError(t, os.Mkdir(filepath.Join(e.Root(), "sub"), 0o755))

	res := e.Execute(context.Background(), ToolReadFile, map[string]any{"path": "sub"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "directory")
}

func TestReadFile_TooLarge(t *testing.T) {
	e := newTestExecutor(t)
	big := make([]byte, MaxFileSize+1)
	require.NoError(t, os.WriteFile(filepath.Join(e.Root(), "big.bin"), big, 0o644))

	res := e.Execute(context.Background(), ToolReadFile, map[string]any{"path": "big.bin"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "ceiling")
}

func TestReadFile_TruncatesOutput(t *testing.T) {
	e := newTestExecutor(t)
	content := strings.Repeat("a", MaxOutputSize+500)
	require.NoError(t, os.WriteFile(filepath.Join(e.Root(), "long.txt"), []byte(content), 0o644))

	res := e.Execute(context.Background(), ToolReadFile, map[string]any{"path": "long.txt"})
	assert.True(t, res.Success)
	assert.Len(t, res.Output, MaxOutputSize+len("\n[Output truncated]"))
	assert.True(t, strings.HasSuffix(res.Output, "[Output truncated]"))
}

func TestTruncate_Idempotent(t *testing.T) {
	long := strings.Repeat("x", MaxOutputSize*3)
	once := Truncate(long)
	twice := Truncate(once)
	assert.Equal(t, once, twice)
	assert.Len(t, once, MaxOutputSize+len("\n[Output truncated]"))
}

func TestTruncate_ShortPassthrough(t *testing.T) {
	assert.Equal(t, "short", Truncate("short"))
}

func TestWriteFile_CreatesParents(t *testing.T) {
	e := newTestExecutor(t)
	res := e.Execute(context.Background(), ToolWriteFile, map[string]any{
		"path": "deep/nested/dir/file.txt", "content": "data",
	})
	require.True(t, res.Success, res.Error)
	assert.Contains(t, res.Output, "4 bytes")

	data, err := os.ReadFile(filepath.Join(e.Root(), "deep/nested/dir/file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
}

func TestWriteFile_Overwrites(t *testing.T) {
	e := newTestExecutor(t)
	ctx := context.Background()
	e.Execute(ctx, ToolWriteFile, map[string]any{"path": "f.txt", "content": "old old old"})
	res := e.Execute(ctx, ToolWriteFile, map[string]any{"path": "f.txt", "content": "new"})
	require.True(t, res.Success)

	data, _ := os.ReadFile(filepath.Join(e.Root(), "f.txt"))
	assert.Equal(t, "new", string(data))
}

func TestListDirectory(t *testing.T) {
	e := newTestExecutor(t)
	require.NoError(t, os.Mkdir(filepath.Join(e.Root(), "zdir"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(e.Root(), "adir"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(e.Root(), "bfile.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(e.Root(), "afile.txt"), []byte("x"), 0o644))

	res := e.Execute(context.Background(), ToolListDirectory, map[string]any{})
	require.True(t, res.Success)

	lines := strings.Split(res.Output, "\n")
	require.Len(t, lines, 4)
	// directories first, then files, lexicographic within each group
	assert.Equal(t, "[DIR]  adir", lines[0])
	assert.Equal(t, "[DIR]  zdir", lines[1])
	assert.Equal(t, "[FILE] afile.txt", lines[2])
	assert.Equal(t, "[FILE] bfile.txt", lines[3])
}

func TestListDirectory_Empty(t *testing.T) {
	e := newTestExecutor(t)
	res := e.Execute(context.Background(), ToolListDirectory, map[string]any{"path": "."})
	assert.True(t, res.Success)
	assert.Equal(t, "(empty directory)", res.Output)
}

func TestSearchFiles(t *testing.T) {
	e := newTestExecutor(t)
	require.NoError(t, os.WriteFile(filepath.Join(e.Root(), "main.go"),
		[]byte("package main\n\nfunc main() {}\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(e.Root(), "node_modules/dep"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(e.Root(), "node_modules/dep/x.js"),
		[]byte("func main"), 0o644))

	res := e.Execute(context.Background(), ToolSearchFiles, map[string]any{"pattern": "func main"})
	require.True(t, res.Success)
	assert.Contains(t, res.Output, "main.go:3")
	assert.NotContains(t, res.Output, "node_modules", "skip dirs must be excluded")
}

func TestSearchFiles_NoMatches(t *testing.T) {
	e := newTestExecutor(t)
	res := e.Execute(context.Background(), ToolSearchFiles, map[string]any{"pattern": "nothing_matches_this"})
	assert.True(t, res.Success, "zero matches is a success, not a failure")
	assert.Contains(t, res.Output, "No matches")
}

func TestTaskComplete(t *testing.T) {
	e := newTestExecutor(t)
	res := e.Execute(context.Background(), ToolTaskComplete, map[string]any{"summary": "implemented the fix"})
	assert.True(t, res.Success)
	assert.Equal(t, "implemented the fix", res.Output)

	res = e.Execute(context.Background(), ToolTaskComplete, map[string]any{"summary": "  "})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "summary")
}
