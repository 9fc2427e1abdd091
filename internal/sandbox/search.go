package sandbox

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/taskforge-ai/taskforge/internal/core"
)

const maxSearchMatches = 100

// skipDirs are never descended into during a search.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	".idea":        true,
	"dist":         true,
	"build":        true,
}

// searchFiles runs a recursive text search under the given subdirectory
// (workspace root when empty). Zero matches is a success, not a failure.
func (e *Executor) searchFiles(pattern, path string) ToolResult {
	if strings.TrimSpace(pattern) == "" {
		return failure(core.ErrValidation("PATTERN_REQUIRED", "search pattern cannot be empty"))
	}
	if strings.TrimSpace(path) == "" {
		path = "."
	}
	root, err := e.resolvePath(path)
	if err != nil {
		return failure(err)
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		// Fall back to a literal match when the pattern is not a valid
		// regular expression.
		re = regexp.MustCompile(regexp.QuoteMeta(pattern))
	}

	var matches []string
	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if info, err := d.Info(); err != nil || info.Size() > MaxFileSize {
			return nil
		}
		if len(matches) >= maxSearchMatches {
			return filepath.SkipAll
		}
		e.searchFile(p, re, &matches)
		return nil
	})
	if walkErr != nil {
		return failure(fmt.Errorf("searching %s: %w", path, walkErr))
	}

	if len(matches) == 0 {
		return success(fmt.Sprintf("No matches found for pattern %q", pattern))
	}

	header := fmt.Sprintf("%d match(es) for pattern %q:\n", len(matches), pattern)
	if len(matches) >= maxSearchMatches {
		header = fmt.Sprintf("%d+ matches for pattern %q (stopped at limit):\n", maxSearchMatches, pattern)
	}
	return success(header + strings.Join(matches, "\n"))
}

func (e *Executor) searchFile(path string, re *regexp.Regexp, matches *[]string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	rel, err := filepath.Rel(e.root, path)
	if err != nil {
		rel = path
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 256*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if !re.MatchString(line) {
			continue
		}
		if len(line) > 200 {
			line = line[:200] + "..."
		}
		*matches = append(*matches, fmt.Sprintf("%s:%d: %s", filepath.ToSlash(rel), lineNo, line))
		if len(*matches) >= maxSearchMatches {
			return
		}
	}
}
