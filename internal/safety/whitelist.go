// Package safety gates shell commands requested by agents. It is a pure
// predicate over the command string: no state, safe for concurrent use.
package safety

import (
	"fmt"
	"regexp"
	"strings"
)

// Decision is the outcome of a whitelist check.
type Decision struct {
	Allowed bool
	Reason  string
}

// allowedExecutables are bare executables considered safe regardless of
// arguments (subject to the deny patterns below).
var allowedExecutables = map[string]bool{
	"ls": true, "cat": true, "head": true, "tail": true, "wc": true,
	"grep": true, "find": true, "diff": true, "echo": true, "pwd": true,
	"which": true, "sort": true, "uniq": true, "tree": true, "file": true,
	"node": true, "python": true, "python3": true, "ruby": true,
	"tsc": true, "eslint": true, "prettier": true, "jest": true,
	"vitest": true, "pytest": true, "mocha": true,
	"gofmt": true, "make": true, "mvn": true, "gradle": true,
	"dotnet": true, "javac": true, "java": true, "rustc": true,
	"touch": true, "mkdir": true, "cp": true, "mv": true,
}

// allowedSubcommands maps executables to the subcommands permitted for
// them. An executable listed here is only allowed with one of its listed
// subcommands.
var allowedSubcommands = map[string]map[string]bool{
	"git": {
		"status": true, "diff": true, "log": true, "show": true,
		"branch": true, "add": true, "commit": true, "checkout": true,
		"switch": true, "restore": true, "stash": true, "rev-parse": true,
		"ls-files": true, "blame": true, "merge-base": true,
	},
	"go": {
		"build": true, "test": true, "vet": true, "fmt": true,
		"run": true, "mod": true, "list": true, "generate": true,
	},
	"npm": {
		"install": true, "ci": true, "test": true, "run": true,
		"ls": true, "audit": true,
	},
	"pnpm": {
		"install": true, "test": true, "run": true, "build": true,
	},
	"yarn": {
		"install": true, "test": true, "run": true, "build": true,
	},
	"npx": {
		"tsc": true, "jest": true, "vitest": true, "eslint": true,
		"prettier": true, "playwright": true,
	},
	"cargo": {
		"build": true, "test": true, "check": true, "fmt": true,
		"clippy": true, "run": true,
	},
	"pip": {
		"install": true, "list": true, "show": true,
	},
	"pip3": {
		"install": true, "list": true, "show": true,
	},
}

// denyPatterns block commands outright. Deny wins over allow.
var denyPatterns = []struct {
	re     *regexp.Regexp
	reason string
}{
	{regexp.MustCompile(`\brm\s+(-[a-zA-Z]*[rf][a-zA-Z]*\s*)+`), "recursive or forced delete"},
	{regexp.MustCompile(`\brm\s+.*(/|\*)`), "delete targeting a path root or glob"},
	{regexp.MustCompile(`\bchmod\b`), "permission changes are not allowed"},
	{regexp.MustCompile(`\bchown\b`), "ownership changes are not allowed"},
	{regexp.MustCompile(`\bsudo\b`), "privilege escalation is not allowed"},
	{regexp.MustCompile(`\bmkfs\b`), "filesystem formatting is not allowed"},
	{regexp.MustCompile(`\bdd\s+if=`), "raw device copy is not allowed"},
	{regexp.MustCompile(`>\s*/dev/`), "writing to devices is not allowed"},
	{regexp.MustCompile(`\b(curl|wget)\b.*\|\s*(sh|bash|zsh)\b`), "piping downloads into a shell"},
	{regexp.MustCompile(`\b(curl|wget|nc|ncat|scp|rsync|ssh)\b`), "network transfer tools are not allowed"},
	{regexp.MustCompile(`\bgit\s+push\b`), "pushing is handled by the orchestrator, not the agent"},
	{regexp.MustCompile(`\bgit\s+reset\s+--hard\b`), "hard reset discards work"},
	{regexp.MustCompile(`:\(\)\s*\{`), "fork bomb pattern"},
	{regexp.MustCompile(`\beval\b`), "shell eval is not allowed"},
	{regexp.MustCompile(`\bexec\b\s+\d*<`), "shell exec redirection is not allowed"},
	{regexp.MustCompile(`\$\(`), "command substitution is not allowed"},
	{regexp.MustCompile("`"), "command substitution is not allowed"},
}

// Check decides whether a shell command may run inside a workspace.
// Denials always carry a non-empty reason.
func Check(command string) Decision {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return Decision{Allowed: false, Reason: "empty command"}
	}

	// Deny-list first: it wins over any allow rule.
	for _, p := range denyPatterns {
		if p.re.MatchString(trimmed) {
			return Decision{Allowed: false, Reason: p.reason}
		}
	}

	// Evaluate each segment of a pipeline or chain separately; every
	// segment must be allowed on its own.
	for _, segment := range splitSegments(trimmed) {
		if d := checkSegment(segment); !d.Allowed {
			return d
		}
	}

	return Decision{Allowed: true, Reason: "allowed"}
}

func checkSegment(segment string) Decision {
	fields := strings.Fields(segment)
	if len(fields) == 0 {
		return Decision{Allowed: false, Reason: "empty command segment"}
	}

	exe := baseName(fields[0])

	if allowedExecutables[exe] {
		return Decision{Allowed: true, Reason: "allowed"}
	}

	if subs, ok := allowedSubcommands[exe]; ok {
		sub := firstSubcommand(fields[1:])
		if sub == "" {
			return Decision{Allowed: false, Reason: fmt.Sprintf("%q requires an explicit subcommand", exe)}
		}
		if subs[sub] {
			return Decision{Allowed: true, Reason: "allowed"}
		}
		return Decision{Allowed: false, Reason: fmt.Sprintf("%q subcommand %q is not in the allowed set", exe, sub)}
	}

	return Decision{Allowed: false, Reason: fmt.Sprintf("executable %q is not whitelisted", exe)}
}

func splitSegments(command string) []string {
	parts := regexp.MustCompile(`\|\||&&|\||;`).Split(command, -1)
	segments := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			segments = append(segments, p)
		}
	}
	if len(segments) == 0 {
		return []string{command}
	}
	return segments
}

func baseName(exe string) string {
	if idx := strings.LastIndexByte(exe, '/'); idx >= 0 {
		exe = exe[idx+1:]
	}
	return strings.ToLower(exe)
}

// firstSubcommand returns the first argument that is not a flag.
func firstSubcommand(args []string) string {
	for _, a := range args {
		if !strings.HasPrefix(a, "-") {
			return a
		}
	}
	return ""
}
