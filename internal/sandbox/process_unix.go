//go:build !windows

package sandbox

import (
	"os/exec"
	"syscall"
)

// configureProcAttr places the child in its own process group so the whole
// tree can be signaled at once. Build tools fork children that must die
// with the parent.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killTree kills the command's entire process group.
func killTree(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid
	if pgid, err := syscall.Getpgid(pid); err == nil {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		return
	}
	// Process group lookup failed; fall back to the direct child.
	_ = cmd.Process.Kill()
}
