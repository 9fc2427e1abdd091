package orchestrator

import (
	"context"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/taskforge-ai/taskforge/internal/core"
	"github.com/taskforge-ai/taskforge/internal/events"
	"github.com/taskforge-ai/taskforge/internal/logging"
	"github.com/taskforge-ai/taskforge/internal/sandbox"
)

// ReconcileOrphans scans the process table for agent processes left over
// from a previous run of this service and kills them. Managed processes
// are identified by the environment marker every sandboxed spawn carries.
// Tasks stuck in an active status without a session stay that way until a
// cancel; only the processes are reaped here.
func ReconcileOrphans(ctx context.Context, bus *events.Broadcaster, logger *logging.Logger) (killed int, err error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	procs, err := process.Processes()
	if err != nil {
		return 0, core.ErrState("PROCESS_SCAN_FAILED", "cannot list processes").WithCause(err)
	}

	marker := sandbox.ManagedEnvVar + "="
	for _, p := range procs {
		select {
		case <-ctx.Done():
			return killed, ctx.Err()
		default:
		}

		env, envErr := p.Environ()
		if envErr != nil {
			continue // not ours to inspect
		}
		var managed bool
		var taskID string
		for _, kv := range env {
			if strings.HasPrefix(kv, marker) {
				managed = true
			}
			if strings.HasPrefix(kv, "TASKFORGE_TASK_ID=") {
				taskID = strings.TrimPrefix(kv, "TASKFORGE_TASK_ID=")
			}
		}
		if !managed {
			continue
		}

		name, _ := p.Name()
		logger.Warn("killing orphaned managed process",
			"pid", p.Pid, "name", name, "task_id", taskID)
		if killErr := p.Kill(); killErr != nil {
			logger.Error("failed to kill orphan", "pid", p.Pid, "error", killErr)
			continue
		}
		killed++
		if taskID != "" && bus != nil {
			bus.EmitLog(core.TaskID(taskID), "Killed orphaned agent process from a previous run")
		}
	}

	if killed > 0 {
		logger.Info("orphan reconciliation complete", "killed", killed)
	}
	return killed, nil
}
