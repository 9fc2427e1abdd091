package cmd

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/jaypipes/ghw"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/spf13/cobra"
)

// Minimum headroom before doctor flags a resource as tight. Agent
// sessions clone repositories and run builds, both disk-hungry.
const (
	minFreeDiskBytes = 2 << 30   // 2 GiB
	minFreeMemBytes  = 512 << 20 // 512 MiB
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check system dependencies and resources",
	Long:  "Verify that required tools are installed and the host has headroom to run agent sessions.",
	RunE:  runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	checks := []struct {
		name     string
		command  string
		required bool
	}{
		{"git", "git", true},
		{"agent CLI (" + cfg.Agent.Command + ")", cfg.Agent.Command, cfg.Agent.Kind == "subprocess"},
	}

	fmt.Println("Checking dependencies...")
	fmt.Println()

	requiredOk := true
	for _, check := range checks {
		icon := "✓"
		suffix := ""
		if _, err := exec.LookPath(check.command); err != nil {
			if check.required {
				icon = "✗"
				requiredOk = false
			} else {
				icon = "○"
				suffix = " (optional)"
			}
		}
		fmt.Printf("  %s %s%s\n", icon, check.name, suffix)
	}

	if cfg.Agent.Kind == "api" {
		icon := "✓"
		suffix := ""
		if os.Getenv(cfg.Provider.APIKeyEnv) == "" {
			icon = "✗"
			suffix = fmt.Sprintf(" (set %s)", cfg.Provider.APIKeyEnv)
			requiredOk = false
		}
		fmt.Printf("  %s provider API key%s\n", icon, suffix)
	}

	fmt.Println()
	fmt.Println("Checking resources...")
	fmt.Println()

	if vm, err := mem.VirtualMemory(); err != nil {
		fmt.Printf("  ○ memory: %v\n", err)
	} else {
		icon := "✓"
		if vm.Available < minFreeMemBytes {
			icon = "⚠"
			requiredOk = false
		}
		fmt.Printf("  %s memory: %.1f GiB available of %.1f GiB\n",
			icon, float64(vm.Available)/(1<<30), float64(vm.Total)/(1<<30))
	}

	if usage, err := disk.Usage("."); err != nil {
		fmt.Printf("  ○ disk: %v\n", err)
	} else {
		icon := "✓"
		if usage.Free < minFreeDiskBytes {
			icon = "⚠"
			requiredOk = false
		}
		fmt.Printf("  %s disk: %.1f GiB free of %.1f GiB\n",
			icon, float64(usage.Free)/(1<<30), float64(usage.Total)/(1<<30))
	}

	if cpu, err := ghw.CPU(); err == nil && len(cpu.Processors) > 0 {
		fmt.Printf("  ✓ cpu: %s (%d cores)\n", cpu.Processors[0].Model, cpu.TotalCores)
	}

	fmt.Println()
	if !requiredOk {
		return fmt.Errorf("dependency check failed")
	}
	fmt.Println("All checks passed")
	return nil
}
