package mcpserver

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// SpawnDetached re-runs this binary with args in a new session, with no
// inherited stdio, and does not wait. Used for background re-indexing
// and capture so resource fetches and tool calls never block on LLM
// work.
func SpawnDetached(args ...string) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving own binary: %w", err)
	}
	cmd := exec.Command(self, args...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawning detached %v: %w", args, err)
	}
	return cmd.Process.Release()
}
