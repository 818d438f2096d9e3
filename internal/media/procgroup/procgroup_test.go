//go:build unix

package procgroup

import (
	"os/exec"
	"testing"
	"time"
)

func TestKillGroupStopsChildren(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "sleep 30 & sleep 30; wait")
	Set(cmd)
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	if err := KillGroup(cmd.Process.Pid, 500*time.Millisecond); err != nil {
		t.Fatalf("KillGroup: %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("process group still running after KillGroup")
	}
}

func TestKillGroupMissingProcess(t *testing.T) {
	if err := KillGroup(0, time.Millisecond); err != nil {
		t.Fatalf("expected nil for pid 0, got %v", err)
	}
}
