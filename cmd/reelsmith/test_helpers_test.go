package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"reelsmith/internal/testsupport"
)

type cliTestEnv struct {
	configPath string
	narration  string
	baseDir    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)
	t.Setenv("REELSMITH_REDIS_ADDR", "")
	t.Setenv("REELSMITH_API_TOKEN", "")

	srv := testsupport.StartRedis(t)
	configPath := filepath.Join(homeDir, ".config", "reelsmith", "config.toml")
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	content := fmt.Sprintf(`[paths]
work_dir = %q
output_dir = %q
log_dir = %q

[redis]
addr = %q
key_prefix = "cli-test"

[ledger]
path = %q
`,
		filepath.Join(base, "work"),
		filepath.Join(base, "output"),
		filepath.Join(base, "logs"),
		srv.Addr(),
		filepath.Join(base, "ledger.db"),
	)
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	narration := filepath.Join(base, "narration.wav")
	testsupport.WriteFile(t, narration, 2048)
	return &cliTestEnv{configPath: configPath, narration: narration, baseDir: base}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
