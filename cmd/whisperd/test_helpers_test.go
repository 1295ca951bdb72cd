package main

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"whisperd/internal/config"
	"whisperd/internal/engine"
	"whisperd/internal/testsupport"
)

type cliTestEnv struct {
	configPath string
	cacheDir   string
	logDir     string
	baseDir    string
	engine     *testsupport.FakeEngine
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)
	t.Setenv("HF_TOKEN", "")
	t.Setenv("HUGGING_FACE_HUB_TOKEN", "")
	t.Setenv("WHISPERD_API_TOKEN", "")

	env := &cliTestEnv{
		configPath: filepath.Join(homeDir, ".config", "whisperd", "config.toml"),
		cacheDir:   filepath.Join(base, "model_cache"),
		logDir:     filepath.Join(base, "logs"),
		baseDir:    base,
		engine:     testsupport.NewFakeEngine(),
	}
	if err := os.MkdirAll(filepath.Dir(env.configPath), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	writeTestConfig(t, env.configPath, env)

	previous := openEngine
	openEngine = func(*config.Config, *slog.Logger) engine.Engine { return env.engine }
	t.Cleanup(func() { openEngine = previous })
	return env
}

func writeTestConfig(t *testing.T, path string, env *cliTestEnv) {
	t.Helper()
	content := fmt.Sprintf(`[paths]
cache_dir = %q
log_dir = %q
api_bind = "127.0.0.1:0"

[engine]
cuda_enabled = false

[logging]
level = "error"
`, env.cacheDir, env.logDir)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
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
