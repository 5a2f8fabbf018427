package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindConfig_Explicit(t *testing.T) {
	// Create a temp config file
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("agent:\n  command: fake-agent\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/skald.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_SearchPath(t *testing.T) {
	// When no config exists anywhere, should error
	// (Save and restore CWD to avoid finding the repo's skald.yaml)
	dir := t.TempDir()
	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	_, err := FindConfig("")
	if err == nil {
		t.Fatal("FindConfig(\"\") with no config files should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skald.yaml")
	os.WriteFile(path, []byte("agent:\n  command: fake-agent\n"), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "skald.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "skald.yaml")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skald.yaml")
	os.WriteFile(path, []byte("agent:\n  command: fake-agent\nmqtt:\n  password: ${SKALD_TEST_SECRET}\n"), 0600)
	os.Setenv("SKALD_TEST_SECRET", "secret123")
	defer os.Unsetenv("SKALD_TEST_SECRET")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.MQTT.Password != "secret123" {
		t.Errorf("password = %q, want %q", cfg.MQTT.Password, "secret123")
	}
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skald.yaml")
	os.WriteFile(path, []byte("agent:\n  command: fake-agent\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Agent.PromptTimeoutSec != 600 {
		t.Errorf("prompt_timeout_sec = %d, want 600", cfg.Agent.PromptTimeoutSec)
	}
	if cfg.Agent.NoOutputTimeoutSec != 120 {
		t.Errorf("no_output_timeout_sec = %d, want 120", cfg.Agent.NoOutputTimeoutSec)
	}
	if cfg.Agent.ApprovalMode != "auto" {
		t.Errorf("approval_mode = %q, want %q", cfg.Agent.ApprovalMode, "auto")
	}
	if cfg.Agent.Prewarm.MaxRetries != 5 {
		t.Errorf("prewarm.max_retries = %d, want 5", cfg.Agent.Prewarm.MaxRetries)
	}
	if cfg.Delivery.MaxMessageLen != 4000 {
		t.Errorf("max_message_len = %d, want 4000", cfg.Delivery.MaxMessageLen)
	}
	if cfg.Listen.Port != 8316 {
		t.Errorf("listen.port = %d, want 8316", cfg.Listen.Port)
	}
}

func TestLoad_ExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "skald.yaml")
	os.WriteFile(path, []byte(`
agent:
  command: fake-agent
  work_dir: ~/projects/demo
  include_dirs: ["~/notes"]
data_dir: ~/.local/share/skald
`), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if want := filepath.Join(home, "projects", "demo"); cfg.Agent.WorkDir != want {
		t.Errorf("work_dir = %q, want %q", cfg.Agent.WorkDir, want)
	}
	if want := filepath.Join(home, "notes"); len(cfg.Agent.IncludeDirs) != 1 || cfg.Agent.IncludeDirs[0] != want {
		t.Errorf("include_dirs = %q, want [%q]", cfg.Agent.IncludeDirs, want)
	}
	if want := filepath.Join(home, ".local", "share", "skald"); cfg.DataDir != want {
		t.Errorf("data_dir = %q, want %q", cfg.DataDir, want)
	}
}

func TestLoad_MissingCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skald.yaml")
	os.WriteFile(path, []byte("log_level: debug\n"), 0600)

	if _, err := Load(path); err == nil {
		t.Fatal("Load without agent.command should error")
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skald.yaml")
	os.WriteFile(path, []byte(`
agent:
  command: fake-agent
  prompt_timeout_sec: 30
  prewarm:
    max_retries: 2
delivery:
  max_message_len: 2000
  stream_interval_ms: 500
`), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Agent.PromptTimeoutSec != 30 {
		t.Errorf("prompt_timeout_sec = %d, want 30", cfg.Agent.PromptTimeoutSec)
	}
	if cfg.Agent.Prewarm.MaxRetries != 2 {
		t.Errorf("prewarm.max_retries = %d, want 2", cfg.Agent.Prewarm.MaxRetries)
	}
	if cfg.Delivery.MaxMessageLen != 2000 {
		t.Errorf("max_message_len = %d, want 2000", cfg.Delivery.MaxMessageLen)
	}
	if got := cfg.Delivery.StreamInterval().Milliseconds(); got != 500 {
		t.Errorf("stream interval = %dms, want 500ms", got)
	}
}
