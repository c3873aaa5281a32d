package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_ExpandsEnvPlaceholders(t *testing.T) {
	t.Setenv("KOAN_TEST_TOKEN", "secret-token")
	t.Setenv("KOAN_TEST_HOST", "chat.example.com")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlContent := `
root: ` + dir + `
instance: instance
projects:
  - name: demo
    path: ` + dir + `
worker:
  command: ["koan-worker"]
bridge:
  base_url: "https://${KOAN_TEST_HOST}"
  token: "${KOAN_TEST_TOKEN}"
  chat_id: "12345"
`
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Bridge.BaseURL != "https://chat.example.com" {
		t.Errorf("BaseURL = %q, want expanded host", cfg.Bridge.BaseURL)
	}
	if cfg.Bridge.Token != "secret-token" {
		t.Errorf("Token = %q, want expanded secret", cfg.Bridge.Token)
	}
}

func TestLoad_MissingPlaceholderExpandsEmpty(t *testing.T) {
	os.Unsetenv("KOAN_TEST_UNSET")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlContent := `
root: ` + dir + `
instance: instance
projects:
  - name: demo
    path: ` + dir + `
git_sync:
  remote_name: "${KOAN_TEST_UNSET}"
`
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GitSync.RemoteName != "" {
		t.Errorf("RemoteName = %q, want empty for unset var", cfg.GitSync.RemoteName)
	}
}
