package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("NUDGE_STORAGE_DIR", dir)
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  addr: \":9090\"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.Server.EffectiveHost != "0.0.0.0" {
		t.Errorf("unexpected server %+v", cfg.Server)
	}
	if cfg.Agents.MaxIterations != 5 {
		t.Errorf("max iterations = %d, want 5", cfg.Agents.MaxIterations)
	}
	if cfg.Agents.ToolTimeout != 20*time.Second {
		t.Errorf("tool timeout = %v", cfg.Agents.ToolTimeout)
	}
	if cfg.Reminders.Driver != DriverSQLite {
		t.Errorf("driver = %q", cfg.Reminders.Driver)
	}
	if cfg.StorageDir != filepath.Dir(path) {
		t.Errorf("storage dir = %q", cfg.StorageDir)
	}
}

func TestLoadAPIKeyFromEnv(t *testing.T) {
	path := writeConfig(t, `
models:
  providers:
    xai:
      baseUrl: https://api.x.ai/v1
      apiKey: $TEST_XAI_KEY
      models:
        - id: grok-4
    openai:
      baseUrl: https://api.openai.com/v1
`)
	t.Setenv("TEST_XAI_KEY", "secret")
	t.Setenv("OPENAI_API_KEY", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Models.Providers["xai"].APIKey; got != "secret" {
		t.Errorf("xai key = %q", got)
	}
	if got := cfg.Models.Providers["openai"].APIKey; got != "from-env" {
		t.Errorf("openai key = %q", got)
	}

	prov, model, err := cfg.ResolveModel("xai/grok-4")
	if err != nil || model != "grok-4" || prov.BaseURL != "https://api.x.ai/v1" {
		t.Errorf("ResolveModel = %+v %q %v", prov, model, err)
	}
	if _, model, err := cfg.ResolveModel("grok-4"); err != nil || model != "grok-4" {
		t.Errorf("bare ResolveModel = %q %v", model, err)
	}
	if _, _, err := cfg.ResolveModel("nope/x"); err == nil {
		t.Error("expected unknown provider error")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"driver":   "reminders:\n  driver: mongo\n",
		"timezone": "reminders:\n  timezone: Mars/Olympus\n",
		"calendar": "tools:\n  calendar:\n    provider: google\n",
		"engine":   "agents:\n  defaults:\n    engine: langchain\n",
		"notify":   "notifications:\n  channel: whatsapp\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeConfig(t, body)
			if _, err := Load(path); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := writeConfig(t, "server:\n  addr: \"127.0.0.1:8181\"\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Agents.MaxIterations = 7
	cfg.Reminders.Timezone = "Europe/Berlin"
	if err := Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	again, err := Load(filepath.Join(cfg.StorageDir, "config.yaml"))
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Agents.MaxIterations != 7 {
		t.Errorf("max iterations = %d", again.Agents.MaxIterations)
	}
	if again.Reminders.Location().String() != "Europe/Berlin" {
		t.Errorf("location = %v", again.Reminders.Location())
	}
	if again.Server.Port != 8181 {
		t.Errorf("port = %d", again.Server.Port)
	}
}
