package config

import (
	"os"
	"path/filepath"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_MaxConcurrentRuns(t *testing.T) {
	cfg := Defaults()
	cfg.General.MaxConcurrentRuns = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxConcurrentRuns=0")
	}

	cfg.General.MaxConcurrentRuns = 101
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxConcurrentRuns=101")
	}

	cfg.General.MaxConcurrentRuns = 1
	if err := Validate(cfg); err != nil {
		t.Fatalf("maxConcurrentRuns=1 should be valid: %v", err)
	}
}

func TestValidate_InvalidProvider(t *testing.T) {
	cfg := Defaults()
	cfg.Provider.Name = "invalid"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestValidate_ValidProviders(t *testing.T) {
	for _, name := range []string{"gemini", "openai"} {
		cfg := Defaults()
		cfg.Provider.Name = name
		if err := Validate(cfg); err != nil {
			t.Fatalf("provider %q should be valid: %v", name, err)
		}
	}
}

func TestValidate_TelegramLimitBounds(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Telegram.MessageLimit = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for messageLimit=0")
	}

	cfg.Channels.Telegram.MessageLimit = 5000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for messageLimit above telegram hard max")
	}
}

func TestValidate_CommandMustBeSlashPrefixed(t *testing.T) {
	cfg := Defaults()
	cfg.General.Command = "doubt"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for command without slash")
	}
}

func TestValidate_StatsNeedDBPath(t *testing.T) {
	cfg := Defaults()
	cfg.Stats.Enabled = true
	cfg.Stats.DBPath = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for enabled stats without dbPath")
	}
}

// --- Load ---

func TestLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Defaults()
	cfg.Channels.Telegram.Enabled = true
	cfg.Channels.Telegram.Token = "123:abc"

	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !loaded.Channels.Telegram.Enabled || loaded.Channels.Telegram.Token != "123:abc" {
		t.Fatalf("round trip lost telegram config: %+v", loaded.Channels.Telegram)
	}
	if loaded.General.Command != "/doubt" {
		t.Fatalf("expected default command, got %q", loaded.General.Command)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("DOUBTBOT_TEST_TOKEN", "tok-42")

	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"channels":{"telegram":{"enabled":true,"token":"${DOUBTBOT_TEST_TOKEN}","messageLimit":4000}}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Channels.Telegram.Token != "tok-42" {
		t.Fatalf("expected expanded token, got %q", cfg.Channels.Telegram.Token)
	}
}

func TestExpandEnvVars_Defaults(t *testing.T) {
	os.Unsetenv("DOUBTBOT_UNSET_VAR")
	out := ExpandEnvVars("${DOUBTBOT_UNSET_VAR:-fallback}")
	if out != "fallback" {
		t.Fatalf("expected fallback, got %q", out)
	}

	out = ExpandEnvVars("${DOUBTBOT_UNSET_VAR}")
	if out != "${DOUBTBOT_UNSET_VAR}" {
		t.Fatalf("unset var without default should stay verbatim, got %q", out)
	}
}

func TestFlexStringList_MixedTypes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"channels":{"telegram":{"allowFrom":["123",456],"messageLimit":4000}}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	got := cfg.Channels.Telegram.AllowFrom
	if len(got) != 2 || got[0] != "123" || got[1] != "456" {
		t.Fatalf("expected [123 456], got %v", got)
	}
}
