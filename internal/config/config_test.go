package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := Default()
	cfg.Model = "openai/gpt-4o"
	cfg.Temperature = 0.9
	cfg.ToolSettings = map[string]ToolSetting{
		"create_image": {"provider": "openrouter", "model": "flux"},
	}

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Model != "openai/gpt-4o" {
		t.Fatalf("model = %q", loaded.Model)
	}
	if loaded.Temperature != 0.9 {
		t.Fatalf("temperature = %v", loaded.Temperature)
	}
	p, m := loaded.ToolSettings["create_image"]["provider"], loaded.ToolSettings["create_image"]["model"]
	if p != "openrouter" || m != "flux" {
		t.Fatalf("tool settings = %v/%v", p, m)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Default != "openrouter" {
		t.Fatalf("default provider = %q", cfg.Default)
	}
	if _, ok := cfg.Providers["ollama"]; !ok {
		t.Fatal("default providers missing ollama entry")
	}
}

func TestLoadParsesJSON5(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		// Kommentar bleibt erlaubt
		model: "test-model",
		temperature: 0.25,
	}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model != "test-model" || cfg.Temperature != 0.25 {
		t.Fatalf("model=%q temperature=%v", cfg.Model, cfg.Temperature)
	}
}

func TestEnvOverrideWins(t *testing.T) {
	t.Setenv("GUENTHER_OPENROUTER_API_KEY", "sk-env")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers["openrouter"].APIKey != "sk-env" {
		t.Fatalf("api key = %q", cfg.Providers["openrouter"].APIKey)
	}
}

func TestHashChangesWithContent(t *testing.T) {
	a := Default()
	b := Default()
	if a.Hash() != b.Hash() {
		t.Fatal("identical configs hash differently")
	}
	b.Model = "other"
	if a.Hash() == b.Hash() {
		t.Fatal("hash did not change with content")
	}
}

func TestResolveAgentFallsBackToDefault(t *testing.T) {
	cfg := Default()
	got := cfg.ResolveAgent("missing")
	if !got.Default {
		t.Fatalf("ResolveAgent(missing) = %+v, want the default profile", got)
	}
}

func TestSaveIsAtomicFilePresent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := Save(path, Default()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "config.json" {
		t.Fatalf("directory contents = %v, want only config.json", entries)
	}
}
