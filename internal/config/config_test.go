package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSetDefaults_EmptyConfig(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)

	checks := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"Server.Listen", cfg.Server.Listen, "127.0.0.1:7472"},
		{"Google.BaseURL", cfg.Google.BaseURL, "https://texttospeech.googleapis.com"},
		{"Google.APIVersion", cfg.Google.APIVersion, "v1"},
		{"Google.TimeoutSeconds", cfg.Google.TimeoutSeconds, 30},
		{"Catalog.FileName", cfg.Catalog.FileName, "gttsdata.json"},
		{"Catalog.WriteDelaySeconds", cfg.Catalog.WriteDelaySeconds, 10},
		{"Catalog.RetrySeconds", cfg.Catalog.RetrySeconds, 30},
		{"Synthesis.FallbackDurationSeconds", cfg.Synthesis.FallbackDurationSeconds, 30.0},
		{"Synthesis.DefaultVolume", cfg.Synthesis.DefaultVolume, 5.0},
		{"Playback.Local", cfg.Playback.Local, "host"},
		{"Updates.VoiceCheck", cfg.Updates.VoiceCheck, "Weekly"},
		{"Updates.Language", cfg.Updates.Language, "all"},
		{"Log.Level", cfg.Log.Level, "info"},
	}

	for _, c := range checks {
		switch want := c.want.(type) {
		case int:
			if c.got.(int) != want {
				t.Errorf("%s: got %v, want %v", c.name, c.got, want)
			}
		case float64:
			if c.got.(float64) != want {
				t.Errorf("%s: got %v, want %v", c.name, c.got, want)
			}
		case string:
			if c.got.(string) != want {
				t.Errorf("%s: got %v, want %v", c.name, c.got, want)
			}
		}
	}

	if cfg.Catalog.DataDir == "" {
		t.Error("Catalog.DataDir 不应为空")
	}
	if cfg.Usage.DBPath != filepath.Join(cfg.Catalog.DataDir, "usage.db") {
		t.Errorf("Usage.DBPath 应位于数据目录下: %s", cfg.Usage.DBPath)
	}
}

func TestSetDefaults_DoesNotOverride(t *testing.T) {
	cfg := &Config{
		Server:    ServerConfig{Listen: ":9000"},
		Google:    GoogleConfig{APIVersion: "v1beta1", BaseURL: "http://localhost:8080/"},
		Catalog:   CatalogConfig{WriteDelaySeconds: 2, FileName: "voices.json"},
		Synthesis: SynthesisConfig{DefaultVolume: 8},
		Updates:   UpdatesConfig{VoiceCheck: "Never"},
		Log:       LogConfig{Level: "debug"},
	}
	setDefaults(cfg)

	if cfg.Server.Listen != ":9000" {
		t.Errorf("Listen should not be overridden: got %s", cfg.Server.Listen)
	}
	if cfg.Google.APIVersion != "v1beta1" {
		t.Errorf("APIVersion should not be overridden: got %s", cfg.Google.APIVersion)
	}
	if cfg.Google.BaseURL != "http://localhost:8080" {
		t.Errorf("BaseURL 末尾斜杠应被去除: got %s", cfg.Google.BaseURL)
	}
	if cfg.Updates.APIVersion != "v1beta1" {
		t.Errorf("Updates.APIVersion 应继承 google.api_version: got %s", cfg.Updates.APIVersion)
	}
	if cfg.Catalog.WriteDelaySeconds != 2 || cfg.Catalog.FileName != "voices.json" {
		t.Errorf("Catalog should not be overridden: %+v", cfg.Catalog)
	}
	if cfg.Synthesis.DefaultVolume != 8 {
		t.Errorf("DefaultVolume should not be overridden: got %v", cfg.Synthesis.DefaultVolume)
	}
	if cfg.Updates.VoiceCheck != "Never" {
		t.Errorf("VoiceCheck should not be overridden: got %s", cfg.Updates.VoiceCheck)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level should not be overridden: got %s", cfg.Log.Level)
	}
}

func TestLoad_ValidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
google:
  api_key: "  abcdefghijklmnopqrstuvwxyz  "
  api_version: v1beta1
catalog:
  data_dir: ` + dir + `
  pricing_overrides:
    Casual: Casual
playback:
  local: speaker
  use_overlay_instances: true
  overlay_instances: [left, right]
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Google.APIKey != "abcdefghijklmnopqrstuvwxyz" {
		t.Errorf("APIKey 应去除空白: %q", cfg.Google.APIKey)
	}
	if cfg.Catalog.DataDir != dir {
		t.Errorf("DataDir: got %s, want %s", cfg.Catalog.DataDir, dir)
	}
	if cfg.Catalog.PricingOverrides["Casual"] != "Casual" {
		t.Errorf("PricingOverrides 未解析: %v", cfg.Catalog.PricingOverrides)
	}
	if !cfg.Playback.UseOverlayInstances || len(cfg.Playback.OverlayInstances) != 2 {
		t.Errorf("overlay 配置未解析: %+v", cfg.Playback)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level: got %s", cfg.Log.Level)
	}
}

func TestLoad_EnvExpansionAndOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TEST_GCPTTS_REFERRER", "https://example.com")
	t.Setenv("GCPTTS_LOG_LEVEL", "warn")

	path := filepath.Join(dir, "config.yaml")
	content := `
google:
  referrer: ${TEST_GCPTTS_REFERRER}
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Google.Referrer != "https://example.com" {
		t.Errorf("Referrer: got %q", cfg.Google.Referrer)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("GCPTTS_LOG_LEVEL 应覆盖文件配置: got %s", cfg.Log.Level)
	}
}

func TestLoad_DotEnvBesideConfig(t *testing.T) {
	dir := t.TempDir()
	// godotenv 不覆盖已存在的变量，先确保测试变量为空
	t.Setenv("TEST_GCPTTS_DOTENV_KEY", "")
	os.Unsetenv("TEST_GCPTTS_DOTENV_KEY")
	t.Cleanup(func() { os.Unsetenv("TEST_GCPTTS_DOTENV_KEY") })

	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("TEST_GCPTTS_DOTENV_KEY=from-dotenv-0123456789\n"), 0644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("google:\n  api_key: ${TEST_GCPTTS_DOTENV_KEY}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Google.APIKey != "from-dotenv-0123456789" {
		t.Errorf("APIKey 应来自 .env: got %q", cfg.Google.APIKey)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := map[string]string{
		"api_version": "google:\n  api_version: v2\n",
		"local":       "playback:\n  local: bluetooth\n",
		"voice_check": "updates:\n  voice_check: Hourly\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("{{invalid yaml"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestExpandHome(t *testing.T) {
	if got := expandHome("~/data", "/home/u"); got != "/home/u/data" {
		t.Errorf("got %s", got)
	}
	if got := expandHome("/abs/data", "/home/u"); got != "/abs/data" {
		t.Errorf("got %s", got)
	}
	if got := expandHome("~/data", ""); got != "~/data" {
		t.Errorf("got %s", got)
	}
}
