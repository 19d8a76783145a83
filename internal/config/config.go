package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 是 gcptts 守护进程的顶层配置结构。
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Google    GoogleConfig    `yaml:"google"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Synthesis SynthesisConfig `yaml:"synthesis"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Updates   UpdatesConfig   `yaml:"updates"`
	Usage     UsageConfig     `yaml:"usage"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig 宿主通信用的 HTTP/WebSocket 服务配置。
type ServerConfig struct {
	Listen string `yaml:"listen" env:"GCPTTS_LISTEN"`
	// HostVersion 宿主程序版本，拼入 User-Agent。
	HostVersion string `yaml:"host_version" env:"GCPTTS_HOST_VERSION"`
}

// GoogleConfig Google Cloud Text-to-Speech 接入配置。
type GoogleConfig struct {
	APIKey            string `yaml:"api_key" env:"GCPTTS_API_KEY"`
	Referrer          string `yaml:"referrer" env:"GCPTTS_REFERRER"`
	UserAgentSuffix   string `yaml:"user_agent_suffix"`
	BaseURL           string `yaml:"base_url" env:"GCPTTS_BASE_URL"`
	APIVersion        string `yaml:"api_version"`
	TimeoutSeconds    int    `yaml:"timeout_seconds"`
	RequestsPerMinute int    `yaml:"requests_per_minute"` // 0 表示不限速
}

// CatalogConfig 语音目录持久化配置。
type CatalogConfig struct {
	DataDir           string `yaml:"data_dir" env:"GCPTTS_DATA_DIR"`
	FileName          string `yaml:"file_name"`
	WriteDelaySeconds int    `yaml:"write_delay_seconds"`
	RetrySeconds      int    `yaml:"retry_seconds"`
	// PricingOverrides 覆盖名称标记到计费档位的映射，如 Casual: Studio。
	PricingOverrides map[string]string `yaml:"pricing_overrides"`
}

// SynthesisConfig 合成流水线配置。
type SynthesisConfig struct {
	TempDir                 string  `yaml:"temp_dir" env:"GCPTTS_TEMP_DIR"`
	FallbackDurationSeconds float64 `yaml:"fallback_duration_seconds"`
	DefaultVoice            string  `yaml:"default_voice"`
	DefaultVolume           float64 `yaml:"default_volume"`
}

// DeviceConfig 音频输出设备。
type DeviceConfig struct {
	ID    string `yaml:"id"`
	Label string `yaml:"label"`
}

// PlaybackConfig 播放路由配置。
type PlaybackConfig struct {
	DefaultDevice       DeviceConfig `yaml:"default_device"`
	Local               string       `yaml:"local"` // host 或 speaker
	UseOverlayInstances bool         `yaml:"use_overlay_instances"`
	OverlayInstances    []string     `yaml:"overlay_instances"`
}

// UpdatesConfig 语音列表自动刷新配置。
type UpdatesConfig struct {
	VoiceCheck string `yaml:"voice_check" env:"GCPTTS_VOICE_CHECK"` // Never, OnStart, Daily, Weekly, Monthly
	APIVersion string `yaml:"api_version"`
	Language   string `yaml:"language"`
}

// UsageConfig 用量统计配置。
type UsageConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

// LogConfig 日志配置。
type LogConfig struct {
	Level  string `yaml:"level" env:"GCPTTS_LOG_LEVEL"`
	Format string `yaml:"format"`
	File   string `yaml:"file" env:"GCPTTS_LOG_FILE"`
}

// Load 读取 YAML 配置文件并返回 Config。
// 配置文件同目录下的 .env 会先被加载；支持 ${VAR_NAME} 展开，GCPTTS_* 环境变量优先级最高。
func Load(path string) (*Config, error) {
	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件 %s 失败: %w", path, err)
	}

	expanded := os.Expand(string(data), func(key string) string {
		return os.Getenv(key)
	})

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件 %s 失败: %w", path, err)
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("解析环境变量失败: %w", err)
	}

	setDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default 返回只包含默认值的配置，用于未提供配置文件的场景。
func Default() *Config {
	cfg := &Config{}
	_ = env.Parse(cfg)
	setDefaults(cfg)
	return cfg
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("加载 %s 失败: %w", path, err)
	}
	return nil
}

// setDefaults 为未设置的配置项填充默认值。
func setDefaults(cfg *Config) {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = "127.0.0.1:7472"
	}
	if cfg.Server.HostVersion == "" {
		cfg.Server.HostVersion = "v5"
	}
	if cfg.Google.BaseURL == "" {
		cfg.Google.BaseURL = "https://texttospeech.googleapis.com"
	}
	cfg.Google.BaseURL = strings.TrimRight(cfg.Google.BaseURL, "/")
	if cfg.Google.APIVersion == "" {
		cfg.Google.APIVersion = "v1"
	}
	if cfg.Google.TimeoutSeconds == 0 {
		cfg.Google.TimeoutSeconds = 30
	}

	home, _ := os.UserHomeDir()
	if cfg.Catalog.DataDir == "" {
		if home != "" {
			cfg.Catalog.DataDir = filepath.Join(home, ".gcptts")
		} else {
			cfg.Catalog.DataDir = "./.gcptts-data"
		}
	} else {
		cfg.Catalog.DataDir = expandHome(cfg.Catalog.DataDir, home)
	}
	if cfg.Catalog.FileName == "" {
		cfg.Catalog.FileName = "gttsdata.json"
	}
	if cfg.Catalog.WriteDelaySeconds == 0 {
		cfg.Catalog.WriteDelaySeconds = 10
	}
	if cfg.Catalog.RetrySeconds == 0 {
		cfg.Catalog.RetrySeconds = 30
	}

	if cfg.Synthesis.TempDir == "" {
		cfg.Synthesis.TempDir = os.TempDir()
	} else {
		cfg.Synthesis.TempDir = expandHome(cfg.Synthesis.TempDir, home)
	}
	if cfg.Synthesis.FallbackDurationSeconds <= 0 {
		cfg.Synthesis.FallbackDurationSeconds = 30
	}
	if cfg.Synthesis.DefaultVolume == 0 {
		cfg.Synthesis.DefaultVolume = 5
	}

	if cfg.Playback.Local == "" {
		cfg.Playback.Local = "host"
	}
	if cfg.Playback.DefaultDevice.Label == "" && cfg.Playback.DefaultDevice.ID == "" {
		cfg.Playback.DefaultDevice.Label = "System Default"
	}

	if cfg.Updates.VoiceCheck == "" {
		cfg.Updates.VoiceCheck = "Weekly"
	}
	if cfg.Updates.APIVersion == "" {
		cfg.Updates.APIVersion = cfg.Google.APIVersion
	}
	if cfg.Updates.Language == "" {
		cfg.Updates.Language = "all"
	}

	if cfg.Usage.DBPath == "" {
		cfg.Usage.DBPath = filepath.Join(cfg.Catalog.DataDir, "usage.db")
	} else {
		cfg.Usage.DBPath = expandHome(cfg.Usage.DBPath, home)
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	// 环境变量展开后常见两端空白
	cfg.Google.APIKey = strings.TrimSpace(cfg.Google.APIKey)
}

func validate(cfg *Config) error {
	switch cfg.Google.APIVersion {
	case "v1", "v1beta1", "v1b1":
	default:
		return fmt.Errorf("google.api_version 无效: %s", cfg.Google.APIVersion)
	}
	switch cfg.Playback.Local {
	case "host", "speaker":
	default:
		return fmt.Errorf("playback.local 无效: %s", cfg.Playback.Local)
	}
	switch strings.ToLower(cfg.Updates.VoiceCheck) {
	case "never", "onstart", "daily", "weekly", "monthly":
	default:
		return fmt.Errorf("updates.voice_check 无效: %s", cfg.Updates.VoiceCheck)
	}
	return nil
}

// expandHome 把 ~/ 开头的路径替换为用户主目录。
func expandHome(p, home string) string {
	if home != "" && strings.HasPrefix(p, "~/") {
		return filepath.Join(home, p[2:])
	}
	return p
}
