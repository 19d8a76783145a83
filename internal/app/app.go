// Package app 组装守护进程的各个组件，代替散落的全局状态。
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/iabetor/gcptts/internal/catalog"
	"github.com/iabetor/gcptts/internal/config"
	"github.com/iabetor/gcptts/internal/database"
	"github.com/iabetor/gcptts/internal/gcp"
	"github.com/iabetor/gcptts/internal/integration"
	"github.com/iabetor/gcptts/internal/logger"
	"github.com/iabetor/gcptts/internal/playback"
	"github.com/iabetor/gcptts/internal/refresh"
	"github.com/iabetor/gcptts/internal/synth"
	"github.com/iabetor/gcptts/internal/usage"
)

// Version 程序版本，用于 User-Agent 和插件更新检查记录。
const Version = "0.4.0"

// system_config 中保存 API Key 设置的键。
const (
	configKeyAPIKey    = "google.api_key"
	configKeyReferrer  = "google.referrer"
	configKeyUserAgent = "google.user_agent"
)

// App 持有一次运行的全部组件，由 New 创建、Close 释放。
type App struct {
	Config       *config.Config
	Store        *catalog.Store
	APIKey       *integration.APIKey
	Integrations *integration.Registry
	Client       *gcp.Client
	Hub          *playback.Hub
	Tokens       *playback.TokenStore
	Settings     *playback.SettingsStore
	Router       *playback.Router
	Speaker      *playback.Speaker // 仅 playback.local 为 speaker 时非空
	Pipeline     *synth.Pipeline
	Refresher    *refresh.Refresher
	Scheduler    *refresh.Scheduler
	DB           *database.DB // 仅启用用量统计时非空
	Ledger       *usage.Ledger
	APIVersion   gcp.APIVersion

	closeOnce sync.Once
	closeErr  error
}

// New 根据配置创建所有组件。
func New(cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	rules, rejected := catalog.DefaultRules().WithPricingOverrides(cfg.Catalog.PricingOverrides)
	if len(rejected) > 0 {
		logger.Warnf("[app] 忽略无法识别的计费覆盖: %v", rejected)
	}
	store, err := catalog.NewStore(catalog.StoreConfig{
		DataDir:    cfg.Catalog.DataDir,
		FileName:   cfg.Catalog.FileName,
		WriteDelay: time.Duration(cfg.Catalog.WriteDelaySeconds) * time.Second,
		RetryDelay: time.Duration(cfg.Catalog.RetrySeconds) * time.Second,
		Rules:      rules,
	})
	if err != nil {
		return nil, err
	}
	a.Store = store

	if cfg.Usage.Enabled {
		db, err := database.Open(cfg.Usage.DBPath)
		if err != nil {
			return nil, err
		}
		a.DB = db
		if err := db.Migrate(); err != nil {
			return nil, err
		}
		a.Ledger = usage.NewLedger(db)
	}

	a.APIKey = integration.NewAPIKey()
	a.Integrations = integration.NewRegistry(a.APIKey)
	a.restoreAPIKey()

	version, err := gcp.ParseAPIVersion(cfg.Google.APIVersion)
	if err != nil {
		return nil, err
	}
	a.APIVersion = version
	a.Client = gcp.NewClient(gcp.ClientConfig{
		BaseURL:           cfg.Google.BaseURL,
		UserAgent:         userAgent(cfg),
		Timeout:           time.Duration(cfg.Google.TimeoutSeconds) * time.Second,
		RequestsPerMinute: cfg.Google.RequestsPerMinute,
	}, a.Integrations)

	a.Hub = playback.NewHub()
	a.APIKey.OnChange(a.notifyIntegration)
	a.Tokens = playback.NewTokenStore()
	a.Settings = playback.NewSettingsStore(
		playback.Device{ID: cfg.Playback.DefaultDevice.ID, Label: cfg.Playback.DefaultDevice.Label},
		cfg.Playback.UseOverlayInstances, cfg.Playback.OverlayInstances)
	a.Router = playback.NewRouter(a.Settings)

	local := a.Hub.Frontend()
	if cfg.Playback.Local == "speaker" {
		sp, err := playback.NewSpeaker()
		if err != nil {
			return nil, err
		}
		a.Speaker = sp
		local = sp
	}

	deps := synth.Deps{
		Catalog:     store,
		Synthesizer: a.Client,
		Prober:      playback.FileProber{},
		Router:      a.Router,
		Overlay:     a.Hub.Overlay(),
		Local:       local,
		Tokens:      a.Tokens,
	}
	if a.Ledger != nil {
		deps.Usage = a.Ledger
	}
	a.Pipeline = synth.New(synth.Config{
		TempDir:          cfg.Synthesis.TempDir,
		FallbackDuration: time.Duration(cfg.Synthesis.FallbackDurationSeconds * float64(time.Second)),
	}, deps)

	a.Refresher = refresh.NewRefresher(a.Client, store)
	freq, err := refresh.ParseFrequency(cfg.Updates.VoiceCheck)
	if err != nil {
		return nil, err
	}
	updVersion, err := gcp.ParseAPIVersion(cfg.Updates.APIVersion)
	if err != nil {
		return nil, err
	}
	a.Scheduler = refresh.NewScheduler(a.Refresher, freq, updVersion, cfg.Updates.Language)

	ok = true
	return a, nil
}

func userAgent(cfg *config.Config) string {
	ua := fmt.Sprintf("gcptts/%s (host %s)", Version, cfg.Server.HostVersion)
	if cfg.Google.UserAgentSuffix != "" {
		ua += " " + cfg.Google.UserAgentSuffix
	}
	return ua
}

// restoreAPIKey 优先使用配置中的 key，否则读取上次保存的 key。
func (a *App) restoreAPIKey() {
	key := a.Config.Google.APIKey
	settings := integration.Settings{Referrer: a.Config.Google.Referrer}
	if key == "" && a.DB != nil {
		stored, err := a.DB.GetConfig(configKeyAPIKey)
		if err != nil {
			logger.Warnf("[app] 读取已保存的 API Key 失败: %v", err)
		}
		key = stored
		if ref, _ := a.DB.GetConfig(configKeyReferrer); ref != "" {
			settings.Referrer = ref
		}
		settings.UserAgent, _ = a.DB.GetConfig(configKeyUserAgent)
	}
	if key == "" {
		logger.Warnf("[app] 未配置 Google Cloud API Key，合成与语音刷新将不可用")
		return
	}
	if a.APIKey.Configure(key, settings) {
		a.APIKey.Connect()
	}
}

// notifyIntegration 把连接状态变化推送给宿主前端。
func (a *App) notifyIntegration(status integration.Status) {
	ev := playback.Event{Event: "integration", Data: status}
	if _, err := a.Hub.Broadcast(context.Background(), playback.RoleFrontend, "", ev); err != nil && !errors.Is(err, playback.ErrNoListeners) {
		logger.Warnf("[app] 推送集成状态失败: %v", err)
	}
}

// ConfigureAPIKey 更新并连接 API Key，启用用量数据库时同时保存。
func (a *App) ConfigureAPIKey(key string, settings integration.Settings) (integration.Status, error) {
	if !a.APIKey.Configure(key, settings) {
		a.APIKey.Disconnect()
		return a.APIKey.Status(), errors.New("[app] API Key 无效")
	}
	a.APIKey.Connect()

	if a.DB != nil {
		for k, v := range map[string]string{
			configKeyAPIKey:    key,
			configKeyReferrer:  settings.Referrer,
			configKeyUserAgent: settings.UserAgent,
		} {
			if err := a.DB.SetConfig(k, v); err != nil {
				logger.Warnf("[app] 保存 API Key 设置失败: %v", err)
			}
		}
	}
	return a.APIKey.Status(), nil
}

// Start 记录本次启动并开始自动刷新语音。
func (a *App) Start(ctx context.Context) {
	if last, ok := a.Store.LastPluginCheck(); ok {
		logger.Debugf("[app] 上次启动检查: %s", last.Format(time.RFC3339))
	}
	a.Store.SetLastPluginCheck(time.Now())
	a.Scheduler.Start(ctx)
	logger.Infof("[app] gcptts %s 已启动，目录中有 %d 个语音、%d 个语言区域",
		Version, len(a.Store.Voices()), len(a.Store.Locales()))
}

// Close 停止后台任务并释放资源，目录会被同步写盘。可重复调用。
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		var errs []error
		if a.Scheduler != nil {
			a.Scheduler.Stop()
		}
		if a.Hub != nil {
			a.Hub.Close()
		}
		if a.Speaker != nil {
			a.Speaker.Close()
		}
		if a.Store != nil {
			if err := a.Store.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if a.DB != nil {
			if err := a.DB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("[app] 关闭数据库失败: %w", err))
			}
		}
		a.closeErr = errors.Join(errs...)
		logger.Infof("[app] 已关闭")
	})
	return a.closeErr
}
