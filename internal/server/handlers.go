package server

import (
	"errors"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/iabetor/gcptts/internal/catalog"
	"github.com/iabetor/gcptts/internal/gcp"
	"github.com/iabetor/gcptts/internal/integration"
	"github.com/iabetor/gcptts/internal/logger"
	"github.com/iabetor/gcptts/internal/playback"
	"github.com/iabetor/gcptts/internal/ssml"
	"github.com/iabetor/gcptts/internal/synth"
	"github.com/iabetor/gcptts/internal/usage"
)

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var settings synth.EffectSettings
	if !decodeBody(w, r, &settings) {
		return
	}
	defaults := s.app.Config.Synthesis
	if settings.VoiceName == "" && settings.Voice == "" {
		settings.VoiceName = defaults.DefaultVoice
	}
	if settings.OutputVolume == nil && settings.EffectVolume == nil && defaults.DefaultVolume > 0 {
		v := defaults.DefaultVolume
		settings.OutputVolume = &v
	}

	req, err := settings.ToRequest()
	if err == nil {
		var out synth.Outcome
		out, err = s.app.Pipeline.Run(r.Context(), req)
		if err == nil {
			writeJSON(w, http.StatusOK, synth.NewEffectResult(settings.StopOnError, out))
			return
		}
	}

	var verr *synth.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Error(), Field: verr.Field})
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

type updateVoicesRequest struct {
	APIVersion  string            `json:"apiVersion"`
	LangCode    string            `json:"langCode"`
	StopOnError synth.StopOnError `json:"stopOnError"`
}

func (s *Server) handleUpdateVoices(w http.ResponseWriter, r *http.Request) {
	var body updateVoicesRequest
	if !decodeBody(w, r, &body) {
		return
	}
	version, err := gcp.ParseAPIVersion(body.APIVersion)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Field: "apiVersion"})
		return
	}
	res := s.app.Refresher.Refresh(r.Context(), version, body.LangCode)
	writeJSON(w, http.StatusOK, res.Effect(body.StopOnError))
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := &catalog.VoiceFilter{
		Name:         q.Get("name"),
		LanguageCode: q.Get("lang"),
	}
	if g := q.Get("gender"); g != "" {
		filter.Gender = catalog.ParseGender(g)
	}
	if p := q.Get("pricing"); p != "" {
		tier, ok := catalog.ParsePricingTier(p)
		if !ok {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "未知的计费档位 " + p, Field: "pricing"})
			return
		}
		filter.PricingTier = tier
	}
	if t := q.Get("type"); t != "" {
		kind, ok := catalog.ParseVoiceType(t)
		if !ok {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "未知的语音类型 " + t, Field: "type"})
			return
		}
		filter.VoiceType = kind
	}
	voices := s.app.Store.ExtendedVoices(filter)
	if voices == nil {
		voices = []catalog.ExtendedVoice{}
	}
	writeJSON(w, http.StatusOK, voices)
}

func (s *Server) handleLocales(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Store.Locales())
}

func (s *Server) handleReplaceLocales(w http.ResponseWriter, r *http.Request) {
	var locales []catalog.Locale
	if !decodeBody(w, r, &locales) {
		return
	}
	s.app.Store.ReplaceLocales(locales, r.URL.Query().Get("lang"))
	writeJSON(w, http.StatusOK, s.app.Store.Locales())
}

type textBody struct {
	Text string `json:"text"`
}

func (s *Server) handleEncodeSSML(w http.ResponseWriter, r *http.Request) {
	var body textBody
	if !decodeBody(w, r, &body) {
		return
	}
	writeJSON(w, http.StatusOK, textBody{Text: ssml.Encode(body.Text)})
}

func (s *Server) handleAPIKeyStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.app.APIKey.Status())
}

type apiKeyRequest struct {
	Key string `json:"key"`
	integration.Settings
}

func (s *Server) handleConfigureAPIKey(w http.ResponseWriter, r *http.Request) {
	var body apiKeyRequest
	if !decodeBody(w, r, &body) {
		return
	}
	status, err := s.app.ConfigureAPIKey(body.Key, body.Settings)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, status)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type playbackSettings struct {
	DefaultDevice       *playback.Device `json:"defaultDevice,omitempty"`
	UseOverlayInstances *bool            `json:"useOverlayInstances,omitempty"`
	OverlayInstances    []string         `json:"overlayInstances"`
}

func (s *Server) currentPlaybackSettings() playbackSettings {
	st := s.app.Settings
	device := st.DefaultDevice()
	enabled := st.UseOverlayInstances()
	instances := st.OverlayInstances()
	if instances == nil {
		instances = []string{}
	}
	return playbackSettings{DefaultDevice: &device, UseOverlayInstances: &enabled, OverlayInstances: instances}
}

func (s *Server) handlePlaybackSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.currentPlaybackSettings())
}

// handleUpdatePlaybackSettings 同步宿主的默认输出设备与 overlay 实例设置，未提供的字段保持不变。
func (s *Server) handleUpdatePlaybackSettings(w http.ResponseWriter, r *http.Request) {
	var body playbackSettings
	if !decodeBody(w, r, &body) {
		return
	}
	st := s.app.Settings
	if body.DefaultDevice != nil {
		st.SetDefaultDevice(*body.DefaultDevice)
	}
	if body.UseOverlayInstances != nil || body.OverlayInstances != nil {
		enabled := st.UseOverlayInstances()
		if body.UseOverlayInstances != nil {
			enabled = *body.UseOverlayInstances
		}
		instances := st.OverlayInstances()
		if body.OverlayInstances != nil {
			instances = body.OverlayInstances
		}
		st.SetOverlayInstances(enabled, instances)
	}
	writeJSON(w, http.StatusOK, s.currentPlaybackSettings())
}

// handleResource 按令牌返回临时音频文件，令牌过期或文件已删除时返回 404。
func (s *Server) handleResource(w http.ResponseWriter, r *http.Request) {
	path, ok := s.app.Tokens.Resolve(r.PathValue("token"))
	if !ok {
		writeError(w, http.StatusNotFound, "资源不存在或已过期")
		return
	}
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		w.Header().Set("Content-Type", ct)
	} else if strings.HasSuffix(path, ".ogg") {
		w.Header().Set("Content-Type", "audio/ogg")
	}
	w.Header().Set("Cache-Control", "no-store")
	logger.Debugf("[server] 提供音频资源 %s", filepath.Base(path))
	http.ServeFile(w, r, path)
}

type monthlyUsage struct {
	Month  string         `json:"month"`
	Totals map[string]int `json:"totals"`
}

type dailyUsage struct {
	Daily []usage.Entry `json:"daily"`
}

// handleUsage 返回用量统计。指定 from/to 时按天返回，否则返回 month（默认本月）的合计。
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.app.Ledger == nil {
		writeError(w, http.StatusNotFound, "未启用用量统计")
		return
	}
	q := r.URL.Query()
	if from, to := q.Get("from"), q.Get("to"); from != "" || to != "" {
		entries, err := s.app.Ledger.Daily(r.Context(), from, to)
		if err != nil {
			logger.Errorf("[server] 查询每日用量失败: %v", err)
			writeError(w, http.StatusInternalServerError, "查询用量失败")
			return
		}
		if entries == nil {
			entries = []usage.Entry{}
		}
		writeJSON(w, http.StatusOK, dailyUsage{Daily: entries})
		return
	}

	month := q.Get("month")
	if month == "" {
		month = time.Now().Format("2006-01")
	} else if _, err := time.Parse("2006-01", month); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "month 格式应为 YYYY-MM", Field: "month"})
		return
	}
	totals, err := s.app.Ledger.MonthTotals(r.Context(), month)
	if err != nil {
		logger.Errorf("[server] 查询月度用量失败: %v", err)
		writeError(w, http.StatusInternalServerError, "查询用量失败")
		return
	}
	writeJSON(w, http.StatusOK, monthlyUsage{Month: month, Totals: totals})
}
