// Package server 提供宿主调用的 HTTP/WebSocket 接口。
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/iabetor/gcptts/internal/app"
	"github.com/iabetor/gcptts/internal/logger"
	"github.com/iabetor/gcptts/internal/metrics"
)

// 请求体上限。
const maxBodyBytes = 1 << 20

// Server 是守护进程的 HTTP 服务。
type Server struct {
	app  *app.App
	http *http.Server
}

// New 创建服务，监听地址取自配置。
func New(a *app.App) *Server {
	s := &Server{app: a}
	s.http = &http.Server{
		Addr:              a.Config.Server.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler 返回挂载了全部路由的 handler。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/effects/synthesize", s.handleSynthesize)
	mux.HandleFunc("POST /v1/effects/update-voices", s.handleUpdateVoices)
	mux.HandleFunc("GET /v1/voices", s.handleVoices)
	mux.HandleFunc("GET /v1/locales", s.handleLocales)
	mux.HandleFunc("PUT /v1/locales", s.handleReplaceLocales)
	mux.HandleFunc("POST /v1/ssml/encode", s.handleEncodeSSML)
	mux.HandleFunc("GET /v1/integrations/apikey", s.handleAPIKeyStatus)
	mux.HandleFunc("PUT /v1/integrations/apikey", s.handleConfigureAPIKey)
	mux.HandleFunc("GET /v1/settings/playback", s.handlePlaybackSettings)
	mux.HandleFunc("PUT /v1/settings/playback", s.handleUpdatePlaybackSettings)
	mux.HandleFunc("GET /v1/resources/{token}", s.handleResource)
	mux.HandleFunc("GET /v1/usage", s.handleUsage)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.Handle("GET /v1/ws", s.app.Hub)
	mux.Handle("GET /metrics", metrics.Handler())

	return recoverMiddleware(mux)
}

// ListenAndServe 开始监听，直到 Shutdown 被调用。
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("[server] 监听 %s 失败: %w", s.http.Addr, err)
	}
	logger.Infof("[server] 正在监听 %s", ln.Addr())
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("[server] 服务异常退出: %w", err)
	}
	return nil
}

// Shutdown 优雅关闭服务。
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Errorf("[server] 处理 %s %s 时 panic: %v\n%s", r.Method, r.URL.Path, rec, debug.Stack())
				writeError(w, http.StatusInternalServerError, "内部错误")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debugf("[server] 写响应失败: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// decodeBody 解析 JSON 请求体，空请求体视为 {}。
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "请求体无效: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"version":   app.Version,
		"connected": s.app.APIKey.Connected(),
	})
}
