package gcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/iabetor/gcptts/internal/catalog"
	"github.com/iabetor/gcptts/internal/logger"
	"github.com/iabetor/gcptts/internal/metrics"
)

// DefaultBaseURL 是 Google Cloud Text-to-Speech 的接口地址。
const DefaultBaseURL = "https://texttospeech.googleapis.com"

// 错误响应体最多读取的字节数。
const maxErrorBody = 64 << 10

// Credential 一次请求使用的凭据及附加请求头。
type Credential struct {
	Key       string
	Referrer  string // 非空时作为 Referer 头发送
	UserAgent string // 追加到默认 User-Agent 之后
}

// Credentials 提供当前已连接的凭据。
type Credentials interface {
	Credential() (Credential, bool)
}

// StaticCredentials 是固定的凭据，Key 为空时视为未连接。
type StaticCredentials Credential

// Credential 实现 Credentials。
func (c StaticCredentials) Credential() (Credential, bool) {
	return Credential(c), c.Key != ""
}

// ClientConfig 客户端配置。
type ClientConfig struct {
	BaseURL           string
	UserAgent         string
	Timeout           time.Duration
	RequestsPerMinute int // 0 表示不限速
	HTTPClient        *http.Client
}

// Client 调用 Google Cloud Text-to-Speech REST 接口。不做重试和缓存。
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	creds      Credentials
	limiter    *rate.Limiter
}

// NewClient 创建客户端。
func NewClient(cfg ClientConfig, creds Credentials) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	c := &Client{
		baseURL:    baseURL,
		userAgent:  cfg.UserAgent,
		httpClient: httpClient,
		creds:      creds,
	}
	if cfg.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	return c
}

// Available 报告当前是否有已连接的凭据。
func (c *Client) Available() bool {
	if c.creds == nil {
		return false
	}
	_, ok := c.creds.Credential()
	return ok
}

// Synthesize 合成语音并返回 base64 编码的音频内容。
// 参数无效时返回 *ValidationError 且不发请求；没有凭据时返回 ErrUnavailable；
// 传输或接口失败时记录日志并返回 *ProviderError。
func (c *Client) Synthesize(ctx context.Context, version APIVersion, input SynthesisInput, voice VoiceSelection, audio AudioConfig) (string, error) {
	if err := ValidateSynthesis(version, input, voice, audio); err != nil {
		return "", err
	}
	cred, ok := c.credential()
	if !ok {
		logger.Warnf("[gcp] 凭据不可用，无法合成语音")
		return "", ErrUnavailable
	}

	body, err := json.Marshal(synthesizeRequest{Input: input, Voice: voice, AudioConfig: audio})
	if err != nil {
		return "", fmt.Errorf("[gcp] 序列化请求失败: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/text:synthesize?key=%s", c.baseURL, version, url.QueryEscape(cred.Key))
	var out synthesizeResponse
	if err := c.do(ctx, "synthesize", http.MethodPost, endpoint, body, cred, &out); err != nil {
		return "", err
	}
	if out.AudioContent == "" {
		err := &ProviderError{Op: "synthesize", Message: "响应中没有音频内容"}
		logger.Errorf("%v", err)
		return "", err
	}
	return out.AudioContent, nil
}

// ListVoices 返回接口支持的语音。languageCode 少于两个字符或为 "all" 时不过滤。
// 调用方应把任何错误视为空列表。
func (c *Client) ListVoices(ctx context.Context, version APIVersion, languageCode string) ([]catalog.Voice, error) {
	cred, ok := c.credential()
	if !ok {
		logger.Warnf("[gcp] 凭据不可用，无法获取语音列表")
		return nil, ErrUnavailable
	}

	q := url.Values{}
	q.Set("key", cred.Key)
	if len(languageCode) >= 2 && !strings.EqualFold(languageCode, "all") {
		q.Set("languageCode", languageCode)
	}
	endpoint := fmt.Sprintf("%s/%s/voices?%s", c.baseURL, version, q.Encode())

	var out struct {
		Voices []catalog.Voice `json:"voices"`
	}
	if err := c.do(ctx, "voices", http.MethodGet, endpoint, nil, cred, &out); err != nil {
		return nil, err
	}
	logger.Debugf("[gcp] 获取到 %d 个语音 (languageCode=%q)", len(out.Voices), languageCode)
	return out.Voices, nil
}

func (c *Client) credential() (Credential, bool) {
	if c.creds == nil {
		return Credential{}, false
	}
	return c.creds.Credential()
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, body []byte, cred Credential, out interface{}) (err error) {
	start := time.Now()
	defer func() {
		metrics.RecordProviderRequest(op, err, time.Since(start).Seconds())
		if err != nil {
			logger.Errorf("%v", err)
		}
	}()

	if c.limiter != nil {
		if werr := c.limiter.Wait(ctx); werr != nil {
			return &ProviderError{Op: op, Message: "等待限速失败", Cause: werr}
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, rerr := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if rerr != nil {
		return &ProviderError{Op: op, Message: "创建请求失败", Cause: rerr}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if ua := c.userAgentFor(cred); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	if cred.Referrer != "" {
		req.Header.Set("Referer", cred.Referrer)
	}

	resp, derr := c.httpClient.Do(req)
	if derr != nil {
		return &ProviderError{Op: op, Cause: redactKey(derr, cred.Key)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		perr := &ProviderError{Op: op, StatusCode: resp.StatusCode}
		var er errorResponse
		if json.Unmarshal(data, &er) == nil && er.Error.Message != "" {
			perr.Status = er.Error.Status
			perr.Message = er.Error.Message
		} else {
			perr.Message = strings.TrimSpace(string(data))
		}
		return perr
	}

	if derr := json.NewDecoder(resp.Body).Decode(out); derr != nil {
		return &ProviderError{Op: op, StatusCode: resp.StatusCode, Message: "解析响应失败", Cause: derr}
	}
	return nil
}

func (c *Client) userAgentFor(cred Credential) string {
	ua := strings.TrimSpace(c.userAgent)
	if extra := strings.TrimSpace(cred.UserAgent); extra != "" {
		if ua == "" {
			return extra
		}
		ua += " " + extra
	}
	return ua
}

// redactKey 避免在日志中输出带有 key 的 URL。
func redactKey(err error, key string) error {
	if key == "" || !strings.Contains(err.Error(), url.QueryEscape(key)) {
		return err
	}
	return fmt.Errorf("%s", strings.ReplaceAll(err.Error(), url.QueryEscape(key), "REDACTED"))
}
