package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iabetor/gcptts/internal/app"
	"github.com/iabetor/gcptts/internal/config"
	"github.com/iabetor/gcptts/internal/playback"
)

type fakeGoogle struct {
	synthCalls atomic.Int32
	voiceCalls atomic.Int32
}

func (f *fakeGoogle) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/text:synthesize"):
		f.synthCalls.Add(1)
		json.NewEncoder(w).Encode(map[string]string{
			"audioContent": base64.StdEncoding.EncodeToString([]byte("not really audio")),
		})
	case strings.HasSuffix(r.URL.Path, "/voices"):
		f.voiceCalls.Add(1)
		io.WriteString(w, `{"voices":[{"languageCodes":["xx-XX"],"name":"xx-XX-Standard-Z","ssmlGender":"FEMALE","naturalSampleRateHertz":24000}]}`)
	default:
		http.NotFound(w, r)
	}
}

func newTestServer(t *testing.T) (*app.App, *httptest.Server, *fakeGoogle) {
	t.Helper()
	google := &fakeGoogle{}
	gs := httptest.NewServer(google)
	t.Cleanup(gs.Close)

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Google.APIKey = "test-key-0123456789"
	cfg.Google.BaseURL = gs.URL
	cfg.Catalog.DataDir = dir
	cfg.Catalog.WriteDelaySeconds = -1
	cfg.Synthesis.TempDir = dir
	cfg.Synthesis.FallbackDurationSeconds = 1
	cfg.Updates.VoiceCheck = "Never"
	cfg.Usage.Enabled = true
	cfg.Usage.DBPath = filepath.Join(dir, "usage.db")

	a, err := app.New(cfg)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(func() { a.Close() })

	srv := httptest.NewServer(New(a).Handler())
	t.Cleanup(srv.Close)
	return a, srv, google
}

func doJSON(t *testing.T, method, url string, body interface{}, out interface{}) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	_, srv, _ := newTestServer(t)
	var got map[string]interface{}
	if code := doJSON(t, http.MethodGet, srv.URL+"/v1/health", nil, &got); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if got["status"] != "ok" || got["connected"] != true {
		t.Errorf("health = %v", got)
	}
}

func TestEncodeSSML(t *testing.T) {
	_, srv, _ := newTestServer(t)
	var got struct{ Text string }
	doJSON(t, http.MethodPost, srv.URL+"/v1/ssml/encode", map[string]string{"text": `a<b & "c"`}, &got)
	if want := "a&lt;b &amp; &quot;c&quot;"; got.Text != want {
		t.Errorf("text = %q, want %q", got.Text, want)
	}
}

func TestVoicesFilter(t *testing.T) {
	_, srv, _ := newTestServer(t)

	var voices []struct {
		Name    string `json:"name"`
		Pricing string `json:"pricing"`
	}
	if code := doJSON(t, http.MethodGet, srv.URL+"/v1/voices?lang=en-US&pricing=Standard", nil, &voices); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(voices) == 0 {
		t.Fatal("expected built-in en-US standard voices")
	}
	for _, v := range voices {
		if !strings.HasPrefix(v.Name, "en-US-") || v.Pricing != "Standard" {
			t.Errorf("unexpected voice %+v", v)
		}
	}

	var errResp errorResponse
	if code := doJSON(t, http.MethodGet, srv.URL+"/v1/voices?pricing=Platinum", nil, &errResp); code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", code)
	}
	if errResp.Field != "pricing" {
		t.Errorf("field = %q", errResp.Field)
	}
}

func TestLocalesReplace(t *testing.T) {
	_, srv, _ := newTestServer(t)
	body := []map[string]string{{"id": "xx-XX", "desc": "Test (Test)"}}
	var locales []struct{ ID string }
	if code := doJSON(t, http.MethodPut, srv.URL+"/v1/locales?lang=xx", body, &locales); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	found := false
	for _, l := range locales {
		if l.ID == "xx-XX" {
			found = true
		}
	}
	if !found {
		t.Error("replaced locale missing from response")
	}
}

func TestAPIKeyEndpoints(t *testing.T) {
	_, srv, _ := newTestServer(t)

	var status struct {
		ID         string `json:"id"`
		Configured bool   `json:"configured"`
		Connected  bool   `json:"connected"`
	}
	doJSON(t, http.MethodGet, srv.URL+"/v1/integrations/apikey", nil, &status)
	if status.ID != "google-cloud-key" || !status.Connected {
		t.Fatalf("status = %+v", status)
	}

	if code := doJSON(t, http.MethodPut, srv.URL+"/v1/integrations/apikey", map[string]string{"key": "short"}, &status); code != http.StatusBadRequest {
		t.Fatalf("short key status = %d, want 400", code)
	}
	if status.Connected {
		t.Error("short key should disconnect")
	}

	if code := doJSON(t, http.MethodPut, srv.URL+"/v1/integrations/apikey", map[string]string{"key": "another-key-0123456789", "referrer": "https://x.test"}, &status); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if !status.Configured || !status.Connected {
		t.Errorf("status = %+v", status)
	}
}

func TestSynthesizeValidation(t *testing.T) {
	_, srv, google := newTestServer(t)

	cases := []struct {
		body  map[string]interface{}
		field string
	}{
		{map[string]interface{}{"text": "", "voiceName": "en-US-Standard-A"}, "text"},
		{map[string]interface{}{"text": "hi", "voiceName": "en-US-Standard-A", "pitchAdjust": 25}, "pitchAdjust"},
		{map[string]interface{}{"text": "hi", "voiceName": "nope"}, "voiceName"},
		{map[string]interface{}{"text": "hi", "voiceName": "en-US-Standard-A", "apiVersion": "v9"}, "apiVersion"},
	}
	for _, tc := range cases {
		var errResp errorResponse
		if code := doJSON(t, http.MethodPost, srv.URL+"/v1/effects/synthesize", tc.body, &errResp); code != http.StatusBadRequest {
			t.Errorf("%v: status = %d, want 400", tc.body, code)
			continue
		}
		if errResp.Field != tc.field {
			t.Errorf("%v: field = %q, want %q", tc.body, errResp.Field, tc.field)
		}
	}
	if n := google.synthCalls.Load(); n != 0 {
		t.Errorf("provider called %d times for invalid requests", n)
	}
}

func TestSynthesizeWithoutListenerFails(t *testing.T) {
	a, srv, google := newTestServer(t)

	body := map[string]interface{}{
		"text":            "hello",
		"voiceName":       "en-US-Standard-A",
		"waitForPlayback": false,
		"stopOnError":     true,
	}
	var res struct {
		Success   bool `json:"success"`
		Execution *struct {
			Stop       bool `json:"stop"`
			BubbleStop bool `json:"bubbleStop"`
		} `json:"execution"`
		Outputs struct {
			TTSUsage struct {
				BilledUnits   int     `json:"billedUnits"`
				PricingBucket *string `json:"pricingBucket"`
				VoiceName     *string `json:"voiceName"`
			} `json:"ttsUsage"`
		} `json:"outputs"`
	}
	if code := doJSON(t, http.MethodPost, srv.URL+"/v1/effects/synthesize", body, &res); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if res.Success {
		t.Fatal("dispatch with no frontend listener should fail")
	}
	if res.Execution == nil || !res.Execution.Stop {
		t.Errorf("execution = %+v, want stop", res.Execution)
	}
	usage := res.Outputs.TTSUsage
	if usage.BilledUnits != 5 || usage.PricingBucket == nil || *usage.PricingBucket != "Standard" {
		t.Errorf("usage = %+v", usage)
	}
	if usage.VoiceName == nil || *usage.VoiceName != "en-US-Standard-A" {
		t.Errorf("voiceName = %v", usage.VoiceName)
	}
	if n := google.synthCalls.Load(); n != 1 {
		t.Errorf("provider calls = %d, want 1", n)
	}

	matches, _ := filepath.Glob(filepath.Join(a.Config.Synthesis.TempDir, "tts*"))
	if len(matches) != 0 {
		t.Errorf("audio file left behind: %v", matches)
	}
}

func TestUpdateVoices(t *testing.T) {
	a, srv, google := newTestServer(t)

	var res struct {
		Success bool `json:"success"`
		Outputs struct {
			Voices struct {
				Added   []string `json:"added"`
				Removed []string `json:"removed"`
			} `json:"voices"`
			ErrorMessage *string `json:"errorMessage"`
		} `json:"outputs"`
	}
	body := map[string]string{"apiVersion": "v1", "langCode": "xx-XX"}
	if code := doJSON(t, http.MethodPost, srv.URL+"/v1/effects/update-voices", body, &res); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if !res.Success || len(res.Outputs.Voices.Added) != 1 || res.Outputs.Voices.Added[0] != "xx-XX-Standard-Z" {
		t.Fatalf("result = %+v", res)
	}
	if res.Outputs.ErrorMessage != nil {
		t.Errorf("errorMessage = %q", *res.Outputs.ErrorMessage)
	}
	if google.voiceCalls.Load() != 1 {
		t.Errorf("voice calls = %d", google.voiceCalls.Load())
	}
	if !a.Store.IsKnownVoiceName("xx-XX-Standard-Z") {
		t.Error("new voice not stored")
	}
}

func TestResourceToken(t *testing.T) {
	a, srv, _ := newTestServer(t)

	path := filepath.Join(t.TempDir(), "tts-test.mp3")
	if err := os.WriteFile(path, []byte("ID3audio"), 0644); err != nil {
		t.Fatal(err)
	}
	token := a.Tokens.Issue(path, time.Minute)

	resp, err := http.Get(srv.URL + "/v1/resources/" + token)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(data) != "ID3audio" {
		t.Fatalf("status = %d body = %q", resp.StatusCode, data)
	}

	resp, err = http.Get(srv.URL + "/v1/resources/unknown-token")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown token status = %d, want 404", resp.StatusCode)
	}
}

func TestUsage(t *testing.T) {
	a, srv, _ := newTestServer(t)
	ctx := context.Background()
	if err := a.Ledger.Record(ctx, "Standard", 12); err != nil {
		t.Fatal(err)
	}
	if err := a.Ledger.Record(ctx, "Standard", 3); err != nil {
		t.Fatal(err)
	}

	var monthly monthlyUsage
	if code := doJSON(t, http.MethodGet, srv.URL+"/v1/usage", nil, &monthly); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if monthly.Totals["Standard"] != 15 {
		t.Errorf("totals = %v", monthly.Totals)
	}

	var daily dailyUsage
	doJSON(t, http.MethodGet, srv.URL+"/v1/usage?from=2000-01-01", nil, &daily)
	if len(daily.Daily) != 1 || daily.Daily[0].Requests != 2 {
		t.Errorf("daily = %+v", daily.Daily)
	}

	if code := doJSON(t, http.MethodGet, srv.URL+"/v1/usage?month=bad", nil, nil); code != http.StatusBadRequest {
		t.Errorf("bad month status = %d", code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestRecoverMiddleware(t *testing.T) {
	h := recoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "error") {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	_, srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/v1/effects/synthesize")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestPlaybackSettings(t *testing.T) {
	a, srv, _ := newTestServer(t)

	body := map[string]interface{}{
		"defaultDevice":       map[string]string{"deviceId": "overlay", "label": "Overlay"},
		"useOverlayInstances": true,
		"overlayInstances":    []string{"stage"},
	}
	var got struct {
		DefaultDevice struct {
			ID    string `json:"deviceId"`
			Label string `json:"label"`
		} `json:"defaultDevice"`
		UseOverlayInstances bool     `json:"useOverlayInstances"`
		OverlayInstances    []string `json:"overlayInstances"`
	}
	if code := doJSON(t, http.MethodPut, srv.URL+"/v1/settings/playback", body, &got); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if got.DefaultDevice.ID != "overlay" || !got.UseOverlayInstances || len(got.OverlayInstances) != 1 {
		t.Fatalf("settings = %+v", got)
	}

	d := a.Router.Route(playback.Device{Label: playback.AppDefaultLabel}, "stage")
	if d.Target != playback.TargetOverlay || d.Instance != "stage" {
		t.Errorf("route after update = %+v", d)
	}

	// 只改实例开关，设备保持不变
	doJSON(t, http.MethodPut, srv.URL+"/v1/settings/playback", map[string]bool{"useOverlayInstances": false}, &got)
	if got.DefaultDevice.ID != "overlay" || got.UseOverlayInstances || len(got.OverlayInstances) != 1 {
		t.Errorf("partial update = %+v", got)
	}
}
