package httpapi

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/easeverse/easeverse-server/internal/audio"
	"github.com/easeverse/easeverse-server/internal/collab"
	"github.com/easeverse/easeverse-server/internal/config"
	"github.com/easeverse/easeverse-server/internal/learning"
	"github.com/easeverse/easeverse-server/internal/observability"
	"github.com/easeverse/easeverse-server/internal/scoring"
	"github.com/easeverse/easeverse-server/internal/speech"
)

var metricsSeq atomic.Int64

func newTestServer(t *testing.T, mutate func(*config.Config)) *httptest.Server {
	t.Helper()
	cfg := config.Config{Version: "test", ShutdownTimeout: time.Second}
	if mutate != nil {
		mutate(&cfg)
	}

	pool := scoring.NewPool(scoring.Options{Inline: true})
	engine := learning.NewEngine(learning.NewMemoryStore())
	drafts := collab.NewService(collab.NewMemoryStore())
	hub := collab.NewHub(collab.HubOptions{APIKey: cfg.ExternalAPIKey})
	metrics := observability.NewMetrics(fmt.Sprintf("test_httpapi_%d", metricsSeq.Add(1)))

	srv := New(cfg, pool, engine, drafts, hub, &speech.Mock{}, &speech.Mock{}, metrics)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		hub.Close()
		pool.Close()
	})
	return ts
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// burstWAVBase64 synthesizes bursts on a 120 BPM 16th grid, per the scoring
// pipeline's expectations.
func burstWAVBase64(t *testing.T) string {
	t.Helper()
	const sampleRate = 16000
	samples := make([]float64, int(2.2*sampleRate))
	step := 60000.0 / 120.0 / 4.0
	for n := 0; n < 10; n++ {
		tMs := 500 + float64(n)*step
		start := int(tMs / 1000 * sampleRate)
		for i := 0; i < sampleRate/100; i++ {
			idx := start + i
			if idx >= len(samples) {
				break
			}
			env := 1 - float64(i)/float64(sampleRate/100)
			samples[idx] = 0.8 * env * math.Cos(2*math.Pi*4000*float64(i)/sampleRate)
		}
	}
	wav, err := audio.EncodeWAVPCM16(samples, sampleRate)
	if err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	return base64.StdEncoding.EncodeToString(wav)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		OK      bool   `json:"ok"`
		Version string `json:"version"`
		Storage string `json:"storage"`
	}
	decodeBody(t, resp, &body)
	if !body.OK || body.Version != "test" || body.Storage != "memory" {
		t.Fatalf("health = %+v", body)
	}
}

func TestAPIKeyGate(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) { cfg.ExternalAPIKey = "secret" })

	resp, err := http.Get(ts.URL + "/api/v1/")
	if err != nil {
		t.Fatalf("GET catalog: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unkeyed catalog status = %d, want 401", resp.StatusCode)
	}

	// Health stays open.
	resp, err = http.Get(ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/", nil)
	req.Header.Set("x-api-key", "secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("keyed catalog: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("keyed catalog status = %d", resp.StatusCode)
	}
}

func TestConsonantScoreValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	cases := []map[string]any{
		{"bpm": 120},                                // missing audio
		{"audioBase64": "AAAA", "bpm": 20},          // bpm low
		{"audioBase64": "AAAA", "bpm": 400},         // bpm high
		{"audioBase64": "!!!", "bpm": 120},          // bad base64
		{"audioBase64": "AAAA", "bpm": 120, "toleranceMs": 2},
		{"audioBase64": "AAAA", "bpm": 120, "maxEvents": 5},
		{"audioBase64": "AAAA", "bpm": 120, "grid": "32nd"},
	}
	for i, body := range cases {
		resp := postJSON(t, ts, "/api/v1/easepocket/consonant-score", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("case %d: status = %d, want 400", i, resp.StatusCode)
		}
	}
}

func TestConsonantScoreEndToEnd(t *testing.T) {
	ts := newTestServer(t, nil)
	resp := postJSON(t, ts, "/api/v1/easepocket/consonant-score", map[string]any{
		"audioBase64": burstWAVBase64(t),
		"bpm":         120,
		"grid":        "16th",
		"toleranceMs": 15,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		OK              bool    `json:"ok"`
		DurationSeconds float64 `json:"durationSeconds"`
		Stats           struct {
			EventCount int     `json:"eventCount"`
			MeanAbsMs  float64 `json:"meanAbsMs"`
			OnTimePct  float64 `json:"onTimePct"`
		} `json:"stats"`
	}
	decodeBody(t, resp, &body)
	if !body.OK {
		t.Fatal("ok = false")
	}
	if body.DurationSeconds < 2.1 || body.DurationSeconds > 2.3 {
		t.Fatalf("durationSeconds = %v", body.DurationSeconds)
	}
	if body.Stats.EventCount < 6 {
		t.Fatalf("eventCount = %d, want >= 6", body.Stats.EventCount)
	}
	if body.Stats.MeanAbsMs >= 15 {
		t.Fatalf("meanAbsMs = %v, want < 15", body.Stats.MeanAbsMs)
	}
	if body.Stats.OnTimePct <= 60 {
		t.Fatalf("onTimePct = %v, want > 60", body.Stats.OnTimePct)
	}
}

func TestConsonantScoreTooShort(t *testing.T) {
	ts := newTestServer(t, nil)
	wav, err := audio.EncodeWAVPCM16(make([]float64, 1600), 16000) // 0.1 s
	if err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	resp := postJSON(t, ts, "/api/v1/easepocket/consonant-score", map[string]any{
		"audioBase64": base64.StdEncoding.EncodeToString(wav),
		"bpm":         120,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var body errorResponse
	decodeBody(t, resp, &body)
	if body.Code != "too_short" {
		t.Fatalf("code = %q, want too_short", body.Code)
	}
}

func TestSessionScoreRateLimit(t *testing.T) {
	ts := newTestServer(t, nil)
	for i := 1; i <= 13; i++ {
		resp := postJSON(t, ts, "/api/v1/session-score", map[string]any{})
		if i <= 12 && resp.StatusCode == http.StatusTooManyRequests {
			t.Fatalf("request %d rate limited early", i)
		}
		if i == 13 {
			if resp.StatusCode != http.StatusTooManyRequests {
				t.Fatalf("request 13 status = %d, want 429", resp.StatusCode)
			}
			var body errorResponse
			decodeBody(t, resp, &body)
			if !strings.Contains(body.Error, "try again shortly") {
				t.Fatalf("429 message = %q", body.Error)
			}
		}
	}
}

func TestLearningIngestAndProfile(t *testing.T) {
	ts := newTestServer(t, nil)

	ingest := map[string]any{
		"userId":    "u1",
		"sessionId": "s1",
		"lyrics":    "hold on to that feeling",
		"transcript": "hold to that feeling",
	}
	resp := postJSON(t, ts, "/api/v1/learning/session", ingest)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ingest status = %d", resp.StatusCode)
	}
	var first struct {
		OK           bool   `json:"ok"`
		UserID       string `json:"userId"`
		Deduplicated bool   `json:"deduplicated"`
	}
	decodeBody(t, resp, &first)
	if !first.OK || first.UserID != "u1" || first.Deduplicated {
		t.Fatalf("first ingest = %+v", first)
	}

	resp = postJSON(t, ts, "/api/v1/learning/session", ingest)
	var second struct {
		Deduplicated bool `json:"deduplicated"`
	}
	decodeBody(t, resp, &second)
	if !second.Deduplicated {
		t.Fatal("replay not deduplicated")
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/learning/profile", nil)
	req.Header.Set("x-easeverse-user-id", "u1")
	profResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET profile: %v", err)
	}
	defer profResp.Body.Close()
	if profResp.StatusCode != http.StatusOK {
		t.Fatalf("profile status = %d", profResp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/api/v1/learning/profile", nil)
	req.Header.Set("x-easeverse-user-id", "ghost")
	ghostResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET ghost profile: %v", err)
	}
	ghostResp.Body.Close()
	if ghostResp.StatusCode != http.StatusNotFound {
		t.Fatalf("ghost profile status = %d, want 404", ghostResp.StatusCode)
	}
}

func TestCollabUpsertGetList(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := postJSON(t, ts, "/api/v1/collab/lyrics", map[string]any{
		"externalTrackId": "t1",
		"title":           "Night Drive",
		"projectId":       "p1",
		"lyrics":          "verse one",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upsert status = %d", resp.StatusCode)
	}

	getResp, err := http.Get(ts.URL + "/api/v1/collab/lyrics/t1")
	if err != nil {
		t.Fatalf("GET draft: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", getResp.StatusCode)
	}
	var got struct {
		OK   bool         `json:"ok"`
		Item collab.Draft `json:"item"`
	}
	decodeBody(t, getResp, &got)
	if got.Item.Title != "Night Drive" {
		t.Fatalf("item = %+v", got.Item)
	}

	missing, err := http.Get(ts.URL + "/api/v1/collab/lyrics/nope")
	if err != nil {
		t.Fatalf("GET missing: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("missing status = %d, want 404", missing.StatusCode)
	}

	listResp, err := http.Get(ts.URL + "/api/v1/collab/lyrics?projectId=p1")
	if err != nil {
		t.Fatalf("GET list: %v", err)
	}
	defer listResp.Body.Close()
	var list struct {
		OK    bool           `json:"ok"`
		Count int            `json:"count"`
		Items []collab.Draft `json:"items"`
	}
	decodeBody(t, listResp, &list)
	if list.Count != 1 || len(list.Items) != 1 {
		t.Fatalf("list = %+v", list)
	}

	bad := postJSON(t, ts, "/api/v1/collab/lyrics", map[string]any{"title": "No ID"})
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid upsert status = %d, want 400", bad.StatusCode)
	}
}

func TestRealtimeFanoutThroughGateway(t *testing.T) {
	ts := newTestServer(t, nil)
	wsBase := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"

	dial := func(query string) *websocket.Conn {
		conn, _, err := websocket.DefaultDialer.Dial(wsBase+"?"+query, nil)
		if err != nil {
			t.Fatalf("dial %s: %v", query, err)
		}
		t.Cleanup(func() { conn.Close() })
		return conn
	}
	readType := func(conn *websocket.Conn) string {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var frame struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
		return frame.Type
	}

	connP1 := dial("projectId=p1")
	connP2 := dial("projectId=p2")
	if typ := readType(connP1); typ != "ready" {
		t.Fatalf("p1 first frame = %q", typ)
	}
	if typ := readType(connP2); typ != "ready" {
		t.Fatalf("p2 first frame = %q", typ)
	}

	resp := postJSON(t, ts, "/api/v1/collab/lyrics", map[string]any{
		"externalTrackId": "t1",
		"title":           "Night Drive",
		"projectId":       "p1",
		"lyrics":          "verse one",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upsert status = %d", resp.StatusCode)
	}

	if typ := readType(connP1); typ != "collab_lyrics_updated" {
		t.Fatalf("p1 frame = %q", typ)
	}
	connP2.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, data, err := connP2.ReadMessage(); err == nil {
		t.Fatalf("p2 unexpectedly received %s", data)
	}
}

func TestTTSAndPronounce(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := postJSON(t, ts, "/api/v1/tts", map[string]any{"text": "hello there"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("tts status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/mpeg" {
		t.Fatalf("tts content type = %q", ct)
	}

	bad := postJSON(t, ts, "/api/v1/tts", map[string]any{"text": strings.Repeat("a", 501)})
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("long text status = %d, want 400", bad.StatusCode)
	}

	pr := postJSON(t, ts, "/api/v1/pronounce", map[string]any{"word": "feeling"})
	if pr.StatusCode != http.StatusOK {
		t.Fatalf("pronounce status = %d", pr.StatusCode)
	}
	var out speech.Pronunciation
	decodeBody(t, pr, &out)
	if out.Word != "feeling" || out.Slow == "" || out.AudioBase64 == "" {
		t.Fatalf("pronounce = %+v", out)
	}
}

func TestSessionScore(t *testing.T) {
	ts := newTestServer(t, nil)
	// The mock transcriber echoes a canned transcript.
	wav, err := audio.EncodeWAVPCM16(make([]float64, 16000), 16000)
	if err != nil {
		t.Fatalf("encode wav: %v", err)
	}

	resp := postJSON(t, ts, "/api/v1/session-score", map[string]any{
		"lyrics":      "hold on to that feeling",
		"audioBase64": base64.StdEncoding.EncodeToString(wav),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body sessionScoreResponse
	decodeBody(t, resp, &body)
	if !body.OK {
		t.Fatal("ok = false")
	}
	if body.DurationSeconds < 0.9 || body.DurationSeconds > 1.1 {
		t.Fatalf("durationSeconds = %v", body.DurationSeconds)
	}
}
