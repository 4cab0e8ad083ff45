package collab

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialHub(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if query != "" {
		wsURL += "?" + query
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var frame map[string]json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("decode frame %s: %v", data, err)
	}
	return frame
}

func frameType(t *testing.T, frame map[string]json.RawMessage) string {
	t.Helper()
	var typ string
	if err := json.Unmarshal(frame["type"], &typ); err != nil {
		t.Fatalf("frame type: %v", err)
	}
	return typ
}

func TestHubReadyFrame(t *testing.T) {
	hub := NewHub(HubOptions{})
	defer hub.Close()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r)
	}))
	defer srv.Close()

	conn := dialHub(t, srv, "projectId=p1&source=web")
	frame := readFrame(t, conn)
	if typ := frameType(t, frame); typ != "ready" {
		t.Fatalf("first frame type = %q, want ready", typ)
	}
	var channel string
	if err := json.Unmarshal(frame["channel"], &channel); err != nil || channel != "collab_lyrics" {
		t.Fatalf("channel = %q err=%v", channel, err)
	}
	var filters Filters
	if err := json.Unmarshal(frame["filters"], &filters); err != nil {
		t.Fatalf("filters: %v", err)
	}
	if filters.ProjectID != "p1" || filters.Source != "web" {
		t.Fatalf("filters = %+v", filters)
	}
	if _, ok := frame["serverTime"]; !ok {
		t.Fatal("ready frame missing serverTime")
	}
}

func TestHubFilteredFanout(t *testing.T) {
	hub := NewHub(HubOptions{})
	defer hub.Close()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r)
	}))
	defer srv.Close()

	connP1 := dialHub(t, srv, "projectId=p1")
	connP2 := dialHub(t, srv, "projectId=p2")
	if typ := frameType(t, readFrame(t, connP1)); typ != "ready" {
		t.Fatalf("p1 first frame = %q", typ)
	}
	if typ := frameType(t, readFrame(t, connP2)); typ != "ready" {
		t.Fatalf("p2 first frame = %q", typ)
	}

	hub.Publish(Draft{
		ExternalTrackID: "t1",
		ProjectID:       "p1",
		Title:           "Night Drive",
		UpdatedAt:       time.Now().UTC(),
	})

	frame := readFrame(t, connP1)
	if typ := frameType(t, frame); typ != "collab_lyrics_updated" {
		t.Fatalf("p1 frame type = %q", typ)
	}
	var item struct {
		ExternalTrackID string `json:"externalTrackId"`
		ProjectID       string `json:"projectId"`
	}
	if err := json.Unmarshal(frame["item"], &item); err != nil {
		t.Fatalf("item: %v", err)
	}
	if item.ExternalTrackID != "t1" || item.ProjectID != "p1" {
		t.Fatalf("item = %+v", item)
	}

	// The p2 subscriber must not see the p1 update.
	connP2.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, data, err := connP2.ReadMessage(); err == nil {
		t.Fatalf("p2 unexpectedly received %s", data)
	}
}

func TestHubRejectsBadAPIKey(t *testing.T) {
	hub := NewHub(HubOptions{APIKey: "secret"})
	defer hub.Close()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("dial without key succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %v, want 401", resp)
	}

	// The key is accepted via query for browser clients, under either
	// parameter name the REST gate understands.
	for _, query := range []string{"apiKey=secret", "token=secret"} {
		conn := dialHub(t, srv, query)
		if typ := frameType(t, readFrame(t, conn)); typ != "ready" {
			t.Fatalf("frame type with %s = %q, want ready", query, typ)
		}
		conn.Close()
	}
}

func TestHubRejectsForeignOrigin(t *testing.T) {
	hub := NewHub(HubOptions{AllowOrigins: []string{"https://app.easeverse.io"}})
	defer hub.Close()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r)
	}))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		t.Fatal("dial from foreign origin succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %v, want 403", resp)
	}

	for _, origin := range []string{"https://app.easeverse.io", "http://localhost:3000"} {
		header := http.Header{"Origin": []string{origin}}
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
		if err != nil {
			t.Fatalf("dial from %s: %v", origin, err)
		}
		conn.Close()
	}
}

func TestHubCloseDropsClients(t *testing.T) {
	hub := NewHub(HubOptions{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r)
	}))
	defer srv.Close()

	conn := dialHub(t, srv, "")
	readFrame(t, conn)
	if n := hub.ClientCount(); n != 1 {
		t.Fatalf("ClientCount = %d, want 1", n)
	}

	hub.Close()
	if n := hub.ClientCount(); n != 0 {
		t.Fatalf("ClientCount after close = %d, want 0", n)
	}
	conn.SetReadDeadline(time.Now().Add(time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
