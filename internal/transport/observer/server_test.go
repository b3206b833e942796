package observer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"cluetracker.ai/internal/observerproto"
	"cluetracker.ai/internal/sim/catalogs"
	"cluetracker.ai/internal/sim/session"
	"cluetracker.ai/internal/sim/tuning"
)

func testContents(t *testing.T) catalogs.ContentCatalog {
	t.Helper()
	c, err := catalogs.NewContentCatalog([]catalogs.ContentDef{
		{ID: 11, ObjectTypeID: 2677, Tier: "easy", Text: "Dig near the fountain in Falador"},
		{ID: 12, ObjectTypeID: 2677, Tier: "easy", Text: "Speak to the bartender of the Blue Moon Inn"},
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return c
}

// startSession runs a session for profile "main" holding one known clue on
// the ground.
func startSession(t *testing.T, reg *session.Registry, contents catalogs.ContentCatalog) {
	t.Helper()
	s, err := session.New(session.Config{ID: "S1", Profile: "main", Tuning: tuning.Defaults(), Contents: contents})
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if _, err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	for _, m := range []string{
		`{"type":"TICK","tick":1,"player":[3200,3200,0]}`,
		`{"type":"INV_REMOVED","type_id":2677,"content_ids":[11]}`,
		`{"type":"SPAWN","ref":1,"type_id":2677,"pos":[3201,3200,0],"countdown":300}`,
		`{"type":"TICK","tick":2,"player":[3200,3200,0]}`,
	} {
		if _, err := s.Apply([]byte(m)); err != nil {
			t.Fatalf("apply %s: %v", m, err)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = s.Run(ctx, make(chan []byte, 64)) }()
	t.Cleanup(cancel)
	if !reg.Claim("main", s) {
		t.Fatalf("claim")
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	contents := testContents(t)
	reg := session.NewRegistry()
	startSession(t, reg, contents)

	obs := NewServer(reg, contents, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/sessions", obs.SessionsHandler())
	mux.HandleFunc("/v1/tracked", obs.TrackedHandler())
	mux.HandleFunc("/v1/search", obs.SearchHandler())
	mux.HandleFunc("/v1/observe", obs.WSHandler())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK && v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return resp.StatusCode
}

func TestTrackedHandler(t *testing.T) {
	srv := newTestServer(t)

	var resp observerproto.TrackedResponse
	if code := getJSON(t, srv.URL+"/v1/tracked?profile=main", &resp); code != http.StatusOK {
		t.Fatalf("status=%d", code)
	}
	if resp.SessionID != "S1" || len(resp.Overlay.Objects) != 1 {
		t.Fatalf("resp=%+v", resp)
	}
	if o := resp.Overlay.Objects[0]; len(o.ContentIDs) != 1 || o.ContentIDs[0] != 11 {
		t.Fatalf("object=%+v", o)
	}

	if code := getJSON(t, srv.URL+"/v1/tracked?profile=nobody", nil); code != http.StatusNotFound {
		t.Fatalf("missing profile status=%d", code)
	}
}

func TestSessionsHandler(t *testing.T) {
	srv := newTestServer(t)
	var resp observerproto.SessionsResponse
	if code := getJSON(t, srv.URL+"/v1/sessions", &resp); code != http.StatusOK {
		t.Fatalf("status=%d", code)
	}
	if len(resp.Sessions) != 1 || resp.Sessions[0].Profile != "main" {
		t.Fatalf("resp=%+v", resp)
	}

	r, err := http.Post(srv.URL+"/v1/sessions", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	r.Body.Close()
	if r.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("post status=%d", r.StatusCode)
	}
}

func TestSearchHandler_ReportsGroundLocation(t *testing.T) {
	srv := newTestServer(t)
	var resp observerproto.SearchResponse
	if code := getJSON(t, srv.URL+"/v1/search?q=fountian&profile=main", &resp); code != http.StatusOK {
		t.Fatalf("status=%d", code)
	}
	if len(resp.Results) == 0 || resp.Results[0].ContentID != 11 {
		t.Fatalf("results=%+v", resp.Results)
	}
	if got := resp.Results[0].OnGround; len(got) != 1 || got[0] != [3]int{3201, 3200, 0} {
		t.Fatalf("on_ground=%v", got)
	}
	if code := getJSON(t, srv.URL+"/v1/search", nil); code != http.StatusBadRequest {
		t.Fatalf("empty query status=%d", code)
	}
}

func TestWSHandler_StreamsOverlay(t *testing.T) {
	srv := newTestServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/observe"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sub := `{"type":"SUBSCRIBE","protocol_version":"0.1","profile":"main","interval_ms":100}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(sub)); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var resp observerproto.TrackedResponse
	if err := json.Unmarshal(b, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Profile != "main" || len(resp.Overlay.Objects) != 1 {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:5000": true,
		"[::1]:80":       true,
		"10.0.0.2:5000":  false,
		"garbage":        false,
	}
	for in, want := range cases {
		if got := isLoopbackRemote(in); got != want {
			t.Fatalf("isLoopbackRemote(%q)=%v want %v", in, got, want)
		}
	}
}
