package ws

import (
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"cluetracker.ai/internal/protocol"
	"cluetracker.ai/internal/sim/catalogs"
	"cluetracker.ai/internal/sim/session"
	"cluetracker.ai/internal/sim/tuning"
)

type memKV map[string]string

func (m memKV) Get(key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func (m memKV) Set(key, value string) error {
	m[key] = value
	return nil
}

type closeCounter struct{ n *atomic.Int32 }

func (c closeCounter) Close() error {
	c.n.Add(1)
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, *session.Registry, *atomic.Int32) {
	t.Helper()
	contents, err := catalogs.NewContentCatalog([]catalogs.ContentDef{
		{ID: 11, ObjectTypeID: 2677, Tier: "easy", Text: "Dig near the fountain."},
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	closed := &atomic.Int32{}
	reg := session.NewRegistry()
	open := func(id, profile string) (*session.Session, io.Closer, error) {
		s, err := session.New(session.Config{
			ID:       id,
			Profile:  profile,
			Tuning:   tuning.Defaults(),
			Contents: contents,
			Store:    memKV{},
		})
		return s, closeCounter{closed}, err
	}
	srv := httptest.NewServer(NewServer(open, reg, nil).Handler())
	t.Cleanup(srv.Close)
	return srv, reg, closed
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func writeMsg(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readUntil(t *testing.T, conn *websocket.Conn, typ string) []byte {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read waiting for %s: %v", typ, err)
		}
		base, _ := protocol.DecodeBase(b)
		if base.Type == typ {
			return b
		}
	}
}

func TestServer_HandshakeAndOverlay(t *testing.T) {
	srv, reg, _ := newTestServer(t)
	conn := dial(t, srv)

	writeMsg(t, conn, `{"type":"HELLO","protocol_version":"1.0","profile":"main"}`)
	var welcome protocol.WelcomeMsg
	if err := json.Unmarshal(readUntil(t, conn, protocol.TypeWelcome), &welcome); err != nil {
		t.Fatalf("welcome: %v", err)
	}
	if welcome.SessionID == "" || len(welcome.TrackedTypes) != 1 || welcome.TrackedTypes[0] != 2677 {
		t.Fatalf("welcome=%+v", welcome)
	}
	if _, ok := reg.Lookup("main"); !ok {
		t.Fatalf("session not registered")
	}

	writeMsg(t, conn, `{"type":"TICK","tick":1,"player":[3200,3200,0]}`)
	writeMsg(t, conn, `{"type":"SPAWN","ref":1,"type_id":2677,"pos":[3201,3200,0],"countdown":100}`)
	writeMsg(t, conn, `{"type":"TICK","tick":2,"player":[3200,3200,0]}`)

	var ov protocol.OverlayMsg
	if err := json.Unmarshal(readUntil(t, conn, protocol.TypeOverlay), &ov); err != nil {
		t.Fatalf("overlay: %v", err)
	}
	if ov.Tick != 1 || len(ov.Objects) != 1 || ov.Objects[0].TypeID != 2677 {
		t.Fatalf("overlay=%+v", ov)
	}
}

func TestServer_RejectsBadVersion(t *testing.T) {
	srv, _, _ := newTestServer(t)
	conn := dial(t, srv)
	writeMsg(t, conn, `{"type":"HELLO","protocol_version":"0.1"}`)
	var em protocol.ErrorMsg
	if err := json.Unmarshal(readUntil(t, conn, protocol.TypeError), &em); err != nil {
		t.Fatalf("error msg: %v", err)
	}
	if em.Code != protocol.ErrProtoVersion {
		t.Fatalf("code=%s", em.Code)
	}
}

func TestServer_ProfileBusyAndReleased(t *testing.T) {
	srv, reg, closed := newTestServer(t)
	first := dial(t, srv)
	writeMsg(t, first, `{"type":"HELLO","protocol_version":"1.0","profile":"main"}`)
	readUntil(t, first, protocol.TypeWelcome)

	second := dial(t, srv)
	writeMsg(t, second, `{"type":"HELLO","protocol_version":"1.0","profile":"main"}`)
	var em protocol.ErrorMsg
	if err := json.Unmarshal(readUntil(t, second, protocol.TypeError), &em); err != nil {
		t.Fatalf("error msg: %v", err)
	}
	if em.Code != protocol.ErrSessionBusy {
		t.Fatalf("code=%s", em.Code)
	}

	_ = first.Close()
	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, ok := reg.Lookup("main"); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("profile not released")
		}
		time.Sleep(10 * time.Millisecond)
	}
	// One closer for the refused session, one for the ended one.
	if n := closed.Load(); n < 2 {
		t.Fatalf("closers run=%d", n)
	}
}

type brokenKV struct{ sets *atomic.Int32 }

func (b brokenKV) Get(string) (string, bool, error) { return "", false, errors.New("disk gone") }

func (b brokenKV) Set(string, string) error {
	b.sets.Add(1)
	return nil
}

func TestServer_StartFailureReleasesSession(t *testing.T) {
	contents, err := catalogs.NewContentCatalog([]catalogs.ContentDef{
		{ID: 11, ObjectTypeID: 2677, Tier: "easy", Text: "Dig near the fountain."},
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	closed := &atomic.Int32{}
	sets := &atomic.Int32{}
	reg := session.NewRegistry()
	open := func(id, profile string) (*session.Session, io.Closer, error) {
		s, err := session.New(session.Config{
			ID:       id,
			Profile:  profile,
			Tuning:   tuning.Defaults(),
			Contents: contents,
			Store:    brokenKV{sets},
		})
		return s, closeCounter{closed}, err
	}
	srv := httptest.NewServer(NewServer(open, reg, nil).Handler())
	t.Cleanup(srv.Close)

	conn := dial(t, srv)
	writeMsg(t, conn, `{"type":"HELLO","protocol_version":"1.0","profile":"main"}`)
	var em protocol.ErrorMsg
	if err := json.Unmarshal(readUntil(t, conn, protocol.TypeError), &em); err != nil {
		t.Fatalf("error msg: %v", err)
	}
	if em.Code != protocol.ErrInternal {
		t.Fatalf("code=%s", em.Code)
	}
	if _, ok := reg.Lookup("main"); ok {
		t.Fatalf("profile still claimed")
	}
	if n := closed.Load(); n != 1 {
		t.Fatalf("closers run=%d", n)
	}
	if n := sets.Load(); n != 0 {
		t.Fatalf("failed session wrote the store %d times", n)
	}
}
