package observer

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"cluetracker.ai/internal/observerproto"
	"cluetracker.ai/internal/sim/catalogs"
	"cluetracker.ai/internal/sim/session"
	"cluetracker.ai/internal/sim/tracking/model"
)

// Server exposes read-only views of running sessions to overlay consumers.
// Every read goes through the owning session's loop.
type Server struct {
	sessions *session.Registry
	contents catalogs.ContentCatalog
	log      *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(sessions *session.Registry, contents catalogs.ContentCatalog, logger *log.Logger) *Server {
	return &Server{
		sessions: sessions,
		contents: contents,
		log:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) SessionsHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.allow(rw, r) {
			return
		}
		writeJSON(rw, observerproto.SessionsResponse{
			ProtocolVersion: observerproto.Version,
			Sessions:        s.sessions.List(),
		})
	}
}

func (s *Server) TrackedHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.allow(rw, r) {
			return
		}
		profile := profileParam(r.URL.Query().Get("profile"))
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		resp, ok, err := s.tracked(ctx, profile)
		if !ok {
			http.Error(rw, "no session for profile", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(rw, resp)
	}
}

// SearchHandler looks content up by text and, if the profile's session is
// running, reports where matching content lies on the ground.
func (s *Server) SearchHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.allow(rw, r) {
			return
		}
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			http.Error(rw, "missing q", http.StatusBadRequest)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 || limit > 50 {
			limit = 10
		}

		where := map[model.ContentID][][3]int{}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if resp, ok, err := s.tracked(ctx, profileParam(r.URL.Query().Get("profile"))); ok && err == nil {
			for _, o := range resp.Overlay.Objects {
				for _, id := range o.ContentIDs {
					where[model.ContentID(id)] = append(where[model.ContentID(id)], o.Pos)
				}
			}
		}

		out := observerproto.SearchResponse{ProtocolVersion: observerproto.Version, Query: q}
		for _, m := range s.contents.Search(q, limit) {
			out.Results = append(out.Results, observerproto.SearchMatch{
				ContentID:    int(m.Def.ID),
				ObjectTypeID: int(m.Def.ObjectTypeID),
				Tier:         m.Def.Tier,
				Text:         m.Def.Text,
				Score:        m.Score,
				OnGround:     where[m.Def.ID],
			})
		}
		writeJSON(rw, out)
	}
}

func (s *Server) tracked(ctx context.Context, profile string) (observerproto.TrackedResponse, bool, error) {
	sess, ok := s.sessions.Lookup(profile)
	if !ok {
		return observerproto.TrackedResponse{}, false, nil
	}
	ov, err := sess.RequestOverlay(ctx)
	if err != nil {
		return observerproto.TrackedResponse{}, true, err
	}
	return observerproto.TrackedResponse{
		ProtocolVersion: observerproto.Version,
		Profile:         profile,
		SessionID:       sess.ID(),
		Overlay:         ov,
	}, true, nil
}

// WSHandler streams the overlay of one profile at a fixed interval.
func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, ok := parseSubscribe(msg)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		subs := make(chan observerproto.SubscribeMsg, 1)
		writeErr := make(chan error, 1)

		// Writer goroutine.
		go func() {
			cur := sub
			ticker := time.NewTicker(time.Duration(cur.IntervalMs) * time.Millisecond)
			defer ticker.Stop()
			lastTick := -1
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case next := <-subs:
					if next.IntervalMs != cur.IntervalMs {
						ticker.Reset(time.Duration(next.IntervalMs) * time.Millisecond)
					}
					if next.Profile != cur.Profile {
						lastTick = -1
					}
					cur = next
				case <-ticker.C:
					reqCtx, reqCancel := context.WithTimeout(ctx, time.Second)
					resp, ok, err := s.tracked(reqCtx, cur.Profile)
					reqCancel()
					if !ok || err != nil || resp.Overlay.Tick == lastTick {
						continue
					}
					lastTick = resp.Overlay.Tick
					b, _ := json.Marshal(resp)
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			next, ok := parseSubscribe(msg)
			if !ok {
				continue
			}
			select {
			case subs <- next:
			default:
				// Drop updates under load; the client may resend.
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func parseSubscribe(msg []byte) (observerproto.SubscribeMsg, bool) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, false
	}
	if sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != observerproto.Version {
		return sub, false
	}
	normalizeSubscribe(&sub)
	return sub, true
}

func normalizeSubscribe(sub *observerproto.SubscribeMsg) {
	sub.Profile = profileParam(sub.Profile)
	if sub.IntervalMs <= 0 {
		sub.IntervalMs = 600
	}
	if sub.IntervalMs < 100 {
		sub.IntervalMs = 100
	}
	if sub.IntervalMs > 10000 {
		sub.IntervalMs = 10000
	}
}

func profileParam(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "default"
	}
	return p
}

func (s *Server) allow(rw http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return false
	}
	return true
}

func writeJSON(rw http.ResponseWriter, v any) {
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(v)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
