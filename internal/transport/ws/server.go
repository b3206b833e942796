package ws

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"cluetracker.ai/internal/protocol"
	"cluetracker.ai/internal/sim/session"
)

// Opener builds the session for a new connection. The returned closer is
// called after the session has stopped and saved.
type Opener func(id, profile string) (*session.Session, io.Closer, error)

type Server struct {
	open     Opener
	sessions *session.Registry
	log      *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(open Opener, sessions *session.Registry, logger *log.Logger) *Server {
	return &Server{
		open:     open,
		sessions: sessions,
		log:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess, profile, closer := s.handshake(conn)
		if sess == nil {
			return
		}
		defer func() {
			if err := sess.Close(); err != nil {
				s.logf("session %s: close: %v", sess.ID(), err)
			}
			if closer != nil {
				if err := closer.Close(); err != nil {
					s.logf("session %s: %v", sess.ID(), err)
				}
			}
			s.sessions.Release(profile, sess)
			s.logf("session %s (%s) ended at tick %d", sess.ID(), profile, sess.CurrentTick())
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		out := make(chan []byte, 64)
		runDone := make(chan struct{})
		go func() {
			defer close(runDone)
			if err := sess.Run(ctx, out); err != nil && err != context.Canceled {
				s.logf("session %s: %v", sess.ID(), err)
				cancel()
			}
		}()

		// Writer goroutine. Once the context ends it flushes what the session
		// already queued and closes the socket, which unblocks the reader.
		go func() {
			for {
				select {
				case <-ctx.Done():
					for {
						select {
						case b := <-out:
							_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
							if conn.WriteMessage(websocket.TextMessage, b) != nil {
								_ = conn.Close()
								return
							}
						default:
							_ = conn.Close()
							return
						}
					}
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						_ = conn.Close()
						return
					}
				}
			}
		}()

		// Reader loop. The session applies messages in arrival order.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			select {
			case sess.Inbox() <- msg:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}

		cancel()
		<-runDone
	}
}

func (s *Server) handshake(conn *websocket.Conn) (*session.Session, string, io.Closer) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return nil, "", nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil, "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = writeJSON(conn, protocol.NewError(protocol.ErrProtoVersion, "unsupported protocol_version %q", hello.ProtocolVersion))
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return nil, "", nil
	}
	profile := strings.TrimSpace(hello.Profile)
	if profile == "" {
		profile = "default"
	}

	id := uuid.NewString()
	sess, closer, err := s.open(id, profile)
	if err != nil {
		s.logf("open session for %s: %v", profile, err)
		_ = writeJSON(conn, protocol.NewError(protocol.ErrInternal, "cannot open session"))
		return nil, "", nil
	}
	release := func() {
		if err := sess.Close(); err != nil {
			s.logf("session %s: close: %v", id, err)
		}
		if closer != nil {
			_ = closer.Close()
		}
	}
	if !s.sessions.Claim(profile, sess) {
		release()
		_ = writeJSON(conn, protocol.NewError(protocol.ErrSessionBusy, "profile %s is already connected", profile))
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "profile busy"), time.Now().Add(time.Second))
		return nil, "", nil
	}

	res, err := sess.Start()
	if err != nil {
		s.sessions.Release(profile, sess)
		release()
		s.logf("start session %s: %v", id, err)
		_ = writeJSON(conn, protocol.NewError(protocol.ErrInternal, "cannot load ground state"))
		return nil, "", nil
	}
	if err := writeJSON(conn, sess.Welcome(res.Restored)); err != nil {
		s.sessions.Release(profile, sess)
		release()
		return nil, "", nil
	}
	s.logf("session %s (%s) started, restored=%d discarded=%v", id, profile, res.Restored, res.Discarded)
	return sess, profile, closer
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
