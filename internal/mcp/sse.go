package mcp

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	heartbeatInterval = 25 * time.Second
	sessionBuffer     = 16
)

// session is one live SSE connection. The outbound channel carries
// serialized JSON-RPC payloads for the event stream.
type session struct {
	id       string
	outbound chan []byte
	done     chan struct{}
	once     sync.Once
}

func newSession() *session {
	return &session{
		id:       uuid.NewString(),
		outbound: make(chan []byte, sessionBuffer),
		done:     make(chan struct{}),
	}
}

func (s *session) close() {
	s.once.Do(func() { close(s.done) })
}

// send enqueues a payload unless the session is closed or backed up.
func (s *session) send(payload []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case <-s.done:
		return false
	case s.outbound <- payload:
		return true
	default:
		return false
	}
}

type sessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: make(map[string]*session)}
}

func (r *sessionRegistry) add(s *session) {
	r.mu.Lock()
	r.sessions[s.id] = s
	r.mu.Unlock()
}

func (r *sessionRegistry) remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

func (r *sessionRegistry) get(id string) (*session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *sessionRegistry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// HandleSSE serves one SSE stream: it mints a session, announces the sidecar
// message endpoint, and keeps the stream alive with debug-level heartbeats
// until the client disconnects.
func (s *Server) HandleSSE(w http.ResponseWriter, r *http.Request, messagesPath string) {
	flusher, okFlush := w.(http.Flusher)
	if !okFlush {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sess := newSession()
	s.sessions.add(sess)
	s.logger.Printf("%s: sse session %s opened", s.name, sess.id)
	defer func() {
		sess.close()
		s.sessions.remove(sess.id)
		s.logger.Printf("%s: sse session %s closed", s.name, sess.id)
	}()

	fmt.Fprintf(w, "event: endpoint\ndata: %s?sessionId=%s\n\n", messagesPath, sess.id)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case payload := <-sess.outbound:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", payload)
			flusher.Flush()
		case <-heartbeat.C:
			payload, err := json.Marshal(map[string]any{
				"jsonrpc": "2.0",
				"method":  "notifications/message",
				"params": map[string]any{
					"level":  "debug",
					"logger": s.name,
					"data":   "heartbeat " + time.Now().UTC().Format(time.RFC3339),
				},
			})
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

// HandleMessage receives one client-to-server JSON-RPC message for a named
// session and delivers the response on that session's stream.
func (s *Server) HandleMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "missing sessionId", http.StatusBadRequest)
		return
	}
	sess, found := s.sessions.get(sessionID)
	if !found {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		resp := fail(nil, codeParseError, "parse error: %v", err)
		if payload, merr := json.Marshal(resp); merr == nil {
			sess.send(payload)
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	resp := s.Handle(r.Context(), req)
	if resp != nil {
		payload, merr := json.Marshal(resp)
		if merr == nil && !sess.send(payload) {
			s.logger.Printf("%s: session %s dropped a response", s.name, sessionID)
		}
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandleJSON serves the single-exchange JSON endpoint.
func (s *Server) HandleJSON(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, fail(nil, codeParseError, "parse error: %v", err))
		return
	}
	resp := s.Handle(r.Context(), req)
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, resp *Response) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
