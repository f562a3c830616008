package remotetest

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/go-go-golems/docchat/pkg/chatapi"
)

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.dials++
	reject := s.rejectWS
	s.mu.Unlock()
	if reject {
		http.Error(w, "realtime unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.clients[conn] = &sync.Mutex{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		s.mu.Lock()
		s.received = append(s.received, f)
		s.mu.Unlock()
		s.handleFrame(conn, f)
	}
}

func (s *Server) handleFrame(conn *websocket.Conn, f Frame) {
	var ref chatapi.ChatRef
	_ = json.Unmarshal(f.Data, &ref)

	switch f.Event {
	case "subscribe_to_chat":
		s.mu.Lock()
		s.subs[ref.ChatID]++
		s.mu.Unlock()
	case "unsubscribe_from_chat":
		s.mu.Lock()
		if s.subs[ref.ChatID] > 0 {
			s.subs[ref.ChatID]--
		}
		s.mu.Unlock()
	case "get_chat_messages":
		var req chatapi.ChatMessagesRequest
		_ = json.Unmarshal(f.Data, &req)
		if req.Limit <= 0 {
			req.Limit = 100
		}
		msgs := s.Messages(req.ChatID)
		s.sendTo(conn, "chat_messages", chatapi.ChatMessagesPayload{
			ChatID:   req.ChatID,
			Messages: window(msgs, req.Limit, req.Offset),
			Total:    len(msgs),
		})
	case "get_chat_stats":
		s.sendTo(conn, "chat_stats", s.stats())
	}
}

func (s *Server) sendTo(conn *websocket.Conn, event string, data any) {
	b, err := encode(event, data)
	if err != nil {
		return
	}
	s.mu.Lock()
	wmu, ok := s.clients[conn]
	s.mu.Unlock()
	if !ok {
		return
	}
	wmu.Lock()
	defer wmu.Unlock()
	_ = conn.WriteMessage(websocket.TextMessage, b)
}

func encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

// Push broadcasts an event to every connected client.
func (s *Server) Push(event string, data any) {
	for _, c := range s.conns() {
		s.sendTo(c, event, data)
	}
}

// PushRaw broadcasts a raw text frame, e.g. a malformed one.
func (s *Server) PushRaw(frame []byte) {
	for _, c := range s.conns() {
		s.mu.Lock()
		wmu, ok := s.clients[c]
		s.mu.Unlock()
		if !ok {
			continue
		}
		wmu.Lock()
		_ = c.WriteMessage(websocket.TextMessage, frame)
		wmu.Unlock()
	}
}

// CloseClients closes every client socket with code. Code 0 drops the TCP
// connection without a close frame.
func (s *Server) CloseClients(code int, reason string) {
	for _, c := range s.conns() {
		s.mu.Lock()
		wmu, ok := s.clients[c]
		s.mu.Unlock()
		if !ok {
			continue
		}
		if code != 0 {
			wmu.Lock()
			_ = c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
			wmu.Unlock()
		}
		_ = c.Close()
	}
}

// RejectUpgrades makes subsequent websocket handshakes fail with 503.
func (s *Server) RejectUpgrades(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectWS = reject
}

// Clients returns the number of open websocket connections.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Dials returns the number of websocket handshakes attempted.
func (s *Server) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// Received returns the frames clients sent, in arrival order.
func (s *Server) Received() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Frame(nil), s.received...)
}

// ReceivedEvents returns the names of Received frames filtered to events.
func (s *Server) ReceivedEvents(events ...string) []string {
	want := map[string]bool{}
	for _, e := range events {
		want[e] = true
	}
	var out []string
	for _, f := range s.Received() {
		if len(want) == 0 || want[f.Event] {
			out = append(out, f.Event)
		}
	}
	return out
}

func (s *Server) conns() []*websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*websocket.Conn, 0, len(s.clients))
	for c := range s.clients {
		out = append(out, c)
	}
	return out
}
