// Package remotetest runs an in-process stand-in for the document-chat
// service: the HTTP surface on a chi router plus the realtime websocket.
package remotetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/go-go-golems/docchat/pkg/chatapi"
)

const SocketPath = "/socket.io/?EIO=4&transport=websocket"

// Frame is one websocket frame as the server saw it.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Failure makes the next request on a route answer with Status and an
// {"error": Message} body. A zero Status hangs up without a response.
type Failure struct {
	Status  int
	Message string
}

type Server struct {
	*httptest.Server

	// AnswerFunc computes the answer to a question. Defaults to an echo.
	AnswerFunc func(question, chatID string) string
	// PushOnAsk broadcasts chat_created and message_added for each ask.
	PushOnAsk bool
	// Delay is applied to every HTTP request before it is served.
	Delay time.Duration

	upgrader websocket.Upgrader

	mu        sync.Mutex
	chats     map[string]*chatapi.Chat
	order     []string
	messages  map[string][]chatapi.Message
	documents []chatapi.Document
	seq       uint64
	nextChat  int
	failures  map[string][]Failure
	requests  map[string]int
	clients   map[*websocket.Conn]*sync.Mutex
	received  []Frame
	subs      map[string]int
	rejectWS  bool
	dials     int
}

func New() *Server {
	s := &Server{
		AnswerFunc: func(q, _ string) string { return "Answer: " + q },
		upgrader:   websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		chats:      map[string]*chatapi.Chat{},
		messages:   map[string][]chatapi.Message{},
		failures:   map[string][]Failure{},
		requests:   map[string]int{},
		clients:    map[*websocket.Conn]*sync.Mutex{},
		subs:       map[string]int{},
	}
	s.Server = httptest.NewServer(s.router())
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.intercept)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
	})
	r.Post("/answer", s.handleAnswer)
	r.Post("/chat/ask", s.handleChatAsk)
	r.Get("/chat/stats", s.handleStats)
	r.Get("/chats", s.handleListChats)
	r.Post("/chats", s.handleCreateChat)
	r.Get("/chats/{chatID}", s.handleGetChat)
	r.Delete("/chats/{chatID}", s.handleDeleteChat)
	r.Get("/chats/{chatID}/messages", s.handleMessages)
	r.Post("/upload", s.handleUpload)
	r.Get("/documents", s.handleDocuments)
	r.Delete("/documents/{filename}", s.handleDeleteDocument)
	r.Get("/socket.io/", s.handleSocket)
	return r
}

// Close drops every websocket client, then shuts the HTTP server down.
func (s *Server) Close() {
	s.CloseClients(0, "")
	s.Server.Close()
}

// WebSocketURL is the realtime endpoint of the server.
func (s *Server) WebSocketURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + SocketPath
}

// Fail queues a failure for the next request matching "METHOD /path".
func (s *Server) Fail(route string, f Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = append(s.failures[route], f)
}

// Requests returns how many requests hit "METHOD /path".
func (s *Server) Requests(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[route]
}

func (s *Server) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.Method + " " + r.URL.Path
		s.mu.Lock()
		s.requests[route]++
		var fail *Failure
		if q := s.failures[route]; len(q) > 0 {
			fail = &q[0]
			s.failures[route] = q[1:]
		}
		delay := s.Delay
		s.mu.Unlock()

		if delay > 0 && r.URL.Path != "/socket.io/" {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		if fail != nil {
			if fail.Status == 0 {
				hijackAndClose(w)
				return
			}
			writeJSON(w, fail.Status, map[string]string{"error": fail.Message})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func hijackAndClose(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	conn, _, err := hj.Hijack()
	if err == nil {
		_ = conn.Close()
	}
}

// SeedChat stores a chat with the given messages, assigning ids and seqs
// where they are missing.
func (s *Server) SeedChat(chat chatapi.Chat, msgs ...chatapi.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := chat
	if c.CreatedAt.IsZero() {
		c.CreatedAt = chatapi.Timestamp{Time: time.Now().UTC()}
	}
	s.putChatLocked(&c)
	for _, m := range msgs {
		m.ChatID = c.ID
		s.appendLocked(m)
	}
}

// Messages returns the stored transcript of chatID.
func (s *Server) Messages(chatID string) []chatapi.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chatapi.Message(nil), s.messages[chatID]...)
}

func (s *Server) SeedDocument(d chatapi.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents = append(s.documents, d)
}

func (s *Server) Documents() []chatapi.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chatapi.Document(nil), s.documents...)
}

func (s *Server) putChatLocked(c *chatapi.Chat) {
	if _, ok := s.chats[c.ID]; !ok {
		s.order = append(s.order, c.ID)
	}
	s.chats[c.ID] = c
}

func (s *Server) newChatLocked(title string) *chatapi.Chat {
	s.nextChat++
	now := chatapi.Timestamp{Time: time.Now().UTC()}
	c := &chatapi.Chat{
		ID:        fmt.Sprintf("c-%d", s.nextChat),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.putChatLocked(c)
	return c
}

func (s *Server) appendLocked(m chatapi.Message) chatapi.Message {
	s.seq++
	if m.Seq == 0 {
		m.Seq = s.seq
	}
	if m.ID == "" {
		m.ID = "m-" + strconv.FormatUint(s.seq, 10)
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = chatapi.Timestamp{Time: time.Now().UTC()}
	}
	s.messages[m.ChatID] = append(s.messages[m.ChatID], m)
	if c, ok := s.chats[m.ChatID]; ok {
		c.MessageCount = len(s.messages[m.ChatID])
		c.UpdatedAt = m.Timestamp
	}
	return m
}

type askBody struct {
	Question string `json:"question"`
	ChatID   string `json:"chat_id"`
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var body askBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Question == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No question provided"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"question": body.Question, "answer": s.AnswerFunc(body.Question, "")})
}

func (s *Server) handleChatAsk(w http.ResponseWriter, r *http.Request) {
	var body askBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Question == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No question provided"})
		return
	}
	answer := s.AnswerFunc(body.Question, body.ChatID)

	s.mu.Lock()
	var created *chatapi.Chat
	chatID := body.ChatID
	if chatID == "" {
		title := body.Question
		if len(title) > 50 {
			title = title[:50]
		}
		created = s.newChatLocked(title)
		chatID = created.ID
	} else if _, ok := s.chats[chatID]; !ok {
		s.mu.Unlock()
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Chat not found"})
		return
	}
	user := s.appendLocked(chatapi.Message{ChatID: chatID, Role: chatapi.RoleUser, Content: body.Question})
	bot := s.appendLocked(chatapi.Message{ChatID: chatID, Role: chatapi.RoleAssistant, Content: answer})
	push := s.PushOnAsk
	var createdCopy chatapi.Chat
	if created != nil {
		createdCopy = *created
	}
	s.mu.Unlock()

	if push {
		if created != nil {
			s.Push("chat_created", createdCopy)
		}
		s.Push("message_added", user)
		s.Push("message_added", bot)
	}
	writeJSON(w, http.StatusOK, map[string]string{"answer": answer, "chat_id": chatID, "question": body.Question})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.stats())
}

func (s *Server) stats() chatapi.ChatStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, m := range s.messages {
		total += len(m)
	}
	st := chatapi.ChatStats{TotalChats: len(s.chats), TotalMessages: total}
	if st.TotalChats > 0 {
		st.AverageMessagesPerChat = float64(total) / float64(st.TotalChats)
	}
	return st
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	limit, offset := page(r, 50)
	s.mu.Lock()
	all := make([]chatapi.Chat, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		if c, ok := s.chats[s.order[i]]; ok {
			all = append(all, *c)
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"chats": window(all, limit, offset), "total": len(all)})
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title    string         `json:"title"`
		Metadata map[string]any `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	s.mu.Lock()
	c := s.newChatLocked(body.Title)
	c.Metadata = body.Metadata
	out := *c
	s.mu.Unlock()
	s.Push("chat_created", out)
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "chatID")
	s.mu.Lock()
	c, ok := s.chats[id]
	var out chatapi.Chat
	if ok {
		out = *c
	}
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Chat not found"})
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "chatID")
	s.mu.Lock()
	_, ok := s.chats[id]
	if ok {
		delete(s.chats, id)
		delete(s.messages, id)
		for i, o := range s.order {
			if o == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Chat not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Chat deleted"})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "chatID")
	limit, offset := page(r, 100)
	s.mu.Lock()
	_, ok := s.chats[id]
	msgs := append([]chatapi.Message(nil), s.messages[id]...)
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Chat not found"})
		return
	}
	writeJSON(w, http.StatusOK, chatapi.ChatMessagesPayload{ChatID: id, Messages: window(msgs, limit, offset), Total: len(msgs)})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No file provided"})
		return
	}
	_ = f.Close()
	s.mu.Lock()
	s.documents = append(s.documents, chatapi.Document{
		Filename:   hdr.Filename,
		Size:       hdr.Size,
		UploadedAt: chatapi.Timestamp{Time: time.Now().UTC()},
	})
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "File uploaded successfully", "filename": hdr.Filename})
}

func (s *Server) handleDocuments(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"documents": s.Documents()})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	s.mu.Lock()
	found := false
	for i, d := range s.documents {
		if d.Filename == name {
			s.documents = append(s.documents[:i], s.documents[i+1:]...)
			found = true
			break
		}
	}
	s.mu.Unlock()
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Document not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Document deleted"})
}

func page(r *http.Request, defLimit int) (int, int) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = defLimit
	}
	offset, err := strconv.Atoi(r.URL.Query().Get("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}

func window[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := min(offset+limit, len(items))
	return items[offset:end]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Subscriptions returns the chat ids the connected clients currently hold.
func (s *Server) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.subs))
	for id, n := range s.subs {
		if n > 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
