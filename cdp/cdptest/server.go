// Package cdptest runs a fake browser control endpoint for tests: the HTTP
// tab list and per-tab CDP websockets serving the Browser window commands.
package cdptest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	cdpb "github.com/chromedp/cdproto/browser"
	"github.com/gorilla/websocket"
)

// Tab is a target as listed by /json/list.
type Tab struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	URL                  string `json:"url"`
	Title                string `json:"title"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl,omitempty"`
}

// Call is a CDP command received by the server.
type Call struct {
	TabID  string
	Method string
	Params json.RawMessage
}

// Server is a fake browser. Every tab gets its own window.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	tabs     []Tab
	windows  map[string]*cdpb.Bounds
	calls    []Call
	opened   []string
	nextID   int
	conns    map[*websocket.Conn]struct{}
	listErr  int
	openErr  int
	noWindow bool
	fail     map[string]string
	delay    map[string]time.Duration
	drop     map[string]bool
	events   int
	stale    bool
}

// NewServer starts a Server and closes it when the test ends.
func NewServer(tb testing.TB) *Server {
	tb.Helper()

	s := &Server{
		windows: make(map[string]*cdpb.Bounds),
		conns:   make(map[*websocket.Conn]struct{}),
		fail:    make(map[string]string),
		delay:   make(map[string]time.Duration),
		drop:    make(map[string]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", s.handleVersion)
	mux.HandleFunc("/json/list", s.handleList)
	mux.HandleFunc("/json/new", s.handleNew)
	mux.HandleFunc("/devtools/page/", s.handlePage)
	s.Server = httptest.NewServer(mux)
	tb.Cleanup(s.Close)

	return s
}

// Close disconnects every websocket and shuts the server down.
func (s *Server) Close() {
	s.CloseConns()
	s.Server.Close()
}

// CloseConns drops every open websocket, as a crashing tab would.
func (s *Server) CloseConns() {
	s.mu.Lock()
	conns := s.conns
	s.conns = make(map[*websocket.Conn]struct{})
	s.mu.Unlock()

	for c := range conns {
		_ = c.Close()
	}
}

// AddTab adds a tab of type typ whose window is in state.
func (s *Server) AddTab(typ, u string, state cdpb.WindowState) Tab {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.addTabLocked(typ, u, state)
}

func (s *Server) addTabLocked(typ, u string, state cdpb.WindowState) Tab {
	s.nextID++
	id := fmt.Sprintf("TAB%04d", s.nextID)
	t := Tab{
		ID:                   id,
		Type:                 typ,
		URL:                  u,
		Title:                u,
		WebSocketDebuggerURL: s.WebSocketURL(id),
	}
	s.tabs = append(s.tabs, t)
	s.windows[id] = &cdpb.Bounds{Width: 800, Height: 600, WindowState: state}

	return t
}

// WebSocketURL returns the CDP websocket address of the tab with id.
func (s *Server) WebSocketURL(id string) string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/devtools/page/" + id
}

// WindowState returns the current window state of the tab with id.
func (s *Server) WindowState(id string) cdpb.WindowState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.windows[id]; ok {
		return b.WindowState
	}
	return ""
}

// SetWindowState changes the window state of the tab with id, as a user
// minimizing the window would.
func (s *Server) SetWindowState(id string, state cdpb.WindowState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.windows[id]; ok {
		b.WindowState = state
	}
}

// Calls returns the CDP commands received so far.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Call(nil), s.calls...)
}

// Methods returns the methods of the CDP commands received so far.
func (s *Server) Methods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := make([]string, 0, len(s.calls))
	for _, c := range s.calls {
		m = append(m, c.Method)
	}
	return m
}

// Opened returns the URLs passed to /json/new so far.
func (s *Server) Opened() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.opened...)
}

// FailList makes /json/list answer with status until reset with 0.
func (s *Server) FailList(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listErr = status
}

// FailOpen makes /json/new answer with status until reset with 0.
func (s *Server) FailOpen(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openErr = status
}

// NoWindow makes getWindowForTarget answer without a window id.
func (s *Server) NoWindow(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noWindow = v
}

// FailMethod makes method answer with a CDP error carrying message.
func (s *Server) FailMethod(method, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[method] = message
}

// DelayMethod holds the reply to method back for d.
func (s *Server) DelayMethod(method string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay[method] = d
}

// DropOn closes the websocket instead of replying to method.
func (s *Server) DropOn(method string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drop[method] = true
}

// EventsBeforeReply sends n events ahead of every reply.
func (s *Server) EventsBeforeReply(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = n
}

// StaleReplyFirst sends a reply with an unknown id ahead of every reply.
func (s *Server) StaleReplyFirst(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stale = v
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"Browser":              "HeadlessChrome/120.0.0.0",
		"Protocol-Version":     "1.3",
		"User-Agent":           "Mozilla/5.0 HeadlessChrome/120.0.0.0",
		"V8-Version":           "12.0.267.8",
		"WebKit-Version":       "537.36",
		"webSocketDebuggerUrl": "ws" + strings.TrimPrefix(s.URL, "http") + "/devtools/browser/fake",
	})
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	status := s.listErr
	tabs := append([]Tab{}, s.tabs...)
	s.mu.Unlock()

	if status != 0 {
		http.Error(w, "list failed", status)
		return
	}
	writeJSON(w, http.StatusOK, tabs)
}

func (s *Server) handleNew(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Using unsafe HTTP verb GET to invoke /json/new. This action supports only PUT verb.", http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := url.QueryUnescape(r.URL.RawQuery)
	if err != nil {
		u = r.URL.RawQuery
	}
	s.opened = append(s.opened, u)
	if s.openErr != 0 {
		http.Error(w, "open failed", s.openErr)
		return
	}
	writeJSON(w, http.StatusOK, s.addTabLocked("page", u, cdpb.WindowStateNormal))
}

var upgrader = websocket.Upgrader{ //nolint:gochecknoglobals
	CheckOrigin: func(*http.Request) bool { return true },
}

type message struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result any             `json:"result,omitempty"`
	Error  *messageError   `json:"error,omitempty"`
}

type messageError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/devtools/page/")

	s.mu.Lock()
	_, ok := s.windows[id]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		_ = c.Close()
	}()

	for {
		var req message
		if err := c.ReadJSON(&req); err != nil {
			return
		}
		if !s.serve(c, id, req) {
			return
		}
	}
}

// serve answers one command and reports whether the connection stays open.
func (s *Server) serve(c *websocket.Conn, tabID string, req message) bool {
	s.mu.Lock()
	s.calls = append(s.calls, Call{TabID: tabID, Method: req.Method, Params: req.Params})
	drop := s.drop[req.Method]
	delay := s.delay[req.Method]
	events, stale := s.events, s.stale
	s.mu.Unlock()

	if drop {
		return false
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	for i := 0; i < events; i++ {
		ev := message{Method: "Page.frameNavigated", Params: json.RawMessage(`{"frame":{"id":"main"}}`)}
		if err := c.WriteJSON(ev); err != nil {
			return false
		}
	}
	if stale {
		if err := c.WriteJSON(message{ID: req.ID + 1000, Result: struct{}{}}); err != nil {
			return false
		}
	}

	return c.WriteJSON(s.reply(tabID, req)) == nil
}

func (s *Server) reply(tabID string, req message) message {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp := message{ID: req.ID}
	if msg, ok := s.fail[req.Method]; ok {
		resp.Error = &messageError{Code: -32000, Message: msg}
		return resp
	}

	bounds := s.windows[tabID]
	switch req.Method {
	case cdpb.CommandGetWindowForTarget:
		if s.noWindow {
			resp.Result = struct{}{}
			return resp
		}
		resp.Result = map[string]any{"windowId": windowID(tabID), "bounds": bounds}
	case cdpb.CommandGetWindowBounds:
		resp.Result = map[string]any{"bounds": bounds}
	case cdpb.CommandSetWindowBounds:
		var p struct {
			Bounds cdpb.Bounds `json:"bounds"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			resp.Error = &messageError{Code: -32602, Message: err.Error()}
			return resp
		}
		if p.Bounds.WindowState != "" {
			bounds.WindowState = p.Bounds.WindowState
		}
		if p.Bounds.Width > 0 {
			bounds.Width = p.Bounds.Width
		}
		if p.Bounds.Height > 0 {
			bounds.Height = p.Bounds.Height
		}
		resp.Result = struct{}{}
	default:
		resp.Error = &messageError{Code: -32601, Message: fmt.Sprintf("'%s' wasn't found", req.Method)}
	}

	return resp
}

func windowID(tabID string) int64 {
	var n int64
	_, _ = fmt.Sscanf(tabID, "TAB%d", &n)
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
