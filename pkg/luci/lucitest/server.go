// Package lucitest provides an in-memory LuCI JSON-RPC server for tests.
package lucitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

const (
	Username = "root"
	Password = "secret"
)

// Call is one UCI method invocation received by the server.
type Call struct {
	Method string
	Params []string
}

func (c Call) String() string {
	return strings.TrimSpace(c.Method + " " + strings.Join(c.Params, " "))
}

type Server struct {
	*httptest.Server

	mu       sync.Mutex
	config   map[string]map[string]map[string]string // config -> section -> option -> value
	order    map[string][]string                     // config -> sections in creation order
	tokens   map[string]bool
	calls    []Call
	logins   int
	expire   int
	failures map[string]int // method -> HTTP status
}

func NewServer() *Server {
	s := &Server{
		config:   make(map[string]map[string]map[string]string),
		order:    make(map[string][]string),
		tokens:   make(map[string]bool),
		failures: make(map[string]int),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/cgi-bin/luci/rpc/auth", s.handleAuth)
	mux.HandleFunc("/cgi-bin/luci/rpc/uci", s.handleUci)
	s.Server = httptest.NewServer(mux)
	return s
}

// Host returns the host:port to give to the client.
func (s *Server) Host() string {
	return strings.TrimPrefix(s.URL, "http://")
}

// AddSection creates a section of the given type with its options.
func (s *Server) AddSection(config, section, typ string, options map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config[config] == nil {
		s.config[config] = make(map[string]map[string]string)
	}
	opts := map[string]string{".type": typ}
	for k, v := range options {
		opts[k] = v
	}
	if _, exists := s.config[config][section]; !exists {
		s.order[config] = append(s.order[config], section)
	}
	s.config[config][section] = opts
}

func (s *Server) SetOption(config, section, option, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(config, section, option, value)
}

func (s *Server) setLocked(config, section, option, value string) {
	if s.config[config] == nil {
		s.config[config] = make(map[string]map[string]string)
	}
	if s.config[config][section] == nil {
		s.config[config][section] = map[string]string{".type": section}
		s.order[config] = append(s.order[config], section)
	}
	s.config[config][section][option] = value
}

func (s *Server) Option(config, section, option string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.config[config][section][option]
	return v, ok
}

// ExpireTokens makes the next n UCI calls fail with 403 Forbidden.
func (s *Server) ExpireTokens(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expire = n
}

// FailMethod makes every call to method fail with the given HTTP status.
func (s *Server) FailMethod(method string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = status
}

func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *Server) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

func (s *Server) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

type rpcRequest struct {
	Id     uint64 `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

func reply(w http.ResponseWriter, id uint64, result any, rpcErr any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"id": id, "result": result, "error": rpcErr})
}

func decode(r *http.Request) (rpcRequest, []string, error) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, nil, err
	}
	params := make([]string, len(req.Params))
	for i, p := range req.Params {
		params[i] = fmt.Sprint(p)
	}
	return req, params, nil
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	req, params, err := decode(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logins++
	if req.Method != "login" || len(params) != 2 || params[0] != Username || params[1] != Password {
		reply(w, req.Id, nil, nil)
		return
	}
	token := fmt.Sprintf("token-%d", s.logins)
	s.tokens[token] = true
	reply(w, req.Id, token, nil)
}

func (s *Server) handleUci(w http.ResponseWriter, r *http.Request) {
	req, params, err := decode(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: req.Method, Params: params})

	if s.expire > 0 {
		s.expire--
		delete(s.tokens, r.URL.Query().Get("auth"))
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if !s.tokens[r.URL.Query().Get("auth")] {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if status, ok := s.failures[req.Method]; ok {
		http.Error(w, "failure", status)
		return
	}

	switch req.Method {
	case "get":
		if len(params) != 3 {
			reply(w, req.Id, nil, nil)
			return
		}
		if v, ok := s.config[params[0]][params[1]][params[2]]; ok {
			reply(w, req.Id, v, nil)
			return
		}
		reply(w, req.Id, nil, nil)
	case "set":
		if len(params) != 4 {
			reply(w, req.Id, false, nil)
			return
		}
		s.setLocked(params[0], params[1], params[2], params[3])
		reply(w, req.Id, true, nil)
	case "commit", "apply":
		reply(w, req.Id, true, nil)
	case "get_all":
		if len(params) != 1 {
			reply(w, req.Id, nil, nil)
			return
		}
		sections := make(map[string]map[string]string)
		for _, name := range s.order[params[0]] {
			opts := map[string]string{".name": name}
			for k, v := range s.config[params[0]][name] {
				opts[k] = v
			}
			sections[name] = opts
		}
		reply(w, req.Id, sections, nil)
	default:
		reply(w, req.Id, nil, "Method not found")
	}
}
