package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dyluth/forumtap/internal/aggregator"
	"github.com/dyluth/forumtap/internal/attachments"
	"github.com/dyluth/forumtap/internal/eventlog"
)

const (
	// HeaderTarget carries the intercepted request's URL.
	HeaderTarget = "X-Forum-Target"
	// HeaderMethod carries the intercepted request's method; POST when absent.
	HeaderMethod = "X-Forum-Method"
	// HeaderBuffered asks the server to read the whole body before decoding,
	// which lets a malformed submission be cancelled.
	HeaderBuffered = "X-Forum-Buffered"

	maxAttachmentBytes = 64 << 20
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server exposes an Interceptor over HTTP for hosts that run out of process.
type Server struct {
	interceptor *Interceptor
	pinger      Pinger
	log         *eventlog.Logger

	addr     string
	server   *http.Server
	listener net.Listener
}

// NewServer creates a server listening on addr. pinger may be nil, in which
// case /healthz only reports that the process is up.
func NewServer(addr string, interceptor *Interceptor, pinger Pinger, logger *eventlog.Logger) *Server {
	return &Server{
		interceptor: interceptor,
		pinger:      pinger,
		log:         logger,
		addr:        addr,
	}
}

// Handler returns the routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /intercept", s.handleIntercept)
	mux.HandleFunc("POST /committed", s.handleCommitted)
	mux.HandleFunc("POST /attachments/{slot}", s.handleAttachment)
	mux.HandleFunc("/healthz", s.healthCheckHandler)
	return mux
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Printf("Host server error: %v", err)
		}
	}()

	s.log.Printf("Listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// InterceptResponse is the JSON answer to POST /intercept.
type InterceptResponse struct {
	Decision string `json:"decision"`
}

// CommittedRequest is the JSON body of POST /committed.
type CommittedRequest struct {
	URL string `json:"url"`
}

// ErrorResponse is returned for rejected calls.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the JSON response structure for health checks.
type HealthResponse struct {
	Status string `json:"status"`
	Redis  string `json:"redis,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleIntercept(w http.ResponseWriter, r *http.Request) {
	target := r.Header.Get(HeaderTarget)
	if target == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: HeaderTarget + " header is required"})
		return
	}
	method := r.Header.Get(HeaderMethod)
	if method == "" {
		method = http.MethodPost
	}

	req := InterceptedRequest{
		URL:    target,
		Method: method,
		Header: http.Header{"Content-Type": r.Header.Values("Content-Type")},
	}

	// The body must be consumed before the response is written, so a streamed
	// body is only released once the decoder closes it.
	var released chan struct{}
	if buffered, _ := strconv.ParseBool(r.Header.Get(HeaderBuffered)); buffered {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("read body: %v", err)})
			return
		}
		req.Body = body
	} else {
		released = make(chan struct{})
		req.BodyStream = &notifyCloser{ReadCloser: r.Body, closed: released}
	}

	decision := s.interceptor.OnInterceptedRequest(r.Context(), req)

	if released != nil {
		select {
		case <-released:
		case <-r.Context().Done():
			return
		}
	}

	writeJSON(w, http.StatusOK, InterceptResponse{Decision: decision.String()})
}

func (s *Server) handleCommitted(w http.ResponseWriter, r *http.Request) {
	var req CommittedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid body: %v", err)})
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "url is required"})
		return
	}

	if err := s.interceptor.OnPageCommitted(r.Context(), req.URL); err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAttachment(w http.ResponseWriter, r *http.Request) {
	slot, err := strconv.Atoi(r.PathValue("slot"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid slot %q", r.PathValue("slot"))})
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxAttachmentBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: fmt.Sprintf("read body: %v", err)})
		return
	}

	if err := s.interceptor.OnAttachmentBytesReady(r.Context(), slot, data); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, attachments.ErrInvalidSlot):
			status = http.StatusBadRequest
		case errors.Is(err, aggregator.ErrNoPending), errors.Is(err, attachments.ErrFull):
			status = http.StatusConflict
		}
		writeJSON(w, status, ErrorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// healthCheckHandler returns 200 when the store answers a ping, 503 otherwise.
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.pinger == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.pinger.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status: "unhealthy",
			Redis:  "disconnected",
			Error:  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Redis: "connected"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// notifyCloser closes its channel the first time Close is called.
type notifyCloser struct {
	io.ReadCloser
	once   sync.Once
	closed chan struct{}
}

func (n *notifyCloser) Close() error {
	err := n.ReadCloser.Close()
	n.once.Do(func() { close(n.closed) })
	return err
}
