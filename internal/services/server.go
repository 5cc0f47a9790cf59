package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/Riboost-Studio/perfect-menu-print-relay/internal/model"
)

// --- HTTP Delivery Triggers ---

const (
	PullPath = "/api/print-order/escpos.txt"
	PushPath = "/print"

	defaultMaxBody = 1 << 20
)

// Submitter accepts orders for background printing.
type Submitter interface {
	Submit(order model.Order) (string, error)
}

type ServerOptions struct {
	// PullOrder supplies the order served to polling printers.
	PullOrder    func() model.Order
	MaxBodyBytes int64
	// Strict rejects push orders without items.
	Strict bool
}

type Server struct {
	renderer Renderer
	submit   Submitter
	logger   *slog.Logger
	opts     ServerOptions
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	JobID   string `json:"job_id,omitempty"`
}

func NewServer(r Renderer, s Submitter, opts ServerOptions, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PullOrder == nil {
		opts.PullOrder = model.DebugOrder
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBody
	}
	return &Server{renderer: r, submit: s, logger: logger, opts: opts}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(PullPath, s.handlePull)
	mux.HandleFunc(PushPath, s.handlePush)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug("unknown route", "method", r.Method, "path", r.URL.Path, "remote", clientIP(r))
		w.WriteHeader(http.StatusNotFound)
	})
	return mux
}

// Run listens on addr and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully. ln is closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("print server started", "addr", ln.Addr().String(), "pull", PullPath, "push", PushPath)

	select {
	case <-ctx.Done():
		ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx2)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// handlePull answers a printer polling for content with a freshly rendered
// receipt.
func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	log := s.logger.With("method", r.Method, "remote", clientIP(r))
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
		if err != nil {
			log.Warn("reading printer request body", "error", err)
		}
		log.Debug("printer request", "headers", r.Header, "body", string(body))
	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	content := s.renderer.Render(s.opts.PullOrder())
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Content-Length", fmt.Sprint(len(content)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(content); err != nil {
		log.Warn("writing receipt to printer", "error", err)
		return
	}
	log.Info("receipt served to printer", "bytes", len(content))
}

// handlePush accepts an order and prints it in the background.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		setCORS(w)
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
	default:
		w.Header().Set("Allow", "POST, OPTIONS")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		s.writeStatus(w, http.StatusInternalServerError, "error", fmt.Sprintf("reading body: %v", err), "")
		return
	}
	var order model.Order
	if err := json.Unmarshal(body, &order); err != nil {
		s.logger.Warn("rejected order payload", "remote", clientIP(r), "error", err)
		s.writeStatus(w, http.StatusInternalServerError, "error", err.Error(), "")
		return
	}
	s.logger.Info("order received", "order_id", order.ID, "items", len(order.Items), "remote", clientIP(r))

	if s.opts.Strict && len(order.Items) == 0 {
		s.writeStatus(w, http.StatusBadRequest, "error", "order has no items", "")
		return
	}

	jobID, err := s.submit.Submit(order)
	if err != nil {
		s.writeStatus(w, http.StatusServiceUnavailable, "error", err.Error(), "")
		return
	}
	s.writeStatus(w, http.StatusOK, "success", "Impression lancée", jobID)
}

func (s *Server) writeStatus(w http.ResponseWriter, code int, status, message, jobID string) {
	setCORS(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(statusResponse{Status: status, Message: message, JobID: jobID}); err != nil {
		s.logger.Warn("writing response", "error", err)
	}
}

func setCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
