package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"msggrabber/internal/authorize"
	"msggrabber/internal/config"
	"msggrabber/internal/ipmatch"
	"msggrabber/internal/jobs/maintenance"
)

const shutdownTimeout = 10 * time.Second

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Options tune request handling.
type Options struct {
	// TrustedProxies lists the peers whose X-Forwarded-For header is
	// believed. Nil ignores the header.
	TrustedProxies *ipmatch.Range
}

// Server serves the endpoints named in the configuration.
type Server struct {
	cfg        *config.Config
	authorizer *authorize.Authorizer
	purger     *maintenance.Purger
	opts       Options
}

func New(cfg *config.Config, generators authorize.Registry, purger *maintenance.Purger, opts Options) *Server {
	return &Server{
		cfg:        cfg,
		authorizer: authorize.New(generators),
		purger:     purger,
		opts:       opts,
	}
}

// Routes builds the mux. Each configured handler is served with and without
// a trailing slash.
func (s *Server) Routes() http.Handler {
	router := http.NewServeMux()
	router.HandleFunc("GET /version", getVersion)

	for _, name := range s.cfg.HandlerNames() {
		ep := s.cfg.Handlers[name]

		var h http.HandlerFunc
		switch {
		case name == "out" || name == "dump":
			h = s.queryHandler(ep)
		case name == "purge":
			h = s.purgeHandler(ep)
		case ep.IsIngest():
			h = s.ingestHandler(ep)
		default:
			log.Warn("No route for configured handler", "handler", name)
			continue
		}

		router.HandleFunc("/"+name, h)
		router.HandleFunc("/"+name+"/{$}", h)
		log.Debug("Route opened", "path", "/"+name)
	}

	return router
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Starting msggrabber on port :%d", port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	log.Info("Server stopped")
	return nil
}

// authorize runs the request pipeline. Source address and method are checked
// before the query and body are read. It writes the error response itself
// and returns ok=false on rejection. A soft failure gives ok=true with nil
// params.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, ep *config.Endpoint) (authorize.Params, bool) {
	ip := s.clientIP(r)
	if err := s.authorizer.Admit(ip, r.Method, ep); err != nil {
		s.reject(w, r, ip, err)
		return nil, false
	}

	if err := r.ParseForm(); err != nil {
		log.Error("Unreadable request parameters", "path", r.URL.Path, "ip", ip, "error", err)
		writeError(w, "Bad request parameters", http.StatusBadRequest)
		return nil, false
	}

	params, err := s.authorizer.Collect(r.Form, ep)
	if err == nil {
		return params, true
	}

	var soft *authorize.SoftFailure
	if errors.As(err, &soft) {
		log.Warn(soft.Reason, "path", r.URL.Path, "field", soft.Field, "ip", ip)
		return nil, true
	}
	s.reject(w, r, ip, err)
	return nil, false
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request, ip string, err error) {
	rej, ok := authorize.AsRejection(err)
	if !ok {
		log.Error("Request pipeline failed", "path", r.URL.Path, "error", err)
		writeError(w, "Internal error", http.StatusInternalServerError)
		return
	}
	logRejection(r, ip, rej)
	writeError(w, rej.Reason, rej.Kind.Status())
}

func logRejection(r *http.Request, ip string, rej *authorize.Rejection) {
	kv := []any{"path", r.URL.Path, "ip", ip}
	if rej.Field != "" {
		kv = append(kv, "field", rej.Field)
	}
	if rej.Err != nil {
		kv = append(kv, "error", rej.Err)
	}
	switch rej.Kind {
	case authorize.MethodNotAllowed:
		log.Info("Invalid method", append(kv, "method", strings.ToUpper(r.Method))...)
	case authorize.ConfigurationFault:
		log.Error(rej.Reason, append(kv, "severity", "critical")...)
	default:
		log.Error(rej.Reason, kv...)
	}
}
