package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/flitsinc/agentlab/internal/api"
	"github.com/flitsinc/agentlab/internal/eventbus"
	"github.com/flitsinc/agentlab/internal/session"
	"github.com/flitsinc/agentlab/internal/state"
	"github.com/flitsinc/agentlab/internal/tracing"
	"github.com/flitsinc/agentlab/internal/web"
)

func newServeCmd(a *app) *cobra.Command {
	var addr, wsURL string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect to the backend event stream and serve the dashboard",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.HTTPAddr = addr
			}
			if wsURL != "" {
				a.cfg.WSURL = wsURL
				if err := a.cfg.Validate(); err != nil {
					return err
				}
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "address to listen on (overrides http_addr)")
	cmd.Flags().StringVar(&wsURL, "ws-url", "", "backend event stream url (overrides ws_url)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	logger := a.logger

	tp, err := tracing.NewProvider(cfg.Trace)
	if err != nil {
		return fmt.Errorf("start tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown", "err", err)
		}
	}()

	var (
		db      *sql.DB
		journal *state.Journal
	)
	if cfg.JournalEnabled {
		db, err = state.Open(cfg.JournalPath)
		if err != nil {
			return err
		}
		defer db.Close()
		journal = state.NewJournal(db)
	}

	bus := eventbus.NewBus()
	sess, err := session.New(session.Options{
		WSURL:          cfg.WSURL,
		ReconnectDelay: cfg.ReconnectDelay,
		Bus:            bus,
		Journal:        journal,
		Tracer:         tp.Tracer(),
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	if err := sess.Start(ctx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.Stop()

	apiServer := &api.Server{
		Session:   sess,
		Bus:       bus,
		Journal:   journal,
		StartedAt: time.Now().UTC(),
		Info: api.DiagnosticsInfo{
			HTTPAddr: cfg.HTTPAddr,
			WSURL:    cfg.WSURL,
			DataDir:  cfg.DataDir,
			WebDir:   cfg.WebDir,
		},
	}
	if journal != nil {
		apiServer.Info.JournalPath = cfg.JournalPath
	}
	webServer := &web.Server{Dir: cfg.WebDir}

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer.Handler())
	mux.Handle("/", webServer.Handler())

	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.HTTPAddr, err)
	}
	httpServer := &http.Server{
		Handler:           loggingMiddleware(logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("labd listening", "addr", listener.Addr().String(), "ws_url", cfg.WSURL, "session_id", sess.ID())
		serveErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", "err", err)
	}
	_ = httpServer.Close()
	logger.Info("labd stopped")
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack keeps the websocket upgrade working behind the middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}
