package commands

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chadiek/hospital-callbot/internal/httpserver"
	"github.com/chadiek/hospital-callbot/internal/middleware"
	"github.com/chadiek/hospital-callbot/internal/usecase"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the Twilio webhooks and media stream",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.cfg.ValidateForCalls(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		srv := a.startServer(ctx, a.calls())
		select {
		case err := <-srv.errs:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
			a.log.Info("shutdown signal received")
		}
		return srv.shutdown()
	},
}

type server struct {
	a      *app
	calls  *usecase.Calls
	http   *http.Server
	errs   chan error
	cancel context.CancelFunc
}

// startServer serves the webhooks in the background. Live calls run on a
// context that shutdown cancels.
func (a *app) startServer(ctx context.Context, calls *usecase.Calls) *server {
	e := httpserver.New(a.log)
	authToken := a.cfg.Twilio.AuthToken
	e.Use(middleware.TwilioAuth(func() string { return authToken }, a.cfg.BaseURL))
	httpserver.Handlers{Calls: calls, Index: a.registry, BaseURL: a.cfg.BaseURL, Logger: a.log}.Register(e)

	base, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &server{
		a:     a,
		calls: calls,
		http: &http.Server{
			Addr:              a.cfg.HTTPAddress,
			Handler:           e,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return base },
		},
		errs:   make(chan error, 1),
		cancel: cancel,
	}
	go func() {
		a.log.Info("server listening", "addr", a.cfg.HTTPAddress, "base_url", a.cfg.BaseURL)
		s.errs <- s.http.ListenAndServe()
	}()
	return s
}

// shutdown stops accepting requests, aborts live calls and waits for them
// to finalize.
func (s *server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		s.a.log.Warn("graceful shutdown failed", "err", err)
		_ = s.http.Close()
	}
	// Hijacked media sockets are not tracked by Shutdown.
	s.cancel()
	if err := s.calls.Drain(ctx); err != nil {
		s.a.log.Error("calls still finalizing at exit", "err", err)
		return err
	}
	return nil
}
