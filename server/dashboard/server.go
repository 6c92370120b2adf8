// Package dashboard serves the stored animal counts over HTTP, as JSON and as charts.
package dashboard

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cyclopcam/herdcount/pkg/storage"
	"github.com/cyclopcam/herdcount/server/config"
	"github.com/cyclopcam/herdcount/server/metrics"
	"github.com/cyclopcam/herdcount/server/tsdb"
	"github.com/cyclopcam/logs"
	"github.com/julienschmidt/httprouter"
)

type Server struct {
	Log logs.Log

	config       *config.Config
	store        tsdb.Store
	reports      storage.Storage  // May be nil, in which case /api/evaluation returns 404
	metrics      *metrics.Metrics // May be nil
	signalIn     chan os.Signal
	httpServer   *http.Server
	httpRouter   *httprouter.Router
	handler      http.Handler // httpRouter, instrumented if metrics is set
	shutdownOnce sync.Once
}

func NewServer(log logs.Log, cfg *config.Config, store tsdb.Store, reports storage.Storage, m *metrics.Metrics) *Server {
	s := &Server{
		Log:     log,
		config:  cfg,
		store:   store,
		reports: reports,
		metrics: m,
	}
	s.setupHttpRoutes()
	s.handler = s.httpRouter
	if m != nil {
		s.handler = m.InstrumentHandler(s.httpRouter)
	}
	return s
}

// Handler is the router, for use by tests and by anyone embedding the dashboard
func (s *Server) Handler() http.Handler {
	return s.handler
}

// addr example: ":8501"
func (s *Server) ListenHTTP(addr string) error {
	s.Log.Infof("Dashboard listening on %v", addr)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.handler,
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) ListenForKillSignals() {
	signalIn := make(chan os.Signal, 1)
	s.signalIn = signalIn
	signal.Notify(signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig, ok := <-signalIn
		if ok {
			s.Log.Infof("Received OS signal '%v'", sig.String())
			s.Shutdown()
		}
	}()
}

// Shutdown stops the HTTP server and closes the store.
// Only the first call has any effect, and concurrent callers wait for it to finish.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.Log.Infof("Shutdown")
		if s.signalIn != nil {
			signal.Stop(s.signalIn)
			close(s.signalIn)
		}
		if s.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := s.httpServer.Shutdown(ctx); err != nil {
				s.Log.Warnf("HTTP shutdown error: %v", err)
			}
		}
		s.store.Close()
	})
}
