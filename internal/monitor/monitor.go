// Package monitor serves live run state over HTTP: prometheus metrics, a
// liveness probe and a JSON status document.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/san-kum/pimd/internal/sim"
)

// StatusSource reports the state of one or more runs.
type StatusSource interface {
	Status() []sim.Status
}

// Runs adapts a set of simulators to a StatusSource.
type Runs []*sim.Simulator

func (r Runs) Status() []sim.Status {
	out := make([]sim.Status, 0, len(r))
	for _, s := range r {
		out = append(out, s.Status())
	}
	return out
}

func NewRouter(metrics http.Handler, status StatusSource) chi.Router {
	router := chi.NewRouter()
	router.Use(chimiddleware.Recoverer)

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	if metrics != nil {
		router.Method(http.MethodGet, "/metrics", metrics)
	}
	router.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		runs := []sim.Status{}
		if status != nil {
			runs = status.Status()
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]any{"runs": runs}); err != nil {
			logrus.WithError(err).Debug("writing status")
		}
	})
	return router
}

type Server struct {
	srv  *http.Server
	ln   net.Listener
	done chan struct{}
}

// Start listens on addr and serves h in the background.
func Start(addr string, h http.Handler) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		srv:  &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second},
		ln:   ln,
		done: make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Warn("monitor server stopped")
		}
	}()
	logrus.WithField("addr", ln.Addr().String()).Info("monitor listening")
	return s, nil
}

func (s *Server) Addr() string { return s.ln.Addr().String() }

func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	<-s.done
	return err
}
