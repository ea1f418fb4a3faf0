package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/matheus3301/smsdesk/internal/api"
	"github.com/matheus3301/smsdesk/internal/push"
)

// Server owns the REST listener and the gRPC push listener of a daemon.
type Server struct {
	httpServer *http.Server
	httpLis    net.Listener
	grpcServer *grpc.Server
	pushLis    net.Listener
	logger     *zap.Logger
}

// NewServer binds both listeners so address conflicts fail startup.
func NewServer(p Params, logger *zap.Logger, h *api.Handler, pushSrv *push.Server) (*Server, error) {
	gin.SetMode(gin.ReleaseMode)

	httpLis, err := net.Listen("tcp", p.Config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listen http: %w", err)
	}
	pushLis, err := net.Listen("tcp", p.Config.Server.PushAddr)
	if err != nil {
		_ = httpLis.Close()
		return nil, fmt.Errorf("listen push: %w", err)
	}

	srv := grpc.NewServer()
	push.Register(srv, pushSrv)

	return &Server{
		httpServer: &http.Server{Handler: api.NewRouter(h, logger.Named("http"))},
		httpLis:    httpLis,
		grpcServer: srv,
		pushLis:    pushLis,
		logger:     logger,
	}, nil
}

// HTTPAddr returns the bound REST address.
func (s *Server) HTTPAddr() string { return s.httpLis.Addr().String() }

// PushAddr returns the bound push address.
func (s *Server) PushAddr() string { return s.pushLis.Addr().String() }

// Start serves both listeners in the background.
func (s *Server) Start() {
	s.logger.Info("http server starting", zap.String("addr", s.HTTPAddr()))
	go func() {
		if err := s.httpServer.Serve(s.httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", zap.Error(err))
		}
	}()
	s.logger.Info("push server starting", zap.String("addr", s.PushAddr()))
	go func() {
		if err := s.grpcServer.Serve(s.pushLis); err != nil {
			s.logger.Error("push server error", zap.Error(err))
		}
	}()
}

// Stop drains HTTP requests and closes every push stream. Watch streams
// never end on their own, so the push server is stopped, not drained.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("servers stopping")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown", zap.Error(err))
	}
	s.grpcServer.Stop()
}
