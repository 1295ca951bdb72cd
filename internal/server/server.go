package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"whisperd/internal/config"
	"whisperd/internal/logging"
	"whisperd/internal/models"
	"whisperd/internal/predict"
	"whisperd/internal/services"
)

// Setupper loads models and reports what is loaded.
type Setupper interface {
	Setup(ctx context.Context) error
	Snapshot() models.Snapshot
}

// Predictor runs one prediction and returns the output JSON string.
type Predictor interface {
	Predict(ctx context.Context, req predict.Request) (string, error)
}

// Server is the HTTP front end for predictions.
type Server struct {
	bind      string
	logger    *slog.Logger
	setup     Setupper
	predictor Predictor
	router    *gin.Engine
	http      *http.Server

	mu       sync.RWMutex
	state    string
	setupErr error
}

// New builds a Server. Nothing listens until Serve or Run.
func New(cfg *config.Config, setup Setupper, predictor Predictor, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		bind:      strings.TrimSpace(cfg.Paths.APIBind),
		logger:    logging.NewComponentLogger(logger, "api"),
		setup:     setup,
		predictor: predictor,
		router:    router,
		state:     StateSettingUp,
	}
	router.Use(s.requestLogger())

	router.GET("/health-check", s.handleHealth)
	authorized := router.Group("/", authMiddleware(cfg.Paths.APIToken))
	authorized.POST("/predictions", s.handlePrediction)

	requestTimeout := time.Duration(cfg.Engine.RequestTimeoutSeconds) * time.Second
	s.http = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      requestTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on the configured bind address, starts setup in the background,
// and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.bind)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "api", "listen", s.bind, err)
	}
	go s.RunSetup(ctx)
	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("api server shutdown incomplete",
			logging.String(logging.FieldEventType, "api_shutdown_incomplete"),
			logging.String(logging.FieldErrorHint, "in-flight predictions were interrupted"),
			logging.Error(err),
		)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api serve: %w", err)
	}
	s.logger.Info("api server stopped")
	return nil
}

// RunSetup loads models and records the outcome for the health check.
func (s *Server) RunSetup(ctx context.Context) {
	s.setState(StateSettingUp, nil)
	started := time.Now()
	if err := s.setup.Setup(ctx); err != nil {
		s.setState(StateSetupFailed, err)
		logging.ErrorWithContext(s.logger, "model setup failed", "setup_failed",
			logging.String(logging.FieldErrorKind, services.Kind(err)),
			logging.String(logging.FieldErrorHint, "check engine settings and the model cache, then restart"),
			logging.Error(err),
		)
		return
	}
	s.setState(StateReady, nil)
	s.logger.Info("model setup complete",
		logging.String(logging.FieldEventType, "setup_complete"),
		logging.Duration("elapsed", time.Since(started)),
	)
}

// State reports the setup state and, when failed, the cause.
func (s *Server) State() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.setupErr
}

func (s *Server) setState(state string, err error) {
	s.mu.Lock()
	s.state = state
	s.setupErr = err
	s.mu.Unlock()
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		s.logger.Debug("http request",
			logging.String("method", c.Request.Method),
			logging.String("path", c.FullPath()),
			logging.Int("status", c.Writer.Status()),
			logging.Duration("elapsed", time.Since(started)),
		)
	}
}
