// Package httpserver exposes health, metrics and read-only dataset
// inspection over HTTP, plus a manual retrain trigger.
package httpserver

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/foodnet-go/internal/buildinfo"
	"github.com/tphakala/foodnet-go/internal/categories"
	"github.com/tphakala/foodnet-go/internal/conf"
	"github.com/tphakala/foodnet-go/internal/datastore"
	"github.com/tphakala/foodnet-go/internal/errors"
	"github.com/tphakala/foodnet-go/internal/logger"
	"github.com/tphakala/foodnet-go/internal/retrain"
)

const (
	shutdownTimeout = 10 * time.Second
	bodyLimit       = "64K"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the httpserver logger
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("httpserver")
	})
	return serviceLogger
}

// RecordStore is the read side of the record store.
type RecordStore interface {
	List(ctx context.Context, offset, limit int) ([]datastore.ImageRecord, error)
	Count(ctx context.Context) (int64, error)
	Get(ctx context.Context, imgID int) (*datastore.ImageRecord, error)
	Categories(ctx context.Context) ([]categories.Category, error)
	ExportCSV(ctx context.Context, w io.Writer) error
	Ping(ctx context.Context) error
}

// RetrainControl inspects and triggers retraining.
type RetrainControl interface {
	Request(reason string) bool
	Jobs() []retrain.Job
	Stats() retrain.Stats
}

// Dependencies wires a Server. Retrain, Metrics and ImageDir are optional.
type Dependencies struct {
	Store     RecordStore
	Retrain   RetrainControl
	Metrics   http.Handler
	ImageDir  string
	BuildInfo *buildinfo.Context
}

// Server is the HTTP admin endpoint.
type Server struct {
	echo      *echo.Echo
	listen    string
	deps      Dependencies
	startTime time.Time
}

// New builds the echo instance and registers every route.
func New(settings *conf.WebServerSettings, deps Dependencies) (*Server, error) {
	if deps.Store == nil {
		return nil, errors.NewStd("httpserver: record store is required")
	}

	s := &Server{
		echo:      echo.New(),
		listen:    settings.Listen,
		deps:      deps,
		startTime: time.Now(),
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Server.ReadTimeout = 15 * time.Second
	s.echo.Server.WriteTimeout = 60 * time.Second
	s.echo.Server.IdleTimeout = 120 * time.Second

	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(newRequestLogger(GetLogger()))
	s.echo.Use(echomw.BodyLimit(bodyLimit))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/healthz", s.healthCheck)
	if s.deps.Metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.deps.Metrics))
	}

	api := s.echo.Group("/api/v1")
	api.GET("/records", s.listRecords)
	api.GET("/records/:id", s.getRecord)
	api.GET("/categories", s.listCategories)
	api.GET("/dataset.csv", s.exportDataset)
	api.GET("/retrain/jobs", s.listRetrainJobs)
	api.POST("/retrain", s.requestRetrain)
	api.GET("/system", s.systemInfo)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryNetwork).
			NetworkContext(s.listen, 0).
			Build()
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.echo.Listener = ln
	GetLogger().Info("HTTP server listening", logger.String("address", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start("")
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.New(err).Category(errors.CategoryHTTP).Build()
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return errors.New(err).Category(errors.CategoryHTTP).Build()
	}
	<-errCh
	GetLogger().Info("HTTP server stopped")
	return nil
}

// newRequestLogger logs one line per request.
func newRequestLogger(log logger.Logger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			fields := []logger.Field{
				logger.String("method", v.Method),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.String("ip", v.RemoteIP),
				logger.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, logger.Error(v.Error))
			}
			log.WithContext(c.Request().Context()).Debug("request", fields...)
			return nil
		},
	})
}
