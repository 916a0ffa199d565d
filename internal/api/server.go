// Package api is the REST command surface of the bridge. Commands that
// need the session fail fast unless the connection is ready.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// Defaults for Options.
const (
	DefaultSessionTimeout  = 30 * time.Second
	DefaultMessageLimit    = 50
	DefaultMaxMessageLimit = 500
)

// Options configures the HTTP server.
type Options struct {
	Addr            string
	SessionTimeout  time.Duration
	MessageLimit    int
	MaxMessageLimit int
	AllowedOrigins  []string
}

func (o *Options) setDefaults() {
	if o.SessionTimeout <= 0 {
		o.SessionTimeout = DefaultSessionTimeout
	}
	if o.MessageLimit <= 0 {
		o.MessageLimit = DefaultMessageLimit
	}
	if o.MaxMessageLimit <= 0 {
		o.MaxMessageLimit = DefaultMaxMessageLimit
	}
	if o.MessageLimit > o.MaxMessageLimit {
		o.MessageLimit = o.MaxMessageLimit
	}
	if len(o.AllowedOrigins) == 0 {
		o.AllowedOrigins = []string{"*"}
	}
}

// Server serves the REST endpoints and mounts the relay at /ws.
type Server struct {
	opts    Options
	state   StateReader
	session Session
	echo    *echo.Echo
	logger  *zap.Logger
	ln      net.Listener
}

// NewServer builds the router. ws may be nil, in which case /ws is not
// mounted.
func NewServer(opts Options, state StateReader, session Session, ws http.Handler, logger *zap.Logger) *Server {
	opts.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		opts:    opts,
		state:   state,
		session: session,
		logger:  logger,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: opts.AllowedOrigins}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			logger.Info("http request", fields...)
			return nil
		},
	}))

	e.GET("/status", s.getStatus)
	e.GET("/qr", s.getQRPage)
	e.GET("/qr.png", s.getQRImage)
	e.GET("/qr.json", s.getQRJSON)
	e.POST("/send", s.postSend)
	e.GET("/chats", s.getChats)
	e.GET("/chats/:id/messages", s.getMessages)
	if ws != nil {
		e.GET("/ws", echo.WrapHandler(ws))
	}

	s.echo = e
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.echo.Listener = ln
	go func() {
		if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", zap.Error(err))
		}
	}()
	s.logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.opts.Addr
	}
	return s.ln.Addr().String()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code, msg := classify(err)
	if code >= http.StatusInternalServerError {
		s.logger.Warn("request failed", zap.String("uri", c.Request().RequestURI), zap.Error(err))
	}
	if err := c.JSON(code, errorResponse{Error: msg}); err != nil {
		s.logger.Debug("write error response", zap.Error(err))
	}
}
