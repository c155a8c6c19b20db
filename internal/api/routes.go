// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/turbine-shutdown/backend/internal/procedure"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Sessions  SessionService
	Procedure *procedure.Procedure
	Samples   SampleStore
	Audit     AuditReader
	Events    EventSource
	Metrics   http.Handler
	Logger    *zap.SugaredLogger
	Version   string
	// MaxClockSkew bounds how far ahead of the server clock submitted
	// samples may be dated. Zero uses models.DefaultClockSkew.
	MaxClockSkew time.Duration
}

// Handlers holds all handler instances
type Handlers struct {
	Health    HealthHandler
	Session   SessionHandler
	Procedure ProcedureHandler
	Sensor    SensorHandler
	Stream    StreamHandler
	Metrics   http.Handler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	h := &Handlers{
		Health:    NewHealthHandler(deps.Version, deps.Sessions),
		Session:   NewSessionHandler(deps.Sessions, deps.Audit, deps.MaxClockSkew),
		Procedure: NewProcedureHandler(deps.Procedure),
		Metrics:   deps.Metrics,
	}
	if deps.Samples != nil {
		h.Sensor = NewSensorHandler(deps.Samples, deps.MaxClockSkew)
	}
	if deps.Events != nil {
		h.Stream = NewWebSocketHandler(deps.Sessions, deps.Events, deps.Logger)
	}
	return h
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	apiGroup := e.Group("/api")

	// Health check
	apiGroup.GET("/health", handlers.Health.HandleHealth)

	// Procedure definition
	apiGroup.GET("/procedure", handlers.Procedure.HandleGetProcedure)
	apiGroup.GET("/procedure/steps", handlers.Procedure.HandleGetSteps)
	apiGroup.GET("/procedure/steps/:number", handlers.Procedure.HandleGetStep)

	// Shutdown sessions
	sessionGroup := apiGroup.Group("/sessions")
	sessionGroup.POST("", handlers.Session.HandleStart)
	sessionGroup.GET("", handlers.Session.HandleList)
	sessionGroup.GET("/:id", handlers.Session.HandleGet)
	sessionGroup.GET("/:id/step", handlers.Session.HandleCurrentStep)
	sessionGroup.POST("/:id/validate", handlers.Session.HandleValidate)
	sessionGroup.POST("/:id/override", handlers.Session.HandleOverride)
	sessionGroup.POST("/:id/signoff", handlers.Session.HandleSignoff)
	sessionGroup.POST("/:id/abort", handlers.Session.HandleAbort)
	sessionGroup.GET("/:id/overrides", handlers.Session.HandleOverrides)
	sessionGroup.GET("/:id/audit", handlers.Session.HandleAuditTrail)
	if handlers.Stream != nil {
		sessionGroup.GET("/:id/ws", handlers.Stream.HandleSessionStream)
	}

	// Sensor samples
	if handlers.Sensor != nil {
		apiGroup.POST("/plants/:plantId/samples", handlers.Sensor.HandleIngest)
		apiGroup.GET("/plants/:plantId/samples", handlers.Sensor.HandleLatest)
	}

	if handlers.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(handlers.Metrics))
	}
}

// MiddlewareOptions tunes SetupMiddleware
type MiddlewareOptions struct {
	Logger         *zap.SugaredLogger
	RequestLogging bool
	AllowOrigins   []string
	BodyLimit      string
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, opts MiddlewareOptions) {
	// Use custom error handler
	e.HTTPErrorHandler = ErrorHandler

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 4 * 1024,
	}))

	if opts.BodyLimit != "" {
		e.Use(middleware.BodyLimit(opts.BodyLimit))
	}

	origins := opts.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, HeaderUserID},
	}))

	if opts.RequestLogging && opts.Logger != nil {
		log := opts.Logger
		e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
			Skipper: func(c echo.Context) bool {
				path := c.Request().URL.Path
				return path == "/api/health" || path == "/metrics" || strings.HasSuffix(path, "/ws")
			},
			LogURI:     true,
			LogMethod:  true,
			LogStatus:  true,
			LogLatency: true,
			LogError:   true,
			LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
				fields := []interface{}{
					"method", v.Method,
					"uri", v.URI,
					"status", v.Status,
					"latency", v.Latency,
					"user", c.Request().Header.Get(HeaderUserID),
				}
				if v.Error != nil {
					log.Warnw("Request failed", append(fields, "error", v.Error)...)
					return nil
				}
				log.Infow("Request", fields...)
				return nil
			},
		}))
	}
}
