// Package api exposes recognition, roster and report operations over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"facemark/internal/api/ws"
	"facemark/internal/attendance"
	"facemark/internal/auth"
	"facemark/internal/config"
	"facemark/internal/faceindex"
	"facemark/internal/httpmiddleware"
	"facemark/internal/recognition"
)

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) bool

// DeviceRegistry records kiosks that asked for a token.
type DeviceRegistry interface {
	UpsertDevice(ctx context.Context, deviceID string) error
}

// Deps holds everything the handlers need.
type Deps struct {
	Config     config.App
	Recognizer *recognition.Recognizer
	Roster     *attendance.Roster
	Reports    *attendance.Reports
	Index      *faceindex.Cache
	Devices    DeviceRegistry
	Hub        *ws.Hub
	Health     map[string]HealthCheck
	Clock      func() time.Time
	Logger     *slog.Logger
}

type handler struct {
	Deps
	logger *slog.Logger
}

// NewRouter builds the gin engine with middleware and all routes.
func NewRouter(d Deps) *gin.Engine {
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	h := &handler{Deps: d, logger: d.Logger.With("component", "api")}
	cfg := d.Config

	r := gin.New()
	r.MaxMultipartMemory = int64(cfg.MaxUploadMB) << 20
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.Logging(d.Logger, "/healthz", "/metrics"))
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).Middleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", h.healthz)

	api := r.Group("/api")
	if cfg.AuthEnabled {
		api.POST("/devices/register", h.registerDevice)
	}

	kiosk := api.Group("")
	if cfg.AuthEnabled {
		kiosk.Use(auth.DeviceAuth(cfg.JWTSigningKey, cfg.JWTIssuer, auth.RoleKiosk))
	}
	kiosk.POST("/recognize", h.recognize)

	api.GET("/enrollees", h.listEnrollees)
	api.POST("/enrollees", h.enroll)
	api.GET("/enrollees/:id", h.getEnrollee)
	api.DELETE("/enrollees/:id", h.deleteEnrollee)
	api.POST("/cache/rebuild", h.rebuildCache)

	api.GET("/attendance/today", h.today)
	api.GET("/stats", h.stats)
	api.GET("/reports", h.report)
	api.GET("/reports/export", h.exportReport)

	if d.Hub != nil {
		api.GET("/ws", d.Hub.HandleWS)
	}
	return r
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	c.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	c.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}
	c.ExposeHeaders = []string{"Content-Disposition"}
	c.MaxAge = 12 * time.Hour
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
		c.AllowCredentials = true
	}
	return c
}

func (h *handler) healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.Health {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	if h.Index != nil {
		snap := h.Index.Current()
		body["index"] = gin.H{"generation": snap.Generation, "size": snap.Len()}
	}
	c.JSON(status, body)
}
