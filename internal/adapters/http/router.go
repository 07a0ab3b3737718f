package http

import (
	"errors"
	stdhttp "net/http"
	"path/filepath"

	"github.com/dkeye/Relay/internal/adapters/signal"
	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/config"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/files"
	"github.com/dkeye/Relay/internal/settings"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Deps is everything the router serves.
type Deps struct {
	Orch     *app.Orchestrator
	Settings *settings.Store
	Files    *files.Store
	Signal   *signal.Handler
	Admin    *AdminAuth
	// LoginLimiter throttles admin password attempts per client address.
	LoginLimiter *app.RateLimiter
}

func SetupRouter(cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	// ClientIP feeds the rate limiters; only listed proxies may set it.
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("invalid trusted_proxies, trusting none")
		_ = r.SetTrustedProxies(nil)
	}
	r.MaxMultipartMemory = 8 << 20

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: int(cfg.AdminTokenTTL.Seconds()), HttpOnly: true, SameSite: stdhttp.SameSiteStrictMode})
	r.Use(sessions.Sessions("RelaySessions", store))

	r.GET(app.RelayPath, d.Signal.Serve)

	r.Static("/assets", filepath.Join(cfg.StaticPath, "assets"))
	r.GET("/", func(c *gin.Context) {
		c.File(filepath.Join(cfg.StaticPath, "index.html"))
	})

	h := &handlers{deps: d, maxUpload: cfg.MaxUploadBytes}

	r.POST("/upload", h.upload)
	r.GET("/files/:fileId", h.download)

	api := r.Group("/api")
	api.GET("/config/public", h.publicConfig)
	api.POST("/admin/login", h.login)
	api.POST("/admin/logout", h.logout)

	admin := api.Group("/admin", d.Admin.Middleware(d.Settings.Current))
	admin.GET("/config", h.getConfig)
	admin.POST("/config", h.setConfig)
	admin.POST("/change-password", h.changePassword)
	admin.POST("/clear-files", h.clearFiles)
	admin.GET("/rooms", h.rooms)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(stdhttp.StatusNotFound, gin.H{"error": "Not found"})
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")
	return r
}

type handlers struct {
	deps      Deps
	maxUpload int64
}

func (h *handlers) publicConfig(c *gin.Context) {
	c.JSON(stdhttp.StatusOK, h.deps.Settings.Current().Public())
}

func (h *handlers) login(c *gin.Context) {
	if h.deps.LoginLimiter.Blocked(c.ClientIP()) {
		c.JSON(stdhttp.StatusTooManyRequests, gin.H{"error": "Too many attempts"})
		return
	}
	var req struct {
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(stdhttp.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	current := h.deps.Settings.Current()
	if err := CheckPassword(current.AdminPassword, req.Password); err != nil {
		h.deps.LoginLimiter.Fail(c.ClientIP())
		log.Warn().Str("module", "adapters.http").Str("ip", c.ClientIP()).Err(err).Msg("admin login failed")
		c.JSON(stdhttp.StatusUnauthorized, gin.H{"error": "Failed"})
		return
	}
	token, err := h.deps.Admin.Issue(current)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("issue admin token")
		c.JSON(stdhttp.StatusInternalServerError, gin.H{"error": "token"})
		return
	}
	sess := sessions.Default(c)
	sess.Set(adminSessionKey, token)
	if err := sess.Save(); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("save admin session")
	}
	log.Info().Str("module", "adapters.http").Str("ip", c.ClientIP()).Msg("admin logged in")
	c.JSON(stdhttp.StatusOK, gin.H{"token": token})
}

func (h *handlers) logout(c *gin.Context) {
	sess := sessions.Default(c)
	sess.Clear()
	_ = sess.Save()
	c.JSON(stdhttp.StatusOK, gin.H{"success": true})
}

func (h *handlers) getConfig(c *gin.Context) {
	c.JSON(stdhttp.StatusOK, h.deps.Settings.Current())
}

// setConfig replaces the settings and applies them to live rooms before
// answering, independent of the file watcher. Concurrent updates apply in
// the order they were stored.
func (h *handlers) setConfig(c *gin.Context) {
	var next domain.Settings
	if err := c.ShouldBindJSON(&next); err != nil {
		c.JSON(stdhttp.StatusBadRequest, gin.H{"error": "invalid config"})
		return
	}
	if next.AdminPassword == "" {
		next.AdminPassword = h.deps.Settings.Current().AdminPassword
	}
	var evicted []app.Eviction
	err := h.deps.Settings.Apply(&next, func(s *domain.Settings) {
		evicted = h.deps.Orch.ApplySettings(s)
	})
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("replace settings")
		c.JSON(stdhttp.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(stdhttp.StatusOK, gin.H{"success": true, "evicted": evicted})
}

func (h *handlers) changePassword(c *gin.Context) {
	var req struct {
		NewPassword string `json:"newPassword"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.NewPassword == "" {
		c.JSON(stdhttp.StatusBadRequest, gin.H{"error": "Invalid password"})
		return
	}
	hash, err := HashPassword(req.NewPassword)
	if err != nil {
		c.JSON(stdhttp.StatusBadRequest, gin.H{"error": "Invalid password"})
		return
	}
	if _, err := h.deps.Settings.Update(func(s *domain.Settings) { s.AdminPassword = hash }); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("change password")
		c.JSON(stdhttp.StatusInternalServerError, gin.H{"error": "save failed"})
		return
	}
	log.Info().Str("module", "adapters.http").Msg("admin password changed")
	c.JSON(stdhttp.StatusOK, gin.H{"success": true})
}

func (h *handlers) clearFiles(c *gin.Context) {
	n, err := h.deps.Files.Clear()
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("clear files")
		c.JSON(stdhttp.StatusInternalServerError, gin.H{"error": "Failed to read directory"})
		return
	}
	c.JSON(stdhttp.StatusOK, gin.H{"success": true, "message": "Files cleared", "deleted": n})
}

func (h *handlers) rooms(c *gin.Context) {
	c.JSON(stdhttp.StatusOK, gin.H{"rooms": h.deps.Orch.Registry.List()})
}

func (h *handlers) upload(c *gin.Context) {
	c.Request.Body = stdhttp.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	fh, err := c.FormFile("file")
	if err != nil {
		var tooBig *stdhttp.MaxBytesError
		if errors.As(err, &tooBig) {
			c.JSON(stdhttp.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
			return
		}
		c.JSON(stdhttp.StatusBadRequest, gin.H{"error": "No file"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(stdhttp.StatusBadRequest, gin.H{"error": "No file"})
		return
	}
	defer f.Close()

	id, err := h.deps.Files.Save(f, fh.Filename)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("store upload")
		c.JSON(stdhttp.StatusInternalServerError, gin.H{"error": "Upload failed"})
		return
	}
	c.JSON(stdhttp.StatusOK, gin.H{"fileId": id})
}

func (h *handlers) download(c *gin.Context) {
	p, err := h.deps.Files.Path(c.Param("fileId"))
	if err != nil {
		c.JSON(stdhttp.StatusNotFound, gin.H{"error": "Not found"})
		return
	}
	c.File(p)
}
