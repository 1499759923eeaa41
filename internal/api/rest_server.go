package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/annel0/grid-dungeon/internal/auth"
	"github.com/annel0/grid-dungeon/internal/cache"
	"github.com/annel0/grid-dungeon/internal/gamemap"
	"github.com/annel0/grid-dungeon/internal/logging"
	"github.com/annel0/grid-dungeon/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RestServer представляет REST API сервер подземелий
type RestServer struct {
	router   *gin.Engine
	service  *gamemap.Service
	userRepo auth.UserRepository
	issuer   *auth.TokenIssuer
	port     string
	version  string
	metrics  *ServerMetrics
	webhooks *OutboundWebhookManager
	cache    *cache.TemplateCache
	logger   *logging.Logger
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Port     string              // адрес для запуска сервера, например ":8088"
	Service  *gamemap.Service    // операции над подземельями
	UserRepo auth.UserRepository // учётные записи дизайнеров
	Issuer   *auth.TokenIssuer   // подпись и проверка токенов
	Version  string

	// Registerer и Gatherer для HTTP-метрик и /metrics; nil означает регистр по умолчанию
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer

	// Webhooks nil: управление исходящими webhook'ами недоступно
	Webhooks *OutboundWebhookManager
	// Cache кеш шаблонов, чья статистика попадает в /api/admin/stats
	Cache  *cache.TemplateCache
	Logger *logging.Logger
}

// NewRestServer создает новый REST API сервер
func NewRestServer(config Config) (*RestServer, error) {
	if config.Service == nil || config.UserRepo == nil || config.Issuer == nil {
		return nil, errors.New("api: service, user repository and token issuer are required")
	}
	if config.Port == "" {
		config.Port = ":8088"
	}
	if config.Version == "" {
		config.Version = "dev"
	}
	if config.Logger == nil {
		config.Logger = logging.GetAPILogger()
	}
	if config.Registerer == nil {
		config.Registerer = prometheus.DefaultRegisterer
	}
	if config.Gatherer == nil {
		config.Gatherer = prometheus.DefaultGatherer
	}

	if gin.Mode() == gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	// === Observability middleware ===
	router.Use(otelgin.Middleware("dungeon_api"))
	router.Use(middleware.NewRequestLogger(config.Logger).Handler())

	promMw := middleware.NewPrometheusMiddleware("dungeon_api", config.Registerer)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router, config.Gatherer)

	server := &RestServer{
		router:   router,
		service:  config.Service,
		userRepo: config.UserRepo,
		issuer:   config.Issuer,
		port:     config.Port,
		version:  config.Version,
		metrics:  NewServerMetrics(),
		webhooks: config.Webhooks,
		cache:    config.Cache,
		logger:   config.Logger,
	}
	server.setupRoutes()
	return server, nil
}

// Handler возвращает http.Handler с настроенными маршрутами
func (rs *RestServer) Handler() http.Handler {
	return rs.router
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	rs.router.Use(corsMiddleware())

	api := rs.router.Group("/api")

	// Без JWT: вход дизайнера и регистрация игрока
	api.POST("/auth/login", rs.handleLogin)
	api.POST("/players", rs.handleCreatePlayer)

	protected := api.Group("/")
	protected.Use(rs.jwtMiddleware())
	{
		protected.GET("/server", rs.handleServerInfo)

		// Шаблоны читают все аутентифицированные клиенты
		protected.GET("/templates", rs.handleListTemplates)
		protected.GET("/templates/:id", rs.handleGetTemplate)
		protected.GET("/templates/:id/exits", rs.handleTemplateExits)
		protected.GET("/templates/exit/:direction", rs.handleTemplatesWithExit)
		protected.GET("/templates/random/:direction", rs.handleRandomTemplate)

		designer := protected.Group("/")
		designer.Use(requireRole(auth.RoleDesigner))
		{
			designer.POST("/templates", rs.handleCreateTemplate)
		}

		admin := protected.Group("/")
		admin.Use(rs.adminMiddleware())
		{
			admin.DELETE("/templates/:id", rs.handleDeleteTemplate)
			admin.POST("/admin/register", rs.handleAdminRegister)
			admin.GET("/admin/stats", rs.handleStats)

			admin.GET("/admin/webhooks", rs.handleGetOutboundWebhooks)
			admin.POST("/admin/webhooks", rs.handleCreateOutboundWebhook)
			admin.GET("/admin/webhooks/events", rs.handleGetWebhookEventTypes)
			admin.GET("/admin/webhooks/:id", rs.handleGetOutboundWebhook)
			admin.PUT("/admin/webhooks/:id", rs.handleUpdateOutboundWebhook)
			admin.DELETE("/admin/webhooks/:id", rs.handleDeleteOutboundWebhook)
			admin.POST("/admin/webhooks/:id/test", rs.handleTestOutboundWebhook)
		}

		players := protected.Group("/")
		players.Use(requireRole(auth.RolePlayer))
		{
			players.GET("/players/me", rs.handleGetPlayer)
			players.PUT("/players/me", rs.handleUpdatePlayer)
			players.DELETE("/players/me", rs.handleDeletePlayer)

			players.GET("/rooms", rs.handleListRooms)
			players.POST("/rooms", rs.handleCreateRoom)
			players.GET("/rooms/current", rs.handleCurrentRoom)
			players.GET("/rooms/template/:templateId", rs.handleRoomsForTemplate)
			players.GET("/rooms/:id", rs.handleGetRoom)
			players.GET("/rooms/:id/replay", rs.handleReplayRoom)
			players.POST("/rooms/:id/neighbors/:direction", rs.handleNeighbor)
			players.POST("/rooms/:id/transition/:direction", rs.handleTransition)
			players.POST("/rooms/:id/edits", rs.handleEdits)
			players.GET("/graph/verify", rs.handleVerifyGraph)
		}
	}

	rs.router.GET("/health", rs.handleHealth)
}

// LoginRequest представляет запрос на вход
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse представляет ответ на вход
type LoginResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
	Message string `json:"message"`
	UserID  uint64 `json:"user_id,omitempty"`
	IsAdmin bool   `json:"is_admin,omitempty"`
}

// RegisterRequest представляет запрос на регистрацию дизайнера
type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	IsAdmin  bool   `json:"is_admin"`
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// handleLogin обрабатывает вход дизайнера
func (rs *RestServer) handleLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, LoginResponse{
			Success: false,
			Message: "Неверный формат запроса",
		})
		return
	}

	user, err := auth.ValidateCredentials(c.Request.Context(), rs.userRepo, req.Username, req.Password)
	if err != nil {
		status, msg := statusFor(err)
		if status >= http.StatusInternalServerError {
			rs.logger.Error("login %s: %v", req.Username, err)
		}
		c.JSON(status, LoginResponse{Success: false, Message: msg})
		return
	}

	token, err := rs.issuer.GenerateJWT(user)
	if err != nil {
		rs.logger.Error("sign token for %s: %v", user.Username, err)
		c.JSON(http.StatusInternalServerError, LoginResponse{
			Success: false,
			Message: "Ошибка генерации токена",
		})
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		Success: true,
		Token:   token,
		Message: "Успешная авторизация",
		UserID:  user.ID,
		IsAdmin: user.IsAdmin,
	})
}

// handleAdminRegister регистрирует нового дизайнера (только для админов)
func (rs *RestServer) handleAdminRegister(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Неверный формат запроса")
		return
	}

	if len(req.Username) < 3 || len(req.Username) > 30 {
		respondBadRequest(c, "Имя пользователя должно быть от 3 до 30 символов")
		return
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		respondBadRequest(c, "Пароль должен быть от 6 до 72 байт")
		return
	}

	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	user, err := rs.userRepo.CreateUser(c.Request.Context(), req.Username, passwordHash, req.IsAdmin)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusCreated, "Пользователь успешно создан", gin.H{
		"user_id":  user.ID,
		"username": user.Username,
		"is_admin": user.IsAdmin,
	})
}

// handleStats возвращает статистику процесса и подземелий
func (rs *RestServer) handleStats(c *gin.Context) {
	stats := make(map[string]interface{})

	templates, err := rs.service.ListTemplates(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	stats["templates"] = len(templates)

	if rs.webhooks != nil {
		stats["webhooks"] = len(rs.webhooks.GetWebhooks())
	}
	if rs.cache != nil {
		stats["cache"] = rs.cache.Stats()
	}

	memoryMB, _ := rs.metrics.GetMemoryUsage()
	cpuPercent, _ := rs.metrics.GetCPUUsage()
	stats["server"] = map[string]interface{}{
		"uptime":      rs.metrics.GetUptime(),
		"memory_mb":   fmt.Sprintf("%.2f", memoryMB),
		"cpu_percent": fmt.Sprintf("%.2f", cpuPercent),
		"server_time": time.Now().Unix(),
	}
	stats["memory_details"] = rs.metrics.GetDetailedMemoryStats()

	respondOK(c, http.StatusOK, "Статистика получена", stats)
}

// handleServerInfo возвращает информацию о сервере
func (rs *RestServer) handleServerInfo(c *gin.Context) {
	memoryMB, _ := rs.metrics.GetMemoryUsage()
	cpuPercent, _ := rs.metrics.GetCPUUsage()

	respondOK(c, http.StatusOK, "Информация о сервере", map[string]interface{}{
		"version":        rs.version,
		"name":           "Grid Dungeon Server",
		"status":         "running",
		"start_template": rs.service.StartTemplate(),
		"uptime":         rs.metrics.GetUptime(),
		"memory_mb":      fmt.Sprintf("%.1f", memoryMB),
		"cpu_percent":    fmt.Sprintf("%.1f", cpuPercent),
	})
}

// handleHealth проверка состояния для балансировщика
func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"version":   rs.version,
	})
}
