package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/RandyVollrath/curbwatch/internal/repository"
	"github.com/RandyVollrath/curbwatch/internal/service"
	"github.com/RandyVollrath/curbwatch/pkg/ws"
)

// Handler HTTP 处理器
type Handler struct {
	logger         *zap.Logger
	vehicleRepo    *repository.VehicleRepository
	parkingRepo    *repository.ParkingRepository
	restRepo       *repository.RestrictionRepository
	monitorService *service.MonitorService
	wsHub          *ws.Hub
	upgrader       websocket.Upgrader
}

// NewHandler 创建处理器
func NewHandler(
	logger *zap.Logger,
	vehicleRepo *repository.VehicleRepository,
	parkingRepo *repository.ParkingRepository,
	restRepo *repository.RestrictionRepository,
	monitorService *service.MonitorService,
	wsHub *ws.Hub,
) *Handler {
	return &Handler{
		logger:         logger,
		vehicleRepo:    vehicleRepo,
		parkingRepo:    parkingRepo,
		restRepo:       restRepo,
		monitorService: monitorService,
		wsHub:          wsHub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 开发环境允许所有来源
			},
		},
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	// API 路由
	api := r.Group("/api")
	{
		// 车辆
		api.GET("/vehicles", h.ListVehicles)
		api.POST("/vehicles", h.RegisterVehicle)
		api.GET("/vehicles/:id", h.GetVehicle)

		// 监控会话
		api.POST("/vehicles/:id/monitoring/start", h.StartMonitoring)
		api.POST("/vehicles/:id/monitoring/stop", h.StopMonitoring)
		api.GET("/vehicles/:id/monitoring", h.GetMonitoring)

		// 设备上报
		api.POST("/vehicles/:id/signals", h.PostSignal)  // 运动/连接信号
		api.POST("/vehicles/:id/fixes", h.PostFix)       // 定位结果
		api.POST("/vehicles/:id/check", h.TriggerCheck)  // 手动停车检查
		api.POST("/vehicles/:id/confirm-departure", h.ConfirmDeparture)

		// 停车记录
		api.GET("/vehicles/:id/parkings", h.ListParkings)
		api.GET("/parkings/:id", h.GetParking)
		api.GET("/parkings/:id/restrictions", h.GetParkingRestrictions)
	}

	// WebSocket
	r.GET("/ws", h.HandleWebSocket)

	// 健康检查
	r.GET("/health", h.HealthCheck)
}

// HandleWebSocket WebSocket 处理
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	client := ws.NewClient(h.wsHub, conn)
	client.Register()

	// 启动读写协程
	go client.ReadPump()
	go client.WritePump()
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"ws_clients": h.wsHub.ClientCount(),
	})
}
