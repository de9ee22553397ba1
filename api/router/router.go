package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sshcollectorpro/netauto/api/handler"
	"github.com/sshcollectorpro/netauto/internal/report"
	"github.com/sshcollectorpro/netauto/internal/service"
	"github.com/sshcollectorpro/netauto/pkg/logger"
	"gorm.io/gorm"
)

// Version 服务版本
const Version = "1.0.0"

// Deps 路由依赖；DB、Source 与 Sink 可为空
type Deps struct {
	Runner       *service.Runner
	DB           *gorm.DB
	Source       handler.TargetSource
	Sink         report.Sink
	ReportPrefix string
	// RunTimeout 单个执行请求的总超时，0 表示只受客户端连接约束
	RunTimeout time.Duration
	// Mode gin 运行模式：debug | release | test
	Mode string
}

// SetupRouter 设置路由
func SetupRouter(d Deps) *gin.Engine {
	// 设置Gin模式
	switch d.Mode {
	case gin.DebugMode, gin.TestMode:
		gin.SetMode(d.Mode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(CORSMiddleware())
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware())

	runHandler := handler.NewRunHandler(d.Runner, d.Source, d.Sink, d.ReportPrefix, d.RunTimeout)
	templateHandler := handler.NewTemplateHandler(d.Runner.Registry(), d.Sink, d.ReportPrefix)

	// 根路径
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name":    "netauto",
			"version": Version,
			"status":  "running",
		})
	})

	// API v1 路由组
	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", handler.Health(d.Runner))
		v1.GET("/templates", templateHandler.List)
		v1.POST("/parse", templateHandler.Parse)
		v1.POST("/render", templateHandler.Render)

		v1.POST("/show", runHandler.Show)
		v1.POST("/config", runHandler.Config)
		v1.POST("/config/loopback", runHandler.Loopback)
		v1.POST("/backup", runHandler.Backup)

		// 设备清单路由，需要数据库
		if d.DB != nil {
			deviceHandler := handler.NewDeviceHandler(d.DB)
			devices := v1.Group("/devices")
			{
				devices.GET("", deviceHandler.ListDevices)
				devices.POST("", deviceHandler.SaveDevice)
				devices.DELETE("/:name", deviceHandler.DeleteDevice)
			}
		}
	}

	// 404处理
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    handler.CodeNotFound,
			"message": "接口不存在",
			"path":    c.Request.URL.Path,
		})
	})

	return r
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RequestIDMiddleware 请求ID中间件
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}

// LoggingMiddleware 日志中间件
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		statusCode := c.Writer.Status()
		entry := logger.WithFields(logrus.Fields{
			"request_id": c.GetString("request_id"),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     statusCode,
			"duration":   time.Since(start).String(),
			"client_ip":  c.ClientIP(),
		})
		if statusCode >= http.StatusBadRequest {
			entry.Warn("HTTP Error")
			return
		}
		entry.Info("HTTP Request")
	}
}
