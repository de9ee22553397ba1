package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sshcollectorpro/netauto/internal/service"
)

// Health 健康检查
// @Summary 服务状态、模板数与会话池
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/health [get]
func Health(runner *service.Runner) gin.HandlerFunc {
	started := time.Now()
	return func(c *gin.Context) {
		templates := 0
		if reg := runner.Registry(); reg != nil {
			templates = reg.Len()
		}
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().Format(time.RFC3339),
			"uptime":    time.Since(started).Round(time.Second).String(),
			"templates": templates,
			"pool":      runner.PoolStats(),
		})
	}
}
