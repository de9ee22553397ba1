package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sshcollectorpro/netauto/internal/database"
	"github.com/sshcollectorpro/netauto/internal/model"
	"github.com/sshcollectorpro/netauto/pkg/logger"
	"gorm.io/gorm"
)

// DeviceHandler 设备清单处理器
type DeviceHandler struct {
	db *gorm.DB
}

// NewDeviceHandler 创建设备处理器
func NewDeviceHandler(db *gorm.DB) *DeviceHandler {
	return &DeviceHandler{db: db}
}

// ListDevices 设备列表
// @Summary 查询设备清单
// @Tags device
// @Produce json
// @Param platform query string false "平台"
// @Param tag query string false "标签"
// @Param all query bool false "包含已停用设备"
// @Success 200 {object} SuccessResponse
// @Router /api/v1/devices [get]
func (h *DeviceHandler) ListDevices(c *gin.Context) {
	f := database.DeviceFilter{
		Platform:        c.Query("platform"),
		Tag:             c.Query("tag"),
		IncludeDisabled: c.Query("all") == "true",
	}
	if name := c.Query("name"); name != "" {
		f.Names = []string{name}
	}
	devs, err := database.ListDevices(c.Request.Context(), h.db, f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "获取设备列表成功", Data: devs})
}

// SaveDevice 新增或按名称更新设备
// @Summary 保存设备
// @Tags device
// @Accept json
// @Produce json
// @Param device body model.Device true "设备信息"
// @Success 200 {object} SuccessResponse "保存成功"
// @Failure 400 {object} ErrorResponse "请求参数错误"
// @Router /api/v1/devices [post]
func (h *DeviceHandler) SaveDevice(c *gin.Context) {
	var dev model.Device
	if err := c.ShouldBindJSON(&dev); err != nil {
		badRequest(c, err)
		return
	}
	if err := database.ValidateDevice(&dev); err != nil {
		badRequest(c, err)
		return
	}
	if err := database.SaveDevice(c.Request.Context(), h.db, &dev); err != nil {
		respondError(c, err)
		return
	}
	logger.WithField("device", dev.Name).Info("Device saved")
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "设备保存成功", Data: dev})
}

// DeleteDevice 按名称删除设备
// @Summary 删除设备
// @Tags device
// @Param name path string true "设备名称"
// @Success 200 {object} SuccessResponse "删除成功"
// @Failure 404 {object} ErrorResponse "设备不存在"
// @Router /api/v1/devices/{name} [delete]
func (h *DeviceHandler) DeleteDevice(c *gin.Context) {
	name := c.Param("name")
	if err := database.DeleteDevice(c.Request.Context(), h.db, name); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "设备已删除", Data: gin.H{"name": name}})
}
