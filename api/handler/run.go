package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sshcollectorpro/netauto/internal/credential"
	"github.com/sshcollectorpro/netauto/internal/database"
	"github.com/sshcollectorpro/netauto/internal/dispatch"
	"github.com/sshcollectorpro/netauto/internal/driver"
	"github.com/sshcollectorpro/netauto/internal/report"
	"github.com/sshcollectorpro/netauto/internal/service"
)

// TargetSource 按筛选条件从清单取设备
type TargetSource func(ctx context.Context, f database.DeviceFilter) ([]service.Target, error)

// DeviceRequest 请求中直接给出的设备
type DeviceRequest struct {
	Name           string `json:"name"`
	Host           string `json:"host" binding:"required"`
	Port           int    `json:"port"`
	Platform       string `json:"platform"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	EnablePassword string `json:"enable_password"`
	// Credential 凭据查找键，未提供口令时使用
	Credential string `json:"credential"`
}

func (d DeviceRequest) target() service.Target {
	t := service.Target{
		Name:       d.Name,
		Host:       d.Host,
		Port:       d.Port,
		Platform:   d.Platform,
		Username:   d.Username,
		Credential: d.Credential,
	}
	if d.Password != "" {
		t.Creds = &credential.Credentials{Host: d.Host, Port: d.Port, Username: d.Username, Secret: d.Password, EnableSecret: d.EnablePassword}
	}
	return t
}

// SelectRequest 从清单筛选设备
type SelectRequest struct {
	Names    []string `json:"names"`
	Platform string   `json:"platform"`
	Tag      string   `json:"tag"`
}

// ShowRequest show 类命令请求
type ShowRequest struct {
	Devices  []DeviceRequest `json:"devices"`
	Select   *SelectRequest  `json:"select"`
	Commands []string        `json:"commands" binding:"required,min=1"`
	// Mode exec 或 privileged，默认 exec
	Mode  string `json:"mode"`
	Parse bool   `json:"parse"`
	// Format 非空时将解析记录渲染为报表
	Format string `json:"format"`
	// Store 渲染后写入报表存储
	Store bool `json:"store"`
}

// ConfigRequest 配置命令请求
type ConfigRequest struct {
	Devices             []DeviceRequest `json:"devices"`
	Select              *SelectRequest  `json:"select"`
	Commands            []string        `json:"commands" binding:"required,min=1"`
	AbortOnFirstFailure bool            `json:"abort_on_first_failure"`
	// Save 全部成功后保存运行配置
	Save bool `json:"save"`
}

// BackupRequest 运行配置备份请求
type BackupRequest struct {
	Devices []DeviceRequest `json:"devices"`
	Select  *SelectRequest  `json:"select"`
}

// LoopbackRequest loopback 批量配置请求
type LoopbackRequest struct {
	Devices             []DeviceRequest        `json:"devices"`
	Select              *SelectRequest         `json:"select"`
	Loopbacks           []service.LoopbackSpec `json:"loopbacks" binding:"required,min=1"`
	AbortOnFirstFailure bool                   `json:"abort_on_first_failure"`
}

// RunResponse 多设备执行结果
type RunResponse struct {
	Summary report.SummaryLine   `json:"summary"`
	Run     service.RunReport    `json:"run"`
	Report  string               `json:"report,omitempty"`
	Stored  *report.StoredObject `json:"stored,omitempty"`
}

// RunHandler 设备命令执行处理器
type RunHandler struct {
	runner  *service.Runner
	source  TargetSource
	sink    report.Sink
	prefix  string
	timeout time.Duration
}

// NewRunHandler 创建执行处理器；source 与 sink 可为空
func NewRunHandler(runner *service.Runner, source TargetSource, sink report.Sink, prefix string, timeout time.Duration) *RunHandler {
	return &RunHandler{runner: runner, source: source, sink: sink, prefix: prefix, timeout: timeout}
}

func (h *RunHandler) targets(ctx context.Context, devices []DeviceRequest, sel *SelectRequest) ([]service.Target, error) {
	out := make([]service.Target, 0, len(devices))
	for _, d := range devices {
		out = append(out, d.target())
	}
	if sel != nil {
		if h.source == nil {
			return nil, errors.New("device inventory is not configured")
		}
		selected, err := h.source(ctx, database.DeviceFilter{Names: sel.Names, Platform: sel.Platform, Tag: sel.Tag})
		if err != nil {
			return nil, err
		}
		out = append(out, selected...)
	}
	if len(out) == 0 {
		return nil, errors.New("no devices given")
	}
	return out, nil
}

func (h *RunHandler) context(c *gin.Context) (context.Context, context.CancelFunc) {
	if h.timeout > 0 {
		return context.WithTimeout(c.Request.Context(), h.timeout)
	}
	return context.WithCancel(c.Request.Context())
}

// Show 执行 show 类命令
// @Summary 在多台设备上执行只读命令
// @Tags run
// @Accept json
// @Produce json
// @Param request body ShowRequest true "执行请求"
// @Success 200 {object} RunResponse "执行完成，单台设备的失败记录在结果中"
// @Failure 400 {object} ErrorResponse "请求参数错误"
// @Router /api/v1/show [post]
func (h *RunHandler) Show(c *gin.Context) {
	var req ShowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	mode := driver.Exec
	if req.Mode != "" {
		m, err := driver.ParseMode(req.Mode)
		if err != nil || (m != driver.Exec && m != driver.Privileged) {
			badRequest(c, errors.New("mode must be exec or privileged"))
			return
		}
		mode = m
	}
	var spec report.FormatSpec
	if req.Format != "" {
		f, err := report.ParseFormat(req.Format)
		if err != nil {
			badRequest(c, err)
			return
		}
		spec.Format = f
	}

	ctx, cancel := h.context(c)
	defer cancel()
	targets, err := h.targets(ctx, req.Devices, req.Select)
	if err != nil {
		badRequest(c, err)
		return
	}
	rep, err := h.runner.RunMany(ctx, targets, service.Job{Commands: req.Commands, Mode: mode, Parse: req.Parse || req.Format != ""})
	if err != nil {
		respondError(c, err)
		return
	}
	resp := RunResponse{Summary: rep.Summary(), Run: rep}
	if spec.Format != "" {
		records := rep.Records("")
		content, err := report.Render(records, spec)
		if err != nil {
			respondError(c, err)
			return
		}
		resp.Report = content
		if req.Store && h.sink != nil {
			obj, err := publish(ctx, h.sink, h.prefix, rep.Started, records, spec)
			if err != nil {
				respondError(c, err)
				return
			}
			resp.Stored = &obj
		}
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: resp.Summary.String(), Data: resp})
}

// Config 执行配置命令
// @Summary 在多台设备上下发配置
// @Tags run
// @Accept json
// @Produce json
// @Param request body ConfigRequest true "配置请求"
// @Success 200 {object} RunResponse "执行完成"
// @Failure 400 {object} ErrorResponse "请求参数错误"
// @Router /api/v1/config [post]
func (h *RunHandler) Config(c *gin.Context) {
	var req ConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx, cancel := h.context(c)
	defer cancel()
	targets, err := h.targets(ctx, req.Devices, req.Select)
	if err != nil {
		badRequest(c, err)
		return
	}
	rep, err := h.runner.RunMany(ctx, targets, service.Job{
		Commands: req.Commands,
		Mode:     driver.Config,
		Policy:   dispatch.Policy{AbortOnFirstFailure: req.AbortOnFirstFailure},
		Save:     req.Save,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	resp := RunResponse{Summary: rep.Summary(), Run: rep}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: resp.Summary.String(), Data: resp})
}

// Loopback 批量配置 loopback 并核对
// @Summary 下发 loopback 接口并用接口摘要核对
// @Tags run
// @Accept json
// @Produce json
// @Param request body LoopbackRequest true "loopback 计划"
// @Success 200 {object} SuccessResponse "执行完成"
// @Failure 400 {object} ErrorResponse "计划校验失败"
// @Router /api/v1/config/loopback [post]
func (h *RunHandler) Loopback(c *gin.Context) {
	var req LoopbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	plan := service.LoopbackPlan{Loopbacks: req.Loopbacks}
	if err := plan.Validate(); err != nil {
		badRequest(c, err)
		return
	}
	ctx, cancel := h.context(c)
	defer cancel()
	targets, err := h.targets(ctx, req.Devices, req.Select)
	if err != nil {
		badRequest(c, err)
		return
	}
	results, err := h.runner.ApplyLoopbacksMany(ctx, targets, plan, req.AbortOnFirstFailure)
	if err != nil {
		respondError(c, err)
		return
	}
	ok := 0
	for _, r := range results {
		if r.OK() {
			ok++
		}
	}
	c.JSON(http.StatusOK, SuccessResponse{
		Code:    "SUCCESS",
		Message: "loopback 配置完成",
		Data:    gin.H{"verified": ok, "total": len(results), "results": results},
	})
}

// Backup 备份运行配置到报表存储
// @Summary 读取多台设备的运行配置并写入存储
// @Tags run
// @Accept json
// @Produce json
// @Param request body BackupRequest true "备份请求"
// @Success 200 {object} SuccessResponse "执行完成，单台设备的失败记录在结果中"
// @Failure 400 {object} ErrorResponse "请求参数错误"
// @Failure 503 {object} ErrorResponse "未配置存储"
// @Router /api/v1/backup [post]
func (h *RunHandler) Backup(c *gin.Context) {
	var req BackupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if h.sink == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Code: "NO_STORAGE", Message: "report storage is not configured"})
		return
	}
	ctx, cancel := h.context(c)
	defer cancel()
	targets, err := h.targets(ctx, req.Devices, req.Select)
	if err != nil {
		badRequest(c, err)
		return
	}
	rep, err := h.runner.BackupMany(ctx, targets, h.sink)
	if err != nil {
		respondError(c, err)
		return
	}
	sum := rep.Summary()
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: sum.String(), Data: gin.H{"summary": sum, "backup": rep}})
}
