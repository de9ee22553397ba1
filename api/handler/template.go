package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sshcollectorpro/netauto/internal/parser"
	"github.com/sshcollectorpro/netauto/internal/report"
)

// ParseRequest 解析请求；Template 非空时使用内联模板，否则按平台与命令查找
type ParseRequest struct {
	Platform string `json:"platform"`
	Command  string `json:"command"`
	Output   string `json:"output"`
	Template string `json:"template"`
}

// RenderRequest 渲染请求
type RenderRequest struct {
	Records []map[string]interface{} `json:"records"`
	report.FormatSpec
	// Store 写入报表存储并返回对象信息，否则直接返回渲染内容
	Store bool `json:"store"`
}

// TemplateHandler 模板查询、解析与渲染
type TemplateHandler struct {
	registry *parser.Registry
	sink     report.Sink
	prefix   string
}

// NewTemplateHandler 创建处理器；sink 为空时不支持 store
func NewTemplateHandler(registry *parser.Registry, sink report.Sink, prefix string) *TemplateHandler {
	return &TemplateHandler{registry: registry, sink: sink, prefix: prefix}
}

// List 模板列表
// @Summary 已注册的解析模板
// @Tags template
// @Produce json
// @Param platform query string false "按平台筛选"
// @Success 200 {object} SuccessResponse
// @Router /api/v1/templates [get]
func (h *TemplateHandler) List(c *gin.Context) {
	platform := parser.NormalizePlatform(c.Query("platform"))
	entries := make([]parser.Entry, 0)
	for _, e := range h.registry.Entries() {
		if platform == "" || e.Platform == platform {
			entries = append(entries, e)
		}
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "获取模板列表成功", Data: entries})
}

// Parse 解析一段原始输出
// @Summary 用模板解析命令输出
// @Tags template
// @Accept json
// @Produce json
// @Param request body ParseRequest true "解析请求"
// @Success 200 {object} SuccessResponse "解析结果"
// @Failure 404 {object} ErrorResponse "没有匹配的模板"
// @Failure 422 {object} ErrorResponse "没有记录匹配"
// @Router /api/v1/parse [post]
func (h *TemplateHandler) Parse(c *gin.Context) {
	var req ParseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	var (
		res parser.Result
		err error
	)
	if req.Template != "" {
		tpl, cerr := parser.Compile("inline", req.Template)
		if cerr != nil {
			respondError(c, cerr)
			return
		}
		res, err = tpl.Parse(req.Output)
	} else {
		if req.Platform == "" || req.Command == "" {
			badRequest(c, errors.New("platform and command are required without an inline template"))
			return
		}
		res, err = h.registry.Parse(req.Platform, req.Command, req.Output)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "解析成功", Data: res})
}

// Render 将记录渲染为报表
// @Summary 渲染记录为 text/markdown/csv/json/html
// @Tags template
// @Accept json
// @Param request body RenderRequest true "渲染请求"
// @Success 200 {string} string "渲染内容，store 为 true 时返回对象信息"
// @Failure 400 {object} ErrorResponse "请求参数错误"
// @Router /api/v1/render [post]
func (h *TemplateHandler) Render(c *gin.Context) {
	var req RenderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	format, err := report.ParseFormat(string(req.Format))
	if err != nil {
		badRequest(c, err)
		return
	}
	spec := req.FormatSpec
	spec.Format = format

	records := make([]parser.Record, 0, len(req.Records))
	for _, m := range req.Records {
		rec, err := parser.RecordFromMap(m)
		if err != nil {
			badRequest(c, err)
			return
		}
		records = append(records, rec)
	}

	if req.Store {
		if h.sink == nil {
			badRequest(c, errors.New("report storage is not configured"))
			return
		}
		obj, err := publish(c.Request.Context(), h.sink, h.prefix, time.Now(), records, spec)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "报表已保存", Data: obj})
		return
	}
	content, err := report.Render(records, spec)
	if err != nil {
		badRequest(c, err)
		return
	}
	c.Data(http.StatusOK, format.ContentType(), []byte(content))
}

// publish 写入报表；回退到备用目标也视为成功
func publish(ctx context.Context, sink report.Sink, prefix string, ts time.Time, records []parser.Record, spec report.FormatSpec) (report.StoredObject, error) {
	obj, err := report.Publish(ctx, sink, prefix, ts, records, spec)
	var fe *report.FallbackError
	if errors.As(err, &fe) {
		return fe.Object, nil
	}
	return obj, err
}
