package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sshcollectorpro/netauto/internal/database"
	"github.com/sshcollectorpro/netauto/internal/dispatch"
	"github.com/sshcollectorpro/netauto/internal/driver"
	"github.com/sshcollectorpro/netauto/internal/parser"
	"github.com/sshcollectorpro/netauto/internal/service"
	"github.com/sshcollectorpro/netauto/pkg/logger"
)

// ErrorResponse 错误响应
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SuccessResponse 成功响应
type SuccessResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

const (
	CodeInvalidParams = "INVALID_PARAMS"
	CodeNotFound      = "NOT_FOUND"
)

// statusByCode 错误码到 HTTP 状态码
var statusByCode = map[string]int{
	CodeInvalidParams:           http.StatusBadRequest,
	CodeNotFound:                http.StatusNotFound,
	"INVALID_COMMAND":           http.StatusBadRequest,
	"NO_CREDENTIALS":            http.StatusBadRequest,
	dispatch.CodePrecondition:   http.StatusConflict,
	driver.CodeAuthFailed:       http.StatusBadGateway,
	driver.CodeModeTransition:   http.StatusBadGateway,
	driver.CodeSessionUnusable:  http.StatusBadGateway,
	"ABORTED":                   http.StatusBadGateway,
	"NOT_SAVED":                 http.StatusBadGateway,
	"BACKUP_UNSUPPORTED":        http.StatusBadRequest,
	driver.CodeConnectTimeout:   http.StatusGatewayTimeout,
	driver.CodeCommandTimeout:   http.StatusGatewayTimeout,
	parser.CodeNoTemplate:       http.StatusNotFound,
	parser.CodeNoRecordsMatched: http.StatusUnprocessableEntity,
	parser.CodeTemplateError:    http.StatusUnprocessableEntity,
	parser.CodeTemplateInvalid:  http.StatusBadRequest,
	"CANCELLED":                 http.StatusServiceUnavailable,
}

// HTTPStatus 错误码对应的状态码，未知错误码为 500
func HTTPStatus(code string) int {
	if s, ok := statusByCode[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// errorCode 错误码；数据库未找到归为 NOT_FOUND
func errorCode(err error) string {
	if errors.Is(err, database.ErrNotFound) {
		return CodeNotFound
	}
	return service.ErrorCode(err)
}

// respondError 按错误码输出错误响应
func respondError(c *gin.Context, err error) {
	code := errorCode(err)
	status := HTTPStatus(code)
	if status >= http.StatusInternalServerError {
		logger.WithField("request_id", c.GetString("request_id")).Errorf("request failed: %v", err)
	}
	c.JSON(status, ErrorResponse{Code: code, Message: err.Error()})
}

// badRequest 参数错误
func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Code: CodeInvalidParams, Message: "请求参数无效: " + err.Error()})
}
