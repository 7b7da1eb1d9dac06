package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"tacticaldesk/internal/automation"
	"tacticaldesk/internal/services"

	"github.com/gin-gonic/gin"
)

// ErrorResponse 错误响应结构
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

// PaginatedResponse 分页响应结构
type PaginatedResponse struct {
	Data     interface{} `json:"data"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Pages    int         `json:"pages"`
}

// SuccessResponse 成功响应结构
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// 自动化配置错误统一返回 400
var configurationErrors = []error{
	services.ErrInvalidAutomation,
	services.ErrInvalidTicket,
	automation.ErrUnsupportedTrigger,
	automation.ErrUnsupportedOperator,
	automation.ErrOperatorRequired,
	automation.ErrValueRequired,
	automation.ErrEmptyCondition,
	automation.ErrEmptyFilter,
	automation.ErrInvalidMatch,
	automation.ErrUnsupportedAction,
	automation.ErrActionRequired,
	automation.ErrActionValueRequired,
}

// statusForError 将服务层错误映射为 HTTP 状态码
func statusForError(err error) int {
	switch {
	case errors.Is(err, services.ErrAutomationNotFound), errors.Is(err, services.ErrTicketNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrAutomationNameTaken):
		return http.StatusConflict
	}
	for _, target := range configurationErrors {
		if errors.Is(err, target) {
			return http.StatusBadRequest
		}
	}
	return http.StatusInternalServerError
}

// respondError 输出带状态码的错误响应
func respondError(c *gin.Context, title string, err error) {
	status := statusForError(err)
	c.JSON(status, ErrorResponse{Error: title, Message: err.Error(), Code: status})
}

// parseIDParam 解析路径中的数字 ID
func parseIDParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid " + name,
			Message: "ID must be a positive number",
			Code:    http.StatusBadRequest,
		})
		return 0, false
	}
	return uint(id), true
}

func totalPages(total int64, pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	return int((total + int64(pageSize) - 1) / int64(pageSize))
}
