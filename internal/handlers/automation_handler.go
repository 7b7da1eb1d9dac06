package handlers

import (
	"net/http"
	"strconv"

	"tacticaldesk/internal/automation"
	"tacticaldesk/internal/models"
	"tacticaldesk/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AutomationHandler 管理自动化规则、目录、手动分发与事件日志
type AutomationHandler struct {
	service *services.AutomationService
	engine  *automation.Engine
	logger  *logrus.Logger
}

// NewAutomationHandler 创建自动化处理器
func NewAutomationHandler(service *services.AutomationService, engine *automation.Engine, logger *logrus.Logger) *AutomationHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &AutomationHandler{service: service, engine: engine, logger: logger}
}

// AutomationResponse 自动化规则及其触发条件的展示文本
type AutomationResponse struct {
	models.Automation
	TriggerDisplay string `json:"trigger_display"`
}

func toAutomationResponse(a *models.Automation) AutomationResponse {
	return AutomationResponse{Automation: *a, TriggerDisplay: services.TriggerDisplay(a)}
}

// DispatchRequest 手动分发事件请求
type DispatchRequest struct {
	EventType string            `json:"event_type" binding:"required"`
	Before    map[string]any    `json:"before"`
	After     map[string]any    `json:"after"`
	Payload   map[string]any    `json:"payload"`
	Variables map[string]string `json:"variables"`
}

// TriggeredAutomation 分发结果中命中的自动化
type TriggeredAutomation struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

type operatorOption struct {
	Value automation.Operator `json:"value"`
	Label string              `json:"label"`
}

// ListAutomations 获取自动化列表，可按 kind 过滤
func (h *AutomationHandler) ListAutomations(c *gin.Context) {
	automations, err := h.service.ListAutomations(c.Request.Context(), c.Query("kind"))
	if err != nil {
		h.logger.Errorf("Failed to list automations: %v", err)
		respondError(c, "Failed to list automations", err)
		return
	}
	out := make([]AutomationResponse, 0, len(automations))
	for i := range automations {
		out = append(out, toAutomationResponse(&automations[i]))
	}
	c.JSON(http.StatusOK, out)
}

// GetAutomation 获取单个自动化
func (h *AutomationHandler) GetAutomation(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	a, err := h.service.GetAutomation(c.Request.Context(), id)
	if err != nil {
		respondError(c, "Automation not found", err)
		return
	}
	c.JSON(http.StatusOK, toAutomationResponse(a))
}

// CreateAutomation 创建自动化
func (h *AutomationHandler) CreateAutomation(c *gin.Context) {
	var req services.AutomationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Message: err.Error(), Code: http.StatusBadRequest})
		return
	}
	a, err := h.service.CreateAutomation(c.Request.Context(), &req)
	if err != nil {
		respondError(c, "Failed to create automation", err)
		return
	}
	c.JSON(http.StatusCreated, toAutomationResponse(a))
}

// UpdateAutomation 部分更新自动化
func (h *AutomationHandler) UpdateAutomation(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req services.AutomationUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Message: err.Error(), Code: http.StatusBadRequest})
		return
	}
	a, err := h.service.UpdateAutomation(c.Request.Context(), id, &req)
	if err != nil {
		respondError(c, "Failed to update automation", err)
		return
	}
	c.JSON(http.StatusOK, toAutomationResponse(a))
}

// DeleteAutomation 删除自动化及其运行记录
func (h *AutomationHandler) DeleteAutomation(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteAutomation(c.Request.Context(), id); err != nil {
		respondError(c, "Failed to delete automation", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "deleted"})
}

// ListRuns 获取自动化运行记录
func (h *AutomationHandler) ListRuns(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	runs, err := h.service.ListRuns(c.Request.Context(), id, limit)
	if err != nil {
		respondError(c, "Failed to list runs", err)
		return
	}
	c.JSON(http.StatusOK, runs)
}

// Catalog 返回触发条件、运算符、动作与模板变量目录
func (h *AutomationHandler) Catalog(c *gin.Context) {
	operators := make([]operatorOption, 0, len(automation.Operators))
	for _, op := range automation.Operators {
		operators = append(operators, operatorOption{Value: op, Label: op.Label()})
	}
	c.JSON(http.StatusOK, gin.H{
		"triggers":                automation.EventTriggers,
		"value_required_triggers": automation.ValueRequiredTriggers,
		"operators":               operators,
		"actions":                 automation.Actions,
		"template_variables": gin.H{
			"ticket":  automation.TicketTemplateVariables,
			"webhook": automation.HTTPPostTemplateVariables,
			"discord": automation.DiscordTemplateVariables,
		},
	})
}

// Dispatch 手动分发一个事件给自动化引擎
func (h *AutomationHandler) Dispatch(c *gin.Context) {
	var req DispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Message: err.Error(), Code: http.StatusBadRequest})
		return
	}
	if !automation.IsEventTrigger(req.EventType) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Unsupported event type",
			Message: req.EventType,
			Code:    http.StatusBadRequest,
		})
		return
	}

	triggered, err := h.engine.Dispatch(c.Request.Context(), automation.Event{
		Type:      req.EventType,
		Before:    req.Before,
		After:     req.After,
		Payload:   req.Payload,
		Variables: req.Variables,
	})
	if err != nil && triggered == nil {
		h.logger.WithError(err).WithField("event", req.EventType).Error("Manual dispatch failed")
		respondError(c, "Dispatch failed", err)
		return
	}
	if err != nil {
		h.logger.WithError(err).WithField("event", req.EventType).Warn("Manual dispatch completed with errors")
	}

	c.JSON(http.StatusOK, gin.H{
		"event_type": req.EventType,
		"triggered":  summarizeTriggered(triggered),
	})
}

// ListEvents 查看事件日志
func (h *AutomationHandler) ListEvents(c *gin.Context) {
	events := h.engine.Events().ListEvents()
	c.JSON(http.StatusOK, gin.H{"events": events, "total": len(events)})
}

// ResetEvents 清空事件日志
func (h *AutomationHandler) ResetEvents(c *gin.Context) {
	h.engine.Events().Reset()
	c.JSON(http.StatusOK, SuccessResponse{Message: "event log cleared"})
}

func summarizeTriggered(automations []*models.Automation) []TriggeredAutomation {
	out := make([]TriggeredAutomation, 0, len(automations))
	for _, a := range automations {
		out = append(out, TriggeredAutomation{ID: a.ID, Name: a.Name})
	}
	return out
}

// RegisterAutomationRoutes 注册路由
func RegisterAutomationRoutes(r *gin.RouterGroup, handler *AutomationHandler) {
	auto := r.Group("/automations")
	{
		auto.GET("", handler.ListAutomations)
		auto.POST("", handler.CreateAutomation)
		auto.GET("/catalog", handler.Catalog)
		auto.POST("/dispatch", handler.Dispatch)
		auto.GET("/events", handler.ListEvents)
		auto.DELETE("/events", handler.ResetEvents)
		auto.GET("/:id", handler.GetAutomation)
		auto.PATCH("/:id", handler.UpdateAutomation)
		auto.DELETE("/:id", handler.DeleteAutomation)
		auto.GET("/:id/runs", handler.ListRuns)
	}
}
