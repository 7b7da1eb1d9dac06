package handlers

import (
	"context"
	"net/http"

	"tacticaldesk/internal/automation"
	"tacticaldesk/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// EventDispatcher 自动化事件分发接口
type EventDispatcher interface {
	Dispatch(ctx context.Context, event automation.Event) ([]*models.Automation, error)
}

// WebhookHandler 接收外部 webhook，映射为模板变量后分发给自动化引擎
type WebhookHandler struct {
	dispatcher EventDispatcher
	logger     *logrus.Logger
}

// NewWebhookHandler 创建 webhook 处理器
func NewWebhookHandler(dispatcher EventDispatcher, logger *logrus.Logger) *WebhookHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &WebhookHandler{dispatcher: dispatcher, logger: logger}
}

// WebhookReceipt webhook 接收回执
type WebhookReceipt struct {
	Status     string               `json:"status"`
	Variables  automation.Variables `json:"variables"`
	MappedKeys []string             `json:"mapped_keys"`
	Triggered  []string             `json:"triggered_automations"`
}

// ReceiveHTTPPost 通用 HTTPS POST webhook
func (h *WebhookHandler) ReceiveHTTPPost(c *gin.Context) {
	payload, ok := h.bindObject(c)
	if !ok {
		return
	}
	h.accept(c, automation.EventHTTPPostWebhookReceived, automation.BuildHTTPPostVariables(payload))
}

// ReceiveDiscord Discord 消息 webhook
func (h *WebhookHandler) ReceiveDiscord(c *gin.Context) {
	payload, ok := h.bindObject(c)
	if !ok {
		return
	}
	h.accept(c, automation.EventDiscordWebhookReceived, automation.BuildDiscordVariables(payload))
}

func (h *WebhookHandler) bindObject(c *gin.Context) (map[string]any, bool) {
	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid webhook payload",
			Message: "body must be a JSON object",
			Code:    http.StatusBadRequest,
		})
		return nil, false
	}
	return payload, true
}

// accept 只以变量分发，payload 不参与工单编号解析
func (h *WebhookHandler) accept(c *gin.Context, eventType string, vars automation.Variables) {
	triggered, err := h.dispatcher.Dispatch(c.Request.Context(), automation.Event{
		Type:      eventType,
		Variables: vars,
	})
	if err != nil {
		h.logger.WithError(err).WithField("event", eventType).Error("Webhook dispatch failed")
	}

	names := make([]string, 0, len(triggered))
	for _, a := range triggered {
		names = append(names, a.Name)
	}
	c.JSON(http.StatusOK, WebhookReceipt{
		Status:     "accepted",
		Variables:  vars,
		MappedKeys: mappedKeys(vars),
		Triggered:  names,
	})
}

// mappedKeys 返回有值的变量名
func mappedKeys(vars automation.Variables) []string {
	keys := make([]string, 0, len(vars))
	for _, key := range vars.Keys() {
		if vars[key] != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

// RegisterWebhookRoutes 注册 webhook 路由
func RegisterWebhookRoutes(r *gin.RouterGroup, handler *WebhookHandler) {
	hooks := r.Group("/webhooks")
	{
		hooks.POST("/https-post", handler.ReceiveHTTPPost)
		hooks.POST("/discord", handler.ReceiveDiscord)
	}
}
