package handlers

import (
	"net/http"

	"tacticaldesk/internal/services"
	"tacticaldesk/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// TicketHandler 工单处理器，创建与更新会驱动自动化引擎
type TicketHandler struct {
	ticketService *services.TicketService
	logger        *logrus.Logger
}

// NewTicketHandler 创建工单处理器
func NewTicketHandler(ticketService *services.TicketService, logger *logrus.Logger) *TicketHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &TicketHandler{
		ticketService: ticketService,
		logger:        logger,
	}
}

// CreateTicket 创建工单
// @Summary 创建工单
// @Tags 工单
// @Accept json
// @Produce json
// @Param ticket body services.TicketCreateRequest true "工单信息"
// @Success 201 {object} services.TicketMutation
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/tickets [post]
func (h *TicketHandler) CreateTicket(c *gin.Context) {
	var req services.TicketCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
			Code:    http.StatusBadRequest,
		})
		return
	}

	result, err := h.ticketService.CreateTicket(c.Request.Context(), &req)
	if err != nil {
		h.logger.Errorf("Failed to create ticket: %v", err)
		respondError(c, "Failed to create ticket", err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// GetTicket 获取工单详情
// @Summary 获取工单详情
// @Tags 工单
// @Produce json
// @Param reference path string true "工单编号"
// @Success 200 {object} models.Ticket
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/tickets/{reference} [get]
func (h *TicketHandler) GetTicket(c *gin.Context) {
	ticket, err := h.ticketService.GetTicket(c.Request.Context(), c.Param("reference"))
	if err != nil {
		respondError(c, "Ticket not found", err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}

// UpdateTicket 更新工单
// @Summary 更新工单
// @Tags 工单
// @Accept json
// @Produce json
// @Param reference path string true "工单编号"
// @Param ticket body services.TicketUpdateRequest true "更新信息"
// @Success 200 {object} services.TicketMutation
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/tickets/{reference} [patch]
func (h *TicketHandler) UpdateTicket(c *gin.Context) {
	var req services.TicketUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
			Code:    http.StatusBadRequest,
		})
		return
	}

	result, err := h.ticketService.UpdateTicket(c.Request.Context(), c.Param("reference"), &req)
	if err != nil {
		h.logger.Errorf("Failed to update ticket %s: %v", c.Param("reference"), err)
		respondError(c, "Failed to update ticket", err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// ListTickets 获取工单列表
// @Summary 获取工单列表
// @Tags 工单
// @Produce json
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Param status query string false "状态"
// @Param priority query string false "优先级"
// @Param search query string false "搜索关键词"
// @Success 200 {object} PaginatedResponse
// @Router /api/v1/tickets [get]
func (h *TicketHandler) ListTickets(c *gin.Context) {
	var req services.TicketListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid query parameters",
			Message: err.Error(),
			Code:    http.StatusBadRequest,
		})
		return
	}

	tickets, total, err := h.ticketService.ListTickets(c.Request.Context(), &req)
	if err != nil {
		h.logger.Errorf("Failed to list tickets: %v", err)
		respondError(c, "Failed to list tickets", err)
		return
	}

	page, pageSize := utils.ClampPage(req.Page, req.PageSize, 100)
	c.JSON(http.StatusOK, PaginatedResponse{
		Data:     tickets,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		Pages:    totalPages(total, pageSize),
	})
}

// RegisterTicketRoutes 注册工单相关路由
func RegisterTicketRoutes(r *gin.RouterGroup, handler *TicketHandler) {
	tickets := r.Group("/tickets")
	{
		tickets.POST("", handler.CreateTicket)
		tickets.GET("", handler.ListTickets)
		tickets.GET("/:reference", handler.GetTicket)
		tickets.PATCH("/:reference", handler.UpdateTicket)
	}
}
