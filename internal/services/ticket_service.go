package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tacticaldesk/internal/automation"
	"tacticaldesk/internal/models"
	"tacticaldesk/pkg/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	// ErrTicketNotFound 工单不存在
	ErrTicketNotFound = errors.New("ticket not found")
	// ErrInvalidTicket 工单请求校验失败
	ErrInvalidTicket = errors.New("invalid ticket")
)

// Dispatcher 自动化事件分发接口，由 automation.Engine 实现
type Dispatcher interface {
	Dispatch(ctx context.Context, event automation.Event) ([]*models.Automation, error)
}

// TicketService 工单管理服务，创建与更新后将事件交给自动化引擎
type TicketService struct {
	db              *gorm.DB
	dispatcher      Dispatcher
	dispatchTimeout time.Duration
	logger          *logrus.Logger
}

// NewTicketService 创建工单服务；dispatcher 为 nil 时不触发自动化
func NewTicketService(db *gorm.DB, dispatcher Dispatcher, dispatchTimeout time.Duration, logger *logrus.Logger) *TicketService {
	if logger == nil {
		logger = logrus.New()
	}
	return &TicketService{
		db:              db,
		dispatcher:      dispatcher,
		dispatchTimeout: dispatchTimeout,
		logger:          logger,
	}
}

// TicketCreateRequest 创建工单请求
type TicketCreateRequest struct {
	Subject       string `json:"subject" binding:"required"`
	Customer      string `json:"customer"`
	CustomerEmail string `json:"customer_email"`
	Status        string `json:"status"`
	Priority      string `json:"priority"`
	Category      string `json:"category"`
	Team          string `json:"team"`
	Assignment    string `json:"assignment"`
	Queue         string `json:"queue"`
	Summary       string `json:"summary"`
}

// TicketUpdateRequest 更新工单请求，nil 字段保持不变
// Actor 为 "customer" 时非状态变更触发 Ticket Updated by Customer
type TicketUpdateRequest struct {
	Subject       *string `json:"subject"`
	Customer      *string `json:"customer"`
	CustomerEmail *string `json:"customer_email"`
	Status        *string `json:"status"`
	Priority      *string `json:"priority"`
	Category      *string `json:"category"`
	Team          *string `json:"team"`
	Assignment    *string `json:"assignment"`
	Queue         *string `json:"queue"`
	Summary       *string `json:"summary"`
	Actor         string  `json:"actor"`
}

// TicketListRequest 工单列表请求
type TicketListRequest struct {
	Page     int    `form:"page,default=1"`
	PageSize int    `form:"page_size,default=20"`
	Status   string `form:"status"`
	Priority string `form:"priority"`
	Search   string `form:"search"`
}

// TicketMutation 工单变更结果及其触发的自动化
type TicketMutation struct {
	Ticket    *models.Ticket `json:"ticket"`
	Event     string         `json:"event,omitempty"`
	Triggered []string       `json:"triggered_automations"`
}

// CreateTicket 创建工单并触发 Ticket Created
func (s *TicketService) CreateTicket(ctx context.Context, req *TicketCreateRequest) (*TicketMutation, error) {
	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		return nil, fmt.Errorf("%w: subject is required", ErrInvalidTicket)
	}
	ticket := &models.Ticket{
		Reference:     utils.GenerateID(),
		Subject:       subject,
		Customer:      req.Customer,
		CustomerEmail: req.CustomerEmail,
		Status:        defaultString(req.Status, "Open"),
		Priority:      defaultString(req.Priority, "Normal"),
		Category:      req.Category,
		Team:          req.Team,
		Assignment:    req.Assignment,
		Queue:         req.Queue,
		Summary:       req.Summary,
	}

	// 先以临时编号入库，再根据 ID 生成对外编号
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(ticket).Error; err != nil {
			return err
		}
		ticket.Reference = utils.TicketReference(ticket.ID)
		return tx.Model(ticket).Update("reference", ticket.Reference).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ticket: %w", err)
	}
	s.logger.WithField("ticket", ticket.Reference).Info("Created ticket")

	triggered := s.dispatch(ctx, automation.Event{
		Type:    automation.EventTicketCreated,
		After:   ticket.Snapshot(),
		Payload: ticket.Snapshot(),
	})
	return s.mutationResult(ctx, ticket.Reference, automation.EventTicketCreated, triggered)
}

// GetTicket 根据工单编号获取工单及评论
func (s *TicketService) GetTicket(ctx context.Context, reference string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := s.db.WithContext(ctx).
		Preload("Comments", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		}).
		Where("reference = ?", utils.NormalizeReference(reference)).
		First(&ticket).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	return &ticket, nil
}

// UpdateTicket 更新工单，比较前后快照推导事件类型并分发
func (s *TicketService) UpdateTicket(ctx context.Context, reference string, req *TicketUpdateRequest) (*TicketMutation, error) {
	ticket, err := s.GetTicket(ctx, reference)
	if err != nil {
		return nil, err
	}
	before := ticket.Snapshot()

	updates := make(map[string]any)
	setIfChanged := func(field string, value *string, current string) {
		if value != nil && *value != current {
			updates[field] = *value
		}
	}
	setIfChanged("subject", req.Subject, ticket.Subject)
	setIfChanged("customer", req.Customer, ticket.Customer)
	setIfChanged("customer_email", req.CustomerEmail, ticket.CustomerEmail)
	setIfChanged("status", req.Status, ticket.Status)
	setIfChanged("priority", req.Priority, ticket.Priority)
	setIfChanged("category", req.Category, ticket.Category)
	setIfChanged("team", req.Team, ticket.Team)
	setIfChanged("assignment", req.Assignment, ticket.Assignment)
	setIfChanged("queue", req.Queue, ticket.Queue)
	setIfChanged("summary", req.Summary, ticket.Summary)

	if len(updates) == 0 {
		return &TicketMutation{Ticket: ticket, Triggered: []string{}}, nil
	}
	if err := s.db.WithContext(ctx).Model(ticket).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update ticket: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"ticket": ticket.Reference, "fields": len(updates)}).Info("Updated ticket")

	ticket, err = s.GetTicket(ctx, ticket.Reference)
	if err != nil {
		return nil, err
	}
	after := ticket.Snapshot()
	eventType := automation.DeriveTicketUpdateEventType(before, after)
	if eventType == automation.EventTicketUpdatedByTechnician && strings.EqualFold(strings.TrimSpace(req.Actor), "customer") {
		eventType = automation.EventTicketUpdatedByCustomer
	}

	payload := make(map[string]any, len(updates)+1)
	for field, value := range updates {
		payload[field] = value
	}
	payload["id"] = ticket.Reference

	triggered := s.dispatch(ctx, automation.Event{
		Type:    eventType,
		Before:  before,
		After:   after,
		Payload: payload,
	})
	return s.mutationResult(ctx, ticket.Reference, eventType, triggered)
}

// ListTickets 获取工单列表
func (s *TicketService) ListTickets(ctx context.Context, req *TicketListRequest) ([]models.Ticket, int64, error) {
	page, pageSize := utils.ClampPage(req.Page, req.PageSize, 100)
	query := s.db.WithContext(ctx).Model(&models.Ticket{})
	if req.Status != "" {
		query = query.Where("LOWER(status) = ?", strings.ToLower(req.Status))
	}
	if req.Priority != "" {
		query = query.Where("LOWER(priority) = ?", strings.ToLower(req.Priority))
	}
	if req.Search != "" {
		term := "%" + strings.ToLower(req.Search) + "%"
		query = query.Where("LOWER(subject) LIKE ? OR LOWER(summary) LIKE ? OR LOWER(reference) LIKE ?", term, term, term)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count tickets: %w", err)
	}
	var tickets []models.Ticket
	if err := query.Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&tickets).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list tickets: %w", err)
	}
	return tickets, total, nil
}

// dispatch 分发失败只记录日志，工单变更已落库
func (s *TicketService) dispatch(ctx context.Context, event automation.Event) []string {
	names := []string{}
	if s.dispatcher == nil {
		return names
	}
	if s.dispatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.dispatchTimeout)
		defer cancel()
	}
	triggered, err := s.dispatcher.Dispatch(ctx, event)
	if err != nil {
		s.logger.WithError(err).WithField("event", event.Type).Error("automation dispatch failed")
	}
	for _, a := range triggered {
		names = append(names, a.Name)
	}
	return names
}

// mutationResult 重新加载工单，使响应包含自动化动作造成的变更
func (s *TicketService) mutationResult(ctx context.Context, reference, eventType string, triggered []string) (*TicketMutation, error) {
	ticket, err := s.GetTicket(ctx, reference)
	if err != nil {
		return nil, err
	}
	return &TicketMutation{Ticket: ticket, Event: eventType, Triggered: triggered}, nil
}

func defaultString(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}
