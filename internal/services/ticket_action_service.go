package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tacticaldesk/internal/automation"
	"tacticaldesk/internal/models"
	"tacticaldesk/pkg/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ticketFieldActions change-* 动作对应的工单字段
var ticketFieldActions = map[automation.ActionKind]string{
	automation.ActionChangeStatus:     "status",
	automation.ActionChangePriority:   "priority",
	automation.ActionChangeTeam:       "team",
	automation.ActionChangeAssignment: "assignment",
	automation.ActionChangeQueue:      "queue",
}

// TicketActionService 执行修改工单的自动化动作
// 这些修改直接写库，不会再次触发自动化
type TicketActionService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewTicketActionService 创建工单动作服务
func NewTicketActionService(db *gorm.DB, logger *logrus.Logger) *TicketActionService {
	if logger == nil {
		logger = logrus.New()
	}
	return &TicketActionService{db: db, logger: logger}
}

// Handle 按动作类型分派，供 Registry 注册
func (s *TicketActionService) Handle(ctx context.Context, req automation.ActionRequest) error {
	switch req.Kind {
	case automation.ActionAddPublicComment:
		return s.AddComment(ctx, req.TicketIdentifier, req.Value, true, automationAuthor(req))
	case automation.ActionAddPrivateComment:
		return s.AddComment(ctx, req.TicketIdentifier, req.Value, false, automationAuthor(req))
	}
	if field, ok := ticketFieldActions[req.Kind]; ok {
		return s.ChangeField(ctx, req.TicketIdentifier, field, req.Value)
	}
	return fmt.Errorf("%w: %q", automation.ErrUnsupportedAction, req.Kind)
}

// AddComment 为工单添加评论
func (s *TicketActionService) AddComment(ctx context.Context, reference, body string, public bool, author string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return automation.ErrActionValueRequired
	}
	ticket, err := s.findTicket(ctx, reference)
	if err != nil {
		return err
	}
	comment := &models.TicketComment{
		TicketID: ticket.ID,
		Body:     body,
		Public:   public,
		Author:   author,
	}
	if err := s.db.WithContext(ctx).Create(comment).Error; err != nil {
		return fmt.Errorf("failed to add comment: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"ticket": ticket.Reference, "public": public}).Info("automation added comment")
	return nil
}

// ChangeField 修改工单字段
func (s *TicketActionService) ChangeField(ctx context.Context, reference, field, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return automation.ErrActionValueRequired
	}
	ticket, err := s.findTicket(ctx, reference)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Model(ticket).Update(field, value).Error; err != nil {
		return fmt.Errorf("failed to change %s: %w", field, err)
	}
	s.logger.WithFields(logrus.Fields{"ticket": ticket.Reference, "field": field}).Info("automation changed ticket")
	return nil
}

func (s *TicketActionService) findTicket(ctx context.Context, reference string) (*models.Ticket, error) {
	ref := utils.NormalizeReference(reference)
	if ref == "" || ref == "UNKNOWN" {
		return nil, fmt.Errorf("%w: %q", ErrTicketNotFound, reference)
	}
	var ticket models.Ticket
	if err := s.db.WithContext(ctx).Where("reference = ?", ref).First(&ticket).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrTicketNotFound, reference)
		}
		return nil, fmt.Errorf("failed to load ticket: %w", err)
	}
	return &ticket, nil
}

func automationAuthor(req automation.ActionRequest) string {
	if req.AutomationName == "" {
		return "Automation"
	}
	return "Automation: " + req.AutomationName
}

// RegisterDefaultHandlers 注册全部动作处理器
func RegisterDefaultHandlers(registry *automation.Registry, notifications *NotificationService, tickets *TicketActionService) {
	if notifications != nil {
		registry.Register(automation.ActionSendNtfy, automation.ActionHandlerFunc(notifications.HandleNtfy))
		registry.Register(automation.ActionSendSMTPEmail, automation.ActionHandlerFunc(notifications.HandleEmail))
	}
	if tickets != nil {
		for _, kind := range []automation.ActionKind{
			automation.ActionAddPublicComment,
			automation.ActionAddPrivateComment,
			automation.ActionChangeStatus,
			automation.ActionChangePriority,
			automation.ActionChangeTeam,
			automation.ActionChangeAssignment,
			automation.ActionChangeQueue,
		} {
			registry.Register(kind, tickets)
		}
	}
}
