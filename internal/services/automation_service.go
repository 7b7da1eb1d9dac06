package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"tacticaldesk/internal/automation"
	"tacticaldesk/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	ErrAutomationNotFound  = errors.New("automation not found")
	ErrInvalidAutomation   = errors.New("invalid automation")
	ErrAutomationNameTaken = errors.New("automation name already exists")
)

// AutomationService 自动化规则管理，配置阶段完成过滤器与动作校验
type AutomationService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewAutomationService 创建自动化管理服务
func NewAutomationService(db *gorm.DB, logger *logrus.Logger) *AutomationService {
	if logger == nil {
		logger = logrus.New()
	}
	return &AutomationService{db: db, logger: logger}
}

// AutomationRequest 创建自动化请求
// TriggerFilters 与 TicketActions 保持原始 JSON，由 automation 包解析
type AutomationRequest struct {
	Name           string          `json:"name" binding:"required"`
	Description    string          `json:"description"`
	Playbook       string          `json:"playbook"`
	Kind           string          `json:"kind"`
	Cadence        string          `json:"cadence"`
	Trigger        *string         `json:"trigger"`
	TriggerFilters json.RawMessage `json:"trigger_filters"`
	TicketActions  json.RawMessage `json:"ticket_actions"`
	Status         string          `json:"status"`
}

// AutomationUpdateRequest 更新自动化请求，nil 字段保持不变
// TriggerFilters 传 null 表示清除过滤器
type AutomationUpdateRequest struct {
	Name           *string         `json:"name"`
	Description    *string         `json:"description"`
	Playbook       *string         `json:"playbook"`
	Cadence        *string         `json:"cadence"`
	Trigger        *string         `json:"trigger"`
	TriggerFilters json.RawMessage `json:"trigger_filters"`
	TicketActions  json.RawMessage `json:"ticket_actions"`
	Status         *string         `json:"status"`
}

// ListAutomations 获取自动化列表，kind 为空时返回全部
func (s *AutomationService) ListAutomations(ctx context.Context, kind string) ([]models.Automation, error) {
	query := s.db.WithContext(ctx).Model(&models.Automation{})
	if kind = strings.TrimSpace(strings.ToLower(kind)); kind != "" {
		query = query.Where("kind = ?", kind)
	}
	var automations []models.Automation
	if err := query.Order("id ASC").Find(&automations).Error; err != nil {
		return nil, fmt.Errorf("failed to list automations: %w", err)
	}
	return automations, nil
}

// GetAutomation 根据 ID 获取自动化
func (s *AutomationService) GetAutomation(ctx context.Context, id uint) (*models.Automation, error) {
	var a models.Automation
	if err := s.db.WithContext(ctx).First(&a, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAutomationNotFound
		}
		return nil, fmt.Errorf("failed to get automation: %w", err)
	}
	return &a, nil
}

// CreateAutomation 校验并创建自动化
func (s *AutomationService) CreateAutomation(ctx context.Context, req *AutomationRequest) (*models.Automation, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidAutomation)
	}
	kind := strings.TrimSpace(strings.ToLower(req.Kind))
	if kind == "" {
		kind = models.AutomationKindEvent
	}
	status := strings.TrimSpace(req.Status)
	if status == "" {
		status = "active"
	}

	a := &models.Automation{
		Name:        name,
		Description: req.Description,
		Playbook:    req.Playbook,
		Kind:        kind,
		Cadence:     strings.TrimSpace(req.Cadence),
		Status:      status,
	}
	if err := applyTriggerConfig(a, req.Trigger, req.TriggerFilters); err != nil {
		return nil, err
	}
	if err := applyTicketActions(a, req.TicketActions); err != nil {
		return nil, err
	}
	if err := validateKind(a); err != nil {
		return nil, err
	}
	if err := s.ensureUniqueName(ctx, name, 0); err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		return nil, fmt.Errorf("failed to create automation: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"automation_id": a.ID, "kind": a.Kind}).Infof("Created automation %q", a.Name)
	return a, nil
}

// UpdateAutomation 部分更新自动化，种类不可修改
func (s *AutomationService) UpdateAutomation(ctx context.Context, id uint, req *AutomationUpdateRequest) (*models.Automation, error) {
	a, err := s.GetAutomation(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name is required", ErrInvalidAutomation)
		}
		if err := s.ensureUniqueName(ctx, name, a.ID); err != nil {
			return nil, err
		}
		a.Name = name
	}
	if req.Description != nil {
		a.Description = *req.Description
	}
	if req.Playbook != nil {
		a.Playbook = *req.Playbook
	}
	if req.Cadence != nil {
		a.Cadence = strings.TrimSpace(*req.Cadence)
	}
	if req.Status != nil && strings.TrimSpace(*req.Status) != "" {
		a.Status = strings.TrimSpace(*req.Status)
	}
	if req.Trigger != nil || req.TriggerFilters != nil {
		trigger := req.Trigger
		if trigger == nil {
			trigger = a.Trigger
		}
		// 只传 trigger 时视为切回 legacy trigger，清除过滤器
		if err := applyTriggerConfig(a, trigger, req.TriggerFilters); err != nil {
			return nil, err
		}
	}
	if req.TicketActions != nil {
		if err := applyTicketActions(a, req.TicketActions); err != nil {
			return nil, err
		}
	}
	if err := validateKind(a); err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Save(a).Error; err != nil {
		return nil, fmt.Errorf("failed to update automation: %w", err)
	}
	s.logger.WithField("automation_id", a.ID).Infof("Updated automation %q", a.Name)
	return a, nil
}

// DeleteAutomation 删除自动化及其执行记录
func (s *AutomationService) DeleteAutomation(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("automation_id = ?", id).Delete(&models.AutomationRun{}).Error; err != nil {
			return fmt.Errorf("failed to delete automation runs: %w", err)
		}
		res := tx.Delete(&models.Automation{}, id)
		if res.Error != nil {
			return fmt.Errorf("failed to delete automation: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrAutomationNotFound
		}
		return nil
	})
}

// ListRuns 获取自动化最近的执行记录
func (s *AutomationService) ListRuns(ctx context.Context, id uint, limit int) ([]models.AutomationRun, error) {
	if _, err := s.GetAutomation(ctx, id); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 200 {
		limit = 200
	}
	var runs []models.AutomationRun
	if err := s.db.WithContext(ctx).
		Where("automation_id = ?", id).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list automation runs: %w", err)
	}
	return runs, nil
}

// TriggerDisplay 列表中展示的触发条件文本
func TriggerDisplay(a *models.Automation) string {
	if a == nil {
		return ""
	}
	if filter, ok := automation.StoredFilter(a); ok && len(filter.Conditions) > 0 {
		return filter.DisplayText()
	}
	if a.Trigger != nil {
		return strings.TrimSpace(*a.Trigger)
	}
	return ""
}

func (s *AutomationService) ensureUniqueName(ctx context.Context, name string, excludeID uint) error {
	var count int64
	query := s.db.WithContext(ctx).Model(&models.Automation{}).Where("LOWER(name) = ?", strings.ToLower(name))
	if excludeID != 0 {
		query = query.Where("id <> ?", excludeID)
	}
	if err := query.Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check automation name: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("%w: %q", ErrAutomationNameTaken, name)
	}
	return nil
}

// applyTriggerConfig 校验过滤器并写入规范化 JSON；单个无运算符条件推导出 legacy trigger
func applyTriggerConfig(a *models.Automation, trigger *string, rawFilter json.RawMessage) error {
	if isNullJSON(rawFilter) {
		a.TriggerFilters = ""
		a.Trigger = nil
		if trigger != nil && strings.TrimSpace(*trigger) != "" {
			name := strings.TrimSpace(*trigger)
			if !automation.IsEventTrigger(name) {
				return fmt.Errorf("%w: %w: %q", ErrInvalidAutomation, automation.ErrUnsupportedTrigger, name)
			}
			a.Trigger = &name
		}
		return nil
	}

	filter, err := automation.ParseFilter(rawFilter)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAutomation, err)
	}
	if err := automation.ValidateFilter(filter); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAutomation, err)
	}
	canonical, err := json.Marshal(filter)
	if err != nil {
		return fmt.Errorf("encode trigger filter: %w", err)
	}
	a.TriggerFilters = string(canonical)
	if derived, ok := filter.DerivedTrigger(); ok {
		a.Trigger = &derived
	} else {
		a.Trigger = nil
	}
	return nil
}

func applyTicketActions(a *models.Automation, raw json.RawMessage) error {
	if isNullJSON(raw) {
		a.TicketActions = "[]"
		return nil
	}
	entries, err := automation.DecodeActionEntries(string(raw))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAutomation, err)
	}
	actions, err := automation.ValidateTicketActions(entries)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAutomation, err)
	}
	canonical, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("encode ticket actions: %w", err)
	}
	a.TicketActions = string(canonical)
	return nil
}

func validateKind(a *models.Automation) error {
	switch a.Kind {
	case models.AutomationKindEvent:
		if a.TriggerFilters == "" && (a.Trigger == nil || *a.Trigger == "") {
			return fmt.Errorf("%w: event automations need a trigger or trigger filters", ErrInvalidAutomation)
		}
	case models.AutomationKindScheduled:
		if a.Cadence == "" {
			return fmt.Errorf("%w: scheduled automations need a cadence", ErrInvalidAutomation)
		}
	default:
		return fmt.Errorf("%w: unsupported kind %q", ErrInvalidAutomation, a.Kind)
	}
	return nil
}

func isNullJSON(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}
