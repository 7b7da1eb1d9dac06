package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"tacticaldesk/internal/automation"
	"tacticaldesk/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AutomationStore 基于 gorm 的自动化持久化实现
type AutomationStore struct {
	db     *gorm.DB
	logger *logrus.Logger
}

var _ automation.Store = (*AutomationStore)(nil)

// NewAutomationStore 创建自动化存储
func NewAutomationStore(db *gorm.DB, logger *logrus.Logger) *AutomationStore {
	if logger == nil {
		logger = logrus.New()
	}
	return &AutomationStore{db: db, logger: logger}
}

// ListEventAutomations 按 id 升序返回所有事件型自动化
func (s *AutomationStore) ListEventAutomations(ctx context.Context) ([]*models.Automation, error) {
	var automations []*models.Automation
	if err := s.db.WithContext(ctx).
		Where("kind = ?", models.AutomationKindEvent).
		Order("id ASC").
		Find(&automations).Error; err != nil {
		return nil, fmt.Errorf("failed to list event automations: %w", err)
	}
	return automations, nil
}

// SaveTriggered 每条记录一个事务：更新 last_trigger_at 并写入执行记录
// 事务提交后才回写 Automation.LastTriggerAt；单条失败不影响其余记录，返回首个错误
func (s *AutomationStore) SaveTriggered(ctx context.Context, records []automation.TriggeredRecord) error {
	var firstErr error
	for _, record := range records {
		if record.Automation == nil {
			continue
		}
		if err := s.saveRecord(ctx, record); err != nil {
			s.logger.WithError(err).WithField("automation_id", record.Automation.ID).Error("failed to save automation run")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		at := record.TriggeredAt.UTC()
		record.Automation.LastTriggerAt = &at
	}
	return firstErr
}

func (s *AutomationStore) saveRecord(ctx context.Context, record automation.TriggeredRecord) error {
	actions, err := json.Marshal(record.Actions)
	if err != nil {
		return fmt.Errorf("encode rendered actions: %w", err)
	}
	triggeredAt := record.TriggeredAt.UTC()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Automation{}).
			Where("id = ?", record.Automation.ID).
			Update("last_trigger_at", triggeredAt).Error; err != nil {
			return fmt.Errorf("update last_trigger_at: %w", err)
		}
		run := &models.AutomationRun{
			AutomationID: record.Automation.ID,
			EventType:    record.EventType,
			TicketID:     record.TicketID,
			Status:       record.Status(),
			Actions:      string(actions),
			Message:      runMessage(record.Actions),
			CreatedAt:    triggeredAt,
		}
		if err := tx.Create(run).Error; err != nil {
			return fmt.Errorf("create automation run: %w", err)
		}
		return nil
	})
}

// runMessage 汇总失败动作的错误信息
func runMessage(actions []automation.RenderedAction) string {
	var errs []string
	for _, action := range actions {
		if action.Error != "" {
			errs = append(errs, action.Action+": "+action.Error)
		}
	}
	return strings.Join(errs, "; ")
}
