package models

import (
	"time"

	"gorm.io/gorm"
)

// 工单模型
// Reference 为对外展示的工单编号（例如 TD-4821），自动化按该编号定位工单
type Ticket struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	Reference     string         `gorm:"size:64;uniqueIndex;not null" json:"reference"`
	Subject       string         `gorm:"not null" json:"subject"`
	Customer      string         `json:"customer"`
	CustomerEmail string         `json:"customer_email"`
	Status        string         `gorm:"default:'Open'" json:"status"`
	Priority      string         `gorm:"default:'Normal'" json:"priority"`
	Category      string         `json:"category"`
	Team          string         `json:"team"`
	Assignment    string         `json:"assignment"`
	Queue         string         `json:"queue"`
	Summary       string         `gorm:"type:text" json:"summary"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`

	Comments []TicketComment `gorm:"foreignKey:TicketID" json:"comments,omitempty"`
}

// Snapshot 返回工单的字段快照，供自动化引擎比较变更前后状态
func (t *Ticket) Snapshot() map[string]any {
	return map[string]any{
		"id":             t.Reference,
		"subject":        t.Subject,
		"customer":       t.Customer,
		"customer_email": t.CustomerEmail,
		"status":         t.Status,
		"priority":       t.Priority,
		"category":       t.Category,
		"team":           t.Team,
		"assignment":     t.Assignment,
		"queue":          t.Queue,
		"summary":        t.Summary,
		"created_at":     t.CreatedAt,
		"updated_at":     t.UpdatedAt,
	}
}

// 工单评论
type TicketComment struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TicketID  uint      `gorm:"index" json:"ticket_id"`
	Body      string    `gorm:"type:text;not null" json:"body"`
	Public    bool      `gorm:"default:false" json:"public"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

// IntegrationModule 外部集成模块（ntfy、smtp-email）
type IntegrationModule struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Slug      string    `gorm:"size:64;uniqueIndex;not null" json:"slug"`
	Name      string    `json:"name"`
	Enabled   bool      `gorm:"default:false" json:"enabled"`
	Settings  string    `gorm:"type:text" json:"settings"` // JSON
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ModuleCallLog 集成模块的外部调用记录
type ModuleCallLog struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	ModuleSlug      string    `gorm:"size:64;index" json:"module_slug"`
	Method          string    `gorm:"size:16" json:"method"`
	URL             string    `json:"url"`
	RequestPayload  string    `gorm:"type:text" json:"request_payload"`
	StatusCode      *int      `json:"status_code,omitempty"`
	ResponsePayload string    `gorm:"type:text" json:"response_payload,omitempty"`
	Error           string    `gorm:"type:text" json:"error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
