package models

import "time"

const (
	AutomationKindScheduled = "scheduled"
	AutomationKindEvent     = "event"
)

// Automation 自动化规则
// TriggerFilters 与 TicketActions 以 JSON 文本存储，由 automation 包负责解析
type Automation struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	Name           string     `gorm:"size:255;uniqueIndex;not null" json:"name"`
	Description    string     `gorm:"type:text" json:"description"`
	Playbook       string     `gorm:"size:255" json:"playbook"`
	Kind           string     `gorm:"size:32;index;not null;default:'event'" json:"kind"` // scheduled, event
	Cadence        string     `gorm:"size:255" json:"cadence,omitempty"`
	Trigger        *string    `gorm:"size:255" json:"trigger,omitempty"`
	TriggerFilters string     `gorm:"type:text" json:"trigger_filters,omitempty"` // JSON: {"match":"all","conditions":[...]}
	TicketActions  string     `gorm:"type:text" json:"ticket_actions,omitempty"`  // JSON: [{"action":"...","value":"..."}]
	Status         string     `gorm:"size:32;default:'active'" json:"status"`
	LastTriggerAt  *time.Time `json:"last_trigger_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// AutomationRun 自动化执行记录
type AutomationRun struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	AutomationID uint      `gorm:"index" json:"automation_id"`
	EventType    string    `gorm:"size:128;index" json:"event_type"`
	TicketID     string    `gorm:"size:128;index" json:"ticket_id"`
	Status       string    `gorm:"size:32;index" json:"status"` // success, partial, failed
	Actions      string    `gorm:"type:text" json:"actions"`
	Message      string    `gorm:"type:text" json:"message"`
	CreatedAt    time.Time `json:"created_at"`

	Automation Automation `gorm:"foreignKey:AutomationID" json:"-"`
}
