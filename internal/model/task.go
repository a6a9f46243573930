package model

import (
	"time"

	"gorm.io/datatypes"
)

// Task represents a unit of work executed by a device
type Task struct {
	BaseModel
	UserID      int            `gorm:"not null;index" json:"user_id"`
	DeviceID    *int           `gorm:"index" json:"device_id,omitempty"` // nil = unassigned pool
	ProxyID     *int           `json:"proxy_id,omitempty"`
	Name        string         `gorm:"type:varchar(128)" json:"name"`
	Type        string         `gorm:"type:varchar(32);not null" json:"type"`
	Priority    string         `gorm:"type:varchar(16);default:'normal';index" json:"priority"`
	Config      datatypes.JSON `json:"config,omitempty"`
	Status      string         `gorm:"type:varchar(16);default:'pending';index" json:"status"`
	Result      datatypes.JSON `json:"result,omitempty"`
	LastError   string         `gorm:"type:varchar(255)" json:"last_error,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// TableName specifies the table name for Task
func (Task) TableName() string {
	return "tasks"
}

// Task type constants
const (
	TaskTypeSurf        = "surf"
	TaskTypeExtract     = "extract"
	TaskTypeDeviceReset = "device-reset"
	TaskTypeCapture     = "capture"
)

// Task status constants
const (
	TaskStatusPending   = "pending"
	TaskStatusAssigned  = "assigned"
	TaskStatusRunning   = "running"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
	TaskStatusCancelled = "cancelled"
)

// Task priority constants
const (
	TaskPriorityLow    = "low"
	TaskPriorityNormal = "normal"
	TaskPriorityHigh   = "high"
	TaskPriorityUrgent = "urgent"
)

// ValidTaskType reports whether t is a known task type.
func ValidTaskType(t string) bool {
	switch t {
	case TaskTypeSurf, TaskTypeExtract, TaskTypeDeviceReset, TaskTypeCapture:
		return true
	}
	return false
}

// ValidTaskPriority reports whether p is a known priority tier.
func ValidTaskPriority(p string) bool {
	switch p {
	case TaskPriorityLow, TaskPriorityNormal, TaskPriorityHigh, TaskPriorityUrgent:
		return true
	}
	return false
}

// Terminal reports whether the task is in a terminal state.
func (t *Task) Terminal() bool {
	switch t.Status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// PriorityCaseExpr is the ORDER BY expression ranking tasks urgent-first.
// Ties inside a tier fall back to creation order so low-priority tasks
// cannot starve.
const PriorityCaseExpr = "CASE priority WHEN 'urgent' THEN 3 WHEN 'high' THEN 2 WHEN 'normal' THEN 1 ELSE 0 END DESC, created_at ASC, id ASC"
