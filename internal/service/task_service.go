package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"fleetd/internal/model"
)

// Service errors surfaced to the API layer.
var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrInvalidTransition = errors.New("task state does not allow this operation")
)

// Publisher fans out status-change events; see internal/ws.
type Publisher interface {
	Publish(topic, eventType string, payload interface{})
}

// TaskService covers the operator side of the task lifecycle: create,
// retry, cancel and delete. Device-side transitions live in the scheduler
// and the ingestor.
type TaskService struct {
	db     *gorm.DB
	events Publisher
	logger *logrus.Entry
}

// NewTaskService creates a task service.
func NewTaskService(db *gorm.DB, events Publisher, logger *logrus.Entry) *TaskService {
	return &TaskService{
		db:     db,
		events: events,
		logger: logger.WithField("component", "tasks"),
	}
}

// CreateInput carries an operator's create-task call.
type CreateInput struct {
	UserID   int
	Name     string
	Type     string
	Priority string
	Config   datatypes.JSON
	DeviceID *int // nil = unassigned pool
	ProxyID  *int
}

// Create inserts a new pending task.
func (s *TaskService) Create(ctx context.Context, in CreateInput) (*model.Task, error) {
	task := model.Task{
		UserID:   in.UserID,
		DeviceID: in.DeviceID,
		ProxyID:  in.ProxyID,
		Name:     in.Name,
		Type:     in.Type,
		Priority: in.Priority,
		Config:   in.Config,
		Status:   model.TaskStatusPending,
	}
	if task.Priority == "" {
		task.Priority = model.TaskPriorityNormal
	}

	if err := s.db.WithContext(ctx).Create(&task).Error; err != nil {
		return nil, err
	}

	s.events.Publish("tasks", "created", map[string]interface{}{
		"taskId": task.ID,
		"type":   task.Type,
	})
	s.logger.WithFields(logrus.Fields{"taskId": task.ID, "type": task.Type}).Info("task created")
	return &task, nil
}

// Retry moves a failed or cancelled task back to pending. The previous
// result, error and both execution timestamps are cleared; the task becomes
// schedulable again on the next matching heartbeat. Guarded by the prior
// status so a retry can never resurrect a task that meanwhile completed.
func (s *TaskService) Retry(ctx context.Context, taskID int) (*model.Task, error) {
	res := s.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND status IN ?", taskID,
			[]string{model.TaskStatusFailed, model.TaskStatusCancelled}).
		Updates(map[string]interface{}{
			"status":       model.TaskStatusPending,
			"result":       nil,
			"last_error":   "",
			"started_at":   nil,
			"completed_at": nil,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, s.transitionError(ctx, taskID)
	}

	var task model.Task
	if err := s.db.WithContext(ctx).First(&task, taskID).Error; err != nil {
		return nil, err
	}

	s.events.Publish("tasks", "retried", map[string]interface{}{"taskId": task.ID})
	return &task, nil
}

// Cancel flips a non-terminal task to cancelled. Best-effort towards the
// device: the store changes immediately, the device notices on its next
// poll and abandons the work; any late result lands as a no-op.
func (s *TaskService) Cancel(ctx context.Context, taskID int) (*model.Task, error) {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND status IN ?", taskID,
			[]string{model.TaskStatusPending, model.TaskStatusAssigned, model.TaskStatusRunning}).
		Updates(map[string]interface{}{
			"status":       model.TaskStatusCancelled,
			"completed_at": now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, s.transitionError(ctx, taskID)
	}

	var task model.Task
	if err := s.db.WithContext(ctx).First(&task, taskID).Error; err != nil {
		return nil, err
	}

	s.events.Publish("tasks", "cancelled", map[string]interface{}{"taskId": task.ID})
	return &task, nil
}

// CancelMany cancels every non-terminal task in ids, skipping the rest.
// Returns how many were flipped.
func (s *TaskService) CancelMany(ctx context.Context, ids []int) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&model.Task{}).
		Where("id IN ? AND status IN ?", ids,
			[]string{model.TaskStatusPending, model.TaskStatusAssigned, model.TaskStatusRunning}).
		Updates(map[string]interface{}{
			"status":       model.TaskStatusCancelled,
			"completed_at": now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		s.events.Publish("tasks", "cancelled-bulk", map[string]interface{}{
			"count": res.RowsAffected,
		})
	}
	return res.RowsAffected, nil
}

// Delete removes a task and cascades to its extracted-domain records.
func (s *TaskService) Delete(ctx context.Context, taskID int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("task_id = ?", taskID).Delete(&model.ExtractedDomain{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&model.Task{}, taskID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrTaskNotFound
		}
		s.events.Publish("tasks", "deleted", map[string]interface{}{"taskId": taskID})
		return nil
	})
}

// transitionError distinguishes a missing task from an illegal transition
// after a guarded update matched nothing.
func (s *TaskService) transitionError(ctx context.Context, taskID int) error {
	var task model.Task
	if err := s.db.WithContext(ctx).First(&task, taskID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTaskNotFound
		}
		return err
	}
	return ErrInvalidTransition
}
