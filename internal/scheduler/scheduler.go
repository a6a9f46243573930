package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"fleetd/internal/model"
)

// Publisher fans out status-change events; see internal/ws.
type Publisher interface {
	Publish(topic, eventType string, payload interface{})
}

// Service hands out at most one task per heartbeat. All exclusivity lives in
// the store's conditional update: no application lock is held across calls,
// and multiple controller instances can run this code concurrently.
type Service struct {
	db           *gorm.DB
	events       Publisher
	logger       *logrus.Entry
	claimRetries int
	now          func() time.Time
}

// NewService creates a scheduler.
func NewService(db *gorm.DB, events Publisher, logger *logrus.Entry, claimRetries int) *Service {
	if claimRetries < 1 {
		claimRetries = 3
	}
	return &Service{
		db:           db,
		events:       events,
		logger:       logger.WithField("component", "scheduler"),
		claimRetries: claimRetries,
		now:          time.Now,
	}
}

// ClaimNext finds the best matching task for a heartbeating device and
// assigns it. Candidates are tasks targeted at this device or in the
// unassigned pool, urgent tier first, oldest first inside a tier.
//
// The pending→assigned transition is a compare-and-set guarded by the prior
// status, so two devices racing on the same pool task cannot both win; the
// loser re-queries and finds a different task or none.
func (s *Service) ClaimNext(ctx context.Context, device *model.Device) (*model.Task, error) {
	for attempt := 0; attempt < s.claimRetries; attempt++ {
		var task model.Task
		err := s.db.WithContext(ctx).
			Where("(device_id = ? OR device_id IS NULL) AND status IN ?",
				device.ID, []string{model.TaskStatusPending, model.TaskStatusAssigned}).
			Order(model.PriorityCaseExpr).
			First(&task).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		// Already assigned to this device: the device likely restarted
		// before acknowledging; hand the same task back.
		if task.Status == model.TaskStatusAssigned {
			if task.DeviceID != nil && *task.DeviceID == device.ID {
				return &task, nil
			}
			// Pool row got claimed between query and here; try again.
			continue
		}

		res := s.db.WithContext(ctx).Model(&model.Task{}).
			Where("id = ? AND status = ? AND (device_id IS NULL OR device_id = ?)",
				task.ID, model.TaskStatusPending, device.ID).
			Updates(map[string]interface{}{
				"status":     model.TaskStatusAssigned,
				"device_id":  device.ID,
				"started_at": gorm.Expr("COALESCE(started_at, ?)", s.now()),
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			// Lost the race; another heartbeat took this task.
			continue
		}

		if err := s.db.WithContext(ctx).First(&task, task.ID).Error; err != nil {
			return nil, err
		}

		s.events.Publish("tasks", "assigned", map[string]interface{}{
			"taskId":   task.ID,
			"deviceId": device.ID,
			"type":     task.Type,
		})
		s.logger.WithFields(logrus.Fields{"taskId": task.ID, "deviceId": device.ID}).
			Info("task assigned")
		return &task, nil
	}

	// Every candidate was snatched by a concurrent claim; the next
	// heartbeat will try again.
	return nil, nil
}

// MarkRunning records a device-reported start of execution. Submitting a
// result straight from assigned is also legal; this update is optional.
func (s *Service) MarkRunning(ctx context.Context, device *model.Device, taskID int) error {
	res := s.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND device_id = ? AND status = ?", taskID, device.ID, model.TaskStatusAssigned).
		Update("status", model.TaskStatusRunning)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	s.events.Publish("tasks", "running", map[string]interface{}{
		"taskId":   taskID,
		"deviceId": device.ID,
	})
	return nil
}
