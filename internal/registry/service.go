package registry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"fleetd/internal/model"
)

// Service errors surfaced to the API layer.
var (
	ErrDeviceNotFound     = errors.New("device not found")
	ErrTokenMismatch      = errors.New("device token mismatch")
	ErrDeviceBusy         = errors.New("device still holds non-terminal tasks")
	ErrRegisterContention = errors.New("device registration lost repeated races")
)

// registerAttempts bounds how often a registration re-runs its lookup after
// losing a duplicate-key race on the hardware id.
const registerAttempts = 2

// Publisher fans out status-change events; see internal/ws.
type Publisher interface {
	Publish(topic, eventType string, payload interface{})
}

// Service is the device registry: identity, per-device secrets and
// heartbeat-driven liveness.
type Service struct {
	db        *gorm.DB
	events    Publisher
	logger    *logrus.Entry
	staleness time.Duration
	now       func() time.Time
}

// NewService creates a registry service.
func NewService(db *gorm.DB, events Publisher, logger *logrus.Entry, staleness time.Duration) *Service {
	return &Service{
		db:        db,
		events:    events,
		logger:    logger.WithField("component", "registry"),
		staleness: staleness,
		now:       time.Now,
	}
}

// RegisterInput carries a device's registration call.
type RegisterInput struct {
	HardwareID    string
	PriorIdentity int // 0 = none; a previously assigned device id to re-bind on reinstall
	Name          string
	IP            string
}

// Register converges to exactly one device row per hardware identifier and
// never fails on a duplicate. Lookup order: the row named by priorIdentity
// (unless the hardware id already owns a different row), then the hardware
// id row, then a fresh row. Every path mints a fresh token and marks the
// device online.
//
// Losing a concurrent first-registration race on the hardware id re-runs the
// lookup a bounded number of times; it converges onto the winner's row.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.Device, bool, error) {
	for attempt := 0; attempt < registerAttempts; attempt++ {
		device, created, err := s.registerOnce(ctx, in)
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			in.PriorIdentity = 0
			continue
		}
		return device, created, err
	}
	return nil, false, ErrRegisterContention
}

func (s *Service) registerOnce(ctx context.Context, in RegisterInput) (*model.Device, bool, error) {
	now := s.now()
	token := newDeviceToken()

	var existing model.Device
	found := false

	// The hardware id is the natural key; it wins over a stale priorIdentity
	// pointing somewhere else, otherwise two rows could end up claiming the
	// same hardware id.
	hwErr := s.db.WithContext(ctx).Where("hardware_id = ?", in.HardwareID).First(&existing).Error
	switch {
	case hwErr == nil:
		found = true
	case !errors.Is(hwErr, gorm.ErrRecordNotFound):
		return nil, false, hwErr
	case in.PriorIdentity > 0:
		priorErr := s.db.WithContext(ctx).First(&existing, in.PriorIdentity).Error
		if priorErr == nil {
			found = true
		} else if !errors.Is(priorErr, gorm.ErrRecordNotFound) {
			return nil, false, priorErr
		}
	}

	if found {
		updates := map[string]interface{}{
			"hardware_id":    in.HardwareID,
			"status":         model.DeviceStatusOnline,
			"token":          token,
			"last_heartbeat": now,
		}
		if in.Name != "" {
			updates["name"] = in.Name
		}
		if in.IP != "" {
			updates["last_ip"] = in.IP
		}
		if err := s.db.WithContext(ctx).Model(&existing).Updates(updates).Error; err != nil {
			return nil, false, err
		}
		if err := s.db.WithContext(ctx).First(&existing, existing.ID).Error; err != nil {
			return nil, false, err
		}

		s.events.Publish("devices", "registered", map[string]interface{}{
			"deviceId":   existing.ID,
			"hardwareId": existing.HardwareID,
			"rebind":     true,
		})
		s.logger.WithFields(logrus.Fields{"deviceId": existing.ID, "hardwareId": in.HardwareID}).
			Info("device re-registered")
		return &existing, false, nil
	}

	heartbeat := now
	device := model.Device{
		HardwareID:    in.HardwareID,
		Name:          in.Name,
		Status:        model.DeviceStatusOnline,
		Token:         token,
		LastHeartbeat: &heartbeat,
		LastIP:        in.IP,
	}
	if err := s.db.WithContext(ctx).Create(&device).Error; err != nil {
		return nil, false, err
	}

	s.events.Publish("devices", "registered", map[string]interface{}{
		"deviceId":   device.ID,
		"hardwareId": device.HardwareID,
		"rebind":     false,
	})
	s.logger.WithFields(logrus.Fields{"deviceId": device.ID, "hardwareId": in.HardwareID}).
		Info("device registered")
	return &device, true, nil
}

// Authenticate resolves a (deviceId, token) pair. A mismatch is an
// ErrTokenMismatch the caller maps to 401; the device must re-register.
func (s *Service) Authenticate(ctx context.Context, deviceID int, token string) (*model.Device, error) {
	var device model.Device
	if err := s.db.WithContext(ctx).First(&device, deviceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}
	if token == "" || device.Token != token {
		return nil, ErrTokenMismatch
	}
	return &device, nil
}

// Heartbeat records liveness for an authenticated device. Safe to repeat and
// reorder: it only moves last_heartbeat forward and mirrors the reported
// status.
func (s *Service) Heartbeat(ctx context.Context, device *model.Device, status model.DeviceStatus, ip string) error {
	now := s.now()
	updates := map[string]interface{}{
		"last_heartbeat": now,
	}
	if ip != "" {
		updates["last_ip"] = ip
	}
	if status != "" && validDeviceStatus(status) {
		updates["status"] = status
	} else if device.Status == model.DeviceStatusOffline {
		// A heartbeat from a device the sweeper flipped offline brings it back.
		updates["status"] = model.DeviceStatusOnline
	}

	if err := s.db.WithContext(ctx).Model(device).Updates(updates).Error; err != nil {
		return err
	}

	if status != "" && status != device.Status && validDeviceStatus(status) {
		s.events.Publish("devices", "status", map[string]interface{}{
			"deviceId": device.ID,
			"status":   status,
		})
	}
	return nil
}

// Live reports whether the device heartbeated within the staleness window.
// Derived at read time; no stored flag is consulted.
func (s *Service) Live(device *model.Device) bool {
	return device.LiveWithin(s.staleness, s.now())
}

// SweepOffline flips devices whose heartbeat fell outside the staleness
// window to offline. UI hygiene only: tasks are never withdrawn from a stale
// device, an operator retries or cancels explicitly.
func (s *Service) SweepOffline(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.staleness)
	res := s.db.WithContext(ctx).Model(&model.Device{}).
		Where("status IN ? AND (last_heartbeat IS NULL OR last_heartbeat < ?)",
			[]model.DeviceStatus{model.DeviceStatusOnline, model.DeviceStatusBusy}, cutoff).
		Update("status", model.DeviceStatusOffline)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		s.events.Publish("devices", "swept-offline", map[string]interface{}{
			"count": res.RowsAffected,
		})
	}
	return res.RowsAffected, nil
}

// Delete removes a device. Refused while the device still holds
// non-terminal tasks; soft lifecycle only until then.
func (s *Service) Delete(ctx context.Context, deviceID int) error {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Task{}).
		Where("device_id = ? AND status IN ?", deviceID,
			[]string{model.TaskStatusPending, model.TaskStatusAssigned, model.TaskStatusRunning}).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrDeviceBusy
	}

	res := s.db.WithContext(ctx).Delete(&model.Device{}, deviceID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDeviceNotFound
	}

	s.events.Publish("devices", "deleted", map[string]interface{}{"deviceId": deviceID})
	return nil
}

func validDeviceStatus(status model.DeviceStatus) bool {
	switch status {
	case model.DeviceStatusOnline, model.DeviceStatusOffline, model.DeviceStatusBusy, model.DeviceStatusError:
		return true
	}
	return false
}

func newDeviceToken() string {
	return uuid.NewString()
}
