package ws

import (
	"encoding/json"
	"errors"

	"gorm.io/gorm"

	"fleetd/internal/model"
)

// Event topics published by the core.
const (
	TopicDevices = "devices"
	TopicTasks   = "tasks"
)

// Publish journals an event and broadcasts it to all observers. Callers
// treat this as fire-and-forget: a journal or broadcast failure is logged
// and never propagates into the mutation that raised the event.
func (b *Broadcaster) Publish(topic, eventType string, payload interface{}) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		b.logger.Errorf("failed to marshal %s/%s payload: %v", topic, eventType, err)
		return
	}

	event := model.Event{
		Topic:     topic,
		EventType: eventType,
		Payload:   string(payloadJSON),
	}
	if err := b.db.Create(&event).Error; err != nil {
		b.logger.Errorf("failed to journal %s/%s event: %v", topic, eventType, err)
		return
	}

	b.broadcast(topic+":update", map[string]interface{}{
		"eventId": event.ID,
		"type":    eventType,
		"data":    payload,
	})
}

// Events returns journaled events on a topic with id > afterID, oldest
// first, limited to maxCount.
func (b *Broadcaster) Events(topic string, afterID int64, maxCount int) ([]model.Event, error) {
	var events []model.Event
	err := b.db.
		Where("topic = ? AND id > ?", topic, afterID).
		Order("id ASC").
		Limit(maxCount).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

// LatestEventID returns the id of the newest journaled event on a topic, or
// zero when the journal is empty.
func (b *Broadcaster) LatestEventID(topic string) (int64, error) {
	var event model.Event
	err := b.db.
		Where("topic = ?", topic).
		Order("id DESC").
		First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return int64(event.ID), nil
}
