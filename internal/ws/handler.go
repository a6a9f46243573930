package ws

import (
	"encoding/json"

	socketio "github.com/googollee/go-socket.io"
)

const replayLimit = 500

// handleRequestEvents serves the request:events replay call. The client
// sends {topic, lastEventId}; events after that id are re-emitted in order.
// When the backlog exceeds the replay limit the client is told to refetch
// full state through the REST API instead.
func (b *Broadcaster) handleRequestEvents(s socketio.Conn, data interface{}) {
	topic := TopicTasks
	var lastEventID int64

	if dataMap, ok := data.(map[string]interface{}); ok {
		if v, ok := dataMap["topic"].(string); ok && v != "" {
			topic = v
		}
		if v, ok := dataMap["lastEventId"].(float64); ok {
			lastEventID = int64(v)
		}
	}

	events, err := b.Events(topic, lastEventID, replayLimit)
	if err != nil {
		b.logger.Errorf("failed to query events for replay: %v", err)
		s.Emit("error", map[string]interface{}{"message": "failed to query events"})
		return
	}

	if len(events) >= replayLimit {
		latest, _ := b.LatestEventID(topic)
		s.Emit("events:resync", map[string]interface{}{
			"topic":       topic,
			"lastEventId": latest,
		})
		return
	}

	for _, event := range events {
		var payload interface{}
		if err := json.Unmarshal([]byte(event.Payload), &payload); err != nil {
			b.logger.Warnf("skipping unreadable journal payload for event %d: %v", event.ID, err)
			continue
		}
		s.Emit(event.Topic+":update", map[string]interface{}{
			"eventId": event.ID,
			"type":    event.EventType,
			"data":    payload,
		})
	}
}
