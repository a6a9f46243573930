package model

// Event is a journaled broadcaster event. Observers reconnecting with a
// lastEventId replay everything after it instead of refetching full state.
type Event struct {
	BaseModel
	Topic     string `gorm:"type:varchar(64);not null;index" json:"topic"`
	EventType string `gorm:"type:varchar(32);not null" json:"event_type"`
	Payload   string `gorm:"type:text" json:"payload"`
}

// TableName specifies the table name for Event
func (Event) TableName() string {
	return "events"
}
