package model

import (
	"time"

	"gorm.io/datatypes"
)

// DomainCheckTTL is how long an oracle verdict stays usable. An expired row
// is treated as a cache miss at read time; deleting it is optional hygiene.
const DomainCheckTTL = 24 * time.Hour

// DomainCheck caches the external validity oracle's verdict for one domain.
type DomainCheck struct {
	BaseModel
	Domain    string         `gorm:"type:varchar(255);uniqueIndex;not null" json:"domain"`
	Metrics   datatypes.JSON `json:"metrics,omitempty"`
	CheckedAt time.Time      `gorm:"not null" json:"checked_at"`
	ExpiresAt time.Time      `gorm:"not null;index" json:"expires_at"`
}

// TableName specifies the table name for DomainCheck
func (DomainCheck) TableName() string {
	return "domain_checks"
}

// Live reports whether the cached verdict is still within its TTL.
func (c *DomainCheck) Live(now time.Time) bool {
	return now.Before(c.ExpiresAt)
}
