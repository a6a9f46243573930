package model

import "time"

// ExtractedDomain records a marketing domain discovered by an extract task.
// The (task_id, domain) unique index is the dedup backstop: a second
// extraction of the same domain for the same task must not create a second
// row, even under concurrent submissions.
type ExtractedDomain struct {
	BaseModel
	TaskID       int        `gorm:"not null;uniqueIndex:idx_task_domain" json:"task_id"`
	SourceURL    string     `gorm:"type:varchar(2048)" json:"source_url"`
	AdURL        string     `gorm:"type:varchar(2048)" json:"ad_url,omitempty"`
	Domain       string     `gorm:"type:varchar(255);uniqueIndex:idx_task_domain" json:"domain,omitempty"`
	ArtifactPath string     `gorm:"type:varchar(512)" json:"artifact_path,omitempty"`
	CapturedAt   *time.Time `json:"captured_at,omitempty"`
}

// TableName specifies the table name for ExtractedDomain
func (ExtractedDomain) TableName() string {
	return "extracted_domains"
}
