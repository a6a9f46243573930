package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"fleetd/internal/domaincheck"
	"fleetd/internal/model"
)

// Service errors surfaced to the API layer.
var (
	ErrTaskNotFound = errors.New("task not found")
	ErrNotBound     = errors.New("task is not bound to this device")
	ErrBadState     = errors.New("task state does not allow a result submission")
)

// Publisher fans out status-change events; see internal/ws.
type Publisher interface {
	Publish(topic, eventType string, payload interface{})
}

// Outcome is a device's report for a finished task. Terminal status is
// derived from the explicit status field, then the success flag, then the
// presence of an error.
type Outcome struct {
	Status  string          `json:"status,omitempty"`
	Success *bool           `json:"success,omitempty"`
	Error   string          `json:"error,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Domains []DomainFinding `json:"domains,omitempty"`
}

// DomainFinding is one discovered marketing domain inside an extract
// outcome.
type DomainFinding struct {
	SourceURL string `json:"sourceUrl,omitempty"`
	AdURL     string `json:"adUrl,omitempty"`
	Domain    string `json:"domain"`
}

// TerminalStatus resolves the outcome to completed or failed.
func (o *Outcome) TerminalStatus() string {
	switch o.Status {
	case model.TaskStatusCompleted:
		return model.TaskStatusCompleted
	case model.TaskStatusFailed:
		return model.TaskStatusFailed
	}
	if o.Success != nil {
		if *o.Success {
			return model.TaskStatusCompleted
		}
		return model.TaskStatusFailed
	}
	if o.Error != "" {
		return model.TaskStatusFailed
	}
	return model.TaskStatusCompleted
}

// Service ingests task results: one idempotent terminal transition per task,
// plus domain dedup for extract outcomes.
type Service struct {
	db      *gorm.DB
	checker *domaincheck.Checker
	events  Publisher
	logger  *logrus.Entry
	now     func() time.Time
}

// NewService creates a result ingestor.
func NewService(db *gorm.DB, checker *domaincheck.Checker, events Publisher, logger *logrus.Entry) *Service {
	return &Service{
		db:      db,
		checker: checker,
		events:  events,
		logger:  logger.WithField("component", "ingest"),
		now:     time.Now,
	}
}

// Submit applies a device's outcome to its task. The first submission wins:
// a task already in a terminal state accepts later submissions as no-ops and
// never has its stored result overwritten, which absorbs device retries,
// reordering and late arrivals after a cancel.
//
// The returned bool is false for such duplicate no-ops.
func (s *Service) Submit(ctx context.Context, device *model.Device, taskID int, outcome *Outcome) (*model.Task, bool, error) {
	var task model.Task
	if err := s.db.WithContext(ctx).First(&task, taskID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, ErrTaskNotFound
		}
		return nil, false, err
	}

	if task.DeviceID == nil || *task.DeviceID != device.ID {
		return nil, false, ErrNotBound
	}

	if task.Terminal() {
		return &task, false, nil
	}

	status := outcome.TerminalStatus()
	now := s.now()
	updates := map[string]interface{}{
		"status":       status,
		"completed_at": now,
		"started_at":   gorm.Expr("COALESCE(started_at, ?)", now),
	}
	if len(outcome.Result) > 0 {
		updates["result"] = []byte(outcome.Result)
	}
	if status == model.TaskStatusFailed && outcome.Error != "" {
		updates["last_error"] = outcome.Error
	}

	// Guarded by the prior status: a concurrent duplicate submission or an
	// administrative cancel landing first leaves zero rows affected.
	res := s.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND device_id = ? AND status IN ?", taskID, device.ID,
			[]string{model.TaskStatusAssigned, model.TaskStatusRunning}).
		Updates(updates)
	if res.Error != nil {
		return nil, false, res.Error
	}

	if err := s.db.WithContext(ctx).First(&task, taskID).Error; err != nil {
		return nil, false, err
	}

	if res.RowsAffected == 0 {
		if task.Terminal() {
			// Someone else finalized it first; treat ours as a retransmit.
			return &task, false, nil
		}
		return &task, false, ErrBadState
	}

	if status == model.TaskStatusCompleted && task.Type == model.TaskTypeExtract {
		s.ingestDomains(ctx, &task, outcome.Domains)
	}

	s.events.Publish("tasks", status, map[string]interface{}{
		"taskId":   task.ID,
		"deviceId": device.ID,
		"status":   status,
	})
	s.logger.WithFields(logrus.Fields{"taskId": task.ID, "deviceId": device.ID, "status": status}).
		Info("result ingested")
	return &task, true, nil
}

// ingestDomains routes discovered domains through normalization, the
// validity cache and the (taskId, domain) dedup. Per-domain failures are
// contained: an unresolvable or unworthy domain is skipped, never an error
// for the submission as a whole.
func (s *Service) ingestDomains(ctx context.Context, task *model.Task, findings []DomainFinding) {
	seen := make(map[string]bool, len(findings))

	for _, finding := range findings {
		domain, err := domaincheck.Normalize(finding.Domain)
		if err != nil {
			s.logger.WithField("taskId", task.ID).Debugf("dropping malformed domain %q: %v", finding.Domain, err)
			continue
		}
		if seen[domain] {
			continue
		}
		seen[domain] = true

		verdict, err := s.checker.Check(ctx, domain)
		if err != nil {
			// Oracle down: unresolved for this submission only. No negative
			// cache, no failure of the submission.
			s.logger.WithFields(logrus.Fields{"taskId": task.ID, "domain": domain}).
				Warnf("domain left unresolved: %v", err)
			continue
		}
		if !verdict.SaveWorthy() {
			continue
		}

		var count int64
		if err := s.db.WithContext(ctx).Model(&model.ExtractedDomain{}).
			Where("task_id = ? AND domain = ?", task.ID, domain).
			Count(&count).Error; err != nil {
			s.logger.Warnf("dedup lookup failed for %s: %v", domain, err)
			continue
		}
		if count > 0 {
			continue
		}

		capturedAt := s.now()
		record := model.ExtractedDomain{
			TaskID:     task.ID,
			SourceURL:  finding.SourceURL,
			AdURL:      finding.AdURL,
			Domain:     domain,
			CapturedAt: &capturedAt,
		}
		if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
			// The unique index is the real backstop: a concurrent insert of
			// the same (task, domain) is a benign duplicate, not a failure.
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				continue
			}
			s.logger.Warnf("failed to persist domain %s: %v", domain, err)
			continue
		}

		s.events.Publish("tasks", "domain", map[string]interface{}{
			"taskId": task.ID,
			"domain": domain,
		})
	}
}
