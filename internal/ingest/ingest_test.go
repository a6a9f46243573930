package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"fleetd/internal/domaincheck"
	"fleetd/internal/model"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.AutoMigrate(&model.Device{}, &model.Task{}, &model.ExtractedDomain{}, &model.DomainCheck{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

type nopPublisher struct{}

func (nopPublisher) Publish(topic, eventType string, payload interface{}) {}

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(log)
}

type fakeOracle struct {
	verdicts map[string]*domaincheck.Verdict
	err      error
	calls    int
}

func (f *fakeOracle) CheckDomain(ctx context.Context, domain string) (*domaincheck.Verdict, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.verdicts[domain]; ok {
		return v, nil
	}
	return &domaincheck.Verdict{Exists: false}, nil
}

func intPtr(v int) *int { return &v }

func newTestService(t *testing.T, oracle *fakeOracle) (*Service, *gorm.DB) {
	db := openTestDB(t)
	checker := domaincheck.NewChecker(db, oracle, testLogger())
	svc := NewService(db, checker, nopPublisher{}, testLogger())
	return svc, db
}

func seedDevice(t *testing.T, db *gorm.DB, hwID string) *model.Device {
	t.Helper()
	now := time.Now()
	device := model.Device{HardwareID: hwID, Status: model.DeviceStatusOnline, Token: "tok-" + hwID, LastHeartbeat: &now}
	if err := db.Create(&device).Error; err != nil {
		t.Fatalf("failed to seed device: %v", err)
	}
	return &device
}

func seedAssignedTask(t *testing.T, db *gorm.DB, device *model.Device, taskType string) *model.Task {
	t.Helper()
	now := time.Now()
	task := model.Task{
		UserID:    1,
		DeviceID:  &device.ID,
		Name:      "t",
		Type:      taskType,
		Priority:  model.TaskPriorityNormal,
		Status:    model.TaskStatusAssigned,
		StartedAt: &now,
	}
	if err := db.Create(&task).Error; err != nil {
		t.Fatalf("failed to seed task: %v", err)
	}
	return &task
}

func TestSubmit_CompletesTask(t *testing.T) {
	svc, db := newTestService(t, &fakeOracle{})
	device := seedDevice(t, db, "hw-1")
	task := seedAssignedTask(t, db, device, model.TaskTypeSurf)

	result := json.RawMessage(`{"pages":12}`)
	got, applied, err := svc.Submit(context.Background(), device, task.ID, &Outcome{Result: result})
	if err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	if !applied {
		t.Error("Expected the first submission to apply")
	}
	if got.Status != model.TaskStatusCompleted {
		t.Errorf("Expected completed, got %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("Expected completedAt set on terminal transition")
	}
	if string(got.Result) != `{"pages":12}` {
		t.Errorf("Result payload not stored: %s", got.Result)
	}
}

func TestSubmit_TerminalStatusDerivation(t *testing.T) {
	falseVal := false
	trueVal := true
	tests := []struct {
		name    string
		outcome Outcome
		want    string
	}{
		{"explicit failed", Outcome{Status: model.TaskStatusFailed}, model.TaskStatusFailed},
		{"explicit completed", Outcome{Status: model.TaskStatusCompleted}, model.TaskStatusCompleted},
		{"success flag false", Outcome{Success: &falseVal}, model.TaskStatusFailed},
		{"success flag true", Outcome{Success: &trueVal}, model.TaskStatusCompleted},
		{"error implies failed", Outcome{Error: "timeout at device"}, model.TaskStatusFailed},
		{"empty outcome completes", Outcome{}, model.TaskStatusCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.outcome.TerminalStatus(); got != tt.want {
				t.Errorf("TerminalStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSubmit_DuplicateIsIdempotentNoOp(t *testing.T) {
	svc, db := newTestService(t, &fakeOracle{})
	device := seedDevice(t, db, "hw-1")
	task := seedAssignedTask(t, db, device, model.TaskTypeSurf)

	first, applied, err := svc.Submit(context.Background(), device, task.ID, &Outcome{Result: json.RawMessage(`{"n":1}`)})
	if err != nil || !applied {
		t.Fatalf("first Submit() failed: applied=%v err=%v", applied, err)
	}

	// Retransmission with a different payload: accepted, but the stored
	// result must never change.
	second, applied, err := svc.Submit(context.Background(), device, task.ID, &Outcome{Result: json.RawMessage(`{"n":2}`)})
	if err != nil {
		t.Fatalf("duplicate Submit() errored: %v", err)
	}
	if applied {
		t.Error("Duplicate submission must be a no-op")
	}
	if string(second.Result) != string(first.Result) {
		t.Errorf("Stored result was overwritten: %s", second.Result)
	}
}

func TestSubmit_LateResultAfterCancelIsNoOp(t *testing.T) {
	svc, db := newTestService(t, &fakeOracle{})
	device := seedDevice(t, db, "hw-1")
	task := seedAssignedTask(t, db, device, model.TaskTypeSurf)

	db.Model(&model.Task{}).Where("id = ?", task.ID).Update("status", model.TaskStatusCancelled)

	got, applied, err := svc.Submit(context.Background(), device, task.ID, &Outcome{})
	if err != nil {
		t.Fatalf("Submit() after cancel errored: %v", err)
	}
	if applied {
		t.Error("Late submission after cancel must be a no-op")
	}
	if got.Status != model.TaskStatusCancelled {
		t.Errorf("Cancel must survive a late submission, got %s", got.Status)
	}
}

func TestSubmit_RejectsUnboundDevice(t *testing.T) {
	svc, db := newTestService(t, &fakeOracle{})
	owner := seedDevice(t, db, "hw-owner")
	intruder := seedDevice(t, db, "hw-intruder")
	task := seedAssignedTask(t, db, owner, model.TaskTypeSurf)

	if _, _, err := svc.Submit(context.Background(), intruder, task.ID, &Outcome{}); !errors.Is(err, ErrNotBound) {
		t.Errorf("Expected ErrNotBound, got %v", err)
	}

	if _, _, err := svc.Submit(context.Background(), owner, 9999, &Outcome{}); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound, got %v", err)
	}
}

func TestSubmit_ExtractDedupAndNormalization(t *testing.T) {
	oracle := &fakeOracle{verdicts: map[string]*domaincheck.Verdict{
		"ads.example.com": {Exists: true, Rank: intPtr(5)},
	}}
	svc, db := newTestService(t, oracle)
	device := seedDevice(t, db, "hw-1")
	task := seedAssignedTask(t, db, device, model.TaskTypeExtract)

	outcome := &Outcome{Domains: []DomainFinding{
		{Domain: "ads.example.com", SourceURL: "https://pub.example.org/a"},
		{Domain: "ADS.EXAMPLE.COM/x?y=1", SourceURL: "https://pub.example.org/b"},
	}}

	got, _, err := svc.Submit(context.Background(), device, task.ID, outcome)
	if err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	if got.Status != model.TaskStatusCompleted {
		t.Errorf("Expected completed, got %s", got.Status)
	}

	var records []model.ExtractedDomain
	db.Where("task_id = ?", task.ID).Find(&records)
	if len(records) != 1 {
		t.Fatalf("Expected exactly 1 extracted domain record, got %d", len(records))
	}
	if records[0].Domain != "ads.example.com" {
		t.Errorf("Expected normalized domain, got %s", records[0].Domain)
	}
	if oracle.calls != 1 {
		t.Errorf("Expected 1 oracle call for deduped domain, got %d", oracle.calls)
	}
}

func TestSubmit_UnworthyAndMalformedDomainsSkipped(t *testing.T) {
	oracle := &fakeOracle{verdicts: map[string]*domaincheck.Verdict{
		"noexist.example.com":  {Exists: false},
		"nometric.example.com": {Exists: true},
	}}
	svc, db := newTestService(t, oracle)
	device := seedDevice(t, db, "hw-1")
	task := seedAssignedTask(t, db, device, model.TaskTypeExtract)

	outcome := &Outcome{Domains: []DomainFinding{
		{Domain: "noexist.example.com"},
		{Domain: "nometric.example.com"},
		{Domain: "not a domain"},
	}}

	if _, _, err := svc.Submit(context.Background(), device, task.ID, outcome); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}

	var count int64
	db.Model(&model.ExtractedDomain{}).Count(&count)
	if count != 0 {
		t.Errorf("Expected no records for unworthy domains, got %d", count)
	}
}

func TestSubmit_OracleFailureNeverFailsSubmission(t *testing.T) {
	oracle := &fakeOracle{err: errors.New("oracle down")}
	svc, db := newTestService(t, oracle)
	device := seedDevice(t, db, "hw-1")
	task := seedAssignedTask(t, db, device, model.TaskTypeExtract)

	outcome := &Outcome{Domains: []DomainFinding{{Domain: "ads.example.com"}}}
	got, applied, err := svc.Submit(context.Background(), device, task.ID, outcome)
	if err != nil {
		t.Fatalf("Submit() must not fail on oracle outage: %v", err)
	}
	if !applied || got.Status != model.TaskStatusCompleted {
		t.Errorf("Expected completed task despite oracle outage, got applied=%v status=%s", applied, got.Status)
	}

	var count int64
	db.Model(&model.ExtractedDomain{}).Count(&count)
	if count != 0 {
		t.Errorf("Unresolved domains must not be persisted, got %d records", count)
	}
}

func TestSubmit_RepeatExtractionDedupedAcrossSubmissions(t *testing.T) {
	oracle := &fakeOracle{verdicts: map[string]*domaincheck.Verdict{
		"ads.example.com": {Exists: true, Rank: intPtr(5)},
	}}
	svc, db := newTestService(t, oracle)
	device := seedDevice(t, db, "hw-1")
	task := seedAssignedTask(t, db, device, model.TaskTypeExtract)

	// An earlier run of the same task already saved this domain.
	captured := time.Now()
	db.Create(&model.ExtractedDomain{TaskID: task.ID, Domain: "ads.example.com", CapturedAt: &captured})

	outcome := &Outcome{Domains: []DomainFinding{{Domain: "ads.example.com"}}}
	if _, _, err := svc.Submit(context.Background(), device, task.ID, outcome); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}

	var count int64
	db.Model(&model.ExtractedDomain{}).Where("task_id = ?", task.ID).Count(&count)
	if count != 1 {
		t.Errorf("Expected dedup to keep a single record, got %d", count)
	}
}

func TestSubmit_FailedExtractSkipsDomains(t *testing.T) {
	oracle := &fakeOracle{verdicts: map[string]*domaincheck.Verdict{
		"ads.example.com": {Exists: true, Rank: intPtr(5)},
	}}
	svc, db := newTestService(t, oracle)
	device := seedDevice(t, db, "hw-1")
	task := seedAssignedTask(t, db, device, model.TaskTypeExtract)

	outcome := &Outcome{Error: "browser crashed", Domains: []DomainFinding{{Domain: "ads.example.com"}}}
	got, _, err := svc.Submit(context.Background(), device, task.ID, outcome)
	if err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	if got.Status != model.TaskStatusFailed {
		t.Errorf("Expected failed, got %s", got.Status)
	}
	if got.LastError != "browser crashed" {
		t.Errorf("Expected last error recorded, got %q", got.LastError)
	}

	var count int64
	db.Model(&model.ExtractedDomain{}).Count(&count)
	if count != 0 {
		t.Errorf("Failed submission must not persist domains, got %d", count)
	}
}
