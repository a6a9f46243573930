package domaincheck

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fleetd/internal/model"
)

// ErrOracleUnavailable marks a lookup that failed upstream. The caller skips
// the domain for the current submission; nothing is cached.
var ErrOracleUnavailable = errors.New("domain validity oracle unavailable")

// Checker answers save-worthiness questions, backed by the domain_checks
// table with a fixed TTL and the external oracle on miss.
type Checker struct {
	db     *gorm.DB
	oracle Oracle
	logger *logrus.Entry
	now    func() time.Time
}

// NewChecker creates a checker over the given store and oracle.
func NewChecker(db *gorm.DB, oracle Oracle, logger *logrus.Entry) *Checker {
	return &Checker{
		db:     db,
		oracle: oracle,
		logger: logger.WithField("component", "domaincheck"),
		now:    time.Now,
	}
}

// Check returns the verdict for an already-normalized domain. A live cache
// row satisfies the lookup; otherwise the oracle is consulted and its answer
// upserted with a fresh TTL. An expired row is simply a miss, it is never
// used to satisfy a save-worthiness decision.
func (c *Checker) Check(ctx context.Context, domain string) (*Verdict, error) {
	now := c.now()

	var entry model.DomainCheck
	err := c.db.WithContext(ctx).Where("domain = ?", domain).First(&entry).Error
	if err == nil && entry.Live(now) {
		var verdict Verdict
		if jsonErr := json.Unmarshal(entry.Metrics, &verdict); jsonErr == nil {
			return &verdict, nil
		}
		// Unreadable cached payload falls through to a fresh lookup.
		c.logger.WithField("domain", domain).Warn("discarding unreadable cached verdict")
	} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	verdict, err := c.oracle.CheckDomain(ctx, domain)
	if err != nil {
		c.logger.WithField("domain", domain).Warnf("oracle lookup failed: %v", err)
		return nil, errors.Join(ErrOracleUnavailable, err)
	}

	metrics, err := json.Marshal(verdict)
	if err != nil {
		return nil, err
	}

	fresh := model.DomainCheck{
		Domain:    domain,
		Metrics:   metrics,
		CheckedAt: now,
		ExpiresAt: now.Add(model.DomainCheckTTL),
	}
	// Refresh in place on the unique domain key; losing a concurrent upsert
	// race just means someone else cached an equally fresh verdict.
	if err := c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "domain"}},
		DoUpdates: clause.AssignmentColumns([]string{"metrics", "checked_at", "expires_at", "updated_at"}),
	}).Create(&fresh).Error; err != nil {
		c.logger.WithField("domain", domain).Warnf("failed to cache verdict: %v", err)
	}

	return verdict, nil
}

// SweepExpired deletes cache rows past their expiry. Purely hygiene: reads
// already ignore expired rows.
func (c *Checker) SweepExpired(ctx context.Context) (int64, error) {
	res := c.db.WithContext(ctx).
		Where("expires_at <= ?", c.now()).
		Delete(&model.DomainCheck{})
	return res.RowsAffected, res.Error
}
