package repositories

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
)

// isUniqueViolation reports whether err looks like a unique-constraint
// violation. SQLite (modernc) and Postgres (pgx) phrase the underlying
// driver error differently, so this matches on substring rather than a
// specific driver's error type — good enough to turn a constraint violation
// into the application-level ErrConflict without coupling the repository
// layer to either driver package.
func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

// maxUpdatedAtAndCount returns the newest UpdatedAt and the row count for
// model. agentmanager.GetAgentConfig passes the blocklist's pair to
// ComputeVersion; the inputs for the other tables are taken from the rows
// visible to the agent.
func maxUpdatedAtAndCount(ctx context.Context, gdb *gorm.DB, model interface{}) (time.Time, int64, error) {
	var count int64
	if err := gdb.WithContext(ctx).Model(model).Count(&count).Error; err != nil {
		return time.Time{}, 0, err
	}

	var maxUpdated *time.Time
	if err := gdb.WithContext(ctx).Model(model).
		Select("MAX(updated_at)").
		Scan(&maxUpdated).Error; err != nil {
		return time.Time{}, 0, err
	}
	if maxUpdated == nil {
		return time.Time{}, count, nil
	}
	return *maxUpdated, count, nil
}
