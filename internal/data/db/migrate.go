package db

import (
	"github.com/flowforge/pipeline-worker/internal/domain"
	"gorm.io/gorm"
)

// AutoMigrateAll creates or updates the tables backing this worker's
// entire persistent state: jobs, their execution records, and the
// shared system-flag row used for config-reload coordination.
func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Job{},
		&domain.Execution{},
		&domain.SystemFlag{},
	)
}
