package domain

import "time"

// Known SystemFlag keys.
const (
	// FlagRestartPending, when present with value "true", tells every
	// worker to exit cleanly at its earliest job-empty moment so a
	// supervisor can relaunch it with new configuration. See
	// internal/reload.Gate.
	FlagRestartPending = "workers:restart_pending"
)

// SystemFlag is a small shared key/value row used for cross-worker
// coordination that doesn't warrant its own table, such as the
// deferred config-reload token.
type SystemFlag struct {
	Key       string    `gorm:"column:key;primaryKey" json:"key"`
	Value     string    `gorm:"column:value" json:"value"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null" json:"updatedAt"`
}

func (SystemFlag) TableName() string { return "system_flag" }
