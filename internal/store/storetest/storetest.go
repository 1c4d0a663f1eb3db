// Package storetest provides an in-memory sqlite-backed JobStore for
// tests, so the claim-contention and terminal-transition behavior in
// internal/store can be exercised without a running Postgres.
package storetest

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/flowforge/pipeline-worker/internal/data/db"
	"github.com/flowforge/pipeline-worker/internal/domain"
	"github.com/flowforge/pipeline-worker/internal/pkg/logger"
	"github.com/flowforge/pipeline-worker/internal/store"
)

// NewStore opens a fresh in-memory sqlite database, migrates the
// worker's schema into it, and returns a ready-to-use GormJobStore.
func NewStore(t *testing.T) *store.GormJobStore {
	t.Helper()

	// A per-test database name keeps the shared-cache database private
	// to this test instead of shared by every store in the process.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1) // sqlite in-memory: one connection keeps the shared cache coherent

	require.NoError(t, db.AutoMigrateAll(gdb))

	log, err := logger.New("test")
	require.NoError(t, err)

	return store.NewGormJobStore(gdb, log)
}

// SeedJob inserts a job row directly, bypassing ClaimJob, for tests
// that need to arrange state (e.g. a pre-existing processing job for
// FindStuckProcessing).
func SeedJob(t *testing.T, s *store.GormJobStore, job domain.Job) {
	t.Helper()
	require.NoError(t, s.DB().Create(&job).Error)
}
