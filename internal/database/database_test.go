package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/mautops/branch-ops/internal/config"
	"github.com/mautops/branch-ops/internal/database"
	"github.com/mautops/branch-ops/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// TestMigrate_SQLite 测试 SQLite 迁移可重复执行
func TestMigrate_SQLite(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))
	require.NoError(t, database.Migrate(db), "migration should be idempotent")

	for _, table := range []string{"branch_requests", "transfer_documents", "serial_numbers", "audit_logs", "events", "sequences"} {
		assert.True(t, db.Migrator().HasTable(table), "table %s should exist", table)
	}
	assert.True(t, database.IsSQLite(db))
	assert.True(t, database.CheckHealth(db))
}

// TestMigrate_UniqueViolationIsTranslated 测试唯一约束冲突转换为 gorm.ErrDuplicatedKey
func TestMigrate_UniqueViolationIsTranslated(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	now := time.Now()
	first := &model.BranchModel{ID: "b-1", Code: "SRC", Name: "Main", CompanyID: "c1", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, db.Create(first).Error)

	dup := &model.BranchModel{ID: "b-2", Code: "SRC", Name: "Copy", CompanyID: "c1", CreatedAt: now, UpdatedAt: now}
	err = db.Create(dup).Error
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
}

// TestBuildDSN 测试 DSN 构建
func TestBuildDSN(t *testing.T) {
	dsn := database.BuildDSN(config.DatabaseConfig{
		Host:     "db",
		Port:     5432,
		User:     "ops",
		Password: "secret",
		DBName:   "branch_ops",
		SSLMode:  "disable",
	})
	assert.Equal(t, "host=db port=5432 user=ops password=secret dbname=branch_ops sslmode=disable", dsn)
}

// TestCheckHealth_Nil 测试空连接
func TestCheckHealth_Nil(t *testing.T) {
	assert.False(t, database.CheckHealth(nil))
	assert.False(t, database.CheckRedisHealth(context.Background(), nil))
}
