// Package storetest opens migrated sqlite databases for package tests.
package storetest

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/contentgate/internal/migration"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open returns a fresh database private to the calling test with every
// embedded migration applied. The pool is pinned to one connection so the
// shared in-memory database survives for the lifetime of the test.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	return open(t, fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)", name), 1)
}

// OpenConcurrent returns a migrated file-backed database in WAL mode whose
// pool holds up to conns connections, so transactions on it really overlap.
func OpenConcurrent(t *testing.T, conns int) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "store.db")
	return open(t, path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", conns)
}

func open(t *testing.T, dsn string, conns int) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(conns)
	sqlDB.SetMaxIdleConns(conns)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := migration.ApplyEmbedded(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func Node(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

// Count returns the number of rows in table matching the optional where clause.
func Count(t *testing.T, conn *gorm.DB, table string, where string, args ...any) int64 {
	t.Helper()
	var count int64
	stmt := conn.Table(table)
	if where != "" {
		stmt = stmt.Where(where, args...)
	}
	if err := stmt.Count(&count).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}
