package db

import (
	"fmt"
	"sync/atomic"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testDBSeq atomic.Int64

// NewTest opens an in-memory sqlite database for tests.
func NewTest() (*gorm.DB, error) {
	// A plain ":memory:" DSN opens a distinct database per pooled
	// connection; a named shared-memory DSN keeps the schema visible
	// across the pool while staying private to this NewTest call.
	dsn := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", testDBSeq.Add(1))
	return gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
}
