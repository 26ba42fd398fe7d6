// Package testsupport gives every package's test suite a disposable,
// migrated database, grounded on the teacher's own support for
// gorm.io/driver/sqlite as a local/dev database backend
// (internal/config/database.go's sqlite.Open path) since the teacher
// carries no gorm-based test fixtures of its own to imitate directly.
package testsupport

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/novamarket/predictcore/internal/ledger"
)

// NewSQLiteDB opens a fresh in-memory database and migrates every ledger
// model onto it, returning a ready-to-use *gorm.DB for a single test.
// Callers must not share the returned DB across parallel tests; each call
// gets its own private in-memory instance (a shared cache name would let
// concurrent tests corrupt one another's rows).
func NewSQLiteDB() (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_fk=1", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	// SQLite only allows one writer connection at a time; a single
	// connection avoids cross-connection "database is locked" errors
	// against the shared in-memory instance above.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(ledger.AllModels()...); err != nil {
		return nil, err
	}
	return db, nil
}
