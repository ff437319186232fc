// Package db opens the sqlite database backing the persistent chat history.
package db

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// HistoryLine is one formatted chat line in arrival order.
type HistoryLine struct {
	ID   uint   `gorm:"primaryKey"`
	Line string `gorm:"not null"`
}

// Open opens (or creates) the database at path and migrates the schema.
// ":memory:" yields a private in-memory database.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql handle: %w", err)
	}
	// a single connection keeps ":memory:" databases shared and serializes writers
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&HistoryLine{}); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return db, nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
