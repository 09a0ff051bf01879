package database

import (
	"fmt"
	"log"

	"github.com/mrlokans/marketsync/internal/entities"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sqliteParams enables WAL so tenant workers can read while another writes,
// and takes the write lock at BEGIN to avoid lock-upgrade deadlocks between
// concurrent transactions.
const sqliteParams = "?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on"

type Database struct {
	DB *gorm.DB
}

func NewDatabase(dbPath string) (*Database, error) {
	return NewDatabaseWithLogLevel(dbPath, logger.Warn)
}

// NewDatabaseWithLogLevel opens the database with a specific gorm log level.
// Tests use logger.Silent.
func NewDatabaseWithLogLevel(dbPath string, level logger.LogLevel) (*Database, error) {
	db, err := gorm.Open(sqlite.Open(dbPath+sqliteParams), &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Printf("Database initialized successfully at %s", dbPath)

	return &Database{DB: db}, nil
}

// Migrate creates or updates every table owned by the scheduler.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&entities.Job{},
		&entities.Batch{},
		&entities.SyncRun{},
		&entities.Listing{},
	)
}

func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the underlying connection.
func (d *Database) Ping() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
