package database

import (
	"fmt"

	"github.com/openleague/market-engine/internal/database/migrations"
	"github.com/openleague/market-engine/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// NewDatabase initializes and returns a new GORM DB connection for the given
// DSN. Tests pass ":memory:".
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.AddTransfers(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := migrations.AddJobLeases(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := migrations.AddJobRuns(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Auto-migrate other schemas
	err = db.AutoMigrate(
		&types.Team{},
		&types.League{},
		&types.Player{},
		&types.Game{},
		&types.MarketOrder{},
		&types.Bid{},
		&types.RosterSlot{},
		&types.LedgerEntry{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}

// ForUpdate adds a row-level lock to the query on stores that support it.
// SQLite serializes writers at the connection level, so the clause is only
// emitted on dialects that understand FOR UPDATE.
func ForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// ForUpdateSkipLocked locks matching rows and skips rows already claimed by a
// concurrent transaction. Used by the settlement sweep so workers processing
// different orders never block each other.
func ForUpdateSkipLocked(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
}
