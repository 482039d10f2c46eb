// Package ha provides coordination helpers for running more than one
// schedule-server replica against a shared database. Schema migrations run on
// startup, so when several replicas boot at once exactly one of them must hold
// the migration lock while the rest wait.
package ha

import (
	"context"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"time"

	"gorm.io/gorm"
)

const (
	// migrationLockSeed is hashed into the advisory lock key so the lock does
	// not collide with other applications sharing the database.
	migrationLockSeed = "schedserver-migration"

	// lockRetryInterval is how long a waiting replica sleeps between attempts
	// to claim the fallback lock row.
	lockRetryInterval = 1 * time.Second

	// lockRetryAttempts bounds how long a replica waits for another replica's
	// migration to finish before giving up.
	lockRetryAttempts = 30

	// staleLockAge is the age past which a fallback lock row is assumed to
	// belong to a replica that died mid-migration and is safe to steal.
	staleLockAge = 5 * time.Minute
)

// MigrationLocker serializes schema migrations across replicas. WithLock runs
// fn while holding the lock and releases it afterwards, whether or not fn
// returned an error.
type MigrationLocker interface {
	WithLock(ctx context.Context, fn func(ctx context.Context) error) error
}

// NewMigrationLocker picks a locking strategy for the dialect behind db.
// Postgres gets a session advisory lock, everything else falls back to a lock
// table. A nil db yields a no-op locker so single-process setups and tests do
// not need a database to construct a server.
func NewMigrationLocker(db *gorm.DB) MigrationLocker {
	if db == nil {
		return &noopMigrationLocker{}
	}
	if db.Dialector.Name() == "postgres" {
		return &advisoryMigrationLocker{db: db}
	}
	return &tableMigrationLocker{db: db}
}

// advisoryMigrationLocker uses pg_advisory_lock, which blocks server-side
// until the lock is free and evaporates if the session dies. No cleanup is
// needed after a crash.
type advisoryMigrationLocker struct {
	db *gorm.DB
}

func (l *advisoryMigrationLocker) WithLock(ctx context.Context, fn func(ctx context.Context) error) error {
	lockID := int64(crc32.ChecksumIEEE([]byte(migrationLockSeed)))

	// The lock is tied to the session, so the acquire and release must run on
	// the same connection. gorm's Connection pins one for the duration.
	return l.db.WithContext(ctx).Connection(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_lock(?)", lockID).Error; err != nil {
			return fmt.Errorf("acquire advisory lock: %w", err)
		}
		defer func() {
			if err := tx.Exec("SELECT pg_advisory_unlock(?)", lockID).Error; err != nil {
				slog.Error("failed to release migration advisory lock", "error", err)
			}
		}()
		return fn(ctx)
	})
}

// migrationLockRow is the single-row lock table used on dialects without
// advisory locks. The fixed primary key makes the insert a mutex.
type migrationLockRow struct {
	ID       string `gorm:"primaryKey"`
	LockedAt time.Time
	LockedBy string
}

func (migrationLockRow) TableName() string {
	return "migration_lock"
}

// tableMigrationLocker claims a well-known row in a lock table and polls until
// it wins. Rows older than staleLockAge are treated as leftovers from a
// crashed replica and reclaimed.
type tableMigrationLocker struct {
	db *gorm.DB
}

func (l *tableMigrationLocker) WithLock(ctx context.Context, fn func(ctx context.Context) error) error {
	db := l.db.WithContext(ctx)
	if err := db.AutoMigrate(&migrationLockRow{}); err != nil {
		return fmt.Errorf("create migration lock table: %w", err)
	}

	holder, err := os.Hostname()
	if err != nil {
		holder = "unknown"
	}

	acquired := false
	for attempt := 0; attempt < lockRetryAttempts; attempt++ {
		res := db.Create(&migrationLockRow{ID: "migration", LockedAt: time.Now(), LockedBy: holder})
		if res.Error == nil {
			acquired = true
			break
		}

		var stale migrationLockRow
		if err := db.First(&stale, "id = ?", "migration").Error; err == nil {
			if time.Since(stale.LockedAt) > staleLockAge {
				slog.Warn("reclaiming stale migration lock", "locked_by", stale.LockedBy, "locked_at", stale.LockedAt)
				db.Delete(&migrationLockRow{}, "id = ?", "migration")
				continue
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
	if !acquired {
		return fmt.Errorf("migration lock held for more than %s, giving up", time.Duration(lockRetryAttempts)*lockRetryInterval)
	}

	defer func() {
		if err := l.db.Delete(&migrationLockRow{}, "id = ?", "migration").Error; err != nil {
			slog.Error("failed to release migration lock row", "error", err)
		}
	}()
	return fn(ctx)
}

// noopMigrationLocker runs fn directly. Used when no database is configured
// yet, for example in tests that build a server without calling Init.
type noopMigrationLocker struct{}

func (l *noopMigrationLocker) WithLock(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
