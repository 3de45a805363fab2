package db

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupLockTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// Shared cache so every goroutine sees the same in-memory database.
	gdb, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return gdb
}

func lockRowCount(t *testing.T, gdb *gorm.DB) int64 {
	t.Helper()
	var count int64
	require.NoError(t, gdb.Model(&migrationLockRecord{}).Count(&count).Error)
	return count
}

func TestMigrationLockerNilDB(t *testing.T) {
	locker := NewMigrationLocker(nil)

	called := false
	err := locker.WithLock(context.Background(), func() error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestMigrationLockRunsAndReleases(t *testing.T) {
	gdb := setupLockTestDB(t)
	locker := NewMigrationLocker(gdb)

	migrated := false
	err := locker.WithLock(context.Background(), func() error {
		migrated = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, migrated)
	assert.EqualValues(t, 0, lockRowCount(t, gdb))
}

func TestMigrationLockReleasesAfterError(t *testing.T) {
	gdb := setupLockTestDB(t)
	locker := NewMigrationLocker(gdb)

	migrationErr := errors.New("migration failed")
	err := locker.WithLock(context.Background(), func() error {
		return migrationErr
	})
	require.ErrorIs(t, err, migrationErr)
	assert.EqualValues(t, 0, lockRowCount(t, gdb))
}

func TestMigrationLockSerializesHolders(t *testing.T) {
	gdb := setupLockTestDB(t)
	locker := NewMigrationLocker(gdb)

	var concurrent, maxConcurrent atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = locker.WithLock(context.Background(), func() error {
				cur := concurrent.Add(1)
				for {
					prev := maxConcurrent.Load()
					if cur <= prev || maxConcurrent.CompareAndSwap(prev, cur) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				concurrent.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxConcurrent.Load(), int32(1))
}

func TestMigrationLockHonorsContext(t *testing.T) {
	gdb := setupLockTestDB(t)
	locker := NewMigrationLocker(gdb)

	err := locker.WithLock(context.Background(), func() error {
		// A second acquisition with a cancelled context must give up
		// while the lock is held.
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := locker.WithLock(ctx, func() error {
			t.Error("should not have acquired the lock")
			return nil
		})
		assert.Error(t, err)
		return nil
	})
	require.NoError(t, err)
}
