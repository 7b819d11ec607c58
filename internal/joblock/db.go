package joblock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/openleague/market-engine/internal/types"
	"gorm.io/gorm"
)

// DBLocker implements Locker on the shared relational store, so single-store
// deployments need no extra infrastructure.
type DBLocker struct {
	db *gorm.DB
}

func NewDBLocker(db *gorm.DB) *DBLocker {
	return &DBLocker{db: db}
}

// TryLock attempts to insert a lease row for name. If a row already exists it
// may only be taken over when expired; otherwise types.ErrLockHeld is
// returned immediately.
func (l *DBLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	now := time.Now().UTC()

	lease := types.JobLease{
		Name:      name,
		Token:     token,
		ExpiresAt: now.Add(ttl),
	}

	err := l.db.WithContext(ctx).Create(&lease).Error
	if err != nil {
		// The unique index on name rejects a second holder. Take over the
		// row only if the current lease has expired.
		result := l.db.WithContext(ctx).Model(&types.JobLease{}).
			Where("name = ? AND expires_at < ?", name, now).
			Updates(map[string]interface{}{
				"token":      token,
				"expires_at": now.Add(ttl),
			})
		if result.Error != nil {
			return nil, result.Error
		}
		if result.RowsAffected == 0 {
			return nil, types.ErrLockHeld
		}
	}

	released := false
	unlock := func() {
		if released {
			return
		}
		released = true

		// Delete only our own lease; a takeover after expiry must not be
		// released by the previous holder. Hard delete, otherwise the unique
		// index on name would block the next acquisition.
		l.db.Unscoped().Where("name = ? AND token = ?", name, token).Delete(&types.JobLease{})
	}

	return unlock, nil
}

// Compile-time interface check.
var _ Locker = (*DBLocker)(nil)
