package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"gorm.io/gorm"
)

const (
	defaultMagicPoints = 100
	maxMagicPoints     = 1000
)

var ErrUserNotFound = errors.New("user not found")

// User is the persisted user record. The realtime core never touches this
// table directly; the API layer persists pending-sync markers here when a
// delivery comes back undelivered, and clears them when the client
// reconciles.
type User struct {
	ID       string `gorm:"primaryKey;size:24"`
	Username string `gorm:"uniqueIndex;size:64"`
	House    string `gorm:"size:16"`

	MagicPoints           int `gorm:"default:100"`
	LastMagicPointsUpdate time.Time

	NeedsSync       bool
	SyncRequestedAt *time.Time
	LastSyncedAt    *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PointOperation is one entry of an offline client's operation log, replayed
// in order during sync.
type PointOperation struct {
	Type   string  `json:"type"` // add | remove | set
	Amount float64 `json:"amount"`
	Source string  `json:"source,omitempty"`
}

// Valid checks the operation type.
func (op PointOperation) Valid() bool {
	switch op.Type {
	case "add", "remove", "set":
		return true
	}
	return false
}

// UserStore persists user records and sync bookkeeping.
type UserStore struct {
	db *gorm.DB
}

// NewUserStore wraps a gorm handle.
func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

// Migrate creates the users table.
func (s *UserStore) Migrate() error {
	return s.db.AutoMigrate(&User{})
}

// Get loads a user by id.
func (s *UserStore) Get(ctx context.Context, userID string) (*User, error) {
	var u User
	err := s.db.WithContext(ctx).First(&u, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// MarkNeedsSync flags a user whose realtime update could not be delivered, so
// the next connection reconciles the missed state.
func (s *UserStore) MarkNeedsSync(ctx context.Context, userID string) error {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Updates(map[string]interface{}{
		"needs_sync":        true,
		"sync_requested_at": now,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	slog.Debug("user flagged for sync", "userID", userID)
	return nil
}

// ClearNeedsSync records a completed reconciliation.
func (s *UserStore) ClearNeedsSync(ctx context.Context, userID string) error {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Updates(map[string]interface{}{
		"needs_sync":     false,
		"last_synced_at": now,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpdateMagicPoints stores an absolute point value, clamped at zero.
func (s *UserStore) UpdateMagicPoints(ctx context.Context, userID string, points int, ts time.Time) (int, error) {
	if points < 0 {
		points = 0
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	res := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Updates(map[string]interface{}{
		"magic_points":             points,
		"last_magic_points_update": ts,
	})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, ErrUserNotFound
	}
	return points, nil
}

// ApplySyncOperations replays an offline operation log against the stored
// point total. Points never drop below zero and are capped to keep a corrupt
// client log from inflating a balance.
func (s *UserStore) ApplySyncOperations(ctx context.Context, userID string, ops []PointOperation) (int, error) {
	if len(ops) == 0 {
		return 0, fmt.Errorf("non-empty operations list is required")
	}
	for i, op := range ops {
		if !op.Valid() {
			return 0, fmt.Errorf("operation %d: invalid type %q", i, op.Type)
		}
	}

	u, err := s.Get(ctx, userID)
	if err != nil {
		return 0, err
	}

	points := u.MagicPoints
	if points == 0 && u.LastMagicPointsUpdate.IsZero() {
		points = defaultMagicPoints
	}
	for _, op := range ops {
		amount := int(op.Amount)
		switch op.Type {
		case "add":
			points += amount
		case "remove":
			points -= amount
		case "set":
			points = amount
		}
		if points < 0 {
			points = 0
		}
	}
	if points > maxMagicPoints {
		slog.Warn("sync exceeded point cap", "userID", userID, "points", points, "cap", maxMagicPoints)
		points = maxMagicPoints
	}

	if _, err := s.UpdateMagicPoints(ctx, userID, points, time.Now()); err != nil {
		return 0, err
	}
	slog.Info("sync operations applied", "userID", userID, "operations", len(ops), "points", points)
	return points, nil
}
