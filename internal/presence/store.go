// Package presence records the last known status of each user. Live
// presence is owned by the session manager; these stores only mirror it.
package presence

import (
	"context"
	"errors"
	"fmt"

	"github.com/npezzotti/go-chatserver/internal/types"
)

type Store interface {
	SetStatus(ctx context.Context, userId int, status types.PresenceStatus) error
}

// Reader returns the last status recorded for a user, which may have been
// written by another process.
type Reader interface {
	LastStatus(ctx context.Context, userId int) (types.PresenceStatus, error)
}

// StatusUpdater is the slice of the repository that persists user status.
type StatusUpdater interface {
	UpdateUserStatus(ctx context.Context, accountId int, status string) error
}

// PgStore writes status to the users table.
type PgStore struct {
	db StatusUpdater
}

func NewPgStore(db StatusUpdater) *PgStore {
	return &PgStore{db: db}
}

func (s *PgStore) SetStatus(ctx context.Context, userId int, status types.PresenceStatus) error {
	if err := s.db.UpdateUserStatus(ctx, userId, string(status)); err != nil {
		return fmt.Errorf("update user status: %w", err)
	}
	return nil
}

// MultiStore fans a status update out to every store and reports all
// failures together.
type MultiStore []Store

func (m MultiStore) SetStatus(ctx context.Context, userId int, status types.PresenceStatus) error {
	var errs []error
	for _, s := range m {
		if err := s.SetStatus(ctx, userId, status); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
