// Package database archives persisted detection sessions so they can be
// listed and reloaded later, independent of the session files on disk.
package database

import (
	"context"
	"errors"

	"cryptoscan/models"
)

// Archive stores sessions written by the result sink.
type Archive interface {
	RecordSession(ctx context.Context, file string, session *models.Session) error
	ListSessions(ctx context.Context, limit int) ([]models.SessionSummary, error)
	GetSession(ctx context.Context, id string) (*models.Session, error)
	Close() error
}

// Multi records into every archive and reads from the first one.
type Multi []Archive

func (m Multi) RecordSession(ctx context.Context, file string, session *models.Session) error {
	var errs []error
	for _, a := range m {
		if err := a.RecordSession(ctx, file, session); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) ListSessions(ctx context.Context, limit int) ([]models.SessionSummary, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return m[0].ListSessions(ctx, limit)
}

func (m Multi) GetSession(ctx context.Context, id string) (*models.Session, error) {
	if len(m) == 0 {
		return nil, models.ErrNotFound
	}
	return m[0].GetSession(ctx, id)
}

func (m Multi) Close() error {
	var errs []error
	for _, a := range m {
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
