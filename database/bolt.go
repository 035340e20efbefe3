package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"cryptoscan/models"
)

var (
	bucketSessions = []byte("sessions")
	bucketFindings = []byte("findings")
)

// BoltDB is a single-file local session history.
type BoltDB struct {
	db  *bbolt.DB
	now func() time.Time
}

func NewBoltDB(path string) (*BoltDB, error) {
	opts := &bbolt.Options{
		Timeout:      1 * time.Second,
		FreelistType: bbolt.FreelistArrayType,
	}
	db, err := bbolt.Open(path, 0o600, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open history db %s: %v", models.ErrIO, path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketSessions, bucketFindings} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create buckets: %v", models.ErrIO, err)
	}

	return &BoltDB{db: db, now: time.Now}, nil
}

func (b *BoltDB) RecordSession(ctx context.Context, file string, session *models.Session) error {
	summary := models.SessionSummary{
		ID:        uuid.NewString(),
		File:      file,
		Timestamp: session.Timestamp,
		Count:     session.Count,
		SavedAt:   b.now().UTC(),
	}
	meta, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	findings, err := json.Marshal(session.Results)
	if err != nil {
		return fmt.Errorf("marshal findings: %w", err)
	}

	err = b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketSessions).Put([]byte(summary.ID), meta); err != nil {
			return err
		}
		return tx.Bucket(bucketFindings).Put([]byte(summary.ID), findings)
	})
	if err != nil {
		return fmt.Errorf("%w: write session: %v", models.ErrIO, err)
	}
	return nil
}

// ListSessions returns up to limit sessions, newest first. limit <= 0 means all.
func (b *BoltDB) ListSessions(ctx context.Context, limit int) ([]models.SessionSummary, error) {
	var sessions []models.SessionSummary
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSessions).ForEach(func(_, v []byte) error {
			var s models.SessionSummary
			if err := json.Unmarshal(v, &s); err != nil {
				return err
			}
			sessions = append(sessions, s)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list sessions: %v", models.ErrIO, err)
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].SavedAt.After(sessions[j].SavedAt)
	})
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

func (b *BoltDB) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var meta, findings []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketSessions).Get([]byte(id)); v != nil {
			meta = append([]byte(nil), v...)
		}
		if v := tx.Bucket(bucketFindings).Get([]byte(id)); v != nil {
			findings = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: read session: %v", models.ErrIO, err)
	}
	if meta == nil {
		return nil, fmt.Errorf("%w: archived session %s", models.ErrNotFound, id)
	}

	var summary models.SessionSummary
	if err := json.Unmarshal(meta, &summary); err != nil {
		return nil, fmt.Errorf("%w: session %s: %v", models.ErrSchema, id, err)
	}
	session := &models.Session{Timestamp: summary.Timestamp, Count: summary.Count, Results: []models.Match{}}
	if findings != nil {
		if err := json.Unmarshal(findings, &session.Results); err != nil {
			return nil, fmt.Errorf("%w: findings of %s: %v", models.ErrSchema, id, err)
		}
	}
	return session, nil
}

func (b *BoltDB) Close() error {
	return b.db.Close()
}
